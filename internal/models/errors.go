package models

import (
	"errors"
	"fmt"
)

var (
	ErrPollNotFound        = errors.New("poll is not found")
	ErrPollIsClosed        = errors.New("poll is closed")
	ErrVoteAlreadyExists   = errors.New("your vote already written")
	ErrInvalidOption       = errors.New("option does not belong to this poll")
	ErrStorageUnavailable  = errors.New("storage is unavailable")
	ErrValidation          = errors.New("validation error")
	ErrFailedToProcessData = errors.New("failed to process data")
)

// Wire names of failure kinds sent back to clients.
const (
	KindNotFound           = "NotFound"
	KindPollClosed         = "PollClosed"
	KindDuplicateVote      = "DuplicateVote"
	KindInvalidOption      = "InvalidOption"
	KindStorageUnavailable = "StorageUnavailable"
	KindInvalidInput       = "InvalidInput"
)

// KindOf maps an error returned by the service to its wire kind.
// Anything unrecognised is reported as a storage failure.
func KindOf(err error) string {
	switch {
	case errors.Is(err, ErrPollNotFound):
		return KindNotFound
	case errors.Is(err, ErrPollIsClosed):
		return KindPollClosed
	case errors.Is(err, ErrVoteAlreadyExists):
		return KindDuplicateVote
	case errors.Is(err, ErrInvalidOption):
		return KindInvalidOption
	case errors.Is(err, ErrValidation):
		return KindInvalidInput
	default:
		return KindStorageUnavailable
	}
}

// InputError is a validation failure whose reason is safe to show to clients.
type InputError struct {
	Reason string
}

func NewInputError(format string, args ...any) error {
	return &InputError{Reason: fmt.Sprintf(format, args...)}
}

func (e *InputError) Error() string {
	return e.Reason
}

func (e *InputError) Unwrap() error {
	return ErrValidation
}

// PublicMessage returns the client-facing text for err. It depends only on the
// failure kind, so wrapped storage and service context never leaves the server.
func PublicMessage(err error) string {
	switch KindOf(err) {
	case KindNotFound:
		return "poll not found"
	case KindPollClosed:
		return "poll is closed"
	case KindDuplicateVote:
		return "you have already voted in this poll"
	case KindInvalidOption:
		return "option does not belong to this poll"
	case KindInvalidInput:
		var input *InputError
		if errors.As(err, &input) {
			return input.Reason
		}
		return "invalid input"
	default:
		return "storage is unavailable, try again later"
	}
}
