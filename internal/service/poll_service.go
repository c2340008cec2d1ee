package service

import (
	"context"
	"errors"
	"fmt"
	"github.com/google/uuid"
	"github.com/jaam8/live_polls/internal/models"
	"go.uber.org/zap"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	MaxQuestionLen    = 500
	MaxDescriptionLen = 1000
	MaxOptionLen      = 200
	MinOptions        = 2
	MaxOptions        = 6
)

// PollRepository is the vote store contract. IncrementOptionAndTotal must bump
// both counters atomically.
type PollRepository interface {
	CreatePoll(ctx context.Context, poll *models.Poll) error
	ListPolls(ctx context.Context) ([]models.Poll, error)
	FindPollWithOptions(ctx context.Context, pollID string) (*models.Poll, error)
	FindOption(ctx context.Context, pollID, optionID string) (*models.Option, error)
	IncrementOptionAndTotal(ctx context.Context, pollID, optionID string) error
	FindVoteByVoterAndPoll(ctx context.Context, pollID, voterID string) (*models.Vote, error)
	CreateVote(ctx context.Context, vote *models.Vote) error
	ClosePoll(ctx context.Context, pollID string) error
	DeletePoll(ctx context.Context, pollID string) error
	UpdatePoll(ctx context.Context, poll *models.Poll) error
}

type PollService struct {
	r   PollRepository
	l   *zap.Logger
	now func() time.Time
}

func New(r PollRepository, l *zap.Logger) *PollService {
	return &PollService{
		r:   r,
		l:   l,
		now: time.Now,
	}
}

// Vote is the only path by which a vote becomes durable. Failures are terminal
// for the attempt and are never retried here.
func (s *PollService) Vote(ctx context.Context, req models.VoteRequest) (*models.PollAggregate, error) {
	if req.PollID == "" || req.OptionID == "" {
		return nil, models.NewInputError("poll id and option id are required")
	}
	s.l.Debug("applying vote",
		zap.String("poll_id", req.PollID),
		zap.String("option_id", req.OptionID),
		zap.Bool("has_voter", req.VoterID != ""))

	poll, err := s.r.FindPollWithOptions(ctx, req.PollID)
	if err != nil {
		return nil, s.wrap("failed to load poll", err)
	}
	if _, err = s.r.FindOption(ctx, req.PollID, req.OptionID); err != nil {
		return nil, s.wrap("failed to load option", err)
	}
	if poll.IsClosed(s.now()) {
		return nil, models.ErrPollIsClosed
	}
	if poll.Settings.RequireVoterID && req.VoterID == "" {
		return nil, models.NewInputError("poll %s requires a voter id", req.PollID)
	}

	// Anonymous votes are exempt from duplicate checks.
	if !poll.Settings.AllowMultipleVotes && req.VoterID != "" {
		prior, err := s.r.FindVoteByVoterAndPoll(ctx, req.PollID, req.VoterID)
		if err != nil {
			return nil, s.wrap("failed to check prior vote", err)
		}
		if prior != nil {
			return nil, models.ErrVoteAlreadyExists
		}
	}

	if err = s.r.IncrementOptionAndTotal(ctx, req.PollID, req.OptionID); err != nil {
		return nil, s.wrap("failed to increment votes", err)
	}

	if req.VoterID != "" {
		vote := &models.Vote{
			ID:        uuid.NewString(),
			PollID:    req.PollID,
			OptionID:  req.OptionID,
			VoterID:   req.VoterID,
			CreatedAt: s.now(),
		}
		// counters stay incremented when the audit record cannot be written
		if err = s.r.CreateVote(ctx, vote); err != nil {
			s.l.Error("vote counted but record not stored",
				zap.String("poll_id", req.PollID),
				zap.String("option_id", req.OptionID),
				zap.String("voter_id", req.VoterID),
				zap.Error(err))
		}
	}

	updated, err := s.r.FindPollWithOptions(ctx, req.PollID)
	if err != nil {
		return nil, s.wrap("failed to reload poll", err)
	}
	aggregate := updated.Aggregate()
	s.l.Info("vote applied",
		zap.String("poll_id", req.PollID),
		zap.String("option_id", req.OptionID),
		zap.Int64("total_votes", aggregate.TotalVotes))
	return &aggregate, nil
}

func (s *PollService) GetPoll(ctx context.Context, pollID string) (*models.Poll, error) {
	if pollID == "" {
		return nil, models.NewInputError("poll id is required")
	}
	poll, err := s.r.FindPollWithOptions(ctx, pollID)
	if err != nil {
		return nil, s.wrap("failed to get poll", err)
	}
	return poll, nil
}

func (s *PollService) Snapshot(ctx context.Context, pollID string) (*models.PollAggregate, error) {
	poll, err := s.GetPoll(ctx, pollID)
	if err != nil {
		return nil, err
	}
	aggregate := poll.Aggregate()
	return &aggregate, nil
}

// ListPolls returns the public polls, newest first. Private polls stay
// reachable by id only.
func (s *PollService) ListPolls(ctx context.Context) ([]models.Poll, error) {
	polls, err := s.r.ListPolls(ctx)
	if err != nil {
		return nil, s.wrap("failed to list polls", err)
	}
	public := make([]models.Poll, 0, len(polls))
	for _, p := range polls {
		if p.Settings.IsPublic {
			public = append(public, p)
		}
	}
	return public, nil
}

func (s *PollService) CreatePoll(ctx context.Context, in models.NewPoll) (*models.Poll, error) {
	if err := validatePoll(&in.Question, &in.Description, in.Options); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	poll := &models.Poll{
		ID:          uuid.NewString(),
		Question:    in.Question,
		Description: in.Description,
		IsActive:    true,
		Settings:    in.Settings,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	for i, text := range in.Options {
		poll.Options = append(poll.Options, models.Option{
			ID:       uuid.NewString(),
			PollID:   poll.ID,
			Text:     text,
			Position: i,
		})
	}
	if err := s.r.CreatePoll(ctx, poll); err != nil {
		return nil, s.wrap("failed to create poll", err)
	}
	s.l.Info("poll created",
		zap.String("poll_id", poll.ID),
		zap.String("question", poll.Question),
		zap.Int("options", len(poll.Options)))
	return poll, nil
}

// UpdatePoll edits a poll under the same rules as CreatePoll. Options sent with
// the ID of one of the poll's options keep their votes, options without an ID
// are added, and options left out are removed along with their votes.
func (s *PollService) UpdatePoll(ctx context.Context, pollID string, in models.PollUpdate) (*models.Poll, error) {
	if pollID == "" {
		return nil, models.NewInputError("poll id is required")
	}
	texts := make([]string, len(in.Options))
	for i, o := range in.Options {
		texts[i] = o.Text
	}
	if err := validatePoll(&in.Question, &in.Description, texts); err != nil {
		return nil, err
	}

	current, err := s.r.FindPollWithOptions(ctx, pollID)
	if err != nil {
		return nil, s.wrap("failed to load poll", err)
	}
	poll := &models.Poll{
		ID:          pollID,
		Question:    in.Question,
		Description: in.Description,
		Settings:    in.Settings,
	}
	seen := make(map[string]struct{}, len(in.Options))
	for i, o := range in.Options {
		id := strings.TrimSpace(o.ID)
		if id == "" {
			id = uuid.NewString()
		} else if _, ok := current.Option(id); !ok {
			return nil, models.ErrInvalidOption
		}
		if _, dup := seen[id]; dup {
			return nil, models.NewInputError("option %s is listed twice", id)
		}
		seen[id] = struct{}{}
		poll.Options = append(poll.Options, models.Option{
			ID:       id,
			PollID:   pollID,
			Text:     texts[i],
			Position: i,
		})
	}

	if err = s.r.UpdatePoll(ctx, poll); err != nil {
		return nil, s.wrap("failed to update poll", err)
	}
	updated, err := s.r.FindPollWithOptions(ctx, pollID)
	if err != nil {
		return nil, s.wrap("failed to reload poll", err)
	}
	s.l.Info("poll updated",
		zap.String("poll_id", pollID),
		zap.Int("options", len(updated.Options)),
		zap.Int64("total_votes", updated.TotalVotes))
	return updated, nil
}

// EndPoll stops a poll from accepting votes and returns the final aggregate.
// Ending a poll that is already closed reports ErrPollIsClosed.
func (s *PollService) EndPoll(ctx context.Context, pollID string) (*models.PollAggregate, error) {
	if pollID == "" {
		return nil, models.NewInputError("poll id is required")
	}
	if err := s.r.ClosePoll(ctx, pollID); err != nil {
		return nil, s.wrap("failed to end poll", err)
	}
	poll, err := s.r.FindPollWithOptions(ctx, pollID)
	if err != nil {
		return nil, s.wrap("failed to reload poll", err)
	}
	aggregate := poll.Aggregate()
	s.l.Info("poll ended",
		zap.String("poll_id", pollID),
		zap.Int64("total_votes", aggregate.TotalVotes))
	return &aggregate, nil
}

func (s *PollService) DeletePoll(ctx context.Context, pollID string) error {
	if pollID == "" {
		return models.NewInputError("poll id is required")
	}
	if err := s.r.DeletePoll(ctx, pollID); err != nil {
		return s.wrap("failed to delete poll", err)
	}
	s.l.Info("poll deleted", zap.String("poll_id", pollID))
	return nil
}

// validatePoll trims the text fields in place and checks them against the limits.
func validatePoll(question, description *string, options []string) error {
	*question = strings.TrimSpace(*question)
	*description = strings.TrimSpace(*description)
	switch {
	case *question == "":
		return models.NewInputError("question is required")
	case utf8.RuneCountInString(*question) > MaxQuestionLen:
		return models.NewInputError("question must be at most %d characters", MaxQuestionLen)
	case utf8.RuneCountInString(*description) > MaxDescriptionLen:
		return models.NewInputError("description must be at most %d characters", MaxDescriptionLen)
	case len(options) < MinOptions:
		return models.NewInputError("at least %d options required", MinOptions)
	case len(options) > MaxOptions:
		return models.NewInputError("maximum %d options allowed", MaxOptions)
	}
	for i, option := range options {
		option = strings.TrimSpace(option)
		if option == "" {
			return models.NewInputError("option text is required")
		}
		if utf8.RuneCountInString(option) > MaxOptionLen {
			return models.NewInputError("option must be at most %d characters", MaxOptionLen)
		}
		options[i] = option
	}
	return nil
}

// wrap passes domain errors through untouched and prefixes everything else.
func (s *PollService) wrap(msg string, err error) error {
	switch {
	case errors.Is(err, models.ErrPollNotFound),
		errors.Is(err, models.ErrInvalidOption),
		errors.Is(err, models.ErrVoteAlreadyExists),
		errors.Is(err, models.ErrPollIsClosed),
		errors.Is(err, models.ErrValidation):
		return err
	default:
		s.l.Error(msg, zap.Error(err))
		return fmt.Errorf("service: %s: %w", msg, err)
	}
}
