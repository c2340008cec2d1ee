package repository

import (
	"context"
	"errors"
	"fmt"
	"github.com/jaam8/live_polls/internal/models"
	"github.com/tarantool/go-tarantool"
	"go.uber.org/zap"
	"time"
)

const (
	spacePolls   = "polls"
	spaceOptions = "options"
	spaceVotes   = "votes"

	listPageSize = 500
)

// Connector is the part of *tarantool.Connection the repository relies on.
type Connector interface {
	Select(space, index interface{}, offset, limit, iterator uint32, key interface{}) (*tarantool.Response, error)
	Insert(space interface{}, tuple interface{}) (*tarantool.Response, error)
	Call17(functionName string, args interface{}) (*tarantool.Response, error)
}

// TarantoolRepository works against the spaces and functions declared in tarantool/init.lua.
type TarantoolRepository struct {
	db  Connector
	l   *zap.Logger
	now func() time.Time
}

func NewTarantool(db Connector, l *zap.Logger) *TarantoolRepository {
	return &TarantoolRepository{
		db:  db,
		l:   l,
		now: time.Now,
	}
}

func (r *TarantoolRepository) CreatePoll(_ context.Context, poll *models.Poll) error {
	r.l.Debug("creating poll", zap.Any("poll", poll))
	options := make([]interface{}, len(poll.Options))
	for i, o := range poll.Options {
		options[i] = optionToTuple(poll.ID, o)
	}
	resp, err := r.db.Call17("poll_create", []interface{}{pollToTuple(poll), options})
	r.logResponse(resp)
	if err != nil {
		if isTupleFound(err) {
			return fmt.Errorf("repository: poll %s already exists: %w", poll.ID, models.ErrValidation)
		}
		r.l.Debug("error inserting poll", zap.Error(err))
		return storageErr("call poll_create", err)
	}
	return nil
}

func (r *TarantoolRepository) FindPollWithOptions(_ context.Context, pollID string) (*models.Poll, error) {
	resp, err := r.db.Call17("poll_get", []interface{}{pollID})
	r.logResponse(resp)
	if err != nil {
		r.l.Debug("failed to select poll", zap.Error(err))
		return nil, storageErr("call poll_get", err)
	}
	if len(resp.Data) == 0 || resp.Data[0] == nil {
		r.l.Debug("poll not found", zap.String("poll_id", pollID))
		return nil, models.ErrPollNotFound
	}
	poll, err := pollFromTuple(resp.Data[0])
	if err != nil {
		return nil, err
	}
	if len(resp.Data) > 1 {
		rawOptions, ok := resp.Data[1].([]interface{})
		if !ok {
			r.l.Debug("unexpected type for options", zap.Any("options", resp.Data[1]))
			return nil, models.ErrFailedToProcessData
		}
		for _, raw := range rawOptions {
			option, err := optionFromTuple(raw)
			if err != nil {
				return nil, err
			}
			poll.Options = append(poll.Options, option)
		}
	}
	return poll, nil
}

// ListPolls walks the primary index page by page so no poll is cut off.
func (r *TarantoolRepository) ListPolls(ctx context.Context) ([]models.Poll, error) {
	var polls []models.Poll
	for offset := uint32(0); ; offset += listPageSize {
		resp, err := r.db.Select(spacePolls, "primary", offset, listPageSize, tarantool.IterAll, []interface{}{})
		r.logResponse(resp)
		if err != nil {
			return nil, storageErr("select polls", err)
		}
		for _, raw := range resp.Data {
			tuple, ok := raw.([]interface{})
			if !ok || len(tuple) == 0 {
				return nil, models.ErrFailedToProcessData
			}
			id, err := asString(tuple[0])
			if err != nil {
				return nil, err
			}
			poll, err := r.FindPollWithOptions(ctx, id)
			if errors.Is(err, models.ErrPollNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			polls = append(polls, *poll)
		}
		if len(resp.Data) < listPageSize {
			break
		}
	}
	if polls == nil {
		polls = []models.Poll{}
	}
	sortByCreatedDesc(polls)
	return polls, nil
}

func (r *TarantoolRepository) FindOption(_ context.Context, pollID, optionID string) (*models.Option, error) {
	resp, err := r.db.Select(spaceOptions, "primary", 0, 1, tarantool.IterEq, []interface{}{optionID})
	r.logResponse(resp)
	if err != nil {
		return nil, storageErr("select option", err)
	}
	if len(resp.Data) == 0 {
		r.l.Debug("option not found", zap.String("option_id", optionID))
		return nil, models.ErrInvalidOption
	}
	option, err := optionFromTuple(resp.Data[0])
	if err != nil {
		return nil, err
	}
	if option.PollID != pollID {
		r.l.Debug("option belongs to another poll",
			zap.String("poll_id", pollID),
			zap.String("option_poll_id", option.PollID))
		return nil, models.ErrInvalidOption
	}
	return &option, nil
}

func (r *TarantoolRepository) IncrementOptionAndTotal(_ context.Context, pollID, optionID string) error {
	resp, err := r.db.Call17("poll_vote_increment", []interface{}{pollID, optionID, uint64(r.now().UnixMilli())})
	r.logResponse(resp)
	if err != nil {
		r.l.Debug("failed to increment votes", zap.Error(err))
		return storageErr("call poll_vote_increment", err)
	}
	if len(resp.Data) == 0 || resp.Data[0] == nil {
		return models.ErrPollNotFound
	}
	applied, err := asBool(resp.Data[0])
	if err != nil {
		return err
	}
	if !applied {
		return models.ErrInvalidOption
	}
	return nil
}

func (r *TarantoolRepository) FindVoteByVoterAndPoll(_ context.Context, pollID, voterID string) (*models.Vote, error) {
	resp, err := r.db.Select(spaceVotes, "voter_poll", 0, 1, tarantool.IterEq, []interface{}{pollID, voterID})
	r.logResponse(resp)
	if err != nil {
		r.l.Debug("failed to select vote", zap.Error(err))
		return nil, storageErr("select vote", err)
	}
	if len(resp.Data) == 0 {
		return nil, nil
	}
	vote, err := voteFromTuple(resp.Data[0])
	if err != nil {
		return nil, err
	}
	return &vote, nil
}

func (r *TarantoolRepository) CreateVote(_ context.Context, vote *models.Vote) error {
	resp, err := r.db.Insert(spaceVotes, voteToTuple(vote))
	r.logResponse(resp)
	if err != nil {
		if isTupleFound(err) {
			r.l.Debug("vote already exist",
				zap.String("poll_id", vote.PollID),
				zap.String("voter_id", vote.VoterID))
			return models.ErrVoteAlreadyExists
		}
		r.l.Debug("failed to insert vote", zap.Error(err))
		return storageErr("insert vote", err)
	}
	return nil
}

func (r *TarantoolRepository) ClosePoll(_ context.Context, pollID string) error {
	resp, err := r.db.Call17("poll_close", []interface{}{pollID, uint64(r.now().UnixMilli())})
	r.logResponse(resp)
	if err != nil {
		r.l.Debug("failed to close poll", zap.Error(err))
		return storageErr("call poll_close", err)
	}
	if len(resp.Data) == 0 || resp.Data[0] == nil {
		return models.ErrPollNotFound
	}
	closed, err := asBool(resp.Data[0])
	if err != nil {
		return err
	}
	if !closed {
		return models.ErrPollIsClosed
	}
	return nil
}

func (r *TarantoolRepository) DeletePoll(_ context.Context, pollID string) error {
	resp, err := r.db.Call17("poll_delete", []interface{}{pollID})
	r.logResponse(resp)
	if err != nil {
		r.l.Debug("failed to delete poll", zap.Error(err))
		return storageErr("call poll_delete", err)
	}
	if len(resp.Data) == 0 {
		return models.ErrFailedToProcessData
	}
	deleted, err := asBool(resp.Data[0])
	if err != nil {
		return err
	}
	if !deleted {
		return models.ErrPollNotFound
	}
	return nil
}

func (r *TarantoolRepository) UpdatePoll(_ context.Context, poll *models.Poll) error {
	options := make([]interface{}, len(poll.Options))
	for i, o := range poll.Options {
		options[i] = optionToTuple(poll.ID, o)
	}
	resp, err := r.db.Call17("poll_update", []interface{}{pollToTuple(poll), options, uint64(r.now().UnixMilli())})
	r.logResponse(resp)
	if err != nil {
		r.l.Debug("failed to update poll", zap.Error(err))
		return storageErr("call poll_update", err)
	}
	if len(resp.Data) == 0 || resp.Data[0] == nil {
		return models.ErrPollNotFound
	}
	applied, err := asBool(resp.Data[0])
	if err != nil {
		return err
	}
	if !applied {
		return models.ErrInvalidOption
	}
	return nil
}

func (r *TarantoolRepository) logResponse(resp *tarantool.Response) {
	if resp == nil {
		return
	}
	r.l.Debug("tarantool response",
		zap.Uint32("status_code", resp.Code),
		zap.Any("resp", resp.Data),
		zap.String("error", resp.Error))
}

func isTupleFound(err error) bool {
	var terr tarantool.Error
	if errors.As(err, &terr) {
		return terr.Code == tarantool.ErrTupleFound
	}
	var pterr *tarantool.Error
	if errors.As(err, &pterr) {
		return pterr.Code == tarantool.ErrTupleFound
	}
	return false
}
