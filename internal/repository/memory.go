package repository

import (
	"context"
	"fmt"
	"github.com/jaam8/live_polls/internal/models"
	"go.uber.org/zap"
	"sync"
	"time"
)

type voterKey struct {
	pollID  string
	voterID string
}

// MemoryRepository keeps everything in process memory. It backs local runs and tests.
type MemoryRepository struct {
	mu    sync.RWMutex
	polls map[string]*models.Poll
	votes map[voterKey]models.Vote
	l     *zap.Logger
	now   func() time.Time
}

func NewMemory(l *zap.Logger) *MemoryRepository {
	return &MemoryRepository{
		polls: make(map[string]*models.Poll),
		votes: make(map[voterKey]models.Vote),
		l:     l,
		now:   time.Now,
	}
}

func (r *MemoryRepository) CreatePoll(_ context.Context, poll *models.Poll) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.polls[poll.ID]; exists {
		return fmt.Errorf("repository: poll %s already exists: %w", poll.ID, models.ErrValidation)
	}
	r.polls[poll.ID] = clonePoll(poll)
	r.l.Debug("poll stored", zap.String("poll_id", poll.ID), zap.Int("options", len(poll.Options)))
	return nil
}

func (r *MemoryRepository) ListPolls(_ context.Context) ([]models.Poll, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	polls := make([]models.Poll, 0, len(r.polls))
	for _, p := range r.polls {
		polls = append(polls, *clonePoll(p))
	}
	sortByCreatedDesc(polls)
	return polls, nil
}

func (r *MemoryRepository) FindPollWithOptions(_ context.Context, pollID string) (*models.Poll, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	poll, ok := r.polls[pollID]
	if !ok {
		r.l.Debug("poll not found", zap.String("poll_id", pollID))
		return nil, models.ErrPollNotFound
	}
	return clonePoll(poll), nil
}

func (r *MemoryRepository) FindOption(_ context.Context, pollID, optionID string) (*models.Option, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	poll, ok := r.polls[pollID]
	if !ok {
		return nil, models.ErrPollNotFound
	}
	option, ok := poll.Option(optionID)
	if !ok {
		r.l.Debug("option not found", zap.String("poll_id", pollID), zap.String("option_id", optionID))
		return nil, models.ErrInvalidOption
	}
	return &option, nil
}

func (r *MemoryRepository) IncrementOptionAndTotal(_ context.Context, pollID, optionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	poll, ok := r.polls[pollID]
	if !ok {
		return models.ErrPollNotFound
	}
	for i := range poll.Options {
		if poll.Options[i].ID == optionID {
			poll.Options[i].Votes++
			poll.TotalVotes++
			poll.UpdatedAt = r.now()
			return nil
		}
	}
	return models.ErrInvalidOption
}

func (r *MemoryRepository) FindVoteByVoterAndPoll(_ context.Context, pollID, voterID string) (*models.Vote, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	vote, ok := r.votes[voterKey{pollID: pollID, voterID: voterID}]
	if !ok {
		return nil, nil
	}
	return &vote, nil
}

func (r *MemoryRepository) CreateVote(_ context.Context, vote *models.Vote) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := voterKey{pollID: vote.PollID, voterID: vote.VoterID}
	if _, exists := r.votes[key]; exists {
		return models.ErrVoteAlreadyExists
	}
	r.votes[key] = *vote
	return nil
}

// ClosePoll stops a poll from accepting votes. Closing twice reports ErrPollIsClosed.
func (r *MemoryRepository) ClosePoll(_ context.Context, pollID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	poll, ok := r.polls[pollID]
	if !ok {
		return models.ErrPollNotFound
	}
	if !poll.IsActive {
		return models.ErrPollIsClosed
	}
	poll.IsActive = false
	poll.UpdatedAt = r.now()
	return nil
}

func (r *MemoryRepository) DeletePoll(_ context.Context, pollID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.polls[pollID]; !ok {
		return models.ErrPollNotFound
	}
	delete(r.polls, pollID)
	for key := range r.votes {
		if key.pollID == pollID {
			delete(r.votes, key)
		}
	}
	r.l.Debug("poll deleted", zap.String("poll_id", pollID))
	return nil
}

// UpdatePoll replaces the poll's text, settings and option set. Options whose ID
// already exists keep their counter, the rest start at zero, and options that
// are no longer listed are dropped together with their votes. The total is
// recomputed from the remaining counters.
func (r *MemoryRepository) UpdatePoll(_ context.Context, poll *models.Poll) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.polls[poll.ID]
	if !ok {
		return models.ErrPollNotFound
	}

	for _, o := range poll.Options {
		if _, found := current.Option(o.ID); !found && r.optionTaken(o.ID) {
			return models.ErrInvalidOption
		}
	}

	kept := make(map[string]struct{}, len(poll.Options))
	options := make([]models.Option, len(poll.Options))
	var total int64
	for i, o := range poll.Options {
		o.PollID = poll.ID
		o.Position = i
		o.Votes = 0
		if prev, found := current.Option(o.ID); found {
			o.Votes = prev.Votes
		}
		total += o.Votes
		kept[o.ID] = struct{}{}
		options[i] = o
	}
	for key, vote := range r.votes {
		if _, found := kept[vote.OptionID]; key.pollID == poll.ID && !found {
			delete(r.votes, key)
		}
	}

	current.Question = poll.Question
	current.Description = poll.Description
	current.Settings = clonePoll(poll).Settings
	current.Options = options
	current.TotalVotes = total
	current.UpdatedAt = r.now()
	return nil
}

func (r *MemoryRepository) optionTaken(optionID string) bool {
	for _, p := range r.polls {
		if _, found := p.Option(optionID); found {
			return true
		}
	}
	return false
}

func clonePoll(p *models.Poll) *models.Poll {
	c := *p
	c.Options = append([]models.Option(nil), p.Options...)
	if p.Settings.EndDate != nil {
		end := *p.Settings.EndDate
		c.Settings.EndDate = &end
	}
	return &c
}
