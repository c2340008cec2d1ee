package service

import (
	"context"
	"errors"
	"fmt"
	"github.com/jaam8/live_polls/internal/models"
	"go.uber.org/zap"
)

type seedPoll struct {
	id          string
	question    string
	description string
	options     []string
	votes       []int64
}

var demoPolls = []seedPoll{
	{
		id:          "1",
		question:    "What's your favorite frontend framework?",
		description: "Help us understand developer preferences in 2024",
		options:     []string{"React", "Vue", "Angular", "Svelte"},
		votes:       []int64{45, 30, 25, 15},
	},
	{
		id:          "2",
		question:    "Which feature do you use most in Pollify?",
		description: "We want to improve our most used features",
		options:     []string{"Real-time results", "Chart visualizations", "Poll sharing", "Multiple options"},
		votes:       []int64{60, 45, 30, 20},
	},
}

// SeedDemo stores the sample polls. Polls that already exist are left alone.
func (s *PollService) SeedDemo(ctx context.Context) error {
	now := s.now().UTC()
	for _, seed := range demoPolls {
		poll := &models.Poll{
			ID:          seed.id,
			Question:    seed.question,
			Description: seed.description,
			IsActive:    true,
			Settings:    models.PollSettings{IsPublic: true, ShowResults: true},
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		for i, text := range seed.options {
			poll.Options = append(poll.Options, models.Option{
				ID:       fmt.Sprintf("%s-%d", seed.id, i+1),
				PollID:   seed.id,
				Text:     text,
				Votes:    seed.votes[i],
				Position: i,
			})
			poll.TotalVotes += seed.votes[i]
		}
		err := s.r.CreatePoll(ctx, poll)
		if errors.Is(err, models.ErrValidation) {
			s.l.Debug("demo poll already present", zap.String("poll_id", seed.id))
			continue
		}
		if err != nil {
			return fmt.Errorf("service: failed to seed poll %s: %w", seed.id, err)
		}
		s.l.Info("demo poll seeded", zap.String("poll_id", seed.id))
	}
	return nil
}
