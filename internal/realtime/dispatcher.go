package realtime

import (
	"context"
	"github.com/jaam8/live_polls/internal/models"
	"go.uber.org/zap"
)

// Mirror receives every aggregate after it was fanned out to the room.
type Mirror interface {
	Mirror(ctx context.Context, poll *models.PollAggregate) error
}

type Dispatcher struct {
	r       *Registry
	l       *zap.Logger
	mirrors []Mirror
}

func NewDispatcher(r *Registry, l *zap.Logger, mirrors ...Mirror) *Dispatcher {
	return &Dispatcher{
		r:       r,
		l:       l,
		mirrors: mirrors,
	}
}

// Broadcast sends poll:updated to whoever is in the room right now and
// returns how many connections accepted the frame. A failed send to one
// member never stops the others.
func (d *Dispatcher) Broadcast(ctx context.Context, poll *models.PollAggregate) int {
	frame, err := encode(EventUpdated, poll)
	if err != nil {
		d.l.Error("failed to encode aggregate", zap.String("poll_id", poll.ID), zap.Error(err))
		return 0
	}
	members := d.r.MembersOf(poll.ID)
	delivered := 0
	for _, c := range members {
		if err = c.Send(frame); err != nil {
			d.l.Warn("dropped update",
				zap.String("poll_id", poll.ID),
				zap.String("conn_id", c.ID()),
				zap.Error(err))
			continue
		}
		delivered++
	}
	d.l.Debug("broadcast",
		zap.String("poll_id", poll.ID),
		zap.Int("members", len(members)),
		zap.Int("delivered", delivered),
		zap.Int64("total_votes", poll.TotalVotes))

	if len(d.mirrors) > 0 {
		go d.mirror(context.WithoutCancel(ctx), poll)
	}
	return delivered
}

func (d *Dispatcher) mirror(ctx context.Context, poll *models.PollAggregate) {
	for _, m := range d.mirrors {
		if err := m.Mirror(ctx, poll); err != nil {
			d.l.Warn("mirror failed", zap.String("poll_id", poll.ID), zap.Error(err))
		}
	}
}
