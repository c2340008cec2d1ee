package mattermost

import (
	"context"
	"fmt"
	"github.com/jaam8/live_polls/internal/models"
	"github.com/mattermost/mattermost-server/v6/model"
	"go.uber.org/zap"
	"sync"
)

type mirroredPost struct {
	postID string
	total  int64
}

// ChannelMirror keeps one post per poll in a channel and edits it on every
// update. Updates older than the one already shown are skipped.
type ChannelMirror struct {
	mu        sync.Mutex
	client    Poster
	channelID string
	posts     map[string]mirroredPost
	l         *zap.Logger
}

func NewChannelMirror(client Poster, channelID string, l *zap.Logger) *ChannelMirror {
	return &ChannelMirror{
		client:    client,
		channelID: channelID,
		posts:     make(map[string]mirroredPost),
		l:         l,
	}
}

func (m *ChannelMirror) Mirror(_ context.Context, poll *models.PollAggregate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	message := FormatResult(poll)
	current, ok := m.posts[poll.ID]
	if !ok {
		created, resp, err := m.client.CreatePost(&model.Post{ChannelId: m.channelID, Message: message})
		if err != nil {
			return fmt.Errorf("mattermost: create post for poll %s (status %d): %w", poll.ID, statusCode(resp), err)
		}
		m.posts[poll.ID] = mirroredPost{postID: created.Id, total: poll.TotalVotes}
		m.l.Debug("mirror post created", zap.String("poll_id", poll.ID), zap.String("post_id", created.Id))
		return nil
	}
	if poll.TotalVotes < current.total {
		m.l.Debug("stale mirror update skipped",
			zap.String("poll_id", poll.ID),
			zap.Int64("shown", current.total),
			zap.Int64("got", poll.TotalVotes))
		return nil
	}
	if _, resp, err := m.client.PatchPost(current.postID, &model.PostPatch{Message: &message}); err != nil {
		return fmt.Errorf("mattermost: patch post %s (status %d): %w", current.postID, statusCode(resp), err)
	}
	m.posts[poll.ID] = mirroredPost{postID: current.postID, total: poll.TotalVotes}
	return nil
}
