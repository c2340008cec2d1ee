package mattermost

import (
	"context"
	"encoding/json"
	"errors"
	"github.com/jaam8/live_polls/internal/models"
	"github.com/jaam8/live_polls/internal/repository"
	"github.com/jaam8/live_polls/internal/service"
	"github.com/mattermost/mattermost-server/v6/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakePoster struct {
	mu         sync.Mutex
	posts      []*model.Post
	ephemerals []*model.PostEphemeral
	patches    map[string]string
	err        error
}

func newFakePoster() *fakePoster {
	return &fakePoster{patches: make(map[string]string)}
}

func (f *fakePoster) CreatePost(post *model.Post) (*model.Post, *model.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, &model.Response{StatusCode: 500}, f.err
	}
	created := *post
	created.Id = model.NewId()
	f.posts = append(f.posts, &created)
	return &created, &model.Response{StatusCode: 201}, nil
}

func (f *fakePoster) CreatePostEphemeral(post *model.PostEphemeral) (*model.Post, *model.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ephemerals = append(f.ephemerals, post)
	return post.Post, &model.Response{StatusCode: 201}, nil
}

func (f *fakePoster) PatchPost(postID string, patch *model.PostPatch) (*model.Post, *model.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, &model.Response{StatusCode: 500}, f.err
	}
	f.patches[postID] = *patch.Message
	return &model.Post{Id: postID, Message: *patch.Message}, &model.Response{StatusCode: 200}, nil
}

func (f *fakePoster) lastEphemeral(t *testing.T) string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.ephemerals)
	return f.ephemerals[len(f.ephemerals)-1].Post.Message
}

type recordingBroadcaster struct {
	got []*models.PollAggregate
}

func (r *recordingBroadcaster) Broadcast(_ context.Context, poll *models.PollAggregate) int {
	r.got = append(r.got, poll)
	return 1
}

func newBot(t *testing.T) (*Bot, *fakePoster, *recordingBroadcaster) {
	t.Helper()
	l := zaptest.NewLogger(t)
	repo := repository.NewMemory(l)
	now := time.Now().UTC()
	require.NoError(t, repo.CreatePoll(context.Background(), &models.Poll{
		ID:        "p1",
		Question:  "Lunch?",
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
		Options:   []models.Option{{ID: "pizza", PollID: "p1", Text: "Pizza"}, {ID: "sushi", PollID: "p1", Text: "Sushi", Position: 1}},
	}))
	poster := newFakePoster()
	broadcaster := &recordingBroadcaster{}
	return NewBot(service.New(repo, l), broadcaster, poster, "bot", l), poster, broadcaster
}

func post(userID, message string) *model.Post {
	return &model.Post{UserId: userID, ChannelId: "town-square", Message: message}
}

func TestBot_Vote(t *testing.T) {
	ctx := context.Background()
	bot, poster, broadcaster := newBot(t)

	bot.HandlePost(ctx, post("alice", "/poll vote p1 pizza"))
	assert.Equal(t, "your vote successfully written", poster.lastEphemeral(t))
	require.Len(t, broadcaster.got, 1)
	assert.Equal(t, int64(1), broadcaster.got[0].TotalVotes)

	bot.HandlePost(ctx, post("alice", "/poll vote p1 sushi"))
	assert.Equal(t, "you have already voted in this poll", poster.lastEphemeral(t))

	bot.HandlePost(ctx, post("bob", "/poll vote p1 ramen"))
	assert.Equal(t, "not found option with id: ramen", poster.lastEphemeral(t))

	bot.HandlePost(ctx, post("bob", "/poll vote nope pizza"))
	assert.Equal(t, "not found poll with id: nope", poster.lastEphemeral(t))

	assert.Len(t, broadcaster.got, 1, "failed votes are not broadcast")
	assert.Equal(t, "town-square", poster.ephemerals[0].Post.ChannelId)
	assert.Equal(t, "alice", poster.ephemerals[0].UserID)
}

func TestBot_ResultAndHelp(t *testing.T) {
	ctx := context.Background()
	bot, poster, _ := newBot(t)
	bot.HandlePost(ctx, post("alice", "/poll vote p1 sushi"))

	bot.HandlePost(ctx, post("alice", "/poll result p1"))
	require.Len(t, poster.posts, 1)
	assert.Contains(t, poster.posts[0].Message, "[sushi] votes: **1** (*Sushi*)")
	assert.Contains(t, poster.posts[0].Message, "**Total**: 1")

	bot.HandlePost(ctx, post("alice", "/poll"))
	assert.Equal(t, HelpMessage, poster.lastEphemeral(t))
	bot.HandlePost(ctx, post("alice", "/poll dance"))
	assert.Equal(t, HelpMessage, poster.lastEphemeral(t))
	bot.HandlePost(ctx, post("alice", "/poll vote p1"))
	assert.True(t, strings.HasPrefix(poster.lastEphemeral(t), "usage:"))
}

func TestBot_IgnoresOwnAndPlainPosts(t *testing.T) {
	ctx := context.Background()
	bot, poster, broadcaster := newBot(t)

	bot.HandlePost(ctx, post("bot", "/poll vote p1 pizza"))
	bot.HandlePost(ctx, post("alice", "hello there"))
	bot.HandlePost(ctx, post("alice", ""))

	assert.Empty(t, poster.ephemerals)
	assert.Empty(t, broadcaster.got)
}

func TestBot_HandleEvent(t *testing.T) {
	bot, _, broadcaster := newBot(t)
	raw, err := json.Marshal(post("carol", "/poll vote p1 pizza"))
	require.NoError(t, err)

	event := model.NewWebSocketEvent(model.WebsocketEventPosted, "", "town-square", "", nil)
	event.Add("post", string(raw))

	events := make(chan *model.WebSocketEvent, 1)
	events <- event
	close(events)
	bot.Listen(context.Background(), events)

	require.Len(t, broadcaster.got, 1)
	assert.Equal(t, int64(1), broadcaster.got[0].Options[0].Votes)
}

func TestBot_Create(t *testing.T) {
	ctx := context.Background()
	bot, poster, _ := newBot(t)

	bot.HandlePost(ctx, post("alice", `/poll create "Tabs or spaces?" "Tabs" "Spaces"`))
	require.Len(t, poster.posts, 1)
	assert.Contains(t, poster.posts[0].Message, "**Question**: Tabs or spaces?")
	assert.Contains(t, poster.posts[0].Message, "(*Spaces*)")
	assert.Equal(t, "town-square", poster.posts[0].ChannelId)

	bot.HandlePost(ctx, post("alice", `/poll create "Lonely?" "yes"`))
	assert.Equal(t, "at least 2 options required", poster.lastEphemeral(t))
	bot.HandlePost(ctx, post("alice", "/poll create"))
	assert.True(t, strings.HasPrefix(poster.lastEphemeral(t), "usage:"))
	assert.Len(t, poster.posts, 1)
}

func TestBot_End(t *testing.T) {
	ctx := context.Background()
	bot, poster, broadcaster := newBot(t)
	bot.HandlePost(ctx, post("alice", "/poll vote p1 pizza"))

	bot.HandlePost(ctx, post("alice", "/poll end p1"))
	require.Len(t, broadcaster.got, 2, "the closed poll is pushed to its room")
	assert.False(t, broadcaster.got[1].IsActive)
	assert.Equal(t, int64(1), broadcaster.got[1].TotalVotes)
	require.Len(t, poster.posts, 1)
	assert.Contains(t, poster.posts[0].Message, "**Total**: 1 (closed)")

	bot.HandlePost(ctx, post("bob", "/poll vote p1 sushi"))
	assert.Equal(t, "poll is closed", poster.lastEphemeral(t))
	bot.HandlePost(ctx, post("alice", "/poll end p1"))
	assert.Equal(t, "poll is closed", poster.lastEphemeral(t))
	bot.HandlePost(ctx, post("alice", "/poll end nope"))
	assert.Equal(t, "not found poll with id: nope", poster.lastEphemeral(t))
	bot.HandlePost(ctx, post("alice", "/poll end"))
	assert.True(t, strings.HasPrefix(poster.lastEphemeral(t), "usage:"))
	assert.Len(t, broadcaster.got, 2)
}

func TestBot_Delete(t *testing.T) {
	ctx := context.Background()
	bot, poster, _ := newBot(t)

	bot.HandlePost(ctx, post("alice", "/poll delete p1"))
	assert.Equal(t, "poll p1 deleted", poster.lastEphemeral(t))
	bot.HandlePost(ctx, post("alice", "/poll result p1"))
	assert.Equal(t, "not found poll with id: p1", poster.lastEphemeral(t))
	bot.HandlePost(ctx, post("alice", "/poll delete p1"))
	assert.Equal(t, "not found poll with id: p1", poster.lastEphemeral(t))
}

func TestChannelMirror(t *testing.T) {
	ctx := context.Background()
	poster := newFakePoster()
	m := NewChannelMirror(poster, "results", zaptest.NewLogger(t))

	first := &models.PollAggregate{ID: "p1", Question: "Lunch?", TotalVotes: 1, IsActive: true,
		Options: []models.AggregateOption{{ID: "pizza", Text: "Pizza", Votes: 1}}}
	require.NoError(t, m.Mirror(ctx, first))
	require.Len(t, poster.posts, 1)
	assert.Equal(t, "results", poster.posts[0].ChannelId)
	postID := poster.posts[0].Id

	second := &models.PollAggregate{ID: "p1", Question: "Lunch?", TotalVotes: 3, IsActive: true,
		Options: []models.AggregateOption{{ID: "pizza", Text: "Pizza", Votes: 3}}}
	require.NoError(t, m.Mirror(ctx, second))
	assert.Contains(t, poster.patches[postID], "**Total**: 3")

	require.NoError(t, m.Mirror(ctx, first))
	assert.Contains(t, poster.patches[postID], "**Total**: 3", "stale update must not overwrite")
	assert.Len(t, poster.posts, 1)

	poster.err = errors.New("boom")
	assert.Error(t, m.Mirror(ctx, &models.PollAggregate{ID: "p2"}))
}
