package mattermost

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/jaam8/live_polls/internal/models"
	"github.com/mattermost/mattermost-server/v6/model"
	"go.uber.org/zap"
	"strings"
)

const (
	COMMAND     = "/poll"
	HelpMessage = "i know only this command:\n" +
		"- `/poll create \"question\" \"option 1\" \"option 2\" ...`\n" +
		"- `/poll vote poll_id option_id`\n" +
		"- `/poll result poll_id`\n" +
		"- `/poll end poll_id`\n" +
		"- `/poll delete poll_id`\n" +
		"- `/poll help`"
)

// Poster is the part of *model.Client4 used by the bot and the mirror.
type Poster interface {
	CreatePost(post *model.Post) (*model.Post, *model.Response, error)
	CreatePostEphemeral(post *model.PostEphemeral) (*model.Post, *model.Response, error)
	PatchPost(postID string, patch *model.PostPatch) (*model.Post, *model.Response, error)
}

type PollService interface {
	Vote(ctx context.Context, req models.VoteRequest) (*models.PollAggregate, error)
	Snapshot(ctx context.Context, pollID string) (*models.PollAggregate, error)
	CreatePoll(ctx context.Context, in models.NewPoll) (*models.Poll, error)
	EndPoll(ctx context.Context, pollID string) (*models.PollAggregate, error)
	DeletePoll(ctx context.Context, pollID string) error
}

type Broadcaster interface {
	Broadcast(ctx context.Context, poll *models.PollAggregate) int
}

// Bot accepts /poll commands posted in Mattermost. Votes go through the same
// engine as socket votes and are pushed to the poll's room.
type Bot struct {
	s      PollService
	d      Broadcaster
	client Poster
	botID  string
	l      *zap.Logger
}

func NewBot(s PollService, d Broadcaster, client Poster, botID string, l *zap.Logger) *Bot {
	return &Bot{
		s:      s,
		d:      d,
		client: client,
		botID:  botID,
		l:      l,
	}
}

// Listen handles posted events until ctx is done or the channel closes.
func (b *Bot) Listen(ctx context.Context, events <-chan *model.WebSocketEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				b.l.Warn("mattermost event channel closed")
				return
			}
			if event.EventType() == model.WebsocketEventPosted {
				b.l.Debug("new message", zap.String("event", event.EventType()))
				b.HandleEvent(ctx, event)
			}
		}
	}
}

func (b *Bot) HandleEvent(ctx context.Context, event *model.WebSocketEvent) {
	raw, ok := event.GetData()["post"].(string)
	if !ok {
		b.l.Error("posted event without post payload")
		return
	}
	post := &model.Post{}
	if err := json.Unmarshal([]byte(raw), post); err != nil {
		b.l.Error("error unmarshalling post", zap.Error(err))
		return
	}
	b.HandlePost(ctx, post)
}

func (b *Bot) HandlePost(ctx context.Context, post *model.Post) {
	if post.UserId == b.botID {
		return
	}
	args := strings.Fields(post.Message)
	if len(args) == 0 || args[0] != COMMAND {
		return
	}
	if len(args) < 2 {
		b.reply(post, HelpMessage)
		return
	}
	b.l.Info("new request for the bot",
		zap.String("subcommand", args[1]),
		zap.String("user_id", post.UserId),
		zap.String("channel_id", post.ChannelId),
		zap.String("message", post.Message))

	switch args[1] {
	case "create":
		b.create(ctx, post, quoted(post.Message))
	case "vote":
		if len(args) < 4 {
			b.reply(post, "usage: `/poll vote poll_id option_id`")
			return
		}
		b.vote(ctx, post, args[2], args[3])
	case "result":
		if len(args) < 3 {
			b.reply(post, "usage: `/poll result poll_id`")
			return
		}
		b.result(ctx, post, args[2])
	case "end":
		if len(args) < 3 {
			b.reply(post, "usage: `/poll end poll_id`")
			return
		}
		b.end(ctx, post, args[2])
	case "delete":
		if len(args) < 3 {
			b.reply(post, "usage: `/poll delete poll_id`")
			return
		}
		b.remove(ctx, post, args[2])
	default:
		b.reply(post, HelpMessage)
	}
}

// quoted returns the double-quoted parts of a command, in order.
func quoted(message string) []string {
	var parts []string
	for i, part := range strings.Split(message, "\"") {
		if i%2 != 0 {
			parts = append(parts, part)
		}
	}
	return parts
}

func (b *Bot) create(ctx context.Context, post *model.Post, parts []string) {
	if len(parts) == 0 {
		b.reply(post, "usage: `/poll create \"question\" \"option 1\" \"option 2\"`")
		return
	}
	poll, err := b.s.CreatePoll(ctx, models.NewPoll{
		Question: parts[0],
		Options:  parts[1:],
		Settings: models.PollSettings{IsPublic: true, ShowResults: true},
	})
	if err != nil {
		b.reply(post, b.describe(err, "", ""))
		return
	}
	aggregate := poll.Aggregate()
	b.publish(post, &aggregate)
	b.l.Info("successfully created poll",
		zap.String("poll_id", poll.ID),
		zap.String("user_id", post.UserId),
		zap.Int("options", len(poll.Options)))
}

func (b *Bot) end(ctx context.Context, post *model.Post, pollID string) {
	poll, err := b.s.EndPoll(ctx, pollID)
	if err != nil {
		b.reply(post, b.describe(err, pollID, ""))
		return
	}
	b.d.Broadcast(ctx, poll)
	b.publish(post, poll)
	b.l.Info("successfully ended poll", zap.String("poll_id", pollID), zap.String("user_id", post.UserId))
}

func (b *Bot) remove(ctx context.Context, post *model.Post, pollID string) {
	if err := b.s.DeletePoll(ctx, pollID); err != nil {
		b.reply(post, b.describe(err, pollID, ""))
		return
	}
	b.l.Info("successfully deleted poll", zap.String("poll_id", pollID), zap.String("user_id", post.UserId))
	b.reply(post, fmt.Sprintf("poll %s deleted", pollID))
}

func (b *Bot) vote(ctx context.Context, post *model.Post, pollID, optionID string) {
	poll, err := b.s.Vote(ctx, models.VoteRequest{
		PollID:   pollID,
		OptionID: optionID,
		VoterID:  post.UserId,
	})
	if err != nil {
		b.reply(post, b.describe(err, pollID, optionID))
		return
	}
	b.d.Broadcast(ctx, poll)
	b.l.Info("voted successfully",
		zap.String("poll_id", pollID),
		zap.String("user_id", post.UserId),
		zap.String("option_id", optionID))
	b.reply(post, "your vote successfully written")
}

func (b *Bot) result(ctx context.Context, post *model.Post, pollID string) {
	poll, err := b.s.Snapshot(ctx, pollID)
	if err != nil {
		b.reply(post, b.describe(err, pollID, ""))
		return
	}
	b.publish(post, poll)
}

// publish posts the poll state to the channel the command came from.
func (b *Bot) publish(post *model.Post, poll *models.PollAggregate) {
	created, resp, err := b.client.CreatePost(&model.Post{
		ChannelId: post.ChannelId,
		Message:   FormatResult(poll),
	})
	if err != nil {
		b.l.Error("failed sending poll result", zap.String("poll_id", poll.ID), zap.Error(err))
		return
	}
	b.l.Debug("sent poll result",
		zap.String("post_id", created.Id),
		zap.Int("status_code", statusCode(resp)))
}

func (b *Bot) describe(err error, pollID, optionID string) string {
	switch {
	case errors.Is(err, models.ErrPollNotFound):
		b.l.Warn("poll not found", zap.String("poll_id", pollID))
		return fmt.Sprintf("not found poll with id: %s", pollID)
	case errors.Is(err, models.ErrInvalidOption):
		b.l.Warn("option not found", zap.String("option_id", optionID))
		return fmt.Sprintf("not found option with id: %s", optionID)
	case errors.Is(err, models.ErrVoteAlreadyExists),
		errors.Is(err, models.ErrPollIsClosed),
		errors.Is(err, models.ErrValidation):
		b.l.Warn("command rejected", zap.String("poll_id", pollID), zap.Error(err))
		return models.PublicMessage(err)
	default:
		b.l.Error("failed to handle command", zap.String("poll_id", pollID), zap.Error(err))
		return "something went wrong"
	}
}

func (b *Bot) reply(post *model.Post, message string) {
	_, resp, err := b.client.CreatePostEphemeral(&model.PostEphemeral{
		UserID: post.UserId,
		Post:   &model.Post{ChannelId: post.ChannelId, Message: message},
	})
	if err != nil {
		b.l.Error("failed to send ephemeral post",
			zap.String("user_id", post.UserId),
			zap.Int("status_code", statusCode(resp)),
			zap.Error(err))
	}
}

func FormatResult(poll *models.PollAggregate) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "**Poll ID**: %s\n**Question**: %s\n", poll.ID, poll.Question)
	for _, option := range poll.Options {
		fmt.Fprintf(&sb, "  [%s] votes: **%d** (*%s*)\n", option.ID, option.Votes, option.Text)
	}
	fmt.Fprintf(&sb, "**Total**: %d", poll.TotalVotes)
	if !poll.IsActive {
		sb.WriteString(" (closed)")
	}
	return sb.String()
}

func statusCode(resp *model.Response) int {
	if resp == nil {
		return 0
	}
	return resp.StatusCode
}
