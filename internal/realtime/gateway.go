package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/gorilla/websocket"
	"github.com/jaam8/live_polls/internal/models"
	"go.uber.org/zap"
	"net/http"
	"time"
)

// PollService is what the gateway needs from the vote engine.
type PollService interface {
	Vote(ctx context.Context, req models.VoteRequest) (*models.PollAggregate, error)
	Snapshot(ctx context.Context, pollID string) (*models.PollAggregate, error)
}

type Gateway struct {
	s        PollService
	r        *Registry
	d        *Dispatcher
	l        *zap.Logger
	cfg      Config
	upgrader websocket.Upgrader
}

func NewGateway(s PollService, r *Registry, d *Dispatcher, l *zap.Logger, cfg Config) *Gateway {
	g := &Gateway{
		s:   s,
		r:   r,
		d:   d,
		l:   l,
		cfg: cfg.withDefaults(),
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     g.checkOrigin,
	}
	return g
}

// ServeWS upgrades the request and blocks until the connection is gone.
func (g *Gateway) ServeWS(w http.ResponseWriter, r *http.Request) {
	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.l.Warn("websocket upgrade failed", zap.String("remote_addr", r.RemoteAddr), zap.Error(err))
		return
	}
	c := newConn(ws, g.cfg.SendBuffer, g.l)
	if !g.r.Add(c) {
		c.l.Debug("registry closed, rejecting connection")
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(g.cfg.WriteWait))
		_ = ws.Close()
		return
	}
	c.l.Info("client connected", zap.String("remote_addr", r.RemoteAddr))

	go c.writePump(g.cfg)
	g.readPump(context.WithoutCancel(r.Context()), c)
}

// Shutdown closes every live connection. Their read loops run the usual
// cleanup once the sockets go away.
func (g *Gateway) Shutdown() {
	conns := g.r.Close()
	for _, c := range conns {
		c.Close()
	}
	g.l.Info("gateway stopped", zap.Int("connections", len(conns)))
}

func (g *Gateway) readPump(ctx context.Context, c *Conn) {
	defer g.disconnect(c)

	c.ws.SetReadLimit(g.cfg.MaxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(g.cfg.PongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(g.cfg.PongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.l.Warn("unexpected close", zap.Error(err))
			}
			return
		}
		g.handle(ctx, c, data)
	}
}

func (g *Gateway) disconnect(c *Conn) {
	left := g.r.RemoveEverywhere(c)
	c.Close()
	c.l.Info("client disconnected", zap.Strings("rooms", left))
}

func (g *Gateway) handle(ctx context.Context, c *Conn, data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("", models.NewInputError("malformed message"))
		return
	}
	switch msg.Event {
	case EventJoin:
		pollID, err := decodePollID(msg.Data)
		if err != nil {
			c.sendError("", err)
			return
		}
		g.join(ctx, c, pollID)
	case EventLeave:
		pollID, err := decodePollID(msg.Data)
		if err != nil {
			c.sendError("", err)
			return
		}
		g.r.Leave(pollID, c)
		c.l.Debug("left room", zap.String("poll_id", pollID))
	case EventVote:
		req, err := decodeVote(msg.Data)
		if err != nil {
			c.sendError(req.PollID, err)
			return
		}
		g.vote(ctx, c, req)
	default:
		c.sendError("", models.NewInputError("unknown event %q", msg.Event))
	}
}

// join keeps the membership even when the poll cannot be loaded. An unknown
// poll gets no reply at all so the client can wait for it to appear; other
// failures are reported as poll:error.
func (g *Gateway) join(ctx context.Context, c *Conn, pollID string) {
	if !g.r.Join(pollID, c) {
		c.sendError(pollID, fmt.Errorf("server is shutting down: %w", models.ErrStorageUnavailable))
		return
	}
	snapshot, err := g.s.Snapshot(ctx, pollID)
	if errors.Is(err, models.ErrPollNotFound) {
		c.l.Debug("joined unknown poll", zap.String("poll_id", pollID))
		return
	}
	if err != nil {
		g.logFailure(c, "join snapshot failed", pollID, err)
		c.sendError(pollID, err)
		return
	}
	frame, err := encode(EventUpdated, snapshot)
	if err != nil {
		c.l.Error("failed to encode snapshot", zap.String("poll_id", pollID), zap.Error(err))
		return
	}
	if err = c.Send(frame); err != nil {
		c.l.Warn("snapshot dropped", zap.String("poll_id", pollID), zap.Error(err))
	}
}

func (g *Gateway) vote(ctx context.Context, c *Conn, req models.VoteRequest) {
	poll, err := g.s.Vote(ctx, req)
	if err != nil {
		g.logFailure(c, "vote rejected", req.PollID, err)
		c.sendError(req.PollID, err)
		return
	}
	g.d.Broadcast(ctx, poll)
	if !g.r.IsMember(req.PollID, c) {
		frame, err := encode(EventUpdated, poll)
		if err != nil {
			c.l.Error("failed to encode aggregate", zap.Error(err))
			return
		}
		if err = c.Send(frame); err != nil {
			c.l.Warn("update dropped", zap.String("poll_id", req.PollID), zap.Error(err))
		}
	}
}

func (g *Gateway) logFailure(c *Conn, msg, pollID string, err error) {
	if models.KindOf(err) == models.KindStorageUnavailable {
		c.l.Error(msg, zap.String("poll_id", pollID), zap.Error(err))
		return
	}
	c.l.Warn(msg, zap.String("poll_id", pollID), zap.Error(err))
}

func (g *Gateway) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range g.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	g.l.Warn("origin rejected", zap.String("origin", origin))
	return false
}
