package realtime

import (
	"errors"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jaam8/live_polls/internal/models"
	"go.uber.org/zap"
	"sync"
	"time"
)

var (
	ErrConnClosed    = errors.New("connection is closed")
	ErrSendQueueFull = errors.New("send queue is full")
)

type Config struct {
	SendBuffer     int           `yaml:"SEND_BUFFER"      env:"SEND_BUFFER"      env-default:"32"`
	WriteWait      time.Duration `yaml:"WRITE_WAIT"       env:"WRITE_WAIT"       env-default:"10s"`
	PongWait       time.Duration `yaml:"PONG_WAIT"        env:"PONG_WAIT"        env-default:"60s"`
	PingInterval   time.Duration `yaml:"PING_INTERVAL"    env:"PING_INTERVAL"    env-default:"25s"`
	MaxMessageSize int64         `yaml:"MAX_MESSAGE_SIZE" env:"MAX_MESSAGE_SIZE" env-default:"4096"`
	AllowedOrigins []string      `yaml:"ALLOWED_ORIGINS"  env:"ALLOWED_ORIGINS"  env-default:"*"`
}

func (c Config) withDefaults() Config {
	if c.SendBuffer <= 0 {
		c.SendBuffer = 32
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	if c.PingInterval <= 0 || c.PingInterval >= c.PongWait {
		c.PingInterval = c.PongWait * 9 / 10
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 4096
	}
	return c
}

// Conn is one live client. Frames are queued on send and written by a single
// writer goroutine; done is closed exactly once when the connection ends.
type Conn struct {
	id        string
	ws        *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	l         *zap.Logger
}

func newConn(ws *websocket.Conn, buffer int, l *zap.Logger) *Conn {
	id := uuid.NewString()
	return &Conn{
		id:   id,
		ws:   ws,
		send: make(chan []byte, buffer),
		done: make(chan struct{}),
		l:    l.With(zap.String("conn_id", id)),
	}
}

func (c *Conn) ID() string {
	return c.id
}

// Send queues a frame without blocking.
func (c *Conn) Send(frame []byte) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}
	select {
	case c.send <- frame:
		return nil
	case <-c.done:
		return ErrConnClosed
	default:
		return ErrSendQueueFull
	}
}

func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

func (c *Conn) Done() <-chan struct{} {
	return c.done
}

func (c *Conn) sendError(pollID string, err error) {
	frame, encErr := encode(EventError, ErrorPayload{
		PollID:  pollID,
		Kind:    models.KindOf(err),
		Message: models.PublicMessage(err),
	})
	if encErr != nil {
		c.l.Error("failed to encode error frame", zap.Error(encErr))
		return
	}
	if err = c.Send(frame); err != nil {
		c.l.Warn("error frame dropped", zap.String("poll_id", pollID), zap.Error(err))
	}
}

// writePump is the only goroutine writing to the socket.
func (c *Conn) writePump(cfg Config) {
	ticker := time.NewTicker(cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()
	for {
		select {
		case frame := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.l.Debug("write failed", zap.Error(err))
				c.Close()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.l.Debug("ping failed", zap.Error(err))
				c.Close()
				return
			}
		case <-c.done:
			c.flush(cfg)
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(cfg.WriteWait))
			return
		}
	}
}

// flush writes whatever is still queued, best effort.
func (c *Conn) flush(cfg Config) {
	for {
		select {
		case frame := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		default:
			return
		}
	}
}
