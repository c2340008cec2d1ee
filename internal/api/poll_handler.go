package api

import (
	"context"
	"github.com/gin-gonic/gin"
	"github.com/jaam8/live_polls/internal/models"
	"go.uber.org/zap"
	"net/http"
)

type PollService interface {
	Vote(ctx context.Context, req models.VoteRequest) (*models.PollAggregate, error)
	GetPoll(ctx context.Context, pollID string) (*models.Poll, error)
	ListPolls(ctx context.Context) ([]models.Poll, error)
	CreatePoll(ctx context.Context, in models.NewPoll) (*models.Poll, error)
	UpdatePoll(ctx context.Context, pollID string, in models.PollUpdate) (*models.Poll, error)
	EndPoll(ctx context.Context, pollID string) (*models.PollAggregate, error)
	DeletePoll(ctx context.Context, pollID string) error
}

// Broadcaster pushes a changed poll to the sockets watching it.
type Broadcaster interface {
	Broadcast(ctx context.Context, poll *models.PollAggregate) int
}

// StatsProvider reports live rooms and connections for the health endpoint.
type StatsProvider interface {
	Stats() (rooms, conns int)
}

type VoteRequest struct {
	OptionID string `json:"optionId" binding:"required"`
	VoterID  string `json:"voterId"`
}

type PollHandler struct {
	s     PollService
	stats StatsProvider
	d     Broadcaster
	l     *zap.Logger
}

func New(s PollService, stats StatsProvider, d Broadcaster, l *zap.Logger) *PollHandler {
	return &PollHandler{
		s:     s,
		stats: stats,
		d:     d,
		l:     l,
	}
}

func (h *PollHandler) Health(c *gin.Context) {
	rooms, conns := h.stats.Stats()
	c.JSON(http.StatusOK, gin.H{"status": "ok", "rooms": rooms, "connections": conns})
}

func (h *PollHandler) ListPolls(c *gin.Context) {
	polls, err := h.s.ListPolls(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, polls)
}

func (h *PollHandler) GetPoll(c *gin.Context) {
	poll, err := h.s.GetPoll(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, poll)
}

func (h *PollHandler) CreatePoll(c *gin.Context) {
	req := models.NewPoll{Settings: defaultSettings()}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid input", "kind": models.KindInvalidInput})
		return
	}
	poll, err := h.s.CreatePoll(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, poll)
}

// UpdatePoll replaces the poll and pushes the new state to its room.
func (h *PollHandler) UpdatePoll(c *gin.Context) {
	req := models.PollUpdate{Settings: defaultSettings()}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid input", "kind": models.KindInvalidInput})
		return
	}
	poll, err := h.s.UpdatePoll(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	aggregate := poll.Aggregate()
	h.d.Broadcast(c.Request.Context(), &aggregate)
	c.JSON(http.StatusOK, poll)
}

// ClosePoll ends voting and pushes the final state to the room.
func (h *PollHandler) ClosePoll(c *gin.Context) {
	poll, err := h.s.EndPoll(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.d.Broadcast(c.Request.Context(), poll)
	c.JSON(http.StatusOK, poll)
}

func (h *PollHandler) DeletePoll(c *gin.Context) {
	if err := h.s.DeletePoll(c.Request.Context(), c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Vote is the request/response fallback for clients without a socket.
// Room members are not notified.
func (h *PollHandler) Vote(c *gin.Context) {
	var req VoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid input", "kind": models.KindInvalidInput})
		return
	}
	poll, err := h.s.Vote(c.Request.Context(), models.VoteRequest{
		PollID:   c.Param("id"),
		OptionID: req.OptionID,
		VoterID:  req.VoterID,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, poll)
}

func (h *PollHandler) writeError(c *gin.Context, err error) {
	kind := models.KindOf(err)
	status := statusOf(kind)
	if status == http.StatusServiceUnavailable {
		h.l.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	} else {
		h.l.Warn("request rejected", zap.String("path", c.FullPath()), zap.String("kind", kind), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": models.PublicMessage(err), "kind": kind})
}

// Polls are public with visible results unless the request says otherwise.
func defaultSettings() models.PollSettings {
	return models.PollSettings{IsPublic: true, ShowResults: true}
}

func statusOf(kind string) int {
	switch kind {
	case models.KindNotFound:
		return http.StatusNotFound
	case models.KindPollClosed, models.KindDuplicateVote:
		return http.StatusConflict
	case models.KindInvalidOption, models.KindInvalidInput:
		return http.StatusBadRequest
	default:
		return http.StatusServiceUnavailable
	}
}
