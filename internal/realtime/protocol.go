package realtime

import (
	"encoding/json"
	"fmt"
	"github.com/jaam8/live_polls/internal/models"
	"strings"
)

const (
	EventJoin    = "join:poll"
	EventLeave   = "leave:poll"
	EventVote    = "poll:vote"
	EventUpdated = "poll:updated"
	EventError   = "poll:error"
)

const maxPollIDLen = 128

// Message is a single frame in both directions.
type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type ErrorPayload struct {
	PollID  string `json:"pollId,omitempty"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func encode(event string, data interface{}) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("realtime: encode %s: %w", event, err)
	}
	return json.Marshal(Message{Event: event, Data: raw})
}

// decodePollID accepts a bare JSON string or an object carrying pollId.
func decodePollID(data json.RawMessage) (string, error) {
	var pollID string
	if err := json.Unmarshal(data, &pollID); err != nil {
		var wrapped struct {
			PollID string `json:"pollId"`
		}
		if err = json.Unmarshal(data, &wrapped); err != nil {
			return "", models.NewInputError("poll id must be a string")
		}
		pollID = wrapped.PollID
	}
	pollID = strings.TrimSpace(pollID)
	if pollID == "" {
		return "", models.NewInputError("poll id is required")
	}
	if len(pollID) > maxPollIDLen {
		return "", models.NewInputError("poll id is too long")
	}
	return pollID, nil
}

func decodeVote(data json.RawMessage) (models.VoteRequest, error) {
	var req models.VoteRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return req, models.NewInputError("malformed vote")
	}
	req.PollID = strings.TrimSpace(req.PollID)
	req.OptionID = strings.TrimSpace(req.OptionID)
	req.VoterID = strings.TrimSpace(req.VoterID)
	if req.PollID == "" || req.OptionID == "" {
		return req, models.NewInputError("pollId and optionId are required")
	}
	if len(req.PollID) > maxPollIDLen {
		return req, models.NewInputError("poll id is too long")
	}
	return req, nil
}
