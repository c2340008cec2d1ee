package models

import "time"

type Poll struct {
	ID          string       `json:"id"`
	Question    string       `json:"question"`
	Description string       `json:"description,omitempty"`
	Options     []Option     `json:"options"`
	TotalVotes  int64        `json:"totalVotes"`
	IsActive    bool         `json:"isActive"`
	Settings    PollSettings `json:"settings"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
}

type PollSettings struct {
	IsPublic           bool       `json:"isPublic"`
	AllowMultipleVotes bool       `json:"allowMultipleVotes"`
	RequireVoterID     bool       `json:"requireVoterId"`
	ShowResults        bool       `json:"showResults"`
	EndDate            *time.Time `json:"endDate,omitempty"`
}

type Option struct {
	ID       string `json:"id"`
	PollID   string `json:"-"`
	Text     string `json:"text"`
	Votes    int64  `json:"votes"`
	Position int    `json:"-"`
}

type Vote struct {
	ID        string    `json:"id"`
	PollID    string    `json:"pollId"`
	OptionID  string    `json:"optionId"`
	VoterID   string    `json:"voterId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// PollAggregate is the snapshot pushed to room members on every change.
type PollAggregate struct {
	ID          string            `json:"id"`
	Question    string            `json:"question"`
	Description string            `json:"description,omitempty"`
	Options     []AggregateOption `json:"options"`
	TotalVotes  int64             `json:"totalVotes"`
	IsActive    bool              `json:"isActive"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}

type AggregateOption struct {
	ID    string `json:"id"`
	Text  string `json:"text"`
	Votes int64  `json:"votes"`
}

// IsClosed reports whether the poll stopped accepting votes at the given moment.
func (p *Poll) IsClosed(now time.Time) bool {
	if !p.IsActive {
		return true
	}
	return p.Settings.EndDate != nil && !now.Before(*p.Settings.EndDate)
}

func (p *Poll) Option(optionID string) (Option, bool) {
	for _, o := range p.Options {
		if o.ID == optionID {
			return o, true
		}
	}
	return Option{}, false
}

func (p *Poll) Aggregate() PollAggregate {
	options := make([]AggregateOption, len(p.Options))
	for i, o := range p.Options {
		options[i] = AggregateOption{ID: o.ID, Text: o.Text, Votes: o.Votes}
	}
	return PollAggregate{
		ID:          p.ID,
		Question:    p.Question,
		Description: p.Description,
		Options:     options,
		TotalVotes:  p.TotalVotes,
		IsActive:    p.IsActive,
		UpdatedAt:   p.UpdatedAt,
	}
}

// NewPoll is the input accepted when a poll is created.
type NewPoll struct {
	Question    string       `json:"question"`
	Description string       `json:"description"`
	Options     []string     `json:"options"`
	Settings    PollSettings `json:"settings"`
}

type VoteRequest struct {
	PollID   string `json:"pollId"`
	OptionID string `json:"optionId"`
	VoterID  string `json:"voterId,omitempty"`
}

// PollUpdate replaces the editable parts of a poll. Options carrying the ID of
// an existing option keep its counter; options without an ID are added and
// existing options left out are removed together with their votes.
type PollUpdate struct {
	Question    string         `json:"question"`
	Description string         `json:"description"`
	Options     []OptionUpdate `json:"options"`
	Settings    PollSettings   `json:"settings"`
}

type OptionUpdate struct {
	ID   string `json:"id,omitempty"`
	Text string `json:"text"`
}
