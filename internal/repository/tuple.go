package repository

import (
	"fmt"
	"github.com/jaam8/live_polls/internal/models"
	"sort"
	"time"
)

// Field order of the tarantool spaces, see tarantool/init.lua.
const (
	pollFieldCount   = 12
	optionFieldCount = 5
	voteFieldCount   = 5
)

func pollToTuple(p *models.Poll) []interface{} {
	var endDate uint64
	if p.Settings.EndDate != nil {
		endDate = uint64(p.Settings.EndDate.UnixMilli())
	}
	return []interface{}{
		p.ID,
		p.Question,
		p.Description,
		uint64(p.TotalVotes),
		p.IsActive,
		p.Settings.IsPublic,
		p.Settings.AllowMultipleVotes,
		p.Settings.RequireVoterID,
		p.Settings.ShowResults,
		endDate,
		uint64(p.CreatedAt.UnixMilli()),
		uint64(p.UpdatedAt.UnixMilli()),
	}
}

func optionToTuple(pollID string, o models.Option) []interface{} {
	return []interface{}{o.ID, pollID, o.Text, uint64(o.Votes), uint64(o.Position)}
}

func voteToTuple(v *models.Vote) []interface{} {
	return []interface{}{v.ID, v.PollID, v.OptionID, v.VoterID, uint64(v.CreatedAt.UnixMilli())}
}

func pollFromTuple(raw interface{}) (*models.Poll, error) {
	tuple, err := asTuple(raw, pollFieldCount)
	if err != nil {
		return nil, err
	}
	var (
		p                            models.Poll
		total, end, created, updated int64
	)
	if p.ID, err = asString(tuple[0]); err != nil {
		return nil, err
	}
	if p.Question, err = asString(tuple[1]); err != nil {
		return nil, err
	}
	if p.Description, err = asString(tuple[2]); err != nil {
		return nil, err
	}
	if total, err = asInt64(tuple[3]); err != nil {
		return nil, err
	}
	flags := []*bool{&p.IsActive, &p.Settings.IsPublic, &p.Settings.AllowMultipleVotes,
		&p.Settings.RequireVoterID, &p.Settings.ShowResults}
	for i, dst := range flags {
		if *dst, err = asBool(tuple[4+i]); err != nil {
			return nil, err
		}
	}
	if end, err = asInt64(tuple[9]); err != nil {
		return nil, err
	}
	if created, err = asInt64(tuple[10]); err != nil {
		return nil, err
	}
	if updated, err = asInt64(tuple[11]); err != nil {
		return nil, err
	}
	p.TotalVotes = total
	if end > 0 {
		endDate := time.UnixMilli(end).UTC()
		p.Settings.EndDate = &endDate
	}
	p.CreatedAt = time.UnixMilli(created).UTC()
	p.UpdatedAt = time.UnixMilli(updated).UTC()
	p.Options = []models.Option{}
	return &p, nil
}

func optionFromTuple(raw interface{}) (models.Option, error) {
	var o models.Option
	tuple, err := asTuple(raw, optionFieldCount)
	if err != nil {
		return o, err
	}
	if o.ID, err = asString(tuple[0]); err != nil {
		return o, err
	}
	if o.PollID, err = asString(tuple[1]); err != nil {
		return o, err
	}
	if o.Text, err = asString(tuple[2]); err != nil {
		return o, err
	}
	if o.Votes, err = asInt64(tuple[3]); err != nil {
		return o, err
	}
	position, err := asInt64(tuple[4])
	if err != nil {
		return o, err
	}
	o.Position = int(position)
	return o, nil
}

func voteFromTuple(raw interface{}) (models.Vote, error) {
	var v models.Vote
	tuple, err := asTuple(raw, voteFieldCount)
	if err != nil {
		return v, err
	}
	if v.ID, err = asString(tuple[0]); err != nil {
		return v, err
	}
	if v.PollID, err = asString(tuple[1]); err != nil {
		return v, err
	}
	if v.OptionID, err = asString(tuple[2]); err != nil {
		return v, err
	}
	if v.VoterID, err = asString(tuple[3]); err != nil {
		return v, err
	}
	created, err := asInt64(tuple[4])
	if err != nil {
		return v, err
	}
	v.CreatedAt = time.UnixMilli(created).UTC()
	return v, nil
}

func asTuple(raw interface{}, minLen int) ([]interface{}, error) {
	tuple, ok := raw.([]interface{})
	if !ok || len(tuple) < minLen {
		return nil, fmt.Errorf("repository: unexpected tuple %v: %w", raw, models.ErrFailedToProcessData)
	}
	return tuple, nil
}

func asString(v interface{}) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("repository: expected string, got %T: %w", v, models.ErrFailedToProcessData)
	}
	return s, nil
}

func asBool(v interface{}) (bool, error) {
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("repository: expected bool, got %T: %w", v, models.ErrFailedToProcessData)
	}
	return b, nil
}

// asInt64 accepts every integer width the msgpack decoder may produce.
func asInt64(v interface{}) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case uint64:
		return int64(n), nil
	case int:
		return int64(n), nil
	case uint:
		return int64(n), nil
	case int8:
		return int64(n), nil
	case uint8:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case uint16:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("repository: expected integer, got %T: %w", v, models.ErrFailedToProcessData)
	}
}

func sortByCreatedDesc(polls []models.Poll) {
	sort.SliceStable(polls, func(i, j int) bool {
		return polls[i].CreatedAt.After(polls[j].CreatedAt)
	})
}
