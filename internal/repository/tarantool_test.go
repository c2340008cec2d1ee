package repository

import (
	"context"
	"fmt"
	"github.com/jaam8/live_polls/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tarantool/go-tarantool"
	"go.uber.org/zap/zaptest"
	"testing"
	"time"
)

type fakeConnector struct {
	calls   []string
	offsets []uint32
	respond func(name string, args interface{}) (*tarantool.Response, error)
}

func (f *fakeConnector) Select(space, _ interface{}, offset, _, _ uint32, key interface{}) (*tarantool.Response, error) {
	f.calls = append(f.calls, "select:"+space.(string))
	f.offsets = append(f.offsets, offset)
	return f.respond("select:"+space.(string), key)
}

func (f *fakeConnector) Insert(space interface{}, tuple interface{}) (*tarantool.Response, error) {
	f.calls = append(f.calls, "insert:"+space.(string))
	return f.respond("insert:"+space.(string), tuple)
}

func (f *fakeConnector) Call17(name string, args interface{}) (*tarantool.Response, error) {
	f.calls = append(f.calls, "call:"+name)
	return f.respond("call:"+name, args)
}

func data(values ...interface{}) *tarantool.Response {
	return &tarantool.Response{Data: values}
}

func TestTarantool_FindPollWithOptions(t *testing.T) {
	created := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	conn := &fakeConnector{respond: func(name string, _ interface{}) (*tarantool.Response, error) {
		require.Equal(t, "call:poll_get", name)
		poll := []interface{}{"p1", "Question?", "", uint64(3), true, true, false, false, true,
			int64(0), uint64(created.UnixMilli()), uint64(created.UnixMilli())}
		options := []interface{}{
			[]interface{}{"a", "p1", "A", int8(2), uint8(0)},
			[]interface{}{"b", "p1", "B", uint64(1), uint8(1)},
		}
		return data(poll, options), nil
	}}
	r := NewTarantool(conn, zaptest.NewLogger(t))

	poll, err := r.FindPollWithOptions(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), poll.TotalVotes)
	assert.Nil(t, poll.Settings.EndDate)
	assert.True(t, created.Equal(poll.CreatedAt))
	require.Len(t, poll.Options, 2)
	assert.Equal(t, int64(2), poll.Options[0].Votes)
	assert.Equal(t, poll.TotalVotes, sumVotes(poll))
}

func TestTarantool_FindPollWithOptions_NotFound(t *testing.T) {
	conn := &fakeConnector{respond: func(string, interface{}) (*tarantool.Response, error) {
		return data(nil, []interface{}{}), nil
	}}
	r := NewTarantool(conn, zaptest.NewLogger(t))

	_, err := r.FindPollWithOptions(context.Background(), "p1")
	assert.ErrorIs(t, err, models.ErrPollNotFound)
}

func TestTarantool_IncrementOptionAndTotal(t *testing.T) {
	cases := []struct {
		name   string
		result interface{}
		want   error
	}{
		{name: "applied", result: true},
		{name: "foreign option", result: false, want: models.ErrInvalidOption},
		{name: "missing poll", result: nil, want: models.ErrPollNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			conn := &fakeConnector{respond: func(name string, args interface{}) (*tarantool.Response, error) {
				require.Equal(t, "call:poll_vote_increment", name)
				a := args.([]interface{})
				assert.Equal(t, "p1", a[0])
				assert.Equal(t, "a", a[1])
				return data(tc.result), nil
			}}
			r := NewTarantool(conn, zaptest.NewLogger(t))

			err := r.IncrementOptionAndTotal(context.Background(), "p1", "a")
			if tc.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestTarantool_FindOption_ForeignPoll(t *testing.T) {
	conn := &fakeConnector{respond: func(string, interface{}) (*tarantool.Response, error) {
		return data([]interface{}{"a", "p2", "A", uint64(0), uint64(0)}), nil
	}}
	r := NewTarantool(conn, zaptest.NewLogger(t))

	_, err := r.FindOption(context.Background(), "p1", "a")
	assert.ErrorIs(t, err, models.ErrInvalidOption)
}

func TestTarantool_CreateVote(t *testing.T) {
	duplicate := false
	conn := &fakeConnector{respond: func(name string, tuple interface{}) (*tarantool.Response, error) {
		require.Equal(t, "insert:votes", name)
		if duplicate {
			return &tarantool.Response{Code: tarantool.ErrTupleFound}, tarantool.Error{Code: tarantool.ErrTupleFound, Msg: "Duplicate key"}
		}
		duplicate = true
		assert.Equal(t, "alice", tuple.([]interface{})[3])
		return data(tuple), nil
	}}
	r := NewTarantool(conn, zaptest.NewLogger(t))
	vote := &models.Vote{ID: "v1", PollID: "p1", OptionID: "a", VoterID: "alice", CreatedAt: time.Now()}

	require.NoError(t, r.CreateVote(context.Background(), vote))
	assert.ErrorIs(t, r.CreateVote(context.Background(), vote), models.ErrVoteAlreadyExists)
}

func TestTarantool_StorageError(t *testing.T) {
	conn := &fakeConnector{respond: func(string, interface{}) (*tarantool.Response, error) {
		return nil, tarantool.ClientError{Code: tarantool.ErrConnectionClosed, Msg: "closed"}
	}}
	r := NewTarantool(conn, zaptest.NewLogger(t))

	_, err := r.FindVoteByVoterAndPoll(context.Background(), "p1", "alice")
	assert.ErrorIs(t, err, models.ErrStorageUnavailable)
}

func TestTarantool_ClosePoll(t *testing.T) {
	cases := []struct {
		name   string
		result interface{}
		want   error
	}{
		{name: "closed", result: true},
		{name: "already closed", result: false, want: models.ErrPollIsClosed},
		{name: "missing poll", result: nil, want: models.ErrPollNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			conn := &fakeConnector{respond: func(name string, args interface{}) (*tarantool.Response, error) {
				require.Equal(t, "call:poll_close", name)
				assert.Equal(t, "p1", args.([]interface{})[0])
				return data(tc.result), nil
			}}
			r := NewTarantool(conn, zaptest.NewLogger(t))

			err := r.ClosePoll(context.Background(), "p1")
			if tc.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestTarantool_DeletePoll(t *testing.T) {
	deleted := false
	conn := &fakeConnector{respond: func(name string, _ interface{}) (*tarantool.Response, error) {
		require.Equal(t, "call:poll_delete", name)
		if deleted {
			return data(false), nil
		}
		deleted = true
		return data(true), nil
	}}
	r := NewTarantool(conn, zaptest.NewLogger(t))

	require.NoError(t, r.DeletePoll(context.Background(), "p1"))
	assert.ErrorIs(t, r.DeletePoll(context.Background(), "p1"), models.ErrPollNotFound)
}

func TestTarantool_UpdatePoll(t *testing.T) {
	var result interface{} = true
	conn := &fakeConnector{respond: func(name string, args interface{}) (*tarantool.Response, error) {
		require.Equal(t, "call:poll_update", name)
		a := args.([]interface{})
		poll := a[0].([]interface{})
		assert.Equal(t, "p1", poll[0])
		assert.Equal(t, "Renamed?", poll[1])
		options := a[1].([]interface{})
		require.Len(t, options, 2)
		assert.Equal(t, []interface{}{"b", "p1", "B", uint64(0), uint64(1)}, options[1])
		return data(result), nil
	}}
	r := NewTarantool(conn, zaptest.NewLogger(t))
	poll := &models.Poll{ID: "p1", Question: "Renamed?", Options: []models.Option{
		{ID: "a", Text: "A"},
		{ID: "b", Text: "B", Position: 1},
	}}

	require.NoError(t, r.UpdatePoll(context.Background(), poll))
	result = false
	assert.ErrorIs(t, r.UpdatePoll(context.Background(), poll), models.ErrInvalidOption)
	result = nil
	assert.ErrorIs(t, r.UpdatePoll(context.Background(), poll), models.ErrPollNotFound)
}

func TestTarantool_ListPolls_Pages(t *testing.T) {
	const total = listPageSize + 3
	created := uint64(time.Now().UnixMilli())
	conn := &fakeConnector{}
	conn.respond = func(name string, args interface{}) (*tarantool.Response, error) {
		if name == "call:poll_get" {
			id := args.([]interface{})[0].(string)
			poll := []interface{}{id, "Q?", "", uint64(0), true, true, false, false, true, uint64(0), created, created}
			return data(poll, []interface{}{}), nil
		}
		require.Equal(t, "select:polls", name)
		offset := conn.offsets[len(conn.offsets)-1]
		var page []interface{}
		for i := int(offset); i < total && i < int(offset)+listPageSize; i++ {
			page = append(page, []interface{}{fmt.Sprintf("p%04d", i)})
		}
		return data(page...), nil
	}
	r := NewTarantool(conn, zaptest.NewLogger(t))

	polls, err := r.ListPolls(context.Background())
	require.NoError(t, err)
	assert.Len(t, polls, total, "polls beyond the first page are listed")
	assert.Equal(t, []uint32{0, listPageSize}, conn.offsets)
}

func TestAsInt64(t *testing.T) {
	for _, v := range []interface{}{int8(7), uint16(7), int32(7), uint64(7), int(7)} {
		n, err := asInt64(v)
		require.NoError(t, err)
		assert.Equal(t, int64(7), n)
	}
	_, err := asInt64("7")
	assert.ErrorIs(t, err, models.ErrFailedToProcessData)
}
