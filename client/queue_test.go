package client

import (
	"errors"
	"testing"

	"github.com/mbocsi/gochat/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func msg(id string) proto.OutboundMessage {
	return proto.OutboundMessage{ID: id, Destination: "/app/" + id}
}

func TestQueue_FlushInOrder(t *testing.T) {
	q := NewQueue(0)
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, q.Push(msg(id)))
	}

	var order []string
	n, err := q.Flush(func(m proto.OutboundMessage) error {
		order = append(order, m.ID)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []string{"a", "b", "c"}, order)
	assert.Zero(t, q.Len())
}

func TestQueue_FlushStopsAtFailure(t *testing.T) {
	q := NewQueue(0)
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, q.Push(msg(id)))
	}

	fail := errors.New("write failed")
	n, err := q.Flush(func(m proto.OutboundMessage) error {
		if m.ID == "b" {
			return fail
		}
		return nil
	})
	assert.ErrorIs(t, err, fail)
	assert.Equal(t, 1, n)

	pending := q.Pending()
	require.Len(t, pending, 2)
	assert.Equal(t, "b", pending[0].ID)
	assert.Equal(t, "c", pending[1].ID)
}

func TestQueue_PushDuringFlushGoesToTail(t *testing.T) {
	q := NewQueue(0)
	require.NoError(t, q.Push(msg("a")))

	var order []string
	_, err := q.Flush(func(m proto.OutboundMessage) error {
		order = append(order, m.ID)
		if m.ID == "a" {
			require.NoError(t, q.Push(msg("late")))
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "late"}, order)
}

func TestQueue_Limit(t *testing.T) {
	q := NewQueue(2)
	require.NoError(t, q.Push(msg("a")))
	require.NoError(t, q.Push(msg("b")))
	assert.ErrorIs(t, q.Push(msg("c")), ErrQueueFull)
	assert.Equal(t, 2, q.Len())
}

func TestQueue_PendingIsACopy(t *testing.T) {
	q := NewQueue(0)
	require.NoError(t, q.Push(msg("a")))

	pending := q.Pending()
	pending[0].ID = "changed"
	assert.Equal(t, "a", q.Pending()[0].ID)

	assert.Equal(t, 1, q.Clear())
	assert.Zero(t, q.Len())
	assert.Zero(t, q.Clear())
}
