package client

import (
	"slices"
	"sync"

	"github.com/mbocsi/gochat/proto"
)

// Queue holds outbound messages produced while the connection is down.
// Messages leave the queue only by being published or by an explicit Clear.
type Queue struct {
	mu    sync.Mutex
	items []proto.OutboundMessage
	limit int
}

// NewQueue creates a FIFO queue. limit <= 0 means unbounded.
func NewQueue(limit int) *Queue {
	return &Queue{limit: limit}
}

// Push appends msg at the tail. It fails with ErrQueueFull when the queue is
// bounded and at capacity.
func (q *Queue) Push(msg proto.OutboundMessage) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.limit > 0 && len(q.items) >= q.limit {
		return ErrQueueFull
	}
	q.items = append(q.items, msg)
	return nil
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Pending returns a copy of the queued messages, head first.
func (q *Queue) Pending() []proto.OutboundMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.Clone(q.items)
}

// Clear empties the queue and returns how many messages were discarded.
func (q *Queue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	q.items = nil
	return n
}

// Flush publishes queued messages head to tail. An entry is removed only after
// publish succeeds, so a failure leaves it and everything behind it queued
// for the next flush. It returns the number of messages published.
func (q *Queue) Flush(publish func(proto.OutboundMessage) error) (int, error) {
	sent := 0
	for {
		q.mu.Lock()
		if len(q.items) == 0 {
			q.mu.Unlock()
			return sent, nil
		}
		head := q.items[0]
		q.mu.Unlock()

		if err := publish(head); err != nil {
			return sent, err
		}

		q.mu.Lock()
		if len(q.items) > 0 && q.items[0].ID == head.ID {
			q.items[0] = proto.OutboundMessage{}
			q.items = q.items[1:]
		}
		q.mu.Unlock()
		sent++
	}
}
