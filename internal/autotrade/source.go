package autotrade

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/paperbot/internal/domain"
)

// SignalSource yields the signals that arrived since the previous poll.
type SignalSource interface {
	Poll(ctx context.Context) ([]domain.SignalEvent, error)
}

// Waker is implemented by sources that can cut the poll interval short when
// new signals arrive.
type Waker interface {
	Wake() <-chan struct{}
}

// QueueSource is an in-memory SignalSource fed by Push.
type QueueSource struct {
	mu      sync.Mutex
	pending []domain.SignalEvent
	wake    chan struct{}
	now     func() time.Time
}

// NewQueueSource creates an empty QueueSource.
func NewQueueSource() *QueueSource {
	return &QueueSource{wake: make(chan struct{}, 1), now: time.Now}
}

// Push enqueues events and wakes the controller. Events without a timestamp
// are stamped on arrival so repeats of the same signal stay distinct.
func (q *QueueSource) Push(events ...domain.SignalEvent) {
	q.mu.Lock()
	for _, ev := range events {
		if ev.Timestamp.IsZero() {
			ev.Timestamp = q.now().UTC()
		}
		q.pending = append(q.pending, ev)
	}
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Poll drains the queue.
func (q *QueueSource) Poll(_ context.Context) ([]domain.SignalEvent, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.pending
	q.pending = nil
	return out, nil
}

// Wake implements Waker.
func (q *QueueSource) Wake() <-chan struct{} {
	return q.wake
}
