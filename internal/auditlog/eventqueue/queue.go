package eventqueue

import (
	"context"
	"sync"
	"time"

	"github.com/auditlogproject/auditlog/internal/auditlog/model"
)

// Queue is an unbounded FIFO buffer between the request handlers and the
// batcher. Enqueues never block; the single consumer can block waiting for the
// first element and then drain whatever else is available. No capacity limit
// is enforced: sustained primary-store unavailability combined with unbounded
// ingestion is an accepted risk, not a guarded invariant.
type Queue struct {
	mu     sync.Mutex
	events []*model.AuditEvent
	signal chan struct{}
}

func New() *Queue {
	return &Queue{
		signal: make(chan struct{}, 1),
	}
}

// Enqueue appends one event and returns immediately.
func (q *Queue) Enqueue(e *model.AuditEvent) {
	q.mu.Lock()
	q.events = append(q.events, e)
	q.mu.Unlock()
	q.notify()
}

// EnqueueAll appends events in order and returns immediately.
func (q *Queue) EnqueueAll(es []*model.AuditEvent) {
	if len(es) == 0 {
		return
	}
	q.mu.Lock()
	q.events = append(q.events, es...)
	q.mu.Unlock()
	q.notify()
}

func (q *Queue) notify() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// TakeBlocking removes and returns the head of the queue, blocking until an
// element is available or ctx is done.
func (q *Queue) TakeBlocking(ctx context.Context) (*model.AuditEvent, error) {
	for {
		if e, ok := q.tryTake(); ok {
			return e, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.signal:
		}
	}
}

// Poll removes and returns the head of the queue, waiting up to timeout for an
// element to arrive. The second return is false on timeout or ctx cancellation.
func (q *Queue) Poll(ctx context.Context, timeout time.Duration) (*model.AuditEvent, bool) {
	if e, ok := q.tryTake(); ok {
		return e, true
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, false
		case <-timer.C:
			return nil, false
		case <-q.signal:
			if e, ok := q.tryTake(); ok {
				return e, true
			}
		}
	}
}

func (q *Queue) tryTake() (*model.AuditEvent, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.events) == 0 {
		return nil, false
	}
	e := q.events[0]
	q.events[0] = nil
	q.events = q.events[1:]
	return e, true
}

// DrainAvailable removes and returns up to max immediately-available elements
// without blocking.
func (q *Queue) DrainAvailable(max int) []*model.AuditEvent {
	if max <= 0 {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	n := max
	if n > len(q.events) {
		n = len(q.events)
	}
	if n == 0 {
		return nil
	}
	drained := make([]*model.AuditEvent, n)
	copy(drained, q.events[:n])
	remaining := copy(q.events, q.events[n:])
	for i := remaining; i < len(q.events); i++ {
		q.events[i] = nil
	}
	q.events = q.events[:remaining]
	return drained
}

// Len reports the number of buffered events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}
