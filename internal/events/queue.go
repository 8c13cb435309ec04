package events

import (
	"context"
	"errors"
	"sync"
)

// ErrQueueClosed is returned when publishing to a closed queue.
var ErrQueueClosed = errors.New("events: queue closed")

// Handler reacts to one event. Handlers run one at a time.
type Handler func(ctx context.Context, ev Event)

// Queue is a FIFO event queue with a single dispatcher. Publish never
// blocks. Events published while a handler runs are dispatched after it
// returns, so handlers are never re-entered.
type Queue struct {
	mu       sync.Mutex
	pending  []Event
	handlers map[Kind][]Handler
	any      []Handler
	closed   bool
	wake     chan struct{}

	// dispatch serializes Run and Drain.
	dispatch sync.Mutex
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{
		handlers: make(map[Kind][]Handler),
		wake:     make(chan struct{}, 1),
	}
}

// Subscribe registers h for events of kind k.
func (q *Queue) Subscribe(k Kind, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[k] = append(q.handlers[k], h)
}

// SubscribeAll registers h for every event. It runs after the kind-specific
// handlers.
func (q *Queue) SubscribeAll(h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.any = append(q.any, h)
}

// Publish enqueues ev.
func (q *Queue) Publish(ev Event) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	q.pending = append(q.pending, ev)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

// Len returns the number of undelivered events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Close stops accepting events. Run returns once the backlog is delivered.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Run dispatches events until ctx is done or the queue is closed and empty.
func (q *Queue) Run(ctx context.Context) error {
	for {
		for {
			if err := ctx.Err(); err != nil {
				return err
			}
			if !q.step(ctx) {
				break
			}
		}

		q.mu.Lock()
		done := q.closed && len(q.pending) == 0
		q.mu.Unlock()
		if done {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-q.wake:
		}
	}
}

// Drain dispatches every pending event, including those published by
// handlers during the drain, then returns.
func (q *Queue) Drain(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !q.step(ctx) {
			return nil
		}
	}
}

// step delivers the oldest pending event. It reports false when the queue
// is empty.
func (q *Queue) step(ctx context.Context) bool {
	q.dispatch.Lock()
	defer q.dispatch.Unlock()

	q.mu.Lock()
	if len(q.pending) == 0 {
		q.mu.Unlock()
		return false
	}
	ev := q.pending[0]
	q.pending[0] = Event{}
	q.pending = q.pending[1:]
	hs := append([]Handler(nil), q.handlers[ev.Kind]...)
	hs = append(hs, q.any...)
	q.mu.Unlock()

	for _, h := range hs {
		h(ctx, ev)
	}
	return true
}
