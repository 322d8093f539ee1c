// Package bus funnels the three trigger sources (signals, timer ticks,
// gateway notifications) into one single-consumer command queue, so the
// snapshot only ever has one mutator running at a time.
package bus

import (
	"context"
	"errors"
	"sync"
)

var (
	ErrQueueFull   = errors.New("command queue full")
	ErrQueueClosed = errors.New("command queue closed")
)

// Command is one unit of work for the consumer loop.
type Command interface {
	// Name identifies the command kind for logging.
	Name() string
}

// Queue is a bounded command queue with exactly one consumer. The channel
// itself is never closed, so publishers can race Close safely.
type Queue struct {
	ch   chan Command
	done chan struct{}
	once sync.Once
}

// NewQueue allocates a queue with the given capacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{
		ch:   make(chan Command, capacity),
		done: make(chan struct{}),
	}
}

// TryPublish enqueues a command without blocking. Timer ticks use this:
// a dropped tick is re-delivered by the next one.
func (q *Queue) TryPublish(cmd Command) error {
	select {
	case <-q.done:
		return ErrQueueClosed
	default:
	}
	select {
	case q.ch <- cmd:
		return nil
	default:
		return ErrQueueFull
	}
}

// Publish enqueues a command, blocking until there is room. Signals use
// this: arrival order per symbol must be preserved, never dropped.
func (q *Queue) Publish(ctx context.Context, cmd Command) error {
	select {
	case <-q.done:
		return ErrQueueClosed
	default:
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-q.done:
		return ErrQueueClosed
	case q.ch <- cmd:
		return nil
	}
}

// Close stops the queue from accepting new commands. Commands already
// queued are still drained by Run.
func (q *Queue) Close() {
	q.once.Do(func() { close(q.done) })
}

// Run consumes commands until the context is done or the queue is closed
// and drained.
func (q *Queue) Run(ctx context.Context, handler func(Command)) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-q.ch:
			handler(cmd)
		case <-q.done:
			for {
				select {
				case cmd := <-q.ch:
					handler(cmd)
				default:
					return
				}
			}
		}
	}
}
