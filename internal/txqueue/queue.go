// Package txqueue serializes CAN transmissions from many producers into one
// worker goroutine that owns the controller's transmit path.
package txqueue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/kstaniek/go-mcp2515/internal/can"
)

var (
	// ErrClosed is returned by Enqueue after Close.
	ErrClosed = errors.New("txqueue: closed")
	// ErrOverflow is returned by Enqueue when the queue is full.
	ErrOverflow = errors.New("txqueue: overflow")
)

// SendFunc transmits one frame and blocks until the controller is done with it.
type SendFunc func(*can.Frame) error

// Hooks observe the queue; all are optional.
type Hooks struct {
	// OnSent runs after a successful transmission.
	OnSent func(can.Frame)
	// OnError runs when SendFunc fails; the frame is not retried.
	OnError func(can.Frame, error)
	// OnDrop runs when Enqueue finds the queue full.
	OnDrop func(can.Frame)
}

// Queue is a bounded FIFO drained by a single worker. Enqueue never blocks.
type Queue struct {
	mu     sync.Mutex
	ch     chan can.Frame
	cancel context.CancelFunc
	wg     sync.WaitGroup
	send   SendFunc
	hooks  Hooks
	closed atomic.Bool
}

// New starts the worker. It stops when ctx is done or Close is called.
func New(ctx context.Context, depth int, send SendFunc, hooks Hooks) *Queue {
	if depth < 1 {
		depth = 1
	}
	ctx, cancel := context.WithCancel(ctx)
	q := &Queue{
		ch:     make(chan can.Frame, depth),
		cancel: cancel,
		send:   send,
		hooks:  hooks,
	}
	q.wg.Add(1)
	go q.run(ctx)
	return q
}

func (q *Queue) run(ctx context.Context) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case fr, ok := <-q.ch:
			if !ok {
				return
			}
			if err := q.send(&fr); err != nil {
				if q.hooks.OnError != nil {
					q.hooks.OnError(fr, err)
				}
				continue
			}
			if q.hooks.OnSent != nil {
				q.hooks.OnSent(fr)
			}
		}
	}
}

// Enqueue queues fr or fails with ErrOverflow or ErrClosed.
func (q *Queue) Enqueue(fr can.Frame) error {
	if q.closed.Load() {
		return ErrClosed
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed.Load() {
		return ErrClosed
	}
	select {
	case q.ch <- fr:
		return nil
	default:
		if q.hooks.OnDrop != nil {
			q.hooks.OnDrop(fr)
		}
		return ErrOverflow
	}
}

// Len is the number of queued frames.
func (q *Queue) Len() int { return len(q.ch) }

// Close stops the worker and waits for it. Frames still queued are dropped.
func (q *Queue) Close() {
	if q.closed.Swap(true) {
		return
	}
	q.cancel()
	q.mu.Lock()
	close(q.ch)
	q.mu.Unlock()
	q.wg.Wait()
}
