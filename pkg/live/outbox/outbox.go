// Package outbox provides the ordered, non-blocking send queue that every
// live transport writes through.
//
// Capture callbacks must never wait on the network, so sends are appended to
// an unbounded FIFO and drained by a single writer goroutine. The first write
// error fails the outbox: pending operations are dropped, later pushes return
// [live.ErrClosed], and the failure callback runs once.
package outbox

import (
	"context"
	"sync"

	"github.com/MrWong99/pranaflow/pkg/live"
)

// Op is one queued write.
type Op func(ctx context.Context) error

// Outbox serialises writes onto a transport.
type Outbox struct {
	ctx    context.Context
	onFail func(error)

	mu     sync.Mutex
	queue  []Op
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

// New starts the writer goroutine. It runs until ctx is cancelled, Close is
// called, or an Op fails; onFail, if non-nil, receives that failure.
func New(ctx context.Context, onFail func(error)) *Outbox {
	o := &Outbox{
		ctx:    ctx,
		onFail: onFail,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go o.run()
	return o
}

// Push appends op to the queue and returns immediately.
func (o *Outbox) Push(op Op) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return live.ErrClosed
	}
	o.queue = append(o.queue, op)
	o.mu.Unlock()

	select {
	case o.wake <- struct{}{}:
	default:
	}
	return nil
}

// Len reports how many operations are waiting to be written.
func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.queue)
}

// Close stops the writer and drops anything still queued. It is idempotent.
func (o *Outbox) Close() {
	o.mu.Lock()
	o.closed = true
	o.queue = nil
	o.mu.Unlock()

	select {
	case o.wake <- struct{}{}:
	default:
	}
}

// Done is closed once the writer goroutine has exited.
func (o *Outbox) Done() <-chan struct{} { return o.done }

func (o *Outbox) run() {
	defer close(o.done)
	for {
		select {
		case <-o.ctx.Done():
			o.Close()
			return
		case <-o.wake:
		}

		for {
			o.mu.Lock()
			if o.closed {
				o.mu.Unlock()
				return
			}
			if len(o.queue) == 0 {
				o.mu.Unlock()
				break
			}
			op := o.queue[0]
			o.queue[0] = nil
			o.queue = o.queue[1:]
			o.mu.Unlock()

			if err := op(o.ctx); err != nil {
				o.Close()
				if o.ctx.Err() == nil && o.onFail != nil {
					o.onFail(err)
				}
				return
			}
		}
	}
}
