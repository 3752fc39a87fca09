// Package bridge decouples asynchronous request producers (the HTTP gateway,
// tests, synthetic generators) from the validator's single dispatch loop.
//
// A producer calls Submit and blocks on Await; the loop calls TryDequeue and
// must Complete every Pending it takes, with the winning response or with the
// nil "no result" sentinel. A Pending is completed exactly once — a second
// Complete is a programming error and panics.
package bridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"recnet/pkg/protocol"
)

// Pending pairs a request envelope with a one-shot completion signal and a
// result slot. Created by Submit, consumed exactly once by the dispatch loop.
type Pending struct {
	Req protocol.RecRequest

	mu        sync.Mutex
	completed bool
	resp      *protocol.RecResponse
	done      chan struct{}
}

// Complete writes the result slot and fires the completion signal. A nil
// response is the explicit "no result" sentinel. Calling Complete twice on
// the same Pending panics: silently overwriting a delivered result would
// corrupt the at-most-one-writer invariant.
func (p *Pending) Complete(resp *protocol.RecResponse) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.completed {
		panic(fmt.Sprintf("bridge: request %s completed twice", p.Req.ID))
	}
	p.completed = true
	p.resp = resp
	close(p.done)
}

// Await blocks until the dispatch loop completes this request, then returns
// the result slot. A nil response with nil error means the loop produced no
// acceptable result. The context bounds the wait; on cancellation the
// Pending stays live and may still be completed later by the loop.
func (p *Pending) Await(ctx context.Context) (*protocol.RecResponse, error) {
	select {
	case <-p.done:
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.resp, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("await request %s: %w", p.Req.ID, ctx.Err())
	}
}

// Bridge is a concurrent-safe, unbounded FIFO queue of Pending requests.
// Any goroutine may Submit; only the dispatch loop calls TryDequeue.
type Bridge struct {
	mu    sync.Mutex
	queue []*Pending
	wake  chan struct{}
}

// New creates an empty Bridge.
func New() *Bridge {
	return &Bridge{wake: make(chan struct{}, 1)}
}

// Submit enqueues a new Pending for the given envelope and returns
// immediately. The caller holds the Pending and blocks on Await.
func (b *Bridge) Submit(req protocol.RecRequest) *Pending {
	p := &Pending{Req: req, done: make(chan struct{})}
	b.mu.Lock()
	b.queue = append(b.queue, p)
	b.mu.Unlock()

	select {
	case b.wake <- struct{}{}:
	default: // a wakeup is already pending
	}
	return p
}

// TryDequeue returns the oldest Pending, waiting up to timeout for one to
// arrive. It returns nil when the timeout elapses with the queue empty.
func (b *Bridge) TryDequeue(timeout time.Duration) *Pending {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		b.mu.Lock()
		if len(b.queue) > 0 {
			p := b.queue[0]
			b.queue = b.queue[1:]
			b.mu.Unlock()
			return p
		}
		b.mu.Unlock()

		select {
		case <-b.wake:
		case <-deadline.C:
			return nil
		}
	}
}

// Len returns the number of queued, not-yet-dequeued requests.
func (b *Bridge) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}
