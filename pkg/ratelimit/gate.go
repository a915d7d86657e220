// Package ratelimit provides a sequential outbound gate for rate-limited APIs.
package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrClosed is returned by Do after Close.
var ErrClosed = errors.New("ratelimit: gate closed")

// Gate serializes calls through a single consumer goroutine.
// Calls are dispatched in FIFO order of arrival and consecutive dispatches
// are spaced by at least 1/rps. Only one call runs at a time.
type Gate struct {
	limiter *rate.Limiter
	tasks   chan *task

	closeOnce sync.Once
	done      chan struct{}
	stopped   chan struct{}
}

type task struct {
	ctx    context.Context
	fn     func(ctx context.Context) error
	result chan error
}

// NewGate creates a gate allowing rps dispatches per second.
// Values below 1 are raised to 1, matching the channel's minimum budget.
// queueSize bounds how many callers may wait; further callers block in Do.
func NewGate(rps float64, queueSize int) *Gate {
	if rps < 1 {
		rps = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	g := &Gate{
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		tasks:   make(chan *task, queueSize),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go g.run()
	return g
}

// Interval returns the minimum spacing between dispatches.
func (g *Gate) Interval() time.Duration {
	return time.Duration(float64(time.Second) / float64(g.limiter.Limit()))
}

// Do enqueues fn and waits for its result.
// fn receives the caller's context; if the caller gives up while queued,
// fn is skipped and the context error is returned.
func (g *Gate) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	t := &task{ctx: ctx, fn: fn, result: make(chan error, 1)}

	select {
	case <-g.done:
		return ErrClosed
	default:
	}

	select {
	case <-g.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	case g.tasks <- t:
	}

	select {
	case err := <-t.result:
		return err
	case <-g.stopped:
		select {
		case err := <-t.result:
			return err
		default:
			return ErrClosed
		}
	case <-ctx.Done():
		// The consumer still drains the task; its result is discarded.
		return ctx.Err()
	}
}

// Close stops the consumer. Queued tasks that were not dispatched yet fail with ErrClosed.
func (g *Gate) Close() {
	g.closeOnce.Do(func() {
		close(g.done)
	})
	<-g.stopped
}

func (g *Gate) run() {
	defer close(g.stopped)
	for {
		select {
		case <-g.done:
			g.drain()
			return
		case t := <-g.tasks:
			g.dispatch(t)
		}
	}
}

func (g *Gate) dispatch(t *task) {
	if err := t.ctx.Err(); err != nil {
		t.result <- err
		return
	}
	if err := g.limiter.Wait(t.ctx); err != nil {
		t.result <- err
		return
	}
	t.result <- t.fn(t.ctx)
}

func (g *Gate) drain() {
	for {
		select {
		case t := <-g.tasks:
			t.result <- ErrClosed
		default:
			return
		}
	}
}
