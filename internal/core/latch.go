package core

import (
	"context"
	"sync"
)

// Latch is a one-shot rendezvous. Fire resolves it exactly once; every
// current and future waiter observes the same resolution. Waiters abandoned
// by a cancelled context do not leak.
type Latch struct {
	once sync.Once
	ch   chan struct{}
}

func NewLatch() *Latch {
	return &Latch{ch: make(chan struct{})}
}

// Fire resolves the latch. Safe to call more than once.
func (l *Latch) Fire() {
	l.once.Do(func() { close(l.ch) })
}

// Done returns a channel closed once the latch has fired.
func (l *Latch) Done() <-chan struct{} {
	return l.ch
}

func (l *Latch) Fired() bool {
	select {
	case <-l.ch:
		return true
	default:
		return false
	}
}

// Wait blocks until the latch fires or ctx is cancelled.
func (l *Latch) Wait(ctx context.Context) error {
	select {
	case <-l.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
