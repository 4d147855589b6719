// Package updater pauses intake while the downloader is being upgraded and
// drives that upgrade on a schedule.
package updater

import (
	"context"
	"sync"
)

// Gate is a two-state switch between idle and updating. While updating it
// holds one completion channel that every waiter shares; EndUpdate closes
// it and returns the gate to idle.
type Gate struct {
	mu   sync.Mutex
	done chan struct{}
	hook func(updating bool)
}

type GateOption func(*Gate)

// WithGateHook is called after every state change.
func WithGateHook(fn func(updating bool)) GateOption {
	return func(g *Gate) { g.hook = fn }
}

func NewGate(opts ...GateOption) *Gate {
	g := &Gate{}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// BeginUpdate switches the gate to updating and returns the completion
// channel. If an update is already in progress the existing channel is
// returned together with false.
func (g *Gate) BeginUpdate() (<-chan struct{}, bool) {
	g.mu.Lock()
	if g.done != nil {
		done := g.done
		g.mu.Unlock()
		return done, false
	}
	g.done = make(chan struct{})
	done := g.done
	g.mu.Unlock()

	g.notify(true)
	return done, true
}

// EndUpdate releases every waiter. It is a no-op when the gate is idle.
func (g *Gate) EndUpdate() {
	g.mu.Lock()
	if g.done == nil {
		g.mu.Unlock()
		return
	}
	close(g.done)
	g.done = nil
	g.mu.Unlock()

	g.notify(false)
}

func (g *Gate) IsUpdating() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.done != nil
}

// AwaitIdle returns immediately when idle; otherwise it waits for the
// current update to end or for ctx to be done.
func (g *Gate) AwaitIdle(ctx context.Context) error {
	g.mu.Lock()
	done := g.done
	g.mu.Unlock()
	if done == nil {
		return nil
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *Gate) notify(updating bool) {
	if g.hook != nil {
		g.hook(updating)
	}
}
