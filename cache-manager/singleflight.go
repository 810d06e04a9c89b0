package cachemanager

import (
	"context"
	"sync"

	"github.com/budgetly/orchestrator/pkg/models"
)

// Registry is the in-flight registry: it maps a RequestKey to the single
// network call currently serving it. Concurrent identical requests join the
// existing Call instead of issuing their own.
//
// Unlike the classic singleflight.Group, the registry separates joining from
// executing: the call is run later by a scheduler lane, and waiters may leave
// before it settles. When the last waiter leaves an unsettled call, the
// call's context is cancelled and the key is freed for a fresh call.
type Registry struct {
	mu    sync.Mutex
	calls map[string]*Call
}

// Call represents an in-flight request for a specific key.
type Call struct {
	key string
	reg *Registry

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// guarded by reg.mu
	waiters int
	settled bool

	snap *models.ResponseSnapshot
	err  error
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		calls: make(map[string]*Call),
	}
}

// Join attaches the caller to the call for key. exists is false when the
// caller created the call and is responsible for executing it.
//
// Complexity: O(1).
func (r *Registry) Join(key string) (c *Call, exists bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.calls[key]; ok {
		c.waiters++
		return c, true
	}

	ctx, cancel := context.WithCancel(context.Background())
	c = &Call{
		key:     key,
		reg:     r,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		waiters: 1,
	}
	r.calls[key] = c
	return c, false
}

// Resolve settles the current call for key. Returns false if none exists.
func (r *Registry) Resolve(key string, snap *models.ResponseSnapshot, err error) bool {
	r.mu.Lock()
	c, ok := r.calls[key]
	r.mu.Unlock()
	if !ok {
		return false
	}
	c.Resolve(snap, err)
	return true
}

// Clear removes key from the registry without settling its call. Waiters
// already attached still receive the outcome; new callers start fresh.
func (r *Registry) Clear(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.calls, key)
}

// InFlight returns the number of currently in-flight calls.
func (r *Registry) InFlight() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

// removeUnsafe deletes c from the map if it is still the entry for its key.
func (r *Registry) removeUnsafe(c *Call) {
	if cur, ok := r.calls[c.key]; ok && cur == c {
		delete(r.calls, c.key)
	}
}

// Key returns the RequestKey this call serves.
func (c *Call) Key() string { return c.key }

// Context is cancelled once every waiter has left an unsettled call, or
// after the call settles. The executor runs the network call under it.
func (c *Call) Context() context.Context { return c.ctx }

// Done is closed when the call settles.
func (c *Call) Done() <-chan struct{} { return c.done }

// Waiters returns the number of callers still attached.
func (c *Call) Waiters() int {
	c.reg.mu.Lock()
	defer c.reg.mu.Unlock()
	return c.waiters
}

// Resolve settles the call once and removes it from the registry.
// Later calls are no-ops. Removal is unconditional on settlement.
func (c *Call) Resolve(snap *models.ResponseSnapshot, err error) {
	c.reg.mu.Lock()
	if c.settled {
		c.reg.mu.Unlock()
		return
	}
	c.settled = true
	c.snap = snap
	c.err = err
	c.reg.removeUnsafe(c)
	c.reg.mu.Unlock()

	close(c.done)
	c.cancel()
}

// Wait blocks until the call settles or ctx is done. On ctx done the caller
// detaches; the call keeps running for anyone else still attached.
func (c *Call) Wait(ctx context.Context) (*models.ResponseSnapshot, error) {
	select {
	case <-c.done:
		return c.snap, c.err
	default:
	}

	select {
	case <-c.done:
		return c.snap, c.err
	case <-ctx.Done():
		c.leave()
		return nil, ctx.Err()
	}
}

// leave detaches one waiter, abandoning the call when none remain.
func (c *Call) leave() {
	c.reg.mu.Lock()
	defer c.reg.mu.Unlock()

	c.waiters--
	if c.waiters > 0 || c.settled {
		return
	}
	// Nobody is listening: stop the work and free the key
	c.reg.removeUnsafe(c)
	c.cancel()
}
