// Package lazyurl provides a single-shot future for URLs that become known
// asynchronously, typically once an editor subprocess reports its port.
package lazyurl

import (
	"context"
	"sync"
)

// FailedPlaceholder is returned from Poll for every field of a failed future.
const FailedPlaceholder = "Failed to start"

// State describes the resolution state of a Future.
type State int

const (
	// Pending indicates the future has not resolved yet.
	Pending State = iota
	// Ready indicates the future resolved with a Resolution.
	Ready
	// Failed indicates the underlying start failed.
	Failed
)

// Resolution holds the URLs reported by a running editor.
type Resolution struct {
	Edit    string
	Preview string
	Admin   string
}

// Future is a single-shot future. The first Resolve or Fail wins; later
// calls are no-ops. The resolved value is cached for every subsequent read.
type Future struct {
	mu    sync.Mutex
	done  chan struct{}
	state State
	value Resolution
	err   error
}

// New creates an unresolved Future.
func New() *Future {
	return &Future{done: make(chan struct{})}
}

// Resolved creates a Future that is already resolved with the given value.
func Resolved(r Resolution) *Future {
	f := New()
	f.Resolve(r)
	return f
}

// Resolve marks the future ready. It is a no-op if already resolved.
func (f *Future) Resolve(r Resolution) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != Pending {
		return
	}
	f.value = r
	f.state = Ready
	close(f.done)
}

// Fail marks the future failed. It is a no-op if already resolved.
func (f *Future) Fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != Pending {
		return
	}
	f.err = err
	f.state = Failed
	f.value = Resolution{
		Edit:    FailedPlaceholder,
		Preview: FailedPlaceholder,
		Admin:   FailedPlaceholder,
	}
	close(f.done)
}

// Poll returns the current resolution without blocking.
func (f *Future) Poll() (Resolution, State) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value, f.state
}

// Err returns the failure cause, or nil if the future has not failed.
func (f *Future) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// Wait blocks until the future resolves or the context is done.
func (f *Future) Wait(ctx context.Context) (Resolution, error) {
	select {
	case <-f.done:
	case <-ctx.Done():
		return Resolution{}, ctx.Err()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == Failed {
		return f.value, f.err
	}
	return f.value, nil
}
