package server

import (
	"context"
	"fmt"
	"sync"

	"github.com/parkmill/sitekeeper/internal/lazyurl"
)

// Fake is an in-memory Server for tests. It resolves URLs immediately
// without spawning anything, while still enforcing one serve per path and
// rejecting stops for unknown paths.
type Fake struct {
	mu       sync.Mutex
	nextPort int
	serves   map[string]int
	stopped  []string
}

// NewFake creates a fake server handing out ports from 5000.
func NewFake() *Fake {
	return &Fake{nextPort: 5000, serves: make(map[string]int)}
}

func (f *Fake) serve(path string) (*lazyurl.Future, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.serves[path]; ok {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyServing, path)
	}
	port := f.nextPort
	f.nextPort++
	f.serves[path] = port

	url := baseURL(port)
	return lazyurl.Resolved(lazyurl.Resolution{Edit: url, Preview: url, Admin: url}), nil
}

// ServeLektor implements Server.
func (f *Fake) ServeLektor(ctx context.Context, path string) (*lazyurl.Future, error) {
	return f.serve(path)
}

// ServeStatic implements Server.
func (f *Fake) ServeStatic(ctx context.Context, path string) (*lazyurl.Future, error) {
	return f.serve(path)
}

// Stop implements Server; the finalizer runs synchronously.
func (f *Fake) Stop(path string, finalizer func()) error {
	f.mu.Lock()
	if _, ok := f.serves[path]; !ok {
		f.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotServing, path)
	}
	delete(f.serves, path)
	f.stopped = append(f.stopped, path)
	f.mu.Unlock()

	if finalizer != nil {
		finalizer()
	}
	return nil
}

// Serving reports whether path currently has a serve.
func (f *Fake) Serving(path string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.serves[path]
	return ok
}

// Stopped returns the paths stopped so far, in order.
func (f *Fake) Stopped() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.stopped...)
}
