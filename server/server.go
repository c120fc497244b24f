// Package server starts and stops per-working-directory editor processes
// and reports their URLs through single-shot futures.
package server

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/parkmill/sitekeeper/internal/lazyurl"
)

// ErrNotServing indicates Stop was called for a path that is not served.
// This is a programmer error in the caller.
var ErrNotServing = errors.New("path is not being served")

// ErrAlreadyServing indicates a serve was requested for a path that already
// has one.
var ErrAlreadyServing = errors.New("path is already being served")

// ErrEarlyExit indicates the editor process ended before reporting
// readiness.
var ErrEarlyExit = errors.New("early process end")

// ErrNoFreePort indicates the configured port range is exhausted.
var ErrNoFreePort = errors.New("no free port in range")

// Server serves editor and static processes for working directories.
type Server interface {
	// ServeLektor starts an editor for the working directory at path. The
	// returned future resolves once the editor reports readiness.
	ServeLektor(ctx context.Context, path string) (*lazyurl.Future, error)

	// ServeStatic serves the directory at path as static files.
	ServeStatic(ctx context.Context, path string) (*lazyurl.Future, error)

	// Stop stops the serve for path. The finalizer, if non-nil, runs
	// after the underlying process has exited and released its file
	// handles. Stopping an unknown path returns ErrNotServing.
	Stop(path string, finalizer func()) error
}

// ports tracks which ports in a range are handed out.
type ports struct {
	mu    sync.Mutex
	start int
	end   int
	used  map[int]bool
}

func newPorts(start, end int) *ports {
	return &ports{start: start, end: end, used: make(map[int]bool)}
}

// acquire picks a port uniformly at random among the unused ports in the
// range.
func (p *ports) acquire() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	free := make([]int, 0, p.end-p.start+1)
	for port := p.start; port <= p.end; port++ {
		if !p.used[port] {
			free = append(free, port)
		}
	}
	if len(free) == 0 {
		return 0, fmt.Errorf("%w: [%d, %d]", ErrNoFreePort, p.start, p.end)
	}

	port := free[rand.IntN(len(free))]
	p.used[port] = true
	return port, nil
}

func (p *ports) release(port int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.used, port)
}

func baseURL(port int) string {
	return fmt.Sprintf("http://localhost:%d/", port)
}
