package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/parkmill/sitekeeper/internal/lazyurl"
)

// fakeEditor writes a shell script that mimics the editor's startup
// output and then sleeps until terminated.
func fakeEditor(t *testing.T, body string) []string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake editor scripts require a POSIX shell")
	}
	script := filepath.Join(t.TempDir(), "fake-lektor")
	content := "#!/bin/sh\n" + body
	if err := os.WriteFile(script, []byte(content), 0o755); err != nil {
		t.Fatalf("write fake editor: %v", err)
	}
	return []string{script}
}

func TestServeLektorReadiness(t *testing.T) {
	command := fakeEditor(t, strings.Join([]string{
		`echo "Started source info update"`,
		`echo "Finished prune in 0.1 sec"`,
		`sleep 60`,
	}, "\n"))

	l := NewLektor(Options{StartPort: 5100, EndPort: 5110, Command: command})
	dir := t.TempDir()

	future, err := l.ServeLektor(context.Background(), dir)
	if err != nil {
		t.Fatalf("serve: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resolved, err := future.Wait(ctx)
	if err != nil {
		t.Fatalf("wait for readiness: %v", err)
	}
	if !strings.HasPrefix(resolved.Edit, "http://localhost:51") || !strings.HasSuffix(resolved.Edit, "/admin/edit") {
		t.Fatalf("unexpected edit url %q", resolved.Edit)
	}
	if !strings.HasSuffix(resolved.Admin, "/admin") {
		t.Fatalf("unexpected admin url %q", resolved.Admin)
	}

	if err := l.Stop(dir, nil); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestServeLektorLongOutputLine(t *testing.T) {
	// A single output line past bufio's 64 KiB default must not break the
	// readiness scan.
	command := fakeEditor(t, strings.Join([]string{
		`awk 'BEGIN { for (i = 0; i < 100000; i++) printf "x"; print "" }'`,
		`echo "Finished prune in 0.1 sec"`,
		`sleep 60`,
	}, "\n"))

	l := NewLektor(Options{StartPort: 5220, EndPort: 5230, Command: command})
	dir := t.TempDir()

	future, err := l.ServeLektor(context.Background(), dir)
	if err != nil {
		t.Fatalf("serve: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := future.Wait(ctx); err != nil {
		t.Fatalf("wait for readiness after long line: %v", err)
	}

	if err := l.Stop(dir, nil); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestServeLektorOversizedLineStillStops(t *testing.T) {
	// Even when a line exceeds the enlarged buffer and aborts the scan,
	// the output keeps draining and Stop must not block.
	command := fakeEditor(t, strings.Join([]string{
		`awk 'BEGIN { for (i = 0; i < 2000000; i++) printf "x"; print "" }'`,
		`sleep 60`,
	}, "\n"))

	l := NewLektor(Options{StartPort: 5240, EndPort: 5250, Command: command})
	dir := t.TempDir()

	if _, err := l.ServeLektor(context.Background(), dir); err != nil {
		t.Fatalf("serve: %v", err)
	}

	stopped := make(chan error, 1)
	go func() { stopped <- l.Stop(dir, nil) }()
	select {
	case err := <-stopped:
		if err != nil {
			t.Fatalf("stop: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("stop blocked on oversized output line")
	}
}

func TestServeLektorEarlyExit(t *testing.T) {
	command := fakeEditor(t, `echo "boom"`+"\n"+`exit 3`)

	l := NewLektor(Options{StartPort: 5120, EndPort: 5130, Command: command})
	dir := t.TempDir()

	future, err := l.ServeLektor(context.Background(), dir)
	if err != nil {
		t.Fatalf("serve: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resolved, err := future.Wait(ctx)
	if !errors.Is(err, ErrEarlyExit) {
		t.Fatalf("expected early exit error, got %v", err)
	}
	if resolved.Edit != lazyurl.FailedPlaceholder {
		t.Fatalf("expected failure placeholder, got %q", resolved.Edit)
	}
}

func TestStopRunsFinalizerAfterExit(t *testing.T) {
	command := fakeEditor(t, `echo "Finished prune"`+"\n"+`sleep 60`)

	l := NewLektor(Options{StartPort: 5140, EndPort: 5150, Command: command})
	dir := t.TempDir()

	future, err := l.ServeLektor(context.Background(), dir)
	if err != nil {
		t.Fatalf("serve: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := future.Wait(ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}

	finalized := false
	if err := l.Stop(dir, func() { finalized = true }); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if !finalized {
		t.Fatal("expected finalizer to run")
	}

	// The port is released and the path can be served again.
	if _, err := l.ServeLektor(context.Background(), dir); err != nil {
		t.Fatalf("re-serve after stop: %v", err)
	}
	if err := l.Stop(dir, nil); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}

func TestServeTwiceRejected(t *testing.T) {
	command := fakeEditor(t, `sleep 60`)
	l := NewLektor(Options{StartPort: 5160, EndPort: 5170, Command: command})
	dir := t.TempDir()

	if _, err := l.ServeLektor(context.Background(), dir); err != nil {
		t.Fatalf("serve: %v", err)
	}
	defer l.Stop(dir, nil)

	if _, err := l.ServeLektor(context.Background(), dir); !errors.Is(err, ErrAlreadyServing) {
		t.Fatalf("expected ErrAlreadyServing, got %v", err)
	}
}

func TestStopUnknownPath(t *testing.T) {
	l := NewLektor(Options{StartPort: 5180, EndPort: 5190})
	if err := l.Stop(t.TempDir(), nil); !errors.Is(err, ErrNotServing) {
		t.Fatalf("expected ErrNotServing, got %v", err)
	}
}

func TestServeStatic(t *testing.T) {
	l := NewLektor(Options{StartPort: 5200, EndPort: 5210})
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>bow</h1>"), 0o644); err != nil {
		t.Fatalf("write index: %v", err)
	}

	future, err := l.ServeStatic(context.Background(), dir)
	if err != nil {
		t.Fatalf("serve static: %v", err)
	}
	resolved, state := future.Poll()
	if state != lazyurl.Ready {
		t.Fatalf("expected static future resolved immediately, got %v", state)
	}

	resp, err := http.Get(resolved.Preview)
	if err != nil {
		t.Fatalf("get %s: %v", resolved.Preview, err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	if err := l.Stop(dir, nil); err != nil {
		t.Fatalf("stop static: %v", err)
	}
}

func TestPortsUniqueWithinRange(t *testing.T) {
	p := newPorts(6000, 6004)
	seen := make(map[int]bool)
	for i := 0; i < 5; i++ {
		port, err := p.acquire()
		if err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
		if port < 6000 || port > 6004 {
			t.Fatalf("port %d out of range", port)
		}
		if seen[port] {
			t.Fatalf("port %d handed out twice", port)
		}
		seen[port] = true
	}
	if _, err := p.acquire(); !errors.Is(err, ErrNoFreePort) {
		t.Fatalf("expected exhaustion, got %v", err)
	}

	p.release(6002)
	port, err := p.acquire()
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	if port != 6002 {
		t.Fatalf("expected released port, got %d", port)
	}
}
