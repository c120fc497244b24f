package server

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/charmbracelet/log"

	"github.com/parkmill/sitekeeper/internal/lazyurl"
)

// readySignal is the stdout line prefix that marks the editor as serving.
const readySignal = "Finished prune"

// maxOutputLine bounds a single scanned line of editor output. Editors can
// dump whole templates on one line, far past bufio's default.
const maxOutputLine = 1024 * 1024

// Options configures a Lektor server.
type Options struct {
	// StartPort and EndPort bound the port range. Default [5000, 6000].
	StartPort int
	EndPort   int
	// Command overrides the editor command, defaulting to {"lektor"}.
	// The server appends "server -h 127.0.0.1 -p <port>".
	Command []string
	// Logger defaults to log.Default().
	Logger *log.Logger
}

// Lektor runs one editor subprocess per served working directory.
type Lektor struct {
	command []string
	ports   *ports
	logger  *log.Logger

	mu     sync.Mutex
	serves map[string]*serveTask
}

type serveTask struct {
	cancel context.CancelFunc
	done   chan struct{}
	port   int
	future *lazyurl.Future
}

// NewLektor creates a Lektor server.
func NewLektor(opts Options) *Lektor {
	start := opts.StartPort
	end := opts.EndPort
	if start == 0 {
		start = 5000
	}
	if end == 0 {
		end = 6000
	}
	command := opts.Command
	if len(command) == 0 {
		command = []string{"lektor"}
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Lektor{
		command: command,
		ports:   newPorts(start, end),
		logger:  logger,
		serves:  make(map[string]*serveTask),
	}
}

// ServeLektor spawns the editor for the working directory at path.
func (l *Lektor) ServeLektor(ctx context.Context, path string) (*lazyurl.Future, error) {
	return l.serve(path, l.startEditor)
}

// ServeStatic serves path as static files from an in-process listener.
func (l *Lektor) ServeStatic(ctx context.Context, path string) (*lazyurl.Future, error) {
	return l.serve(path, l.startStatic)
}

type starter func(ctx context.Context, path string, port int, task *serveTask) error

func (l *Lektor) serve(path string, start starter) (*lazyurl.Future, error) {
	l.mu.Lock()
	if _, ok := l.serves[path]; ok {
		l.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrAlreadyServing, path)
	}

	port, err := l.ports.acquire()
	if err != nil {
		l.mu.Unlock()
		return nil, err
	}

	// The serve task outlives the request that created it; its lifetime
	// is bounded by Stop, not by the caller's context.
	taskCtx, cancel := context.WithCancel(context.Background())
	task := &serveTask{
		cancel: cancel,
		done:   make(chan struct{}),
		port:   port,
		future: lazyurl.New(),
	}
	l.serves[path] = task
	l.mu.Unlock()

	if err := start(taskCtx, path, port, task); err != nil {
		cancel()
		l.ports.release(port)
		l.mu.Lock()
		delete(l.serves, path)
		l.mu.Unlock()
		return nil, err
	}

	return task.future, nil
}

// startEditor spawns the editor subprocess and supervises its combined
// output for the readiness signal.
func (l *Lektor) startEditor(ctx context.Context, path string, port int, task *serveTask) error {
	args := append(l.command[1:], "server", "-h", "127.0.0.1", "-p", strconv.Itoa(port))
	cmd := exec.CommandContext(ctx, l.command[0], args...)
	cmd.Dir = path
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}

	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		pw.Close()
		pr.Close()
		return fmt.Errorf("start editor for %s: %w", path, err)
	}

	l.logger.Info("editor starting", "path", path, "port", port, "pid", cmd.Process.Pid)

	waitErr := make(chan error, 1)
	go func() {
		err := cmd.Wait()
		pw.Close()
		waitErr <- err
	}()

	go func() {
		defer close(task.done)
		defer l.ports.release(port)

		scanner := bufio.NewScanner(pr)
		scanner.Buffer(make([]byte, 0, 64*1024), maxOutputLine)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, readySignal) {
				l.logger.Info("editor ready", "path", path, "port", port)
				task.future.Resolve(lazyurl.Resolution{
					Edit:    baseURL(port) + "admin/edit",
					Preview: baseURL(port),
					Admin:   baseURL(port) + "admin",
				})
			}
		}
		if err := scanner.Err(); err != nil {
			// Keep draining so the process never blocks on a full pipe.
			l.logger.Error("read editor output", "path", path, "err", err)
			io.Copy(io.Discard, pr)
		}

		// Output ended: the process exited or was stopped.
		err := <-waitErr
		if _, state := task.future.Poll(); state == lazyurl.Pending {
			if err != nil {
				task.future.Fail(fmt.Errorf("%w: %v", ErrEarlyExit, err))
			} else {
				task.future.Fail(ErrEarlyExit)
			}
			l.logger.Error("editor exited before readiness", "path", path, "err", err)
			return
		}
		l.logger.Info("editor stopped", "path", path, "port", port)
	}()

	return nil
}

// startStatic binds an in-process file server; the future resolves as soon
// as the listener is up.
func (l *Lektor) startStatic(ctx context.Context, path string, port int, task *serveTask) error {
	listener, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		return fmt.Errorf("listen for static server on %d: %w", port, err)
	}

	httpServer := &http.Server{Handler: http.FileServer(http.Dir(path))}
	go func() {
		defer close(task.done)
		defer l.ports.release(port)
		_ = httpServer.Serve(listener)
	}()
	go func() {
		<-ctx.Done()
		_ = httpServer.Close()
	}()

	l.logger.Info("static server ready", "path", path, "port", port)
	url := baseURL(port)
	task.future.Resolve(lazyurl.Resolution{Edit: url, Preview: url, Admin: url})
	return nil
}

// Stop cancels the serve for path, waits for the underlying process to
// exit, and then runs the finalizer.
func (l *Lektor) Stop(path string, finalizer func()) error {
	l.mu.Lock()
	task, ok := l.serves[path]
	if !ok {
		l.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotServing, path)
	}
	delete(l.serves, path)
	l.mu.Unlock()

	task.cancel()
	<-task.done

	// A start still pending at stop reports failure on the next poll.
	task.future.Fail(ErrEarlyExit)

	if finalizer != nil {
		finalizer()
	}
	return nil
}
