package storage

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/parkmill/sitekeeper/gitlab"
)

// ErrNoRemote indicates a site's master tree has no origin remote.
var ErrNoRemote = errors.New("site has no remote")

// Git is the git-backed storage backend. It shares the on-disk layout with
// File and additionally keeps each master tree as a git clone of a remote
// project, releasing sessions as branches with merge requests.
type Git struct {
	*File

	client *gitlab.Client
	logger *log.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// GitOptions configures a Git storage.
type GitOptions struct {
	Root   string
	Client *gitlab.Client
	Logger *log.Logger
}

// NewGit creates a git storage.
func NewGit(opts GitOptions) *Git {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Git{
		File:   NewFile(opts.Root),
		client: opts.Client,
		logger: logger,
		locks:  make(map[string]*sync.Mutex),
	}
}

// siteLock returns the in-process lock serializing git operations on the
// site's trees.
func (g *Git) siteLock(siteID string) *sync.Mutex {
	g.mu.Lock()
	defer g.mu.Unlock()
	lock, ok := g.locks[siteID]
	if !ok {
		lock = &sync.Mutex{}
		g.locks[siteID] = lock
	}
	return lock
}

// CreateSite creates the remote project, bootstraps the master tree, and
// pushes the initial content on the default branch.
func (g *Git) CreateSite(ctx context.Context, siteID, name, owner, email string, themes []string) error {
	lock := g.siteLock(siteID)
	lock.Lock()
	defer lock.Unlock()

	remoteURL, err := g.client.InitProject(ctx, siteID, DefaultBranch)
	if err != nil {
		return err
	}

	if err := g.File.CreateSite(ctx, siteID, name, owner, email, themes); err != nil {
		return err
	}

	master := g.MasterDir(siteID)
	steps := [][]string{
		{"init", "-b", DefaultBranch},
		{"remote", "add", "origin", remoteURL},
		{"pull", "origin", DefaultBranch},
		{"add", "-A"},
		{"commit", "-m", fmt.Sprintf("Bootstrap site %s", siteID)},
		{"push", "origin", DefaultBranch},
	}
	for _, args := range steps {
		if err := runGit(ctx, master, args...); err != nil {
			return err
		}
	}

	g.logger.Info("created site repository", "site", siteID, "remote", remoteURL)
	return nil
}

// MergeRequests lists the open merge requests of the site's project.
func (g *Git) MergeRequests(ctx context.Context, siteID string) ([]gitlab.MergeRequest, error) {
	projectID, exists, err := g.client.ProjectID(ctx, g.client.Namespace()+"/"+siteID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}
	return g.client.MergeRequests(ctx, projectID)
}

// RequestRelease commits the session working tree on a release branch,
// pushes it, and opens a merge request against the default branch.
func (g *Git) RequestRelease(ctx context.Context, siteID, sessionID, sessionDir string) error {
	lock := g.siteLock(siteID)
	lock.Lock()
	defer lock.Unlock()

	branch := ReleaseBranch(sessionID)

	if err := runGit(ctx, sessionDir, "checkout", "-B", branch); err != nil {
		return err
	}
	if err := runGit(ctx, sessionDir, "add", "-A"); err != nil {
		return err
	}
	// An empty commit still materializes the branch for review.
	if err := runGit(ctx, sessionDir, "commit", "--allow-empty", "-m", ReleaseTitle(sessionID)); err != nil {
		return err
	}
	if err := runGit(ctx, sessionDir, "push", "-f", "origin", branch); err != nil {
		return err
	}

	projectID, exists, err := g.client.ProjectID(ctx, g.client.Namespace()+"/"+siteID)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %q", ErrNoRemote, siteID)
	}

	mr, err := g.client.CreateMergeRequest(ctx, projectID, branch, DefaultBranch, ReleaseTitle(sessionID))
	if err != nil {
		return err
	}

	g.logger.Info("opened merge request",
		"site", siteID, "session", sessionID, "branch", branch, "url", mr.WebURL)
	return nil
}

// runGit executes git with the given arguments in dir, folding stderr into
// the returned error.
func runGit(ctx context.Context, dir string, args ...string) error {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("git %s: %w: %s", args[0], err, output)
	}
	return nil
}
