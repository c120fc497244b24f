// Package storage persists the site catalog and the on-disk site trees:
// the authoritative master tree per site, per-session working copies, and,
// when git-backed, the release path onto the backing repository.
package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/parkmill/sitekeeper/gitlab"
)

// DefaultBranch is the default branch of site repositories.
const DefaultBranch = "master"

// BranchPrefix prefixes release branch names; the full branch name is
// BranchPrefix + session id.
const BranchPrefix = "session-"

// MasterName is the directory holding a site's authoritative tree.
const MasterName = "master"

// Storage is the contract shared by the file and git backends.
type Storage interface {
	// Config loads the catalog, filling missing site names and urls from
	// each site's lektorproject file.
	Config() (*Catalog, error)

	// CreateSession copies the site's master tree to sessionDir. A
	// non-empty themes list replaces the working copy's project themes.
	CreateSession(siteID, sessionID, sessionDir string, themes []string) error

	// CreateSite materializes the site's master tree and, when backed by
	// a remote, the remote project. Themes are recorded in the master
	// tree's project file.
	CreateSite(ctx context.Context, siteID, name, owner, email string, themes []string) error

	// MergeRequests lists open merge requests for the site's repository.
	MergeRequests(ctx context.Context, siteID string) ([]gitlab.MergeRequest, error)

	// RequestRelease pushes the session working tree as a release branch
	// and opens a merge request against the default branch.
	RequestRelease(ctx context.Context, siteID, sessionID, sessionDir string) error

	// SiteDir returns the site's directory under the storage root.
	SiteDir(siteID string) string

	// MasterDir returns the site's master tree directory.
	MasterDir(siteID string) string
}

// ReleaseBranch returns the branch name for a session release.
func ReleaseBranch(sessionID string) string {
	return BranchPrefix + sessionID
}

// ReleaseTitle returns the merge request title for a session release.
func ReleaseTitle(sessionID string) string {
	return fmt.Sprintf("Automatically created merge request for session %s", sessionID)
}

// copyTree recursively copies src to dst, preserving file modes.
func copyTree(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		if info.IsDir() {
			return os.MkdirAll(target, info.Mode().Perm())
		}
		if info.Mode()&os.ModeSymlink != 0 {
			link, err := os.Readlink(path)
			if err != nil {
				return fmt.Errorf("read symlink %s: %w", path, err)
			}
			return os.Symlink(link, target)
		}
		return copyFile(path, target, info.Mode().Perm())
	})
}

func copyFile(src, dst string, perm os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}

	_, err = io.Copy(out, in)
	if err1 := out.Close(); err1 != nil && err == nil {
		err = err1
	}
	if err != nil {
		return fmt.Errorf("copy to %s: %w", dst, err)
	}
	return nil
}
