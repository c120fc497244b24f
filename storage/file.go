package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/parkmill/sitekeeper/gitlab"
	"github.com/parkmill/sitekeeper/internal/lektorproject"
)

// ErrSiteExists indicates a site's master tree already exists on disk.
var ErrSiteExists = errors.New("site already exists")

// File is the local-only storage backend. It holds the catalog and site
// trees under a single root and has no remote; releases are a no-op.
type File struct {
	root string

	// bootstrap populates a fresh master tree. Overridable in tests.
	bootstrap func(masterDir, siteID, name, owner string, themes []string) error
}

// NewFile creates a file storage rooted at root.
func NewFile(root string) *File {
	f := &File{root: root}
	f.bootstrap = f.bootstrapSite
	return f
}

// Root returns the storage root.
func (f *File) Root() string {
	return f.root
}

// SiteDir returns the site's directory under the root.
func (f *File) SiteDir(siteID string) string {
	return filepath.Join(f.root, siteID)
}

// MasterDir returns the site's master tree directory.
func (f *File) MasterDir(siteID string) string {
	return filepath.Join(f.root, siteID, MasterName)
}

func (f *File) catalogPath() string {
	return filepath.Join(f.root, "config.yml")
}

// Config loads the catalog from <root>/config.yml. Sites missing a name or
// url are filled in from the master tree's lektorproject file.
func (f *File) Config() (*Catalog, error) {
	catalog, err := LoadCatalog(f.catalogPath())
	if err != nil {
		return nil, err
	}

	for _, s := range catalog.Sites() {
		if s.Name != "" && s.URL != "" {
			continue
		}
		project, err := lektorproject.Load(f.MasterDir(s.ID))
		if errors.Is(err, lektorproject.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("site %q: %w", s.ID, err)
		}
		if s.Name == "" {
			s.Name = project.Name
		}
		if s.URL == "" {
			s.URL = project.URL
		}
	}

	return catalog, nil
}

// CreateSession copies the site's master tree to sessionDir. A non-empty
// themes list replaces the working copy's project themes.
func (f *File) CreateSession(siteID, sessionID, sessionDir string, themes []string) error {
	master := f.MasterDir(siteID)
	if _, err := os.Stat(master); err != nil {
		return fmt.Errorf("master tree for %q: %w", siteID, err)
	}
	if err := os.MkdirAll(filepath.Dir(sessionDir), 0o755); err != nil {
		return fmt.Errorf("create sessions dir: %w", err)
	}
	if err := copyTree(master, sessionDir); err != nil {
		return fmt.Errorf("copy master tree for session %q: %w", sessionID, err)
	}
	if len(themes) > 0 {
		if err := lektorproject.SetThemes(sessionDir, themes); err != nil {
			return fmt.Errorf("set themes for session %q: %w", sessionID, err)
		}
	}
	return nil
}

// CreateSite bootstraps the site's master tree.
func (f *File) CreateSite(ctx context.Context, siteID, name, owner, email string, themes []string) error {
	master := f.MasterDir(siteID)
	if _, err := os.Stat(master); err == nil {
		return fmt.Errorf("%w: %q", ErrSiteExists, siteID)
	}
	if err := os.MkdirAll(master, 0o755); err != nil {
		return fmt.Errorf("create master dir: %w", err)
	}
	if err := f.bootstrap(master, siteID, name, owner, themes); err != nil {
		return fmt.Errorf("bootstrap site %q: %w", siteID, err)
	}
	return nil
}

// bootstrapSite writes the minimal editor project skeleton: the project
// file and a root content page.
func (f *File) bootstrapSite(masterDir, siteID, name, owner string, themes []string) error {
	if err := lektorproject.Write(masterDir, siteID, lektorproject.Project{Name: name, Themes: themes}); err != nil {
		return err
	}

	contentDir := filepath.Join(masterDir, "content")
	if err := os.MkdirAll(contentDir, 0o755); err != nil {
		return fmt.Errorf("create content dir: %w", err)
	}
	page := fmt.Sprintf("title: %s\n---\nbody: Welcome to %s!\n", name, name)
	if err := os.WriteFile(filepath.Join(contentDir, "contents.lr"), []byte(page), 0o644); err != nil {
		return fmt.Errorf("write root page: %w", err)
	}

	templatesDir := filepath.Join(masterDir, "templates")
	if err := os.MkdirAll(templatesDir, 0o755); err != nil {
		return fmt.Errorf("create templates dir: %w", err)
	}
	return nil
}

// MergeRequests returns no merge requests; file storage has no remote.
func (f *File) MergeRequests(ctx context.Context, siteID string) ([]gitlab.MergeRequest, error) {
	return nil, nil
}

// RequestRelease is a no-op; file storage has no remote to release to.
func (f *File) RequestRelease(ctx context.Context, siteID, sessionID, sessionDir string) error {
	return nil
}
