// Package session implements the editing-session lifecycle engine: the
// state machine coordinating the catalog, on-disk working copies, editor
// processes, and the release path.
package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/parkmill/sitekeeper/gitlab"
	"github.com/parkmill/sitekeeper/internal/ids"
	"github.com/parkmill/sitekeeper/server"
	"github.com/parkmill/sitekeeper/site"
	"github.com/parkmill/sitekeeper/storage"
)

// Options configures a Manager.
type Options struct {
	// SessionsRoot is where per-session working copies are created, laid
	// out as <SessionsRoot>/<siteID>/<sessionID>.
	SessionsRoot string
	// Provisioner provisions production hosting for new sites. Optional.
	Provisioner Provisioner
	// Logger defaults to log.Default().
	Logger *log.Logger

	// Now and GenerateID are seams for tests.
	Now        func() time.Time
	GenerateID func(used func(string) bool) string
}

// Manager owns the in-memory catalog and drives the session state machine.
// All mutations are serialized by a single lock; the catalog file is
// rewritten after every mutation.
type Manager struct {
	storage      storage.Storage
	server       server.Server
	catalog      *storage.Catalog
	sessionsRoot string
	provisioner  Provisioner
	logger       *log.Logger
	now          func() time.Time
	generateID   func(used func(string) bool) string

	// mu serializes all catalog mutations and reads; the engine has no
	// finer-grained locking.
	mu sync.Mutex
}

// Open loads the catalog from storage and creates a Manager.
func Open(st storage.Storage, srv server.Server, opts Options) (*Manager, error) {
	catalog, err := st.Config()
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	generateID := opts.GenerateID
	if generateID == nil {
		generateID = ids.GenerateUnused
	}
	sessionsRoot := opts.SessionsRoot
	if sessionsRoot == "" {
		sessionsRoot = st.SiteDir("")
	}

	return &Manager{
		storage:      st,
		server:       srv,
		catalog:      catalog,
		sessionsRoot: sessionsRoot,
		provisioner:  opts.Provisioner,
		logger:       logger,
		now:          now,
		generateID:   generateID,
	}, nil
}

// SessionDir returns the working-copy directory for a session.
func (m *Manager) SessionDir(siteID, sessionID string) string {
	return filepath.Join(m.sessionsRoot, siteID, sessionID)
}

// Sites returns all sites in catalog order.
func (m *Manager) Sites() []*site.Site {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.catalog.Sites()
}

// Sessions returns every session paired with its site, keyed by session id.
func (m *Manager) Sessions() map[string]SessionSite {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]SessionSite)
	for _, s := range m.catalog.Sites() {
		for id, session := range s.Sessions {
			out[id] = SessionSite{Session: session, Site: s}
		}
	}
	return out
}

// Parked returns the sessions with no edit URL, sorted by session id.
func (m *Manager) Parked() []SessionSite {
	return m.filterSessions(func(s *site.Session) bool { return s.Parked() })
}

// Active returns the sessions with an edit URL, sorted by session id.
func (m *Manager) Active() []SessionSite {
	return m.filterSessions(func(s *site.Session) bool { return !s.Parked() })
}

func (m *Manager) filterSessions(keep func(*site.Session) bool) []SessionSite {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []SessionSite
	for _, s := range m.catalog.Sites() {
		for _, session := range s.Sessions {
			if keep(session) {
				out = append(out, SessionSite{Session: session, Site: s})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Session.ID < out[j].Session.ID })
	return out
}

// Releasing lists open merge requests whose source branch carries the
// session release prefix.
func (m *Manager) Releasing(ctx context.Context) ([]gitlab.MergeRequest, error) {
	m.mu.Lock()
	siteIDs := m.catalog.SiteIDs()
	m.mu.Unlock()

	var out []gitlab.MergeRequest
	for _, siteID := range siteIDs {
		mrs, err := m.storage.MergeRequests(ctx, siteID)
		if err != nil {
			return nil, fmt.Errorf("merge requests for %q: %w", siteID, err)
		}
		for _, mr := range mrs {
			if strings.HasPrefix(mr.SourceBranch, storage.BranchPrefix) {
				out = append(out, mr)
			}
		}
	}
	return out, nil
}

// CreateSession clones the site's master tree into a fresh working copy,
// starts an editor on it, and records the new active session. At most one
// session per site may be active. A non-empty themes list replaces the
// working copy's project themes before the editor starts.
func (m *Manager) CreateSession(ctx context.Context, siteID string, custodian *Custodian, themes []string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.catalog.Get(siteID)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrSiteNotFound, siteID)
	}
	if _, active := s.ActiveSession(); active {
		return "", fmt.Errorf("%w: site %q", ErrDuplicateEditSession, siteID)
	}

	sessionID := m.generateID(m.catalog.SessionUsed)
	sessionDir := m.SessionDir(siteID, sessionID)

	if err := m.storage.CreateSession(siteID, sessionID, sessionDir, themes); err != nil {
		return "", err
	}

	future, err := m.server.ServeLektor(ctx, sessionDir)
	if err != nil {
		// Keep the tree-exists-iff-session-exists invariant.
		os.RemoveAll(sessionDir)
		return "", err
	}

	session := &site.Session{
		ID:           sessionID,
		CreationTime: m.now(),
		EditURL:      future,
	}
	if custodian != nil {
		session.Custodian = custodian.Name
		session.CustodianEmail = custodian.Email
	}
	s.Sessions[sessionID] = session

	if err := m.commit(); err != nil {
		return "", err
	}
	m.logger.Info("created session", "site", siteID, "session", sessionID)
	return sessionID, nil
}

// DestroySession stops the session's editor and removes its working copy.
// The directory is removed only after the process has exited.
func (m *Manager) DestroySession(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.destroy(sessionID)
}

func (m *Manager) destroy(sessionID string) error {
	session, s, ok := m.catalog.FindSession(sessionID)
	if !ok {
		return fmt.Errorf("%w: %q", ErrSessionNotFound, sessionID)
	}

	sessionDir := m.SessionDir(s.ID, sessionID)
	remove := func() {
		if err := os.RemoveAll(sessionDir); err != nil {
			m.logger.Error("remove session dir", "dir", sessionDir, "err", err)
		}
	}

	if session.Parked() {
		// No process holds the tree; remove it directly.
		remove()
	} else if err := m.server.Stop(sessionDir, remove); err != nil {
		return fmt.Errorf("stop editor for %q: %w", sessionID, err)
	}

	delete(s.Sessions, sessionID)
	if err := m.commit(); err != nil {
		return err
	}
	m.logger.Info("destroyed session", "site", s.ID, "session", sessionID)
	return nil
}

// ParkSession stops the session's editor while preserving its working copy.
func (m *Manager) ParkSession(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, s, ok := m.catalog.FindSession(sessionID)
	if !ok {
		return fmt.Errorf("%w: %q", ErrSessionNotFound, sessionID)
	}
	if session.Parked() {
		return fmt.Errorf("%w: %q is already parked", ErrInvalidSessionState, sessionID)
	}

	sessionDir := m.SessionDir(s.ID, sessionID)
	if err := m.server.Stop(sessionDir, nil); err != nil {
		return fmt.Errorf("stop editor for %q: %w", sessionID, err)
	}

	session.Park(m.now())
	if err := m.commit(); err != nil {
		return err
	}
	m.logger.Info("parked session", "site", s.ID, "session", sessionID)
	return nil
}

// UnparkSession resumes a parked session by starting a fresh editor on its
// preserved working copy.
func (m *Manager) UnparkSession(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, s, ok := m.catalog.FindSession(sessionID)
	if !ok {
		return fmt.Errorf("%w: %q", ErrSessionNotFound, sessionID)
	}
	if !session.Parked() {
		return fmt.Errorf("%w: %q is already active", ErrInvalidSessionState, sessionID)
	}
	if other, active := s.ActiveSession(); active {
		return fmt.Errorf("%w: site %q already serves %q", ErrDuplicateEditSession, s.ID, other.ID)
	}

	sessionDir := m.SessionDir(s.ID, sessionID)
	future, err := m.server.ServeLektor(ctx, sessionDir)
	if err != nil {
		return err
	}

	session.Unpark(future)
	if err := m.commit(); err != nil {
		return err
	}
	m.logger.Info("unparked session", "site", s.ID, "session", sessionID)
	return nil
}

// RequestRelease pushes the session working tree as a release branch with a
// merge request, then destroys the session.
func (m *Manager) RequestRelease(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, s, ok := m.catalog.FindSession(sessionID)
	if !ok {
		return fmt.Errorf("%w: %q", ErrSessionNotFound, sessionID)
	}
	if session.Parked() {
		return fmt.Errorf("%w: cannot release parked session %q", ErrInvalidSessionState, sessionID)
	}

	sessionDir := m.SessionDir(s.ID, sessionID)
	if err := m.storage.RequestRelease(ctx, s.ID, sessionID, sessionDir); err != nil {
		return err
	}

	return m.destroy(sessionID)
}

// CreateSite materializes a new site: master tree, catalog entry, and
// production hosting. Themes are recorded in the master tree's project
// file. Sites with a configured production URL skip provisioning.
func (m *Manager) CreateSite(ctx context.Context, siteID, name string, custodian *Custodian, themes []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, known := m.catalog.Get(siteID)
	if !known {
		attrs := map[string]any{"name": name}
		if custodian != nil {
			attrs["owner"] = custodian.Name
			attrs["email"] = custodian.Email
		}
		var err error
		s, err = site.New(siteID, attrs)
		if err != nil {
			return err
		}
	}

	owner, email := s.Owner, s.Email
	if custodian != nil {
		owner, email = custodian.Name, custodian.Email
	}
	if err := m.storage.CreateSite(ctx, siteID, name, owner, email, themes); err != nil {
		return err
	}

	if s.URL == "" {
		if m.provisioner != nil {
			domain, err := m.provisioner.Provision(ctx, siteID)
			if err != nil {
				return fmt.Errorf("provision production hosting for %q: %w", siteID, err)
			}
			s.CloudFrontDomain = domain
		} else {
			future, err := m.server.ServeStatic(ctx, m.storage.MasterDir(siteID))
			if err != nil {
				return err
			}
			s.Production = future
		}
	}

	m.catalog.Put(s)
	if err := m.commit(); err != nil {
		return err
	}
	m.logger.Info("created site", "site", siteID, "name", name)
	return nil
}

// commit rewrites the catalog file; callers hold the manager lock.
func (m *Manager) commit() error {
	if err := m.catalog.Save(); err != nil {
		return fmt.Errorf("commit catalog: %w", err)
	}
	return nil
}
