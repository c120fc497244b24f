package site

import (
	"time"

	"github.com/parkmill/sitekeeper/internal/lazyurl"
)

// Session is a transient editable working copy of a site's master tree.
// A session with a nil EditURL is parked: its working tree is preserved on
// disk but no editor process is running.
type Session struct {
	// ID is unique across all sites.
	ID string

	CreationTime time.Time

	Custodian      string
	CustodianEmail string

	// ViewURL points at the session's preview.
	ViewURL string

	// EditURL resolves once the editor subprocess reports readiness.
	// Nil while parked.
	EditURL *lazyurl.Future

	// ParkedTime is set while the session is parked.
	ParkedTime *time.Time

	// Cached resolution, filled on first successful read.
	resolved *lazyurl.Resolution
}

// Parked reports whether the session has no edit URL.
func (s *Session) Parked() bool {
	return s.EditURL == nil
}

// Resolve polls the edit URL future. Once ready, all three URLs are cached
// on the session and later reads return the cached values.
func (s *Session) Resolve() (lazyurl.Resolution, lazyurl.State) {
	if s.resolved != nil {
		return *s.resolved, lazyurl.Ready
	}
	if s.EditURL == nil {
		return lazyurl.Resolution{}, lazyurl.Pending
	}
	value, state := s.EditURL.Poll()
	if state == lazyurl.Ready {
		cached := value
		s.resolved = &cached
		if s.ViewURL == "" {
			s.ViewURL = value.Preview
		}
	}
	return value, state
}

// Park clears the edit URL and records the parked time.
func (s *Session) Park(now time.Time) {
	s.EditURL = nil
	s.resolved = nil
	s.ParkedTime = &now
}

// Unpark installs a fresh edit URL future and clears the parked time.
func (s *Session) Unpark(editURL *lazyurl.Future) {
	s.EditURL = editURL
	s.resolved = nil
	s.ParkedTime = nil
}
