// Package site defines the value objects for sites and editing sessions.
package site

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/parkmill/sitekeeper/internal/lazyurl"
)

// ErrRestrictedAttribute indicates a caller supplied an attribute owned by
// the engine.
var ErrRestrictedAttribute = errors.New("restricted attribute")

// Restricted attributes are owned by the engine and rejected on
// construction.
var restrictedAttributes = []string{"sessions", "staging_url"}

// Site is a content project with a master working tree.
type Site struct {
	// ID is the short immutable site identifier.
	ID string

	Name  string
	Owner string
	Email string

	// URL is the configured production URL, if any.
	URL string
	// CloudFrontDomain is the provisioned distribution domain, if any.
	CloudFrontDomain string

	// Extra preserves unknown catalog keys round-trip.
	Extra map[string]any

	// Sessions maps session id to session. Owned by the engine.
	Sessions map[string]*Session

	// StagingURL is owned by the engine.
	StagingURL string

	// Production resolves the production URL when no URL is configured;
	// it is backed by a static server on the master tree.
	Production *lazyurl.Future
}

// New constructs a Site from catalog attributes. Attributes owned by the
// engine are rejected; unknown attributes are preserved in Extra.
func New(id string, attrs map[string]any) (*Site, error) {
	s := &Site{
		ID:       id,
		Extra:    make(map[string]any),
		Sessions: make(map[string]*Session),
	}

	for _, restricted := range restrictedAttributes {
		if _, ok := attrs[restricted]; ok {
			return nil, fmt.Errorf("%w: %q", ErrRestrictedAttribute, restricted)
		}
	}

	for key, value := range attrs {
		switch key {
		case "name":
			s.Name = stringValue(value)
		case "owner":
			s.Owner = stringValue(value)
		case "email":
			s.Email = stringValue(value)
		case "url":
			s.URL = stringValue(value)
		case "cloudfront_domain_name":
			s.CloudFrontDomain = stringValue(value)
		default:
			s.Extra[key] = value
		}
	}

	return s, nil
}

// ProductionURL returns the site's production URL, blocking until the
// backing static server reports its port when the URL is not configured.
// The resolved value is cached.
func (s *Site) ProductionURL(ctx context.Context) (string, error) {
	if s.URL != "" {
		return s.URL, nil
	}
	if s.CloudFrontDomain != "" {
		return "https://" + s.CloudFrontDomain, nil
	}
	if s.Production == nil {
		return "", nil
	}
	resolved, err := s.Production.Wait(ctx)
	if err != nil {
		return "", err
	}
	s.URL = resolved.Preview
	return s.URL, nil
}

// ActiveSession returns the single non-parked session, if any.
func (s *Site) ActiveSession() (*Session, bool) {
	for _, session := range s.Sessions {
		if !session.Parked() {
			return session, true
		}
	}
	return nil, false
}

// SessionIDs returns the site's session ids in sorted order.
func (s *Site) SessionIDs() []string {
	out := make([]string, 0, len(s.Sessions))
	for id := range s.Sessions {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func stringValue(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}
