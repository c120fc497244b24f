package site

import (
	"time"

	"github.com/parkmill/sitekeeper/internal/lazyurl"
)

// Stored attribute names are translated to external view names through a
// bijective map; the facade layer consumes the external names.
var viewNames = map[string]string{
	"name":  "site_name",
	"owner": "custodian",
	"email": "custodian_email",
}

// ViewName translates a stored attribute name to its external name.
func ViewName(stored string) string {
	if external, ok := viewNames[stored]; ok {
		return external
	}
	return stored
}

// storedName translates an external view name back to the stored name.
func storedName(external string) string {
	for stored, name := range viewNames {
		if name == external {
			return stored
		}
	}
	return external
}

// View returns the read-only facade view of the site: stored fields mixed
// with computed ones, under external names. The production URL is polled,
// not waited on.
func (s *Site) View() map[string]any {
	view := map[string]any{
		"site_id":         s.ID,
		"site_name":       s.Name,
		"custodian":       s.Owner,
		"custodian_email": s.Email,
		"sessions":        s.SessionIDs(),
	}
	if s.StagingURL != "" {
		view["staging_url"] = s.StagingURL
	}
	if url := s.productionURLPolled(); url != "" {
		view["production_url"] = url
	}
	for key, value := range s.Extra {
		view[ViewName(key)] = value
	}
	return view
}

func (s *Site) productionURLPolled() string {
	if s.URL != "" {
		return s.URL
	}
	if s.CloudFrontDomain != "" {
		return "https://" + s.CloudFrontDomain
	}
	if s.Production == nil {
		return ""
	}
	resolved, state := s.Production.Poll()
	if state != lazyurl.Ready {
		return ""
	}
	s.URL = resolved.Preview
	return s.URL
}

// View returns the facade view of the session. Reading it polls the edit
// URL future and caches the resolution.
func (s *Session) View() map[string]any {
	view := map[string]any{
		"session_id":      s.ID,
		"creation_time":   s.CreationTime.Format(time.RFC3339),
		"custodian":       s.Custodian,
		"custodian_email": s.CustodianEmail,
		"view_url":        s.ViewURL,
		"parked":          s.Parked(),
	}
	if s.ParkedTime != nil {
		view["parked_time"] = s.ParkedTime.Format(time.RFC3339)
	}
	if !s.Parked() {
		if resolved, state := s.Resolve(); state != lazyurl.Pending {
			view["edit_url"] = resolved.Edit
		}
	}
	return view
}
