package session

import (
	"context"

	"github.com/parkmill/sitekeeper/site"
)

// Custodian identifies the operator responsible for a session or site.
type Custodian struct {
	Name  string
	Email string
}

// SessionSite pairs a session with the site it belongs to.
type SessionSite struct {
	Session *site.Session
	Site    *site.Site
}

// Provisioner provisions production hosting for a site and returns the
// public domain name.
type Provisioner interface {
	Provision(ctx context.Context, siteID string) (domain string, err error)
}
