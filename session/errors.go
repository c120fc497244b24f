package session

import "errors"

var (
	// ErrSessionNotFound indicates a session-targeted operation named an
	// unknown session id.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSiteNotFound indicates an operation named an unknown site id.
	ErrSiteNotFound = errors.New("site not found")

	// ErrDuplicateEditSession indicates an operation would give a site two
	// active edit sessions.
	ErrDuplicateEditSession = errors.New("site already has an active edit session")

	// ErrInvalidSessionState indicates an operation is not valid for the
	// session's current state: park on parked, unpark on active, release
	// on parked.
	ErrInvalidSessionState = errors.New("invalid session state")
)
