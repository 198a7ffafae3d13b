package store

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// OpenFilter narrows a scan over open sessions.
type OpenFilter struct {
	// SourceLike holds LIKE patterns on the session source, OR-ed together.
	SourceLike []string
	// IdentityPrefix keeps only identities starting with the prefix (e.g. "PINCODE_").
	IdentityPrefix string
	// OpenedAfter drops sessions opened at or before this instant when non-zero.
	OpenedAfter time.Time
	// Oldest orders results by opening time ascending instead of descending.
	Oldest bool
}

// SessionState selects open or closed sessions in admin listings.
type SessionState string

const (
	StateOpen   SessionState = "open"
	StateClosed SessionState = "closed"
	StateAll    SessionState = ""
)

// SessionQuery is the filter used by the admin listings and reports.
type SessionQuery struct {
	State SessionState
	// Since keeps sessions still open or closed at or after this instant when non-zero.
	Since time.Time
	Limit int
}
