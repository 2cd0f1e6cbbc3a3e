package domain

import "time"

// RefreshToken persists one link of the rotating refresh chain for a
// (user, app) pair. At most one active token exists per pair; issuing a new
// one archives the rest.
type RefreshToken struct {
	ID         int64
	Token      string
	UserID     int64
	AppID      int64
	Scope      string
	ExpiresAt  time.Time
	ArchivedAt *time.Time
	CreatedAt  time.Time
}

// Active reports whether the token can still be exchanged at the given time.
func (t RefreshToken) Active(now time.Time) bool {
	return t.ArchivedAt == nil && now.Before(t.ExpiresAt)
}

// Archived reports whether the token has been spent or revoked.
func (t RefreshToken) Archived() bool {
	return t.ArchivedAt != nil
}
