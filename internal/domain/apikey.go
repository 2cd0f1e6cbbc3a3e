package domain

import "time"

// APIKey is a static credential bound to a (user, app) pair. Only the keyed
// hash of the plaintext is stored; the plaintext is returned once at creation.
type APIKey struct {
	ID         int64
	KeyHash    string
	UserID     int64
	AppID      int64
	Scope      string
	LastUsedAt *time.Time
	ArchivedAt *time.Time
	CreatedAt  time.Time
}

// Archived reports whether the key has been revoked.
func (k APIKey) Archived() bool {
	return k.ArchivedAt != nil
}

// APIKeyUsage carries best-effort request metadata recorded on each use.
type APIKeyUsage struct {
	IP        string
	UserAgent string
	SeenAt    time.Time
}
