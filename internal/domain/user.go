package domain

import "time"

// User is a platform identity. Users are created lazily from an upstream
// identity session and are archived, never deleted.
type User struct {
	ID         int64
	Email      string
	Name       string
	AvatarURL  string
	ArchivedAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Archived reports whether the user has been soft-deleted.
func (u User) Archived() bool {
	return u.ArchivedAt != nil
}
