package domain

import "time"

// Role is the closed set of roles a user can hold on an app. RolePublic is
// the implicit role of a user with no membership and no ownership.
type Role string

const (
	RoleOwner    Role = "owner"
	RoleAdmin    Role = "admin"
	RoleCustomer Role = "customer"
	RolePublic   Role = "public"
)

// Member reports whether the role grants membership on the app.
func (r Role) Member() bool {
	switch r {
	case RoleOwner, RoleAdmin, RoleCustomer:
		return true
	}
	return false
}

// MembershipStatusActive is the only status under which a membership grants
// access.
const MembershipStatusActive = "active"

// Membership joins a user to an app with a role. Unique per (UserID, AppID).
type Membership struct {
	ID         int64
	UserID     int64
	AppID      int64
	Role       Role
	Status     string
	ArchivedAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Active reports whether the membership currently grants access.
func (m Membership) Active() bool {
	return m.ArchivedAt == nil && m.Status == MembershipStatusActive
}
