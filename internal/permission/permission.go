package permission

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/sachigoyal/echo-auth/internal/domain"
	"github.com/sachigoyal/echo-auth/internal/repository"
)

// Permission is the closed set of operations gated per role.
type Permission string

const (
	PermReadApp          Permission = "app:read"
	PermEditApp          Permission = "app:edit"
	PermDeleteApp        Permission = "app:delete"
	PermManageCustomers  Permission = "customers:manage"
	PermInviteCustomers  Permission = "customers:invite"
	PermCreateAPIKeys    Permission = "apikeys:create"
	PermManageOwnAPIKeys Permission = "apikeys:manage_own"
	PermManageAllAPIKeys Permission = "apikeys:manage_all"
	PermManageBilling    Permission = "billing:manage"
	PermViewAnalytics    Permission = "analytics:view"
	PermViewOwnUsage     Permission = "usage:view_own"
	PermUseAPI           Permission = "api:use"
)

// The sets are built by extension so the hierarchy stays monotonic: every
// customer permission is an admin permission, every admin permission an
// owner permission.
var (
	customerPermissions = []Permission{
		PermReadApp,
		PermCreateAPIKeys,
		PermManageOwnAPIKeys,
		PermViewOwnUsage,
		PermUseAPI,
	}
	adminPermissions = append(customerPermissions[:len(customerPermissions):len(customerPermissions)],
		PermEditApp,
		PermManageCustomers,
		PermInviteCustomers,
		PermManageAllAPIKeys,
		PermViewAnalytics,
	)
	ownerPermissions = append(adminPermissions[:len(adminPermissions):len(adminPermissions)],
		PermDeleteApp,
		PermManageBilling,
	)
)

var rolePermissions = map[domain.Role][]Permission{
	domain.RoleOwner:    ownerPermissions,
	domain.RoleAdmin:    adminPermissions,
	domain.RoleCustomer: customerPermissions,
	domain.RolePublic:   nil,
}

var roleRank = map[domain.Role]int{
	domain.RoleOwner:    3,
	domain.RoleAdmin:    2,
	domain.RoleCustomer: 1,
	domain.RolePublic:   0,
}

// Permissions returns the fixed permission set for a role.
func Permissions(role domain.Role) []Permission {
	return rolePermissions[role]
}

// RoleAtLeast reports whether role sits at or above min in the hierarchy
// owner > admin > customer > public.
func RoleAtLeast(role, min domain.Role) bool {
	return roleRank[role] >= roleRank[min]
}

// AppAccess tags an app with the role the resolved user holds on it.
type AppAccess struct {
	App  domain.App
	Role domain.Role
}

// Resolver converts a (user, app) pair into a role and permission set.
type Resolver struct {
	apps        repository.AppRepository
	memberships repository.MembershipRepository
}

// NewResolver wires the resolver over the app and membership stores.
func NewResolver(apps repository.AppRepository, memberships repository.MembershipRepository) *Resolver {
	return &Resolver{apps: apps, memberships: memberships}
}

// ResolveRole checks legacy direct app ownership first, then falls back to an
// active membership row. Absence of both is RolePublic.
func (r *Resolver) ResolveRole(ctx context.Context, userID, appID int64) (domain.Role, error) {
	app, err := r.apps.GetByID(ctx, appID)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return domain.RolePublic, fmt.Errorf("resolve role app lookup: %w", err)
		}
	} else if app.OwnerUserID == userID {
		return domain.RoleOwner, nil
	}

	membership, err := r.memberships.GetActive(ctx, userID, appID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.RolePublic, nil
		}
		return domain.RolePublic, fmt.Errorf("resolve role membership lookup: %w", err)
	}
	if !membership.Active() || !membership.Role.Member() {
		return domain.RolePublic, nil
	}
	return membership.Role, nil
}

// HasPermission reports whether the resolved role grants the permission.
func (r *Resolver) HasPermission(ctx context.Context, userID, appID int64, perm Permission) (bool, error) {
	role, err := r.ResolveRole(ctx, userID, appID)
	if err != nil {
		return false, err
	}
	for _, granted := range rolePermissions[role] {
		if granted == perm {
			return true, nil
		}
	}
	return false, nil
}

// AccessibleApps returns the union of directly owned apps and apps reached
// through active memberships, each tagged with the user's role. Ownership
// wins when both paths reach the same app. A non-nil filter narrows the
// result to a single role.
func (r *Resolver) AccessibleApps(ctx context.Context, userID int64, filter *domain.Role) ([]AppAccess, error) {
	owned, err := r.apps.ListOwnedBy(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("accessible apps owned: %w", err)
	}
	member, err := r.apps.ListMemberAppsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("accessible apps member: %w", err)
	}

	seen := make(map[int64]struct{}, len(owned)+len(member))
	result := make([]AppAccess, 0, len(owned)+len(member))
	for _, app := range owned {
		seen[app.ID] = struct{}{}
		result = append(result, AppAccess{App: app, Role: domain.RoleOwner})
	}
	for _, entry := range member {
		if _, dup := seen[entry.App.ID]; dup {
			continue
		}
		seen[entry.App.ID] = struct{}{}
		result = append(result, AppAccess{App: entry.App, Role: entry.Role})
	}

	if filter == nil {
		return result, nil
	}
	filtered := result[:0]
	for _, access := range result {
		if access.Role == *filter {
			filtered = append(filtered, access)
		}
	}
	return filtered, nil
}
