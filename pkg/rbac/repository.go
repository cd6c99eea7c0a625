package rbac

import (
	"context"
)

// PermissionRepository is the typed persistence boundary of the engine.
// The resolver and the administration service depend only on this
// interface; MemoryRepository and SQLRepository are the two concrete
// implementations.
//
// Read methods used by the resolver (ListUserRoleIDs, ListUserTeamRoleIDs,
// ListPermissionCodesForRoles, ListUserOverrides) must each be individually
// consistent, but the resolver does not wrap them in one transaction; a
// concurrent mutation between calls can produce a torn read that the cache
// TTL bounds.
type PermissionRepository interface {
	// Permission vocabulary rows.
	UpsertPermission(ctx context.Context, perm *Permission) error
	GetPermissionByCode(ctx context.Context, code string) (*Permission, error)
	ListPermissions(ctx context.Context) ([]Permission, error)

	// Roles and their permission links.
	CreateRole(ctx context.Context, role *Role) error
	GetRole(ctx context.Context, roleID int64) (*Role, error)
	GetRoleByName(ctx context.Context, name string, tenantID *int64) (*Role, error)
	ListRoles(ctx context.Context, tenantID *int64) ([]Role, error)
	UpdateRole(ctx context.Context, role *Role) error
	ReplaceRolePermissions(ctx context.Context, roleID int64, codes []string) error
	DeleteRole(ctx context.Context, roleID int64) error

	// Direct user grants.
	AssignRoleToUser(ctx context.Context, grant *UserRole) error
	RevokeRoleFromUser(ctx context.Context, userID, roleID int64) error
	ListUserRoleIDs(ctx context.Context, userID int64) ([]int64, error)
	ListRoleUserIDs(ctx context.Context, roleID int64) ([]int64, error)
	ReassignUserRoles(ctx context.Context, fromRoleID, toRoleID int64) error

	// Teams, membership and team grants.
	CreateTeam(ctx context.Context, team *Team) error
	GetTeam(ctx context.Context, teamID int64) (*Team, error)
	ListTeams(ctx context.Context, tenantID *int64) ([]Team, error)
	UpdateTeam(ctx context.Context, team *Team) error
	DeleteTeam(ctx context.Context, teamID int64) error
	AddTeamMember(ctx context.Context, teamID, userID int64) error
	RemoveTeamMember(ctx context.Context, teamID, userID int64) error
	ListTeamMemberIDs(ctx context.Context, teamID int64) ([]int64, error)
	AssignRoleToTeam(ctx context.Context, teamID, roleID int64) error
	RemoveRoleFromTeam(ctx context.Context, teamID, roleID int64) error
	ListTeamRoleIDs(ctx context.Context, teamID int64) ([]int64, error)
	ListUserTeamRoleIDs(ctx context.Context, userID int64) ([]int64, error)

	// Effective-set inputs.
	ListPermissionCodesForRoles(ctx context.Context, roleIDs []int64) ([]string, error)
	ListUserOverrides(ctx context.Context, userID int64) ([]UserPermissionOverride, error)

	// Overrides.
	SetUserOverride(ctx context.Context, override *UserPermissionOverride) error
	RemoveUserOverride(ctx context.Context, userID int64, code string) error

	// ListUsersWithRole returns every user holding roleID directly or via
	// any team, deduplicated. The administration service uses it to compute
	// invalidation fan-out for role mutations.
	ListUsersWithRole(ctx context.Context, roleID int64) ([]int64, error)
}
