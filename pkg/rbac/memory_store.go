package rbac

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepository is an in-memory PermissionRepository for single-node
// deployments and tests. All maps are guarded by one mutex; cascades that
// the SQL schema performs with foreign keys are done by hand here.
type MemoryRepository struct {
	mu sync.RWMutex

	nextID int64

	permsByCode map[string]*Permission
	roles       map[int64]*Role
	rolePerms   map[int64]map[string]struct{} // roleID -> codes
	teams       map[int64]*Team
	userRoles   map[int64]map[int64]*UserRole          // userID -> roleID -> grant
	teamMembers map[int64]map[int64]*TeamMember        // teamID -> userID -> membership
	teamRoles   map[int64]map[int64]*TeamRole          // teamID -> roleID -> grant
	overrides   map[int64]map[int64]*UserPermissionOverride // userID -> permissionID -> override
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		permsByCode: make(map[string]*Permission),
		roles:       make(map[int64]*Role),
		rolePerms:   make(map[int64]map[string]struct{}),
		teams:       make(map[int64]*Team),
		userRoles:   make(map[int64]map[int64]*UserRole),
		teamMembers: make(map[int64]map[int64]*TeamMember),
		teamRoles:   make(map[int64]map[int64]*TeamRole),
		overrides:   make(map[int64]map[int64]*UserPermissionOverride),
	}
}

func (r *MemoryRepository) nextSequence() int64 {
	r.nextID++
	return r.nextID
}

// UpsertPermission inserts the permission or refreshes its category.
func (r *MemoryRepository) UpsertPermission(_ context.Context, perm *Permission) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.permsByCode[perm.Code]; ok {
		existing.Category = perm.Category
		perm.ID = existing.ID
		return nil
	}
	perm.ID = r.nextSequence()
	cp := *perm
	r.permsByCode[perm.Code] = &cp
	return nil
}

// GetPermissionByCode returns the permission row for code.
func (r *MemoryRepository) GetPermissionByCode(_ context.Context, code string) (*Permission, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.permsByCode[code]
	if !ok {
		return nil, &NotFoundError{Kind: "permission", Code: code}
	}
	cp := *p
	return &cp, nil
}

// ListPermissions returns all permissions sorted by code.
func (r *MemoryRepository) ListPermissions(_ context.Context) ([]Permission, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	perms := make([]Permission, 0, len(r.permsByCode))
	for _, p := range r.permsByCode {
		perms = append(perms, *p)
	}
	sort.Slice(perms, func(i, j int) bool { return perms[i].Code < perms[j].Code })
	return perms, nil
}

// CreateRole inserts the role and its permission links. Every code must
// already exist as a permission row.
func (r *MemoryRepository) CreateRole(_ context.Context, role *Role) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, code := range role.PermissionCodes {
		if _, ok := r.permsByCode[code]; !ok {
			return &NotFoundError{Kind: "permission", Code: code}
		}
	}

	now := time.Now()
	role.ID = r.nextSequence()
	role.CreatedAt = now
	role.UpdatedAt = now

	cp := *role
	r.roles[role.ID] = &cp
	links := make(map[string]struct{}, len(role.PermissionCodes))
	for _, code := range role.PermissionCodes {
		links[code] = struct{}{}
	}
	r.rolePerms[role.ID] = links
	return nil
}

func (r *MemoryRepository) roleSnapshot(roleID int64) (*Role, bool) {
	role, ok := r.roles[roleID]
	if !ok {
		return nil, false
	}
	cp := *role
	codes := make([]string, 0, len(r.rolePerms[roleID]))
	for code := range r.rolePerms[roleID] {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	cp.PermissionCodes = codes
	return &cp, true
}

// GetRole returns the role with its linked permission codes.
func (r *MemoryRepository) GetRole(_ context.Context, roleID int64) (*Role, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	role, ok := r.roleSnapshot(roleID)
	if !ok {
		return nil, &NotFoundError{Kind: "role", ID: roleID}
	}
	return role, nil
}

// GetRoleByName returns the named role scoped to tenantID, or the global
// role of that name when tenantID is nil.
func (r *MemoryRepository) GetRoleByName(_ context.Context, name string, tenantID *int64) (*Role, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for id, role := range r.roles {
		if role.Name != name {
			continue
		}
		if tenantID == nil && role.TenantID != nil {
			continue
		}
		if tenantID != nil && role.TenantID != nil && *role.TenantID != *tenantID {
			continue
		}
		snapshot, _ := r.roleSnapshot(id)
		return snapshot, nil
	}
	return nil, &NotFoundError{Kind: "role", Code: name}
}

// ListRoles lists global roles plus, when tenantID is set, that tenant's
// roles.
func (r *MemoryRepository) ListRoles(_ context.Context, tenantID *int64) ([]Role, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var roles []Role
	for id, role := range r.roles {
		if role.TenantID != nil && (tenantID == nil || *role.TenantID != *tenantID) {
			continue
		}
		snapshot, _ := r.roleSnapshot(id)
		roles = append(roles, *snapshot)
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i].ID < roles[j].ID })
	return roles, nil
}

// UpdateRole updates a role's name and description.
func (r *MemoryRepository) UpdateRole(_ context.Context, role *Role) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.roles[role.ID]
	if !ok {
		return &NotFoundError{Kind: "role", ID: role.ID}
	}
	existing.Name = role.Name
	existing.Description = role.Description
	existing.UpdatedAt = time.Now()
	role.UpdatedAt = existing.UpdatedAt
	return nil
}

// ReplaceRolePermissions atomically swaps the role's permission links.
func (r *MemoryRepository) ReplaceRolePermissions(_ context.Context, roleID int64, codes []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.roles[roleID]; !ok {
		return &NotFoundError{Kind: "role", ID: roleID}
	}
	for _, code := range codes {
		if _, ok := r.permsByCode[code]; !ok {
			return &NotFoundError{Kind: "permission", Code: code}
		}
	}

	links := make(map[string]struct{}, len(codes))
	for _, code := range codes {
		links[code] = struct{}{}
	}
	r.rolePerms[roleID] = links
	r.roles[roleID].UpdatedAt = time.Now()
	return nil
}

// DeleteRole removes the role and cascades its user, team and permission
// links.
func (r *MemoryRepository) DeleteRole(_ context.Context, roleID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.roles[roleID]; !ok {
		return &NotFoundError{Kind: "role", ID: roleID}
	}

	delete(r.roles, roleID)
	delete(r.rolePerms, roleID)
	for _, grants := range r.userRoles {
		delete(grants, roleID)
	}
	for _, grants := range r.teamRoles {
		delete(grants, roleID)
	}
	return nil
}

// AssignRoleToUser records a direct grant; assigning twice is a no-op.
func (r *MemoryRepository) AssignRoleToUser(_ context.Context, grant *UserRole) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.roles[grant.RoleID]; !ok {
		return &NotFoundError{Kind: "role", ID: grant.RoleID}
	}

	grants, ok := r.userRoles[grant.UserID]
	if !ok {
		grants = make(map[int64]*UserRole)
		r.userRoles[grant.UserID] = grants
	}
	if existing, ok := grants[grant.RoleID]; ok {
		*grant = *existing
		return nil
	}

	grant.ID = r.nextSequence()
	grant.AssignedAt = time.Now()
	cp := *grant
	grants[grant.RoleID] = &cp
	return nil
}

// RevokeRoleFromUser removes a direct grant; revoking an absent grant is a
// no-op.
func (r *MemoryRepository) RevokeRoleFromUser(_ context.Context, userID, roleID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.userRoles[userID], roleID)
	return nil
}

// ListUserRoleIDs returns the user's directly granted role IDs.
func (r *MemoryRepository) ListUserRoleIDs(_ context.Context, userID int64) ([]int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]int64, 0, len(r.userRoles[userID]))
	for roleID := range r.userRoles[userID] {
		ids = append(ids, roleID)
	}
	sortInt64s(ids)
	return ids, nil
}

// ListRoleUserIDs returns users holding roleID directly.
func (r *MemoryRepository) ListRoleUserIDs(_ context.Context, roleID int64) ([]int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids []int64
	for userID, grants := range r.userRoles {
		if _, ok := grants[roleID]; ok {
			ids = append(ids, userID)
		}
	}
	sortInt64s(ids)
	return ids, nil
}

// ReassignUserRoles repoints every direct grant of fromRoleID to toRoleID,
// collapsing duplicates for users who already hold the target role.
func (r *MemoryRepository) ReassignUserRoles(_ context.Context, fromRoleID, toRoleID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.roles[toRoleID]; !ok {
		return &NotFoundError{Kind: "role", ID: toRoleID}
	}

	for _, grants := range r.userRoles {
		grant, ok := grants[fromRoleID]
		if !ok {
			continue
		}
		delete(grants, fromRoleID)
		if _, ok := grants[toRoleID]; ok {
			continue
		}
		grant.RoleID = toRoleID
		grants[toRoleID] = grant
	}
	return nil
}

// CreateTeam inserts a team.
func (r *MemoryRepository) CreateTeam(_ context.Context, team *Team) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	team.ID = r.nextSequence()
	team.CreatedAt = now
	team.UpdatedAt = now
	cp := *team
	r.teams[team.ID] = &cp
	r.teamMembers[team.ID] = make(map[int64]*TeamMember)
	r.teamRoles[team.ID] = make(map[int64]*TeamRole)
	return nil
}

// GetTeam returns a team by ID.
func (r *MemoryRepository) GetTeam(_ context.Context, teamID int64) (*Team, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	team, ok := r.teams[teamID]
	if !ok {
		return nil, &NotFoundError{Kind: "team", ID: teamID}
	}
	cp := *team
	return &cp, nil
}

// ListTeams lists teams, optionally filtered by tenant.
func (r *MemoryRepository) ListTeams(_ context.Context, tenantID *int64) ([]Team, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var teams []Team
	for _, team := range r.teams {
		if tenantID != nil && team.TenantID != *tenantID {
			continue
		}
		teams = append(teams, *team)
	}
	sort.Slice(teams, func(i, j int) bool { return teams[i].ID < teams[j].ID })
	return teams, nil
}

// UpdateTeam updates a team's name and description.
func (r *MemoryRepository) UpdateTeam(_ context.Context, team *Team) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.teams[team.ID]
	if !ok {
		return &NotFoundError{Kind: "team", ID: team.ID}
	}
	existing.Name = team.Name
	existing.Description = team.Description
	existing.UpdatedAt = time.Now()
	team.UpdatedAt = existing.UpdatedAt
	return nil
}

// DeleteTeam removes the team and cascades membership and team grants.
func (r *MemoryRepository) DeleteTeam(_ context.Context, teamID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.teams[teamID]; !ok {
		return &NotFoundError{Kind: "team", ID: teamID}
	}
	delete(r.teams, teamID)
	delete(r.teamMembers, teamID)
	delete(r.teamRoles, teamID)
	return nil
}

// AddTeamMember adds a user to a team; adding twice is a no-op.
func (r *MemoryRepository) AddTeamMember(_ context.Context, teamID, userID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.teamMembers[teamID]
	if !ok {
		return &NotFoundError{Kind: "team", ID: teamID}
	}
	if _, ok := members[userID]; ok {
		return nil
	}
	members[userID] = &TeamMember{
		ID:      r.nextSequence(),
		TeamID:  teamID,
		UserID:  userID,
		AddedAt: time.Now(),
	}
	return nil
}

// RemoveTeamMember removes a user from a team; removing an absent member is
// a no-op.
func (r *MemoryRepository) RemoveTeamMember(_ context.Context, teamID, userID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.teamMembers[teamID], userID)
	return nil
}

// ListTeamMemberIDs returns the user IDs of a team's current members.
func (r *MemoryRepository) ListTeamMemberIDs(_ context.Context, teamID int64) ([]int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]int64, 0, len(r.teamMembers[teamID]))
	for userID := range r.teamMembers[teamID] {
		ids = append(ids, userID)
	}
	sortInt64s(ids)
	return ids, nil
}

// AssignRoleToTeam links a role to a team; linking twice is a no-op.
func (r *MemoryRepository) AssignRoleToTeam(_ context.Context, teamID, roleID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	grants, ok := r.teamRoles[teamID]
	if !ok {
		return &NotFoundError{Kind: "team", ID: teamID}
	}
	if _, ok := r.roles[roleID]; !ok {
		return &NotFoundError{Kind: "role", ID: roleID}
	}
	if _, ok := grants[roleID]; ok {
		return nil
	}
	grants[roleID] = &TeamRole{
		ID:        r.nextSequence(),
		TeamID:    teamID,
		RoleID:    roleID,
		GrantedAt: time.Now(),
	}
	return nil
}

// RemoveRoleFromTeam unlinks a role from a team.
func (r *MemoryRepository) RemoveRoleFromTeam(_ context.Context, teamID, roleID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.teamRoles[teamID], roleID)
	return nil
}

// ListTeamRoleIDs returns the role IDs linked to a team.
func (r *MemoryRepository) ListTeamRoleIDs(_ context.Context, teamID int64) ([]int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]int64, 0, len(r.teamRoles[teamID]))
	for roleID := range r.teamRoles[teamID] {
		ids = append(ids, roleID)
	}
	sortInt64s(ids)
	return ids, nil
}

// ListUserTeamRoleIDs returns every role ID the user inherits through team
// membership, deduplicated.
func (r *MemoryRepository) ListUserTeamRoleIDs(_ context.Context, userID int64) ([]int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[int64]struct{})
	for teamID, members := range r.teamMembers {
		if _, ok := members[userID]; !ok {
			continue
		}
		for roleID := range r.teamRoles[teamID] {
			seen[roleID] = struct{}{}
		}
	}
	ids := make([]int64, 0, len(seen))
	for roleID := range seen {
		ids = append(ids, roleID)
	}
	sortInt64s(ids)
	return ids, nil
}

// ListPermissionCodesForRoles returns the union of permission codes linked
// to any of the given roles.
func (r *MemoryRepository) ListPermissionCodesForRoles(_ context.Context, roleIDs []int64) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, roleID := range roleIDs {
		for code := range r.rolePerms[roleID] {
			seen[code] = struct{}{}
		}
	}
	codes := make([]string, 0, len(seen))
	for code := range seen {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes, nil
}

// ListUserOverrides returns the user's overrides with codes resolved.
func (r *MemoryRepository) ListUserOverrides(_ context.Context, userID int64) ([]UserPermissionOverride, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	overrides := make([]UserPermissionOverride, 0, len(r.overrides[userID]))
	for _, o := range r.overrides[userID] {
		overrides = append(overrides, *o)
	}
	sort.Slice(overrides, func(i, j int) bool {
		return overrides[i].PermissionCode < overrides[j].PermissionCode
	})
	return overrides, nil
}

// SetUserOverride upserts the (user, permission) override row.
func (r *MemoryRepository) SetUserOverride(_ context.Context, override *UserPermissionOverride) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	perm, ok := r.permsByCode[override.PermissionCode]
	if !ok {
		return &NotFoundError{Kind: "permission", Code: override.PermissionCode}
	}
	override.PermissionID = perm.ID

	rows, ok := r.overrides[override.UserID]
	if !ok {
		rows = make(map[int64]*UserPermissionOverride)
		r.overrides[override.UserID] = rows
	}
	if existing, ok := rows[perm.ID]; ok {
		existing.Allow = override.Allow
		existing.CreatedBy = override.CreatedBy
		*override = *existing
		return nil
	}

	override.ID = r.nextSequence()
	override.CreatedAt = time.Now()
	cp := *override
	rows[perm.ID] = &cp
	return nil
}

// RemoveUserOverride deletes the override for (user, code) if present.
func (r *MemoryRepository) RemoveUserOverride(_ context.Context, userID int64, code string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	perm, ok := r.permsByCode[code]
	if !ok {
		return nil
	}
	delete(r.overrides[userID], perm.ID)
	return nil
}

// ListUsersWithRole returns users holding roleID directly or via any team.
func (r *MemoryRepository) ListUsersWithRole(_ context.Context, roleID int64) ([]int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[int64]struct{})
	for userID, grants := range r.userRoles {
		if _, ok := grants[roleID]; ok {
			seen[userID] = struct{}{}
		}
	}
	for teamID, grants := range r.teamRoles {
		if _, ok := grants[roleID]; !ok {
			continue
		}
		for userID := range r.teamMembers[teamID] {
			seen[userID] = struct{}{}
		}
	}

	ids := make([]int64, 0, len(seen))
	for userID := range seen {
		ids = append(ids, userID)
	}
	sortInt64s(ids)
	return ids, nil
}

func sortInt64s(ids []int64) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
