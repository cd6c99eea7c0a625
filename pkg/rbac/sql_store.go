package rbac

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// SQLRepository is the relational PermissionRepository. It speaks plain
// database/sql with $N placeholders and runs against PostgreSQL in
// production and SQLite in unit tests.
type SQLRepository struct {
	db *sql.DB
}

// NewSQLRepository creates a repository on top of an open database handle.
func NewSQLRepository(db *sql.DB) *SQLRepository {
	return &SQLRepository{db: db}
}

// UpsertPermission inserts the permission or refreshes its category.
func (r *SQLRepository) UpsertPermission(ctx context.Context, perm *Permission) error {
	query := `
		INSERT INTO permissions (code, category)
		VALUES ($1, $2)
		ON CONFLICT (code) DO UPDATE SET category = EXCLUDED.category
		RETURNING id
	`
	if err := r.db.QueryRowContext(ctx, query, perm.Code, perm.Category).Scan(&perm.ID); err != nil {
		return wrapStorage("upsert permission", err)
	}
	return nil
}

// GetPermissionByCode returns the permission row for code.
func (r *SQLRepository) GetPermissionByCode(ctx context.Context, code string) (*Permission, error) {
	var perm Permission
	err := r.db.QueryRowContext(ctx,
		`SELECT id, code, category FROM permissions WHERE code = $1`, code,
	).Scan(&perm.ID, &perm.Code, &perm.Category)
	if err == sql.ErrNoRows {
		return nil, &NotFoundError{Kind: "permission", Code: code}
	}
	if err != nil {
		return nil, wrapStorage("get permission", err)
	}
	return &perm, nil
}

// ListPermissions returns all permissions sorted by code.
func (r *SQLRepository) ListPermissions(ctx context.Context) ([]Permission, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, code, category FROM permissions ORDER BY code ASC`)
	if err != nil {
		return nil, wrapStorage("list permissions", err)
	}
	defer rows.Close()

	var perms []Permission
	for rows.Next() {
		var perm Permission
		if err := rows.Scan(&perm.ID, &perm.Code, &perm.Category); err != nil {
			return nil, wrapStorage("scan permission", err)
		}
		perms = append(perms, perm)
	}
	return perms, wrapStorage("list permissions", rows.Err())
}

// CreateRole inserts the role and its permission links in one transaction.
func (r *SQLRepository) CreateRole(ctx context.Context, role *Role) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapStorage("create role", err)
	}
	defer tx.Rollback()

	now := time.Now()
	err = tx.QueryRowContext(ctx, `
		INSERT INTO roles (tenant_id, name, description, is_system_default, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, role.TenantID, role.Name, role.Description, role.IsSystemDefault, now, now).Scan(&role.ID)
	if err != nil {
		return wrapStorage("create role", err)
	}

	if err := linkRolePermissions(ctx, tx, role.ID, role.PermissionCodes); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return wrapStorage("create role", err)
	}

	role.CreatedAt = now
	role.UpdatedAt = now
	return nil
}

// linkRolePermissions inserts role_permissions rows resolving each code to
// its permission ID. A code with no permission row fails the transaction.
func linkRolePermissions(ctx context.Context, tx *sql.Tx, roleID int64, codes []string) error {
	for _, code := range codes {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO role_permissions (role_id, permission_id)
			SELECT $1, id FROM permissions WHERE code = $2
		`, roleID, code)
		if err != nil {
			return wrapStorage("link role permission", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return wrapStorage("link role permission", err)
		}
		if affected == 0 {
			return &NotFoundError{Kind: "permission", Code: code}
		}
	}
	return nil
}

// GetRole returns the role with its linked permission codes.
func (r *SQLRepository) GetRole(ctx context.Context, roleID int64) (*Role, error) {
	var role Role
	var tenantID sql.NullInt64
	err := r.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, name, description, is_system_default, created_at, updated_at
		FROM roles WHERE id = $1
	`, roleID).Scan(&role.ID, &tenantID, &role.Name, &role.Description,
		&role.IsSystemDefault, &role.CreatedAt, &role.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, &NotFoundError{Kind: "role", ID: roleID}
	}
	if err != nil {
		return nil, wrapStorage("get role", err)
	}
	if tenantID.Valid {
		id := tenantID.Int64
		role.TenantID = &id
	}

	codes, err := r.rolePermissionCodes(ctx, role.ID)
	if err != nil {
		return nil, err
	}
	role.PermissionCodes = codes
	return &role, nil
}

func (r *SQLRepository) rolePermissionCodes(ctx context.Context, roleID int64) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT p.code
		FROM role_permissions rp
		JOIN permissions p ON p.id = rp.permission_id
		WHERE rp.role_id = $1
		ORDER BY p.code ASC
	`, roleID)
	if err != nil {
		return nil, wrapStorage("get role permissions", err)
	}
	defer rows.Close()

	codes := []string{}
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, wrapStorage("scan role permission", err)
		}
		codes = append(codes, code)
	}
	return codes, wrapStorage("get role permissions", rows.Err())
}

// GetRoleByName returns the named role scoped to tenantID. A nil tenantID
// matches only global roles.
func (r *SQLRepository) GetRoleByName(ctx context.Context, name string, tenantID *int64) (*Role, error) {
	var roleID int64
	var err error
	if tenantID == nil {
		err = r.db.QueryRowContext(ctx,
			`SELECT id FROM roles WHERE name = $1 AND tenant_id IS NULL`, name,
		).Scan(&roleID)
	} else {
		err = r.db.QueryRowContext(ctx,
			`SELECT id FROM roles WHERE name = $1 AND tenant_id = $2`, name, *tenantID,
		).Scan(&roleID)
	}
	if err == sql.ErrNoRows {
		return nil, &NotFoundError{Kind: "role", Code: name}
	}
	if err != nil {
		return nil, wrapStorage("get role by name", err)
	}
	return r.GetRole(ctx, roleID)
}

// ListRoles lists global roles plus, when tenantID is set, that tenant's
// roles.
func (r *SQLRepository) ListRoles(ctx context.Context, tenantID *int64) ([]Role, error) {
	var rows *sql.Rows
	var err error
	if tenantID == nil {
		rows, err = r.db.QueryContext(ctx, `
			SELECT id, tenant_id, name, description, is_system_default, created_at, updated_at
			FROM roles WHERE tenant_id IS NULL ORDER BY id ASC
		`)
	} else {
		rows, err = r.db.QueryContext(ctx, `
			SELECT id, tenant_id, name, description, is_system_default, created_at, updated_at
			FROM roles WHERE tenant_id IS NULL OR tenant_id = $1 ORDER BY id ASC
		`, *tenantID)
	}
	if err != nil {
		return nil, wrapStorage("list roles", err)
	}
	defer rows.Close()

	var roles []Role
	for rows.Next() {
		var role Role
		var tid sql.NullInt64
		if err := rows.Scan(&role.ID, &tid, &role.Name, &role.Description,
			&role.IsSystemDefault, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, wrapStorage("scan role", err)
		}
		if tid.Valid {
			id := tid.Int64
			role.TenantID = &id
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStorage("list roles", err)
	}

	for i := range roles {
		codes, err := r.rolePermissionCodes(ctx, roles[i].ID)
		if err != nil {
			return nil, err
		}
		roles[i].PermissionCodes = codes
	}
	return roles, nil
}

// UpdateRole updates a role's name and description.
func (r *SQLRepository) UpdateRole(ctx context.Context, role *Role) error {
	role.UpdatedAt = time.Now()
	res, err := r.db.ExecContext(ctx, `
		UPDATE roles SET name = $1, description = $2, updated_at = $3 WHERE id = $4
	`, role.Name, role.Description, role.UpdatedAt, role.ID)
	if err != nil {
		return wrapStorage("update role", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return wrapStorage("update role", err)
	}
	if affected == 0 {
		return &NotFoundError{Kind: "role", ID: role.ID}
	}
	return nil
}

// ReplaceRolePermissions swaps the role's permission links atomically
// (delete-all-then-reinsert inside one transaction).
func (r *SQLRepository) ReplaceRolePermissions(ctx context.Context, roleID int64, codes []string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapStorage("replace role permissions", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM role_permissions WHERE role_id = $1`, roleID); err != nil {
		return wrapStorage("replace role permissions", err)
	}
	if err := linkRolePermissions(ctx, tx, roleID, codes); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE roles SET updated_at = $1 WHERE id = $2`, time.Now(), roleID); err != nil {
		return wrapStorage("replace role permissions", err)
	}
	return wrapStorage("replace role permissions", tx.Commit())
}

// DeleteRole removes the role; user, team and permission links cascade.
func (r *SQLRepository) DeleteRole(ctx context.Context, roleID int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM roles WHERE id = $1`, roleID)
	if err != nil {
		return wrapStorage("delete role", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return wrapStorage("delete role", err)
	}
	if affected == 0 {
		return &NotFoundError{Kind: "role", ID: roleID}
	}
	return nil
}

// AssignRoleToUser records a direct grant; assigning twice is a no-op.
func (r *SQLRepository) AssignRoleToUser(ctx context.Context, grant *UserRole) error {
	grant.AssignedAt = time.Now()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO user_roles (user_id, role_id, assigned_by, assigned_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, role_id) DO NOTHING
	`, grant.UserID, grant.RoleID, grant.AssignedBy, grant.AssignedAt)
	return wrapStorage("assign role to user", err)
}

// RevokeRoleFromUser removes a direct grant; revoking an absent grant is a
// no-op.
func (r *SQLRepository) RevokeRoleFromUser(ctx context.Context, userID, roleID int64) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM user_roles WHERE user_id = $1 AND role_id = $2`, userID, roleID)
	return wrapStorage("revoke role from user", err)
}

// ListUserRoleIDs returns the user's directly granted role IDs.
func (r *SQLRepository) ListUserRoleIDs(ctx context.Context, userID int64) ([]int64, error) {
	return r.listIDs(ctx, "list user roles",
		`SELECT role_id FROM user_roles WHERE user_id = $1 ORDER BY role_id ASC`, userID)
}

// ListRoleUserIDs returns users holding roleID directly.
func (r *SQLRepository) ListRoleUserIDs(ctx context.Context, roleID int64) ([]int64, error) {
	return r.listIDs(ctx, "list role users",
		`SELECT user_id FROM user_roles WHERE role_id = $1 ORDER BY user_id ASC`, roleID)
}

// ReassignUserRoles repoints every direct grant of fromRoleID to toRoleID,
// dropping grants for users who already hold the target role.
func (r *SQLRepository) ReassignUserRoles(ctx context.Context, fromRoleID, toRoleID int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapStorage("reassign user roles", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		DELETE FROM user_roles
		WHERE role_id = $1
		  AND user_id IN (SELECT user_id FROM user_roles WHERE role_id = $2)
	`, fromRoleID, toRoleID)
	if err != nil {
		return wrapStorage("reassign user roles", err)
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE user_roles SET role_id = $1 WHERE role_id = $2`, toRoleID, fromRoleID)
	if err != nil {
		return wrapStorage("reassign user roles", err)
	}
	return wrapStorage("reassign user roles", tx.Commit())
}

// CreateTeam inserts a team.
func (r *SQLRepository) CreateTeam(ctx context.Context, team *Team) error {
	now := time.Now()
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO teams (tenant_id, name, description, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, team.TenantID, team.Name, team.Description, now, now).Scan(&team.ID)
	if err != nil {
		return wrapStorage("create team", err)
	}
	team.CreatedAt = now
	team.UpdatedAt = now
	return nil
}

// GetTeam returns a team by ID.
func (r *SQLRepository) GetTeam(ctx context.Context, teamID int64) (*Team, error) {
	var team Team
	err := r.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, name, description, created_at, updated_at
		FROM teams WHERE id = $1
	`, teamID).Scan(&team.ID, &team.TenantID, &team.Name, &team.Description,
		&team.CreatedAt, &team.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, &NotFoundError{Kind: "team", ID: teamID}
	}
	if err != nil {
		return nil, wrapStorage("get team", err)
	}
	return &team, nil
}

// ListTeams lists teams, optionally filtered by tenant.
func (r *SQLRepository) ListTeams(ctx context.Context, tenantID *int64) ([]Team, error) {
	var rows *sql.Rows
	var err error
	if tenantID == nil {
		rows, err = r.db.QueryContext(ctx, `
			SELECT id, tenant_id, name, description, created_at, updated_at
			FROM teams ORDER BY id ASC
		`)
	} else {
		rows, err = r.db.QueryContext(ctx, `
			SELECT id, tenant_id, name, description, created_at, updated_at
			FROM teams WHERE tenant_id = $1 ORDER BY id ASC
		`, *tenantID)
	}
	if err != nil {
		return nil, wrapStorage("list teams", err)
	}
	defer rows.Close()

	var teams []Team
	for rows.Next() {
		var team Team
		if err := rows.Scan(&team.ID, &team.TenantID, &team.Name, &team.Description,
			&team.CreatedAt, &team.UpdatedAt); err != nil {
			return nil, wrapStorage("scan team", err)
		}
		teams = append(teams, team)
	}
	return teams, wrapStorage("list teams", rows.Err())
}

// UpdateTeam updates a team's name and description.
func (r *SQLRepository) UpdateTeam(ctx context.Context, team *Team) error {
	team.UpdatedAt = time.Now()
	res, err := r.db.ExecContext(ctx, `
		UPDATE teams SET name = $1, description = $2, updated_at = $3 WHERE id = $4
	`, team.Name, team.Description, team.UpdatedAt, team.ID)
	if err != nil {
		return wrapStorage("update team", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return wrapStorage("update team", err)
	}
	if affected == 0 {
		return &NotFoundError{Kind: "team", ID: team.ID}
	}
	return nil
}

// DeleteTeam removes the team; membership and team grants cascade.
func (r *SQLRepository) DeleteTeam(ctx context.Context, teamID int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM teams WHERE id = $1`, teamID)
	if err != nil {
		return wrapStorage("delete team", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return wrapStorage("delete team", err)
	}
	if affected == 0 {
		return &NotFoundError{Kind: "team", ID: teamID}
	}
	return nil
}

// AddTeamMember adds a user to a team; adding twice is a no-op.
func (r *SQLRepository) AddTeamMember(ctx context.Context, teamID, userID int64) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO team_members (team_id, user_id, added_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (team_id, user_id) DO NOTHING
	`, teamID, userID, time.Now())
	return wrapStorage("add team member", err)
}

// RemoveTeamMember removes a user from a team.
func (r *SQLRepository) RemoveTeamMember(ctx context.Context, teamID, userID int64) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM team_members WHERE team_id = $1 AND user_id = $2`, teamID, userID)
	return wrapStorage("remove team member", err)
}

// ListTeamMemberIDs returns the user IDs of a team's current members.
func (r *SQLRepository) ListTeamMemberIDs(ctx context.Context, teamID int64) ([]int64, error) {
	return r.listIDs(ctx, "list team members",
		`SELECT user_id FROM team_members WHERE team_id = $1 ORDER BY user_id ASC`, teamID)
}

// AssignRoleToTeam links a role to a team; linking twice is a no-op.
func (r *SQLRepository) AssignRoleToTeam(ctx context.Context, teamID, roleID int64) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO team_roles (team_id, role_id, granted_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (team_id, role_id) DO NOTHING
	`, teamID, roleID, time.Now())
	return wrapStorage("assign role to team", err)
}

// RemoveRoleFromTeam unlinks a role from a team.
func (r *SQLRepository) RemoveRoleFromTeam(ctx context.Context, teamID, roleID int64) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM team_roles WHERE team_id = $1 AND role_id = $2`, teamID, roleID)
	return wrapStorage("remove role from team", err)
}

// ListTeamRoleIDs returns the role IDs linked to a team.
func (r *SQLRepository) ListTeamRoleIDs(ctx context.Context, teamID int64) ([]int64, error) {
	return r.listIDs(ctx, "list team roles",
		`SELECT role_id FROM team_roles WHERE team_id = $1 ORDER BY role_id ASC`, teamID)
}

// ListUserTeamRoleIDs returns every role ID the user inherits through team
// membership in one point-in-time-consistent query.
func (r *SQLRepository) ListUserTeamRoleIDs(ctx context.Context, userID int64) ([]int64, error) {
	return r.listIDs(ctx, "list user team roles", `
		SELECT DISTINCT tr.role_id
		FROM team_roles tr
		JOIN team_members tm ON tm.team_id = tr.team_id
		WHERE tm.user_id = $1
		ORDER BY tr.role_id ASC
	`, userID)
}

// ListPermissionCodesForRoles returns the union of permission codes linked
// to any of the given roles.
func (r *SQLRepository) ListPermissionCodesForRoles(ctx context.Context, roleIDs []int64) ([]string, error) {
	if len(roleIDs) == 0 {
		return []string{}, nil
	}

	placeholders := make([]string, len(roleIDs))
	args := make([]interface{}, len(roleIDs))
	for i, id := range roleIDs {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}

	query := fmt.Sprintf(`
		SELECT DISTINCT p.code
		FROM role_permissions rp
		JOIN permissions p ON p.id = rp.permission_id
		WHERE rp.role_id IN (%s)
		ORDER BY p.code ASC
	`, strings.Join(placeholders, ", "))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapStorage("list permission codes for roles", err)
	}
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, wrapStorage("scan permission code", err)
		}
		codes = append(codes, code)
	}
	return codes, wrapStorage("list permission codes for roles", rows.Err())
}

// ListUserOverrides returns the user's overrides with codes resolved.
func (r *SQLRepository) ListUserOverrides(ctx context.Context, userID int64) ([]UserPermissionOverride, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT o.id, o.user_id, o.permission_id, p.code, o.allow, o.created_by, o.created_at
		FROM user_permission_overrides o
		JOIN permissions p ON p.id = o.permission_id
		WHERE o.user_id = $1
		ORDER BY p.code ASC
	`, userID)
	if err != nil {
		return nil, wrapStorage("list user overrides", err)
	}
	defer rows.Close()

	var overrides []UserPermissionOverride
	for rows.Next() {
		var o UserPermissionOverride
		var createdBy sql.NullInt64
		if err := rows.Scan(&o.ID, &o.UserID, &o.PermissionID, &o.PermissionCode,
			&o.Allow, &createdBy, &o.CreatedAt); err != nil {
			return nil, wrapStorage("scan user override", err)
		}
		if createdBy.Valid {
			id := createdBy.Int64
			o.CreatedBy = &id
		}
		overrides = append(overrides, o)
	}
	return overrides, wrapStorage("list user overrides", rows.Err())
}

// SetUserOverride upserts the (user, permission) override row.
func (r *SQLRepository) SetUserOverride(ctx context.Context, override *UserPermissionOverride) error {
	override.CreatedAt = time.Now()
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO user_permission_overrides (user_id, permission_id, allow, created_by, created_at)
		SELECT $1, id, $2, $3, $4 FROM permissions WHERE code = $5
		ON CONFLICT (user_id, permission_id)
		DO UPDATE SET allow = EXCLUDED.allow, created_by = EXCLUDED.created_by
	`, override.UserID, override.Allow, override.CreatedBy, override.CreatedAt, override.PermissionCode)
	if err != nil {
		return wrapStorage("set user override", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return wrapStorage("set user override", err)
	}
	if affected == 0 {
		return &NotFoundError{Kind: "permission", Code: override.PermissionCode}
	}
	return nil
}

// RemoveUserOverride deletes the override for (user, code) if present.
func (r *SQLRepository) RemoveUserOverride(ctx context.Context, userID int64, code string) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM user_permission_overrides
		WHERE user_id = $1
		  AND permission_id IN (SELECT id FROM permissions WHERE code = $2)
	`, userID, code)
	return wrapStorage("remove user override", err)
}

// ListUsersWithRole returns users holding roleID directly or via any team.
func (r *SQLRepository) ListUsersWithRole(ctx context.Context, roleID int64) ([]int64, error) {
	return r.listIDs(ctx, "list users with role", `
		SELECT user_id FROM user_roles WHERE role_id = $1
		UNION
		SELECT tm.user_id
		FROM team_members tm
		JOIN team_roles tr ON tr.team_id = tm.team_id
		WHERE tr.role_id = $2
		ORDER BY user_id ASC
	`, roleID, roleID)
}

func (r *SQLRepository) listIDs(ctx context.Context, op, query string, args ...interface{}) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapStorage(op, err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, wrapStorage(op, err)
		}
		ids = append(ids, id)
	}
	return ids, wrapStorage(op, rows.Err())
}
