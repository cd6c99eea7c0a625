package rbac

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/halldesk/halldesk/pkg/observability"
)

// Service is the role and team administration surface. Every mutation that
// can change someone's effective permissions enumerates the affected users
// and publishes one invalidation event before returning, so a caller that
// re-checks immediately afterwards sees the new grants.
type Service struct {
	repo    PermissionRepository
	bus     InvalidationBus
	vocab   atomic.Pointer[Vocabulary]
	logger  *observability.Logger
	metrics *observability.Metrics
}

// ServiceOption customizes a Service.
type ServiceOption func(*Service)

// WithServiceMetrics wires admin mutation counters.
func WithServiceMetrics(m *observability.Metrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

// NewService creates the admin service.
func NewService(repo PermissionRepository, vocab *Vocabulary, bus InvalidationBus, logger *observability.Logger, opts ...ServiceOption) *Service {
	s := &Service{
		repo:   repo,
		bus:    bus,
		logger: logger.Named("rbac_service"),
	}
	s.vocab.Store(vocab)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Vocabulary returns the current permission vocabulary.
func (s *Service) Vocabulary() *Vocabulary {
	return s.vocab.Load()
}

// SetVocabulary swaps the vocabulary, used by hot reload. In-flight
// validations finish against the version they started with.
func (s *Service) SetVocabulary(vocab *Vocabulary) {
	s.vocab.Store(vocab)
	s.logger.WithField("version", vocab.Version).Info("permission vocabulary reloaded")
}

func (s *Service) validateCodes(codes []string) error {
	if invalid := s.Vocabulary().InvalidCodes(codes); len(invalid) > 0 {
		return &ValidationError{
			Message:      "unknown permission codes: " + strings.Join(invalid, ", "),
			InvalidCodes: invalid,
		}
	}
	return nil
}

// ListPermissions returns the persisted permission catalog.
func (s *Service) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.repo.ListPermissions(ctx)
}

// CreateRoleInput carries the fields for CreateRole.
type CreateRoleInput struct {
	TenantID        *int64   `json:"tenant_id"`
	Name            string   `json:"name"`
	Description     string   `json:"description"`
	PermissionCodes []string `json:"permission_codes"`
}

// CreateRole validates the permission codes against the vocabulary and
// persists the role. No invalidation is needed; nobody holds a new role.
func (s *Service) CreateRole(ctx context.Context, input CreateRoleInput) (*Role, error) {
	if input.Name == "" {
		return nil, NewValidationError("role name is required")
	}
	if err := s.validateCodes(input.PermissionCodes); err != nil {
		s.countMutation("create_role", err)
		return nil, err
	}

	role := &Role{
		TenantID:        input.TenantID,
		Name:            input.Name,
		Description:     input.Description,
		PermissionCodes: input.PermissionCodes,
	}
	if err := s.repo.CreateRole(ctx, role); err != nil {
		s.countMutation("create_role", err)
		return nil, err
	}
	s.countMutation("create_role", nil)
	return role, nil
}

// GetRole returns the role with its permission codes.
func (s *Service) GetRole(ctx context.Context, roleID int64) (*Role, error) {
	return s.repo.GetRole(ctx, roleID)
}

// ListRoles lists global roles plus the tenant's own when tenantID is set.
func (s *Service) ListRoles(ctx context.Context, tenantID *int64) ([]Role, error) {
	return s.repo.ListRoles(ctx, tenantID)
}

// UpdateRoleInput carries the fields for UpdateRole. Nil fields are left
// unchanged; a non-nil PermissionCodes replaces the role's links wholesale.
type UpdateRoleInput struct {
	Name            *string   `json:"name"`
	Description     *string   `json:"description"`
	PermissionCodes *[]string `json:"permission_codes"`
}

// UpdateRole applies the changes and, when the permission links changed,
// invalidates every user holding the role directly or via a team.
func (s *Service) UpdateRole(ctx context.Context, roleID int64, input UpdateRoleInput) (*Role, error) {
	role, err := s.repo.GetRole(ctx, roleID)
	if err != nil {
		return nil, err
	}

	if input.Name != nil {
		if *input.Name == "" {
			return nil, NewValidationError("role name is required")
		}
		role.Name = *input.Name
	}
	if input.Description != nil {
		role.Description = *input.Description
	}
	// Validate everything before the first write so a rejected request
	// leaves the role untouched.
	if input.PermissionCodes != nil {
		if err := s.validateCodes(*input.PermissionCodes); err != nil {
			s.countMutation("update_role", err)
			return nil, err
		}
	}
	if err := s.repo.UpdateRole(ctx, role); err != nil {
		s.countMutation("update_role", err)
		return nil, err
	}

	if input.PermissionCodes != nil {
		if err := s.repo.ReplaceRolePermissions(ctx, roleID, *input.PermissionCodes); err != nil {
			s.countMutation("update_role", err)
			return nil, err
		}

		affected, err := s.repo.ListUsersWithRole(ctx, roleID)
		if err != nil {
			s.countMutation("update_role", err)
			return nil, err
		}
		s.invalidate(ctx, "role_updated", affected)
	}

	s.countMutation("update_role", nil)
	return s.repo.GetRole(ctx, roleID)
}

// DeleteRole removes the role. When users still hold it, the call fails
// with a ConflictError listing them unless reassignTo names a replacement
// role, in which case direct grants migrate there first. Affected users are
// enumerated before the delete so the invalidation fan-out is complete.
func (s *Service) DeleteRole(ctx context.Context, roleID int64, reassignTo *int64) error {
	role, err := s.repo.GetRole(ctx, roleID)
	if err != nil {
		return err
	}
	if role.IsSystemDefault {
		return NewValidationError("system default role %q cannot be deleted", role.Name)
	}

	affected, err := s.repo.ListUsersWithRole(ctx, roleID)
	if err != nil {
		return err
	}

	if len(affected) > 0 && reassignTo == nil {
		return &ConflictError{
			Message:         fmt.Sprintf("role %q is still held by %d user(s)", role.Name, len(affected)),
			AffectedUserIDs: affected,
		}
	}
	if reassignTo != nil {
		if *reassignTo == roleID {
			return NewValidationError("cannot reassign a role to itself")
		}
		if _, err := s.repo.GetRole(ctx, *reassignTo); err != nil {
			return err
		}
		if err := s.repo.ReassignUserRoles(ctx, roleID, *reassignTo); err != nil {
			s.countMutation("delete_role", err)
			return err
		}
	}

	if err := s.repo.DeleteRole(ctx, roleID); err != nil {
		s.countMutation("delete_role", err)
		return err
	}
	s.invalidate(ctx, "role_deleted", affected)
	s.countMutation("delete_role", nil)
	return nil
}

// AssignRoleToUser grants roleID to userID directly. Assigning an already
// held role is a no-op that still succeeds.
func (s *Service) AssignRoleToUser(ctx context.Context, userID, roleID int64, assignedBy *int64) error {
	if _, err := s.repo.GetRole(ctx, roleID); err != nil {
		return err
	}
	grant := &UserRole{UserID: userID, RoleID: roleID, AssignedBy: assignedBy}
	if err := s.repo.AssignRoleToUser(ctx, grant); err != nil {
		s.countMutation("assign_role", err)
		return err
	}
	s.invalidate(ctx, "role_assigned", []int64{userID})
	s.countMutation("assign_role", nil)
	return nil
}

// RevokeRoleFromUser removes a direct grant. Revoking an absent grant
// succeeds.
func (s *Service) RevokeRoleFromUser(ctx context.Context, userID, roleID int64) error {
	if err := s.repo.RevokeRoleFromUser(ctx, userID, roleID); err != nil {
		s.countMutation("revoke_role", err)
		return err
	}
	s.invalidate(ctx, "role_revoked", []int64{userID})
	s.countMutation("revoke_role", nil)
	return nil
}

// CreateTeamInput carries the fields for CreateTeam.
type CreateTeamInput struct {
	TenantID    int64  `json:"tenant_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// CreateTeam persists an empty team.
func (s *Service) CreateTeam(ctx context.Context, input CreateTeamInput) (*Team, error) {
	if input.Name == "" {
		return nil, NewValidationError("team name is required")
	}
	team := &Team{
		TenantID:    input.TenantID,
		Name:        input.Name,
		Description: input.Description,
	}
	if err := s.repo.CreateTeam(ctx, team); err != nil {
		s.countMutation("create_team", err)
		return nil, err
	}
	s.countMutation("create_team", nil)
	return team, nil
}

// GetTeam returns a team by ID.
func (s *Service) GetTeam(ctx context.Context, teamID int64) (*Team, error) {
	return s.repo.GetTeam(ctx, teamID)
}

// ListTeams lists teams, optionally filtered by tenant.
func (s *Service) ListTeams(ctx context.Context, tenantID *int64) ([]Team, error) {
	return s.repo.ListTeams(ctx, tenantID)
}

// UpdateTeamInput carries the fields for UpdateTeam. Nil fields are left
// unchanged.
type UpdateTeamInput struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

// UpdateTeam renames a team. Grants are untouched, so no invalidation.
func (s *Service) UpdateTeam(ctx context.Context, teamID int64, input UpdateTeamInput) (*Team, error) {
	team, err := s.repo.GetTeam(ctx, teamID)
	if err != nil {
		return nil, err
	}
	if input.Name != nil {
		if *input.Name == "" {
			return nil, NewValidationError("team name is required")
		}
		team.Name = *input.Name
	}
	if input.Description != nil {
		team.Description = *input.Description
	}
	if err := s.repo.UpdateTeam(ctx, team); err != nil {
		s.countMutation("update_team", err)
		return nil, err
	}
	s.countMutation("update_team", nil)
	return team, nil
}

// DeleteTeam removes the team and invalidates every member, since each
// loses the team's inherited roles.
func (s *Service) DeleteTeam(ctx context.Context, teamID int64) error {
	affected, err := s.repo.ListTeamMemberIDs(ctx, teamID)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteTeam(ctx, teamID); err != nil {
		s.countMutation("delete_team", err)
		return err
	}
	s.invalidate(ctx, "team_deleted", affected)
	s.countMutation("delete_team", nil)
	return nil
}

// AddTeamMember adds userID to the team; adding twice is a no-op.
func (s *Service) AddTeamMember(ctx context.Context, teamID, userID int64) error {
	if _, err := s.repo.GetTeam(ctx, teamID); err != nil {
		return err
	}
	if err := s.repo.AddTeamMember(ctx, teamID, userID); err != nil {
		s.countMutation("add_team_member", err)
		return err
	}
	s.invalidate(ctx, "team_member_added", []int64{userID})
	s.countMutation("add_team_member", nil)
	return nil
}

// RemoveTeamMember removes userID from the team.
func (s *Service) RemoveTeamMember(ctx context.Context, teamID, userID int64) error {
	if err := s.repo.RemoveTeamMember(ctx, teamID, userID); err != nil {
		s.countMutation("remove_team_member", err)
		return err
	}
	s.invalidate(ctx, "team_member_removed", []int64{userID})
	s.countMutation("remove_team_member", nil)
	return nil
}

// ListTeamMembers returns the team's current member IDs.
func (s *Service) ListTeamMembers(ctx context.Context, teamID int64) ([]int64, error) {
	if _, err := s.repo.GetTeam(ctx, teamID); err != nil {
		return nil, err
	}
	return s.repo.ListTeamMemberIDs(ctx, teamID)
}

// AssignRoleToTeam links roleID to the team and invalidates every current
// member, who each inherit the role's permissions.
func (s *Service) AssignRoleToTeam(ctx context.Context, teamID, roleID int64) error {
	if _, err := s.repo.GetTeam(ctx, teamID); err != nil {
		return err
	}
	if _, err := s.repo.GetRole(ctx, roleID); err != nil {
		return err
	}
	if err := s.repo.AssignRoleToTeam(ctx, teamID, roleID); err != nil {
		s.countMutation("assign_team_role", err)
		return err
	}
	affected, err := s.repo.ListTeamMemberIDs(ctx, teamID)
	if err != nil {
		return err
	}
	s.invalidate(ctx, "team_role_assigned", affected)
	s.countMutation("assign_team_role", nil)
	return nil
}

// RemoveRoleFromTeam unlinks roleID and invalidates every current member.
func (s *Service) RemoveRoleFromTeam(ctx context.Context, teamID, roleID int64) error {
	if err := s.repo.RemoveRoleFromTeam(ctx, teamID, roleID); err != nil {
		s.countMutation("remove_team_role", err)
		return err
	}
	affected, err := s.repo.ListTeamMemberIDs(ctx, teamID)
	if err != nil {
		return err
	}
	s.invalidate(ctx, "team_role_removed", affected)
	s.countMutation("remove_team_role", nil)
	return nil
}

// ListTeamRoles returns the role IDs linked to the team.
func (s *Service) ListTeamRoles(ctx context.Context, teamID int64) ([]int64, error) {
	if _, err := s.repo.GetTeam(ctx, teamID); err != nil {
		return nil, err
	}
	return s.repo.ListTeamRoleIDs(ctx, teamID)
}

// SetUserOverride upserts a per-user allow or deny for code. A deny beats
// any role grant; an allow grants the code even with no roles at all.
func (s *Service) SetUserOverride(ctx context.Context, userID int64, code string, allow bool, createdBy *int64) (*UserPermissionOverride, error) {
	if err := s.validateCodes([]string{code}); err != nil {
		s.countMutation("set_override", err)
		return nil, err
	}
	override := &UserPermissionOverride{
		UserID:         userID,
		PermissionCode: code,
		Allow:          allow,
		CreatedBy:      createdBy,
	}
	if err := s.repo.SetUserOverride(ctx, override); err != nil {
		s.countMutation("set_override", err)
		return nil, err
	}
	s.invalidate(ctx, "override_set", []int64{userID})
	s.countMutation("set_override", nil)
	return override, nil
}

// RemoveUserOverride deletes the override for (userID, code) if present.
func (s *Service) RemoveUserOverride(ctx context.Context, userID int64, code string) error {
	if err := s.repo.RemoveUserOverride(ctx, userID, code); err != nil {
		s.countMutation("remove_override", err)
		return err
	}
	s.invalidate(ctx, "override_removed", []int64{userID})
	s.countMutation("remove_override", nil)
	return nil
}

// ListUserOverrides returns the user's overrides.
func (s *Service) ListUserOverrides(ctx context.Context, userID int64) ([]UserPermissionOverride, error) {
	return s.repo.ListUserOverrides(ctx, userID)
}

// invalidate publishes one eviction event for the given users. Publish
// failures are logged, never surfaced; the cache TTL bounds the staleness.
func (s *Service) invalidate(ctx context.Context, reason string, userIDs []int64) {
	if len(userIDs) == 0 {
		return
	}
	event := InvalidationEvent{UserIDs: userIDs, Reason: reason}
	if err := s.bus.Publish(ctx, event); err != nil {
		s.logger.WithError(err).WithFields(map[string]interface{}{
			"reason":     reason,
			"user_count": len(userIDs),
		}).Warn("failed to publish invalidation event")
	}
}

func (s *Service) countMutation(op string, err error) {
	if s.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	s.metrics.AdminMutationsTotal.WithLabelValues(op, status).Inc()
}
