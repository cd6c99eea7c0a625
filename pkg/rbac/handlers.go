package rbac

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/halldesk/halldesk/pkg/httputil"
	"github.com/halldesk/halldesk/pkg/observability"
)

// Handler exposes role, team and override administration plus effective
// permission inspection over HTTP.
type Handler struct {
	service    *Service
	authorizer *Authorizer
	logger     *observability.Logger
}

// NewHandler creates the HTTP handler.
func NewHandler(service *Service, authorizer *Authorizer, logger *observability.Logger) *Handler {
	return &Handler{
		service:    service,
		authorizer: authorizer,
		logger:     logger.Named("rbac_handler"),
	}
}

// RegisterRoutes mounts every admin route on r.
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/permissions", h.ListPermissions).Methods(http.MethodGet)

	r.HandleFunc("/roles", h.ListRoles).Methods(http.MethodGet)
	r.HandleFunc("/roles", h.CreateRole).Methods(http.MethodPost)
	r.HandleFunc("/roles/{id}", h.GetRole).Methods(http.MethodGet)
	r.HandleFunc("/roles/{id}", h.UpdateRole).Methods(http.MethodPut)
	r.HandleFunc("/roles/{id}", h.DeleteRole).Methods(http.MethodDelete)
	r.HandleFunc("/roles/{id}/assign", h.AssignRole).Methods(http.MethodPost)
	r.HandleFunc("/roles/{id}/revoke", h.RevokeRole).Methods(http.MethodPost)

	r.HandleFunc("/teams", h.ListTeams).Methods(http.MethodGet)
	r.HandleFunc("/teams", h.CreateTeam).Methods(http.MethodPost)
	r.HandleFunc("/teams/{id}", h.GetTeam).Methods(http.MethodGet)
	r.HandleFunc("/teams/{id}", h.UpdateTeam).Methods(http.MethodPut)
	r.HandleFunc("/teams/{id}", h.DeleteTeam).Methods(http.MethodDelete)
	r.HandleFunc("/teams/{id}/members", h.ListTeamMembers).Methods(http.MethodGet)
	r.HandleFunc("/teams/{id}/members", h.AddTeamMember).Methods(http.MethodPost)
	r.HandleFunc("/teams/{id}/members/{user_id}", h.RemoveTeamMember).Methods(http.MethodDelete)
	r.HandleFunc("/teams/{id}/roles", h.ListTeamRoles).Methods(http.MethodGet)
	r.HandleFunc("/teams/{id}/roles", h.AssignTeamRole).Methods(http.MethodPost)
	r.HandleFunc("/teams/{id}/roles/{role_id}", h.RemoveTeamRole).Methods(http.MethodDelete)

	r.HandleFunc("/users/{id}/permissions", h.GetUserPermissions).Methods(http.MethodGet)
	r.HandleFunc("/users/{id}/overrides", h.ListUserOverrides).Methods(http.MethodGet)
	r.HandleFunc("/users/{id}/overrides", h.SetUserOverride).Methods(http.MethodPut)
	r.HandleFunc("/users/{id}/overrides/{code}", h.RemoveUserOverride).Methods(http.MethodDelete)
}

// writeServiceError maps the error taxonomy onto HTTP statuses.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		body := map[string]interface{}{"error": validationErr.Message}
		if len(validationErr.InvalidCodes) > 0 {
			body["invalid_codes"] = validationErr.InvalidCodes
		}
		httputil.WriteJSON(w, http.StatusBadRequest, body)
		return
	}

	var notFoundErr *NotFoundError
	if errors.As(err, &notFoundErr) {
		httputil.WriteNotFoundError(w, notFoundErr.Error())
		return
	}

	var conflictErr *ConflictError
	if errors.As(err, &conflictErr) {
		httputil.WriteJSON(w, http.StatusConflict, map[string]interface{}{
			"error":               conflictErr.Message,
			"affected_user_count": len(conflictErr.AffectedUserIDs),
			"affected_user_ids":   conflictErr.AffectedUserIDs,
		})
		return
	}

	var storageErr *StorageError
	if errors.As(err, &storageErr) {
		h.logger.WithError(err).Error("storage failure")
		httputil.WriteServiceUnavailable(w, "storage temporarily unavailable")
		return
	}

	h.logger.WithError(err).Error("unexpected error")
	httputil.WriteInternalError(w, err)
}

// ListPermissions handles GET /permissions
func (h *Handler) ListPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.service.ListPermissions(r.Context())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"permissions": perms})
}

func tenantFilter(r *http.Request) (*int64, error) {
	tenantID, err := httputil.ParseQueryInt64(r, "tenant_id", 0)
	if err != nil {
		return nil, err
	}
	if tenantID == 0 {
		return nil, nil
	}
	return &tenantID, nil
}

// ListRoles handles GET /roles
func (h *Handler) ListRoles(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantFilter(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	roles, err := h.service.ListRoles(r.Context(), tenantID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"roles": roles})
}

// CreateRole handles POST /roles
func (h *Handler) CreateRole(w http.ResponseWriter, r *http.Request) {
	var input CreateRoleInput
	if !httputil.ParseJSONOrError(w, r, &input) {
		return
	}
	role, err := h.service.CreateRole(r.Context(), input)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	httputil.WriteCreated(w, role)
}

// GetRole handles GET /roles/{id}
func (h *Handler) GetRole(w http.ResponseWriter, r *http.Request) {
	roleID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	role, err := h.service.GetRole(r.Context(), roleID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, role)
}

// UpdateRole handles PUT /roles/{id}
func (h *Handler) UpdateRole(w http.ResponseWriter, r *http.Request) {
	roleID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var input UpdateRoleInput
	if !httputil.ParseJSONOrError(w, r, &input) {
		return
	}
	role, err := h.service.UpdateRole(r.Context(), roleID, input)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, role)
}

// DeleteRole handles DELETE /roles/{id}. An optional reassign_to, given
// either as a query parameter or a JSON body field, migrates direct
// grants to the named role instead of failing with a conflict.
func (h *Handler) DeleteRole(w http.ResponseWriter, r *http.Request) {
	roleID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var reassignTo *int64
	if target, err := httputil.ParseQueryInt64(r, "reassign_to", 0); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	} else if target != 0 {
		reassignTo = &target
	}
	if reassignTo == nil && r.ContentLength > 0 {
		var req struct {
			ReassignTo *int64 `json:"reassign_to"`
		}
		if !httputil.ParseJSONOrError(w, r, &req) {
			return
		}
		reassignTo = req.ReassignTo
	}
	if err := h.service.DeleteRole(r.Context(), roleID, reassignTo); err != nil {
		h.writeServiceError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

type roleGrantRequest struct {
	UserID     int64  `json:"user_id"`
	AssignedBy *int64 `json:"assigned_by"`
}

// AssignRole handles POST /roles/{id}/assign
func (h *Handler) AssignRole(w http.ResponseWriter, r *http.Request) {
	roleID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req roleGrantRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.UserID == 0 {
		httputil.WriteBadRequest(w, "user_id is required")
		return
	}
	if err := h.service.AssignRoleToUser(r.Context(), req.UserID, roleID, req.AssignedBy); err != nil {
		h.writeServiceError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// RevokeRole handles POST /roles/{id}/revoke
func (h *Handler) RevokeRole(w http.ResponseWriter, r *http.Request) {
	roleID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req roleGrantRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.UserID == 0 {
		httputil.WriteBadRequest(w, "user_id is required")
		return
	}
	if err := h.service.RevokeRoleFromUser(r.Context(), req.UserID, roleID); err != nil {
		h.writeServiceError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// ListTeams handles GET /teams
func (h *Handler) ListTeams(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantFilter(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	teams, err := h.service.ListTeams(r.Context(), tenantID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"teams": teams})
}

// CreateTeam handles POST /teams
func (h *Handler) CreateTeam(w http.ResponseWriter, r *http.Request) {
	var input CreateTeamInput
	if !httputil.ParseJSONOrError(w, r, &input) {
		return
	}
	team, err := h.service.CreateTeam(r.Context(), input)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	httputil.WriteCreated(w, team)
}

// GetTeam handles GET /teams/{id}
func (h *Handler) GetTeam(w http.ResponseWriter, r *http.Request) {
	teamID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	team, err := h.service.GetTeam(r.Context(), teamID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, team)
}

// UpdateTeam handles PUT /teams/{id}
func (h *Handler) UpdateTeam(w http.ResponseWriter, r *http.Request) {
	teamID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var input UpdateTeamInput
	if !httputil.ParseJSONOrError(w, r, &input) {
		return
	}
	team, err := h.service.UpdateTeam(r.Context(), teamID, input)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, team)
}

// DeleteTeam handles DELETE /teams/{id}
func (h *Handler) DeleteTeam(w http.ResponseWriter, r *http.Request) {
	teamID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	if err := h.service.DeleteTeam(r.Context(), teamID); err != nil {
		h.writeServiceError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// ListTeamMembers handles GET /teams/{id}/members
func (h *Handler) ListTeamMembers(w http.ResponseWriter, r *http.Request) {
	teamID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	members, err := h.service.ListTeamMembers(r.Context(), teamID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if members == nil {
		members = []int64{}
	}
	httputil.WriteSuccess(w, map[string]interface{}{"team_id": teamID, "member_ids": members})
}

type teamMemberRequest struct {
	UserID int64 `json:"user_id"`
}

// AddTeamMember handles POST /teams/{id}/members
func (h *Handler) AddTeamMember(w http.ResponseWriter, r *http.Request) {
	teamID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req teamMemberRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.UserID == 0 {
		httputil.WriteBadRequest(w, "user_id is required")
		return
	}
	if err := h.service.AddTeamMember(r.Context(), teamID, req.UserID); err != nil {
		h.writeServiceError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// RemoveTeamMember handles DELETE /teams/{id}/members/{user_id}
func (h *Handler) RemoveTeamMember(w http.ResponseWriter, r *http.Request) {
	teamID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	userID, ok := httputil.ParsePathInt64OrError(w, r, "user_id")
	if !ok {
		return
	}
	if err := h.service.RemoveTeamMember(r.Context(), teamID, userID); err != nil {
		h.writeServiceError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// ListTeamRoles handles GET /teams/{id}/roles
func (h *Handler) ListTeamRoles(w http.ResponseWriter, r *http.Request) {
	teamID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	roleIDs, err := h.service.ListTeamRoles(r.Context(), teamID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if roleIDs == nil {
		roleIDs = []int64{}
	}
	httputil.WriteSuccess(w, map[string]interface{}{"team_id": teamID, "role_ids": roleIDs})
}

type teamRoleRequest struct {
	RoleID int64 `json:"role_id"`
}

// AssignTeamRole handles POST /teams/{id}/roles
func (h *Handler) AssignTeamRole(w http.ResponseWriter, r *http.Request) {
	teamID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req teamRoleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.RoleID == 0 {
		httputil.WriteBadRequest(w, "role_id is required")
		return
	}
	if err := h.service.AssignRoleToTeam(r.Context(), teamID, req.RoleID); err != nil {
		h.writeServiceError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// RemoveTeamRole handles DELETE /teams/{id}/roles/{role_id}
func (h *Handler) RemoveTeamRole(w http.ResponseWriter, r *http.Request) {
	teamID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	roleID, ok := httputil.ParsePathInt64OrError(w, r, "role_id")
	if !ok {
		return
	}
	if err := h.service.RemoveRoleFromTeam(r.Context(), teamID, roleID); err != nil {
		h.writeServiceError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// GetUserPermissions handles GET /users/{id}/permissions, returning the
// user's effective permission codes.
func (h *Handler) GetUserPermissions(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	set, err := h.authorizer.EffectivePermissions(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"user_id":     userID,
		"permissions": set.Codes(),
	})
}

// ListUserOverrides handles GET /users/{id}/overrides
func (h *Handler) ListUserOverrides(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	overrides, err := h.service.ListUserOverrides(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if overrides == nil {
		overrides = []UserPermissionOverride{}
	}
	httputil.WriteSuccess(w, map[string]interface{}{"user_id": userID, "overrides": overrides})
}

type overrideRequest struct {
	Code      string `json:"code"`
	Allow     bool   `json:"allow"`
	CreatedBy *int64 `json:"created_by"`
}

// SetUserOverride handles PUT /users/{id}/overrides
func (h *Handler) SetUserOverride(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req overrideRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Code == "" {
		httputil.WriteBadRequest(w, "code is required")
		return
	}
	override, err := h.service.SetUserOverride(r.Context(), userID, req.Code, req.Allow, req.CreatedBy)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, override)
}

// RemoveUserOverride handles DELETE /users/{id}/overrides/{code}
func (h *Handler) RemoveUserOverride(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	code, ok := httputil.ParsePathStringOrError(w, r, "code")
	if !ok {
		return
	}
	if err := h.service.RemoveUserOverride(r.Context(), userID, code); err != nil {
		h.writeServiceError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}
