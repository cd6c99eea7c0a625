package rbac

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"

	"github.com/halldesk/halldesk/pkg/observability"
)

func setupHandlerTest(t *testing.T) (*mux.Router, *engine) {
	t.Helper()

	e := newEngine(t)
	handler := NewHandler(e.service, e.authorizer, observability.NewNopLogger())
	router := mux.NewRouter()
	handler.RegisterRoutes(router)
	return router, e
}

func doJSON(t *testing.T, router *mux.Router, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("Failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()

	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to decode response %q: %v", rec.Body.String(), err)
	}
	return body
}

func TestHandler_ListPermissions(t *testing.T) {
	router, _ := setupHandlerTest(t)

	rec := doJSON(t, router, http.MethodGet, "/permissions", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	perms, ok := body["permissions"].([]interface{})
	if !ok {
		t.Fatalf("Expected permissions array, got %T", body["permissions"])
	}
	if len(perms) != len(DefaultVocabulary().List()) {
		t.Errorf("Expected the full vocabulary, got %d entries", len(perms))
	}
}

func TestHandler_CreateRole(t *testing.T) {
	router, _ := setupHandlerTest(t)

	rec := doJSON(t, router, http.MethodPost, "/roles", map[string]interface{}{
		"name":             "support",
		"description":      "frontline support",
		"permission_codes": []string{"tickets.read", "tickets.close"},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["name"] != "support" {
		t.Errorf("Expected role name in response, got %v", body["name"])
	}
	if body["id"] == nil {
		t.Error("Expected a persisted role ID")
	}
}

func TestHandler_CreateRoleUnknownCodes(t *testing.T) {
	router, _ := setupHandlerTest(t)

	rec := doJSON(t, router, http.MethodPost, "/roles", map[string]interface{}{
		"name":             "bad",
		"permission_codes": []string{"tickets.read", "warp.speed"},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	codes, ok := body["invalid_codes"].([]interface{})
	if !ok || len(codes) != 1 || codes[0] != "warp.speed" {
		t.Errorf("Expected invalid_codes [warp.speed], got %v", body["invalid_codes"])
	}
}

func TestHandler_GetRoleNotFound(t *testing.T) {
	router, _ := setupHandlerTest(t)

	rec := doJSON(t, router, http.MethodGet, "/roles/999", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodGet, "/roles/not-a-number", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for malformed ID, got %d", rec.Code)
	}
}

func TestHandler_DeleteHeldRoleConflict(t *testing.T) {
	router, e := setupHandlerTest(t)
	ctx := context.Background()

	role, err := e.service.CreateRole(ctx, CreateRoleInput{
		Name: "held", PermissionCodes: []string{"tickets.read"},
	})
	if err != nil {
		t.Fatalf("CreateRole failed: %v", err)
	}
	if err := e.service.AssignRoleToUser(ctx, 7, role.ID, nil); err != nil {
		t.Fatalf("AssignRoleToUser failed: %v", err)
	}

	rec := doJSON(t, router, http.MethodDelete, fmt.Sprintf("/roles/%d", role.ID), nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("Expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["affected_user_count"] != float64(1) {
		t.Errorf("Expected affected_user_count 1, got %v", body["affected_user_count"])
	}
	ids, ok := body["affected_user_ids"].([]interface{})
	if !ok || len(ids) != 1 || ids[0] != float64(7) {
		t.Errorf("Expected affected_user_ids [7], got %v", body["affected_user_ids"])
	}
}

func TestHandler_DeleteRoleWithReassignQuery(t *testing.T) {
	router, e := setupHandlerTest(t)
	ctx := context.Background()

	oldRole, err := e.service.CreateRole(ctx, CreateRoleInput{
		Name: "legacy", PermissionCodes: []string{"tickets.read"},
	})
	if err != nil {
		t.Fatalf("CreateRole failed: %v", err)
	}
	newRole, err := e.service.CreateRole(ctx, CreateRoleInput{
		Name: "replacement", PermissionCodes: []string{"tickets.read"},
	})
	if err != nil {
		t.Fatalf("CreateRole failed: %v", err)
	}
	if err := e.service.AssignRoleToUser(ctx, 7, oldRole.ID, nil); err != nil {
		t.Fatalf("AssignRoleToUser failed: %v", err)
	}

	path := fmt.Sprintf("/roles/%d?reassign_to=%d", oldRole.ID, newRole.ID)
	rec := doJSON(t, router, http.MethodDelete, path, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("Expected 204, got %d: %s", rec.Code, rec.Body.String())
	}

	roleIDs, err := e.repo.ListUserRoleIDs(ctx, 7)
	if err != nil {
		t.Fatalf("ListUserRoleIDs failed: %v", err)
	}
	if len(roleIDs) != 1 || roleIDs[0] != newRole.ID {
		t.Errorf("Expected grant migrated to replacement role, got %v", roleIDs)
	}
}

func TestHandler_DeleteRoleWithReassignBody(t *testing.T) {
	router, e := setupHandlerTest(t)
	ctx := context.Background()

	oldRole, err := e.service.CreateRole(ctx, CreateRoleInput{
		Name: "legacy", PermissionCodes: []string{"tickets.read"},
	})
	if err != nil {
		t.Fatalf("CreateRole failed: %v", err)
	}
	newRole, err := e.service.CreateRole(ctx, CreateRoleInput{
		Name: "replacement", PermissionCodes: []string{"tickets.read"},
	})
	if err != nil {
		t.Fatalf("CreateRole failed: %v", err)
	}
	if err := e.service.AssignRoleToUser(ctx, 7, oldRole.ID, nil); err != nil {
		t.Fatalf("AssignRoleToUser failed: %v", err)
	}

	path := fmt.Sprintf("/roles/%d", oldRole.ID)
	rec := doJSON(t, router, http.MethodDelete, path, map[string]interface{}{
		"reassign_to": newRole.ID,
	})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("Expected 204, got %d: %s", rec.Code, rec.Body.String())
	}

	roleIDs, err := e.repo.ListUserRoleIDs(ctx, 7)
	if err != nil {
		t.Fatalf("ListUserRoleIDs failed: %v", err)
	}
	if len(roleIDs) != 1 || roleIDs[0] != newRole.ID {
		t.Errorf("Expected grant migrated to replacement role, got %v", roleIDs)
	}
}

func TestHandler_AssignAndRevokeRole(t *testing.T) {
	router, e := setupHandlerTest(t)
	ctx := context.Background()

	role, err := e.service.CreateRole(ctx, CreateRoleInput{
		Name: "agent", PermissionCodes: []string{"tickets.read"},
	})
	if err != nil {
		t.Fatalf("CreateRole failed: %v", err)
	}

	rec := doJSON(t, router, http.MethodPost, fmt.Sprintf("/roles/%d/assign", role.ID),
		map[string]interface{}{"user_id": 3})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("Expected 204, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, router, http.MethodGet, "/users/3/permissions", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["user_id"] != float64(3) {
		t.Errorf("Expected user_id 3, got %v", body["user_id"])
	}
	perms, ok := body["permissions"].([]interface{})
	if !ok || len(perms) != 1 || perms[0] != "tickets.read" {
		t.Errorf("Expected permissions [tickets.read], got %v", body["permissions"])
	}

	rec = doJSON(t, router, http.MethodPost, fmt.Sprintf("/roles/%d/revoke", role.ID),
		map[string]interface{}{"user_id": 3})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("Expected 204, got %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodGet, "/users/3/permissions", nil)
	body = decodeBody(t, rec)
	if perms, _ := body["permissions"].([]interface{}); len(perms) != 0 {
		t.Errorf("Expected empty permissions after revoke, got %v", perms)
	}

	rec = doJSON(t, router, http.MethodPost, fmt.Sprintf("/roles/%d/assign", role.ID),
		map[string]interface{}{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 without user_id, got %d", rec.Code)
	}
}

func TestHandler_TeamLifecycle(t *testing.T) {
	router, e := setupHandlerTest(t)
	ctx := context.Background()

	rec := doJSON(t, router, http.MethodPost, "/teams", map[string]interface{}{
		"tenant_id": 1, "name": "frontline",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	teamID := int64(body["id"].(float64))

	rec = doJSON(t, router, http.MethodPost, fmt.Sprintf("/teams/%d/members", teamID),
		map[string]interface{}{"user_id": 4})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("Expected 204, got %d: %s", rec.Code, rec.Body.String())
	}

	role, err := e.service.CreateRole(ctx, CreateRoleInput{
		Name: "viewer", PermissionCodes: []string{"tickets.read"},
	})
	if err != nil {
		t.Fatalf("CreateRole failed: %v", err)
	}
	rec = doJSON(t, router, http.MethodPost, fmt.Sprintf("/teams/%d/roles", teamID),
		map[string]interface{}{"role_id": role.ID})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("Expected 204, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, router, http.MethodGet, fmt.Sprintf("/teams/%d/members", teamID), nil)
	body = decodeBody(t, rec)
	members, ok := body["member_ids"].([]interface{})
	if !ok || len(members) != 1 || members[0] != float64(4) {
		t.Errorf("Expected member_ids [4], got %v", body["member_ids"])
	}

	rec = doJSON(t, router, http.MethodGet, "/users/4/permissions", nil)
	body = decodeBody(t, rec)
	if perms, _ := body["permissions"].([]interface{}); len(perms) != 1 {
		t.Errorf("Expected inherited permission, got %v", body["permissions"])
	}

	rec = doJSON(t, router, http.MethodDelete,
		fmt.Sprintf("/teams/%d/members/4", teamID), nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("Expected 204, got %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodGet, "/users/4/permissions", nil)
	body = decodeBody(t, rec)
	if perms, _ := body["permissions"].([]interface{}); len(perms) != 0 {
		t.Errorf("Expected no permissions after membership removal, got %v", perms)
	}

	rec = doJSON(t, router, http.MethodDelete, fmt.Sprintf("/teams/%d", teamID), nil)
	if rec.Code != http.StatusNoContent {
		t.Errorf("Expected 204, got %d", rec.Code)
	}
	rec = doJSON(t, router, http.MethodGet, fmt.Sprintf("/teams/%d", teamID), nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 after team delete, got %d", rec.Code)
	}
}

func TestHandler_OverrideEndpoints(t *testing.T) {
	router, _ := setupHandlerTest(t)

	rec := doJSON(t, router, http.MethodPut, "/users/5/overrides", map[string]interface{}{
		"code": "ai.use", "allow": true,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["permission_code"] != "ai.use" || body["allow"] != true {
		t.Errorf("Unexpected override body: %v", body)
	}

	rec = doJSON(t, router, http.MethodGet, "/users/5/overrides", nil)
	body = decodeBody(t, rec)
	overrides, ok := body["overrides"].([]interface{})
	if !ok || len(overrides) != 1 {
		t.Fatalf("Expected 1 override, got %v", body["overrides"])
	}

	rec = doJSON(t, router, http.MethodPut, "/users/5/overrides", map[string]interface{}{
		"code": "no.such.code", "allow": true,
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for unknown code, got %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodPut, "/users/5/overrides", map[string]interface{}{
		"allow": true,
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 without code, got %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodDelete, "/users/5/overrides/ai.use", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("Expected 204, got %d", rec.Code)
	}
	rec = doJSON(t, router, http.MethodGet, "/users/5/overrides", nil)
	body = decodeBody(t, rec)
	if overrides, _ := body["overrides"].([]interface{}); len(overrides) != 0 {
		t.Errorf("Expected no overrides after delete, got %v", overrides)
	}
}

func TestHandler_StorageErrorMapsTo503(t *testing.T) {
	repo := &failingRepo{}
	authorizer := NewAuthorizer(NewResolver(repo), &noopCache{}, observability.NewNopLogger())
	service := NewService(repo, DefaultVocabulary(), NewLocalInvalidationBus(), observability.NewNopLogger())
	handler := NewHandler(service, authorizer, observability.NewNopLogger())
	router := mux.NewRouter()
	handler.RegisterRoutes(router)

	rec := doJSON(t, router, http.MethodGet, "/users/1/permissions", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 on storage failure, got %d: %s", rec.Code, rec.Body.String())
	}
}
