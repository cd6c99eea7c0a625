// Package httputil provides HTTP utilities for standardized request/response handling.
//
// # Overview
//
// This package offers helper functions for JSON encoding/decoding, error responses,
// parameter parsing, and common HTTP middleware patterns.
//
// # Response Helpers
//
// JSON responses:
//
//	httputil.WriteJSON(w, http.StatusOK, data)
//	httputil.WriteSuccess(w, role)
//	httputil.WriteCreated(w, role)
//	httputil.WriteNoContent(w)
//
// Error responses:
//
//	httputil.WriteError(w, http.StatusBadRequest, err)
//	httputil.WriteBadRequest(w, "Invalid input")
//	httputil.WriteUnauthorized(w, "Authentication required")
//	httputil.WriteForbidden(w, "Insufficient permissions")
//	httputil.WriteConflict(w, "Role still in use")
//	httputil.WriteServiceUnavailable(w, "Storage temporarily unavailable")
//
// # Request Parsing
//
// JSON parsing:
//
//	var req CreateRoleInput
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return // Error response already written
//	}
//
// Path parameters (gorilla/mux):
//
//	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
//	code, ok := httputil.ParsePathStringOrError(w, r, "code")
//
// Query parameters:
//
//	tenantID, err := httputil.ParseQueryInt64(r, "tenant_id", 0)
//	includeSystem, err := httputil.ParseQueryBool(r, "include_system", false)
//
// # Middleware
//
// Request processing chain:
//
//	handler := httputil.Chain(
//		httputil.RequestIDMiddleware,
//		httputil.LoggingMiddleware(logger),
//		httputil.RecoveryMiddleware(logger),
//		httputil.MaxBytesMiddleware(1<<20),
//	)(mux)
package httputil
