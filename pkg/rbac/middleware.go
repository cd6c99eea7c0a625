package rbac

import (
	"context"
	"errors"
	"net/http"

	"github.com/halldesk/halldesk/pkg/httputil"
)

// Identity is the authenticated caller attached to a request by the
// authentication layer upstream of this package.
type Identity struct {
	UserID   int64
	TenantID int64
}

type identityContextKey struct{}

// WithIdentity attaches the caller identity to ctx.
func WithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, identity)
}

// IdentityFromContext returns the caller identity, ok=false when absent.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	identity, ok := ctx.Value(identityContextKey{}).(Identity)
	return identity, ok
}

// PermissionMiddleware gates HTTP routes on the caller's effective
// permissions.
type PermissionMiddleware struct {
	authorizer *Authorizer
}

// NewPermissionMiddleware creates middleware over authorizer.
func NewPermissionMiddleware(authorizer *Authorizer) *PermissionMiddleware {
	return &PermissionMiddleware{authorizer: authorizer}
}

// Authorize admits requests whose caller holds at least one of codes.
// Missing identity yields 401, insufficient permissions 403 with the
// required codes, and a storage failure 503 rather than a false deny
// being mistaken for policy.
func (m *PermissionMiddleware) Authorize(codes ...string) func(http.Handler) http.Handler {
	return m.gate(codes, m.authorizer.HasAnyPermission)
}

// RequireAll admits requests whose caller holds every one of codes.
func (m *PermissionMiddleware) RequireAll(codes ...string) func(http.Handler) http.Handler {
	return m.gate(codes, m.authorizer.HasAllPermissions)
}

func (m *PermissionMiddleware) gate(codes []string, check func(context.Context, int64, ...string) (bool, error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := IdentityFromContext(r.Context())
			if !ok {
				httputil.WriteUnauthorized(w, "authentication required")
				return
			}

			allowed, err := check(r.Context(), identity.UserID, codes...)
			if err != nil {
				var storageErr *StorageError
				if errors.As(err, &storageErr) {
					httputil.WriteServiceUnavailable(w, "authorization temporarily unavailable")
					return
				}
				httputil.WriteInternalError(w, err)
				return
			}
			if !allowed {
				httputil.WriteJSON(w, http.StatusForbidden, map[string]interface{}{
					"error":    "insufficient permissions",
					"required": codes,
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
