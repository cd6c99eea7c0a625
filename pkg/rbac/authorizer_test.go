package rbac

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/halldesk/halldesk/pkg/observability"
)

// countingRepo counts resolutions by intercepting the first repository
// call the resolver makes.
type countingRepo struct {
	PermissionRepository
	resolves atomic.Int64
}

func (r *countingRepo) ListUserRoleIDs(ctx context.Context, userID int64) ([]int64, error) {
	r.resolves.Add(1)
	return r.PermissionRepository.ListUserRoleIDs(ctx, userID)
}

// failingRepo fails every read with a storage error.
type failingRepo struct {
	PermissionRepository
}

func (r *failingRepo) ListUserRoleIDs(context.Context, int64) ([]int64, error) {
	return nil, &StorageError{Op: "list user roles", Err: errors.New("connection refused")}
}

// ctxSensitiveRepo fails reads whose context is already cancelled,
// like a driver that checks ctx before hitting the wire.
type ctxSensitiveRepo struct {
	PermissionRepository
}

func (r *ctxSensitiveRepo) ListUserRoleIDs(ctx context.Context, userID int64) ([]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, &StorageError{Op: "list user roles", Err: err}
	}
	return r.PermissionRepository.ListUserRoleIDs(ctx, userID)
}

// noopCache never stores anything, forcing a resolve on every lookup.
type noopCache struct{}

func (noopCache) Get(context.Context, int64) (PermissionSet, bool)         { return nil, false }
func (noopCache) Set(context.Context, int64, PermissionSet, time.Duration) {}
func (noopCache) Delete(context.Context, int64)                            {}

func newTestAuthorizer(t *testing.T, repo PermissionRepository) *Authorizer {
	t.Helper()

	cache, err := NewLocalPermissionCache(64)
	if err != nil {
		t.Fatalf("NewLocalPermissionCache failed: %v", err)
	}
	return NewAuthorizer(NewResolver(repo), cache, observability.NewNopLogger())
}

func TestAuthorizer_CacheHitSkipsResolver(t *testing.T) {
	base := seedRepo(t)
	role := mustCreateRole(t, base, "agent", "tickets.read")
	mustAssignRole(t, base, 1, role.ID)

	repo := &countingRepo{PermissionRepository: base}
	authorizer := newTestAuthorizer(t, repo)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		allowed, err := authorizer.HasPermission(ctx, 1, "tickets.read")
		if err != nil {
			t.Fatalf("HasPermission failed: %v", err)
		}
		if !allowed {
			t.Fatal("Expected permission to be granted")
		}
	}

	if got := repo.resolves.Load(); got != 1 {
		t.Errorf("Expected exactly 1 resolution across 5 checks, got %d", got)
	}
}

func TestAuthorizer_InvalidateForcesRecompute(t *testing.T) {
	base := seedRepo(t)
	role := mustCreateRole(t, base, "agent", "tickets.read")
	mustAssignRole(t, base, 1, role.ID)

	repo := &countingRepo{PermissionRepository: base}
	authorizer := newTestAuthorizer(t, repo)
	ctx := context.Background()

	if _, err := authorizer.HasPermission(ctx, 1, "tickets.read"); err != nil {
		t.Fatalf("HasPermission failed: %v", err)
	}

	// Revoke behind the cache's back, then evict.
	if err := base.RevokeRoleFromUser(ctx, 1, role.ID); err != nil {
		t.Fatalf("RevokeRoleFromUser failed: %v", err)
	}
	authorizer.Invalidate(ctx, 1)

	allowed, err := authorizer.HasPermission(ctx, 1, "tickets.read")
	if err != nil {
		t.Fatalf("HasPermission failed: %v", err)
	}
	if allowed {
		t.Error("Expected denial after revoke and invalidation")
	}
	if got := repo.resolves.Load(); got != 2 {
		t.Errorf("Expected 2 resolutions, got %d", got)
	}
}

func TestAuthorizer_FailsClosedOnRepositoryError(t *testing.T) {
	repo := &failingRepo{PermissionRepository: seedRepo(t)}
	authorizer := newTestAuthorizer(t, repo)
	ctx := context.Background()

	allowed, err := authorizer.HasPermission(ctx, 1, "tickets.read")
	if err == nil {
		t.Fatal("Expected error from failing repository")
	}
	if allowed {
		t.Error("Repository failure must deny, never allow")
	}

	var storageErr *StorageError
	if !errors.As(err, &storageErr) {
		t.Errorf("Expected StorageError, got %T", err)
	}
}

func TestAuthorizer_HasAnyAndHasAll(t *testing.T) {
	repo := seedRepo(t)
	role := mustCreateRole(t, repo, "agent", "tickets.read", "tickets.update")
	mustAssignRole(t, repo, 1, role.ID)

	authorizer := newTestAuthorizer(t, repo)
	ctx := context.Background()

	allowed, err := authorizer.HasAnyPermission(ctx, 1, "billing.manage", "tickets.read")
	if err != nil {
		t.Fatalf("HasAnyPermission failed: %v", err)
	}
	if !allowed {
		t.Error("Expected HasAny to pass when one code is held")
	}

	allowed, err = authorizer.HasAllPermissions(ctx, 1, "tickets.read", "tickets.update")
	if err != nil {
		t.Fatalf("HasAllPermissions failed: %v", err)
	}
	if !allowed {
		t.Error("Expected HasAll to pass when all codes are held")
	}

	allowed, err = authorizer.HasAllPermissions(ctx, 1, "tickets.read", "billing.manage")
	if err != nil {
		t.Fatalf("HasAllPermissions failed: %v", err)
	}
	if allowed {
		t.Error("Expected HasAll to fail when one code is missing")
	}
}

func TestAuthorizer_NoopCacheResolvesEveryTime(t *testing.T) {
	base := seedRepo(t)
	role := mustCreateRole(t, base, "agent", "tickets.read")
	mustAssignRole(t, base, 1, role.ID)

	repo := &countingRepo{PermissionRepository: base}
	authorizer := NewAuthorizer(NewResolver(repo), noopCache{}, observability.NewNopLogger())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := authorizer.HasPermission(ctx, 1, "tickets.read"); err != nil {
			t.Fatalf("HasPermission failed: %v", err)
		}
	}
	if got := repo.resolves.Load(); got != 3 {
		t.Errorf("Expected 3 resolutions without caching, got %d", got)
	}
}

func TestAuthorizer_ResolvesDespiteCancelledCaller(t *testing.T) {
	base := seedRepo(t)
	role := mustCreateRole(t, base, "agent", "tickets.read")
	mustAssignRole(t, base, 1, role.ID)

	repo := &ctxSensitiveRepo{PermissionRepository: base}
	authorizer := newTestAuthorizer(t, repo)

	// A cancelled caller may be driving the shared resolution for other
	// waiters, so the lookup must still complete.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	allowed, err := authorizer.HasPermission(ctx, 1, "tickets.read")
	if err != nil {
		t.Fatalf("HasPermission failed: %v", err)
	}
	if !allowed {
		t.Error("Expected the resolution to complete and grant the code")
	}
}
