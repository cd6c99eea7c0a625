package rbac

import (
	"context"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/halldesk/halldesk/pkg/observability"
)

// Authorizer answers permission checks from the cache, resolving from the
// repository on a miss. Cache failures fall open to a recompute; resolver
// failures fail closed, every check denies.
type Authorizer struct {
	resolver *Resolver
	cache    PermissionCache
	ttl      time.Duration
	group    singleflight.Group
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// AuthorizerOption customizes an Authorizer.
type AuthorizerOption func(*Authorizer)

// WithCacheTTL overrides DefaultCacheTTL.
func WithCacheTTL(ttl time.Duration) AuthorizerOption {
	return func(a *Authorizer) { a.ttl = ttl }
}

// WithAuthorizerMetrics wires check and resolve metrics.
func WithAuthorizerMetrics(m *observability.Metrics) AuthorizerOption {
	return func(a *Authorizer) { a.metrics = m }
}

// NewAuthorizer creates an authorizer over resolver and cache.
func NewAuthorizer(resolver *Resolver, cache PermissionCache, logger *observability.Logger, opts ...AuthorizerOption) *Authorizer {
	a := &Authorizer{
		resolver: resolver,
		cache:    cache,
		ttl:      DefaultCacheTTL,
		logger:   logger.Named("authorizer"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// EffectivePermissions returns the user's effective set, from cache when
// fresh. Concurrent misses for the same user collapse into one resolution.
func (a *Authorizer) EffectivePermissions(ctx context.Context, userID int64) (PermissionSet, error) {
	if set, ok := a.cache.Get(ctx, userID); ok {
		return set, nil
	}

	// The winning caller resolves for every waiter, so the lookup runs
	// under a detached context; a cancelled winner must not fail the rest.
	resolveCtx := context.WithoutCancel(ctx)
	v, err, _ := a.group.Do(strconv.FormatInt(userID, 10), func() (interface{}, error) {
		start := time.Now()
		set, err := a.resolver.EffectivePermissions(resolveCtx, userID)
		a.observeResolve(time.Since(start), err)
		if err != nil {
			return nil, err
		}
		a.cache.Set(resolveCtx, userID, set, a.ttl)
		return set, nil
	})
	if err != nil {
		a.logger.WithError(err).WithField("user_id", userID).Error("permission resolution failed")
		return nil, err
	}
	return v.(PermissionSet), nil
}

// HasPermission reports whether the user holds code. Resolution errors
// deny and are returned so the caller can distinguish 403 from 503.
func (a *Authorizer) HasPermission(ctx context.Context, userID int64, code string) (bool, error) {
	set, err := a.EffectivePermissions(ctx, userID)
	if err != nil {
		a.countCheck("error")
		return false, err
	}
	allowed := set.Has(code)
	a.countCheckAllowed(allowed)
	return allowed, nil
}

// HasAnyPermission reports whether the user holds at least one of codes.
func (a *Authorizer) HasAnyPermission(ctx context.Context, userID int64, codes ...string) (bool, error) {
	set, err := a.EffectivePermissions(ctx, userID)
	if err != nil {
		a.countCheck("error")
		return false, err
	}
	for _, code := range codes {
		if set.Has(code) {
			a.countCheckAllowed(true)
			return true, nil
		}
	}
	a.countCheckAllowed(false)
	return false, nil
}

// HasAllPermissions reports whether the user holds every one of codes.
func (a *Authorizer) HasAllPermissions(ctx context.Context, userID int64, codes ...string) (bool, error) {
	set, err := a.EffectivePermissions(ctx, userID)
	if err != nil {
		a.countCheck("error")
		return false, err
	}
	for _, code := range codes {
		if !set.Has(code) {
			a.countCheckAllowed(false)
			return false, nil
		}
	}
	a.countCheckAllowed(true)
	return true, nil
}

// Invalidate evicts userID from the cache. Wired to the invalidation bus.
func (a *Authorizer) Invalidate(ctx context.Context, userID int64) {
	a.cache.Delete(ctx, userID)
}

func (a *Authorizer) observeResolve(elapsed time.Duration, err error) {
	if a.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	a.metrics.PermissionResolvesTotal.WithLabelValues(status).Inc()
	a.metrics.PermissionResolveDuration.WithLabelValues(status).Observe(elapsed.Seconds())
}

func (a *Authorizer) countCheckAllowed(allowed bool) {
	if allowed {
		a.countCheck("allowed")
	} else {
		a.countCheck("denied")
	}
}

func (a *Authorizer) countCheck(result string) {
	if a.metrics != nil {
		a.metrics.PermissionChecksTotal.WithLabelValues(result).Inc()
	}
}
