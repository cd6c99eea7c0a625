// Package rbac provides role-based access control for the Halldesk support
// platform.
//
// # Overview
//
// This package computes each user's effective permissions from role grants,
// team memberships, and per-user overrides, and answers authorization
// checks from a TTL-bounded cache. It covers the full administrative
// lifecycle: defining roles against a fixed permission vocabulary,
// assigning them to users directly or through teams, and overriding
// individual permissions per user.
//
// # Model
//
// Five relations feed the effective permission computation:
//
//  1. Permissions: the vocabulary of grantable codes ("tickets.read",
//     "billing.manage", ...), grouped by category
//  2. Roles: named bundles of permission codes, global or per tenant
//  3. User roles: direct role grants to users
//  4. Teams: groups of users; roles linked to a team are inherited by
//     every member
//  5. Overrides: per-user allow or deny of a single code
//
// A user's effective set is the union of codes from all held roles with
// overrides applied last. A deny override removes a code no matter how
// many roles grant it; an allow override grants a code even to a user
// with no roles at all.
//
//	resolver := rbac.NewResolver(repo)
//	set, err := resolver.EffectivePermissions(ctx, userID)
//	if set.Has("tickets.close") {
//		// ...
//	}
//
// # Authorization
//
// The Authorizer memoizes resolved sets in a PermissionCache. Cache
// backends fail open: any cache error falls back to recomputing from the
// repository. The repository failing fails closed: every check denies and
// the error surfaces so HTTP callers can answer 503 instead of a false
// 403.
//
//	cache, _ := rbac.NewLocalPermissionCache(10000)
//	authorizer := rbac.NewAuthorizer(resolver, cache, logger,
//		rbac.WithCacheTTL(60*time.Second))
//
//	allowed, err := authorizer.HasPermission(ctx, userID, "tickets.assign")
//
// # Invalidation
//
// Admin mutations that change anyone's effective permissions publish an
// InvalidationEvent naming the affected users. Every service instance
// subscribes and evicts those users from its cache, so permission changes
// take effect on the next check rather than after the TTL. Delivery is
// best-effort; a lost event only extends staleness to the TTL bound.
//
// The fan-out follows the mutation: changing a role's permissions affects
// everyone holding it directly or via a team, linking a role to a team
// affects the team's members, and a membership or override change affects
// one user.
//
//	bus := rbac.NewRedisInvalidationBus(redisClient, "", logger, metrics)
//	bus.Subscribe(func(event rbac.InvalidationEvent) {
//		for _, userID := range event.UserIDs {
//			authorizer.Invalidate(context.Background(), userID)
//		}
//	})
//	bus.Start(ctx)
//
// A single-process deployment uses NewLocalInvalidationBus, which delivers
// synchronously.
//
// # Administration
//
// Service validates every permission code against the vocabulary, rejects
// deleting a role that users still hold unless a replacement role is named,
// and publishes the invalidation event before returning so a caller that
// re-checks immediately sees the change.
//
//	service := rbac.NewService(repo, vocab, bus, logger)
//	role, err := service.CreateRole(ctx, rbac.CreateRoleInput{
//		Name:            "support-agent",
//		PermissionCodes: []string{"tickets.read", "tickets.update"},
//	})
//
// # Storage
//
// PermissionRepository has two implementations: SQLRepository on
// PostgreSQL (SQLite in unit tests) and MemoryRepository for tests and
// embedded use. Schema migrations live in migrations.go:
//
//	err := rbac.RunMigrations(ctx, db)
//	err = rbac.SeedVocabulary(ctx, repo, vocab)
//	err = rbac.SeedSystemRoles(ctx, repo)
//
// # HTTP
//
// Handler exposes the admin API on a gorilla/mux router and
// PermissionMiddleware gates arbitrary routes:
//
//	handler := rbac.NewHandler(service, authorizer, logger)
//	handler.RegisterRoutes(router)
//
//	guard := rbac.NewPermissionMiddleware(authorizer)
//	router.Handle("/tickets",
//		guard.Authorize("tickets.read")(listTicketsHandler),
//	).Methods("GET")
//
// The middleware answers 401 without an authenticated identity, 403 with
// the missing codes, and 503 when storage is down.
package rbac
