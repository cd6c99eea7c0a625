package rbac

import "context"

// Resolver computes a user's effective permission set from the ground
// truth in the repository. It is stateless; callers that need caching
// wrap it in an Authorizer.
type Resolver struct {
	repo PermissionRepository
}

// NewResolver creates a resolver over repo.
func NewResolver(repo PermissionRepository) *Resolver {
	return &Resolver{repo: repo}
}

// EffectivePermissions resolves userID's permissions: direct role grants
// and team-inherited roles contribute their codes, then per-user overrides
// are applied on top. An allow=false override removes the code no matter
// how many roles grant it; an allow=true override adds the code even when
// no role does. A user with no roles and no overrides gets an empty set,
// not an error.
func (r *Resolver) EffectivePermissions(ctx context.Context, userID int64) (PermissionSet, error) {
	directIDs, err := r.repo.ListUserRoleIDs(ctx, userID)
	if err != nil {
		return nil, err
	}
	teamIDs, err := r.repo.ListUserTeamRoleIDs(ctx, userID)
	if err != nil {
		return nil, err
	}

	seen := make(map[int64]struct{}, len(directIDs)+len(teamIDs))
	roleIDs := make([]int64, 0, len(directIDs)+len(teamIDs))
	for _, id := range directIDs {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			roleIDs = append(roleIDs, id)
		}
	}
	for _, id := range teamIDs {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			roleIDs = append(roleIDs, id)
		}
	}

	codes, err := r.repo.ListPermissionCodesForRoles(ctx, roleIDs)
	if err != nil {
		return nil, err
	}
	set := NewPermissionSet(codes...)

	overrides, err := r.repo.ListUserOverrides(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, o := range overrides {
		if o.Allow {
			set.Add(o.PermissionCode)
		} else {
			set.Remove(o.PermissionCode)
		}
	}
	return set, nil
}
