package rbac

import (
	"context"
	"testing"
)

// seedRepo returns a memory repository pre-loaded with the default
// permission vocabulary.
func seedRepo(t *testing.T) *MemoryRepository {
	t.Helper()

	repo := NewMemoryRepository()
	if err := SeedVocabulary(context.Background(), repo, DefaultVocabulary()); err != nil {
		t.Fatalf("SeedVocabulary failed: %v", err)
	}
	return repo
}

func mustCreateRole(t *testing.T, repo PermissionRepository, name string, codes ...string) *Role {
	t.Helper()

	role := &Role{Name: name, PermissionCodes: codes}
	if err := repo.CreateRole(context.Background(), role); err != nil {
		t.Fatalf("CreateRole(%s) failed: %v", name, err)
	}
	return role
}

func mustAssignRole(t *testing.T, repo PermissionRepository, userID, roleID int64) {
	t.Helper()

	if err := repo.AssignRoleToUser(context.Background(), &UserRole{UserID: userID, RoleID: roleID}); err != nil {
		t.Fatalf("AssignRoleToUser failed: %v", err)
	}
}

func mustCreateTeam(t *testing.T, repo PermissionRepository, name string) *Team {
	t.Helper()

	team := &Team{TenantID: 1, Name: name}
	if err := repo.CreateTeam(context.Background(), team); err != nil {
		t.Fatalf("CreateTeam(%s) failed: %v", name, err)
	}
	return team
}

func TestResolver_NoRolesNoOverrides(t *testing.T) {
	repo := seedRepo(t)
	resolver := NewResolver(repo)

	set, err := resolver.EffectivePermissions(context.Background(), 42)
	if err != nil {
		t.Fatalf("EffectivePermissions failed: %v", err)
	}
	if len(set) != 0 {
		t.Errorf("Expected empty set for user with no grants, got %v", set.Codes())
	}
}

func TestResolver_DirectRoleUnion(t *testing.T) {
	repo := seedRepo(t)
	resolver := NewResolver(repo)
	ctx := context.Background()

	reader := mustCreateRole(t, repo, "reader", "tickets.read", "customers.read")
	closer := mustCreateRole(t, repo, "closer", "tickets.read", "tickets.close")

	mustAssignRole(t, repo, 1, reader.ID)
	mustAssignRole(t, repo, 1, closer.ID)

	set, err := resolver.EffectivePermissions(ctx, 1)
	if err != nil {
		t.Fatalf("EffectivePermissions failed: %v", err)
	}

	want := []string{"customers.read", "tickets.close", "tickets.read"}
	got := set.Codes()
	if len(got) != len(want) {
		t.Fatalf("Expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Expected %v, got %v", want, got)
			break
		}
	}
}

func TestResolver_TeamInheritance(t *testing.T) {
	repo := seedRepo(t)
	resolver := NewResolver(repo)
	ctx := context.Background()

	role := mustCreateRole(t, repo, "support", "tickets.read", "messages.send")
	team := mustCreateTeam(t, repo, "frontline")

	if err := repo.AddTeamMember(ctx, team.ID, 7); err != nil {
		t.Fatalf("AddTeamMember failed: %v", err)
	}
	if err := repo.AssignRoleToTeam(ctx, team.ID, role.ID); err != nil {
		t.Fatalf("AssignRoleToTeam failed: %v", err)
	}

	set, err := resolver.EffectivePermissions(ctx, 7)
	if err != nil {
		t.Fatalf("EffectivePermissions failed: %v", err)
	}
	if !set.Has("tickets.read") || !set.Has("messages.send") {
		t.Errorf("Expected team-inherited permissions, got %v", set.Codes())
	}

	// A non-member gets nothing.
	other, err := resolver.EffectivePermissions(ctx, 8)
	if err != nil {
		t.Fatalf("EffectivePermissions failed: %v", err)
	}
	if len(other) != 0 {
		t.Errorf("Expected empty set for non-member, got %v", other.Codes())
	}
}

func TestResolver_DenyOverrideBeatsEveryGrant(t *testing.T) {
	repo := seedRepo(t)
	resolver := NewResolver(repo)
	ctx := context.Background()

	// Two independent roles both grant tickets.delete, one directly and
	// one through a team.
	direct := mustCreateRole(t, repo, "direct-deleter", "tickets.delete", "tickets.read")
	viaTeam := mustCreateRole(t, repo, "team-deleter", "tickets.delete")
	team := mustCreateTeam(t, repo, "cleanup")

	mustAssignRole(t, repo, 5, direct.ID)
	if err := repo.AddTeamMember(ctx, team.ID, 5); err != nil {
		t.Fatalf("AddTeamMember failed: %v", err)
	}
	if err := repo.AssignRoleToTeam(ctx, team.ID, viaTeam.ID); err != nil {
		t.Fatalf("AssignRoleToTeam failed: %v", err)
	}

	if err := repo.SetUserOverride(ctx, &UserPermissionOverride{
		UserID:         5,
		PermissionCode: "tickets.delete",
		Allow:          false,
	}); err != nil {
		t.Fatalf("SetUserOverride failed: %v", err)
	}

	set, err := resolver.EffectivePermissions(ctx, 5)
	if err != nil {
		t.Fatalf("EffectivePermissions failed: %v", err)
	}
	if set.Has("tickets.delete") {
		t.Error("Deny override should remove the code despite two role grants")
	}
	if !set.Has("tickets.read") {
		t.Error("Deny override should not affect other codes")
	}
}

func TestResolver_AllowOverrideWithoutAnyRole(t *testing.T) {
	repo := seedRepo(t)
	resolver := NewResolver(repo)
	ctx := context.Background()

	if err := repo.SetUserOverride(ctx, &UserPermissionOverride{
		UserID:         9,
		PermissionCode: "reports.view",
		Allow:          true,
	}); err != nil {
		t.Fatalf("SetUserOverride failed: %v", err)
	}

	set, err := resolver.EffectivePermissions(ctx, 9)
	if err != nil {
		t.Fatalf("EffectivePermissions failed: %v", err)
	}
	if !set.Has("reports.view") {
		t.Error("Allow override should grant the code to a user with zero roles")
	}
	if len(set) != 1 {
		t.Errorf("Expected exactly one code, got %v", set.Codes())
	}
}

func TestResolver_OverrideRemovalRestoresRoleGrant(t *testing.T) {
	repo := seedRepo(t)
	resolver := NewResolver(repo)
	ctx := context.Background()

	role := mustCreateRole(t, repo, "agent", "tickets.read")
	mustAssignRole(t, repo, 3, role.ID)

	if err := repo.SetUserOverride(ctx, &UserPermissionOverride{
		UserID:         3,
		PermissionCode: "tickets.read",
		Allow:          false,
	}); err != nil {
		t.Fatalf("SetUserOverride failed: %v", err)
	}

	set, _ := resolver.EffectivePermissions(ctx, 3)
	if set.Has("tickets.read") {
		t.Fatal("Expected deny override to mask the role grant")
	}

	if err := repo.RemoveUserOverride(ctx, 3, "tickets.read"); err != nil {
		t.Fatalf("RemoveUserOverride failed: %v", err)
	}

	set, _ = resolver.EffectivePermissions(ctx, 3)
	if !set.Has("tickets.read") {
		t.Error("Removing the override should restore the role grant")
	}
}

func TestResolver_EndToEndMixedGrants(t *testing.T) {
	repo := seedRepo(t)
	resolver := NewResolver(repo)
	ctx := context.Background()

	viewer := mustCreateRole(t, repo, "viewer", "tickets.read", "customers.read")
	manager := mustCreateRole(t, repo, "manager", "tickets.assign", "tickets.close", "reports.view")
	ops := mustCreateRole(t, repo, "ops", "billing.manage")

	team := mustCreateTeam(t, repo, "escalations")
	if err := repo.AssignRoleToTeam(ctx, team.ID, manager.ID); err != nil {
		t.Fatalf("AssignRoleToTeam failed: %v", err)
	}

	const userID = 11
	mustAssignRole(t, repo, userID, viewer.ID)
	mustAssignRole(t, repo, userID, ops.ID)
	if err := repo.AddTeamMember(ctx, team.ID, userID); err != nil {
		t.Fatalf("AddTeamMember failed: %v", err)
	}

	// Deny billing despite the ops role, allow exporting despite no role
	// granting it.
	if err := repo.SetUserOverride(ctx, &UserPermissionOverride{
		UserID: userID, PermissionCode: "billing.manage", Allow: false,
	}); err != nil {
		t.Fatalf("SetUserOverride failed: %v", err)
	}
	if err := repo.SetUserOverride(ctx, &UserPermissionOverride{
		UserID: userID, PermissionCode: "reports.export", Allow: true,
	}); err != nil {
		t.Fatalf("SetUserOverride failed: %v", err)
	}

	set, err := resolver.EffectivePermissions(ctx, userID)
	if err != nil {
		t.Fatalf("EffectivePermissions failed: %v", err)
	}

	for _, code := range []string{"tickets.read", "customers.read", "tickets.assign", "tickets.close", "reports.view", "reports.export"} {
		if !set.Has(code) {
			t.Errorf("Expected %s in effective set, got %v", code, set.Codes())
		}
	}
	if set.Has("billing.manage") {
		t.Error("Deny override should mask billing.manage")
	}
}
