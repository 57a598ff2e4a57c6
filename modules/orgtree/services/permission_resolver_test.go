package services

import (
	"context"
	"errors"
	"testing"

	"github.com/jacksonlee411/orgtree/modules/orgtree/domain/ports"
)

type identityStub struct {
	groupsForUserFn func(ctx context.Context, userID string) ([]string, error)
}

func (s identityStub) GroupsForUser(ctx context.Context, userID string) ([]string, error) {
	if s.groupsForUserFn == nil {
		return nil, errors.New("GroupsForUser not mocked")
	}
	return s.groupsForUserFn(ctx, userID)
}

func staticGroups(memberships map[string][]string) identityStub {
	return identityStub{groupsForUserFn: func(_ context.Context, userID string) ([]string, error) {
		return memberships[userID], nil
	}}
}

func TestSuperadminSeesEverything(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	org := f.createOrg(t, "test 1", f.umbrellaType.ID)
	regional1 := f.createOrg(t, "test regional org 1", f.regionalType.ID)
	regional2 := f.createOrg(t, "test regional org 2", f.regionalType.ID)
	f.addChild(t, org.ID, regional1.ID)
	f.addChild(t, org.ID, regional2.ID)

	resolver := NewPermissionResolver(f.store, staticGroups(map[string][]string{
		"admin1": {ports.SuperadminGroup},
	}))

	orgs, err := resolver.OrgsAdministeredBy(ctx, "admin1", nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(orgs) != 3 {
		t.Fatalf("expected superadmin to see all 3 orgs, got %v", orgIDs(orgs))
	}
}

func TestGrantResolvesExactSubtree(t *testing.T) {
	f := newFixture(t)
	tree := f.buildSampleTree(t)
	ctx := context.Background()

	resolver := NewPermissionResolver(f.store, staticGroups(map[string][]string{
		"admin2": {"regional coordinator"},
	}))
	if _, err := resolver.Grant(ctx, "admin2", "regional coordinator", tree.regional1.ID); err != nil {
		t.Fatalf("grant: %v", err)
	}

	orgs, err := resolver.OrgsAdministeredBy(ctx, "admin2", nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(orgs) != 3 {
		t.Fatalf("expected {regional1, site1, site2}, got %v", orgIDs(orgs))
	}
	for _, id := range []int64{tree.regional1.ID, tree.site1.ID, tree.site2.ID} {
		if !containsOrg(orgs, id) {
			t.Fatalf("expected org %d in %v", id, orgIDs(orgs))
		}
	}
	if containsOrg(orgs, tree.org.ID) || containsOrg(orgs, tree.regional2.ID) {
		t.Fatalf("grant leaked outside the subtree: %v", orgIDs(orgs))
	}
}

func TestGrantGroupMismatchIgnored(t *testing.T) {
	f := newFixture(t)
	tree := f.buildSampleTree(t)
	ctx := context.Background()

	// the grant names a group the user no longer belongs to
	resolver := NewPermissionResolver(f.store, staticGroups(map[string][]string{
		"admin2": {"site coordinator"},
	}))
	if _, err := resolver.Grant(ctx, "admin2", "regional coordinator", tree.regional1.ID); err != nil {
		t.Fatalf("grant: %v", err)
	}

	orgs, err := resolver.OrgsAdministeredBy(ctx, "admin2", nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(orgs) != 0 {
		t.Fatalf("expected no administered orgs, got %v", orgIDs(orgs))
	}
}

func TestNoGroupsResolvesEmpty(t *testing.T) {
	f := newFixture(t)
	tree := f.buildSampleTree(t)
	ctx := context.Background()

	resolver := NewPermissionResolver(f.store, staticGroups(map[string][]string{}))
	if _, err := resolver.Grant(ctx, "drifter", "regional coordinator", tree.regional1.ID); err != nil {
		t.Fatalf("grant: %v", err)
	}

	orgs, err := resolver.OrgsAdministeredBy(ctx, "drifter", nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(orgs) != 0 {
		t.Fatalf("expected no orgs for a user without groups, got %v", orgIDs(orgs))
	}
}

func TestOverlappingGrantsDeduplicate(t *testing.T) {
	f := newFixture(t)
	tree := f.buildSampleTree(t)
	ctx := context.Background()

	resolver := NewPermissionResolver(f.store, staticGroups(map[string][]string{
		"admin2": {"regional coordinator"},
	}))
	if _, err := resolver.Grant(ctx, "admin2", "regional coordinator", tree.regional1.ID); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if _, err := resolver.Grant(ctx, "admin2", "regional coordinator", tree.site1.ID); err != nil {
		t.Fatalf("grant: %v", err)
	}

	orgs, err := resolver.OrgsAdministeredBy(ctx, "admin2", nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(orgs) != 3 {
		t.Fatalf("expected deduplicated {regional1, site1, site2}, got %v", orgIDs(orgs))
	}
}

func TestResultOrderedByName(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	root := f.createOrg(t, "zulu network", f.umbrellaType.ID)
	alpha := f.createOrg(t, "alpha site", f.siteType.ID)
	mike := f.createOrg(t, "mike site", f.siteType.ID)
	f.addChild(t, root.ID, mike.ID)
	f.addChild(t, root.ID, alpha.ID)

	resolver := NewPermissionResolver(f.store, staticGroups(map[string][]string{
		"admin2": {"regional coordinator"},
	}))
	if _, err := resolver.Grant(ctx, "admin2", "regional coordinator", root.ID); err != nil {
		t.Fatalf("grant: %v", err)
	}

	orgs, err := resolver.OrgsAdministeredBy(ctx, "admin2", nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(orgs) != 3 {
		t.Fatalf("expected 3 orgs, got %v", orgIDs(orgs))
	}
	if orgs[0].ID != alpha.ID || orgs[1].ID != mike.ID || orgs[2].ID != root.ID {
		t.Fatalf("expected name order [alpha, mike, zulu], got %v", orgIDs(orgs))
	}
}

func TestTypeFilter(t *testing.T) {
	f := newFixture(t)
	tree := f.buildSampleTree(t)
	ctx := context.Background()

	resolver := NewPermissionResolver(f.store, staticGroups(map[string][]string{
		"admin2": {"regional coordinator"},
		"admin1": {ports.SuperadminGroup},
	}))
	if _, err := resolver.Grant(ctx, "admin2", "regional coordinator", tree.regional1.ID); err != nil {
		t.Fatalf("grant: %v", err)
	}

	orgs, err := resolver.OrgsAdministeredBy(ctx, "admin2", &f.siteType.ID)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(orgs) != 2 || !containsOrg(orgs, tree.site1.ID) || !containsOrg(orgs, tree.site2.ID) {
		t.Fatalf("expected only the two sites, got %v", orgIDs(orgs))
	}

	orgs, err = resolver.OrgsAdministeredBy(ctx, "admin1", &f.regionalType.ID)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(orgs) != 2 {
		t.Fatalf("expected superadmin type filter to keep 2 regionals, got %v", orgIDs(orgs))
	}
}

func TestDanglingGrantResolvesEmpty(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	org := f.createOrg(t, "doomed", f.regionalType.ID)
	resolver := NewPermissionResolver(f.store, staticGroups(map[string][]string{
		"admin2": {"regional coordinator"},
	}))
	if _, err := resolver.Grant(ctx, "admin2", "regional coordinator", org.ID); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if err := f.engine.SoftDelete(ctx, org.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	orgs, err := resolver.OrgsAdministeredBy(ctx, "admin2", nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(orgs) != 0 {
		t.Fatalf("expected dangling grant to resolve empty, got %v", orgIDs(orgs))
	}
}

func TestGrantAndRevoke(t *testing.T) {
	f := newFixture(t)
	tree := f.buildSampleTree(t)
	ctx := context.Background()

	orig := newRoleID
	newRoleID = func() (string, error) { return "role-1", nil }
	t.Cleanup(func() { newRoleID = orig })

	resolver := NewPermissionResolver(f.store, staticGroups(map[string][]string{
		"admin2": {"regional coordinator"},
	}))
	role, err := resolver.Grant(ctx, "admin2", "regional coordinator", tree.regional1.ID)
	if err != nil {
		t.Fatalf("grant: %v", err)
	}
	if role.ID != "role-1" || role.UserID != "admin2" || role.OrgID != tree.regional1.ID {
		t.Fatalf("unexpected role: %+v", role)
	}

	if err := resolver.Revoke(ctx, role.ID); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	orgs, err := resolver.OrgsAdministeredBy(ctx, "admin2", nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(orgs) != 0 {
		t.Fatalf("expected no orgs after revoke, got %v", orgIDs(orgs))
	}

	if err := resolver.Revoke(ctx, role.ID); !errors.Is(err, ports.ErrRoleNotFound) {
		t.Fatalf("expected role_not_found on second revoke, got: %v", err)
	}
}

func TestIdentityErrorPropagates(t *testing.T) {
	f := newFixture(t)
	resolver := NewPermissionResolver(f.store, identityStub{
		groupsForUserFn: func(context.Context, string) ([]string, error) {
			return nil, errors.New("idp down")
		},
	})
	if _, err := resolver.OrgsAdministeredBy(context.Background(), "admin2", nil); err == nil {
		t.Fatal("expected identity error to propagate")
	}
}
