package services

import (
	"context"
	"testing"

	"github.com/jacksonlee411/orgtree/modules/orgtree/domain/types"
)

func TestOrgSelectorMatch(t *testing.T) {
	org := types.Org{ID: 7, Name: "Boston Site", TypeID: 3, Active: true}

	cases := []struct {
		expr string
		want bool
	}{
		{`org.type == "Service Site"`, true},
		{`org.type == "Regional Network"`, false},
		{`org.name.startsWith("Boston")`, true},
		{`org.active && !org.deleted`, true},
		{`org.id == 7`, true},
		{`org.id > 100`, false},
	}
	for _, tc := range cases {
		selector, err := NewOrgSelector(tc.expr)
		if err != nil {
			t.Fatalf("compile %q: %v", tc.expr, err)
		}
		got, err := selector.Match(org, "Service Site")
		if err != nil {
			t.Fatalf("match %q: %v", tc.expr, err)
		}
		if got != tc.want {
			t.Fatalf("%q: expected %v, got %v", tc.expr, tc.want, got)
		}
	}
}

func TestOrgSelectorRejectsBadExpressions(t *testing.T) {
	if _, err := NewOrgSelector(`org.name ==`); err == nil {
		t.Fatal("expected a compile error")
	}
	if _, err := NewOrgSelector(`org.name`); err == nil {
		t.Fatal("expected a non-bool expression to be rejected")
	}
	if _, err := NewOrgSelector(`unknown.field == 1`); err == nil {
		t.Fatal("expected an unknown variable to be rejected")
	}
}

func TestOrgsAdministeredByMatching(t *testing.T) {
	f := newFixture(t)
	tree := f.buildSampleTree(t)
	ctx := context.Background()

	resolver := NewPermissionResolver(f.store, staticGroups(map[string][]string{
		"admin2": {"regional coordinator"},
	}))
	if _, err := resolver.Grant(ctx, "admin2", "regional coordinator", tree.regional1.ID); err != nil {
		t.Fatalf("grant: %v", err)
	}

	orgs, err := resolver.OrgsAdministeredByMatching(ctx, "admin2", `org.type == "Service Site"`)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(orgs) != 2 || !containsOrg(orgs, tree.site1.ID) || !containsOrg(orgs, tree.site2.ID) {
		t.Fatalf("expected the two sites, got %v", orgIDs(orgs))
	}

	orgs, err = resolver.OrgsAdministeredByMatching(ctx, "admin2", `org.name.startsWith("test site org 1")`)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(orgs) != 1 || orgs[0].ID != tree.site1.ID {
		t.Fatalf("expected only site1, got %v", orgIDs(orgs))
	}

	if _, err := resolver.OrgsAdministeredByMatching(ctx, "admin2", `org.name`); err == nil {
		t.Fatal("expected a selector error to propagate")
	}
}
