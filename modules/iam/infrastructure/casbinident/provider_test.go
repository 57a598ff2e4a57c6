package casbinident

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"testing"
)

func TestNewFromMemberships(t *testing.T) {
	p, err := NewFromMemberships(map[string][]string{
		"alice": {"superadmin"},
		"bob":   {"regional coordinator", "site coordinator"},
	})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}

	groups, err := p.GroupsForUser(context.Background(), "bob")
	if err != nil {
		t.Fatalf("groups for user: %v", err)
	}
	if len(groups) != 2 || !slices.Contains(groups, "regional coordinator") || !slices.Contains(groups, "site coordinator") {
		t.Fatalf("unexpected groups: %v", groups)
	}

	groups, err = p.GroupsForUser(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("groups for user: %v", err)
	}
	if len(groups) != 0 {
		t.Fatalf("expected no groups for an unknown user, got %v", groups)
	}
}

func TestNewFromPolicyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.csv")
	policy := "g, alice, superadmin\ng, bob, regional coordinator\n"
	if err := os.WriteFile(path, []byte(policy), 0o600); err != nil {
		t.Fatalf("write policy: %v", err)
	}

	p, err := New(path)
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}

	groups, err := p.GroupsForUser(context.Background(), "alice")
	if err != nil {
		t.Fatalf("groups for user: %v", err)
	}
	if len(groups) != 1 || groups[0] != "superadmin" {
		t.Fatalf("unexpected groups: %v", groups)
	}
}
