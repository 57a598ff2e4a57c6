package persistence

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/jacksonlee411/orgtree/modules/orgtree/domain/ports"
	"github.com/jacksonlee411/orgtree/modules/orgtree/domain/types"
)

func newSQLiteFixture(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "orgtree.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteOrgRoundTrip(t *testing.T) {
	store := newSQLiteFixture(t)
	ctx := context.Background()

	ot, err := store.InsertOrgType(ctx, "Service Site")
	if err != nil {
		t.Fatalf("insert type: %v", err)
	}
	org := seedOrg(t, store, "Boston Site", ot.ID)

	got, err := store.GetOrg(ctx, org.ID)
	if err != nil {
		t.Fatalf("get org: %v", err)
	}
	if got.Name != "Boston Site" || got.TypeID != ot.ID || !got.Active || got.Deleted {
		t.Fatalf("unexpected org: %+v", got)
	}

	got.Active = false
	got.Deleted = true
	err = store.WithinTx(ctx, func(tx ports.RelationTx) error {
		return tx.UpdateOrg(ctx, got)
	})
	if err != nil {
		t.Fatalf("update org: %v", err)
	}
	got, err = store.GetOrg(ctx, org.ID)
	if err != nil {
		t.Fatalf("get org: %v", err)
	}
	if got.Active || !got.Deleted {
		t.Fatalf("expected update persisted, got %+v", got)
	}

	if _, err := store.GetOrg(ctx, org.ID+100); !errors.Is(err, ports.ErrOrgNotFound) {
		t.Fatalf("expected org_not_found, got: %v", err)
	}
}

func TestSQLiteTxRollbackOnError(t *testing.T) {
	store := newSQLiteFixture(t)
	ctx := context.Background()

	ot, err := store.InsertOrgType(ctx, "Service Site")
	if err != nil {
		t.Fatalf("insert type: %v", err)
	}

	boom := errors.New("boom")
	err = store.WithinTx(ctx, func(tx ports.RelationTx) error {
		org, err := tx.InsertOrg(ctx, "ghost", ot.ID)
		if err != nil {
			return err
		}
		if err := tx.InsertRelation(ctx, types.OrgRelation{AncestorID: org.ID, DescendantID: org.ID}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected the callback error, got: %v", err)
	}

	orgs, err := store.QueryOrgs(ctx, ports.OrgFilter{}, ports.OrgOrderIDAsc)
	if err != nil {
		t.Fatalf("query orgs: %v", err)
	}
	if len(orgs) != 0 {
		t.Fatalf("expected rollback to discard the insert, got %d orgs", len(orgs))
	}
	rels, err := store.QueryRelations(ctx, ports.RelationFilter{}, ports.RelationOrderNone)
	if err != nil {
		t.Fatalf("query relations: %v", err)
	}
	if len(rels) != 0 {
		t.Fatalf("expected no relations after rollback, got %v", rels)
	}
}

func TestSQLiteInsertRelationUpserts(t *testing.T) {
	store := newSQLiteFixture(t)
	ctx := context.Background()

	ot, _ := store.InsertOrgType(ctx, "Service Site")
	a := seedOrg(t, store, "a", ot.ID)
	b := seedOrg(t, store, "b", ot.ID)

	for _, depth := range []int{1, 3} {
		err := store.WithinTx(ctx, func(tx ports.RelationTx) error {
			return tx.InsertRelation(ctx, types.OrgRelation{AncestorID: a.ID, DescendantID: b.ID, Depth: depth})
		})
		if err != nil {
			t.Fatalf("insert relation: %v", err)
		}
	}

	rels, err := store.QueryRelations(ctx, ports.RelationFilter{
		AncestorID:   int64Ptr(a.ID),
		DescendantID: int64Ptr(b.ID),
	}, ports.RelationOrderNone)
	if err != nil {
		t.Fatalf("query relations: %v", err)
	}
	if len(rels) != 1 || rels[0].Depth != 3 {
		t.Fatalf("expected a single upserted row at depth 3, got %v", rels)
	}
}

func TestSQLiteRelationFilters(t *testing.T) {
	store := newSQLiteFixture(t)
	ctx := context.Background()

	ot, _ := store.InsertOrgType(ctx, "Service Site")
	a := seedOrg(t, store, "a", ot.ID)
	b := seedOrg(t, store, "b", ot.ID)
	c := seedOrg(t, store, "c", ot.ID)

	err := store.WithinTx(ctx, func(tx ports.RelationTx) error {
		for _, rel := range []types.OrgRelation{
			{AncestorID: a.ID, DescendantID: b.ID, Depth: 1},
			{AncestorID: a.ID, DescendantID: c.ID, Depth: 2},
			{AncestorID: b.ID, DescendantID: c.ID, Depth: 1},
		} {
			if err := tx.InsertRelation(ctx, rel); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed relations: %v", err)
	}

	rels, err := store.QueryRelations(ctx, ports.RelationFilter{
		AncestorIn: []int64{a.ID},
		MinDepth:   intPtr(1),
	}, ports.RelationOrderDepthAsc)
	if err != nil {
		t.Fatalf("query relations: %v", err)
	}
	if len(rels) != 2 || rels[0].DescendantID != b.ID || rels[1].DescendantID != c.ID {
		t.Fatalf("expected a->b then a->c, got %v", rels)
	}

	var deleted int64
	err = store.WithinTx(ctx, func(tx ports.RelationTx) error {
		var err error
		deleted, err = tx.DeleteRelations(ctx, ports.RelationFilter{
			AncestorIn:   []int64{a.ID},
			DescendantIn: []int64{b.ID, c.ID},
		})
		return err
	})
	if err != nil {
		t.Fatalf("delete relations: %v", err)
	}
	if deleted != 2 {
		t.Fatalf("expected 2 rows deleted, got %d", deleted)
	}
}

func TestSQLiteRoles(t *testing.T) {
	store := newSQLiteFixture(t)
	ctx := context.Background()

	ot, _ := store.InsertOrgType(ctx, "Service Site")
	a := seedOrg(t, store, "a", ot.ID)
	b := seedOrg(t, store, "b", ot.ID)

	roles := []types.OrgRole{
		{ID: "r1", UserID: "u1", Group: "regional coordinator", OrgID: a.ID},
		{ID: "r2", UserID: "u1", Group: "site coordinator", OrgID: b.ID},
		{ID: "r3", UserID: "u2", Group: "regional coordinator", OrgID: a.ID},
	}
	for _, role := range roles {
		if err := store.InsertRole(ctx, role); err != nil {
			t.Fatalf("insert role: %v", err)
		}
	}

	got, err := store.QueryRoles(ctx, ports.RoleFilter{
		UserID:  strPtr("u1"),
		GroupIn: []string{"regional coordinator", "site coordinator"},
	})
	if err != nil {
		t.Fatalf("query roles: %v", err)
	}
	if len(got) != 2 || got[0].ID != "r1" || got[1].ID != "r2" {
		t.Fatalf("expected [r1 r2], got %v", got)
	}

	if err := store.DeleteRole(ctx, "r2"); err != nil {
		t.Fatalf("delete role: %v", err)
	}
	if err := store.DeleteRole(ctx, "r2"); !errors.Is(err, ports.ErrRoleNotFound) {
		t.Fatalf("expected role_not_found, got: %v", err)
	}
}

func TestRelationWherePlaceholders(t *testing.T) {
	filter := ports.RelationFilter{
		AncestorID:   int64Ptr(1),
		DescendantIn: []int64{2, 3},
		MinDepth:     intPtr(1),
	}

	where, args := relationWhere(filter, questionPlaceholders)
	if where != " WHERE ancestor_id = ? AND descendant_id IN (?, ?) AND depth >= ?" {
		t.Fatalf("unexpected sqlite where: %q", where)
	}
	if len(args) != 4 {
		t.Fatalf("expected 4 args, got %v", args)
	}

	where, _ = relationWhere(filter, dollarPlaceholders)
	if where != " WHERE ancestor_id = $1 AND descendant_id IN ($2, $3) AND depth >= $4" {
		t.Fatalf("unexpected postgres where: %q", where)
	}

	where, args = relationWhere(ports.RelationFilter{}, questionPlaceholders)
	if where != "" || args != nil {
		t.Fatalf("expected empty where for empty filter, got %q %v", where, args)
	}
}
