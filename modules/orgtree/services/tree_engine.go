package services

import (
	"context"
	"fmt"

	"github.com/jacksonlee411/orgtree/modules/orgtree/domain/ports"
	"github.com/jacksonlee411/orgtree/modules/orgtree/domain/types"
	"github.com/jacksonlee411/orgtree/pkg/treeerr"
)

// TreeEngine owns every structural mutation of the closure table. Each
// operation runs inside a single store transaction; on error the tree is
// left exactly as before the call.
type TreeEngine struct {
	store ports.RelationStore
}

func NewTreeEngine(store ports.RelationStore) *TreeEngine {
	return &TreeEngine{store: store}
}

func (e *TreeEngine) CreateOrgType(ctx context.Context, name string) (types.OrgType, error) {
	return e.store.InsertOrgType(ctx, name)
}

// CreateOrg inserts the org and its depth-0 self-relation in one
// transaction. Storing the self-relation makes subtree queries that
// include the subtree root a single closure lookup.
func (e *TreeEngine) CreateOrg(ctx context.Context, name string, typeID int64) (types.Org, error) {
	var org types.Org
	err := e.store.WithinTx(ctx, func(tx ports.RelationTx) error {
		var err error
		org, err = tx.InsertOrg(ctx, name, typeID)
		if err != nil {
			return err
		}
		return tx.InsertRelation(ctx, types.OrgRelation{
			AncestorID:   org.ID,
			DescendantID: org.ID,
			Depth:        0,
		})
	})
	if err != nil {
		return types.Org{}, err
	}
	return org, nil
}

// SetActive toggles the active flag without touching tree structure.
func (e *TreeEngine) SetActive(ctx context.Context, orgID int64, active bool) error {
	return e.store.WithinTx(ctx, func(tx ports.RelationTx) error {
		org, err := tx.GetOrg(ctx, orgID)
		if err != nil {
			return err
		}
		org.Active = active
		return tx.UpdateOrg(ctx, org)
	})
}

// SoftDelete marks the org deleted. Every strict descendant must already
// be deleted; a live one fails the call with an InvariantViolation and
// nothing changes. Relation rows are kept so the structure stays
// recoverable for audit.
func (e *TreeEngine) SoftDelete(ctx context.Context, orgID int64) error {
	return e.store.WithinTx(ctx, func(tx ports.RelationTx) error {
		org, err := tx.GetOrg(ctx, orgID)
		if err != nil {
			return err
		}

		minDepth := 1
		rels, err := tx.QueryRelations(ctx, ports.RelationFilter{
			AncestorID: &orgID,
			MinDepth:   &minDepth,
		}, ports.RelationOrderNone)
		if err != nil {
			return err
		}
		if len(rels) > 0 {
			ids := make([]int64, 0, len(rels))
			for _, rel := range rels {
				ids = append(ids, rel.DescendantID)
			}
			descendants, err := tx.QueryOrgs(ctx, ports.OrgFilter{IDs: ids}, ports.OrgOrderNone)
			if err != nil {
				return err
			}
			for _, d := range descendants {
				if d.Active && !d.Deleted {
					return treeerr.NewInvariantViolation(
						fmt.Sprintf("cannot delete org %d: descendant org %d is not deleted", orgID, d.ID))
				}
			}
		}

		org.Deleted = true
		return tx.UpdateOrg(ctx, org)
	})
}

// AddChild splices child's subtree under parent. Idempotent: a second
// call with the same pair is a no-op. Returns a CycleError, before any
// write, when parent lies inside child's own subtree.
func (e *TreeEngine) AddChild(ctx context.Context, parentID, childID int64) error {
	return e.store.WithinTx(ctx, func(tx ports.RelationTx) error {
		return spliceChild(ctx, tx, parentID, childID)
	})
}

// Orphan detaches the org's subtree from every strict ancestor, leaving
// it an independent root tree with its internal depths unchanged.
// Idempotent on an org that is already a root.
func (e *TreeEngine) Orphan(ctx context.Context, orgID int64) error {
	return e.store.WithinTx(ctx, func(tx ports.RelationTx) error {
		return detachSubtree(ctx, tx, orgID)
	})
}

// Move relocates the org's subtree under a new parent. Detach and splice
// share one transaction, so a failed splice (say, a cycle) rolls the
// detach back and no reader ever sees the subtree rootless.
func (e *TreeEngine) Move(ctx context.Context, orgID, newParentID int64) error {
	return e.store.WithinTx(ctx, func(tx ports.RelationTx) error {
		if err := detachSubtree(ctx, tx, orgID); err != nil {
			return err
		}
		return spliceChild(ctx, tx, newParentID, orgID)
	})
}

func spliceChild(ctx context.Context, tx ports.RelationTx, parentID, childID int64) error {
	if parentID == childID {
		return treeerr.NewCycle(fmt.Sprintf("cannot make org %d a child of itself", childID))
	}

	depthOne := 1
	direct, err := tx.QueryRelations(ctx, ports.RelationFilter{
		AncestorID:   &parentID,
		DescendantID: &childID,
		Depth:        &depthOne,
	}, ports.RelationOrderNone)
	if err != nil {
		return err
	}
	if len(direct) > 0 {
		return nil
	}

	// A (child, parent, *) row means the new parent sits inside the
	// child's own subtree; splicing would corrupt the depth invariant.
	inside, err := tx.QueryRelations(ctx, ports.RelationFilter{
		AncestorID:   &childID,
		DescendantID: &parentID,
	}, ports.RelationOrderNone)
	if err != nil {
		return err
	}
	if len(inside) > 0 {
		return treeerr.NewCycle(fmt.Sprintf("org %d is a descendant of org %d", parentID, childID))
	}

	subtree, err := tx.QueryRelations(ctx, ports.RelationFilter{
		AncestorID: &childID,
	}, ports.RelationOrderDepthAsc)
	if err != nil {
		return err
	}
	above, err := tx.QueryRelations(ctx, ports.RelationFilter{
		DescendantID: &parentID,
	}, ports.RelationOrderDepthAsc)
	if err != nil {
		return err
	}

	// Every ancestor of parent (parent itself at depth 0) gains every
	// org of child's subtree (child itself at depth 0).
	for _, anc := range above {
		for _, sub := range subtree {
			err := tx.InsertRelation(ctx, types.OrgRelation{
				AncestorID:   anc.AncestorID,
				DescendantID: sub.DescendantID,
				Depth:        anc.Depth + sub.Depth + 1,
			})
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func detachSubtree(ctx context.Context, tx ports.RelationTx, orgID int64) error {
	minDepth := 1
	above, err := tx.QueryRelations(ctx, ports.RelationFilter{
		DescendantID: &orgID,
		MinDepth:     &minDepth,
	}, ports.RelationOrderNone)
	if err != nil {
		return err
	}
	if len(above) == 0 {
		// already a root
		return nil
	}

	subtree, err := tx.QueryRelations(ctx, ports.RelationFilter{
		AncestorID: &orgID,
	}, ports.RelationOrderNone)
	if err != nil {
		return err
	}

	ancestors := make([]int64, 0, len(above))
	for _, rel := range above {
		ancestors = append(ancestors, rel.AncestorID)
	}
	descendants := make([]int64, 0, len(subtree))
	for _, rel := range subtree {
		descendants = append(descendants, rel.DescendantID)
	}

	_, err = tx.DeleteRelations(ctx, ports.RelationFilter{
		AncestorIn:   ancestors,
		DescendantIn: descendants,
	})
	return err
}
