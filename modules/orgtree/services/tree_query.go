package services

import (
	"context"
	"fmt"

	"github.com/jacksonlee411/orgtree/modules/orgtree/domain/ports"
	"github.com/jacksonlee411/orgtree/modules/orgtree/domain/types"
	"github.com/jacksonlee411/orgtree/pkg/treeerr"
)

// TreeQuery answers read-only traversal requests against the closure
// table. Absent results are empty values, never errors; only broken
// invariants surface as errors.
type TreeQuery struct {
	store ports.RelationReader
}

func NewTreeQuery(store ports.RelationReader) *TreeQuery {
	return &TreeQuery{store: store}
}

// alive is the one live-row predicate shared by every traversal path.
func alive(o types.Org) bool { return o.Active && !o.Deleted }

// GetAncestors returns the org's live ancestors ordered by ascending
// depth: nearest relative first, root last.
func (q *TreeQuery) GetAncestors(ctx context.Context, orgID int64, includeSelf bool) ([]types.Org, error) {
	filter := ports.RelationFilter{DescendantID: &orgID}
	if !includeSelf {
		minDepth := 1
		filter.MinDepth = &minDepth
	}
	rels, err := q.store.QueryRelations(ctx, filter, ports.RelationOrderDepthAsc)
	if err != nil {
		return nil, err
	}
	return q.liveOrgsInOrder(ctx, rels, ancestorSide)
}

// GetDescendants returns the org's live subtree ordered by ascending
// depth: the org itself (when included) and its children first, the
// deepest orgs last.
func (q *TreeQuery) GetDescendants(ctx context.Context, orgID int64, includeSelf bool) ([]types.Org, error) {
	filter := ports.RelationFilter{AncestorID: &orgID}
	if !includeSelf {
		minDepth := 1
		filter.MinDepth = &minDepth
	}
	rels, err := q.store.QueryRelations(ctx, filter, ports.RelationOrderDepthAsc)
	if err != nil {
		return nil, err
	}
	return q.liveOrgsInOrder(ctx, rels, descendantSide)
}

// GetParent returns the unique depth-1 ancestor, or nil for a root.
// More than one parent row is data corruption and yields a fatal
// ConsistencyError; the lookup does not filter live-ness, a deleted
// parent is still the structural parent.
func (q *TreeQuery) GetParent(ctx context.Context, orgID int64) (*types.Org, error) {
	depthOne := 1
	rels, err := q.store.QueryRelations(ctx, ports.RelationFilter{
		DescendantID: &orgID,
		Depth:        &depthOne,
	}, ports.RelationOrderNone)
	if err != nil {
		return nil, err
	}
	switch len(rels) {
	case 0:
		return nil, nil
	case 1:
		org, err := q.store.GetOrg(ctx, rels[0].AncestorID)
		if err != nil {
			return nil, err
		}
		return &org, nil
	default:
		return nil, treeerr.NewConsistency(
			fmt.Sprintf("found %d parents for org %d, this should never happen", len(rels), orgID))
	}
}

// GetChildren returns the org's live direct children ordered by name.
func (q *TreeQuery) GetChildren(ctx context.Context, orgID int64) ([]types.Org, error) {
	depthOne := 1
	rels, err := q.store.QueryRelations(ctx, ports.RelationFilter{
		AncestorID: &orgID,
		Depth:      &depthOne,
	}, ports.RelationOrderNone)
	if err != nil {
		return nil, err
	}
	if len(rels) == 0 {
		return []types.Org{}, nil
	}
	ids := make([]int64, 0, len(rels))
	for _, rel := range rels {
		ids = append(ids, rel.DescendantID)
	}
	orgs, err := q.store.QueryOrgs(ctx, ports.OrgFilter{IDs: ids}, ports.OrgOrderNameAsc)
	if err != nil {
		return nil, err
	}
	out := make([]types.Org, 0, len(orgs))
	for _, org := range orgs {
		if alive(org) {
			out = append(out, org)
		}
	}
	return out, nil
}

func (q *TreeQuery) HasChildren(ctx context.Context, orgID int64) (bool, error) {
	children, err := q.GetChildren(ctx, orgID)
	if err != nil {
		return false, err
	}
	return len(children) > 0, nil
}

// GetFirstAncestorByType walks UP the tree and returns the matching
// strict ancestor closest to the root (largest depth), or nil.
func (q *TreeQuery) GetFirstAncestorByType(ctx context.Context, orgID int64, typeID int64) (*types.Org, error) {
	ancestors, err := q.GetAncestors(ctx, orgID, false)
	if err != nil {
		return nil, err
	}
	// ascending depth, so the last match is the closest to the root
	for i := len(ancestors) - 1; i >= 0; i-- {
		if ancestors[i].TypeID == typeID {
			org := ancestors[i]
			return &org, nil
		}
	}
	return nil, nil
}

// GetFirstDescendantByType walks DOWN the tree breadth-first and returns
// the shallowest matching strict descendant, or nil.
func (q *TreeQuery) GetFirstDescendantByType(ctx context.Context, orgID int64, typeID int64) (*types.Org, error) {
	descendants, err := q.GetDescendants(ctx, orgID, false)
	if err != nil {
		return nil, err
	}
	for _, org := range descendants {
		if org.TypeID == typeID {
			match := org
			return &match, nil
		}
	}
	return nil, nil
}

type relationSide int

const (
	ancestorSide relationSide = iota
	descendantSide
)

// liveOrgsInOrder resolves one side of the given closure rows to live
// orgs, preserving the rows' order.
func (q *TreeQuery) liveOrgsInOrder(ctx context.Context, rels []types.OrgRelation, side relationSide) ([]types.Org, error) {
	if len(rels) == 0 {
		return []types.Org{}, nil
	}
	ids := make([]int64, 0, len(rels))
	for _, rel := range rels {
		if side == ancestorSide {
			ids = append(ids, rel.AncestorID)
		} else {
			ids = append(ids, rel.DescendantID)
		}
	}
	orgs, err := q.store.QueryOrgs(ctx, ports.OrgFilter{IDs: ids}, ports.OrgOrderNone)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]types.Org, len(orgs))
	for _, org := range orgs {
		byID[org.ID] = org
	}
	out := make([]types.Org, 0, len(rels))
	for _, id := range ids {
		org, ok := byID[id]
		if !ok || !alive(org) {
			continue
		}
		out = append(out, org)
	}
	return out, nil
}
