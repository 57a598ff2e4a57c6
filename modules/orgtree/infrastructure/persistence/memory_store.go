// Package persistence provides the RelationStore backends: PostgreSQL
// (pgx), embedded SQLite (modernc), and an in-memory store used for
// tests and ephemeral environments.
package persistence

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/jacksonlee411/orgtree/modules/orgtree/domain/ports"
	"github.com/jacksonlee411/orgtree/modules/orgtree/domain/types"
)

var _ ports.RelationStore = (*MemoryStore)(nil)

type relationKey struct {
	ancestor   int64
	descendant int64
}

type memoryState struct {
	orgs       map[int64]types.Org
	orgTypes   map[int64]types.OrgType
	relations  map[relationKey]int
	roles      map[string]types.OrgRole
	nextOrgID  int64
	nextTypeID int64
}

func (s *memoryState) clone() *memoryState {
	out := &memoryState{
		orgs:       make(map[int64]types.Org, len(s.orgs)),
		orgTypes:   make(map[int64]types.OrgType, len(s.orgTypes)),
		relations:  make(map[relationKey]int, len(s.relations)),
		roles:      make(map[string]types.OrgRole, len(s.roles)),
		nextOrgID:  s.nextOrgID,
		nextTypeID: s.nextTypeID,
	}
	for id, org := range s.orgs {
		out.orgs[id] = org
	}
	for id, ot := range s.orgTypes {
		out.orgTypes[id] = ot
	}
	for key, depth := range s.relations {
		out.relations[key] = depth
	}
	for id, role := range s.roles {
		out.roles[id] = role
	}
	return out
}

// MemoryStore keeps the whole closure table in process memory.
// Transactions operate on a copy of the state and commit by swapping it
// in, so concurrent readers observe either the pre- or post-mutation
// state in full, never an interleave.
type MemoryStore struct {
	mu    sync.RWMutex
	state *memoryState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: &memoryState{
		orgs:       map[int64]types.Org{},
		orgTypes:   map[int64]types.OrgType{},
		relations:  map[relationKey]int{},
		roles:      map[string]types.OrgRole{},
		nextOrgID:  1,
		nextTypeID: 1,
	}}
}

func (s *MemoryStore) WithinTx(ctx context.Context, fn func(tx ports.RelationTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	draft := s.state.clone()
	if err := fn(&memoryTx{state: draft}); err != nil {
		return err
	}
	s.state = draft
	return nil
}

func (s *MemoryStore) GetOrg(ctx context.Context, id int64) (types.Org, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getOrg(s.state, id)
}

func (s *MemoryStore) QueryOrgs(ctx context.Context, filter ports.OrgFilter, order ports.OrgOrder) ([]types.Org, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryOrgs(s.state, filter, order), nil
}

func (s *MemoryStore) QueryRelations(ctx context.Context, filter ports.RelationFilter, order ports.RelationOrder) ([]types.OrgRelation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryRelations(s.state, filter, order), nil
}

func (s *MemoryStore) QueryRoles(ctx context.Context, filter ports.RoleFilter) ([]types.OrgRole, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryRoles(s.state, filter), nil
}

func (s *MemoryStore) InsertOrgType(ctx context.Context, name string) (types.OrgType, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ot := types.OrgType{ID: s.state.nextTypeID, Name: name}
	s.state.nextTypeID++
	s.state.orgTypes[ot.ID] = ot
	return ot, nil
}

func (s *MemoryStore) QueryOrgTypes(ctx context.Context) ([]types.OrgType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.OrgType, 0, len(s.state.orgTypes))
	for _, ot := range s.state.orgTypes {
		out = append(out, ot)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) InsertRole(ctx context.Context, role types.OrgRole) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.roles[role.ID] = role
	return nil
}

func (s *MemoryStore) DeleteRole(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.state.roles[id]; !ok {
		return ports.ErrRoleNotFound
	}
	delete(s.state.roles, id)
	return nil
}

// memoryTx mutates a private clone of the store state; the store swaps
// the clone in on commit.
type memoryTx struct {
	state *memoryState
}

var _ ports.RelationTx = (*memoryTx)(nil)

func (t *memoryTx) GetOrg(ctx context.Context, id int64) (types.Org, error) {
	return getOrg(t.state, id)
}

func (t *memoryTx) QueryOrgs(ctx context.Context, filter ports.OrgFilter, order ports.OrgOrder) ([]types.Org, error) {
	return queryOrgs(t.state, filter, order), nil
}

func (t *memoryTx) QueryRelations(ctx context.Context, filter ports.RelationFilter, order ports.RelationOrder) ([]types.OrgRelation, error) {
	return queryRelations(t.state, filter, order), nil
}

func (t *memoryTx) QueryRoles(ctx context.Context, filter ports.RoleFilter) ([]types.OrgRole, error) {
	return queryRoles(t.state, filter), nil
}

func (t *memoryTx) InsertOrg(ctx context.Context, name string, typeID int64) (types.Org, error) {
	org := types.Org{
		ID:     t.state.nextOrgID,
		Name:   name,
		TypeID: typeID,
		Active: true,
	}
	t.state.nextOrgID++
	t.state.orgs[org.ID] = org
	return org, nil
}

func (t *memoryTx) UpdateOrg(ctx context.Context, org types.Org) error {
	if _, ok := t.state.orgs[org.ID]; !ok {
		return ports.ErrOrgNotFound
	}
	t.state.orgs[org.ID] = org
	return nil
}

func (t *memoryTx) InsertRelation(ctx context.Context, rel types.OrgRelation) error {
	t.state.relations[relationKey{rel.AncestorID, rel.DescendantID}] = rel.Depth
	return nil
}

func (t *memoryTx) DeleteRelations(ctx context.Context, filter ports.RelationFilter) (int64, error) {
	var deleted int64
	for key, depth := range t.state.relations {
		rel := types.OrgRelation{AncestorID: key.ancestor, DescendantID: key.descendant, Depth: depth}
		if relationMatches(rel, filter) {
			delete(t.state.relations, key)
			deleted++
		}
	}
	return deleted, nil
}

func getOrg(st *memoryState, id int64) (types.Org, error) {
	org, ok := st.orgs[id]
	if !ok {
		return types.Org{}, ports.ErrOrgNotFound
	}
	return org, nil
}

func queryOrgs(st *memoryState, filter ports.OrgFilter, order ports.OrgOrder) []types.Org {
	out := make([]types.Org, 0)
	for _, org := range st.orgs {
		if len(filter.IDs) > 0 && !slices.Contains(filter.IDs, org.ID) {
			continue
		}
		if filter.TypeID != nil && org.TypeID != *filter.TypeID {
			continue
		}
		out = append(out, org)
	}
	switch order {
	case ports.OrgOrderNameAsc:
		sort.Slice(out, func(i, j int) bool {
			if out[i].Name != out[j].Name {
				return out[i].Name < out[j].Name
			}
			return out[i].ID < out[j].ID
		})
	default:
		sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	}
	return out
}

func queryRelations(st *memoryState, filter ports.RelationFilter, order ports.RelationOrder) []types.OrgRelation {
	out := make([]types.OrgRelation, 0)
	for key, depth := range st.relations {
		rel := types.OrgRelation{AncestorID: key.ancestor, DescendantID: key.descendant, Depth: depth}
		if relationMatches(rel, filter) {
			out = append(out, rel)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if order == ports.RelationOrderDepthAsc && out[i].Depth != out[j].Depth {
			return out[i].Depth < out[j].Depth
		}
		if out[i].AncestorID != out[j].AncestorID {
			return out[i].AncestorID < out[j].AncestorID
		}
		return out[i].DescendantID < out[j].DescendantID
	})
	return out
}

func queryRoles(st *memoryState, filter ports.RoleFilter) []types.OrgRole {
	out := make([]types.OrgRole, 0)
	for _, role := range st.roles {
		if filter.UserID != nil && role.UserID != *filter.UserID {
			continue
		}
		if len(filter.GroupIn) > 0 && !slices.Contains(filter.GroupIn, role.Group) {
			continue
		}
		if filter.OrgID != nil && role.OrgID != *filter.OrgID {
			continue
		}
		out = append(out, role)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func relationMatches(rel types.OrgRelation, f ports.RelationFilter) bool {
	if f.AncestorID != nil && rel.AncestorID != *f.AncestorID {
		return false
	}
	if f.DescendantID != nil && rel.DescendantID != *f.DescendantID {
		return false
	}
	if len(f.AncestorIn) > 0 && !slices.Contains(f.AncestorIn, rel.AncestorID) {
		return false
	}
	if len(f.DescendantIn) > 0 && !slices.Contains(f.DescendantIn, rel.DescendantID) {
		return false
	}
	if f.Depth != nil && rel.Depth != *f.Depth {
		return false
	}
	if f.MinDepth != nil && rel.Depth < *f.MinDepth {
		return false
	}
	return true
}
