package services

import (
	"context"
	"slices"
	"sort"

	"github.com/jacksonlee411/orgtree/modules/orgtree/domain/ports"
	"github.com/jacksonlee411/orgtree/modules/orgtree/domain/types"
	"github.com/jacksonlee411/orgtree/pkg/uuidv7"
)

// newRoleID is swapped out by tests.
var newRoleID = uuidv7.NewString

// PermissionResolver computes the set of orgs a user may administer:
// the union of the descendant subtrees reachable through the user's role
// grants, or every live org for a superadmin. Its correctness rests
// entirely on TreeQuery returning the exact closure.
type PermissionResolver struct {
	store    ports.RelationStore
	identity ports.IdentityProvider
	query    *TreeQuery
}

func NewPermissionResolver(store ports.RelationStore, identity ports.IdentityProvider) *PermissionResolver {
	return &PermissionResolver{
		store:    store,
		identity: identity,
		query:    NewTreeQuery(store),
	}
}

// OrgsAdministeredBy returns the live orgs the user directly or
// indirectly administers, deduplicated and ordered by name. A non-nil
// typeFilter keeps only orgs of that type. Grants whose group the user
// no longer belongs to are ignored; grants at deleted orgs resolve to a
// filtered-out subtree.
func (r *PermissionResolver) OrgsAdministeredBy(ctx context.Context, userID string, typeFilter *int64) ([]types.Org, error) {
	groups, err := r.identity.GroupsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	if slices.Contains(groups, ports.SuperadminGroup) {
		all, err := r.store.QueryOrgs(ctx, ports.OrgFilter{TypeID: typeFilter}, ports.OrgOrderNameAsc)
		if err != nil {
			return nil, err
		}
		out := make([]types.Org, 0, len(all))
		for _, org := range all {
			if alive(org) {
				out = append(out, org)
			}
		}
		return out, nil
	}

	if len(groups) == 0 {
		return []types.Org{}, nil
	}

	roles, err := r.store.QueryRoles(ctx, ports.RoleFilter{
		UserID:  &userID,
		GroupIn: groups,
	})
	if err != nil {
		return nil, err
	}

	seen := make(map[int64]struct{})
	out := make([]types.Org, 0)
	for _, role := range roles {
		subtree, err := r.query.GetDescendants(ctx, role.OrgID, true)
		if err != nil {
			return nil, err
		}
		for _, org := range subtree {
			if typeFilter != nil && org.TypeID != *typeFilter {
				continue
			}
			if _, ok := seen[org.ID]; ok {
				continue
			}
			seen[org.ID] = struct{}{}
			out = append(out, org)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// OrgsAdministeredByMatching resolves the user's administered orgs and
// keeps those matching the CEL expression, e.g.
// `org.type == "Service Site" && org.name.startsWith("North")`.
func (r *PermissionResolver) OrgsAdministeredByMatching(ctx context.Context, userID string, expr string) ([]types.Org, error) {
	selector, err := NewOrgSelector(expr)
	if err != nil {
		return nil, err
	}

	orgs, err := r.OrgsAdministeredBy(ctx, userID, nil)
	if err != nil {
		return nil, err
	}

	orgTypes, err := r.store.QueryOrgTypes(ctx)
	if err != nil {
		return nil, err
	}
	typeNames := make(map[int64]string, len(orgTypes))
	for _, ot := range orgTypes {
		typeNames[ot.ID] = ot.Name
	}

	out := make([]types.Org, 0, len(orgs))
	for _, org := range orgs {
		ok, err := selector.Match(org, typeNames[org.TypeID])
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, org)
		}
	}
	return out, nil
}

// Grant delegates administrative scope rooted at orgID to the user under
// the given group. The grant only takes effect while the user belongs to
// that group.
func (r *PermissionResolver) Grant(ctx context.Context, userID, group string, orgID int64) (types.OrgRole, error) {
	id, err := newRoleID()
	if err != nil {
		return types.OrgRole{}, err
	}
	role := types.OrgRole{
		ID:     id,
		UserID: userID,
		Group:  group,
		OrgID:  orgID,
	}
	if err := r.store.InsertRole(ctx, role); err != nil {
		return types.OrgRole{}, err
	}
	return role, nil
}

func (r *PermissionResolver) Revoke(ctx context.Context, roleID string) error {
	return r.store.DeleteRole(ctx, roleID)
}
