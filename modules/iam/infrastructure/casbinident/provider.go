// Package casbinident resolves group membership from casbin grouping
// policies: one g(user, group) rule per membership.
package casbinident

import (
	"context"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	fileadapter "github.com/casbin/casbin/v2/persist/file-adapter"

	"github.com/jacksonlee411/orgtree/modules/orgtree/domain/ports"
)

const groupingModel = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && r.obj == p.obj && r.act == p.act
`

type Provider struct {
	enforcer *casbin.Enforcer
}

var _ ports.IdentityProvider = (*Provider)(nil)

// New loads grouping policies from a casbin policy file.
func New(policyPath string) (*Provider, error) {
	m, err := model.NewModelFromString(groupingModel)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewEnforcer(m)
	if err != nil {
		return nil, err
	}
	enforcer.SetAdapter(fileadapter.NewAdapter(policyPath))
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	return &Provider{enforcer: enforcer}, nil
}

// NewFromMemberships builds a provider from a user -> groups map, for
// tests and for configs that inline memberships.
func NewFromMemberships(memberships map[string][]string) (*Provider, error) {
	m, err := model.NewModelFromString(groupingModel)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewEnforcer(m)
	if err != nil {
		return nil, err
	}
	for user, groups := range memberships {
		for _, group := range groups {
			if _, err := enforcer.AddGroupingPolicy(user, group); err != nil {
				return nil, err
			}
		}
	}
	return &Provider{enforcer: enforcer}, nil
}

func (p *Provider) GroupsForUser(ctx context.Context, userID string) ([]string, error) {
	return p.enforcer.GetRolesForUser(userID)
}
