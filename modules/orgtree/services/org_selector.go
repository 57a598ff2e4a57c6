package services

import (
	"errors"
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/jacksonlee411/orgtree/modules/orgtree/domain/types"
)

var newOrgSelectorEnv = func() (*cel.Env, error) {
	return cel.NewEnv(cel.Variable("org", cel.MapType(cel.StringType, cel.DynType)))
}

// OrgSelector is a compiled CEL predicate over org attributes. The
// expression sees a single `org` map with keys id, name, type, active
// and deleted, and must evaluate to a bool.
type OrgSelector struct {
	program cel.Program
}

func NewOrgSelector(expr string) (*OrgSelector, error) {
	env, err := newOrgSelectorEnv()
	if err != nil {
		return nil, err
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile org selector: %w", issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, errors.New("org selector must evaluate to a bool")
	}
	program, err := env.Program(ast)
	if err != nil {
		return nil, err
	}
	return &OrgSelector{program: program}, nil
}

func (s *OrgSelector) Match(org types.Org, typeName string) (bool, error) {
	out, _, err := s.program.Eval(map[string]any{
		"org": map[string]any{
			"id":      org.ID,
			"name":    org.Name,
			"type":    typeName,
			"active":  org.Active,
			"deleted": org.Deleted,
		},
	})
	if err != nil {
		return false, err
	}
	matched, ok := out.Value().(bool)
	if !ok {
		return false, errors.New("org selector returned a non-bool")
	}
	return matched, nil
}
