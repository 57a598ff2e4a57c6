package ports

import (
	"context"
	"errors"

	"github.com/jacksonlee411/orgtree/modules/orgtree/domain/types"
)

var (
	ErrOrgNotFound     = errors.New("org_not_found")
	ErrOrgTypeNotFound = errors.New("org_type_not_found")
	ErrRoleNotFound    = errors.New("role_not_found")
)

// RelationFilter selects closure rows. Nil / empty fields are ignored;
// set fields combine with AND.
type RelationFilter struct {
	AncestorID   *int64
	DescendantID *int64
	AncestorIn   []int64
	DescendantIn []int64
	Depth        *int
	MinDepth     *int
}

type RelationOrder int

const (
	RelationOrderNone RelationOrder = iota
	RelationOrderDepthAsc
)

// OrgFilter selects orgs. Live-ness (active, not deleted) is deliberately
// absent: the services layer applies it in one shared place.
type OrgFilter struct {
	IDs    []int64
	TypeID *int64
}

type OrgOrder int

const (
	OrgOrderNone OrgOrder = iota
	OrgOrderIDAsc
	OrgOrderNameAsc
)

// RoleFilter selects role grants.
type RoleFilter struct {
	UserID  *string
	GroupIn []string
	OrgID   *int64
}

// RelationReader is the read surface shared by the store and by an open
// transaction. Query results are deterministically ordered: relations by
// (depth, ancestor, descendant) when depth order is requested, orgs per
// the requested OrgOrder.
type RelationReader interface {
	GetOrg(ctx context.Context, id int64) (types.Org, error)
	QueryOrgs(ctx context.Context, filter OrgFilter, order OrgOrder) ([]types.Org, error)
	QueryRelations(ctx context.Context, filter RelationFilter, order RelationOrder) ([]types.OrgRelation, error)
	QueryRoles(ctx context.Context, filter RoleFilter) ([]types.OrgRole, error)
}

// RelationTx is the write surface available inside a WithinTx scope.
// Reads through it observe the transaction's own uncommitted writes.
type RelationTx interface {
	RelationReader

	InsertOrg(ctx context.Context, name string, typeID int64) (types.Org, error)
	UpdateOrg(ctx context.Context, org types.Org) error

	// InsertRelation upserts on (ancestor, descendant).
	InsertRelation(ctx context.Context, rel types.OrgRelation) error
	DeleteRelations(ctx context.Context, filter RelationFilter) (int64, error)
}

// RelationStore is the transactional persistence contract for the org
// tree. WithinTx commits when fn returns nil and rolls back otherwise;
// no partial write is ever visible outside the transaction boundary.
type RelationStore interface {
	RelationReader

	InsertOrgType(ctx context.Context, name string) (types.OrgType, error)
	QueryOrgTypes(ctx context.Context) ([]types.OrgType, error)

	InsertRole(ctx context.Context, role types.OrgRole) error
	DeleteRole(ctx context.Context, id string) error

	WithinTx(ctx context.Context, fn func(tx RelationTx) error) error
}
