package persistence

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/jacksonlee411/orgtree/modules/orgtree/domain/ports"
	"github.com/jacksonlee411/orgtree/modules/orgtree/domain/types"
)

type pgBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

const pgDDL = `
CREATE TABLE IF NOT EXISTS org_types (
	id   BIGSERIAL PRIMARY KEY,
	name TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS orgs (
	id      BIGSERIAL PRIMARY KEY,
	name    TEXT    NOT NULL,
	type_id BIGINT  NOT NULL REFERENCES org_types(id),
	active  BOOLEAN NOT NULL DEFAULT TRUE,
	deleted BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE TABLE IF NOT EXISTS org_relations (
	ancestor_id   BIGINT NOT NULL REFERENCES orgs(id),
	descendant_id BIGINT NOT NULL REFERENCES orgs(id),
	depth         INT    NOT NULL CHECK (depth >= 0),
	PRIMARY KEY (ancestor_id, descendant_id)
);
CREATE INDEX IF NOT EXISTS idx_org_relations_descendant ON org_relations(descendant_id, depth);
CREATE TABLE IF NOT EXISTS org_roles (
	id         TEXT   PRIMARY KEY,
	user_id    TEXT   NOT NULL,
	group_name TEXT   NOT NULL,
	org_id     BIGINT NOT NULL REFERENCES orgs(id)
);
`

// PGStore implements the RelationStore against PostgreSQL. Every method
// runs in its own transaction; WithinTx exposes one transaction to the
// caller, and postgres row locking serializes conflicting splices.
type PGStore struct {
	pool pgBeginner
}

var _ ports.RelationStore = (*PGStore)(nil)

func NewPGStore(pool pgBeginner) *PGStore {
	return &PGStore{pool: pool}
}

// EnsureSchema creates the tables when they do not exist yet.
func (s *PGStore) EnsureSchema(ctx context.Context) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := tx.Exec(ctx, pgDDL); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PGStore) WithinTx(ctx context.Context, fn func(tx ports.RelationTx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PGStore) GetOrg(ctx context.Context, id int64) (types.Org, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return types.Org{}, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	org, err := pgGetOrg(ctx, tx, id)
	if err != nil {
		return types.Org{}, err
	}
	return org, tx.Commit(ctx)
}

func (s *PGStore) QueryOrgs(ctx context.Context, filter ports.OrgFilter, order ports.OrgOrder) ([]types.Org, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	out, err := pgQueryOrgs(ctx, tx, filter, order)
	if err != nil {
		return nil, err
	}
	return out, tx.Commit(ctx)
}

func (s *PGStore) QueryRelations(ctx context.Context, filter ports.RelationFilter, order ports.RelationOrder) ([]types.OrgRelation, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	out, err := pgQueryRelations(ctx, tx, filter, order)
	if err != nil {
		return nil, err
	}
	return out, tx.Commit(ctx)
}

func (s *PGStore) QueryRoles(ctx context.Context, filter ports.RoleFilter) ([]types.OrgRole, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	out, err := pgQueryRoles(ctx, tx, filter)
	if err != nil {
		return nil, err
	}
	return out, tx.Commit(ctx)
}

func (s *PGStore) InsertOrgType(ctx context.Context, name string) (types.OrgType, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return types.OrgType{}, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	var id int64
	if err := tx.QueryRow(ctx,
		`INSERT INTO org_types (name) VALUES ($1) RETURNING id`, name).Scan(&id); err != nil {
		return types.OrgType{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return types.OrgType{}, err
	}
	return types.OrgType{ID: id, Name: name}, nil
}

func (s *PGStore) QueryOrgTypes(ctx context.Context) ([]types.OrgType, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	rows, err := tx.Query(ctx, `SELECT id, name FROM org_types ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]types.OrgType, 0)
	for rows.Next() {
		var ot types.OrgType
		if err := rows.Scan(&ot.ID, &ot.Name); err != nil {
			return nil, err
		}
		out = append(out, ot)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, tx.Commit(ctx)
}

func (s *PGStore) InsertRole(ctx context.Context, role types.OrgRole) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := tx.Exec(ctx,
		`INSERT INTO org_roles (id, user_id, group_name, org_id) VALUES ($1, $2, $3, $4)`,
		role.ID, role.UserID, role.Group, role.OrgID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PGStore) DeleteRole(ctx context.Context, id string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	tag, err := tx.Exec(ctx, `DELETE FROM org_roles WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ports.ErrRoleNotFound
	}
	return tx.Commit(ctx)
}

type pgTx struct {
	tx pgx.Tx
}

var _ ports.RelationTx = (*pgTx)(nil)

func (t *pgTx) GetOrg(ctx context.Context, id int64) (types.Org, error) {
	return pgGetOrg(ctx, t.tx, id)
}

func (t *pgTx) QueryOrgs(ctx context.Context, filter ports.OrgFilter, order ports.OrgOrder) ([]types.Org, error) {
	return pgQueryOrgs(ctx, t.tx, filter, order)
}

func (t *pgTx) QueryRelations(ctx context.Context, filter ports.RelationFilter, order ports.RelationOrder) ([]types.OrgRelation, error) {
	return pgQueryRelations(ctx, t.tx, filter, order)
}

func (t *pgTx) QueryRoles(ctx context.Context, filter ports.RoleFilter) ([]types.OrgRole, error) {
	return pgQueryRoles(ctx, t.tx, filter)
}

func (t *pgTx) InsertOrg(ctx context.Context, name string, typeID int64) (types.Org, error) {
	var id int64
	err := t.tx.QueryRow(ctx,
		`INSERT INTO orgs (name, type_id, active, deleted) VALUES ($1, $2, TRUE, FALSE) RETURNING id`,
		name, typeID).Scan(&id)
	if err != nil {
		return types.Org{}, err
	}
	return types.Org{ID: id, Name: name, TypeID: typeID, Active: true}, nil
}

func (t *pgTx) UpdateOrg(ctx context.Context, org types.Org) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE orgs SET name = $1, type_id = $2, active = $3, deleted = $4 WHERE id = $5`,
		org.Name, org.TypeID, org.Active, org.Deleted, org.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ports.ErrOrgNotFound
	}
	return nil
}

func (t *pgTx) InsertRelation(ctx context.Context, rel types.OrgRelation) error {
	_, err := t.tx.Exec(ctx, `
INSERT INTO org_relations (ancestor_id, descendant_id, depth)
VALUES ($1, $2, $3)
ON CONFLICT (ancestor_id, descendant_id) DO UPDATE SET depth = EXCLUDED.depth
`, rel.AncestorID, rel.DescendantID, rel.Depth)
	return err
}

func (t *pgTx) DeleteRelations(ctx context.Context, filter ports.RelationFilter) (int64, error) {
	where, args := relationWhere(filter, dollarPlaceholders)
	tag, err := t.tx.Exec(ctx, `DELETE FROM org_relations`+where, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func pgGetOrg(ctx context.Context, tx pgx.Tx, id int64) (types.Org, error) {
	var org types.Org
	err := tx.QueryRow(ctx,
		`SELECT id, name, type_id, active, deleted FROM orgs WHERE id = $1`, id).
		Scan(&org.ID, &org.Name, &org.TypeID, &org.Active, &org.Deleted)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.Org{}, ports.ErrOrgNotFound
	}
	if err != nil {
		return types.Org{}, err
	}
	return org, nil
}

func pgQueryOrgs(ctx context.Context, tx pgx.Tx, filter ports.OrgFilter, order ports.OrgOrder) ([]types.Org, error) {
	where, args := orgWhere(filter, dollarPlaceholders)
	query := `SELECT id, name, type_id, active, deleted FROM orgs` + where
	switch order {
	case ports.OrgOrderNameAsc:
		query += ` ORDER BY name, id`
	default:
		query += ` ORDER BY id`
	}

	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]types.Org, 0)
	for rows.Next() {
		var org types.Org
		if err := rows.Scan(&org.ID, &org.Name, &org.TypeID, &org.Active, &org.Deleted); err != nil {
			return nil, err
		}
		out = append(out, org)
	}
	return out, rows.Err()
}

func pgQueryRelations(ctx context.Context, tx pgx.Tx, filter ports.RelationFilter, order ports.RelationOrder) ([]types.OrgRelation, error) {
	where, args := relationWhere(filter, dollarPlaceholders)
	query := `SELECT ancestor_id, descendant_id, depth FROM org_relations` + where
	if order == ports.RelationOrderDepthAsc {
		query += ` ORDER BY depth, ancestor_id, descendant_id`
	} else {
		query += ` ORDER BY ancestor_id, descendant_id`
	}

	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]types.OrgRelation, 0)
	for rows.Next() {
		var rel types.OrgRelation
		if err := rows.Scan(&rel.AncestorID, &rel.DescendantID, &rel.Depth); err != nil {
			return nil, err
		}
		out = append(out, rel)
	}
	return out, rows.Err()
}

func pgQueryRoles(ctx context.Context, tx pgx.Tx, filter ports.RoleFilter) ([]types.OrgRole, error) {
	where, args := roleWhere(filter, dollarPlaceholders)
	rows, err := tx.Query(ctx,
		`SELECT id, user_id, group_name, org_id FROM org_roles`+where+` ORDER BY id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]types.OrgRole, 0)
	for rows.Next() {
		var role types.OrgRole
		if err := rows.Scan(&role.ID, &role.UserID, &role.Group, &role.OrgID); err != nil {
			return nil, err
		}
		out = append(out, role)
	}
	return out, rows.Err()
}
