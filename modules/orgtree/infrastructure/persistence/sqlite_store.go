package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"github.com/jacksonlee411/orgtree/modules/orgtree/domain/ports"
	"github.com/jacksonlee411/orgtree/modules/orgtree/domain/types"
)

var _ ports.RelationStore = (*SQLiteStore)(nil)

const sqliteDDL = `
CREATE TABLE IF NOT EXISTS org_types (
	id   INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS orgs (
	id      INTEGER PRIMARY KEY AUTOINCREMENT,
	name    TEXT    NOT NULL,
	type_id INTEGER NOT NULL REFERENCES org_types(id),
	active  INTEGER NOT NULL DEFAULT 1,
	deleted INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS org_relations (
	ancestor_id   INTEGER NOT NULL REFERENCES orgs(id),
	descendant_id INTEGER NOT NULL REFERENCES orgs(id),
	depth         INTEGER NOT NULL CHECK (depth >= 0),
	PRIMARY KEY (ancestor_id, descendant_id)
);
CREATE INDEX IF NOT EXISTS idx_org_relations_descendant ON org_relations(descendant_id, depth);
CREATE TABLE IF NOT EXISTS org_roles (
	id         TEXT PRIMARY KEY,
	user_id    TEXT    NOT NULL,
	group_name TEXT    NOT NULL,
	org_id     INTEGER NOT NULL REFERENCES orgs(id)
);
`

// SQLiteStore persists the closure table in an embedded SQLite database.
// A single connection serializes writers; SQLite's transaction gives the
// all-or-nothing commit the contract requires.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		path = "orgtree.db"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteDDL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

// sqlRunner is satisfied by *sql.DB and *sql.Tx.
type sqlRunner interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLiteStore) WithinTx(ctx context.Context, fn func(tx ports.RelationTx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&sqliteTx{run: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetOrg(ctx context.Context, id int64) (types.Org, error) {
	return sqliteGetOrg(ctx, s.db, id)
}

func (s *SQLiteStore) QueryOrgs(ctx context.Context, filter ports.OrgFilter, order ports.OrgOrder) ([]types.Org, error) {
	return sqliteQueryOrgs(ctx, s.db, filter, order)
}

func (s *SQLiteStore) QueryRelations(ctx context.Context, filter ports.RelationFilter, order ports.RelationOrder) ([]types.OrgRelation, error) {
	return sqliteQueryRelations(ctx, s.db, filter, order)
}

func (s *SQLiteStore) QueryRoles(ctx context.Context, filter ports.RoleFilter) ([]types.OrgRole, error) {
	return sqliteQueryRoles(ctx, s.db, filter)
}

func (s *SQLiteStore) InsertOrgType(ctx context.Context, name string) (types.OrgType, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO org_types (name) VALUES (?) RETURNING id`, name).Scan(&id)
	if err != nil {
		return types.OrgType{}, err
	}
	return types.OrgType{ID: id, Name: name}, nil
}

func (s *SQLiteStore) QueryOrgTypes(ctx context.Context) ([]types.OrgType, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM org_types ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make([]types.OrgType, 0)
	for rows.Next() {
		var ot types.OrgType
		if err := rows.Scan(&ot.ID, &ot.Name); err != nil {
			return nil, err
		}
		out = append(out, ot)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) InsertRole(ctx context.Context, role types.OrgRole) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO org_roles (id, user_id, group_name, org_id) VALUES (?, ?, ?, ?)`,
		role.ID, role.UserID, role.Group, role.OrgID)
	return err
}

func (s *SQLiteStore) DeleteRole(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM org_roles WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ports.ErrRoleNotFound
	}
	return nil
}

type sqliteTx struct {
	run sqlRunner
}

var _ ports.RelationTx = (*sqliteTx)(nil)

func (t *sqliteTx) GetOrg(ctx context.Context, id int64) (types.Org, error) {
	return sqliteGetOrg(ctx, t.run, id)
}

func (t *sqliteTx) QueryOrgs(ctx context.Context, filter ports.OrgFilter, order ports.OrgOrder) ([]types.Org, error) {
	return sqliteQueryOrgs(ctx, t.run, filter, order)
}

func (t *sqliteTx) QueryRelations(ctx context.Context, filter ports.RelationFilter, order ports.RelationOrder) ([]types.OrgRelation, error) {
	return sqliteQueryRelations(ctx, t.run, filter, order)
}

func (t *sqliteTx) QueryRoles(ctx context.Context, filter ports.RoleFilter) ([]types.OrgRole, error) {
	return sqliteQueryRoles(ctx, t.run, filter)
}

func (t *sqliteTx) InsertOrg(ctx context.Context, name string, typeID int64) (types.Org, error) {
	var id int64
	err := t.run.QueryRowContext(ctx,
		`INSERT INTO orgs (name, type_id, active, deleted) VALUES (?, ?, 1, 0) RETURNING id`,
		name, typeID).Scan(&id)
	if err != nil {
		return types.Org{}, err
	}
	return types.Org{ID: id, Name: name, TypeID: typeID, Active: true}, nil
}

func (t *sqliteTx) UpdateOrg(ctx context.Context, org types.Org) error {
	res, err := t.run.ExecContext(ctx,
		`UPDATE orgs SET name = ?, type_id = ?, active = ?, deleted = ? WHERE id = ?`,
		org.Name, org.TypeID, org.Active, org.Deleted, org.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ports.ErrOrgNotFound
	}
	return nil
}

func (t *sqliteTx) InsertRelation(ctx context.Context, rel types.OrgRelation) error {
	_, err := t.run.ExecContext(ctx, `
INSERT INTO org_relations (ancestor_id, descendant_id, depth)
VALUES (?, ?, ?)
ON CONFLICT (ancestor_id, descendant_id) DO UPDATE SET depth = excluded.depth
`, rel.AncestorID, rel.DescendantID, rel.Depth)
	return err
}

func (t *sqliteTx) DeleteRelations(ctx context.Context, filter ports.RelationFilter) (int64, error) {
	where, args := relationWhere(filter, questionPlaceholders)
	res, err := t.run.ExecContext(ctx, `DELETE FROM org_relations`+where, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func sqliteGetOrg(ctx context.Context, run sqlRunner, id int64) (types.Org, error) {
	var org types.Org
	err := run.QueryRowContext(ctx,
		`SELECT id, name, type_id, active, deleted FROM orgs WHERE id = ?`, id).
		Scan(&org.ID, &org.Name, &org.TypeID, &org.Active, &org.Deleted)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Org{}, ports.ErrOrgNotFound
	}
	if err != nil {
		return types.Org{}, err
	}
	return org, nil
}

func sqliteQueryOrgs(ctx context.Context, run sqlRunner, filter ports.OrgFilter, order ports.OrgOrder) ([]types.Org, error) {
	where, args := orgWhere(filter, questionPlaceholders)
	query := `SELECT id, name, type_id, active, deleted FROM orgs` + where
	switch order {
	case ports.OrgOrderNameAsc:
		query += ` ORDER BY name, id`
	default:
		query += ` ORDER BY id`
	}

	rows, err := run.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

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

func sqliteQueryRelations(ctx context.Context, run sqlRunner, filter ports.RelationFilter, order ports.RelationOrder) ([]types.OrgRelation, error) {
	where, args := relationWhere(filter, questionPlaceholders)
	query := `SELECT ancestor_id, descendant_id, depth FROM org_relations` + where
	if order == ports.RelationOrderDepthAsc {
		query += ` ORDER BY depth, ancestor_id, descendant_id`
	} else {
		query += ` ORDER BY ancestor_id, descendant_id`
	}

	rows, err := run.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

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

func sqliteQueryRoles(ctx context.Context, run sqlRunner, filter ports.RoleFilter) ([]types.OrgRole, error) {
	where, args := roleWhere(filter, questionPlaceholders)
	rows, err := run.QueryContext(ctx,
		`SELECT id, user_id, group_name, org_id FROM org_roles`+where+` ORDER BY id`, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

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

// placeholderFunc renders n placeholders starting at position start
// (1-based), joined by commas. SQLite ignores positions, postgres needs
// them.
type placeholderFunc func(start, n int) string

func questionPlaceholders(_, n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func dollarPlaceholders(start, n int) string {
	parts := make([]string, n)
	for i := 0; i < n; i++ {
		parts[i] = fmt.Sprintf("$%d", start+i)
	}
	return strings.Join(parts, ", ")
}

func relationWhere(f ports.RelationFilter, ph placeholderFunc) (string, []any) {
	clauses := make([]string, 0, 6)
	args := make([]any, 0, 6)

	add := func(clause string, vals ...any) {
		clauses = append(clauses, clause)
		args = append(args, vals...)
	}
	if f.AncestorID != nil {
		add("ancestor_id = "+ph(len(args)+1, 1), *f.AncestorID)
	}
	if f.DescendantID != nil {
		add("descendant_id = "+ph(len(args)+1, 1), *f.DescendantID)
	}
	if len(f.AncestorIn) > 0 {
		add("ancestor_id IN ("+ph(len(args)+1, len(f.AncestorIn))+")", int64sToAny(f.AncestorIn)...)
	}
	if len(f.DescendantIn) > 0 {
		add("descendant_id IN ("+ph(len(args)+1, len(f.DescendantIn))+")", int64sToAny(f.DescendantIn)...)
	}
	if f.Depth != nil {
		add("depth = "+ph(len(args)+1, 1), *f.Depth)
	}
	if f.MinDepth != nil {
		add("depth >= "+ph(len(args)+1, 1), *f.MinDepth)
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func orgWhere(f ports.OrgFilter, ph placeholderFunc) (string, []any) {
	clauses := make([]string, 0, 2)
	args := make([]any, 0, 2)

	if len(f.IDs) > 0 {
		clauses = append(clauses, "id IN ("+ph(len(args)+1, len(f.IDs))+")")
		args = append(args, int64sToAny(f.IDs)...)
	}
	if f.TypeID != nil {
		clauses = append(clauses, "type_id = "+ph(len(args)+1, 1))
		args = append(args, *f.TypeID)
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func roleWhere(f ports.RoleFilter, ph placeholderFunc) (string, []any) {
	clauses := make([]string, 0, 3)
	args := make([]any, 0, 3)

	if f.UserID != nil {
		clauses = append(clauses, "user_id = "+ph(len(args)+1, 1))
		args = append(args, *f.UserID)
	}
	if len(f.GroupIn) > 0 {
		clauses = append(clauses, "group_name IN ("+ph(len(args)+1, len(f.GroupIn))+")")
		for _, g := range f.GroupIn {
			args = append(args, g)
		}
	}
	if f.OrgID != nil {
		clauses = append(clauses, "org_id = "+ph(len(args)+1, 1))
		args = append(args, *f.OrgID)
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func int64sToAny(ids []int64) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}
