// Package table is a single-table gateway: it turns find / insert / update /
// delete requests into SQL against one named table and hands back raw row
// mappings.
//
// WHERE and ORDER BY arguments are raw SQL fragments and are NOT
// parameterized. Callers must escape any user input they splice into them.
// Fragments are passed through verbatim; only the placeholders the gateway
// writes itself use the driver's bind style.
package table

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/Skryldev/useradmin/db"
)

// ─────────────────────────────────────────────────────────────────────────────
// Errors
// ─────────────────────────────────────────────────────────────────────────────

var (
	// ErrNoValues is returned by Update when there is nothing to set.
	ErrNoValues = errors.New("useradmin/table: missing column names and values to be updated")

	// ErrNoColumns is returned by Insert when no column names are given.
	ErrNoColumns = errors.New("useradmin/table: missing column names")

	// ErrColumnMismatch is returned by Insert when the column and value
	// counts differ.
	ErrColumnMismatch = errors.New("useradmin/table: column names count and values count do not match")
)

// Row is one record: column name → value. Text columns are always strings.
type Row map[string]any

// ─────────────────────────────────────────────────────────────────────────────
// Gateway
// ─────────────────────────────────────────────────────────────────────────────

// Gateway executes statements against one table. It holds no connection of
// its own; the shared *db.DB opens lazily on the first statement.
type Gateway struct {
	db   *db.DB
	name string
}

// New binds a gateway to table name on d.
func New(d *db.DB, name string) *Gateway {
	return &Gateway{db: d, name: name}
}

// TableName returns the bound table name.
func (g *Gateway) TableName() (string, error) {
	if g.name == "" {
		return "", db.Misconfigured("table name not set")
	}
	return g.name, nil
}

// QuoteIdent quotes a column or table name for the underlying driver.
func (g *Gateway) QuoteIdent(name string) string { return g.db.QuoteIdent(name) }

// Find returns every row whose primaryKey column equals value. An empty
// primaryKey means "id".
func (g *Gateway) Find(ctx context.Context, value any, primaryKey string) ([]Row, error) {
	if primaryKey == "" {
		primaryKey = "id"
	}
	from, err := g.from()
	if err != nil {
		return nil, err
	}
	q := fmt.Sprintf("SELECT * FROM %s WHERE %s = %s", from, g.db.QuoteIdent(primaryKey), g.db.Bindvar(1))
	return g.query(ctx, q, value)
}

// FindRow returns the first row matching the optional where and order
// fragments, or nil when nothing matches.
func (g *Gateway) FindRow(ctx context.Context, where, order string) (Row, error) {
	q, err := g.selectSQL(where, order)
	if err != nil {
		return nil, err
	}
	rows, err := g.query(ctx, q)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return rows[0], nil
}

// ── FindAll options ──────────────────────────────────────────────────────────

type findOptions struct {
	limit  *int
	offset *int
}

// FindOption narrows FindAll.
type FindOption func(*findOptions)

// WithLimit appends LIMIT n.
func WithLimit(n int) FindOption {
	return func(o *findOptions) { o.limit = &n }
}

// WithOffset sets the OFFSET used together with WithLimit. It has no effect
// on its own.
func WithOffset(n int) FindOption {
	return func(o *findOptions) { o.offset = &n }
}

// FindAll returns every row matching the optional where and order fragments.
func (g *Gateway) FindAll(ctx context.Context, where, order string, opts ...FindOption) ([]Row, error) {
	var o findOptions
	for _, opt := range opts {
		opt(&o)
	}
	q, err := g.selectSQL(where, order)
	if err != nil {
		return nil, err
	}
	if o.limit != nil {
		offset := 0
		if o.offset != nil {
			offset = *o.offset
		}
		q += fmt.Sprintf(" LIMIT %d OFFSET %d", *o.limit, offset)
	}
	return g.query(ctx, q)
}

// Count returns the number of rows matching the optional where fragment.
func (g *Gateway) Count(ctx context.Context, where string) (int64, error) {
	from, err := g.from()
	if err != nil {
		return 0, err
	}
	q := "SELECT COUNT(*) FROM " + from
	if where != "" {
		q += " WHERE " + where
	}
	rows, err := g.db.Query(ctx, q)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	var n int64
	if rows.Next() {
		if err := rows.Scan(&n); err != nil {
			return 0, g.db.MapErr(err)
		}
	}
	return n, g.db.MapErr(rows.Err())
}

// ─────────────────────────────────────────────────────────────────────────────
// Writes
// ─────────────────────────────────────────────────────────────────────────────

// Update sets the given columns on rows matching where and returns the
// number of rows affected. Values are bound in column-name order.
func (g *Gateway) Update(ctx context.Context, set map[string]any, where string) (int64, error) {
	if len(set) == 0 {
		return 0, ErrNoValues
	}
	from, err := g.from()
	if err != nil {
		return 0, err
	}

	cols := make([]string, 0, len(set))
	for c := range set {
		cols = append(cols, c)
	}
	sort.Strings(cols)

	assignments := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, c := range cols {
		assignments[i] = g.db.QuoteIdent(c) + " = " + g.db.Bindvar(i+1)
		args[i] = set[c]
	}

	q := fmt.Sprintf("UPDATE %s SET %s", from, strings.Join(assignments, ", "))
	if where != "" {
		q += " WHERE " + where
	}
	return g.exec(ctx, q, args...)
}

// Insert adds one row and returns the number of rows affected.
func (g *Gateway) Insert(ctx context.Context, columns []string, values []any) (int64, error) {
	if len(columns) == 0 {
		return 0, ErrNoColumns
	}
	if len(columns) != len(values) {
		return 0, fmt.Errorf("%w: %d columns, %d values", ErrColumnMismatch, len(columns), len(values))
	}
	from, err := g.from()
	if err != nil {
		return 0, err
	}

	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = g.db.QuoteIdent(c)
	}
	placeholders := make([]string, len(values))
	for i := range values {
		placeholders[i] = g.db.Bindvar(i + 1)
	}

	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", from, strings.Join(quoted, ", "), strings.Join(placeholders, ", "))
	return g.exec(ctx, q, values...)
}

// Delete removes rows matching where, or every row when where is empty.
func (g *Gateway) Delete(ctx context.Context, where string) (int64, error) {
	from, err := g.from()
	if err != nil {
		return 0, err
	}
	q := "DELETE FROM " + from
	if where != "" {
		q += " WHERE " + where
	}
	return g.exec(ctx, q)
}

// ─────────────────────────────────────────────────────────────────────────────
// Internal helpers
// ─────────────────────────────────────────────────────────────────────────────

func (g *Gateway) from() (string, error) {
	name, err := g.TableName()
	if err != nil {
		return "", err
	}
	return g.db.QuoteIdent(name), nil
}

func (g *Gateway) selectSQL(where, order string) (string, error) {
	from, err := g.from()
	if err != nil {
		return "", err
	}
	q := "SELECT * FROM " + from
	if where != "" {
		q += " WHERE " + where
	}
	if order != "" {
		q += " ORDER BY " + order
	}
	return q, nil
}

func (g *Gateway) query(ctx context.Context, q string, args ...any) ([]Row, error) {
	rows, err := g.db.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRows(rows, g.db)
}

func (g *Gateway) exec(ctx context.Context, q string, args ...any) (int64, error) {
	res, err := g.db.Exec(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("useradmin/table: rows affected: %w", err)
	}
	return n, nil
}

func scanRows(rows *sqlx.Rows, d *db.DB) ([]Row, error) {
	var out []Row
	for rows.Next() {
		m := make(map[string]any)
		if err := rows.MapScan(m); err != nil {
			return nil, d.MapErr(err)
		}
		for k, v := range m {
			if b, ok := v.([]byte); ok {
				m[k] = string(b)
			}
		}
		out = append(out, Row(m))
	}
	return out, d.MapErr(rows.Err())
}
