// Package mapper turns table gateway rows into model values and passes
// writes straight through to the gateway.
package mapper

import (
	"context"
	"fmt"

	"github.com/Skryldev/useradmin/db"
	"github.com/Skryldev/useradmin/model"
	"github.com/Skryldev/useradmin/table"
)

// ErrNotConfigured is returned by every operation until both the gateway and
// the model descriptor have been set.
var ErrNotConfigured = fmt.Errorf("useradmin/mapper: not configured: %w", db.ErrMisconfigured)

// Gateway is the subset of *table.Gateway a Mapper needs.
type Gateway interface {
	TableName() (string, error)
	QuoteIdent(name string) string
	Find(ctx context.Context, value any, primaryKey string) ([]table.Row, error)
	FindRow(ctx context.Context, where, order string) (table.Row, error)
	FindAll(ctx context.Context, where, order string, opts ...table.FindOption) ([]table.Row, error)
	Count(ctx context.Context, where string) (int64, error)
	Update(ctx context.Context, set map[string]any, where string) (int64, error)
	Insert(ctx context.Context, columns []string, values []any) (int64, error)
	Delete(ctx context.Context, where string) (int64, error)
}

var _ Gateway = (*table.Gateway)(nil)

// Mapper composes one Gateway and one model Descriptor. Neither is owned;
// both may be shared with other mappers.
type Mapper[M model.Model] struct {
	gw   Gateway
	desc model.Descriptor[M]
}

// New returns a Mapper. Either part may be zero and set later.
func New[M model.Model](gw Gateway, desc model.Descriptor[M]) *Mapper[M] {
	return &Mapper[M]{gw: gw, desc: desc}
}

func (m *Mapper[M]) SetGateway(gw Gateway)              { m.gw = gw }
func (m *Mapper[M]) SetModel(desc model.Descriptor[M]) { m.desc = desc }

// Gateway returns the bound gateway.
func (m *Mapper[M]) Gateway() (Gateway, error) {
	if m.gw == nil {
		return nil, fmt.Errorf("%w: gateway was not set", ErrNotConfigured)
	}
	return m.gw, nil
}

// Model returns the bound model descriptor.
func (m *Mapper[M]) Model() (model.Descriptor[M], error) {
	if !m.desc.Valid() {
		return m.desc, fmt.Errorf("%w: model was not set", ErrNotConfigured)
	}
	return m.desc, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Reads
// ─────────────────────────────────────────────────────────────────────────────

// Find returns a model per row whose primaryKey equals value, or nil when
// nothing matches.
func (m *Mapper[M]) Find(ctx context.Context, value any, primaryKey string) ([]M, error) {
	gw, desc, err := m.parts()
	if err != nil {
		return nil, err
	}
	rows, err := gw.Find(ctx, value, primaryKey)
	if err != nil {
		return nil, err
	}
	return build(desc, rows), nil
}

// FindRow returns the first matching model. found is false when no row
// matches.
func (m *Mapper[M]) FindRow(ctx context.Context, where, order string) (M, bool, error) {
	var zero M
	gw, desc, err := m.parts()
	if err != nil {
		return zero, false, err
	}
	row, err := gw.FindRow(ctx, where, order)
	if err != nil || row == nil {
		return zero, false, err
	}
	v := desc.New()
	v.Populate(row)
	return v, true, nil
}

// FindAll returns a model per matching row, or nil when nothing matches.
func (m *Mapper[M]) FindAll(ctx context.Context, where, order string, opts ...table.FindOption) ([]M, error) {
	gw, desc, err := m.parts()
	if err != nil {
		return nil, err
	}
	rows, err := gw.FindAll(ctx, where, order, opts...)
	if err != nil {
		return nil, err
	}
	return build(desc, rows), nil
}

// Count returns the number of rows matching where.
func (m *Mapper[M]) Count(ctx context.Context, where string) (int64, error) {
	gw, _, err := m.parts()
	if err != nil {
		return 0, err
	}
	return gw.Count(ctx, where)
}

// Exists reports whether any row matches where.
func (m *Mapper[M]) Exists(ctx context.Context, where string) (bool, error) {
	_, found, err := m.FindRow(ctx, where, "")
	return found, err
}

// ─────────────────────────────────────────────────────────────────────────────
// Writes — passed through unchanged
// ─────────────────────────────────────────────────────────────────────────────

func (m *Mapper[M]) Update(ctx context.Context, set map[string]any, where string) (int64, error) {
	gw, _, err := m.parts()
	if err != nil {
		return 0, err
	}
	return gw.Update(ctx, set, where)
}

func (m *Mapper[M]) Insert(ctx context.Context, columns []string, values []any) (int64, error) {
	gw, _, err := m.parts()
	if err != nil {
		return 0, err
	}
	return gw.Insert(ctx, columns, values)
}

func (m *Mapper[M]) Delete(ctx context.Context, where string) (int64, error) {
	gw, _, err := m.parts()
	if err != nil {
		return 0, err
	}
	return gw.Delete(ctx, where)
}

// ─────────────────────────────────────────────────────────────────────────────
// Naming, used by the unique validation rule
// ─────────────────────────────────────────────────────────────────────────────

// ModelName returns the descriptor's model name.
func (m *Mapper[M]) ModelName() (string, error) {
	desc, err := m.Model()
	if err != nil {
		return "", err
	}
	return desc.Name, nil
}

// TableName returns the gateway's table name.
func (m *Mapper[M]) TableName() (string, error) {
	gw, err := m.Gateway()
	if err != nil {
		return "", err
	}
	return gw.TableName()
}

// QuoteIdent quotes name for the gateway's driver.
func (m *Mapper[M]) QuoteIdent(name string) string {
	if m.gw == nil {
		return name
	}
	return m.gw.QuoteIdent(name)
}

func (m *Mapper[M]) parts() (Gateway, model.Descriptor[M], error) {
	gw, err := m.Gateway()
	if err != nil {
		return nil, m.desc, err
	}
	desc, err := m.Model()
	if err != nil {
		return nil, desc, err
	}
	return gw, desc, nil
}

func build[M model.Model](desc model.Descriptor[M], rows []table.Row) []M {
	if len(rows) == 0 {
		return nil
	}
	out := make([]M, 0, len(rows))
	for _, r := range rows {
		v := desc.New()
		v.Populate(r)
		out = append(out, v)
	}
	return out
}
