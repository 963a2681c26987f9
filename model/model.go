// Package model holds the plain data types that mirror one table row each.
package model

import (
	"fmt"
	"math"
	"strconv"

	"github.com/iancoleman/strcase"

	"github.com/Skryldev/useradmin/required"
)

// Model is one table row.
type Model interface {
	// Required lists the columns a row must carry for Populate to assign.
	Required() required.Params

	// Populate assigns fields from row when row holds every required column
	// and reports whether it did. A row missing a required column leaves the
	// model untouched.
	Populate(row map[string]any) bool

	// ToMap returns the model's fields keyed by column name.
	ToMap() map[string]any
}

// Descriptor names a model type and builds fresh, empty instances of it.
type Descriptor[M Model] struct {
	// Name is the model's type name, e.g. "User".
	Name string
	// New returns a new zero model.
	New func() M
}

// Valid reports whether both parts of the descriptor are set.
func (d Descriptor[M]) Valid() bool {
	return d.Name != "" && d.New != nil
}

// Conventional derives the model name and table name for an entity:
// "user" → ("User", "Users"). Table names are the model name plus "s".
func Conventional(entity string) (name, table string) {
	name = strcase.ToCamel(entity)
	return name, name + "s"
}

// ─────────────────────────────────────────────────────────────────────────────
// Column value helpers
// ─────────────────────────────────────────────────────────────────────────────

// asInt64 accepts the integer shapes drivers hand back: int64, or text for
// some MySQL setups. It reports false for anything that is not a whole number.
func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case uint64:
		return int64(n), n <= math.MaxInt64
	case uint32:
		return int64(n), true
	case float64:
		return int64(n), n == math.Trunc(n)
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil
	case []byte:
		i, err := strconv.ParseInt(string(n), 10, 64)
		return i, err == nil
	}
	return 0, false
}

func asString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case []byte:
		return string(s)
	}
	return fmt.Sprint(v)
}
