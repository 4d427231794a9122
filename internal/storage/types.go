// Package storage implements the uniform storage adapter contract (spec
// component C2): KV with TTL and tabular CRUD with projection/filter/order/
// limit, shared across in-memory, embedded-SQL, and remote-SQL backends.
//
// Grounded on github.com/rakunlabs/at's store/sqlite3 and store/postgres
// packages, which build queries with github.com/doug-martin/goqu/v9 against
// a fixed, teacher-controlled table set; this package generalizes the same
// goqu-based query construction to spec-declared tables with arbitrary
// (but identifier-validated) column sets.
package storage

import "time"

// StoredValue is one KV entry. TypeTag records the dynamic type at write
// time so readers can reconstruct typed values from the serialized form.
type StoredValue struct {
	Value     any
	TypeTag   string
	CreatedAt time.Time
	UpdatedAt time.Time
	ExpiresAt *time.Time
}

// Expired reports whether v has passed its expiry at instant now.
func (v StoredValue) Expired(now time.Time) bool {
	return v.ExpiresAt != nil && v.ExpiresAt.Before(now)
}

// ColumnType is the set of primitive column types create_table accepts.
type ColumnType string

const (
	ColumnString ColumnType = "string"
	ColumnNumber ColumnType = "number"
	ColumnBool   ColumnType = "bool"
	ColumnNull   ColumnType = "null"
)

// ColumnDefinition describes one table column.
type ColumnDefinition struct {
	Name     string
	Type     ColumnType
	Primary  bool
	Nullable bool
	Unique   bool
	Index    bool
	// Default is emitted only for primitive types (string/number/bool/null);
	// complex defaults are silently skipped by CreateTable, per spec.md §4.2.
	Default any
	// Encrypted marks a string column for AES-256-GCM encryption at rest by
	// the state manager, applied above this adapter — the adapter itself
	// stores whatever bytes it's handed.
	Encrypted bool
}

// TableDefinition describes a table's columns and composite indexes.
type TableDefinition struct {
	Columns          []ColumnDefinition
	CompositeIndexes [][]string
}

// Op is a comparison operator usable in a Condition.
type Op string

const (
	OpEq      Op = "="
	OpNeq     Op = "!="
	OpLt      Op = "<"
	OpLte     Op = "<="
	OpGt      Op = ">"
	OpGte     Op = ">="
	OpLike    Op = "like"
	OpIn      Op = "in"
	OpNotNull Op = "not_null"
	OpIsNull  Op = "is_null"
)

// Condition is one ANDed predicate in a Where clause.
type Condition struct {
	Column string
	Op     Op
	Value  any
}

// Where is a conjunction of Conditions. An empty Where matches every row.
type Where []Condition

// QueryOptions controls a tabular Query call.
type QueryOptions struct {
	Where   Where
	Select  []string // empty = all columns
	OrderBy string   // "column ASC|DESC"; invalid forms are dropped (defense in depth)
	Limit   int      // clamped to MaxLimit
	Offset  int      // clamped to MaxOffset
}

// Row is one returned tabular row, keyed by column name.
type Row map[string]any

const (
	// MaxLimit is the hard ceiling every backend clamps QueryOptions.Limit to.
	MaxLimit = 10_000
	// MaxOffset is the hard ceiling every backend clamps QueryOptions.Offset to.
	MaxOffset = 1_000_000
)

// ClampLimit applies the spec-mandated ceiling (§4.2).
func ClampLimit(limit int) int {
	if limit <= 0 {
		return MaxLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// ClampOffset applies the spec-mandated ceiling (§4.2).
func ClampOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	if offset > MaxOffset {
		return MaxOffset
	}
	return offset
}
