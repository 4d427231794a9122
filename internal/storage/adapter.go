package storage

import "context"

// Adapter is the uniform contract every storage backend (in-memory,
// embedded-SQL, remote-SQL) implements. A single conformance suite
// (conformance_test.go) is run against all of them.
type Adapter interface {
	// ─── KV ───

	Get(ctx context.Context, key string) (StoredValue, bool, error)
	Set(ctx context.Context, key string, value StoredValue) error
	Delete(ctx context.Context, key string) (bool, error)
	Has(ctx context.Context, key string) (bool, error)
	Keys(ctx context.Context, glob string) ([]string, error)
	Clear(ctx context.Context) error

	// ─── Tabular ───

	CreateTable(ctx context.Context, name string, def TableDefinition) error
	Insert(ctx context.Context, table string, row Row) error
	Update(ctx context.Context, table string, where Where, patch Row) (int, error)
	DeleteRows(ctx context.Context, table string, where Where) (int, error)
	Query(ctx context.Context, table string, opts QueryOptions) ([]Row, error)

	// Close releases backend resources (connections, file handles).
	Close() error
}
