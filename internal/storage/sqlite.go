package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	_ "modernc.org/sqlite"
)

// SQLite is the embedded-SQL Adapter, grounded on
// github.com/rakunlabs/at's internal/store/sqlite3 package: same
// sql.Open("sqlite", dsn) + WAL pragma + single-writer connection pool
// setup, and the same goqu.Database query-building style, generalized from
// the teacher's fixed table set to spec-declared dynamic tables.
type SQLite struct {
	db   *sql.DB
	goqu *goqu.Database

	kvTable string
}

// NewSQLite opens (creating if necessary) an embedded SQLite database at
// datasource and prepares the internal KV table.
func NewSQLite(ctx context.Context, datasource string) (*SQLite, error) {
	if datasource == "" {
		return nil, errors.New("sqlite datasource is required")
	}

	db, err := sql.Open("sqlite", datasource)
	if err != nil {
		return nil, fmt.Errorf("open sqlite connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	// SQLite is single-writer; limit connections accordingly.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLite{db: db, goqu: goqu.New("sqlite3", db), kvTable: "runtime_kv"}

	if err := s.ensureKVTable(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) ensureKVTable(ctx context.Context) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		type_tag TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		expires_at TEXT
	)`, s.kvTable)
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// ─── KV ───

func (s *SQLite) Get(ctx context.Context, key string) (StoredValue, bool, error) {
	query, _, err := s.goqu.From(s.kvTable).
		Select("value", "type_tag", "created_at", "updated_at", "expires_at").
		Where(goqu.I("key").Eq(key)).
		ToSQL()
	if err != nil {
		return StoredValue{}, false, newStorageError("get", false, err)
	}

	var value, typeTag, createdAt, updatedAt string
	var expiresAt sql.NullString
	row := s.db.QueryRowContext(ctx, query)
	if err := row.Scan(&value, &typeTag, &createdAt, &updatedAt, &expiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return StoredValue{}, false, nil
		}
		return StoredValue{}, false, newStorageError("get", true, err)
	}

	sv, err := decodeStoredValue(value, typeTag, createdAt, updatedAt, expiresAt)
	if err != nil {
		return StoredValue{}, false, newStorageError("get", false, err)
	}

	if sv.Expired(time.Now()) {
		_, _ = s.Delete(ctx, key)
		return StoredValue{}, false, nil
	}

	return sv, true, nil
}

func (s *SQLite) Set(ctx context.Context, key string, value StoredValue) error {
	encoded, err := json.Marshal(value.Value)
	if err != nil {
		return newStorageError("set", false, err)
	}

	var expiresAt any
	if value.ExpiresAt != nil {
		expiresAt = value.ExpiresAt.UTC().Format(time.RFC3339Nano)
	}

	record := goqu.Record{
		"key":        key,
		"value":      string(encoded),
		"type_tag":   value.TypeTag,
		"created_at": value.CreatedAt.UTC().Format(time.RFC3339Nano),
		"updated_at": value.UpdatedAt.UTC().Format(time.RFC3339Nano),
		"expires_at": expiresAt,
	}

	upsert := fmt.Sprintf(
		"INSERT INTO %s (key, value, type_tag, created_at, updated_at, expires_at) VALUES (?, ?, ?, ?, ?, ?) "+
			"ON CONFLICT(key) DO UPDATE SET value=excluded.value, type_tag=excluded.type_tag, "+
			"updated_at=excluded.updated_at, expires_at=excluded.expires_at",
		s.kvTable)
	_, err = s.db.ExecContext(ctx, upsert, record["key"], record["value"], record["type_tag"],
		record["created_at"], record["updated_at"], record["expires_at"])
	if err != nil {
		return newStorageError("set", true, err)
	}
	return nil
}

func (s *SQLite) Delete(ctx context.Context, key string) (bool, error) {
	query, _, err := s.goqu.Delete(s.kvTable).Where(goqu.I("key").Eq(key)).ToSQL()
	if err != nil {
		return false, newStorageError("delete", false, err)
	}
	res, err := s.db.ExecContext(ctx, query)
	if err != nil {
		return false, newStorageError("delete", true, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *SQLite) Has(ctx context.Context, key string) (bool, error) {
	_, ok, err := s.Get(ctx, key)
	return ok, err
}

func (s *SQLite) Keys(ctx context.Context, glob string) ([]string, error) {
	query, _, err := s.goqu.From(s.kvTable).Select("key", "expires_at").ToSQL()
	if err != nil {
		return nil, newStorageError("keys", false, err)
	}
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, newStorageError("keys", true, err)
	}
	defer rows.Close()

	var keys []string
	now := time.Now()
	for rows.Next() {
		var key string
		var expiresAt sql.NullString
		if err := rows.Scan(&key, &expiresAt); err != nil {
			return nil, newStorageError("keys", false, err)
		}
		if expiresAt.Valid {
			if t, err := time.Parse(time.RFC3339Nano, expiresAt.String); err == nil && t.Before(now) {
				continue
			}
		}
		if glob == "" || glob == "*" || globMatch(glob, key) {
			keys = append(keys, key)
		}
	}
	return keys, rows.Err()
}

func (s *SQLite) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s", s.kvTable))
	if err != nil {
		return newStorageError("clear", true, err)
	}
	return nil
}

// ─── Tabular ───

func (s *SQLite) CreateTable(ctx context.Context, name string, def TableDefinition) error {
	if err := ValidateIdentifier(name); err != nil {
		return err
	}

	var cols []string
	var primaryKeys []string
	for _, col := range def.Columns {
		if err := ValidateIdentifier(col.Name); err != nil {
			return err
		}
		decl := fmt.Sprintf("%s %s", col.Name, sqliteType(col.Type))
		if !col.Nullable && !col.Primary {
			decl += " NOT NULL"
		}
		if col.Unique {
			decl += " UNIQUE"
		}
		if col.Default != nil {
			switch d := col.Default.(type) {
			case string:
				decl += fmt.Sprintf(" DEFAULT %q", d)
			case float64, int, int64, bool:
				decl += fmt.Sprintf(" DEFAULT %v", d)
			}
		}
		cols = append(cols, decl)
		if col.Primary {
			primaryKeys = append(primaryKeys, col.Name)
		}
	}
	if len(primaryKeys) > 0 {
		cols = append(cols, fmt.Sprintf("PRIMARY KEY (%s)", strings.Join(primaryKeys, ", ")))
	}

	ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", name, strings.Join(cols, ", "))
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return newStorageError("create_table", false, err)
	}

	for _, col := range def.Columns {
		if !col.Index {
			continue
		}
		idx := fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_%s ON %s (%s)", name, col.Name, name, col.Name)
		if _, err := s.db.ExecContext(ctx, idx); err != nil {
			return newStorageError("create_table", false, err)
		}
	}
	for i, composite := range def.CompositeIndexes {
		if err := ValidateIdentifiers(composite...); err != nil {
			return err
		}
		idx := fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_composite_%d ON %s (%s)",
			name, i, name, strings.Join(composite, ", "))
		if _, err := s.db.ExecContext(ctx, idx); err != nil {
			return newStorageError("create_table", false, err)
		}
	}

	return nil
}

func sqliteType(t ColumnType) string {
	switch t {
	case ColumnNumber:
		return "REAL"
	case ColumnBool:
		return "INTEGER"
	case ColumnNull:
		return "BLOB"
	default:
		return "TEXT"
	}
}

func (s *SQLite) Insert(ctx context.Context, table string, row Row) error {
	if err := ValidateIdentifier(table); err != nil {
		return err
	}
	if err := validateRowColumns(row); err != nil {
		return err
	}

	query, _, err := s.goqu.Insert(table).Rows(goqu.Record(row)).ToSQL()
	if err != nil {
		return newStorageError("insert", false, err)
	}
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return newStorageError("insert", true, err)
	}
	return nil
}

func (s *SQLite) Update(ctx context.Context, table string, where Where, patch Row) (int, error) {
	if err := ValidateIdentifier(table); err != nil {
		return 0, err
	}
	if err := validateRowColumns(patch); err != nil {
		return 0, err
	}

	ds := s.goqu.Update(table).Set(goqu.Record(patch))
	ds, err := applyWhere(ds, where)
	if err != nil {
		return 0, err
	}
	query, _, err := ds.ToSQL()
	if err != nil {
		return 0, newStorageError("update", false, err)
	}
	res, err := s.db.ExecContext(ctx, query)
	if err != nil {
		return 0, newStorageError("update", true, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLite) DeleteRows(ctx context.Context, table string, where Where) (int, error) {
	if err := ValidateIdentifier(table); err != nil {
		return 0, err
	}
	ds := s.goqu.Delete(table)
	ds, err := applyDeleteWhere(ds, where)
	if err != nil {
		return 0, err
	}
	query, _, err := ds.ToSQL()
	if err != nil {
		return 0, newStorageError("delete_rows", false, err)
	}
	res, err := s.db.ExecContext(ctx, query)
	if err != nil {
		return 0, newStorageError("delete_rows", true, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLite) Query(ctx context.Context, table string, opts QueryOptions) ([]Row, error) {
	if err := ValidateIdentifier(table); err != nil {
		return nil, err
	}

	selectCols := make([]any, 0, len(opts.Select))
	for _, c := range opts.Select {
		if err := ValidateIdentifier(c); err != nil {
			return nil, err
		}
		selectCols = append(selectCols, c)
	}

	ds := s.goqu.From(table)
	if len(selectCols) > 0 {
		ds = ds.Select(selectCols...)
	} else {
		ds = ds.Select("*")
	}

	ds, err := applySelectWhere(ds, opts.Where)
	if err != nil {
		return nil, err
	}

	if col, desc, ok := parseOrderBy(opts.OrderBy); ok {
		if desc {
			ds = ds.Order(goqu.I(col).Desc())
		} else {
			ds = ds.Order(goqu.I(col).Asc())
		}
	}

	ds = ds.Limit(uint(ClampLimit(opts.Limit))).Offset(uint(ClampOffset(opts.Offset)))

	query, _, err := ds.ToSQL()
	if err != nil {
		return nil, newStorageError("query", false, err)
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, newStorageError("query", true, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, newStorageError("query", false, err)
	}

	var result []Row
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, newStorageError("query", false, err)
		}
		r := make(Row, len(cols))
		for i, c := range cols {
			r[c] = values[i]
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

func validateRowColumns(row Row) error {
	for col := range row {
		if err := ValidateIdentifier(col); err != nil {
			return err
		}
	}
	return nil
}

func globMatch(pattern, s string) bool {
	matched, _ := sqliteGlobFallback(pattern, s)
	return matched
}

// sqliteGlobFallback reuses the same simple glob semantics as the in-memory
// backend (path.Match) so Keys() behaves identically across adapters.
func sqliteGlobFallback(pattern, s string) (bool, error) {
	return pathMatch(pattern, s)
}

func decodeStoredValue(value, typeTag, createdAt, updatedAt string, expiresAt sql.NullString) (StoredValue, error) {
	var decoded any
	if err := json.Unmarshal([]byte(value), &decoded); err != nil {
		return StoredValue{}, err
	}

	created, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return StoredValue{}, err
	}
	updated, err := time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return StoredValue{}, err
	}

	sv := StoredValue{Value: decoded, TypeTag: typeTag, CreatedAt: created, UpdatedAt: updated}
	if expiresAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, expiresAt.String)
		if err == nil {
			sv.ExpiresAt = &t
		}
	}
	return sv, nil
}
