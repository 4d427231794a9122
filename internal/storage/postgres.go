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
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// Postgres is the remote-SQL Adapter, grounded on
// github.com/rakunlabs/at's internal/store/postgres package: pgx's
// database/sql driver (`pgx/v5/stdlib`) plus goqu's postgres dialect, with
// the same dynamic-table generalization as SQLite.
type Postgres struct {
	db      *sql.DB
	goqu    *goqu.Database
	kvTable string
}

const (
	postgresConnMaxLifetime = 15 * time.Minute
	postgresMaxIdleConns    = 3
	postgresMaxOpenConns    = 8
)

// NewPostgres opens a connection pool against datasource (a postgres://
// DSN) and prepares the internal KV table.
func NewPostgres(ctx context.Context, datasource string) (*Postgres, error) {
	if datasource == "" {
		return nil, errors.New("postgres datasource is required")
	}

	db, err := sql.Open("pgx", datasource)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	db.SetConnMaxLifetime(postgresConnMaxLifetime)
	db.SetMaxIdleConns(postgresMaxIdleConns)
	db.SetMaxOpenConns(postgresMaxOpenConns)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	p := &Postgres{db: db, goqu: goqu.New("postgres", db), kvTable: "runtime_kv"}

	if err := p.ensureKVTable(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return p, nil
}

func (p *Postgres) Close() error { return p.db.Close() }

func (p *Postgres) ensureKVTable(ctx context.Context) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		type_tag TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		expires_at TIMESTAMPTZ
	)`, p.kvTable)
	_, err := p.db.ExecContext(ctx, ddl)
	return err
}

// ─── KV ───

func (p *Postgres) Get(ctx context.Context, key string) (StoredValue, bool, error) {
	query, _, err := p.goqu.From(p.kvTable).
		Select("value", "type_tag", "created_at", "updated_at", "expires_at").
		Where(goqu.I("key").Eq(key)).
		ToSQL()
	if err != nil {
		return StoredValue{}, false, newStorageError("get", false, err)
	}

	var value, typeTag string
	var createdAt, updatedAt time.Time
	var expiresAt sql.NullTime
	row := p.db.QueryRowContext(ctx, query)
	if err := row.Scan(&value, &typeTag, &createdAt, &updatedAt, &expiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return StoredValue{}, false, nil
		}
		return StoredValue{}, false, newStorageError("get", true, err)
	}

	var decoded any
	if err := json.Unmarshal([]byte(value), &decoded); err != nil {
		return StoredValue{}, false, newStorageError("get", false, err)
	}

	sv := StoredValue{Value: decoded, TypeTag: typeTag, CreatedAt: createdAt, UpdatedAt: updatedAt}
	if expiresAt.Valid {
		sv.ExpiresAt = &expiresAt.Time
	}

	if sv.Expired(time.Now()) {
		_, _ = p.Delete(ctx, key)
		return StoredValue{}, false, nil
	}

	return sv, true, nil
}

func (p *Postgres) Set(ctx context.Context, key string, value StoredValue) error {
	encoded, err := json.Marshal(value.Value)
	if err != nil {
		return newStorageError("set", false, err)
	}

	var expiresAt any
	if value.ExpiresAt != nil {
		expiresAt = *value.ExpiresAt
	}

	upsert := fmt.Sprintf(
		"INSERT INTO %s (key, value, type_tag, created_at, updated_at, expires_at) VALUES ($1, $2, $3, $4, $5, $6) "+
			"ON CONFLICT (key) DO UPDATE SET value=excluded.value, type_tag=excluded.type_tag, "+
			"updated_at=excluded.updated_at, expires_at=excluded.expires_at",
		p.kvTable)
	_, err = p.db.ExecContext(ctx, upsert, key, string(encoded), value.TypeTag, value.CreatedAt, value.UpdatedAt, expiresAt)
	if err != nil {
		return newStorageError("set", true, err)
	}
	return nil
}

func (p *Postgres) Delete(ctx context.Context, key string) (bool, error) {
	query, _, err := p.goqu.Delete(p.kvTable).Where(goqu.I("key").Eq(key)).ToSQL()
	if err != nil {
		return false, newStorageError("delete", false, err)
	}
	res, err := p.db.ExecContext(ctx, query)
	if err != nil {
		return false, newStorageError("delete", true, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (p *Postgres) Has(ctx context.Context, key string) (bool, error) {
	_, ok, err := p.Get(ctx, key)
	return ok, err
}

func (p *Postgres) Keys(ctx context.Context, glob string) ([]string, error) {
	query, _, err := p.goqu.From(p.kvTable).Select("key", "expires_at").ToSQL()
	if err != nil {
		return nil, newStorageError("keys", false, err)
	}
	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, newStorageError("keys", true, err)
	}
	defer rows.Close()

	var keys []string
	now := time.Now()
	for rows.Next() {
		var key string
		var expiresAt sql.NullTime
		if err := rows.Scan(&key, &expiresAt); err != nil {
			return nil, newStorageError("keys", false, err)
		}
		if expiresAt.Valid && expiresAt.Time.Before(now) {
			continue
		}
		if glob == "" || glob == "*" {
			keys = append(keys, key)
			continue
		}
		if matched, _ := pathMatch(glob, key); matched {
			keys = append(keys, key)
		}
	}
	return keys, rows.Err()
}

func (p *Postgres) Clear(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s", p.kvTable))
	if err != nil {
		return newStorageError("clear", true, err)
	}
	return nil
}

// ─── Tabular ───

func (p *Postgres) CreateTable(ctx context.Context, name string, def TableDefinition) error {
	if err := ValidateIdentifier(name); err != nil {
		return err
	}

	var cols []string
	var primaryKeys []string
	for _, col := range def.Columns {
		if err := ValidateIdentifier(col.Name); err != nil {
			return err
		}
		decl := fmt.Sprintf("%s %s", col.Name, postgresType(col.Type))
		if !col.Nullable && !col.Primary {
			decl += " NOT NULL"
		}
		if col.Unique {
			decl += " UNIQUE"
		}
		if col.Default != nil {
			switch d := col.Default.(type) {
			case string:
				decl += fmt.Sprintf(" DEFAULT '%s'", strings.ReplaceAll(d, "'", "''"))
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
	if _, err := p.db.ExecContext(ctx, ddl); err != nil {
		return newStorageError("create_table", false, err)
	}

	for _, col := range def.Columns {
		if !col.Index {
			continue
		}
		idx := fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_%s ON %s (%s)", name, col.Name, name, col.Name)
		if _, err := p.db.ExecContext(ctx, idx); err != nil {
			return newStorageError("create_table", false, err)
		}
	}
	for i, composite := range def.CompositeIndexes {
		if err := ValidateIdentifiers(composite...); err != nil {
			return err
		}
		idx := fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_composite_%d ON %s (%s)",
			name, i, name, strings.Join(composite, ", "))
		if _, err := p.db.ExecContext(ctx, idx); err != nil {
			return newStorageError("create_table", false, err)
		}
	}

	return nil
}

func postgresType(t ColumnType) string {
	switch t {
	case ColumnNumber:
		return "DOUBLE PRECISION"
	case ColumnBool:
		return "BOOLEAN"
	case ColumnNull:
		return "JSONB"
	default:
		return "TEXT"
	}
}

func (p *Postgres) Insert(ctx context.Context, table string, row Row) error {
	if err := ValidateIdentifier(table); err != nil {
		return err
	}
	if err := validateRowColumns(row); err != nil {
		return err
	}
	query, _, err := p.goqu.Insert(table).Rows(goqu.Record(row)).ToSQL()
	if err != nil {
		return newStorageError("insert", false, err)
	}
	if _, err := p.db.ExecContext(ctx, query); err != nil {
		return newStorageError("insert", true, err)
	}
	return nil
}

func (p *Postgres) Update(ctx context.Context, table string, where Where, patch Row) (int, error) {
	if err := ValidateIdentifier(table); err != nil {
		return 0, err
	}
	if err := validateRowColumns(patch); err != nil {
		return 0, err
	}
	ds := p.goqu.Update(table).Set(goqu.Record(patch))
	ds, err := applyWhere(ds, where)
	if err != nil {
		return 0, err
	}
	query, _, err := ds.ToSQL()
	if err != nil {
		return 0, newStorageError("update", false, err)
	}
	res, err := p.db.ExecContext(ctx, query)
	if err != nil {
		return 0, newStorageError("update", true, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (p *Postgres) DeleteRows(ctx context.Context, table string, where Where) (int, error) {
	if err := ValidateIdentifier(table); err != nil {
		return 0, err
	}
	ds := p.goqu.Delete(table)
	ds, err := applyDeleteWhere(ds, where)
	if err != nil {
		return 0, err
	}
	query, _, err := ds.ToSQL()
	if err != nil {
		return 0, newStorageError("delete_rows", false, err)
	}
	res, err := p.db.ExecContext(ctx, query)
	if err != nil {
		return 0, newStorageError("delete_rows", true, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (p *Postgres) Query(ctx context.Context, table string, opts QueryOptions) ([]Row, error) {
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

	ds := p.goqu.From(table)
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

	rows, err := p.db.QueryContext(ctx, query)
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
