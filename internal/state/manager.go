package state

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowbotic/runtime/internal/crypto"
	"github.com/flowbotic/runtime/internal/errs"
	"github.com/flowbotic/runtime/internal/spec"
	"github.com/flowbotic/runtime/internal/storage"
)

// VariableSchema is the resolved, runtime-facing form of a spec.VariableDecl:
// ttl parsed to a time.Duration and scope normalized to a Scope.
type VariableSchema struct {
	Name    string
	Type    string
	Scope   Scope
	Default any
	TTL     time.Duration
	Persist bool
}

// Manager implements component C3 over a storage.Adapter.
type Manager struct {
	adapter storage.Adapter
	cache   *cache

	mu        sync.RWMutex
	variables map[string]VariableSchema
	tables    map[string]storage.TableDefinition

	keyMu *keyedMutex

	// encryptionKey, if set, enables at-rest AES-256-GCM encryption of
	// columns declared Encrypted in their TableDefinition (config's
	// state.encryption_key).
	encryptionKey []byte
}

// SetEncryptionKey derives and installs the AES-256-GCM key used to
// encrypt/decrypt columns marked Encrypted. Call once during wiring,
// before any table traffic; a nil/empty passphrase disables encryption.
func (m *Manager) SetEncryptionKey(passphrase string) error {
	if passphrase == "" {
		return nil
	}
	key, err := crypto.DeriveKey(passphrase)
	if err != nil {
		return errs.NewRuntimeError("database", "derive encryption key: %v", err)
	}
	m.mu.Lock()
	m.encryptionKey = key
	m.mu.Unlock()
	return nil
}

func (m *Manager) encryptedColumns(table string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	def, ok := m.tables[table]
	if !ok {
		return nil
	}
	var cols []string
	for _, c := range def.Columns {
		if c.Encrypted {
			cols = append(cols, c.Name)
		}
	}
	return cols
}

// NewManager constructs a Manager backed by adapter. cacheTTL/cacheSize of
// <= 0 use the spec defaults (§4.3).
func NewManager(adapter storage.Adapter, cacheTTL time.Duration, cacheSize int) *Manager {
	return &Manager{
		adapter:   adapter,
		cache:     newCache(cacheTTL, cacheSize),
		variables: make(map[string]VariableSchema),
		tables:    make(map[string]storage.TableDefinition),
		keyMu:     newKeyedMutex(),
	}
}

// RegisterVariable adds name to the known variable schema, so later Get
// calls can materialize its default and TTL.
func (m *Manager) RegisterVariable(schema VariableSchema) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.variables[schema.Name] = schema
}

// RegisterTable adds name to the table registry; unknown-table access
// fails with ValidationError (§4.3).
func (m *Manager) RegisterTable(name string, def storage.TableDefinition) error {
	if err := storage.ValidateIdentifier(name); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tables[name] = def
	return nil
}

func (m *Manager) variableSchema(name string) (VariableSchema, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.variables[name]
	return v, ok
}

func (m *Manager) requireTable(name string) error {
	m.mu.RLock()
	_, ok := m.tables[name]
	m.mu.RUnlock()
	if !ok {
		return errs.NewValidationError("unknown table %q", name)
	}
	return nil
}

// Get resolves a scoped variable: cache, then storage, falling back to the
// registered default only when no stored value exists (§3 invariant 2).
func (m *Manager) Get(ctx context.Context, name string, scope Scope, sctx ScopeContext) (any, error) {
	key, err := Key(scope, name, sctx)
	if err != nil {
		return nil, err
	}

	if v, ok := m.cache.get(key); ok {
		return v, nil
	}

	stored, ok, err := m.adapter.Get(ctx, key)
	if err != nil {
		return nil, errs.NewRuntimeError("storage", "get %q: %v", key, err)
	}
	if ok {
		m.cache.set(key, stored.Value)
		return stored.Value, nil
	}

	if schema, ok := m.variableSchema(name); ok {
		return schema.Default, nil
	}
	return nil, nil
}

// Set writes a scoped variable: storage first, then cache (write-through,
// §3 invariant 4).
func (m *Manager) Set(ctx context.Context, name string, scope Scope, sctx ScopeContext, value any) error {
	key, err := Key(scope, name, sctx)
	if err != nil {
		return err
	}

	now := time.Now()
	sv := storage.StoredValue{Value: value, TypeTag: typeTag(value), CreatedAt: now, UpdatedAt: now}
	if schema, ok := m.variableSchema(name); ok && schema.TTL > 0 {
		expires := now.Add(schema.TTL)
		sv.ExpiresAt = &expires
	}

	if err := m.adapter.Set(ctx, key, sv); err != nil {
		return errs.NewRuntimeError("storage", "set %q: %v", key, err)
	}
	m.cache.set(key, value)
	return nil
}

// Delete restores default visibility for a variable without deleting the
// default itself (§3 invariant 3).
func (m *Manager) Delete(ctx context.Context, name string, scope Scope, sctx ScopeContext) error {
	key, err := Key(scope, name, sctx)
	if err != nil {
		return err
	}
	if _, err := m.adapter.Delete(ctx, key); err != nil {
		return errs.NewRuntimeError("storage", "delete %q: %v", key, err)
	}
	m.cache.delete(key)
	return nil
}

// Increment adds by to a numeric variable, serialized per (scope-key,
// name), and returns the new stored value (§3 invariant 5).
func (m *Manager) Increment(ctx context.Context, name string, scope Scope, sctx ScopeContext, by float64) (float64, error) {
	return m.arithmetic(ctx, name, scope, sctx, by)
}

// Decrement subtracts by from a numeric variable, serialized the same way
// as Increment.
func (m *Manager) Decrement(ctx context.Context, name string, scope Scope, sctx ScopeContext, by float64) (float64, error) {
	return m.arithmetic(ctx, name, scope, sctx, -by)
}

func (m *Manager) arithmetic(ctx context.Context, name string, scope Scope, sctx ScopeContext, delta float64) (float64, error) {
	key, err := Key(scope, name, sctx)
	if err != nil {
		return 0, err
	}

	unlock := m.keyMu.lock(key)
	defer unlock()

	current, err := m.Get(ctx, name, scope, sctx)
	if err != nil {
		return 0, err
	}

	var base float64
	switch v := current.(type) {
	case float64:
		base = v
	case int:
		base = float64(v)
	case nil:
		base = 0
	default:
		return 0, errs.NewRuntimeError("type", "variable %q is not numeric", name)
	}

	next := base + delta
	if err := m.Set(ctx, name, scope, sctx, next); err != nil {
		return 0, err
	}
	return next, nil
}

// fillPrimaryKey generates a UUID for table's string-typed primary column
// when the row doesn't already set it, so callers can insert without
// minting their own ids.
func (m *Manager) fillPrimaryKey(table string, row storage.Row) {
	m.mu.RLock()
	def, ok := m.tables[table]
	m.mu.RUnlock()
	if !ok {
		return
	}
	for _, c := range def.Columns {
		if !c.Primary || c.Type != storage.ColumnString {
			continue
		}
		if v, ok := row[c.Name]; ok && v != nil && v != "" {
			continue
		}
		row[c.Name] = uuid.NewString()
	}
}

// ─── Tabular passthrough ───

func (m *Manager) CreateTable(ctx context.Context, name string, def storage.TableDefinition) error {
	if err := m.adapter.CreateTable(ctx, name, def); err != nil {
		return err
	}
	return m.RegisterTable(name, def)
}

func (m *Manager) Insert(ctx context.Context, table string, row storage.Row) error {
	if err := m.requireTable(table); err != nil {
		return err
	}
	m.fillPrimaryKey(table, row)
	row, err := crypto.EncryptRow(row, m.encryptedColumns(table), m.encryptionKey)
	if err != nil {
		return errs.NewRuntimeError("database", "%v", err)
	}
	return m.adapter.Insert(ctx, table, row)
}

func (m *Manager) Update(ctx context.Context, table string, where storage.Where, patch storage.Row) (int, error) {
	if err := m.requireTable(table); err != nil {
		return 0, err
	}
	patch, err := crypto.EncryptRow(patch, m.encryptedColumns(table), m.encryptionKey)
	if err != nil {
		return 0, errs.NewRuntimeError("database", "%v", err)
	}
	return m.adapter.Update(ctx, table, where, patch)
}

func (m *Manager) DeleteRows(ctx context.Context, table string, where storage.Where) (int, error) {
	if err := m.requireTable(table); err != nil {
		return 0, err
	}
	return m.adapter.DeleteRows(ctx, table, where)
}

func (m *Manager) Query(ctx context.Context, table string, opts storage.QueryOptions) ([]storage.Row, error) {
	if err := m.requireTable(table); err != nil {
		return nil, err
	}
	rows, err := m.adapter.Query(ctx, table, opts)
	if err != nil {
		return nil, err
	}
	cols := m.encryptedColumns(table)
	if len(cols) == 0 {
		return rows, nil
	}
	for i, row := range rows {
		row, err := crypto.DecryptRow(row, cols, m.encryptionKey)
		if err != nil {
			return nil, errs.NewRuntimeError("database", "%v", err)
		}
		rows[i] = row
	}
	return rows, nil
}

// Close clears the cache (§4.3) and the underlying adapter.
func (m *Manager) Close() error {
	m.cache.clear()
	return m.adapter.Close()
}

func typeTag(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "bool"
	case float64, int, int64:
		return "number"
	case string:
		return "string"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return "unknown"
	}
}

// SchemaFromSpec converts a spec.VariableDecl into a VariableSchema,
// parsing its TTL duration literal. An unparseable or empty TTL means no
// expiry.
func SchemaFromSpec(decl spec.VariableDecl, parseDuration func(string) (time.Duration, error)) VariableSchema {
	var ttl time.Duration
	if decl.TTL != "" && parseDuration != nil {
		if d, err := parseDuration(decl.TTL); err == nil {
			ttl = d
		}
	}
	return VariableSchema{
		Name:    decl.Name,
		Type:    decl.Type,
		Scope:   Scope(decl.Scope),
		Default: decl.Default,
		TTL:     ttl,
		Persist: decl.Persist,
	}
}
