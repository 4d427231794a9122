package storage

import (
	"context"
	"fmt"
	"path"
	"sort"
	"sync"
	"time"
)

// Memory is an in-memory Adapter. Data does not survive process restarts;
// grounded on github.com/rakunlabs/at's store/memory/memory.go (mutex-guarded
// maps, deterministic sorted iteration for listing operations).
type Memory struct {
	mu     sync.RWMutex
	kv     map[string]StoredValue
	tables map[string]TableDefinition
	rows   map[string][]Row
}

// NewMemory creates an empty in-memory storage adapter.
func NewMemory() *Memory {
	return &Memory{
		kv:     make(map[string]StoredValue),
		tables: make(map[string]TableDefinition),
		rows:   make(map[string][]Row),
	}
}

func (m *Memory) Close() error { return nil }

// ─── KV ───

func (m *Memory) Get(_ context.Context, key string) (StoredValue, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.kv[key]
	if !ok {
		return StoredValue{}, false, nil
	}
	if v.Expired(time.Now()) {
		delete(m.kv, key)
		return StoredValue{}, false, nil
	}
	return v, true, nil
}

func (m *Memory) Set(_ context.Context, key string, value StoredValue) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kv[key] = value
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.kv[key]
	delete(m.kv, key)
	return ok, nil
}

func (m *Memory) Has(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.kv[key]
	if !ok {
		return false, nil
	}
	if v.Expired(time.Now()) {
		delete(m.kv, key)
		return false, nil
	}
	return true, nil
}

func (m *Memory) Keys(_ context.Context, glob string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	var keys []string
	for k, v := range m.kv {
		if v.Expired(now) {
			delete(m.kv, k)
			continue
		}
		if glob == "" || glob == "*" {
			keys = append(keys, k)
			continue
		}
		if matched, _ := path.Match(glob, k); matched {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *Memory) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kv = make(map[string]StoredValue)
	return nil
}

// ─── Tabular ───

func (m *Memory) CreateTable(_ context.Context, name string, def TableDefinition) error {
	if err := ValidateIdentifier(name); err != nil {
		return err
	}
	for _, col := range def.Columns {
		if err := ValidateIdentifier(col.Name); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.tables[name] = def
	if _, ok := m.rows[name]; !ok {
		m.rows[name] = nil
	}
	return nil
}

func (m *Memory) Insert(_ context.Context, table string, row Row) error {
	if err := ValidateIdentifier(table); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	def, ok := m.tables[table]
	if !ok {
		return newValidationError("unknown table %q", table)
	}

	complete := applyDefaults(def, row)
	m.rows[table] = append(m.rows[table], complete)
	return nil
}

func (m *Memory) Update(_ context.Context, table string, where Where, patch Row) (int, error) {
	if err := ValidateIdentifier(table); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rows, ok := m.rows[table]
	if !ok {
		return 0, newValidationError("unknown table %q", table)
	}

	count := 0
	for i, r := range rows {
		if !matches(r, where) {
			continue
		}
		updated := make(Row, len(r))
		for k, v := range r {
			updated[k] = v
		}
		for k, v := range patch {
			updated[k] = v
		}
		rows[i] = updated
		count++
	}
	m.rows[table] = rows
	return count, nil
}

func (m *Memory) DeleteRows(_ context.Context, table string, where Where) (int, error) {
	if err := ValidateIdentifier(table); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rows, ok := m.rows[table]
	if !ok {
		return 0, newValidationError("unknown table %q", table)
	}

	kept := rows[:0:0]
	count := 0
	for _, r := range rows {
		if matches(r, where) {
			count++
			continue
		}
		kept = append(kept, r)
	}
	m.rows[table] = kept
	return count, nil
}

func (m *Memory) Query(_ context.Context, table string, opts QueryOptions) ([]Row, error) {
	if err := ValidateIdentifier(table); err != nil {
		return nil, err
	}

	m.mu.RLock()
	rows, ok := m.rows[table]
	m.mu.RUnlock()
	if !ok {
		return nil, newValidationError("unknown table %q", table)
	}

	var matched []Row
	for _, r := range rows {
		if matches(r, opts.Where) {
			matched = append(matched, r)
		}
	}

	if col, desc, ok := parseOrderBy(opts.OrderBy); ok {
		sort.SliceStable(matched, func(i, j int) bool {
			less := fmt.Sprintf("%v", matched[i][col]) < fmt.Sprintf("%v", matched[j][col])
			if desc {
				return !less
			}
			return less
		})
	}

	offset := ClampOffset(opts.Offset)
	limit := ClampLimit(opts.Limit)
	if offset >= len(matched) {
		return []Row{}, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	page := matched[offset:end]

	if len(opts.Select) == 0 {
		out := make([]Row, len(page))
		copy(out, page)
		return out, nil
	}

	out := make([]Row, len(page))
	for i, r := range page {
		projected := make(Row, len(opts.Select))
		for _, col := range opts.Select {
			projected[col] = r[col]
		}
		out[i] = projected
	}
	return out, nil
}

// applyDefaults fills in column defaults for fields missing from row,
// skipping complex (non-primitive) defaults per spec.md §4.2.
func applyDefaults(def TableDefinition, row Row) Row {
	complete := make(Row, len(row))
	for k, v := range row {
		complete[k] = v
	}
	for _, col := range def.Columns {
		if _, ok := complete[col.Name]; ok {
			continue
		}
		switch col.Default.(type) {
		case string, float64, int, int64, bool, nil:
			if col.Default != nil {
				complete[col.Name] = col.Default
			}
		}
	}
	return complete
}

func matches(row Row, where Where) bool {
	for _, cond := range where {
		if !matchCondition(row[cond.Column], cond) {
			return false
		}
	}
	return true
}

func matchCondition(v any, cond Condition) bool {
	switch cond.Op {
	case OpIsNull:
		return v == nil
	case OpNotNull:
		return v != nil
	case OpIn:
		values, _ := cond.Value.([]any)
		for _, want := range values {
			if fmt.Sprintf("%v", v) == fmt.Sprintf("%v", want) {
				return true
			}
		}
		return false
	case OpLike:
		pattern, _ := cond.Value.(string)
		matched, _ := path.Match(pattern, fmt.Sprintf("%v", v))
		return matched
	case OpEq:
		return fmt.Sprintf("%v", v) == fmt.Sprintf("%v", cond.Value)
	case OpNeq:
		return fmt.Sprintf("%v", v) != fmt.Sprintf("%v", cond.Value)
	case OpLt, OpLte, OpGt, OpGte:
		return compareNumericOrString(v, cond.Value, cond.Op)
	default:
		return false
	}
}

func compareNumericOrString(a, b any, op Op) bool {
	af, aok := a.(float64)
	bf, bok := b.(float64)
	if aok && bok {
		switch op {
		case OpLt:
			return af < bf
		case OpLte:
			return af <= bf
		case OpGt:
			return af > bf
		case OpGte:
			return af >= bf
		}
	}
	as, bs := fmt.Sprintf("%v", a), fmt.Sprintf("%v", b)
	switch op {
	case OpLt:
		return as < bs
	case OpLte:
		return as <= bs
	case OpGt:
		return as > bs
	case OpGte:
		return as >= bs
	}
	return false
}
