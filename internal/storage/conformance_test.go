package storage_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowbotic/runtime/internal/storage"
)

// backendFactories enumerates every Adapter implementation the conformance
// suite below is run against. Postgres only joins the set when
// RUNTIME_TEST_POSTGRES_DSN is set (it needs a live server); Memory and
// SQLite always run.
func backendFactories(t *testing.T) map[string]func() storage.Adapter {
	t.Helper()
	factories := map[string]func() storage.Adapter{
		"memory": func() storage.Adapter { return storage.NewMemory() },
		"sqlite": func() storage.Adapter {
			a, err := storage.NewSQLite(context.Background(), ":memory:")
			require.NoError(t, err)
			return a
		},
	}

	if dsn := os.Getenv("RUNTIME_TEST_POSTGRES_DSN"); dsn != "" {
		factories["postgres"] = func() storage.Adapter {
			a, err := storage.NewPostgres(context.Background(), dsn)
			require.NoError(t, err)
			return a
		}
	}

	return factories
}

func TestAdapter_Conformance(t *testing.T) {
	for name, factory := range backendFactories(t) {
		t.Run(name, func(t *testing.T) {
			adapter := factory()
			defer adapter.Close()
			runConformanceSuite(t, adapter)
		})
	}
}

func runConformanceSuite(t *testing.T, a storage.Adapter) {
	ctx := context.Background()

	t.Run("kv round trip", func(t *testing.T) {
		now := time.Now().UTC().Truncate(time.Second)
		err := a.Set(ctx, "greeting", storage.StoredValue{
			Value:     "hello",
			TypeTag:   "string",
			CreatedAt: now,
			UpdatedAt: now,
		})
		require.NoError(t, err)

		got, ok, err := a.Get(ctx, "greeting")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "hello", got.Value)

		has, err := a.Has(ctx, "greeting")
		require.NoError(t, err)
		assert.True(t, has)

		deleted, err := a.Delete(ctx, "greeting")
		require.NoError(t, err)
		assert.True(t, deleted)

		_, ok, err = a.Get(ctx, "greeting")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("kv expiry", func(t *testing.T) {
		past := time.Now().Add(-time.Hour)
		err := a.Set(ctx, "stale", storage.StoredValue{
			Value:     "gone",
			TypeTag:   "string",
			CreatedAt: past,
			UpdatedAt: past,
			ExpiresAt: &past,
		})
		require.NoError(t, err)

		_, ok, err := a.Get(ctx, "stale")
		require.NoError(t, err)
		assert.False(t, ok, "expired entries must not be returned")
	})

	t.Run("kv glob listing", func(t *testing.T) {
		require.NoError(t, a.Clear(ctx))
		now := time.Now()
		for _, k := range []string{"user/1/name", "user/2/name", "guild/1/name"} {
			require.NoError(t, a.Set(ctx, k, storage.StoredValue{Value: k, TypeTag: "string", CreatedAt: now, UpdatedAt: now}))
		}

		keys, err := a.Keys(ctx, "user/*/name")
		require.NoError(t, err)
		assert.Len(t, keys, 2)
	})

	t.Run("tabular crud", func(t *testing.T) {
		table := "conformance_items"
		def := storage.TableDefinition{
			Columns: []storage.ColumnDefinition{
				{Name: "id", Type: storage.ColumnString, Primary: true},
				{Name: "score", Type: storage.ColumnNumber, Index: true},
				{Name: "active", Type: storage.ColumnBool, Default: true},
			},
		}
		require.NoError(t, a.CreateTable(ctx, table, def))

		require.NoError(t, a.Insert(ctx, table, storage.Row{"id": "a", "score": float64(10)}))
		require.NoError(t, a.Insert(ctx, table, storage.Row{"id": "b", "score": float64(20)}))
		require.NoError(t, a.Insert(ctx, table, storage.Row{"id": "c", "score": float64(30)}))

		rows, err := a.Query(ctx, table, storage.QueryOptions{
			Where:   storage.Where{{Column: "score", Op: storage.OpGte, Value: float64(20)}},
			OrderBy: "score DESC",
		})
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Equal(t, "c", rows[0]["id"])
		assert.Equal(t, "b", rows[1]["id"])

		n, err := a.Update(ctx, table, storage.Where{{Column: "id", Op: storage.OpEq, Value: "a"}}, storage.Row{"score": float64(15)})
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		n, err = a.DeleteRows(ctx, table, storage.Where{{Column: "id", Op: storage.OpEq, Value: "b"}})
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		rows, err = a.Query(ctx, table, storage.QueryOptions{})
		require.NoError(t, err)
		assert.Len(t, rows, 2)
	})

	t.Run("query pagination clamps", func(t *testing.T) {
		table := "conformance_page"
		require.NoError(t, a.CreateTable(ctx, table, storage.TableDefinition{
			Columns: []storage.ColumnDefinition{{Name: "id", Type: storage.ColumnString, Primary: true}},
		}))
		for i := 0; i < 5; i++ {
			require.NoError(t, a.Insert(ctx, table, storage.Row{"id": string(rune('a' + i))}))
		}

		rows, err := a.Query(ctx, table, storage.QueryOptions{Limit: -1, Offset: -1})
		require.NoError(t, err)
		assert.Len(t, rows, 5)
	})
}

func TestValidateIdentifier_RejectsInjectionAttempts(t *testing.T) {
	bad := []string{"id; DROP TABLE users", "id-name", "1id", "", "id name", "id\"quoted"}
	for _, name := range bad {
		assert.Error(t, storage.ValidateIdentifier(name), "expected %q to be rejected", name)
	}

	good := []string{"id", "_id", "column_1", "GuildID"}
	for _, name := range good {
		assert.NoError(t, storage.ValidateIdentifier(name))
	}
}
