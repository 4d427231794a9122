package state_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowbotic/runtime/internal/state"
	"github.com/flowbotic/runtime/internal/storage"
)

func TestManager_DefaultVisibleOnlyWhenAbsent(t *testing.T) {
	m := state.NewManager(storage.NewMemory(), 0, 0)
	m.RegisterVariable(state.VariableSchema{Name: "xp", Scope: state.ScopeGlobal, Default: float64(0)})

	v, err := m.Get(context.Background(), "xp", state.ScopeGlobal, state.ScopeContext{})
	require.NoError(t, err)
	assert.Equal(t, float64(0), v)

	require.NoError(t, m.Set(context.Background(), "xp", state.ScopeGlobal, state.ScopeContext{}, float64(0)))
	v, err = m.Get(context.Background(), "xp", state.ScopeGlobal, state.ScopeContext{})
	require.NoError(t, err)
	assert.Equal(t, float64(0), v, "a stored zero must shadow the default, not be confused with absence")
}

func TestManager_DeleteRestoresDefault(t *testing.T) {
	m := state.NewManager(storage.NewMemory(), 0, 0)
	m.RegisterVariable(state.VariableSchema{Name: "greeting", Scope: state.ScopeGlobal, Default: "hi"})

	require.NoError(t, m.Set(context.Background(), "greeting", state.ScopeGlobal, state.ScopeContext{}, "custom"))
	require.NoError(t, m.Delete(context.Background(), "greeting", state.ScopeGlobal, state.ScopeContext{}))

	v, err := m.Get(context.Background(), "greeting", state.ScopeGlobal, state.ScopeContext{})
	require.NoError(t, err)
	assert.Equal(t, "hi", v)
}

func TestManager_ScopeIsolation(t *testing.T) {
	m := state.NewManager(storage.NewMemory(), 0, 0)

	require.NoError(t, m.Set(context.Background(), "pref", state.ScopeUser, state.ScopeContext{UserID: "U1"}, "A"))
	require.NoError(t, m.Set(context.Background(), "pref", state.ScopeUser, state.ScopeContext{UserID: "U2"}, "B"))

	v1, err := m.Get(context.Background(), "pref", state.ScopeUser, state.ScopeContext{UserID: "U1"})
	require.NoError(t, err)
	assert.Equal(t, "A", v1)

	v2, err := m.Get(context.Background(), "pref", state.ScopeUser, state.ScopeContext{UserID: "U2"})
	require.NoError(t, err)
	assert.Equal(t, "B", v2)
}

func TestManager_GuildScopeRequiresGuildID(t *testing.T) {
	m := state.NewManager(storage.NewMemory(), 0, 0)
	_, err := m.Get(context.Background(), "x", state.ScopeGuild, state.ScopeContext{})
	assert.Error(t, err)
}

func TestManager_IncrementRace(t *testing.T) {
	m := state.NewManager(storage.NewMemory(), 0, 0)
	m.RegisterVariable(state.VariableSchema{Name: "xp", Scope: state.ScopeGuild, Default: float64(0)})

	sctx := state.ScopeContext{GuildID: "G"}
	const n = 100

	var wg sync.WaitGroup
	results := make([]float64, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := m.Increment(context.Background(), "xp", state.ScopeGuild, sctx, 1)
			require.NoError(t, err)
			results[i] = v
		}(i)
	}
	wg.Wait()

	final, err := m.Get(context.Background(), "xp", state.ScopeGuild, sctx)
	require.NoError(t, err)
	assert.Equal(t, float64(n), final)

	seen := make(map[float64]bool, n)
	for _, v := range results {
		seen[v] = true
	}
	assert.Len(t, seen, n, "each increment must observe a distinct prefix sum")
	for i := 1; i <= n; i++ {
		assert.True(t, seen[float64(i)], "missing prefix sum %d", i)
	}
}

func TestManager_UnknownTableFails(t *testing.T) {
	m := state.NewManager(storage.NewMemory(), 0, 0)
	_, err := m.Query(context.Background(), "ghost", storage.QueryOptions{})
	assert.Error(t, err)
}

func TestManager_CloseAfterSetSucceeds(t *testing.T) {
	m := state.NewManager(storage.NewMemory(), 0, 0)
	require.NoError(t, m.Set(context.Background(), "k", state.ScopeGlobal, state.ScopeContext{}, "v"))
	require.NoError(t, m.Close())
}
