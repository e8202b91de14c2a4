package objects

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ottohome/objectdb/pkg/backend"
	"github.com/ottohome/objectdb/pkg/backend/memory"
)

// countingScriptBackend counts ScriptLoad round trips.
type countingScriptBackend struct {
	backend.Backend
	loads int
}

func (b *countingScriptBackend) ScriptLoad(ctx context.Context, src string) (string, error) {
	b.loads++
	return b.Backend.ScriptLoad(ctx, src)
}

func TestScriptCacheLoadCycle(t *testing.T) {
	mem := memory.New()
	t.Cleanup(func() { _ = mem.Close() })
	b := &countingScriptBackend{Backend: mem}
	ctx := context.Background()

	cache := newScriptCache()
	require.NoError(t, cache.load(ctx, b))
	assert.Equal(t, len(scriptSources), b.loads)

	first := make(map[string]string, len(scriptSources))
	for name := range scriptSources {
		hash := cache.hash(name)
		assert.NotEmpty(t, hash, name)
		first[name] = hash
	}

	// Everything is resident now, so a re-sync issues no load calls and
	// rebuilds the same name to hash map.
	b.loads = 0
	require.NoError(t, cache.load(ctx, b))
	assert.Zero(t, b.loads)
	for name, hash := range first {
		assert.Equal(t, hash, cache.hash(name))
	}
}
