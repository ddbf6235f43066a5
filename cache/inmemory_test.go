package cache

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestInMemorySetGet(t *testing.T) {
	ctx := context.Background()
	b := NewInMemory(ctx)
	defer b.Close()

	// Miss on empty cache.
	found, val, err := b.Get(ctx, "key")
	assert.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, val)

	assert.NoError(t, b.Set(ctx, "key", "value", TTLDefault, nil))

	found, val, err = b.Get(ctx, "key")
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "value", val)

	// Get using the generic helper.
	ok, str, err := Get[string](ctx, b, "key")
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "value", str)
}

func TestInMemoryStoresZeroValues(t *testing.T) {
	ctx := context.Background()
	b := NewInMemory(ctx)
	defer b.Close()

	// A stored falsy value is distinguishable from a miss.
	assert.NoError(t, b.Set(ctx, "flag", false, TTLDefault, nil))
	found, val, err := b.Get(ctx, "flag")
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, false, val)
}

func TestInMemoryExpiry(t *testing.T) {
	ctx := context.Background()
	b := NewInMemory(ctx, WithDefaultTTL(30*time.Millisecond))
	defer b.Close()

	assert.NoError(t, b.Set(ctx, "short", "v", TTLDefault, nil))
	assert.NoError(t, b.Set(ctx, "forever", "v", TTLForever, nil))

	time.Sleep(60 * time.Millisecond)

	found, _, err := b.Get(ctx, "short")
	assert.NoError(t, err)
	assert.False(t, found)

	found, _, err = b.Get(ctx, "forever")
	assert.NoError(t, err)
	assert.True(t, found)
}

func TestInMemorySweep(t *testing.T) {
	ctx := context.Background()
	b := NewInMemory(ctx,
		WithDefaultTTL(10*time.Millisecond),
		WithSweepInterval(20*time.Millisecond))
	defer b.Close()

	assert.NoError(t, b.Set(ctx, "key", "v", TTLDefault, nil))

	assert.Eventually(t, func() bool {
		mem := b.(*inMemoryBackend)
		mem.mutex.Lock()
		defer mem.mutex.Unlock()
		return len(mem.entries) == 0
	}, time.Second, 10*time.Millisecond)
}

func TestInMemoryExists(t *testing.T) {
	ctx := context.Background()
	b := NewInMemory(ctx)
	defer b.Close()

	found, err := b.Exists(ctx, "key")
	assert.NoError(t, err)
	assert.False(t, found)

	assert.NoError(t, b.Set(ctx, "key", "v", TTLDefault, nil))
	found, err = b.Exists(ctx, "key")
	assert.NoError(t, err)
	assert.True(t, found)
}

func TestInMemoryAdd(t *testing.T) {
	ctx := context.Background()
	b := NewInMemory(ctx)
	defer b.Close()

	added, err := b.Add(ctx, "key", "first", TTLDefault, nil)
	assert.NoError(t, err)
	assert.True(t, added)

	added, err = b.Add(ctx, "key", "second", TTLDefault, nil)
	assert.NoError(t, err)
	assert.False(t, added)

	found, val, err := b.Get(ctx, "key")
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "first", val)
}

func TestInMemoryAddAfterExpiry(t *testing.T) {
	ctx := context.Background()
	b := NewInMemory(ctx)
	defer b.Close()

	assert.NoError(t, b.Set(ctx, "key", "old", 20*time.Millisecond, nil))
	time.Sleep(40 * time.Millisecond)

	// An expired entry does not block the add.
	added, err := b.Add(ctx, "key", "new", TTLDefault, nil)
	assert.NoError(t, err)
	assert.True(t, added)
}

func TestInMemoryMultiGet(t *testing.T) {
	ctx := context.Background()
	b := NewInMemory(ctx)
	defer b.Close()

	assert.NoError(t, b.Set(ctx, "a", 1, TTLDefault, nil))
	assert.NoError(t, b.Set(ctx, "b", 2, TTLDefault, nil))

	hits, err := b.MultiGet(ctx, []string{"a", "b", "missing"})
	assert.NoError(t, err)
	assert.Equal(t, map[string]any{"a": 1, "b": 2}, hits)
}

func TestInMemoryMultiSetMultiAdd(t *testing.T) {
	ctx := context.Background()
	b := NewInMemory(ctx)
	defer b.Close()

	failed, err := b.MultiSet(ctx, map[string]any{"a": "v1", "b": "v2"}, TTLDefault, nil)
	assert.NoError(t, err)
	assert.Empty(t, failed)

	// "a" collides, "c" is novel.
	failed, err = b.MultiAdd(ctx, map[string]any{"a": "x", "c": "v3"}, TTLDefault, nil)
	assert.NoError(t, err)
	assert.Equal(t, []string{b.BuildKey("a")}, failed)

	found, val, err := b.Get(ctx, "a")
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "v1", val)

	found, val, err = b.Get(ctx, "c")
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "v3", val)
}

func TestInMemoryDelete(t *testing.T) {
	ctx := context.Background()
	b := NewInMemory(ctx)
	defer b.Close()

	assert.NoError(t, b.Set(ctx, "key", "v", TTLDefault, nil))
	assert.NoError(t, b.Delete(ctx, "key"))

	found, err := b.Exists(ctx, "key")
	assert.NoError(t, err)
	assert.False(t, found)

	// Deleting an absent key succeeds.
	assert.NoError(t, b.Delete(ctx, "key"))
}

func TestInMemoryFlush(t *testing.T) {
	ctx := context.Background()
	b := NewInMemory(ctx)
	defer b.Close()

	assert.NoError(t, b.Set(ctx, "a", 1, TTLDefault, nil))
	assert.NoError(t, b.Set(ctx, "b", 2, TTLDefault, nil))
	assert.NoError(t, b.Flush(ctx))

	hits, err := b.MultiGet(ctx, []string{"a", "b"})
	assert.NoError(t, err)
	assert.Empty(t, hits)
}

func TestInMemoryPrefix(t *testing.T) {
	ctx := context.Background()
	b := NewInMemory(ctx, WithPrefix("ns"))
	defer b.Close()

	assert.Equal(t, "ns:key", b.BuildKey("key"))
}

func TestInMemoryCloseIdempotent(t *testing.T) {
	b := NewInMemory(context.Background())
	assert.NoError(t, b.Close())
	assert.NoError(t, b.Close())
}

func TestInMemoryMultiAddFailedKeysSorted(t *testing.T) {
	ctx := context.Background()
	b := NewInMemory(ctx)
	defer b.Close()

	assert.NoError(t, b.Set(ctx, "x", 1, TTLDefault, nil))
	assert.NoError(t, b.Set(ctx, "y", 2, TTLDefault, nil))

	failed, err := b.MultiAdd(ctx, map[string]any{"x": 0, "y": 0, "z": 3}, TTLDefault, nil)
	assert.NoError(t, err)
	sort.Strings(failed)
	assert.Equal(t, []string{b.BuildKey("x"), b.BuildKey("y")}, failed)
}
