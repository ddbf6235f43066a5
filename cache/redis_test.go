package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestRedisSetGet(t *testing.T) {
	_, client := newTestRedis(t)
	ctx := context.Background()
	b := NewRedis(client, WithPrefix("test"))

	found, val, err := b.Get(ctx, "key")
	assert.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, val)

	assert.NoError(t, b.Set(ctx, "key", "value", time.Minute, nil))

	found, val, err = b.Get(ctx, "key")
	assert.NoError(t, err)
	assert.True(t, found)
	assert.NotNil(t, val)

	// Serialized backends hand back bytes; the generic helper decodes them.
	ok, str, err := Get[string](ctx, b, "key")
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "value", str)
}

func TestRedisExpiry(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()
	b := NewRedis(client, WithPrefix("test"))

	assert.NoError(t, b.Set(ctx, "short", "v", time.Minute, nil))
	assert.NoError(t, b.Set(ctx, "forever", "v", TTLForever, nil))

	mr.FastForward(2 * time.Minute)

	found, _, err := b.Get(ctx, "short")
	assert.NoError(t, err)
	assert.False(t, found)

	found, _, err = b.Get(ctx, "forever")
	assert.NoError(t, err)
	assert.True(t, found)
}

func TestRedisExists(t *testing.T) {
	_, client := newTestRedis(t)
	ctx := context.Background()
	b := NewRedis(client, WithPrefix("test"))

	found, err := b.Exists(ctx, "key")
	assert.NoError(t, err)
	assert.False(t, found)

	assert.NoError(t, b.Set(ctx, "key", "v", time.Minute, nil))
	found, err = b.Exists(ctx, "key")
	assert.NoError(t, err)
	assert.True(t, found)
}

func TestRedisAdd(t *testing.T) {
	_, client := newTestRedis(t)
	ctx := context.Background()
	b := NewRedis(client, WithPrefix("test"))

	added, err := b.Add(ctx, "key", "first", time.Minute, nil)
	assert.NoError(t, err)
	assert.True(t, added)

	added, err = b.Add(ctx, "key", "second", time.Minute, nil)
	assert.NoError(t, err)
	assert.False(t, added)

	ok, str, err := Get[string](ctx, b, "key")
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "first", str)
}

func TestRedisMultiGet(t *testing.T) {
	_, client := newTestRedis(t)
	ctx := context.Background()
	b := NewRedis(client, WithPrefix("test"))

	assert.NoError(t, b.Set(ctx, "a", "v1", time.Minute, nil))
	assert.NoError(t, b.Set(ctx, "b", "v2", time.Minute, nil))

	hits, err := b.MultiGet(ctx, []string{"a", "b", "missing"})
	assert.NoError(t, err)
	assert.Len(t, hits, 2)
	assert.Contains(t, hits, "a")
	assert.Contains(t, hits, "b")
	assert.NotContains(t, hits, "missing")
}

func TestRedisMultiSetMultiAdd(t *testing.T) {
	_, client := newTestRedis(t)
	ctx := context.Background()
	b := NewRedis(client, WithPrefix("test"))

	failed, err := b.MultiSet(ctx, map[string]any{"a": "v1", "b": "v2"}, time.Minute, nil)
	assert.NoError(t, err)
	assert.Empty(t, failed)

	failed, err = b.MultiAdd(ctx, map[string]any{"a": "x", "c": "v3"}, time.Minute, nil)
	assert.NoError(t, err)
	assert.Equal(t, []string{b.BuildKey("a")}, failed)

	ok, str, err := Get[string](ctx, b, "a")
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v1", str)

	ok, str, err = Get[string](ctx, b, "c")
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v3", str)
}

func TestRedisDelete(t *testing.T) {
	_, client := newTestRedis(t)
	ctx := context.Background()
	b := NewRedis(client, WithPrefix("test"))

	assert.NoError(t, b.Set(ctx, "key", "v", time.Minute, nil))
	assert.NoError(t, b.Delete(ctx, "key"))

	found, err := b.Exists(ctx, "key")
	assert.NoError(t, err)
	assert.False(t, found)

	assert.NoError(t, b.Delete(ctx, "key"))
}

func TestRedisFlushRespectsNamespace(t *testing.T) {
	_, client := newTestRedis(t)
	ctx := context.Background()
	mine := NewRedis(client, WithPrefix("mine"))
	other := NewRedis(client, WithPrefix("other"))

	assert.NoError(t, mine.Set(ctx, "key", "v", time.Minute, nil))
	assert.NoError(t, other.Set(ctx, "key", "v", time.Minute, nil))

	assert.NoError(t, mine.Flush(ctx))

	found, err := mine.Exists(ctx, "key")
	assert.NoError(t, err)
	assert.False(t, found)

	// The sibling namespace survived.
	found, err = other.Exists(ctx, "key")
	assert.NoError(t, err)
	assert.True(t, found)
}

func TestRedisStructRoundTrip(t *testing.T) {
	_, client := newTestRedis(t)
	ctx := context.Background()
	b := NewRedis(client, WithPrefix("test"))

	type profile struct {
		Name string `msgpack:"name"`
		Age  int    `msgpack:"age"`
	}

	assert.NoError(t, b.Set(ctx, "p", profile{Name: "ada", Age: 36}, time.Minute, nil))

	ok, got, err := Get[profile](ctx, b, "p")
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, profile{Name: "ada", Age: 36}, got)
}

func TestRedisAsLevel2(t *testing.T) {
	_, client := newTestRedis(t)
	ctx := context.Background()

	l1 := NewInMemory(ctx, WithPrefix("l1"))
	defer l1.Close()
	l2 := NewRedis(client, WithPrefix("l2"))

	ml, err := NewMultilevel(l1, l2)
	assert.NoError(t, err)

	assert.NoError(t, ml.Set(ctx, "abc", "123", time.Minute, nil))

	// Write-around: level 1 empty until the first read.
	found, err := l1.Exists(ctx, "abc")
	assert.NoError(t, err)
	assert.False(t, found)

	ok, str, err := Get[string](ctx, ml, "abc")
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "123", str)

	// Promoted copy holds the serialized bytes; the typed helper still
	// decodes it on the level-1 hit path.
	ok, str, err = Get[string](ctx, ml, "abc")
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "123", str)

	found, err = l1.Exists(ctx, "abc")
	assert.NoError(t, err)
	assert.True(t, found)
}
