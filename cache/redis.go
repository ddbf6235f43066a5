package cache

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
)

type redisBackend struct {
	client *redis.Client
	cfg    config
}

var _ Backend = (*redisBackend)(nil)

// NewRedis returns a Backend backed by Redis. Values are stored as msgpack
// envelopes under plain string keys with native Redis TTLs.
// The caller owns the redis.Client lifecycle — Close is a no-op on the
// client. Each operation uses a per-query timeout (DefaultQueryTimeout).
func NewRedis(client *redis.Client, opts ...Option) Backend {
	return &redisBackend{
		client: client,
		cfg:    applyOptions(opts),
	}
}

func (b *redisBackend) queryCtx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, b.cfg.queryTimeout)
}

func (b *redisBackend) BuildKey(key string) string {
	return b.cfg.canonicalKey(key)
}

func (b *redisBackend) Get(ctx context.Context, key string) (bool, any, error) {
	qctx, cancel := b.queryCtx(ctx)
	defer cancel()
	k := b.BuildKey(key)
	data, err := b.client.Get(qctx, k).Bytes()
	if err == redis.Nil {
		return false, nil, nil
	}
	if err != nil {
		return false, nil, err
	}
	val, ok, err := openEntry(ctx, data)
	if err != nil {
		return false, nil, err
	}
	if !ok {
		// Dependency changed — drop the entry (fire-and-forget).
		b.client.Del(qctx, k)
		return false, nil, nil
	}
	return true, val, nil
}

func (b *redisBackend) Exists(ctx context.Context, key string) (bool, error) {
	qctx, cancel := b.queryCtx(ctx)
	defer cancel()
	n, err := b.client.Exists(qctx, b.BuildKey(key)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (b *redisBackend) MultiGet(ctx context.Context, keys []string) (map[string]any, error) {
	if len(keys) == 0 {
		return map[string]any{}, nil
	}
	qctx, cancel := b.queryCtx(ctx)
	defer cancel()
	canonical := make([]string, len(keys))
	for i, key := range keys {
		canonical[i] = b.BuildKey(key)
	}
	results, err := b.client.MGet(qctx, canonical...).Result()
	if err != nil {
		return nil, err
	}
	hits := make(map[string]any, len(keys))
	var stale []string
	for i, res := range results {
		if res == nil {
			continue
		}
		raw, ok := res.(string)
		if !ok {
			return nil, errors.Newf("cache: unexpected redis value type %T", res)
		}
		val, valid, err := openEntry(ctx, []byte(raw))
		if err != nil {
			return nil, err
		}
		if !valid {
			stale = append(stale, canonical[i])
			continue
		}
		hits[keys[i]] = val
	}
	if len(stale) > 0 {
		b.client.Del(qctx, stale...)
	}
	return hits, nil
}

func (b *redisBackend) Set(ctx context.Context, key string, val any, ttl time.Duration, dep Dependency) error {
	data, err := packEntry(ctx, val, dep)
	if err != nil {
		return err
	}
	qctx, cancel := b.queryCtx(ctx)
	defer cancel()
	// resolveTTL returning 0 means no expiry, which is what redis Set with
	// expiration 0 does.
	return b.client.Set(qctx, b.BuildKey(key), data, b.cfg.resolveTTL(ttl)).Err()
}

func (b *redisBackend) MultiSet(ctx context.Context, items map[string]any, ttl time.Duration, dep Dependency) ([]string, error) {
	var failed []string
	qctx, cancel := b.queryCtx(ctx)
	defer cancel()
	d := b.cfg.resolveTTL(ttl)
	pipe := b.client.Pipeline()
	cmds := make(map[string]*redis.StatusCmd, len(items))
	for key, val := range items {
		k := b.BuildKey(key)
		data, err := packEntry(ctx, val, dep)
		if err != nil {
			failed = append(failed, k)
			continue
		}
		cmds[k] = pipe.Set(qctx, k, data, d)
	}
	_, execErr := pipe.Exec(qctx)
	for k, cmd := range cmds {
		if cmd.Err() != nil {
			failed = append(failed, k)
		}
	}
	if execErr != nil && execErr != redis.Nil {
		return failed, execErr
	}
	return failed, nil
}

func (b *redisBackend) Add(ctx context.Context, key string, val any, ttl time.Duration, dep Dependency) (bool, error) {
	data, err := packEntry(ctx, val, dep)
	if err != nil {
		return false, err
	}
	qctx, cancel := b.queryCtx(ctx)
	defer cancel()
	return b.client.SetNX(qctx, b.BuildKey(key), data, b.cfg.resolveTTL(ttl)).Result()
}

func (b *redisBackend) MultiAdd(ctx context.Context, items map[string]any, ttl time.Duration, dep Dependency) ([]string, error) {
	var failed []string
	qctx, cancel := b.queryCtx(ctx)
	defer cancel()
	d := b.cfg.resolveTTL(ttl)
	pipe := b.client.Pipeline()
	cmds := make(map[string]*redis.BoolCmd, len(items))
	for key, val := range items {
		k := b.BuildKey(key)
		data, err := packEntry(ctx, val, dep)
		if err != nil {
			failed = append(failed, k)
			continue
		}
		cmds[k] = pipe.SetNX(qctx, k, data, d)
	}
	_, execErr := pipe.Exec(qctx)
	for k, cmd := range cmds {
		if cmd.Err() != nil || !cmd.Val() {
			failed = append(failed, k)
		}
	}
	if execErr != nil && execErr != redis.Nil {
		return failed, execErr
	}
	return failed, nil
}

func (b *redisBackend) Delete(ctx context.Context, key string) error {
	qctx, cancel := b.queryCtx(ctx)
	defer cancel()
	return b.client.Del(qctx, b.BuildKey(key)).Err()
}

// Flush removes this backend's keys. With a prefix configured it scans and
// deletes only the namespace; without one the whole logical database is
// assumed to belong to the cache and FLUSHDB is used.
func (b *redisBackend) Flush(ctx context.Context) error {
	qctx, cancel := b.queryCtx(ctx)
	defer cancel()
	if b.cfg.prefix == "" {
		return b.client.FlushDB(qctx).Err()
	}
	iter := b.client.Scan(qctx, 0, b.cfg.prefix+":*", 100).Iterator()
	var batch []string
	for iter.Next(qctx) {
		batch = append(batch, iter.Val())
		if len(batch) >= 100 {
			if err := b.client.Del(qctx, batch...).Err(); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(batch) > 0 {
		return b.client.Del(qctx, batch...).Err()
	}
	return nil
}

// Close is a no-op — the caller owns the redis.Client lifecycle.
func (b *redisBackend) Close() error {
	return nil
}
