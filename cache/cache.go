package cache

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/vmihailenco/msgpack/v5"
)

// TTL sentinels accepted by every write operation.
const (
	// TTLDefault applies the backend's configured default TTL
	// (see WithDefaultTTL).
	TTLDefault time.Duration = -1
	// TTLForever stores the entry without an expiry.
	TTLForever time.Duration = 0
)

// DefaultTTL is the default TTL used when a backend is constructed without
// WithDefaultTTL and an operation passes TTLDefault.
const DefaultTTL = 5 * time.Minute

// DefaultQueryTimeout is the per-operation timeout for cache backends that
// perform I/O (SQLite, Redis). Prevents indefinite hangs on slow or
// unresponsive storage.
const DefaultQueryTimeout = 5 * time.Second

// Backend is the capability contract every cache tier must expose. The
// three shipped implementations (NewInMemory, NewRedis, NewSQLite) satisfy
// it, as does the Multilevel façade itself, so tiers compose freely.
//
// Keys passed in are raw; each backend canonicalizes them through BuildKey
// before touching storage. Read operations report misses with a tagged
// (found bool) result rather than a sentinel value, so legitimately stored
// zero values are distinguishable from absent keys.
type Backend interface {
	// BuildKey returns the canonical form of key as stored by this backend.
	// Deterministic for a given key and backend configuration.
	BuildKey(key string) string

	// Get retrieves a value. An entry whose dependency changed since it was
	// written is removed and reported as a miss.
	Get(ctx context.Context, key string) (bool, any, error)

	// Exists reports whether key is present and unexpired. It does not
	// evaluate the entry's dependency, so Exists may report true for a key
	// a subsequent Get misses on.
	Exists(ctx context.Context, key string) (bool, error)

	// MultiGet retrieves a batch of keys. The result holds hits only,
	// keyed by the caller's (raw) key form.
	MultiGet(ctx context.Context, keys []string) (map[string]any, error)

	// Set stores a value. ttl accepts the TTLDefault and TTLForever
	// sentinels; dep may be nil.
	Set(ctx context.Context, key string, val any, ttl time.Duration, dep Dependency) error

	// MultiSet stores a batch of items and returns the canonical keys of
	// the items that could not be stored.
	MultiSet(ctx context.Context, items map[string]any, ttl time.Duration, dep Dependency) ([]string, error)

	// Add stores a value only if key is absent. Returns false without
	// error when the key already holds an unexpired entry.
	Add(ctx context.Context, key string, val any, ttl time.Duration, dep Dependency) (bool, error)

	// MultiAdd adds a batch of items and returns the canonical keys of the
	// items that were not added (already present or failed).
	MultiAdd(ctx context.Context, items map[string]any, ttl time.Duration, dep Dependency) ([]string, error)

	// Delete removes a key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Flush removes every entry belonging to this backend's namespace.
	Flush(ctx context.Context) error

	// Close releases resources owned by the backend.
	Close() error
}

// config holds the resolved configuration for a backend.
type config struct {
	defaultTTL    time.Duration
	queryTimeout  time.Duration
	sweepInterval time.Duration
	prefix        string
}

// Option configures a Backend implementation.
type Option func(*config)

func defaultConfig() config {
	return config{
		defaultTTL:    DefaultTTL,
		queryTimeout:  DefaultQueryTimeout,
		sweepInterval: time.Minute,
	}
}

func applyOptions(opts []Option) config {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// WithDefaultTTL sets the TTL applied when a write passes TTLDefault.
// Pass TTLForever to make unspecified writes non-expiring.
// Defaults to DefaultTTL (5 minutes).
func WithDefaultTTL(d time.Duration) Option {
	return func(c *config) { c.defaultTTL = d }
}

// WithQueryTimeout sets the per-operation timeout for I/O-backed caches
// (SQLite, Redis). Defaults to DefaultQueryTimeout (5 seconds).
func WithQueryTimeout(d time.Duration) Option {
	return func(c *config) { c.queryTimeout = d }
}

// WithSweepInterval sets the interval for background expired entry cleanup.
// Applies to the in-memory and SQLite backends. Defaults to 1 minute.
func WithSweepInterval(d time.Duration) Option {
	return func(c *config) { c.sweepInterval = d }
}

// WithPrefix sets the key prefix for namespacing canonical keys. A
// level-1 tier typically carries a distinguishing prefix; key identity
// across tiers is still defined by the level-2 backend's BuildKey.
func WithPrefix(p string) Option {
	return func(c *config) { c.prefix = p }
}

// resolveTTL maps the TTL sentinels onto a concrete duration: TTLDefault
// becomes the configured default, TTLForever (and the resulting zero) means
// no expiry.
func (c config) resolveTTL(ttl time.Duration) time.Duration {
	if ttl < 0 {
		return c.defaultTTL
	}
	return ttl
}

// Get retrieves a typed value from a backend.
// For in-memory tiers it performs a direct type assertion; for serialized
// tiers (SQLite, Redis) it deserializes the stored []byte using msgpack,
// so it works transparently regardless of which backend produced the value.
func Get[T any](ctx context.Context, b Backend, key string) (bool, T, error) {
	found, val, err := b.Get(ctx, key)
	if !found || err != nil {
		var zero T
		return false, zero, err
	}
	typed, err := decode[T](val)
	if err != nil {
		var zero T
		return false, zero, err
	}
	return true, typed, nil
}

func decode[T any](val any) (T, error) {
	if typed, ok := val.(T); ok {
		return typed, nil
	}
	if data, ok := val.([]byte); ok {
		var out T
		if err := msgpack.Unmarshal(data, &out); err != nil {
			var zero T
			return zero, errors.Wrap(err, "cache: failed to unmarshal value")
		}
		return out, nil
	}
	var zero T
	return zero, errors.Newf("cache: cannot convert value of type %T to %T", val, zero)
}
