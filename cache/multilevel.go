package cache

import (
	"context"
	"io"
	"time"

	"github.com/charmbracelet/log"
	"github.com/cockroachdb/errors"
)

// Policy selects the write strategy for a Multilevel cache.
type Policy string

// WriteAround writes to level 2 only and invalidates the level-1 copy
// instead of updating it. It is the only supported policy.
const WriteAround Policy = "write-around"

func (p Policy) validate() error {
	switch p {
	case WriteAround:
		return nil
	default:
		return errors.Newf("cache: unsupported policy %q", string(p))
	}
}

// Multilevel composes a fast level-1 Backend with a larger, authoritative
// level-2 Backend behind the single Backend contract. Reads prefer level 1
// and promote level-2 hits; under WriteAround, writes go to level 2 and
// push an invalidation (not an update) into level 1.
//
// Both backends are injected and assumed to outlive the Multilevel; it
// never manages their lifecycle or configuration. It holds no other state
// and takes no locks of its own: it is safe for concurrent use exactly
// when its backends are, and composite operations (level-2 write followed
// by level-1 invalidate) are not made atomic. Key identity across tiers is
// defined by the level-2 backend's BuildKey.
type Multilevel struct {
	level1     Backend
	level2     Backend
	policy     Policy
	promoteTTL time.Duration
	log        *log.Logger
}

var _ Backend = (*Multilevel)(nil)

// MultilevelOption configures a Multilevel cache.
type MultilevelOption func(*Multilevel)

// WithPolicy sets the write policy. An unrecognized policy fails
// construction. Defaults to WriteAround.
func WithPolicy(p Policy) MultilevelOption {
	return func(m *Multilevel) { m.policy = p }
}

// WithPromotionTTL sets the TTL applied to entries copied into level 1 on
// a level-2 read hit (and by GetOrSet's read path). TTLDefault uses
// level 1's configured default; TTLForever promotes without expiry.
func WithPromotionTTL(d time.Duration) MultilevelOption {
	return func(m *Multilevel) { m.promoteTTL = d }
}

// WithLogger sets the diagnostics sink for best-effort failures (failed
// promotions, failed invalidations, failed GetOrSet stores). Defaults to a
// discard logger.
func WithLogger(l *log.Logger) MultilevelOption {
	return func(m *Multilevel) { m.log = l }
}

// NewMultilevel returns a two-tier cache over level1 (fast, checked first
// on reads) and level2 (authoritative). Both backends are required.
func NewMultilevel(level1, level2 Backend, opts ...MultilevelOption) (*Multilevel, error) {
	if level1 == nil {
		return nil, errors.New("cache: multilevel requires a level1 backend")
	}
	if level2 == nil {
		return nil, errors.New("cache: multilevel requires a level2 backend")
	}
	m := &Multilevel{
		level1:     level1,
		level2:     level2,
		policy:     WriteAround,
		promoteTTL: TTLDefault,
		log:        log.New(io.Discard),
	}
	for _, opt := range opts {
		opt(m)
	}
	if err := m.policy.validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// BuildKey returns the canonical key as defined by the level-2 backend.
// Two keys are "the same key" across tiers iff their level-2 canonical
// forms are equal; level 1 may use a different internal representation.
func (m *Multilevel) BuildKey(key string) string {
	return m.level2.BuildKey(key)
}

// Get returns the cached value for key, checking level 1 first. A level-1
// hit never consults level 2. A level-2 hit is promoted into level 1 with
// the promotion TTL; the dependency the entry was stored with is not
// carried into the promoted copy, so the level-1 copy expires by TTL
// alone. A failed promotion is logged and never fails the read. Level 2 is
// never mutated by Get.
func (m *Multilevel) Get(ctx context.Context, key string) (bool, any, error) {
	found, val, err := m.level1.Get(ctx, key)
	if err != nil {
		return false, nil, err
	}
	if found {
		return true, val, nil
	}
	found, val, err = m.level2.Get(ctx, key)
	if err != nil || !found {
		return found, val, err
	}
	if perr := m.level1.Set(ctx, key, val, m.promoteTTL, nil); perr != nil {
		m.log.Warn("failed to promote entry into level 1", "key", key, "error", perr)
	}
	return true, val, nil
}

// Exists reports whether either level holds the key. Dependencies are not
// evaluated, so Exists may report true for a key a subsequent Get misses
// on; the two calls deliberately answer different questions.
func (m *Multilevel) Exists(ctx context.Context, key string) (bool, error) {
	found, err := m.level1.Exists(ctx, key)
	if err != nil {
		return false, err
	}
	if found {
		return true, nil
	}
	return m.level2.Exists(ctx, key)
}

// MultiGet delegates the entire batch to level 2; level 1 is neither
// consulted nor populated. A value freshly promoted by a single-key Get
// will not shortcut a later MultiGet for the same key.
func (m *Multilevel) MultiGet(ctx context.Context, keys []string) (map[string]any, error) {
	return m.level2.MultiGet(ctx, keys)
}

// Set writes the value to level 2 and, only if that write succeeded,
// deletes the key from level 1. The invalidation is best-effort: a failed
// level-1 delete is logged, and the Set still reports the level-2
// outcome. Level 1 is deleted rather than updated so it cannot serve a
// copy whose dependency tracking was skipped.
func (m *Multilevel) Set(ctx context.Context, key string, val any, ttl time.Duration, dep Dependency) error {
	if err := m.level2.Set(ctx, key, val, ttl, dep); err != nil {
		return err
	}
	if derr := m.level1.Delete(ctx, key); derr != nil {
		m.log.Warn("failed to invalidate level 1 after write", "key", key, "error", derr)
	}
	return nil
}

// MultiSet batch-writes the items to level 2 and returns level 2's
// failed-key list (canonical form). Every input key is invalidated in
// level 1 regardless of whether its own level-2 write succeeded — unlike
// Set, which only invalidates on success. The cost of the unconditional
// delete is a re-promotion; a stale level-1 copy would be worse.
func (m *Multilevel) MultiSet(ctx context.Context, items map[string]any, ttl time.Duration, dep Dependency) ([]string, error) {
	failed, err := m.level2.MultiSet(ctx, items, ttl, dep)
	for key := range items {
		if derr := m.level1.Delete(ctx, key); derr != nil {
			m.log.Warn("failed to invalidate level 1 after batch write", "key", key, "error", derr)
		}
	}
	return failed, err
}

// Add stores the value in level 2 only if the key is absent there, and
// deletes the key from level 1 only when the add took effect. When level 2
// already holds the key, level 1 is left untouched: an existing level-1
// entry may then be stale relative to level 2, which is the accepted cost
// of not reading level 2's value during Add.
func (m *Multilevel) Add(ctx context.Context, key string, val any, ttl time.Duration, dep Dependency) (bool, error) {
	added, err := m.level2.Add(ctx, key, val, ttl, dep)
	if err != nil || !added {
		return added, err
	}
	if derr := m.level1.Delete(ctx, key); derr != nil {
		m.log.Warn("failed to invalidate level 1 after add", "key", key, "error", derr)
	}
	return true, nil
}

// MultiAdd batch-adds the items to level 2 and returns the canonical keys
// that were not added (already present in level 2). Each input key is
// deleted from level 1 unless its canonical form appears in the failed
// list — failed adds leave level 1 untouched, mirroring Add.
func (m *Multilevel) MultiAdd(ctx context.Context, items map[string]any, ttl time.Duration, dep Dependency) ([]string, error) {
	failed, err := m.level2.MultiAdd(ctx, items, ttl, dep)
	failedSet := make(map[string]struct{}, len(failed))
	for _, k := range failed {
		failedSet[k] = struct{}{}
	}
	for key := range items {
		if _, skip := failedSet[m.level2.BuildKey(key)]; skip {
			continue
		}
		if derr := m.level1.Delete(ctx, key); derr != nil {
			m.log.Warn("failed to invalidate level 1 after batch add", "key", key, "error", derr)
		}
	}
	return failed, err
}

// Delete removes the key from both levels unconditionally. It fails only
// when both levels fail — well-behaved backends treat deleting an absent
// key as success, so in practice this surfaces genuine backend errors only.
func (m *Multilevel) Delete(ctx context.Context, key string) error {
	err1 := m.level1.Delete(ctx, key)
	err2 := m.level2.Delete(ctx, key)
	if err1 != nil && err2 != nil {
		return errors.CombineErrors(err1, err2)
	}
	return nil
}

// Flush clears level 1 and, only if that succeeded, level 2. A level-1
// failure leaves level 2 untouched, so the cache can end up partially
// flushed with no rollback.
func (m *Multilevel) Flush(ctx context.Context) error {
	if err := m.level1.Flush(ctx); err != nil {
		return err
	}
	return m.level2.Flush(ctx)
}

// Close is a no-op: the backends are injected and their lifecycle belongs
// to the caller.
func (m *Multilevel) Close() error {
	return nil
}

// Generator produces a value for GetOrSet on a cache miss.
type Generator func(ctx context.Context) (any, error)

// GetOrSet returns the cached value for key, or invokes generate exactly
// once (synchronously, on the caller's goroutine) to produce and cache it.
// The post-compute store is best-effort: a failure is logged and the
// freshly generated value is returned anyway, so the read/compute path
// never fails because of a caching failure. Concurrent callers racing on
// the same missing key may each invoke generate — there is no
// single-flight suppression.
func (m *Multilevel) GetOrSet(ctx context.Context, key string, ttl time.Duration, dep Dependency, generate Generator) (any, error) {
	found, val, err := m.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if found {
		return val, nil
	}
	out, err := generate(ctx)
	if err != nil {
		return nil, err
	}
	if serr := m.Set(ctx, key, out, ttl, dep); serr != nil {
		m.log.Warn("failed to store computed value", "key", key, "error", serr)
	}
	return out, nil
}
