package cache

import (
	"bytes"
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	value   any
	expires time.Time // zero = never expires
	dep     Dependency
	snap    []byte
}

func (e *memoryEntry) expired(now time.Time) bool {
	return !e.expires.IsZero() && e.expires.Before(now)
}

type inMemoryBackend struct {
	ctx       context.Context
	cancel    context.CancelFunc
	entries   map[string]*memoryEntry
	mutex     sync.Mutex
	waitGroup sync.WaitGroup
	once      sync.Once
	cfg       config
}

var _ Backend = (*inMemoryBackend)(nil)

// NewInMemory returns a Backend backed by a mutex-guarded in-process map.
// Values (and their dependencies) are stored as-is with no serialization,
// so mutations to stored pointers are visible through the cache. Expired
// entries are swept by a background goroutine until the parent context is
// cancelled or Close is called.
func NewInMemory(parent context.Context, opts ...Option) Backend {
	cfg := applyOptions(opts)
	ctx, cancel := context.WithCancel(parent)
	b := &inMemoryBackend{
		ctx:     ctx,
		cancel:  cancel,
		entries: make(map[string]*memoryEntry),
		cfg:     cfg,
	}
	b.waitGroup.Add(1)
	go b.run()
	return b
}

func (b *inMemoryBackend) BuildKey(key string) string {
	return b.cfg.canonicalKey(key)
}

func (b *inMemoryBackend) Get(ctx context.Context, key string) (bool, any, error) {
	k := b.BuildKey(key)
	b.mutex.Lock()
	e, ok := b.entries[k]
	if ok && e.expired(time.Now()) {
		delete(b.entries, k)
		ok = false
	}
	b.mutex.Unlock()
	if !ok {
		return false, nil, nil
	}
	if e.dep != nil {
		snap, err := e.dep.Snapshot(ctx)
		if err != nil {
			return false, nil, err
		}
		if !bytes.Equal(snap, e.snap) {
			b.mutex.Lock()
			delete(b.entries, k)
			b.mutex.Unlock()
			return false, nil, nil
		}
	}
	return true, e.value, nil
}

func (b *inMemoryBackend) Exists(_ context.Context, key string) (bool, error) {
	k := b.BuildKey(key)
	b.mutex.Lock()
	e, ok := b.entries[k]
	if ok && e.expired(time.Now()) {
		delete(b.entries, k)
		ok = false
	}
	b.mutex.Unlock()
	return ok, nil
}

func (b *inMemoryBackend) MultiGet(ctx context.Context, keys []string) (map[string]any, error) {
	hits := make(map[string]any, len(keys))
	for _, key := range keys {
		found, val, err := b.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if found {
			hits[key] = val
		}
	}
	return hits, nil
}

func (b *inMemoryBackend) Set(ctx context.Context, key string, val any, ttl time.Duration, dep Dependency) error {
	snap, err := snapshotOf(ctx, dep)
	if err != nil {
		return err
	}
	e := &memoryEntry{value: val, dep: dep, snap: snap}
	if d := b.cfg.resolveTTL(ttl); d > 0 {
		e.expires = time.Now().Add(d)
	}
	k := b.BuildKey(key)
	b.mutex.Lock()
	b.entries[k] = e
	b.mutex.Unlock()
	return nil
}

func (b *inMemoryBackend) MultiSet(ctx context.Context, items map[string]any, ttl time.Duration, dep Dependency) ([]string, error) {
	var failed []string
	for key, val := range items {
		if err := b.Set(ctx, key, val, ttl, dep); err != nil {
			failed = append(failed, b.BuildKey(key))
		}
	}
	return failed, nil
}

func (b *inMemoryBackend) Add(ctx context.Context, key string, val any, ttl time.Duration, dep Dependency) (bool, error) {
	snap, err := snapshotOf(ctx, dep)
	if err != nil {
		return false, err
	}
	e := &memoryEntry{value: val, dep: dep, snap: snap}
	if d := b.cfg.resolveTTL(ttl); d > 0 {
		e.expires = time.Now().Add(d)
	}
	k := b.BuildKey(key)
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if cur, ok := b.entries[k]; ok && !cur.expired(time.Now()) {
		return false, nil
	}
	b.entries[k] = e
	return true, nil
}

func (b *inMemoryBackend) MultiAdd(ctx context.Context, items map[string]any, ttl time.Duration, dep Dependency) ([]string, error) {
	var failed []string
	for key, val := range items {
		added, err := b.Add(ctx, key, val, ttl, dep)
		if err != nil || !added {
			failed = append(failed, b.BuildKey(key))
		}
	}
	return failed, nil
}

func (b *inMemoryBackend) Delete(_ context.Context, key string) error {
	k := b.BuildKey(key)
	b.mutex.Lock()
	delete(b.entries, k)
	b.mutex.Unlock()
	return nil
}

func (b *inMemoryBackend) Flush(_ context.Context) error {
	b.mutex.Lock()
	b.entries = make(map[string]*memoryEntry)
	b.mutex.Unlock()
	return nil
}

func (b *inMemoryBackend) Close() error {
	b.once.Do(func() {
		b.cancel()
		b.waitGroup.Wait()
	})
	return nil
}

func (b *inMemoryBackend) run() {
	defer b.waitGroup.Done()
	ticker := time.NewTicker(b.cfg.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-b.ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			b.mutex.Lock()
			for key, e := range b.entries {
				if e.expired(now) {
					delete(b.entries, key)
				}
			}
			b.mutex.Unlock()
		}
	}
}
