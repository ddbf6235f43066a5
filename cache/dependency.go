package cache

import (
	"context"
	"os"
	"strconv"
	"sync"

	"github.com/cockroachdb/errors"
)

// Dependency describes an external condition a cache entry depends on.
// Backends capture Snapshot when the entry is written, store the result
// alongside the value, and re-evaluate on Get; a differing snapshot
// invalidates the entry. Exists never evaluates dependencies.
type Dependency interface {
	// Kind identifies the dependency type so serialized backends can
	// rebuild it on read. Dependencies with an empty kind cannot be
	// persisted by serialized backends (see RegisterDependency).
	Kind() string
	// Snapshot returns a fingerprint of the dependency's current state.
	Snapshot(ctx context.Context) ([]byte, error)
}

var (
	depMu        sync.RWMutex
	depFactories = make(map[string]func() Dependency)
)

// RegisterDependency makes a dependency kind reconstructible by serialized
// backends. The factory must return a pointer whose msgpack round-trip
// restores the dependency's fields. FileDependency is registered out of
// the box.
func RegisterDependency(kind string, factory func() Dependency) {
	if kind == "" {
		panic("cache: RegisterDependency requires a non-empty kind")
	}
	depMu.Lock()
	depFactories[kind] = factory
	depMu.Unlock()
}

func dependencyFactory(kind string) (func() Dependency, bool) {
	depMu.RLock()
	factory, ok := depFactories[kind]
	depMu.RUnlock()
	return factory, ok
}

func init() {
	RegisterDependency("file", func() Dependency { return &FileDependency{} })
}

// FileDependency invalidates an entry when the file at Path changes, as
// observed through its modification time and size. A missing file is a
// valid state; the entry is invalidated when the file appears.
type FileDependency struct {
	Path string `msgpack:"path"`
}

func (d *FileDependency) Kind() string { return "file" }

func (d *FileDependency) Snapshot(_ context.Context) ([]byte, error) {
	info, err := os.Stat(d.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return []byte("absent"), nil
		}
		return nil, errors.Wrapf(err, "cache: stat dependency %s", d.Path)
	}
	fp := strconv.FormatInt(info.ModTime().UnixNano(), 10) + ":" +
		strconv.FormatInt(info.Size(), 10)
	return []byte(fp), nil
}

// DependencyFunc adapts a closure into a Dependency. It has no registered
// kind, so it only works with backends that keep entries in process memory.
type DependencyFunc func(ctx context.Context) ([]byte, error)

func (f DependencyFunc) Kind() string { return "" }

func (f DependencyFunc) Snapshot(ctx context.Context) ([]byte, error) { return f(ctx) }

func snapshotOf(ctx context.Context, dep Dependency) ([]byte, error) {
	if dep == nil {
		return nil, nil
	}
	return dep.Snapshot(ctx)
}
