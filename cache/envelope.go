package cache

import (
	"bytes"
	"context"

	"github.com/cockroachdb/errors"
	"github.com/vmihailenco/msgpack/v5"
)

// envelope is the wire form serialized backends store: the msgpack-encoded
// value plus, when the entry carries a dependency, the dependency's kind,
// its own encoded fields, and the snapshot taken at write time.
type envelope struct {
	Value   []byte `msgpack:"v"`
	DepKind string `msgpack:"k,omitempty"`
	DepBody []byte `msgpack:"d,omitempty"`
	Snap    []byte `msgpack:"s,omitempty"`
}

func packEntry(ctx context.Context, val any, dep Dependency) ([]byte, error) {
	data, err := msgpack.Marshal(val)
	if err != nil {
		return nil, errors.Wrap(err, "cache: failed to marshal value")
	}
	env := envelope{Value: data}
	if dep != nil {
		kind := dep.Kind()
		if kind == "" {
			return nil, errors.Newf("cache: dependency %T cannot be serialized (no kind)", dep)
		}
		if _, ok := dependencyFactory(kind); !ok {
			return nil, errors.Newf("cache: dependency kind %q is not registered", kind)
		}
		body, err := msgpack.Marshal(dep)
		if err != nil {
			return nil, errors.Wrap(err, "cache: failed to marshal dependency")
		}
		snap, err := dep.Snapshot(ctx)
		if err != nil {
			return nil, err
		}
		env.DepKind, env.DepBody, env.Snap = kind, body, snap
	}
	return msgpack.Marshal(&env)
}

// openEntry decodes an envelope and validates its dependency. ok is false
// when the dependency changed since the entry was written; the caller is
// expected to drop the entry and report a miss.
func openEntry(ctx context.Context, data []byte) (value []byte, ok bool, err error) {
	var env envelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return nil, false, errors.Wrap(err, "cache: failed to decode entry")
	}
	if env.DepKind != "" {
		factory, found := dependencyFactory(env.DepKind)
		if !found {
			return nil, false, errors.Newf("cache: unknown dependency kind %q", env.DepKind)
		}
		dep := factory()
		if err := msgpack.Unmarshal(env.DepBody, dep); err != nil {
			return nil, false, errors.Wrap(err, "cache: failed to decode dependency")
		}
		snap, err := dep.Snapshot(ctx)
		if err != nil {
			return nil, false, err
		}
		if !bytes.Equal(snap, env.Snap) {
			return nil, false, nil
		}
	}
	return env.Value, true, nil
}
