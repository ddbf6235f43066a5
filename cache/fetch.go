package cache

import (
	"context"
	"time"
)

// Fetch is the typed form of Multilevel.GetOrSet. On a hit it decodes the
// cached value (direct assertion for in-memory tiers, msgpack for
// serialized ones); on a miss it invokes generate and passes the result
// through unchanged. Store failures follow GetOrSet's best-effort rule.
//
//	user, err := cache.Fetch(ctx, ml, cache.Key("user", id), time.Hour, nil,
//	    func(ctx context.Context) (User, error) {
//	        return loadUser(ctx, id)
//	    })
func Fetch[T any](ctx context.Context, m *Multilevel, key string, ttl time.Duration, dep Dependency, generate func(context.Context) (T, error)) (T, error) {
	val, err := m.GetOrSet(ctx, key, ttl, dep, func(ctx context.Context) (any, error) {
		return generate(ctx)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return decode[T](val)
}
