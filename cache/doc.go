// Package cache provides a two-tier cache façade over pluggable backends,
// with a unified capability contract and type-safe generic helpers.
//
// # Backend Contract
//
// The [Backend] interface defines the full capability set a cache tier
// must expose: [Backend.BuildKey], [Backend.Get], [Backend.Exists],
// [Backend.MultiGet], [Backend.Set], [Backend.MultiSet], [Backend.Add],
// [Backend.MultiAdd], [Backend.Delete], [Backend.Flush], and
// [Backend.Close]. All implementations satisfy this interface, so tiers
// can be swapped or composed without changing application code.
//
// The interface uses [any] for values because Go does not allow generic
// methods on interfaces; type safety is provided by the package-level
// generic functions [Get] and [Fetch].
//
// # Implementations
//
//   - [NewInMemory] — In-process map guarded by a mutex. Fastest option
//     with zero serialization overhead; values and dependencies are stored
//     as-is. Expired entries are swept by a background goroutine. Lost on
//     process restart.
//
//   - [NewRedis] — Backed by Redis using [github.com/redis/go-redis/v9].
//     Values are serialized to msgpack envelopes with native Redis TTLs.
//     An optional key prefix namespaces the cache on a shared instance;
//     Flush removes only the namespace when a prefix is configured. The
//     caller owns the [redis.Client] lifecycle. Every operation uses a
//     per-query timeout ([DefaultQueryTimeout]).
//
//   - [NewSQLite] — Backed by a SQLite database using [modernc.org/sqlite]
//     (pure Go, no CGO). Values are msgpack envelopes stored as BLOBs;
//     supports file-backed and ":memory:" modes, with WAL enabled and a
//     background sweep of expired rows.
//
//   - [NewMultilevel] — The two-tier façade. Level 1 is the fast, small
//     tier checked first on reads; level 2 is the slower, authoritative
//     tier all writes land in. A level-2 read hit is promoted into level 1
//     ([WithPromotionTTL]); under the [WriteAround] policy, writes go to
//     level 2 and invalidate the level-1 copy rather than updating it.
//     [Multilevel] itself satisfies [Backend], so tiers nest.
//
// # Write-Around Semantics
//
// Write-around trades a second write for an invalidation: after a
// successful [Multilevel.Set] the key is absent from level 1 until the
// next read repopulates it. The asymmetries this produces are deliberate
// and documented on each method — [Multilevel.MultiSet] invalidates every
// input key unconditionally, [Multilevel.Add] leaves level 1 untouched
// when level 2 already held the key, [Multilevel.MultiGet] bypasses
// level 1 entirely, and [Multilevel.Flush] does not touch level 2 when the
// level-1 flush fails.
//
// # Keys
//
// Each backend canonicalizes keys through [Backend.BuildKey]: an optional
// namespace prefix ([WithPrefix]) plus an xxhash digest for keys too long
// or unsafe to store verbatim. Identity across the two tiers of a
// [Multilevel] is defined by the level-2 backend's canonical form. [Key]
// composes a key from structured descriptor parts.
//
// # Dependencies
//
// A [Dependency] attaches a change-detection fingerprint to an entry:
// backends snapshot it at write time and re-evaluate it on Get, dropping
// the entry when the fingerprint changed. [Backend.Exists] never evaluates
// dependencies, and promotion into level 1 does not carry the dependency
// along — the promoted copy expires by TTL alone. [FileDependency] is
// serializable and works with every backend; [DependencyFunc] wraps a
// closure for in-memory use. Custom serializable kinds register through
// [RegisterDependency].
//
// # Generic Helpers
//
// [Get] wraps [Backend.Get] with type safety:
//
//	found, user, err := cache.Get[User](ctx, b, "user:123")
//
// For in-memory tiers it performs a direct type assertion; for serialized
// tiers it deserializes the stored []byte via msgpack, so it works
// regardless of which backend produced the value.
//
// [Fetch] is the typed form of [Multilevel.GetOrSet], the compute-or-cache
// path: on a miss the generator runs exactly once on the caller's
// goroutine and the result is stored best-effort. A store failure is
// logged to the injected logger ([WithLogger]) and the computed value is
// returned anyway — caching never fails the caller. There is no
// single-flight suppression; concurrent callers racing on the same
// missing key may each invoke the generator.
//
// # TTLs
//
// Every write accepts a TTL with two sentinels: [TTLDefault] applies the
// backend's configured default ([WithDefaultTTL], 5 minutes out of the
// box) and [TTLForever] stores the entry without expiry.
package cache
