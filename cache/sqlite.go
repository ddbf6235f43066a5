package cache

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	_ "modernc.org/sqlite"
)

type sqliteBackend struct {
	db        *sql.DB
	ctx       context.Context
	cancel    context.CancelFunc
	waitGroup sync.WaitGroup
	once      sync.Once
	cfg       config
}

var _ Backend = (*sqliteBackend)(nil)

// NewSQLite returns a Backend backed by a SQLite database (pure Go driver,
// no CGO). If dbPath is empty or ":memory:", an in-memory database is used.
// Values are stored as msgpack envelope BLOBs; expires_at of 0 means the
// entry never expires. WAL mode is enabled and a background goroutine
// sweeps expired rows at the configured interval.
func NewSQLite(parent context.Context, dbPath string, opts ...Option) (Backend, error) {
	cfg := applyOptions(opts)
	if dbPath == "" {
		dbPath = ":memory:"
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, errors.Wrap(err, "cache: failed to open sqlite database")
	}

	// Each pooled connection to ":memory:" would get its own database;
	// pin the pool to one connection so they all see the same data.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS cache (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		expires_at INTEGER NOT NULL
	)`); err != nil {
		db.Close()
		return nil, err
	}

	// Index on expires_at for efficient sweeps.
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_cache_expires_at ON cache(expires_at)`); err != nil {
		db.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(parent)
	b := &sqliteBackend{
		db:     db,
		ctx:    ctx,
		cancel: cancel,
		cfg:    cfg,
	}
	b.waitGroup.Add(1)
	go b.run()
	return b, nil
}

func (b *sqliteBackend) queryCtx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, b.cfg.queryTimeout)
}

func (b *sqliteBackend) BuildKey(key string) string {
	return b.cfg.canonicalKey(key)
}

func (b *sqliteBackend) expiresAt(ttl time.Duration) int64 {
	if d := b.cfg.resolveTTL(ttl); d > 0 {
		return time.Now().Add(d).UnixNano()
	}
	return 0
}

func (b *sqliteBackend) Get(ctx context.Context, key string) (bool, any, error) {
	qctx, cancel := b.queryCtx(ctx)
	defer cancel()
	k := b.BuildKey(key)
	var data []byte
	err := b.db.QueryRowContext(qctx,
		`SELECT value FROM cache WHERE key = ? AND (expires_at = 0 OR expires_at > ?)`,
		k, time.Now().UnixNano()).Scan(&data)
	if err == sql.ErrNoRows {
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
		// Dependency changed — drop the row.
		b.db.ExecContext(qctx, `DELETE FROM cache WHERE key = ?`, k)
		return false, nil, nil
	}
	return true, val, nil
}

func (b *sqliteBackend) Exists(ctx context.Context, key string) (bool, error) {
	qctx, cancel := b.queryCtx(ctx)
	defer cancel()
	var one int
	err := b.db.QueryRowContext(qctx,
		`SELECT 1 FROM cache WHERE key = ? AND (expires_at = 0 OR expires_at > ?)`,
		b.BuildKey(key), time.Now().UnixNano()).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (b *sqliteBackend) MultiGet(ctx context.Context, keys []string) (map[string]any, error) {
	hits := make(map[string]any, len(keys))
	if len(keys) == 0 {
		return hits, nil
	}
	qctx, cancel := b.queryCtx(ctx)
	defer cancel()

	byCanonical := make(map[string]string, len(keys))
	placeholders := make([]string, len(keys))
	args := make([]any, 0, len(keys)+1)
	for i, key := range keys {
		k := b.BuildKey(key)
		byCanonical[k] = key
		placeholders[i] = "?"
		args = append(args, k)
	}
	args = append(args, time.Now().UnixNano())

	rows, err := b.db.QueryContext(qctx,
		`SELECT key, value FROM cache WHERE key IN (`+strings.Join(placeholders, ",")+`) AND (expires_at = 0 OR expires_at > ?)`,
		args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stale []string
	for rows.Next() {
		var k string
		var data []byte
		if err := rows.Scan(&k, &data); err != nil {
			return nil, err
		}
		val, ok, err := openEntry(ctx, data)
		if err != nil {
			return nil, err
		}
		if !ok {
			stale = append(stale, k)
			continue
		}
		hits[byCanonical[k]] = val
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, k := range stale {
		b.db.ExecContext(qctx, `DELETE FROM cache WHERE key = ?`, k)
	}
	return hits, nil
}

func (b *sqliteBackend) Set(ctx context.Context, key string, val any, ttl time.Duration, dep Dependency) error {
	data, err := packEntry(ctx, val, dep)
	if err != nil {
		return err
	}
	qctx, cancel := b.queryCtx(ctx)
	defer cancel()
	_, err = b.db.ExecContext(qctx,
		`INSERT INTO cache (key, value, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		b.BuildKey(key), data, b.expiresAt(ttl))
	return err
}

func (b *sqliteBackend) MultiSet(ctx context.Context, items map[string]any, ttl time.Duration, dep Dependency) ([]string, error) {
	var failed []string
	for key, val := range items {
		if err := b.Set(ctx, key, val, ttl, dep); err != nil {
			failed = append(failed, b.BuildKey(key))
		}
	}
	return failed, nil
}

func (b *sqliteBackend) Add(ctx context.Context, key string, val any, ttl time.Duration, dep Dependency) (bool, error) {
	data, err := packEntry(ctx, val, dep)
	if err != nil {
		return false, err
	}
	qctx, cancel := b.queryCtx(ctx)
	defer cancel()
	k := b.BuildKey(key)
	now := time.Now().UnixNano()
	// An expired row must not block the add.
	if _, err := b.db.ExecContext(qctx,
		`DELETE FROM cache WHERE key = ? AND expires_at != 0 AND expires_at <= ?`, k, now); err != nil {
		return false, err
	}
	res, err := b.db.ExecContext(qctx,
		`INSERT INTO cache (key, value, expires_at) VALUES (?, ?, ?) ON CONFLICT(key) DO NOTHING`,
		k, data, b.expiresAt(ttl))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (b *sqliteBackend) MultiAdd(ctx context.Context, items map[string]any, ttl time.Duration, dep Dependency) ([]string, error) {
	var failed []string
	for key, val := range items {
		added, err := b.Add(ctx, key, val, ttl, dep)
		if err != nil || !added {
			failed = append(failed, b.BuildKey(key))
		}
	}
	return failed, nil
}

func (b *sqliteBackend) Delete(ctx context.Context, key string) error {
	qctx, cancel := b.queryCtx(ctx)
	defer cancel()
	_, err := b.db.ExecContext(qctx, `DELETE FROM cache WHERE key = ?`, b.BuildKey(key))
	return err
}

func (b *sqliteBackend) Flush(ctx context.Context) error {
	qctx, cancel := b.queryCtx(ctx)
	defer cancel()
	if b.cfg.prefix != "" {
		_, err := b.db.ExecContext(qctx, `DELETE FROM cache WHERE key LIKE ?`, b.cfg.prefix+":%")
		return err
	}
	_, err := b.db.ExecContext(qctx, `DELETE FROM cache`)
	return err
}

func (b *sqliteBackend) Close() error {
	var err error
	b.once.Do(func() {
		b.cancel()
		b.waitGroup.Wait()
		err = b.db.Close()
	})
	return err
}

func (b *sqliteBackend) run() {
	defer b.waitGroup.Done()
	ticker := time.NewTicker(b.cfg.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-b.ctx.Done():
			return
		case <-ticker.C:
			qctx, cancel := b.queryCtx(b.ctx)
			b.db.ExecContext(qctx,
				`DELETE FROM cache WHERE expires_at != 0 AND expires_at <= ?`,
				time.Now().UnixNano())
			cancel()
		}
	}
}
