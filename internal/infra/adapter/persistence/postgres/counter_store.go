package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"routelimit/internal/resilience/retry"
	"routelimit/pkg/ratelimit"
)

var (
	_ ratelimit.AtomicCounterStore = (*CounterStore)(nil)
	_ ratelimit.MetaStore          = (*CounterStore)(nil)
	_ ratelimit.Sweeper            = (*CounterStore)(nil)
	_ ratelimit.Pinger             = (*CounterStore)(nil)
)

// CounterStore keeps counter windows in the rate_limit_counters table.
//
// Update serializes writers of one key with a transaction-scoped advisory
// lock and reads the row FOR UPDATE, so concurrent gateways sharing the
// database cannot lose increments. Rows are not expired by the database;
// Sweep deletes the ones whose expiry has passed.
type CounterStore struct {
	db    *sql.DB
	clock ratelimit.Clock
	retry retry.Config
}

// NewCounterStore creates a store on db. A nil clock uses the system time.
func NewCounterStore(db *sql.DB, clock ratelimit.Clock) *CounterStore {
	if clock == nil {
		clock = &ratelimit.SystemClock{}
	}
	return &CounterStore{db: db, clock: clock, retry: retry.DBConfig()}
}

// GetItem returns the live entry under key, or nil.
func (s *CounterStore) GetItem(ctx context.Context, key string) (*ratelimit.CounterEntry, error) {
	const query = `
SELECT window_start, window_end, count
FROM rate_limit_counters
WHERE key = $1
AND (expires_at IS NULL OR expires_at > $2)`
	entry, err := scanEntry(s.db.QueryRowContext(ctx, query, key, s.clock.Now()))
	if err != nil {
		return nil, fmt.Errorf("GetItem: %w", err)
	}
	return entry, nil
}

// SetItem upserts entry. A zero ttl stores the row without expiry.
func (s *CounterStore) SetItem(ctx context.Context, key string, entry ratelimit.CounterEntry, ttl time.Duration) error {
	if err := upsert(ctx, s.db, key, entry, s.expiresAt(ttl)); err != nil {
		return fmt.Errorf("SetItem: %w", err)
	}
	return nil
}

// Update runs fn in a transaction that holds the per-key lock.
func (s *CounterStore) Update(ctx context.Context, key string, fn ratelimit.UpdateFunc) error {
	err := retry.WithBackoff(ctx, s.retry, func() error {
		return s.update(ctx, key, fn)
	})
	if err != nil {
		return fmt.Errorf("Update: %w", err)
	}
	return nil
}

func (s *CounterStore) update(ctx context.Context, key string, fn ratelimit.UpdateFunc) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// A row lock alone does not cover keys that have no row yet.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key); err != nil {
		return fmt.Errorf("lock: %w", err)
	}

	const query = `
SELECT window_start, window_end, count
FROM rate_limit_counters
WHERE key = $1
AND (expires_at IS NULL OR expires_at > $2)
FOR UPDATE`
	current, err := scanEntry(tx.QueryRowContext(ctx, query, key, s.clock.Now()))
	if err != nil {
		return fmt.Errorf("select: %w", err)
	}

	next, ttl, err := fn(current)
	if err != nil {
		return err
	}
	if next != nil {
		if err := upsert(ctx, tx, key, *next, s.expiresAt(ttl)); err != nil {
			return fmt.Errorf("upsert: %w", err)
		}
	}
	return tx.Commit()
}

// Clear deletes counters and meta values whose key starts with namespace.
func (s *CounterStore) Clear(ctx context.Context, namespace string) error {
	pattern := "%"
	if namespace != "" {
		pattern = escapeLike(namespace+":") + "%"
	}

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM rate_limit_counters WHERE key LIKE $1 ESCAPE '\'`, pattern); err != nil {
		return fmt.Errorf("Clear: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM rate_limit_meta WHERE key LIKE $1 ESCAPE '\'`, pattern); err != nil {
		return fmt.Errorf("Clear: meta: %w", err)
	}
	return nil
}

// GetMeta returns a meta value.
func (s *CounterStore) GetMeta(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM rate_limit_meta WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("GetMeta: %w", err)
	}
	return value, true, nil
}

// SetMeta upserts a meta value.
func (s *CounterStore) SetMeta(ctx context.Context, key, value string) error {
	const query = `
INSERT INTO rate_limit_meta (key, value)
VALUES ($1, $2)
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`
	if _, err := s.db.ExecContext(ctx, query, key, value); err != nil {
		return fmt.Errorf("SetMeta: %w", err)
	}
	return nil
}

// Sweep deletes rows that expired before now.
func (s *CounterStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM rate_limit_counters WHERE expires_at IS NOT NULL AND expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("Sweep: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("Sweep: %w", err)
	}
	return int(n), nil
}

// Ping checks the connection.
func (s *CounterStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *CounterStore) expiresAt(ttl time.Duration) sql.NullTime {
	if ttl <= 0 {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: s.clock.Now().Add(ttl), Valid: true}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsert(ctx context.Context, db execer, key string, entry ratelimit.CounterEntry, expiresAt sql.NullTime) error {
	const query = `
INSERT INTO rate_limit_counters (key, window_start, window_end, count, expires_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (key) DO UPDATE SET
       window_start = EXCLUDED.window_start,
       window_end   = EXCLUDED.window_end,
       count        = EXCLUDED.count,
       expires_at   = EXCLUDED.expires_at`
	_, err := db.ExecContext(ctx, query,
		key, entry.WindowStart, entry.WindowEnd, entry.Count, expiresAt)
	return err
}

func scanEntry(row *sql.Row) (*ratelimit.CounterEntry, error) {
	var entry ratelimit.CounterEntry
	err := row.Scan(&entry.WindowStart, &entry.WindowEnd, &entry.Count)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

var likeReplacer = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeReplacer.Replace(s)
}
