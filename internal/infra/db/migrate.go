package db

import (
	"database/sql"
)

// MigrateUp creates the counter and meta tables used by the Postgres
// counter store. It is idempotent.
func MigrateUp(db *sql.DB) error {
	// Window bounds are unix milliseconds, matching the JSON form used by
	// the other stores.
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS rate_limit_counters (
    key          TEXT PRIMARY KEY,
    window_start BIGINT NOT NULL,
    window_end   BIGINT NOT NULL,
    count        INTEGER NOT NULL,
    expires_at   TIMESTAMPTZ
)`); err != nil {
		return err
	}

	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS rate_limit_meta (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
)`); err != nil {
		return err
	}

	indexes := []string{
		// Sweep deletes by expiry.
		`CREATE INDEX IF NOT EXISTS idx_rate_limit_counters_expires_at ON rate_limit_counters(expires_at) WHERE expires_at IS NOT NULL`,
	}
	for _, idx := range indexes {
		if _, err := db.Exec(idx); err != nil {
			return err
		}
	}

	return nil
}

// MigrateDown drops the rate limit tables.
// Use with caution: all counters and the stored configuration hash are lost.
func MigrateDown(db *sql.DB) error {
	dropStatements := []string{
		`DROP INDEX IF EXISTS idx_rate_limit_counters_expires_at`,
		`DROP TABLE IF EXISTS rate_limit_counters`,
		`DROP TABLE IF EXISTS rate_limit_meta`,
	}

	for _, stmt := range dropStatements {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
