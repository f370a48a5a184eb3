// Package sqlite implements repository.Store on an embedded SQLite file
// using the pure-Go modernc driver.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"tola_ledger/internal/repository"

	_ "modernc.org/sqlite"
)

var _ repository.Store = (*Store)(nil)

// tsLayout is fixed width so TEXT timestamps sort chronologically.
const tsLayout = "2006-01-02T15:04:05.000000000Z"

type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies migrations.
func Open(path string) (*Store, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one writer; transactions queue on the pool instead of failing with SQLITE_BUSY
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }
func (s *Store) Close() error                   { return s.db.Close() }

func (s *Store) migrate() error {
	for _, stmt := range Migrations() {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Migrations returns the schema statements, one per Exec.
func Migrations() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS wallets (
			user_id          INTEGER PRIMARY KEY,
			address          TEXT NOT NULL DEFAULT '',
			balance          INTEGER NOT NULL DEFAULT 0 CHECK (balance >= 0),
			platform_credits INTEGER NOT NULL DEFAULT 0 CHECK (platform_credits >= 0),
			status           TEXT NOT NULL DEFAULT 'active',
			created_at       TEXT NOT NULL,
			updated_at       TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS ledger_entries (
			id                TEXT PRIMARY KEY,
			user_id           INTEGER NOT NULL REFERENCES wallets(user_id),
			amount            INTEGER NOT NULL,
			restricted_amount INTEGER NOT NULL DEFAULT 0,
			category          TEXT NOT NULL,
			correlation_id    TEXT NOT NULL,
			status            TEXT NOT NULL,
			meta              TEXT,
			created_at        TEXT NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_entries_completed_corr
			ON ledger_entries(correlation_id) WHERE status = 'completed'`,
		`CREATE INDEX IF NOT EXISTS idx_entries_user ON ledger_entries(user_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_entries_created ON ledger_entries(created_at)`,

		`CREATE TABLE IF NOT EXISTS incentive_distributions (
			id             TEXT PRIMARY KEY,
			user_id        INTEGER NOT NULL,
			rule_id        TEXT NOT NULL,
			amount         INTEGER NOT NULL,
			single_shot    INTEGER NOT NULL DEFAULT 0,
			correlation_id TEXT NOT NULL UNIQUE,
			context        TEXT,
			created_at     TEXT NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_distributions_single_shot
			ON incentive_distributions(user_id, rule_id) WHERE single_shot = 1`,
		`CREATE INDEX IF NOT EXISTS idx_distributions_user ON incentive_distributions(user_id, created_at)`,

		`CREATE TABLE IF NOT EXISTS conversion_requests (
			id             TEXT PRIMARY KEY,
			user_id        INTEGER NOT NULL,
			amount         INTEGER NOT NULL,
			fee            TEXT NOT NULL,
			net            TEXT NOT NULL,
			payout         TEXT NOT NULL,
			currency       TEXT NOT NULL,
			destination    TEXT NOT NULL,
			status         TEXT NOT NULL,
			settlement_ref TEXT NOT NULL DEFAULT '',
			failure_reason TEXT NOT NULL DEFAULT '',
			created_at     TEXT NOT NULL,
			updated_at     TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_conversions_user ON conversion_requests(user_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_conversions_status ON conversion_requests(status, created_at)`,

		`CREATE TABLE IF NOT EXISTS rate_limit_windows (
			user_id    INTEGER NOT NULL,
			limit_type TEXT NOT NULL,
			period     TEXT NOT NULL,
			used       INTEGER NOT NULL DEFAULT 0,
			cap        INTEGER NOT NULL,
			PRIMARY KEY (user_id, limit_type, period)
		)`,

		`CREATE TABLE IF NOT EXISTS milestone_state (
			id             INTEGER PRIMARY KEY CHECK (id = 1),
			status         TEXT NOT NULL,
			threshold      INTEGER NOT NULL,
			observed_count INTEGER NOT NULL DEFAULT 0,
			enabled_at     TEXT
		)`,

		`CREATE TABLE IF NOT EXISTS reports (
			type         TEXT NOT NULL,
			period       TEXT NOT NULL,
			data         TEXT NOT NULL,
			generated_at TEXT NOT NULL,
			PRIMARY KEY (type, period)
		)`,
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(tsLayout, s)
}

func isUnique(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func encodeJSON(m map[string]any) (any, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func decodeJSON(s sql.NullString) (map[string]any, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s.String), &m); err != nil {
		return nil, err
	}
	return m, nil
}

type scanner interface {
	Scan(dest ...any) error
}
