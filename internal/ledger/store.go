// Package ledger records which messages a processing run has already
// handed to its callback.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

type Entry struct {
	Account     string    `db:"account"`
	Key         string    `db:"message_key"`
	RunID       string    `db:"run_id"`
	Folder      string    `db:"folder"`
	UID         uint32    `db:"uid"`
	Subject     string    `db:"subject"`
	ProcessedAt time.Time `db:"processed_at"`
}

// Store is a SQLite-backed ledger.
type Store struct {
	db *sqlx.DB
}

// Open opens (or creates) the ledger at path and applies pending
// migrations. Use ":memory:" for a throwaway ledger.
func Open(path string) (*Store, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}
	// A single connection keeps ":memory:" databases coherent and
	// serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}
	return nil
}

// Processed reports whether key has been recorded for account.
func (s *Store) Processed(ctx context.Context, account, key string) (bool, error) {
	var one int
	err := s.db.GetContext(ctx, &one,
		"SELECT 1 FROM processed_messages WHERE account = ? AND message_key = ?",
		account, key,
	)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("looking up %s: %w", key, err)
	}
	return true, nil
}

// Record stores an entry. Recording the same account/key again keeps the
// first entry.
func (s *Store) Record(ctx context.Context, e Entry) error {
	if e.ProcessedAt.IsZero() {
		e.ProcessedAt = time.Now()
	}
	e.ProcessedAt = e.ProcessedAt.UTC()

	_, err := s.db.NamedExecContext(ctx, `
		INSERT OR IGNORE INTO processed_messages (
			account, message_key, run_id, folder, uid, subject, processed_at
		) VALUES (
			:account, :message_key, :run_id, :folder, :uid, :subject, :processed_at
		)`, e)
	if err != nil {
		return fmt.Errorf("recording %s: %w", e.Key, err)
	}
	return nil
}

// Recent returns the latest entries for account, newest first. An empty
// account returns entries for every account.
func (s *Store) Recent(ctx context.Context, account string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}

	query := "SELECT account, message_key, run_id, folder, uid, subject, processed_at FROM processed_messages"
	var args []interface{}
	if account != "" {
		query += " WHERE account = ?"
		args = append(args, account)
	}
	query += " ORDER BY processed_at DESC, rowid DESC LIMIT ?"
	args = append(args, limit)

	var entries []Entry
	if err := s.db.SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, fmt.Errorf("querying entries: %w", err)
	}
	return entries, nil
}
