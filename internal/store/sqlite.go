package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// timeLayout is fixed-width so the text column sorts chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// migrations is an ordered list of SQL statements applied on startup.
// Each entry is idempotent (IF NOT EXISTS) so re-running is safe.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS events (
		id       TEXT PRIMARY KEY,
		time     TEXT NOT NULL,
		kind     TEXT NOT NULL,
		platform TEXT NOT NULL DEFAULT '',
		mac      TEXT NOT NULL DEFAULT '',
		version  TEXT NOT NULL DEFAULT '',
		detail   TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS events_platform_time ON events (platform, time)`,
	`CREATE INDEX IF NOT EXISTS events_kind_time ON events (kind, time)`,
}

// SQLiteStore implements Store using a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at path and runs migrations.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("%s?_journal=WAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite handles one writer at a time.

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close() //nolint:errcheck
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	for _, stmt := range migrations {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migration: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) RecordEvent(ctx context.Context, e *Event) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (id, time, kind, platform, mac, version, detail)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Time.UTC().Format(timeLayout), e.Kind, e.Platform, e.MAC, e.Version, e.Detail)
	return err
}

func (s *SQLiteStore) ListEvents(ctx context.Context, f EventFilter) ([]*Event, error) {
	var (
		where []string
		args  []any
	)
	if f.Platform != "" {
		where = append(where, "platform = ?")
		args = append(args, f.Platform)
	}
	if f.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, f.Kind)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	q := `SELECT id, time, kind, platform, mac, version, detail FROM events`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY time DESC, rowid DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	var events []*Event
	for rows.Next() {
		var (
			e  Event
			ts string
		)
		if err := rows.Scan(&e.ID, &ts, &e.Kind, &e.Platform, &e.MAC, &e.Version, &e.Detail); err != nil {
			return nil, err
		}
		e.Time, _ = time.Parse(time.RFC3339Nano, ts)
		events = append(events, &e)
	}
	return events, rows.Err()
}
