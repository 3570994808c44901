package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver (pure Go, no CGO)
)

// SQLiteCooldown persists cooldown stamps in a local SQLite file so a
// restarted monitor does not re-announce channels inside the window.
type SQLiteCooldown struct {
	db *sql.DB
}

// OpenSQLiteCooldown opens (creating if needed) the cooldown database at path.
func OpenSQLiteCooldown(path string) (*SQLiteCooldown, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open cooldown db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping cooldown db: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS cooldowns (
		name        TEXT PRIMARY KEY,
		notified_at INTEGER NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create cooldowns table: %w", err)
	}
	return &SQLiteCooldown{db: db}, nil
}

func (s *SQLiteCooldown) Close() error {
	return s.db.Close()
}

func (s *SQLiteCooldown) LastNotified(ctx context.Context, name string) (time.Time, bool, error) {
	var ms int64
	err := s.db.QueryRowContext(ctx, `SELECT notified_at FROM cooldowns WHERE name = ?`, name).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("read cooldown: %w", err)
	}
	return time.UnixMilli(ms), true, nil
}

func (s *SQLiteCooldown) MarkNotified(ctx context.Context, name string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cooldowns (name, notified_at) VALUES (?, ?)
		 ON CONFLICT(name) DO UPDATE SET notified_at = excluded.notified_at`,
		name, at.UnixMilli())
	if err != nil {
		return fmt.Errorf("write cooldown: %w", err)
	}
	return nil
}

// Prune deletes stamps older than before and returns how many were removed.
func (s *SQLiteCooldown) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM cooldowns WHERE notified_at < ?`, before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune cooldowns: %w", err)
	}
	return res.RowsAffected()
}
