package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	_ "modernc.org/sqlite"
)

// Compile-time interface check.
var _ Backend = (*SQLiteStore)(nil)

// SQLiteStore is a persistent Backend backed by SQLite. Counters survive a
// process restart but, like MemoryStore, are local to one host.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path and
// initialises the schema. Use ":memory:" for an in-memory SQLite database.
func NewSQLiteStore(dsn string, opts ...Option) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("quota/store: open sqlite: %w", err)
	}
	// A single connection serialises writers and keeps ":memory:" databases
	// from splitting across connections.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS quota_counters (
			key         TEXT PRIMARY KEY,
			count       INTEGER NOT NULL DEFAULT 0,
			reset_at_ms INTEGER NOT NULL DEFAULT 0
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("quota/store: create table: %w", err)
	}

	return &SQLiteStore{db: db, now: buildOptions(opts).now}, nil
}

// Name implements Backend.
func (s *SQLiteStore) Name() string { return "sqlite" }

// Check adds cost to the counter for key in the current window.
func (s *SQLiteStore) Check(ctx context.Context, key string, window time.Duration, max, cost int64) (Result, error) {
	res, err := s.check(ctx, key, window, max, cost)
	if err != nil {
		return Result{}, NewError(KindTransport, s.Name(), "check", err)
	}
	return res, nil
}

func (s *SQLiteStore) check(ctx context.Context, key string, window time.Duration, max, cost int64) (Result, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Result{}, err
	}
	defer tx.Rollback()

	now := s.now()
	var count, resetMS int64

	err = tx.QueryRowContext(ctx,
		`SELECT count, reset_at_ms FROM quota_counters WHERE key = ?`, key,
	).Scan(&count, &resetMS)

	switch {
	case errors.Is(err, sql.ErrNoRows) || (err == nil && now.UnixMilli() >= resetMS):
		// New or expired window.
		resetAt := now.Add(window)
		_, err = tx.ExecContext(ctx,
			`INSERT INTO quota_counters (key, count, reset_at_ms) VALUES (?, ?, ?)
			 ON CONFLICT(key) DO UPDATE SET count = excluded.count, reset_at_ms = excluded.reset_at_ms`,
			key, cost, resetAt.UnixMilli(),
		)
		if err != nil {
			return Result{}, err
		}
		return Result{Allowed: true, Remaining: clamp(max-cost, max), ResetAt: resetAt}, tx.Commit()
	case err != nil:
		return Result{}, err
	}

	resetAt := time.UnixMilli(resetMS)
	if count+cost > max {
		return Result{Allowed: false, Remaining: clamp(max-count, max), ResetAt: resetAt}, nil
	}

	count += cost
	if _, err = tx.ExecContext(ctx,
		`UPDATE quota_counters SET count = ? WHERE key = ?`, count, key,
	); err != nil {
		return Result{}, err
	}

	return Result{Allowed: true, Remaining: clamp(max-count, max), ResetAt: resetAt}, tx.Commit()
}

// Peek returns the remaining quota for key without counting.
func (s *SQLiteStore) Peek(ctx context.Context, key string, window time.Duration, max int64) (Snapshot, error) {
	now := s.now()
	var count, resetMS int64

	err := s.db.QueryRowContext(ctx,
		`SELECT count, reset_at_ms FROM quota_counters WHERE key = ?`, key,
	).Scan(&count, &resetMS)

	if errors.Is(err, sql.ErrNoRows) || (err == nil && now.UnixMilli() >= resetMS) {
		return Snapshot{Remaining: max, ResetAt: now.Add(window)}, nil
	}
	if err != nil {
		return Snapshot{}, NewError(KindTransport, s.Name(), "peek", err)
	}

	return Snapshot{Remaining: clamp(max-count, max), ResetAt: time.UnixMilli(resetMS)}, nil
}

// ResetPrefix deletes every counter whose key starts with prefix. The
// comparison is byte-exact; LIKE would fold case.
func (s *SQLiteStore) ResetPrefix(ctx context.Context, prefix string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM quota_counters WHERE substr(key, 1, ?) = ?`,
		utf8.RuneCountInString(prefix), prefix,
	)
	if err != nil {
		return 0, NewError(KindTransport, s.Name(), "reset", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, NewError(KindTransport, s.Name(), "reset", err)
	}
	return n, nil
}

// Purge removes expired rows and returns how many were deleted.
func (s *SQLiteStore) Purge(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM quota_counters WHERE reset_at_ms <= ?`, s.now().UnixMilli(),
	)
	if err != nil {
		return 0, NewError(KindTransport, s.Name(), "purge", err)
	}
	return res.RowsAffected()
}

// Close closes the underlying SQLite database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
