// Package db provides the embedded SQLite store for gnsync.
//
// The store is the single source of truth for the desktop client: notes,
// folders and chat threads live here, next to the outbox table that records
// mutations still owed to the remote service.
//
// Architecture:
//   - Database file: gnsync.db under the user config dir (config key db.path)
//   - WAL mode: readers proceed while the sync scheduler writes
//   - Schema: notes, folders, threads, outbox (+ schema_migrations)
//   - Index: outbox(status, next_retry_at) for due-operation selection
//
// Every mutating repository call runs through WithTx so the entity write and
// the outbox enqueue commit together or not at all.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

var (
	// ErrNotFound is returned when a targeted mutation or lookup finds no row.
	ErrNotFound = errors.New("not found")

	// ErrInvalid wraps validation failures of entities and operations.
	ErrInvalid = errors.New("validation failed")
)

// Querier is satisfied by both *sql.DB and *sql.Tx, so store helpers work
// inside and outside a transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// DB wraps the SQLite connection pool.
type DB struct {
	conn *sql.DB
	path string
}

// Open creates a new database connection at the specified path.
//
// The database is opened with WAL, a busy timeout and immediate write
// transactions, so short concurrent transactions from repositories and the
// sync scheduler wait on each other instead of failing with SQLITE_BUSY.
// Pending migrations are applied before Open returns.
//
// The caller MUST call Close() when done.
func Open(ctx context.Context, path string) (*DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_txlock=immediate&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(8)
	conn.SetMaxIdleConns(4)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{
		conn: conn,
		path: path,
	}

	if _, err := db.conn.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

// RawDB returns the underlying sql.DB connection.
func (db *DB) RawDB() *sql.DB {
	return db.conn
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// Close closes the database connection.
// Performs a WAL checkpoint so the main file holds every committed change.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	db.conn = nil
	return nil
}

// WithTx runs fn inside a single transaction. The transaction commits when fn
// returns nil and rolls back otherwise, so callers never observe a partially
// applied mutation.
func (db *DB) WithTx(ctx context.Context, fn func(tx Querier) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Count returns the number of rows in one of the known tables.
func (db *DB) Count(ctx context.Context, table string) (int, error) {
	switch table {
	case "notes", "folders", "threads", "outbox":
	default:
		return 0, fmt.Errorf("unknown table %q", table)
	}

	var count int
	err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", table, err)
	}
	return count, nil
}

// Millis converts t to the unix-millisecond form stored in every timestamp column.
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}

// FromMillis is the inverse of Millis.
func FromMillis(ms int64) time.Time {
	return time.UnixMilli(ms)
}

// NullString converts an optional reference to a nullable column value.
func NullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: *s, Valid: true}
}

// StringPtr converts a nullable column value back to an optional reference.
func StringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

// Invalid wraps a validation failure of what so that it matches ErrInvalid
// while keeping the underlying validation errors inspectable.
func Invalid(what string, err error) error {
	return fmt.Errorf("invalid %s: %w: %w", what, ErrInvalid, err)
}
