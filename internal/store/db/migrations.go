package db

import (
	"context"
	"fmt"
	"time"
)

// Migration is one additive schema step. Migrations are applied in Version
// order, each inside its own transaction, and must only create or extend
// objects so rows in unaffected tables survive every upgrade.
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// migrations is the ordered schema history. Append only.
var migrations = []Migration{
	{
		Version: 1,
		Name:    "initial schema",
		SQL: `
		CREATE TABLE IF NOT EXISTS notes (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			content TEXT NOT NULL DEFAULT '',
			folder_id TEXT,  -- NULL = root
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS folders (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			parent_id TEXT,  -- NULL = root
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS threads (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			messages TEXT NOT NULL DEFAULT '[]',  -- JSON array
			updated_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS outbox (
			op_id TEXT PRIMARY KEY,
			entity_id TEXT NOT NULL,
			type TEXT NOT NULL,
			payload TEXT,  -- JSON object, NULL for deletes
			status TEXT NOT NULL DEFAULT 'pending',
			retry_count INTEGER NOT NULL DEFAULT 0,
			next_retry_at INTEGER NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			last_error TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_notes_folder ON notes(folder_id);
		CREATE INDEX IF NOT EXISTS idx_notes_updated ON notes(updated_at);
		CREATE INDEX IF NOT EXISTS idx_folders_parent ON folders(parent_id);
		CREATE INDEX IF NOT EXISTS idx_threads_updated ON threads(updated_at);

		-- Due-operation selection
		CREATE INDEX IF NOT EXISTS idx_outbox_due ON outbox(status, next_retry_at);
		`,
	},
	{
		Version: 2,
		Name:    "outbox entity lookup",
		SQL: `
		CREATE INDEX IF NOT EXISTS idx_outbox_entity
		    ON outbox(entity_id, status, type);
		`,
	},
}

// Migrations returns a copy of the schema history.
func Migrations() []Migration {
	out := make([]Migration, len(migrations))
	copy(out, migrations)
	return out
}

// Migrate applies every migration newer than the recorded schema version.
// This is idempotent - safe to call on every start.
func (db *DB) Migrate(ctx context.Context) error {
	return db.migrateTo(ctx, migrations)
}

func (db *DB) migrateTo(ctx context.Context, steps []Migration) error {
	if _, err := db.conn.ExecContext(ctx, `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at INTEGER NOT NULL
	)`); err != nil {
		return fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	current, err := db.SchemaVersion(ctx)
	if err != nil {
		return err
	}

	for _, m := range steps {
		if m.Version <= current {
			continue
		}

		err := db.WithTx(ctx, func(tx Querier) error {
			if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
				return fmt.Errorf("failed to apply migration %d (%s): %w", m.Version, m.Name, err)
			}
			_, err := tx.ExecContext(ctx,
				`INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)`,
				m.Version, m.Name, Millis(time.Now()))
			if err != nil {
				return fmt.Errorf("failed to record migration %d: %w", m.Version, err)
			}
			return nil
		})
		if err != nil {
			return err
		}
		current = m.Version
	}

	return nil
}

// SchemaVersion returns the highest applied migration version (0 for a fresh file).
func (db *DB) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, nil
}
