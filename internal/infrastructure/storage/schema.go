package storage

import (
	"context"
	"database/sql"
	"fmt"
)

type dialect string

const (
	dialectSQLite   dialect = "sqlite"
	dialectPostgres dialect = "postgres"
)

// migration is applied once, in order, and recorded in schema_meta.
type migration struct {
	version    int
	statements map[dialect][]string
}

var migrations = []migration{
	{
		version: 1,
		statements: map[dialect][]string{
			dialectSQLite: {
				`CREATE TABLE IF NOT EXISTS observed_items (
					fingerprint TEXT PRIMARY KEY,
					source_ref TEXT NOT NULL,
					text TEXT NOT NULL,
					quality TEXT NOT NULL,
					replied INTEGER NOT NULL DEFAULT 0,
					engagement_score REAL NOT NULL DEFAULT 0,
					created_at TEXT NOT NULL
				)`,
				`CREATE INDEX IF NOT EXISTS observed_items_created_at ON observed_items (created_at)`,
				`CREATE TABLE IF NOT EXISTS audit_log (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					source TEXT NOT NULL,
					action TEXT NOT NULL,
					payload TEXT NOT NULL,
					level TEXT NOT NULL,
					created_at TEXT NOT NULL
				)`,
			},
			dialectPostgres: {
				`CREATE TABLE IF NOT EXISTS observed_items (
					fingerprint TEXT PRIMARY KEY,
					source_ref TEXT NOT NULL,
					text TEXT NOT NULL,
					quality TEXT NOT NULL,
					replied INTEGER NOT NULL DEFAULT 0,
					engagement_score DOUBLE PRECISION NOT NULL DEFAULT 0,
					created_at TEXT NOT NULL
				)`,
				`CREATE INDEX IF NOT EXISTS observed_items_created_at ON observed_items (created_at)`,
				`CREATE TABLE IF NOT EXISTS audit_log (
					id BIGSERIAL PRIMARY KEY,
					source TEXT NOT NULL,
					action TEXT NOT NULL,
					payload TEXT NOT NULL,
					level TEXT NOT NULL,
					created_at TEXT NOT NULL
				)`,
			},
		},
	},
	{
		version: 2,
		statements: map[dialect][]string{
			dialectSQLite: {
				`CREATE TABLE IF NOT EXISTS conversations (
					platform TEXT NOT NULL,
					thread_ref TEXT NOT NULL,
					lead_id TEXT NOT NULL,
					last_message TEXT NOT NULL,
					status TEXT NOT NULL,
					updated_at TEXT NOT NULL,
					PRIMARY KEY (platform, thread_ref)
				)`,
			},
			dialectPostgres: {
				`CREATE TABLE IF NOT EXISTS conversations (
					platform TEXT NOT NULL,
					thread_ref TEXT NOT NULL,
					lead_id TEXT NOT NULL,
					last_message TEXT NOT NULL,
					status TEXT NOT NULL,
					updated_at TEXT NOT NULL,
					PRIMARY KEY (platform, thread_ref)
				)`,
			},
		},
	},
}

func migrate(ctx context.Context, db *sql.DB, d dialect) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_meta (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_meta: %w", err)
	}

	var current int
	if err := db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_meta`).Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := applyMigration(ctx, db, d, m); err != nil {
			return fmt.Errorf("migration %d: %w", m.version, err)
		}
	}
	return nil
}

func applyMigration(ctx context.Context, db *sql.DB, d dialect, m migration) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, stmt := range m.statements[d] {
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}

	insert := `INSERT INTO schema_meta (version) VALUES (?)`
	if d == dialectPostgres {
		insert = `INSERT INTO schema_meta (version) VALUES ($1)`
	}
	if _, err = tx.ExecContext(ctx, insert, m.version); err != nil {
		return err
	}
	return tx.Commit()
}
