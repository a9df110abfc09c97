package store

import (
	"context"
	"database/sql"
	"strings"
)

// schema contains the DDL for all trace tables.
// Each statement uses IF NOT EXISTS for idempotency.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS runs (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		mode        TEXT NOT NULL DEFAULT 'priority',
		ticks       INTEGER NOT NULL DEFAULT 0,
		load_avg    INTEGER NOT NULL DEFAULT 0,
		switches    INTEGER NOT NULL DEFAULT 0,
		idle_ticks  INTEGER NOT NULL DEFAULT 0,
		passed      INTEGER NOT NULL DEFAULT 0,
		error       TEXT NOT NULL DEFAULT '',
		event_count INTEGER NOT NULL DEFAULT 0,
		created_at  TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS events (
		run_id      TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		seq         INTEGER NOT NULL,
		tick        INTEGER NOT NULL,
		kind        TEXT NOT NULL,
		thread_id   INTEGER NOT NULL,
		thread_name TEXT NOT NULL,
		priority    INTEGER NOT NULL,
		detail      TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (run_id, seq)
	)`,

	`CREATE TABLE IF NOT EXISTS threads (
		run_id        TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		thread_id     INTEGER NOT NULL,
		name          TEXT NOT NULL,
		status        TEXT NOT NULL,
		base_priority INTEGER NOT NULL,
		priority      INTEGER NOT NULL,
		nice          INTEGER NOT NULL DEFAULT 0,
		recent_cpu    INTEGER NOT NULL DEFAULT 0,
		waiting_on    TEXT NOT NULL DEFAULT '',
		donors        TEXT NOT NULL DEFAULT '[]',
		run_ticks     INTEGER NOT NULL DEFAULT 0,
		created_tick  INTEGER NOT NULL DEFAULT 0,
		exit_tick     INTEGER,
		PRIMARY KEY (run_id, thread_id)
	)`,

	`CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_events_kind ON events(run_id, kind)`,
}

// alterStatements are column additions that need special handling since
// SQLite doesn't support IF NOT EXISTS for ALTER TABLE ADD COLUMN.
var alterStatements = []struct {
	table    string
	column   string
	alterSQL string
	indexSQL string // Optional index to create after column is added
}{
	{
		table:    "runs",
		column:   "source",
		alterSQL: "ALTER TABLE runs ADD COLUMN source TEXT NOT NULL DEFAULT ''",
	},
	{
		table:    "runs",
		column:   "expectations",
		alterSQL: "ALTER TABLE runs ADD COLUMN expectations TEXT NOT NULL DEFAULT '[]'",
		indexSQL: "CREATE INDEX IF NOT EXISTS idx_runs_passed ON runs(passed)",
	},
}

// migrate executes all schema DDL statements, alter migrations, and post-migration indexes.
func migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}

	for _, alter := range alterStatements {
		if err := addColumnIfNotExists(ctx, db, alter.table, alter.column, alter.alterSQL); err != nil {
			return err
		}
		if alter.indexSQL != "" {
			if _, err := db.ExecContext(ctx, alter.indexSQL); err != nil {
				return err
			}
		}
	}

	return nil
}

// addColumnIfNotExists adds a column to a table if it doesn't already exist.
func addColumnIfNotExists(ctx context.Context, db *sql.DB, table, column, alterSQL string) error {
	rows, err := db.QueryContext(ctx, "PRAGMA table_info("+table+")")
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dfltValue *string
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return err
		}
		if strings.EqualFold(name, column) {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, alterSQL)
	return err
}
