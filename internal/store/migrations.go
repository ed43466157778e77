package store

import (
	"context"
	"database/sql"
	"strings"
)

// schema contains the DDL for all batchgate tables.
// Each statement uses IF NOT EXISTS for idempotency.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS jobs (
		scheduler      TEXT NOT NULL,
		job_id         TEXT NOT NULL,
		name           TEXT NOT NULL DEFAULT '',
		queue_name     TEXT NOT NULL DEFAULT '',
		state          TEXT NOT NULL DEFAULT '',
		exit_code      INTEGER,
		error_code     TEXT NOT NULL DEFAULT '',
		error_message  TEXT NOT NULL DEFAULT '',
		description    TEXT NOT NULL DEFAULT '{}',
		scheduler_info TEXT NOT NULL DEFAULT '{}',
		finished_at    TEXT NOT NULL,
		PRIMARY KEY (scheduler, job_id)
	)`,

	`CREATE INDEX IF NOT EXISTS idx_jobs_finished_at ON jobs(finished_at)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_scheduler_queue ON jobs(scheduler, queue_name)`,
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
		table:    "jobs",
		column:   "executable",
		alterSQL: "ALTER TABLE jobs ADD COLUMN executable TEXT NOT NULL DEFAULT ''",
	},
	{
		table:    "jobs",
		column:   "error_code",
		alterSQL: "ALTER TABLE jobs ADD COLUMN error_code TEXT NOT NULL DEFAULT ''",
		indexSQL: "CREATE INDEX IF NOT EXISTS idx_jobs_error_code ON jobs(error_code) WHERE error_code != ''",
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
	rows.Close()

	_, err = db.ExecContext(ctx, alterSQL)
	return err
}
