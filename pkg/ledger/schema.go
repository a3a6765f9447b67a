package ledger

import (
	"context"
	"database/sql"
	"fmt"
)

const SchemaVersion = 1

// Migrate creates (or upgrades) the ledger schema in-place.
//
// Two tables:
//   - jobs: one row per job, primary key job_id
//   - cost_tracking: append-only cost breakdown lines, cascade-deleted with
//     their parent job
//
// Timestamps are stored as ISO-8601 TEXT, money as REAL currency units, and
// metadata/billing_tags as serialized JSON text blobs.
func Migrate(ctx context.Context, db *sql.DB) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if db == nil {
		return fmt.Errorf("db is nil")
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS schema_meta (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			schema_version INTEGER NOT NULL
		);`,
		`INSERT INTO schema_meta (id, schema_version)
			VALUES (1, 0)
			ON CONFLICT(id) DO NOTHING;`,

		`CREATE TABLE IF NOT EXISTS jobs (
			job_id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			provider TEXT NOT NULL,
			instance_type TEXT NOT NULL,
			instance_id TEXT,
			region TEXT NOT NULL,
			public_ip TEXT,
			private_ip TEXT,
			input_uri TEXT,
			result_sync_uri TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			started_at TEXT,
			completed_at TEXT,
			price_per_hour REAL,
			estimated_cost REAL,
			actual_cost REAL,
			budget_limit REAL,
			cost_retrieved_at TEXT,
			spot_request_id TEXT,
			billing_tags TEXT,
			metadata TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs(created_at);`,

		`CREATE TABLE IF NOT EXISTS cost_tracking (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			job_id TEXT NOT NULL,
			provider TEXT NOT NULL,
			cost_type TEXT NOT NULL,
			amount REAL NOT NULL,
			currency TEXT DEFAULT 'USD',
			billing_period_start TEXT NOT NULL,
			billing_period_end TEXT NOT NULL,
			retrieved_at TEXT NOT NULL,
			raw_data TEXT,
			FOREIGN KEY (job_id) REFERENCES jobs (job_id) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_cost_tracking_job_id ON cost_tracking(job_id);`,
		`CREATE INDEX IF NOT EXISTS idx_cost_tracking_retrieved_at ON cost_tracking(retrieved_at);`,
	}

	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec schema statement: %w", err)
		}
	}

	var current int
	if err := tx.QueryRowContext(ctx, `SELECT schema_version FROM schema_meta WHERE id=1`).Scan(&current); err != nil {
		return fmt.Errorf("read schema_version: %w", err)
	}

	if current != SchemaVersion {
		if _, err := tx.ExecContext(ctx, `UPDATE schema_meta SET schema_version=? WHERE id=1`, SchemaVersion); err != nil {
			return fmt.Errorf("update schema_version: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}
