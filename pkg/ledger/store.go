// Package ledger is the durable source of truth for cloud job records and
// their cost history.
//
// The store is a single SQLite database shared by independent short-lived
// processes (launcher, status checker, terminator, cost retrieval, reports).
// Each operation is one short transaction; there is no cross-field optimistic
// concurrency, matching the one-active-owner-per-job operating model.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite "modernc.org/sqlite"
)

const driverName = "spotledger-sqlite"

func init() {
	sql.Register(driverName, &sqlite.Driver{})
}

// Config configures the ledger database location.
type Config struct {
	// Path is a local filesystem path to the ledger database.
	// ":memory:" opens an ephemeral in-memory ledger (tests).
	Path string
}

// Ledger owns the jobs and cost_tracking tables.
type Ledger struct {
	db *sql.DB
}

// Open opens (and creates if needed) the ledger database and applies the
// schema. Parent directories are created for local file paths. For local DBs,
// WAL and busy_timeout are applied so concurrent CLI invocations do not trip
// over each other's locks.
func Open(ctx context.Context, cfg Config) (*Ledger, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	dsn, err := buildDSN(cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping ledger: %w", err)
	}

	if err := configureSQLite(ctx, db, dsn); err != nil {
		_ = db.Close()
		return nil, err
	}

	if err := Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Ledger{db: db}, nil
}

// DB exposes the underlying handle for read-only reporting queries.
func (l *Ledger) DB() *sql.DB {
	return l.db
}

// Close releases the database handle.
func (l *Ledger) Close() error {
	return l.db.Close()
}

func buildDSN(cfg Config) (string, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return "", errors.New("ledger path is required")
	}
	if path == ":memory:" {
		return path, nil
	}

	if strings.HasPrefix(path, "file:") {
		return path, nil
	}

	if err := ensureStoreDir(path); err != nil {
		return "", err
	}
	return "file:" + filepath.Clean(path), nil
}

func configureSQLite(ctx context.Context, db *sql.DB, dsn string) error {
	if db == nil {
		return errors.New("ledger connection is nil")
	}

	// Keep a single connection so pragmas apply to every statement.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	// Cascading deletes from jobs to cost_tracking depend on this pragma.
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
		return fmt.Errorf("enable foreign keys: %w", err)
	}

	if dsn == ":memory:" {
		return nil
	}

	var journalMode string
	if err := db.QueryRowContext(ctx, "PRAGMA journal_mode=WAL").Scan(&journalMode); err != nil {
		return fmt.Errorf("enable WAL mode: %w", err)
	}
	var busyTimeout int
	if err := db.QueryRowContext(ctx, "PRAGMA busy_timeout=5000").Scan(&busyTimeout); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}

	return nil
}

func ensureStoreDir(path string) error {
	dir := filepath.Dir(filepath.Clean(path))
	if dir == "." || dir == string(filepath.Separator) {
		return nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create ledger directory: %w", err)
	}
	return nil
}
