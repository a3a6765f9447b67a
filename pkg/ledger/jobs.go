package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// timeFormat is the ISO-8601 layout used for every timestamp column.
const timeFormat = time.RFC3339Nano

// NewJobID generates a launch-time job id: a sortable timestamp prefix plus a
// short random suffix, unique enough across concurrent launchers.
func NewJobID(now time.Time) string {
	return now.UTC().Format("20060102-150405") + "-" + uuid.NewString()[:8]
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeFormat, s)
}

// CreateJob inserts a new job record. It returns (false, nil) when jobID
// already exists: a duplicate id is a recoverable condition the caller checks,
// not a fault. Instance fields come from the launch result, staging and
// pricing fields from the config, and both are serialized into the metadata
// blob for audit.
func (l *Ledger) CreateJob(ctx context.Context, jobID string, cfg JobConfig, lr LaunchResult) (bool, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return false, errors.New("job_id is required")
	}

	status := lr.Status
	if !status.Valid() {
		status = StatusLaunching
	}

	tags, err := json.Marshal(cfg.BillingTags)
	if err != nil {
		return false, fmt.Errorf("marshal billing_tags: %w", err)
	}
	meta, err := json.Marshal(Metadata{LaunchResult: lr, JobConfig: cfg})
	if err != nil {
		return false, fmt.Errorf("marshal metadata: %w", err)
	}

	now := formatTime(time.Now())

	_, err = l.db.ExecContext(ctx,
		`INSERT INTO jobs (
			job_id, status, provider, instance_type, instance_id,
			region, public_ip, private_ip, input_uri, result_sync_uri,
			created_at, updated_at, price_per_hour, estimated_cost,
			budget_limit, spot_request_id, billing_tags, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		jobID, string(status), string(lr.Provider), lr.InstanceType, nullString(lr.InstanceID),
		lr.Region, nullString(lr.PublicIP), nullString(lr.PrivateIP),
		nullString(cfg.InputURI), nullString(cfg.ResultSyncURI),
		now, now, cfg.PricePerHour, cfg.EstimatedCost,
		cfg.BudgetLimit, nullString(lr.SpotRequestID), string(tags), string(meta))
	if err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("create job %s: %w", jobID, err)
	}

	return true, nil
}

// GetJob returns the job record for jobID, or (nil, nil) when absent.
func (l *Ledger) GetJob(ctx context.Context, jobID string) (*JobRecord, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	row := l.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE job_id = ?`, jobID)
	rec, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get job %s: %w", jobID, err)
	}
	return rec, nil
}

// ListJobs returns jobs ordered most recent created_at first, capped at limit.
// An empty status lists all jobs; otherwise filtering is an exact match.
func (l *Ledger) ListJobs(ctx context.Context, status Status, limit int) ([]JobRecord, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if limit <= 0 {
		limit = 50
	}

	var (
		rows *sql.Rows
		err  error
	)
	if status != "" {
		rows, err = l.db.QueryContext(ctx,
			`SELECT `+jobColumns+` FROM jobs WHERE status = ? ORDER BY created_at DESC LIMIT ?`,
			string(status), limit)
	} else {
		rows, err = l.db.QueryContext(ctx,
			`SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC LIMIT ?`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []JobRecord
	for rows.Next() {
		rec, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return out, nil
}

// UpdateStatus transitions a job to status and bumps updated_at. Timestamp
// rules: entering "running" sets started_at only if not already set
// (first-running-wins, so a retry loop cannot shrink the billed window);
// entering a terminal state stamps completed_at, including on a tolerated
// terminal re-mark. Returns (false, nil) when the job does not exist or the
// lifecycle state machine forbids the transition.
func (l *Ledger) UpdateStatus(ctx context.Context, jobID string, status Status, extra *StatusExtra) (bool, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if !status.Valid() {
		return false, fmt.Errorf("invalid status %q", status)
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current string
	err = tx.QueryRowContext(ctx, `SELECT status FROM jobs WHERE job_id = ?`, jobID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read job %s: %w", jobID, err)
	}
	if !canTransition(Status(current), status) {
		return false, nil
	}

	now := formatTime(time.Now())
	if _, err := tx.ExecContext(ctx,
		`UPDATE jobs SET status = ?, updated_at = ? WHERE job_id = ?`,
		string(status), now, jobID); err != nil {
		return false, fmt.Errorf("update job %s: %w", jobID, err)
	}

	if status == StatusRunning {
		if _, err := tx.ExecContext(ctx,
			`UPDATE jobs SET started_at = COALESCE(started_at, ?) WHERE job_id = ?`,
			now, jobID); err != nil {
			return false, fmt.Errorf("stamp started_at for %s: %w", jobID, err)
		}
	} else if status.IsTerminal() {
		if _, err := tx.ExecContext(ctx,
			`UPDATE jobs SET completed_at = ? WHERE job_id = ?`,
			now, jobID); err != nil {
			return false, fmt.Errorf("stamp completed_at for %s: %w", jobID, err)
		}
	}

	if extra != nil {
		if extra.InstanceID != "" {
			if _, err := tx.ExecContext(ctx, `UPDATE jobs SET instance_id = ? WHERE job_id = ?`, extra.InstanceID, jobID); err != nil {
				return false, fmt.Errorf("update instance_id for %s: %w", jobID, err)
			}
		}
		if extra.PublicIP != "" {
			if _, err := tx.ExecContext(ctx, `UPDATE jobs SET public_ip = ? WHERE job_id = ?`, extra.PublicIP, jobID); err != nil {
				return false, fmt.Errorf("update public_ip for %s: %w", jobID, err)
			}
		}
		if extra.PrivateIP != "" {
			if _, err := tx.ExecContext(ctx, `UPDATE jobs SET private_ip = ? WHERE job_id = ?`, extra.PrivateIP, jobID); err != nil {
				return false, fmt.Errorf("update private_ip for %s: %w", jobID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit status update for %s: %w", jobID, err)
	}
	return true, nil
}

// CleanupPreview counts the terminal-state jobs Cleanup would delete with
// the same olderThanDays cutoff, without deleting anything.
func (l *Ledger) CleanupPreview(ctx context.Context, olderThanDays int) (int64, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if olderThanDays < 0 {
		return 0, fmt.Errorf("olderThanDays must be >= 0")
	}

	cutoff := formatTime(time.Now().AddDate(0, 0, -olderThanDays))
	var n int64
	err := l.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM jobs
		 WHERE status IN (?, ?, ?) AND created_at < ?`,
		string(StatusCompleted), string(StatusFailed), string(StatusTerminated), cutoff).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("cleanup preview: %w", err)
	}
	return n, nil
}

// Cleanup deletes terminal-state jobs created more than olderThanDays days
// ago, cascading to their cost_tracking rows. Irreversible; no archive.
func (l *Ledger) Cleanup(ctx context.Context, olderThanDays int) (int64, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if olderThanDays < 0 {
		return 0, fmt.Errorf("olderThanDays must be >= 0")
	}

	cutoff := formatTime(time.Now().AddDate(0, 0, -olderThanDays))
	res, err := l.db.ExecContext(ctx,
		`DELETE FROM jobs
		 WHERE status IN (?, ?, ?) AND created_at < ?`,
		string(StatusCompleted), string(StatusFailed), string(StatusTerminated), cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("cleanup rows affected: %w", err)
	}
	return n, nil
}

const jobColumns = `job_id, status, provider, instance_type, instance_id,
	region, public_ip, private_ip, input_uri, result_sync_uri,
	created_at, updated_at, started_at, completed_at,
	price_per_hour, estimated_cost, actual_cost, budget_limit,
	cost_retrieved_at, spot_request_id, billing_tags, metadata`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*JobRecord, error) {
	var (
		rec                               JobRecord
		status, provider                  string
		instanceID, publicIP, privateIP   sql.NullString
		inputURI, resultSyncURI           sql.NullString
		createdAt, updatedAt              string
		startedAt, completedAt            sql.NullString
		pricePerHour                      sql.NullFloat64
		estimatedCost, actualCost, budget sql.NullFloat64
		costRetrievedAt                   sql.NullString
		spotRequestID                     sql.NullString
		billingTags, metadata             sql.NullString
	)

	if err := row.Scan(
		&rec.JobID, &status, &provider, &rec.InstanceType, &instanceID,
		&rec.Region, &publicIP, &privateIP, &inputURI, &resultSyncURI,
		&createdAt, &updatedAt, &startedAt, &completedAt,
		&pricePerHour, &estimatedCost, &actualCost, &budget,
		&costRetrievedAt, &spotRequestID, &billingTags, &metadata,
	); err != nil {
		return nil, err
	}

	rec.Status = Status(status)
	rec.Provider = Provider(provider)
	rec.InstanceID = instanceID.String
	rec.PublicIP = publicIP.String
	rec.PrivateIP = privateIP.String
	rec.InputURI = inputURI.String
	rec.ResultSyncURI = resultSyncURI.String
	rec.PricePerHour = pricePerHour.Float64
	rec.SpotRequestID = spotRequestID.String

	var err error
	if rec.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if rec.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	if rec.StartedAt, err = parseNullTime(startedAt); err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}
	if rec.CompletedAt, err = parseNullTime(completedAt); err != nil {
		return nil, fmt.Errorf("parse completed_at: %w", err)
	}
	if rec.CostRetrievedAt, err = parseNullTime(costRetrievedAt); err != nil {
		return nil, fmt.Errorf("parse cost_retrieved_at: %w", err)
	}

	if estimatedCost.Valid {
		rec.EstimatedCost = &estimatedCost.Float64
	}
	if actualCost.Valid {
		rec.ActualCost = &actualCost.Float64
	}
	if budget.Valid {
		rec.BudgetLimit = &budget.Float64
	}

	if billingTags.Valid && billingTags.String != "" && billingTags.String != "null" {
		if err := json.Unmarshal([]byte(billingTags.String), &rec.BillingTags); err != nil {
			return nil, fmt.Errorf("parse billing_tags: %w", err)
		}
	}
	if metadata.Valid && metadata.String != "" {
		var meta Metadata
		if err := json.Unmarshal([]byte(metadata.String), &meta); err != nil {
			return nil, fmt.Errorf("parse metadata: %w", err)
		}
		rec.Metadata = &meta
	}

	return &rec, nil
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// isUniqueViolation recognizes a primary-key collision on insert. The sqlite
// driver reports these as textual errors, so match the message the same way
// the schema migration matches "duplicate column name".
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "constraint failed")
}
