package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// RunningCost computes the point-in-time cost estimate for a job:
// elapsed hours times hourly price. The window runs from started_at (falling
// back to created_at, so a job that dies while still launching accrues its
// pending-period spend) to completed_at (falling back to now). A job with no
// price cannot compute cost and reports 0. Never authoritative: an actual
// cost, once reconciled, supersedes it.
func RunningCost(job *JobRecord, now time.Time) float64 {
	if job == nil || job.PricePerHour <= 0 {
		return 0
	}

	start := job.CreatedAt
	if job.StartedAt != nil {
		start = *job.StartedAt
	}
	if start.IsZero() {
		return 0
	}

	end := now
	if job.CompletedAt != nil {
		end = *job.CompletedAt
	}
	if end.Before(start) {
		return 0
	}

	hours := end.Sub(start).Hours()
	return hours * job.PricePerHour
}

// UpdateActualCost records the provider-reported authoritative cost for a job
// and appends the breakdown entries, all stamped with the same retrieval
// instant. Repeated calls overwrite actual_cost and append further breakdown
// rows; the audit trail is deliberately not deduplicated. Returns (false, nil)
// when the job does not exist.
func (l *Ledger) UpdateActualCost(ctx context.Context, jobID string, amount float64, breakdown []CostEntry) (bool, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := formatTime(time.Now())
	res, err := tx.ExecContext(ctx,
		`UPDATE jobs SET actual_cost = ?, cost_retrieved_at = ?, updated_at = ?
		 WHERE job_id = ?`,
		amount, now, now, jobID)
	if err != nil {
		return false, fmt.Errorf("update actual cost for %s: %w", jobID, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return false, fmt.Errorf("actual cost rows affected: %w", err)
	} else if n == 0 {
		return false, nil
	}

	for _, entry := range breakdown {
		raw := string(entry.RawData)
		if raw == "" {
			raw = "{}"
		}
		currency := entry.Currency
		if currency == "" {
			currency = "USD"
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO cost_tracking (
				job_id, provider, cost_type, amount, currency,
				billing_period_start, billing_period_end, retrieved_at, raw_data
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			jobID, string(entry.Provider), entry.CostType, entry.Amount, currency,
			entry.BillingPeriodStart, entry.BillingPeriodEnd, now, raw); err != nil {
			return false, fmt.Errorf("insert cost entry for %s: %w", jobID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit actual cost for %s: %w", jobID, err)
	}
	return true, nil
}

// CheckBudget evaluates cost against the job's budget ceiling without
// mutating anything. A job with no budget limit is always within budget.
// Returns (nil, nil) when the job does not exist.
func (l *Ledger) CheckBudget(ctx context.Context, jobID string, cost float64) (*BudgetStatus, error) {
	job, err := l.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, nil
	}
	status := budgetStatus(job.BudgetLimit, cost)
	return &status, nil
}

func budgetStatus(limit *float64, cost float64) BudgetStatus {
	if limit == nil {
		return BudgetStatus{WithinBudget: true, Cost: cost}
	}

	st := BudgetStatus{
		Limit: limit,
		Cost:  cost,
	}
	st.WithinBudget = cost <= *limit
	if *limit > 0 {
		st.UsagePercent = cost / *limit * 100
	}
	if over := cost - *limit; over > 0 {
		st.OverAmount = over
	}
	return st
}

// CostSummary joins the job record with its full cost breakdown history and a
// fresh running-cost estimate. Budget status is computed from actual cost when
// reconciliation has succeeded, otherwise from the running estimate.
// Returns (nil, nil) when the job does not exist.
func (l *Ledger) CostSummary(ctx context.Context, jobID string) (*CostSummary, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	job, err := l.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, nil
	}

	breakdown, err := l.costBreakdown(ctx, jobID)
	if err != nil {
		return nil, err
	}

	running := RunningCost(job, time.Now())
	costToCheck := running
	if job.ActualCost != nil {
		costToCheck = *job.ActualCost
	}

	return &CostSummary{
		JobID:           job.JobID,
		Provider:        job.Provider,
		InstanceType:    job.InstanceType,
		Region:          job.Region,
		Status:          job.Status,
		EstimatedCost:   job.EstimatedCost,
		ActualCost:      job.ActualCost,
		RunningCost:     running,
		CostRetrievedAt: job.CostRetrievedAt,
		Breakdown:       breakdown,
		Budget:          budgetStatus(job.BudgetLimit, costToCheck),
	}, nil
}

func (l *Ledger) costBreakdown(ctx context.Context, jobID string) ([]CostEntry, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, job_id, provider, cost_type, amount, currency,
		        billing_period_start, billing_period_end, retrieved_at, raw_data
		 FROM cost_tracking WHERE job_id = ?
		 ORDER BY billing_period_start DESC`, jobID)
	if err != nil {
		return nil, fmt.Errorf("query cost breakdown for %s: %w", jobID, err)
	}
	defer func() { _ = rows.Close() }()

	var out []CostEntry
	for rows.Next() {
		var (
			entry       CostEntry
			provider    string
			retrievedAt string
			raw         sql.NullString
		)
		if err := rows.Scan(&entry.ID, &entry.JobID, &provider, &entry.CostType,
			&entry.Amount, &entry.Currency, &entry.BillingPeriodStart,
			&entry.BillingPeriodEnd, &retrievedAt, &raw); err != nil {
			return nil, fmt.Errorf("scan cost entry: %w", err)
		}
		entry.Provider = Provider(provider)
		if entry.RetrievedAt, err = parseTime(retrievedAt); err != nil {
			return nil, fmt.Errorf("parse retrieved_at: %w", err)
		}
		if raw.Valid {
			entry.RawData = []byte(raw.String)
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("cost breakdown for %s: %w", jobID, err)
	}
	return out, nil
}

// JobsOverBudget scans jobs carrying a budget limit and returns those whose
// known cost (actual when present, else the stored estimate) exceeds it,
// annotated with over-amount and usage percent, newest first.
func (l *Ledger) JobsOverBudget(ctx context.Context) ([]OverBudgetJob, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	rows, err := l.db.QueryContext(ctx,
		`SELECT job_id, provider, instance_type, status, budget_limit,
		        actual_cost, estimated_cost, created_at
		 FROM jobs
		 WHERE budget_limit IS NOT NULL
		 AND (
		   (actual_cost IS NOT NULL AND actual_cost > budget_limit) OR
		   (actual_cost IS NULL AND estimated_cost IS NOT NULL AND estimated_cost > budget_limit)
		 )
		 ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query over-budget jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []OverBudgetJob
	for rows.Next() {
		var (
			job               OverBudgetJob
			provider, status  string
			actual, estimated sql.NullFloat64
			createdAt         string
		)
		if err := rows.Scan(&job.JobID, &provider, &job.InstanceType, &status,
			&job.BudgetLimit, &actual, &estimated, &createdAt); err != nil {
			return nil, fmt.Errorf("scan over-budget job: %w", err)
		}
		job.Provider = Provider(provider)
		job.Status = Status(status)
		if job.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}

		cost := estimated.Float64
		if actual.Valid {
			cost = actual.Float64
		}
		if cost <= job.BudgetLimit {
			continue
		}
		job.Cost = cost
		job.OverAmount = cost - job.BudgetLimit
		if job.BudgetLimit > 0 {
			job.UsagePercent = cost / job.BudgetLimit * 100
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("over-budget jobs: %w", err)
	}
	return out, nil
}
