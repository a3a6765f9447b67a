package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunningCost(t *testing.T) {
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	t.Run("nil job", func(t *testing.T) {
		assert.Zero(t, RunningCost(nil, base))
	})

	t.Run("no price", func(t *testing.T) {
		job := &JobRecord{CreatedAt: base}
		assert.Zero(t, RunningCost(job, base.Add(2*time.Hour)))
	})

	t.Run("started_at preferred over created_at", func(t *testing.T) {
		started := base.Add(30 * time.Minute)
		job := &JobRecord{
			PricePerHour: 2.0,
			CreatedAt:    base,
			StartedAt:    &started,
		}
		assert.InDelta(t, 3.0, RunningCost(job, started.Add(90*time.Minute)), 1e-9)
	})

	t.Run("created_at fallback before running", func(t *testing.T) {
		job := &JobRecord{PricePerHour: 1.0, CreatedAt: base}
		assert.InDelta(t, 0.5, RunningCost(job, base.Add(30*time.Minute)), 1e-9)
	})

	t.Run("completed_at freezes the clock", func(t *testing.T) {
		started := base
		completed := base.Add(2 * time.Hour)
		job := &JobRecord{
			PricePerHour: 0.5,
			CreatedAt:    base,
			StartedAt:    &started,
			CompletedAt:  &completed,
		}
		frozen := RunningCost(job, completed.Add(48*time.Hour))
		assert.InDelta(t, 1.0, frozen, 1e-9)
		assert.Equal(t, frozen, RunningCost(job, completed))
	})

	t.Run("clock skew yields zero, never negative", func(t *testing.T) {
		started := base
		completed := base.Add(-time.Hour)
		job := &JobRecord{
			PricePerHour: 1.0,
			CreatedAt:    base,
			StartedAt:    &started,
			CompletedAt:  &completed,
		}
		assert.Zero(t, RunningCost(job, base))
	})
}

func TestRunningCostMonotonic(t *testing.T) {
	started := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	job := &JobRecord{PricePerHour: 0.75, CreatedAt: started, StartedAt: &started}

	prev := 0.0
	for i := 1; i <= 5; i++ {
		cost := RunningCost(job, started.Add(time.Duration(i)*time.Hour))
		assert.Greater(t, cost, prev)
		prev = cost
	}
}

func TestUpdateActualCost(t *testing.T) {
	ctx := context.Background()
	l := openTestLedger(t)

	created, err := l.CreateJob(ctx, "job-cost", JobConfig{PricePerHour: 1.0, EstimatedCost: floatPtr(4.0)},
		LaunchResult{Status: StatusRunning, Provider: ProviderAWS, InstanceType: "r5.4xlarge", Region: "us-east-1"})
	require.NoError(t, err)
	require.True(t, created)

	t.Run("unknown job", func(t *testing.T) {
		ok, err := l.UpdateActualCost(ctx, "nope", 1.0, nil)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("records cost and breakdown", func(t *testing.T) {
		ok, err := l.UpdateActualCost(ctx, "job-cost", 3.75, []CostEntry{
			{
				Provider:           ProviderAWS,
				CostType:           "spot_compute",
				Amount:             3.50,
				BillingPeriodStart: "2026-08-01",
				BillingPeriodEnd:   "2026-08-02",
				RawData:            []byte(`{"usage_type":"SpotUsage:r5.4xlarge"}`),
			},
			{
				Provider:           ProviderAWS,
				CostType:           "data_transfer",
				Amount:             0.25,
				BillingPeriodStart: "2026-08-02",
				BillingPeriodEnd:   "2026-08-03",
			},
		})
		require.NoError(t, err)
		require.True(t, ok)

		job, err := l.GetJob(ctx, "job-cost")
		require.NoError(t, err)
		require.NotNil(t, job.ActualCost)
		assert.Equal(t, 3.75, *job.ActualCost)
		require.NotNil(t, job.CostRetrievedAt)

		summary, err := l.CostSummary(ctx, "job-cost")
		require.NoError(t, err)
		require.NotNil(t, summary)
		require.Len(t, summary.Breakdown, 2)
		// Newest billing period first.
		assert.Equal(t, "data_transfer", summary.Breakdown[0].CostType)
		assert.Equal(t, "spot_compute", summary.Breakdown[1].CostType)
		// Defaults applied on write.
		assert.Equal(t, "USD", summary.Breakdown[0].Currency)
		assert.Equal(t, `{}`, string(summary.Breakdown[0].RawData))
		assert.JSONEq(t, `{"usage_type":"SpotUsage:r5.4xlarge"}`, string(summary.Breakdown[1].RawData))
	})

	t.Run("refresh overwrites total and appends rows", func(t *testing.T) {
		ok, err := l.UpdateActualCost(ctx, "job-cost", 3.80, []CostEntry{{
			Provider:           ProviderAWS,
			CostType:           "spot_compute",
			Amount:             3.80,
			BillingPeriodStart: "2026-08-01",
			BillingPeriodEnd:   "2026-08-03",
		}})
		require.NoError(t, err)
		require.True(t, ok)

		job, err := l.GetJob(ctx, "job-cost")
		require.NoError(t, err)
		assert.Equal(t, 3.80, *job.ActualCost)

		summary, err := l.CostSummary(ctx, "job-cost")
		require.NoError(t, err)
		assert.Len(t, summary.Breakdown, 3)
	})
}

func TestCheckBudget(t *testing.T) {
	ctx := context.Background()
	l := openTestLedger(t)

	created, err := l.CreateJob(ctx, "job-budget", JobConfig{BudgetLimit: floatPtr(10.0)},
		LaunchResult{Status: StatusRunning, Provider: ProviderAWS, InstanceType: "r5.4xlarge", Region: "us-east-1"})
	require.NoError(t, err)
	require.True(t, created)

	created, err = l.CreateJob(ctx, "job-nobudget", JobConfig{},
		LaunchResult{Status: StatusRunning, Provider: ProviderAWS, InstanceType: "r5.4xlarge", Region: "us-east-1"})
	require.NoError(t, err)
	require.True(t, created)

	t.Run("unknown job", func(t *testing.T) {
		status, err := l.CheckBudget(ctx, "nope", 1.0)
		require.NoError(t, err)
		assert.Nil(t, status)
	})

	t.Run("within budget", func(t *testing.T) {
		status, err := l.CheckBudget(ctx, "job-budget", 8.0)
		require.NoError(t, err)
		require.NotNil(t, status)
		assert.True(t, status.WithinBudget)
		require.NotNil(t, status.Limit)
		assert.Equal(t, 10.0, *status.Limit)
		assert.Equal(t, 8.0, status.Cost)
		assert.InDelta(t, 80.0, status.UsagePercent, 1e-9)
		assert.Zero(t, status.OverAmount)
	})

	t.Run("exactly at the limit is within", func(t *testing.T) {
		status, err := l.CheckBudget(ctx, "job-budget", 10.0)
		require.NoError(t, err)
		assert.True(t, status.WithinBudget)
		assert.InDelta(t, 100.0, status.UsagePercent, 1e-9)
	})

	t.Run("over budget", func(t *testing.T) {
		status, err := l.CheckBudget(ctx, "job-budget", 12.0)
		require.NoError(t, err)
		assert.False(t, status.WithinBudget)
		assert.InDelta(t, 120.0, status.UsagePercent, 1e-9)
		assert.InDelta(t, 2.0, status.OverAmount, 1e-9)
	})

	t.Run("no limit is always within", func(t *testing.T) {
		status, err := l.CheckBudget(ctx, "job-nobudget", 1e6)
		require.NoError(t, err)
		assert.True(t, status.WithinBudget)
		assert.Nil(t, status.Limit)
		assert.Zero(t, status.UsagePercent)
	})
}

func TestCostSummaryBudgetSource(t *testing.T) {
	ctx := context.Background()
	l := openTestLedger(t)

	created, err := l.CreateJob(ctx, "job-src", JobConfig{PricePerHour: 1.0, BudgetLimit: floatPtr(5.0)},
		LaunchResult{Status: StatusRunning, Provider: ProviderAWS, InstanceType: "r5.4xlarge", Region: "us-east-1"})
	require.NoError(t, err)
	require.True(t, created)

	// Before reconciliation the budget check rides on the running estimate.
	summary, err := l.CostSummary(ctx, "job-src")
	require.NoError(t, err)
	require.NotNil(t, summary)
	assert.Nil(t, summary.ActualCost)
	assert.Equal(t, summary.RunningCost, summary.Budget.Cost)

	ok, err := l.UpdateStatus(ctx, "job-src", StatusCompleted, nil)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = l.UpdateActualCost(ctx, "job-src", 7.5, nil)
	require.NoError(t, err)
	require.True(t, ok)

	// After reconciliation the authoritative figure drives the check.
	summary, err = l.CostSummary(ctx, "job-src")
	require.NoError(t, err)
	require.NotNil(t, summary.ActualCost)
	assert.Equal(t, 7.5, summary.Budget.Cost)
	assert.False(t, summary.Budget.WithinBudget)
	assert.InDelta(t, 2.5, summary.Budget.OverAmount, 1e-9)

	t.Run("unknown job", func(t *testing.T) {
		summary, err := l.CostSummary(ctx, "nope")
		require.NoError(t, err)
		assert.Nil(t, summary)
	})
}

func TestJobsOverBudget(t *testing.T) {
	ctx := context.Background()
	l := openTestLedger(t)

	seed := func(id string, budget, estimated *float64, actual *float64) {
		t.Helper()
		created, err := l.CreateJob(ctx, id, JobConfig{BudgetLimit: budget, EstimatedCost: estimated},
			LaunchResult{Status: StatusCompleted, Provider: ProviderAWS, InstanceType: "r5.4xlarge", Region: "us-east-1"})
		require.NoError(t, err)
		require.True(t, created)
		if actual != nil {
			ok, err := l.UpdateActualCost(ctx, id, *actual, nil)
			require.NoError(t, err)
			require.True(t, ok)
		}
	}

	seed("over-actual", floatPtr(10.0), floatPtr(8.0), floatPtr(12.0))
	seed("within-actual", floatPtr(20.0), floatPtr(25.0), floatPtr(15.0))
	seed("over-estimate", floatPtr(5.0), floatPtr(6.0), nil)
	seed("no-budget", nil, floatPtr(100.0), nil)

	jobs, err := l.JobsOverBudget(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 2)

	byID := map[string]OverBudgetJob{}
	for _, j := range jobs {
		byID[j.JobID] = j
	}

	over, found := byID["over-actual"]
	require.True(t, found)
	assert.Equal(t, 12.0, over.Cost)
	assert.InDelta(t, 2.0, over.OverAmount, 1e-9)
	assert.InDelta(t, 120.0, over.UsagePercent, 1e-9)

	// Actual cost within budget wins over an estimate that was over.
	_, found = byID["within-actual"]
	assert.False(t, found)

	est, found := byID["over-estimate"]
	require.True(t, found)
	assert.Equal(t, 6.0, est.Cost)
}
