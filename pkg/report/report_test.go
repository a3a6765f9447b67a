package report

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/spotledger/pkg/ledger"
)

func openTestLedger(t *testing.T) *ledger.Ledger {
	t.Helper()
	l, err := ledger.Open(context.Background(), ledger.Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func floatPtr(f float64) *float64 { return &f }

type seedSpec struct {
	id        string
	provider  ledger.Provider
	status    ledger.Status
	estimated *float64
	actual    *float64
	budget    *float64
	price     float64
}

func seedJobs(t *testing.T, l *ledger.Ledger, specs []seedSpec) {
	t.Helper()
	ctx := context.Background()
	for _, s := range specs {
		created, err := l.CreateJob(ctx, s.id, ledger.JobConfig{
			PricePerHour:  s.price,
			EstimatedCost: s.estimated,
			BudgetLimit:   s.budget,
		}, ledger.LaunchResult{
			Status:       ledger.StatusRunning,
			Provider:     s.provider,
			InstanceType: "r5.4xlarge",
			Region:       "us-east-1",
		})
		require.NoError(t, err)
		require.True(t, created)

		if s.status != ledger.StatusRunning {
			ok, err := l.UpdateStatus(ctx, s.id, s.status, nil)
			require.NoError(t, err)
			require.True(t, ok)
		}
		if s.actual != nil {
			ok, err := l.UpdateActualCost(ctx, s.id, *s.actual, nil)
			require.NoError(t, err)
			require.True(t, ok)
		}
	}
}

func TestCostTrendsEmptyLedger(t *testing.T) {
	l := openTestLedger(t)

	trends, err := New(l).CostTrends(context.Background(), 30, "")
	require.NoError(t, err)
	require.NotNil(t, trends)
	assert.Equal(t, 30, trends.Period.Days)
	assert.Zero(t, trends.Totals.JobCount)
	assert.Zero(t, trends.Totals.AverageJobCost)
	assert.Empty(t, trends.DailyCosts)
	assert.Empty(t, trends.ProviderBreakdown)
}

func TestCostTrends(t *testing.T) {
	l := openTestLedger(t)
	seedJobs(t, l, []seedSpec{
		{id: "aws1", provider: ledger.ProviderAWS, status: ledger.StatusCompleted, estimated: floatPtr(2.0), actual: floatPtr(3.0)},
		{id: "aws2", provider: ledger.ProviderAWS, status: ledger.StatusCompleted, estimated: floatPtr(4.0)},
		{id: "gcp1", provider: ledger.ProviderGCP, status: ledger.StatusCompleted, estimated: floatPtr(5.0)},
	})

	trends, err := New(l).CostTrends(context.Background(), 7, "")
	require.NoError(t, err)

	assert.Equal(t, 3, trends.Totals.JobCount)
	// actual wins over estimated: 3.0 + 4.0 + 5.0
	assert.InDelta(t, 12.0, trends.Totals.TotalCost, 1e-9)
	assert.InDelta(t, 3.0, trends.Totals.ConfirmedCost, 1e-9)
	assert.InDelta(t, 9.0, trends.Totals.EstimatedCost, 1e-9)
	assert.InDelta(t, 4.0, trends.Totals.AverageJobCost, 1e-9)

	require.Len(t, trends.ProviderBreakdown, 2)
	aws := trends.ProviderBreakdown["AWS"]
	assert.Equal(t, 2, aws.JobCount)
	assert.InDelta(t, 7.0, aws.TotalCost, 1e-9)

	t.Run("provider filter", func(t *testing.T) {
		trends, err := New(l).CostTrends(context.Background(), 7, "GCP")
		require.NoError(t, err)
		assert.Equal(t, 1, trends.Totals.JobCount)
		assert.InDelta(t, 5.0, trends.Totals.TotalCost, 1e-9)
		_, hasAWS := trends.ProviderBreakdown["AWS"]
		assert.False(t, hasAWS)
	})
}

func TestBudgetAnalysis(t *testing.T) {
	l := openTestLedger(t)

	t.Run("empty ledger", func(t *testing.T) {
		report, err := New(l).BudgetAnalysis(context.Background())
		require.NoError(t, err)
		assert.Zero(t, report.Summary.TotalJobsWithBudget)
		assert.Zero(t, report.Summary.SuccessRate)
		assert.Empty(t, report.OverBudgetJobs)
	})

	seedJobs(t, l, []seedSpec{
		{id: "within", provider: ledger.ProviderAWS, status: ledger.StatusCompleted, budget: floatPtr(10.0), actual: floatPtr(6.0)},
		{id: "over", provider: ledger.ProviderAWS, status: ledger.StatusCompleted, budget: floatPtr(10.0), actual: floatPtr(12.0)},
		{id: "unbudgeted", provider: ledger.ProviderAWS, status: ledger.StatusCompleted, actual: floatPtr(50.0)},
	})

	report, err := New(l).BudgetAnalysis(context.Background())
	require.NoError(t, err)

	s := report.Summary
	assert.Equal(t, 2, s.TotalJobsWithBudget)
	assert.Equal(t, 1, s.JobsWithinBudget)
	assert.Equal(t, 1, s.JobsOverBudget)
	assert.InDelta(t, 50.0, s.SuccessRate, 1e-9)
	assert.InDelta(t, 20.0, s.TotalAllocated, 1e-9)
	assert.InDelta(t, 18.0, s.TotalSpent, 1e-9)
	assert.InDelta(t, 4.0, s.TotalSavings, 1e-9)
	assert.InDelta(t, 2.0, s.TotalOverrun, 1e-9)
	assert.InDelta(t, 90.0, s.UtilizationPercent, 1e-9)

	require.Len(t, report.OverBudgetJobs, 1)
	over := report.OverBudgetJobs[0]
	assert.Equal(t, "over", over.JobID)
	assert.True(t, over.OverBudget)
	assert.True(t, over.HasActualCost)
	assert.InDelta(t, 120.0, over.UsagePercent, 1e-9)
	assert.InDelta(t, -2.0, over.RemainingBudget, 1e-9)

	assert.Len(t, report.RecentBudgetJobs, 2)
}

func TestProviderComparison(t *testing.T) {
	l := openTestLedger(t)

	t.Run("empty ledger", func(t *testing.T) {
		comparison, err := New(l).ProviderComparison(context.Background(), 30)
		require.NoError(t, err)
		assert.Empty(t, comparison.ProviderStats)
		assert.Nil(t, comparison.Recommendations.Cheapest)
	})

	seedJobs(t, l, []seedSpec{
		{id: "c-aws1", provider: ledger.ProviderAWS, status: ledger.StatusCompleted, actual: floatPtr(2.0), price: 0.5},
		{id: "c-aws2", provider: ledger.ProviderAWS, status: ledger.StatusFailed, actual: floatPtr(4.0), price: 0.5},
		{id: "c-gcp1", provider: ledger.ProviderGCP, status: ledger.StatusCompleted, estimated: floatPtr(1.0), price: 0.4},
	})

	comparison, err := New(l).ProviderComparison(context.Background(), 30)
	require.NoError(t, err)
	require.Len(t, comparison.ProviderStats, 2)

	var aws, gcp *ProviderStats
	for i := range comparison.ProviderStats {
		switch comparison.ProviderStats[i].Provider {
		case "AWS":
			aws = &comparison.ProviderStats[i]
		case "GCP":
			gcp = &comparison.ProviderStats[i]
		}
	}
	require.NotNil(t, aws)
	require.NotNil(t, gcp)

	assert.Equal(t, 2, aws.JobCount)
	assert.InDelta(t, 3.0, aws.AvgCost, 1e-9)
	assert.InDelta(t, 2.0, aws.MinCost, 1e-9)
	assert.InDelta(t, 4.0, aws.MaxCost, 1e-9)
	assert.InDelta(t, 6.0, aws.TotalCost, 1e-9)
	assert.Equal(t, 1, aws.CompletedJobs)
	assert.Equal(t, 1, aws.FailedJobs)
	assert.InDelta(t, 50.0, aws.SuccessRate, 1e-9)

	assert.InDelta(t, 100.0, gcp.SuccessRate, 1e-9)

	rec := comparison.Recommendations
	require.NotNil(t, rec.Cheapest)
	assert.Equal(t, "GCP", rec.Cheapest.Provider)
	require.NotNil(t, rec.MostReliable)
	assert.Equal(t, "GCP", rec.MostReliable.Provider)
	require.NotNil(t, rec.MostUsed)
	assert.Equal(t, "AWS", rec.MostUsed.Provider)
}

func TestJobSummary(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	t.Run("unknown job", func(t *testing.T) {
		summary, err := New(l).JobSummary(ctx, "nope")
		require.NoError(t, err)
		assert.Nil(t, summary)
	})

	seedJobs(t, l, []seedSpec{
		{id: "acc", provider: ledger.ProviderAWS, status: ledger.StatusCompleted, estimated: floatPtr(4.0), actual: floatPtr(5.0)},
		{id: "noest", provider: ledger.ProviderAWS, status: ledger.StatusCompleted, actual: floatPtr(5.0)},
	})

	t.Run("accuracy computed when both figures exist", func(t *testing.T) {
		summary, err := New(l).JobSummary(ctx, "acc")
		require.NoError(t, err)
		require.NotNil(t, summary)
		require.NotNil(t, summary.CostAccuracy)
		assert.Equal(t, 4.0, summary.CostAccuracy.Estimated)
		assert.Equal(t, 5.0, summary.CostAccuracy.Actual)
		assert.InDelta(t, 1.0, summary.CostAccuracy.Difference, 1e-9)
		assert.InDelta(t, 75.0, summary.CostAccuracy.AccuracyPercent, 1e-9)
	})

	t.Run("accuracy omitted without an estimate", func(t *testing.T) {
		summary, err := New(l).JobSummary(ctx, "noest")
		require.NoError(t, err)
		require.NotNil(t, summary)
		assert.Nil(t, summary.CostAccuracy)
	})
}
