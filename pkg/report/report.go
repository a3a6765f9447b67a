// Package report builds read-only aggregations over the ledger: cost trends,
// budget performance, and provider comparison. Views never mutate state and
// degrade to empty/zero results on an empty ledger.
package report

import (
	"context"
	"fmt"
	"time"

	"github.com/3leaps/spotledger/pkg/ledger"
)

// Reporter runs aggregate queries against a ledger.
type Reporter struct {
	ledger *ledger.Ledger
}

// New builds a Reporter over l.
func New(l *ledger.Ledger) *Reporter {
	return &Reporter{ledger: l}
}

// Period describes the trailing window a report covers.
type Period struct {
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
	Days      int       `json:"days"`
}

// DailyCost is one (day, provider) bucket of the trends report. Confirmed
// cost comes from reconciled actual costs; the estimated column covers jobs
// still awaiting billing data.
type DailyCost struct {
	Date          string  `json:"date"`
	Provider      string  `json:"provider"`
	JobCount      int     `json:"job_count"`
	TotalCost     float64 `json:"total_cost"`
	AvgCost       float64 `json:"avg_cost"`
	ConfirmedCost float64 `json:"confirmed_cost"`
	EstimatedCost float64 `json:"estimated_cost"`
}

// TrendTotals aggregates the whole trends window.
type TrendTotals struct {
	JobCount       int     `json:"job_count"`
	TotalCost      float64 `json:"total_cost"`
	ConfirmedCost  float64 `json:"confirmed_cost"`
	EstimatedCost  float64 `json:"estimated_cost"`
	AverageJobCost float64 `json:"average_job_cost"`
}

// ProviderTotals is the per-provider rollup inside the trends report.
type ProviderTotals struct {
	JobCount      int     `json:"job_count"`
	TotalCost     float64 `json:"total_cost"`
	ConfirmedCost float64 `json:"confirmed_cost"`
	EstimatedCost float64 `json:"estimated_cost"`
}

// Trends is the cost-trends report.
type Trends struct {
	Period            Period                    `json:"period"`
	Totals            TrendTotals               `json:"totals"`
	ProviderBreakdown map[string]ProviderTotals `json:"provider_breakdown"`
	DailyCosts        []DailyCost               `json:"daily_costs"`
}

// CostTrends buckets cost by day and provider over the trailing window.
// provider filters to one cloud when non-empty.
func (r *Reporter) CostTrends(ctx context.Context, days int, provider string) (*Trends, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if days <= 0 {
		days = 30
	}

	end := time.Now()
	start := end.AddDate(0, 0, -days)

	query := `SELECT
			DATE(created_at) as date,
			provider,
			COUNT(*) as job_count,
			SUM(COALESCE(actual_cost, estimated_cost, 0)) as total_cost,
			AVG(COALESCE(actual_cost, estimated_cost, 0)) as avg_cost,
			SUM(CASE WHEN actual_cost IS NOT NULL THEN actual_cost ELSE 0 END) as confirmed_cost,
			SUM(CASE WHEN actual_cost IS NULL THEN COALESCE(estimated_cost, 0) ELSE 0 END) as estimated_cost
		FROM jobs
		WHERE created_at >= ?`
	args := []any{start.UTC().Format(time.RFC3339Nano)}
	if provider != "" {
		query += ` AND provider = ?`
		args = append(args, provider)
	}
	query += ` GROUP BY DATE(created_at), provider ORDER BY date DESC, provider`

	rows, err := r.ledger.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query cost trends: %w", err)
	}
	defer func() { _ = rows.Close() }()

	trends := &Trends{
		Period:            Period{StartDate: start, EndDate: end, Days: days},
		ProviderBreakdown: map[string]ProviderTotals{},
	}

	for rows.Next() {
		var d DailyCost
		if err := rows.Scan(&d.Date, &d.Provider, &d.JobCount, &d.TotalCost,
			&d.AvgCost, &d.ConfirmedCost, &d.EstimatedCost); err != nil {
			return nil, fmt.Errorf("scan daily cost: %w", err)
		}
		trends.DailyCosts = append(trends.DailyCosts, d)

		trends.Totals.JobCount += d.JobCount
		trends.Totals.TotalCost += d.TotalCost
		trends.Totals.ConfirmedCost += d.ConfirmedCost
		trends.Totals.EstimatedCost += d.EstimatedCost

		pt := trends.ProviderBreakdown[d.Provider]
		pt.JobCount += d.JobCount
		pt.TotalCost += d.TotalCost
		pt.ConfirmedCost += d.ConfirmedCost
		pt.EstimatedCost += d.EstimatedCost
		trends.ProviderBreakdown[d.Provider] = pt
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("cost trends: %w", err)
	}

	if trends.Totals.JobCount > 0 {
		trends.Totals.AverageJobCost = trends.Totals.TotalCost / float64(trends.Totals.JobCount)
	}
	return trends, nil
}

// BudgetJob is one budgeted job in the budget analysis.
type BudgetJob struct {
	JobID           string  `json:"job_id"`
	Provider        string  `json:"provider"`
	InstanceType    string  `json:"instance_type"`
	Status          string  `json:"status"`
	BudgetLimit     float64 `json:"budget_limit"`
	CurrentCost     float64 `json:"current_cost"`
	HasActualCost   bool    `json:"has_actual_cost"`
	UsagePercent    float64 `json:"budget_usage_percent"`
	OverBudget      bool    `json:"over_budget"`
	RemainingBudget float64 `json:"remaining_budget"`
	CreatedAt       string  `json:"created_at"`
}

// BudgetSummary aggregates budget performance across all budgeted jobs.
type BudgetSummary struct {
	TotalJobsWithBudget int     `json:"total_jobs_with_budget"`
	JobsWithinBudget    int     `json:"jobs_within_budget"`
	JobsOverBudget      int     `json:"jobs_over_budget"`
	SuccessRate         float64 `json:"budget_success_rate"`
	TotalAllocated      float64 `json:"total_budget_allocated"`
	TotalSpent          float64 `json:"total_spent"`
	TotalSavings        float64 `json:"total_savings"`
	TotalOverrun        float64 `json:"total_overrun"`
	UtilizationPercent  float64 `json:"budget_utilization_percent"`
}

// BudgetReport is the budget-performance report.
type BudgetReport struct {
	Summary          BudgetSummary `json:"summary"`
	OverBudgetJobs   []BudgetJob   `json:"over_budget_jobs"`
	RecentBudgetJobs []BudgetJob   `json:"recent_budget_jobs"`
}

// recentBudgetJobCap limits the recent-jobs list in the budget report.
const recentBudgetJobCap = 10

// BudgetAnalysis evaluates every budgeted job against its ceiling using the
// best cost figure currently known (actual, else estimated).
func (r *Reporter) BudgetAnalysis(ctx context.Context) (*BudgetReport, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	rows, err := r.ledger.DB().QueryContext(ctx,
		`SELECT
			job_id, provider, instance_type, status, budget_limit,
			COALESCE(actual_cost, estimated_cost, 0) as current_cost,
			actual_cost IS NOT NULL as has_actual_cost,
			created_at
		FROM jobs
		WHERE budget_limit IS NOT NULL
		ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query budget jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var jobs []BudgetJob
	for rows.Next() {
		var (
			j         BudgetJob
			hasActual int
		)
		if err := rows.Scan(&j.JobID, &j.Provider, &j.InstanceType, &j.Status,
			&j.BudgetLimit, &j.CurrentCost, &hasActual, &j.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan budget job: %w", err)
		}
		j.HasActualCost = hasActual != 0

		if j.BudgetLimit > 0 {
			j.UsagePercent = j.CurrentCost / j.BudgetLimit * 100
			j.OverBudget = j.CurrentCost > j.BudgetLimit
			j.RemainingBudget = j.BudgetLimit - j.CurrentCost
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("budget analysis: %w", err)
	}

	report := &BudgetReport{}
	for _, j := range jobs {
		report.Summary.TotalJobsWithBudget++
		report.Summary.TotalAllocated += j.BudgetLimit
		report.Summary.TotalSpent += j.CurrentCost
		if j.OverBudget {
			report.Summary.JobsOverBudget++
			report.Summary.TotalOverrun += j.CurrentCost - j.BudgetLimit
			report.OverBudgetJobs = append(report.OverBudgetJobs, j)
		} else {
			report.Summary.JobsWithinBudget++
			report.Summary.TotalSavings += j.RemainingBudget
		}
	}
	if report.Summary.TotalJobsWithBudget > 0 {
		report.Summary.SuccessRate = float64(report.Summary.JobsWithinBudget) / float64(report.Summary.TotalJobsWithBudget) * 100
	}
	if report.Summary.TotalAllocated > 0 {
		report.Summary.UtilizationPercent = report.Summary.TotalSpent / report.Summary.TotalAllocated * 100
	}

	if len(jobs) > recentBudgetJobCap {
		report.RecentBudgetJobs = jobs[:recentBudgetJobCap]
	} else {
		report.RecentBudgetJobs = jobs
	}
	return report, nil
}

// ProviderStats is one provider's aggregate in the comparison report.
type ProviderStats struct {
	Provider        string  `json:"provider"`
	JobCount        int     `json:"job_count"`
	AvgCost         float64 `json:"avg_cost"`
	MinCost         float64 `json:"min_cost"`
	MaxCost         float64 `json:"max_cost"`
	TotalCost       float64 `json:"total_cost"`
	AvgPricePerHour float64 `json:"avg_price_per_hour"`
	CompletedJobs   int     `json:"completed_jobs"`
	FailedJobs      int     `json:"failed_jobs"`
	SuccessRate     float64 `json:"success_rate"`
}

// Recommendations are simple min/max reductions over provider stats.
type Recommendations struct {
	Cheapest     *ProviderStats `json:"cheapest_provider"`
	MostReliable *ProviderStats `json:"most_reliable_provider"`
	MostUsed     *ProviderStats `json:"most_used_provider"`
}

// Comparison compares cost and reliability across providers.
type Comparison struct {
	Period          Period          `json:"period"`
	ProviderStats   []ProviderStats `json:"provider_stats"`
	Recommendations Recommendations `json:"recommendations"`
}

// ProviderComparison aggregates per-provider cost and success rates over the
// trailing window, with cheapest/most-reliable/most-used picks.
func (r *Reporter) ProviderComparison(ctx context.Context, days int) (*Comparison, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if days <= 0 {
		days = 30
	}

	end := time.Now()
	start := end.AddDate(0, 0, -days)

	rows, err := r.ledger.DB().QueryContext(ctx,
		`SELECT
			provider,
			COUNT(*) as job_count,
			AVG(COALESCE(actual_cost, estimated_cost, 0)) as avg_cost,
			MIN(COALESCE(actual_cost, estimated_cost, 0)) as min_cost,
			MAX(COALESCE(actual_cost, estimated_cost, 0)) as max_cost,
			SUM(COALESCE(actual_cost, estimated_cost, 0)) as total_cost,
			COALESCE(AVG(price_per_hour), 0) as avg_price_per_hour,
			COUNT(CASE WHEN status = 'completed' THEN 1 END) as completed_jobs,
			COUNT(CASE WHEN status = 'failed' THEN 1 END) as failed_jobs
		FROM jobs
		WHERE created_at >= ?
		GROUP BY provider
		ORDER BY total_cost DESC`,
		start.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("query provider comparison: %w", err)
	}
	defer func() { _ = rows.Close() }()

	comparison := &Comparison{
		Period: Period{StartDate: start, EndDate: end, Days: days},
	}
	for rows.Next() {
		var s ProviderStats
		if err := rows.Scan(&s.Provider, &s.JobCount, &s.AvgCost, &s.MinCost,
			&s.MaxCost, &s.TotalCost, &s.AvgPricePerHour,
			&s.CompletedJobs, &s.FailedJobs); err != nil {
			return nil, fmt.Errorf("scan provider stats: %w", err)
		}
		if s.JobCount > 0 {
			s.SuccessRate = float64(s.CompletedJobs) / float64(s.JobCount) * 100
		}
		comparison.ProviderStats = append(comparison.ProviderStats, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("provider comparison: %w", err)
	}

	for i := range comparison.ProviderStats {
		s := &comparison.ProviderStats[i]
		if comparison.Recommendations.Cheapest == nil || s.AvgCost < comparison.Recommendations.Cheapest.AvgCost {
			comparison.Recommendations.Cheapest = s
		}
		if comparison.Recommendations.MostReliable == nil || s.SuccessRate > comparison.Recommendations.MostReliable.SuccessRate {
			comparison.Recommendations.MostReliable = s
		}
		if comparison.Recommendations.MostUsed == nil || s.JobCount > comparison.Recommendations.MostUsed.JobCount {
			comparison.Recommendations.MostUsed = s
		}
	}
	return comparison, nil
}

// CostAccuracy compares the launch-time estimate against the reconciled
// actual cost.
type CostAccuracy struct {
	Estimated       float64 `json:"estimated"`
	Actual          float64 `json:"actual"`
	Difference      float64 `json:"difference"`
	AccuracyPercent float64 `json:"accuracy_percent"`
}

// JobCostReport is a job's cost summary plus accuracy analysis when both an
// estimate and an actual cost exist.
type JobCostReport struct {
	ledger.CostSummary
	CostAccuracy *CostAccuracy `json:"cost_accuracy,omitempty"`
}

// JobSummary builds the detailed per-job cost report.
// Returns (nil, nil) when the job does not exist.
func (r *Reporter) JobSummary(ctx context.Context, jobID string) (*JobCostReport, error) {
	summary, err := r.ledger.CostSummary(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if summary == nil {
		return nil, nil
	}

	out := &JobCostReport{CostSummary: *summary}
	if summary.ActualCost != nil && summary.EstimatedCost != nil && *summary.EstimatedCost != 0 {
		diff := *summary.ActualCost - *summary.EstimatedCost
		acc := (1 - abs(diff) / *summary.EstimatedCost) * 100
		out.CostAccuracy = &CostAccuracy{
			Estimated:       *summary.EstimatedCost,
			Actual:          *summary.ActualCost,
			Difference:      diff,
			AccuracyPercent: acc,
		}
	}
	return out, nil
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
