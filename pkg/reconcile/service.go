// Package reconcile bridges the ledger and the provider billing APIs: it
// pulls authoritative actual cost for finished jobs and writes it back with a
// line-item breakdown, superseding the running estimate.
//
// Provider billing data lags termination, so the service is built to be
// re-run: single-job retrieval short-circuits once cost is recorded, and
// batch mode re-attempts every still-unreconciled job.
package reconcile

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/3leaps/spotledger/pkg/billing"
	"github.com/3leaps/spotledger/pkg/ledger"
)

// windowPad widens the billing query window on both sides to absorb provider
// billing-data lag around launch and termination.
const windowPad = time.Hour

// Service retrieves actual costs for terminal jobs.
type Service struct {
	ledger  *ledger.Ledger
	queries map[ledger.Provider]billing.Query
	limiter *rate.Limiter
	log     *zap.Logger
}

// Options tunes batch behavior.
type Options struct {
	// CallInterval spaces consecutive provider calls in batch mode to respect
	// billing API rate limits. Defaults to one second.
	CallInterval time.Duration
}

// New builds a reconciliation service over the given ledger and per-provider
// billing collaborators.
func New(l *ledger.Ledger, queries map[ledger.Provider]billing.Query, log *zap.Logger, opts Options) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	interval := opts.CallInterval
	if interval <= 0 {
		interval = time.Second
	}
	return &Service{
		ledger:  l,
		queries: queries,
		limiter: rate.NewLimiter(rate.Every(interval), 1),
		log:     log,
	}
}

// RetrieveOne retrieves actual cost for a single job. It reports true when
// the ledger holds an actual cost on return, false otherwise. False is the
// normal vocabulary for every miss: unknown job, job not yet terminal,
// unsupported provider, or a provider with no billing data for the window
// yet. Failures are logged, never propagated.
func (s *Service) RetrieveOne(ctx context.Context, jobID string, forceRefresh bool) bool {
	if ctx == nil {
		ctx = context.Background()
	}

	job, err := s.ledger.GetJob(ctx, jobID)
	if err != nil {
		s.log.Error("failed to read job", zap.String("job_id", jobID), zap.Error(err))
		return false
	}
	if job == nil {
		s.log.Error("job not found", zap.String("job_id", jobID))
		return false
	}

	if job.ActualCost != nil && !forceRefresh {
		s.log.Info("cost already retrieved", zap.String("job_id", jobID))
		return true
	}

	// Reconciliation only applies to finished jobs.
	if !job.Status.IsTerminal() {
		s.log.Warn("job is not completed",
			zap.String("job_id", jobID),
			zap.String("status", string(job.Status)))
		return false
	}

	start := job.CreatedAt
	if job.StartedAt != nil {
		start = *job.StartedAt
	}
	end := time.Now()
	if job.CompletedAt != nil {
		end = *job.CompletedAt
	}

	query, ok := s.queries[job.Provider]
	if !ok {
		s.log.Error("unsupported provider",
			zap.String("job_id", jobID),
			zap.String("provider", string(job.Provider)))
		return false
	}

	cost, err := query.ActualCost(ctx, billing.Request{
		JobID:       jobID,
		InstanceID:  job.InstanceID,
		Region:      job.Region,
		WindowStart: start.Add(-windowPad),
		WindowEnd:   end.Add(windowPad),
		Metadata:    job.Metadata,
	})
	if err != nil {
		s.log.Error("billing query failed", zap.String("job_id", jobID), zap.Error(err))
		return false
	}
	if cost == nil {
		// Normal: billing data not visible yet. A later run will pick it up.
		s.log.Warn("no cost data retrieved", zap.String("job_id", jobID))
		return false
	}

	ok, err = s.ledger.UpdateActualCost(ctx, jobID, cost.Total, cost.Breakdown)
	if err != nil || !ok {
		s.log.Error("failed to record actual cost",
			zap.String("job_id", jobID), zap.Error(err))
		return false
	}

	s.log.Info("recorded actual cost",
		zap.String("job_id", jobID),
		zap.Float64("total", cost.Total))
	return true
}

// JobOutcome records the result of one job in a batch run.
type JobOutcome struct {
	JobID   string `json:"job_id"`
	Success bool   `json:"success"`
}

// BatchResult aggregates a batch run.
type BatchResult struct {
	Processed  int          `json:"processed"`
	Successful int          `json:"successful"`
	Failed     int          `json:"failed"`
	Jobs       []JobOutcome `json:"jobs"`
}

// RetrieveBatch retrieves costs for up to maxJobs terminal jobs created within
// the last daysBack days that still lack an actual cost. Jobs are processed
// strictly sequentially with a rate-limited delay between provider calls, and
// a single failure never aborts the run.
func (s *Service) RetrieveBatch(ctx context.Context, maxJobs, daysBack int) BatchResult {
	if ctx == nil {
		ctx = context.Background()
	}
	if maxJobs <= 0 {
		maxJobs = 10
	}
	if daysBack <= 0 {
		daysBack = 7
	}

	var result BatchResult

	// Over-fetch then filter: the list is ordered newest-first and most
	// recent jobs are the ones still awaiting billing data.
	jobs, err := s.ledger.ListJobs(ctx, "", maxJobs*2)
	if err != nil {
		s.log.Error("failed to list jobs for batch retrieval", zap.Error(err))
		return result
	}

	cutoff := time.Now().AddDate(0, 0, -daysBack)
	var eligible []ledger.JobRecord
	for _, job := range jobs {
		if !job.Status.IsTerminal() || job.ActualCost != nil {
			continue
		}
		if job.CreatedAt.Before(cutoff) {
			continue
		}
		eligible = append(eligible, job)
		if len(eligible) == maxJobs {
			break
		}
	}

	for _, job := range eligible {
		if err := s.limiter.Wait(ctx); err != nil {
			s.log.Warn("batch retrieval interrupted", zap.Error(err))
			break
		}

		s.log.Info("processing cost retrieval", zap.String("job_id", job.JobID))
		success := s.RetrieveOne(ctx, job.JobID, false)

		result.Processed++
		if success {
			result.Successful++
		} else {
			result.Failed++
		}
		result.Jobs = append(result.Jobs, JobOutcome{JobID: job.JobID, Success: success})
	}

	s.log.Info("batch cost retrieval completed",
		zap.Int("successful", result.Successful),
		zap.Int("processed", result.Processed))
	return result
}
