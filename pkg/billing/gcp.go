package billing

import (
	"context"

	"go.uber.org/zap"
)

// GCPConfig configures the GCP billing collaborator.
type GCPConfig struct {
	ProjectID string

	// BillingExportTable is the BigQuery billing export table
	// (project.dataset.table). Per-resource actual cost on GCP is only
	// available through that export.
	BillingExportTable string
}

// GCPQuery is the GCP billing collaborator.
//
// GCP exposes no per-resource billing API; actual cost requires a BigQuery
// billing export, which this system does not provision. Until an export table
// is configured the query reports "no data yet" so reconciliation re-attempts
// stay cheap and non-fatal.
type GCPQuery struct {
	cfg GCPConfig
	log *zap.Logger
}

// NewGCPQuery builds the GCP billing collaborator.
func NewGCPQuery(cfg GCPConfig, log *zap.Logger) *GCPQuery {
	if log == nil {
		log = zap.NewNop()
	}
	return &GCPQuery{cfg: cfg, log: log}
}

// ActualCost reports no data: the preemptible-instance cost lives in the
// BigQuery billing export, not in any queryable API.
func (q *GCPQuery) ActualCost(ctx context.Context, req Request) (*Cost, error) {
	q.log.Warn("GCP cost retrieval requires a BigQuery billing export",
		zap.String("job_id", req.JobID),
		zap.String("instance_name", req.extra("instance_name")),
		zap.String("project_id", q.cfg.ProjectID))
	return nil, nil
}
