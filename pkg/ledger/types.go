package ledger

import (
	"encoding/json"
	"time"
)

// JobConfig is the launcher-supplied configuration captured at job creation.
//
// The ledger copies the pricing and staging fields into columns and stores the
// whole struct (plus the LaunchResult) in the metadata blob for audit. Beyond
// JSON (de)serialization the core never interprets metadata.
type JobConfig struct {
	InputURI      string            `json:"input_uri,omitempty"`
	ResultSyncURI string            `json:"result_sync_uri,omitempty"`
	PricePerHour  float64           `json:"price_per_hour,omitempty"`
	EstimatedCost *float64          `json:"estimated_cost,omitempty"`
	BudgetLimit   *float64          `json:"budget_limit,omitempty"`
	BillingTags   map[string]string `json:"billing_tags,omitempty"`
}

// LaunchResult is what an instance launcher reports back after a launch
// attempt. Extra holds provider-specific fields (GCP project/zone, Azure
// resource group, ...) that billing collaborators read back from metadata.
type LaunchResult struct {
	Status        Status            `json:"status,omitempty"`
	Provider      Provider          `json:"provider"`
	InstanceType  string            `json:"instance_type"`
	InstanceID    string            `json:"instance_id,omitempty"`
	Region        string            `json:"region"`
	PublicIP      string            `json:"public_ip,omitempty"`
	PrivateIP     string            `json:"private_ip,omitempty"`
	SpotRequestID string            `json:"spot_request_id,omitempty"`
	Extra         map[string]string `json:"extra,omitempty"`
}

// Metadata is the audit blob persisted with every job.
type Metadata struct {
	LaunchResult LaunchResult `json:"launch_result"`
	JobConfig    JobConfig    `json:"job_config"`
}

// JobRecord is one row of the jobs table.
type JobRecord struct {
	JobID        string   `json:"job_id"`
	Status       Status   `json:"status"`
	Provider     Provider `json:"provider"`
	InstanceType string   `json:"instance_type"`
	InstanceID   string   `json:"instance_id,omitempty"`
	Region       string   `json:"region"`
	PublicIP     string   `json:"public_ip,omitempty"`
	PrivateIP    string   `json:"private_ip,omitempty"`

	InputURI      string `json:"input_uri,omitempty"`
	ResultSyncURI string `json:"result_sync_uri,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	PricePerHour    float64    `json:"price_per_hour,omitempty"`
	EstimatedCost   *float64   `json:"estimated_cost,omitempty"`
	ActualCost      *float64   `json:"actual_cost,omitempty"`
	BudgetLimit     *float64   `json:"budget_limit,omitempty"`
	CostRetrievedAt *time.Time `json:"cost_retrieved_at,omitempty"`

	SpotRequestID string            `json:"spot_request_id,omitempty"`
	BillingTags   map[string]string `json:"billing_tags,omitempty"`
	Metadata      *Metadata         `json:"metadata,omitempty"`
}

// StatusExtra is the allow-listed set of mutable fields that may accompany a
// status update. Anything else on the record is immutable once created, or
// owned by a dedicated operation.
type StatusExtra struct {
	InstanceID string
	PublicIP   string
	PrivateIP  string
}

// CostEntry is one row of the cost_tracking table. Entries are immutable once
// written and are ordered by billing period start for display.
type CostEntry struct {
	ID                 int64           `json:"id,omitempty"`
	JobID              string          `json:"job_id"`
	Provider           Provider        `json:"provider"`
	CostType           string          `json:"cost_type"`
	Amount             float64         `json:"amount"`
	Currency           string          `json:"currency"`
	BillingPeriodStart string          `json:"billing_period_start"`
	BillingPeriodEnd   string          `json:"billing_period_end"`
	RetrievedAt        time.Time       `json:"retrieved_at"`
	RawData            json.RawMessage `json:"raw_data,omitempty"`
}

// BudgetStatus reports a cost figure against a job's budget ceiling.
// A job with no budget limit is always within budget and Limit is nil.
type BudgetStatus struct {
	WithinBudget bool     `json:"within_budget"`
	Limit        *float64 `json:"budget_limit"`
	Cost         float64  `json:"cost"`
	UsagePercent float64  `json:"usage_percent"`
	OverAmount   float64  `json:"over_amount"`
}

// CostSummary joins a job with its breakdown history and a point-in-time
// running cost estimate. Budget status uses actual cost when present, else
// the running estimate.
type CostSummary struct {
	JobID           string       `json:"job_id"`
	Provider        Provider     `json:"provider"`
	InstanceType    string       `json:"instance_type"`
	Region          string       `json:"region"`
	Status          Status       `json:"status"`
	EstimatedCost   *float64     `json:"estimated_cost,omitempty"`
	ActualCost      *float64     `json:"actual_cost,omitempty"`
	RunningCost     float64      `json:"current_runtime_cost"`
	CostRetrievedAt *time.Time   `json:"cost_retrieved_at,omitempty"`
	Breakdown       []CostEntry  `json:"cost_breakdown"`
	Budget          BudgetStatus `json:"budget"`
}

// OverBudgetJob annotates a job whose known cost exceeds its budget limit.
type OverBudgetJob struct {
	JobID        string    `json:"job_id"`
	Provider     Provider  `json:"provider"`
	InstanceType string    `json:"instance_type"`
	Status       Status    `json:"status"`
	BudgetLimit  float64   `json:"budget_limit"`
	Cost         float64   `json:"cost"`
	OverAmount   float64   `json:"over_budget_amount"`
	UsagePercent float64   `json:"budget_usage_percent"`
	CreatedAt    time.Time `json:"created_at"`
}
