// Package billing defines the contract between the ledger's cost
// reconciliation and the provider billing APIs, plus one implementation per
// cloud.
//
// Billing data at every provider lags instance termination by hours to days.
// A nil Cost with a nil error is therefore a normal outcome ("no data yet"),
// not a failure; callers are expected to re-query later.
package billing

import (
	"context"
	"time"

	"github.com/3leaps/spotledger/pkg/ledger"
)

// Request identifies the resource and window a cost query covers. The window
// is the job's active period padded by the caller to absorb billing-data lag.
type Request struct {
	JobID       string
	InstanceID  string
	Region      string
	WindowStart time.Time
	WindowEnd   time.Time

	// Metadata carries the launch audit blob so provider implementations can
	// read provider-specific fields (GCP project/zone, Azure resource group)
	// the ledger itself never interprets.
	Metadata *ledger.Metadata
}

// Cost is a normalized billing query result.
type Cost struct {
	Total     float64
	Currency  string
	Breakdown []ledger.CostEntry

	// Estimated marks totals derived from pricing rather than authoritative
	// billing data (GCP without a billing export).
	Estimated bool
}

// Query retrieves authoritative cost for one job from a provider billing API.
//
// Returns (nil, nil) when the provider has no usable data for the window yet,
// and a non-nil error only for genuine API failures (auth, transport).
type Query interface {
	ActualCost(ctx context.Context, req Request) (*Cost, error)
}

func (r Request) extra(key string) string {
	if r.Metadata == nil {
		return ""
	}
	return r.Metadata.LaunchResult.Extra[key]
}
