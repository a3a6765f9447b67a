// Package pricing discovers spot/preemptible instance prices across clouds
// and selects the cheapest instance meeting hardware constraints.
package pricing

import (
	"context"
	"sort"

	"github.com/3leaps/spotledger/pkg/ledger"
)

// Quote is one priced instance offering.
type Quote struct {
	Provider     ledger.Provider `json:"provider"`
	InstanceType string          `json:"instance_type"`
	Region       string          `json:"region"`
	PricePerHour float64         `json:"price_per_hour"`
	VCPU         int             `json:"vcpu"`
	RAMGB        int             `json:"ram_gb"`
}

// Constraints bound the hardware a quote must offer. Zero max values mean
// unbounded.
type Constraints struct {
	MinVCPU  int
	MaxVCPU  int
	MinRAMGB int
	MaxRAMGB int
}

// DefaultConstraints matches the memory-heavy batch workloads this tooling
// was built for.
var DefaultConstraints = Constraints{
	MinVCPU:  16,
	MaxVCPU:  32,
	MinRAMGB: 64,
	MaxRAMGB: 256,
}

// Matches reports whether spec satisfies the constraints.
func (c Constraints) Matches(vcpu, ramGB int) bool {
	if vcpu < c.MinVCPU || ramGB < c.MinRAMGB {
		return false
	}
	if c.MaxVCPU > 0 && vcpu > c.MaxVCPU {
		return false
	}
	if c.MaxRAMGB > 0 && ramGB > c.MaxRAMGB {
		return false
	}
	return true
}

// Discovery queries one provider's spot price surface.
type Discovery interface {
	Quotes(ctx context.Context, constraints Constraints) ([]Quote, error)
}

// Cheapest returns the lowest-priced quote, or nil for an empty list. Ties
// break by provider then instance type for stable output.
func Cheapest(quotes []Quote) *Quote {
	if len(quotes) == 0 {
		return nil
	}
	sorted := make([]Quote, len(quotes))
	copy(sorted, quotes)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].PricePerHour != sorted[j].PricePerHour {
			return sorted[i].PricePerHour < sorted[j].PricePerHour
		}
		if sorted[i].Provider != sorted[j].Provider {
			return sorted[i].Provider < sorted[j].Provider
		}
		return sorted[i].InstanceType < sorted[j].InstanceType
	})
	return &sorted[0]
}

// instanceSpec is (vCPU, RAM in GB) for a known instance type.
type instanceSpec struct {
	vcpu  int
	ramGB int
}

// awsInstanceSpecs covers the memory- and compute-optimized types worth
// quoting for this workload profile.
var awsInstanceSpecs = map[string]instanceSpec{
	"r5.4xlarge":  {16, 128},
	"r5.8xlarge":  {32, 256},
	"r5a.4xlarge": {16, 128},
	"r5a.8xlarge": {32, 256},
	"r6i.4xlarge": {16, 128},
	"r6i.8xlarge": {32, 256},
	"r7i.4xlarge": {16, 128},
	"r7i.8xlarge": {32, 256},
	"m5.4xlarge":  {16, 64},
	"m5.8xlarge":  {32, 128},
	"m5a.4xlarge": {16, 64},
	"m5a.8xlarge": {32, 128},
	"m6i.4xlarge": {16, 64},
	"m6i.8xlarge": {32, 128},
}
