// Package compute defines the instance launch/terminate collaborator
// contracts the job lifecycle consumes, and an AWS implementation of the
// terminator side. Launch mechanics (image selection, networking, bootstrap)
// belong to provider-specific launchers behind the Launcher interface.
package compute

import (
	"context"

	"github.com/3leaps/spotledger/pkg/ledger"
)

// LaunchSpec is the provider-agnostic request a launcher fulfills.
type LaunchSpec struct {
	Provider     ledger.Provider
	InstanceType string
	Region       string

	// BootstrapPayload is an opaque startup script/cloud-init document.
	BootstrapPayload string

	Config ledger.JobConfig
}

// Launcher starts one spot/preemptible instance and reports the result the
// ledger records at job creation.
type Launcher interface {
	Launch(ctx context.Context, spec LaunchSpec) (*ledger.LaunchResult, error)
}

// TerminateStatus classifies a termination attempt.
type TerminateStatus string

const (
	TerminateStatusSuccess           TerminateStatus = "success"
	TerminateStatusNotFound          TerminateStatus = "not_found"
	TerminateStatusAlreadyTerminated TerminateStatus = "already_terminated"
	TerminateStatusError             TerminateStatus = "error"
)

// TerminateOutcome reports what a terminate call observed and did.
type TerminateOutcome struct {
	Status        TerminateStatus `json:"status"`
	Message       string          `json:"message"`
	PreviousState string          `json:"previous_state,omitempty"`
	CurrentState  string          `json:"current_state,omitempty"`
}

// Terminator tears down a running instance and cancels any still-pending
// capacity request so the provider stops trying to fulfill it.
type Terminator interface {
	Terminate(ctx context.Context, instanceID, region string) (*TerminateOutcome, error)
	CancelSpotRequest(ctx context.Context, requestID, region string) error
}
