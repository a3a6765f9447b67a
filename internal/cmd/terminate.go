package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/spotledger/internal/observability"
	"github.com/3leaps/spotledger/pkg/compute"
	"github.com/3leaps/spotledger/pkg/ledger"
)

var terminateCmd = &cobra.Command{
	Use:   "terminate <job_id>",
	Short: "Terminate a job's instance and mark the job terminated",
	Args:  cobra.ExactArgs(1),
	RunE:  runTerminate,
}

func init() {
	rootCmd.AddCommand(terminateCmd)

	terminateCmd.Flags().Bool("json", false, "Output as JSON")
}

type terminateResult struct {
	JobID       string                    `json:"job_id"`
	Outcome     *compute.TerminateOutcome `json:"outcome,omitempty"`
	FinalStatus ledger.Status             `json:"final_status"`
	RunningCost float64                   `json:"final_runtime_cost"`
}

func runTerminate(cmd *cobra.Command, args []string) error {
	jobID := args[0]
	log := observability.CLILogger

	l, cfg, err := openLedger(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = l.Close() }()

	job, err := l.GetJob(cmd.Context(), jobID)
	if err != nil {
		return err
	}
	if job == nil {
		return fmt.Errorf("job %s not found", jobID)
	}
	if job.Status.IsTerminal() {
		return fmt.Errorf("job %s is already %s", jobID, job.Status)
	}

	result := terminateResult{JobID: jobID}

	switch job.Provider {
	case ledger.ProviderAWS:
		if job.InstanceID == "" {
			log.Warn("job has no instance id, marking terminated without provider call",
				zap.String("job_id", jobID))
			break
		}
		term := compute.NewAWSTerminator(cfg.AWS.Profile, log)
		outcome, err := term.Terminate(cmd.Context(), job.InstanceID, job.Region)
		if err != nil {
			return fmt.Errorf("terminate instance %s: %w", job.InstanceID, err)
		}
		result.Outcome = outcome
		if err := term.CancelSpotRequest(cmd.Context(), job.SpotRequestID, job.Region); err != nil {
			log.Warn("failed to cancel spot request",
				zap.String("job_id", jobID),
				zap.String("spot_request_id", job.SpotRequestID),
				zap.Error(err))
		}
	default:
		log.Warn("no terminator for provider, marking job terminated in the ledger only",
			zap.String("job_id", jobID),
			zap.String("provider", string(job.Provider)))
	}

	if _, err := l.UpdateStatus(cmd.Context(), jobID, ledger.StatusTerminated, nil); err != nil {
		return fmt.Errorf("mark job %s terminated: %w", jobID, err)
	}

	final, err := l.GetJob(cmd.Context(), jobID)
	if err != nil {
		return err
	}
	if final != nil {
		result.FinalStatus = final.Status
		result.RunningCost = ledger.RunningCost(final, time.Now())
	}

	if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
		return printJSON(result)
	}

	if result.Outcome != nil {
		fmt.Printf("Instance: %s\n", result.Outcome.Message)
	}
	fmt.Printf("Job %s terminated. Final runtime cost: $%.4f\n", jobID, result.RunningCost)
	return nil
}
