package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var costRetrieveCmd = &cobra.Command{
	Use:   "retrieve",
	Short: "Retrieve actual billing costs for completed jobs",
	Args:  cobra.NoArgs,
	RunE:  runCostRetrieve,
}

func init() {
	costCmd.AddCommand(costRetrieveCmd)

	costRetrieveCmd.Flags().String("job-id", "", "Retrieve cost for a single job")
	costRetrieveCmd.Flags().Bool("batch", false, "Retrieve costs for recent terminal jobs")
	costRetrieveCmd.Flags().Int("max-jobs", 0, "Maximum jobs to process in batch mode")
	costRetrieveCmd.Flags().Int("days-back", 0, "Only consider jobs created within this many days")
	costRetrieveCmd.Flags().Bool("force-refresh", false, "Re-query billing even when an actual cost is already stored")
	costRetrieveCmd.Flags().Bool("json", false, "Output as JSON")
}

func runCostRetrieve(cmd *cobra.Command, _ []string) error {
	jobID, _ := cmd.Flags().GetString("job-id")
	batch, _ := cmd.Flags().GetBool("batch")
	if jobID == "" && !batch {
		return fmt.Errorf("either --job-id or --batch is required")
	}
	if jobID != "" && batch {
		return fmt.Errorf("--job-id and --batch are mutually exclusive")
	}

	l, cfg, err := openLedger(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = l.Close() }()

	svc := newReconciler(cmd, l, cfg)
	jsonOutput, _ := cmd.Flags().GetBool("json")

	if jobID != "" {
		forceRefresh, _ := cmd.Flags().GetBool("force-refresh")
		ok := svc.RetrieveOne(cmd.Context(), jobID, forceRefresh)
		if jsonOutput {
			return printJSON(map[string]any{"job_id": jobID, "success": ok})
		}
		if !ok {
			return fmt.Errorf("cost retrieval failed for job %s", jobID)
		}
		fmt.Printf("Retrieved actual cost for job %s\n", jobID)
		return nil
	}

	maxJobs, _ := cmd.Flags().GetInt("max-jobs")
	if maxJobs <= 0 {
		maxJobs = cfg.Reconcile.MaxJobs
	}
	daysBack, _ := cmd.Flags().GetInt("days-back")
	if daysBack <= 0 {
		daysBack = cfg.Reconcile.DaysBack
	}

	result := svc.RetrieveBatch(cmd.Context(), maxJobs, daysBack)
	if jsonOutput {
		return printJSON(result)
	}
	fmt.Printf("Processed %d jobs: %d successful, %d failed\n",
		result.Processed, result.Successful, result.Failed)
	return nil
}
