package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/3leaps/spotledger/pkg/ledger"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and maintain job records",
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs, newest first",
	RunE:  runJobsList,
}

var jobsStatusCmd = &cobra.Command{
	Use:   "status <job_id>",
	Short: "Show one job record",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsStatus,
}

var jobsCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete old terminal-state jobs",
	Long: `Delete completed, failed, and terminated jobs created more than
--older-than-days days ago. Cost breakdown rows are removed with their job.
Irreversible; there is no archive.`,
	RunE: runJobsCleanup,
}

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsStatusCmd)
	jobsCmd.AddCommand(jobsCleanupCmd)

	jobsListCmd.Flags().String("status", "", "Filter by status (launching, running, completed, failed, terminated)")
	jobsListCmd.Flags().Int("limit", 50, "Maximum jobs to list")
	jobsListCmd.Flags().Bool("json", false, "Output as JSON")
	jobsStatusCmd.Flags().Bool("json", false, "Output as JSON")
	jobsCleanupCmd.Flags().Int("older-than-days", 30, "Delete terminal jobs older than this many days")
	jobsCleanupCmd.Flags().Bool("dry-run", false, "Count matching jobs without deleting them")
	jobsCleanupCmd.Flags().Bool("json", false, "Output as JSON")
}

func runJobsList(cmd *cobra.Command, _ []string) error {
	l, _, err := openLedger(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = l.Close() }()

	statusStr, _ := cmd.Flags().GetString("status")
	limit, _ := cmd.Flags().GetInt("limit")
	status := ledger.Status(statusStr)
	if statusStr != "" && !status.Valid() {
		return fmt.Errorf("unknown status %q", statusStr)
	}

	jobs, err := l.ListJobs(cmd.Context(), status, limit)
	if err != nil {
		return err
	}

	if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
		return printJSON(jobs)
	}

	if len(jobs) == 0 {
		_, _ = fmt.Fprintln(os.Stderr, "No jobs found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()
	_, _ = fmt.Fprintln(w, "JOB ID\tSTATUS\tPROVIDER\tINSTANCE TYPE\tREGION\tCREATED\tEST COST")
	for _, job := range jobs {
		cost := ledger.RunningCost(&job, time.Now())
		if job.ActualCost != nil {
			cost = *job.ActualCost
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t$%.4f\n",
			job.JobID, job.Status, job.Provider, job.InstanceType, job.Region,
			job.CreatedAt.Local().Format("2006-01-02 15:04"), cost)
	}
	return nil
}

func runJobsStatus(cmd *cobra.Command, args []string) error {
	l, _, err := openLedger(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = l.Close() }()

	job, err := l.GetJob(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if job == nil {
		return fmt.Errorf("job %s not found", args[0])
	}

	if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
		return printJSON(job)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()
	_, _ = fmt.Fprintf(w, "Job ID:\t%s\n", job.JobID)
	_, _ = fmt.Fprintf(w, "Status:\t%s\n", job.Status)
	_, _ = fmt.Fprintf(w, "Provider:\t%s\n", job.Provider)
	_, _ = fmt.Fprintf(w, "Instance Type:\t%s\n", job.InstanceType)
	if job.InstanceID != "" {
		_, _ = fmt.Fprintf(w, "Instance ID:\t%s\n", job.InstanceID)
	}
	_, _ = fmt.Fprintf(w, "Region:\t%s\n", job.Region)
	if job.PublicIP != "" {
		_, _ = fmt.Fprintf(w, "Public IP:\t%s\n", job.PublicIP)
	}
	_, _ = fmt.Fprintf(w, "Created:\t%s\n", job.CreatedAt.Local().Format(time.RFC3339))
	if job.StartedAt != nil {
		_, _ = fmt.Fprintf(w, "Started:\t%s\n", job.StartedAt.Local().Format(time.RFC3339))
	}
	if job.CompletedAt != nil {
		_, _ = fmt.Fprintf(w, "Completed:\t%s\n", job.CompletedAt.Local().Format(time.RFC3339))
	}
	if job.PricePerHour > 0 {
		_, _ = fmt.Fprintf(w, "Price/hour:\t$%.4f\n", job.PricePerHour)
	}
	if job.BudgetLimit != nil {
		_, _ = fmt.Fprintf(w, "Budget Limit:\t$%.2f\n", *job.BudgetLimit)
	}
	if job.ActualCost != nil {
		_, _ = fmt.Fprintf(w, "Actual Cost:\t$%.4f\n", *job.ActualCost)
	} else {
		_, _ = fmt.Fprintf(w, "Running Cost:\t$%.4f\n", ledger.RunningCost(job, time.Now()))
	}
	return nil
}

type cleanupResult struct {
	Deleted       int64 `json:"deleted"`
	OlderThanDays int   `json:"older_than_days"`
	DryRun        bool  `json:"dry_run"`
}

func runJobsCleanup(cmd *cobra.Command, _ []string) error {
	l, _, err := openLedger(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = l.Close() }()

	days, _ := cmd.Flags().GetInt("older-than-days")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	var count int64
	if dryRun {
		count, err = l.CleanupPreview(cmd.Context(), days)
	} else {
		count, err = l.Cleanup(cmd.Context(), days)
	}
	if err != nil {
		return err
	}

	if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
		return printJSON(cleanupResult{Deleted: count, OlderThanDays: days, DryRun: dryRun})
	}
	if dryRun {
		_, _ = fmt.Fprintf(os.Stdout, "would delete %d job(s)\n", count)
		return nil
	}
	_, _ = fmt.Fprintf(os.Stdout, "deleted=%d\n", count)
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
