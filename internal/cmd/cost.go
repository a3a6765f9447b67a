package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/3leaps/spotledger/pkg/report"
)

var costCmd = &cobra.Command{
	Use:   "cost",
	Short: "Cost reports and actual-cost retrieval",
}

var costJobCmd = &cobra.Command{
	Use:   "job <job_id>",
	Short: "Detailed cost summary for one job",
	Args:  cobra.ExactArgs(1),
	RunE:  runCostJob,
}

func init() {
	rootCmd.AddCommand(costCmd)
	costCmd.AddCommand(costJobCmd)

	costJobCmd.Flags().Bool("json", false, "Output as JSON")
}

func runCostJob(cmd *cobra.Command, args []string) error {
	l, _, err := openLedger(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = l.Close() }()

	summary, err := report.New(l).JobSummary(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if summary == nil {
		return fmt.Errorf("job %s not found", args[0])
	}

	if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
		return printJSON(summary)
	}

	printJobCostReport(summary)
	return nil
}

func printJobCostReport(r *report.JobCostReport) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()

	_, _ = fmt.Fprintf(w, "Job ID:\t%s\n", r.JobID)
	_, _ = fmt.Fprintf(w, "Provider:\t%s\n", r.Provider)
	_, _ = fmt.Fprintf(w, "Instance Type:\t%s\n", r.InstanceType)
	_, _ = fmt.Fprintf(w, "Status:\t%s\n", r.Status)
	_, _ = fmt.Fprintf(w, "Region:\t%s\n", r.Region)

	if r.EstimatedCost != nil {
		_, _ = fmt.Fprintf(w, "Estimated Cost:\t$%.4f\n", *r.EstimatedCost)
	}
	if r.ActualCost != nil {
		_, _ = fmt.Fprintf(w, "Actual Cost:\t$%.4f\n", *r.ActualCost)
		if r.CostRetrievedAt != nil {
			_, _ = fmt.Fprintf(w, "Cost Retrieved:\t%s\n", r.CostRetrievedAt.Local().Format("2006-01-02 15:04:05"))
		}
	} else {
		_, _ = fmt.Fprintf(w, "Current Runtime Cost:\t$%.4f\n", r.RunningCost)
	}

	if r.Budget.Limit != nil {
		_, _ = fmt.Fprintf(w, "Budget Limit:\t$%.2f\n", *r.Budget.Limit)
		if r.Budget.WithinBudget {
			_, _ = fmt.Fprintf(w, "Budget Status:\twithin budget (%.1f%%)\n", r.Budget.UsagePercent)
		} else {
			_, _ = fmt.Fprintf(w, "Budget Status:\tover budget by $%.4f\n", r.Budget.OverAmount)
		}
	}

	if r.CostAccuracy != nil {
		_, _ = fmt.Fprintf(w, "Estimate Accuracy:\t%.1f%% (off by $%.4f)\n",
			r.CostAccuracy.AccuracyPercent, r.CostAccuracy.Difference)
	}

	if len(r.Breakdown) > 0 {
		_, _ = fmt.Fprintln(w, "\nCOST TYPE\tAMOUNT\tCURRENCY\tPERIOD")
		for _, entry := range r.Breakdown {
			_, _ = fmt.Fprintf(w, "%s\t$%.4f\t%s\t%s .. %s\n",
				entry.CostType, entry.Amount, entry.Currency,
				entry.BillingPeriodStart, entry.BillingPeriodEnd)
		}
	}
}
