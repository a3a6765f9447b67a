package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/3leaps/spotledger/pkg/report"
)

var costBudgetCmd = &cobra.Command{
	Use:   "budget",
	Short: "Budget performance across all budgeted jobs",
	Args:  cobra.NoArgs,
	RunE:  runCostBudget,
}

func init() {
	costCmd.AddCommand(costBudgetCmd)

	costBudgetCmd.Flags().Bool("json", false, "Output as JSON")
}

func runCostBudget(cmd *cobra.Command, _ []string) error {
	l, _, err := openLedger(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = l.Close() }()

	budget, err := report.New(l).BudgetAnalysis(cmd.Context())
	if err != nil {
		return err
	}

	if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
		return printJSON(budget)
	}

	s := budget.Summary
	fmt.Printf("Budgeted jobs: %d (%d within, %d over, %.1f%% success)\n",
		s.TotalJobsWithBudget, s.JobsWithinBudget, s.JobsOverBudget, s.SuccessRate)
	fmt.Printf("Allocated $%.2f, spent $%.4f (%.1f%% utilization), saved $%.4f, overrun $%.4f\n",
		s.TotalAllocated, s.TotalSpent, s.UtilizationPercent, s.TotalSavings, s.TotalOverrun)

	if len(budget.OverBudgetJobs) > 0 {
		fmt.Println("\nOver budget:")
		if err := printBudgetJobs(budget.OverBudgetJobs); err != nil {
			return err
		}
	}
	if len(budget.RecentBudgetJobs) > 0 {
		fmt.Println("\nRecent budgeted jobs:")
		if err := printBudgetJobs(budget.RecentBudgetJobs); err != nil {
			return err
		}
	}
	return nil
}

func printBudgetJobs(jobs []report.BudgetJob) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "JOB ID\tPROVIDER\tTYPE\tSTATUS\tBUDGET\tCOST\tUSAGE\tREMAINING")
	for _, j := range jobs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t$%.2f\t$%.4f\t%.1f%%\t$%.4f\n",
			j.JobID, j.Provider, j.InstanceType, j.Status,
			j.BudgetLimit, j.CurrentCost, j.UsagePercent, j.RemainingBudget)
	}
	return w.Flush()
}
