package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/3leaps/spotledger/pkg/report"
)

var costCompareCmd = &cobra.Command{
	Use:   "compare",
	Short: "Compare cost and reliability across providers",
	Args:  cobra.NoArgs,
	RunE:  runCostCompare,
}

func init() {
	costCmd.AddCommand(costCompareCmd)

	costCompareCmd.Flags().Int("days", 30, "Trailing window in days")
	costCompareCmd.Flags().Bool("json", false, "Output as JSON")
}

func runCostCompare(cmd *cobra.Command, _ []string) error {
	l, _, err := openLedger(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = l.Close() }()

	days, _ := cmd.Flags().GetInt("days")
	comparison, err := report.New(l).ProviderComparison(cmd.Context(), days)
	if err != nil {
		return err
	}

	if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
		return printJSON(comparison)
	}

	fmt.Printf("Provider comparison, last %d days\n\n", comparison.Period.Days)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "PROVIDER\tJOBS\tTOTAL\tAVG\tMIN\tMAX\t$/HR AVG\tSUCCESS")
	for _, s := range comparison.ProviderStats {
		_, _ = fmt.Fprintf(w, "%s\t%d\t$%.4f\t$%.4f\t$%.4f\t$%.4f\t$%.4f\t%.1f%%\n",
			s.Provider, s.JobCount, s.TotalCost, s.AvgCost, s.MinCost, s.MaxCost,
			s.AvgPricePerHour, s.SuccessRate)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	rec := comparison.Recommendations
	if rec.Cheapest != nil {
		fmt.Printf("\nCheapest: %s ($%.4f avg)\n", rec.Cheapest.Provider, rec.Cheapest.AvgCost)
	}
	if rec.MostReliable != nil {
		fmt.Printf("Most reliable: %s (%.1f%% success)\n", rec.MostReliable.Provider, rec.MostReliable.SuccessRate)
	}
	if rec.MostUsed != nil {
		fmt.Printf("Most used: %s (%d jobs)\n", rec.MostUsed.Provider, rec.MostUsed.JobCount)
	}
	return nil
}
