package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/3leaps/spotledger/pkg/report"
)

var costTrendsCmd = &cobra.Command{
	Use:   "trends",
	Short: "Daily cost trends bucketed by provider",
	Args:  cobra.NoArgs,
	RunE:  runCostTrends,
}

func init() {
	costCmd.AddCommand(costTrendsCmd)

	costTrendsCmd.Flags().Int("days", 30, "Trailing window in days")
	costTrendsCmd.Flags().String("provider", "", "Filter to one provider (AWS, GCP, Azure)")
	costTrendsCmd.Flags().Bool("json", false, "Output as JSON")
}

func runCostTrends(cmd *cobra.Command, _ []string) error {
	l, _, err := openLedger(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = l.Close() }()

	days, _ := cmd.Flags().GetInt("days")
	provider, _ := cmd.Flags().GetString("provider")

	trends, err := report.New(l).CostTrends(cmd.Context(), days, provider)
	if err != nil {
		return err
	}

	if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
		return printJSON(trends)
	}

	fmt.Printf("Cost trends, last %d days (%d jobs, $%.4f total)\n\n",
		trends.Period.Days, trends.Totals.JobCount, trends.Totals.TotalCost)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "DATE\tPROVIDER\tJOBS\tTOTAL\tAVG\tCONFIRMED\tESTIMATED")
	for _, d := range trends.DailyCosts {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t$%.4f\t$%.4f\t$%.4f\t$%.4f\n",
			d.Date, d.Provider, d.JobCount, d.TotalCost, d.AvgCost,
			d.ConfirmedCost, d.EstimatedCost)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if len(trends.ProviderBreakdown) > 0 {
		fmt.Println()
		pw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(pw, "PROVIDER\tJOBS\tTOTAL\tCONFIRMED\tESTIMATED")
		for provider, totals := range trends.ProviderBreakdown {
			_, _ = fmt.Fprintf(pw, "%s\t%d\t$%.4f\t$%.4f\t$%.4f\n",
				provider, totals.JobCount, totals.TotalCost,
				totals.ConfirmedCost, totals.EstimatedCost)
		}
		if err := pw.Flush(); err != nil {
			return err
		}
	}
	return nil
}
