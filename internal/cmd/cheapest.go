package cmd

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/3leaps/spotledger/internal/observability"
	"github.com/3leaps/spotledger/pkg/pricing"
)

var cheapestCmd = &cobra.Command{
	Use:   "cheapest",
	Short: "Find the cheapest spot instance matching hardware constraints",
	Args:  cobra.NoArgs,
	RunE:  runCheapest,
}

func init() {
	rootCmd.AddCommand(cheapestCmd)

	cheapestCmd.Flags().Int("min-vcpu", pricing.DefaultConstraints.MinVCPU, "Minimum vCPUs")
	cheapestCmd.Flags().Int("max-vcpu", pricing.DefaultConstraints.MaxVCPU, "Maximum vCPUs (0 = unbounded)")
	cheapestCmd.Flags().Int("min-ram", pricing.DefaultConstraints.MinRAMGB, "Minimum RAM in GB")
	cheapestCmd.Flags().Int("max-ram", pricing.DefaultConstraints.MaxRAMGB, "Maximum RAM in GB (0 = unbounded)")
	cheapestCmd.Flags().StringSlice("regions", nil, "AWS regions to query (defaults to configured regions)")
	cheapestCmd.Flags().Bool("all", false, "Print all matching quotes, not just the cheapest")
	cheapestCmd.Flags().Bool("json", false, "Output as JSON")
}

func runCheapest(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	constraints := pricing.Constraints{}
	constraints.MinVCPU, _ = cmd.Flags().GetInt("min-vcpu")
	constraints.MaxVCPU, _ = cmd.Flags().GetInt("max-vcpu")
	constraints.MinRAMGB, _ = cmd.Flags().GetInt("min-ram")
	constraints.MaxRAMGB, _ = cmd.Flags().GetInt("max-ram")

	regions, _ := cmd.Flags().GetStringSlice("regions")
	if len(regions) == 0 {
		regions = cfg.AWS.Regions
	}

	discovery := pricing.NewAWSDiscovery(pricing.AWSConfig{
		Regions: regions,
		Profile: cfg.AWS.Profile,
	}, observability.CLILogger)

	quotes, err := discovery.Quotes(cmd.Context(), constraints)
	if err != nil {
		return err
	}
	if len(quotes) == 0 {
		return fmt.Errorf("no spot prices found matching the constraints")
	}

	jsonOutput, _ := cmd.Flags().GetBool("json")
	all, _ := cmd.Flags().GetBool("all")

	if all {
		sort.Slice(quotes, func(i, j int) bool {
			return quotes[i].PricePerHour < quotes[j].PricePerHour
		})
		if jsonOutput {
			return printJSON(quotes)
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "INSTANCE TYPE\tREGION\tVCPU\tRAM\t$/HR")
		for _, q := range quotes {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%dGB\t$%.4f\n",
				q.InstanceType, q.Region, q.VCPU, q.RAMGB, q.PricePerHour)
		}
		return w.Flush()
	}

	best := pricing.Cheapest(quotes)
	if jsonOutput {
		return printJSON(best)
	}
	fmt.Printf("%s in %s: $%.4f/hr (%d vCPU, %dGB RAM)\n",
		best.InstanceType, best.Region, best.PricePerHour, best.VCPU, best.RAMGB)
	return nil
}
