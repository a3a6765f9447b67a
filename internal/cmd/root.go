// Package cmd implements the spotledger CLI.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/3leaps/spotledger/internal/config"
	"github.com/3leaps/spotledger/internal/observability"
	"github.com/3leaps/spotledger/pkg/billing"
	"github.com/3leaps/spotledger/pkg/ledger"
	"github.com/3leaps/spotledger/pkg/reconcile"
)

var versionInfo = struct {
	Version   string
	Commit    string
	BuildDate string
}{
	Version:   "dev",
	Commit:    "HEAD",
	BuildDate: "unknown",
}

// SetVersionInfo records build metadata injected by the linker.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
	rootCmd.Version = fmt.Sprintf("%s (commit %s, built %s)", version, commit, buildDate)
}

var rootCmd = &cobra.Command{
	Use:   "spotledger",
	Short: "Track spot compute jobs and their cost across AWS, GCP, and Azure",
	Long: `spotledger tracks spot/preemptible compute jobs end-to-end: launch
records, lifecycle status, running cost estimates, reconciled actual billing
cost, budget checks, and cost reports.

The ledger is a local SQLite database shared by every subcommand.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, _ []string) {
		if level, _ := cmd.Flags().GetString("log-level"); level != "" {
			observability.SetLevel(level)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Config file path")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("db", "", "Ledger database path (overrides config)")
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig resolves the effective configuration for a command invocation.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cmd.Context(), path)
	if err != nil {
		return nil, err
	}
	if db, _ := cmd.Flags().GetString("db"); db != "" {
		cfg.Ledger.Path = db
	}
	if level, _ := cmd.Flags().GetString("log-level"); level == "" && cfg.Logging.Level != "" {
		observability.SetLevel(cfg.Logging.Level)
	}
	return cfg, nil
}

// openLedger loads config and opens the ledger for a command invocation.
// Callers own the returned ledger and must Close it.
func openLedger(cmd *cobra.Command) (*ledger.Ledger, *config.Config, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	l, err := ledger.Open(cmd.Context(), ledger.Config{Path: cfg.Ledger.Path})
	if err != nil {
		return nil, nil, err
	}
	return l, cfg, nil
}

// newReconciler wires the per-provider billing collaborators. Providers whose
// credentials are not configured are left unwired; retrieving cost for their
// jobs reports failure instead of crashing the whole run.
func newReconciler(cmd *cobra.Command, l *ledger.Ledger, cfg *config.Config) *reconcile.Service {
	log := observability.CLILogger
	queries := map[ledger.Provider]billing.Query{}

	if aws, err := billing.NewAWSQuery(cmd.Context(), billing.AWSConfig{
		Profile:         cfg.AWS.Profile,
		AccessKeyID:     cfg.AWS.AccessKeyID,
		SecretAccessKey: cfg.AWS.SecretAccessKey,
	}, log); err == nil {
		queries[ledger.ProviderAWS] = aws
	} else {
		log.Warn("AWS billing client unavailable: " + err.Error())
	}

	queries[ledger.ProviderGCP] = billing.NewGCPQuery(billing.GCPConfig{
		ProjectID:          cfg.GCP.ProjectID,
		BillingExportTable: cfg.GCP.BillingExportTable,
	}, log)

	if azure, err := billing.NewAzureQuery(billing.AzureConfig{
		SubscriptionID: cfg.Azure.SubscriptionID,
		TenantID:       cfg.Azure.TenantID,
		ClientID:       cfg.Azure.ClientID,
		ClientSecret:   cfg.Azure.ClientSecret,
	}, log); err == nil {
		queries[ledger.ProviderAzure] = azure
	} else {
		log.Warn("Azure billing client unavailable: " + err.Error())
	}

	return reconcile.New(l, queries, log, reconcile.Options{
		CallInterval: cfg.Reconcile.CallInterval,
	})
}
