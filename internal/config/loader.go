// Package config loads spotledger configuration from file, environment, and
// defaults.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Config is the process configuration.
type Config struct {
	Ledger    LedgerConfig    `mapstructure:"ledger"`
	AWS       AWSConfig       `mapstructure:"aws"`
	GCP       GCPConfig       `mapstructure:"gcp"`
	Azure     AzureConfig     `mapstructure:"azure"`
	Reconcile ReconcileConfig `mapstructure:"reconcile"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// LedgerConfig locates the job database.
type LedgerConfig struct {
	Path string `mapstructure:"path"`
}

// AWSConfig holds AWS credentials/region selection.
type AWSConfig struct {
	Region          string   `mapstructure:"region"`
	Regions         []string `mapstructure:"regions"`
	Profile         string   `mapstructure:"profile"`
	AccessKeyID     string   `mapstructure:"access_key_id"`
	SecretAccessKey string   `mapstructure:"secret_access_key"`
}

// GCPConfig holds GCP project/billing selection.
type GCPConfig struct {
	ProjectID          string `mapstructure:"project_id"`
	BillingExportTable string `mapstructure:"billing_export_table"`
}

// AzureConfig holds Azure subscription and service-principal credentials.
type AzureConfig struct {
	SubscriptionID string `mapstructure:"subscription_id"`
	TenantID       string `mapstructure:"tenant_id"`
	ClientID       string `mapstructure:"client_id"`
	ClientSecret   string `mapstructure:"client_secret"`
}

// ReconcileConfig tunes batch cost retrieval.
type ReconcileConfig struct {
	CallInterval time.Duration `mapstructure:"call_interval"`
	MaxJobs      int           `mapstructure:"max_jobs"`
	DaysBack     int           `mapstructure:"days_back"`
}

// LoggingConfig selects log verbosity.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// Load reads configuration with precedence: explicit file (if path given) >
// ./spotledger.yaml > ~/.config/spotledger/config.yaml > SPOTLEDGER_* env >
// defaults. A missing config file is not an error.
func Load(ctx context.Context, path string) (*Config, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("SPOTLEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("spotledger")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "spotledger"))
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.AWS.Regions) == 0 && cfg.AWS.Region != "" {
		cfg.AWS.Regions = []string{cfg.AWS.Region}
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ledger.path", defaultLedgerPath())
	v.SetDefault("aws.region", "us-east-1")
	v.SetDefault("reconcile.call_interval", "1s")
	v.SetDefault("reconcile.max_jobs", 10)
	v.SetDefault("reconcile.days_back", 7)
	v.SetDefault("logging.level", "info")
}

func defaultLedgerPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "cloud_jobs.db"
	}
	return filepath.Join(home, ".local", "share", "spotledger", "cloud_jobs.db")
}
