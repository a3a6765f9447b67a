package pricing

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"go.uber.org/zap"

	"github.com/3leaps/spotledger/pkg/ledger"
)

// AWSConfig configures spot price discovery.
type AWSConfig struct {
	// Regions to query. Empty defaults to us-east-1.
	Regions []string

	// Profile is the AWS profile name from shared config.
	Profile string
}

// spotPriceAPI is the EC2 surface discovery needs; narrowed for tests.
type spotPriceAPI interface {
	DescribeSpotPriceHistory(ctx context.Context, params *ec2.DescribeSpotPriceHistoryInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSpotPriceHistoryOutput, error)
}

// AWSDiscovery queries EC2 spot price history per region.
type AWSDiscovery struct {
	cfg       AWSConfig
	log       *zap.Logger
	newClient func(ctx context.Context, region string) (spotPriceAPI, error)
}

// NewAWSDiscovery builds a spot-price Discovery for the configured regions.
func NewAWSDiscovery(cfg AWSConfig, log *zap.Logger) *AWSDiscovery {
	if len(cfg.Regions) == 0 {
		cfg.Regions = []string{"us-east-1"}
	}
	if log == nil {
		log = zap.NewNop()
	}
	d := &AWSDiscovery{cfg: cfg, log: log}
	d.newClient = d.defaultClient
	return d
}

func (d *AWSDiscovery) defaultClient(ctx context.Context, region string) (spotPriceAPI, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
	}
	if d.cfg.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(d.cfg.Profile))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config for %s: %w", region, err)
	}
	return ec2.NewFromConfig(awsCfg), nil
}

// Quotes queries each configured region's spot price history for the known
// instance types, keeping the lowest observed price per (type, region).
// Regions that fail are logged and skipped so one bad region cannot empty the
// whole result.
func (d *AWSDiscovery) Quotes(ctx context.Context, constraints Constraints) ([]Quote, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	var instanceTypes []ec2types.InstanceType
	for name, spec := range awsInstanceSpecs {
		if constraints.Matches(spec.vcpu, spec.ramGB) {
			instanceTypes = append(instanceTypes, ec2types.InstanceType(name))
		}
	}
	if len(instanceTypes) == 0 {
		return nil, nil
	}

	best := map[string]Quote{}
	for _, region := range d.cfg.Regions {
		client, err := d.newClient(ctx, region)
		if err != nil {
			d.log.Warn("failed to build EC2 client", zap.String("region", region), zap.Error(err))
			continue
		}

		out, err := client.DescribeSpotPriceHistory(ctx, &ec2.DescribeSpotPriceHistoryInput{
			InstanceTypes:       instanceTypes,
			ProductDescriptions: []string{"Linux/UNIX"},
			MaxResults:          aws.Int32(1000),
		})
		if err != nil {
			d.log.Warn("spot price query failed", zap.String("region", region), zap.Error(err))
			continue
		}

		for _, sp := range out.SpotPriceHistory {
			name := string(sp.InstanceType)
			spec, ok := awsInstanceSpecs[name]
			if !ok || sp.SpotPrice == nil {
				continue
			}
			price, err := strconv.ParseFloat(strings.TrimSpace(*sp.SpotPrice), 64)
			if err != nil || price <= 0 {
				continue
			}

			key := name + "/" + region
			if q, ok := best[key]; ok && q.PricePerHour <= price {
				continue
			}
			best[key] = Quote{
				Provider:     ledger.ProviderAWS,
				InstanceType: name,
				Region:       region,
				PricePerHour: price,
				VCPU:         spec.vcpu,
				RAMGB:        spec.ramGB,
			}
		}
	}

	quotes := make([]Quote, 0, len(best))
	for _, q := range best {
		quotes = append(quotes, q)
	}
	return quotes, nil
}
