package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/costexplorer"
	cetypes "github.com/aws/aws-sdk-go-v2/service/costexplorer/types"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"

	"github.com/3leaps/spotledger/pkg/ledger"
)

// AWSConfig configures the Cost Explorer client.
//
// Authentication follows the AWS SDK v2 default chain: explicit keys (if
// provided), environment, shared credentials/config with optional profile,
// then instance metadata.
type AWSConfig struct {
	// Profile is the AWS profile name from shared config. Empty uses the
	// default chain.
	Profile string

	// AccessKeyID/SecretAccessKey take precedence over the chain when set.
	AccessKeyID     string
	SecretAccessKey string
}

// ceAPI is the Cost Explorer surface the query needs; narrowed for tests.
type ceAPI interface {
	GetCostAndUsageWithResources(ctx context.Context, params *costexplorer.GetCostAndUsageWithResourcesInput, optFns ...func(*costexplorer.Options)) (*costexplorer.GetCostAndUsageWithResourcesOutput, error)
}

// AWSQuery retrieves spot instance cost through the Cost Explorer API.
type AWSQuery struct {
	client ceAPI
	log    *zap.Logger
}

// ceRegion is the only region Cost Explorer is served from.
const ceRegion = "us-east-1"

// NewAWSQuery builds a Cost Explorer backed Query.
func NewAWSQuery(ctx context.Context, cfg AWSConfig, log *zap.Logger) (*AWSQuery, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if log == nil {
		log = zap.NewNop()
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(ceRegion),
	}
	if cfg.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.Profile))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return &AWSQuery{
		client: costexplorer.NewFromConfig(awsCfg),
		log:    log,
	}, nil
}

// ActualCost queries daily resource-level spot usage for the instance over the
// request window. Days with zero blended cost are skipped; a window with no
// billed usage at all yields (nil, nil).
func (q *AWSQuery) ActualCost(ctx context.Context, req Request) (*Cost, error) {
	if req.InstanceID == "" {
		return nil, errors.New("instance id is required for AWS cost query")
	}

	input := &costexplorer.GetCostAndUsageWithResourcesInput{
		TimePeriod: &cetypes.DateInterval{
			Start: aws.String(req.WindowStart.Format("2006-01-02")),
			End:   aws.String(req.WindowEnd.Format("2006-01-02")),
		},
		Granularity: cetypes.GranularityDaily,
		Metrics:     []string{"BlendedCost", "UsageQuantity"},
		GroupBy: []cetypes.GroupDefinition{
			{Type: cetypes.GroupDefinitionTypeDimension, Key: aws.String("RESOURCE_ID")},
			{Type: cetypes.GroupDefinitionTypeDimension, Key: aws.String("USAGE_TYPE")},
		},
		Filter: &cetypes.Expression{
			And: []cetypes.Expression{
				{
					Dimensions: &cetypes.DimensionValues{
						Key:    cetypes.DimensionResourceId,
						Values: []string{req.InstanceID},
					},
				},
				{
					Dimensions: &cetypes.DimensionValues{
						Key:          cetypes.DimensionUsageType,
						Values:       []string{"SpotUsage"},
						MatchOptions: []cetypes.MatchOption{cetypes.MatchOptionContains},
					},
				},
			},
		},
	}

	out, err := q.client.GetCostAndUsageWithResources(ctx, input)
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			q.log.Error("Cost Explorer query failed",
				zap.String("job_id", req.JobID),
				zap.String("instance_id", req.InstanceID),
				zap.String("code", apiErr.ErrorCode()))
		}
		return nil, fmt.Errorf("cost explorer query for %s: %w", req.JobID, err)
	}

	var (
		total     float64
		breakdown []ledger.CostEntry
	)
	for _, result := range out.ResultsByTime {
		for _, group := range result.Groups {
			amount := metricAmount(group.Metrics, "BlendedCost")
			if amount <= 0 {
				continue
			}
			total += amount

			raw, _ := json.Marshal(group)
			breakdown = append(breakdown, ledger.CostEntry{
				JobID:              req.JobID,
				Provider:           ledger.ProviderAWS,
				CostType:           "spot_compute",
				Amount:             amount,
				Currency:           metricUnit(group.Metrics, "BlendedCost"),
				BillingPeriodStart: aws.ToString(result.TimePeriod.Start),
				BillingPeriodEnd:   aws.ToString(result.TimePeriod.End),
				RawData:            raw,
			})
		}
	}

	if total <= 0 {
		q.log.Warn("no cost data found for AWS instance",
			zap.String("job_id", req.JobID),
			zap.String("instance_id", req.InstanceID))
		return nil, nil
	}

	q.log.Info("retrieved AWS cost",
		zap.String("job_id", req.JobID),
		zap.Float64("total", total))
	return &Cost{Total: total, Currency: "USD", Breakdown: breakdown}, nil
}

func metricAmount(metrics map[string]cetypes.MetricValue, key string) float64 {
	mv, ok := metrics[key]
	if !ok || mv.Amount == nil {
		return 0
	}
	amount, err := strconv.ParseFloat(strings.TrimSpace(*mv.Amount), 64)
	if err != nil {
		return 0
	}
	return amount
}

func metricUnit(metrics map[string]cetypes.MetricValue, key string) string {
	mv, ok := metrics[key]
	if !ok || mv.Unit == nil || *mv.Unit == "" {
		return "USD"
	}
	return *mv.Unit
}
