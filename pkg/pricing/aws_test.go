package pricing

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSpotPriceAPI struct {
	history []ec2types.SpotPrice
	err     error
}

func (f *fakeSpotPriceAPI) DescribeSpotPriceHistory(_ context.Context, _ *ec2.DescribeSpotPriceHistoryInput, _ ...func(*ec2.Options)) (*ec2.DescribeSpotPriceHistoryOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &ec2.DescribeSpotPriceHistoryOutput{SpotPriceHistory: f.history}, nil
}

func TestAWSQuotes(t *testing.T) {
	ctx := context.Background()

	t.Run("keeps lowest price per type and region", func(t *testing.T) {
		d := NewAWSDiscovery(AWSConfig{Regions: []string{"us-east-1"}}, nil)
		d.newClient = func(_ context.Context, _ string) (spotPriceAPI, error) {
			return &fakeSpotPriceAPI{history: []ec2types.SpotPrice{
				{InstanceType: ec2types.InstanceType("r5.4xlarge"), SpotPrice: aws.String("0.52")},
				{InstanceType: ec2types.InstanceType("r5.4xlarge"), SpotPrice: aws.String("0.48")},
				{InstanceType: ec2types.InstanceType("m5.8xlarge"), SpotPrice: aws.String("0.61")},
			}}, nil
		}

		quotes, err := d.Quotes(ctx, DefaultConstraints)
		require.NoError(t, err)
		require.Len(t, quotes, 2)

		byType := map[string]Quote{}
		for _, q := range quotes {
			byType[q.InstanceType] = q
		}
		assert.Equal(t, 0.48, byType["r5.4xlarge"].PricePerHour)
		assert.Equal(t, 16, byType["r5.4xlarge"].VCPU)
		assert.Equal(t, 128, byType["r5.4xlarge"].RAMGB)
		assert.Equal(t, "us-east-1", byType["r5.4xlarge"].Region)
		assert.Equal(t, 0.61, byType["m5.8xlarge"].PricePerHour)
	})

	t.Run("skips malformed and non-positive prices", func(t *testing.T) {
		d := NewAWSDiscovery(AWSConfig{Regions: []string{"us-east-1"}}, nil)
		d.newClient = func(_ context.Context, _ string) (spotPriceAPI, error) {
			return &fakeSpotPriceAPI{history: []ec2types.SpotPrice{
				{InstanceType: ec2types.InstanceType("r5.4xlarge"), SpotPrice: aws.String("not-a-number")},
				{InstanceType: ec2types.InstanceType("r5.8xlarge"), SpotPrice: aws.String("0")},
				{InstanceType: ec2types.InstanceType("m5.4xlarge"), SpotPrice: nil},
			}}, nil
		}

		quotes, err := d.Quotes(ctx, Constraints{})
		require.NoError(t, err)
		assert.Empty(t, quotes)
	})

	t.Run("a failing region does not empty the result", func(t *testing.T) {
		d := NewAWSDiscovery(AWSConfig{Regions: []string{"us-east-1", "eu-west-1"}}, nil)
		d.newClient = func(_ context.Context, region string) (spotPriceAPI, error) {
			if region == "us-east-1" {
				return &fakeSpotPriceAPI{err: errors.New("throttled")}, nil
			}
			return &fakeSpotPriceAPI{history: []ec2types.SpotPrice{
				{InstanceType: ec2types.InstanceType("r6i.4xlarge"), SpotPrice: aws.String("0.44")},
			}}, nil
		}

		quotes, err := d.Quotes(ctx, DefaultConstraints)
		require.NoError(t, err)
		require.Len(t, quotes, 1)
		assert.Equal(t, "eu-west-1", quotes[0].Region)
	})

	t.Run("no matching instance types", func(t *testing.T) {
		d := NewAWSDiscovery(AWSConfig{Regions: []string{"us-east-1"}}, nil)
		d.newClient = func(_ context.Context, _ string) (spotPriceAPI, error) {
			t.Fatal("client should not be built when nothing matches")
			return nil, nil
		}

		quotes, err := d.Quotes(ctx, Constraints{MinVCPU: 1024})
		require.NoError(t, err)
		assert.Empty(t, quotes)
	})
}
