package compute

import (
	"context"
	"errors"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"
)

// ec2API is the EC2 surface the terminator needs; narrowed for tests.
type ec2API interface {
	DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
	TerminateInstances(ctx context.Context, params *ec2.TerminateInstancesInput, optFns ...func(*ec2.Options)) (*ec2.TerminateInstancesOutput, error)
	CancelSpotInstanceRequests(ctx context.Context, params *ec2.CancelSpotInstanceRequestsInput, optFns ...func(*ec2.Options)) (*ec2.CancelSpotInstanceRequestsOutput, error)
}

// AWSTerminator terminates EC2 spot instances and cancels spot requests.
type AWSTerminator struct {
	profile   string
	log       *zap.Logger
	newClient func(ctx context.Context, region string) (ec2API, error)
}

// NewAWSTerminator builds a Terminator using the default credential chain,
// optionally pinned to a shared-config profile.
func NewAWSTerminator(profile string, log *zap.Logger) *AWSTerminator {
	if log == nil {
		log = zap.NewNop()
	}
	t := &AWSTerminator{profile: profile, log: log}
	t.newClient = t.defaultClient
	return t
}

func (t *AWSTerminator) defaultClient(ctx context.Context, region string) (ec2API, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
	}
	if t.profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(t.profile))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config for %s: %w", region, err)
	}
	return ec2.NewFromConfig(awsCfg), nil
}

// Terminate checks the instance's current state before acting: an unknown
// instance or one already terminating is reported as such, not treated as a
// failure.
func (t *AWSTerminator) Terminate(ctx context.Context, instanceID, region string) (*TerminateOutcome, error) {
	if instanceID == "" {
		return nil, errors.New("instance id is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	client, err := t.newClient(ctx, region)
	if err != nil {
		return nil, err
	}

	desc, err := client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{instanceID},
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "InvalidInstanceID.NotFound" {
			return &TerminateOutcome{Status: TerminateStatusNotFound, Message: "Instance not found"}, nil
		}
		return nil, fmt.Errorf("describe instance %s: %w", instanceID, err)
	}
	if len(desc.Reservations) == 0 || len(desc.Reservations[0].Instances) == 0 {
		return &TerminateOutcome{Status: TerminateStatusNotFound, Message: "Instance not found"}, nil
	}

	state := desc.Reservations[0].Instances[0].State
	if state != nil {
		switch state.Name {
		case ec2types.InstanceStateNameTerminated, ec2types.InstanceStateNameShuttingDown:
			return &TerminateOutcome{
				Status:  TerminateStatusAlreadyTerminated,
				Message: fmt.Sprintf("Instance is already %s", state.Name),
			}, nil
		}
	}

	out, err := client.TerminateInstances(ctx, &ec2.TerminateInstancesInput{
		InstanceIds: []string{instanceID},
	})
	if err != nil {
		return nil, fmt.Errorf("terminate instance %s: %w", instanceID, err)
	}
	if len(out.TerminatingInstances) == 0 {
		return &TerminateOutcome{Status: TerminateStatusError, Message: "Failed to terminate instance"}, nil
	}

	ti := out.TerminatingInstances[0]
	outcome := &TerminateOutcome{
		Status:  TerminateStatusSuccess,
		Message: "Instance termination initiated",
	}
	if ti.PreviousState != nil {
		outcome.PreviousState = string(ti.PreviousState.Name)
	}
	if ti.CurrentState != nil {
		outcome.CurrentState = string(ti.CurrentState.Name)
	}

	t.log.Info("terminated instance",
		zap.String("instance_id", instanceID),
		zap.String("region", region))
	return outcome, nil
}

// CancelSpotRequest cancels a pending spot capacity request so a terminated
// job cannot be relaunched by the provider.
func (t *AWSTerminator) CancelSpotRequest(ctx context.Context, requestID, region string) error {
	if requestID == "" {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	client, err := t.newClient(ctx, region)
	if err != nil {
		return err
	}

	if _, err := client.CancelSpotInstanceRequests(ctx, &ec2.CancelSpotInstanceRequestsInput{
		SpotInstanceRequestIds: []string{requestID},
	}); err != nil {
		return fmt.Errorf("cancel spot request %s: %w", requestID, err)
	}

	t.log.Info("cancelled spot request", zap.String("spot_request_id", requestID))
	return nil
}
