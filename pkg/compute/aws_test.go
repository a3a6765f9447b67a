package compute

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEC2 struct {
	state ec2types.InstanceStateName

	describeErr  error
	terminateErr error

	terminated []string
	cancelled  []string
}

func (f *fakeEC2) DescribeInstances(_ context.Context, params *ec2.DescribeInstancesInput, _ ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
	if f.describeErr != nil {
		return nil, f.describeErr
	}
	if f.state == "" {
		return &ec2.DescribeInstancesOutput{}, nil
	}
	return &ec2.DescribeInstancesOutput{
		Reservations: []ec2types.Reservation{{
			Instances: []ec2types.Instance{{
				InstanceId: &params.InstanceIds[0],
				State:      &ec2types.InstanceState{Name: f.state},
			}},
		}},
	}, nil
}

func (f *fakeEC2) TerminateInstances(_ context.Context, params *ec2.TerminateInstancesInput, _ ...func(*ec2.Options)) (*ec2.TerminateInstancesOutput, error) {
	if f.terminateErr != nil {
		return nil, f.terminateErr
	}
	f.terminated = append(f.terminated, params.InstanceIds...)
	return &ec2.TerminateInstancesOutput{
		TerminatingInstances: []ec2types.InstanceStateChange{{
			InstanceId:    &params.InstanceIds[0],
			PreviousState: &ec2types.InstanceState{Name: f.state},
			CurrentState:  &ec2types.InstanceState{Name: ec2types.InstanceStateNameShuttingDown},
		}},
	}, nil
}

func (f *fakeEC2) CancelSpotInstanceRequests(_ context.Context, params *ec2.CancelSpotInstanceRequestsInput, _ ...func(*ec2.Options)) (*ec2.CancelSpotInstanceRequestsOutput, error) {
	f.cancelled = append(f.cancelled, params.SpotInstanceRequestIds...)
	return &ec2.CancelSpotInstanceRequestsOutput{}, nil
}

// notFoundErr satisfies smithy.APIError the way the EC2 client reports an
// unknown instance id.
type notFoundErr struct{}

func (notFoundErr) Error() string                 { return "InvalidInstanceID.NotFound" }
func (notFoundErr) ErrorCode() string             { return "InvalidInstanceID.NotFound" }
func (notFoundErr) ErrorMessage() string          { return "The instance ID does not exist" }
func (notFoundErr) ErrorFault() smithy.ErrorFault { return smithy.FaultClient }

func newTestTerminator(fake *fakeEC2) *AWSTerminator {
	t := NewAWSTerminator("", nil)
	t.newClient = func(_ context.Context, _ string) (ec2API, error) { return fake, nil }
	return t
}

func TestTerminate(t *testing.T) {
	ctx := context.Background()

	t.Run("missing instance id", func(t *testing.T) {
		_, err := newTestTerminator(&fakeEC2{}).Terminate(ctx, "", "us-east-1")
		require.Error(t, err)
	})

	t.Run("running instance is terminated", func(t *testing.T) {
		fake := &fakeEC2{state: ec2types.InstanceStateNameRunning}
		outcome, err := newTestTerminator(fake).Terminate(ctx, "i-123", "us-east-1")
		require.NoError(t, err)
		require.NotNil(t, outcome)
		assert.Equal(t, TerminateStatusSuccess, outcome.Status)
		assert.Equal(t, "running", outcome.PreviousState)
		assert.Equal(t, "shutting-down", outcome.CurrentState)
		assert.Equal(t, []string{"i-123"}, fake.terminated)
	})

	t.Run("unknown instance id", func(t *testing.T) {
		fake := &fakeEC2{describeErr: notFoundErr{}}
		outcome, err := newTestTerminator(fake).Terminate(ctx, "i-gone", "us-east-1")
		require.NoError(t, err)
		assert.Equal(t, TerminateStatusNotFound, outcome.Status)
		assert.Empty(t, fake.terminated)
	})

	t.Run("empty reservations", func(t *testing.T) {
		fake := &fakeEC2{}
		outcome, err := newTestTerminator(fake).Terminate(ctx, "i-gone", "us-east-1")
		require.NoError(t, err)
		assert.Equal(t, TerminateStatusNotFound, outcome.Status)
	})

	t.Run("already terminated is not re-terminated", func(t *testing.T) {
		fake := &fakeEC2{state: ec2types.InstanceStateNameTerminated}
		outcome, err := newTestTerminator(fake).Terminate(ctx, "i-dead", "us-east-1")
		require.NoError(t, err)
		assert.Equal(t, TerminateStatusAlreadyTerminated, outcome.Status)
		assert.Empty(t, fake.terminated)
	})

	t.Run("terminate API failure propagates", func(t *testing.T) {
		fake := &fakeEC2{state: ec2types.InstanceStateNameRunning, terminateErr: notFoundErr{}}
		_, err := newTestTerminator(fake).Terminate(ctx, "i-123", "us-east-1")
		require.Error(t, err)
	})
}

func TestCancelSpotRequest(t *testing.T) {
	ctx := context.Background()

	t.Run("empty request id is a no-op", func(t *testing.T) {
		fake := &fakeEC2{}
		require.NoError(t, newTestTerminator(fake).CancelSpotRequest(ctx, "", "us-east-1"))
		assert.Empty(t, fake.cancelled)
	})

	t.Run("cancels the request", func(t *testing.T) {
		fake := &fakeEC2{}
		require.NoError(t, newTestTerminator(fake).CancelSpotRequest(ctx, "sir-xyz", "us-east-1"))
		assert.Equal(t, []string{"sir-xyz"}, fake.cancelled)
	})
}
