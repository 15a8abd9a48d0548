package aws

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/forgeline/latentpool/providers"
	"github.com/forgeline/latentpool/types"
)

const (
	spotPollInterval = 5 * time.Second
	spotPollTimeout  = 5 * time.Minute
)

// statusPriceTooLow is the status code EC2 reports when the bid is
// below the current market price.
const statusPriceTooLow = "price-too-low"

// terminalSpotStates are request states that will never fulfill.
var terminalSpotStates = map[ec2types.SpotInstanceState]bool{
	ec2types.SpotInstanceStateCancelled: true,
	ec2types.SpotInstanceStateClosed:    true,
	ec2types.SpotInstanceStateFailed:    true,
}

// CreateSpotRequest submits a one-time price-bid request and waits for
// it to fulfill. A bid below the market price returns a SpotRejection
// with reason price-too-low so the caller can re-bid.
func (p *Provider) CreateSpotRequest(ctx context.Context, req providers.LaunchRequest, bidPrice float64) (*types.Instance, error) {
	spec := &ec2types.RequestSpotLaunchSpecification{
		ImageId:      aws.String(req.ImageID),
		InstanceType: ec2types.InstanceType(req.InstanceType),
	}
	if req.KeypairName != "" {
		spec.KeyName = aws.String(req.KeypairName)
	}
	if req.SubnetID != "" {
		spec.SubnetId = aws.String(req.SubnetID)
	}
	if len(req.SecurityGroupIDs) > 0 {
		spec.SecurityGroupIds = req.SecurityGroupIDs
	}
	if req.SecurityGroupName != "" {
		spec.SecurityGroups = []string{req.SecurityGroupName}
	}
	spec.BlockDeviceMappings = convertVolumes(req.Volumes)

	output, err := p.client.RequestSpotInstances(ctx, &ec2.RequestSpotInstancesInput{
		SpotPrice:           aws.String(strconv.FormatFloat(bidPrice, 'f', -1, 64)),
		InstanceCount:       aws.Int32(1),
		Type:                ec2types.SpotInstanceTypeOneTime,
		LaunchSpecification: spec,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to request spot instance: %w", err)
	}
	if len(output.SpotInstanceRequests) == 0 {
		return nil, fmt.Errorf("spot request returned no request id")
	}

	requestID := aws.ToString(output.SpotInstanceRequests[0].SpotInstanceRequestId)
	return p.waitForSpotFulfillment(ctx, requestID, bidPrice)
}

// waitForSpotFulfillment polls the request until it fulfills, is
// rejected, or the deadline passes.
func (p *Provider) waitForSpotFulfillment(ctx context.Context, requestID string, bidPrice float64) (*types.Instance, error) {
	ctx, cancel := context.WithTimeout(ctx, spotPollTimeout)
	defer cancel()

	ticker := time.NewTicker(spotPollInterval)
	defer ticker.Stop()

	for {
		request, err := p.describeSpotRequest(ctx, requestID)
		if err != nil {
			return nil, err
		}

		code := ""
		if request.Status != nil {
			code = aws.ToString(request.Status.Code)
		}

		if code == statusPriceTooLow {
			p.cancelSpotRequest(ctx, requestID)
			return nil, &providers.SpotRejection{
				Reason: providers.RejectionPriceTooLow,
				Code:   code,
				Bid:    bidPrice,
			}
		}

		if terminalSpotStates[request.State] {
			return nil, &providers.SpotRejection{
				Reason: providers.RejectionOther,
				Code:   code,
				Bid:    bidPrice,
			}
		}

		if request.InstanceId != nil {
			return p.lookupInstance(ctx, aws.ToString(request.InstanceId))
		}

		select {
		case <-ctx.Done():
			p.cancelSpotRequest(context.WithoutCancel(ctx), requestID)
			return nil, fmt.Errorf("spot request %s not fulfilled: %w", requestID, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (p *Provider) describeSpotRequest(ctx context.Context, requestID string) (*ec2types.SpotInstanceRequest, error) {
	output, err := p.client.DescribeSpotInstanceRequests(ctx, &ec2.DescribeSpotInstanceRequestsInput{
		SpotInstanceRequestIds: []string{requestID},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to describe spot request %s: %w", requestID, err)
	}
	if len(output.SpotInstanceRequests) == 0 {
		return nil, fmt.Errorf("spot request %s not found", requestID)
	}
	return &output.SpotInstanceRequests[0], nil
}

// cancelSpotRequest is best effort; an unfulfillable request left
// behind costs nothing but clutters the console.
func (p *Provider) cancelSpotRequest(ctx context.Context, requestID string) {
	_, _ = p.client.CancelSpotInstanceRequests(ctx, &ec2.CancelSpotInstanceRequestsInput{
		SpotInstanceRequestIds: []string{requestID},
	})
}

func (p *Provider) lookupInstance(ctx context.Context, instanceID string) (*types.Instance, error) {
	instances, err := p.DescribeInstances(ctx, types.InstanceFilter{IDs: []string{instanceID}})
	if err != nil {
		return nil, err
	}
	if len(instances) == 0 {
		return nil, fmt.Errorf("spot instance %s not found after fulfillment", instanceID)
	}
	return &instances[0], nil
}
