// Package aws implements the provider operation set using AWS SDK v2.
package aws

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"

	"github.com/forgeline/latentpool/providers"
	"github.com/forgeline/latentpool/types"
)

func init() {
	providers.Register("aws", func(ctx context.Context, config providers.Config) (providers.Provider, error) {
		return NewProvider(ctx, config.Region)
	})
}

// Provider implements the provider operation set against EC2.
type Provider struct {
	client EC2API
	region string
}

// NewProvider creates a provider with the default credential chain.
func NewProvider(ctx context.Context, region string) (*Provider, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewProviderWithClient(ec2.NewFromConfig(cfg), region), nil
}

// NewProviderWithClient wires an explicit client, used by tests.
func NewProviderWithClient(client EC2API, region string) *Provider {
	return &Provider{client: client, region: region}
}

// Name returns the provider name
func (p *Provider) Name() string { return "aws" }

// Region returns the AWS region
func (p *Provider) Region() string { return p.region }

// CreateInstance launches one on-demand instance.
func (p *Provider) CreateInstance(ctx context.Context, req providers.LaunchRequest) (*types.Instance, error) {
	input := &ec2.RunInstancesInput{
		ImageId:      aws.String(req.ImageID),
		InstanceType: ec2types.InstanceType(req.InstanceType),
		MinCount:     aws.Int32(1),
		MaxCount:     aws.Int32(1),
	}
	applyPlacement(input, req)

	output, err := p.client.RunInstances(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to run instance: %w", err)
	}
	if len(output.Instances) == 0 {
		return nil, fmt.Errorf("run instances returned no instance")
	}

	instance := convertInstance(output.Instances[0])
	return &instance, nil
}

// runningWaitTimeout bounds how long a launch waits for the instance
// to leave the pending state.
const runningWaitTimeout = 5 * time.Minute

// WaitForRunning polls until the instance reaches the running state
// and returns its refreshed description. RunInstances reports the
// instance as pending; address association against a pending instance
// fails or binds nothing.
func (p *Provider) WaitForRunning(ctx context.Context, instanceID string) (*types.Instance, error) {
	waiter := ec2.NewInstanceRunningWaiter(p.client)
	output, err := waiter.WaitForOutput(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{instanceID},
	}, runningWaitTimeout)
	if err != nil {
		return nil, fmt.Errorf("instance %s did not reach running state: %w", instanceID, err)
	}

	for _, reservation := range output.Reservations {
		for _, instance := range reservation.Instances {
			converted := convertInstance(instance)
			return &converted, nil
		}
	}
	return nil, fmt.Errorf("instance %s not found while waiting for running state", instanceID)
}

// applyPlacement sets keypair, network and storage fields common to
// on-demand and spot launch inputs.
func applyPlacement(input *ec2.RunInstancesInput, req providers.LaunchRequest) {
	if req.KeypairName != "" {
		input.KeyName = aws.String(req.KeypairName)
	}
	if req.SubnetID != "" {
		input.SubnetId = aws.String(req.SubnetID)
	}
	if len(req.SecurityGroupIDs) > 0 {
		input.SecurityGroupIds = req.SecurityGroupIDs
	}
	if req.SecurityGroupName != "" {
		input.SecurityGroups = []string{req.SecurityGroupName}
	}
	input.BlockDeviceMappings = convertVolumes(req.Volumes)
}

// DescribeInstances lists instances matching the filter.
func (p *Provider) DescribeInstances(ctx context.Context, filter types.InstanceFilter) ([]types.Instance, error) {
	input := &ec2.DescribeInstancesInput{}
	if len(filter.IDs) > 0 {
		input.InstanceIds = filter.IDs
	}
	if len(filter.States) > 0 {
		input.Filters = append(input.Filters, ec2types.Filter{
			Name:   aws.String("instance-state-name"),
			Values: filter.States,
		})
	}
	for k, v := range filter.Tags {
		input.Filters = append(input.Filters, ec2types.Filter{
			Name:   aws.String("tag:" + k),
			Values: []string{v},
		})
	}

	output, err := p.client.DescribeInstances(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to describe instances: %w", err)
	}

	var instances []types.Instance
	for _, reservation := range output.Reservations {
		for _, instance := range reservation.Instances {
			instances = append(instances, convertInstance(instance))
		}
	}
	return instances, nil
}

// TerminateInstance terminates one instance.
func (p *Provider) TerminateInstance(ctx context.Context, instanceID string) error {
	_, err := p.client.TerminateInstances(ctx, &ec2.TerminateInstancesInput{
		InstanceIds: []string{instanceID},
	})
	if err != nil {
		return fmt.Errorf("failed to terminate instance %s: %w", instanceID, err)
	}
	return nil
}

// DescribeImages lists catalog images matching the selector's id and
// owner criteria. Location pattern matching is done by the caller.
func (p *Provider) DescribeImages(ctx context.Context, selector types.ImageSelector) ([]types.Image, error) {
	input := &ec2.DescribeImagesInput{}
	if selector.ID != "" {
		input.ImageIds = []string{selector.ID}
	}
	if len(selector.Owners) > 0 {
		input.Owners = selector.Owners
	}

	output, err := p.client.DescribeImages(ctx, input)
	if err != nil {
		// An unknown id means "no match", which the resolver reports
		// far more usefully than a raw API error.
		switch apiErrorCode(err) {
		case "InvalidAMIID.NotFound", "InvalidAMIID.Malformed":
			return nil, nil
		}
		return nil, fmt.Errorf("failed to describe images: %w", err)
	}

	var images []types.Image
	for _, img := range output.Images {
		images = append(images, types.Image{
			ID:        aws.ToString(img.ImageId),
			OwnerID:   aws.ToString(img.OwnerId),
			Location:  aws.ToString(img.ImageLocation),
			CreatedAt: parseCreationDate(aws.ToString(img.CreationDate)),
		})
	}
	return images, nil
}

// CreateTags applies a tag batch to an instance.
func (p *Provider) CreateTags(ctx context.Context, instanceID string, tags map[string]string) error {
	var ec2Tags []ec2types.Tag
	for key, value := range tags {
		ec2Tags = append(ec2Tags, ec2types.Tag{
			Key:   aws.String(key),
			Value: aws.String(value),
		})
	}

	_, err := p.client.CreateTags(ctx, &ec2.CreateTagsInput{
		Resources: []string{instanceID},
		Tags:      ec2Tags,
	})
	if err != nil {
		return fmt.Errorf("failed to tag instance %s: %w", instanceID, err)
	}
	return nil
}

// AllocateAddress reserves a new elastic address.
func (p *Provider) AllocateAddress(ctx context.Context) (string, error) {
	output, err := p.client.AllocateAddress(ctx, &ec2.AllocateAddressInput{
		Domain: ec2types.DomainTypeVpc,
	})
	if err != nil {
		return "", fmt.Errorf("failed to allocate address: %w", err)
	}
	return aws.ToString(output.PublicIp), nil
}

// AssociateAddress binds an elastic address to a running instance.
func (p *Provider) AssociateAddress(ctx context.Context, instanceID, address string) error {
	_, err := p.client.AssociateAddress(ctx, &ec2.AssociateAddressInput{
		InstanceId: aws.String(instanceID),
		PublicIp:   aws.String(address),
	})
	if err != nil {
		return fmt.Errorf("failed to associate address %s with %s: %w", address, instanceID, err)
	}
	return nil
}

// AttachVolume binds a pre-existing volume to an instance device.
func (p *Provider) AttachVolume(ctx context.Context, instanceID, volumeID, device string) error {
	_, err := p.client.AttachVolume(ctx, &ec2.AttachVolumeInput{
		InstanceId: aws.String(instanceID),
		VolumeId:   aws.String(volumeID),
		Device:     aws.String(device),
	})
	if err != nil {
		return fmt.Errorf("failed to attach volume %s to %s: %w", volumeID, instanceID, err)
	}
	return nil
}

// CreateKeyPair registers a named keypair.
func (p *Provider) CreateKeyPair(ctx context.Context, name string) error {
	_, err := p.client.CreateKeyPair(ctx, &ec2.CreateKeyPairInput{
		KeyName: aws.String(name),
	})
	if err != nil {
		return fmt.Errorf("failed to create keypair %s: %w", name, err)
	}
	return nil
}

// CreateSecurityGroup registers a named security group.
func (p *Provider) CreateSecurityGroup(ctx context.Context, name, description, vpcID string) (string, error) {
	input := &ec2.CreateSecurityGroupInput{
		GroupName:   aws.String(name),
		Description: aws.String(description),
	}
	if vpcID != "" {
		input.VpcId = aws.String(vpcID)
	}

	output, err := p.client.CreateSecurityGroup(ctx, input)
	if err != nil {
		return "", fmt.Errorf("failed to create security group %s: %w", name, err)
	}
	return aws.ToString(output.GroupId), nil
}

// CreateVpc creates a virtual network.
func (p *Provider) CreateVpc(ctx context.Context, cidrBlock string) (string, error) {
	output, err := p.client.CreateVpc(ctx, &ec2.CreateVpcInput{
		CidrBlock: aws.String(cidrBlock),
	})
	if err != nil {
		return "", fmt.Errorf("failed to create vpc: %w", err)
	}
	return aws.ToString(output.Vpc.VpcId), nil
}

// CreateSubnet creates a subnet within a VPC.
func (p *Provider) CreateSubnet(ctx context.Context, vpcID, cidrBlock string) (string, error) {
	output, err := p.client.CreateSubnet(ctx, &ec2.CreateSubnetInput{
		VpcId:     aws.String(vpcID),
		CidrBlock: aws.String(cidrBlock),
	})
	if err != nil {
		return "", fmt.Errorf("failed to create subnet in %s: %w", vpcID, err)
	}
	return aws.ToString(output.Subnet.SubnetId), nil
}

// convertInstance maps an SDK instance onto the internal shape.
func convertInstance(instance ec2types.Instance) types.Instance {
	tags := make(map[string]string, len(instance.Tags))
	for _, tag := range instance.Tags {
		tags[aws.ToString(tag.Key)] = aws.ToString(tag.Value)
	}

	var groupIDs []string
	for _, group := range instance.SecurityGroups {
		groupIDs = append(groupIDs, aws.ToString(group.GroupId))
	}

	out := types.Instance{
		ID:               aws.ToString(instance.InstanceId),
		ImageID:          aws.ToString(instance.ImageId),
		InstanceType:     string(instance.InstanceType),
		SubnetID:         aws.ToString(instance.SubnetId),
		SecurityGroupIDs: groupIDs,
		KeyName:          aws.ToString(instance.KeyName),
		PublicIP:         aws.ToString(instance.PublicIpAddress),
		Tags:             tags,
	}
	if instance.State != nil {
		out.State = string(instance.State.Name)
	}
	if instance.LaunchTime != nil {
		out.LaunchTime = *instance.LaunchTime
	}
	return out
}

// convertVolumes maps normalized volume specs onto block device mappings.
func convertVolumes(volumes []types.VolumeSpec) []ec2types.BlockDeviceMapping {
	var mappings []ec2types.BlockDeviceMapping
	for _, vol := range volumes {
		ebs := &ec2types.EbsBlockDevice{
			DeleteOnTermination: aws.Bool(vol.DeleteOnTermination),
		}
		if vol.SizeGB > 0 {
			ebs.VolumeSize = aws.Int32(vol.SizeGB)
		}
		if vol.VolumeType != "" {
			ebs.VolumeType = ec2types.VolumeType(vol.VolumeType)
		}
		if vol.IOPS > 0 {
			ebs.Iops = aws.Int32(vol.IOPS)
		}
		mappings = append(mappings, ec2types.BlockDeviceMapping{
			DeviceName: aws.String(vol.DeviceName),
			Ebs:        ebs,
		})
	}
	return mappings
}

// parseCreationDate parses the catalog timestamp; a missing or
// malformed value becomes the zero time.
func parseCreationDate(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// apiErrorCode extracts the service error code, if any.
func apiErrorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}

var _ providers.Provider = (*Provider)(nil)
var _ providers.SetupProvider = (*Provider)(nil)
