package providers

import (
	"context"
	"fmt"

	"github.com/forgeline/latentpool/types"
)

// LaunchRequest is a fully derived provider launch request. By the time
// one is built, the spec has been validated, the image resolved, and
// the volumes normalized.
type LaunchRequest struct {
	ImageID           string
	InstanceType      string
	KeypairName       string
	SecurityGroupName string
	SecurityGroupIDs  []string
	SubnetID          string
	Volumes           []types.VolumeSpec
}

// Provider is the control-plane operation set consumed by the
// provisioning engine.
type Provider interface {
	CreateInstance(ctx context.Context, req LaunchRequest) (*types.Instance, error)
	CreateSpotRequest(ctx context.Context, req LaunchRequest, bidPrice float64) (*types.Instance, error)
	// WaitForRunning blocks until the instance leaves the pending
	// state and returns its refreshed description. Volume attachment
	// and address association require a running instance.
	WaitForRunning(ctx context.Context, instanceID string) (*types.Instance, error)
	DescribeInstances(ctx context.Context, filter types.InstanceFilter) ([]types.Instance, error)
	TerminateInstance(ctx context.Context, instanceID string) error
	DescribeImages(ctx context.Context, selector types.ImageSelector) ([]types.Image, error)
	CreateTags(ctx context.Context, instanceID string, tags map[string]string) error
	AllocateAddress(ctx context.Context) (string, error)
	AssociateAddress(ctx context.Context, instanceID, address string) error
	AttachVolume(ctx context.Context, instanceID, volumeID, device string) error

	// Provider info
	Name() string
	Region() string
}

// SetupProvider covers the deployment-time operations used by setup
// tooling, never by the provisioning engine itself.
type SetupProvider interface {
	CreateKeyPair(ctx context.Context, name string) error
	CreateSecurityGroup(ctx context.Context, name, description, vpcID string) (string, error)
	CreateVpc(ctx context.Context, cidrBlock string) (string, error)
	CreateSubnet(ctx context.Context, vpcID, cidrBlock string) (string, error)
}

// RejectionReason classifies why a spot request was not fulfilled.
type RejectionReason string

const (
	// RejectionPriceTooLow means the bid was below the market-clearing
	// price. It is the only reason the engine retries.
	RejectionPriceTooLow RejectionReason = "price-too-low"
	// RejectionOther covers every other provider-side rejection.
	RejectionOther RejectionReason = "other"
)

// SpotRejection reports a rejected price-bid request. Providers return
// it from CreateSpotRequest so the engine can decide whether to re-bid.
type SpotRejection struct {
	Reason RejectionReason
	Code   string
	Bid    float64
}

func (e *SpotRejection) Error() string {
	return fmt.Sprintf("spot request rejected (%s): bid %.4f", e.Code, e.Bid)
}

// Config holds provider configuration.
type Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

// Factory creates a provider instance.
type Factory func(ctx context.Context, config Config) (Provider, error)

// Registry of available providers
var registry = make(map[string]Factory)

// Register registers a new provider factory.
func Register(name string, factory Factory) {
	registry[name] = factory
}

// Get creates a provider instance by name.
func Get(ctx context.Context, name string, config Config) (Provider, error) {
	factory, exists := registry[name]
	if !exists {
		return nil, fmt.Errorf("provider %s not found", name)
	}
	return factory(ctx, config)
}

// List returns available provider names.
func List() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	return names
}
