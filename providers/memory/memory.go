// Package memory implements the provider operation set against
// in-process state. It backs deterministic tests and dry runs without
// a live cloud account.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/forgeline/latentpool/providers"
	"github.com/forgeline/latentpool/types"
)

func init() {
	providers.Register("memory", func(ctx context.Context, config providers.Config) (providers.Provider, error) {
		return New(config.Region), nil
	})
}

// Provider is an in-memory fake of the compute control plane.
type Provider struct {
	mu sync.Mutex

	region    string
	instances map[string]*types.Instance
	images    []types.Image
	addresses map[string]string // address -> instance id, "" = allocated
	keypairs  map[string]bool
	groups    map[string]string // name -> group id
	vpcs      map[string]bool
	subnets   map[string]string // subnet id -> vpc id
	volumes   map[string]string // volume id -> attached instance id

	nextID int

	// SpotRejections is consumed one per CreateSpotRequest call,
	// letting tests script a rejection sequence.
	SpotRejections []providers.RejectionReason

	// LastLaunch captures the most recent launch request submitted.
	LastLaunch providers.LaunchRequest
	// LastBids records every spot bid submitted, in order.
	LastBids []float64
}

// New creates an empty in-memory provider.
func New(region string) *Provider {
	return &Provider{
		region:    region,
		instances: make(map[string]*types.Instance),
		addresses: make(map[string]string),
		keypairs:  make(map[string]bool),
		groups:    make(map[string]string),
		vpcs:      make(map[string]bool),
		subnets:   make(map[string]string),
		volumes:   make(map[string]string),
	}
}

// Name returns the provider name
func (p *Provider) Name() string { return "memory" }

// Region returns the configured region
func (p *Provider) Region() string { return p.region }

// SeedImage adds a catalog entry.
func (p *Provider) SeedImage(img types.Image) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.images = append(p.images, img)
}

// SeedVolume registers an unattached volume.
func (p *Provider) SeedVolume(volumeID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.volumes[volumeID] = ""
}

// CreateInstance launches an on-demand instance.
func (p *Provider) CreateInstance(ctx context.Context, req providers.LaunchRequest) (*types.Instance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.create(req)
}

// CreateSpotRequest launches a price-bid instance, consuming any
// scripted rejection first.
func (p *Provider) CreateSpotRequest(ctx context.Context, req providers.LaunchRequest, bidPrice float64) (*types.Instance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.LastBids = append(p.LastBids, bidPrice)

	if len(p.SpotRejections) > 0 {
		reason := p.SpotRejections[0]
		p.SpotRejections = p.SpotRejections[1:]
		code := string(reason)
		return nil, &providers.SpotRejection{Reason: reason, Code: code, Bid: bidPrice}
	}

	return p.create(req)
}

// create must be called with the lock held.
func (p *Provider) create(req providers.LaunchRequest) (*types.Instance, error) {
	if req.ImageID == "" {
		return nil, fmt.Errorf("image id is required")
	}

	p.LastLaunch = req
	p.nextID++

	instance := &types.Instance{
		ID:               fmt.Sprintf("i-%08d", p.nextID),
		ImageID:          req.ImageID,
		InstanceType:     req.InstanceType,
		State:            "pending",
		SubnetID:         req.SubnetID,
		SecurityGroupIDs: req.SecurityGroupIDs,
		KeyName:          req.KeypairName,
		Tags:             map[string]string{},
		LaunchTime:       time.Now(),
	}
	p.instances[instance.ID] = instance
	return instance, nil
}

// WaitForRunning moves a pending instance to the running state and
// returns its refreshed description.
func (p *Provider) WaitForRunning(ctx context.Context, instanceID string) (*types.Instance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	instance, ok := p.instances[instanceID]
	if !ok {
		return nil, fmt.Errorf("no such instance %s", instanceID)
	}
	if instance.State == "terminated" {
		return nil, fmt.Errorf("instance %s terminated while waiting for running state", instanceID)
	}
	instance.State = "running"
	out := *instance
	return &out, nil
}

// DescribeInstances returns instances matching the filter.
func (p *Provider) DescribeInstances(ctx context.Context, filter types.InstanceFilter) ([]types.Instance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []types.Instance
	for _, instance := range p.instances {
		if instance.Matches(filter) {
			out = append(out, *instance)
		}
	}
	return out, nil
}

// TerminateInstance marks an instance terminated.
func (p *Provider) TerminateInstance(ctx context.Context, instanceID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	instance, ok := p.instances[instanceID]
	if !ok {
		return fmt.Errorf("no such instance %s", instanceID)
	}
	instance.State = "terminated"
	return nil
}

// DescribeImages returns catalog entries; owner filtering happens
// here, location patterns are the resolver's business.
func (p *Provider) DescribeImages(ctx context.Context, selector types.ImageSelector) ([]types.Image, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []types.Image
	for _, img := range p.images {
		if selector.ID != "" && img.ID != selector.ID {
			continue
		}
		if len(selector.Owners) > 0 && !containsString(selector.Owners, img.OwnerID) {
			continue
		}
		out = append(out, img)
	}
	return out, nil
}

// CreateTags applies a tag batch to an instance.
func (p *Provider) CreateTags(ctx context.Context, instanceID string, tags map[string]string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	instance, ok := p.instances[instanceID]
	if !ok {
		return fmt.Errorf("no such instance %s", instanceID)
	}
	for k, v := range tags {
		instance.Tags[k] = v
	}
	return nil
}

// AllocateAddress reserves a new elastic address.
func (p *Provider) AllocateAddress(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	address := fmt.Sprintf("203.0.113.%d", len(p.addresses)+1)
	p.addresses[address] = ""
	return address, nil
}

// AssociateAddress binds an allocated address to a running instance.
func (p *Provider) AssociateAddress(ctx context.Context, instanceID, address string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	instance, ok := p.instances[instanceID]
	if !ok {
		return fmt.Errorf("no such instance %s", instanceID)
	}
	if _, ok := p.addresses[address]; !ok {
		return fmt.Errorf("address %s not allocated", address)
	}
	p.addresses[address] = instanceID
	instance.PublicIP = address
	return nil
}

// AddressFor reports which instance an address is bound to.
func (p *Provider) AddressFor(address string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id, ok := p.addresses[address]
	return id, ok && id != ""
}

// AttachVolume binds a pre-existing volume to an instance.
func (p *Provider) AttachVolume(ctx context.Context, instanceID, volumeID, device string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.instances[instanceID]; !ok {
		return fmt.Errorf("no such instance %s", instanceID)
	}
	attached, ok := p.volumes[volumeID]
	if !ok {
		return fmt.Errorf("no such volume %s", volumeID)
	}
	if attached != "" {
		return fmt.Errorf("volume %s already attached to %s", volumeID, attached)
	}
	p.volumes[volumeID] = instanceID
	return nil
}

// VolumeAttachment reports where a volume is attached.
func (p *Provider) VolumeAttachment(volumeID string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id, ok := p.volumes[volumeID]
	return id, ok && id != ""
}

// Setup-only operations

// CreateKeyPair registers a named keypair.
func (p *Provider) CreateKeyPair(ctx context.Context, name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.keypairs[name] {
		return fmt.Errorf("keypair %s already exists", name)
	}
	p.keypairs[name] = true
	return nil
}

// CreateSecurityGroup registers a named security group.
func (p *Provider) CreateSecurityGroup(ctx context.Context, name, description, vpcID string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.groups[name]; ok {
		return "", fmt.Errorf("security group %s already exists", name)
	}
	id := fmt.Sprintf("sg-%08d", len(p.groups)+1)
	p.groups[name] = id
	return id, nil
}

// CreateVpc registers a virtual network.
func (p *Provider) CreateVpc(ctx context.Context, cidrBlock string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := fmt.Sprintf("vpc-%08d", len(p.vpcs)+1)
	p.vpcs[id] = true
	return id, nil
}

// CreateSubnet registers a subnet within a VPC.
func (p *Provider) CreateSubnet(ctx context.Context, vpcID, cidrBlock string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.vpcs[vpcID] {
		return "", fmt.Errorf("no such vpc %s", vpcID)
	}
	id := fmt.Sprintf("subnet-%08d", len(p.subnets)+1)
	p.subnets[id] = vpcID
	return id, nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
