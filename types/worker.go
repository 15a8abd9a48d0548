package types

import "time"

// WorkerSpec declares one latent worker slot. It is owned by the caller
// and immutable once handed to a launch call.
type WorkerSpec struct {
	Name             string            `yaml:"name" json:"name"`
	InstanceType     string            `yaml:"instance_type" json:"instance_type"`
	Image            ImageSelector     `yaml:"image" json:"image"`
	KeypairName      string            `yaml:"keypair_name,omitempty" json:"keypair_name,omitempty"`
	SecurityName     string            `yaml:"security_name,omitempty" json:"security_name,omitempty"`
	SecurityGroupIDs []string          `yaml:"security_group_ids,omitempty" json:"security_group_ids,omitempty"`
	SubnetID         string            `yaml:"subnet_id,omitempty" json:"subnet_id,omitempty"`
	Tags             map[string]string `yaml:"tags,omitempty" json:"tags,omitempty"`
	Volumes          BlockDeviceMap    `yaml:"volumes,omitempty" json:"volumes,omitempty"`
	AttachVolumes    []VolumeAttachment `yaml:"attach_volumes,omitempty" json:"attach_volumes,omitempty"`
	ElasticIP        string            `yaml:"elastic_ip,omitempty" json:"elastic_ip,omitempty"`
	Pricing          Pricing           `yaml:"pricing,omitempty" json:"pricing,omitempty"`
}

// Pricing selects on-demand or price-bid (spot) capacity.
type Pricing struct {
	Spot            bool    `yaml:"spot_instance,omitempty" json:"spot_instance,omitempty"`
	MaxSpotPrice    float64 `yaml:"max_spot_price,omitempty" json:"max_spot_price,omitempty"`
	Retry           int     `yaml:"retry,omitempty" json:"retry,omitempty"`
	PriceAdjustment float64 `yaml:"price_adjustment_factor,omitempty" json:"price_adjustment_factor,omitempty"`
}

// ImageSelector picks exactly one image: an explicit id, a set of owning
// account ids, or a pattern matched against the image location.
type ImageSelector struct {
	ID              string   `yaml:"id,omitempty" json:"id,omitempty"`
	Owners          []string `yaml:"owners,omitempty" json:"owners,omitempty"`
	LocationPattern string   `yaml:"location_pattern,omitempty" json:"location_pattern,omitempty"`
}

// IsZero reports whether no selection criterion is set.
func (s ImageSelector) IsZero() bool {
	return s.ID == "" && len(s.Owners) == 0 && s.LocationPattern == ""
}

// Image is one entry of the provider's image catalog.
type Image struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Location  string    `json:"location"`
	CreatedAt time.Time `json:"created_at"`
}

// VolumeAttachment binds a pre-existing volume to a device once the
// instance is running.
type VolumeAttachment struct {
	VolumeID string `yaml:"volume_id" json:"volume_id"`
	Device   string `yaml:"device" json:"device"`
}

// LaunchResult is returned by a successful launch call.
type LaunchResult struct {
	InstanceID string        `json:"instance_id"`
	ImageID    string        `json:"image_id"`
	StartTime  time.Duration `json:"start_time"`
}

// Advisory is a non-fatal note emitted by validation, surfaced to the
// caller's logging path.
type Advisory struct {
	Field   string `json:"field"`
	Default string `json:"default"`
	Message string `json:"message"`
}

// Instance describes a provider-side compute instance.
type Instance struct {
	ID               string            `json:"id"`
	ImageID          string            `json:"image_id"`
	InstanceType     string            `json:"instance_type"`
	State            string            `json:"state"`
	SubnetID         string            `json:"subnet_id,omitempty"`
	SecurityGroupIDs []string          `json:"security_group_ids,omitempty"`
	KeyName          string            `json:"key_name,omitempty"`
	PublicIP         string            `json:"public_ip,omitempty"`
	Tags             map[string]string `json:"tags,omitempty"`
	LaunchTime       time.Time         `json:"launch_time"`
}

// InstanceFilter selects instances for describe calls.
type InstanceFilter struct {
	IDs    []string          `json:"ids,omitempty"`
	States []string          `json:"states,omitempty"`
	Tags   map[string]string `json:"tags,omitempty"`
}

// Matches checks an instance against the filter.
func (i *Instance) Matches(filter InstanceFilter) bool {
	if len(filter.IDs) > 0 && !containsString(filter.IDs, i.ID) {
		return false
	}
	if len(filter.States) > 0 && !containsString(filter.States, i.State) {
		return false
	}
	for k, v := range filter.Tags {
		if i.Tags[k] != v {
			return false
		}
	}
	return true
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
