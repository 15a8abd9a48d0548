package provision

import (
	"fmt"

	"github.com/forgeline/latentpool/types"
)

// Defaults are the deployment-wide fallbacks substituted into a spec
// when classic-mode identity fields are left empty.
type Defaults struct {
	KeypairName  string
	SecurityName string
}

// NormalizedSpec is the output of validation: the caller's spec with
// backward-compatible defaults filled in. Volumes are normalized
// separately, see NormalizeVolumes.
type NormalizedSpec struct {
	types.WorkerSpec
}

// Validate checks a worker spec for mutually exclusive option
// combinations and fills deployment defaults. Advisories are non-fatal
// and returned for the caller to log; a ConfigurationError aborts.
func Validate(spec types.WorkerSpec, defaults Defaults) (NormalizedSpec, []types.Advisory, error) {
	var advisories []types.Advisory

	if spec.InstanceType == "" {
		return NormalizedSpec{}, nil, &ConfigurationError{Field: "instance_type", Reason: "must be set"}
	}
	if spec.Image.IsZero() {
		return NormalizedSpec{}, nil, &ConfigurationError{Field: "image", Reason: "one of id, owners, or location_pattern must be set"}
	}

	// A bare security group name is classic-mode only. Combined with a
	// subnet id the request could never be built in either mode.
	if spec.SecurityName != "" && spec.SubnetID != "" {
		return NormalizedSpec{}, nil, &ConfigurationError{
			Field:  "security_name",
			Reason: fmt.Sprintf("classic-mode security group %q cannot be combined with subnet %q; use security_group_ids", spec.SecurityName, spec.SubnetID),
		}
	}

	if err := validatePricing(spec.Pricing); err != nil {
		return NormalizedSpec{}, nil, err
	}

	normalized := spec

	if normalized.KeypairName == "" {
		normalized.KeypairName = defaults.KeypairName
		advisories = append(advisories, types.Advisory{
			Field:   "keypair_name",
			Default: defaults.KeypairName,
			Message: fmt.Sprintf("use of default value of 'keypair_name' is deprecated, set it explicitly (substituted %q)", defaults.KeypairName),
		})
	}

	// Explicit id-based security is never considered defaulted, and a
	// subnet id puts the spec in VPC mode where names are meaningless.
	if normalized.SecurityName == "" && len(normalized.SecurityGroupIDs) == 0 && normalized.SubnetID == "" {
		normalized.SecurityName = defaults.SecurityName
		advisories = append(advisories, types.Advisory{
			Field:   "security_name",
			Default: defaults.SecurityName,
			Message: fmt.Sprintf("use of default value of 'security_name' is deprecated, set it explicitly (substituted %q)", defaults.SecurityName),
		})
	}

	return NormalizedSpec{WorkerSpec: normalized}, advisories, nil
}

func validatePricing(p types.Pricing) error {
	if !p.Spot {
		if p.MaxSpotPrice != 0 || p.Retry != 0 || p.PriceAdjustment != 0 {
			return &ConfigurationError{Field: "pricing", Reason: "spot options set without spot_instance: true"}
		}
		return nil
	}
	if p.MaxSpotPrice <= 0 {
		return &ConfigurationError{Field: "max_spot_price", Reason: "must be > 0 for spot instances"}
	}
	if p.Retry < 0 {
		return &ConfigurationError{Field: "retry", Reason: "must be >= 0"}
	}
	if p.PriceAdjustment != 0 && p.PriceAdjustment <= 1.0 {
		return &ConfigurationError{Field: "price_adjustment_factor", Reason: "must be > 1.0"}
	}
	return nil
}

// retryPolicy applies the spot retry defaults: a single attempt and a
// 2% bid raise unless configured otherwise.
func retryPolicy(p types.Pricing) (limit int, factor float64) {
	limit = p.Retry
	if limit == 0 {
		limit = 1
	}
	factor = p.PriceAdjustment
	if factor == 0 {
		factor = 1.02
	}
	return limit, factor
}
