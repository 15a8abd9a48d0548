package provision

import (
	"fmt"

	"github.com/forgeline/latentpool/types"
)

// ConfigurationError reports a worker spec that can never launch:
// mutually exclusive settings or missing required fields. It is raised
// before any provider call and never retried.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid worker spec: %s", e.Reason)
	}
	return fmt.Sprintf("invalid worker spec: %s: %s", e.Field, e.Reason)
}

// ImageResolutionError reports an image selector that matched nothing
// in the catalog. Distinguishable from provider-communication failures,
// which surface as LaunchError.
type ImageResolutionError struct {
	Selector types.ImageSelector
	Reason   string
}

func (e *ImageResolutionError) Error() string {
	switch {
	case e.Selector.ID != "":
		return fmt.Sprintf("image resolution failed for id %q: %s", e.Selector.ID, e.Reason)
	case len(e.Selector.Owners) > 0:
		return fmt.Sprintf("image resolution failed for owners %v: %s", e.Selector.Owners, e.Reason)
	default:
		return fmt.Sprintf("image resolution failed for location pattern %q: %s", e.Selector.LocationPattern, e.Reason)
	}
}

// LaunchError reports a provider rejection for any reason other than a
// too-low spot bid. Fatal for the current attempt.
type LaunchError struct {
	Op  string
	Err error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch failed during %s: %v", e.Op, e.Err)
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}

// CapacityExhaustedError reports a price-bid launch that ran out of
// retries without acceptance.
type CapacityExhaustedError struct {
	Attempts int
	FinalBid float64
}

func (e *CapacityExhaustedError) Error() string {
	return fmt.Sprintf("spot capacity exhausted after %d attempt(s), final bid %.4f", e.Attempts, e.FinalBid)
}
