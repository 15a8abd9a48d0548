package provision

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/forgeline/latentpool/journal"
	"github.com/forgeline/latentpool/policy"
	"github.com/forgeline/latentpool/providers"
	"github.com/forgeline/latentpool/registry"
	"github.com/forgeline/latentpool/telemetry"
	"github.com/forgeline/latentpool/types"
)

// Provisioner drives the full launch sequence for latent workers:
// validate, resolve the image, normalize storage, launch, record. It
// holds no mutable per-launch state, so distinct specs may be
// provisioned concurrently by independent callers.
type Provisioner struct {
	provider providers.Provider
	defaults Defaults
	launcher *Launcher
	logger   *telemetry.Logger
	tracer   trace.Tracer

	// Optional collaborators
	journal  *journal.Journal
	registry *registry.Registry
	policy   *policy.Engine
}

// Options configures optional provisioner collaborators.
type Options struct {
	Defaults Defaults
	Logger   *telemetry.Logger
	Journal  *journal.Journal
	Registry *registry.Registry
	Policy   *policy.Engine
}

// NewProvisioner creates a provisioner backed by the given provider.
func NewProvisioner(provider providers.Provider, opts Options) *Provisioner {
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewLogger("provisioner")
	}

	defaults := opts.Defaults
	if defaults.KeypairName == "" {
		defaults.KeypairName = "latent-worker"
	}
	if defaults.SecurityName == "" {
		defaults.SecurityName = "latent-worker"
	}

	return &Provisioner{
		provider: provider,
		defaults: defaults,
		launcher: NewLauncher(provider, logger, opts.Journal),
		logger:   logger,
		tracer:   otel.Tracer("provisioner"),
		journal:  opts.Journal,
		registry: opts.Registry,
		policy:   opts.Policy,
	}
}

// Launch provisions exactly one instance for the spec. Advisories are
// returned alongside the result and also logged; they never abort.
func (p *Provisioner) Launch(ctx context.Context, spec types.WorkerSpec) (*types.LaunchResult, []types.Advisory, error) {
	ctx, span := p.tracer.Start(ctx, "provisioner.launch",
		trace.WithAttributes(
			attribute.String("worker", spec.Name),
			attribute.String("instance_type", spec.InstanceType)))
	defer span.End()

	normalized, advisories, err := Validate(spec, p.defaults)
	if err != nil {
		return nil, nil, err
	}
	p.logger.LogAdvisories(ctx, spec.Name, advisories)

	if err := p.admit(ctx, normalized); err != nil {
		return nil, advisories, err
	}

	image, err := p.resolveImage(ctx, normalized.Image)
	if err != nil {
		return nil, advisories, err
	}

	volumes, err := NormalizeVolumes(normalized.Volumes)
	if err != nil {
		return nil, advisories, err
	}

	p.journalAppend(journal.EntrySubmitted, spec.Name, normalized.WorkerSpec)

	result, err := p.launcher.Launch(ctx, normalized, image, volumes)
	if err != nil {
		p.logger.LogLaunchError(ctx, spec.Name, err)
		p.journalError(spec.Name, normalized.WorkerSpec, err)
		return nil, advisories, err
	}

	p.journalAppend(journal.EntryAccepted, spec.Name, result)
	p.record(ctx, normalized, result)

	return result, advisories, nil
}

// Terminate tears down one worker and drops its registry record.
func (p *Provisioner) Terminate(ctx context.Context, instanceID string) error {
	ctx, span := p.tracer.Start(ctx, "provisioner.terminate",
		trace.WithAttributes(attribute.String("instance_id", instanceID)))
	defer span.End()

	if err := p.provider.TerminateInstance(ctx, instanceID); err != nil {
		return fmt.Errorf("failed to terminate instance %s: %w", instanceID, err)
	}

	p.journalAppend(journal.EntryTerminated, instanceID, nil)

	if p.registry != nil {
		if err := p.registry.Remove(instanceID); err != nil {
			p.logger.WithContext(ctx).Warn().
				Err(err).
				Str("instance_id", instanceID).
				Msg("terminated instance was not in registry")
		}
	}

	return nil
}

// admit runs the optional policy gate. A denial is a configuration
// problem: fatal, before any provider call, never retried.
func (p *Provisioner) admit(ctx context.Context, normalized NormalizedSpec) error {
	if p.policy == nil {
		return nil
	}

	result, err := p.policy.Admit(ctx, policy.Input{
		Worker:    normalized.WorkerSpec,
		Provider:  p.provider.Name(),
		Region:    p.provider.Region(),
		Timestamp: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("policy evaluation failed: %w", err)
	}
	if !result.Allowed {
		return &ConfigurationError{Field: "policy", Reason: result.Reason}
	}
	return nil
}

// resolveImage fetches the catalog slice for the selector and picks
// one image. Provider-communication failures surface as LaunchError,
// never as ImageResolutionError.
func (p *Provisioner) resolveImage(ctx context.Context, selector types.ImageSelector) (types.Image, error) {
	catalog, err := p.provider.DescribeImages(ctx, selector)
	if err != nil {
		return types.Image{}, &LaunchError{Op: "describe images", Err: err}
	}
	return ResolveImage(catalog, selector)
}

func (p *Provisioner) record(ctx context.Context, normalized NormalizedSpec, result *types.LaunchResult) {
	if p.registry == nil {
		return
	}

	state := registry.WorkerState{
		InstanceID: result.InstanceID,
		Worker:     normalized.Name,
		ImageID:    result.ImageID,
		Spot:       normalized.Pricing.Spot,
		ElasticIP:  normalized.ElasticIP,
		LaunchedAt: time.Now(),
	}
	if err := p.registry.Record(state); err != nil {
		// Launch already succeeded, keep going
		p.logger.WithContext(ctx).Error().
			Err(err).
			Str("instance_id", result.InstanceID).
			Msg("failed to record worker in registry")
	}
	telemetry.RecordWorkersLive(ctx, int64(len(p.registry.List())))
}

func (p *Provisioner) journalAppend(entryType journal.EntryType, worker string, data interface{}) {
	if p.journal == nil {
		return
	}
	if err := p.journal.Append(entryType, worker, data); err != nil {
		p.logger.Error().Err(err).Str("worker", worker).Msg("journal append failed")
	}
}

func (p *Provisioner) journalError(worker string, data interface{}, cause error) {
	if p.journal == nil {
		return
	}
	if err := p.journal.AppendError(journal.EntryFailed, worker, data, cause); err != nil {
		p.logger.Error().Err(err).Str("worker", worker).Msg("journal append failed")
	}
}
