package provision

import (
	"context"
	"time"

	"github.com/forgeline/latentpool/journal"
	"github.com/forgeline/latentpool/providers"
	"github.com/forgeline/latentpool/telemetry"
	"github.com/forgeline/latentpool/types"
)

// Launcher composes and submits one provider launch request per call.
// It holds no per-launch state; distinct specs may launch concurrently.
type Launcher struct {
	provider providers.Provider
	logger   *telemetry.Logger
	journal  *journal.Journal
}

// NewLauncher creates a launcher backed by the given provider. The
// journal is optional.
func NewLauncher(provider providers.Provider, logger *telemetry.Logger, jnl *journal.Journal) *Launcher {
	if logger == nil {
		logger = telemetry.NewLogger("launcher")
	}
	return &Launcher{provider: provider, logger: logger, journal: jnl}
}

// addressAssociation is the journal payload for an associated entry.
type addressAssociation struct {
	InstanceID string `json:"instance_id"`
	Address    string `json:"address"`
}

// Launch submits the request derived from the normalized spec and the
// resolved image, then applies the post-creation steps: tagging, volume
// attachment, elastic IP association. A failure after the instance
// exists terminates it so no orphaned capacity is left behind.
func (l *Launcher) Launch(ctx context.Context, spec NormalizedSpec, image types.Image, volumes []types.VolumeSpec) (*types.LaunchResult, error) {
	started := time.Now()

	req := buildRequest(spec, image, volumes)

	telemetry.RecordLaunchSubmitted(ctx, spec.Name, spec.Pricing.Spot)
	l.logger.LogLaunchSubmitted(ctx, spec.Name, image.ID, spec.Pricing.Spot, spec.Pricing.MaxSpotPrice)

	var instance *types.Instance
	var err error
	if spec.Pricing.Spot {
		instance, err = l.launchSpot(ctx, spec, req)
	} else {
		instance, err = l.provider.CreateInstance(ctx, req)
		if err != nil {
			err = &LaunchError{Op: "create instance", Err: err}
		}
	}
	if err != nil {
		telemetry.RecordLaunchFailed(ctx, spec.Name)
		return nil, err
	}

	if err := l.finishLaunch(ctx, spec, instance); err != nil {
		telemetry.RecordLaunchFailed(ctx, spec.Name)
		return nil, err
	}

	result := &types.LaunchResult{
		InstanceID: instance.ID,
		ImageID:    image.ID,
		StartTime:  time.Since(started),
	}
	telemetry.RecordLaunchDuration(ctx, spec.Name, result.StartTime)
	l.logger.LogLaunchComplete(ctx, spec.Name, *result)
	return result, nil
}

// buildRequest derives the provider request. A subnet id selects VPC
// mode: subnet plus group ids, never a group name. Otherwise classic
// mode: group name only.
func buildRequest(spec NormalizedSpec, image types.Image, volumes []types.VolumeSpec) providers.LaunchRequest {
	req := providers.LaunchRequest{
		ImageID:      image.ID,
		InstanceType: spec.InstanceType,
		KeypairName:  spec.KeypairName,
		Volumes:      volumes,
	}

	if spec.SubnetID != "" {
		req.SubnetID = spec.SubnetID
		req.SecurityGroupIDs = spec.SecurityGroupIDs
	} else if len(spec.SecurityGroupIDs) > 0 {
		req.SecurityGroupIDs = spec.SecurityGroupIDs
	} else {
		req.SecurityGroupName = spec.SecurityName
	}

	return req
}

// finishLaunch runs the post-creation steps against a live instance.
// Each is a distinct provider round trip and a distinct failure point.
// Tagging works on a pending instance; volume attachment and address
// association only happen once the instance is running.
func (l *Launcher) finishLaunch(ctx context.Context, spec NormalizedSpec, instance *types.Instance) error {
	// An empty tag set means no tagging call at all.
	if len(spec.Tags) > 0 {
		if err := l.provider.CreateTags(ctx, instance.ID, spec.Tags); err != nil {
			return l.abandon(ctx, instance.ID, &LaunchError{Op: "create tags", Err: err})
		}
	}

	if len(spec.AttachVolumes) > 0 || spec.ElasticIP != "" {
		running, err := l.provider.WaitForRunning(ctx, instance.ID)
		if err != nil {
			return l.abandon(ctx, instance.ID, &LaunchError{Op: "wait for running", Err: err})
		}
		instance = running
	}

	for _, att := range spec.AttachVolumes {
		if err := l.provider.AttachVolume(ctx, instance.ID, att.VolumeID, att.Device); err != nil {
			return l.abandon(ctx, instance.ID, &LaunchError{Op: "attach volume " + att.VolumeID, Err: err})
		}
	}

	if spec.ElasticIP != "" {
		if err := l.provider.AssociateAddress(ctx, instance.ID, spec.ElasticIP); err != nil {
			return l.abandon(ctx, instance.ID, &LaunchError{Op: "associate address", Err: err})
		}
		l.journalAppend(journal.EntryAssociated, spec.Name, addressAssociation{
			InstanceID: instance.ID,
			Address:    spec.ElasticIP,
		})
	}

	return nil
}

func (l *Launcher) journalAppend(entryType journal.EntryType, worker string, data interface{}) {
	if l.journal == nil {
		return
	}
	if err := l.journal.Append(entryType, worker, data); err != nil {
		l.logger.Error().Err(err).Str("worker", worker).Msg("journal append failed")
	}
}

func (l *Launcher) journalError(entryType journal.EntryType, worker string, data interface{}, cause error) {
	if l.journal == nil {
		return
	}
	if err := l.journal.AppendError(entryType, worker, data, cause); err != nil {
		l.logger.Error().Err(err).Str("worker", worker).Msg("journal append failed")
	}
}

// abandon terminates a partially created instance and returns the
// original launch error. Termination failures are logged, not returned;
// the launch error is the actionable one.
func (l *Launcher) abandon(ctx context.Context, instanceID string, launchErr error) error {
	if err := l.provider.TerminateInstance(ctx, instanceID); err != nil {
		l.logger.WithContext(ctx).Error().
			Err(err).
			Str("instance_id", instanceID).
			Msg("failed to terminate partially created instance")
	}
	return launchErr
}
