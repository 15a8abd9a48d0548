// Package reaper reclaims workers that have sat idle past the
// configured grace period. Latent workers cost money from the moment
// they launch, so an idle worker is a worker that should not exist.
package reaper

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/forgeline/latentpool/registry"
	"github.com/forgeline/latentpool/telemetry"
)

// Terminator is the slice of the provisioner the reaper needs.
type Terminator interface {
	Terminate(ctx context.Context, instanceID string) error
}

// Config holds reaper configuration
type Config struct {
	Interval    time.Duration
	IdleTimeout time.Duration
}

// Reaper sweeps the registry on an interval and terminates workers
// whose idle time exceeds the timeout.
type Reaper struct {
	registry    *registry.Registry
	terminator  Terminator
	logger      *telemetry.Logger
	interval    time.Duration
	idleTimeout time.Duration
	sweepCount  atomic.Int64
	reapedCount atomic.Int64
}

// New creates a reaper over the given registry.
func New(reg *registry.Registry, terminator Terminator, logger *telemetry.Logger, config Config) *Reaper {
	interval := config.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	idleTimeout := config.IdleTimeout
	if idleTimeout <= 0 {
		idleTimeout = 10 * time.Minute
	}
	return &Reaper{
		registry:    reg,
		terminator:  terminator,
		logger:      logger,
		interval:    interval,
		idleTimeout: idleTimeout,
	}
}

// Run sweeps until the context is cancelled.
func (r *Reaper) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep terminates every worker idle past the timeout. Termination
// failures are logged and retried on the next sweep.
func (r *Reaper) Sweep(ctx context.Context) int {
	r.sweepCount.Add(1)

	idle := r.registry.ListIdle(time.Now(), r.idleTimeout)
	reaped := 0
	for _, worker := range idle {
		if err := r.terminator.Terminate(ctx, worker.InstanceID); err != nil {
			if r.logger != nil {
				r.logger.Error().
					Err(err).
					Str("instance_id", worker.InstanceID).
					Str("worker", worker.Worker).
					Msg("failed to reap idle worker")
			}
			continue
		}

		reaped++
		r.reapedCount.Add(1)
		telemetry.RecordWorkerReaped(ctx, worker.Worker)
		if r.logger != nil {
			r.logger.Info().
				Str("instance_id", worker.InstanceID).
				Str("worker", worker.Worker).
				Dur("idle", worker.IdleFor(time.Now())).
				Msg("reaped idle worker")
		}
	}
	return reaped
}

// SweepCount returns total sweeps run.
func (r *Reaper) SweepCount() int64 {
	return r.sweepCount.Load()
}

// ReapedCount returns total workers reclaimed.
func (r *Reaper) ReapedCount() int64 {
	return r.reapedCount.Load()
}
