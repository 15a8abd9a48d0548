package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Recording helpers. Instruments are nil until InitOTEL has run, so
// every helper is a no-op in that case (library use, unit tests).

func RecordLaunchSubmitted(ctx context.Context, worker string, spot bool) {
	if LaunchesSubmitted == nil {
		return
	}
	LaunchesSubmitted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("worker", worker),
		attribute.Bool("spot", spot),
	))
}

func RecordLaunchFailed(ctx context.Context, worker string) {
	if LaunchesFailed == nil {
		return
	}
	LaunchesFailed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("worker", worker),
	))
}

func RecordSpotRejection(ctx context.Context, worker string) {
	if SpotRejections == nil {
		return
	}
	SpotRejections.Add(ctx, 1, metric.WithAttributes(
		attribute.String("worker", worker),
	))
}

func RecordWorkerReaped(ctx context.Context, worker string) {
	if WorkersReaped == nil {
		return
	}
	WorkersReaped.Add(ctx, 1, metric.WithAttributes(
		attribute.String("worker", worker),
	))
}

func RecordLaunchDuration(ctx context.Context, worker string, d time.Duration) {
	if LaunchDuration == nil {
		return
	}
	LaunchDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("worker", worker),
	))
}

func RecordWorkersLive(ctx context.Context, n int64) {
	if WorkersLive == nil {
		return
	}
	WorkersLive.Record(ctx, n)
}
