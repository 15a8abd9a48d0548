package telemetry

import (
	"context"
	"os"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/forgeline/latentpool/types"
)

// OTELHook adds trace and span IDs to every log entry
type OTELHook struct{}

func (h OTELHook) Run(e *zerolog.Event, level zerolog.Level, msg string) {
	// Skip if no context
	ctx := e.GetCtx()
	if ctx == nil {
		return
	}

	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return
	}

	e.Str("trace_id", span.SpanContext().TraceID().String())
	e.Str("span_id", span.SpanContext().SpanID().String())

	if level == zerolog.ErrorLevel {
		span.SetStatus(codes.Error, msg)
	}
}

// Logger wraps zerolog with OTEL integration
type Logger struct {
	zerolog.Logger
}

// NewLogger creates a new logger with OTEL hooks
func NewLogger(service string) *Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs

	logger := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", service).
		Logger().
		Hook(OTELHook{})

	return &Logger{Logger: logger}
}

// WithContext returns a logger with context (for trace propagation)
func (l *Logger) WithContext(ctx context.Context) *zerolog.Logger {
	logger := l.Logger.With().Ctx(ctx).Logger()
	return &logger
}

// Convenience methods for the provisioning path

// LogAdvisories surfaces non-fatal validation advisories. They never
// block a launch, so they log at warn level and nothing else happens.
func (l *Logger) LogAdvisories(ctx context.Context, worker string, advisories []types.Advisory) {
	for _, a := range advisories {
		l.WithContext(ctx).Warn().
			Str("worker", worker).
			Str("field", a.Field).
			Str("default", a.Default).
			Msg(a.Message)
	}
}

func (l *Logger) LogLaunchSubmitted(ctx context.Context, worker, imageID string, spot bool, bid float64) {
	event := l.WithContext(ctx).Info().
		Str("worker", worker).
		Str("image_id", imageID).
		Bool("spot", spot)
	if spot {
		event = event.Float64("bid_price", bid)
	}
	event.Msg("launch request submitted")
}

func (l *Logger) LogSpotRejected(ctx context.Context, worker string, attempt int, bid, nextBid float64) {
	l.WithContext(ctx).Warn().
		Str("worker", worker).
		Int("attempt", attempt).
		Float64("bid_price", bid).
		Float64("next_bid_price", nextBid).
		Msg("spot bid rejected, raising price")
}

func (l *Logger) LogLaunchComplete(ctx context.Context, worker string, result types.LaunchResult) {
	l.WithContext(ctx).Info().
		Str("worker", worker).
		Str("instance_id", result.InstanceID).
		Str("image_id", result.ImageID).
		Dur("start_time", result.StartTime).
		Msg("worker launched")
}

func (l *Logger) LogLaunchError(ctx context.Context, worker string, err error) {
	l.WithContext(ctx).Error().
		Err(err).
		Str("worker", worker).
		Msg("launch failed")
}
