package policy

import (
	"context"
	"fmt"
	"time"

	"github.com/open-policy-agent/opa/v1/rego"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/forgeline/latentpool/telemetry"
	"github.com/forgeline/latentpool/types"
)

// Engine evaluates Rego admission policies against worker specs before
// any provider call is made. It only ever answers allow or deny; it
// never executes anything.
type Engine struct {
	logger  *telemetry.Logger
	tracer  trace.Tracer
	queries map[string]rego.PreparedEvalQuery
}

// Input is the document handed to every policy.
type Input struct {
	Worker    types.WorkerSpec `json:"worker"`
	Provider  string           `json:"provider"`
	Region    string           `json:"region"`
	Timestamp time.Time        `json:"timestamp"`
}

// Result of evaluating all loaded policies.
type Result struct {
	Allowed  bool     `json:"allowed"`
	Reason   string   `json:"reason,omitempty"`
	Policies []string `json:"policies"`
}

// NewEngine creates an admission engine with no policies loaded.
// With no policies, everything is allowed.
func NewEngine() *Engine {
	return &Engine{
		logger:  telemetry.NewLogger("policy-engine"),
		tracer:  otel.Tracer("policy-engine"),
		queries: make(map[string]rego.PreparedEvalQuery),
	}
}

// LoadPolicy compiles and registers a Rego policy. Policies live under
// the data.latentpool namespace and may define `deny` rules producing
// reason strings.
func (e *Engine) LoadPolicy(ctx context.Context, name string, regoCode string) error {
	ctx, span := e.tracer.Start(ctx, "policy_engine.load_policy",
		trace.WithAttributes(attribute.String("policy.name", name)))
	defer span.End()

	query := rego.New(
		rego.Query("data.latentpool.deny"),
		rego.Module(name, regoCode),
	)

	prepared, err := query.PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("failed to compile policy %s: %w", name, err)
	}

	e.queries[name] = prepared

	e.logger.WithContext(ctx).Info().
		Str("policy_name", name).
		Msg("policy loaded")

	return nil
}

// Admit evaluates all loaded policies against the input. The first
// deny wins; an empty engine admits everything.
func (e *Engine) Admit(ctx context.Context, input Input) (Result, error) {
	ctx, span := e.tracer.Start(ctx, "policy_engine.admit",
		trace.WithAttributes(attribute.String("worker", input.Worker.Name)))
	defer span.End()

	result := Result{Allowed: true}

	for name, query := range e.queries {
		result.Policies = append(result.Policies, name)

		denials, err := e.evalDenials(ctx, query, input)
		if err != nil {
			return Result{}, fmt.Errorf("policy %s evaluation failed: %w", name, err)
		}

		if len(denials) > 0 {
			result.Allowed = false
			result.Reason = denials[0]

			e.logger.WithContext(ctx).Warn().
				Str("worker", input.Worker.Name).
				Str("policy_name", name).
				Str("reason", result.Reason).
				Msg("launch denied by policy")
			return result, nil
		}
	}

	return result, nil
}

// evalDenials collects the deny set produced by one policy.
func (e *Engine) evalDenials(ctx context.Context, query rego.PreparedEvalQuery, input Input) ([]string, error) {
	results, err := query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, err
	}

	var denials []string
	for _, res := range results {
		for _, expr := range res.Expressions {
			set, ok := expr.Value.([]interface{})
			if !ok {
				continue
			}
			for _, v := range set {
				if s, ok := v.(string); ok {
					denials = append(denials, s)
				}
			}
		}
	}
	return denials, nil
}
