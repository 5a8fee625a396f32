package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OrchestrationMetrics tracks request outcomes, loop depth, and
// delegation results for production monitoring.
type OrchestrationMetrics struct {
	requests    metric.Int64Counter
	iterations  metric.Int64Histogram
	delegations metric.Int64Counter
}

// NewOrchestrationMetrics creates the orchestration instruments on the
// global meter.
func NewOrchestrationMetrics() (*OrchestrationMetrics, error) {
	meter := otel.Meter("gather/orchestrator")

	requests, err := meter.Int64Counter(
		"gather.requests.total",
		metric.WithDescription("Handled requests by outcome"),
	)
	if err != nil {
		return nil, err
	}
	iterations, err := meter.Int64Histogram(
		"gather.requests.iterations",
		metric.WithDescription("Planning iterations used per request"),
	)
	if err != nil {
		return nil, err
	}
	delegations, err := meter.Int64Counter(
		"gather.delegations.total",
		metric.WithDescription("Delegations by target agent and outcome"),
	)
	if err != nil {
		return nil, err
	}

	return &OrchestrationMetrics{
		requests:    requests,
		iterations:  iterations,
		delegations: delegations,
	}, nil
}

// RecordRequest records one completed request. All methods are nil-safe
// so callers can run without metrics wired.
func (m *OrchestrationMetrics) RecordRequest(ctx context.Context, iterations int, truncated, degraded bool) {
	if m == nil {
		return
	}
	outcome := "ok"
	switch {
	case truncated:
		outcome = "truncated"
	case degraded:
		outcome = "degraded"
	}
	m.requests.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	m.iterations.Record(ctx, int64(iterations))
}

// RecordDelegation records one delegation attempt outcome.
func (m *OrchestrationMetrics) RecordDelegation(ctx context.Context, agentID string, ok bool) {
	if m == nil {
		return
	}
	outcome := "completed"
	if !ok {
		outcome = "degraded"
	}
	m.delegations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("agent.id", agentID),
		attribute.String("outcome", outcome),
	))
}
