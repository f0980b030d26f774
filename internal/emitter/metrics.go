package emitter

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/yairfalse/powerswitch/pkg/instance"
)

// MetricsEmitter records transitions as OTEL instruments.
type MetricsEmitter struct {
	transitions           metric.Int64Counter
	instancesTransitioned metric.Int64Counter
	ingressGroups         metric.Int64Counter
	duration              metric.Float64Histogram
}

// NewMetricsEmitter creates the transition instruments on meter.
func NewMetricsEmitter(meter metric.Meter) (*MetricsEmitter, error) {
	e := &MetricsEmitter{}
	var err error

	e.transitions, err = meter.Int64Counter(
		"powerswitch_transitions_total",
		metric.WithDescription("Power transition requests by direction and outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("create transitions counter: %w", err)
	}

	e.instancesTransitioned, err = meter.Int64Counter(
		"powerswitch_instances_transitioned_total",
		metric.WithDescription("Instances a start or stop call was issued for"),
	)
	if err != nil {
		return nil, fmt.Errorf("create instances_transitioned counter: %w", err)
	}

	e.ingressGroups, err = meter.Int64Counter(
		"powerswitch_ingress_groups_total",
		metric.WithDescription("Security group ingress rewrites by status"),
	)
	if err != nil {
		return nil, fmt.Errorf("create ingress_groups counter: %w", err)
	}

	e.duration, err = meter.Float64Histogram(
		"powerswitch_transition_duration_seconds",
		metric.WithDescription("Time taken to handle a power transition"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create transition_duration histogram: %w", err)
	}

	return e, nil
}

// Emit records result.
func (e *MetricsEmitter) Emit(ctx context.Context, result instance.TransitionResult) error {
	direction := attribute.String("direction", string(result.Direction))

	e.transitions.Add(ctx, 1, metric.WithAttributes(direction, attribute.String("outcome", result.Outcome())))
	e.duration.Record(ctx, result.Duration.Seconds(), metric.WithAttributes(direction))

	if n := len(result.Targets); n > 0 && result.Error == nil {
		e.instancesTransitioned.Add(ctx, int64(n), metric.WithAttributes(direction))
	}

	if ok := result.IngressGroups - result.IngressFailures; ok > 0 {
		e.ingressGroups.Add(ctx, int64(ok), metric.WithAttributes(attribute.String("status", "ok")))
	}
	if result.IngressFailures > 0 {
		e.ingressGroups.Add(ctx, int64(result.IngressFailures), metric.WithAttributes(attribute.String("status", "failed")))
	}

	return nil
}

// Close is a no-op; the meter provider owns export.
func (e *MetricsEmitter) Close() error {
	return nil
}
