// Package power decides which instances a power transition acts on and
// issues it.
package power

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/yairfalse/powerswitch/internal/emitter"
	"github.com/yairfalse/powerswitch/internal/filter"
	"github.com/yairfalse/powerswitch/internal/ingress"
	"github.com/yairfalse/powerswitch/pkg/instance"
)

// ErrUnknownDirection is returned for a direction other than power_on or power_off.
var ErrUnknownDirection = errors.New("unknown power direction")

// Compute is the provider surface the handler needs.
type Compute interface {
	InstancesInState(ctx context.Context, state instance.State) (map[string]instance.Record, error)
	DescribeInstances(ctx context.Context, ids []string) (map[string]instance.Record, error)
	StartInstances(ctx context.Context, ids []string) error
	StopInstances(ctx context.Context, ids []string) error
}

// IngressReconciler rewrites security group rules for a set of instances.
type IngressReconciler interface {
	Reconcile(ctx context.Context, records map[string]instance.Record, callerAddress string) (ingress.Report, error)
}

// Handler executes power transitions.
type Handler struct {
	compute Compute
	filter  *filter.Filter
	ingress IngressReconciler
	emitter emitter.Emitter
}

// Option configures a Handler.
type Option func(*Handler)

// WithFilter narrows eligible instances by tag rules.
func WithFilter(f *filter.Filter) Option {
	return func(h *Handler) { h.filter = f }
}

// WithIngress enables security group reconciliation on power-on.
func WithIngress(r IngressReconciler) Option {
	return func(h *Handler) { h.ingress = r }
}

// WithEmitter publishes every transition result.
func WithEmitter(e emitter.Emitter) Option {
	return func(h *Handler) { h.emitter = e }
}

// NewHandler creates a handler over compute.
func NewHandler(compute Compute, opts ...Option) *Handler {
	h := &Handler{
		compute: compute,
		filter:  filter.New(nil, nil),
		emitter: emitter.NewMultiEmitter(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Transition applies direction to the requested instances that are currently
// in its precondition state and returns the ids acted on. On power-on with a
// caller address, the ingress rules of every eligible instance are rewritten
// after the start call succeeds; ingress failures never fail the transition.
//
// Provider calls ignore cancellation of ctx: a revoke must always be followed
// by its authorize, or the group is left with no ingress rules.
func (h *Handler) Transition(ctx context.Context, direction instance.Direction, requested []string, callerAddress string) (instance.TransitionResult, error) {
	ctx = context.WithoutCancel(ctx)
	start := time.Now()
	result := instance.TransitionResult{
		Direction: direction,
		Requested: requested,
		Targets:   []string{},
	}

	precondition, err := direction.Precondition()
	if err != nil {
		return result, fmt.Errorf("%w: %q", ErrUnknownDirection, string(direction))
	}

	if len(requested) == 0 {
		h.emit(ctx, &result, start)
		return result, nil
	}

	records, err := h.compute.InstancesInState(ctx, precondition)
	if err != nil {
		return h.fail(ctx, &result, start, err)
	}

	eligible := h.filter.Eligible(records)
	result.Eligible = len(eligible)

	targets := h.filter.Targets(requested, eligible)
	if len(targets) == 0 {
		log.Debug().Ctx(ctx).
			Str("direction", string(direction)).
			Strs("requested", requested).
			Msg("no requested instance is eligible")
		h.emit(ctx, &result, start)
		return result, nil
	}

	if direction == instance.PowerOn {
		err = h.compute.StartInstances(ctx, targets)
	} else {
		err = h.compute.StopInstances(ctx, targets)
	}
	if err != nil {
		return h.fail(ctx, &result, start, err)
	}
	result.Targets = targets

	if direction == instance.PowerOn && callerAddress != "" && h.ingress != nil {
		report, err := h.ingress.Reconcile(ctx, eligible, callerAddress)
		if err != nil {
			log.Warn().Ctx(ctx).Err(err).Str("caller", callerAddress).Msg("ingress reconciliation skipped")
		}
		result.IngressGroups = report.Groups
		result.IngressFailures = report.Failed
	}

	h.emit(ctx, &result, start)
	return result, nil
}

// Info describes the requested instances in any state. Unknown ids are absent.
func (h *Handler) Info(ctx context.Context, ids []string) (map[string]instance.Record, error) {
	if len(ids) == 0 {
		return map[string]instance.Record{}, nil
	}
	records, err := h.compute.DescribeInstances(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("describe: %w", err)
	}
	return records, nil
}

func (h *Handler) fail(ctx context.Context, result *instance.TransitionResult, start time.Time, err error) (instance.TransitionResult, error) {
	result.Targets = []string{}
	result.Error = fmt.Errorf("%s: %w", result.Direction, err)
	h.emit(ctx, result, start)
	return *result, result.Error
}

func (h *Handler) emit(ctx context.Context, result *instance.TransitionResult, start time.Time) {
	result.Duration = time.Since(start)
	if err := h.emitter.Emit(ctx, *result); err != nil {
		log.Warn().Ctx(ctx).Err(err).Msg("emit transition result")
	}
}
