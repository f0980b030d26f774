package emitter

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/yairfalse/powerswitch/pkg/instance"
)

// LogEmitter writes one structured line per transition.
type LogEmitter struct {
	logger *zerolog.Logger
}

// NewLogEmitter creates a log emitter. A nil logger uses the global one.
func NewLogEmitter(logger *zerolog.Logger) *LogEmitter {
	if logger == nil {
		logger = &log.Logger
	}
	return &LogEmitter{logger: logger}
}

// Emit logs result at info, or at error when the transition failed.
func (e *LogEmitter) Emit(ctx context.Context, result instance.TransitionResult) error {
	event := e.logger.Info()
	if result.Error != nil {
		event = e.logger.Error().Err(result.Error)
	}

	event.Ctx(ctx).
		Str("direction", string(result.Direction)).
		Str("outcome", result.Outcome()).
		Int("requested", len(result.Requested)).
		Int("eligible", result.Eligible).
		Strs("targets", result.Targets).
		Int("ingress_groups", result.IngressGroups).
		Int("ingress_failures", result.IngressFailures).
		Dur("duration", result.Duration).
		Msg("power transition")

	return nil
}

// Close is a no-op.
func (e *LogEmitter) Close() error {
	return nil
}
