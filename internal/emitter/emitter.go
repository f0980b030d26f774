// Package emitter publishes power transition outcomes to logs and metrics.
package emitter

import (
	"context"
	"errors"

	"github.com/yairfalse/powerswitch/pkg/instance"
)

// Emitter publishes the outcome of one power transition.
type Emitter interface {
	// Emit records result. Implementations must not block the request path.
	Emit(ctx context.Context, result instance.TransitionResult) error

	// Close releases backend resources.
	Close() error
}

// MultiEmitter fans out to multiple emitters.
type MultiEmitter struct {
	emitters []Emitter
}

// NewMultiEmitter creates an emitter that sends to every backend.
func NewMultiEmitter(emitters ...Emitter) *MultiEmitter {
	return &MultiEmitter{emitters: emitters}
}

// Emit sends to every emitter, even after one fails, and joins the errors.
func (m *MultiEmitter) Emit(ctx context.Context, result instance.TransitionResult) error {
	var errs []error
	for _, e := range m.emitters {
		if err := e.Emit(ctx, result); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every emitter and joins the errors.
func (m *MultiEmitter) Close() error {
	var errs []error
	for _, e := range m.emitters {
		if err := e.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
