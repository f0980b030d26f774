package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/yairfalse/powerswitch/internal/config"
	"github.com/yairfalse/powerswitch/internal/emitter"
	"github.com/yairfalse/powerswitch/internal/filter"
	"github.com/yairfalse/powerswitch/internal/ingress"
	"github.com/yairfalse/powerswitch/internal/power"
	provideraws "github.com/yairfalse/powerswitch/internal/provider/aws"
	"github.com/yairfalse/powerswitch/internal/telemetry"
)

// app holds the components shared by every command.
type app struct {
	cfg       *config.Config
	telemetry *telemetry.Provider
	client    *provideraws.Client
	emitter   emitter.Emitter
	handler   *power.Handler
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	if err := telemetry.SetupLogging(cfg.Log); err != nil {
		return nil, fmt.Errorf("setup logging: %w", err)
	}

	tp, err := telemetry.NewProvider(ctx, cfg.OTEL)
	if err != nil {
		return nil, fmt.Errorf("setup telemetry: %w", err)
	}

	client, err := provideraws.New(ctx, provideraws.Config{
		Region:  cfg.AWS.Region,
		Profile: cfg.AWS.Profile,
	}, tp)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, fmt.Errorf("create ec2 client: %w", err)
	}

	metricsEmitter, err := emitter.NewMetricsEmitter(tp.Meter())
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, fmt.Errorf("create metrics emitter: %w", err)
	}
	emit := emitter.NewMultiEmitter(emitter.NewLogEmitter(nil), metricsEmitter)

	reconciler := ingress.NewReconciler(client, cfg.IngressTemplate(), cfg.IngressOptions())
	handler := power.NewHandler(client,
		power.WithFilter(filter.New(cfg.Targeting.IncludeTags, cfg.Targeting.ExcludeTags)),
		power.WithIngress(reconciler),
		power.WithEmitter(emit),
	)

	return &app{
		cfg:       cfg,
		telemetry: tp,
		client:    client,
		emitter:   emit,
		handler:   handler,
	}, nil
}

func (a *app) Close(ctx context.Context) {
	if err := a.emitter.Close(); err != nil {
		log.Warn().Err(err).Msg("close emitter")
	}
	if err := a.telemetry.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("shutdown telemetry")
	}
}
