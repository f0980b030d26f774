package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/run"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/yairfalse/powerswitch/internal/api"
)

const shutdownTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP power switch service",
	Long: `Serve the power switch HTTP API.

Routes:
  POST /ec2/poweron   {"instance_ids": [...], "myip": "1.2.3.4"}
  POST /ec2/poweroff  {"instance_ids": [...]}
  GET  /ec2/info      ?instance_id=i-1&instance_id=i-2
  GET  /healthz

Prometheus metrics are served on a separate listener at /metrics.`,
	Example: `  powerswitch serve --config powerswitch.toml
  powerswitch serve --region eu-west-1 --debug`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		a.Close(shutdownCtx)
	}()

	srv, err := api.NewServer(a.handler, api.Options{
		ServiceName: cfg.OTEL.ServiceName,
		Tracing:     cfg.OTEL.Traces.Enabled,
		Meter:       a.telemetry.Meter(),
	})
	if err != nil {
		return fmt.Errorf("create api server: %w", err)
	}

	apiServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      srv.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	metricsServer := &http.Server{
		Addr:              cfg.Server.MetricsAddr,
		Handler:           metricsRouter(a.telemetry.MetricsHandler()),
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
	}

	var g run.Group
	g.Add(run.SignalHandler(ctx, syscall.SIGINT, syscall.SIGTERM))
	addHTTPServer(&g, "api", apiServer)
	addHTTPServer(&g, "metrics", metricsServer)

	log.Info().
		Str("region", cfg.AWS.Region).
		Str("addr", cfg.Server.Addr).
		Str("metrics_addr", cfg.Server.MetricsAddr).
		Str("version", version).
		Msg("powerswitch starting")

	err = g.Run()
	var sigErr run.SignalError
	if errors.As(err, &sigErr) {
		log.Info().Str("signal", sigErr.Signal.String()).Msg("shutting down")
		return nil
	}
	return err
}

// addHTTPServer runs srv as a group actor that shuts down gracefully when
// any other actor returns.
func addHTTPServer(g *run.Group, name string, srv *http.Server) {
	g.Add(func() error {
		ln, err := net.Listen("tcp", srv.Addr)
		if err != nil {
			return fmt.Errorf("%s listen: %w", name, err)
		}
		log.Info().Str("server", name).Str("addr", ln.Addr().String()).Msg("listening")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("%s server: %w", name, err)
		}
		return nil
	}, func(error) {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Warn().Err(err).Str("server", name).Msg("shutdown")
		}
	})
}

func metricsRouter(metrics http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Handle("/metrics", metrics)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return r
}
