// Package api serves the power switch HTTP endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/riandyrn/otelchi"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/metric"

	provideraws "github.com/yairfalse/powerswitch/internal/provider/aws"
	"github.com/yairfalse/powerswitch/pkg/instance"
)

const maxBodyBytes = 1 << 20

// PowerHandler is the transition logic behind the HTTP routes.
type PowerHandler interface {
	Transition(ctx context.Context, direction instance.Direction, requested []string, callerAddress string) (instance.TransitionResult, error)
	Info(ctx context.Context, ids []string) (map[string]instance.Record, error)
}

// Options configure the HTTP server.
type Options struct {
	// ServiceName names spans created by the tracing middleware.
	ServiceName string
	// Tracing enables otelchi request spans.
	Tracing bool
	// Meter records HTTP metrics. Nil disables them.
	Meter metric.Meter
}

// Server routes HTTP requests to a PowerHandler.
type Server struct {
	power  PowerHandler
	router chi.Router
}

// NewServer builds the router.
func NewServer(power PowerHandler, opts Options) (*Server, error) {
	s := &Server{power: power}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	if opts.Tracing {
		r.Use(otelchi.Middleware(opts.ServiceName, otelchi.WithChiRoutes(r)))
	}

	if opts.Meter != nil {
		httpMetrics, err := NewHTTPMetrics(opts.Meter)
		if err != nil {
			return nil, fmt.Errorf("create http metrics: %w", err)
		}
		r.Use(httpMetrics.Middleware)
	}

	r.Use(AccessLog)

	r.NotFound(s.notFound)
	r.MethodNotAllowed(s.methodNotAllowed)

	r.Get("/healthz", s.healthz)
	r.Get("/ec2", s.root)
	r.Post("/ec2/poweron", s.powerOn)
	r.Post("/ec2/poweroff", s.powerOff)
	r.Get("/ec2/info", s.info)

	s.router = r
	return s, nil
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

type powerRequest struct {
	InstanceIDs []string `json:"instance_ids"`
	MyIP        string   `json:"myip"`
}

type powerResponse struct {
	Message string   `json:"message"`
	Targets []string `json:"targets"`
}

type instanceInfo struct {
	PublicIPAddress *string  `json:"PublicIpAddress"`
	SecurityGroups  []string `json:"SecurityGroups"`
}

type infoResponse struct {
	Message string                  `json:"message"`
	Targets map[string]instanceInfo `json:"targets,omitempty"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) powerOn(w http.ResponseWriter, r *http.Request) {
	req := decodePowerRequest(r)

	message := "OK"
	if req.MyIP == "" {
		message = "OK, but doesn't set sg."
	}

	targets := s.transition(r.Context(), instance.PowerOn, req)
	writeJSON(w, http.StatusOK, powerResponse{Message: message, Targets: targets})
}

func (s *Server) powerOff(w http.ResponseWriter, r *http.Request) {
	req := decodePowerRequest(r)
	req.MyIP = ""

	targets := s.transition(r.Context(), instance.PowerOff, req)
	writeJSON(w, http.StatusOK, powerResponse{Message: "OK", Targets: targets})
}

// transition runs the handler and suppresses provider failures into an
// empty target list. Callers inspect targets, not the status code.
func (s *Server) transition(ctx context.Context, direction instance.Direction, req powerRequest) []string {
	result, err := s.power.Transition(ctx, direction, req.InstanceIDs, req.MyIP)
	if err != nil {
		log.Error().Ctx(ctx).
			Err(err).
			Str("direction", string(direction)).
			Str("aws_error_code", provideraws.ErrorCode(err)).
			Strs("instance_ids", req.InstanceIDs).
			Msg("power transition failed")
		return []string{}
	}
	if result.Targets == nil {
		return []string{}
	}
	return result.Targets
}

func (s *Server) info(w http.ResponseWriter, r *http.Request) {
	ids := r.URL.Query()["instance_id"]

	records, err := s.power.Info(r.Context(), ids)
	if err != nil {
		log.Error().Ctx(r.Context()).
			Err(err).
			Str("aws_error_code", provideraws.ErrorCode(err)).
			Strs("instance_ids", ids).
			Msg("describe instances failed")
		writeJSON(w, http.StatusOK, infoResponse{Message: "OK"})
		return
	}

	resp := infoResponse{Message: "OK"}
	if len(ids) > 0 {
		resp.Targets = make(map[string]instanceInfo, len(records))
		for id, rec := range records {
			groups := rec.SecurityGroupIDs
			if groups == nil {
				groups = []string{}
			}
			resp.Targets[id] = instanceInfo{PublicIPAddress: rec.PublicAddress, SecurityGroups: groups}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) root(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, messageResponse{Message: "Hello from root!"})
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) notFound(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusNotFound, errorResponse{Error: "Not found!"})
}

func (s *Server) methodNotAllowed(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "Method not allowed!"})
}

// decodePowerRequest parses the body. A missing or malformed body is an
// empty request.
func decodePowerRequest(r *http.Request) powerRequest {
	var req powerRequest
	if r.Body == nil {
		return req
	}
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req)
	if err != nil && !errors.Is(err, io.EOF) {
		log.Warn().Ctx(r.Context()).Err(err).Msg("malformed request body, treating as empty")
		return powerRequest{}
	}
	return req
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("write response")
	}
}
