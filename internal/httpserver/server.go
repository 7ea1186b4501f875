package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/tokligence/ragflow-pipeline/internal/health"
	"github.com/tokligence/ragflow-pipeline/internal/httpserver/protocol"
	"github.com/tokligence/ragflow-pipeline/internal/metrics"
	"github.com/tokligence/ragflow-pipeline/internal/translation"
)

var defaultEndpointKeys = []string{"health", "openai", "filter", "metrics"}

// Pipeline is what the HTTP layer needs from the orchestrator.
type Pipeline interface {
	ID() string
	Name() string
	Inlet(ctx context.Context, body map[string]any, user map[string]any) (map[string]any, error)
	Outlet(ctx context.Context, body map[string]any, user map[string]any) (map[string]any, error)
	Pipe(ctx context.Context, userMessage, conversationID string) (<-chan translation.Fragment, error)
}

// Server exposes the pipelines host surface over HTTP.
type Server struct {
	pipeline     Pipeline
	metrics      *metrics.Collector
	health       *health.Checker
	endpointKeys []string
	started      time.Time
	// logging
	logger   *log.Logger
	logLevel string
}

// New builds a Server for pipeline. collector may be nil.
func New(pipeline Pipeline, collector *metrics.Collector) *Server {
	return &Server{
		pipeline:     pipeline,
		metrics:      collector,
		endpointKeys: defaultEndpointKeys,
		started:      time.Now(),
		logLevel:     "info",
	}
}

// SetLogger configures server-level logger and verbosity ("debug", "info", ...).
func (s *Server) SetLogger(level string, logger *log.Logger) {
	s.logLevel = strings.ToLower(strings.TrimSpace(level))
	if logger != nil {
		s.logger = logger
	}
}

// SetHealthChecker enables dependency probes on GET /health?deep=1.
func (s *Server) SetHealthChecker(c *health.Checker) {
	s.health = c
}

// SetEndpoints restricts which endpoint groups Router registers. An empty
// list restores the defaults.
func (s *Server) SetEndpoints(keys []string) {
	if len(keys) == 0 {
		s.endpointKeys = defaultEndpointKeys
		return
	}
	s.endpointKeys = keys
}

// Router returns a configured chi router for embedding in HTTP servers.
func (s *Server) Router() http.Handler {
	r := s.newBaseRouter()
	s.registerEndpointKeys(r, s.endpointKeys...)
	return r
}

func (s *Server) newBaseRouter() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	if s.isDebug() {
		r.Use(middleware.Logger)
	}
	r.Use(middleware.Recoverer)
	r.Use(s.metricsMiddleware)
	return r
}

func (s *Server) registerEndpoints(r chi.Router, endpoints ...protocol.Endpoint) {
	for _, ep := range endpoints {
		if ep == nil {
			continue
		}
		s.debugf("registering endpoint %s", ep.Name())
		for _, route := range ep.Routes() {
			r.Method(route.Method, route.Path, route.Handler)
		}
	}
}

func (s *Server) registerEndpointKeys(r chi.Router, keys ...string) int {
	var endpoints []protocol.Endpoint
	seen := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		key = strings.ToLower(strings.TrimSpace(key))
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		if ep := s.endpointByKey(key); ep != nil {
			endpoints = append(endpoints, ep)
		} else {
			s.debugf("endpoint %s unavailable, skipping registration", key)
		}
	}
	s.registerEndpoints(r, endpoints...)
	return len(endpoints)
}

func (s *Server) endpointByKey(key string) protocol.Endpoint {
	switch key {
	case "health", "status":
		return newHealthEndpoint(s)
	case "openai", "openai_core":
		return newOpenAIEndpoint(s)
	case "filter", "pipelines":
		return newFilterEndpoint(s)
	case "metrics":
		if s.metrics == nil {
			return nil
		}
		return newMetricsEndpoint(s)
	default:
		return nil
	}
}

// metricsMiddleware counts requests by matched route pattern and status.
func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	if s.metrics == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		endpoint := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				endpoint = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.metrics.RecordRequest(endpoint, status)
	})
}

func (s *Server) isDebug() bool { return s.logLevel == "debug" }

func (s *Server) debugf(format string, args ...any) {
	if s.logger != nil && s.isDebug() {
		s.logger.Printf("DEBUG "+format, args...)
	}
}

func (s *Server) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload any) {
	if payload == nil {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) respondError(w http.ResponseWriter, status int, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	s.respondJSON(w, status, map[string]any{"error": err.Error()})
}
