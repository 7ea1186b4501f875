package httpserver

import (
	"net/http"
	"strings"
	"time"

	"github.com/tokligence/ragflow-pipeline/internal/health"
	"github.com/tokligence/ragflow-pipeline/internal/httpserver/protocol"
	"github.com/tokligence/ragflow-pipeline/internal/version"
)

type healthEndpoint struct {
	server *Server
}

func newHealthEndpoint(server *Server) protocol.Endpoint {
	return &healthEndpoint{server: server}
}

func (e *healthEndpoint) Name() string { return "health" }

func (e *healthEndpoint) Routes() []protocol.EndpointRoute {
	return []protocol.EndpointRoute{
		{Method: http.MethodGet, Path: "/health", Handler: http.HandlerFunc(e.server.HandleHealth)},
	}
}

// HandleHealth reports liveness. With ?deep=1 and a configured checker it
// also probes the session store and the backend; an unhealthy result
// answers 503.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{
		"status":   "ok",
		"time":     time.Now().UTC().Format(time.RFC3339),
		"uptime_s": int64(time.Since(s.started).Seconds()),
		"pipeline": s.pipeline.ID(),
		"version":  version.Info(),
	}
	status := http.StatusOK
	if s.health != nil && isTruthy(r.URL.Query().Get("deep")) {
		checks := s.health.Check(r.Context())
		payload["checks"] = checks
		if checks.Status == health.StatusUnhealthy {
			payload["status"] = string(checks.Status)
			status = http.StatusServiceUnavailable
		}
	}
	s.respondJSON(w, status, payload)
}

func isTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes":
		return true
	}
	return false
}
