package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tokligence/ragflow-pipeline/internal/httpserver/protocol"
)

type filterEndpoint struct {
	server *Server
}

func newFilterEndpoint(server *Server) protocol.Endpoint {
	return &filterEndpoint{server: server}
}

func (e *filterEndpoint) Name() string { return "filter" }

func (e *filterEndpoint) Routes() []protocol.EndpointRoute {
	return []protocol.EndpointRoute{
		{Method: http.MethodPost, Path: "/{pipelineID}/filter/inlet", Handler: http.HandlerFunc(e.server.HandleInlet)},
		{Method: http.MethodPost, Path: "/{pipelineID}/filter/outlet", Handler: http.HandlerFunc(e.server.HandleOutlet)},
	}
}

// filterRequest is the envelope the pipelines host posts to filter hooks.
type filterRequest struct {
	Body map[string]any `json:"body"`
	User map[string]any `json:"user"`
}

func (s *Server) HandleInlet(w http.ResponseWriter, r *http.Request) {
	s.handleFilter(w, r, "inlet", s.pipeline.Inlet)
}

func (s *Server) HandleOutlet(w http.ResponseWriter, r *http.Request) {
	s.handleFilter(w, r, "outlet", s.pipeline.Outlet)
}

type filterFunc func(ctx context.Context, body map[string]any, user map[string]any) (map[string]any, error)

func (s *Server) handleFilter(w http.ResponseWriter, r *http.Request, stage string, fn filterFunc) {
	if id := chi.URLParam(r, "pipelineID"); id != s.pipeline.ID() {
		s.respondError(w, http.StatusNotFound, fmt.Errorf("pipeline %s not found", id))
		return
	}
	var req filterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, fmt.Errorf("invalid %s payload: %w", stage, err))
		return
	}
	if req.Body == nil {
		s.respondError(w, http.StatusBadRequest, errors.New("body required"))
		return
	}
	out, err := fn(r.Context(), req.Body, req.User)
	if err != nil {
		s.logf("%s failed pipeline=%s: %v", stage, s.pipeline.ID(), err)
		s.respondError(w, http.StatusBadGateway, err)
		return
	}
	s.respondJSON(w, http.StatusOK, out)
}
