package server

import (
	"context"
	"net/http"
	"time"

	"github.com/teranos/nexus/api"
	"github.com/teranos/nexus/logger"
	"github.com/teranos/nexus/version"
)

// healthTimeout bounds the ledger probe behind /health
const healthTimeout = 2 * time.Second

// HandleDispatch decodes one orchestrator request and writes its envelope
func (s *Server) HandleDispatch(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	req, err := api.DecodeRequest(r.Body)
	if err != nil {
		logger.FromContext(r.Context(), s.logger).Debugw("Rejected request body", logger.FieldError, err)
		writeResponse(w, errorResponse(logger.RequestID(r.Context()), err))
		return
	}
	writeResponse(w, s.dispatcher.Dispatch(r.Context(), req))
}

// HandleHealth reports liveness and ledger reachability
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:  "ok",
		State:   s.State().String(),
		Version: version.Get().Short(),
		Clients: s.ClientCount(),
	}
	status := http.StatusOK

	if s.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()
		if err := s.health(ctx); err != nil {
			logger.FromContext(r.Context(), s.logger).Warnw("Health check failed", logger.FieldError, err)
			resp.Status = "unavailable"
			resp.Error = "ledger unreachable"
			status = http.StatusServiceUnavailable
		}
	}
	if s.State() != ServerStateRunning {
		resp.Status = "unavailable"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
