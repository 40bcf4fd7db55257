package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/mattjoyce/tether/internal/bridge"
	"github.com/mattjoyce/tether/internal/correlate"
	"github.com/mattjoyce/tether/internal/journal"
	"github.com/mattjoyce/tether/internal/protocol"
)

// maxLoginBody bounds POST /login bodies.
const maxLoginBody = 64 << 10

// handleHealthz handles GET /healthz (no auth). It reports the API process,
// not the worker; the worker state is informational.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Worker:        s.sidecar.Status().State,
	})
}

// handleStatus handles GET /status.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, StatusResponse{
		Health:    s.sidecar.Status(),
		Running:   s.sidecar.Running(),
		WorkerPID: s.sidecar.WorkerPID(),
		Pending:   s.sidecar.Pending(),
	})
}

// handleScan handles POST /scan.
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	res, err := s.sidecar.ScanNFC(r.Context())
	if err != nil {
		s.writeBridgeError(w, r, "scan", err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// handleLogin handles POST /login.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxLoginBody))
	if err := dec.Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	res, err := s.sidecar.Login(r.Context(), req.User, req.Pass)
	if err != nil {
		s.writeBridgeError(w, r, "login", err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// handleHistory handles GET /history?limit=N.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeError(w, http.StatusServiceUnavailable, "request journal disabled")
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	entries, err := s.history.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to read request history", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to read request history")
		return
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	respondJSON(w, http.StatusOK, HistoryResponse{Entries: entries})
}

// writeBridgeError maps bridge failures onto HTTP statuses. The message is
// the bridge's own text so callers see what the worker or bridge said.
func (s *Server) writeBridgeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	var (
		status = http.StatusInternalServerError
		code   = CodeInternal
		terr   *correlate.TimeoutError
		werr   *protocol.WorkerError
	)
	switch {
	case errors.Is(err, bridge.ErrNotRunning):
		status, code = http.StatusServiceUnavailable, CodeNotRunning
	case errors.As(err, &terr):
		status, code = http.StatusGatewayTimeout, CodeTimeout
	case errors.As(err, &werr):
		status, code = http.StatusUnprocessableEntity, CodeWorkerError
	case errors.Is(err, bridge.ErrWorkerExited):
		status, code = http.StatusBadGateway, CodeWorkerExited
	case r.Context().Err() != nil && errors.Is(err, r.Context().Err()):
		// Client went away; nothing useful to send.
		return
	}

	if status >= http.StatusInternalServerError {
		s.logger.Warn("bridge call failed", "op", op, "error", err, "code", code)
	}
	respondJSON(w, status, ErrorResponse{Error: err.Error(), Code: code})
}

func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
