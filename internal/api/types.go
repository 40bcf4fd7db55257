package api

import (
	"github.com/mattjoyce/tether/internal/bridge"
	"github.com/mattjoyce/tether/internal/journal"
)

// Error codes returned in ErrorResponse.Code.
const (
	CodeNotRunning   = "not_running"
	CodeTimeout      = "timeout"
	CodeWorkerError  = "worker_error"
	CodeWorkerExited = "worker_exited"
	CodeInternal     = "internal"
)

// ErrorResponse is returned on errors.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string             `json:"status"`
	UptimeSeconds int64              `json:"uptime_seconds"`
	Worker        bridge.HealthState `json:"worker"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	Health    bridge.Health `json:"health"`
	Running   bool          `json:"running"`
	WorkerPID int           `json:"worker_pid,omitempty"`
	Pending   int           `json:"pending"`
}

// LoginRequest is the body of POST /login.
type LoginRequest struct {
	User string `json:"user"`
	Pass string `json:"pass"`
}

// HistoryResponse is returned by GET /history.
type HistoryResponse struct {
	Entries []journal.Entry `json:"entries"`
}
