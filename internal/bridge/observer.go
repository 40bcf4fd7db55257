package bridge

import (
	"errors"
	"time"

	"github.com/mattjoyce/tether/internal/correlate"
	"github.com/mattjoyce/tether/internal/protocol"
)

// Outcome status values.
const (
	StatusOK      = "ok"
	StatusError   = "error"
	StatusTimeout = "timeout"
	StatusExited  = "exited"
	StatusFailed  = "failed"
)

// Outcome summarizes one completed request.
type Outcome struct {
	ID          string        `json:"id"`
	Kind        protocol.Kind `json:"type"`
	Status      string        `json:"status"`
	Error       string        `json:"error,omitempty"`
	WorkerPID   int           `json:"worker_pid,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
}

// Duration is the time from send to completion.
func (o Outcome) Duration() time.Duration {
	return o.CompletedAt.Sub(o.StartedAt)
}

// Observer is notified of request outcomes and health transitions.
// Calls are made synchronously; implementations must not block for long.
type Observer interface {
	RequestCompleted(Outcome)
	HealthChanged(Health)
}

func newOutcome(req *protocol.Request, pid int, start time.Time, r result) Outcome {
	out := Outcome{
		ID:          req.ID,
		Kind:        req.Type,
		WorkerPID:   pid,
		StartedAt:   start,
		CompletedAt: time.Now(),
	}

	var terr *correlate.TimeoutError
	switch {
	case r.err == nil && r.resp != nil && r.resp.OK:
		out.Status = StatusOK
	case r.err == nil && r.resp != nil:
		out.Status = StatusError
		out.Error = r.resp.Err().Error()
	case errors.As(r.err, &terr):
		out.Status = StatusTimeout
		out.Error = r.err.Error()
	case errors.Is(r.err, ErrWorkerExited):
		out.Status = StatusExited
		out.Error = r.err.Error()
	default:
		out.Status = StatusFailed
		if r.err != nil {
			out.Error = r.err.Error()
		}
	}
	return out
}
