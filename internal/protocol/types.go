package protocol

import "fmt"

// Kind names an operation understood by the worker.
type Kind string

const (
	// KindSetPID is the identify request sent once after spawn. Its payload
	// carries the host PID.
	KindSetPID  Kind = "SET_PID"
	KindScanNFC Kind = "SCAN_NFC"
	KindLogin   Kind = "LOGIN"
)

// Valid reports whether k is one of the kinds agreed with the worker.
func (k Kind) Valid() bool {
	switch k {
	case KindSetPID, KindScanNFC, KindLogin:
		return true
	}
	return false
}

// Kinds returns every kind the worker contract defines.
func Kinds() []Kind {
	return []Kind{KindSetPID, KindScanNFC, KindLogin}
}

// Request is the envelope written to the worker's stdin, one per line.
type Request struct {
	ID      string         `json:"id"`
	Type    Kind           `json:"type"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Response is the envelope read from the worker's stdout, one per line.
type Response struct {
	ID    string         `json:"id"`
	OK    bool           `json:"ok"`
	Data  map[string]any `json:"data,omitempty"`
	Error string         `json:"error,omitempty"`
}

// String returns the string value stored under key in Data, or "" when the
// key is missing. Non-string values are formatted with %v.
func (r *Response) String(key string) string {
	if r == nil || r.Data == nil {
		return ""
	}
	v, ok := r.Data[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Err returns a *WorkerError when the worker answered ok:false, nil otherwise.
func (r *Response) Err() error {
	if r == nil || r.OK {
		return nil
	}
	return &WorkerError{ID: r.ID, Message: r.Error}
}

// WorkerError is an application-level failure reported by the worker.
// It is not a bridge fault: the worker stays up and the request completed.
type WorkerError struct {
	ID      string
	Message string
}

func (e *WorkerError) Error() string {
	if e.Message == "" {
		return "worker reported failure"
	}
	return e.Message
}
