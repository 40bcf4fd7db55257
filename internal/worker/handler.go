// Package worker implements the reference worker side of the line protocol:
// it reads requests from stdin and answers each with exactly one response.
package worker

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/mattjoyce/tether/internal/protocol"
)

// Handler answers decoded requests. Now and Rand are replaceable for tests.
type Handler struct {
	Now  func() time.Time
	Rand func([]byte) (int, error)

	// HostPID is the last PID received via SET_PID, 0 before the handshake.
	HostPID int
}

// NewHandler returns a Handler backed by the wall clock and crypto/rand.
func NewHandler() *Handler {
	return &Handler{Now: time.Now, Rand: rand.Read}
}

// Handle produces the response for one request.
func (h *Handler) Handle(req *protocol.Request) *protocol.Response {
	switch req.Type {
	case protocol.KindSetPID:
		return h.setPID(req)
	case protocol.KindScanNFC:
		return h.scanNFC(req)
	case protocol.KindLogin:
		return h.login(req)
	default:
		return errResp(req.ID, "unknown message type")
	}
}

func (h *Handler) setPID(req *protocol.Request) *protocol.Response {
	if v, ok := req.Payload["pid"]; ok {
		pid, ok := asInt(v)
		if !ok {
			return errResp(req.ID, "invalid SET_PID payload")
		}
		h.HostPID = pid
	}
	return okResp(req.ID, map[string]any{"message": "Handshake Successful"})
}

func (h *Handler) scanNFC(req *protocol.Request) *protocol.Response {
	buf := make([]byte, 4)
	if _, err := h.Rand(buf); err != nil {
		return errResp(req.ID, "failed generating NFC ID")
	}
	return okResp(req.ID, map[string]any{"id": hex.EncodeToString(buf)})
}

func (h *Handler) login(req *protocol.Request) *protocol.Response {
	if req.Payload == nil {
		return errResp(req.ID, "invalid LOGIN payload")
	}
	user, userOK := asString(req.Payload["user"])
	_, passOK := asString(req.Payload["pass"])
	if !userOK || !passOK {
		return errResp(req.ID, "invalid LOGIN payload")
	}
	token := fmt.Sprintf("mock.jwt.%s.%d", user, h.Now().UnixNano())
	return okResp(req.ID, map[string]any{"token": token})
}

func okResp(id string, data map[string]any) *protocol.Response {
	return &protocol.Response{ID: id, OK: true, Data: data}
}

func errResp(id, msg string) *protocol.Response {
	return &protocol.Response{ID: id, OK: false, Error: msg}
}

// asString accepts a missing value as "" but rejects non-strings.
func asString(v any) (string, bool) {
	if v == nil {
		return "", true
	}
	s, ok := v.(string)
	return s, ok
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), n == float64(int(n))
	case int:
		return n, true
	case nil:
		return 0, true
	}
	return 0, false
}
