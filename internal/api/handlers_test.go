package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/tether/internal/api/mocks"
	"github.com/mattjoyce/tether/internal/auth"
	"github.com/mattjoyce/tether/internal/bridge"
	"github.com/mattjoyce/tether/internal/correlate"
	"github.com/mattjoyce/tether/internal/events"
	"github.com/mattjoyce/tether/internal/journal"
	"github.com/mattjoyce/tether/internal/protocol"
)

// fakeHistory implements HistoryReader for testing.
type fakeHistory struct {
	entries []journal.Entry
	err     error
	limit   int
}

func (f *fakeHistory) Recent(ctx context.Context, limit int) ([]journal.Entry, error) {
	f.limit = limit
	return f.entries, f.err
}

var testTokens = []auth.TokenConfig{
	{Token: "reader", Scopes: []string{auth.ScopeStatusRO}},
	{Token: "operator", Scopes: []string{auth.ScopeWorkerRW}},
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, tokens []auth.TokenConfig) (*Server, *mocks.MockSidecar, *fakeHistory, *events.Hub) {
	t.Helper()
	ctrl := gomock.NewController(t)
	sidecar := mocks.NewMockSidecar(ctrl)
	history := &fakeHistory{}
	hub := events.NewHub(10)
	s := New(Config{Listen: "127.0.0.1:0", Tokens: tokens}, sidecar, history, hub, discardLogger())
	return s, sidecar, history, hub
}

func do(t *testing.T, s *Server, method, path, token string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	return rr
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), "body: %s", rr.Body.String())
	return out
}

func TestHealthzNoAuth(t *testing.T) {
	s, sidecar, _, _ := newTestServer(t, testTokens)
	sidecar.EXPECT().Status().Return(bridge.Health{State: bridge.HealthHealthy})

	rr := do(t, s, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	resp := decodeBody[HealthzResponse](t, rr)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, bridge.HealthHealthy, resp.Worker)
}

func TestStatus(t *testing.T) {
	s, sidecar, _, _ := newTestServer(t, testTokens)
	health := bridge.Health{State: bridge.HealthHealthy, Message: "Handshake Successful", Since: time.Now().UTC()}
	sidecar.EXPECT().Status().Return(health)
	sidecar.EXPECT().Running().Return(true)
	sidecar.EXPECT().WorkerPID().Return(4242)
	sidecar.EXPECT().Pending().Return(2)

	rr := do(t, s, http.MethodGet, "/status", "reader", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	resp := decodeBody[StatusResponse](t, rr)
	assert.Equal(t, bridge.HealthHealthy, resp.Health.State)
	assert.Equal(t, "Handshake Successful", resp.Health.Message)
	assert.True(t, resp.Running)
	assert.Equal(t, 4242, resp.WorkerPID)
	assert.Equal(t, 2, resp.Pending)
}

func TestAuth(t *testing.T) {
	s, _, _, _ := newTestServer(t, testTokens)

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		want   int
	}{
		{"missing token", http.MethodGet, "/status", "", http.StatusUnauthorized},
		{"bad token", http.MethodGet, "/status", "wrong", http.StatusUnauthorized},
		{"reader cannot scan", http.MethodPost, "/scan", "reader", http.StatusForbidden},
		{"reader cannot login", http.MethodPost, "/login", "reader", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, s, tt.method, tt.path, tt.token, nil)
			assert.Equal(t, tt.want, rr.Code)
		})
	}
}

func TestNoTokensServesAnonymous(t *testing.T) {
	s, sidecar, _, _ := newTestServer(t, nil)
	sidecar.EXPECT().ScanNFC(gomock.Any()).Return(bridge.ScanResult{ID: "04a21f00"}, nil)

	rr := do(t, s, http.MethodPost, "/scan", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "04a21f00", decodeBody[bridge.ScanResult](t, rr).ID)
}

func TestScanErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantErr  string
		wantKind string
	}{
		{
			name:     "not running",
			err:      bridge.ErrNotRunning,
			wantCode: http.StatusServiceUnavailable,
			wantErr:  "sidecar not running",
			wantKind: CodeNotRunning,
		},
		{
			name:     "timeout",
			err:      &correlate.TimeoutError{ID: "r1", Kind: protocol.KindScanNFC, Timeout: time.Second},
			wantCode: http.StatusGatewayTimeout,
			wantErr:  "Request timeout for SCAN_NFC",
			wantKind: CodeTimeout,
		},
		{
			name:     "worker error",
			err:      &protocol.WorkerError{ID: "r1", Message: "failed generating NFC ID"},
			wantCode: http.StatusUnprocessableEntity,
			wantErr:  "failed generating NFC ID",
			wantKind: CodeWorkerError,
		},
		{
			name:     "worker exited",
			err:      bridge.ErrWorkerExited,
			wantCode: http.StatusBadGateway,
			wantErr:  "worker exited before responding",
			wantKind: CodeWorkerExited,
		},
		{
			name:     "write failure",
			err:      errors.New("write to worker stdin: broken pipe"),
			wantCode: http.StatusInternalServerError,
			wantErr:  "broken pipe",
			wantKind: CodeInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, sidecar, _, _ := newTestServer(t, testTokens)
			sidecar.EXPECT().ScanNFC(gomock.Any()).Return(bridge.ScanResult{}, tt.err)

			rr := do(t, s, http.MethodPost, "/scan", "operator", nil)
			assert.Equal(t, tt.wantCode, rr.Code)

			resp := decodeBody[ErrorResponse](t, rr)
			assert.Contains(t, resp.Error, tt.wantErr)
			assert.Equal(t, tt.wantKind, resp.Code)
		})
	}
}

func TestLogin(t *testing.T) {
	s, sidecar, _, _ := newTestServer(t, testTokens)
	sidecar.EXPECT().Login(gomock.Any(), "demo", "secret").Return(bridge.LoginResult{Token: "mock.jwt.demo.1"}, nil)

	rr := do(t, s, http.MethodPost, "/login", "operator", []byte(`{"user":"demo","pass":"secret"}`))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "mock.jwt.demo.1", decodeBody[bridge.LoginResult](t, rr).Token)
}

func TestLoginBadBody(t *testing.T) {
	s, _, _, _ := newTestServer(t, testTokens)

	rr := do(t, s, http.MethodPost, "/login", "operator", []byte(`{not json`))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHistory(t *testing.T) {
	s, _, history, _ := newTestServer(t, testTokens)
	history.entries = []journal.Entry{
		{ID: "b", Type: protocol.KindLogin, Status: bridge.StatusError, Error: "invalid credentials"},
		{ID: "a", Type: protocol.KindScanNFC, Status: bridge.StatusOK},
	}

	rr := do(t, s, http.MethodGet, "/history?limit=5", "reader", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 5, history.limit)

	resp := decodeBody[HistoryResponse](t, rr)
	require.Len(t, resp.Entries, 2)
	assert.Equal(t, "b", resp.Entries[0].ID)

	rr = do(t, s, http.MethodGet, "/history?limit=abc", "reader", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHistoryEmptyIsArray(t *testing.T) {
	s, _, _, _ := newTestServer(t, testTokens)

	rr := do(t, s, http.MethodGet, "/history", "reader", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"entries":[]}`, rr.Body.String())
}

func TestHistoryDisabled(t *testing.T) {
	ctrl := gomock.NewController(t)
	s := New(Config{}, mocks.NewMockSidecar(ctrl), nil, nil, discardLogger())

	rr := do(t, s, http.MethodGet, "/history", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)

	rr = do(t, s, http.MethodGet, "/events", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestHistoryError(t *testing.T) {
	s, _, history, _ := newTestServer(t, testTokens)
	history.err = errors.New("disk I/O error")

	rr := do(t, s, http.MethodGet, "/history", "reader", nil)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.NotContains(t, rr.Body.String(), "disk I/O")
}

func TestEventsReplayAndLive(t *testing.T) {
	s, _, _, hub := newTestServer(t, testTokens)
	hub.HealthChanged(bridge.Health{State: bridge.HealthHealthy, Message: "Handshake Successful"})

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan events.Event, 4)
	client := NewClient(srv.URL, "reader")
	go func() {
		_ = client.Events(ctx, 0, func(ev events.Event) { got <- ev })
	}()

	select {
	case ev := <-got:
		assert.Equal(t, events.TypeHealthChanged, ev.Type)
		assert.Equal(t, int64(1), ev.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("replayed event not received")
	}

	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)
	hub.RequestCompleted(bridge.Outcome{ID: "r1", Kind: protocol.KindScanNFC, Status: bridge.StatusOK})

	select {
	case ev := <-got:
		assert.Equal(t, events.TypeRequestCompleted, ev.Type)
		var out bridge.Outcome
		require.NoError(t, json.Unmarshal(ev.Data, &out))
		assert.Equal(t, "r1", out.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("live event not received")
	}
}

func TestReadSSE(t *testing.T) {
	stream := strings.Join([]string{
		": keep-alive",
		"",
		"id: 7",
		"event: health.changed",
		`data: {"state":"healthy"}`,
		"",
		"id: 8",
		"",
	}, "\n")

	var got []events.Event
	require.NoError(t, ReadSSE(strings.NewReader(stream), func(ev events.Event) { got = append(got, ev) }))
	require.Len(t, got, 1)
	assert.Equal(t, int64(7), got[0].ID)
	assert.Equal(t, "health.changed", got[0].Type)
	assert.JSONEq(t, `{"state":"healthy"}`, string(got[0].Data))
}

func TestParseLastEventID(t *testing.T) {
	assert.Equal(t, int64(0), parseLastEventID(""))
	assert.Equal(t, int64(0), parseLastEventID("x"))
	assert.Equal(t, int64(0), parseLastEventID("-4"))
	assert.Equal(t, int64(12), parseLastEventID("12"))
}
