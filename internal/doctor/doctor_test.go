package doctor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/mattjoyce/tether/internal/auth"
	"github.com/mattjoyce/tether/internal/bridge"
	"github.com/mattjoyce/tether/internal/config"
	"github.com/mattjoyce/tether/internal/locate"
)

// validConfig returns a config whose worker dir holds an executable for the
// current platform, pinned to its digest.
func validConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	binDir := filepath.Join(dir, "bin")
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		t.Fatal(err)
	}
	worker := filepath.Join(binDir, locate.PlatformName(runtime.GOOS, runtime.GOARCH))
	if err := os.WriteFile(worker, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	sum, err := locate.Hash(worker)
	if err != nil {
		t.Fatal(err)
	}

	cfg := config.Defaults()
	cfg.Worker.Dir = binDir
	cfg.Worker.Checksum = sum
	cfg.State.Path = filepath.Join(dir, "tether.db")
	cfg.State.Retention = 24 * time.Hour
	cfg.API.Auth.Tokens = []config.APIToken{{Token: "t", Scopes: []string{auth.ScopeStatusRO}}}
	return cfg
}

func TestValidate_ValidConfig(t *testing.T) {
	t.Parallel()
	r := New(validConfig(t)).Validate()
	if !r.Valid {
		t.Fatalf("expected valid, got errors: %v", r.Errors)
	}
	if len(r.Warnings) != 0 {
		t.Fatalf("expected no warnings, got: %v", r.Warnings)
	}
	if r.WorkerPath == "" || r.WorkerHash == "" {
		t.Fatalf("expected worker path and hash, got %+v", r)
	}
}

func TestValidate_MissingStatePath(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.State.Path = ""
	r := New(cfg).Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	assertHasError(t, r, "state", "state.path is required")
}

func TestValidate_StateDirWarnings(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.State.Path = filepath.Join(t.TempDir(), "missing", "tether.db")
	cfg.State.Retention = 0
	r := New(cfg).Validate()
	if !r.Valid {
		t.Fatalf("expected valid, got errors: %v", r.Errors)
	}
	assertHasWarning(t, r, "state", "will be created")
	assertHasWarning(t, r, "state", "without bound")
}

func TestValidate_WorkerNotFound(t *testing.T) {
	cfg := validConfig(t)
	cfg.Worker.Dir = t.TempDir()
	d := New(cfg)
	// A platform nobody ships for keeps the $PATH fallback from matching a
	// real install on the test machine.
	d.goos, d.goarch = "plan9", "mips"
	t.Setenv("PATH", t.TempDir())

	r := d.Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	assertHasError(t, r, "worker", "worker binary not found")
}

func TestValidate_ChecksumMismatch(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Worker.Checksum = strings.Repeat("0", 64)
	r := New(cfg).Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	assertHasError(t, r, "worker", "checksum mismatch")
}

func TestValidate_UnpinnedWorker(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Worker.Checksum = ""
	r := New(cfg).Validate()
	if !r.Valid {
		t.Fatalf("expected valid, got errors: %v", r.Errors)
	}
	assertHasWarning(t, r, "worker", "not pinned")
}

func TestValidate_Timeouts(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Worker.RequestTimeout = 10 * time.Millisecond
	cfg.Worker.GracePeriod = 0
	r := New(cfg).Validate()
	assertHasWarning(t, r, "timeouts", "request_timeout")
	assertHasWarning(t, r, "timeouts", "grace_period is zero")
}

func TestValidate_APIWithoutTokens(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.API.Auth.Tokens = nil
	r := New(cfg).Validate()
	assertHasWarning(t, r, "api", "without tokens")

	cfg.API.Listen = ""
	r = New(cfg).Validate()
	assertHasError(t, r, "api", "api.listen is required")
}

func TestValidate_UnknownScope(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.API.Auth.Tokens = []config.APIToken{{Token: "t", Scopes: []string{"jobs:rw"}}}
	r := New(cfg).Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	assertHasError(t, r, "token_scopes", `unknown scope "jobs:rw"`)
}

type fakeProber struct {
	startErr error
	health   bridge.Health
	stopped  bool
}

func (f *fakeProber) Start(ctx context.Context) error { return f.startErr }
func (f *fakeProber) Stop(ctx context.Context) error  { f.stopped = true; return nil }
func (f *fakeProber) Status() bridge.Health           { return f.health }

func TestProbe(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)

	ok := &fakeProber{health: bridge.Health{State: bridge.HealthHealthy, Message: "Handshake Successful"}}
	r := &Result{Valid: true}
	New(cfg).Probe(context.Background(), ok, r)
	if !r.Valid || !ok.stopped {
		t.Fatalf("expected valid and stopped, got %+v stopped=%v", r, ok.stopped)
	}

	bad := &fakeProber{health: bridge.Health{State: bridge.HealthUnhealthy, Message: "Request timeout for SET_PID"}}
	r = &Result{Valid: true}
	New(cfg).Probe(context.Background(), bad, r)
	if r.Valid || !bad.stopped {
		t.Fatal("expected invalid and stopped")
	}
	assertHasError(t, r, "probe", "Request timeout for SET_PID")

	dead := &fakeProber{startErr: errors.New("exec: no such file")}
	r = &Result{Valid: true}
	New(cfg).Probe(context.Background(), dead, r)
	if r.Valid || dead.stopped {
		t.Fatal("expected invalid without stop")
	}
	assertHasError(t, r, "probe", "failed to start")
}

func TestFormatJSON(t *testing.T) {
	t.Parallel()
	r := &Result{
		Valid:  false,
		Errors: []Issue{{Category: "test", Message: "bad thing"}},
	}
	out, err := FormatJSON(r)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "bad thing") {
		t.Fatalf("expected JSON to contain error message, got: %s", out)
	}
}

func TestFormatHuman_Valid(t *testing.T) {
	t.Parallel()
	out := FormatHuman(&Result{Valid: true, WorkerPath: "/opt/tether-worker"})
	if !strings.Contains(out, "valid") || !strings.Contains(out, "/opt/tether-worker") {
		t.Fatalf("unexpected output: %s", out)
	}
}

func TestFormatHuman_Errors(t *testing.T) {
	t.Parallel()
	r := &Result{
		Valid:    false,
		Errors:   []Issue{{Category: "test", Field: "x.y", Message: "broken"}},
		Warnings: []Issue{{Category: "test", Message: "meh"}},
	}
	out := FormatHuman(r)
	if !strings.Contains(out, "ERROR [test] x.y: broken") || !strings.Contains(out, "WARN  [test] meh") {
		t.Fatalf("unexpected output: %s", out)
	}
}

// --- helpers ---

func assertHasError(t *testing.T, r *Result, category, substring string) {
	t.Helper()
	for _, e := range r.Errors {
		if e.Category == category && strings.Contains(e.Message, substring) {
			return
		}
	}
	t.Fatalf("expected error with category=%q containing %q, got: %v", category, substring, r.Errors)
}

func assertHasWarning(t *testing.T, r *Result, category, substring string) {
	t.Helper()
	for _, w := range r.Warnings {
		if w.Category == category && strings.Contains(w.Message, substring) {
			return
		}
	}
	t.Fatalf("expected warning with category=%q containing %q, got: %v", category, substring, r.Warnings)
}
