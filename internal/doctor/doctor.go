// Package doctor validates tether configuration and the worker binary.
package doctor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/mattjoyce/tether/internal/auth"
	"github.com/mattjoyce/tether/internal/bridge"
	"github.com/mattjoyce/tether/internal/config"
	"github.com/mattjoyce/tether/internal/locate"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid      bool    `json:"valid"`
	WorkerPath string  `json:"worker_path,omitempty"`
	WorkerHash string  `json:"worker_hash,omitempty"`
	Errors     []Issue `json:"errors,omitempty"`
	Warnings   []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Prober is the part of the bridge a live probe needs.
type Prober interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Status() bridge.Health
}

// Doctor validates a loaded config.
type Doctor struct {
	cfg    *config.Config
	goos   string
	goarch string
}

// New creates a Doctor from a loaded config.
func New(cfg *config.Config) *Doctor {
	return &Doctor{cfg: cfg, goos: runtime.GOOS, goarch: runtime.GOARCH}
}

// Validate runs all static checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateState(r)
	d.validateWorker(r)
	d.validateTimeouts(r)
	d.validateAPIConfig(r)
	d.validateTokenScopes(r)

	r.Valid = len(r.Errors) == 0
	return r
}

// Probe starts the worker through p, waits for the handshake verdict and
// stops it again. The verdict is recorded on r.
func (d *Doctor) Probe(ctx context.Context, p Prober, r *Result) {
	if err := p.Start(ctx); err != nil {
		d.addError(r, "probe", "", fmt.Sprintf("worker failed to start: %v", err))
		r.Valid = false
		return
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), d.cfg.Worker.GracePeriod+time.Second)
		defer cancel()
		_ = p.Stop(stopCtx)
	}()

	h := p.Status()
	if !h.OK() {
		d.addError(r, "probe", "", fmt.Sprintf("handshake failed: %s", h.Message))
		r.Valid = false
	}
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

// validateState checks the journal location.
func (d *Doctor) validateState(r *Result) {
	if d.cfg.State.Path == "" {
		d.addError(r, "state", "state.path", "state.path is required")
		return
	}
	dir := filepath.Dir(d.cfg.State.Path)
	info, err := os.Stat(dir)
	switch {
	case errors.Is(err, os.ErrNotExist):
		d.addWarning(r, "state", "state.path", fmt.Sprintf("directory %s does not exist yet and will be created", dir))
	case err != nil:
		d.addError(r, "state", "state.path", fmt.Sprintf("cannot stat %s: %v", dir, err))
	case !info.IsDir():
		d.addError(r, "state", "state.path", fmt.Sprintf("%s is not a directory", dir))
	}
	if d.cfg.State.Retention == 0 {
		d.addWarning(r, "state", "state.retention", "retention is unset; the request journal grows without bound")
	}
}

// validateWorker resolves the worker binary and checks its pin.
func (d *Doctor) validateWorker(r *Result) {
	path, err := locate.Resolve(locate.Options{
		Path:   d.cfg.Worker.Path,
		Dir:    d.cfg.Worker.Dir,
		GOOS:   d.goos,
		GOARCH: d.goarch,
	})
	if err != nil {
		field := "worker.dir"
		if d.cfg.Worker.Path != "" {
			field = "worker.path"
		}
		d.addError(r, "worker", field, err.Error())
		return
	}
	r.WorkerPath = path

	sum, err := locate.Hash(path)
	if err != nil {
		d.addError(r, "worker", "worker.path", err.Error())
		return
	}
	r.WorkerHash = sum

	if d.cfg.Worker.Checksum == "" {
		d.addWarning(r, "worker", "worker.checksum", fmt.Sprintf("worker binary is not pinned (current digest %s)", sum))
		return
	}
	if !strings.EqualFold(sum, strings.TrimSpace(d.cfg.Worker.Checksum)) {
		d.addError(r, "worker", "worker.checksum",
			fmt.Sprintf("checksum mismatch: config pins %s, binary is %s", d.cfg.Worker.Checksum, sum))
	}
}

// validateTimeouts flags values that make the bridge unusable in practice.
func (d *Doctor) validateTimeouts(r *Result) {
	w := d.cfg.Worker
	if w.RequestTimeout > 0 && w.RequestTimeout < 100*time.Millisecond {
		d.addWarning(r, "timeouts", "worker.request_timeout",
			fmt.Sprintf("request_timeout %s is very short", w.RequestTimeout))
	}
	if w.HandshakeTimeout > 0 && w.HandshakeTimeout < 100*time.Millisecond {
		d.addWarning(r, "timeouts", "worker.handshake_timeout",
			fmt.Sprintf("handshake_timeout %s is very short", w.HandshakeTimeout))
	}
	if w.GracePeriod == 0 {
		d.addWarning(r, "timeouts", "worker.grace_period", "grace_period is zero; the worker is killed without a chance to exit")
	}
}

// validateAPIConfig checks API server settings.
func (d *Doctor) validateAPIConfig(r *Result) {
	if !d.cfg.API.Enabled {
		return
	}
	if d.cfg.API.Listen == "" {
		d.addError(r, "api", "api.listen", "api.listen is required when API is enabled")
	}
	if len(d.cfg.API.Auth.Tokens) == 0 {
		d.addWarning(r, "api", "api.auth", "API enabled without tokens; every local caller has full access")
	}
}

// validateTokenScopes checks that every scope is one the API understands.
func (d *Doctor) validateTokenScopes(r *Result) {
	known := map[string]bool{
		auth.ScopeAll:      true,
		auth.ScopeStatusRO: true,
		auth.ScopeWorkerRW: true,
	}
	for i, token := range d.cfg.API.Auth.Tokens {
		for j, scope := range token.Scopes {
			if !known[scope] {
				d.addError(r, "token_scopes", fmt.Sprintf("api.auth.tokens[%d].scopes[%d]", i, j),
					fmt.Sprintf("unknown scope %q (expected %s, %s or %s)", scope, auth.ScopeStatusRO, auth.ScopeWorkerRW, auth.ScopeAll))
			}
		}
	}
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.WorkerPath != "" {
		fmt.Fprintf(&b, "Worker: %s\n", r.WorkerPath)
	}

	switch {
	case r.Valid && len(r.Warnings) == 0:
		b.WriteString("Configuration valid.\n")
		return b.String()
	case r.Valid:
		fmt.Fprintf(&b, "Configuration valid (%d warning(s))\n", len(r.Warnings))
	default:
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		writeIssue(&b, "ERROR", e)
	}
	for _, w := range r.Warnings {
		writeIssue(&b, "WARN ", w)
	}
	return b.String()
}

func writeIssue(b *strings.Builder, level string, i Issue) {
	if i.Field != "" {
		fmt.Fprintf(b, "  %s [%s] %s: %s\n", level, i.Category, i.Field, i.Message)
		return
	}
	fmt.Fprintf(b, "  %s [%s] %s\n", level, i.Category, i.Message)
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
