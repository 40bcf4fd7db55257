package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/tether/internal/correlate"
	"github.com/mattjoyce/tether/internal/log"
	"github.com/mattjoyce/tether/internal/protocol"
	"github.com/mattjoyce/tether/internal/supervisor"
)

const (
	// DefaultRequestTimeout applies when Send is called with timeout <= 0.
	DefaultRequestTimeout = 5 * time.Second

	// exitMessage is the health message after the worker goes away.
	exitMessage = "worker exited"
)

var (
	// ErrNotRunning is returned without sending anything when no worker is up.
	ErrNotRunning = supervisor.ErrNotRunning

	// ErrWorkerExited is delivered to every pending request when the worker exits.
	ErrWorkerExited = errors.New("worker exited before responding")
)

// Config configures a Bridge.
type Config struct {
	Worker           supervisor.Config
	RequestTimeout   time.Duration
	HandshakeTimeout time.Duration
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithLogger overrides the bridge logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bridge) { b.logger = l }
}

// WithObserver registers an observer for request outcomes and health changes.
func WithObserver(o Observer) Option {
	return func(b *Bridge) { b.observers = append(b.observers, o) }
}

// WithIDGenerator replaces uuid-based request identifiers.
func WithIDGenerator(fn func() string) Option {
	return func(b *Bridge) { b.newID = fn }
}

// Bridge is the request/response surface over a supervised worker.
type Bridge struct {
	cfg       Config
	sup       *supervisor.Supervisor
	table     *correlate.Table
	health    *healthCell
	logger    *slog.Logger
	newID     func() string
	observers []Observer

	// lifecycle serialises Start/Stop so a handshake never overlaps a restart.
	lifecycle sync.Mutex
}

type result struct {
	resp *protocol.Response
	err  error
}

// New creates a Bridge. The worker is not started until Start.
func New(cfg Config, opts ...Option) *Bridge {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = cfg.RequestTimeout
	}

	b := &Bridge{
		cfg:    cfg,
		table:  correlate.New(),
		health: newHealthCell(),
		logger: log.WithComponent("bridge"),
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(b)
	}

	b.sup = supervisor.New(cfg.Worker, supervisor.Hooks{
		OnLine: b.dispatch,
		OnExit: b.onExit,
	})
	return b
}

// Send issues one request and waits for its single outcome.
//
// A worker reply is returned as a Response whether ok is true or false;
// ok:false is an application error available via Response.Err. Timeouts
// return *correlate.TimeoutError, worker exit returns ErrWorkerExited.
// Cancelling ctx stops the wait only: the request still leaves the
// correlation table through its response, its timeout, or worker exit.
func (b *Bridge) Send(ctx context.Context, kind protocol.Kind, payload map[string]any, timeout time.Duration) (*protocol.Response, error) {
	if !b.sup.Running() {
		return nil, ErrNotRunning
	}
	if timeout <= 0 {
		timeout = b.cfg.RequestTimeout
	}

	req := &protocol.Request{ID: b.newID(), Type: kind, Payload: payload}
	line, err := protocol.EncodeRequest(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	logger := log.WithRequest(req.ID).With("component", "bridge", "type", kind)
	done := make(chan result, 1)
	start := time.Now()
	// Taken now: a worker exit clears the PID before rejected requests complete.
	pid := b.sup.PID()

	// Registered before the write so a fast reply always finds its entry.
	b.table.Register(req.ID, kind, timeout, func(resp *protocol.Response, err error) {
		done <- result{resp: resp, err: err}
	})

	if err := b.sup.Write(line); err != nil {
		logger.Warn("failed to write request", "error", err)
		b.table.Fail(req.ID, err)
	} else {
		logger.Debug("request sent", "timeout", timeout)
	}

	select {
	case r := <-done:
		b.complete(req, pid, start, r)
		return r.resp, r.err
	case <-ctx.Done():
		go func() {
			b.complete(req, pid, start, <-done)
		}()
		return nil, ctx.Err()
	}
}

// Start spawns the worker and performs the handshake. It is a no-op if the
// worker is already running. A failed handshake is reported through Status,
// not as an error; Start only fails when the worker cannot be spawned.
func (b *Bridge) Start(ctx context.Context) error {
	b.lifecycle.Lock()
	defer b.lifecycle.Unlock()

	if b.sup.Running() {
		return nil
	}

	b.setHealth(HealthChecking, "Starting handshake...")
	if err := b.sup.Start(ctx); err != nil {
		b.setHealth(HealthUnhealthy, err.Error())
		return fmt.Errorf("start sidecar: %w", err)
	}

	b.handshake(ctx)
	return nil
}

// Stop terminates the worker. Pending requests are rejected by the exit
// handler with ErrWorkerExited.
func (b *Bridge) Stop(ctx context.Context) error {
	b.lifecycle.Lock()
	defer b.lifecycle.Unlock()
	return b.sup.Stop(ctx)
}

// Restart stops the worker if needed and starts a fresh one with a new
// handshake.
func (b *Bridge) Restart(ctx context.Context) error {
	if err := b.Stop(ctx); err != nil {
		return fmt.Errorf("stop sidecar: %w", err)
	}
	return b.Start(ctx)
}

// Status returns the current connection health.
func (b *Bridge) Status() Health {
	return b.health.get()
}

// Running reports whether a worker is accepting requests.
func (b *Bridge) Running() bool {
	return b.sup.Running()
}

// WorkerPID returns the running worker's PID, or 0.
func (b *Bridge) WorkerPID() int {
	return b.sup.PID()
}

// Pending returns the number of in-flight requests.
func (b *Bridge) Pending() int {
	return b.table.Len()
}

// dispatch handles one stdout line. Anything that is not a well-formed
// response is dropped; the worker may print unrelated text.
func (b *Bridge) dispatch(line []byte) {
	resp, err := protocol.DecodeResponse(line)
	if err != nil {
		b.logger.Debug("dropping non-protocol line", "error", err)
		return
	}
	if !b.table.Resolve(resp.ID, resp) {
		b.logger.Debug("dropping response for unknown request", "request_id", resp.ID)
	}
}

func (b *Bridge) onExit(info supervisor.ExitInfo) {
	h := b.health.exited(exitMessage)
	b.notifyHealth(h)

	n := b.table.RejectAll(ErrWorkerExited)
	b.logger.Info("worker exit handled",
		"pid", info.PID,
		"requested", info.Requested,
		"status", info.Status,
		"rejected", n,
	)
}

func (b *Bridge) setHealth(state HealthState, msg string) {
	b.notifyHealth(b.health.set(state, msg))
}

func (b *Bridge) complete(req *protocol.Request, pid int, start time.Time, r result) {
	if len(b.observers) == 0 {
		return
	}
	out := newOutcome(req, pid, start, r)
	for _, o := range b.observers {
		o.RequestCompleted(out)
	}
}

func (b *Bridge) notifyHealth(h Health) {
	for _, o := range b.observers {
		o.HealthChanged(h)
	}
}
