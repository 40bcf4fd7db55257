package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/mattjoyce/tether/internal/log"
	"github.com/mattjoyce/tether/internal/protocol"
)

// DefaultGracePeriod is the time Stop waits after SIGTERM before sending SIGKILL.
const DefaultGracePeriod = 5 * time.Second

// outputDrainDelay bounds how long exit handling waits for the worker's
// output pipes to reach EOF. A child that inherited them can hold them open
// after the worker itself is gone.
const outputDrainDelay = 250 * time.Millisecond

// ErrNotRunning is returned by Write when no worker is running.
var ErrNotRunning = errors.New("sidecar not running")

// State is the supervisor lifecycle state.
type State int

const (
	Stopped State = iota
	Starting
	Running
	// Crashed is held while exit hooks run for an exit nobody asked for.
	Crashed
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Crashed:
		return "crashed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Config describes how to launch the worker.
type Config struct {
	Path string
	Args []string
	// Env is appended to the host environment.
	Env         []string
	Dir         string
	GracePeriod time.Duration
}

// ExitInfo describes a finished worker process.
type ExitInfo struct {
	PID int
	// Code is the exit status, or -1 when the process was killed by a signal.
	Code int
	// Status is the human-readable process state, e.g. "signal: killed".
	Status string
	Err    error
	// Requested is true when the exit followed a call to Stop.
	Requested bool
	At        time.Time
}

// Hooks receive the worker's output and exit notifications.
type Hooks struct {
	// OnLine receives each stdout line. The slice is owned by the callee.
	OnLine func(line []byte)
	// OnExit runs once per spawned process, on the exit detection goroutine,
	// after the handle is cleared and before a new Start can succeed.
	OnExit func(ExitInfo)
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithLogger overrides the supervisor's logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Supervisor) { s.logger = l }
}

// Supervisor owns the single worker process.
type Supervisor struct {
	cfg    Config
	hooks  Hooks
	logger *slog.Logger

	// lifecycle serialises Start and Stop.
	lifecycle sync.Mutex

	mu       sync.Mutex
	state    State
	proc     *handle
	last     *handle
	lastExit *ExitInfo

	writeMu sync.Mutex
}

type handle struct {
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	stdout   io.Closer
	stderr   io.Closer
	stopping bool
	done     chan struct{}
}

// New creates a stopped Supervisor.
func New(cfg Config, hooks Hooks, opts ...Option) *Supervisor {
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}
	s := &Supervisor{
		cfg:    cfg,
		hooks:  hooks,
		logger: log.WithComponent("supervisor"),
		state:  Stopped,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start spawns the worker. It is a no-op if a worker is already running.
func (s *Supervisor) Start(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	if s.proc != nil {
		s.mu.Unlock()
		return nil
	}
	prev := s.last
	s.mu.Unlock()

	// The previous process's exit hooks must finish before a new one exists.
	if prev != nil {
		select {
		case <-prev.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if s.cfg.Path == "" {
		return fmt.Errorf("worker path is empty")
	}

	s.setState(Starting)

	// Not CommandContext: termination is managed by Stop.
	cmd := exec.Command(s.cfg.Path, s.cfg.Args...)
	cmd.Dir = s.cfg.Dir
	if len(s.cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), s.cfg.Env...)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		s.setState(Stopped)
		return fmt.Errorf("create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		s.setState(Stopped)
		return fmt.Errorf("create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		s.setState(Stopped)
		return fmt.Errorf("create stderr pipe: %w", err)
	}

	s.logger.Debug("spawning worker", "path", s.cfg.Path)
	if err := cmd.Start(); err != nil {
		s.setState(Stopped)
		return fmt.Errorf("start worker: %w", err)
	}

	h := &handle{cmd: cmd, stdin: stdin, stdout: stdout, stderr: stderr, done: make(chan struct{})}
	pid := cmd.Process.Pid

	s.mu.Lock()
	s.proc = h
	s.last = h
	s.state = Running
	s.mu.Unlock()

	s.logger.Info("worker started", "pid", pid, "path", s.cfg.Path)

	var readers sync.WaitGroup
	readers.Add(2)
	go s.readStdout(stdout, &readers)
	go s.readStderr(stderr, pid, &readers)
	go s.wait(h, &readers)

	return nil
}

// Stop sends SIGTERM to the worker and waits for exit detection to finish,
// escalating to SIGKILL after the grace period. It is a no-op when stopped.
// Pending requests are rejected by the exit path, not here.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	h := s.proc
	if h == nil {
		s.mu.Unlock()
		return nil
	}
	h.stopping = true
	s.mu.Unlock()

	logger := s.logger.With("pid", h.cmd.Process.Pid)
	logger.Info("stopping worker, sending SIGTERM")
	if err := h.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		logger.Error("failed to send SIGTERM", "error", err)
	}

	grace := time.NewTimer(s.cfg.GracePeriod)
	defer grace.Stop()

	select {
	case <-h.done:
		return nil
	case <-grace.C:
		logger.Warn("worker did not exit after SIGTERM, sending SIGKILL")
	case <-ctx.Done():
		logger.Warn("stop cancelled, sending SIGKILL", "error", ctx.Err())
	}

	if err := h.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		logger.Error("failed to send SIGKILL", "error", err)
	}

	select {
	case <-h.done:
		return ctx.Err()
	case <-time.After(s.cfg.GracePeriod):
		return fmt.Errorf("worker %d did not exit after SIGKILL", h.cmd.Process.Pid)
	}
}

// Write sends one encoded line to the worker's stdin. Concurrent writers are
// serialised so lines never interleave.
func (s *Supervisor) Write(line []byte) error {
	s.mu.Lock()
	h := s.proc
	writable := h != nil && !h.stopping
	s.mu.Unlock()

	if !writable {
		return ErrNotRunning
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := h.stdin.Write(line); err != nil {
		return fmt.Errorf("write to worker stdin: %w", err)
	}
	return nil
}

// Running reports whether a writable worker exists.
func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proc != nil && !s.proc.stopping
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// PID returns the running worker's PID, or 0.
func (s *Supervisor) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc == nil {
		return 0
	}
	return s.proc.cmd.Process.Pid
}

// LastExit returns details of the most recent worker exit, if any.
func (s *Supervisor) LastExit() (ExitInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastExit == nil {
		return ExitInfo{}, false
	}
	return *s.lastExit, true
}

func (s *Supervisor) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Supervisor) readStdout(r io.Reader, wg *sync.WaitGroup) {
	defer wg.Done()

	err := protocol.ReadLines(r, protocol.MaxLineBytes, func(line []byte) {
		if s.hooks.OnLine != nil {
			s.hooks.OnLine(line)
		}
	}, func(n int) {
		s.logger.Warn("dropping oversized worker stdout line", "bytes", n, "max", protocol.MaxLineBytes)
	})
	if err != nil && !errors.Is(err, os.ErrClosed) {
		s.logger.Error("worker stdout reader stopped", "error", err)
	}
}

func (s *Supervisor) readStderr(r io.Reader, pid int, wg *sync.WaitGroup) {
	defer wg.Done()

	diag := log.WithWorker(pid).With("component", "worker")
	err := protocol.ReadLines(r, protocol.MaxLineBytes, func(line []byte) {
		diag.Info("worker stderr", "line", string(line))
	}, func(n int) {
		diag.Warn("dropping oversized worker stderr line", "bytes", n)
	})
	if err != nil && !errors.Is(err, os.ErrClosed) {
		diag.Debug("worker stderr reader stopped", "error", err)
	}
}

// wait detects exit from the process itself, not from its pipes. Output
// written just before exit is given outputDrainDelay to reach OnLine; after
// that the pipes are closed so held descriptors cannot delay exit handling.
func (s *Supervisor) wait(h *handle, readers *sync.WaitGroup) {
	ps, err := h.cmd.Process.Wait()

	if !waitTimeout(readers, outputDrainDelay) {
		s.logger.Debug("worker output still open after exit, closing pipes", "pid", h.cmd.Process.Pid)
	}
	_ = h.stdout.Close()
	_ = h.stderr.Close()
	_ = h.stdin.Close()

	info := ExitInfo{
		PID: h.cmd.Process.Pid,
		Err: err,
		At:  time.Now(),
	}
	if ps != nil {
		info.Code = ps.ExitCode()
		info.Status = ps.String()
		if err == nil && !ps.Success() {
			info.Err = &exec.ExitError{ProcessState: ps}
		}
	}

	s.mu.Lock()
	info.Requested = h.stopping
	if s.proc == h {
		s.proc = nil
	}
	if info.Requested {
		s.state = Stopped
	} else {
		s.state = Crashed
	}
	s.lastExit = &info
	s.mu.Unlock()

	logger := s.logger.With("pid", info.PID, "exit_code", info.Code, "status", info.Status)
	if info.Requested {
		logger.Info("worker exited")
	} else {
		logger.Warn("worker exited unexpectedly")
	}

	if s.hooks.OnExit != nil {
		s.hooks.OnExit(info)
	}

	s.setState(Stopped)
	close(h.done)
}

// waitTimeout reports whether wg finished within d.
func waitTimeout(wg *sync.WaitGroup, d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-done:
		return true
	case <-t.C:
		return false
	}
}
