// Package engine supervises the external document-conversion engine: it owns
// the process handle, serializes concurrent starts behind a single in-flight
// attempt, polls health on a fixed interval and restarts the engine after
// sustained degradation.
package engine

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"convertd/internal/logger"
	"convertd/internal/metrics"
)

// DefaultPort is the fixed local port the engine listens on.
const DefaultPort = 2003

// Config describes the engine binaries and supervision parameters.
type Config struct {
	Binary           string            // long-running engine, started as: Binary --port PORT
	Tool             string            // one-shot converter: Tool --port PORT --convert-to FMT IN OUT
	Port             int               // fixed local port (default 2003)
	ProfileDir       string            // lock directory guaranteeing exclusive engine ownership
	TempDir          string            // temp files for health checks; os.TempDir when empty
	WarmupWindow     time.Duration     // max wait for the engine to accept connections after spawn
	ProbeTimeout     time.Duration     // TCP connect timeout for the liveness probe
	SyntheticTimeout time.Duration     // timeout for the synthetic functional conversion
	ConvertTimeout   time.Duration     // timeout for real conversions
	StopWait         time.Duration     // SIGTERM grace before SIGKILL
	HealthInterval   time.Duration     // polling interval
	FailureThreshold int               // consecutive failed polls before restart
	Log              logger.FileConfig // rotating destinations for engine stdout/stderr
}

func (c Config) withDefaults() Config {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.WarmupWindow <= 0 {
		c.WarmupWindow = 10 * time.Second
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 3 * time.Second
	}
	if c.SyntheticTimeout <= 0 {
		c.SyntheticTimeout = 8 * time.Second
	}
	if c.ConvertTimeout <= 0 {
		c.ConvertTimeout = 120 * time.Second
	}
	if c.StopWait <= 0 {
		c.StopWait = 3 * time.Second
	}
	if c.HealthInterval <= 0 {
		c.HealthInterval = 60 * time.Second
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	return c
}

// startAttempt is the shared in-flight start. Concurrent EnsureReady callers
// await done and observe err instead of spawning a second engine.
type startAttempt struct {
	done chan struct{}
	err  error
}

// Status is a snapshot of the supervisor for readiness reporting.
type Status struct {
	Running             bool `json:"running"`
	Starting            bool `json:"starting"`
	PID                 int  `json:"pid,omitempty"`
	ConsecutiveFailures int  `json:"consecutive_failures"`
}

// Supervisor owns the engine lifecycle. Safe for concurrent use.
type Supervisor struct {
	cfg    Config
	runner Runner
	log    *slog.Logger

	mu       sync.Mutex
	handle   Handle
	gen      int // increments per start; exit observers only clear their own run
	starting *startAttempt
	failures int
	pollStop chan struct{}
	lock     *flock.Flock
	locked   bool
	outW     io.WriteCloser
	errW     io.WriteCloser
}

// Option configures the supervisor.
type Option func(*Supervisor)

// WithRunner injects a custom process runner (primarily for tests).
func WithRunner(r Runner) Option {
	return func(s *Supervisor) {
		if r != nil {
			s.runner = r
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Supervisor) {
		if l != nil {
			s.log = l
		}
	}
}

// New constructs a supervisor. The engine is not started until the first
// EnsureReady call.
func New(cfg Config, opts ...Option) *Supervisor {
	s := &Supervisor{
		cfg:    cfg.withDefaults(),
		runner: ExecRunner{},
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EnsureReady returns immediately when the engine is running. When a start is
// already in flight, it awaits that attempt's shared outcome. Otherwise it
// begins a new start. It fails only when the spawn itself fails; the warm-up
// path always resolves.
func (s *Supervisor) EnsureReady(ctx context.Context) error {
	s.mu.Lock()
	if s.handle != nil && s.starting == nil {
		s.mu.Unlock()
		return nil
	}
	if att := s.starting; att != nil {
		s.mu.Unlock()
		select {
		case <-att.done:
			return att.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	att := &startAttempt{done: make(chan struct{})}
	s.starting = att
	s.mu.Unlock()

	err := s.start(ctx, att)

	s.mu.Lock()
	if s.starting == att {
		s.starting = nil
	}
	s.mu.Unlock()
	att.err = err
	close(att.done)
	return err
}

func (s *Supervisor) start(ctx context.Context, att *startAttempt) error {
	if err := s.acquireLock(); err != nil {
		return &StartError{Err: err}
	}

	outW, errW, _ := s.cfg.Log.Writers("engine")
	h, err := s.runner.Start(s.cfg.Binary, []string{"--port", strconv.Itoa(s.cfg.Port)}, outW, errW)
	if err != nil {
		closeWriter(outW)
		closeWriter(errW)
		return &StartError{Err: err}
	}

	s.mu.Lock()
	if s.starting != att {
		// Shutdown discarded this attempt mid-start; don't leak the process.
		s.mu.Unlock()
		closeWriter(outW)
		closeWriter(errW)
		_ = h.Terminate(s.cfg.StopWait)
		return &StartError{Err: errStartAborted}
	}
	s.gen++
	gen := s.gen
	s.handle = h
	s.outW = outW
	s.errW = errW
	s.mu.Unlock()

	metrics.IncEngineStart()
	metrics.SetEngineUp(true)
	s.log.Info("engine started", "pid", h.PID(), "port", s.cfg.Port)

	go s.watchExit(h, gen)

	s.awaitListening(ctx)
	s.restartPolling()
	return nil
}

// watchExit observes the process until it exits and clears the handle for its
// own run. An unexpected exit does not trigger a restart; the next EnsureReady
// starts fresh and sustained health-check failure restarts independently.
func (s *Supervisor) watchExit(h Handle, gen int) {
	err := h.Wait()

	s.mu.Lock()
	if s.gen != gen || s.handle != h {
		s.mu.Unlock()
		return
	}
	s.handle = nil
	s.closeWritersLocked()
	s.mu.Unlock()

	metrics.SetEngineUp(false)
	if err != nil {
		s.log.Warn("engine exited unexpectedly", "error", err)
	} else {
		s.log.Warn("engine exited unexpectedly")
	}
}

// restartPolling replaces any active poll loop with a fresh one so poll cycles
// never overlap across restarts.
func (s *Supervisor) restartPolling() {
	s.mu.Lock()
	if s.pollStop != nil {
		close(s.pollStop)
	}
	stop := make(chan struct{})
	s.pollStop = stop
	s.mu.Unlock()
	go s.poll(stop)
}

func (s *Supervisor) poll(stop chan struct{}) {
	t := time.NewTicker(s.cfg.HealthInterval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
		}

		if err := s.CheckReady(context.Background()); err != nil {
			s.mu.Lock()
			s.failures++
			n := s.failures
			s.mu.Unlock()
			metrics.IncHealthFailure()
			metrics.SetConsecutiveFailures(n)
			s.log.Warn("health check failed", "consecutive", n, "error", err)
			if n >= s.cfg.FailureThreshold {
				s.log.Error("health-check threshold reached, restarting engine", "failures", n)
				s.restart(stop)
				return
			}
			continue
		}

		s.mu.Lock()
		s.failures = 0
		s.mu.Unlock()
		metrics.SetConsecutiveFailures(0)
	}
}

// restart tears the current instance down, discards the in-flight attempt and
// the failure counter, and starts over. Called from the poll loop once the
// failure threshold is reached; the replacement poll loop is started by the
// new start. stop identifies the calling poll loop: when it is no longer the
// supervisor's current one, a Shutdown (or a newer start) won the race between
// the threshold check and this call, and the restart must not resurrect the
// engine.
func (s *Supervisor) restart(stop chan struct{}) {
	s.mu.Lock()
	if s.pollStop != stop {
		s.mu.Unlock()
		return
	}
	h := s.handle
	s.handle = nil
	s.starting = nil
	s.failures = 0
	s.pollStop = nil // this poll loop is returning; don't let Shutdown double-close
	s.closeWritersLocked()
	s.mu.Unlock()

	metrics.IncEngineRestart()
	metrics.SetConsecutiveFailures(0)
	if h != nil {
		_ = h.Terminate(s.cfg.StopWait)
	}
	metrics.SetEngineUp(false)

	if err := s.EnsureReady(context.Background()); err != nil {
		s.log.Error("engine restart failed", "error", err)
	}
}

// Convert runs the one-shot tool against the ready engine and returns dest on
// success. A failed or timed-out invocation is reported as a ConversionError
// carrying the tool's output; it never affects the engine's liveness
// classification.
func (s *Supervisor) Convert(ctx context.Context, src, dest, format string) (string, error) {
	if err := s.EnsureReady(ctx); err != nil {
		return "", err
	}

	cctx, cancel := context.WithTimeout(ctx, s.cfg.ConvertTimeout)
	defer cancel()

	out, err := s.runner.Run(cctx, s.cfg.Tool, s.toolArgs(format, src, dest)...)
	if err != nil {
		// A killed tool reports "signal: killed"; surface the deadline instead.
		if cerr := cctx.Err(); cerr != nil {
			err = cerr
		}
		return "", &ConversionError{Format: format, Output: string(out), Err: err}
	}
	if _, err := os.Stat(dest); err != nil {
		return "", &ConversionError{Format: format, Output: string(out), Err: ErrOutputMissing}
	}
	return dest, nil
}

// Shutdown stops polling, terminates the engine if present and clears all
// state. Idempotent; safe to call in any state.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	if s.pollStop != nil {
		close(s.pollStop)
		s.pollStop = nil
	}
	h := s.handle
	s.handle = nil
	s.starting = nil
	s.failures = 0
	s.closeWritersLocked()
	lock := s.lock
	locked := s.locked
	s.lock = nil
	s.locked = false
	s.mu.Unlock()

	if h != nil {
		_ = h.Terminate(s.cfg.StopWait)
	}
	if locked && lock != nil {
		_ = lock.Unlock()
	}
	metrics.SetEngineUp(false)
	metrics.SetConsecutiveFailures(0)
}

// Status reports a snapshot for readiness endpoints. Non-blocking.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		Running:             s.handle != nil && s.starting == nil,
		Starting:            s.starting != nil,
		ConsecutiveFailures: s.failures,
	}
	if s.handle != nil {
		st.PID = s.handle.PID()
	}
	return st
}

func (s *Supervisor) toolArgs(format, src, dest string) []string {
	return []string{"--port", strconv.Itoa(s.cfg.Port), "--convert-to", format, src, dest}
}

// acquireLock takes the profile-dir file lock once for the supervisor's
// lifetime. The engine's port and profile must not be shared with another
// process.
func (s *Supervisor) acquireLock() error {
	if s.cfg.ProfileDir == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locked {
		return nil
	}
	if err := os.MkdirAll(s.cfg.ProfileDir, 0o750); err != nil {
		return err
	}
	if s.lock == nil {
		s.lock = flock.New(filepath.Join(s.cfg.ProfileDir, "convertd-engine.lock"))
	}
	ok, err := s.lock.TryLock()
	if err != nil {
		return err
	}
	if !ok {
		return errLockHeld
	}
	s.locked = true
	return nil
}

func (s *Supervisor) closeWritersLocked() {
	closeWriter(s.outW)
	closeWriter(s.errW)
	s.outW = nil
	s.errW = nil
}

func closeWriter(w io.WriteCloser) {
	if w != nil {
		_ = w.Close()
	}
}
