package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// freePort reserves an ephemeral port and releases it so nothing listens there.
func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	_ = l.Close()
	return port
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

type fakeHandle struct {
	pid      int
	exitOnce sync.Once
	done     chan struct{}
	err      error
}

func newFakeHandle(pid int) *fakeHandle {
	return &fakeHandle{pid: pid, done: make(chan struct{})}
}

func (h *fakeHandle) PID() int { return h.pid }

func (h *fakeHandle) Wait() error {
	<-h.done
	return h.err
}

func (h *fakeHandle) Terminate(time.Duration) error {
	h.exit(nil)
	return nil
}

func (h *fakeHandle) exit(err error) {
	h.exitOnce.Do(func() {
		h.err = err
		close(h.done)
	})
}

type fakeRunner struct {
	mu        sync.Mutex
	starts    int
	runs      int
	startErr  error
	startGate chan struct{} // when set, Start blocks until closed
	runErr    error
	makeDest  bool
	handles   []*fakeHandle
}

func (r *fakeRunner) Start(string, []string, io.Writer, io.Writer) (Handle, error) {
	r.mu.Lock()
	gate := r.startGate
	r.mu.Unlock()
	if gate != nil {
		<-gate
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.starts++
	if r.startErr != nil {
		return nil, r.startErr
	}
	h := newFakeHandle(1000 + r.starts)
	r.handles = append(r.handles, h)
	return h, nil
}

func (r *fakeRunner) Run(_ context.Context, _ string, args ...string) ([]byte, error) {
	r.mu.Lock()
	r.runs++
	err := r.runErr
	makeDest := r.makeDest
	r.mu.Unlock()
	if err != nil {
		return []byte("tool: fatal error\n"), err
	}
	if makeDest && len(args) > 0 {
		dest := args[len(args)-1]
		if werr := os.WriteFile(dest, []byte("%PDF-1.4 fake"), 0o600); werr != nil {
			return nil, werr
		}
	}
	return nil, nil
}

func (r *fakeRunner) StartCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.starts
}

func (r *fakeRunner) RunCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runs
}

func (r *fakeRunner) SetRun(err error, makeDest bool) {
	r.mu.Lock()
	r.runErr = err
	r.makeDest = makeDest
	r.mu.Unlock()
}

func (r *fakeRunner) Handle(i int) *fakeHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.handles[i]
}

func testConfig(t *testing.T, port int) Config {
	return Config{
		Binary:           "fake-engine",
		Tool:             "fake-tool",
		Port:             port,
		TempDir:          t.TempDir(),
		WarmupWindow:     time.Millisecond,
		ProbeTimeout:     100 * time.Millisecond,
		SyntheticTimeout: time.Second,
		ConvertTimeout:   time.Second,
		StopWait:         50 * time.Millisecond,
		HealthInterval:   time.Hour, // quiet unless a test overrides it
		FailureThreshold: 5,
	}
}

func TestEnsureReadySingleFlight(t *testing.T) {
	r := &fakeRunner{startGate: make(chan struct{})}
	s := New(testConfig(t, freePort(t)), WithRunner(r), WithLogger(quietLogger()))
	t.Cleanup(s.Shutdown)

	const callers = 20
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.EnsureReady(context.Background())
		}(i)
	}

	// Let every caller reach the supervisor while the spawn is blocked.
	time.Sleep(50 * time.Millisecond)
	close(r.startGate)
	wg.Wait()

	if got := r.StartCount(); got != 1 {
		t.Fatalf("expected exactly one spawn, got %d", got)
	}
	for i, err := range errs {
		if err != nil {
			t.Fatalf("caller %d: %v", i, err)
		}
	}
	if !s.Status().Running {
		t.Fatal("expected engine running after EnsureReady")
	}
}

func TestEnsureReadySpawnErrorSharedByWaiters(t *testing.T) {
	spawnErr := errors.New("binary missing")
	r := &fakeRunner{startGate: make(chan struct{}), startErr: spawnErr}
	s := New(testConfig(t, freePort(t)), WithRunner(r), WithLogger(quietLogger()))
	t.Cleanup(s.Shutdown)

	const callers = 5
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.EnsureReady(context.Background())
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(r.startGate)
	wg.Wait()

	if got := r.StartCount(); got != 1 {
		t.Fatalf("expected one spawn attempt, got %d", got)
	}
	for i, err := range errs {
		var se *StartError
		if !errors.As(err, &se) {
			t.Fatalf("caller %d: expected StartError, got %v", i, err)
		}
		if !errors.Is(err, spawnErr) {
			t.Fatalf("caller %d: lost cause: %v", i, err)
		}
	}

	// The failed attempt must not poison later starts.
	r.mu.Lock()
	r.startErr = nil
	r.startGate = nil
	r.mu.Unlock()
	if err := s.EnsureReady(context.Background()); err != nil {
		t.Fatalf("retry after spawn failure: %v", err)
	}
}

func TestShutdownIdempotent(t *testing.T) {
	r := &fakeRunner{}
	s := New(testConfig(t, freePort(t)), WithRunner(r), WithLogger(quietLogger()))

	// Never started.
	s.Shutdown()
	s.Shutdown()

	if err := s.EnsureReady(context.Background()); err != nil {
		t.Fatalf("EnsureReady: %v", err)
	}
	s.Shutdown()
	s.Shutdown()
	s.Shutdown()

	if st := s.Status(); st.Running || st.Starting {
		t.Fatalf("expected stopped after shutdown, got %+v", st)
	}
}

func TestRestartAfterThreshold(t *testing.T) {
	cfg := testConfig(t, freePort(t)) // nothing listens: every probe fails
	cfg.HealthInterval = 10 * time.Millisecond
	cfg.FailureThreshold = 5
	r := &fakeRunner{}
	s := New(cfg, WithRunner(r), WithLogger(quietLogger()))
	t.Cleanup(s.Shutdown)

	if err := s.EnsureReady(context.Background()); err != nil {
		t.Fatalf("EnsureReady: %v", err)
	}

	// Five consecutive failed polls trigger exactly one restart. The spawn
	// count rises before the replacement clears warm-up, so wait for
	// Running rather than asserting it right away.
	waitFor(t, 2*time.Second, func() bool { return r.StartCount() == 2 })
	waitFor(t, 2*time.Second, func() bool { return s.Status().Running })
	if st := s.Status(); st.ConsecutiveFailures >= cfg.FailureThreshold {
		t.Fatalf("counter not reset after restart: %d", st.ConsecutiveFailures)
	}
}

func TestRestartYieldsToShutdown(t *testing.T) {
	r := &fakeRunner{}
	s := New(testConfig(t, freePort(t)), WithRunner(r), WithLogger(quietLogger()))
	t.Cleanup(s.Shutdown)

	if err := s.EnsureReady(context.Background()); err != nil {
		t.Fatalf("EnsureReady: %v", err)
	}
	s.mu.Lock()
	stop := s.pollStop
	s.mu.Unlock()

	s.Shutdown()

	// A poll loop that crossed its failure threshold just before Shutdown
	// completed arrives here with a stale stop channel. It must notice and
	// back off instead of resurrecting the engine.
	s.restart(stop)

	if st := s.Status(); st.Running || st.Starting {
		t.Fatalf("engine resurrected after shutdown: %+v", st)
	}
	if got := r.StartCount(); got != 1 {
		t.Fatalf("stale restart spawned a new engine; starts=%d", got)
	}
}

func TestCounterResetOnSuccessfulPoll(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer func() { _ = l.Close() }()
	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			_ = conn.Close()
		}
	}()

	cfg := testConfig(t, l.Addr().(*net.TCPAddr).Port)
	cfg.HealthInterval = 10 * time.Millisecond
	cfg.FailureThreshold = 50 // high enough that no restart fires here
	r := &fakeRunner{}
	r.SetRun(errors.New("tool crashed"), false)
	s := New(cfg, WithRunner(r), WithLogger(quietLogger()))
	t.Cleanup(s.Shutdown)

	if err := s.EnsureReady(context.Background()); err != nil {
		t.Fatalf("EnsureReady: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return s.Status().ConsecutiveFailures >= 2 })

	r.SetRun(nil, true)
	waitFor(t, 2*time.Second, func() bool { return s.Status().ConsecutiveFailures == 0 })

	if got := r.StartCount(); got != 1 {
		t.Fatalf("success after failures must not restart; starts=%d", got)
	}
}

func TestUnexpectedExitClearsHandleWithoutRestart(t *testing.T) {
	r := &fakeRunner{}
	s := New(testConfig(t, freePort(t)), WithRunner(r), WithLogger(quietLogger()))
	t.Cleanup(s.Shutdown)

	if err := s.EnsureReady(context.Background()); err != nil {
		t.Fatalf("EnsureReady: %v", err)
	}

	r.Handle(0).exit(errors.New("signal: killed"))
	waitFor(t, time.Second, func() bool { return !s.Status().Running })

	if got := r.StartCount(); got != 1 {
		t.Fatalf("exit alone must not restart; starts=%d", got)
	}

	// Next EnsureReady detects the absent handle and starts fresh.
	if err := s.EnsureReady(context.Background()); err != nil {
		t.Fatalf("EnsureReady after exit: %v", err)
	}
	if got := r.StartCount(); got != 2 {
		t.Fatalf("expected fresh start, starts=%d", got)
	}
}

func TestConvertSuccess(t *testing.T) {
	r := &fakeRunner{}
	r.SetRun(nil, true)
	s := New(testConfig(t, freePort(t)), WithRunner(r), WithLogger(quietLogger()))
	t.Cleanup(s.Shutdown)

	dir := t.TempDir()
	src := filepath.Join(dir, "notes.docx")
	dest := filepath.Join(dir, "notes.pdf")
	if err := os.WriteFile(src, []byte("docx bytes"), 0o600); err != nil {
		t.Fatalf("write src: %v", err)
	}

	got, err := s.Convert(context.Background(), src, dest, "pdf")
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if got != dest {
		t.Fatalf("Convert returned %q, want %q", got, dest)
	}
	if _, err := os.Stat(dest); err != nil {
		t.Fatalf("missing output: %v", err)
	}
}

func TestConvertFailureCarriesToolOutput(t *testing.T) {
	r := &fakeRunner{}
	r.SetRun(errors.New("exit status 1"), false)
	s := New(testConfig(t, freePort(t)), WithRunner(r), WithLogger(quietLogger()))
	t.Cleanup(s.Shutdown)

	_, err := s.Convert(context.Background(), "/tmp/in.doc", "/tmp/in.docx", "docx")
	var ce *ConversionError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ConversionError, got %v", err)
	}
	if ce.Output == "" {
		t.Fatal("expected captured diagnostic output")
	}
	// A failed conversion must not affect liveness classification.
	if !s.Status().Running {
		t.Fatal("conversion failure must not clear the handle")
	}
}

func TestConvertOutputMissing(t *testing.T) {
	r := &fakeRunner{} // Run succeeds but writes nothing
	s := New(testConfig(t, freePort(t)), WithRunner(r), WithLogger(quietLogger()))
	t.Cleanup(s.Shutdown)

	_, err := s.Convert(context.Background(), "/tmp/in.doc", filepath.Join(t.TempDir(), "in.docx"), "docx")
	if !errors.Is(err, ErrOutputMissing) {
		t.Fatalf("expected ErrOutputMissing, got %v", err)
	}
}

func TestProfileDirLockExclusive(t *testing.T) {
	dir := t.TempDir()

	cfg := testConfig(t, freePort(t))
	cfg.ProfileDir = dir
	r1 := &fakeRunner{}
	s1 := New(cfg, WithRunner(r1), WithLogger(quietLogger()))
	t.Cleanup(s1.Shutdown)
	if err := s1.EnsureReady(context.Background()); err != nil {
		t.Fatalf("first supervisor: %v", err)
	}

	r2 := &fakeRunner{}
	s2 := New(cfg, WithRunner(r2), WithLogger(quietLogger()))
	t.Cleanup(s2.Shutdown)
	err := s2.EnsureReady(context.Background())
	var se *StartError
	if !errors.As(err, &se) {
		t.Fatalf("expected StartError for held lock, got %v", err)
	}
	if got := r2.StartCount(); got != 0 {
		t.Fatalf("second supervisor must not spawn; starts=%d", got)
	}
}

func TestToolArgs(t *testing.T) {
	s := New(testConfig(t, 2003), WithRunner(&fakeRunner{}), WithLogger(quietLogger()))
	args := s.toolArgs("pdf", "/in.docx", "/out.pdf")
	want := []string{"--port", strconv.Itoa(2003), "--convert-to", "pdf", "/in.docx", "/out.pdf"}
	if len(args) != len(want) {
		t.Fatalf("args %v", args)
	}
	for i := range want {
		if args[i] != want[i] {
			t.Fatalf("arg %d = %q, want %q", i, args[i], want[i])
		}
	}
}
