package engine

import (
	"context"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"
)

// Handle is a live long-running process owned by the Supervisor.
type Handle interface {
	PID() int
	// Wait blocks until the process exits and returns its exit error.
	// Safe to call from multiple goroutines.
	Wait() error
	// Terminate sends SIGTERM to the process group, escalating to SIGKILL
	// after wait elapses.
	Terminate(wait time.Duration) error
}

// Runner abstracts process execution for testability.
type Runner interface {
	// Start spawns a long-running process and returns its handle.
	Start(binary string, args []string, stdout, stderr io.Writer) (Handle, error)
	// Run executes a one-shot command, returning combined stdout/stderr.
	// The command is killed when ctx is done.
	Run(ctx context.Context, binary string, args ...string) ([]byte, error)
}

// ExecRunner runs real processes via os/exec.
type ExecRunner struct{}

func (ExecRunner) Start(binary string, args []string, stdout, stderr io.Writer) (Handle, error) {
	// #nosec G204 -- binary and args come from validated config
	cmd := exec.Command(binary, args...)
	setProcessGroup(cmd)
	if stdout != nil {
		cmd.Stdout = stdout
	} else {
		cmd.Stdout, _ = os.OpenFile(os.DevNull, os.O_RDWR, 0)
	}
	if stderr != nil {
		cmd.Stderr = stderr
	} else {
		cmd.Stderr, _ = os.OpenFile(os.DevNull, os.O_RDWR, 0)
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &execHandle{cmd: cmd, done: make(chan struct{})}, nil
}

func (ExecRunner) Run(ctx context.Context, binary string, args ...string) ([]byte, error) {
	// #nosec G204 -- binary and args come from validated config
	cmd := exec.CommandContext(ctx, binary, args...)
	return cmd.CombinedOutput()
}

// execHandle reaps the process exactly once; Wait and Terminate coordinate
// through the shared done channel.
type execHandle struct {
	cmd      *exec.Cmd
	waitOnce sync.Once
	done     chan struct{}
	err      error
}

func (h *execHandle) PID() int {
	if h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

func (h *execHandle) reap() {
	h.waitOnce.Do(func() {
		go func() {
			h.err = h.cmd.Wait()
			close(h.done)
		}()
	})
}

func (h *execHandle) Wait() error {
	h.reap()
	<-h.done
	return h.err
}

func (h *execHandle) Terminate(wait time.Duration) error {
	pid := h.PID()
	if pid == 0 {
		return nil
	}
	terminateGroup(pid)
	h.reap()
	select {
	case <-h.done:
		return h.err
	case <-time.After(wait):
	}
	killGroup(pid)
	select {
	case <-h.done:
	case <-time.After(200 * time.Millisecond):
		// best-effort
	}
	return h.err
}
