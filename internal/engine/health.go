package engine

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

// healthCheckBody is the minimal known-good source document for the synthetic
// functional test.
const healthCheckBody = "convertd health check\n"

// awaitListening is the warm-up phase after spawn: a bounded retrying connect
// probe. The engine offers no readiness signal, so after the window expires we
// proceed regardless and let health polling judge the instance.
func (s *Supervisor) awaitListening(ctx context.Context) {
	addr := s.addr()
	deadline := time.Now().Add(s.cfg.WarmupWindow)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		conn, err := net.DialTimeout("tcp", addr, min(500*time.Millisecond, remaining))
		if err == nil {
			_ = conn.Close()
			return
		}
		// never sleep past the window; short configured windows must not
		// stretch into a full retry step
		select {
		case <-ctx.Done():
			return
		case <-time.After(min(250*time.Millisecond, time.Until(deadline))):
		}
	}
	s.log.Warn("engine not accepting connections after warm-up window", "addr", addr, "window", s.cfg.WarmupWindow)
}

// CheckReady verifies the engine is not just alive but functionally correct:
// a listening socket alone does not prove the conversion engine behind it
// still works, so a successful TCP probe is followed by a synthetic
// end-to-end conversion.
func (s *Supervisor) CheckReady(ctx context.Context) error {
	addr := s.addr()
	conn, err := net.DialTimeout("tcp", addr, s.cfg.ProbeTimeout)
	if err != nil {
		return fmt.Errorf("probe %s: %w", addr, err)
	}
	_ = conn.Close()
	return s.syntheticConvert(ctx)
}

// syntheticConvert converts a minimal plain-text document to PDF and asserts
// the output exists. Both temp files are removed on every path; removal
// errors are swallowed.
func (s *Supervisor) syntheticConvert(ctx context.Context) error {
	f, err := os.CreateTemp(s.cfg.TempDir, "healthcheck-*.txt")
	if err != nil {
		return fmt.Errorf("write synthetic source: %w", err)
	}
	src := f.Name()
	dest := strings.TrimSuffix(src, ".txt") + ".pdf"
	defer func() {
		_ = os.Remove(src)
		_ = os.Remove(dest)
	}()

	_, werr := f.WriteString(healthCheckBody)
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		return fmt.Errorf("write synthetic source: %w", werr)
	}

	cctx, cancel := context.WithTimeout(ctx, s.cfg.SyntheticTimeout)
	defer cancel()
	if out, err := s.runner.Run(cctx, s.cfg.Tool, s.toolArgs("pdf", src, dest)...); err != nil {
		return fmt.Errorf("synthetic conversion: %w: %s", err, strings.TrimSpace(string(out)))
	}
	if _, err := os.Stat(dest); err != nil {
		return fmt.Errorf("synthetic conversion: %w", ErrOutputMissing)
	}
	return nil
}

func (s *Supervisor) addr() string {
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(s.cfg.Port))
}
