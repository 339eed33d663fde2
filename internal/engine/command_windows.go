//go:build windows

package engine

import (
	"os"
	"os/exec"
)

// Windows has no process groups in the POSIX sense; kill the engine process
// itself on both escalation steps.
func setProcessGroup(_ *exec.Cmd) {}

func terminateGroup(pid int) {
	if p, err := os.FindProcess(pid); err == nil {
		_ = p.Kill()
	}
}

func killGroup(pid int) {
	if p, err := os.FindProcess(pid); err == nil {
		_ = p.Kill()
	}
}
