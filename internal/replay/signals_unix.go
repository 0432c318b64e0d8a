//go:build !windows

package replay

import (
	"os/exec"
	"syscall"
)

// setSpawnAttrs detaches the preview process into its own process group so
// signals reach the whole tree (npm spawns children).
func setSpawnAttrs(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}

// signalTerm sends SIGTERM to the process group of pid.
func signalTerm(pid int) error {
	return syscall.Kill(-pid, syscall.SIGTERM)
}

// signalKill sends SIGKILL to the process group of pid.
func signalKill(pid int) error {
	return syscall.Kill(-pid, syscall.SIGKILL)
}

// processAlive reports whether pid refers to a live process.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return syscall.Kill(pid, 0) == nil
}
