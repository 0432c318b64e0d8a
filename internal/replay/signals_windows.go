//go:build windows

package replay

import (
	"os"
	"os/exec"
)

// setSpawnAttrs is a no-op on Windows (no Setsid equivalent).
func setSpawnAttrs(cmd *exec.Cmd) {}

// signalTerm falls back to Kill; Windows has no SIGTERM delivery.
func signalTerm(pid int) error {
	return signalKill(pid)
}

func signalKill(pid int) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return p.Kill()
}

// processAlive reports whether pid refers to a live process. FindProcess
// only fails on Windows when the process does not exist.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	_, err := os.FindProcess(pid)
	return err == nil
}
