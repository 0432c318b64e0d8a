package cmd

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/rewind/internal/daemon"
)

func TestServePIDFile_Path(t *testing.T) {
	dir := testEnv(t)

	pf := servePIDFile()
	assert.Equal(t, filepath.Join(dir, daemon.FileName), pf.Path)
}

func TestServeStopRun_NotRunning(t *testing.T) {
	testEnv(t)

	// No PID file exists; stop is a polite no-op.
	err := serveStopRun()
	assert.NoError(t, err)
}

func TestServeDetachRun_AlreadyRunning(t *testing.T) {
	dir := testEnv(t)

	// Write a PID file for the current process (which is alive).
	pf := daemon.ForStateDir(dir)
	require.NoError(t, pf.Write())

	err := serveDetachRun()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")
}
