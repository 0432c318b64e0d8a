package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRepoOrigin(t *testing.T) {
	assert.False(t, OriginLocal.IsCloned())
	assert.Empty(t, OriginLocal.CloneURL())

	cloned := ClonedFrom("https://example.com/app.git")
	assert.True(t, cloned.IsCloned())
	assert.Equal(t, "https://example.com/app.git", cloned.CloneURL())

	// The bare prefix with no URL is not a valid cloned origin.
	assert.False(t, RepoOrigin("cloned-from:").IsCloned())
}

func TestServerStatus_Terminal(t *testing.T) {
	assert.False(t, ServerStatusStarting.Terminal())
	assert.False(t, ServerStatusRunning.Terminal())
	assert.True(t, ServerStatusStopped.Terminal())
	assert.True(t, ServerStatusFailed.Terminal())
}

func TestEnvScope_Valid(t *testing.T) {
	assert.True(t, ScopeGlobal.Valid())
	assert.True(t, ScopeProject.Valid())
	assert.True(t, ScopeCommit.Valid())
	assert.False(t, EnvScope("bogus").Valid())
	assert.False(t, EnvScope("").Valid())
}
