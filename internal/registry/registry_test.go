package registry

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/rewind/internal/git"
	"github.com/joescharf/rewind/internal/models"
	"github.com/joescharf/rewind/internal/store"
)

func newTestRegistry(t *testing.T) (*Registry, store.Store) {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return New(s, git.NewClient()), s
}

func initTestRepo(t *testing.T, dir string) {
	t.Helper()
	cmds := [][]string{
		{"git", "-C", dir, "init"},
		{"git", "-C", dir, "config", "user.email", "test@test.com"},
		{"git", "-C", dir, "config", "user.name", "Test"},
	}
	for _, args := range cmds {
		require.NoError(t, exec.Command(args[0], args[1:]...).Run())
	}
}

func commitFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	require.NoError(t, exec.Command("git", "-C", dir, "add", "-A").Run())
	require.NoError(t, exec.Command("git", "-C", dir, "commit", "-m", "add "+name).Run())
}

func TestAddLocal(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	dir := t.TempDir()
	initTestRepo(t, dir)

	repo, err := reg.AddLocal(ctx, dir)
	require.NoError(t, err)
	assert.NotEmpty(t, repo.ID)
	assert.Equal(t, filepath.Base(repo.Path), repo.Name)
	assert.Equal(t, models.OriginLocal, repo.Origin)
	assert.False(t, repo.Origin.IsCloned())
}

func TestAddLocal_NormalizesToRepoRoot(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	dir := t.TempDir()
	initTestRepo(t, dir)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))
	commitFile(t, dir, "a.txt", "1")

	repo, err := reg.AddLocal(ctx, filepath.Join(dir, "sub"))
	require.NoError(t, err)

	resolved, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	assert.Equal(t, resolved, repo.Path)
}

func TestAddLocal_NotAGitRepository(t *testing.T) {
	reg, _ := newTestRegistry(t)

	_, err := reg.AddLocal(context.Background(), t.TempDir())
	assert.True(t, errors.Is(err, ErrNotAGitRepository))
}

func TestAddLocal_DuplicatePath(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	dir := t.TempDir()
	initTestRepo(t, dir)

	_, err := reg.AddLocal(ctx, dir)
	require.NoError(t, err)

	_, err = reg.AddLocal(ctx, dir)
	assert.True(t, errors.Is(err, ErrDuplicatePath))
}

func TestAddRemote_LocalClone(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	src := t.TempDir()
	initTestRepo(t, src)
	commitFile(t, src, "a.txt", "1")

	dest := filepath.Join(t.TempDir(), "myclone")
	repo, err := reg.AddRemote(ctx, src, dest)
	require.NoError(t, err)

	assert.True(t, repo.Origin.IsCloned())
	assert.Equal(t, src, repo.Origin.CloneURL())
	assert.FileExists(t, filepath.Join(repo.Path, "a.txt"))
}

func TestAddRemote_NonEmptyDestination(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	dest := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dest, "junk"), []byte("x"), 0o644))

	_, err := reg.AddRemote(ctx, "https://example.com/x.git", dest)
	assert.True(t, errors.Is(err, ErrInvalidDestination))
}

func TestAddRemote_CloneFailure(t *testing.T) {
	reg, _ := newTestRegistry(t)

	dest := filepath.Join(t.TempDir(), "clone")
	_, err := reg.AddRemote(context.Background(), "/nonexistent/repo", dest)
	assert.True(t, errors.Is(err, ErrCloneFailed))
}

func TestRemove_RejectsActiveServers(t *testing.T) {
	reg, s := newTestRegistry(t)
	ctx := context.Background()

	dir := t.TempDir()
	initTestRepo(t, dir)
	repo, err := reg.AddLocal(ctx, dir)
	require.NoError(t, err)

	srv := &models.Server{RepoID: repo.ID, CommitHash: "abc", ShortHash: "abc", Status: models.ServerStatusRunning}
	require.NoError(t, s.CreateServer(ctx, srv))

	err = reg.Remove(ctx, repo.ID, false)
	assert.True(t, errors.Is(err, ErrRepositoryInUse))

	// Terminal servers do not block removal and get cleaned up with it.
	now := time.Now().UTC()
	srv.Status = models.ServerStatusStopped
	srv.StoppedAt = &now
	require.NoError(t, s.UpdateServer(ctx, srv))

	require.NoError(t, reg.Remove(ctx, repo.ID, false))

	_, err = s.GetServer(ctx, srv.ID)
	assert.Error(t, err)
}

func TestRemove_KeepsLocalFiles(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	dir := t.TempDir()
	initTestRepo(t, dir)
	repo, err := reg.AddLocal(ctx, dir)
	require.NoError(t, err)

	// deleteFiles only applies to clones; local repos are never touched.
	require.NoError(t, reg.Remove(ctx, repo.ID, true))
	assert.DirExists(t, dir)
}

func TestRemove_DeletesClonedFiles(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	src := t.TempDir()
	initTestRepo(t, src)
	commitFile(t, src, "a.txt", "1")

	dest := filepath.Join(t.TempDir(), "clone")
	repo, err := reg.AddRemote(ctx, src, dest)
	require.NoError(t, err)

	require.NoError(t, reg.Remove(ctx, repo.ID, true))
	_, statErr := os.Stat(repo.Path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestRepoNameFromURL(t *testing.T) {
	cases := map[string]string{
		"https://github.com/owner/myrepo.git": "myrepo",
		"https://github.com/owner/myrepo":     "myrepo",
		"git@github.com:owner/myrepo.git":     "myrepo",
		"https://example.com/deep/path/app/":  "app",
	}
	for url, want := range cases {
		assert.Equal(t, want, repoNameFromURL(url, "/tmp/fallback"), "url %s", url)
	}
}
