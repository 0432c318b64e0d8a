package browse

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/rewind/internal/git"
	"github.com/joescharf/rewind/internal/models"
	"github.com/joescharf/rewind/internal/store"
)

func newTestReader(t *testing.T) (*Reader, store.Store) {
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
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	require.NoError(t, exec.Command("git", "-C", dir, "add", "-A").Run())
	require.NoError(t, exec.Command("git", "-C", dir, "commit", "-m", "add "+name).Run())
}

func trackRepo(t *testing.T, s store.Store, path string) *models.Repository {
	t.Helper()
	repo := &models.Repository{Name: filepath.Base(path), Path: path, Origin: models.OriginLocal}
	require.NoError(t, s.CreateRepository(context.Background(), repo))
	return repo
}

func findNode(nodes []*Node, name string) *Node {
	for _, n := range nodes {
		if n.Name == name {
			return n
		}
	}
	return nil
}

func TestTree_NestsAndSorts(t *testing.T) {
	r, s := newTestReader(t)
	ctx := context.Background()

	dir := t.TempDir()
	initTestRepo(t, dir)
	commitFile(t, dir, "zeta.txt", "z")
	commitFile(t, dir, "src/app.js", "app")
	commitFile(t, dir, "src/lib/util.js", "util")
	commitFile(t, dir, "alpha.txt", "a")
	repo := trackRepo(t, s, dir)

	nodes, err := r.Tree(ctx, repo.ID, "HEAD")
	require.NoError(t, err)
	require.Len(t, nodes, 3)

	// Directories first, then files alphabetically.
	assert.Equal(t, "src", nodes[0].Name)
	assert.Equal(t, "dir", nodes[0].Type)
	assert.Equal(t, "alpha.txt", nodes[1].Name)
	assert.Equal(t, "zeta.txt", nodes[2].Name)

	src := nodes[0]
	require.Len(t, src.Children, 2)
	assert.Equal(t, "lib", src.Children[0].Name)
	assert.Equal(t, "app.js", src.Children[1].Name)
	assert.Equal(t, "src/app.js", src.Children[1].Path)
	assert.Equal(t, int64(3), src.Children[1].Size)

	lib := src.Children[0]
	require.Len(t, lib.Children, 1)
	assert.Equal(t, "src/lib/util.js", lib.Children[0].Path)
}

func TestTree_HistoricalCommit(t *testing.T) {
	r, s := newTestReader(t)
	ctx := context.Background()

	dir := t.TempDir()
	initTestRepo(t, dir)
	commitFile(t, dir, "only.txt", "1")

	first, err := git.NewClient().RevParse(dir, "HEAD")
	require.NoError(t, err)

	commitFile(t, dir, "later.txt", "2")
	repo := trackRepo(t, s, dir)

	nodes, err := r.Tree(ctx, repo.ID, first)
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, "only.txt", nodes[0].Name)

	nodes, err = r.Tree(ctx, repo.ID, "HEAD")
	require.NoError(t, err)
	assert.NotNil(t, findNode(nodes, "later.txt"))
}

func TestTree_UnknownCommit(t *testing.T) {
	r, s := newTestReader(t)
	ctx := context.Background()

	dir := t.TempDir()
	initTestRepo(t, dir)
	commitFile(t, dir, "a.txt", "1")
	repo := trackRepo(t, s, dir)

	_, err := r.Tree(ctx, repo.ID, "deadbeef")
	assert.True(t, errors.Is(err, git.ErrCommitNotFound))
}

func TestContent_ReadsHistoricalVersion(t *testing.T) {
	r, s := newTestReader(t)
	ctx := context.Background()

	dir := t.TempDir()
	initTestRepo(t, dir)
	commitFile(t, dir, "a.txt", "old")

	first, err := git.NewClient().RevParse(dir, "HEAD")
	require.NoError(t, err)

	commitFile(t, dir, "a.txt", "new")
	repo := trackRepo(t, s, dir)

	fc, err := r.Content(ctx, repo.ID, "a.txt", first)
	require.NoError(t, err)
	assert.Equal(t, "old", fc.Content)
	assert.Equal(t, "a.txt", fc.Path)
	assert.Equal(t, first, fc.CommitRef)

	fc, err = r.Content(ctx, repo.ID, "a.txt", "HEAD")
	require.NoError(t, err)
	assert.Equal(t, "new", fc.Content)
}

func TestContent_PathNotFound(t *testing.T) {
	r, s := newTestReader(t)
	ctx := context.Background()

	dir := t.TempDir()
	initTestRepo(t, dir)
	commitFile(t, dir, "a.txt", "1")
	repo := trackRepo(t, s, dir)

	_, err := r.Content(ctx, repo.ID, "missing.txt", "HEAD")
	assert.True(t, errors.Is(err, ErrPathNotFound))
}

func TestContent_UnknownCommit(t *testing.T) {
	r, s := newTestReader(t)
	ctx := context.Background()

	dir := t.TempDir()
	initTestRepo(t, dir)
	commitFile(t, dir, "a.txt", "1")
	repo := trackRepo(t, s, dir)

	_, err := r.Content(ctx, repo.ID, "a.txt", "deadbeef")
	assert.True(t, errors.Is(err, git.ErrCommitNotFound))
}

func TestBuildTree_SkipsUnknownTypes(t *testing.T) {
	entries := []git.TreeEntry{
		{Type: "blob", Path: "a.txt", Size: 3},
		{Type: "commit", Path: "vendored"}, // submodule
	}
	nodes := buildTree(entries)
	require.Len(t, nodes, 1)
	assert.Equal(t, "a.txt", nodes[0].Name)
}
