package commits

import (
	"context"
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

func newTestIndexer(t *testing.T) (*Indexer, store.Store) {
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

func commit(t *testing.T, dir, message string) {
	t.Helper()
	path := filepath.Join(dir, "file.txt")
	require.NoError(t, os.WriteFile(path, []byte(message), 0o644))
	require.NoError(t, exec.Command("git", "-C", dir, "add", "-A").Run())
	require.NoError(t, exec.Command("git", "-C", dir, "commit", "-m", message).Run())
}

func trackRepo(t *testing.T, s store.Store, path string) *models.Repository {
	t.Helper()
	repo := &models.Repository{Name: filepath.Base(path), Path: path, Origin: models.OriginLocal}
	require.NoError(t, s.CreateRepository(context.Background(), repo))
	return repo
}

func TestSync_NumbersOldestAsOne(t *testing.T) {
	idx, s := newTestIndexer(t)
	ctx := context.Background()

	dir := t.TempDir()
	initTestRepo(t, dir)
	commit(t, dir, "first")
	commit(t, dir, "second")
	commit(t, dir, "third")
	repo := trackRepo(t, s, dir)

	n, err := idx.Sync(ctx, repo.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	page, err := idx.Page(ctx, repo.ID, 1, 10)
	require.NoError(t, err)
	require.Len(t, page.Commits, 3)

	// Newest first with absolute numbers.
	assert.Equal(t, 3, page.Commits[0].Number)
	assert.Equal(t, "third", page.Commits[0].Message)
	assert.Equal(t, 1, page.Commits[2].Number)
	assert.Equal(t, "first", page.Commits[2].Message)
}

func TestSync_RebuildExtendsNumbering(t *testing.T) {
	idx, s := newTestIndexer(t)
	ctx := context.Background()

	dir := t.TempDir()
	initTestRepo(t, dir)
	commit(t, dir, "first")
	repo := trackRepo(t, s, dir)

	n, err := idx.Sync(ctx, repo.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	commit(t, dir, "second")
	n, err = idx.Sync(ctx, repo.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	c, err := idx.Get(ctx, repo.ID, mustHead(t, dir))
	require.NoError(t, err)
	assert.Equal(t, 2, c.Number)
	assert.Equal(t, "second", c.Message)
}

func mustHead(t *testing.T, dir string) string {
	t.Helper()
	hash, err := git.NewClient().RevParse(dir, "HEAD")
	require.NoError(t, err)
	return hash
}

func TestPage_NumbersStableAcrossPageSizes(t *testing.T) {
	idx, s := newTestIndexer(t)
	ctx := context.Background()

	dir := t.TempDir()
	initTestRepo(t, dir)
	for _, m := range []string{"one", "two", "three", "four", "five"} {
		commit(t, dir, m)
	}
	repo := trackRepo(t, s, dir)

	_, err := idx.Sync(ctx, repo.ID)
	require.NoError(t, err)

	// Collect (hash, number) at pageSize 2 and compare against pageSize 5.
	byHash := map[string]int{}
	for p := 1; ; p++ {
		page, err := idx.Page(ctx, repo.ID, p, 2)
		require.NoError(t, err)
		for _, c := range page.Commits {
			byHash[c.Hash] = c.Number
		}
		if !page.HasMore {
			break
		}
	}
	require.Len(t, byHash, 5)

	wide, err := idx.Page(ctx, repo.ID, 1, 5)
	require.NoError(t, err)
	for _, c := range wide.Commits {
		assert.Equal(t, byHash[c.Hash], c.Number, "number for %s changed with page size", c.ShortHash)
	}
}

func TestPage_PastEndIsEmpty(t *testing.T) {
	idx, s := newTestIndexer(t)
	ctx := context.Background()

	dir := t.TempDir()
	initTestRepo(t, dir)
	commit(t, dir, "only")
	repo := trackRepo(t, s, dir)

	_, err := idx.Sync(ctx, repo.ID)
	require.NoError(t, err)

	page, err := idx.Page(ctx, repo.ID, 99, 10)
	require.NoError(t, err)
	assert.Empty(t, page.Commits)
	assert.Equal(t, 1, page.Total)
	assert.False(t, page.HasMore)
}

func TestPage_ClampsInvalidInputs(t *testing.T) {
	idx, s := newTestIndexer(t)
	ctx := context.Background()

	dir := t.TempDir()
	initTestRepo(t, dir)
	commit(t, dir, "only")
	repo := trackRepo(t, s, dir)

	_, err := idx.Sync(ctx, repo.ID)
	require.NoError(t, err)

	page, err := idx.Page(ctx, repo.ID, 0, -5)
	require.NoError(t, err)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 1, page.PageSize)
	assert.Len(t, page.Commits, 1)
}

func TestPage_HasMore(t *testing.T) {
	idx, s := newTestIndexer(t)
	ctx := context.Background()

	dir := t.TempDir()
	initTestRepo(t, dir)
	for _, m := range []string{"one", "two", "three"} {
		commit(t, dir, m)
	}
	repo := trackRepo(t, s, dir)

	_, err := idx.Sync(ctx, repo.ID)
	require.NoError(t, err)

	page, err := idx.Page(ctx, repo.ID, 1, 2)
	require.NoError(t, err)
	assert.True(t, page.HasMore)

	page, err = idx.Page(ctx, repo.ID, 2, 2)
	require.NoError(t, err)
	assert.Len(t, page.Commits, 1)
	assert.False(t, page.HasMore)
}
