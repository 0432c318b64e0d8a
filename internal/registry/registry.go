// Package registry tracks which git repositories rewind knows about.
package registry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joescharf/rewind/internal/git"
	"github.com/joescharf/rewind/internal/models"
	"github.com/joescharf/rewind/internal/store"
)

var (
	// ErrNotAGitRepository means the path is not inside a git working tree.
	ErrNotAGitRepository = errors.New("not a git repository")
	// ErrDuplicatePath means the path is already tracked.
	ErrDuplicatePath = errors.New("repository path already tracked")
	// ErrInvalidDestination means the clone destination exists and is non-empty.
	ErrInvalidDestination = errors.New("invalid clone destination")
	// ErrCloneFailed wraps the underlying git clone failure.
	ErrCloneFailed = errors.New("clone failed")
	// ErrRepositoryInUse means servers still reference the repository.
	ErrRepositoryInUse = errors.New("repository has active servers")
)

// Registry manages tracked repository records.
type Registry struct {
	store store.Store
	git   git.Client
}

// New creates a Registry.
func New(s store.Store, gc git.Client) *Registry {
	return &Registry{store: s, git: gc}
}

// AddLocal registers an existing local repository by path.
func (r *Registry) AddLocal(ctx context.Context, path string) (*models.Repository, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve path: %w", err)
	}

	if !r.git.IsRepository(abs) {
		return nil, fmt.Errorf("%w: %s", ErrNotAGitRepository, abs)
	}

	root, err := r.git.RepoRoot(abs)
	if err == nil {
		abs = root
	}

	if existing, err := r.store.GetRepositoryByPath(ctx, abs); err == nil && existing != nil {
		return nil, fmt.Errorf("%w: %s", ErrDuplicatePath, abs)
	}

	repo := &models.Repository{
		Name:   filepath.Base(abs),
		Path:   abs,
		Origin: models.OriginLocal,
	}
	if err := r.store.CreateRepository(ctx, repo); err != nil {
		return nil, err
	}
	return repo, nil
}

// AddRemote clones url into destination and registers the clone.
// The destination must not exist, or must be an empty directory.
func (r *Registry) AddRemote(ctx context.Context, url, destination string) (*models.Repository, error) {
	abs, err := filepath.Abs(destination)
	if err != nil {
		return nil, fmt.Errorf("resolve destination: %w", err)
	}

	if entries, err := os.ReadDir(abs); err == nil && len(entries) > 0 {
		return nil, fmt.Errorf("%w: %s exists and is not empty", ErrInvalidDestination, abs)
	}

	if existing, err := r.store.GetRepositoryByPath(ctx, abs); err == nil && existing != nil {
		return nil, fmt.Errorf("%w: %s", ErrDuplicatePath, abs)
	}

	if err := r.git.Clone(ctx, url, abs); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrCloneFailed, err)
	}

	repo := &models.Repository{
		Name:   repoNameFromURL(url, abs),
		Path:   abs,
		Origin: models.ClonedFrom(url),
	}
	if err := r.store.CreateRepository(ctx, repo); err != nil {
		return nil, err
	}
	return repo, nil
}

// Remove deletes the tracking record for a repository. It refuses while any
// non-terminal server references the repository so running processes are
// never orphaned. Filesystem contents are left untouched unless deleteFiles
// is set, and then only for clones.
func (r *Registry) Remove(ctx context.Context, repoID string, deleteFiles bool) error {
	repo, err := r.store.GetRepository(ctx, repoID)
	if err != nil {
		return err
	}

	servers, err := r.store.ListServersByRepo(ctx, repoID)
	if err != nil {
		return err
	}
	for _, srv := range servers {
		if !srv.Status.Terminal() {
			return fmt.Errorf("%w: server %s is %s", ErrRepositoryInUse, srv.ID, srv.Status)
		}
	}
	for _, srv := range servers {
		if err := r.store.DeleteServer(ctx, srv.ID); err != nil {
			return err
		}
	}

	if err := r.store.DeleteRepository(ctx, repoID); err != nil {
		return err
	}

	if deleteFiles && repo.Origin.IsCloned() {
		if err := os.RemoveAll(repo.Path); err != nil {
			return fmt.Errorf("delete repository files: %w", err)
		}
	}
	return nil
}

// List returns all tracked repositories in insertion order.
func (r *Registry) List(ctx context.Context) ([]*models.Repository, error) {
	return r.store.ListRepositories(ctx)
}

// Get returns one repository by id.
func (r *Registry) Get(ctx context.Context, repoID string) (*models.Repository, error) {
	return r.store.GetRepository(ctx, repoID)
}

// repoNameFromURL derives a display name from a clone URL, falling back to
// the destination directory name.
func repoNameFromURL(url, dest string) string {
	trimmed := strings.TrimSuffix(strings.TrimRight(url, "/"), ".git")
	if idx := strings.LastIndexAny(trimmed, "/:"); idx >= 0 && idx < len(trimmed)-1 {
		return trimmed[idx+1:]
	}
	return filepath.Base(dest)
}
