// Package commits maintains the numbered commit cache for tracked repositories.
package commits

import (
	"context"
	"fmt"

	"github.com/joescharf/rewind/internal/git"
	"github.com/joescharf/rewind/internal/models"
	"github.com/joescharf/rewind/internal/store"
)

// Indexer reads commit logs on demand and serves paginated views of the
// cached history. Syncing is always explicit: reading a page never touches
// the repository, so large histories are only walked when asked.
type Indexer struct {
	store store.Store
	git   git.Client
}

// New creates an Indexer.
func New(s store.Store, gc git.Client) *Indexer {
	return &Indexer{store: s, git: gc}
}

// Sync rebuilds the commit cache for a repository from its current HEAD
// history and returns the number of commits indexed. The oldest commit gets
// number 1. A resync after a force-push renumbers; the new numbering is
// authoritative.
func (i *Indexer) Sync(ctx context.Context, repoID string) (int, error) {
	repo, err := i.store.GetRepository(ctx, repoID)
	if err != nil {
		return 0, err
	}

	entries, err := i.git.Log(ctx, repo.Path, "HEAD")
	if err != nil {
		return 0, fmt.Errorf("read commit log: %w", err)
	}

	// git log is newest-first; number so the oldest entry is 1.
	total := len(entries)
	commits := make([]*models.Commit, total)
	for idx, e := range entries {
		commits[idx] = &models.Commit{
			RepoID:      repoID,
			Hash:        e.Hash,
			ShortHash:   e.ShortHash,
			Message:     e.Message,
			AuthorName:  e.AuthorName,
			AuthorEmail: e.AuthorEmail,
			Timestamp:   e.Timestamp,
			Number:      total - idx,
		}
	}

	if err := i.store.ReplaceCommits(ctx, repoID, commits); err != nil {
		return 0, err
	}
	return total, nil
}

// Page returns one window of the cached history, newest first. Page and
// pageSize below 1 are clamped to 1. Requesting past the end returns an
// empty page with HasMore=false. Commit numbers are absolute, independent
// of the requested window.
func (i *Indexer) Page(ctx context.Context, repoID string, page, pageSize int) (*models.CommitPage, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 1
	}

	total, err := i.store.CountCommits(ctx, repoID)
	if err != nil {
		return nil, err
	}

	offset := (page - 1) * pageSize
	var commits []*models.Commit
	if offset < total {
		commits, err = i.store.ListCommits(ctx, repoID, offset, pageSize)
		if err != nil {
			return nil, err
		}
	}
	if commits == nil {
		commits = []*models.Commit{}
	}

	return &models.CommitPage{
		Commits:  commits,
		Total:    total,
		Page:     page,
		PageSize: pageSize,
		HasMore:  offset+len(commits) < total,
	}, nil
}

// Get looks up a single cached commit by hash.
func (i *Indexer) Get(ctx context.Context, repoID, hash string) (*models.Commit, error) {
	return i.store.GetCommit(ctx, repoID, hash)
}
