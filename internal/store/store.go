package store

import (
	"context"

	"github.com/joescharf/rewind/internal/models"
)

// Store defines the persistence interface for rewind.
type Store interface {
	// Repositories
	CreateRepository(ctx context.Context, r *models.Repository) error
	GetRepository(ctx context.Context, id string) (*models.Repository, error)
	GetRepositoryByPath(ctx context.Context, path string) (*models.Repository, error)
	ListRepositories(ctx context.Context) ([]*models.Repository, error)
	DeleteRepository(ctx context.Context, id string) error

	// Commit cache
	ReplaceCommits(ctx context.Context, repoID string, commits []*models.Commit) error
	ListCommits(ctx context.Context, repoID string, offset, limit int) ([]*models.Commit, error)
	CountCommits(ctx context.Context, repoID string) (int, error)
	GetCommit(ctx context.Context, repoID, hash string) (*models.Commit, error)

	// Servers
	CreateServer(ctx context.Context, s *models.Server) error
	GetServer(ctx context.Context, id string) (*models.Server, error)
	ListServers(ctx context.Context) ([]*models.Server, error)
	ListServersByRepo(ctx context.Context, repoID string) ([]*models.Server, error)
	ListActiveServers(ctx context.Context) ([]*models.Server, error)
	GetActiveServer(ctx context.Context, repoID, commitHash string) (*models.Server, error)
	UpdateServer(ctx context.Context, s *models.Server) error
	DeleteServer(ctx context.Context, id string) error

	// Env vars
	ReplaceEnvVars(ctx context.Context, scope models.EnvScope, repoID, commitHash string, vars []*models.EnvVar) error
	ListEnvVars(ctx context.Context, scope models.EnvScope, repoID, commitHash string) ([]*models.EnvVar, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
