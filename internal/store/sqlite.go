package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/joescharf/rewind/internal/models"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite only supports one concurrent writer. Limiting to a single connection
	// serializes all DB access through Go's connection pool, preventing
	// "database is locked" errors from concurrent HTTP requests.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	// Set busy timeout so concurrent writes wait instead of failing immediately
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// newULID generates a new ULID string.
func newULID() string {
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(entropy, 0)).String()
}

// Migrate runs all embedded SQL migration files in order.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	// Create migrations tracking table
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	// Sort by filename
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()

		// Check if already applied
		var count int
		err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Repositories ---

func (s *SQLiteStore) CreateRepository(ctx context.Context, r *models.Repository) error {
	if r.ID == "" {
		r.ID = newULID()
	}
	now := time.Now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO repositories (id, name, path, origin, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.Name, r.Path, string(r.Origin), r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create repository: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetRepository(ctx context.Context, id string) (*models.Repository, error) {
	r := &models.Repository{}
	var origin string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, path, origin, created_at, updated_at
		FROM repositories WHERE id = ?`, id,
	).Scan(&r.ID, &r.Name, &r.Path, &origin, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("repository not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get repository: %w", err)
	}
	r.Origin = models.RepoOrigin(origin)
	return r, nil
}

func (s *SQLiteStore) GetRepositoryByPath(ctx context.Context, path string) (*models.Repository, error) {
	r := &models.Repository{}
	var origin string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, path, origin, created_at, updated_at
		FROM repositories WHERE path = ?`, path,
	).Scan(&r.ID, &r.Name, &r.Path, &origin, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("repository not found at path: %s", path)
	}
	if err != nil {
		return nil, fmt.Errorf("get repository by path: %w", err)
	}
	r.Origin = models.RepoOrigin(origin)
	return r, nil
}

func (s *SQLiteStore) ListRepositories(ctx context.Context) ([]*models.Repository, error) {
	// ULIDs sort by creation time, so ordering by id preserves insertion order.
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, path, origin, created_at, updated_at
		FROM repositories ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list repositories: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var repos []*models.Repository
	for rows.Next() {
		r := &models.Repository{}
		var origin string
		if err := rows.Scan(&r.ID, &r.Name, &r.Path, &origin, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan repository: %w", err)
		}
		r.Origin = models.RepoOrigin(origin)
		repos = append(repos, r)
	}
	return repos, rows.Err()
}

func (s *SQLiteStore) DeleteRepository(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM repositories WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete repository: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("repository not found: %s", id)
	}
	return nil
}

// --- Commit cache ---

// ReplaceCommits rebuilds the commit cache for a repository in one transaction.
// Numbering in the provided slice is taken as-is.
func (s *SQLiteStore) ReplaceCommits(ctx context.Context, repoID string, commits []*models.Commit) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM commits WHERE repo_id = ?", repoID); err != nil {
		return fmt.Errorf("clear commit cache: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO commits (repo_id, hash, short_hash, message, author_name, author_email, timestamp, commit_number)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, c := range commits {
		if _, err := stmt.ExecContext(ctx,
			repoID, c.Hash, c.ShortHash, c.Message, c.AuthorName, c.AuthorEmail, c.Timestamp, c.Number,
		); err != nil {
			return fmt.Errorf("insert commit %s: %w", c.ShortHash, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListCommits(ctx context.Context, repoID string, offset, limit int) ([]*models.Commit, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT repo_id, hash, short_hash, message, author_name, author_email, timestamp, commit_number
		FROM commits WHERE repo_id = ?
		ORDER BY commit_number DESC LIMIT ? OFFSET ?`, repoID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list commits: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var commits []*models.Commit
	for rows.Next() {
		c := &models.Commit{}
		if err := rows.Scan(&c.RepoID, &c.Hash, &c.ShortHash, &c.Message,
			&c.AuthorName, &c.AuthorEmail, &c.Timestamp, &c.Number); err != nil {
			return nil, fmt.Errorf("scan commit: %w", err)
		}
		commits = append(commits, c)
	}
	return commits, rows.Err()
}

func (s *SQLiteStore) CountCommits(ctx context.Context, repoID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM commits WHERE repo_id = ?", repoID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count commits: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) GetCommit(ctx context.Context, repoID, hash string) (*models.Commit, error) {
	c := &models.Commit{}
	err := s.db.QueryRowContext(ctx,
		`SELECT repo_id, hash, short_hash, message, author_name, author_email, timestamp, commit_number
		FROM commits WHERE repo_id = ? AND hash = ?`, repoID, hash,
	).Scan(&c.RepoID, &c.Hash, &c.ShortHash, &c.Message,
		&c.AuthorName, &c.AuthorEmail, &c.Timestamp, &c.Number)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("commit not found: %s", hash)
	}
	if err != nil {
		return nil, fmt.Errorf("get commit: %w", err)
	}
	return c, nil
}

// --- Servers ---

func (s *SQLiteStore) CreateServer(ctx context.Context, srv *models.Server) error {
	if srv.ID == "" {
		srv.ID = newULID()
	}
	if srv.StartedAt.IsZero() {
		srv.StartedAt = time.Now().UTC()
	}
	if srv.Status == "" {
		srv.Status = models.ServerStatusStarting
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO servers (id, repo_id, commit_hash, short_hash, port, url, status, pid, worktree_path, error, started_at, stopped_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		srv.ID, srv.RepoID, srv.CommitHash, srv.ShortHash, srv.Port, srv.URL,
		string(srv.Status), srv.PID, srv.WorktreePath, srv.Error, srv.StartedAt, srv.StoppedAt,
	)
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}
	return nil
}

const serverColumns = `id, repo_id, commit_hash, short_hash, port, url, status, pid, worktree_path, error, started_at, stopped_at`

func scanServer(row interface{ Scan(...any) error }) (*models.Server, error) {
	srv := &models.Server{}
	var status string
	var stoppedAt sql.NullTime
	err := row.Scan(&srv.ID, &srv.RepoID, &srv.CommitHash, &srv.ShortHash,
		&srv.Port, &srv.URL, &status, &srv.PID, &srv.WorktreePath, &srv.Error,
		&srv.StartedAt, &stoppedAt)
	if err != nil {
		return nil, err
	}
	srv.Status = models.ServerStatus(status)
	if stoppedAt.Valid {
		srv.StoppedAt = &stoppedAt.Time
	}
	return srv, nil
}

func (s *SQLiteStore) GetServer(ctx context.Context, id string) (*models.Server, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+serverColumns+` FROM servers WHERE id = ?`, id)
	srv, err := scanServer(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("server not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get server: %w", err)
	}
	return srv, nil
}

func (s *SQLiteStore) ListServers(ctx context.Context) ([]*models.Server, error) {
	return s.queryServers(ctx, `SELECT `+serverColumns+` FROM servers ORDER BY started_at DESC`)
}

func (s *SQLiteStore) ListServersByRepo(ctx context.Context, repoID string) ([]*models.Server, error) {
	return s.queryServers(ctx,
		`SELECT `+serverColumns+` FROM servers WHERE repo_id = ? ORDER BY started_at DESC`, repoID)
}

func (s *SQLiteStore) ListActiveServers(ctx context.Context) ([]*models.Server, error) {
	return s.queryServers(ctx,
		`SELECT `+serverColumns+` FROM servers WHERE status IN ('starting', 'running') ORDER BY started_at DESC`)
}

// GetActiveServer returns the non-terminal server for (repoID, commitHash), if any.
func (s *SQLiteStore) GetActiveServer(ctx context.Context, repoID, commitHash string) (*models.Server, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+serverColumns+` FROM servers
		WHERE repo_id = ? AND commit_hash = ? AND status IN ('starting', 'running')
		ORDER BY started_at DESC LIMIT 1`, repoID, commitHash)
	srv, err := scanServer(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get active server: %w", err)
	}
	return srv, nil
}

func (s *SQLiteStore) queryServers(ctx context.Context, query string, args ...any) ([]*models.Server, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list servers: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var servers []*models.Server
	for rows.Next() {
		srv, err := scanServer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan server: %w", err)
		}
		servers = append(servers, srv)
	}
	return servers, rows.Err()
}

func (s *SQLiteStore) UpdateServer(ctx context.Context, srv *models.Server) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE servers SET port=?, url=?, status=?, pid=?, worktree_path=?, error=?, stopped_at=? WHERE id=?`,
		srv.Port, srv.URL, string(srv.Status), srv.PID, srv.WorktreePath, srv.Error, srv.StoppedAt, srv.ID,
	)
	if err != nil {
		return fmt.Errorf("update server: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("server not found: %s", srv.ID)
	}
	return nil
}

func (s *SQLiteStore) DeleteServer(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM servers WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete server: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("server not found: %s", id)
	}
	return nil
}

// --- Env vars ---

// ReplaceEnvVars swaps the full variable set for one scope key in a single
// transaction. Callers are responsible for key trimming and validation.
func (s *SQLiteStore) ReplaceEnvVars(ctx context.Context, scope models.EnvScope, repoID, commitHash string, vars []*models.EnvVar) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM env_vars WHERE scope = ? AND repo_id = ? AND commit_hash = ?",
		string(scope), repoID, commitHash); err != nil {
		return fmt.Errorf("clear env vars: %w", err)
	}

	for _, v := range vars {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO env_vars (scope, repo_id, commit_hash, key, value)
			VALUES (?, ?, ?, ?, ?)`,
			string(scope), repoID, commitHash, v.Key, v.Value); err != nil {
			return fmt.Errorf("insert env var %s: %w", v.Key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListEnvVars(ctx context.Context, scope models.EnvScope, repoID, commitHash string) ([]*models.EnvVar, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT scope, repo_id, commit_hash, key, value FROM env_vars
		WHERE scope = ? AND repo_id = ? AND commit_hash = ? ORDER BY key`,
		string(scope), repoID, commitHash)
	if err != nil {
		return nil, fmt.Errorf("list env vars: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var vars []*models.EnvVar
	for rows.Next() {
		v := &models.EnvVar{}
		var sc string
		if err := rows.Scan(&sc, &v.RepoID, &v.CommitHash, &v.Key, &v.Value); err != nil {
			return nil, fmt.Errorf("scan env var: %w", err)
		}
		v.Scope = models.EnvScope(sc)
		vars = append(vars, v)
	}
	return vars, rows.Err()
}
