// Package replay turns (repository, commit) pairs into running preview
// servers and manages their entire lifetime: isolated worktree checkouts,
// port reservations, spawned processes, and teardown.
package replay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/joescharf/rewind/internal/envvars"
	"github.com/joescharf/rewind/internal/git"
	"github.com/joescharf/rewind/internal/models"
	"github.com/joescharf/rewind/internal/ports"
	"github.com/joescharf/rewind/internal/store"
)

var (
	// ErrServerStillActive means remove was called on a non-terminal server.
	ErrServerStillActive = errors.New("server is still active; stop it first")
	// ErrSpawnTimeout means the process never became ready in time.
	ErrSpawnTimeout = errors.New("server did not become ready before timeout")
	// ErrStopTimeout means the process survived both TERM and KILL.
	ErrStopTimeout = errors.New("server process did not terminate")
)

// Config holds orchestrator tunables.
type Config struct {
	// StateDir is the root for per-server worktree checkouts.
	StateDir string
	// Host is used when building server URLs.
	Host string
	// SpawnTimeout bounds how long a server may sit in starting.
	SpawnTimeout time.Duration
	// StopTimeout bounds the graceful-termination grace period.
	StopTimeout time.Duration
	// StaticCommand serves checkouts with no project tooling. "{port}" is
	// replaced with the allocated port.
	StaticCommand []string
}

func (c *Config) applyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.SpawnTimeout <= 0 {
		c.SpawnTimeout = 30 * time.Second
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = 10 * time.Second
	}
}

// Orchestrator is the single shared owner of the server set, the port table,
// and all spawned preview processes. Safe for concurrent use.
type Orchestrator struct {
	store  store.Store
	git    git.Client
	ports  *ports.Allocator
	env    *envvars.Resolver
	cfg    Config
	logger *slog.Logger

	mu        sync.Mutex
	procs     map[string]*os.Process // server id -> live process
	repoLocks map[string]*sync.Mutex // repo id -> worktree creation lock

	// probe and detect are swappable in tests.
	probe  func(port int) error
	detect func(dir string, port int) ([]string, error)
}

// New creates an Orchestrator. The allocator should already be seeded (see
// Reconcile) before servers are started.
func New(s store.Store, gc git.Client, pa *ports.Allocator, env *envvars.Resolver, cfg Config, logger *slog.Logger) *Orchestrator {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		store:     s,
		git:       gc,
		ports:     pa,
		env:       env,
		cfg:       cfg,
		logger:    logger,
		procs:     make(map[string]*os.Process),
		repoLocks: make(map[string]*sync.Mutex),
	}
	o.probe = o.tcpProbe
	o.detect = func(dir string, port int) ([]string, error) {
		return DetectLaunchCommand(dir, port, cfg.StaticCommand)
	}
	return o
}

// Start launches a preview server for (repoID, commitHash). If a non-terminal
// server already exists for the pair it is returned unchanged; concurrent
// calls for the same pair collapse into a single spawn. The returned record
// is in starting; callers poll List/Get until it reaches running or failed.
func (o *Orchestrator) Start(ctx context.Context, repoID, commitHash string, preferredPort int) (*models.Server, error) {
	repo, err := o.store.GetRepository(ctx, repoID)
	if err != nil {
		return nil, err
	}

	fullHash, err := o.git.RevParse(repo.Path, commitHash)
	if err != nil {
		return nil, err
	}
	shortHash := fullHash
	if len(shortHash) > 7 {
		shortHash = shortHash[:7]
	}

	// The check-then-create step is the dedup critical section.
	o.mu.Lock()
	existing, err := o.store.GetActiveServer(ctx, repoID, fullHash)
	if err != nil {
		o.mu.Unlock()
		return nil, err
	}
	if existing != nil {
		o.mu.Unlock()
		return existing, nil
	}

	srv := &models.Server{
		RepoID:     repoID,
		CommitHash: fullHash,
		ShortHash:  shortHash,
		Status:     models.ServerStatusStarting,
	}
	if err := o.store.CreateServer(ctx, srv); err != nil {
		o.mu.Unlock()
		return nil, err
	}
	o.mu.Unlock()

	// The goroutine owns srv from here; the caller gets a snapshot so the
	// in-flight record is never read while materialize writes it.
	snapshot := *srv
	go o.materialize(srv, repo, preferredPort)

	return &snapshot, nil
}

// materialize runs the slow half of Start: checkout, env, port, spawn,
// readiness. Failures are recorded on the server instead of returned; the
// record is the durable account of what happened.
func (o *Orchestrator) materialize(srv *models.Server, repo *models.Repository, preferredPort int) {
	ctx := context.Background()
	log := o.logger.With("server", srv.ID, "repo", repo.Name, "commit", srv.ShortHash)

	port := 0
	err := func() error {
		// Worktree creation is serialized per repository; concurrent git
		// worktree adds on one repo contend on the same lock files.
		repoLock := o.repoLock(repo.ID)
		repoLock.Lock()
		wtPath := filepath.Join(o.cfg.StateDir, "worktrees", repo.ID, srv.ShortHash+"-"+srv.ID)
		if err := os.MkdirAll(filepath.Dir(wtPath), 0755); err != nil {
			repoLock.Unlock()
			return fmt.Errorf("create worktree parent: %w", err)
		}
		err := o.git.WorktreeAdd(repo.Path, wtPath, srv.CommitHash)
		repoLock.Unlock()
		if err != nil {
			return err
		}
		srv.WorktreePath = wtPath

		env, err := o.env.Effective(ctx, repo.ID, srv.CommitHash)
		if err != nil {
			return err
		}

		port, err = o.ports.Acquire(preferredPort)
		if err != nil {
			return err
		}
		srv.Port = port

		argv, err := o.detect(wtPath, port)
		if err != nil {
			return err
		}

		cmd := exec.Command(argv[0], argv[1:]...)
		cmd.Dir = wtPath
		cmd.Env = append(env, "PORT="+strconv.Itoa(port))
		setSpawnAttrs(cmd)
		if err := cmd.Start(); err != nil {
			return fmt.Errorf("spawn %q: %w", argv[0], err)
		}
		srv.PID = cmd.Process.Pid

		o.mu.Lock()
		o.procs[srv.ID] = cmd.Process
		o.mu.Unlock()

		// Reap the child so it never zombies.
		go func() { _ = cmd.Wait() }()

		return o.awaitReady(srv.PID, port)
	}()

	o.mu.Lock()
	defer o.mu.Unlock()

	// A stop may have raced with materialization; if the record left
	// starting, tear down whatever was acquired instead of promoting.
	current, getErr := o.store.GetServer(ctx, srv.ID)
	if getErr != nil || current.Status != models.ServerStatusStarting {
		o.teardownLocked(ctx, srv, repo.Path)
		return
	}

	if err != nil {
		log.Error("server failed to start", "error", err)
		o.teardownLocked(ctx, srv, repo.Path)
		srv.Status = models.ServerStatusFailed
		srv.Error = err.Error()
		srv.Port = 0
		srv.PID = 0
	} else {
		srv.Status = models.ServerStatusRunning
		srv.URL = fmt.Sprintf("http://%s:%d", o.cfg.Host, port)
		log.Info("server running", "port", port, "url", srv.URL)
	}
	if err := o.store.UpdateServer(ctx, srv); err != nil {
		log.Error("persist server state", "error", err)
	}
}

// awaitReady polls the health probe until the process answers, dies, or the
// spawn timeout elapses.
func (o *Orchestrator) awaitReady(pid, port int) error {
	deadline := time.Now().Add(o.cfg.SpawnTimeout)
	for {
		if !processAlive(pid) {
			return fmt.Errorf("process exited during startup")
		}
		if err := o.probe(port); err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w after %s", ErrSpawnTimeout, o.cfg.SpawnTimeout)
		}
		time.Sleep(100 * time.Millisecond)
	}
}

// teardownLocked kills the tracked process (if any), frees the port, and
// removes the worktree. Callers hold o.mu.
func (o *Orchestrator) teardownLocked(ctx context.Context, srv *models.Server, repoPath string) {
	if proc, ok := o.procs[srv.ID]; ok {
		_ = signalKill(proc.Pid)
		delete(o.procs, srv.ID)
	} else if srv.PID > 0 && processAlive(srv.PID) {
		_ = signalKill(srv.PID)
	}
	if srv.Port > 0 {
		o.ports.Release(srv.Port)
	}
	o.removeWorktree(srv, repoPath)
}

// removeWorktree deletes the server's checkout, best-effort.
func (o *Orchestrator) removeWorktree(srv *models.Server, repoPath string) {
	if srv.WorktreePath == "" {
		return
	}
	if err := o.git.WorktreeRemove(repoPath, srv.WorktreePath, true); err != nil {
		// The worktree may already be gone; fall back to plain removal.
		_ = os.RemoveAll(srv.WorktreePath)
	}
}

// Stop gracefully terminates a server: TERM, a bounded grace period, then
// KILL. Terminal servers are a no-op. The record survives as stopped.
func (o *Orchestrator) Stop(ctx context.Context, serverID string) (bool, error) {
	// The record is read and the decision made under o.mu, so a stop can
	// never interleave with materialize's promotion of a starting record.
	o.mu.Lock()
	srv, err := o.store.GetServer(ctx, serverID)
	if err != nil {
		o.mu.Unlock()
		return false, err
	}
	if srv.Status.Terminal() {
		o.mu.Unlock()
		return false, nil
	}

	if srv.Status == models.ServerStatusStarting {
		// Mid-materialization: the goroutine still owns the process, port,
		// and worktree. Flip the record to stopped here; when materialize
		// sees the record left starting it tears down whatever it acquired
		// instead of promoting.
		now := time.Now().UTC()
		srv.Status = models.ServerStatusStopped
		srv.StoppedAt = &now
		srv.PID = 0
		updateErr := o.store.UpdateServer(ctx, srv)
		o.mu.Unlock()
		if updateErr != nil {
			return false, updateErr
		}
		o.logger.Info("server stopped", "server", srv.ID, "commit", srv.ShortHash)
		return true, nil
	}

	delete(o.procs, serverID)
	o.mu.Unlock()

	if srv.PID > 0 && processAlive(srv.PID) {
		if err := o.terminate(srv.PID); err != nil {
			return false, err
		}
	}

	if srv.Port > 0 {
		o.ports.Release(srv.Port)
	}

	repo, err := o.store.GetRepository(ctx, srv.RepoID)
	if err == nil {
		o.removeWorktree(srv, repo.Path)
	}

	now := time.Now().UTC()
	srv.Status = models.ServerStatusStopped
	srv.StoppedAt = &now
	srv.PID = 0
	if err := o.store.UpdateServer(ctx, srv); err != nil {
		return false, err
	}

	o.logger.Info("server stopped", "server", srv.ID, "commit", srv.ShortHash)
	return true, nil
}

// terminate delivers TERM, waits up to StopTimeout, then escalates to KILL.
func (o *Orchestrator) terminate(pid int) error {
	_ = signalTerm(pid)

	deadline := time.Now().Add(o.cfg.StopTimeout)
	for time.Now().Before(deadline) {
		if !processAlive(pid) {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	_ = signalKill(pid)
	for i := 0; i < 20; i++ {
		if !processAlive(pid) {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("%w: pid %d", ErrStopTimeout, pid)
}

// StopAll stops every non-terminal server, best-effort, and returns how many
// were stopped. One failure does not prevent attempting the rest.
func (o *Orchestrator) StopAll(ctx context.Context) int {
	servers, err := o.store.ListActiveServers(ctx)
	if err != nil {
		o.logger.Error("list active servers", "error", err)
		return 0
	}

	stopped := 0
	for _, srv := range servers {
		ok, err := o.Stop(ctx, srv.ID)
		if err != nil {
			o.logger.Error("stop server", "server", srv.ID, "error", err)
			continue
		}
		if ok {
			stopped++
		}
	}
	return stopped
}

// Remove deletes a server record. Non-terminal servers are rejected; the
// caller must stop first.
func (o *Orchestrator) Remove(ctx context.Context, serverID string) error {
	srv, err := o.store.GetServer(ctx, serverID)
	if err != nil {
		return err
	}
	if !srv.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrServerStillActive, serverID, srv.Status)
	}

	// Normally gone at stop time; failed servers may leave a directory.
	if srv.WorktreePath != "" {
		if repo, err := o.store.GetRepository(ctx, srv.RepoID); err == nil {
			o.removeWorktree(srv, repo.Path)
		}
	}

	return o.store.DeleteServer(ctx, serverID)
}

// Get returns one server record.
func (o *Orchestrator) Get(ctx context.Context, serverID string) (*models.Server, error) {
	return o.store.GetServer(ctx, serverID)
}

// List returns every server record, newest first, including stopped and
// failed ones so the history of past runs stays inspectable.
func (o *Orchestrator) List(ctx context.Context) ([]*models.Server, error) {
	return o.store.ListServers(ctx)
}

// Reconcile aligns persisted state with reality after a daemon restart.
// Non-terminal records whose process is still alive are re-adopted and their
// ports reserved; records with no live process are marked failed and their
// resources reclaimed. Returns the number of records changed.
func (o *Orchestrator) Reconcile(ctx context.Context) (int, error) {
	servers, err := o.store.ListActiveServers(ctx)
	if err != nil {
		return 0, err
	}

	updated := 0
	prunedRepos := make(map[string]bool)
	for _, srv := range servers {
		if srv.PID > 0 && processAlive(srv.PID) {
			o.ports.Reserve(srv.Port)
			o.mu.Lock()
			if proc, err := os.FindProcess(srv.PID); err == nil {
				o.procs[srv.ID] = proc
			}
			o.mu.Unlock()
			continue
		}

		srv.Status = models.ServerStatusFailed
		srv.Error = "orphaned: process no longer running"
		srv.PID = 0
		now := time.Now().UTC()
		srv.StoppedAt = &now

		if repo, err := o.store.GetRepository(ctx, srv.RepoID); err == nil {
			o.removeWorktree(srv, repo.Path)
			if !prunedRepos[srv.RepoID] {
				_ = o.git.WorktreePrune(repo.Path)
				prunedRepos[srv.RepoID] = true
			}
		}

		if err := o.store.UpdateServer(ctx, srv); err != nil {
			o.logger.Error("reconcile server", "server", srv.ID, "error", err)
			continue
		}
		updated++
		o.logger.Warn("marked orphaned server failed", "server", srv.ID, "commit", srv.ShortHash)
	}
	return updated, nil
}

func (o *Orchestrator) repoLock(repoID string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	lock, ok := o.repoLocks[repoID]
	if !ok {
		lock = &sync.Mutex{}
		o.repoLocks[repoID] = lock
	}
	return lock
}

func (o *Orchestrator) tcpProbe(port int) error {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(o.cfg.Host, strconv.Itoa(port)), 500*time.Millisecond)
	if err != nil {
		return err
	}
	return conn.Close()
}
