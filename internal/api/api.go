// Package api exposes rewind's operations over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/joescharf/rewind/internal/browse"
	"github.com/joescharf/rewind/internal/commits"
	"github.com/joescharf/rewind/internal/envvars"
	"github.com/joescharf/rewind/internal/git"
	"github.com/joescharf/rewind/internal/models"
	"github.com/joescharf/rewind/internal/ports"
	"github.com/joescharf/rewind/internal/registry"
	"github.com/joescharf/rewind/internal/replay"
)

// Server provides the REST API handlers.
type Server struct {
	registry *registry.Registry
	indexer  *commits.Indexer
	browser  *browse.Reader
	env      *envvars.Resolver
	replay   *replay.Orchestrator
}

// NewServer creates a new API server.
func NewServer(reg *registry.Registry, idx *commits.Indexer, br *browse.Reader, env *envvars.Resolver, orch *replay.Orchestrator) *Server {
	return &Server{
		registry: reg,
		indexer:  idx,
		browser:  br,
		env:      env,
		replay:   orch,
	}
}

// Router returns an http.Handler for the API routes.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/repos", s.listRepos)
	mux.HandleFunc("POST /api/v1/repos", s.addRepo)
	mux.HandleFunc("POST /api/v1/repos/clone", s.cloneRepo)
	mux.HandleFunc("DELETE /api/v1/repos/{id}", s.deleteRepo)

	mux.HandleFunc("POST /api/v1/repos/{id}/sync", s.syncCommits)
	mux.HandleFunc("GET /api/v1/repos/{id}/commits", s.listCommits)

	mux.HandleFunc("GET /api/v1/repos/{id}/tree/{ref}", s.fileTree)
	mux.HandleFunc("GET /api/v1/repos/{id}/file/{ref}/{path...}", s.fileContent)

	mux.HandleFunc("GET /api/v1/servers", s.listServers)
	mux.HandleFunc("POST /api/v1/servers", s.startServer)
	mux.HandleFunc("GET /api/v1/servers/{id}", s.getServer)
	mux.HandleFunc("POST /api/v1/servers/{id}/stop", s.stopServer)
	mux.HandleFunc("DELETE /api/v1/servers/{id}", s.removeServer)
	mux.HandleFunc("POST /api/v1/servers/stop-all", s.stopAllServers)

	mux.HandleFunc("GET /api/v1/env", s.getEnvVars)
	mux.HandleFunc("PUT /api/v1/env", s.setEnvVars)

	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeErr maps domain errors onto HTTP status codes.
func writeErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, registry.ErrDuplicatePath),
		errors.Is(err, registry.ErrRepositoryInUse),
		errors.Is(err, replay.ErrServerStillActive):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, registry.ErrNotAGitRepository),
		errors.Is(err, registry.ErrInvalidDestination),
		errors.Is(err, registry.ErrCloneFailed),
		errors.Is(err, envvars.ErrMissingScopeIdentifier),
		errors.Is(err, envvars.ErrInvalidScope),
		errors.Is(err, ports.ErrPortOutOfRange):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ports.ErrPortUnavailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, git.ErrCommitNotFound),
		errors.Is(err, browse.ErrPathNotFound),
		strings.Contains(err.Error(), "not found"):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// --- Repositories ---

func (s *Server) listRepos(w http.ResponseWriter, r *http.Request) {
	repos, err := s.registry.List(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	if repos == nil {
		repos = []*models.Repository{}
	}
	writeJSON(w, http.StatusOK, repos)
}

func (s *Server) addRepo(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path string `json:"path"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Path == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}
	repo, err := s.registry.AddLocal(r.Context(), req.Path)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, repo)
}

func (s *Server) cloneRepo(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL         string `json:"url"`
		Destination string `json:"destination"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" || req.Destination == "" {
		writeError(w, http.StatusBadRequest, "url and destination are required")
		return
	}
	repo, err := s.registry.AddRemote(r.Context(), req.URL, req.Destination)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, repo)
}

func (s *Server) deleteRepo(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	deleteFiles := r.URL.Query().Get("delete_files") == "true"
	if err := s.registry.Remove(r.Context(), id, deleteFiles); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Commits ---

func (s *Server) syncCommits(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	n, err := s.indexer.Sync(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"synced_count": n})
}

func (s *Server) listCommits(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	page := queryInt(r, "page", 1)
	pageSize := queryInt(r, "pageSize", 20)

	result, err := s.indexer.Page(r.Context(), id, page, pageSize)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// --- Files ---

func (s *Server) fileTree(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ref := r.PathValue("ref")

	nodes, err := s.browser.Tree(r.Context(), id, ref)
	if err != nil {
		writeErr(w, err)
		return
	}
	if nodes == nil {
		nodes = []*browse.Node{}
	}
	writeJSON(w, http.StatusOK, nodes)
}

func (s *Server) fileContent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ref := r.PathValue("ref")
	path := r.PathValue("path")

	content, err := s.browser.Content(r.Context(), id, path, ref)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, content)
}

// --- Servers ---

func (s *Server) listServers(w http.ResponseWriter, r *http.Request) {
	servers, err := s.replay.List(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	if servers == nil {
		servers = []*models.Server{}
	}
	writeJSON(w, http.StatusOK, servers)
}

func (s *Server) startServer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RepoID     string `json:"repo_id"`
		CommitHash string `json:"commit_hash"`
		Port       int    `json:"port,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RepoID == "" || req.CommitHash == "" {
		writeError(w, http.StatusBadRequest, "repo_id and commit_hash are required")
		return
	}
	srv, err := s.replay.Start(r.Context(), req.RepoID, req.CommitHash, req.Port)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, srv)
}

func (s *Server) getServer(w http.ResponseWriter, r *http.Request) {
	srv, err := s.replay.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, srv)
}

func (s *Server) stopServer(w http.ResponseWriter, r *http.Request) {
	stopped, err := s.replay.Stop(r.Context(), r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"stopped": stopped})
}

func (s *Server) removeServer(w http.ResponseWriter, r *http.Request) {
	if err := s.replay.Remove(r.Context(), r.PathValue("id")); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) stopAllServers(w http.ResponseWriter, r *http.Request) {
	count := s.replay.StopAll(r.Context())
	writeJSON(w, http.StatusOK, map[string]int{"stoppedCount": count})
}

// --- Env vars ---

func (s *Server) getEnvVars(w http.ResponseWriter, r *http.Request) {
	scope := models.EnvScope(r.URL.Query().Get("scope"))
	repoID := r.URL.Query().Get("repo_id")
	commitHash := r.URL.Query().Get("commit_hash")

	vars, err := s.env.Get(r.Context(), scope, repoID, commitHash)
	if err != nil {
		writeErr(w, err)
		return
	}
	if vars == nil {
		vars = []*models.EnvVar{}
	}
	writeJSON(w, http.StatusOK, vars)
}

func (s *Server) setEnvVars(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Scope      models.EnvScope   `json:"scope"`
		RepoID     string            `json:"repo_id,omitempty"`
		CommitHash string            `json:"commit_hash,omitempty"`
		Vars       map[string]string `json:"vars"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	vars, err := s.env.Set(r.Context(), req.Scope, req.RepoID, req.CommitHash, req.Vars)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, vars)
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
