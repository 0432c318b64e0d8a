// Package envvars resolves the effective process environment for preview
// servers from scoped overrides.
package envvars

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/joescharf/rewind/internal/models"
	"github.com/joescharf/rewind/internal/store"
)

// ErrMissingScopeIdentifier means a project or commit scope operation lacked
// its repository id or commit hash.
var ErrMissingScopeIdentifier = errors.New("missing scope identifier")

// ErrInvalidScope means the scope is not one of global, project, commit.
var ErrInvalidScope = errors.New("invalid env var scope")

// Resolver reads scoped overrides from the store and overlays them on a
// base environment. It never mutates any running process.
type Resolver struct {
	store store.Store

	// baseEnv overrides os.Environ when non-nil. Tests use this.
	baseEnv []string
}

// New creates a Resolver backed by the given store.
func New(s store.Store) *Resolver {
	return &Resolver{store: s}
}

// NewWithBase creates a Resolver with a fixed base environment.
func NewWithBase(s store.Store, base []string) *Resolver {
	return &Resolver{store: s, baseEnv: base}
}

// Effective computes the environment for a server of (repoID, commitHash):
// process environment, then global, project, and commit overrides, with
// later layers winning on key collision. The result is sorted by key so
// output is deterministic.
func (r *Resolver) Effective(ctx context.Context, repoID, commitHash string) ([]string, error) {
	base := r.baseEnv
	if base == nil {
		base = os.Environ()
	}

	merged := make(map[string]string, len(base))
	for _, kv := range base {
		if k, v, ok := strings.Cut(kv, "="); ok {
			merged[k] = v
		}
	}

	layers := []struct {
		scope      models.EnvScope
		repoID     string
		commitHash string
	}{
		{models.ScopeGlobal, "", ""},
		{models.ScopeProject, repoID, ""},
		{models.ScopeCommit, repoID, commitHash},
	}
	for _, layer := range layers {
		vars, err := r.store.ListEnvVars(ctx, layer.scope, layer.repoID, layer.commitHash)
		if err != nil {
			return nil, fmt.Errorf("load %s env vars: %w", layer.scope, err)
		}
		for _, v := range vars {
			merged[v.Key] = v.Value
		}
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, k+"="+merged[k])
	}
	return env, nil
}

// Get returns the stored variable set for one scope key.
func (r *Resolver) Get(ctx context.Context, scope models.EnvScope, repoID, commitHash string) ([]*models.EnvVar, error) {
	if err := checkScope(scope, repoID, commitHash); err != nil {
		return nil, err
	}
	repoID, commitHash = scopeKey(scope, repoID, commitHash)
	return r.store.ListEnvVars(ctx, scope, repoID, commitHash)
}

// Set replaces the full variable set for one scope key. Keys are trimmed;
// entries whose key is empty after trimming are silently dropped. Returns
// the stored set.
func (r *Resolver) Set(ctx context.Context, scope models.EnvScope, repoID, commitHash string, vars map[string]string) ([]*models.EnvVar, error) {
	if err := checkScope(scope, repoID, commitHash); err != nil {
		return nil, err
	}
	repoID, commitHash = scopeKey(scope, repoID, commitHash)

	filtered := make([]*models.EnvVar, 0, len(vars))
	for k, v := range vars {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		filtered = append(filtered, &models.EnvVar{
			Scope:      scope,
			RepoID:     repoID,
			CommitHash: commitHash,
			Key:        k,
			Value:      v,
		})
	}
	sort.Slice(filtered, func(i, j int) bool { return filtered[i].Key < filtered[j].Key })

	if err := r.store.ReplaceEnvVars(ctx, scope, repoID, commitHash, filtered); err != nil {
		return nil, err
	}
	return filtered, nil
}

func checkScope(scope models.EnvScope, repoID, commitHash string) error {
	if !scope.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidScope, scope)
	}
	switch scope {
	case models.ScopeProject:
		if repoID == "" {
			return fmt.Errorf("%w: project scope requires a repository id", ErrMissingScopeIdentifier)
		}
	case models.ScopeCommit:
		if repoID == "" || commitHash == "" {
			return fmt.Errorf("%w: commit scope requires a repository id and commit hash", ErrMissingScopeIdentifier)
		}
	}
	return nil
}

// scopeKey blanks out identifiers that do not apply to the scope so the
// storage key stays canonical.
func scopeKey(scope models.EnvScope, repoID, commitHash string) (string, string) {
	switch scope {
	case models.ScopeGlobal:
		return "", ""
	case models.ScopeProject:
		return repoID, ""
	default:
		return repoID, commitHash
	}
}
