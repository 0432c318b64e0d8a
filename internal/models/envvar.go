package models

// EnvScope determines where an environment variable override applies.
type EnvScope string

const (
	// ScopeGlobal applies to every preview server.
	ScopeGlobal EnvScope = "global"
	// ScopeProject applies to servers of one repository.
	ScopeProject EnvScope = "project"
	// ScopeCommit applies to servers of one (repository, commit) pair.
	ScopeCommit EnvScope = "commit"
)

// Valid reports whether s is one of the known scopes.
func (s EnvScope) Valid() bool {
	switch s {
	case ScopeGlobal, ScopeProject, ScopeCommit:
		return true
	}
	return false
}

// EnvVar is a scoped environment variable override. RepoID is empty for
// global scope; CommitHash is empty for global and project scopes.
type EnvVar struct {
	Scope      EnvScope `json:"scope"`
	RepoID     string   `json:"repo_id,omitempty"`
	CommitHash string   `json:"commit_hash,omitempty"`
	Key        string   `json:"key"`
	Value      string   `json:"value"`
}
