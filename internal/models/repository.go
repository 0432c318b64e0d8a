package models

import "time"

// RepoOrigin records how a repository came to be tracked.
// Local repos were registered in place; cloned repos carry their source URL.
type RepoOrigin string

const (
	OriginLocal RepoOrigin = "local"

	// originClonedPrefix prefixes the source URL for cloned repositories.
	originClonedPrefix = "cloned-from:"
)

// ClonedFrom builds the origin value for a repository cloned from url.
func ClonedFrom(url string) RepoOrigin {
	return RepoOrigin(originClonedPrefix + url)
}

// IsCloned reports whether the origin denotes a cloned repository.
func (o RepoOrigin) IsCloned() bool {
	return len(o) > len(originClonedPrefix) && o[:len(originClonedPrefix)] == originClonedPrefix
}

// CloneURL returns the source URL for a cloned origin, or "" for local repos.
func (o RepoOrigin) CloneURL() string {
	if !o.IsCloned() {
		return ""
	}
	return string(o[len(originClonedPrefix):])
}

// Repository represents a tracked git repository.
type Repository struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Path      string     `json:"path"`
	Origin    RepoOrigin `json:"origin"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}
