package models

import "time"

// Commit is a single cached entry from a repository's commit log.
// Number is dense: the oldest commit in history is 1 and numbers
// increase monotonically toward HEAD. Re-syncing after a force-push
// may renumber; the cache is rebuilt wholesale on every sync.
type Commit struct {
	RepoID      string    `json:"repo_id"`
	Hash        string    `json:"hash"`
	ShortHash   string    `json:"short_hash"`
	Message     string    `json:"message"`
	AuthorName  string    `json:"author_name"`
	AuthorEmail string    `json:"author_email"`
	Timestamp   time.Time `json:"timestamp"`
	Number      int       `json:"commit_number"`
}

// CommitPage is one window of a repository's numbered commit cache,
// ordered newest-first.
type CommitPage struct {
	Commits  []*Commit `json:"commits"`
	Total    int       `json:"total"`
	Page     int       `json:"page"`
	PageSize int       `json:"pageSize"`
	HasMore  bool      `json:"hasMore"`
}
