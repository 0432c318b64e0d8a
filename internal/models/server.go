package models

import "time"

// ServerStatus is the lifecycle state of a preview server.
type ServerStatus string

const (
	ServerStatusStarting ServerStatus = "starting"
	ServerStatusRunning  ServerStatus = "running"
	ServerStatusStopped  ServerStatus = "stopped"
	ServerStatusFailed   ServerStatus = "failed"
)

// Terminal reports whether the status is an end state. Terminal servers
// hold no port or process; only removal deletes the record.
func (s ServerStatus) Terminal() bool {
	return s == ServerStatusStopped || s == ServerStatusFailed
}

// Server is a preview server pinned to a single historical commit.
// The record outlives the process: stopped and failed servers stay
// listed until explicitly removed.
type Server struct {
	ID           string       `json:"id"`
	RepoID       string       `json:"repo_id"`
	CommitHash   string       `json:"commit_hash"`
	ShortHash    string       `json:"short_hash"`
	Port         int          `json:"port"`
	URL          string       `json:"url"`
	Status       ServerStatus `json:"status"`
	PID          int          `json:"pid,omitempty"`
	WorktreePath string       `json:"worktree_path,omitempty"`
	Error        string       `json:"error,omitempty"`
	StartedAt    time.Time    `json:"started_at"`
	StoppedAt    *time.Time   `json:"stopped_at,omitempty"`
}
