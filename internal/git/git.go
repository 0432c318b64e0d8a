package git

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// ErrCommitNotFound means a ref did not resolve to a commit in the repository.
var ErrCommitNotFound = errors.New("commit not found")

// LogEntry holds one parsed commit from `git log`.
type LogEntry struct {
	Hash        string
	ShortHash   string
	AuthorName  string
	AuthorEmail string
	Timestamp   time.Time
	Message     string
}

// TreeEntry holds one parsed row from `git ls-tree -r -l`.
type TreeEntry struct {
	Mode string
	Type string // "blob" or "tree"
	Hash string
	Size int64 // -1 for trees
	Path string
}

// Client defines the interface for git operations on arbitrary repos.
// All methods take a path parameter since rewind operates on multiple repos.
type Client interface {
	IsRepository(path string) bool
	RepoRoot(path string) (string, error)
	DefaultBranch(path string) (string, error)
	RevParse(path, ref string) (string, error)
	Clone(ctx context.Context, url, dest string) error
	Log(ctx context.Context, path, ref string) ([]LogEntry, error)
	LsTree(path, ref string) ([]TreeEntry, error)
	Show(path, ref, filePath string) ([]byte, error)
	WorktreeAdd(path, worktreePath, commit string) error
	WorktreeRemove(path, worktreePath string, force bool) error
	WorktreePrune(path string) error
}

// RealClient implements Client using real git commands.
type RealClient struct{}

// NewClient returns a new RealClient.
func NewClient() *RealClient {
	return &RealClient{}
}

func gitCmd(path string, args ...string) (string, error) {
	fullArgs := append([]string{"-C", path}, args...)
	out, err := exec.Command("git", fullArgs...).Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return "", fmt.Errorf("git %s: %s", strings.Join(args, " "), strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", fmt.Errorf("git %s: %w", strings.Join(args, " "), err)
	}
	return strings.TrimSpace(string(out)), nil
}

func gitCmdContext(ctx context.Context, path string, args ...string) (string, error) {
	fullArgs := append([]string{"-C", path}, args...)
	out, err := exec.CommandContext(ctx, "git", fullArgs...).Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return "", fmt.Errorf("git %s: %s", strings.Join(args, " "), strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", fmt.Errorf("git %s: %w", strings.Join(args, " "), err)
	}
	return strings.TrimSpace(string(out)), nil
}

// IsRepository reports whether path is inside a git working tree.
func (c *RealClient) IsRepository(path string) bool {
	out, err := gitCmd(path, "rev-parse", "--is-inside-work-tree")
	return err == nil && out == "true"
}

func (c *RealClient) RepoRoot(path string) (string, error) {
	return gitCmd(path, "rev-parse", "--show-toplevel")
}

// DefaultBranch returns the current HEAD branch name, falling back to the
// symbolic ref when detached resolution fails.
func (c *RealClient) DefaultBranch(path string) (string, error) {
	return gitCmd(path, "rev-parse", "--abbrev-ref", "HEAD")
}

// RevParse resolves ref (a hash, short hash, or "HEAD") to a full commit hash.
func (c *RealClient) RevParse(path, ref string) (string, error) {
	out, err := gitCmd(path, "rev-parse", "--verify", "--quiet", ref+"^{commit}")
	if err != nil || out == "" {
		return "", fmt.Errorf("%w: %s", ErrCommitNotFound, ref)
	}
	return out, nil
}

// Clone clones url into dest. Uses CombinedOutput so the underlying tool's
// message survives into the returned error.
func (c *RealClient) Clone(ctx context.Context, url, dest string) error {
	out, err := exec.CommandContext(ctx, "git", "clone", url, dest).CombinedOutput()
	if err != nil {
		return fmt.Errorf("git clone: %s", strings.TrimSpace(string(out)))
	}
	return nil
}

// logFormat uses unit (0x1f) and record (0x1e) separators so commit
// messages containing newlines parse unambiguously.
const logFormat = "%H%x1f%h%x1f%an%x1f%ae%x1f%aI%x1f%s%x1e"

// Log returns the full commit history of ref, newest first.
func (c *RealClient) Log(ctx context.Context, path, ref string) ([]LogEntry, error) {
	out, err := gitCmdContext(ctx, path, "log", "--format="+logFormat, ref)
	if err != nil {
		return nil, err
	}

	var entries []LogEntry
	for record := range strings.SplitSeq(out, "\x1e") {
		record = strings.TrimSpace(record)
		if record == "" {
			continue
		}
		fields := strings.Split(record, "\x1f")
		if len(fields) != 6 {
			continue
		}
		ts, err := time.Parse(time.RFC3339, fields[4])
		if err != nil {
			return nil, fmt.Errorf("parse commit date %q: %w", fields[4], err)
		}
		entries = append(entries, LogEntry{
			Hash:        fields[0],
			ShortHash:   fields[1],
			AuthorName:  fields[2],
			AuthorEmail: fields[3],
			Timestamp:   ts,
			Message:     fields[5],
		})
	}
	return entries, nil
}

// LsTree lists every blob and tree reachable from ref without touching the
// working copy. Safe to run concurrently with worktree checkouts.
func (c *RealClient) LsTree(path, ref string) ([]TreeEntry, error) {
	out, err := gitCmd(path, "ls-tree", "-r", "-t", "-l", "-z", ref)
	if err != nil {
		return nil, err
	}
	return ParseLsTree(out), nil
}

// ParseLsTree parses NUL-delimited `git ls-tree -r -t -l -z` output.
// Each record looks like: "<mode> <type> <hash> <size>\t<path>".
func ParseLsTree(output string) []TreeEntry {
	var entries []TreeEntry
	for record := range strings.SplitSeq(output, "\x00") {
		if record == "" {
			continue
		}
		meta, name, ok := strings.Cut(record, "\t")
		if !ok {
			continue
		}
		fields := strings.Fields(meta)
		if len(fields) != 4 {
			continue
		}
		size := int64(-1)
		if fields[3] != "-" {
			size, _ = strconv.ParseInt(fields[3], 10, 64)
		}
		entries = append(entries, TreeEntry{
			Mode: fields[0],
			Type: fields[1],
			Hash: fields[2],
			Size: size,
			Path: name,
		})
	}
	return entries
}

// Show returns the raw contents of filePath as it existed at ref.
func (c *RealClient) Show(path, ref, filePath string) ([]byte, error) {
	out, err := exec.Command("git", "-C", path, "show", ref+":"+filePath).Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return nil, fmt.Errorf("git show: %s", strings.TrimSpace(string(exitErr.Stderr)))
		}
		return nil, fmt.Errorf("git show: %w", err)
	}
	return out, nil
}

// WorktreeAdd creates a detached worktree at worktreePath pinned to commit.
func (c *RealClient) WorktreeAdd(path, worktreePath, commit string) error {
	out, err := exec.Command("git", "-C", path, "worktree", "add", "--detach", worktreePath, commit).CombinedOutput()
	if err != nil {
		return fmt.Errorf("git worktree add: %s", strings.TrimSpace(string(out)))
	}
	return nil
}

func (c *RealClient) WorktreeRemove(path, worktreePath string, force bool) error {
	args := []string{"-C", path, "worktree", "remove"}
	if force {
		args = append(args, "--force")
	}
	args = append(args, worktreePath)
	out, err := exec.Command("git", args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("git worktree remove: %s", strings.TrimSpace(string(out)))
	}
	return nil
}

func (c *RealClient) WorktreePrune(path string) error {
	_, err := gitCmd(path, "worktree", "prune")
	return err
}
