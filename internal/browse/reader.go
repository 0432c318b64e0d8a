// Package browse provides read-only access to file trees and contents as
// they existed at a historical commit, via git object inspection only. No
// working copy is ever checked out or touched, so reads are safe alongside
// active worktree checkouts of any commit.
package browse

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/joescharf/rewind/internal/git"
	"github.com/joescharf/rewind/internal/store"
)

// ErrPathNotFound means the path does not exist at that commit.
var ErrPathNotFound = errors.New("path not found at commit")

// Node is one entry in a historical file tree.
type Node struct {
	Name     string  `json:"name"`
	Path     string  `json:"path"`
	Type     string  `json:"type"` // "file" or "dir"
	Size     int64   `json:"size,omitempty"`
	Children []*Node `json:"children,omitempty"`
}

// FileContent is the result of reading one file at a commit.
type FileContent struct {
	Path      string `json:"path"`
	CommitRef string `json:"commitRef"`
	Content   string `json:"content"`
}

// Reader resolves repositories through the store and inspects their object
// database through the git client.
type Reader struct {
	store store.Store
	git   git.Client
}

// New creates a Reader.
func New(s store.Store, gc git.Client) *Reader {
	return &Reader{store: s, git: gc}
}

// Tree returns the file/directory tree at commitRef ("HEAD" or a hash).
func (r *Reader) Tree(ctx context.Context, repoID, commitRef string) ([]*Node, error) {
	repo, err := r.store.GetRepository(ctx, repoID)
	if err != nil {
		return nil, err
	}

	if _, err := r.git.RevParse(repo.Path, commitRef); err != nil {
		return nil, err
	}

	entries, err := r.git.LsTree(repo.Path, commitRef)
	if err != nil {
		return nil, fmt.Errorf("list tree: %w", err)
	}
	return buildTree(entries), nil
}

// Content returns the raw contents of filePath at commitRef.
func (r *Reader) Content(ctx context.Context, repoID, filePath, commitRef string) (*FileContent, error) {
	repo, err := r.store.GetRepository(ctx, repoID)
	if err != nil {
		return nil, err
	}

	if _, err := r.git.RevParse(repo.Path, commitRef); err != nil {
		return nil, err
	}

	data, err := r.git.Show(repo.Path, commitRef, filePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrPathNotFound, filePath)
	}
	return &FileContent{
		Path:      filePath,
		CommitRef: commitRef,
		Content:   string(data),
	}, nil
}

// buildTree nests flat ls-tree entries into a directory tree. Directories
// sort before files, then alphabetically, at every level.
func buildTree(entries []git.TreeEntry) []*Node {
	byPath := make(map[string]*Node, len(entries))
	var roots []*Node

	attach := func(n *Node) {
		dir := path.Dir(n.Path)
		if dir == "." {
			roots = append(roots, n)
			return
		}
		if parent, ok := byPath[dir]; ok {
			parent.Children = append(parent.Children, n)
		}
	}

	// ls-tree -r -t emits parents before their children.
	for _, e := range entries {
		n := &Node{
			Name: path.Base(e.Path),
			Path: e.Path,
		}
		switch e.Type {
		case "tree":
			n.Type = "dir"
		case "blob":
			n.Type = "file"
			n.Size = e.Size
		default:
			continue // submodules etc.
		}
		byPath[e.Path] = n
		attach(n)
	}

	sortNodes(roots)
	return roots
}

func sortNodes(nodes []*Node) {
	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].Type != nodes[j].Type {
			return nodes[i].Type == "dir"
		}
		return strings.ToLower(nodes[i].Name) < strings.ToLower(nodes[j].Name)
	})
	for _, n := range nodes {
		if len(n.Children) > 0 {
			sortNodes(n.Children)
		}
	}
}
