// Package mcp exposes rewind's operations as MCP tools over stdio, so
// coding agents can browse history and drive preview servers natively.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/joescharf/rewind/internal/browse"
	"github.com/joescharf/rewind/internal/commits"
	"github.com/joescharf/rewind/internal/registry"
	"github.com/joescharf/rewind/internal/replay"
)

// Server wraps the rewind service layer and exposes it as MCP tools.
type Server struct {
	registry *registry.Registry
	indexer  *commits.Indexer
	browser  *browse.Reader
	replay   *replay.Orchestrator
}

// NewServer creates the MCP server wrapper with all required dependencies.
func NewServer(reg *registry.Registry, idx *commits.Indexer, br *browse.Reader, orch *replay.Orchestrator) *Server {
	return &Server{
		registry: reg,
		indexer:  idx,
		browser:  br,
		replay:   orch,
	}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("rewind", "1.0.0", server.WithToolCapabilities(true))

	srv.AddTool(s.listReposTool())
	srv.AddTool(s.syncCommitsTool())
	srv.AddTool(s.listCommitsTool())
	srv.AddTool(s.startServerTool())
	srv.AddTool(s.stopServerTool())
	srv.AddTool(s.listServersTool())
	srv.AddTool(s.fileTreeTool())
	srv.AddTool(s.fileContentTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	srv := s.MCPServer()
	stdioServer := server.NewStdioServer(srv)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// rewind_list_repos
func (s *Server) listReposTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("rewind_list_repos",
		mcp.WithDescription("List all tracked repositories. Returns a JSON array with id, name, path, and origin."),
	)
	return tool, s.handleListRepos
}

func (s *Server) handleListRepos(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	repos, err := s.registry.List(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list repositories: %v", err)), nil
	}
	return jsonResult(repos)
}

// rewind_sync_commits
func (s *Server) syncCommitsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("rewind_sync_commits",
		mcp.WithDescription("Rebuild the numbered commit cache for a repository from its current history. Slow on large repositories; only call when history may have changed."),
		mcp.WithString("repo_id", mcp.Required(), mcp.Description("Repository id")),
	)
	return tool, s.handleSyncCommits
}

func (s *Server) handleSyncCommits(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	repoID, err := request.RequireString("repo_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: repo_id"), nil
	}
	n, err := s.indexer.Sync(ctx, repoID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("sync failed: %v", err)), nil
	}
	return jsonResult(map[string]int{"synced_count": n})
}

// rewind_list_commits
func (s *Server) listCommitsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("rewind_list_commits",
		mcp.WithDescription("Page through a repository's cached commit history, newest first. Each commit carries an absolute commit_number (oldest = 1). Run rewind_sync_commits first if the cache is empty."),
		mcp.WithString("repo_id", mcp.Required(), mcp.Description("Repository id")),
		mcp.WithNumber("page", mcp.Description("Page number, starting at 1")),
		mcp.WithNumber("page_size", mcp.Description("Commits per page (default 20)")),
	)
	return tool, s.handleListCommits
}

func (s *Server) handleListCommits(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	repoID, err := request.RequireString("repo_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: repo_id"), nil
	}
	page := request.GetInt("page", 1)
	pageSize := request.GetInt("page_size", 20)

	result, err := s.indexer.Page(ctx, repoID, page, pageSize)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list commits: %v", err)), nil
	}
	return jsonResult(result)
}

// rewind_start_server
func (s *Server) startServerTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("rewind_start_server",
		mcp.WithDescription("Start a preview server pinned to a historical commit. Returns the server record in 'starting'; poll rewind_list_servers until it is 'running' (with a URL) or 'failed'."),
		mcp.WithString("repo_id", mcp.Required(), mcp.Description("Repository id")),
		mcp.WithString("commit_hash", mcp.Required(), mcp.Description("Commit hash (full or short) or HEAD")),
		mcp.WithNumber("port", mcp.Description("Preferred port; allocated automatically when omitted or taken")),
	)
	return tool, s.handleStartServer
}

func (s *Server) handleStartServer(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	repoID, err := request.RequireString("repo_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: repo_id"), nil
	}
	commitHash, err := request.RequireString("commit_hash")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: commit_hash"), nil
	}
	port := request.GetInt("port", 0)

	srv, err := s.replay.Start(ctx, repoID, commitHash, port)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("start failed: %v", err)), nil
	}
	return jsonResult(srv)
}

// rewind_stop_server
func (s *Server) stopServerTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("rewind_stop_server",
		mcp.WithDescription("Gracefully stop a running preview server. Stopping an already-stopped server is a no-op."),
		mcp.WithString("server_id", mcp.Required(), mcp.Description("Server id")),
	)
	return tool, s.handleStopServer
}

func (s *Server) handleStopServer(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	serverID, err := request.RequireString("server_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: server_id"), nil
	}
	stopped, err := s.replay.Stop(ctx, serverID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("stop failed: %v", err)), nil
	}
	return jsonResult(map[string]bool{"stopped": stopped})
}

// rewind_list_servers
func (s *Server) listServersTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("rewind_list_servers",
		mcp.WithDescription("List all preview servers, including stopped and failed ones, newest first."),
	)
	return tool, s.handleListServers
}

func (s *Server) handleListServers(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	servers, err := s.replay.List(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list servers: %v", err)), nil
	}
	return jsonResult(servers)
}

// rewind_file_tree
func (s *Server) fileTreeTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("rewind_file_tree",
		mcp.WithDescription("Return the file/directory tree of a repository as it existed at a commit, without checking anything out."),
		mcp.WithString("repo_id", mcp.Required(), mcp.Description("Repository id")),
		mcp.WithString("ref", mcp.Required(), mcp.Description("Commit hash or HEAD")),
	)
	return tool, s.handleFileTree
}

func (s *Server) handleFileTree(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	repoID, err := request.RequireString("repo_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: repo_id"), nil
	}
	ref, err := request.RequireString("ref")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: ref"), nil
	}
	nodes, err := s.browser.Tree(ctx, repoID, ref)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to read tree: %v", err)), nil
	}
	return jsonResult(nodes)
}

// rewind_file_content
func (s *Server) fileContentTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("rewind_file_content",
		mcp.WithDescription("Return the contents of one file as it existed at a commit."),
		mcp.WithString("repo_id", mcp.Required(), mcp.Description("Repository id")),
		mcp.WithString("ref", mcp.Required(), mcp.Description("Commit hash or HEAD")),
		mcp.WithString("path", mcp.Required(), mcp.Description("File path within the repository")),
	)
	return tool, s.handleFileContent
}

func (s *Server) handleFileContent(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	repoID, err := request.RequireString("repo_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: repo_id"), nil
	}
	ref, err := request.RequireString("ref")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: ref"), nil
	}
	path, err := request.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: path"), nil
	}
	content, err := s.browser.Content(ctx, repoID, path, ref)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to read file: %v", err)), nil
	}
	return jsonResult(content)
}
