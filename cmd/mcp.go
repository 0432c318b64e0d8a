package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/joescharf/rewind/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server for AI assistant integration",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

This lets MCP-capable assistants manage repositories and preview
servers natively. Configure with:

  {
    "mcpServers": {
      "rewind": { "command": "rewind", "args": ["mcp"] }
    }
  }

Available tools: rewind_list_repos, rewind_sync_commits,
rewind_list_commits, rewind_start_server, rewind_stop_server,
rewind_list_servers, rewind_file_tree, rewind_file_content`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		reg, err := getRegistry()
		if err != nil {
			return err
		}
		idx, err := getIndexer()
		if err != nil {
			return err
		}
		browser, err := getBrowser()
		if err != nil {
			return err
		}
		orch, err := getOrchestrator(ctx)
		if err != nil {
			return err
		}

		return mcp.NewServer(reg, idx, browser, orch).ServeStdio(ctx)
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
