package cmd

import (
	"context"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/joescharf/rewind/internal/models"
	"github.com/joescharf/rewind/internal/output"
)

var serverStartPort int

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Manage preview servers",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serverListRun()
	},
}

var serverStartCmd = &cobra.Command{
	Use:   "start <repo> <commit>",
	Short: "Start a preview server for a commit",
	Long: `Start a preview server pinned to a commit. The commit is checked out
into a dedicated worktree and served on its own port. Starting the same
commit twice returns the already-running server.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return serverStartRun(args[0], args[1])
	},
}

var serverStopCmd = &cobra.Command{
	Use:   "stop <server-id>",
	Short: "Stop a preview server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return serverStopRun(args[0])
	},
}

var serverStopAllCmd = &cobra.Command{
	Use:   "stop-all",
	Short: "Stop all active preview servers",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serverStopAllRun()
	},
}

var serverRemoveCmd = &cobra.Command{
	Use:     "remove <server-id>",
	Aliases: []string{"rm"},
	Short:   "Delete a stopped or failed server record",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return serverRemoveRun(args[0])
	},
}

var serverListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List preview servers",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serverListRun()
	},
}

func init() {
	serverStartCmd.Flags().IntVarP(&serverStartPort, "port", "p", 0, "Preferred port (0 picks the next free port)")

	serverCmd.AddCommand(serverStartCmd)
	serverCmd.AddCommand(serverStopCmd)
	serverCmd.AddCommand(serverStopAllCmd)
	serverCmd.AddCommand(serverRemoveCmd)
	serverCmd.AddCommand(serverListCmd)
	rootCmd.AddCommand(serverCmd)
}

func serverStartRun(repoRef, commitRef string) error {
	ctx := context.Background()
	repo, err := resolveRepo(ctx, repoRef)
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would start a preview server for %s at %s", repo.Name, commitRef)
		return nil
	}

	orch, err := getOrchestrator(ctx)
	if err != nil {
		return err
	}

	srv, err := orch.Start(ctx, repo.ID, commitRef, serverStartPort)
	if err != nil {
		return err
	}

	if srv.Status == models.ServerStatusRunning {
		ui.Info("Server %s already running at %s", srv.ID, output.Cyan(srv.URL))
		return nil
	}

	ui.Info("Starting preview of %s at %s ...", output.Cyan(repo.Name), srv.ShortHash)
	srv, err = waitForServer(ctx, orch, srv.ID)
	if err != nil {
		return err
	}

	switch srv.Status {
	case models.ServerStatusRunning:
		ui.Success("Server %s running at %s (pid %d)", srv.ID, output.Cyan(srv.URL), srv.PID)
	case models.ServerStatusFailed:
		ui.Error("Server failed to start: %s", srv.Error)
	default:
		ui.Warning("Server %s is %s", srv.ID, srv.Status)
	}
	return nil
}

// waitForServer polls until the server leaves the starting state.
func waitForServer(ctx context.Context, orch serverGetter, id string) (*models.Server, error) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		srv, err := orch.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if srv.Status != models.ServerStatusStarting {
			return srv, nil
		}
		select {
		case <-ctx.Done():
			return srv, ctx.Err()
		case <-ticker.C:
		}
	}
}

type serverGetter interface {
	Get(ctx context.Context, serverID string) (*models.Server, error)
}

func serverStopRun(id string) error {
	ctx := context.Background()

	if dryRun {
		ui.DryRunMsg("Would stop server %s", id)
		return nil
	}

	orch, err := getOrchestrator(ctx)
	if err != nil {
		return err
	}

	stopped, err := orch.Stop(ctx, id)
	if err != nil {
		return err
	}
	if !stopped {
		ui.Info("Server %s was not running", id)
		return nil
	}

	ui.Success("Stopped server %s", id)
	return nil
}

func serverStopAllRun() error {
	ctx := context.Background()

	if dryRun {
		ui.DryRunMsg("Would stop all active servers")
		return nil
	}

	orch, err := getOrchestrator(ctx)
	if err != nil {
		return err
	}

	n := orch.StopAll(ctx)
	ui.Success("Stopped %d servers", n)
	return nil
}

func serverRemoveRun(id string) error {
	ctx := context.Background()

	if dryRun {
		ui.DryRunMsg("Would remove server record %s", id)
		return nil
	}

	orch, err := getOrchestrator(ctx)
	if err != nil {
		return err
	}

	if err := orch.Remove(ctx, id); err != nil {
		return err
	}

	ui.Success("Removed server %s", id)
	return nil
}

func serverListRun() error {
	ctx := context.Background()
	orch, err := getOrchestrator(ctx)
	if err != nil {
		return err
	}

	servers, err := orch.List(ctx)
	if err != nil {
		return err
	}

	if len(servers) == 0 {
		ui.Info("No preview servers. Use 'rewind server start <repo> <commit>'.")
		return nil
	}

	s, err := getStore()
	if err != nil {
		return err
	}

	table := ui.Table([]string{"ID", "REPO", "COMMIT", "STATUS", "URL", "STARTED"})
	for _, srv := range servers {
		repoName := srv.RepoID
		if repo, err := s.GetRepository(ctx, srv.RepoID); err == nil {
			repoName = repo.Name
		}
		url := srv.URL
		if url == "" && srv.Port > 0 {
			url = strconv.Itoa(srv.Port)
		}
		_ = table.Append([]string{
			srv.ID,
			repoName,
			srv.ShortHash,
			output.StatusColor(string(srv.Status)),
			url,
			srv.StartedAt.Format(time.DateTime),
		})
	}
	return table.Render()
}
