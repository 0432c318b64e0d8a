package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/joescharf/rewind/internal/models"
	"github.com/joescharf/rewind/internal/output"
)

var repoDeleteFiles bool

var repoCmd = &cobra.Command{
	Use:   "repo",
	Short: "Manage tracked repositories",
	Long:  "Register, clone, list, and remove tracked git repositories.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return repoListRun()
	},
}

var repoAddCmd = &cobra.Command{
	Use:   "add <path>",
	Short: "Track an existing local repository",
	Long:  "Track an existing local git repository. Use '.' for the current directory.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return repoAddRun(args[0])
	},
}

var repoCloneCmd = &cobra.Command{
	Use:   "clone <url> <destination>",
	Short: "Clone a remote repository and track it",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return repoCloneRun(args[0], args[1])
	},
}

var repoListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List tracked repositories",
	RunE: func(cmd *cobra.Command, args []string) error {
		return repoListRun()
	},
}

var repoRemoveCmd = &cobra.Command{
	Use:     "remove <id-or-path>",
	Aliases: []string{"rm"},
	Short:   "Stop tracking a repository",
	Long: `Stop tracking a repository. Only the tracking record is removed; the
repository contents stay on disk unless --delete-files is given (clones only).
Fails while the repository still has active preview servers.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return repoRemoveRun(args[0])
	},
}

func init() {
	repoRemoveCmd.Flags().BoolVar(&repoDeleteFiles, "delete-files", false, "Also delete the cloned repository contents")

	repoCmd.AddCommand(repoAddCmd)
	repoCmd.AddCommand(repoCloneCmd)
	repoCmd.AddCommand(repoListCmd)
	repoCmd.AddCommand(repoRemoveCmd)
	rootCmd.AddCommand(repoCmd)
}

func repoAddRun(path string) error {
	reg, err := getRegistry()
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would track repository at %s", path)
		return nil
	}

	repo, err := reg.AddLocal(context.Background(), path)
	if err != nil {
		return err
	}

	ui.Success("Tracking %s (%s)", output.Cyan(repo.Name), repo.ID)
	return nil
}

func repoCloneRun(url, dest string) error {
	reg, err := getRegistry()
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would clone %s into %s", url, dest)
		return nil
	}

	ui.Info("Cloning %s ...", output.Cyan(url))
	repo, err := reg.AddRemote(context.Background(), url, dest)
	if err != nil {
		return err
	}

	ui.Success("Cloned and tracking %s (%s)", output.Cyan(repo.Name), repo.ID)
	return nil
}

func repoListRun() error {
	reg, err := getRegistry()
	if err != nil {
		return err
	}

	repos, err := reg.List(context.Background())
	if err != nil {
		return err
	}

	if len(repos) == 0 {
		ui.Info("No repositories tracked. Use 'rewind repo add <path>' to start.")
		return nil
	}

	table := ui.Table([]string{"ID", "NAME", "PATH", "ORIGIN", "ADDED"})
	for _, r := range repos {
		origin := "local"
		if r.Origin.IsCloned() {
			origin = r.Origin.CloneURL()
		}
		_ = table.Append([]string{r.ID, r.Name, r.Path, origin, r.CreatedAt.Format(time.DateOnly)})
	}
	return table.Render()
}

func repoRemoveRun(ref string) error {
	reg, err := getRegistry()
	if err != nil {
		return err
	}
	ctx := context.Background()

	repo, err := resolveRepo(ctx, ref)
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would stop tracking %s", repo.Name)
		return nil
	}

	if err := reg.Remove(ctx, repo.ID, repoDeleteFiles); err != nil {
		return err
	}

	ui.Success("Stopped tracking %s", output.Cyan(repo.Name))
	return nil
}

// resolveRepo finds a repository by id, then by path.
func resolveRepo(ctx context.Context, ref string) (*models.Repository, error) {
	s, err := getStore()
	if err != nil {
		return nil, err
	}
	if repo, err := s.GetRepository(ctx, ref); err == nil {
		return repo, nil
	}
	if repo, err := s.GetRepositoryByPath(ctx, ref); err == nil {
		return repo, nil
	}
	return nil, fmt.Errorf("repository not found: %s", ref)
}
