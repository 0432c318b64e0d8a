package cmd

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/joescharf/rewind/internal/output"
)

var (
	commitsPage     int
	commitsPageSize int
)

var commitsCmd = &cobra.Command{
	Use:   "commits",
	Short: "Inspect a repository's commit history",
}

var commitsSyncCmd = &cobra.Command{
	Use:   "sync <repo>",
	Short: "Refresh the commit index from git history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return commitsSyncRun(args[0])
	},
}

var commitsListCmd = &cobra.Command{
	Use:     "list <repo>",
	Aliases: []string{"ls"},
	Short:   "List indexed commits, newest first",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return commitsListRun(args[0])
	},
}

func init() {
	commitsListCmd.Flags().IntVar(&commitsPage, "page", 1, "Page number")
	commitsListCmd.Flags().IntVar(&commitsPageSize, "page-size", 20, "Commits per page")

	commitsCmd.AddCommand(commitsSyncCmd)
	commitsCmd.AddCommand(commitsListCmd)
	rootCmd.AddCommand(commitsCmd)
}

func commitsSyncRun(ref string) error {
	ctx := context.Background()
	repo, err := resolveRepo(ctx, ref)
	if err != nil {
		return err
	}

	idx, err := getIndexer()
	if err != nil {
		return err
	}

	n, err := idx.Sync(ctx, repo.ID)
	if err != nil {
		return err
	}

	ui.Success("Indexed %d commits for %s", n, output.Cyan(repo.Name))
	return nil
}

func commitsListRun(ref string) error {
	ctx := context.Background()
	repo, err := resolveRepo(ctx, ref)
	if err != nil {
		return err
	}

	idx, err := getIndexer()
	if err != nil {
		return err
	}

	page, err := idx.Page(ctx, repo.ID, commitsPage, commitsPageSize)
	if err != nil {
		return err
	}

	if len(page.Commits) == 0 {
		ui.Info("No commits indexed. Run 'rewind commits sync %s' first.", ref)
		return nil
	}

	table := ui.Table([]string{"#", "HASH", "DATE", "AUTHOR", "MESSAGE"})
	for _, c := range page.Commits {
		msg := c.Message
		if len(msg) > 60 {
			msg = msg[:57] + "..."
		}
		_ = table.Append([]string{
			strconv.Itoa(c.Number),
			c.ShortHash,
			c.Timestamp.Format(time.DateOnly),
			c.AuthorName,
			msg,
		})
	}
	if err := table.Render(); err != nil {
		return err
	}

	fmt.Printf("\nPage %d of %d commits", page.Page, page.Total)
	if page.HasMore {
		fmt.Printf(" (more available, try --page %d)", page.Page+1)
	}
	fmt.Println()
	return nil
}
