package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/joescharf/rewind/internal/browse"
	"github.com/joescharf/rewind/internal/output"
)

var filesCmd = &cobra.Command{
	Use:   "files",
	Short: "Browse repository files at a historical commit",
}

var filesTreeCmd = &cobra.Command{
	Use:   "tree <repo> <commit>",
	Short: "Show the file tree at a commit",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return filesTreeRun(args[0], args[1])
	},
}

var filesCatCmd = &cobra.Command{
	Use:   "cat <repo> <commit> <path>",
	Short: "Print a file's content at a commit",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return filesCatRun(args[0], args[1], args[2])
	},
}

func init() {
	filesCmd.AddCommand(filesTreeCmd)
	filesCmd.AddCommand(filesCatCmd)
	rootCmd.AddCommand(filesCmd)
}

func filesTreeRun(repoRef, commitRef string) error {
	ctx := context.Background()
	repo, err := resolveRepo(ctx, repoRef)
	if err != nil {
		return err
	}

	browser, err := getBrowser()
	if err != nil {
		return err
	}

	nodes, err := browser.Tree(ctx, repo.ID, commitRef)
	if err != nil {
		return err
	}

	fmt.Printf("%s @ %s\n", output.Cyan(repo.Name), commitRef)
	printTree(nodes, "")
	return nil
}

func printTree(nodes []*browse.Node, indent string) {
	for _, n := range nodes {
		if n.Type == "dir" {
			fmt.Printf("%s%s/\n", indent, output.Cyan(n.Name))
			printTree(n.Children, indent+"  ")
		} else {
			fmt.Printf("%s%s\n", indent, n.Name)
		}
	}
}

func filesCatRun(repoRef, commitRef, path string) error {
	ctx := context.Background()
	repo, err := resolveRepo(ctx, repoRef)
	if err != nil {
		return err
	}

	browser, err := getBrowser()
	if err != nil {
		return err
	}

	content, err := browser.Content(ctx, repo.ID, path, commitRef)
	if err != nil {
		return err
	}

	_, err = os.Stdout.WriteString(content.Content)
	return err
}
