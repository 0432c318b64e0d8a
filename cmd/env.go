package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/joescharf/rewind/internal/models"
)

var (
	envScope  string
	envRepo   string
	envCommit string
	envFile   string
)

var envCmd = &cobra.Command{
	Use:   "env",
	Short: "Manage environment variable overlays",
	Long: `Manage environment variables applied to preview servers. Variables are
layered global, then project, then commit, with narrower scopes winning.`,
}

var envGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Show variables stored at a scope",
	RunE: func(cmd *cobra.Command, args []string) error {
		return envGetRun()
	},
}

var envSetCmd = &cobra.Command{
	Use:   "set [KEY=VALUE ...]",
	Short: "Set variables at a scope",
	Long: `Set variables at a scope from KEY=VALUE arguments or a YAML file of
string pairs via --file. Setting replaces the scope's existing variables.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return envSetRun(args)
	},
}

func init() {
	for _, c := range []*cobra.Command{envGetCmd, envSetCmd} {
		c.Flags().StringVar(&envScope, "scope", "global", "Scope: global, project, or commit")
		c.Flags().StringVar(&envRepo, "repo", "", "Repository id or path (project and commit scopes)")
		c.Flags().StringVar(&envCommit, "commit", "", "Commit hash (commit scope)")
	}
	envSetCmd.Flags().StringVar(&envFile, "file", "", "YAML file of KEY: VALUE pairs")

	envCmd.AddCommand(envGetCmd)
	envCmd.AddCommand(envSetCmd)
	rootCmd.AddCommand(envCmd)
}

func envScopeArgs(ctx context.Context) (models.EnvScope, string, error) {
	scope := models.EnvScope(envScope)
	repoID := ""
	if envRepo != "" {
		repo, err := resolveRepo(ctx, envRepo)
		if err != nil {
			return scope, "", err
		}
		repoID = repo.ID
	}
	return scope, repoID, nil
}

func envGetRun() error {
	ctx := context.Background()
	resolver, err := getResolver()
	if err != nil {
		return err
	}

	scope, repoID, err := envScopeArgs(ctx)
	if err != nil {
		return err
	}

	vars, err := resolver.Get(ctx, scope, repoID, envCommit)
	if err != nil {
		return err
	}

	if len(vars) == 0 {
		ui.Info("No variables set at %s scope", scope)
		return nil
	}

	for _, v := range vars {
		fmt.Printf("%s=%s\n", v.Key, v.Value)
	}
	return nil
}

func envSetRun(args []string) error {
	ctx := context.Background()

	vars := make(map[string]string)
	if envFile != "" {
		data, err := os.ReadFile(envFile)
		if err != nil {
			return fmt.Errorf("read env file: %w", err)
		}
		if err := yaml.Unmarshal(data, &vars); err != nil {
			return fmt.Errorf("parse env file: %w", err)
		}
	}
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok {
			return fmt.Errorf("expected KEY=VALUE, got %q", arg)
		}
		vars[key] = value
	}
	if len(vars) == 0 {
		return fmt.Errorf("nothing to set: pass KEY=VALUE arguments or --file")
	}

	resolver, err := getResolver()
	if err != nil {
		return err
	}

	scope, repoID, err := envScopeArgs(ctx)
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would set %d variables at %s scope", len(vars), scope)
		return nil
	}

	stored, err := resolver.Set(ctx, scope, repoID, envCommit, vars)
	if err != nil {
		return err
	}

	ui.Success("Set %d variables at %s scope", len(stored), scope)
	return nil
}
