package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/rewind/internal/browse"
	"github.com/joescharf/rewind/internal/commits"
	"github.com/joescharf/rewind/internal/envvars"
	"github.com/joescharf/rewind/internal/git"
	"github.com/joescharf/rewind/internal/output"
	"github.com/joescharf/rewind/internal/ports"
	"github.com/joescharf/rewind/internal/registry"
	"github.com/joescharf/rewind/internal/replay"
	"github.com/joescharf/rewind/internal/store"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui        *output.UI
	dataStore store.Store
	gitClient git.Client

	verbose bool
	dryRun  bool
)

var rootCmd = &cobra.Command{
	Use:   "rewind",
	Short: "Time-travel preview servers for git repositories",
	Long: `rewind registers git repositories, indexes their commit history, and
spins up disposable preview servers pinned to any historical commit.
Each preview runs in its own worktree on its own port, so multiple
points in history can be served side by side.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVarP(&dryRun, "dry-run", "n", false, "Show what would happen without making changes")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/rewind/config.yaml)")
}

func initConfig() {
	// If --config is explicitly set, use that file
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
			os.Exit(1)
		}

		configDir := filepath.Join(home, ".config", "rewind")
		viper.AddConfigPath(configDir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("REWIND")
	viper.AutomaticEnv()

	// Defaults via viper.SetDefault()
	home, _ := os.UserHomeDir()
	defaultConfigDir := filepath.Join(home, ".config", "rewind")

	viper.SetDefault("state_dir", defaultConfigDir)
	viper.SetDefault("db_path", filepath.Join(defaultConfigDir, "rewind.db"))
	viper.SetDefault("ports.base", 4000)
	viper.SetDefault("ports.max", 4999)
	viper.SetDefault("server.host", "localhost")
	viper.SetDefault("server.spawn_timeout", 30*time.Second)
	viper.SetDefault("server.stop_timeout", 10*time.Second)
	viper.SetDefault("server.static_command", []string{"python3", "-m", "http.server", "{port}"})
	viper.SetDefault("api.port", 8080)

	// Read config file if it exists (optional)
	_ = viper.ReadInConfig()
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose
	ui.DryRun = dryRun

	gitClient = git.NewClient()

	// The store is initialized lazily so config/version commands run
	// without touching the database.
}

// getStore returns the shared store, initializing it on first call.
func getStore() (store.Store, error) {
	if dataStore != nil {
		return dataStore, nil
	}

	dbPath := viper.GetString("db_path")
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := s.Migrate(rootCmd.Context()); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	dataStore = s
	return dataStore, nil
}

func getRegistry() (*registry.Registry, error) {
	s, err := getStore()
	if err != nil {
		return nil, err
	}
	return registry.New(s, gitClient), nil
}

func getIndexer() (*commits.Indexer, error) {
	s, err := getStore()
	if err != nil {
		return nil, err
	}
	return commits.New(s, gitClient), nil
}

func getBrowser() (*browse.Reader, error) {
	s, err := getStore()
	if err != nil {
		return nil, err
	}
	return browse.New(s, gitClient), nil
}

func getResolver() (*envvars.Resolver, error) {
	s, err := getStore()
	if err != nil {
		return nil, err
	}
	return envvars.New(s), nil
}

// getOrchestrator builds a replay orchestrator and reconciles it against
// any servers left over from earlier invocations.
func getOrchestrator(ctx context.Context) (*replay.Orchestrator, error) {
	s, err := getStore()
	if err != nil {
		return nil, err
	}

	allocator := ports.NewAllocator(viper.GetInt("ports.base"), viper.GetInt("ports.max"))
	resolver := envvars.New(s)

	cfg := replay.Config{
		StateDir:      viper.GetString("state_dir"),
		Host:          viper.GetString("server.host"),
		SpawnTimeout:  viper.GetDuration("server.spawn_timeout"),
		StopTimeout:   viper.GetDuration("server.stop_timeout"),
		StaticCommand: viper.GetStringSlice("server.static_command"),
	}

	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	orch := replay.New(s, gitClient, allocator, resolver, cfg, logger)
	if _, err := orch.Reconcile(ctx); err != nil {
		return nil, fmt.Errorf("reconcile servers: %w", err)
	}
	return orch, nil
}
