package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/rewind/internal/api"
	"github.com/joescharf/rewind/internal/daemon"
	"github.com/joescharf/rewind/internal/output"
)

var serveDetach bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Start the HTTP API server. On startup any preview servers left over
from a previous run are reconciled: live processes are re-adopted and
dead ones are marked failed. Use --detach to run in the background.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if serveDetach {
			return serveDetachRun()
		}
		return serveRun()
	},
}

var serveStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop a detached API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStopRun()
	},
}

func init() {
	serveCmd.Flags().IntP("port", "p", 8080, "Port to listen on")
	serveCmd.Flags().BoolVarP(&serveDetach, "detach", "d", false, "Run in the background")
	_ = viper.BindPFlag("api.port", serveCmd.Flags().Lookup("port"))

	serveCmd.AddCommand(serveStopCmd)
	rootCmd.AddCommand(serveCmd)
}

func servePIDFile() *daemon.PIDFile {
	return daemon.ForStateDir(viper.GetString("state_dir"))
}

func serveRun() error {
	ctx := context.Background()

	orch, err := getOrchestrator(ctx)
	if err != nil {
		return err
	}
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
	resolver, err := getResolver()
	if err != nil {
		return err
	}

	apiServer := api.NewServer(reg, idx, browser, resolver, orch)

	port := viper.GetInt("api.port")
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: apiServer.Router(),
	}

	pidFile := servePIDFile()
	if pid, running := pidFile.IsRunning(); running && pid != os.Getpid() {
		return fmt.Errorf("server already running (pid %d)", pid)
	}
	if err := pidFile.Write(); err != nil {
		return fmt.Errorf("write PID file: %w", err)
	}
	defer func() { _ = pidFile.Remove() }()

	errCh := make(chan error, 1)
	go func() {
		ui.Info("API listening at %s", output.Cyan(fmt.Sprintf("http://localhost:%d", port)))
		errCh <- httpServer.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, shutdownSignals()...)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case sig := <-sigCh:
		ui.Info("Received %v, shutting down", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		ui.Warning("HTTP shutdown: %v", err)
	}

	if n := orch.StopAll(shutdownCtx); n > 0 {
		ui.Info("Stopped %d preview servers", n)
	}
	return nil
}

// serveDetachRun re-execs the current binary without --detach and lets
// the child write its own PID file once it is up.
func serveDetachRun() error {
	pidFile := servePIDFile()
	if pid, running := pidFile.IsRunning(); running {
		return fmt.Errorf("server already running (pid %d)", pid)
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate executable: %w", err)
	}

	args := []string{"serve", "--port", fmt.Sprint(viper.GetInt("api.port"))}
	child := exec.Command(exe, args...)
	child.Stdout = nil
	child.Stderr = nil
	setDaemonAttrs(child)

	if err := child.Start(); err != nil {
		return fmt.Errorf("start background server: %w", err)
	}

	ui.Success("API server started in background (pid %d)", child.Process.Pid)
	return nil
}

func serveStopRun() error {
	pidFile := servePIDFile()
	pid, running := pidFile.IsRunning()
	if !running {
		ui.Info("No server running")
		_ = pidFile.Remove()
		return nil
	}

	if err := pidFile.Signal(sigTERM()); err != nil {
		return fmt.Errorf("stop server: %w", err)
	}

	// Give the server a moment to exit cleanly before escalating.
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if _, alive := pidFile.IsRunning(); !alive {
			_ = pidFile.Remove()
			ui.Success("Stopped server (pid %d)", pid)
			return nil
		}
		time.Sleep(200 * time.Millisecond)
	}

	if err := pidFile.Signal(sigKILL()); err != nil {
		return fmt.Errorf("kill server: %w", err)
	}
	_ = pidFile.Remove()
	ui.Success("Killed server (pid %d)", pid)
	return nil
}
