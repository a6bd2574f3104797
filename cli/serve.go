package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/piyushagarwal-55/flowforge/daemon"
)

const shutdownTimeout = 30 * time.Second

// NewServeCmd creates the "serve" subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the FlowForge daemon",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}

	cmd.Flags().String("config", "", "Path to flowforge.yaml (default: ./flowforge.yaml, then ~/.flowforge/config.yaml)")
	cmd.Flags().IntP("port", "p", 8080, "Listen port")
	cmd.Flags().String("host", "127.0.0.1", "Listen host")
	cmd.Flags().String("cors-origin", "", "Allowed CORS origin (default: *)")
	cmd.Flags().String("sqlite-path", "", "Use SQLite storage at this path")
	cmd.Flags().String("postgres-dsn", "", "Use PostgreSQL storage with this connection string")
	cmd.Flags().Int64("max-body", 0, "Max request body size in bytes (default: 1 MiB)")
	cmd.Flags().Duration("read-timeout", 30*time.Second, "HTTP read timeout")
	cmd.Flags().Duration("schedule-poll", 5*time.Second, "Workflow schedule poll interval")

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, configPath, err := loadServeConfig(cmd)
	if err != nil {
		return err
	}
	logger := slog.Default()
	if configPath != "" {
		logger.Info("loaded config", "path", configPath)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	schedulePoll, _ := cmd.Flags().GetDuration("schedule-poll")
	a, err := buildApp(ctx, cfg, appOptions{SchedulePoll: schedulePoll}, logger)
	if err != nil {
		return exitError(exitConfig, "starting flowforge: %v", err)
	}

	readTimeout, _ := cmd.Flags().GetDuration("read-timeout")
	serveErr := a.serve(ctx, cmd.OutOrStdout(), readTimeout)

	closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.close(closeCtx); err != nil {
		logger.Warn("shutdown incomplete", "error", err)
	}
	if serveErr != nil {
		return exitError(exitRuntime, "server error: %v", serveErr)
	}
	return nil
}

// serve runs the HTTP server and the background workers until ctx ends,
// then shuts the listener down gracefully.
func (a *app) serve(ctx context.Context, out io.Writer, readTimeout time.Duration) error {
	httpServer := &http.Server{
		Addr:              a.cfg.HTTP.Addr(),
		Handler:           a.server.Handler(),
		ReadTimeout:       readTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	if err := a.start(gctx); err != nil {
		return err
	}

	g.Go(func() error {
		fmt.Fprintf(out, "FlowForge listening on %s\n", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		fmt.Fprintln(out, "Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// loadServeConfig discovers and loads the config file, then applies flag
// overrides. It returns the path that was loaded, if any.
func loadServeConfig(cmd *cobra.Command) (daemon.Config, string, error) {
	explicit, _ := cmd.Flags().GetString("config")
	path, found, err := daemon.DiscoverConfigPath(explicit)
	if err != nil {
		return daemon.Config{}, "", exitError(exitFileNotFound, "%v", err)
	}
	if !found {
		path = ""
	}
	cfg, err := daemon.LoadConfig(path)
	if err != nil {
		return daemon.Config{}, "", exitError(exitConfig, "%v", err)
	}

	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.HTTP.Port, _ = flags.GetInt("port")
	}
	if flags.Changed("host") {
		cfg.HTTP.Host, _ = flags.GetString("host")
	}
	if flags.Changed("cors-origin") {
		cfg.HTTP.CORSOrigin, _ = flags.GetString("cors-origin")
	}
	if flags.Changed("max-body") {
		cfg.HTTP.MaxBody, _ = flags.GetInt64("max-body")
	}
	if dsn, _ := flags.GetString("sqlite-path"); strings.TrimSpace(dsn) != "" {
		cfg.Storage = daemon.StorageConfig{Driver: daemon.DriverSQLite, DSN: strings.TrimSpace(dsn)}
	}
	if dsn, _ := flags.GetString("postgres-dsn"); strings.TrimSpace(dsn) != "" {
		cfg.Storage = daemon.StorageConfig{Driver: daemon.DriverPostgres, DSN: strings.TrimSpace(dsn)}
	}

	if err := cfg.Validate(); err != nil {
		return daemon.Config{}, "", exitError(exitConfig, "invalid config: %v", err)
	}
	return cfg, path, nil
}
