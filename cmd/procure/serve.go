package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/warp/procurement-engine/api"
	"github.com/warp/procurement-engine/config"
	"github.com/warp/procurement-engine/factory"
	"github.com/warp/procurement-engine/procurement"
	"github.com/warp/procurement-engine/procurement/store"
	"github.com/warp/procurement-engine/store/sqlite"
)

// serveCmd starts the HTTP server.
//
// STARTUP SEQUENCE:
//  1. Load config (file + PROCURE_* environment)
//  2. Open the store (sqlite or memory)
//  3. Load the approval matrix and seed the user directory
//  4. Wire service, handler and router
//  5. Start the completion scheduler and the server
//
// GRACEFUL SHUTDOWN:
//
//	On SIGINT/SIGTERM the server stops accepting connections, waits up to
//	30s for active requests, stops the scheduler and closes the store.
func serveCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the procurement HTTP API",
		Long: `Start the procurement HTTP API.

Examples:
  procure serve
  procure serve --config ./config/procure.example.yaml
  PROCURE_DATABASE_DRIVER=memory procure serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "config file (yaml, toml or json)")
	return cmd
}

func runServe(ctx context.Context, cfg config.Config) error {
	logger := cfg.Log.NewLogger(os.Stderr)
	slog.SetDefault(logger)

	st, closeStore, err := openStore(cfg.Database)
	if err != nil {
		return err
	}
	defer closeStore()

	matrix := factory.DefaultMatrix()
	if cfg.Approval.MatrixFile != "" {
		if matrix, err = factory.NewMatrixFactory().LoadFile(cfg.Approval.MatrixFile); err != nil {
			return err
		}
	}
	if cfg.Directory.UsersFile != "" {
		dir, err := factory.LoadDirectory(cfg.Directory.UsersFile)
		if err != nil {
			return err
		}
		if err := dir.Seed(ctx, st); err != nil {
			return err
		}
		logger.Info("user directory loaded", "users", len(dir), "file", cfg.Directory.UsersFile)
	}

	svc := procurement.NewService(st, matrix, cfg.Service())
	svc.Logger = logger
	svc.Notifier = procurement.LogNotifier{Logger: logger.With("component", "notifier")}

	handler := api.NewHandler(svc, logger)
	router := api.NewRouter(handler, cfg.Server.CORSOrigins)

	scheduler := api.NewCompletionScheduler(svc, logger)
	scheduler.CheckInterval = cfg.Scheduler.Interval
	scheduler.Enabled = cfg.Scheduler.Enabled
	scheduler.Start()
	defer scheduler.Stop()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 45 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			"addr", server.Addr,
			"driver", cfg.Database.Driver,
			"tiers", len(matrix.Thresholds))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err, ok := <-errc:
		if ok {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-quit:
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

func openStore(cfg config.DatabaseConfig) (procurement.Store, func(), error) {
	if cfg.Driver == "memory" {
		return store.NewMemory(), func() {}, nil
	}
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("creating database directory: %w", err)
		}
	}
	st, err := sqlite.New(cfg.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return st, func() { st.Close() }, nil
}
