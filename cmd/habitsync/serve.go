package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hyperengineering/habitsync/internal/api"
	"github.com/hyperengineering/habitsync/internal/config"
	"github.com/hyperengineering/habitsync/internal/serverstore"
	"github.com/hyperengineering/habitsync/internal/snapshot"
	"github.com/hyperengineering/habitsync/internal/worker"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the reference sync server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	// 1. Signal handling
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	// 2. Load configuration
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.ValidateServer(); err != nil {
		return err
	}

	// 3. Initialize logger
	initLogger(os.Stdout, cfg.Log.Level, cfg.Log.Format)
	slog.Info("configuration loaded")
	slog.Info("logger initialized", "level", cfg.Log.Level)

	// 4. Initialize store (migrations, WAL mode, stamp recovery)
	opts := []serverstore.Option{serverstore.WithIdempotencyTTL(time.Duration(cfg.Worker.IdempotencyTTL))}
	if cfg.Database.SnapshotPath != "" {
		opts = append(opts, serverstore.WithSnapshotPath(cfg.Database.SnapshotPath))
	}
	st, err := serverstore.Open(cfg.Database.Path, opts...)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Error("store close error", "error", err)
		}
	}()
	slog.Info("store initialized", "path", cfg.Database.Path)

	// 5. Snapshot storage
	uploader, err := snapshot.NewUploader(cfg.SnapshotStorage)
	if err != nil {
		return err
	}
	slog.Info("snapshot storage initialized", "bucket", cfg.SnapshotStorage.Bucket)

	// 6. Initialize HTTP router
	router := api.NewRouter(api.NewHandler(st, uploader, cfg.Auth.APIKey, Version))
	slog.Info("router initialized")

	// 7. Configure HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout),
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout),
	}

	// 8. Run server and workers until a signal or the first failure
	g, gctx := errgroup.WithContext(ctx)

	startWorker(gctx, g, "compaction", worker.NewCompactionWorker(st,
		time.Duration(cfg.Worker.CompactionInterval),
		time.Duration(cfg.Worker.CompactionRetention)).Run)
	startWorker(gctx, g, "idempotency-cleanup", worker.NewIdempotencyCleanupWorker(st,
		time.Duration(cfg.Worker.IdempotencyCleanupInterval)).Run)
	startWorker(gctx, g, "snapshot", worker.NewSnapshotWorker(st, uploader,
		time.Duration(cfg.Worker.SnapshotInterval)).Run)

	g.Go(func() error {
		slog.Info("server starting", "address", srv.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown initiated")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(),
			time.Duration(cfg.Server.ShutdownTimeout))
		defer shutdownCancel()

		// Drains in-flight requests.
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
		return nil
	})

	err = g.Wait()
	slog.Info("shutdown complete")
	return err
}

// startWorker runs fn in the group until ctx is cancelled.
func startWorker(ctx context.Context, g *errgroup.Group, name string, fn func(ctx context.Context)) {
	g.Go(func() error {
		slog.Info("worker launched", "worker", name)
		fn(ctx)
		slog.Info("worker exited", "worker", name)
		return nil
	})
}
