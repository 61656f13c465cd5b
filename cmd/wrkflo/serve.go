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

	"github.com/spf13/cobra"

	"github.com/seanchatmangpt/wrkflo/internal/api"
	"github.com/seanchatmangpt/wrkflo/internal/scheduler"
	"github.com/seanchatmangpt/wrkflo/pkg/mcp"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand(opts *rootOptions) *cobra.Command {
	var (
		useMCP bool
		listen string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API or an MCP server",
		Long: `Start the HTTP API with the cron scheduler, or with --mcp an MCP
server on stdio that exposes the run, validate and history tools.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			// MCP owns stdout, so logs always go to stderr.
			a, err := opts.setup(ctx, os.Stderr, true)
			if err != nil {
				return err
			}
			defer a.close()

			if useMCP {
				srv := mcp.NewServer(mcp.ServerDeps{Service: a.svc, Logger: a.logger, Version: version})
				a.logger.Info("mcp server listening on stdio")
				return srv.Serve(ctx)
			}

			if listen == "" {
				listen = a.cfg.ListenAddr
			}
			return serveHTTP(ctx, a, listen)
		},
	}

	cmd.Flags().BoolVar(&useMCP, "mcp", false, "serve MCP over stdio instead of HTTP")
	cmd.Flags().StringVar(&listen, "listen", "", "HTTP listen address (default from config)")
	return cmd
}

func serveHTTP(ctx context.Context, a *app, addr string) error {
	var sched *scheduler.Scheduler
	if a.store != nil {
		sched = scheduler.NewScheduler(a.store, a.svc, a.logger,
			scheduler.WithConcurrency(a.cfg.SchedulerConcurrency))
		if err := sched.RecoverMissed(ctx); err != nil {
			a.logger.Warn("missed job recovery failed", slog.String("error", err.Error()))
		}
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
		defer func() {
			if err := sched.Stop(); err != nil {
				a.logger.Warn("scheduler stop failed", slog.String("error", err.Error()))
			}
		}()
	}

	router := api.NewServer(a.svc, sched, a.logger, version).SetupRoutes()
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server listening", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
