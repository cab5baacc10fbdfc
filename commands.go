package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/swapsettle/gateway/config"
	"github.com/swapsettle/gateway/settlement"
)

const shutdownTimeout = 15 * time.Second

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and the background reconciler",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger := newLogger(cfg)

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reconciler := settlement.NewReconciler(a.orchestrator, cfg.ReconcileInterval, cfg.ConvertingStaleAfter)
	go reconciler.Run(ctx)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           setupRouter(a),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.WithField("port", cfg.Port).Info("starting settlement gateway")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("http server did not shut down cleanly")
	}
	return a.shutdown(shutdownCtx)
}

func reconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Run one reconciliation pass and exit",
		Long: `Run the reconciler once:
- resume received payments of auto-settling merchants
- fail conversions stuck in converting longer than CONVERTING_STALE_AFTER`,
		RunE: runReconcile,
	}
}

func runReconcile(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger := newLogger(cfg)

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}

	reconciler := settlement.NewReconciler(a.orchestrator, cfg.ReconcileInterval, cfg.ConvertingStaleAfter)
	summary, err := reconciler.RunOnce(cmd.Context())
	if err != nil {
		return fmt.Errorf("reconcile failed: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "resumed: %d\nexpired: %d\n", summary.Resumed, summary.Expired)

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return a.shutdown(ctx)
}
