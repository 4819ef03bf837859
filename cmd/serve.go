package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/matrixise/ethfolio/internal/api"
	"github.com/matrixise/ethfolio/internal/health"
	"github.com/matrixise/ethfolio/internal/scheduler"
)

var interval string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the JSON API",
	Long: `Serve the JSON API and health endpoint. With an interval (flag or config)
every linked wallet is also synced and backfilled on a clock-aligned schedule.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&interval, "interval", "", "sync interval - duration (5m, 1h) or cron (\"*/5 * * * *\") - empty disables scheduled sync")
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			slog.Info("Signal received, graceful shutdown", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	// Use interval from flag if provided, otherwise from config
	runInterval := interval
	if runInterval == "" {
		runInterval = a.cfg.Interval
	}

	limiter, err := a.limiter(ctx)
	if err != nil {
		return err
	}

	var healthChecker *health.Checker
	var sched *scheduler.Scheduler
	if runInterval != "" {
		slog.Info("Starting daemon mode with scheduler",
			"interval", runInterval,
			"timezone", a.cfg.GetTimezone().String(),
			"run_immediately", a.cfg.ShouldRunImmediately())

		syncAll := scheduler.SyncAllWallets(a.store, a.engine)
		sched, err = scheduler.NewScheduler(ctx, scheduler.Config{
			Name:           "wallet-sync",
			Interval:       runInterval,
			Timezone:       a.cfg.GetTimezone(),
			RunImmediately: a.cfg.ShouldRunImmediately(),
			Logger:         slog.Default(),
		}, func(jobCtx context.Context) error {
			err := syncAll(jobCtx)
			if healthChecker != nil {
				healthChecker.UpdateLastRun(err == nil)
			}
			return err
		})
		if err != nil {
			slog.Error("Failed to create scheduler", "error", err)
			return fmt.Errorf("scheduler creation failed: %w", err)
		}
		defer sched.Stop()

		healthChecker = a.healthChecker(sched.ExpectedInterval())
	} else {
		healthChecker = a.healthChecker(0)
	}

	server := api.NewServer(a.engine, a.portfolio, a.store, api.Config{
		BaseContext: ctx,
		Limiter:     limiter,
		Metrics:     a.registry,
		Health:      healthChecker.Handler(),
	})

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.HTTPPort),
		Handler:           server,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server starting", "port", a.cfg.HTTPPort)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP server shutdown error", "error", err)
		}
		server.Wait()
	}()

	if sched != nil {
		if err := sched.Start(); err != nil {
			slog.Error("Failed to start scheduler", "error", err)
			return fmt.Errorf("scheduler start failed: %w", err)
		}
	}

	select {
	case <-ctx.Done():
		slog.Info("Shutdown requested, stopping server")
		return nil
	case err := <-errCh:
		slog.Error("HTTP server error", "error", err)
		return err
	}
}
