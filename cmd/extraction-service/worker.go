package main

import (
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"extraction-service/internal/config"
	"extraction-service/internal/metrics"
)

var workerMetricsAddr string

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run extraction workers against the shared redis queue",
	Long: `Claims scheduled jobs from the redis queue and executes them. Stale claims
left by crashed workers are returned to the queue on the configured interval.`,
	RunE: runWorker,
}

func init() {
	workerCmd.Flags().StringVar(&workerMetricsAddr, "metrics-addr", "", "Expose /metrics on this address (disabled when empty)")
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, _ []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Queue.Driver != config.QueueRedis {
		return errors.New("worker needs queue.driver=redis; the memory queue only serves in-process workers")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, err := buildDeps(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer d.Close()

	metrics.MustRegister()

	g, gctx := errgroup.WithContext(ctx)
	if workerMetricsAddr != "" {
		serveHTTP(gctx, g, metricsServer(workerMetricsAddr), cfg.HTTP.ShutdownTimeout, log)
	}
	if err := d.runWorkers(gctx, g); err != nil {
		stop()
		_ = g.Wait()
		return err
	}

	log.Info().
		Int("workers", cfg.Worker.Count).
		Str("store", cfg.Store.Driver).
		Str("dsn", config.RedactDSN(cfg.Store.DSN)).
		Msg("worker started")

	err = g.Wait()
	log.Info().Msg("worker stopped")
	return err
}
