package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"extraction-service/docs"
	"extraction-service/internal/config"
	"extraction-service/internal/metrics"
	"extraction-service/internal/repository/postgresql"
	"extraction-service/internal/service"
	httptransport "extraction-service/internal/transport/http"
)

var (
	serveWithWorkers bool
	serveMigrate     bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Serves the extraction API under the configured base path.

With the in-memory queue the worker pool must run in this process (the default).
With the redis queue, pass --with-workers=false and run "worker" separately.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveWithWorkers, "with-workers", true, "Run the worker pool in this process")
	serveCmd.Flags().BoolVar(&serveMigrate, "migrate", false, "Apply the postgres schema before serving")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	if !serveWithWorkers && cfg.Queue.Driver == config.QueueMemory {
		return errors.New("the memory queue is process-local: --with-workers=false needs queue.driver=redis")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, err := buildDeps(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer d.Close()

	if serveMigrate {
		if err := migrateStore(ctx, d); err != nil {
			return err
		}
	}

	metrics.MustRegister()
	docs.SwaggerInfo.BasePath = cfg.HTTP.BasePath
	docs.SwaggerInfo.Version = version

	svc := service.NewJobService(d.repo, d.queue, d.client, d.registry, service.Options{
		SkipAuthOnStart: cfg.Extraction.SkipAuthOnStart,
		Version:         version,
		Logger:          log,
	})
	h := httptransport.NewHandler(svc, log)

	srv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      httptransport.Routes(h, httptransport.RouteOptions{BasePath: cfg.HTTP.BasePath, Metrics: true}),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	serveHTTP(gctx, g, srv, cfg.HTTP.ShutdownTimeout, log)
	if serveWithWorkers {
		if err := d.runWorkers(gctx, g); err != nil {
			stop()
			_ = g.Wait()
			return err
		}
	}

	log.Info().
		Str("version", version).
		Str("base_path", cfg.HTTP.BasePath).
		Bool("workers", serveWithWorkers).
		Msg("extraction service started")

	err = g.Wait()
	log.Info().Msg("extraction service stopped")
	return err
}

// migrateStore applies the postgres schema; the other stores set themselves up on open.
func migrateStore(ctx context.Context, d *deps) error {
	repo, ok := d.repo.(*postgresql.JobRepository)
	if !ok {
		d.log.Info().Str("store", d.cfg.Store.Driver).Msg("nothing to migrate")
		return nil
	}
	if err := postgresql.Migrate(ctx, repo.Pool()); err != nil {
		return err
	}
	d.log.Info().Msg("schema applied")
	return nil
}
