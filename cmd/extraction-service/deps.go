package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"extraction-service/internal/config"
	"extraction-service/internal/extractor"
	"extraction-service/internal/logging"
	"extraction-service/internal/repository/memory"
	"extraction-service/internal/repository/postgresql"
	"extraction-service/internal/repository/sqlite"
	"extraction-service/internal/service"
	"extraction-service/internal/worker"
)

type deps struct {
	cfg      *config.Config
	log      *zerolog.Logger
	repo     service.JobRepository
	queue    service.Queue
	client   extractor.Client
	registry *service.Registry
	closers  []func()
}

func loadConfig() (*config.Config, *zerolog.Logger, error) {
	cfg, err := config.Load(configPath, devMode)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	log := logging.New(cfg.Log, cfg.Runtime.Dev)
	return cfg, log, nil
}

func buildDeps(ctx context.Context, cfg *config.Config, log *zerolog.Logger) (*deps, error) {
	d := &deps{
		cfg:      cfg,
		log:      log,
		registry: service.NewRegistry(cfg.Worker.MaxActive),
	}

	if err := d.openStore(ctx); err != nil {
		d.Close()
		return nil, err
	}
	if err := d.openQueue(ctx); err != nil {
		d.Close()
		return nil, err
	}
	d.client = extractor.New(cfg.Extraction)

	log.Info().
		Str("store", cfg.Store.Driver).
		Str("queue", cfg.Queue.Driver).
		Str("client", cfg.Extraction.Client).
		Msg("dependencies ready")
	return d, nil
}

func (d *deps) openStore(ctx context.Context) error {
	switch d.cfg.Store.Driver {
	case config.StorePostgres:
		pool, err := postgresql.Open(ctx, d.cfg.Store, *d.log)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		d.closers = append(d.closers, pool.Close)
		d.repo = postgresql.NewJobRepository(pool)
	case config.StoreSQLite:
		st, err := sqlite.Open(ctx, d.cfg.Store.DSN)
		if err != nil {
			return fmt.Errorf("sqlite: %w", err)
		}
		d.closers = append(d.closers, func() { _ = st.Close() })
		d.repo = st
	default:
		d.log.Warn().Msg("using in-memory job store; jobs are lost on restart")
		d.repo = memory.New()
	}
	return nil
}

func (d *deps) openQueue(ctx context.Context) error {
	if d.cfg.Queue.Driver != config.QueueRedis {
		d.queue = service.NewMemoryQueue(d.cfg.Queue.Size)
		return nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     d.cfg.Queue.RedisAddr,
		Password: d.cfg.Queue.RedisPassword,
		DB:       d.cfg.Queue.RedisDB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return fmt.Errorf("redis: %w", err)
	}
	d.closers = append(d.closers, func() { _ = rdb.Close() })
	d.queue = service.NewRedisQueue(rdb, d.cfg.Queue.Key, d.cfg.Queue.ProcessingKey)

	d.log.Info().
		Str("redis_addr", d.cfg.Queue.RedisAddr).
		Str("queue_key", d.cfg.Queue.Key).
		Str("processing_key", d.cfg.Queue.ProcessingKey).
		Msg("connected to redis")
	return nil
}

// Close releases connections in reverse order of opening.
func (d *deps) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
	d.closers = nil
}

// runWorkers adds the worker pool, and the reaper for a shared queue, to g.
func (d *deps) runWorkers(ctx context.Context, g *errgroup.Group) error {
	proc := worker.NewProcessor(d.repo, d.client, d.registry, d.log)
	pool := worker.NewPool(d.queue, proc, d.cfg.Worker.Count, d.cfg.Worker.ClaimTimeout, d.log)

	g.Go(func() error { return pool.Run(ctx) })

	if d.cfg.Queue.Driver != config.QueueRedis {
		return nil
	}
	reaper := worker.NewReaper(d.queue, d.cfg.Queue.ReapInterval, d.cfg.Queue.StaleAfter, d.log)
	// recover whatever a previous crash left behind before the first tick
	reaper.Sweep(ctx)
	if err := reaper.Start(ctx); err != nil {
		return err
	}
	g.Go(func() error {
		<-ctx.Done()
		reaper.Stop()
		return nil
	})
	return nil
}

// serveHTTP runs srv until ctx is done, then shuts it down gracefully.
func serveHTTP(ctx context.Context, g *errgroup.Group, srv *http.Server, shutdownTimeout time.Duration, log *zerolog.Logger) {
	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server %s: %w", srv.Addr, err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		log.Info().Str("addr", srv.Addr).Msg("http server stopped")
		return nil
	})
}

func metricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
}
