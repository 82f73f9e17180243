package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"extraction-service/internal/logging"
	"extraction-service/internal/metrics"
	"extraction-service/internal/service"
)

const reapBatch = 100

// Reaper periodically returns stale deliveries to the task queue.
type Reaper struct {
	cron       *cron.Cron
	queue      service.Queue
	spec       string
	staleAfter time.Duration
	log        *zerolog.Logger
}

func NewReaper(queue service.Queue, interval, staleAfter time.Duration, log *zerolog.Logger) *Reaper {
	if log == nil {
		log = logging.Nop()
	}
	return &Reaper{
		cron:       cron.New(),
		queue:      queue,
		spec:       fmt.Sprintf("@every %s", interval),
		staleAfter: staleAfter,
		log:        log,
	}
}

// Start schedules the sweep. Stop it with Stop.
func (r *Reaper) Start(ctx context.Context) error {
	if _, err := r.cron.AddFunc(r.spec, func() { r.Sweep(ctx) }); err != nil {
		return fmt.Errorf("cron.AddFunc: %w", err)
	}
	r.cron.Start()
	r.log.Info().Str("spec", r.spec).Dur("stale_after", r.staleAfter).Msg("reaper started")
	return nil
}

func (r *Reaper) Stop() {
	<-r.cron.Stop().Done()
	r.log.Info().Msg("reaper stopped")
}

// Sweep runs one pass and reports how many deliveries were requeued.
func (r *Reaper) Sweep(ctx context.Context) int64 {
	moved, err := r.queue.RequeueStale(ctx, r.staleAfter, reapBatch)
	if err != nil {
		r.log.Error().Err(err).Msg("requeue stale tasks")
	}
	if moved > 0 {
		metrics.Requeued(moved)
		r.log.Warn().Int64("requeued", moved).Msg("stale tasks requeued")
	}
	return moved
}
