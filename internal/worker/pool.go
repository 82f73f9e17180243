package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"extraction-service/internal/logging"
	"extraction-service/internal/service"
)

type TaskProcessor interface {
	Process(ctx context.Context, task service.Task) error
}

type Pool struct {
	queue      service.Queue
	processor  TaskProcessor
	workers    int
	claimDelay time.Duration
	retryDelay time.Duration
	log        *zerolog.Logger
}

func NewPool(queue service.Queue, processor TaskProcessor, workers int, claimDelay time.Duration, log *zerolog.Logger) *Pool {
	if workers <= 0 {
		workers = 4
	}
	if claimDelay <= 0 {
		claimDelay = 5 * time.Second
	}
	if log == nil {
		log = logging.Nop()
	}
	return &Pool{
		queue:      queue,
		processor:  processor,
		workers:    workers,
		claimDelay: claimDelay,
		retryDelay: time.Second,
		log:        log,
	}
}

// Run claims tasks until ctx is done, then waits for in-flight tasks.
func (p *Pool) Run(ctx context.Context) error {
	p.log.Info().Int("workers", p.workers).Msg("worker pool started")

	taskCh := make(chan service.Delivery)
	var wg sync.WaitGroup

	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			log := p.log.With().Int("worker", n).Logger()
			for d := range taskCh {
				p.handle(ctx, &log, d)
			}
		}(i + 1)
	}

	defer func() {
		close(taskCh)
		wg.Wait()
		p.log.Info().Msg("worker pool stopped")
	}()

	for {
		if ctx.Err() != nil {
			return nil
		}
		d, err := p.queue.Claim(ctx, p.claimDelay)
		if err != nil {
			if errors.Is(err, service.ErrNoTask) || ctx.Err() != nil {
				continue
			}
			p.log.Error().Err(err).Msg("claim task")
			if !sleep(ctx, time.Second) {
				return nil
			}
			continue
		}
		select {
		case taskCh <- d:
		case <-ctx.Done():
			// claimed but never started; leave it unacked for the reaper
			return nil
		}
	}
}

func (p *Pool) handle(ctx context.Context, log *zerolog.Logger, d service.Delivery) {
	err := p.processor.Process(ctx, d.Task)
	if err != nil {
		log.Error().Err(err).Str("job_id", d.Task.JobID.String()).Msg("process task")
	}

	if errors.Is(err, ErrNotClaimed) && !p.retry(ctx, log, d) {
		// stays in the processing list for the reaper
		return
	}

	// The job row already carries the outcome, and a crash before this
	// point is what the reaper is for.
	if err := p.queue.Ack(context.WithoutCancel(ctx), d); err != nil {
		log.Error().Err(err).Str("job_id", d.Task.JobID.String()).Msg("ack task")
	}
}

// retry puts a task that never left pending back on the queue.
func (p *Pool) retry(ctx context.Context, log *zerolog.Logger, d service.Delivery) bool {
	sleep(ctx, p.retryDelay)
	if err := p.queue.Enqueue(context.WithoutCancel(ctx), d.Task); err != nil {
		log.Error().Err(err).Str("job_id", d.Task.JobID.String()).Msg("requeue task")
		return false
	}
	log.Warn().Str("job_id", d.Task.JobID.String()).Msg("task requeued")
	return true
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
