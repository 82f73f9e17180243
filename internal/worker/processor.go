package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"extraction-service/internal/entity"
	"extraction-service/internal/extractor"
	"extraction-service/internal/logging"
	"extraction-service/internal/metrics"
	"extraction-service/internal/repository"
	"extraction-service/internal/service"
)

// ErrNotClaimed means Process gave up before moving the job out of pending,
// so the task must be delivered again.
var ErrNotClaimed = errors.New("task not claimed")

type Processor struct {
	repo     service.JobRepository
	client   extractor.Client
	registry *service.Registry
	log      *zerolog.Logger
	now      func() time.Time
}

func NewProcessor(repo service.JobRepository, client extractor.Client, registry *service.Registry, log *zerolog.Logger) *Processor {
	if log == nil {
		log = logging.Nop()
	}
	return &Processor{
		repo:     repo,
		client:   client,
		registry: registry,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Process executes one job. It is safe to call repeatedly for the same task:
// anything but a pending job, or a job already executing here, is a no-op.
// Client failures are recorded on the job and are not returned. Errors
// wrapping ErrNotClaimed leave the job pending.
func (p *Processor) Process(ctx context.Context, task service.Task) error {
	start := time.Now()
	id := task.JobID
	log := p.log.With().Str("job_id", id.String()).Logger()

	h, err := p.registry.Acquire(id)
	if err != nil {
		if errors.Is(err, service.ErrAlreadyRunning) {
			log.Debug().Msg("already executing, skipped")
			return nil
		}
		return fmt.Errorf("%w: %v", ErrNotClaimed, err)
	}
	defer h.Release()

	job, err := p.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			log.Debug().Msg("job removed before execution")
			return nil
		}
		return fmt.Errorf("%w: load job: %v", ErrNotClaimed, err)
	}
	if job.Status != entity.StatusPending {
		log.Debug().Str("status", string(job.Status)).Msg("not pending, skipped")
		return nil
	}

	startedAt := p.now()
	job, err = p.repo.Update(ctx, id, []entity.JobStatus{entity.StatusPending},
		entity.JobPatch{Status: entity.StatusInProgress, StartedAt: &startedAt})
	if err != nil {
		if errors.Is(err, repository.ErrStatusMismatch) || errors.Is(err, repository.ErrNotFound) {
			log.Debug().Err(err).Msg("lost the claim, skipped")
			return nil
		}
		return fmt.Errorf("%w: mark in progress: %v", ErrNotClaimed, err)
	}
	log = log.With().Str("record_type", string(job.RecordType)).Logger()
	log.Info().Str("status", string(entity.StatusInProgress)).Msg("job claimed")

	// checkpoint: before the external call
	if p.stopRequested(ctx, h, job) {
		log.Info().Msg("cancelled before fetch")
		return nil
	}

	records, fetchErr := p.extract(ctx, task.APIToken, job.RecordType)

	// checkpoint: after the response, before commit
	if p.stopRequested(ctx, h, job) {
		log.Info().Int("records", len(records)).Msg("cancelled after fetch, results discarded")
		return nil
	}

	// results and failures must land even if we're shutting down
	wctx := context.WithoutCancel(ctx)

	if fetchErr != nil {
		msg := extractor.FailureMessage(fetchErr)
		if ctx.Err() != nil {
			msg = "Worker stopped before the extraction finished: " + fetchErr.Error()
		}
		doneAt := p.now()
		_, err := p.repo.Update(wctx, id, []entity.JobStatus{entity.StatusInProgress},
			entity.JobPatch{Status: entity.StatusFailed, CompletedAt: &doneAt, Error: &msg})
		if err != nil {
			if errors.Is(err, repository.ErrStatusMismatch) || errors.Is(err, repository.ErrNotFound) {
				log.Info().Err(err).Msg("job changed while failing, left as is")
				return nil
			}
			return err
		}
		metrics.JobFinished(string(entity.StatusFailed), time.Since(start))
		log.Warn().
			Str("status", string(entity.StatusFailed)).
			Int64("duration_ms", time.Since(start).Milliseconds()).
			Str("error", msg).
			Msg("job failed")
		return nil
	}

	job, err = p.repo.Complete(wctx, id, records, p.now())
	if err != nil {
		if errors.Is(err, repository.ErrStatusMismatch) || errors.Is(err, repository.ErrNotFound) {
			log.Info().Err(err).Msg("job changed before commit, results discarded")
			return nil
		}
		return err
	}

	metrics.JobFinished(string(entity.StatusCompleted), time.Since(start))
	metrics.RecordsExtracted(string(job.RecordType), job.RecordCount)
	log.Info().
		Str("status", string(entity.StatusCompleted)).
		Int("records", job.RecordCount).
		Int64("duration_ms", time.Since(start).Milliseconds()).
		Msg("job completed")
	return nil
}

func (p *Processor) extract(ctx context.Context, token string, rt entity.RecordType) ([]entity.Record, error) {
	if err := p.client.Authenticate(ctx, token); err != nil {
		return nil, err
	}
	return p.client.Fetch(ctx, token, rt)
}

// stopRequested reports whether the job was cancelled or removed. The
// registry flag covers cancels from this process; the store re-read covers
// cancels handled by another process.
func (p *Processor) stopRequested(ctx context.Context, h *service.Handle, job *entity.Job) bool {
	if h.Cancelled() {
		return true
	}
	current, err := p.repo.GetByID(context.WithoutCancel(ctx), job.ID)
	if err != nil {
		return errors.Is(err, repository.ErrNotFound)
	}
	return current.Status != entity.StatusInProgress
}
