package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"extraction-service/internal/apperror"
	"extraction-service/internal/entity"
	"extraction-service/internal/extractor"
	"extraction-service/internal/logging"
	"extraction-service/internal/metrics"
	"extraction-service/internal/repository"
)

// Job Store port (implementations: memory.Store, postgresql.JobRepository, sqlite.Store)
type JobRepository interface {
	Create(ctx context.Context, job *entity.Job) error
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Job, error)
	Update(ctx context.Context, id uuid.UUID, expect []entity.JobStatus, patch entity.JobPatch) (*entity.Job, error)
	Complete(ctx context.Context, id uuid.UUID, records []entity.Record, at time.Time) (*entity.Job, error)
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, f entity.JobFilter) ([]*entity.Job, int, error)
	Results(ctx context.Context, id uuid.UUID, limit, offset int) ([]entity.ExtractionResult, int, error)
	Stats(ctx context.Context) (*entity.Statistics, error)
	Ping(ctx context.Context) error
}

const (
	ServiceName    = "Data Extraction Service"
	maxJobNameLen  = 255
	jobNameLayout  = "20060102_150405"
	healthOK       = "ok"
	healthDegraded = "unhealthy"
)

type Options struct {
	// SkipAuthOnStart disables the synchronous token check against the
	// third-party service; format checks still apply.
	SkipAuthOnStart bool
	Version         string
	Logger          *zerolog.Logger
}

// JobService is the request-side half of the orchestrator. Execution lives
// in worker.Processor; both share the Registry.
type JobService struct {
	repo     JobRepository
	queue    Queue
	client   extractor.Client
	registry *Registry
	opts     Options
	log      *zerolog.Logger
	now      func() time.Time
}

func NewJobService(repo JobRepository, queue Queue, client extractor.Client, registry *Registry, opts Options) *JobService {
	log := opts.Logger
	if log == nil {
		log = logging.Nop()
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	return &JobService{
		repo:     repo,
		queue:    queue,
		client:   client,
		registry: registry,
		opts:     opts,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

type StartJobRequest struct {
	APIToken   string
	RecordType string
	Name       string
}

func (s *JobService) StartJob(ctx context.Context, req StartJobRequest) (*entity.Job, error) {
	token := strings.TrimSpace(req.APIToken)
	if err := extractor.ValidateTokenFormat(token); err != nil {
		return nil, err
	}

	rt := entity.RecordContacts
	if req.RecordType != "" {
		parsed, ok := entity.ParseRecordType(req.RecordType)
		if !ok {
			return nil, apperror.Validation(
				fmt.Sprintf("Unsupported record type %q", req.RecordType),
				map[string]string{"record_type": "Must be one of: " + recordTypeList()},
			)
		}
		rt = parsed
	}

	name := strings.TrimSpace(req.Name)
	if len(name) > maxJobNameLen {
		return nil, apperror.Validation("Job name is too long", map[string]string{
			"name": fmt.Sprintf("Ensure this field has no more than %d characters.", maxJobNameLen),
		})
	}
	now := s.now()
	if name == "" {
		name = "Extraction_" + now.Format(jobNameLayout)
	}

	log := logging.With(ctx, s.log)

	if !s.opts.SkipAuthOnStart {
		if err := s.client.Authenticate(ctx, token); err != nil {
			if errors.Is(err, extractor.ErrAuth) {
				return nil, apperror.InvalidToken("Invalid or expired API token", err)
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, apperror.Internal(ctxErr)
			}
			// not the caller's fault: the job will fail with the cause recorded
			log.Warn().Err(err).Msg("token check failed, deferring to execution")
		}
	}

	job := &entity.Job{
		ID:         uuid.New(),
		Name:       name,
		Status:     entity.StatusPending,
		RecordType: rt,
		TokenHint:  extractor.MaskToken(token),
		CreatedAt:  now,
	}
	if err := s.repo.Create(ctx, job); err != nil {
		return nil, apperror.Internal(fmt.Errorf("create job: %w", err))
	}

	if err := s.queue.Enqueue(ctx, Task{JobID: job.ID, APIToken: token}); err != nil {
		msg := "Failed to schedule job: " + err.Error()
		at := s.now()
		if _, uerr := s.repo.Update(ctx, job.ID, []entity.JobStatus{entity.StatusPending},
			entity.JobPatch{Status: entity.StatusFailed, CompletedAt: &at, Error: &msg}); uerr != nil {
			log.Error().Err(uerr).Str("job_id", job.ID.String()).Msg("mark unscheduled job failed")
		}
		return nil, apperror.Internal(fmt.Errorf("enqueue job %s: %w", job.ID, err))
	}

	metrics.JobStarted()
	log.Info().
		Str("job_id", job.ID.String()).
		Str("record_type", string(rt)).
		Str("token", job.TokenHint).
		Msg("job started")
	return job, nil
}

func (s *JobService) GetJob(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	job, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, s.translate(err, id)
	}
	return job, nil
}

type ResultPage struct {
	Results    []entity.ExtractionResult
	Pagination entity.Pagination
}

func (s *JobService) GetResults(ctx context.Context, id uuid.UUID, page entity.PageRequest) (*ResultPage, error) {
	job, err := s.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != entity.StatusCompleted {
		return nil, apperror.JobNotCompleted(string(job.Status))
	}

	page = page.Normalize()
	results, total, err := s.repo.Results(ctx, id, page.PerPage, page.Offset())
	if err != nil {
		return nil, s.translate(err, id)
	}
	return &ResultPage{Results: results, Pagination: entity.NewPagination(page, total)}, nil
}

// CancelJob moves a pending or in-progress job to cancelled. A running
// execution notices at its next checkpoint and stops without writing results.
func (s *JobService) CancelJob(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	now := s.now()
	job, err := s.repo.Update(ctx, id,
		[]entity.JobStatus{entity.StatusPending, entity.StatusInProgress},
		entity.JobPatch{Status: entity.StatusCancelled, CompletedAt: &now},
	)
	if err != nil {
		if errors.Is(err, repository.ErrStatusMismatch) {
			current, gerr := s.GetJob(ctx, id)
			if gerr != nil {
				return nil, gerr
			}
			return nil, apperror.NotCancellable(string(current.Status))
		}
		return nil, s.translate(err, id)
	}

	running := s.registry.Signal(id)
	metrics.JobFinished(string(entity.StatusCancelled), now.Sub(job.CreatedAt))
	logging.With(ctx, s.log).Info().
		Str("job_id", id.String()).
		Bool("was_running", running).
		Msg("job cancelled")
	return job, nil
}

// RemoveJob deletes a job and its results whatever its status.
func (s *JobService) RemoveJob(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return s.translate(err, id)
	}
	s.registry.Signal(id)
	logging.With(ctx, s.log).Info().Str("job_id", id.String()).Msg("job removed")
	return nil
}

type JobPage struct {
	Jobs       []*entity.Job
	Pagination entity.Pagination
}

func (s *JobService) ListJobs(ctx context.Context, status *entity.JobStatus, page entity.PageRequest) (*JobPage, error) {
	page = page.Normalize()
	jobs, total, err := s.repo.List(ctx, entity.JobFilter{
		Status: status,
		Limit:  page.PerPage,
		Offset: page.Offset(),
	})
	if err != nil {
		return nil, apperror.Internal(fmt.Errorf("list jobs: %w", err))
	}
	return &JobPage{Jobs: jobs, Pagination: entity.NewPagination(page, total)}, nil
}

func (s *JobService) Statistics(ctx context.Context) (*entity.Statistics, error) {
	stats, err := s.repo.Stats(ctx)
	if err != nil {
		return nil, apperror.Internal(fmt.Errorf("job statistics: %w", err))
	}
	return stats, nil
}

type HealthReport struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Service   string            `json:"service"`
	Version   string            `json:"version"`
	Checks    map[string]string `json:"checks"`
}

func (r *HealthReport) Healthy() bool { return r.Status == healthOK }

// Health pings the Job Store and the task queue.
func (s *JobService) Health(ctx context.Context) *HealthReport {
	rep := &HealthReport{
		Status:    healthOK,
		Timestamp: s.now(),
		Service:   ServiceName,
		Version:   s.opts.Version,
		Checks:    map[string]string{},
	}
	check := func(name string, ping func(context.Context) error) {
		pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := ping(pctx); err != nil {
			rep.Checks[name] = "unhealthy: " + err.Error()
			rep.Status = healthDegraded
			return
		}
		rep.Checks[name] = "healthy"
	}
	check("database", s.repo.Ping)
	check("queue", s.queue.Ping)
	return rep
}

func (s *JobService) translate(err error, id uuid.UUID) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperror.JobNotFound(id.String())
	}
	var ae *apperror.Error
	if errors.As(err, &ae) {
		return ae
	}
	return apperror.Internal(err)
}

func recordTypeList() string {
	names := make([]string, len(entity.RecordTypes))
	for i, rt := range entity.RecordTypes {
		names[i] = string(rt)
	}
	return strings.Join(names, ", ")
}
