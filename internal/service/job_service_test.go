package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"extraction-service/internal/apperror"
	"extraction-service/internal/entity"
	"extraction-service/internal/extractor"
	"extraction-service/internal/repository/memory"
)

type failingQueue struct {
	*MemoryQueue
	enqueueErr error
	pingErr    error
}

func (q *failingQueue) Enqueue(ctx context.Context, t Task) error {
	if q.enqueueErr != nil {
		return q.enqueueErr
	}
	return q.MemoryQueue.Enqueue(ctx, t)
}

func (q *failingQueue) Ping(ctx context.Context) error { return q.pingErr }

type brokenRepo struct {
	*memory.Store
	err error
}

func (r *brokenRepo) Ping(context.Context) error { return r.err }

type fixture struct {
	svc      *JobService
	repo     *memory.Store
	queue    *failingQueue
	client   *extractor.MockClient
	registry *Registry
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	f := &fixture{
		repo:     memory.New(),
		queue:    &failingQueue{MemoryQueue: NewMemoryQueue(16)},
		client:   extractor.NewMockClient(extractor.MockOptions{Seed: 1, PageSize: 2}),
		registry: NewRegistry(10),
	}
	f.svc = NewJobService(f.repo, f.queue, f.client, f.registry, opts)
	return f
}

const validToken = "test_token_valid_12345"

func TestStartJob_CreatesPendingJobAndEnqueues(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	job, err := f.svc.StartJob(ctx, StartJobRequest{APIToken: "  " + validToken + " ", RecordType: "contacts"})
	require.NoError(t, err)
	assert.Equal(t, entity.StatusPending, job.Status)
	assert.Equal(t, entity.RecordContacts, job.RecordType)
	assert.True(t, strings.HasPrefix(job.Name, "Extraction_"), job.Name)
	assert.Equal(t, "test_token...", job.TokenHint)

	stored, err := f.repo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusPending, stored.Status)

	d, err := f.queue.Claim(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, job.ID, d.Task.JobID)
	assert.Equal(t, validToken, d.Task.APIToken)
}

func TestStartJob_DefaultsAndName(t *testing.T) {
	f := newFixture(t, Options{})
	job, err := f.svc.StartJob(context.Background(), StartJobRequest{APIToken: validToken, Name: "nightly"})
	require.NoError(t, err)
	assert.Equal(t, entity.RecordContacts, job.RecordType)
	assert.Equal(t, "nightly", job.Name)
}

func TestStartJob_IdenticalRequestsAreIndependent(t *testing.T) {
	f := newFixture(t, Options{})
	req := StartJobRequest{APIToken: validToken, RecordType: "users"}

	a, err := f.svc.StartJob(context.Background(), req)
	require.NoError(t, err)
	b, err := f.svc.StartJob(context.Background(), req)
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, 2, f.queue.Len())
}

func TestStartJob_Rejections(t *testing.T) {
	tests := []struct {
		name string
		req  StartJobRequest
		kind apperror.Kind
	}{
		{"empty token", StartJobRequest{APIToken: ""}, apperror.KindValidation},
		{"blank token", StartJobRequest{APIToken: "   "}, apperror.KindValidation},
		{"malformed token", StartJobRequest{APIToken: "bad token!"}, apperror.KindAuth},
		{"unknown token", StartJobRequest{APIToken: "well_formed_but_unknown"}, apperror.KindAuth},
		{"unsupported record type", StartJobRequest{APIToken: validToken, RecordType: "orders"}, apperror.KindValidation},
		{"name too long", StartJobRequest{APIToken: validToken, Name: strings.Repeat("x", 256)}, apperror.KindValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, Options{})
			_, err := f.svc.StartJob(context.Background(), tt.req)
			require.Error(t, err)
			assert.True(t, apperror.IsKind(err, tt.kind), "got %v", err)

			jobs, total, lerr := f.repo.List(context.Background(), entity.JobFilter{})
			require.NoError(t, lerr)
			assert.Zero(t, total, "no job may be created on rejection")
			assert.Empty(t, jobs)
			assert.Zero(t, f.queue.Len())
		})
	}
}

func TestStartJob_SkipAuthOnStart(t *testing.T) {
	f := newFixture(t, Options{SkipAuthOnStart: true})
	job, err := f.svc.StartJob(context.Background(), StartJobRequest{APIToken: "well_formed_but_unknown"})
	require.NoError(t, err)
	assert.Equal(t, entity.StatusPending, job.Status)
}

func TestStartJob_UnavailableServiceDefersToExecution(t *testing.T) {
	f := newFixture(t, Options{})
	f.client.SimulateFailure(extractor.FailUnavailable)

	job, err := f.svc.StartJob(context.Background(), StartJobRequest{APIToken: validToken})
	require.NoError(t, err)
	assert.Equal(t, entity.StatusPending, job.Status)
}

func TestStartJob_EnqueueFailureMarksJobFailed(t *testing.T) {
	f := newFixture(t, Options{})
	f.queue.enqueueErr = ErrQueueFull

	_, err := f.svc.StartJob(context.Background(), StartJobRequest{APIToken: validToken})
	require.Error(t, err)
	assert.True(t, apperror.IsKind(err, apperror.KindInternal))

	st := entity.StatusFailed
	jobs, total, err := f.repo.List(context.Background(), entity.JobFilter{Status: &st})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.NotNil(t, jobs[0].Error)
	assert.Contains(t, *jobs[0].Error, "queue is full")
}

func TestGetJob_NotFound(t *testing.T) {
	f := newFixture(t, Options{})
	id := uuid.New()
	_, err := f.svc.GetJob(context.Background(), id)
	require.Error(t, err)
	assert.True(t, apperror.IsKind(err, apperror.KindNotFound))
	assert.Contains(t, apperror.As(err).Message, id.String())
}

func seed(t *testing.T, repo *memory.Store, status entity.JobStatus) *entity.Job {
	t.Helper()
	ctx := context.Background()
	job := &entity.Job{Name: "seeded", RecordType: entity.RecordContacts}
	require.NoError(t, repo.Create(ctx, job))
	if status == entity.StatusPending {
		return job
	}
	now := time.Now().UTC()
	_, err := repo.Update(ctx, job.ID, []entity.JobStatus{entity.StatusPending},
		entity.JobPatch{Status: entity.StatusInProgress, StartedAt: &now})
	require.NoError(t, err)

	switch status {
	case entity.StatusCompleted:
		_, err = repo.Complete(ctx, job.ID, []entity.Record{{"email": "a@example.com"}, {"email": "b@example.com"}, {"email": "c@example.com"}}, now)
	case entity.StatusFailed:
		msg := "Authentication failed: nope"
		_, err = repo.Update(ctx, job.ID, []entity.JobStatus{entity.StatusInProgress},
			entity.JobPatch{Status: entity.StatusFailed, CompletedAt: &now, Error: &msg})
	case entity.StatusCancelled:
		_, err = repo.Update(ctx, job.ID, []entity.JobStatus{entity.StatusInProgress},
			entity.JobPatch{Status: entity.StatusCancelled, CompletedAt: &now})
	}
	require.NoError(t, err)
	return job
}

func TestGetResults(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	done := seed(t, f.repo, entity.StatusCompleted)
	page, err := f.svc.GetResults(ctx, done.ID, entity.PageRequest{Page: 1, PerPage: 2})
	require.NoError(t, err)
	assert.Len(t, page.Results, 2)
	assert.Equal(t, 3, page.Pagination.Total)
	assert.Equal(t, 2, page.Pagination.TotalPages)
	assert.True(t, page.Pagination.HasMore)

	page, err = f.svc.GetResults(ctx, done.ID, entity.PageRequest{Page: 5, PerPage: 2})
	require.NoError(t, err)
	assert.Empty(t, page.Results)
	assert.False(t, page.Pagination.HasMore)

	for _, st := range []entity.JobStatus{entity.StatusPending, entity.StatusInProgress, entity.StatusFailed, entity.StatusCancelled} {
		job := seed(t, f.repo, st)
		_, err := f.svc.GetResults(ctx, job.ID, entity.PageRequest{})
		require.Error(t, err, st)
		assert.True(t, apperror.IsKind(err, apperror.KindStateConflict), "status %s: %v", st, err)
		assert.Equal(t, apperror.CodeJobNotCompleted, apperror.As(err).Code)
	}
}

func TestCancelJob(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	for _, st := range []entity.JobStatus{entity.StatusPending, entity.StatusInProgress} {
		job := seed(t, f.repo, st)
		got, err := f.svc.CancelJob(ctx, job.ID)
		require.NoError(t, err, st)
		assert.Equal(t, entity.StatusCancelled, got.Status)
		assert.NotNil(t, got.CompletedAt)
	}

	for _, st := range []entity.JobStatus{entity.StatusCompleted, entity.StatusFailed, entity.StatusCancelled} {
		job := seed(t, f.repo, st)
		_, err := f.svc.CancelJob(ctx, job.ID)
		require.Error(t, err, st)
		assert.True(t, apperror.IsKind(err, apperror.KindStateConflict))
		assert.Contains(t, apperror.As(err).Message, string(st))

		after, gerr := f.repo.GetByID(ctx, job.ID)
		require.NoError(t, gerr)
		assert.Equal(t, st, after.Status, "terminal status must not change")
	}

	_, err := f.svc.CancelJob(ctx, uuid.New())
	assert.True(t, apperror.IsKind(err, apperror.KindNotFound))
}

func TestCancelJob_SignalsRunningExecution(t *testing.T) {
	f := newFixture(t, Options{})
	job := seed(t, f.repo, entity.StatusInProgress)

	h, err := f.registry.Acquire(job.ID)
	require.NoError(t, err)
	defer h.Release()

	_, err = f.svc.CancelJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.True(t, h.Cancelled())
}

func TestRemoveJob(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	for _, st := range entity.AllStatuses {
		job := seed(t, f.repo, st)
		require.NoError(t, f.svc.RemoveJob(ctx, job.ID), st)

		_, err := f.svc.GetJob(ctx, job.ID)
		assert.True(t, apperror.IsKind(err, apperror.KindNotFound))

		err = f.svc.RemoveJob(ctx, job.ID)
		assert.True(t, apperror.IsKind(err, apperror.KindNotFound), "second remove")
	}
}

func TestListJobsAndStatistics(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	seed(t, f.repo, entity.StatusPending)
	seed(t, f.repo, entity.StatusPending)
	seed(t, f.repo, entity.StatusCompleted)
	seed(t, f.repo, entity.StatusFailed)

	page, err := f.svc.ListJobs(ctx, nil, entity.PageRequest{Page: 1, PerPage: 3})
	require.NoError(t, err)
	assert.Len(t, page.Jobs, 3)
	assert.Equal(t, 4, page.Pagination.Total)
	assert.True(t, page.Pagination.HasMore)

	st := entity.StatusPending
	page, err = f.svc.ListJobs(ctx, &st, entity.PageRequest{})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Pagination.Total)
	assert.Equal(t, entity.DefaultPerPage, page.Pagination.PerPage)

	stats, err := f.svc.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.TotalJobs)
	assert.Equal(t, 2, stats.Count(entity.StatusPending))
	assert.Equal(t, 1, stats.Count(entity.StatusCompleted))
	require.NotNil(t, stats.AverageRecordCount)
	assert.InDelta(t, 3.0, *stats.AverageRecordCount, 0.001)
}

func TestHealth(t *testing.T) {
	f := newFixture(t, Options{Version: "1.2.3"})
	rep := f.svc.Health(context.Background())
	assert.True(t, rep.Healthy())
	assert.Equal(t, "healthy", rep.Checks["database"])
	assert.Equal(t, "healthy", rep.Checks["queue"])
	assert.Equal(t, "1.2.3", rep.Version)
	assert.Equal(t, ServiceName, rep.Service)

	f.queue.pingErr = errors.New("connection refused")
	rep = f.svc.Health(context.Background())
	assert.False(t, rep.Healthy())
	assert.Equal(t, "unhealthy", rep.Status)
	assert.Contains(t, rep.Checks["queue"], "connection refused")

	broken := &brokenRepo{Store: memory.New(), err: errors.New("db down")}
	svc := NewJobService(broken, NewMemoryQueue(1), f.client, f.registry, Options{})
	rep = svc.Health(context.Background())
	assert.False(t, rep.Healthy())
	assert.Contains(t, rep.Checks["database"], "db down")
}
