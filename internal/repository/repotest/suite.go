// Package repotest is a behavioural suite every Job Store backend runs.
package repotest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"extraction-service/internal/entity"
	"extraction-service/internal/repository"
)

type Store interface {
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

// Run executes the suite. newStore must return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("CreateAndGet", func(t *testing.T) { testCreateAndGet(t, newStore(t)) })
	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, newStore(t)) })
	t.Run("UpdateCAS", func(t *testing.T) { testUpdateCAS(t, newStore(t)) })
	t.Run("CompleteStoresResultsInOrder", func(t *testing.T) { testComplete(t, newStore(t)) })
	t.Run("CompleteAfterCancelWritesNothing", func(t *testing.T) { testCompleteAfterCancel(t, newStore(t)) })
	t.Run("DeleteCascades", func(t *testing.T) { testDelete(t, newStore(t)) })
	t.Run("ListNewestFirstWithFilter", func(t *testing.T) { testList(t, newStore(t)) })
	t.Run("Stats", func(t *testing.T) { testStats(t, newStore(t)) })
	t.Run("Ping", func(t *testing.T) { require.NoError(t, newStore(t).Ping(context.Background())) })
}

func newJob(name string, created time.Time) *entity.Job {
	return &entity.Job{
		ID:         uuid.New(),
		Name:       name,
		Status:     entity.StatusPending,
		RecordType: entity.RecordContacts,
		TokenHint:  "test_token...",
		CreatedAt:  created,
	}
}

func base() time.Time {
	return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
}

func testCreateAndGet(t *testing.T, s Store) {
	ctx := context.Background()
	job := newJob("first", base())
	require.NoError(t, s.Create(ctx, job))

	got, err := s.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, "first", got.Name)
	assert.Equal(t, entity.StatusPending, got.Status)
	assert.Equal(t, entity.RecordContacts, got.RecordType)
	assert.Equal(t, "test_token...", got.TokenHint)
	assert.True(t, got.CreatedAt.Equal(base()), "created_at %v", got.CreatedAt)
	assert.Nil(t, got.StartedAt)
	assert.Nil(t, got.CompletedAt)
	assert.Nil(t, got.Error)
}

func testGetMissing(t *testing.T, s Store) {
	_, err := s.GetByID(context.Background(), uuid.New())
	assert.True(t, errors.Is(err, repository.ErrNotFound), "got %v", err)
}

func testUpdateCAS(t *testing.T, s Store) {
	ctx := context.Background()
	job := newJob("cas", base())
	require.NoError(t, s.Create(ctx, job))

	started := base().Add(time.Second)
	got, err := s.Update(ctx, job.ID, []entity.JobStatus{entity.StatusPending},
		entity.JobPatch{Status: entity.StatusInProgress, StartedAt: &started})
	require.NoError(t, err)
	assert.Equal(t, entity.StatusInProgress, got.Status)
	require.NotNil(t, got.StartedAt)
	assert.True(t, got.StartedAt.Equal(started))

	// second claim loses
	_, err = s.Update(ctx, job.ID, []entity.JobStatus{entity.StatusPending},
		entity.JobPatch{Status: entity.StatusInProgress, StartedAt: &started})
	assert.True(t, errors.Is(err, repository.ErrStatusMismatch), "got %v", err)

	msg := "Authentication failed: bad token"
	done := base().Add(2 * time.Second)
	got, err = s.Update(ctx, job.ID, []entity.JobStatus{entity.StatusInProgress},
		entity.JobPatch{Status: entity.StatusFailed, CompletedAt: &done, Error: &msg})
	require.NoError(t, err)
	assert.Equal(t, entity.StatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Equal(t, msg, *got.Error)

	_, err = s.Update(ctx, uuid.New(), []entity.JobStatus{entity.StatusPending},
		entity.JobPatch{Status: entity.StatusCancelled})
	assert.True(t, errors.Is(err, repository.ErrNotFound), "got %v", err)
}

func records(n int) []entity.Record {
	out := make([]entity.Record, n)
	for i := range out {
		out[i] = entity.Record{
			"id_from_service": "contact_" + string(rune('a'+i)),
			"email":           string(rune('a'+i)) + "@example.com",
			"n":               float64(i),
		}
	}
	return out
}

func startJob(t *testing.T, s Store, name string, created time.Time) *entity.Job {
	t.Helper()
	ctx := context.Background()
	job := newJob(name, created)
	require.NoError(t, s.Create(ctx, job))
	started := created.Add(time.Second)
	_, err := s.Update(ctx, job.ID, []entity.JobStatus{entity.StatusPending},
		entity.JobPatch{Status: entity.StatusInProgress, StartedAt: &started})
	require.NoError(t, err)
	return job
}

func testComplete(t *testing.T, s Store) {
	ctx := context.Background()
	job := startJob(t, s, "complete", base())

	done := base().Add(3 * time.Second)
	got, err := s.Complete(ctx, job.ID, records(5), done)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusCompleted, got.Status)
	assert.Equal(t, 5, got.RecordCount)
	require.NotNil(t, got.CompletedAt)
	assert.True(t, got.CompletedAt.Equal(done))

	page, total, err := s.Results(ctx, job.ID, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, page, 2)
	assert.Equal(t, "a@example.com", page[0].Data["email"])
	assert.Equal(t, "b@example.com", page[1].Data["email"])
	assert.Equal(t, job.ID, page[0].JobID)

	page, _, err = s.Results(ctx, job.ID, 2, 4)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "e@example.com", page[0].Data["email"])

	page, total, err = s.Results(ctx, job.ID, 2, 10)
	require.NoError(t, err)
	assert.Empty(t, page)
	assert.Equal(t, 5, total)

	// already completed
	_, err = s.Complete(ctx, job.ID, records(1), done)
	assert.True(t, errors.Is(err, repository.ErrStatusMismatch), "got %v", err)
}

func testCompleteAfterCancel(t *testing.T, s Store) {
	ctx := context.Background()
	job := startJob(t, s, "cancelled", base())

	now := base().Add(2 * time.Second)
	_, err := s.Update(ctx, job.ID, []entity.JobStatus{entity.StatusPending, entity.StatusInProgress},
		entity.JobPatch{Status: entity.StatusCancelled, CompletedAt: &now})
	require.NoError(t, err)

	_, err = s.Complete(ctx, job.ID, records(3), now)
	assert.True(t, errors.Is(err, repository.ErrStatusMismatch), "got %v", err)

	got, err := s.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusCancelled, got.Status)
	assert.Equal(t, 0, got.RecordCount)

	_, total, err := s.Results(ctx, job.ID, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, total)
}

func testDelete(t *testing.T, s Store) {
	ctx := context.Background()
	job := startJob(t, s, "delete", base())
	_, err := s.Complete(ctx, job.ID, records(3), base().Add(time.Minute))
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, job.ID))

	_, err = s.GetByID(ctx, job.ID)
	assert.True(t, errors.Is(err, repository.ErrNotFound))
	_, _, err = s.Results(ctx, job.ID, 10, 0)
	assert.True(t, errors.Is(err, repository.ErrNotFound))

	err = s.Delete(ctx, job.ID)
	assert.True(t, errors.Is(err, repository.ErrNotFound))
}

func testList(t *testing.T, s Store) {
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Create(ctx, newJob("pending", base().Add(time.Duration(i)*time.Minute))))
	}
	running := startJob(t, s, "running", base().Add(10*time.Minute))

	all, total, err := s.List(ctx, entity.JobFilter{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	require.Len(t, all, 4)
	assert.Equal(t, running.ID, all[0].ID)
	for i := 1; i < len(all); i++ {
		assert.False(t, all[i].CreatedAt.After(all[i-1].CreatedAt), "not newest first")
	}

	st := entity.StatusPending
	pending, total, err := s.List(ctx, entity.JobFilter{Status: &st, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, pending, 2)

	rest, _, err := s.List(ctx, entity.JobFilter{Status: &st, Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.Len(t, rest, 1)

	none := entity.StatusFailed
	empty, total, err := s.List(ctx, entity.JobFilter{Status: &none, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 0, total)
	assert.Empty(t, empty)
}

func testStats(t *testing.T, s Store) {
	ctx := context.Background()

	empty, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, empty.TotalJobs)
	assert.Nil(t, empty.AverageProcessingTime)
	assert.Nil(t, empty.AverageRecordCount)
	for _, st := range entity.AllStatuses {
		assert.Equal(t, 0, empty.Count(st))
	}

	require.NoError(t, s.Create(ctx, newJob("waiting", base())))

	a := startJob(t, s, "a", base())
	// started at base+1s, completed at base+3s => 2s
	_, err = s.Complete(ctx, a.ID, records(2), base().Add(3*time.Second))
	require.NoError(t, err)

	b := startJob(t, s, "b", base())
	// started at base+1s, completed at base+5s => 4s
	_, err = s.Complete(ctx, b.ID, records(4), base().Add(5*time.Second))
	require.NoError(t, err)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalJobs)
	assert.Equal(t, 1, stats.Count(entity.StatusPending))
	assert.Equal(t, 2, stats.Count(entity.StatusCompleted))
	assert.Equal(t, 0, stats.Count(entity.StatusFailed))
	require.NotNil(t, stats.AverageProcessingTime)
	assert.InDelta(t, 3.0, *stats.AverageProcessingTime, 0.01)
	require.NotNil(t, stats.AverageRecordCount)
	assert.InDelta(t, 3.0, *stats.AverageRecordCount, 0.01)
}
