// Package memory is an in-process Job Store. It backs the default
// single-binary mode and most tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"extraction-service/internal/entity"
	"extraction-service/internal/repository"
)

type jobRow struct {
	job     *entity.Job
	seq     uint64
	results []entity.ExtractionResult
}

type Store struct {
	mu   sync.RWMutex
	jobs map[uuid.UUID]*jobRow
	seq  uint64
	now  func() time.Time
}

func New() *Store {
	return &Store{
		jobs: make(map[uuid.UUID]*jobRow),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) Create(_ context.Context, job *entity.Job) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = s.now()
	}
	job.UpdatedAt = job.CreatedAt
	if job.Status == "" {
		job.Status = entity.StatusPending
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	s.seq++
	s.jobs[job.ID] = &jobRow{job: job.Clone(), seq: s.seq}
	return nil
}

func (s *Store) GetByID(_ context.Context, id uuid.UUID) (*entity.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.jobs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return row.job.Clone(), nil
}

func (s *Store) Update(_ context.Context, id uuid.UUID, expect []entity.JobStatus, patch entity.JobPatch) (*entity.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.jobs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if !repository.ContainsStatus(expect, row.job.Status) {
		return nil, fmt.Errorf("%w: job is %s", repository.ErrStatusMismatch, row.job.Status)
	}
	patch.Apply(row.job, s.now())
	return row.job.Clone(), nil
}

func (s *Store) Complete(_ context.Context, id uuid.UUID, records []entity.Record, at time.Time) (*entity.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.jobs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if row.job.Status != entity.StatusInProgress {
		return nil, fmt.Errorf("%w: job is %s", repository.ErrStatusMismatch, row.job.Status)
	}

	results := make([]entity.ExtractionResult, len(records))
	for i, rec := range records {
		results[i] = entity.ExtractionResult{
			ID:        uuid.New(),
			JobID:     id,
			Position:  i,
			Data:      rec.Clone(),
			CreatedAt: at,
		}
	}
	row.results = results
	row.job.RecordCount = len(records)
	entity.JobPatch{Status: entity.StatusCompleted, CompletedAt: &at}.Apply(row.job, s.now())
	return row.job.Clone(), nil
}

func (s *Store) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return repository.ErrNotFound
	}
	delete(s.jobs, id)
	return nil
}

func (s *Store) List(_ context.Context, f entity.JobFilter) ([]*entity.Job, int, error) {
	s.mu.RLock()
	rows := make([]*jobRow, 0, len(s.jobs))
	for _, row := range s.jobs {
		if f.Status != nil && row.job.Status != *f.Status {
			continue
		}
		rows = append(rows, row)
	}
	s.mu.RUnlock()

	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i].job.CreatedAt, rows[j].job.CreatedAt
		if !a.Equal(b) {
			return a.After(b)
		}
		return rows[i].seq > rows[j].seq
	})

	total := len(rows)
	start, end := window(total, f.Limit, f.Offset)
	out := make([]*entity.Job, 0, end-start)
	for _, row := range rows[start:end] {
		out = append(out, row.job.Clone())
	}
	return out, total, nil
}

func (s *Store) Results(_ context.Context, id uuid.UUID, limit, offset int) ([]entity.ExtractionResult, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.jobs[id]
	if !ok {
		return nil, 0, repository.ErrNotFound
	}
	total := len(row.results)
	start, end := window(total, limit, offset)
	out := make([]entity.ExtractionResult, end-start)
	for i, r := range row.results[start:end] {
		r.Data = r.Data.Clone()
		out[i] = r
	}
	return out, total, nil
}

func (s *Store) Stats(_ context.Context) (*entity.Statistics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc := repository.NewStatsAccumulator()
	for _, row := range s.jobs {
		acc.Add(row.job.Status, row.job.RecordCount, row.job.StartedAt, row.job.CompletedAt)
	}
	return acc.Result(), nil
}

func (s *Store) Ping(context.Context) error { return nil }

// window clamps [offset, offset+limit) to [0, total]. limit <= 0 means all.
func window(total, limit, offset int) (int, int) {
	if offset < 0 {
		offset = 0
	}
	if offset > total {
		offset = total
	}
	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}
	return offset, end
}
