package postgresql

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"extraction-service/internal/entity"
	"extraction-service/internal/repository"
)

const jobColumns = `id, name, status, record_type, token_hint, record_count, error,
created_at, updated_at, started_at, completed_at`

type JobRepository struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func NewJobRepository(pool *pgxpool.Pool) *JobRepository {
	return &JobRepository{pool: pool, now: func() time.Time { return time.Now().UTC() }}
}

func (r *JobRepository) Create(ctx context.Context, job *entity.Job) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = r.now()
	}
	job.UpdatedAt = job.CreatedAt
	if job.Status == "" {
		job.Status = entity.StatusPending
	}

	const q = `
INSERT INTO jobs (id, name, status, record_type, token_hint, record_count, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, 0, $6, $6);
`
	_, err := r.pool.Exec(ctx, q, job.ID, job.Name, string(job.Status), string(job.RecordType), job.TokenHint, job.CreatedAt)
	return err
}

func (r *JobRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	q := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1;`
	job, err := scanJob(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return job, nil
}

// Update is one conditional UPDATE; concurrent writers can't both win.
func (r *JobRepository) Update(ctx context.Context, id uuid.UUID, expect []entity.JobStatus, patch entity.JobPatch) (*entity.Job, error) {
	q := `
UPDATE jobs SET
	status       = $2,
	started_at   = COALESCE($3, started_at),
	completed_at = COALESCE($4, completed_at),
	error        = COALESCE($5, error),
	updated_at   = $6
WHERE id = $1 AND status = ANY($7)
RETURNING ` + jobColumns + `;`

	job, err := scanJob(r.pool.QueryRow(ctx, q,
		id,
		string(patch.Status),
		patch.StartedAt,
		patch.CompletedAt,
		patch.Error,
		r.now(),
		repository.StatusStrings(expect),
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, r.missOrMismatch(ctx, r.pool, id)
		}
		return nil, err
	}
	return job, nil
}

// Complete flips in_progress -> completed and writes the results in the same
// transaction. If the job was cancelled or removed meanwhile nothing is written.
func (r *JobRepository) Complete(ctx context.Context, id uuid.UUID, records []entity.Record, at time.Time) (*entity.Job, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	q := `
UPDATE jobs SET
	status       = 'completed',
	completed_at = $2,
	record_count = $3,
	updated_at   = $4
WHERE id = $1 AND status = 'in_progress'
RETURNING ` + jobColumns + `;`

	job, err := scanJob(tx.QueryRow(ctx, q, id, at, len(records), r.now()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, r.missOrMismatch(ctx, tx, id)
		}
		return nil, err
	}

	rows := make([][]any, len(records))
	for i, rec := range records {
		data, err := json.Marshal(rec)
		if err != nil {
			return nil, fmt.Errorf("marshal record %d: %w", i, err)
		}
		rows[i] = []any{uuid.New(), id, i, json.RawMessage(data), at}
	}
	if len(rows) > 0 {
		if _, err := tx.CopyFrom(ctx,
			pgx.Identifier{"extraction_results"},
			[]string{"id", "job_id", "position", "data", "created_at"},
			pgx.CopyFromRows(rows),
		); err != nil {
			return nil, fmt.Errorf("copy results: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return job, nil
}

func (r *JobRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM jobs WHERE id = $1;`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *JobRepository) List(ctx context.Context, f entity.JobFilter) ([]*entity.Job, int, error) {
	var status *string
	if f.Status != nil {
		s := string(*f.Status)
		status = &s
	}

	var total int
	if err := r.pool.QueryRow(ctx,
		`SELECT count(*) FROM jobs WHERE ($1::text IS NULL OR status = $1);`, status,
	).Scan(&total); err != nil {
		return nil, 0, err
	}

	q := `SELECT ` + jobColumns + `
FROM jobs
WHERE ($1::text IS NULL OR status = $1)
ORDER BY created_at DESC, id
LIMIT $2 OFFSET $3;`

	rows, err := r.pool.Query(ctx, q, status, limitArg(f.Limit), f.Offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	jobs := make([]*entity.Job, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, 0, err
		}
		jobs = append(jobs, job)
	}
	return jobs, total, rows.Err()
}

func (r *JobRepository) Results(ctx context.Context, id uuid.UUID, limit, offset int) ([]entity.ExtractionResult, int, error) {
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM jobs WHERE id = $1);`, id).Scan(&exists); err != nil {
		return nil, 0, err
	}
	if !exists {
		return nil, 0, repository.ErrNotFound
	}

	var total int
	if err := r.pool.QueryRow(ctx,
		`SELECT count(*) FROM extraction_results WHERE job_id = $1;`, id,
	).Scan(&total); err != nil {
		return nil, 0, err
	}

	const q = `
SELECT id, job_id, position, data, created_at
FROM extraction_results
WHERE job_id = $1
ORDER BY position
LIMIT $2 OFFSET $3;
`
	rows, err := r.pool.Query(ctx, q, id, limitArg(limit), offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := make([]entity.ExtractionResult, 0)
	for rows.Next() {
		var (
			res       entity.ExtractionResult
			dataBytes []byte
		)
		if err := rows.Scan(&res.ID, &res.JobID, &res.Position, &dataBytes, &res.CreatedAt); err != nil {
			return nil, 0, err
		}
		if err := json.Unmarshal(dataBytes, &res.Data); err != nil {
			return nil, 0, fmt.Errorf("decode result %s: %w", res.ID, err)
		}
		res.CreatedAt = res.CreatedAt.UTC()
		out = append(out, res)
	}
	return out, total, rows.Err()
}

func (r *JobRepository) Stats(ctx context.Context) (*entity.Statistics, error) {
	stats := repository.NewStatsAccumulator().Result()

	rows, err := r.pool.Query(ctx, `SELECT status, count(*) FROM jobs GROUP BY status;`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		stats.ByStatus[entity.JobStatus(status)] = n
		stats.TotalJobs += n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	const q = `
SELECT
	ROUND((AVG(EXTRACT(EPOCH FROM (completed_at - started_at)))
		FILTER (WHERE started_at IS NOT NULL AND completed_at IS NOT NULL))::numeric, 2)::float8,
	ROUND((AVG(record_count))::numeric, 2)::float8
FROM jobs
WHERE status = 'completed';
`
	if err := r.pool.QueryRow(ctx, q).Scan(&stats.AverageProcessingTime, &stats.AverageRecordCount); err != nil {
		return nil, err
	}
	return stats, nil
}

func (r *JobRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *JobRepository) Pool() *pgxpool.Pool { return r.pool }

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// missOrMismatch explains why a conditional update touched no row.
func (r *JobRepository) missOrMismatch(ctx context.Context, q querier, id uuid.UUID) error {
	var status string
	if err := q.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1;`, id).Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return repository.ErrNotFound
		}
		return err
	}
	return fmt.Errorf("%w: job is %s", repository.ErrStatusMismatch, status)
}

func scanJob(row pgx.Row) (*entity.Job, error) {
	var (
		job        entity.Job
		statusText string
		recordType string
	)
	if err := row.Scan(
		&job.ID,
		&job.Name,
		&statusText,
		&recordType,
		&job.TokenHint,
		&job.RecordCount,
		&job.Error, // NULL => nil
		&job.CreatedAt,
		&job.UpdatedAt,
		&job.StartedAt,
		&job.CompletedAt,
	); err != nil {
		return nil, err
	}
	job.Status = entity.JobStatus(statusText)
	job.RecordType = entity.RecordType(recordType)
	job.CreatedAt = job.CreatedAt.UTC()
	job.UpdatedAt = job.UpdatedAt.UTC()
	return &job, nil
}

// limitArg maps "no limit" to NULL, which postgres treats as LIMIT ALL.
func limitArg(limit int) *int {
	if limit <= 0 {
		return nil
	}
	return &limit
}
