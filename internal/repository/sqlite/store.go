// Package sqlite is a Job Store on the pure-Go modernc.org/sqlite driver, for
// single-node deployments that don't want a postgres dependency.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"extraction-service/internal/entity"
	"extraction-service/internal/repository"
)

//go:embed schema.sql
var schema string

const jobColumns = `id, name, status, record_type, token_hint, record_count, error,
created_at, updated_at, started_at, completed_at`

type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (or creates) the database at dsn and applies the schema.
// Use ":memory:" for a throwaway store.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one writer; also keeps a :memory: database alive on a single connection
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		`PRAGMA foreign_keys = ON;`,
		`PRAGMA busy_timeout = 5000;`,
		`PRAGMA journal_mode = WAL;`,
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", strings.TrimSuffix(pragma, ";"), err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Create(ctx context.Context, job *entity.Job) error {
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

	const q = `
INSERT INTO jobs (id, name, status, record_type, token_hint, record_count, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, 0, ?, ?);
`
	ts := toMillis(job.CreatedAt)
	_, err := s.db.ExecContext(ctx, q, job.ID.String(), job.Name, string(job.Status), string(job.RecordType), job.TokenHint, ts, ts)
	return err
}

func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	q := `SELECT ` + jobColumns + ` FROM jobs WHERE id = ?;`
	job, err := scanJob(s.db.QueryRowContext(ctx, q, id.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return job, nil
}

func (s *Store) Update(ctx context.Context, id uuid.UUID, expect []entity.JobStatus, patch entity.JobPatch) (*entity.Job, error) {
	if len(expect) == 0 {
		return nil, fmt.Errorf("%w: no expected status", repository.ErrStatusMismatch)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(expect)), ",")
	q := `
UPDATE jobs SET
	status       = ?,
	started_at   = COALESCE(?, started_at),
	completed_at = COALESCE(?, completed_at),
	error        = COALESCE(?, error),
	updated_at   = ?
WHERE id = ? AND status IN (` + placeholders + `)
RETURNING ` + jobColumns + `;`

	args := []any{
		string(patch.Status),
		nullableMillis(patch.StartedAt),
		nullableMillis(patch.CompletedAt),
		nullableString(patch.Error),
		toMillis(s.now()),
		id.String(),
	}
	for _, st := range repository.StatusStrings(expect) {
		args = append(args, st)
	}

	job, err := scanJob(s.db.QueryRowContext(ctx, q, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, missOrMismatch(ctx, s.db, id)
		}
		return nil, err
	}
	return job, nil
}

func (s *Store) Complete(ctx context.Context, id uuid.UUID, records []entity.Record, at time.Time) (*entity.Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	q := `
UPDATE jobs SET
	status       = 'completed',
	completed_at = ?,
	record_count = ?,
	updated_at   = ?
WHERE id = ? AND status = 'in_progress'
RETURNING ` + jobColumns + `;`

	job, err := scanJob(tx.QueryRowContext(ctx, q, toMillis(at), len(records), toMillis(s.now()), id.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, missOrMismatch(ctx, tx, id)
		}
		return nil, err
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO extraction_results (id, job_id, position, data, created_at) VALUES (?, ?, ?, ?, ?);`)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	for i, rec := range records {
		data, err := json.Marshal(rec)
		if err != nil {
			return nil, fmt.Errorf("marshal record %d: %w", i, err)
		}
		if _, err := stmt.ExecContext(ctx, uuid.NewString(), id.String(), i, string(data), toMillis(at)); err != nil {
			return nil, fmt.Errorf("insert result %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return job, nil
}

func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?;`, id.String())
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (s *Store) List(ctx context.Context, f entity.JobFilter) ([]*entity.Job, int, error) {
	where, args := "", []any{}
	if f.Status != nil {
		where = "WHERE status = ?"
		args = append(args, string(*f.Status))
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM jobs `+where+`;`, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	q := `SELECT ` + jobColumns + ` FROM jobs ` + where + `
ORDER BY created_at DESC, rowid DESC
LIMIT ? OFFSET ?;`
	rows, err := s.db.QueryContext(ctx, q, append(args, limitArg(f.Limit), f.Offset)...)
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

func (s *Store) Results(ctx context.Context, id uuid.UUID, limit, offset int) ([]entity.ExtractionResult, int, error) {
	var exists int
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM jobs WHERE id = ?);`, id.String()).Scan(&exists); err != nil {
		return nil, 0, err
	}
	if exists == 0 {
		return nil, 0, repository.ErrNotFound
	}

	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM extraction_results WHERE job_id = ?;`, id.String(),
	).Scan(&total); err != nil {
		return nil, 0, err
	}

	const q = `
SELECT id, job_id, position, data, created_at
FROM extraction_results
WHERE job_id = ?
ORDER BY position
LIMIT ? OFFSET ?;
`
	rows, err := s.db.QueryContext(ctx, q, id.String(), limitArg(limit), offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := make([]entity.ExtractionResult, 0)
	for rows.Next() {
		var (
			res          entity.ExtractionResult
			rawID, jobID string
			data         string
			createdAt    int64
		)
		if err := rows.Scan(&rawID, &jobID, &res.Position, &data, &createdAt); err != nil {
			return nil, 0, err
		}
		if res.ID, err = uuid.Parse(rawID); err != nil {
			return nil, 0, err
		}
		if res.JobID, err = uuid.Parse(jobID); err != nil {
			return nil, 0, err
		}
		if err := json.Unmarshal([]byte(data), &res.Data); err != nil {
			return nil, 0, fmt.Errorf("decode result %s: %w", rawID, err)
		}
		res.CreatedAt = fromMillis(createdAt)
		out = append(out, res)
	}
	return out, total, rows.Err()
}

func (s *Store) Stats(ctx context.Context) (*entity.Statistics, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, record_count, started_at, completed_at FROM jobs;`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	acc := repository.NewStatsAccumulator()
	for rows.Next() {
		var (
			status             string
			count              int
			started, completed sql.NullInt64
		)
		if err := rows.Scan(&status, &count, &started, &completed); err != nil {
			return nil, err
		}
		acc.Add(entity.JobStatus(status), count, nullTime(started), nullTime(completed))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return acc.Result(), nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func missOrMismatch(ctx context.Context, q rowQuerier, id uuid.UUID) error {
	var status string
	if err := q.QueryRowContext(ctx, `SELECT status FROM jobs WHERE id = ?;`, id.String()).Scan(&status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return repository.ErrNotFound
		}
		return err
	}
	return fmt.Errorf("%w: job is %s", repository.ErrStatusMismatch, status)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*entity.Job, error) {
	var (
		job                  entity.Job
		id                   string
		status, recordType   string
		errText              sql.NullString
		createdAt, updatedAt int64
		started, completed   sql.NullInt64
	)
	if err := row.Scan(
		&id,
		&job.Name,
		&status,
		&recordType,
		&job.TokenHint,
		&job.RecordCount,
		&errText,
		&createdAt,
		&updatedAt,
		&started,
		&completed,
	); err != nil {
		return nil, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("bad job id %q: %w", id, err)
	}
	job.ID = parsed
	job.Status = entity.JobStatus(status)
	job.RecordType = entity.RecordType(recordType)
	if errText.Valid {
		job.Error = &errText.String
	}
	job.CreatedAt = fromMillis(createdAt)
	job.UpdatedAt = fromMillis(updatedAt)
	job.StartedAt = nullTime(started)
	job.CompletedAt = nullTime(completed)
	return &job, nil
}

func toMillis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func nullableMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func nullableString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func nullTime(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}

// limitArg maps "no limit" to -1, which sqlite treats as unbounded.
func limitArg(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}
