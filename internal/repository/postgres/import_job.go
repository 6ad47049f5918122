package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/ignite/fleet-import/internal/domain"
	"github.com/ignite/fleet-import/internal/service/importjob"
)

// ImportJobRepo implements importjob.Repository against PostgreSQL, plus
// the lifecycle transitions the worker needs.
type ImportJobRepo struct{ db *sql.DB }

// NewImportJobRepo creates a Postgres-backed import job repository.
func NewImportJobRepo(db *sql.DB) *ImportJobRepo { return &ImportJobRepo{db: db} }

func (r *ImportJobRepo) Create(ctx context.Context, job *domain.ImportJob) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.Status == "" {
		job.Status = domain.JobPending
	}
	mapping, err := json.Marshal(job.MappingConfig)
	if err != nil {
		return fmt.Errorf("marshal mapping: %w", err)
	}
	err = r.db.QueryRowContext(ctx, `
		INSERT INTO import_jobs (id, filename, status, mapping_config, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		RETURNING created_at
	`, job.ID, job.Filename, job.Status, mapping).Scan(&job.CreatedAt)
	if err != nil {
		return fmt.Errorf("create import job: %w", err)
	}
	return nil
}

const jobColumns = `id, filename, status, total_rows, processed_rows, error_rows, mapping_config, started_at, finished_at, created_at`

func scanJob(row interface{ Scan(...any) error }) (*domain.ImportJob, error) {
	var job domain.ImportJob
	var mapping []byte
	err := row.Scan(&job.ID, &job.Filename, &job.Status, &job.TotalRows,
		&job.ProcessedRows, &job.ErrorRows, &mapping,
		&job.StartedAt, &job.FinishedAt, &job.CreatedAt)
	if err != nil {
		return nil, err
	}
	if len(mapping) > 0 {
		var m domain.MappingConfig
		if err := json.Unmarshal(mapping, &m); err != nil {
			return nil, fmt.Errorf("decode mapping: %w", err)
		}
		job.MappingConfig = &m
	}
	return &job, nil
}

func (r *ImportJobRepo) Get(ctx context.Context, id string) (*domain.ImportJob, error) {
	job, err := scanJob(r.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM import_jobs WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, importjob.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get import job: %w", err)
	}
	return job, nil
}

func (r *ImportJobRepo) List(ctx context.Context, f importjob.ListFilter) ([]domain.ImportJob, int, error) {
	where := ``
	args := []any{}
	if f.Status != "" {
		where = `WHERE status = $1`
		args = append(args, f.Status)
	}

	var total int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM import_jobs `+where, args...,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count import jobs: %w", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit, f.Offset)

	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT `+jobColumns+`
		FROM import_jobs
		%s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d
	`, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list import jobs: %w", err)
	}
	defer rows.Close()

	var out []domain.ImportJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan import job: %w", err)
		}
		out = append(out, *job)
	}
	return out, total, nil
}

func (r *ImportJobRepo) SetTotalRows(ctx context.Context, id string, total int) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE import_jobs SET total_rows = $2 WHERE id = $1`, id, total)
	if err != nil {
		return fmt.Errorf("set total rows: %w", err)
	}
	return nil
}

// MarkProcessing transitions a job to processing and stamps started_at.
// Terminal jobs are left untouched and reported as started=false, which
// makes queue redeliveries of finished jobs no-ops.
func (r *ImportJobRepo) MarkProcessing(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE import_jobs
		SET status = 'processing', started_at = COALESCE(started_at, NOW())
		WHERE id = $1 AND status NOT IN ('completed', 'failed')
	`, id)
	if err != nil {
		return false, fmt.Errorf("mark processing: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// MarkFinished moves a job to completed or failed and stamps finished_at.
// Both terminal states are absorbing.
func (r *ImportJobRepo) MarkFinished(ctx context.Context, id string, status domain.JobStatus) error {
	if !status.IsTerminal() {
		return fmt.Errorf("mark finished: %q is not terminal", status)
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE import_jobs
		SET status = $2, finished_at = NOW()
		WHERE id = $1 AND status NOT IN ('completed', 'failed')
	`, id, status)
	if err != nil {
		return fmt.Errorf("mark finished: %w", err)
	}
	return nil
}

// AddProgress adds chunk deltas to the cumulative counters and returns
// the new totals. Deltas are non-negative, so counters never regress.
func (r *ImportJobRepo) AddProgress(ctx context.Context, id string, processedDelta, errorDelta int) (processed, errors int, err error) {
	err = r.db.QueryRowContext(ctx, `
		UPDATE import_jobs
		SET processed_rows = processed_rows + $2, error_rows = error_rows + $3
		WHERE id = $1
		RETURNING processed_rows, error_rows
	`, id, processedDelta, errorDelta).Scan(&processed, &errors)
	if err != nil {
		return 0, 0, fmt.Errorf("add progress: %w", err)
	}
	return processed, errors, nil
}

func (r *ImportJobRepo) ListLogs(ctx context.Context, jobID string) ([]domain.JobLog, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, job_id, level, message, created_at
		FROM job_logs
		WHERE job_id = $1
		ORDER BY id
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list job logs: %w", err)
	}
	defer rows.Close()

	var out []domain.JobLog
	for rows.Next() {
		var l domain.JobLog
		if err := rows.Scan(&l.ID, &l.JobID, &l.Level, &l.Message, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan job log: %w", err)
		}
		out = append(out, l)
	}
	return out, nil
}

// AppendLog adds one audit line to a job.
func (r *ImportJobRepo) AppendLog(ctx context.Context, jobID string, level domain.LogLevel, message string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO job_logs (job_id, level, message, created_at)
		VALUES ($1, $2, $3, NOW())
	`, jobID, level, message)
	if err != nil {
		return fmt.Errorf("append job log: %w", err)
	}
	return nil
}

// Purge deletes a job and its logs in one transaction.
func (r *ImportJobRepo) Purge(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("purge job: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM job_logs WHERE job_id = $1`, id); err != nil {
		return fmt.Errorf("purge job logs: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM import_jobs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("purge job: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return importjob.ErrNotFound
	}
	return tx.Commit()
}
