package importjob

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/ignite/fleet-import/internal/domain"
	"github.com/ignite/fleet-import/internal/pkg/logger"
	"github.com/ignite/fleet-import/internal/progress"
	"github.com/ignite/fleet-import/internal/spreadsheet"
	"github.com/ignite/fleet-import/internal/staging"
)

var allowedExts = map[string]bool{".csv": true, ".xls": true, ".xlsx": true}

// Service implements the import job operations exposed over HTTP.
type Service struct {
	repo     Repository
	store    *staging.Store
	queue    Publisher
	mirror   *progress.Mirror
	maxBytes int64
}

// NewService wires the job service. mirror may wrap a nil Redis client.
func NewService(repo Repository, store *staging.Store, queue Publisher, mirror *progress.Mirror, maxBytes int64) *Service {
	return &Service{repo: repo, store: store, queue: queue, mirror: mirror, maxBytes: maxBytes}
}

// Submit accepts an upload and schedules it for asynchronous processing.
// The steps run in a fixed order (create the pending job, stage the
// bytes, count rows, publish the job id) and each is individually
// durable. A failure between steps leaves a pending job the worker can
// either finish (staged file present) or fail cleanly (file missing).
func (s *Service) Submit(ctx context.Context, filename string, size int64, src io.Reader, mapping *domain.MappingConfig) (*domain.ImportJob, error) {
	if strings.TrimSpace(filename) == "" {
		return nil, ErrEmptyFilename
	}
	ext := strings.ToLower(filepath.Ext(filename))
	if !allowedExts[ext] {
		return nil, ErrUnsupportedType
	}
	if size > s.maxBytes {
		return nil, ErrFileTooLarge
	}
	if mapping == nil {
		mapping = domain.VehicleMapping()
	}
	if err := mapping.Validate(); err != nil {
		return nil, err
	}

	job := &domain.ImportJob{
		ID:            uuid.New().String(),
		Filename:      filename,
		Status:        domain.JobPending,
		MappingConfig: mapping,
	}
	if err := s.repo.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	// LimitReader backstops multipart parts that lied about their size
	written, err := s.store.Put(job.ID, ext, io.LimitReader(src, s.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("stage upload: %w", err)
	}
	if written > s.maxBytes {
		s.store.Delete(job.ID)
		return nil, ErrFileTooLarge
	}

	// Best effort: the worker tolerates an unknown total
	if total, err := spreadsheet.CountRows(s.store.Path(job.ID, ext)); err != nil {
		logger.Warn("row count failed", "job_id", job.ID, "error", err)
	} else {
		if err := s.repo.SetTotalRows(ctx, job.ID, total); err != nil {
			logger.Warn("persist total rows failed", "job_id", job.ID, "error", err)
		} else {
			job.TotalRows = &total
		}
	}

	if err := s.queue.PublishJob(ctx, job.ID); err != nil {
		return nil, fmt.Errorf("enqueue job: %w", err)
	}

	logger.Info("import job submitted", "job_id", job.ID, "filename", filename, "size", size)
	return job, nil
}

// Get returns one job by id.
func (s *Service) Get(ctx context.Context, id string) (*domain.ImportJob, error) {
	return s.repo.Get(ctx, id)
}

// GetWithLogs returns a job and its full audit trail.
func (s *Service) GetWithLogs(ctx context.Context, id string) (*domain.ImportJob, []domain.JobLog, error) {
	job, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	logs, err := s.repo.ListLogs(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return job, logs, nil
}

// List pages jobs, newest first.
func (s *Service) List(ctx context.Context, f ListFilter) ([]domain.ImportJob, int, error) {
	if f.Status != "" && !domain.ValidJobStatus(f.Status) {
		return nil, 0, fmt.Errorf("unknown status %q", f.Status)
	}
	return s.repo.List(ctx, f)
}

// Progress answers a poll with the freshest numbers available: the Redis
// mirror when it has a snapshot, otherwise the job row.
func (s *Service) Progress(ctx context.Context, id string) (*domain.ProgressSnapshot, error) {
	if snap, err := s.mirror.Get(ctx, id); err == nil {
		return snap, nil
	}
	job, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &domain.ProgressSnapshot{
		JobID:         job.ID,
		Status:        job.Status,
		TotalRows:     job.TotalRows,
		ProcessedRows: job.ProcessedRows,
		ErrorRows:     job.ErrorRows,
	}, nil
}

// Purge removes a job, its logs, its staged file, and its mirrored
// snapshot. This is the only path that destroys an uploaded file other
// than normal post-processing cleanup.
func (s *Service) Purge(ctx context.Context, id string) error {
	if err := s.repo.Purge(ctx, id); err != nil {
		return err
	}
	if err := s.store.Delete(id); err != nil {
		logger.Warn("purge staged file failed", "job_id", id, "error", err)
	}
	if err := s.mirror.Delete(ctx, id); err != nil {
		logger.Warn("purge progress snapshot failed", "job_id", id, "error", err)
	}
	logger.Info("import job purged", "job_id", id)
	return nil
}
