package importjob

import (
	"context"

	"github.com/ignite/fleet-import/internal/domain"
)

// ListFilter narrows and pages job listings.
type ListFilter struct {
	Status string
	Offset int
	Limit  int
}

// Repository is the persistence the service needs. Implemented by
// repository/postgres.ImportJobRepo.
type Repository interface {
	Create(ctx context.Context, job *domain.ImportJob) error
	Get(ctx context.Context, id string) (*domain.ImportJob, error)
	List(ctx context.Context, f ListFilter) ([]domain.ImportJob, int, error)
	SetTotalRows(ctx context.Context, id string, total int) error
	ListLogs(ctx context.Context, jobID string) ([]domain.JobLog, error)
	Purge(ctx context.Context, id string) error
}

// Publisher hands a created job to the work queue.
type Publisher interface {
	PublishJob(ctx context.Context, jobID string) error
}
