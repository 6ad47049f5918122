package template

import (
	"context"

	"github.com/ignite/fleet-import/internal/domain"
)

// Repository is the persistence the service needs. Implemented by
// repository/postgres.TemplateRepo.
type Repository interface {
	Create(ctx context.Context, t *domain.ImportTemplate) error
	Get(ctx context.Context, id string) (*domain.ImportTemplate, error)
	List(ctx context.Context) ([]domain.ImportTemplate, error)
	Update(ctx context.Context, t *domain.ImportTemplate) error
	Delete(ctx context.Context, id string) error
}
