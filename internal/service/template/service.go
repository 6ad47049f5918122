package template

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/ignite/fleet-import/internal/domain"
)

// Service implements import template CRUD.
type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

// Create validates and stores a new template.
func (s *Service) Create(ctx context.Context, t *domain.ImportTemplate) error {
	if strings.TrimSpace(t.Name) == "" {
		return ErrNameRequired
	}
	if t.Mapping == nil {
		return ErrMappingRequired
	}
	if err := t.Mapping.Validate(); err != nil {
		return err
	}
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	return s.repo.Create(ctx, t)
}

// Get returns one template by id.
func (s *Service) Get(ctx context.Context, id string) (*domain.ImportTemplate, error) {
	return s.repo.Get(ctx, id)
}

// List returns all templates, newest first.
func (s *Service) List(ctx context.Context) ([]domain.ImportTemplate, error) {
	return s.repo.List(ctx)
}

// Update validates and replaces an existing template.
func (s *Service) Update(ctx context.Context, t *domain.ImportTemplate) error {
	if strings.TrimSpace(t.Name) == "" {
		return ErrNameRequired
	}
	if t.Mapping == nil {
		return ErrMappingRequired
	}
	if err := t.Mapping.Validate(); err != nil {
		return err
	}
	return s.repo.Update(ctx, t)
}

// Delete removes a template. Jobs already submitted keep their own copy
// of the mapping, so deleting a template never breaks in-flight imports.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.repo.Delete(ctx, id)
}
