package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/ignite/fleet-import/internal/domain"
	"github.com/ignite/fleet-import/internal/service/template"
)

// TemplateRepo implements template.Repository against PostgreSQL.
type TemplateRepo struct{ db *sql.DB }

// NewTemplateRepo creates a Postgres-backed template repository.
func NewTemplateRepo(db *sql.DB) *TemplateRepo { return &TemplateRepo{db: db} }

func (r *TemplateRepo) Create(ctx context.Context, t *domain.ImportTemplate) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	mapping, err := json.Marshal(t.Mapping)
	if err != nil {
		return fmt.Errorf("marshal template mapping: %w", err)
	}
	err = r.db.QueryRowContext(ctx, `
		INSERT INTO import_templates (id, name, description, mapping_config, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		RETURNING created_at, updated_at
	`, t.ID, t.Name, t.Description, mapping).Scan(&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create template: %w", err)
	}
	return nil
}

func scanTemplate(row interface{ Scan(...any) error }) (*domain.ImportTemplate, error) {
	var t domain.ImportTemplate
	var mapping []byte
	err := row.Scan(&t.ID, &t.Name, &t.Description, &mapping, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(mapping) > 0 {
		var m domain.MappingConfig
		if err := json.Unmarshal(mapping, &m); err != nil {
			return nil, fmt.Errorf("decode template mapping: %w", err)
		}
		t.Mapping = &m
	}
	return &t, nil
}

func (r *TemplateRepo) Get(ctx context.Context, id string) (*domain.ImportTemplate, error) {
	t, err := scanTemplate(r.db.QueryRowContext(ctx, `
		SELECT id, name, description, mapping_config, created_at, updated_at
		FROM import_templates WHERE id = $1
	`, id))
	if err == sql.ErrNoRows {
		return nil, template.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get template: %w", err)
	}
	return t, nil
}

func (r *TemplateRepo) List(ctx context.Context) ([]domain.ImportTemplate, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, description, mapping_config, created_at, updated_at
		FROM import_templates
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	var out []domain.ImportTemplate
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		out = append(out, *t)
	}
	return out, nil
}

func (r *TemplateRepo) Update(ctx context.Context, t *domain.ImportTemplate) error {
	mapping, err := json.Marshal(t.Mapping)
	if err != nil {
		return fmt.Errorf("marshal template mapping: %w", err)
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE import_templates
		SET name = $2, description = $3, mapping_config = $4, updated_at = NOW()
		WHERE id = $1
	`, t.ID, t.Name, t.Description, mapping)
	if err != nil {
		return fmt.Errorf("update template: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return template.ErrNotFound
	}
	return nil
}

func (r *TemplateRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM import_templates WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete template: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return template.ErrNotFound
	}
	return nil
}
