package domain

import "time"

// ImportTemplate is a named, persisted mapping configuration that
// submissions can reference by id instead of inlining a mapping.
type ImportTemplate struct {
	ID          string         `json:"id" db:"id"`
	Name        string         `json:"name" db:"name"`
	Description string         `json:"description" db:"description"`
	Mapping     *MappingConfig `json:"mapping_config" db:"mapping_config"`
	CreatedAt   time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at" db:"updated_at"`
}
