package template

import "errors"

var (
	// ErrNotFound means no template exists with the given id.
	ErrNotFound = errors.New("import template not found")

	// ErrNameRequired means the template has no name.
	ErrNameRequired = errors.New("template name is required")

	// ErrMappingRequired means the template has no mapping_config.
	ErrMappingRequired = errors.New("template mapping_config is required")
)
