package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/fleet-import/internal/domain"
	"github.com/ignite/fleet-import/internal/pkg/httputil"
	"github.com/ignite/fleet-import/internal/service/template"
)

type templateRequest struct {
	Name        string                `json:"name"`
	Description string                `json:"description"`
	Mapping     *domain.MappingConfig `json:"mapping_config"`
}

// CreateTemplate handles POST /templates.
func (h *Handlers) CreateTemplate(w http.ResponseWriter, r *http.Request) {
	var req templateRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	t := &domain.ImportTemplate{
		Name:        req.Name,
		Description: req.Description,
		Mapping:     req.Mapping,
	}
	if err := h.templates.Create(r.Context(), t); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	httputil.Created(w, t)
}

// ListTemplates handles GET /templates.
func (h *Handlers) ListTemplates(w http.ResponseWriter, r *http.Request) {
	ts, err := h.templates.List(r.Context())
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"items": ts})
}

// GetTemplate handles GET /templates/{id}.
func (h *Handlers) GetTemplate(w http.ResponseWriter, r *http.Request) {
	t, err := h.templates.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, template.ErrNotFound) {
		httputil.NotFound(w, "template not found")
		return
	}
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, t)
}

// UpdateTemplate handles PUT /templates/{id}.
func (h *Handlers) UpdateTemplate(w http.ResponseWriter, r *http.Request) {
	var req templateRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	t := &domain.ImportTemplate{
		ID:          chi.URLParam(r, "id"),
		Name:        req.Name,
		Description: req.Description,
		Mapping:     req.Mapping,
	}
	err := h.templates.Update(r.Context(), t)
	if errors.Is(err, template.ErrNotFound) {
		httputil.NotFound(w, "template not found")
		return
	}
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	httputil.OK(w, t)
}

// DeleteTemplate handles DELETE /templates/{id}.
func (h *Handlers) DeleteTemplate(w http.ResponseWriter, r *http.Request) {
	err := h.templates.Delete(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, template.ErrNotFound) {
		httputil.NotFound(w, "template not found")
		return
	}
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.NoContent(w)
}
