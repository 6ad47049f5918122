package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/fleet-import/internal/domain"
	"github.com/ignite/fleet-import/internal/pkg/httputil"
	"github.com/ignite/fleet-import/internal/service/importjob"
	"github.com/ignite/fleet-import/internal/service/template"
)

// CreateImport handles POST /imports: a multipart upload with an
// optional inline mapping_config or template_id reference.
func (h *Handlers) CreateImport(w http.ResponseWriter, r *http.Request) {
	// slack above the ceiling so the size check in the service answers
	// with a clean 400 instead of a connection reset
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload+(1<<20))
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		httputil.BadRequest(w, "invalid multipart request: "+err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		httputil.BadRequest(w, "missing file field")
		return
	}
	defer file.Close()

	mapping, ok := h.resolveMapping(w, r)
	if !ok {
		return
	}

	job, err := h.jobs.Submit(r.Context(), header.Filename, header.Size, file, mapping)
	if err != nil {
		switch {
		case errors.Is(err, importjob.ErrUnsupportedType),
			errors.Is(err, importjob.ErrFileTooLarge),
			errors.Is(err, importjob.ErrEmptyFilename):
			httputil.BadRequest(w, err.Error())
		case isMappingError(err):
			httputil.BadRequest(w, err.Error())
		default:
			httputil.InternalError(w, err)
		}
		return
	}

	httputil.Created(w, map[string]any{
		"job_id": job.ID,
		"status": job.Status,
	})
}

// resolveMapping reads mapping_config (inline JSON) or template_id from
// the form. Both absent means the built-in vehicle mapping; both present
// is rejected as ambiguous.
func (h *Handlers) resolveMapping(w http.ResponseWriter, r *http.Request) (*domain.MappingConfig, bool) {
	inline := r.FormValue("mapping_config")
	templateID := r.FormValue("template_id")

	if inline != "" && templateID != "" {
		httputil.BadRequest(w, "provide mapping_config or template_id, not both")
		return nil, false
	}
	if inline != "" {
		var m domain.MappingConfig
		if err := json.Unmarshal([]byte(inline), &m); err != nil {
			httputil.BadRequest(w, "invalid mapping_config: "+err.Error())
			return nil, false
		}
		return &m, true
	}
	if templateID != "" {
		t, err := h.templates.Get(r.Context(), templateID)
		if errors.Is(err, template.ErrNotFound) {
			httputil.BadRequest(w, "unknown template_id")
			return nil, false
		}
		if err != nil {
			httputil.InternalError(w, err)
			return nil, false
		}
		return t.Mapping, true
	}
	return nil, true
}

func isMappingError(err error) bool {
	// mapping validation errors carry a fixed prefix (see domain.MappingConfig.Validate)
	return err != nil && strings.HasPrefix(err.Error(), "mapping:")
}

// ListImports handles GET /imports?skip&limit&status.
func (h *Handlers) ListImports(w http.ResponseWriter, r *http.Request) {
	skip, _ := strconv.Atoi(r.URL.Query().Get("skip"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	jobs, total, err := h.jobs.List(r.Context(), importjob.ListFilter{
		Status: r.URL.Query().Get("status"),
		Offset: skip,
		Limit:  limit,
	})
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	httputil.OK(w, map[string]any{
		"items": jobs,
		"total": total,
	})
}

// GetImport handles GET /imports/{id}: the job plus its full log trail.
func (h *Handlers) GetImport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, logs, err := h.jobs.GetWithLogs(r.Context(), id)
	if errors.Is(err, importjob.ErrNotFound) {
		httputil.NotFound(w, "import job not found")
		return
	}
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]any{
		"job":  job,
		"logs": logs,
	})
}

// GetImportProgress handles GET /imports/{id}/progress, answering from
// the Redis mirror when available.
func (h *Handlers) GetImportProgress(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	snap, err := h.jobs.Progress(r.Context(), id)
	if errors.Is(err, importjob.ErrNotFound) {
		httputil.NotFound(w, "import job not found")
		return
	}
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, snap)
}

// PurgeImport handles DELETE /admin/imports/{id}: removes the job row,
// its logs, its staged file, and its mirrored snapshot.
func (h *Handlers) PurgeImport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := h.jobs.Purge(r.Context(), id)
	if errors.Is(err, importjob.ErrNotFound) {
		httputil.NotFound(w, "import job not found")
		return
	}
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.NoContent(w)
}
