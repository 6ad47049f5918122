package api

import (
	"net/http"
	"time"

	"github.com/ignite/fleet-import/internal/events"
	"github.com/ignite/fleet-import/internal/pkg/httputil"
	"github.com/ignite/fleet-import/internal/service/importjob"
	"github.com/ignite/fleet-import/internal/service/template"
)

// Handlers carries the services the HTTP layer fronts.
type Handlers struct {
	jobs      *importjob.Service
	templates *template.Service
	bus       *events.Bus
	heartbeat time.Duration
	maxUpload int64
}

// NewHandlers wires the HTTP handlers.
func NewHandlers(jobs *importjob.Service, templates *template.Service, bus *events.Bus, heartbeat time.Duration, maxUpload int64) *Handlers {
	return &Handlers{
		jobs:      jobs,
		templates: templates,
		bus:       bus,
		heartbeat: heartbeat,
		maxUpload: maxUpload,
	}
}

// HealthCheck reports liveness.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}
