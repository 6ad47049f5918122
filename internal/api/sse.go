package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ignite/fleet-import/internal/events"
	"github.com/ignite/fleet-import/internal/service/importjob"
)

// bus event types → SSE event names on the wire
var sseEventNames = map[events.Type]string{
	events.TypeStatus:    "job_status",
	events.TypeProgress:  "job_progress",
	events.TypeLog:       "job_log",
	events.TypeConnected: "connected",
}

// StreamEvents handles GET /imports/stream?job_id= as a Server-Sent
// Events stream. With a job_id the client gets that job's events plus an
// immediate status snapshot to resync after reconnects; without one it
// gets every job's events. A comment heartbeat keeps idle connections
// alive through proxies.
func (h *Handlers) StreamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	jobID := r.URL.Query().Get("job_id")

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	flusher.Flush()

	key := jobID
	if key == "" {
		key = events.AllJobs
	}
	sub := h.bus.Subscribe(key)
	defer sub.Close()

	writeEvent(w, "connected", map[string]any{"job_id": jobID})
	flusher.Flush()

	// snapshot so a reconnecting client never waits for the next event
	// to learn the current state
	if jobID != "" {
		job, err := h.jobs.Get(r.Context(), jobID)
		if err == nil {
			data := map[string]any{
				"job_id":         job.ID,
				"status":         string(job.Status),
				"processed_rows": job.ProcessedRows,
				"error_rows":     job.ErrorRows,
			}
			if job.TotalRows != nil {
				data["total_rows"] = *job.TotalRows
			}
			writeEvent(w, "job_status", data)
			flusher.Flush()
		} else if errors.Is(err, importjob.ErrNotFound) {
			writeEvent(w, "job_status", map[string]any{"job_id": jobID, "status": "unknown"})
			flusher.Flush()
		}
	}

	heartbeat := time.NewTimer(h.heartbeat)
	defer heartbeat.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, open := <-sub.C:
			if !open {
				return
			}
			name, known := sseEventNames[ev.Type]
			if !known {
				continue
			}
			data := make(map[string]any, len(ev.Data)+1)
			for k, v := range ev.Data {
				data[k] = v
			}
			data["job_id"] = ev.JobID
			writeEvent(w, name, data)
			flusher.Flush()
			if !heartbeat.Stop() {
				select {
				case <-heartbeat.C:
				default:
				}
			}
			heartbeat.Reset(h.heartbeat)
		case <-heartbeat.C:
			// SSE comment line: ignored by clients, keeps the socket warm
			fmt.Fprint(w, ":heartbeat\n\n")
			flusher.Flush()
			heartbeat.Reset(h.heartbeat)
		}
	}
}

func writeEvent(w http.ResponseWriter, name string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, payload)
}
