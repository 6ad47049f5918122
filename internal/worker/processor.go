package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ignite/fleet-import/internal/domain"
	"github.com/ignite/fleet-import/internal/events"
	"github.com/ignite/fleet-import/internal/pkg/logger"
	"github.com/ignite/fleet-import/internal/progress"
	"github.com/ignite/fleet-import/internal/repository/postgres"
	"github.com/ignite/fleet-import/internal/service/importjob"
	"github.com/ignite/fleet-import/internal/spreadsheet"
	"github.com/ignite/fleet-import/internal/staging"
)

// JobStore is the job persistence the processor needs.
type JobStore interface {
	Get(ctx context.Context, id string) (*domain.ImportJob, error)
	MarkProcessing(ctx context.Context, id string) (bool, error)
	MarkFinished(ctx context.Context, id string, status domain.JobStatus) error
	AddProgress(ctx context.Context, id string, processedDelta, errorDelta int) (processed, errors int, err error)
	AppendLog(ctx context.Context, jobID string, level domain.LogLevel, message string) error
}

// TargetStore is the destination-table persistence the processor needs.
type TargetStore interface {
	EnsureTable(ctx context.Context, m *domain.MappingConfig) error
	Existing(ctx context.Context, table, column string, values []string) (map[string]bool, error)
	InsertRows(ctx context.Context, table, jobID string, columns []string, rows [][]any) (int, []postgres.RowError, error)
	ResolveFK(ctx context.Context, fk *domain.ForeignKey, value string) (*string, error)
}

// Processor turns one staged spreadsheet into target-table rows, chunk by
// chunk. A row that fails validation or duplicate detection costs exactly
// itself: it is logged, counted, and skipped.
type Processor struct {
	jobs      JobStore
	targets   TargetStore
	files     *staging.Store
	bus       *events.Bus
	mirror    *progress.Mirror
	batchSize int
	throttle  time.Duration
}

// NewProcessor wires a row processor.
func NewProcessor(jobs JobStore, targets TargetStore, files *staging.Store, bus *events.Bus, mirror *progress.Mirror, batchSize int, throttle time.Duration) *Processor {
	if batchSize <= 0 {
		batchSize = 1000
	}
	return &Processor{
		jobs:      jobs,
		targets:   targets,
		files:     files,
		bus:       bus,
		mirror:    mirror,
		batchSize: batchSize,
		throttle:  throttle,
	}
}

// ProcessJob runs one queue delivery to a terminal job state.
//
// A nil return means the delivery is fully handled and the message can be
// acked, including the no-op cases (unknown job, already-finished job). A
// non-nil return means an infrastructure error; the message stays on the
// queue and redelivery retries the job, which the terminal-state guard
// keeps idempotent.
func (p *Processor) ProcessJob(ctx context.Context, jobID string) error {
	job, err := p.jobs.Get(ctx, jobID)
	if errors.Is(err, importjob.ErrNotFound) {
		logger.Warn("queue message for unknown job", "job_id", jobID)
		return nil
	}
	if err != nil {
		return err
	}
	if job.Status.IsTerminal() {
		logger.Info("redelivery of finished job ignored", "job_id", jobID, "status", job.Status)
		return nil
	}

	started, err := p.jobs.MarkProcessing(ctx, jobID)
	if err != nil {
		return err
	}
	if !started {
		return nil
	}
	job.Status = domain.JobProcessing
	p.emitStatus(job)
	p.logJob(ctx, job.ID, domain.LogInfo, "processing started: "+job.Filename)

	mapping := job.MappingConfig
	if mapping == nil {
		mapping = domain.VehicleMapping()
	}

	path, err := p.files.Find(jobID)
	if errors.Is(err, staging.ErrNotFound) {
		return p.fail(ctx, job, "staged upload file is missing")
	}
	if err != nil {
		return err
	}

	if err := p.targets.EnsureTable(ctx, mapping); err != nil {
		return err
	}

	missing, err := spreadsheet.ValidateHeader(path, mapping.RequiredColumns())
	if err != nil {
		return p.fail(ctx, job, fmt.Sprintf("file could not be read: %v", err))
	}
	if len(missing) > 0 {
		return p.fail(ctx, job, "missing required columns: "+strings.Join(missing, ", "))
	}

	reader, err := spreadsheet.Open(path, p.batchSize)
	if err != nil {
		return p.fail(ctx, job, fmt.Sprintf("file could not be opened: %v", err))
	}
	defer reader.Close()

	// map each mapped column to its position in this file's header
	headerPos := make(map[string]int, len(reader.Header()))
	for i, h := range reader.Header() {
		headerPos[strings.ToLower(strings.TrimSpace(h))] = i
	}
	colPos := make([]int, len(mapping.Columns))
	for i := range mapping.Columns {
		pos, ok := headerPos[strings.ToLower(strings.TrimSpace(mapping.Columns[i].SourceColumn))]
		if !ok {
			pos = -1 // optional column absent from the file
		}
		colPos[i] = pos
	}

	// duplicate keys already attempted in this file, per unique column
	seen := make(map[string]map[string]bool)
	for _, c := range mapping.UniqueColumns() {
		seen[c.DBColumn] = make(map[string]bool)
	}

	var lastEmit time.Time
	for {
		chunk, readErr := reader.Next()
		if readErr != nil && readErr != io.EOF {
			return p.fail(ctx, job, fmt.Sprintf("file read failed: %v", readErr))
		}
		if len(chunk) > 0 {
			inserted, rejected, err := p.processChunk(ctx, job, mapping, colPos, chunk, seen)
			if err != nil {
				return err
			}
			processed, errorRows, err := p.jobs.AddProgress(ctx, job.ID, inserted, rejected)
			if err != nil {
				return err
			}
			job.ProcessedRows, job.ErrorRows = processed, errorRows
			p.mirrorSnapshot(ctx, job)

			if time.Since(lastEmit) >= p.throttle {
				p.emitProgress(job)
				lastEmit = time.Now()
			}
		}
		if readErr == io.EOF {
			break
		}
	}

	if err := p.jobs.MarkFinished(ctx, job.ID, domain.JobCompleted); err != nil {
		return err
	}
	job.Status = domain.JobCompleted
	p.emitProgress(job) // the final snapshot always goes out, throttle or not
	p.emitStatus(job)
	p.logJob(ctx, job.ID, domain.LogInfo,
		fmt.Sprintf("import finished: %d rows inserted, %d rejected", job.ProcessedRows, job.ErrorRows))
	p.mirrorSnapshot(ctx, job)

	if err := p.files.Delete(job.ID); err != nil {
		logger.Warn("staged file cleanup failed", "job_id", job.ID, "error", err)
	}
	return nil
}

type uniqueRef struct {
	col *domain.ColumnMapping
	pos int
}

func (p *Processor) processChunk(ctx context.Context, job *domain.ImportJob, mapping *domain.MappingConfig, colPos []int, chunk []spreadsheet.Row, seen map[string]map[string]bool) (inserted, rejected int, err error) {
	table := mapping.TableName()

	var uniques []uniqueRef
	for i := range mapping.Columns {
		if mapping.Columns[i].Unique {
			uniques = append(uniques, uniqueRef{col: &mapping.Columns[i], pos: colPos[i]})
		}
	}

	// one existence probe per unique column per chunk
	existing := make(map[string]map[string]bool, len(uniques))
	for _, u := range uniques {
		keys := make([]string, 0, len(chunk))
		for _, row := range chunk {
			if u.pos < 0 || u.pos >= len(row.Values) {
				continue
			}
			if k := KeyValue(u.col, row.Values[u.pos]); k != "" {
				keys = append(keys, k)
			}
		}
		found, err := p.targets.Existing(ctx, table, u.col.DBColumn, keys)
		if err != nil {
			return 0, 0, err
		}
		existing[u.col.DBColumn] = found
	}

	dbColumns := make([]string, len(mapping.Columns))
	for i, c := range mapping.Columns {
		dbColumns[i] = c.DBColumn
	}

	var (
		validRows [][]any
		validIdx  []int // original Row.Index per valid row, for insert errors
	)

	for _, row := range chunk {
		values := make([]any, len(mapping.Columns))
		// every failing column contributes a reason; the row is rejected
		// once with all of them joined
		var reasons []string
		dup := ""
		for i := range mapping.Columns {
			c := &mapping.Columns[i]
			raw := ""
			if colPos[i] >= 0 && colPos[i] < len(row.Values) {
				raw = row.Values[colPos[i]]
			}
			if c.Required && strings.TrimSpace(raw) == "" {
				reasons = append(reasons, c.SourceColumn+" is required")
				continue
			}

			value, err := Coerce(c, raw)
			if err != nil {
				reasons = append(reasons, fmt.Sprintf("%s: %v", c.SourceColumn, err))
				continue
			}
			if err := CheckValue(c, value); err != nil {
				reasons = append(reasons, fmt.Sprintf("%s: %v", c.SourceColumn, err))
				continue
			}

			if c.Type == domain.FieldFK && value != nil {
				id, err := p.targets.ResolveFK(ctx, c.FK, value.(string))
				if errors.Is(err, postgres.ErrFKMissing) {
					reasons = append(reasons, fmt.Sprintf("%s: %v", c.SourceColumn, err))
					continue
				}
				if err != nil {
					return 0, 0, err
				}
				if id == nil {
					value = nil
				} else {
					value = *id
				}
			}

			if c.Unique && dup == "" {
				key := KeyValue(c, raw)
				if existing[c.DBColumn][key] || seen[c.DBColumn][key] {
					dup = fmt.Sprintf("duplicate %s %q", c.SourceColumn, key)
					continue
				}
			}
			values[i] = value
		}

		if len(reasons) > 0 {
			rejected++
			p.logJob(ctx, job.ID, domain.LogError, fmt.Sprintf("row %d: %s", row.Index, strings.Join(reasons, ", ")))
			continue
		}
		if dup != "" {
			rejected++
			p.logJob(ctx, job.ID, domain.LogWarning, fmt.Sprintf("row %d: %s", row.Index, dup))
			continue
		}

		// claim unique keys only once the whole row validated
		for _, u := range uniques {
			if u.pos >= 0 && u.pos < len(row.Values) {
				if k := KeyValue(u.col, row.Values[u.pos]); k != "" {
					seen[u.col.DBColumn][k] = true
				}
			}
		}
		validRows = append(validRows, values)
		validIdx = append(validIdx, row.Index)
	}

	n, failed, err := p.targets.InsertRows(ctx, table, job.ID, dbColumns, validRows)
	if err != nil {
		return 0, 0, err
	}
	inserted = n
	for _, f := range failed {
		rejected++
		rowIndex := validIdx[f.Index]
		if postgres.IsUniqueViolation(f.Err) {
			// raced past the probe: another job inserted the key first
			p.logJob(ctx, job.ID, domain.LogWarning, fmt.Sprintf("row %d: duplicate key", rowIndex))
		} else {
			p.logJob(ctx, job.ID, domain.LogError, fmt.Sprintf("row %d: insert failed: %v", rowIndex, f.Err))
		}
	}
	return inserted, rejected, nil
}

// fail moves the job to FAILED and cleans up. The message can be acked:
// retrying a deterministic failure would only fail again.
func (p *Processor) fail(ctx context.Context, job *domain.ImportJob, msg string) error {
	p.logJob(ctx, job.ID, domain.LogError, msg)
	if err := p.jobs.MarkFinished(ctx, job.ID, domain.JobFailed); err != nil {
		return err
	}
	job.Status = domain.JobFailed
	p.emitStatus(job)
	p.mirrorSnapshot(ctx, job)
	if err := p.files.Delete(job.ID); err != nil {
		logger.Warn("staged file cleanup failed", "job_id", job.ID, "error", err)
	}
	logger.Error("import job failed", "job_id", job.ID, "reason", msg)
	return nil
}

// logJob records an audit line and mirrors it onto the event bus.
func (p *Processor) logJob(ctx context.Context, jobID string, level domain.LogLevel, msg string) {
	if err := p.jobs.AppendLog(ctx, jobID, level, msg); err != nil {
		logger.Warn("append job log failed", "job_id", jobID, "error", err)
	}
	p.bus.Publish(events.Event{
		Type:  events.TypeLog,
		JobID: jobID,
		Data: map[string]any{
			"level":      string(level),
			"message":    msg,
			"created_at": time.Now().UTC().Format(time.RFC3339),
		},
	})
}

func (p *Processor) emitStatus(job *domain.ImportJob) {
	data := map[string]any{"status": string(job.Status)}
	// terminal events carry the final accounting so clients need not wait
	// for the last progress_update
	if job.Status.IsTerminal() {
		data["processed_rows"] = job.ProcessedRows
		data["error_rows"] = job.ErrorRows
		data["finished_at"] = time.Now().UTC().Format(time.RFC3339)
	}
	p.bus.Publish(events.Event{Type: events.TypeStatus, JobID: job.ID, Data: data})
}

func (p *Processor) emitProgress(job *domain.ImportJob) {
	data := map[string]any{
		"status":         string(job.Status),
		"processed_rows": job.ProcessedRows,
		"error_rows":     job.ErrorRows,
	}
	if job.TotalRows != nil {
		data["total_rows"] = *job.TotalRows
	}
	p.bus.Publish(events.Event{Type: events.TypeProgress, JobID: job.ID, Data: data})
}

func (p *Processor) mirrorSnapshot(ctx context.Context, job *domain.ImportJob) {
	if !p.mirror.Enabled() {
		return
	}
	err := p.mirror.Set(ctx, domain.ProgressSnapshot{
		JobID:         job.ID,
		Status:        job.Status,
		TotalRows:     job.TotalRows,
		ProcessedRows: job.ProcessedRows,
		ErrorRows:     job.ErrorRows,
		UpdatedAt:     time.Now().UTC(),
	})
	if err != nil {
		logger.Warn("progress mirror write failed", "job_id", job.ID, "error", err)
	}
}
