package domain

import "time"

// JobStatus enumerates the lifecycle states of an import job.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// IsTerminal returns true if the job is in a final state. Terminal jobs
// never transition again; queue redeliveries of their id are no-ops.
func (s JobStatus) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed
}

// ValidJobStatus reports whether s names a known lifecycle state.
func ValidJobStatus(s string) bool {
	switch JobStatus(s) {
	case JobPending, JobProcessing, JobCompleted, JobFailed:
		return true
	}
	return false
}

// ImportJob is the durable record of one spreadsheet ingestion.
//
// Counters are cumulative and never regress: ProcessedRows counts rows
// durably inserted, ErrorRows counts rows rejected by validation or
// duplicate detection. When TotalRows is known,
// ProcessedRows+ErrorRows <= TotalRows holds at all times.
type ImportJob struct {
	ID            string         `json:"id" db:"id"`
	Filename      string         `json:"filename" db:"filename"`
	Status        JobStatus      `json:"status" db:"status"`
	TotalRows     *int           `json:"total_rows" db:"total_rows"`
	ProcessedRows int            `json:"processed_rows" db:"processed_rows"`
	ErrorRows     int            `json:"error_rows" db:"error_rows"`
	MappingConfig *MappingConfig `json:"mapping_config,omitempty" db:"mapping_config"`
	StartedAt     *time.Time     `json:"started_at" db:"started_at"`
	FinishedAt    *time.Time     `json:"finished_at" db:"finished_at"`
	CreatedAt     time.Time      `json:"created_at" db:"created_at"`
}

// ProgressSnapshot is the latest progress state of a job, mirrored to
// Redis (when configured) so any API replica can answer polls.
type ProgressSnapshot struct {
	JobID         string    `json:"job_id"`
	Status        JobStatus `json:"status"`
	TotalRows     *int      `json:"total_rows"`
	ProcessedRows int       `json:"processed_rows"`
	ErrorRows     int       `json:"error_rows"`
	UpdatedAt     time.Time `json:"updated_at"`
}
