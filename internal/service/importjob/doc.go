// Package importjob owns the import job lifecycle on the API side:
// accepting uploads, staging the file, counting rows, and handing the job
// to the work queue. Row processing itself belongs to internal/worker.
package importjob
