package worker

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/fleet-import/internal/domain"
	"github.com/ignite/fleet-import/internal/events"
	"github.com/ignite/fleet-import/internal/progress"
	"github.com/ignite/fleet-import/internal/repository/postgres"
	"github.com/ignite/fleet-import/internal/service/importjob"
	"github.com/ignite/fleet-import/internal/staging"
)

// ============================================================================
// in-memory stores
// ============================================================================

type fakeJobs struct {
	mu   sync.Mutex
	jobs map[string]*domain.ImportJob
	logs []domain.JobLog
}

func newFakeJobs(jobs ...*domain.ImportJob) *fakeJobs {
	f := &fakeJobs{jobs: make(map[string]*domain.ImportJob)}
	for _, j := range jobs {
		f.jobs[j.ID] = j
	}
	return f
}

func (f *fakeJobs) Get(_ context.Context, id string) (*domain.ImportJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return nil, importjob.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (f *fakeJobs) MarkProcessing(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j := f.jobs[id]
	if j.Status.IsTerminal() {
		return false, nil
	}
	j.Status = domain.JobProcessing
	now := time.Now()
	j.StartedAt = &now
	return true, nil
}

func (f *fakeJobs) MarkFinished(_ context.Context, id string, status domain.JobStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j := f.jobs[id]
	if j.Status.IsTerminal() {
		return nil
	}
	j.Status = status
	now := time.Now()
	j.FinishedAt = &now
	return nil
}

func (f *fakeJobs) AddProgress(_ context.Context, id string, pd, ed int) (int, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j := f.jobs[id]
	j.ProcessedRows += pd
	j.ErrorRows += ed
	return j.ProcessedRows, j.ErrorRows, nil
}

func (f *fakeJobs) AppendLog(_ context.Context, jobID string, level domain.LogLevel, msg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs = append(f.logs, domain.JobLog{JobID: jobID, Level: level, Message: msg})
	return nil
}

// rejectionLogs returns the messages for rejected rows and failures:
// validation errors plus duplicate warnings.
func (f *fakeJobs) rejectionLogs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, l := range f.logs {
		if l.Level == domain.LogError || l.Level == domain.LogWarning {
			out = append(out, l.Message)
		}
	}
	return out
}

type fakeTargets struct {
	mu       sync.Mutex
	inserted [][]any
	keys     map[string]map[string]bool // "table.column" → values present
	fkRows   map[string]string          // lookup value → id
	ensured  bool
}

func newFakeTargets() *fakeTargets {
	return &fakeTargets{keys: make(map[string]map[string]bool), fkRows: make(map[string]string)}
}

func (f *fakeTargets) seed(table, column string, values ...string) {
	k := table + "." + column
	if f.keys[k] == nil {
		f.keys[k] = make(map[string]bool)
	}
	for _, v := range values {
		f.keys[k][v] = true
	}
}

func (f *fakeTargets) EnsureTable(_ context.Context, m *domain.MappingConfig) error {
	f.ensured = true
	return nil
}

func (f *fakeTargets) Existing(_ context.Context, table, column string, values []string) (map[string]bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]bool)
	for _, v := range values {
		if f.keys[table+"."+column][v] {
			out[v] = true
		}
	}
	return out, nil
}

func (f *fakeTargets) InsertRows(_ context.Context, table, jobID string, columns []string, rows [][]any) (int, []postgres.RowError, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, row := range rows {
		f.inserted = append(f.inserted, row)
		for i, col := range columns {
			if s, ok := row[i].(string); ok {
				k := table + "." + col
				if f.keys[k] == nil {
					f.keys[k] = make(map[string]bool)
				}
				f.keys[k][s] = true
			}
		}
	}
	return len(rows), nil, nil
}

func (f *fakeTargets) ResolveFK(_ context.Context, fk *domain.ForeignKey, value string) (*string, error) {
	if id, ok := f.fkRows[value]; ok {
		return &id, nil
	}
	switch fk.OnMissing {
	case domain.FKIgnore:
		return nil, nil
	case domain.FKCreate:
		id := "created-" + value
		f.fkRows[value] = id
		return &id, nil
	default:
		return nil, fmt.Errorf("%w: %s", postgres.ErrFKMissing, value)
	}
}

// ============================================================================
// harness
// ============================================================================

type procEnv struct {
	jobs    *fakeJobs
	targets *fakeTargets
	files   *staging.Store
	bus     *events.Bus
	proc    *Processor
}

func newProcEnv(t *testing.T, batchSize int, throttle time.Duration, job *domain.ImportJob, csv string) *procEnv {
	t.Helper()
	files, err := staging.NewStore(t.TempDir())
	require.NoError(t, err)
	if csv != "" {
		_, err = files.Put(job.ID, ".csv", strings.NewReader(csv))
		require.NoError(t, err)
	}

	env := &procEnv{
		jobs:    newFakeJobs(job),
		targets: newFakeTargets(),
		files:   files,
		bus:     events.NewBus(256),
	}
	env.proc = NewProcessor(env.jobs, env.targets, files, env.bus, progress.NewMirror(nil), batchSize, throttle)
	return env
}

func (e *procEnv) drain(sub *events.Subscription) []events.Event {
	var out []events.Event
	for {
		ev, ok := sub.Next(20 * time.Millisecond)
		if !ok {
			return out
		}
		out = append(out, ev)
	}
}

func pendingVehicleJob(id string) *domain.ImportJob {
	return &domain.ImportJob{
		ID:            id,
		Filename:      "fleet.csv",
		Status:        domain.JobPending,
		MappingConfig: domain.VehicleMapping(),
	}
}

const vehicleHeader = "modelo,placa,ano,valor_fipe\n"

// ============================================================================
// scenarios
// ============================================================================

func TestProcessJobHappyPath(t *testing.T) {
	job := pendingVehicleJob("job-happy")
	csv := vehicleHeader +
		"Gol,ABC1D23,2020,45000.00\n" +
		"Uno,DEF4E56,2018,32000.00\n" +
		"Onix,GHI7J89,2022,61000.00\n" +
		"Civic,JKL1M23,2021,98000.00\n" +
		"Corolla,MNO4P56,2019,87000.00\n"
	env := newProcEnv(t, 2, 0, job, csv)
	sub := env.bus.Subscribe(job.ID)
	defer sub.Close()

	require.NoError(t, env.proc.ProcessJob(context.Background(), job.ID))

	got, _ := env.jobs.Get(context.Background(), job.ID)
	assert.Equal(t, domain.JobCompleted, got.Status)
	assert.Equal(t, 5, got.ProcessedRows)
	assert.Equal(t, 0, got.ErrorRows)
	assert.NotNil(t, got.StartedAt)
	assert.NotNil(t, got.FinishedAt)
	assert.Len(t, env.targets.inserted, 5)

	// staged file destroyed after completion
	_, err := env.files.Find(job.ID)
	assert.ErrorIs(t, err, staging.ErrNotFound)

	evs := env.drain(sub)
	var statuses []string
	progressCount := 0
	for _, ev := range evs {
		switch ev.Type {
		case events.TypeStatus:
			statuses = append(statuses, ev.Data["status"].(string))
		case events.TypeProgress:
			progressCount++
		}
	}
	assert.Equal(t, []string{"processing", "completed"}, statuses)
	assert.GreaterOrEqual(t, progressCount, 2, "per-chunk progress plus the final emission")
}

func TestProcessJobMixedValidity(t *testing.T) {
	job := pendingVehicleJob("job-mixed")
	csv := vehicleHeader +
		"Gol,ABC1D23,2020,45000\n" + // ok
		"Uno,BADPLATE,2018,32000\n" + // invalid plate
		"Onix,DEF4E56,1850,61000\n" + // year out of range
		"Civic,GHI7J89,2021,-5\n" + // non-positive value
		"Corolla,ABC1D23,2019,87000\n" + // duplicate within file
		"Fox,ZZZ9Z99,2017,15000\n" // duplicate already in the table
	env := newProcEnv(t, 100, 0, job, csv)
	env.targets.seed("imported_vehicles", "placa", "ZZZ9Z99")

	require.NoError(t, env.proc.ProcessJob(context.Background(), job.ID))

	got, _ := env.jobs.Get(context.Background(), job.ID)
	assert.Equal(t, domain.JobCompleted, got.Status, "row failures never fail the job")
	assert.Equal(t, 1, got.ProcessedRows)
	assert.Equal(t, 5, got.ErrorRows)
	assert.Len(t, env.targets.inserted, 1)

	errs := strings.Join(env.jobs.rejectionLogs(), "\n")
	assert.Contains(t, errs, "invalid plate")
	assert.Contains(t, errs, "out of range")
	assert.Contains(t, errs, "greater than zero")
	assert.Contains(t, errs, `duplicate placa "ABC1D23"`)
	assert.Contains(t, errs, `duplicate placa "ZZZ9Z99"`)
}

func TestProcessJobRowWithSeveralFailuresLogsAllReasons(t *testing.T) {
	job := pendingVehicleJob("job-multierr")
	// one row failing three ways: missing modelo, ancient year, negative value
	csv := vehicleHeader +
		"Gol,ABC1D23,2020,45000\n" +
		",ZZZ9Z99,1800,-5\n"
	env := newProcEnv(t, 100, 0, job, csv)

	require.NoError(t, env.proc.ProcessJob(context.Background(), job.ID))

	got, _ := env.jobs.Get(context.Background(), job.ID)
	assert.Equal(t, 1, got.ProcessedRows)
	assert.Equal(t, 1, got.ErrorRows, "one bad row counts once however many columns failed")

	rejections := env.jobs.rejectionLogs()
	require.Len(t, rejections, 1, "all reasons join into a single log line")
	assert.True(t, strings.HasPrefix(rejections[0], "row 1: "), rejections[0])
	assert.Contains(t, rejections[0], "modelo is required")
	assert.Contains(t, rejections[0], "out of range")
	assert.Contains(t, rejections[0], "greater than zero")
}

func TestProcessJobTerminalStatusCarriesFinalCounts(t *testing.T) {
	job := pendingVehicleJob("job-terminal")
	csv := vehicleHeader +
		"Gol,ABC1D23,2020,45000\n" +
		"Uno,BADPLATE,2018,32000\n"
	env := newProcEnv(t, 100, 0, job, csv)
	sub := env.bus.Subscribe(job.ID)
	defer sub.Close()

	require.NoError(t, env.proc.ProcessJob(context.Background(), job.ID))

	var last events.Event
	for _, ev := range env.drain(sub) {
		if ev.Type == events.TypeStatus {
			last = ev
		}
	}
	assert.Equal(t, "completed", last.Data["status"])
	assert.Equal(t, 1, last.Data["processed_rows"])
	assert.Equal(t, 1, last.Data["error_rows"])
	assert.NotEmpty(t, last.Data["finished_at"])
}

func TestProcessJobRedeliveryIsNoop(t *testing.T) {
	job := pendingVehicleJob("job-redeliver")
	job.Status = domain.JobCompleted
	env := newProcEnv(t, 10, 0, job, vehicleHeader+"Gol,ABC1D23,2020,45000\n")
	sub := env.bus.Subscribe(job.ID)
	defer sub.Close()

	require.NoError(t, env.proc.ProcessJob(context.Background(), job.ID))

	assert.Empty(t, env.targets.inserted, "redelivery must not re-ingest")
	got, _ := env.jobs.Get(context.Background(), job.ID)
	assert.Equal(t, domain.JobCompleted, got.Status)
	assert.Empty(t, env.drain(sub))
}

func TestProcessJobHeaderMismatchFailsFast(t *testing.T) {
	job := pendingVehicleJob("job-badheader")
	env := newProcEnv(t, 10, 0, job, "modelo,registration,ano,valor\nGol,ABC1D23,2020,45000\n")
	sub := env.bus.Subscribe(job.ID)
	defer sub.Close()

	require.NoError(t, env.proc.ProcessJob(context.Background(), job.ID))

	got, _ := env.jobs.Get(context.Background(), job.ID)
	assert.Equal(t, domain.JobFailed, got.Status)
	assert.Zero(t, got.ProcessedRows)
	assert.Empty(t, env.targets.inserted)

	errs := strings.Join(env.jobs.rejectionLogs(), "\n")
	assert.Contains(t, errs, "missing required columns")
	assert.Contains(t, errs, "placa")
	assert.Contains(t, errs, "valor_fipe")

	// failure still cleans up the staged file
	_, err := env.files.Find(job.ID)
	assert.ErrorIs(t, err, staging.ErrNotFound)

	var statuses []string
	for _, ev := range env.drain(sub) {
		if ev.Type == events.TypeStatus {
			statuses = append(statuses, ev.Data["status"].(string))
		}
	}
	assert.Equal(t, []string{"processing", "failed"}, statuses)
}

func TestProcessJobMissingStagedFile(t *testing.T) {
	job := pendingVehicleJob("job-nofile")
	env := newProcEnv(t, 10, 0, job, "")

	require.NoError(t, env.proc.ProcessJob(context.Background(), job.ID))

	got, _ := env.jobs.Get(context.Background(), job.ID)
	assert.Equal(t, domain.JobFailed, got.Status)
	assert.Contains(t, strings.Join(env.jobs.rejectionLogs(), "\n"), "missing")
}

func TestProcessJobEmptyFileCompletes(t *testing.T) {
	job := pendingVehicleJob("job-empty")
	env := newProcEnv(t, 10, 0, job, vehicleHeader)

	require.NoError(t, env.proc.ProcessJob(context.Background(), job.ID))

	got, _ := env.jobs.Get(context.Background(), job.ID)
	assert.Equal(t, domain.JobCompleted, got.Status)
	assert.Zero(t, got.ProcessedRows)
	assert.Zero(t, got.ErrorRows)
}

func TestProcessJobUnknownJobIsAcked(t *testing.T) {
	env := newProcEnv(t, 10, 0, pendingVehicleJob("some-job"), "")
	assert.NoError(t, env.proc.ProcessJob(context.Background(), "never-created"))
}

func TestProcessJobProgressThrottling(t *testing.T) {
	job := pendingVehicleJob("job-throttle")
	var sb strings.Builder
	sb.WriteString(vehicleHeader)
	for i := 0; i < 10; i++ {
		fmt.Fprintf(&sb, "Gol,AB%c1D2%d,2020,45000\n", 'A'+i, i%10)
	}
	// 10 rows in chunks of 1, throttle far beyond the test runtime:
	// only the first chunk and the guaranteed final emission pass
	env := newProcEnv(t, 1, time.Hour, job, sb.String())
	sub := env.bus.Subscribe(job.ID)
	defer sub.Close()

	require.NoError(t, env.proc.ProcessJob(context.Background(), job.ID))

	progressCount := 0
	var last events.Event
	for _, ev := range env.drain(sub) {
		if ev.Type == events.TypeProgress {
			progressCount++
			last = ev
		}
	}
	assert.Equal(t, 2, progressCount)
	assert.Equal(t, 10, last.Data["processed_rows"], "final emission carries the end state")
	assert.Equal(t, "completed", last.Data["status"])
}

func TestProcessJobDuplicateFileSecondImportInsertsNothing(t *testing.T) {
	csv := vehicleHeader +
		"Gol,ABC1D23,2020,45000\n" +
		"Uno,DEF4E56,2018,32000\n"

	first := pendingVehicleJob("job-first")
	env := newProcEnv(t, 10, 0, first, csv)
	require.NoError(t, env.proc.ProcessJob(context.Background(), first.ID))
	assert.Len(t, env.targets.inserted, 2)

	// same file again as a new job, against the same target state
	second := pendingVehicleJob("job-second")
	env.jobs.jobs[second.ID] = second
	_, err := env.files.Put(second.ID, ".csv", strings.NewReader(csv))
	require.NoError(t, err)

	require.NoError(t, env.proc.ProcessJob(context.Background(), second.ID))

	got, _ := env.jobs.Get(context.Background(), second.ID)
	assert.Equal(t, domain.JobCompleted, got.Status)
	assert.Zero(t, got.ProcessedRows)
	assert.Equal(t, 2, got.ErrorRows)
	assert.Len(t, env.targets.inserted, 2, "no new rows on re-import")
}

func TestProcessJobResolvesForeignKeys(t *testing.T) {
	mapping := &domain.MappingConfig{
		TargetTable: "fleet_assignments",
		Columns: []domain.ColumnMapping{
			{SourceColumn: "placa", DBColumn: "placa", Type: domain.FieldString, Required: true, Unique: true, Validate: domain.ValidatePlate},
			{SourceColumn: "owner_doc", DBColumn: "owner_id", Type: domain.FieldFK, Required: true,
				FK: &domain.ForeignKey{Table: "owners", LookupColumn: "document", OnMissing: domain.FKError}},
		},
	}
	job := &domain.ImportJob{ID: "job-fk", Filename: "a.csv", Status: domain.JobPending, MappingConfig: mapping}
	csv := "placa,owner_doc\nABC1D23,111\nDEF4E56,999\n"
	env := newProcEnv(t, 10, 0, job, csv)
	env.targets.fkRows["111"] = "owner-1"

	require.NoError(t, env.proc.ProcessJob(context.Background(), job.ID))

	got, _ := env.jobs.Get(context.Background(), job.ID)
	assert.Equal(t, 1, got.ProcessedRows)
	assert.Equal(t, 1, got.ErrorRows)
	require.Len(t, env.targets.inserted, 1)
	assert.Equal(t, "owner-1", env.targets.inserted[0][1])
	assert.Contains(t, strings.Join(env.jobs.rejectionLogs(), "\n"), "foreign key value not found")
}
