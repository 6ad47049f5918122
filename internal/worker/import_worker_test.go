package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ignite/fleet-import/internal/queue"
)

type fakeQueue struct {
	mu       sync.Mutex
	pending  []queue.Received
	deleted  []string
	received bool
}

func (f *fakeQueue) Receive(ctx context.Context) ([]queue.Received, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.received {
		// simulate an empty long poll so the loop keeps spinning quietly
		time.Sleep(10 * time.Millisecond)
		return nil, nil
	}
	f.received = true
	return f.pending, nil
}

func (f *fakeQueue) Delete(_ context.Context, receiptHandle string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, receiptHandle)
}

func (f *fakeQueue) deletedHandles() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

func TestImportWorkerAcksHandledDeliveries(t *testing.T) {
	job := pendingVehicleJob("job-loop")
	env := newProcEnv(t, 10, 0, job, vehicleHeader+"Gol,ABC1D23,2020,45000\n")

	q := &fakeQueue{pending: []queue.Received{
		{JobID: job.ID, ReceiptHandle: "rh-1"},
		{JobID: "unknown-job", ReceiptHandle: "rh-2"},
	}}
	w := NewImportWorker(q, env.proc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	assert.Eventually(t, func() bool {
		return len(q.deletedHandles()) == 2
	}, 2*time.Second, 20*time.Millisecond, "both deliveries handled and acked")

	w.Stop()

	got, _ := env.jobs.Get(context.Background(), job.ID)
	assert.Equal(t, 1, got.ProcessedRows)
}
