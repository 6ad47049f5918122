package worker

import (
	"context"
	"time"

	"github.com/ignite/fleet-import/internal/pkg/logger"
	"github.com/ignite/fleet-import/internal/queue"
)

// JobQueue is the queue surface the worker loop needs.
type JobQueue interface {
	Receive(ctx context.Context) ([]queue.Received, error)
	Delete(ctx context.Context, receiptHandle string)
}

// ImportWorker long-polls the work queue and drives deliveries through
// the processor. Messages are deleted only after ProcessJob reports the
// delivery fully handled; anything else redelivers after the visibility
// timeout.
type ImportWorker struct {
	queue     JobQueue
	processor *Processor
	done      chan struct{}
}

// NewImportWorker wires the queue consumer loop.
func NewImportWorker(q JobQueue, p *Processor) *ImportWorker {
	return &ImportWorker{queue: q, processor: p, done: make(chan struct{})}
}

// Start launches the poll loop in the background.
func (w *ImportWorker) Start(ctx context.Context) {
	logger.Info("import worker started")
	go w.poll(ctx)
}

// Stop signals the poll loop to exit after the current receive.
func (w *ImportWorker) Stop() {
	close(w.done)
}

func (w *ImportWorker) poll(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		default:
		}

		received, err := w.queue.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("queue receive failed", "error", err)
			time.Sleep(5 * time.Second)
			continue
		}

		for _, msg := range received {
			if err := w.processor.ProcessJob(ctx, msg.JobID); err != nil {
				logger.Error("job processing failed, leaving for redelivery", "job_id", msg.JobID, "error", err)
				continue
			}
			w.queue.Delete(ctx, msg.ReceiptHandle)
		}
	}
}
