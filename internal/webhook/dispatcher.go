package webhook

import (
	"context"
	"log/slog"
	"sync"

	"github.com/mygudou/gitlab-copilot-sub001/internal/processor"
)

// EventProcessor is the narrow surface Dispatcher needs from
// processor.Processor.
type EventProcessor interface {
	Process(ctx context.Context, we processor.WebhookEvent) error
}

// TaskDispatcher hands a parsed webhook event to a background worker pool
// so the HTTP handler can return its fast 200 ack (§4.1) without waiting
// for the (potentially multi-minute) AI execution to finish.
//
// Grounded on webhooks.Dispatcher's queue-plus-worker-pool shape; reshaped
// from "deliver to N HTTP subscribers with retry" to "hand one event to
// one Processor, once, best-effort."
type TaskDispatcher struct {
	proc    EventProcessor
	queue   chan *dispatchJob
	logger  *slog.Logger
	wg      sync.WaitGroup
	workers int
}

type dispatchJob struct {
	ctx context.Context
	we  processor.WebhookEvent
}

// NewTaskDispatcher creates a dispatcher with a background worker pool.
// queueSize bounds how many events may be buffered before Enqueue starts
// rejecting new work (§5's resource model: bounded queues, no unbounded
// goroutine growth).
func NewTaskDispatcher(proc EventProcessor, workers, queueSize int, logger *slog.Logger) *TaskDispatcher {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 1000
	}
	if logger == nil {
		logger = slog.Default()
	}
	d := &TaskDispatcher{
		proc:    proc,
		queue:   make(chan *dispatchJob, queueSize),
		logger:  logger,
		workers: workers,
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

// Enqueue submits we for background processing under ctx (which must
// already carry the resolved tenant, per tenantctx). Returns false if the
// queue is full; callers should treat that as a transient overload and
// let the platform's own webhook retry mechanism redeliver later.
func (d *TaskDispatcher) Enqueue(ctx context.Context, we processor.WebhookEvent) bool {
	select {
	case d.queue <- &dispatchJob{ctx: ctx, we: we}:
		return true
	default:
		d.logger.Warn("dispatch queue full, dropping event", "request_id", we.RequestID)
		return false
	}
}

func (d *TaskDispatcher) worker() {
	defer d.wg.Done()
	for job := range d.queue {
		if err := d.proc.Process(job.ctx, job.we); err != nil {
			d.logger.Error("event processing failed", "request_id", job.we.RequestID, "error", err)
		}
	}
}

// Shutdown stops accepting new work and waits for in-flight jobs to drain.
func (d *TaskDispatcher) Shutdown() {
	close(d.queue)
	d.wg.Wait()
}

// QueueDepth returns how many events are currently buffered, for gauge
// reporting.
func (d *TaskDispatcher) QueueDepth() int {
	return len(d.queue)
}
