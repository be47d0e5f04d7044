package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/artpar/deployer/internal/core/domain"
	"github.com/artpar/deployer/internal/shell/queue"
)

// =============================================================================
// Collaborators
// =============================================================================

// Source is the transport of one named queue.
type Source interface {
	Name() string
	Recover(ctx context.Context) (int, error)
	Receive(ctx context.Context, timeout time.Duration) (*queue.Delivery, error)
	Complete(ctx context.Context, d *queue.Delivery, result any) error
	Retry(ctx context.Context, d *queue.Delivery) error
}

// History keeps the audit trail of processed jobs.
type History interface {
	RecordJob(ctx context.Context, record *domain.JobRecord) error
}

// WorkerMetrics records job outcomes and transport errors.
type WorkerMetrics interface {
	JobStarted(queue, job string) func(status string)
	QueueError(queue, op string)
}

// =============================================================================
// Worker
// =============================================================================

// WorkerConfig configures a queue worker.
type WorkerConfig struct {
	// PollTimeout bounds one blocking receive. Default: 5 seconds.
	PollTimeout time.Duration

	// MaxAttempts caps deliveries of a job failing with a retryable error.
	// Default: 3.
	MaxAttempts int

	// RetryBase and RetryMax bound the exponential delay between transport
	// reconnects and between retries. Defaults: 1 second and 30 seconds.
	RetryBase time.Duration
	RetryMax  time.Duration
}

func (c WorkerConfig) withDefaults() WorkerConfig {
	if c.PollTimeout == 0 {
		c.PollTimeout = 5 * time.Second
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 3
	}
	if c.RetryBase == 0 {
		c.RetryBase = time.Second
	}
	if c.RetryMax == 0 {
		c.RetryMax = 30 * time.Second
	}
	return c
}

// Worker consumes one queue with a concurrency of one. A running job is
// never cancelled: Stop waits for it. A fatal job error stops the worker
// without acknowledging the job and is reported through onFatal.
type Worker struct {
	source  Source
	bus     *Bus
	history History
	metrics WorkerMetrics
	config  WorkerConfig
	onFatal func(error)
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWorker creates a worker for source. history, metrics and onFatal may be
// nil.
func NewWorker(source Source, bus *Bus, history History, metrics WorkerMetrics, config WorkerConfig, onFatal func(error), logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		source:  source,
		bus:     bus,
		history: history,
		metrics: metrics,
		config:  config.withDefaults(),
		onFatal: onFatal,
		logger:  logger.With("component", "worker", "queue", source.Name()),
	}
}

// Start recovers interrupted jobs and begins consuming.
func (w *Worker) Start() {
	w.ctx, w.cancel = context.WithCancel(context.Background())

	if n, err := w.source.Recover(w.ctx); err != nil {
		w.logger.Error("failed to recover interrupted jobs", "error", err)
		w.queueError("recover")
	} else if n > 0 {
		w.logger.Warn("requeued interrupted jobs", "count", n)
	}

	w.wg.Add(1)
	go w.run()
	w.logger.Info("worker started")
}

// Stop stops consuming and waits for the running job to finish.
func (w *Worker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
	w.logger.Info("worker stopped")
}

func (w *Worker) run() {
	defer w.wg.Done()
	backoff := queue.NewBackoff(w.config.RetryBase, w.config.RetryMax)

	for {
		if w.ctx.Err() != nil {
			return
		}

		d, err := w.source.Receive(w.ctx, w.config.PollTimeout)
		if err != nil {
			if w.ctx.Err() != nil {
				return
			}
			w.queueError("receive")
			delay := backoff.Next()
			w.logger.Error("receive failed", "error", err, "retry_in", delay)
			if !sleep(w.ctx, delay) {
				return
			}
			continue
		}
		backoff.Reset()
		if d == nil {
			continue
		}

		if fatal := w.process(d); fatal != nil {
			w.logger.Error("fatal job error, worker stopping", "job_id", d.Envelope.ID, "error", fatal)
			if w.onFatal != nil {
				w.onFatal(fatal)
			}
			return
		}
	}
}

// process runs one delivery to completion. It returns the error only when
// it is fatal; the delivery then stays in the active list.
func (w *Worker) process(d *queue.Delivery) error {
	// The job outlives Stop; it only ends by completing or failing.
	ctx := context.WithoutCancel(w.ctx)
	if d.Malformed != nil {
		w.reject(ctx, d)
		return nil
	}
	env := d.Envelope
	job := Job{ID: env.ID, Queue: w.source.Name(), Name: env.Name, Data: env.Data, Attempts: env.Attempts}
	logger := w.logger.With("job_id", job.ID, "job", job.Name, "attempt", job.Attempts+1)

	logger.Info("job started")
	started := time.Now()
	var done func(string)
	if w.metrics != nil {
		done = w.metrics.JobStarted(job.Queue, job.Name)
	}

	result, err := w.bus.Dispatch(ctx, job)
	if done != nil {
		done(result.Status)
	}

	if err != nil && domain.IsFatal(err) {
		return err
	}

	if err != nil && domain.IsRetryable(err) && job.Attempts+1 < w.config.MaxAttempts {
		delay := queue.NewBackoff(w.config.RetryBase, w.config.RetryMax)
		var wait time.Duration
		for i := 0; i <= job.Attempts; i++ {
			wait = delay.Next()
		}
		logger.Warn("retryable job failure, requeueing", "error", err, "retry_in", wait)
		sleep(ctx, wait)
		if retryErr := w.source.Retry(ctx, d); retryErr != nil {
			w.queueError("retry")
			logger.Error("failed to requeue job", "error", retryErr)
		}
		return nil
	}

	w.record(ctx, job, result, started)
	if completeErr := w.source.Complete(ctx, d, result); completeErr != nil {
		w.queueError("complete")
		logger.Error("failed to store job result", "error", completeErr)
	}
	logger.Info("job finished", "status", result.Status, "error_code", result.ErrorCode, "duration", time.Since(started))
	return nil
}

// reject completes an item that is not a valid envelope with a failed
// validation result. It never reaches a handler.
func (w *Worker) reject(ctx context.Context, d *queue.Delivery) {
	started := time.Now()
	job := Job{ID: d.Envelope.ID, Queue: w.source.Name(), Name: d.Envelope.Name}
	result := domain.Failed(domain.NewValidationError("envelope", d.Malformed.Error()))

	w.queueError("decode")
	w.record(ctx, job, result, started)
	if err := w.source.Complete(ctx, d, result); err != nil {
		w.queueError("complete")
		w.logger.Error("failed to store job result", "job_id", job.ID, "error", err)
	}
	w.logger.Error("rejected malformed job", "job_id", job.ID, "error", d.Malformed)
}

func (w *Worker) record(ctx context.Context, job Job, result domain.Result, started time.Time) {
	if w.history == nil {
		return
	}
	rec := domain.NewJobRecord(job.ID, job.Queue, job.Name, projectIDOf(job.Data), result, started)
	if err := w.history.RecordJob(ctx, rec); err != nil {
		w.logger.Error("failed to record job", "job_id", job.ID, "error", err)
	}
}

func (w *Worker) queueError(op string) {
	if w.metrics != nil {
		w.metrics.QueueError(w.source.Name(), op)
	}
}

// projectIDOf finds the project id in any payload shape, 0 when there is
// none.
func projectIDOf(data json.RawMessage) int {
	var shape struct {
		Proyect *struct {
			ID domain.FlexInt `json:"id"`
		} `json:"proyect"`
		Project *struct {
			ID domain.FlexInt `json:"id"`
		} `json:"project"`
		ID domain.FlexInt `json:"id"`
	}
	if err := json.Unmarshal(data, &shape); err != nil {
		return 0
	}
	switch {
	case shape.Proyect != nil:
		return shape.Proyect.ID.Int()
	case shape.Project != nil:
		return shape.Project.ID.Int()
	default:
		return shape.ID.Int()
	}
}

// sleep waits for d or until ctx is done; it reports whether d elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
