package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/artpar/deployer/internal/core/domain"
)

// Job is one unit of work taken from a queue.
type Job struct {
	ID       string
	Queue    string
	Name     string
	Data     json.RawMessage
	Attempts int
}

// Decode unmarshals the job payload into v. A payload that does not parse is
// a validation error.
func (j Job) Decode(v any) error {
	if len(j.Data) == 0 {
		return domain.NewValidationError("data", "job payload is empty")
	}
	if err := json.Unmarshal(j.Data, v); err != nil {
		return domain.NewValidationError("data", fmt.Sprintf("malformed %s payload: %v", j.Name, err))
	}
	return nil
}

// Handler processes one job. A non-nil error means the returned result is a
// failure; the error is kept for classification (fatal, retryable).
type Handler func(ctx context.Context, job Job) (domain.Result, error)

// Bus dispatches jobs to the handler registered for their queue and name.
type Bus struct {
	handlers map[string]Handler
	queues   []string
	logger   *slog.Logger
	mu       sync.RWMutex
}

// NewBus creates a new job bus.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		handlers: make(map[string]Handler),
		logger:   logger.With("component", "bus"),
	}
}

func busKey(queue, name string) string {
	return queue + "/" + name
}

// Register registers a handler for a job name on a queue.
func (b *Bus) Register(queue, name string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[busKey(queue, name)] = handler
	for _, q := range b.queues {
		if q == queue {
			return
		}
	}
	b.queues = append(b.queues, queue)
}

// Queues returns the queues with at least one handler, in registration
// order.
func (b *Bus) Queues() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]string(nil), b.queues...)
}

// Dispatch runs the handler of a job. A job without a handler fails with a
// validation error.
func (b *Bus) Dispatch(ctx context.Context, job Job) (domain.Result, error) {
	b.mu.RLock()
	handler, ok := b.handlers[busKey(job.Queue, job.Name)]
	b.mu.RUnlock()

	if !ok {
		err := domain.NewValidationError("name", fmt.Sprintf("no handler for job %q on queue %q", job.Name, job.Queue))
		b.logger.Warn("no handler registered for job", "queue", job.Queue, "job", job.Name)
		return domain.Failed(err), err
	}

	b.logger.Debug("dispatching job", "queue", job.Queue, "job", job.Name, "job_id", job.ID)
	result, err := handler(ctx, job)
	if err != nil {
		b.logger.Error("job failed", "queue", job.Queue, "job", job.Name, "job_id", job.ID, "error_code", domain.ErrorCode(err), "error", err)
		if result.Status == "" {
			result = domain.Failed(err)
		}
	}
	return result, err
}
