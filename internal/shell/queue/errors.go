// Package queue is a reliable job queue on redis lists. Producers push onto
// a wait list; the single consumer of a queue moves one item at a time into an
// active list, stores the result and then drops the item. Items left in the
// active list by a crash are moved back on the next start, so every job is
// delivered at least once.
package queue

import (
	"errors"
	"fmt"
)

var (
	// ErrConnectionFailed is returned when redis cannot be reached.
	ErrConnectionFailed = errors.New("queue connection failed")

	// ErrMalformedEnvelope is returned for list items that are not envelopes.
	ErrMalformedEnvelope = errors.New("malformed job envelope")

	// ErrResultNotFound is returned when no result is stored for a job id.
	ErrResultNotFound = errors.New("job result not found")
)

// QueueError wraps errors with the queue and operation that failed.
type QueueError struct {
	Op    string
	Queue string
	JobID string
	Err   error
}

func (e *QueueError) Error() string {
	if e.JobID != "" {
		return fmt.Sprintf("queue %s %s job %s: %v", e.Queue, e.Op, e.JobID, e.Err)
	}
	return fmt.Sprintf("queue %s %s: %v", e.Queue, e.Op, e.Err)
}

func (e *QueueError) Unwrap() error {
	return e.Err
}

// NewQueueError creates a new QueueError.
func NewQueueError(op, queue, jobID string, err error) *QueueError {
	return &QueueError{Op: op, Queue: queue, JobID: jobID, Err: err}
}
