package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/artpar/deployer/internal/core/domain"
	"github.com/artpar/deployer/internal/shell/docker"
	"github.com/artpar/deployer/internal/shell/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Fake Source
// =============================================================================

type fakeSource struct {
	name      string
	mu        sync.Mutex
	pending   []*queue.Delivery
	completed map[string]domain.Result
	retried   []int
	recovered int
	failNext  error
}

func newFakeSource(name string) *fakeSource {
	return &fakeSource{name: name, completed: map[string]domain.Result{}}
}

func (s *fakeSource) push(id, jobName, data string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, &queue.Delivery{Envelope: &queue.Envelope{ID: id, Name: jobName, Data: json.RawMessage(data)}})
}

func (s *fakeSource) pushRaw(id, raw string, decodeErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, &queue.Delivery{Envelope: &queue.Envelope{ID: id}, Raw: raw, Malformed: decodeErr})
}

func (s *fakeSource) Name() string { return s.name }

func (s *fakeSource) Recover(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recovered++
	return 0, nil
}

func (s *fakeSource) Receive(ctx context.Context, timeout time.Duration) (*queue.Delivery, error) {
	s.mu.Lock()
	if s.failNext != nil {
		err := s.failNext
		s.failNext = nil
		s.mu.Unlock()
		return nil, err
	}
	if len(s.pending) > 0 {
		d := s.pending[0]
		s.pending = s.pending[1:]
		s.mu.Unlock()
		return d, nil
	}
	s.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(timeout):
		return nil, nil
	}
}

func (s *fakeSource) Complete(_ context.Context, d *queue.Delivery, result any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed[d.Envelope.ID] = result.(domain.Result)
	return nil
}

func (s *fakeSource) Retry(_ context.Context, d *queue.Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := *d.Envelope
	next.Attempts++
	s.retried = append(s.retried, d.Envelope.Attempts)
	s.pending = append(s.pending, &queue.Delivery{Envelope: &next})
	return nil
}

func (s *fakeSource) result(id string) (domain.Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.completed[id]
	return r, ok
}

// =============================================================================
// Fake History and Metrics
// =============================================================================

type fakeHistory struct {
	mu      sync.Mutex
	records []domain.JobRecord
}

func (h *fakeHistory) RecordJob(_ context.Context, r *domain.JobRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, *r)
	return nil
}

type fakeWorkerMetrics struct {
	mu       sync.Mutex
	statuses []string
	errors   []string
}

func (m *fakeWorkerMetrics) JobStarted(_, _ string) func(string) {
	return func(status string) {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.statuses = append(m.statuses, status)
	}
}

func (m *fakeWorkerMetrics) QueueError(_, op string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, op)
}

func testWorkerConfig() WorkerConfig {
	return WorkerConfig{
		PollTimeout: 10 * time.Millisecond,
		MaxAttempts: 3,
		RetryBase:   time.Millisecond,
		RetryMax:    5 * time.Millisecond,
	}
}

// =============================================================================
// Tests
// =============================================================================

func TestWorker_CompletesAndRecords(t *testing.T) {
	source := newFakeSource(domain.QueueDelete)
	source.push("j1", domain.JobDelete, `{"project": {"id": 42, "tipo_proyecto": "M"}}`)
	history := &fakeHistory{}
	metrics := &fakeWorkerMetrics{}
	f := newFixture(t.TempDir())

	w := NewWorker(source, f.bus, history, metrics, testWorkerConfig(), nil, discardLogger())
	w.Start()
	require.Eventually(t, func() bool {
		_, ok := source.result("j1")
		return ok
	}, time.Second, 5*time.Millisecond)
	w.Stop()

	result, _ := source.result("j1")
	assert.Equal(t, domain.StatusOK, result.Status)
	assert.Equal(t, 1, source.recovered)

	require.Len(t, history.records, 1)
	assert.Equal(t, 42, history.records[0].ProjectID)
	assert.Equal(t, domain.JobDelete, history.records[0].Name)
	assert.Equal(t, []string{domain.StatusOK}, metrics.statuses)
}

func TestWorker_FailedJobIsCompleted(t *testing.T) {
	source := newFakeSource(domain.QueueDeploy)
	source.push("bad", domain.JobDeploy, `{"proyect": {"id": 3}}`)
	f := newFixture(t.TempDir())

	w := NewWorker(source, f.bus, nil, nil, testWorkerConfig(), nil, discardLogger())
	w.Start()
	require.Eventually(t, func() bool {
		_, ok := source.result("bad")
		return ok
	}, time.Second, 5*time.Millisecond)
	w.Stop()

	result, _ := source.result("bad")
	assert.Equal(t, domain.StatusError, result.Status)
	assert.Equal(t, "ErrorCode-001", result.ErrorCode)
	assert.Empty(t, source.retried)
}

func TestWorker_MalformedEnvelopeGetsFailedResult(t *testing.T) {
	source := newFakeSource(domain.QueueDelete)
	source.pushRaw("m1", "not json", fmt.Errorf("%w: invalid character 'o'", queue.ErrMalformedEnvelope))
	source.push("j2", domain.JobDelete, `{"project": {"id": 42, "tipo_proyecto": "M"}}`)
	history := &fakeHistory{}
	metrics := &fakeWorkerMetrics{}
	f := newFixture(t.TempDir())

	w := NewWorker(source, f.bus, history, metrics, testWorkerConfig(), nil, discardLogger())
	w.Start()
	require.Eventually(t, func() bool {
		_, ok := source.result("j2")
		return ok
	}, time.Second, 5*time.Millisecond)
	w.Stop()

	result, ok := source.result("m1")
	require.True(t, ok, "a malformed item must be answered")
	assert.Equal(t, domain.StatusError, result.Status)
	assert.Equal(t, "ErrorCode-001", result.ErrorCode)
	assert.Contains(t, result.Message, "malformed job envelope")

	next, _ := source.result("j2")
	assert.Equal(t, domain.StatusOK, next.Status, "the worker keeps consuming")

	history.mu.Lock()
	defer history.mu.Unlock()
	require.Len(t, history.records, 2)
	assert.Equal(t, "m1", history.records[0].ID)
	assert.Equal(t, domain.StatusError, history.records[0].Status)

	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	assert.Equal(t, []string{"decode"}, metrics.errors)
}

func TestWorker_RetriesRetryableErrors(t *testing.T) {
	source := newFakeSource("q")
	source.push("r1", "flaky", `{}`)
	bus := NewBus(discardLogger())
	var mu sync.Mutex
	calls := 0
	bus.Register("q", "flaky", func(context.Context, Job) (domain.Result, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			err := domain.NewExternalCommandError(domain.OpRun, "docker run", "", docker.ErrPortAlreadyAllocated)
			return domain.Failed(err), err
		}
		return domain.OK("second time lucky"), nil
	})

	w := NewWorker(source, bus, nil, nil, testWorkerConfig(), nil, discardLogger())
	w.Start()
	require.Eventually(t, func() bool {
		_, ok := source.result("r1")
		return ok
	}, time.Second, 5*time.Millisecond)
	w.Stop()

	result, _ := source.result("r1")
	assert.Equal(t, "second time lucky", result.Message)
	assert.Equal(t, []int{0}, source.retried)
}

func TestWorker_RetryStopsAtMaxAttempts(t *testing.T) {
	source := newFakeSource("q")
	source.push("r2", "flaky", `{}`)
	bus := NewBus(discardLogger())
	bus.Register("q", "flaky", func(context.Context, Job) (domain.Result, error) {
		err := domain.NewExternalCommandError(domain.OpRun, "docker run", "", docker.ErrPortAlreadyAllocated)
		return domain.Failed(err), err
	})

	config := testWorkerConfig()
	config.MaxAttempts = 2
	w := NewWorker(source, bus, nil, nil, config, nil, discardLogger())
	w.Start()
	require.Eventually(t, func() bool {
		_, ok := source.result("r2")
		return ok
	}, time.Second, 5*time.Millisecond)
	w.Stop()

	result, _ := source.result("r2")
	assert.Equal(t, domain.StatusError, result.Status)
	assert.Equal(t, []int{0}, source.retried)
}

func TestWorker_FatalErrorStopsWithoutCompleting(t *testing.T) {
	source := newFakeSource(domain.QueueDeploy)
	source.push("fatal", domain.JobDeploy, singleDeploy)
	source.push("after", domain.JobDeploy, singleDeploy)
	f := newFixture(t.TempDir())
	f.router.err = domain.NewProxyReloadFatalError("reload", "", errors.New("exit status 1"))

	fatal := make(chan error, 1)
	w := NewWorker(source, f.bus, nil, nil, testWorkerConfig(), func(err error) { fatal <- err }, discardLogger())
	w.Start()

	select {
	case err := <-fatal:
		assert.True(t, domain.IsFatal(err))
	case <-time.After(2 * time.Second):
		t.Fatal("fatal error not reported")
	}
	w.Stop()

	_, ok := source.result("fatal")
	assert.False(t, ok, "a fatal job stays unacknowledged for redelivery")
	_, ok = source.result("after")
	assert.False(t, ok, "no job runs after a fatal error")
}

func TestWorker_BacksOffOnTransportErrors(t *testing.T) {
	source := newFakeSource("q")
	source.failNext = errors.New("connection refused")
	source.push("j", "ok", `{}`)
	bus := NewBus(discardLogger())
	bus.Register("q", "ok", func(context.Context, Job) (domain.Result, error) {
		return domain.OK("fine"), nil
	})
	metrics := &fakeWorkerMetrics{}

	w := NewWorker(source, bus, nil, metrics, testWorkerConfig(), nil, discardLogger())
	w.Start()
	require.Eventually(t, func() bool {
		_, ok := source.result("j")
		return ok
	}, time.Second, 5*time.Millisecond)
	w.Stop()

	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	assert.Equal(t, []string{"receive"}, metrics.errors)
}

func TestProjectIDOf(t *testing.T) {
	tests := []struct {
		data string
		want int
	}{
		{`{"proyect": {"id": 42}}`, 42},
		{`{"project": {"id": "7"}}`, 7},
		{`{"id": 9, "tipo_proyecto": "M"}`, 9},
		{`{"limit": 3}`, 0},
		{`not json`, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, projectIDOf(json.RawMessage(tt.data)), tt.data)
	}
}
