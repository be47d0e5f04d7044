package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/artpar/deployer/internal/core/domain"
	"github.com/artpar/deployer/internal/shell/metrics"
	"github.com/artpar/deployer/internal/shell/queue"
	"github.com/artpar/deployer/internal/shell/store"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Helpers
// =============================================================================

type stubPorts struct {
	ports []int
	err   error
}

func (p *stubPorts) Available(_ context.Context, limit int) ([]int, error) {
	if p.err != nil {
		return nil, p.err
	}
	if limit > 0 && limit < len(p.ports) {
		return p.ports[:limit], nil
	}
	return p.ports, nil
}

type stubLogs map[string]string

func (l stubLogs) TailLogs(_ context.Context, name string) (string, error) {
	out, ok := l[name]
	if !ok {
		return "", errors.New("no such container")
	}
	return out, nil
}

type stubQueue struct {
	name    string
	waiting int64
	results map[string]string
	err     error
}

func (q *stubQueue) Name() string { return q.name }

func (q *stubQueue) Depth(context.Context) (int64, int64, error) {
	return q.waiting, 0, q.err
}

func (q *stubQueue) Result(_ context.Context, id string) (json.RawMessage, error) {
	raw, ok := q.results[id]
	if !ok {
		return nil, queue.NewQueueError("result", q.name, id, queue.ErrResultNotFound)
	}
	return json.RawMessage(raw), nil
}

type stubLocks struct {
	mu   sync.Mutex
	held map[int]bool
}

func (l *stubLocks) Held(projectID int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held[projectID]
}

func (l *stubLocks) TryLock(projectID int) (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[projectID] {
		return nil, false
	}
	l.held[projectID] = true
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, projectID)
	}, true
}

type testServer struct {
	store    *store.SQLiteStore
	metrics  *metrics.Metrics
	queue    *stubQueue
	locks    *stubLocks
	rechecks int
	handler  http.Handler
}

func newTestServer(t *testing.T, token string) *testServer {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	m := metrics.New()
	q := &stubQueue{name: domain.QueueDeploy, waiting: 3, results: map[string]string{
		"job-1": `{"status":"ok","message":"deploy job received and processed"}`,
	}}

	ts := &testServer{store: s, metrics: m, queue: q, locks: &stubLocks{held: map[int]bool{}}}
	h := NewHandler(Options{
		Store:          s,
		Ports:          &stubPorts{ports: []int{9001, 9002, 9003}},
		Logs:           stubLogs{"Container-42": "listening on 10000"},
		Queues:         []Queue{q},
		Checks:         map[string]Checker{"store": s.Ping},
		Locks:          ts.locks,
		Recheck:        func(context.Context) { ts.rechecks++ },
		Metrics:        m,
		MetricsHandler: m.Handler(),
		Token:          token,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ts.handler = h.Routes()
	return ts
}

func (ts *testServer) get(t *testing.T, path string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	return ts.do(t, http.MethodGet, path, headers...)
}

func (ts *testServer) do(t *testing.T, method, path string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) seed(t *testing.T, id int, status domain.DeploymentStatus) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, ts.store.SaveDeployment(context.Background(), &domain.Deployment{
		ProjectID: id,
		Topology:  domain.TopologySingle,
		Port:      10000,
		Status:    status,
		Units:     []string{fmt.Sprintf("Container-%d", id)},
		URLs:      []string{fmt.Sprintf("https://proyectos.fireploy.online/app%d/", id)},
		CreatedAt: now,
		UpdatedAt: now,
	}))
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// =============================================================================
// Health
// =============================================================================

func TestHealth(t *testing.T) {
	ts := newTestServer(t, "")

	rec := ts.get(t, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decode[HealthResponse](t, rec).Status)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestReady(t *testing.T) {
	ts := newTestServer(t, "")

	rec := ts.get(t, "/readyz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]string{"store": "ok"}, decode[ReadyResponse](t, rec).Checks)

	require.NoError(t, ts.store.Close())
	rec = ts.get(t, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "not_ready", decode[ReadyResponse](t, rec).Status)
}

// =============================================================================
// Ports and Queues
// =============================================================================

func TestPorts(t *testing.T) {
	ts := newTestServer(t, "")

	rec := ts.get(t, "/ports?limit=2")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []int{9001, 9002}, decode[PortsResponse](t, rec).Ports)

	rec = ts.get(t, "/ports?limit=abc")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQueues(t *testing.T) {
	ts := newTestServer(t, "")

	rec := ts.get(t, "/queues")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []QueueResponse{{Name: "deploy", Waiting: 3}}, decode[[]QueueResponse](t, rec))

	ts.queue.err = errors.New("redis down")
	assert.Equal(t, http.StatusServiceUnavailable, ts.get(t, "/queues").Code)
}

func TestJobResult(t *testing.T) {
	ts := newTestServer(t, "")

	rec := ts.get(t, "/queues/deploy/jobs/job-1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.StatusOK, decode[domain.Result](t, rec).Status)

	assert.Equal(t, http.StatusNotFound, ts.get(t, "/queues/deploy/jobs/missing").Code)
	assert.Equal(t, http.StatusNotFound, ts.get(t, "/queues/nope/jobs/job-1").Code)
}

// =============================================================================
// Deployments
// =============================================================================

func TestDeployments_List(t *testing.T) {
	ts := newTestServer(t, "")

	rec := ts.get(t, "/deployments")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]domain.Deployment](t, rec))

	ts.seed(t, 42, domain.StatusRunning)
	ts.seed(t, 7, domain.StatusStopped)

	all := decode[[]domain.Deployment](t, ts.get(t, "/deployments"))
	require.Len(t, all, 2)
	assert.Equal(t, 7, all[0].ProjectID)

	running := decode[[]domain.Deployment](t, ts.get(t, "/deployments?status=running"))
	require.Len(t, running, 1)
	assert.Equal(t, 42, running[0].ProjectID)

	paged := decode[[]domain.Deployment](t, ts.get(t, "/deployments?limit=1&offset=1"))
	require.Len(t, paged, 1)
	assert.Equal(t, 42, paged[0].ProjectID)
}

func TestDeployments_Get(t *testing.T) {
	ts := newTestServer(t, "")
	ts.seed(t, 42, domain.StatusRunning)

	rec := ts.get(t, "/deployments/42")
	require.Equal(t, http.StatusOK, rec.Code)
	d := decode[DeploymentResponse](t, rec)
	assert.Equal(t, []string{"https://proyectos.fireploy.online/app42/"}, d.URLs)
	assert.False(t, d.JobInFlight)

	ts.locks.held[42] = true
	assert.True(t, decode[DeploymentResponse](t, ts.get(t, "/deployments/42")).JobInFlight)

	assert.Equal(t, http.StatusNotFound, ts.get(t, "/deployments/99").Code)
	assert.Equal(t, http.StatusBadRequest, ts.get(t, "/deployments/abc").Code)
}

func TestDeployments_Prune(t *testing.T) {
	tests := []struct {
		name     string
		seed     domain.DeploymentStatus
		held     bool
		wantCode int
		wantKept bool
	}{
		{name: "deleted record", seed: domain.StatusDeleted, wantCode: http.StatusNoContent},
		{name: "running record", seed: domain.StatusRunning, wantCode: http.StatusConflict, wantKept: true},
		{name: "job in flight", seed: domain.StatusDeleted, held: true, wantCode: http.StatusConflict, wantKept: true},
		{name: "unknown project", wantCode: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, "")
			if tt.seed != "" {
				ts.seed(t, 42, tt.seed)
			}
			ts.locks.held[42] = tt.held

			rec := ts.do(t, http.MethodDelete, "/deployments/42")
			assert.Equal(t, tt.wantCode, rec.Code, rec.Body.String())

			_, err := ts.store.GetDeployment(context.Background(), 42)
			if tt.wantKept {
				require.NoError(t, err)
			} else {
				require.ErrorIs(t, err, store.ErrNotFound)
			}
			assert.Equal(t, tt.held, ts.locks.held[42], "the lock is released after pruning")
		})
	}
}

func TestRecheck(t *testing.T) {
	ts := newTestServer(t, "")

	rec := ts.do(t, http.MethodPost, "/health/check")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "checked", decode[RecheckResponse](t, rec).Status)
	assert.Equal(t, 1, ts.rechecks)

	assert.Equal(t, http.StatusMethodNotAllowed, ts.get(t, "/health/check").Code)
}

func TestDeployments_Logs(t *testing.T) {
	ts := newTestServer(t, "")
	ts.seed(t, 42, domain.StatusRunning)
	ts.seed(t, 8, domain.StatusRunning)

	rec := ts.get(t, "/deployments/42/logs")
	require.Equal(t, http.StatusOK, rec.Code)
	logs := decode[LogsResponse](t, rec)
	assert.Equal(t, "listening on 10000", logs.Logs["Container-42"])
	assert.Empty(t, logs.Errors)

	assert.Equal(t, http.StatusNotFound, ts.get(t, "/deployments/42/logs?unit=Container-1").Code)

	logs = decode[LogsResponse](t, ts.get(t, "/deployments/8/logs"))
	assert.Empty(t, logs.Logs)
	require.Len(t, logs.Errors, 1)
	assert.Contains(t, logs.Errors[0], "Container-8")
}

func TestDeployments_Jobs(t *testing.T) {
	ts := newTestServer(t, "")
	ctx := context.Background()
	started := time.Now().Add(-time.Second)
	require.NoError(t, ts.store.RecordJob(ctx, domain.NewJobRecord("a", "deploy", "deploy", 42, domain.OK("done"), started)))
	require.NoError(t, ts.store.RecordJob(ctx, domain.NewJobRecord("b", "delete", "delete", 7, domain.OK("done"), started)))

	jobs := decode[[]domain.JobRecord](t, ts.get(t, "/deployments/42/jobs"))
	require.Len(t, jobs, 1)
	assert.Equal(t, "a", jobs[0].ID)
}

// =============================================================================
// Auth and Metrics
// =============================================================================

func TestToken(t *testing.T) {
	ts := newTestServer(t, "s3cret")

	assert.Equal(t, http.StatusUnauthorized, ts.get(t, "/deployments").Code)
	assert.Equal(t, http.StatusOK, ts.get(t, "/deployments", "X-Deployer-Token", "s3cret").Code)
	assert.Equal(t, http.StatusOK, ts.get(t, "/healthz").Code, "probes stay open")
	assert.Equal(t, http.StatusOK, ts.get(t, "/metrics").Code)
}

func TestMetrics_CountsRequests(t *testing.T) {
	ts := newTestServer(t, "")
	ts.get(t, "/healthz")
	ts.get(t, "/deployments/5")

	rec := ts.get(t, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `route="/deployments/{id}"`)
	n, err := testutil.GatherAndCount(ts.metrics.Registry(), "deployer_api_http_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}
