// Package api provides the operations HTTP surface of the deployer worker.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/artpar/deployer/internal/core/domain"
	apimw "github.com/artpar/deployer/internal/shell/api/middleware"
	"github.com/artpar/deployer/internal/shell/queue"
	"github.com/artpar/deployer/internal/shell/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// =============================================================================
// Collaborators
// =============================================================================

// Ports lists free host ports.
type Ports interface {
	Available(ctx context.Context, limit int) ([]int, error)
}

// Logs reads the recent output of a container.
type Logs interface {
	TailLogs(ctx context.Context, name string) (string, error)
}

// Queue is the read side of one job queue.
type Queue interface {
	Name() string
	Depth(ctx context.Context) (waiting, active int64, err error)
	Result(ctx context.Context, jobID string) (json.RawMessage, error)
}

// Checker reports whether a dependency is reachable.
type Checker func(ctx context.Context) error

// Locks is the per-project job lock shared with the queue workers.
type Locks interface {
	Held(projectID int) bool
	TryLock(projectID int) (unlock func(), ok bool)
}

// errPruneActive is returned by the prune transaction for a record that still
// describes a live project.
var errPruneActive = errors.New("deployment is not deleted")

// Options configures a Handler.
type Options struct {
	Store   store.Store
	Ports   Ports
	Logs    Logs
	Queues  []Queue
	Checks  map[string]Checker
	Locks   Locks
	// Recheck runs one health check cycle; POST /health/check is served
	// when set.
	Recheck func(ctx context.Context)
	Metrics apimw.RequestObserver
	// MetricsHandler serves /metrics when set.
	MetricsHandler http.Handler
	// Token protects every route except the probes and /metrics when set.
	Token string
}

// =============================================================================
// Handler
// =============================================================================

// Handler provides HTTP handlers for the operations surface.
type Handler struct {
	opts   Options
	queues map[string]Queue
	logger *slog.Logger
}

// NewHandler creates a new API handler.
func NewHandler(opts Options, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	queues := make(map[string]Queue, len(opts.Queues))
	for _, q := range opts.Queues {
		queues[q.Name()] = q
	}
	return &Handler{
		opts:   opts,
		queues: queues,
		logger: logger.With("component", "api"),
	}
}

// Routes returns the router with all routes configured.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(h.requestIDHeader)
	if h.opts.Metrics != nil {
		r.Use(apimw.Instrument(h.opts.Metrics))
	}

	r.Get("/healthz", h.handleHealth)
	r.Get("/readyz", h.handleReady)
	if h.opts.MetricsHandler != nil {
		r.Handle("/metrics", h.opts.MetricsHandler)
	}

	r.Group(func(r chi.Router) {
		r.Use(apimw.RequireToken(h.opts.Token, h.logger))
		r.Use(jsonContentType)

		if h.opts.Recheck != nil {
			r.Post("/health/check", h.handleRecheck)
		}
		r.Get("/ports", h.handlePorts)
		r.Get("/queues", h.handleQueues)
		r.Get("/queues/{queue}/jobs/{id}", h.handleJobResult)

		r.Route("/deployments", func(r chi.Router) {
			r.Get("/", h.handleListDeployments)
			r.Get("/{id}", h.handleGetDeployment)
			r.Delete("/{id}", h.handlePruneDeployment)
			r.Get("/{id}/logs", h.handleDeploymentLogs)
			r.Get("/{id}/jobs", h.handleDeploymentJobs)
		})
	})

	return r
}

// =============================================================================
// Middleware
// =============================================================================

func jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// requestIDHeader copies the request ID to the response header.
func (h *Handler) requestIDHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if reqID := middleware.GetReqID(r.Context()); reqID != "" {
			w.Header().Set("X-Request-ID", reqID)
		}
		next.ServeHTTP(w, r)
	})
}

// =============================================================================
// Health Handlers
// =============================================================================

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	h.writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy"})
}

func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	checks := make(map[string]string, len(h.opts.Checks))
	ready := true
	for name, check := range h.opts.Checks {
		if err := check(r.Context()); err != nil {
			h.logger.Warn("readiness check failed", "check", name, "error", err)
			checks[name] = "failed"
			ready = false
			continue
		}
		checks[name] = "ok"
	}

	if !ready {
		h.writeJSON(w, http.StatusServiceUnavailable, ReadyResponse{Status: "not_ready", Checks: checks})
		return
	}
	h.writeJSON(w, http.StatusOK, ReadyResponse{Status: "ready", Checks: checks})
}

// handleRecheck runs a health check cycle and waits for it.
func (h *Handler) handleRecheck(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	h.opts.Recheck(r.Context())
	h.writeJSON(w, http.StatusOK, RecheckResponse{Status: "checked", Duration: time.Since(started).String()})
}

// =============================================================================
// Ports and Queues
// =============================================================================

func (h *Handler) handlePorts(w http.ResponseWriter, r *http.Request) {
	limit, ok := h.intQuery(w, r, "limit", 0)
	if !ok {
		return
	}
	ports, err := h.opts.Ports.Available(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list ports", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to list ports", domain.ErrorCode(err))
		return
	}
	h.writeJSON(w, http.StatusOK, PortsResponse{Ports: nonNilInts(ports)})
}

func (h *Handler) handleQueues(w http.ResponseWriter, r *http.Request) {
	resp := make([]QueueResponse, 0, len(h.opts.Queues))
	for _, q := range h.opts.Queues {
		waiting, active, err := q.Depth(r.Context())
		if err != nil {
			h.logger.Error("failed to read queue depth", "queue", q.Name(), "error", err)
			h.writeError(w, http.StatusServiceUnavailable, "queue transport unavailable", "queue_error")
			return
		}
		resp = append(resp, QueueResponse{Name: q.Name(), Waiting: waiting, Active: active})
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleJobResult(w http.ResponseWriter, r *http.Request) {
	q, ok := h.queues[chi.URLParam(r, "queue")]
	if !ok {
		h.writeError(w, http.StatusNotFound, "unknown queue", "not_found")
		return
	}

	raw, err := q.Result(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, queue.ErrResultNotFound) {
		h.writeError(w, http.StatusNotFound, "result not found", "not_found")
		return
	}
	if err != nil {
		h.logger.Error("failed to read job result", "queue", q.Name(), "error", err)
		h.writeError(w, http.StatusServiceUnavailable, "queue transport unavailable", "queue_error")
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

// =============================================================================
// Deployment Handlers
// =============================================================================

func (h *Handler) handleListDeployments(w http.ResponseWriter, r *http.Request) {
	opts, ok := h.listOptions(w, r)
	if !ok {
		return
	}

	var (
		deployments []domain.Deployment
		err         error
	)
	if status := r.URL.Query().Get("status"); status != "" {
		deployments, err = h.opts.Store.ListDeploymentsByStatus(r.Context(), domain.DeploymentStatus(status), opts)
	} else {
		deployments, err = h.opts.Store.ListDeployments(r.Context(), opts)
	}
	if err != nil {
		h.logger.Error("failed to list deployments", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to list deployments", "internal_error")
		return
	}
	if deployments == nil {
		deployments = []domain.Deployment{}
	}
	h.writeJSON(w, http.StatusOK, deployments)
}

func (h *Handler) handleGetDeployment(w http.ResponseWriter, r *http.Request) {
	d, ok := h.loadDeployment(w, r)
	if !ok {
		return
	}
	resp := DeploymentResponse{Deployment: *d}
	if h.opts.Locks != nil {
		resp.JobInFlight = h.opts.Locks.Held(d.ProjectID)
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// handlePruneDeployment removes the record of a deleted project. Records of
// live projects, or of projects with a job in flight, are kept.
func (h *Handler) handlePruneDeployment(w http.ResponseWriter, r *http.Request) {
	projectID, ok := h.projectID(w, r)
	if !ok {
		return
	}

	if h.opts.Locks != nil {
		unlock, ok := h.opts.Locks.TryLock(projectID)
		if !ok {
			h.writeError(w, http.StatusConflict, "a job is in flight for this project", "conflict")
			return
		}
		defer unlock()
	}

	err := h.opts.Store.WithTx(r.Context(), func(tx store.Store) error {
		d, err := tx.GetDeployment(r.Context(), projectID)
		if err != nil {
			return err
		}
		if d.Status != domain.StatusDeleted {
			return errPruneActive
		}
		return tx.DeleteDeployment(r.Context(), projectID)
	})
	switch {
	case err == nil:
		h.logger.Info("deployment record pruned", "project_id", projectID)
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, store.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "deployment not found", "not_found")
	case errors.Is(err, errPruneActive):
		h.writeError(w, http.StatusConflict, "only deleted deployments can be pruned", "conflict")
	default:
		h.logger.Error("failed to prune deployment", "project_id", projectID, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to prune deployment", "internal_error")
	}
}

func (h *Handler) handleDeploymentLogs(w http.ResponseWriter, r *http.Request) {
	d, ok := h.loadDeployment(w, r)
	if !ok {
		return
	}

	units := d.Units
	if unit := r.URL.Query().Get("unit"); unit != "" {
		if !contains(d.Units, unit) {
			h.writeError(w, http.StatusNotFound, "unit not found", "not_found")
			return
		}
		units = []string{unit}
	}

	resp := LogsResponse{ProjectID: d.ProjectID, Logs: make(map[string]string, len(units))}
	for _, unit := range units {
		out, err := h.opts.Logs.TailLogs(r.Context(), unit)
		if err != nil {
			h.logger.Warn("failed to read logs", "project_id", d.ProjectID, "unit", unit, "error", err)
			resp.Errors = append(resp.Errors, unit+": "+err.Error())
			continue
		}
		resp.Logs[unit] = out
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleDeploymentJobs(w http.ResponseWriter, r *http.Request) {
	projectID, ok := h.projectID(w, r)
	if !ok {
		return
	}
	opts, ok := h.listOptions(w, r)
	if !ok {
		return
	}

	jobs, err := h.opts.Store.ListJobs(r.Context(), projectID, opts)
	if err != nil {
		h.logger.Error("failed to list jobs", "project_id", projectID, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to list jobs", "internal_error")
		return
	}
	if jobs == nil {
		jobs = []domain.JobRecord{}
	}
	h.writeJSON(w, http.StatusOK, jobs)
}

// =============================================================================
// Helpers
// =============================================================================

func (h *Handler) loadDeployment(w http.ResponseWriter, r *http.Request) (*domain.Deployment, bool) {
	projectID, ok := h.projectID(w, r)
	if !ok {
		return nil, false
	}

	d, err := h.opts.Store.GetDeployment(r.Context(), projectID)
	if errors.Is(err, store.ErrNotFound) {
		h.writeError(w, http.StatusNotFound, "deployment not found", "not_found")
		return nil, false
	}
	if err != nil {
		h.logger.Error("failed to get deployment", "project_id", projectID, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to get deployment", "internal_error")
		return nil, false
	}
	return d, true
}

func (h *Handler) projectID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id <= 0 {
		h.writeError(w, http.StatusBadRequest, "project id must be a positive integer", "validation_error")
		return 0, false
	}
	return id, true
}

func (h *Handler) listOptions(w http.ResponseWriter, r *http.Request) (store.ListOptions, bool) {
	opts := store.DefaultListOptions()
	limit, ok := h.intQuery(w, r, "limit", opts.Limit)
	if !ok {
		return opts, false
	}
	offset, ok := h.intQuery(w, r, "offset", 0)
	if !ok {
		return opts, false
	}
	opts.Limit = limit
	opts.Offset = offset
	return opts.Normalize(), true
}

func (h *Handler) intQuery(w http.ResponseWriter, r *http.Request, key string, def int) (int, bool) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		h.writeError(w, http.StatusBadRequest, key+" must be a non-negative integer", "validation_error")
		return 0, false
	}
	return v, true
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode JSON", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message, code string) {
	h.writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func nonNilInts(v []int) []int {
	if v == nil {
		return []int{}
	}
	return v
}
