package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	coredb "github.com/artpar/deployer/internal/core/database"
	"github.com/artpar/deployer/internal/core/deployment"
	"github.com/artpar/deployer/internal/core/proxy"
	"github.com/artpar/deployer/internal/engine"
	"github.com/artpar/deployer/internal/shell/api"
	"github.com/artpar/deployer/internal/shell/database"
	"github.com/artpar/deployer/internal/shell/docker"
	"github.com/artpar/deployer/internal/shell/metrics"
	"github.com/artpar/deployer/internal/shell/nginx"
	"github.com/artpar/deployer/internal/shell/queue"
	"github.com/artpar/deployer/internal/shell/store"
	"github.com/artpar/deployer/internal/shell/system"
	"github.com/artpar/deployer/internal/shell/workers"
	"github.com/redis/go-redis/v9"
)

// =============================================================================
// Exit Codes
// =============================================================================

const (
	ExitSuccess         = 0
	ExitConfigError     = 1
	ExitDatabaseError   = 2
	ExitDockerError     = 3
	ExitHTTPServerError = 4
	ExitQueueError      = 5
	ExitEngineError     = 6
	// ExitProxyFatal signals that nginx rejected a generated configuration.
	// The job in flight stays unacknowledged and is redelivered on restart.
	ExitProxyFatal = 7
)

// =============================================================================
// Server
// =============================================================================

// Server represents the deployer worker process.
type Server struct {
	config        *Config
	httpServer    *http.Server
	store         store.Store
	docker        docker.Client
	redis         *redis.Client
	workers       []*engine.Worker
	healthChecker *workers.HealthChecker
	fatal         chan error
	logger        *slog.Logger
}

// NewServer connects every dependency and wires the job handlers.
func NewServer(ctx context.Context, cfg *Config, logger *slog.Logger) (*Server, error) {
	s, err := store.NewSQLiteStore(cfg.Store.DSN)
	if err != nil {
		return nil, &ServerError{Op: "NewServer", Err: err, ExitCode: ExitDatabaseError}
	}

	d, err := docker.NewDockerClient(cfg.Docker.Host)
	if err != nil {
		s.Close()
		return nil, &ServerError{Op: "NewServer", Err: err, ExitCode: ExitDockerError}
	}
	if err := d.Ping(ctx); err != nil {
		s.Close()
		d.Close()
		return nil, &ServerError{Op: "NewServer", Err: err, ExitCode: ExitDockerError}
	}

	rdb, err := queue.NewRedisClient(ctx, queue.RedisConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		s.Close()
		d.Close()
		return nil, &ServerError{Op: "NewServer", Err: err, ExitCode: ExitQueueError}
	}

	runner := system.NewExecRunner(logger)
	m := metrics.New()

	orchestrator := docker.NewOrchestrator(d, runner, docker.OrchestratorConfig{
		Network:       cfg.Docker.Network,
		WorkspaceRoot: cfg.Workspace.Root,
		LogDelay:      cfg.Worker.LogDelay,
	}, logger)

	provisioner := database.NewProvisioner(d, database.Config{
		Network:      cfg.Docker.Network,
		PublicHost:   cfg.Databases.PublicHost,
		SQLCode:      cfg.Databases.SQLCode,
		DocumentCode: cfg.Databases.DocumentCode,
		SQL:          engineConfig(cfg.Databases.MySQL),
		Document:     engineConfig(cfg.Databases.Mongo),
	}, logger)
	if cfg.Databases.Ensure {
		if err := provisioner.EnsureEngines(ctx); err != nil {
			s.Close()
			d.Close()
			rdb.Close()
			return nil, &ServerError{Op: "EnsureEngines", Err: err, ExitCode: ExitEngineError}
		}
	}

	mode := nginx.ParseMode(cfg.Proxy.Mode)
	router := nginx.NewSynthesizer(runner, nginx.Config{
		Mode:        mode,
		IncludesDir: cfg.Proxy.IncludesDir,
		AppsDir:     cfg.Proxy.AppsDir,
		Domain:      cfg.Proxy.Domain,
		TLS: proxy.TLS{
			Certificate:    cfg.Proxy.Certificate,
			CertificateKey: cfg.Proxy.CertificateKey,
			OptionsInclude: cfg.Proxy.OptionsInclude,
			DHParam:        cfg.Proxy.DHParam,
		},
		UpstreamIP:  cfg.Proxy.UpstreamIP,
		ValidateCmd: strings.Fields(cfg.Proxy.ValidateCmd),
		ReloadCmd:   strings.Fields(cfg.Proxy.ReloadCmd),
	}, logger)

	portRange := proxy.PortRange{Start: cfg.Proxy.PortRangeStart, End: cfg.Proxy.PortRangeEnd}
	ports := system.NewPortProbe(runner, portRange)
	locks := engine.NewProjectLocks()

	controller := engine.NewController(engine.Deps{
		Containers: orchestrator,
		Databases:  provisioner,
		Router:     router,
		Checkout:   system.NewGit(runner),
		Files:      system.NewWorkspace(cfg.Workspace.Root, logger),
		Ports:      ports,
		Registry:   s,
		Locks:      locks,
		Observer:   m,
	}, engine.Config{
		WorkspaceRoot: cfg.Workspace.Root,
		Host:          cfg.Workspace.Host,
		Routing: deployment.Routing{
			BaseURL:   cfg.Proxy.BaseURL,
			Domain:    cfg.Proxy.Domain,
			Subdomain: mode == nginx.ModeSubdomain,
		},
		CollectLogs: cfg.Worker.CollectLogs,
		PortsLimit:  cfg.Worker.PortsLimit,
		PortRange:   portRange,
	}, logger)

	bus := engine.NewBus(logger)
	controller.Register(bus)

	srv := &Server{
		config: cfg,
		store:  s,
		docker: d,
		redis:  rdb,
		fatal:  make(chan error, 1),
		logger: logger,
	}

	queueConfig := queue.Config{Prefix: cfg.Redis.Prefix, ResultTTL: cfg.Redis.ResultTTL}
	workerConfig := engine.WorkerConfig{
		PollTimeout: cfg.Worker.PollTimeout,
		MaxAttempts: cfg.Worker.MaxAttempts,
		RetryBase:   cfg.Worker.RetryBase,
		RetryMax:    cfg.Worker.RetryMax,
	}
	var apiQueues []api.Queue
	for _, name := range bus.Queues() {
		q := queue.New(rdb, name, queueConfig, logger)
		apiQueues = append(apiQueues, q)
		srv.workers = append(srv.workers, engine.NewWorker(q, bus, s, m, workerConfig, srv.onFatal, logger))
	}

	if cfg.Health.Enabled {
		srv.healthChecker = workers.NewHealthChecker(s, orchestrator, locks, workers.HealthCheckerConfig{
			Interval:       cfg.Health.Interval,
			ProjectTimeout: cfg.Health.Timeout,
			MaxConcurrent:  cfg.Health.MaxConcurrent,
		}, logger)
	}

	apiOpts := api.Options{
		Store:  s,
		Ports:  ports,
		Logs:   orchestrator,
		Queues: apiQueues,
		Locks:  locks,
		Checks: map[string]api.Checker{
			"store":  s.Ping,
			"docker": d.Ping,
			"redis":  func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		},
		Metrics:        m,
		MetricsHandler: m.Handler(),
		Token:          cfg.Server.Token,
	}
	if srv.healthChecker != nil {
		apiOpts.Recheck = srv.healthChecker.CheckAllNow
	}
	handler := api.NewHandler(apiOpts, logger)

	srv.httpServer = &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      handler.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return srv, nil
}

func engineConfig(c EngineConfig) database.EngineConfig {
	return database.EngineConfig{
		ContainerName: c.Container,
		Image:         c.Image,
		Port:          c.Port,
		Volume:        c.Volume,
		Admin:         coredb.Admin{User: c.AdminUser, Password: c.AdminPassword},
	}
}

// onFatal is called by a worker that stopped on a fatal job error.
func (s *Server) onFatal(err error) {
	select {
	case s.fatal <- err:
	default:
	}
}

// Start starts the workers and the HTTP server and blocks until shutdown.
func (s *Server) Start(ctx context.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	for _, w := range s.workers {
		w.Start()
	}
	if s.healthChecker != nil {
		s.healthChecker.Start()
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "address", s.config.Server.Address())
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case sig := <-sigCh:
		s.logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		s.Shutdown(context.Background())
		return &ServerError{Op: "Start", Err: err, ExitCode: ExitHTTPServerError}
	case err := <-s.fatal:
		s.logger.Error("proxy configuration rejected, exiting", "error", err)
		s.Shutdown(context.Background())
		return &ServerError{Op: "Worker", Err: err, ExitCode: ExitProxyFatal}
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown(context.Background())
}

// Shutdown stops accepting jobs, waits for running jobs and releases every
// connection.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("initiating graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.Server.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}

	// Running jobs are never interrupted; Stop waits for them.
	for _, w := range s.workers {
		w.Stop()
	}
	if s.healthChecker != nil {
		s.healthChecker.Stop()
	}

	if err := s.redis.Close(); err != nil {
		s.logger.Error("redis close error", "error", err)
	}
	if err := s.docker.Close(); err != nil {
		s.logger.Error("Docker client close error", "error", err)
	}
	if err := s.store.Close(); err != nil {
		s.logger.Error("database close error", "error", err)
	}

	s.logger.Info("shutdown complete")
	return nil
}

// =============================================================================
// Server Error
// =============================================================================

// ServerError represents an error during server operation.
type ServerError struct {
	Op       string
	Err      error
	ExitCode int
}

func (e *ServerError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *ServerError) Unwrap() error {
	return e.Err
}
