// Package database keeps the shared database engine containers running and
// creates or drops tenants inside them.
package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	coredb "github.com/artpar/deployer/internal/core/database"
	"github.com/artpar/deployer/internal/core/deployment"
	"github.com/artpar/deployer/internal/core/domain"
	"github.com/artpar/deployer/internal/shell/docker"
)

// =============================================================================
// Configuration
// =============================================================================

// EngineConfig describes one long-lived engine container.
type EngineConfig struct {
	Kind          domain.EngineKind
	ContainerName string
	Image         string
	Port          int
	Volume        string
	Admin         coredb.Admin
}

// Config is the configuration of a Provisioner.
type Config struct {
	Network      string
	PublicHost   string // host written into connection URIs
	SQLCode      string // wire discriminator of the relational engine
	DocumentCode string
	SQL          EngineConfig
	Document     EngineConfig
}

// =============================================================================
// Provisioner
// =============================================================================

// Provisioner manages engine containers and their tenants.
type Provisioner struct {
	docker docker.Client
	config Config
	logger *slog.Logger
}

// NewProvisioner creates a new Provisioner.
func NewProvisioner(cli docker.Client, config Config, logger *slog.Logger) *Provisioner {
	if logger == nil {
		logger = slog.Default()
	}
	config.SQL.Kind = domain.EngineSQL
	config.Document.Kind = domain.EngineDocument
	if config.SQL.Admin.Port == 0 {
		config.SQL.Admin.Port = config.SQL.Port
	}
	if config.Document.Admin.Port == 0 {
		config.Document.Admin.Port = config.Document.Port
	}
	return &Provisioner{
		docker: cli,
		config: config,
		logger: logger.With("component", "database"),
	}
}

// Engine returns the configuration of the engine serving kind.
func (p *Provisioner) Engine(kind domain.EngineKind) EngineConfig {
	if kind == domain.EngineSQL {
		return p.config.SQL
	}
	return p.config.Document
}

// ResolveKind picks the engine of a job. An explicit discriminator wins;
// without one the engine whose container name matches is used, falling back
// to the relational engine.
func (p *Provisioner) ResolveKind(code, containerName string) domain.EngineKind {
	if strings.TrimSpace(code) != "" {
		return domain.ParseEngineKind(code, p.config.SQLCode)
	}
	if containerName != "" && containerName == p.config.Document.ContainerName {
		return domain.EngineDocument
	}
	return domain.EngineSQL
}

// KindOf resolves the engine of a project database.
func (p *Provisioner) KindOf(db domain.Database) domain.EngineKind {
	return p.ResolveKind(db.KindCode, "")
}

// ProjectEnv returns the connection fields injected into a project's
// repositories. The host is the engine container name on the shared network.
func (p *Provisioner) ProjectEnv(db domain.Database) *deployment.DatabaseEnv {
	engine := p.Engine(p.KindOf(db))
	return &deployment.DatabaseEnv{
		Name:     db.Name,
		Host:     engine.ContainerName,
		Port:     engine.Port,
		User:     db.User,
		Password: db.Password,
	}
}

// =============================================================================
// Engines
// =============================================================================

// EnsureEngines makes sure the shared network and both engines are up.
func (p *Provisioner) EnsureEngines(ctx context.Context) error {
	if err := p.docker.EnsureNetwork(ctx, p.config.Network); err != nil {
		return domain.NewExternalCommandError(domain.OpEngine, "docker network create "+p.config.Network, "", err)
	}
	for _, engine := range []EngineConfig{p.config.SQL, p.config.Document} {
		if engine.ContainerName == "" {
			continue
		}
		if err := p.EnsureEngine(ctx, engine); err != nil {
			return err
		}
	}
	return nil
}

// EnsureEngine brings an engine container to running. Exactly one branch
// runs: running is left alone, stopped is started, missing is created.
func (p *Provisioner) EnsureEngine(ctx context.Context, engine EngineConfig) error {
	logger := p.logger.With("engine", engine.ContainerName)

	info, err := p.docker.InspectContainer(ctx, engine.ContainerName)
	switch {
	case err == nil && info.Running():
		logger.Debug("engine already running")
		return nil

	case err == nil:
		if err := p.docker.StartContainer(ctx, engine.ContainerName); err != nil && !errors.Is(err, docker.ErrContainerAlreadyRunning) {
			return domain.NewExternalCommandError(domain.OpEngine, "docker start "+engine.ContainerName, "", err)
		}
		logger.Info("engine started", "previous_status", info.Status)
		return nil

	case docker.IsNotFound(err):
		return p.createEngine(ctx, engine, logger)

	default:
		return domain.NewExternalCommandError(domain.OpEngine, "docker inspect "+engine.ContainerName, "", err)
	}
}

func (p *Provisioner) createEngine(ctx context.Context, engine EngineConfig, logger *slog.Logger) error {
	spec := docker.ContainerSpec{
		Name:    engine.ContainerName,
		Image:   engine.Image,
		Command: []string{"--port=" + strconv.Itoa(engine.Port)},
		Env:     coredb.InitEnv(engine.Kind, engine.Admin),
		Labels:  map[string]string{docker.LabelManaged: "true", docker.LabelRole: string(engine.Kind)},
		Ports:   []docker.PortBinding{{ContainerPort: engine.Port, HostPort: engine.Port}},
		Network: p.config.Network,
		Volumes: []docker.VolumeMount{{
			Source: engine.Volume,
			Target: coredb.DataDir(engine.Kind),
		}},
		RestartPolicy: "unless-stopped",
	}
	command := fmt.Sprintf("docker run -d --name %s --network %s -p %d:%d -v %s:%s %s",
		spec.Name, spec.Network, engine.Port, engine.Port, engine.Volume, coredb.DataDir(engine.Kind), engine.Image)

	id, err := p.docker.CreateContainer(ctx, spec)
	if err != nil {
		return domain.NewExternalCommandError(domain.OpEngine, command, "", err)
	}
	if err := p.docker.StartContainer(ctx, id); err != nil {
		return domain.NewExternalCommandError(domain.OpEngine, command, "", err)
	}
	logger.Info("engine created", "image", engine.Image, "port", engine.Port)
	return nil
}

// =============================================================================
// Tenants
// =============================================================================

// ProvisionTenant creates a database and a user scoped to it inside the
// engine of kind, waits for the administrative command to exit and returns
// the connection URI.
func (p *Provisioner) ProvisionTenant(ctx context.Context, kind domain.EngineKind, dbName, user, password string) (string, error) {
	if err := coredb.ValidateTenant(dbName, user); err != nil {
		return "", err
	}
	if password == "" {
		return "", domain.NewValidationError("contrasenia", "password is required")
	}

	engine := p.Engine(kind)
	if err := p.exec(ctx, engine, coredb.CreateTenant(kind, engine.Admin, dbName, user, password)); err != nil {
		return "", err
	}

	p.logger.Info("tenant created", "engine", engine.ContainerName, "database", dbName, "user", user)
	return coredb.ConnectionURI(kind, p.config.PublicHost, engine.Port, dbName, user, password), nil
}

// DropTenant removes a tenant. A missing tenant or a missing engine
// container is not an error.
func (p *Provisioner) DropTenant(ctx context.Context, kind domain.EngineKind, dbName, user string) error {
	if err := coredb.ValidateTenant(dbName, user); err != nil {
		return err
	}

	engine := p.Engine(kind)
	err := p.exec(ctx, engine, coredb.DropTenant(kind, engine.Admin, dbName, user))
	if err != nil && docker.IsNotFound(err) {
		p.logger.Warn("engine container missing, nothing to drop", "engine", engine.ContainerName)
		return nil
	}
	if err != nil {
		return err
	}

	p.logger.Info("tenant dropped", "engine", engine.ContainerName, "database", dbName, "user", user)
	return nil
}

func (p *Provisioner) exec(ctx context.Context, engine EngineConfig, cmd coredb.Command) error {
	res, err := p.docker.Exec(ctx, engine.ContainerName, docker.ExecSpec{Cmd: cmd.Cmd, Env: cmd.Env})
	if err != nil {
		// Credentials are part of the argv; only the binary is reported.
		command := "docker exec " + engine.ContainerName + " " + cmd.Cmd[0]
		return domain.NewExternalCommandError(coredb.Op(engine.Kind), command, res.Output, err)
	}
	return nil
}
