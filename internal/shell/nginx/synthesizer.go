// Package nginx writes the proxy fragments of projects and reloads nginx.
package nginx

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/artpar/deployer/internal/core/domain"
	"github.com/artpar/deployer/internal/core/proxy"
	"github.com/artpar/deployer/internal/shell/system"
)

// Mode selects how projects are addressed from the outside.
type Mode string

const (
	// ModePath routes /app{id} and /api{id} on one shared listener.
	ModePath Mode = "path"
	// ModeSubdomain gives every route its own TLS virtual host.
	ModeSubdomain Mode = "subdomain"
)

// ParseMode returns the mode named s, defaulting to ModePath.
func ParseMode(s string) Mode {
	if strings.EqualFold(strings.TrimSpace(s), string(ModeSubdomain)) {
		return ModeSubdomain
	}
	return ModePath
}

// Config is the configuration of a Synthesizer.
type Config struct {
	Mode        Mode
	IncludesDir string // path mode: one include file per project
	AppsDir     string // subdomain mode: one server block file per route
	Domain      string // subdomain mode: server_name suffix
	TLS         proxy.TLS
	UpstreamIP  string
	ValidateCmd []string
	ReloadCmd   []string
}

func (c Config) withDefaults() Config {
	if c.Mode == "" {
		c.Mode = ModePath
	}
	if c.IncludesDir == "" {
		c.IncludesDir = "/etc/nginx/includes"
	}
	if c.AppsDir == "" {
		c.AppsDir = "/etc/nginx/apps"
	}
	if c.UpstreamIP == "" {
		c.UpstreamIP = "127.0.0.1"
	}
	if len(c.ValidateCmd) == 0 {
		c.ValidateCmd = []string{"nginx", "-t"}
	}
	if len(c.ReloadCmd) == 0 {
		c.ReloadCmd = []string{"systemctl", "reload", "nginx"}
	}
	return c
}

// Synthesizer regenerates project routing and converges nginx onto it.
type Synthesizer struct {
	runner system.Runner
	config Config
	logger *slog.Logger
}

// NewSynthesizer creates a new Synthesizer.
func NewSynthesizer(runner system.Runner, config Config, logger *slog.Logger) *Synthesizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Synthesizer{
		runner: runner,
		config: config.withDefaults(),
		logger: logger.With("component", "nginx"),
	}
}

// Routes derives the routes of a project against the configured upstream IP.
func (s *Synthesizer) Routes(projectID, port int, topology domain.Topology, role domain.Role) []proxy.Route {
	return proxy.ProjectRoutes(projectID, port, topology, role, s.config.UpstreamIP)
}

// Apply replaces every fragment of the project with freshly rendered ones,
// then validates and reloads nginx. It returns the rendered configuration.
// A failed validation or reload is returned as *domain.ProxyReloadFatalError.
func (s *Synthesizer) Apply(ctx context.Context, projectID int, routes []proxy.Route) (string, error) {
	for _, r := range routes {
		if err := r.Validate(); err != nil {
			return "", domain.NewValidationError("routes", err.Error())
		}
	}

	var rendered string
	var err error
	if s.config.Mode == ModeSubdomain {
		rendered, err = s.writeServerBlocks(projectID, routes)
	} else {
		rendered, err = s.writeInclude(projectID, routes)
	}
	if err != nil {
		return "", err
	}

	if err := s.reload(ctx); err != nil {
		return "", err
	}

	s.logger.Info("routes applied", "project_id", projectID, "mode", s.config.Mode, "routes", len(routes))
	return rendered, nil
}

// Remove deletes every fragment a project may own in either mode and reloads
// nginx when something was deleted.
func (s *Synthesizer) Remove(ctx context.Context, projectID int) error {
	paths := []string{s.includePath(projectID)}
	for _, alias := range proxy.ProjectAliases(projectID) {
		paths = append(paths, filepath.Join(s.config.AppsDir, alias))
	}

	removed := 0
	for _, path := range paths {
		err := os.Remove(path)
		switch {
		case err == nil:
			removed++
		case os.IsNotExist(err):
		default:
			return domain.NewExternalCommandError(domain.OpProxy, "rm "+path, "", err)
		}
	}
	if removed == 0 {
		return nil
	}

	if err := s.reload(ctx); err != nil {
		return err
	}
	s.logger.Info("routes removed", "project_id", projectID, "files", removed)
	return nil
}

func (s *Synthesizer) includePath(projectID int) string {
	return filepath.Join(s.config.IncludesDir, strconv.Itoa(projectID))
}

func (s *Synthesizer) writeInclude(projectID int, routes []proxy.Route) (string, error) {
	content := proxy.RenderLocations(routes)
	if err := writeFile(s.includePath(projectID), content); err != nil {
		return "", err
	}
	return content, nil
}

// writeServerBlocks drops every alias the project may own before writing the
// current ones, so a project going from split to single loses its api host.
func (s *Synthesizer) writeServerBlocks(projectID int, routes []proxy.Route) (string, error) {
	for _, alias := range proxy.ProjectAliases(projectID) {
		path := filepath.Join(s.config.AppsDir, alias)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return "", domain.NewExternalCommandError(domain.OpProxy, "rm "+path, "", err)
		}
	}

	blocks := make([]string, 0, len(routes))
	for _, r := range routes {
		block := proxy.RenderServerBlock(r, s.config.Domain, s.config.TLS)
		if err := writeFile(filepath.Join(s.config.AppsDir, r.Alias), block); err != nil {
			return "", err
		}
		blocks = append(blocks, block)
	}
	return strings.Join(blocks, "\n"), nil
}

// writeFile replaces path atomically so nginx never reads a partial file.
func writeFile(path, content string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return domain.NewExternalCommandError(domain.OpProxy, "mkdir "+dir, "", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		return domain.NewExternalCommandError(domain.OpProxy, "write "+tmp, "", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return domain.NewExternalCommandError(domain.OpProxy, "rename "+tmp, "", err)
	}
	return nil
}

func (s *Synthesizer) reload(ctx context.Context) error {
	for _, step := range []struct {
		name string
		argv []string
	}{
		{"validate", s.config.ValidateCmd},
		{"reload", s.config.ReloadCmd},
	} {
		cmd := system.Cmd{Name: step.argv[0], Args: step.argv[1:]}
		if out, err := s.runner.Run(ctx, cmd); err != nil {
			s.logger.Error("nginx "+step.name+" failed", "cmd", cmd.String(), "output", out, "error", err)
			return domain.NewProxyReloadFatalError(step.name, out, fmt.Errorf("%s: %w", cmd.String(), err))
		}
	}
	return nil
}
