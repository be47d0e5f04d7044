package compose

import (
	"fmt"
	"strings"

	"github.com/artpar/deployer/internal/core/deployment"
	"github.com/artpar/deployer/internal/core/domain"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// Two-Service Composition
// =============================================================================

const (
	FrontendService = "frontend"
	BackendService  = "backend"
	DefaultNetwork  = "default"
)

// Params describes the composition of a split project.
type Params struct {
	ProjectID     int
	Port          int // frontend port; the backend gets Port+1
	FrontendEnv   map[string]string
	BackendEnv    map[string]string
	SharedNetwork string // external network shared with the database engines
}

func (p Params) validate() error {
	if p.ProjectID <= 0 {
		return NewParseError("project_id", "project id is required", ErrInvalidParams)
	}
	if p.Port <= 0 || p.Port >= 65535 {
		return NewParseError("port", fmt.Sprintf("invalid port %d", p.Port), ErrInvalidParams)
	}
	if p.SharedNetwork == "" || p.SharedNetwork == DefaultNetwork {
		return NewParseError("networks", "a named shared network is required", ErrInvalidParams)
	}
	return nil
}

// Build assembles the composition: frontend depends on backend, both on the
// project's default bridge, the backend additionally on the shared network.
func Build(p Params) (File, error) {
	if err := p.validate(); err != nil {
		return File{}, err
	}

	frontPort := deployment.RepositoryPort(p.Port, domain.RoleFrontend)
	backPort := deployment.RepositoryPort(p.Port, domain.RoleBackend)

	return File{
		Services: map[string]FileService{
			FrontendService: {
				Build:         FileBuild{Context: "./" + domain.RoleFrontend.Folder(), Dockerfile: "Dockerfile"},
				ContainerName: deployment.FrontendName(p.ProjectID),
				Ports:         []string{fmt.Sprintf("%d:%d", frontPort, frontPort)},
				DependsOn:     []string{BackendService},
				Environment:   environment(p.FrontendEnv),
				Networks:      []string{DefaultNetwork},
			},
			BackendService: {
				Build:         FileBuild{Context: "./" + domain.RoleBackend.Folder(), Dockerfile: "Dockerfile"},
				ContainerName: deployment.BackendName(p.ProjectID),
				Ports:         []string{fmt.Sprintf("%d:%d", backPort, backPort)},
				Environment:   environment(p.BackendEnv),
				Networks:      []string{DefaultNetwork, p.SharedNetwork},
			},
		},
		Networks: map[string]FileNetwork{
			DefaultNetwork:  {Driver: "bridge"},
			p.SharedNetwork: {External: true},
		},
	}, nil
}

// environment renders sorted KEY=VALUE entries. "$" is doubled so compose
// does not interpolate values.
func environment(vars map[string]string) []string {
	list := deployment.EnvList(vars)
	for i, entry := range list {
		list[i] = strings.ReplaceAll(entry, "$", "$$")
	}
	return list
}

// Render builds the composition and marshals it to YAML.
func Render(p Params) (string, error) {
	file, err := Build(p)
	if err != nil {
		return "", err
	}
	out, err := yaml.Marshal(file)
	if err != nil {
		return "", fmt.Errorf("marshal composition: %w", err)
	}
	return string(out), nil
}

// Validate parses rendered YAML with compose-go and checks it still has the
// shape Build produces.
func Validate(yamlContent string, p Params) (*ParsedSpec, error) {
	spec, err := ParseComposeSpec(yamlContent)
	if err != nil {
		return nil, err
	}

	front, ok := spec.Service(FrontendService)
	if !ok {
		return nil, NewParseError("services."+FrontendService, "frontend service is missing", ErrMissingService)
	}
	back, ok := spec.Service(BackendService)
	if !ok {
		return nil, NewParseError("services."+BackendService, "backend service is missing", ErrMissingService)
	}
	if len(spec.Services) != 2 {
		return nil, NewParseError("services", fmt.Sprintf("expected 2 services, got %d", len(spec.Services)), ErrInvalidParams)
	}
	if !contains(front.DependsOn, BackendService) {
		return nil, NewParseError("services.frontend.depends_on", "frontend must depend on backend", ErrMissingDepends)
	}
	if !contains(back.Networks, p.SharedNetwork) {
		return nil, NewParseError("services.backend.networks", "backend must join "+p.SharedNetwork, ErrExternalNetwork)
	}
	if net, ok := spec.Network(p.SharedNetwork); !ok || !net.External {
		return nil, NewParseError("networks."+p.SharedNetwork, "shared network must be external", ErrExternalNetwork)
	}
	return spec, nil
}

// RenderValidated renders the composition and validates the result.
func RenderValidated(p Params) (string, error) {
	content, err := Render(p)
	if err != nil {
		return "", err
	}
	if _, err := Validate(content, p); err != nil {
		return "", err
	}
	return content, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
