package compose

// =============================================================================
// ParsedSpec - Validation Output
// =============================================================================

// ParsedSpec is the validated view of a composition file, decoupled from
// compose-go types.
type ParsedSpec struct {
	Services []Service `json:"services"`
	Networks []Network `json:"networks,omitempty"`
}

// Service returns the named service.
func (s *ParsedSpec) Service(name string) (Service, bool) {
	for _, svc := range s.Services {
		if svc.Name == name {
			return svc, true
		}
	}
	return Service{}, false
}

// Network returns the named network.
func (s *ParsedSpec) Network(name string) (Network, bool) {
	for _, n := range s.Networks {
		if n.Name == name {
			return n, true
		}
	}
	return Network{}, false
}

// Service represents a single service definition.
type Service struct {
	Name          string            `json:"name"`
	ContainerName string            `json:"container_name,omitempty"`
	Image         string            `json:"image,omitempty"`
	Build         *BuildConfig      `json:"build,omitempty"`
	Ports         []Port            `json:"ports,omitempty"`
	Environment   map[string]string `json:"environment,omitempty"`
	Networks      []string          `json:"networks,omitempty"`
	DependsOn     []string          `json:"depends_on,omitempty"`
}

// BuildConfig represents build configuration.
type BuildConfig struct {
	Context    string `json:"context"`
	Dockerfile string `json:"dockerfile,omitempty"`
}

// Port represents a port mapping.
type Port struct {
	Target    uint32 `json:"target"`              // Container port
	Published uint32 `json:"published,omitempty"` // Host port
	Protocol  string `json:"protocol,omitempty"`
}

// Network represents a network definition.
type Network struct {
	Name     string `json:"name"`
	Driver   string `json:"driver,omitempty"`
	External bool   `json:"external"`
}

// =============================================================================
// File - Render Input
// =============================================================================

// File is the YAML document written to docker-compose.yml.
type File struct {
	Services map[string]FileService `yaml:"services"`
	Networks map[string]FileNetwork `yaml:"networks,omitempty"`
}

// FileService is one service entry of File.
type FileService struct {
	Build         FileBuild `yaml:"build"`
	ContainerName string    `yaml:"container_name"`
	Ports         []string  `yaml:"ports,omitempty"`
	DependsOn     []string  `yaml:"depends_on,omitempty"`
	Environment   []string  `yaml:"environment,omitempty"`
	Networks      []string  `yaml:"networks,omitempty"`
}

// FileBuild is the build section of a FileService.
type FileBuild struct {
	Context    string `yaml:"context"`
	Dockerfile string `yaml:"dockerfile"`
}

// FileNetwork is one network entry of File.
type FileNetwork struct {
	Driver   string `yaml:"driver,omitempty"`
	External bool   `yaml:"external,omitempty"`
}
