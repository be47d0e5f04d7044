package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// =============================================================================
// Identifiers
// =============================================================================

// FlexInt is an integer that also accepts quoted numbers on the wire.
// Queue producers are not consistent about project ids and ports.
type FlexInt int

// UnmarshalJSON accepts 42, "42" and null.
func (n *FlexInt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*n = 0
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*n = 0
			return nil
		}
		v, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("invalid integer %q", s)
		}
		*n = FlexInt(v)
		return nil
	}
	var v int
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*n = FlexInt(v)
	return nil
}

// Int returns the plain int value.
func (n FlexInt) Int() int { return int(n) }

// =============================================================================
// Topology
// =============================================================================

// Topology is the desired shape of a project's deployment unit.
type Topology string

const (
	// TopologySingle runs every repository of the project in one container.
	TopologySingle Topology = "M"
	// TopologySplit runs a frontend and a backend container under compose.
	TopologySplit Topology = "S"
)

// ParseTopology maps the wire value of tipo_proyecto to a Topology.
// "M" is single-container, every other non-empty value is split.
func ParseTopology(code string) (Topology, bool) {
	code = strings.TrimSpace(code)
	switch code {
	case "":
		return "", false
	case string(TopologySingle):
		return TopologySingle, true
	default:
		return TopologySplit, true
	}
}

// =============================================================================
// Repository Role
// =============================================================================

// Role is the part a repository plays inside a project.
type Role string

const (
	RoleFrontend Role = "F"
	RoleBackend  Role = "B"
	RoleAll      Role = "A"
)

// ParseRole maps the wire value of tipo to a Role. Unknown values are RoleAll.
func ParseRole(code string) Role {
	switch strings.ToUpper(strings.TrimSpace(code)) {
	case "F":
		return RoleFrontend
	case "B":
		return RoleBackend
	default:
		return RoleAll
	}
}

// Folder returns the working-directory folder name used for split projects.
func (r Role) Folder() string {
	switch r {
	case RoleFrontend:
		return "Frontend"
	case RoleBackend:
		return "Backend"
	default:
		return "All"
	}
}

// RoutePrefix returns the public alias prefix for the role ("api" or "app").
func (r Role) RoutePrefix() string {
	if r == RoleBackend {
		return "api"
	}
	return "app"
}

// =============================================================================
// Entities
// =============================================================================

// Project is the deployment request's top-level entity. It is read-only to the
// worker; its ID namespaces every derived artifact.
type Project struct {
	ID           FlexInt   `json:"id"`
	Port         FlexInt   `json:"puerto"`
	TopologyCode string    `json:"tipo_proyecto"`
	Database     *Database `json:"base_de_datos,omitempty"`
}

// Topology resolves the project's topology. Invalid codes report ok=false.
func (p Project) Topology() (Topology, bool) {
	return ParseTopology(p.TopologyCode)
}

// Key returns the project id as a string, used in names and paths.
func (p Project) Key() string {
	return strconv.Itoa(p.ID.Int())
}

// Repository is one source repository belonging to a project.
type Repository struct {
	ID         FlexInt `json:"id"`
	URL        string  `json:"url"`
	RoleCode   string  `json:"tipo"`
	Technology string  `json:"tecnologia"`
	Framework  string  `json:"framework"`
	Version    string  `json:"version"`
	CustomEnv  string  `json:"variables_de_entorno,omitempty"`
	Files      []File  `json:"ficheros,omitempty"`
}

// Role resolves the repository role.
func (r Repository) Role() Role {
	return ParseRole(r.RoleCode)
}

// File is an inline file payload materialized into the repository directory.
type File struct {
	Name    string `json:"nombre"`
	Content string `json:"contenido"` // base64
}

// Database describes the tenant database attached to a project.
type Database struct {
	KindCode string `json:"tipo"`
	Name     string `json:"nombre"`
	User     string `json:"usuario"`
	Password string `json:"contrasenia"`
	URI      string `json:"connection_URI,omitempty"`
}

// =============================================================================
// Database Engine Kind
// =============================================================================

// EngineKind selects the administrative dialect of a database engine.
type EngineKind string

const (
	EngineSQL      EngineKind = "sql"
	EngineDocument EngineKind = "document"
)

// ParseEngineKind resolves a wire discriminator. Only sqlCode selects the
// relational engine; any other value selects the document store.
func ParseEngineKind(code, sqlCode string) EngineKind {
	if strings.TrimSpace(code) == sqlCode {
		return EngineSQL
	}
	return EngineDocument
}

// =============================================================================
// Validation
// =============================================================================

// Validate checks the project fields every job kind needs.
func (p Project) Validate() error {
	if p.ID.Int() <= 0 {
		return NewValidationError("project.id", "project id is required")
	}
	if _, ok := p.Topology(); !ok {
		return NewValidationError("project.tipo_proyecto", "project type is required")
	}
	return nil
}

// ValidateForDeploy additionally checks the port and the database block.
func (p Project) ValidateForDeploy() error {
	if err := p.Validate(); err != nil {
		return err
	}
	if p.Port.Int() <= 0 || p.Port.Int() >= 65535 {
		return NewValidationError("project.puerto", fmt.Sprintf("invalid project port %d", p.Port.Int()))
	}
	if p.Database != nil {
		if err := p.Database.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks a database block.
func (d Database) Validate() error {
	if strings.TrimSpace(d.Name) == "" || strings.TrimSpace(d.User) == "" {
		return NewValidationError("base_de_datos", "database name and user are required")
	}
	return nil
}

// Validate checks the fields needed to build a repository. A repository
// without a URL is accepted when it ships inline files.
func (r Repository) Validate(index int) error {
	field := fmt.Sprintf("repositorios[%d]", index)
	var missing []string
	if strings.TrimSpace(r.URL) == "" && len(r.Files) == 0 {
		missing = append(missing, "url")
	}
	if strings.TrimSpace(r.Technology) == "" {
		missing = append(missing, "tecnologia")
	}
	if strings.TrimSpace(r.Version) == "" {
		missing = append(missing, "version")
	}
	if strings.TrimSpace(r.Framework) == "" {
		missing = append(missing, "framework")
	}
	if len(missing) > 0 {
		return NewValidationError(field, fmt.Sprintf("repository %d is missing %s", r.ID.Int(), strings.Join(missing, ", ")))
	}
	return nil
}

// ValidateShape checks that the repositories match the topology: a single
// project carries exactly one repository, a split project one frontend and
// one backend.
func ValidateShape(topology Topology, repos []Repository) error {
	switch topology {
	case TopologySingle:
		if len(repos) != 1 {
			return NewValidationError("repositorios", fmt.Sprintf("single-container project needs exactly 1 repository, got %d", len(repos)))
		}
	case TopologySplit:
		if len(repos) != 2 {
			return NewValidationError("repositorios", fmt.Sprintf("split project needs exactly 2 repositories, got %d", len(repos)))
		}
		var frontends, backends int
		for _, r := range repos {
			switch r.Role() {
			case RoleFrontend:
				frontends++
			case RoleBackend:
				backends++
			}
		}
		if frontends != 1 || backends != 1 {
			return NewValidationError("repositorios", "split project needs one frontend (F) and one backend (B) repository")
		}
	}
	return nil
}
