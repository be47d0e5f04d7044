package deployment

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/artpar/deployer/internal/core/domain"
)

// =============================================================================
// Resource Naming Functions
// =============================================================================

// ImageName returns the image tag built for a single-container project.
//
//	ImageName(42) // "app-42"
func ImageName(projectID int) string {
	return fmt.Sprintf("app-%d", projectID)
}

// ContainerName returns the container name of a single-container project.
//
//	ContainerName(42) // "Container-42"
func ContainerName(projectID int) string {
	return fmt.Sprintf("Container-%d", projectID)
}

// FrontendName returns the frontend container name of a split project.
func FrontendName(projectID int) string {
	return fmt.Sprintf("frontend_%d", projectID)
}

// BackendName returns the backend container name of a split project.
func BackendName(projectID int) string {
	return fmt.Sprintf("backend_%d", projectID)
}

// UnitNames returns every container name a project owns for a topology.
func UnitNames(projectID int, topology domain.Topology) []string {
	if topology == domain.TopologySingle {
		return []string{ContainerName(projectID)}
	}
	return []string{BackendName(projectID), FrontendName(projectID)}
}

// RouteAlias returns the public alias of a role: "app{id}" or "api{id}".
func RouteAlias(role domain.Role, projectID int) string {
	return fmt.Sprintf("%s%d", role.RoutePrefix(), projectID)
}

// BasePath returns the path prefix a service is mounted under.
//
//	BasePath(domain.RoleBackend, 42) // "/api42"
func BasePath(role domain.Role, projectID int) string {
	return "/" + RouteAlias(role, projectID)
}

// =============================================================================
// Filesystem Layout
// =============================================================================

// ProjectDir returns the working directory root of a project.
func ProjectDir(root string, projectID int) string {
	return filepath.Join(root, fmt.Sprint(projectID))
}

// RepositoryDir returns where a repository is checked out. Single-container
// projects use the project directory itself; split projects use a
// Frontend or Backend subfolder.
func RepositoryDir(root string, projectID int, topology domain.Topology, role domain.Role) string {
	dir := ProjectDir(root, projectID)
	if topology == domain.TopologySingle {
		return dir
	}
	return filepath.Join(dir, role.Folder())
}

// ComposePath returns the composition file path of a split project.
func ComposePath(root string, projectID int) string {
	return filepath.Join(ProjectDir(root, projectID), "docker-compose.yml")
}

// ComposeProject returns the compose project name of a split project, so
// up, down and start address the same stack regardless of working dir.
func ComposeProject(projectID int) string {
	return fmt.Sprintf("project-%d", projectID)
}

// =============================================================================
// Public URLs
// =============================================================================

// Routing describes how services are published to the outside.
type Routing struct {
	BaseURL   string // path mode, e.g. https://proyectos.fireploy.online
	Domain    string // subdomain mode, e.g. fireploy.online
	Subdomain bool
}

// PublicURL returns the externally reachable URL of an alias, with a trailing
// slash.
//
//	Routing{BaseURL: "https://h"}.PublicURL("app42")        // "https://h/app42/"
//	Routing{Domain: "d", Subdomain: true}.PublicURL("api7") // "https://api7.d/"
func (r Routing) PublicURL(alias string) string {
	if r.Subdomain {
		return fmt.Sprintf("https://%s.%s/", alias, r.Domain)
	}
	return strings.TrimRight(r.BaseURL, "/") + "/" + alias + "/"
}
