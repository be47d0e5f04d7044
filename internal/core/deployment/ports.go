package deployment

import "github.com/artpar/deployer/internal/core/domain"

// =============================================================================
// Port Assignment
// =============================================================================

// RepositoryPort returns the port a repository listens on. Backends always
// get the project port plus one; every other role gets the project port.
func RepositoryPort(projectPort int, role domain.Role) int {
	if role == domain.RoleBackend {
		return projectPort + 1
	}
	return projectPort
}
