package deployment

import (
	"path/filepath"
	"testing"

	"github.com/artpar/deployer/internal/core/domain"
	"github.com/stretchr/testify/assert"
)

// =============================================================================
// Naming Tests
// =============================================================================

func TestNames(t *testing.T) {
	assert.Equal(t, "app-42", ImageName(42))
	assert.Equal(t, "Container-42", ContainerName(42))
	assert.Equal(t, "frontend_7", FrontendName(7))
	assert.Equal(t, "backend_7", BackendName(7))
	assert.Equal(t, "project-7", ComposeProject(7))
}

func TestUnitNames(t *testing.T) {
	assert.Equal(t, []string{"Container-42"}, UnitNames(42, domain.TopologySingle))
	assert.Equal(t, []string{"backend_7", "frontend_7"}, UnitNames(7, domain.TopologySplit))
}

func TestRouteAliasAndBasePath(t *testing.T) {
	assert.Equal(t, "app42", RouteAlias(domain.RoleFrontend, 42))
	assert.Equal(t, "app42", RouteAlias(domain.RoleAll, 42))
	assert.Equal(t, "api42", RouteAlias(domain.RoleBackend, 42))
	assert.Equal(t, "/api7", BasePath(domain.RoleBackend, 7))
	assert.Equal(t, "/app7", BasePath(domain.RoleFrontend, 7))
}

// =============================================================================
// Layout Tests
// =============================================================================

func TestRepositoryDir(t *testing.T) {
	root := filepath.Join("srv", "apps")

	assert.Equal(t, filepath.Join(root, "42"), RepositoryDir(root, 42, domain.TopologySingle, domain.RoleFrontend))
	assert.Equal(t, filepath.Join(root, "7", "Frontend"), RepositoryDir(root, 7, domain.TopologySplit, domain.RoleFrontend))
	assert.Equal(t, filepath.Join(root, "7", "Backend"), RepositoryDir(root, 7, domain.TopologySplit, domain.RoleBackend))
	assert.Equal(t, filepath.Join(root, "7", "docker-compose.yml"), ComposePath(root, 7))
}

// =============================================================================
// Routing Tests
// =============================================================================

func TestRouting_PublicURL(t *testing.T) {
	path := Routing{BaseURL: "https://proyectos.fireploy.online/"}
	assert.Equal(t, "https://proyectos.fireploy.online/app42/", path.PublicURL("app42"))

	sub := Routing{Domain: "fireploy.online", Subdomain: true}
	assert.Equal(t, "https://api7.fireploy.online/", sub.PublicURL("api7"))
}
