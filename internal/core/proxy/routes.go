// Package proxy provides pure types and functions for reverse-proxy routing:
// route derivation, nginx fragment rendering and free-port selection.
// This package has no I/O dependencies and is tested with values in/out.
package proxy

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/artpar/deployer/internal/core/deployment"
	"github.com/artpar/deployer/internal/core/domain"
)

// Route maps a public alias (path segment or subdomain label) to an upstream.
type Route struct {
	Alias    string // e.g. "app42"
	Upstream string // host:port
}

// Upstream joins an address and a port.
func Upstream(ip string, port int) string {
	return net.JoinHostPort(ip, strconv.Itoa(port))
}

// ProjectRoutes derives the routes of a project. A single project gets one
// route for the role of its only repository, on the port that repository
// listens on; split projects get app{id} on the project port and api{id} on
// the backend port. role is ignored for split projects.
func ProjectRoutes(projectID, projectPort int, topology domain.Topology, role domain.Role, ip string) []Route {
	if topology == domain.TopologySingle {
		return []Route{roleRoute(projectID, projectPort, role, ip)}
	}
	return []Route{
		roleRoute(projectID, projectPort, domain.RoleFrontend, ip),
		roleRoute(projectID, projectPort, domain.RoleBackend, ip),
	}
}

func roleRoute(projectID, projectPort int, role domain.Role, ip string) Route {
	return Route{
		Alias:    deployment.RouteAlias(role, projectID),
		Upstream: Upstream(ip, deployment.RepositoryPort(projectPort, role)),
	}
}

// ProjectAliases returns every alias a project may own, regardless of topology.
func ProjectAliases(projectID int) []string {
	return []string{
		deployment.RouteAlias(domain.RoleFrontend, projectID),
		deployment.RouteAlias(domain.RoleBackend, projectID),
	}
}

// ParseAlias splits "app42" or "api42" into its role prefix and project id.
func ParseAlias(alias string) (prefix string, projectID int, ok bool) {
	for _, p := range []string{"app", "api"} {
		rest, found := strings.CutPrefix(alias, p)
		if !found || rest == "" {
			continue
		}
		id, err := strconv.Atoi(rest)
		if err != nil || id <= 0 {
			return "", 0, false
		}
		return p, id, true
	}
	return "", 0, false
}

// Validate checks that a route can be rendered safely into nginx syntax.
func (r Route) Validate() error {
	if _, _, ok := ParseAlias(r.Alias); !ok {
		return fmt.Errorf("%w: alias %q", ErrInvalidRoute, r.Alias)
	}
	host, port, err := net.SplitHostPort(r.Upstream)
	if err != nil || host == "" || port == "" || strings.ContainsAny(r.Upstream, " ;{}") {
		return fmt.Errorf("%w: upstream %q", ErrInvalidRoute, r.Upstream)
	}
	return nil
}
