package deployment

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/artpar/deployer/internal/core/domain"
)

// =============================================================================
// Environment Synthesis
// =============================================================================

// DatabaseEnv holds the connection fields injected into a repository.
type DatabaseEnv struct {
	Name     string
	Host     string // engine container name on the shared network
	Port     int
	User     string
	Password string
}

// EnvInput is everything Synthesize needs for one repository.
type EnvInput struct {
	ProjectID int
	Port      int
	Host      string
	Role      domain.Role
	Topology  domain.Topology
	Framework string
	Routing   Routing
	Database  *DatabaseEnv
	CustomEnv string
}

// Environment is the finished variable set for one repository.
type Environment struct {
	Vars map[string]string
	// Serialized holds KEY="VALUE" lines with sorted keys. It is empty for
	// frameworks without a prefix convention.
	Serialized string
}

// Synthesize builds the environment of a repository:
//
//  1. base keys (PORT, HOST, BASE_PATH, sibling URLs, DB_* when applicable)
//  2. framework prefix applied to every base key
//  3. custom KEY=VALUE lines overlaid, custom always wins
//
// Synthesize is pure and deterministic.
func Synthesize(in EnvInput) Environment {
	base := map[string]string{
		"PORT":         strconv.Itoa(in.Port),
		"HOST":         in.Host,
		"BASE_PATH":    BasePath(in.Role, in.ProjectID),
		"FRONTEND_URL": in.Routing.PublicURL(RouteAlias(domain.RoleFrontend, in.ProjectID)),
		"BACKEND_URL":  in.Routing.PublicURL(RouteAlias(domain.RoleBackend, in.ProjectID)),
	}

	if in.Database != nil && (in.Role == domain.RoleBackend || in.Topology == domain.TopologySingle) {
		base["DB_DATABASE"] = in.Database.Name
		base["DB_PORT"] = strconv.Itoa(in.Database.Port)
		base["DB_HOST"] = in.Database.Host
		base["DB_USER"] = in.Database.User
		base["DB_PASSWORD"] = in.Database.Password
	}

	framework := domain.ParseFramework(in.Framework)
	prefix := framework.EnvPrefix()

	vars := make(map[string]string, len(base))
	for k, v := range base {
		vars[prefix+k] = v
	}

	for k, v := range ParseCustomEnv(in.CustomEnv) {
		vars[k] = v
	}

	env := Environment{Vars: vars}
	if framework.Known() {
		env.Serialized = Serialize(vars)
	}
	return env
}

// ParseCustomEnv parses newline-delimited KEY=VALUE text. Lines are split on
// the first "=" only; key and value are trimmed. Blank lines, lines without
// "=" and lines with an empty key are dropped.
func ParseCustomEnv(text string) map[string]string {
	out := make(map[string]string)
	for _, line := range strings.Split(text, "\n") {
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		out[key] = strings.TrimSpace(value)
	}
	return out
}

// Serialize renders vars as KEY="VALUE" lines sorted by key.
func Serialize(vars map[string]string) string {
	keys := SortedKeys(vars)
	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("%s=%q", k, vars[k]))
	}
	return strings.Join(lines, "\n")
}

// SortedKeys returns the keys of vars in ascending order.
func SortedKeys(vars map[string]string) []string {
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// EnvList renders vars as sorted KEY=VALUE entries for container runtimes.
func EnvList(vars map[string]string) []string {
	keys := SortedKeys(vars)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+vars[k])
	}
	return out
}
