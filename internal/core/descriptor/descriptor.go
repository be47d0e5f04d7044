// Package descriptor renders and writes the build descriptor (Dockerfile) of
// a repository from a fixed per-technology template.
package descriptor

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/artpar/deployer/internal/core/deployment"
	"github.com/artpar/deployer/internal/core/domain"
)

//go:embed templates/*.Dockerfile
var templateFS embed.FS

const (
	// FileName is the descriptor file written into the repository directory.
	FileName = "Dockerfile"
	// EnvFileName is the companion runtime-config file for prefixed frameworks.
	EnvFileName = ".env"
)

// Template returns the raw template of a technology.
func Template(tech domain.Technology) (string, error) {
	if tech == domain.TechnologyUnknown {
		return "", &domain.UnsupportedTechnologyError{Technology: string(tech)}
	}
	data, err := templateFS.ReadFile("templates/" + string(tech) + ".Dockerfile")
	if err != nil {
		return "", &domain.UnsupportedTechnologyError{Technology: string(tech)}
	}
	return string(data), nil
}

// Render produces the descriptor text for a technology. It is pure.
func Render(technology string, port int, env map[string]string, projectID int) (string, error) {
	tech, ok := domain.ParseTechnology(technology)
	if !ok {
		return "", &domain.UnsupportedTechnologyError{Technology: technology}
	}
	tmpl, err := Template(tech)
	if err != nil {
		return "", err
	}

	return deployment.SubstituteVariables(tmpl, map[string]string{
		"PORT":        strconv.Itoa(port),
		"PROJECT_ID":  strconv.Itoa(projectID),
		"ENV_LINES":   EnvLines(env),
		"ANGULAR_ENV": AngularEnv(env),
	}), nil
}

// EnvLines renders env as ENV KEY="VALUE" instructions sorted by key.
func EnvLines(env map[string]string) string {
	keys := deployment.SortedKeys(env)
	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("ENV %s=%s", k, strconv.Quote(env[k])))
	}
	return strings.Join(lines, "\n")
}

// AngularEnv renders env as key:'value' pairs for an environment.ts object
// literal. Single quotes and backslashes in values are escaped.
func AngularEnv(env map[string]string) string {
	escaper := strings.NewReplacer(`\`, `\\`, `'`, `\'`, `"`, `\"`)
	keys := deployment.SortedKeys(env)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, fmt.Sprintf("%s:'%s'", k, escaper.Replace(env[k])))
	}
	return strings.Join(pairs, ", ")
}

// Generate renders the descriptor and writes it to {dir}/Dockerfile,
// overwriting any existing file. When serializedEnv is non-empty the
// companion {dir}/.env is written as well. Nothing is written for an
// unsupported technology. Returns the descriptor path.
func Generate(dir, technology string, port int, env deployment.Environment, projectID int) (string, error) {
	content, err := Render(technology, port, env.Vars, projectID)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}

	path := filepath.Join(dir, FileName)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}

	if env.Serialized != "" {
		envPath := filepath.Join(dir, EnvFileName)
		if err := os.WriteFile(envPath, []byte(env.Serialized+"\n"), 0o644); err != nil {
			return "", fmt.Errorf("write %s: %w", envPath, err)
		}
	}

	return path, nil
}
