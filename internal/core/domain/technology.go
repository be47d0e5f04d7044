package domain

import "strings"

// =============================================================================
// Technology
// =============================================================================

// Technology selects the build descriptor template for a repository.
type Technology string

const (
	TechnologyNextjs    Technology = "Nextjs"
	TechnologyReact     Technology = "React"
	TechnologyNode      Technology = "Node"
	TechnologyPython    Technology = "Python"
	TechnologyPhp       Technology = "Php"
	TechnologyAngular   Technology = "Angular"
	TechnologyExpressjs Technology = "Expressjs"
	TechnologyUnknown   Technology = ""
)

// Technologies lists every technology with a build template.
var Technologies = []Technology{
	TechnologyNextjs,
	TechnologyReact,
	TechnologyNode,
	TechnologyPython,
	TechnologyPhp,
	TechnologyAngular,
	TechnologyExpressjs,
}

// ParseTechnology matches a wire value case-insensitively.
// Unmatched values return TechnologyUnknown and false.
func ParseTechnology(value string) (Technology, bool) {
	value = strings.TrimSpace(value)
	for _, t := range Technologies {
		if strings.EqualFold(string(t), value) {
			return t, true
		}
	}
	return TechnologyUnknown, false
}

// =============================================================================
// Framework
// =============================================================================

// Framework selects the environment key prefix convention.
type Framework string

const (
	FrameworkVite    Framework = "Vite"
	FrameworkReact   Framework = "React"
	FrameworkNextjs  Framework = "Nextjs"
	FrameworkUnknown Framework = ""
)

var frameworkPrefixes = map[Framework]string{
	FrameworkVite:   "VITE_",
	FrameworkReact:  "VITE_",
	FrameworkNextjs: "NEXT_PUBLIC_",
}

// ParseFramework matches a wire value case-insensitively. Unknown values are
// not an error; they map to FrameworkUnknown.
func ParseFramework(value string) Framework {
	value = strings.TrimSpace(value)
	for f := range frameworkPrefixes {
		if strings.EqualFold(string(f), value) {
			return f
		}
	}
	return FrameworkUnknown
}

// EnvPrefix returns the key prefix for the framework, "" when unknown.
func (f Framework) EnvPrefix() string {
	return frameworkPrefixes[f]
}

// Known reports whether the framework has a prefix convention.
func (f Framework) Known() bool {
	_, ok := frameworkPrefixes[f]
	return ok
}
