package deployment

import "regexp"

// =============================================================================
// Variable Substitution Functions
// =============================================================================

// varPlaceholderRegex matches ${VAR} and ${VAR:-default} patterns.
// Groups:
//   - Group 1: Variable name (required)
//   - Group 2: ":-" marker (optional)
//   - Group 3: Default value (optional)
var varPlaceholderRegex = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// SubstituteVariables replaces ${VAR} and ${VAR:-default} placeholders with values
// from the variables map.
//
// Behavior:
//   - ${VAR} - replaced with variables["VAR"] if exists, otherwise kept as-is
//   - ${VAR:-default} - replaced with variables["VAR"] if exists, otherwise "default"
//   - Unmatched text is left unchanged
//
// Examples:
//
//	SubstituteVariables("EXPOSE ${PORT}", map[string]string{"PORT": "9100"})
//	// Returns: "EXPOSE 9100"
//
//	SubstituteVariables("${PORT:-8080}", map[string]string{})
//	// Returns: "8080"
//
//	SubstituteVariables("${MISSING}", map[string]string{})
//	// Returns: "${MISSING}"
func SubstituteVariables(value string, variables map[string]string) string {
	return varPlaceholderRegex.ReplaceAllStringFunc(value, func(match string) string {
		submatch := varPlaceholderRegex.FindStringSubmatch(match)
		if val, ok := variables[submatch[1]]; ok {
			return val
		}
		if submatch[2] != "" {
			return submatch[3]
		}
		return match
	})
}
