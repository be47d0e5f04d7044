package domain

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// Sentinel Errors
// =============================================================================

var (
	ErrValidation            = errors.New("invalid job")
	ErrUnsupportedTechnology = errors.New("technology is not supported")
	ErrExternalCommand       = errors.New("external command failed")
	ErrProxyReload           = errors.New("proxy reload failed")
	// ErrRetryable marks failures a caller may retry with a fresh allocation.
	ErrRetryable = errors.New("retryable")
)

// =============================================================================
// Operations
// =============================================================================

// Op names the external operation that failed. Each maps to a stable error tag.
type Op string

const (
	OpValidate        Op = "validate"
	OpDescriptor      Op = "descriptor"
	OpRun             Op = "docker_run"
	OpCompose         Op = "compose_up"
	OpProxy           Op = "proxy"
	OpCheckout        Op = "checkout"
	OpSQLTenant       Op = "sql_tenant"
	OpStop            Op = "stop"
	OpStart           Op = "start"
	OpComposeDown     Op = "compose_down"
	OpComposeStart    Op = "compose_start"
	OpDocumentTenant  Op = "document_tenant"
	OpEngine          Op = "engine"
	OpRemoveContainer Op = "remove_container"
	OpLogs            Op = "logs"
	OpMaterialize     Op = "materialize"
	OpRemoveFolder    Op = "remove_folder"
)

var opCodes = map[Op]string{
	OpValidate:        "ErrorCode-001",
	OpDescriptor:      "ErrorCode-002",
	OpRun:             "ErrorCode-003",
	OpCompose:         "ErrorCode-004",
	OpProxy:           "ErrorCode-005",
	OpCheckout:        "ErrorCode-006",
	OpSQLTenant:       "ErrorCode-007",
	OpStop:            "ErrorCode-008",
	OpStart:           "ErrorCode-009",
	OpComposeDown:     "ErrorCode-010",
	OpComposeStart:    "ErrorCode-011",
	OpDocumentTenant:  "ErrorCode-012",
	OpEngine:          "ErrorCode-013",
	OpRemoveContainer: "ErrorCode-014",
	OpLogs:            "ErrorCode-015",
	OpMaterialize:     "ErrorCode-016",
	OpRemoveFolder:    "ErrorCode-017",
}

// Code returns the error tag for the operation, "" when none is assigned.
func (o Op) Code() string {
	return opCodes[o]
}

// =============================================================================
// Typed Errors
// =============================================================================

// ValidationError rejects a job before any side effect happens.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NewValidationError creates a new ValidationError.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// UnsupportedTechnologyError is returned when no build template matches.
type UnsupportedTechnologyError struct {
	Technology string
}

func (e *UnsupportedTechnologyError) Error() string {
	return fmt.Sprintf("language %s is not supported", e.Technology)
}

func (e *UnsupportedTechnologyError) Unwrap() error { return ErrUnsupportedTechnology }

// ExternalCommandError carries the diagnostic text of a failed subsystem call.
type ExternalCommandError struct {
	Op      Op
	Command string
	Output  string
	Err     error
}

func (e *ExternalCommandError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s failed", e.Op)
	if e.Command != "" {
		fmt.Fprintf(&b, " (%s)", e.Command)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if out := strings.TrimSpace(e.Output); out != "" {
		fmt.Fprintf(&b, ": %s", out)
	}
	return b.String()
}

func (e *ExternalCommandError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrExternalCommand}
	}
	return []error{ErrExternalCommand, e.Err}
}

// NewExternalCommandError creates a new ExternalCommandError.
func NewExternalCommandError(op Op, command, output string, err error) *ExternalCommandError {
	return &ExternalCommandError{Op: op, Command: command, Output: output, Err: err}
}

// ProxyReloadFatalError means the proxy configuration could not be validated
// or reloaded. The worker must stop consuming when it sees one.
type ProxyReloadFatalError struct {
	Op     string
	Output string
	Err    error
}

func (e *ProxyReloadFatalError) Error() string {
	msg := fmt.Sprintf("proxy %s failed", e.Op)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if out := strings.TrimSpace(e.Output); out != "" {
		msg += ": " + out
	}
	return msg
}

func (e *ProxyReloadFatalError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrProxyReload}
	}
	return []error{ErrProxyReload, e.Err}
}

// NewProxyReloadFatalError creates a new ProxyReloadFatalError.
func NewProxyReloadFatalError(op, output string, err error) *ProxyReloadFatalError {
	return &ProxyReloadFatalError{Op: op, Output: output, Err: err}
}

// =============================================================================
// Classification
// =============================================================================

// ErrorCode returns the error tag for err, or "" if it has none.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	var proxyErr *ProxyReloadFatalError
	if errors.As(err, &proxyErr) {
		return OpProxy.Code()
	}
	var techErr *UnsupportedTechnologyError
	if errors.As(err, &techErr) {
		return OpDescriptor.Code()
	}
	var valErr *ValidationError
	if errors.As(err, &valErr) {
		return OpValidate.Code()
	}
	var cmdErr *ExternalCommandError
	if errors.As(err, &cmdErr) {
		return cmdErr.Op.Code()
	}
	return ""
}

// IsFatal reports whether err must stop the worker.
func IsFatal(err error) bool {
	return errors.Is(err, ErrProxyReload)
}

// IsRetryable reports whether err is a recoverable allocation race.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRetryable)
}
