// Package system runs host commands and touches the host filesystem: port
// probing, repository checkout, inline file materialization and project
// folder cleanup.
package system

import (
	"context"
	"log/slog"
	"os"
	"os/exec"
	"strings"
)

// Cmd is one host command invocation.
type Cmd struct {
	Name string
	Args []string
	Dir  string
	Env  []string // appended to the worker's environment
}

// String renders the command for logs and error messages.
func (c Cmd) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Runner executes a command and returns its combined output.
type Runner interface {
	Run(ctx context.Context, cmd Cmd) (string, error)
}

// ExecRunner runs commands with os/exec and waits for them to finish.
type ExecRunner struct {
	logger *slog.Logger
}

// NewExecRunner creates a new ExecRunner.
func NewExecRunner(logger *slog.Logger) *ExecRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecRunner{logger: logger.With("component", "runner")}
}

// Run implements Runner.
func (r *ExecRunner) Run(ctx context.Context, c Cmd) (string, error) {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	output, err := cmd.CombinedOutput()
	if err != nil {
		r.logger.Error("command failed", "cmd", c.String(), "dir", c.Dir, "output", string(output), "error", err)
		return string(output), err
	}
	r.logger.Debug("command executed", "cmd", c.String(), "dir", c.Dir)
	return string(output), nil
}
