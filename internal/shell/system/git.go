package system

import (
	"context"
	"fmt"
	"os"

	"github.com/artpar/deployer/internal/core/domain"
)

// Git checks out repositories through the git CLI.
type Git struct {
	runner Runner
}

// NewGit creates a new Git.
func NewGit(runner Runner) *Git {
	return &Git{runner: runner}
}

// Clone replaces dest with a shallow clone of repoURL. Prompts are disabled
// so a private repository fails instead of hanging the worker.
func (g *Git) Clone(ctx context.Context, repoURL, dest string) error {
	if repoURL == "" {
		return domain.NewValidationError("url", "repository URL cannot be empty")
	}
	if dest == "" {
		return fmt.Errorf("destination cannot be empty")
	}
	if err := os.RemoveAll(dest); err != nil {
		return domain.NewExternalCommandError(domain.OpCheckout, "rm -rf "+dest, "", err)
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return domain.NewExternalCommandError(domain.OpCheckout, "mkdir "+dest, "", err)
	}

	cmd := Cmd{
		Name: "git",
		Args: []string{"clone", "--depth", "1", "--", repoURL, "."},
		Dir:  dest,
		Env:  []string{"GIT_TERMINAL_PROMPT=0"},
	}
	if out, err := g.runner.Run(ctx, cmd); err != nil {
		return domain.NewExternalCommandError(domain.OpCheckout, cmd.String(), out, err)
	}
	return nil
}
