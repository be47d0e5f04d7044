package system

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/artpar/deployer/internal/core/domain"
)

// Workspace owns the per-project working directories under one root.
type Workspace struct {
	root   string
	logger *slog.Logger
}

// NewWorkspace creates a Workspace rooted at root.
func NewWorkspace(root string, logger *slog.Logger) *Workspace {
	if logger == nil {
		logger = slog.Default()
	}
	return &Workspace{root: root, logger: logger.With("component", "workspace")}
}

// Root returns the workspace root.
func (w *Workspace) Root() string {
	return w.root
}

// Materialize decodes base64 file payloads into dir. Entries missing a name
// or content are skipped with a warning. Names must stay inside dir.
// Returns the number of files written.
func (w *Workspace) Materialize(dir string, files []domain.File) (int, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, domain.NewExternalCommandError(domain.OpMaterialize, "mkdir "+dir, "", err)
	}

	written := 0
	for _, f := range files {
		if f.Name == "" || f.Content == "" {
			w.logger.Warn("skipping file without name or content", "dir", dir, "name", f.Name)
			continue
		}
		if !filepath.IsLocal(f.Name) {
			return written, domain.NewValidationError("ficheros", fmt.Sprintf("file name %q escapes the repository directory", f.Name))
		}

		data, err := base64.StdEncoding.DecodeString(f.Content)
		if err != nil {
			return written, domain.NewValidationError("ficheros", fmt.Sprintf("file %q is not valid base64", f.Name))
		}

		path := filepath.Join(dir, f.Name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return written, domain.NewExternalCommandError(domain.OpMaterialize, "mkdir "+filepath.Dir(path), "", err)
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return written, domain.NewExternalCommandError(domain.OpMaterialize, "write "+path, "", err)
		}
		written++
	}
	return written, nil
}

// RemoveAll deletes a directory tree. A missing directory is not an error.
func (w *Workspace) RemoveAll(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return domain.NewExternalCommandError(domain.OpRemoveFolder, "rm -rf "+dir, "", err)
	}
	w.logger.Info("removed directory", "dir", dir)
	return nil
}
