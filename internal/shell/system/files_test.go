package system

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"github.com/artpar/deployer/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func b64(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

func TestWorkspace_Materialize(t *testing.T) {
	ws := NewWorkspace(t.TempDir(), discardLogger())
	dir := filepath.Join(ws.Root(), "42")

	n, err := ws.Materialize(dir, []domain.File{
		{Name: "index.js", Content: b64("console.log('hi')")},
		{Name: "src/app.js", Content: b64("export {}")},
		{Name: "", Content: b64("orphan")},
		{Name: "empty.txt"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	data, err := os.ReadFile(filepath.Join(dir, "index.js"))
	require.NoError(t, err)
	assert.Equal(t, "console.log('hi')", string(data))

	data, err = os.ReadFile(filepath.Join(dir, "src", "app.js"))
	require.NoError(t, err)
	assert.Equal(t, "export {}", string(data))

	_, err = os.Stat(filepath.Join(dir, "empty.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestWorkspace_MaterializeRejectsEscapes(t *testing.T) {
	ws := NewWorkspace(t.TempDir(), discardLogger())

	_, err := ws.Materialize(filepath.Join(ws.Root(), "1"), []domain.File{{Name: "../evil", Content: b64("x")}})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = ws.Materialize(filepath.Join(ws.Root(), "1"), []domain.File{{Name: "a.txt", Content: "%%%"}})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestWorkspace_RemoveAllIsIdempotent(t *testing.T) {
	ws := NewWorkspace(t.TempDir(), discardLogger())
	dir := filepath.Join(ws.Root(), "7")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "Frontend"), 0o755))

	require.NoError(t, ws.RemoveAll(dir))
	require.NoError(t, ws.RemoveAll(dir))

	_, err := os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
}
