package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorCode(t *testing.T) {
	cause := errors.New("exit status 1")

	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"plain error", cause, ""},
		{"validation", NewValidationError("url", "required"), "ErrorCode-001"},
		{"unsupported technology", &UnsupportedTechnologyError{Technology: "Rust"}, "ErrorCode-002"},
		{"docker run", NewExternalCommandError(OpRun, "docker run", "", cause), "ErrorCode-003"},
		{"compose", NewExternalCommandError(OpCompose, "docker compose up -d", "", cause), "ErrorCode-004"},
		{"proxy reload", NewProxyReloadFatalError("reload", "", cause), "ErrorCode-005"},
		{"stop", NewExternalCommandError(OpStop, "docker stop", "", cause), "ErrorCode-008"},
		{"document tenant", NewExternalCommandError(OpDocumentTenant, "mongosh", "", cause), "ErrorCode-012"},
		{"remove folder", NewExternalCommandError(OpRemoveFolder, "rm -rf", "", cause), "ErrorCode-017"},
		{"wrapped", fmt.Errorf("deploy 42: %w", NewExternalCommandError(OpRun, "docker run", "", cause)), "ErrorCode-003"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ErrorCode(tt.err))
		})
	}
}

func TestExternalCommandError_Message(t *testing.T) {
	cause := errors.New("exit status 125")
	err := NewExternalCommandError(OpRun, "docker run Container-42", "  port is already allocated\n", cause)

	assert.Equal(t, "docker_run failed (docker run Container-42): exit status 125: port is already allocated", err.Error())
	assert.ErrorIs(t, err, ErrExternalCommand)
	assert.ErrorIs(t, err, cause)
}

func TestClassification(t *testing.T) {
	retry := NewExternalCommandError(OpRun, "docker run", "", fmt.Errorf("port taken: %w", ErrRetryable))
	fatal := fmt.Errorf("apply: %w", NewProxyReloadFatalError("validate", "[emerg]", errors.New("exit status 1")))

	assert.True(t, IsRetryable(retry))
	assert.False(t, IsFatal(retry))
	assert.True(t, IsFatal(fatal))
	assert.False(t, IsRetryable(fatal))
	assert.ErrorIs(t, NewValidationError("x", "y"), ErrValidation)
	assert.ErrorIs(t, &UnsupportedTechnologyError{Technology: "Rust"}, ErrUnsupportedTechnology)
}
