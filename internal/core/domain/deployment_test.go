package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDeployment(t *testing.T) {
	project := Project{
		ID:           42,
		Port:         10000,
		TopologyCode: "M",
		Database:     &Database{KindCode: "S", Name: "shop", User: "u", Password: "pw"},
	}

	d := NewDeployment(project, "job-1")
	assert.Equal(t, 42, d.ProjectID)
	assert.Equal(t, TopologySingle, d.Topology)
	assert.Equal(t, 10000, d.Port)
	assert.Equal(t, StatusDeploying, d.Status)
	assert.Equal(t, "shop", d.Database)
	assert.Equal(t, "job-1", d.LastJobID)
	assert.NotZero(t, d.CreatedAt)
}

// =============================================================================
// State Transition Tests
// =============================================================================

func TestValidateTransition(t *testing.T) {
	tests := []struct {
		from    DeploymentStatus
		to      DeploymentStatus
		wantErr bool
	}{
		{StatusDeploying, StatusRunning, false},
		{StatusDeploying, StatusFailed, false},
		{StatusDeploying, StatusStopped, true},
		{StatusRunning, StatusStopped, false},
		{StatusRunning, StatusDeploying, false},
		{StatusStopped, StatusRunning, false},
		{StatusFailed, StatusDeploying, false},
		{StatusDeleted, StatusDeploying, false},
		{StatusDeleted, StatusRunning, true},
		{StatusDeleted, StatusStopped, true},
		{"bogus", StatusRunning, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			err := ValidateTransition(tt.from, tt.to)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidTransition)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDeployment_FailKeepsCause(t *testing.T) {
	d := NewDeployment(Project{ID: 7, Port: 20000, TopologyCode: "S"}, "job-2")

	cause := NewExternalCommandError(OpCompose, "docker compose up -d", "boom", errors.New("exit status 1"))
	require.NoError(t, d.Fail(cause))
	assert.Equal(t, StatusFailed, d.Status)
	assert.Equal(t, "ErrorCode-004", d.ErrorCode)
	assert.Contains(t, d.ErrorMessage, "docker compose up -d")

	require.NoError(t, d.Transition(StatusDeploying))
	assert.Empty(t, d.ErrorCode)
	assert.Empty(t, d.ErrorMessage)
}

func TestDeployment_TransitionRejected(t *testing.T) {
	d := &Deployment{ProjectID: 1, Status: StatusDeleted}
	err := d.Transition(StatusStopped)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, StatusDeleted, d.Status)
}
