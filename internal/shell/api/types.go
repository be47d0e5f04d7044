package api

import "github.com/artpar/deployer/internal/core/domain"

// =============================================================================
// Response Types
// =============================================================================

// HealthResponse is the liveness probe answer.
type HealthResponse struct {
	Status string `json:"status"`
}

// ReadyResponse is the readiness probe answer.
type ReadyResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// PortsResponse lists free host ports at the time of the request.
type PortsResponse struct {
	Ports []int `json:"ports"`
}

// RecheckResponse reports a completed health check cycle.
type RecheckResponse struct {
	Status   string `json:"status"`
	Duration string `json:"duration"`
}

// DeploymentResponse is a registry record plus whether a job currently holds
// the project.
type DeploymentResponse struct {
	domain.Deployment
	JobInFlight bool `json:"job_in_flight"`
}

// QueueResponse is the depth of one job queue.
type QueueResponse struct {
	Name    string `json:"name"`
	Waiting int64  `json:"waiting"`
	Active  int64  `json:"active"`
}

// LogsResponse holds the recent output of each unit of a project.
type LogsResponse struct {
	ProjectID int               `json:"project_id"`
	Logs      map[string]string `json:"logs"`
	Errors    []string          `json:"errors,omitempty"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}
