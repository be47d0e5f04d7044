package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// =============================================================================
// Queues and Job Names
// =============================================================================

const (
	QueueDeploy   = "deploy"
	QueueDatabase = "data_base"
	QueueProject  = "project_manager"
	QueueDelete   = "delete"
	QueueSystem   = "system"

	JobDeploy         = "deploy"
	JobCreateDatabase = "create_DB"
	JobChangeStatus   = "changeStatus"
	JobDelete         = "delete"
	JobDeploySystem   = "deploy-system"
	JobAvailablePorts = "available-ports"
)

// =============================================================================
// Payloads
// =============================================================================

// DeployJob asks the worker to build, run and route a project.
type DeployJob struct {
	Project      *Project     `json:"-"`
	Repositories []Repository `json:"repositorios"`
}

// UnmarshalJSON accepts both the "proyect" and "project" spellings.
func (j *DeployJob) UnmarshalJSON(data []byte) error {
	var raw struct {
		Proyect      *Project     `json:"proyect"`
		Project      *Project     `json:"project"`
		Repositories []Repository `json:"repositorios"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	j.Project = raw.Proyect
	if j.Project == nil {
		j.Project = raw.Project
	}
	j.Repositories = raw.Repositories
	return nil
}

// MarshalJSON writes the project under "proyect".
func (j DeployJob) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Proyect      *Project     `json:"proyect"`
		Repositories []Repository `json:"repositorios"`
	}{j.Project, j.Repositories})
}

// Validate rejects malformed deploy jobs before any side effect.
func (j DeployJob) Validate() error {
	if j.Project == nil {
		return NewValidationError("proyect", "project is required")
	}
	if len(j.Repositories) == 0 {
		return NewValidationError("repositorios", "at least one repository is required")
	}
	if err := j.Project.ValidateForDeploy(); err != nil {
		return err
	}
	for i, repo := range j.Repositories {
		if err := repo.Validate(i); err != nil {
			return err
		}
	}
	topology, _ := j.Project.Topology()
	return ValidateShape(topology, j.Repositories)
}

// DatabaseJob asks the worker to create a tenant database and user.
type DatabaseJob struct {
	ContainerName string `json:"containerName"`
	Name          string `json:"nombre"`
	User          string `json:"usuario"`
	Password      string `json:"contrasenia"`
	KindCode      string `json:"type,omitempty"`
}

// Validate rejects database jobs with missing fields.
func (j DatabaseJob) Validate() error {
	if strings.TrimSpace(j.ContainerName) == "" ||
		strings.TrimSpace(j.Name) == "" ||
		strings.TrimSpace(j.User) == "" ||
		j.Password == "" {
		return NewValidationError("data_base", "containerName, nombre, usuario and contrasenia are required")
	}
	return nil
}

// Action is a lifecycle action.
type Action string

const (
	ActionStop  Action = "Stop"
	ActionStart Action = "Start"
)

// ParseAction maps the wire value. Anything other than Stop starts the unit.
func ParseAction(value string) Action {
	if strings.EqualFold(strings.TrimSpace(value), string(ActionStop)) {
		return ActionStop
	}
	return ActionStart
}

// LifecycleJob stops or starts a deployed project.
type LifecycleJob struct {
	Project *Project `json:"project"`
	Action  string   `json:"action"`
}

// Validate rejects lifecycle jobs without a project.
func (j LifecycleJob) Validate() error {
	if j.Project == nil {
		return NewValidationError("project", "project is required")
	}
	return j.Project.Validate()
}

// DeleteJob tears down everything a project owns.
type DeleteJob struct {
	Project *Project `json:"project"`
}

// UnmarshalJSON accepts either {"project": {...}} or the bare project object.
func (j *DeleteJob) UnmarshalJSON(data []byte) error {
	var wrapped struct {
		Project *Project `json:"project"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return err
	}
	if wrapped.Project != nil {
		j.Project = wrapped.Project
		return nil
	}
	var bare Project
	if err := json.Unmarshal(data, &bare); err != nil {
		return err
	}
	j.Project = &bare
	return nil
}

// Validate rejects delete jobs without a project.
func (j DeleteJob) Validate() error {
	if j.Project == nil {
		return NewValidationError("project", "project is required")
	}
	return j.Project.Validate()
}

// SystemJob carries the optional arguments of the system queue.
type SystemJob struct {
	Limit int `json:"limit,omitempty"`
}

// =============================================================================
// Results
// =============================================================================

const (
	StatusOK    = "ok"
	StatusError = "error"
)

// DescriptorResult describes one repository of a deploy job.
type DescriptorResult struct {
	ProjectID int    `json:"proyect_id"`
	URL       string `json:"rute"`
	Type      string `json:"type"`
	Port      int    `json:"port"`
	Language  string `json:"language"`
	Log       string `json:"log,omitempty"`
}

// Result is the structured outcome stored for every job.
type Result struct {
	Status        string             `json:"status"`
	Message       string             `json:"message"`
	Dockerfiles   []DescriptorResult `json:"dockerfiles,omitempty"`
	Nginx         string             `json:"nginx,omitempty"`
	ConnectionURI string             `json:"connection_URI,omitempty"`
	Ports         []int              `json:"ports,omitempty"`
	ErrorCode     string             `json:"error_code,omitempty"`
}

// OK builds a successful result.
func OK(message string) Result {
	return Result{Status: StatusOK, Message: message}
}

// Failed builds a failed result that keeps the diagnostic text verbatim.
func Failed(err error) Result {
	return Result{
		Status:    StatusError,
		Message:   err.Error(),
		ErrorCode: ErrorCode(err),
	}
}

// =============================================================================
// History
// =============================================================================

// JobRecord is the audit entry of one processed job.
type JobRecord struct {
	ID         string    `json:"id"`
	Queue      string    `json:"queue"`
	Name       string    `json:"name"`
	ProjectID  int       `json:"project_id,omitempty"`
	Status     string    `json:"status"`
	ErrorCode  string    `json:"error_code,omitempty"`
	Message    string    `json:"message"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// NewJobRecord builds the audit entry of a finished job from its result.
func NewJobRecord(id, queue, name string, projectID int, result Result, startedAt time.Time) *JobRecord {
	return &JobRecord{
		ID:         id,
		Queue:      queue,
		Name:       name,
		ProjectID:  projectID,
		Status:     result.Status,
		ErrorCode:  result.ErrorCode,
		Message:    result.Message,
		StartedAt:  startedAt.UTC(),
		FinishedAt: time.Now().UTC(),
	}
}
