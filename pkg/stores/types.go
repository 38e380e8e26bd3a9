package stores

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a write violates a uniqueness constraint.
var ErrConflict = errors.New("conflict")

// DefaultBranch is the branch created with every project.
const DefaultBranch = "main"

// RunStatus represents the status of a project run
type RunStatus string

const (
	RunStatusRunning     RunStatus = "running"
	RunStatusCompleted   RunStatus = "completed"
	RunStatusFailed      RunStatus = "failed"
	RunStatusInterrupted RunStatus = "interrupted"
)

// EventLevel represents the severity level of an event
type EventLevel string

const (
	EventLevelDebug   EventLevel = "debug"
	EventLevelInfo    EventLevel = "info"
	EventLevelWarning EventLevel = "warning"
	EventLevelError   EventLevel = "error"
)

// Project is a persisted unit of orchestrated work.
type Project struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Template  string    `json:"template"`
	State     string    `json:"state"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Branch is a named line of checkpoints within a project.
type Branch struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Step is one unit of a project's plan, copied from its template at creation.
type Step struct {
	ProjectID string   `json:"project_id"`
	Index     int      `json:"index"`
	Name      string   `json:"name"`
	DependsOn []string `json:"depends_on,omitempty"`
	Script    string   `json:"script"`
}

// Checkpoint records the completion of one step on a branch.
type Checkpoint struct {
	ID        int64     `json:"id"`
	ProjectID string    `json:"project_id"`
	BranchID  string    `json:"branch_id"`
	RunID     string    `json:"run_id"`
	StepIndex int       `json:"step_index"`
	StepName  string    `json:"step_name"`
	Data      string    `json:"data"` // JSON object
	CreatedAt time.Time `json:"created_at"`
}

// Run is one attempt at executing a project's remaining steps.
type Run struct {
	ID          string     `json:"id"`
	ProjectID   string     `json:"project_id"`
	BranchID    string     `json:"branch_id"`
	Status      RunStatus  `json:"status"`
	StartStep   int        `json:"start_step"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       *string    `json:"error,omitempty"`
}

// Event is an append-only lifecycle log entry. Events outlive the project
// they describe.
type Event struct {
	ID        int64      `json:"id"`
	ProjectID *string    `json:"project_id,omitempty"`
	RunID     *string    `json:"run_id,omitempty"`
	Type      string     `json:"type"`
	Level     EventLevel `json:"level"`
	Message   string     `json:"message"`
	Details   *string    `json:"details,omitempty"` // JSON blob
	Timestamp time.Time  `json:"timestamp"`
}

// Store defines the interface for the persistence layer
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Project operations
	CreateProject(ctx context.Context, project *Project, steps []Step) (*Branch, error)
	GetProject(ctx context.Context, id string) (*Project, error)
	ListProjects(ctx context.Context) ([]*Project, error)
	UpdateProjectState(ctx context.Context, id string, state string) error
	DeleteProject(ctx context.Context, id string) error

	// Branch and step operations
	GetBranch(ctx context.Context, projectID, name string) (*Branch, error)
	ListSteps(ctx context.Context, projectID string) ([]*Step, error)

	// Checkpoint operations
	SaveCheckpoint(ctx context.Context, checkpoint *Checkpoint) error
	ListCheckpoints(ctx context.Context, branchID string) ([]*Checkpoint, error)

	// Run operations
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	FinishRun(ctx context.Context, id string, status RunStatus, errMsg *string) error
	RollbackRun(ctx context.Context, id string, status RunStatus, errMsg *string) (int64, error)
	ListActiveRuns(ctx context.Context, projectID string) ([]*Run, error)

	// Event operations
	AppendEvent(ctx context.Context, event *Event) error
	ListEvents(ctx context.Context, projectID *string, limit, offset int) ([]*Event, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
