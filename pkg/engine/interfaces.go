package engine

import (
	"context"
	"errors"

	"github.com/openfroyo/pilot/pkg/policy"
	"github.com/openfroyo/pilot/pkg/sink"
	"github.com/openfroyo/pilot/pkg/stores"
)

// ErrInterrupted is returned by an Orchestrator that stopped cooperatively
// between steps.
var ErrInterrupted = errors.New("run interrupted")

// ProjectStore is the persistence the lifecycle depends on.
// *stores.SQLiteStore implements it.
type ProjectStore interface {
	CreateProject(ctx context.Context, project *stores.Project, steps []stores.Step) (*stores.Branch, error)
	GetProject(ctx context.Context, id string) (*stores.Project, error)
	ListProjects(ctx context.Context) ([]*stores.Project, error)
	UpdateProjectState(ctx context.Context, id string, state string) error
	DeleteProject(ctx context.Context, id string) error

	GetBranch(ctx context.Context, projectID, name string) (*stores.Branch, error)
	ListSteps(ctx context.Context, projectID string) ([]*stores.Step, error)

	SaveCheckpoint(ctx context.Context, checkpoint *stores.Checkpoint) error
	ListCheckpoints(ctx context.Context, branchID string) ([]*stores.Checkpoint, error)

	CreateRun(ctx context.Context, run *stores.Run) error
	FinishRun(ctx context.Context, id string, status stores.RunStatus, errMsg *string) error
	RollbackRun(ctx context.Context, id string, status stores.RunStatus, errMsg *string) (int64, error)
	ListActiveRuns(ctx context.Context, projectID string) ([]*stores.Run, error)

	AppendEvent(ctx context.Context, event *stores.Event) error
}

// Orchestrator executes the remaining steps of a loaded project.
// It must return ErrInterrupted (or the context's error) when it stops
// because ctx was cancelled, and must call RunContext.Commit after each
// completed step.
type Orchestrator interface {
	Run(ctx context.Context, rc *RunContext) error
}

// CommitFunc persists the checkpoint of a completed step.
type CommitFunc func(ctx context.Context, step *stores.Step, data map[string]interface{}) error

// RunContext is everything an orchestrator needs for one run.
type RunContext struct {
	Project *stores.Project
	Branch  *stores.Branch
	RunID   string

	// Steps is the full plan; execution starts at Steps[Start].
	Steps []*stores.Step
	Start int

	// State is the merged checkpoint data of the steps before Start.
	State map[string]interface{}

	Sink   sink.Sink
	Commit CommitFunc
}

// Remaining returns the steps still to execute.
func (rc *RunContext) Remaining() []*stores.Step {
	if rc.Start >= len(rc.Steps) {
		return nil
	}
	return rc.Steps[rc.Start:]
}

// TemplateSource resolves a project template into its ordered steps.
type TemplateSource interface {
	// Default names the template used when create is given none.
	Default() string
	// Steps returns the template's steps in execution order.
	Steps(name string) ([]stores.Step, error)
}

// ErrUnknownTemplate is returned by a TemplateSource for names it does not know.
var ErrUnknownTemplate = errors.New("unknown template")

// Admitter decides whether a lifecycle operation may proceed.
// *policy.Engine implements it.
type Admitter interface {
	Admit(ctx context.Context, input policy.Input) (*policy.Decision, error)
}
