package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/openfroyo/pilot/pkg/policy"
	"github.com/openfroyo/pilot/pkg/sink"
	"github.com/openfroyo/pilot/pkg/stores"
	"github.com/openfroyo/pilot/pkg/telemetry"
)

// ProjectSummary is one entry of a project listing.
type ProjectSummary struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Lifecycle holds the collaborators shared by every session: storage,
// orchestrator, templates, admission, telemetry, and the per-project run
// locks. It is safe for concurrent use.
type Lifecycle struct {
	store        ProjectStore
	orchestrator Orchestrator
	templates    TemplateSource
	admitter     Admitter
	tel          *telemetry.Telemetry
	logger       *telemetry.Logger
	locks        *projectLocks
}

// Option configures a Lifecycle.
type Option func(*Lifecycle)

// WithAdmitter makes every create, run and delete subject to admission.
func WithAdmitter(a Admitter) Option {
	return func(lc *Lifecycle) {
		lc.admitter = a
	}
}

// NewLifecycle wires the lifecycle and subscribes it to tel's event stream
// so that lifecycle events are appended to the store's event log.
func NewLifecycle(store ProjectStore, orch Orchestrator, templates TemplateSource, tel *telemetry.Telemetry, opts ...Option) *Lifecycle {
	lc := &Lifecycle{
		store:        store,
		orchestrator: orch,
		templates:    templates,
		tel:          tel,
		logger:       tel.Logger.NewComponentLogger("lifecycle"),
		locks:        newProjectLocks(),
	}
	for _, opt := range opts {
		opt(lc)
	}

	tel.Events.Subscribe(lc.recordEvent, nil)
	return lc
}

// recordEvent persists a telemetry event to the event log.
func (lc *Lifecycle) recordEvent(e telemetry.Event) {
	event := &stores.Event{
		Type:      e.Type,
		Level:     stores.EventLevel(e.Level),
		Message:   e.Message,
		Timestamp: e.Timestamp,
	}
	if e.ProjectID != "" {
		projectID := e.ProjectID
		event.ProjectID = &projectID
	}
	if e.RunID != "" {
		runID := e.RunID
		event.RunID = &runID
	}
	if len(e.Data) > 0 {
		if data, err := json.Marshal(e.Data); err == nil {
			details := string(data)
			event.Details = &details
		}
	}

	if err := lc.store.AppendEvent(context.Background(), event); err != nil {
		lc.logger.WithError(err).Warnf("failed to persist %s event", e.Type)
	}
}

// Session is the per-invocation view of the lifecycle: one sink and at
// most one project in flight. Sessions are not safe for concurrent use.
type Session struct {
	lc     *Lifecycle
	sink   sink.Sink
	id     string
	logger *telemetry.Logger

	state   ProjectState
	project *stores.Project
	branch  *stores.Branch
	steps   []*stores.Step
	start   int
	base    map[string]interface{}

	run      *stores.Run
	runTimer *telemetry.Timer
	holding  string

	rejection error
}

// NewSession starts a session that reports to s.
func (lc *Lifecycle) NewSession(s sink.Sink) *Session {
	id := uuid.NewString()
	return &Session{
		lc:     lc,
		sink:   s,
		id:     id,
		logger: lc.logger.WithField("session_id", id),
		state:  StateUninitialized,
	}
}

// State returns the session's view of the project state.
func (s *Session) State() ProjectState {
	return s.state
}

// Project returns the project the session last created or loaded.
func (s *Session) Project() *stores.Project {
	return s.project
}

// StartStep returns the index the next run starts at.
func (s *Session) StartStep() int {
	return s.start
}

func (s *Session) transition(to ProjectState) error {
	next, err := Transition(s.state, to)
	if err != nil {
		e := NewUnexpectedError("invalid lifecycle transition", err)
		if s.project != nil {
			e = e.WithProject(s.project.ID)
		}
		return e
	}
	s.state = next
	return nil
}

// Rejection returns why the last operation answered false.
func (s *Session) Rejection() error {
	return s.rejection
}

func (s *Session) rejectionReason() string {
	if s.rejection == nil {
		return "rejected"
	}
	return s.rejection.Error()
}

// reject records reason, emits msg and answers false.
func (s *Session) reject(ctx context.Context, reason error, msg string) (bool, error) {
	s.rejection = reason
	s.say(ctx, msg)
	return false, nil
}

// say emits a user-facing line. A closed sink is not an error here.
func (s *Session) say(ctx context.Context, msg string) {
	if err := s.sink.Emit(ctx, msg); err != nil && !errors.Is(err, sink.ErrClosed) {
		s.logger.WithError(err).Warn("failed to emit message")
	}
}

// admit asks the admitter about op. A denial is reported to the sink and
// returned as false; only a broken admitter produces an error.
func (s *Session) admit(ctx context.Context, op string, project policy.ProjectInput) (bool, error) {
	if s.lc.admitter == nil {
		return true, nil
	}

	decision, err := s.lc.admitter.Admit(ctx, policy.Input{Operation: op, Project: project})
	if err != nil {
		if ctx.Err() != nil {
			s.rejection = ctx.Err()
			return false, nil
		}
		return false, NewUnexpectedError("admission failed", err).WithOp(op).WithProject(project.ID)
	}

	for _, w := range decision.Warnings {
		if w.Severity == policy.SeverityWarning {
			s.say(ctx, "Warning: "+w.Message)
		}
	}

	if !decision.Allowed {
		s.lc.tel.Metrics.RecordPolicyDenial(op)
		_ = s.lc.tel.Events.PublishPolicyDenied(project.ID, op, decision.Reasons())
		for _, reason := range decision.Reasons() {
			s.say(ctx, "Denied: "+reason)
		}
		s.logger.WithOperation(op).Infof("admission denied: %s", decision)
		s.rejection = ErrPolicyDenied
		return false, nil
	}
	return true, nil
}

// Create creates a project from the default template.
func (s *Session) Create(ctx context.Context, name string) (bool, error) {
	return s.CreateFromTemplate(ctx, name, "")
}

// CreateFromTemplate persists a new project, its default branch and the
// template's steps in one transaction. Any rejection answers false with the
// reason emitted to the sink.
func (s *Session) CreateFromTemplate(ctx context.Context, name, template string) (bool, error) {
	s.reset()

	if strings.TrimSpace(name) == "" {
		return s.reject(ctx, ErrInvalidName, "Project name must not be empty")
	}

	if template == "" {
		template = s.lc.templates.Default()
	}
	steps, err := s.lc.templates.Steps(template)
	if err != nil {
		if errors.Is(err, ErrUnknownTemplate) {
			return s.reject(ctx, ErrUnknownTemplate, fmt.Sprintf("Template '%s' not found", template))
		}
		return false, NewUnexpectedError("failed to resolve template", err).WithOp("create").WithDetail("template", template)
	}

	ok, err := s.admit(ctx, "create", policy.ProjectInput{Name: name, Template: template, Steps: len(steps)})
	if err != nil || !ok {
		return false, err
	}

	now := time.Now().UTC()
	project := &stores.Project{
		ID:        uuid.NewString(),
		Name:      name,
		Template:  template,
		State:     string(StateCreated),
		CreatedAt: now,
		UpdatedAt: now,
	}

	branch, err := s.lc.store.CreateProject(ctx, project, steps)
	if err != nil {
		if errors.Is(err, stores.ErrConflict) {
			return s.reject(ctx, ErrDuplicateName, fmt.Sprintf("A project named '%s' already exists", name))
		}
		s.logger.WithError(err).Warnf("store rejected project %q", name)
		return s.reject(ctx, ErrStorageRejected, fmt.Sprintf("Storage rejected project '%s'", name))
	}

	if err := s.transition(StateCreated); err != nil {
		return false, err
	}
	s.project = project
	s.branch = branch

	_ = s.lc.tel.Events.PublishProjectCreated(project.ID, name, template)
	s.logger.WithProjectID(project.ID).Infof("project %q created from template %s with %d steps", name, template, len(steps))
	s.say(ctx, fmt.Sprintf("Project '%s' created successfully", name))
	return true, nil
}

// Load reads a project and its branch checkpoints and picks the step the
// next run starts from. branch defaults to "main". step, when given, must
// lie between 0 and the number of leading steps that have checkpoints.
func (s *Session) Load(ctx context.Context, id, branch string, step *int) (bool, error) {
	s.rejection = nil

	project, err := s.lc.store.GetProject(ctx, id)
	if errors.Is(err, stores.ErrNotFound) {
		return s.reject(ctx, ErrProjectNotFound, fmt.Sprintf("Project '%s' not found", id))
	}
	if err != nil {
		return false, NewUnexpectedError("failed to read project", err).WithOp("load").WithProject(id)
	}

	state := ProjectState(project.State)
	if err := state.Validate(); err != nil {
		return false, NewUnexpectedError("stored project state is invalid", err).WithOp("load").WithProject(id)
	}

	if state == StateRunning {
		// Either a run in this process owns the project, or a previous
		// process died mid-run and left it marked running.
		if s.holding != id {
			unlock, ok := s.lc.locks.TryLock(id, s.id)
			if !ok {
				return s.reject(ctx, ErrProjectRunning, fmt.Sprintf("Project '%s' is running", id))
			}
			defer unlock()
		}
		if err := s.recoverAbandonedRuns(ctx, project); err != nil {
			return false, err
		}
		state = StateInterrupted
	}

	s.state = state
	if !state.CanTransition(StateLoaded) {
		return s.reject(ctx, ErrNotLoaded, fmt.Sprintf("Project '%s' cannot be loaded while %s", id, state))
	}

	if branch == "" {
		branch = stores.DefaultBranch
	}
	b, err := s.lc.store.GetBranch(ctx, id, branch)
	if errors.Is(err, stores.ErrNotFound) {
		return s.reject(ctx, ErrBranchNotFound, fmt.Sprintf("Branch '%s' not found in project '%s'", branch, id))
	}
	if err != nil {
		return false, NewUnexpectedError("failed to read branch", err).WithOp("load").WithProject(id)
	}

	steps, err := s.lc.store.ListSteps(ctx, id)
	if err != nil {
		return false, NewUnexpectedError("failed to read steps", err).WithOp("load").WithProject(id)
	}

	checkpoints, err := s.lc.store.ListCheckpoints(ctx, b.ID)
	if err != nil {
		return false, NewUnexpectedError("failed to read checkpoints", err).WithOp("load").WithProject(id)
	}

	// Checkpoints arrive ordered by step and id, so the newest per step wins.
	latest := make(map[int]*stores.Checkpoint, len(steps))
	for _, cp := range checkpoints {
		latest[cp.StepIndex] = cp
	}
	resumable := 0
	for resumable < len(steps) {
		if _, ok := latest[resumable]; !ok {
			break
		}
		resumable++
	}

	start := resumable
	if step != nil {
		if *step < 0 || *step > resumable {
			return s.reject(ctx, ErrStepOutOfRange, fmt.Sprintf("Step %d is out of range for project '%s' (0-%d)", *step, id, resumable))
		}
		start = *step
	}

	base := make(map[string]interface{})
	for i := 0; i < start; i++ {
		var data map[string]interface{}
		if err := json.Unmarshal([]byte(latest[i].Data), &data); err != nil {
			s.logger.WithProjectID(id).WithError(err).Warnf("corrupted checkpoint %d", latest[i].ID)
			return s.reject(ctx, ErrCorruptCheckpoint, fmt.Sprintf("Checkpoint for step '%s' is corrupted", steps[i].Name))
		}
		for k, v := range data {
			base[k] = v
		}
	}

	if err := s.transition(StateLoaded); err != nil {
		return false, err
	}
	if err := s.lc.store.UpdateProjectState(ctx, id, string(StateLoaded)); err != nil {
		return false, NewUnexpectedError("failed to record project state", err).WithOp("load").WithProject(id)
	}

	project.State = string(StateLoaded)
	s.project = project
	s.branch = b
	s.steps = steps
	s.start = start
	s.base = base

	if start > 0 && start < len(steps) {
		s.say(ctx, fmt.Sprintf("Resuming project '%s' at step %d of %d", project.Name, start+1, len(steps)))
	}
	return true, nil
}

// recoverAbandonedRuns rolls back runs left active by a process that died.
// The caller holds the project's lock.
func (s *Session) recoverAbandonedRuns(ctx context.Context, project *stores.Project) error {
	ctx = context.WithoutCancel(ctx)

	runs, err := s.lc.store.ListActiveRuns(ctx, project.ID)
	if err != nil {
		return NewUnexpectedError("failed to list active runs", err).WithOp("load").WithProject(project.ID)
	}

	reason := "abandoned by a previous process"
	for _, run := range runs {
		removed, err := s.lc.store.RollbackRun(ctx, run.ID, stores.RunStatusInterrupted, &reason)
		if err != nil {
			return NewUnexpectedError("failed to roll back abandoned run", err).WithOp("load").WithProject(project.ID)
		}
		s.lc.tel.Metrics.RecordRollback("abandoned")
		_ = s.lc.tel.Events.PublishRolledBack(project.ID, run.ID, removed)
		s.logger.WithProjectID(project.ID).WithRunID(run.ID).Warn("rolled back abandoned run")
	}

	if err := s.lc.store.UpdateProjectState(ctx, project.ID, string(StateInterrupted)); err != nil {
		return NewUnexpectedError("failed to record project state", err).WithOp("load").WithProject(project.ID)
	}
	if len(runs) > 0 {
		s.say(ctx, fmt.Sprintf("Recovered %d interrupted run(s) of project '%s'", len(runs), project.Name))
	}
	return nil
}

// Run loads the project and hands its remaining steps to the orchestrator.
// A load failure is Rejected without rollback. A run that fails or is
// interrupted is rolled back exactly once before Run returns.
func (s *Session) Run(ctx context.Context, id, branch string, step *int) (Outcome, error) {
	unlock, ok := s.lc.locks.TryLock(id, s.id)
	if !ok {
		_, _ = s.reject(ctx, ErrAlreadyRunning, fmt.Sprintf("Project '%s' is already running", id))
		return Rejected(s.sink.Output(), ErrAlreadyRunning.Error()), nil
	}
	s.holding = id
	defer func() {
		s.holding = ""
		unlock()
	}()

	loaded, err := s.Load(ctx, id, branch, step)
	if err != nil {
		return s.abort(ctx, err)
	}
	if !loaded {
		return Rejected(s.sink.Output(), s.rejectionReason()), nil
	}

	ok, err = s.admit(ctx, "run", policy.ProjectInput{
		ID:       s.project.ID,
		Name:     s.project.Name,
		Template: s.project.Template,
		State:    string(s.state),
		Steps:    len(s.steps),
	})
	if err != nil {
		return s.abort(ctx, err)
	}
	if !ok {
		return Rejected(s.sink.Output(), s.rejectionReason()), nil
	}

	if err := s.begin(ctx); err != nil {
		return s.abort(ctx, err)
	}

	runCtx, span := s.lc.tel.Tracer.StartRunSpan(ctx, s.project.ID, s.run.ID)
	defer span.End()

	rc := &RunContext{
		Project: s.project,
		Branch:  s.branch,
		RunID:   s.run.ID,
		Steps:   s.steps,
		Start:   s.start,
		State:   s.base,
		Sink:    s.sink,
		Commit:  s.commit,
	}
	if len(rc.Remaining()) == 0 {
		s.say(ctx, fmt.Sprintf("Project '%s' has no remaining steps", s.project.Name))
	}

	runErr := s.lc.orchestrator.Run(runCtx, rc)
	if runErr != nil {
		telemetry.RecordError(span, runErr)
	} else {
		telemetry.RecordSuccess(span)
	}
	return s.finish(ctx, runErr)
}

// abort settles a run that never reached the orchestrator. When the caller
// went away the store error is a symptom of the cancellation, so the run is
// rejected rather than reported as unexpected.
func (s *Session) abort(ctx context.Context, err error) (Outcome, error) {
	if ctx.Err() == nil {
		return Outcome{}, err
	}
	s.rejection = ctx.Err()
	s.logger.WithError(err).Debug("run cancelled before it started")
	return Rejected(s.sink.Output(), ctx.Err().Error()), nil
}

// begin moves a loaded project into Running and records the run.
func (s *Session) begin(ctx context.Context) error {
	if !s.state.CanTransition(StateRunning) {
		return NewUnexpectedError("project is not loaded", ErrNotLoaded).WithOp("run")
	}

	run := &stores.Run{
		ID:        uuid.NewString(),
		ProjectID: s.project.ID,
		BranchID:  s.branch.ID,
		Status:    stores.RunStatusRunning,
		StartStep: s.start,
		StartedAt: time.Now().UTC(),
	}
	if err := s.lc.store.CreateRun(ctx, run); err != nil {
		return NewUnexpectedError("failed to record run", err).WithOp("run").WithProject(s.project.ID)
	}
	if err := s.transition(StateRunning); err != nil {
		return err
	}
	s.run = run
	s.runTimer = telemetry.NewTimer()

	if err := s.lc.store.UpdateProjectState(ctx, s.project.ID, string(StateRunning)); err != nil {
		cause := err.Error()
		s.state = StateFailed
		if rbErr := s.rollback(ctx, stores.RunStatusFailed, &cause, "failed"); rbErr != nil {
			s.logger.WithError(rbErr).Error("rollback after failed start also failed")
		}
		return NewUnexpectedError("failed to record project state", err).WithOp("run").WithProject(s.project.ID)
	}

	s.lc.tel.Metrics.RecordRunStarted()
	_ = s.lc.tel.Events.PublishRunStarted(s.project.ID, run.ID, s.branch.Name, s.start)
	s.logger.WithProjectID(s.project.ID).WithRunID(run.ID).Infof("run started at step %d of %d", s.start, len(s.steps))
	return nil
}

// finish classifies the orchestrator's result and settles the run.
func (s *Session) finish(ctx context.Context, runErr error) (Outcome, error) {
	run := s.run
	duration := s.runTimer.Duration()
	logger := s.logger.WithProjectID(run.ProjectID).WithRunID(run.ID)
	settle := context.WithoutCancel(ctx)

	if runErr == nil {
		if err := s.lc.store.FinishRun(settle, run.ID, stores.RunStatusCompleted, nil); err != nil {
			runErr = fmt.Errorf("failed to record run completion: %w", err)
		}
	}

	switch {
	case runErr == nil:
		if err := s.transition(StateCompleted); err != nil {
			return Outcome{}, err
		}
		s.run = nil
		if err := s.lc.store.UpdateProjectState(settle, run.ProjectID, string(StateCompleted)); err != nil {
			return Outcome{}, NewUnexpectedError("failed to record project state", err).WithOp("run").WithProject(run.ProjectID)
		}
		s.lc.tel.Metrics.RecordRunFinished(string(OutcomeCompleted), duration)
		_ = s.lc.tel.Events.PublishRunFinished(run.ProjectID, run.ID, string(OutcomeCompleted), duration, "")
		logger.Infof("run completed in %s", duration)
		return Completed(s.sink.Output()), nil

	case isInterrupt(ctx, runErr):
		if err := s.transition(StateInterrupted); err != nil {
			return Outcome{}, err
		}
		s.lc.tel.Metrics.RecordRunFinished(string(OutcomeInterrupted), duration)
		_ = s.lc.tel.Events.PublishRunFinished(run.ProjectID, run.ID, string(OutcomeInterrupted), duration, "")
		logger.Warnf("run interrupted after %s: %v", duration, runErr)
		if err := s.rollback(ctx, stores.RunStatusInterrupted, nil, "interrupted"); err != nil {
			return Outcome{}, err
		}
		return Interrupted(s.sink.Output()), nil

	default:
		msg := runErr.Error()
		if err := s.transition(StateFailed); err != nil {
			return Outcome{}, err
		}
		s.say(ctx, "Error: "+msg)
		s.lc.tel.Metrics.RecordRunFinished(string(OutcomeFailed), duration)
		_ = s.lc.tel.Events.PublishRunFinished(run.ProjectID, run.ID, string(OutcomeFailed), duration, msg)
		logger.WithError(runErr).Warnf("run failed after %s", duration)
		if err := s.rollback(ctx, stores.RunStatusFailed, &msg, "failed"); err != nil {
			return Outcome{}, err
		}
		return Failed(s.sink.Output(), runErr), nil
	}
}

func isInterrupt(ctx context.Context, err error) bool {
	return ctx.Err() != nil ||
		errors.Is(err, ErrInterrupted) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, sink.ErrClosed) ||
		IsInterrupted(err)
}

// commit persists the checkpoint of a completed step of the active run.
func (s *Session) commit(ctx context.Context, step *stores.Step, data map[string]interface{}) error {
	if s.run == nil {
		return ErrNotLoaded
	}
	if data == nil {
		data = map[string]interface{}{}
	}

	encoded, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint for step %s: %w", step.Name, err)
	}

	return s.lc.store.SaveCheckpoint(ctx, &stores.Checkpoint{
		ProjectID: s.run.ProjectID,
		BranchID:  s.run.BranchID,
		RunID:     s.run.ID,
		StepIndex: step.Index,
		StepName:  step.Name,
		Data:      string(encoded),
	})
}

// Rollback discards the checkpoints of the active run and returns the
// project to Loaded. Without an active run it does nothing.
func (s *Session) Rollback(ctx context.Context) error {
	if s.run == nil {
		return nil
	}

	status := stores.RunStatusInterrupted
	switch s.state {
	case StateFailed:
		status = stores.RunStatusFailed
	case StateRunning:
		if err := s.transition(StateInterrupted); err != nil {
			return err
		}
	}
	return s.rollback(ctx, status, nil, string(status))
}

// rollback runs at most once per run and is not cancellable: the run is
// detached from the session before the store is touched.
func (s *Session) rollback(ctx context.Context, status stores.RunStatus, reason *string, cause string) error {
	if s.run == nil {
		return nil
	}
	run := s.run
	s.run = nil
	ctx = context.WithoutCancel(ctx)

	removed, err := s.lc.store.RollbackRun(ctx, run.ID, status, reason)
	if err != nil {
		return NewUnexpectedError("rollback failed", err).WithOp("rollback").WithProject(run.ProjectID)
	}
	if err := s.transition(StateLoaded); err != nil {
		return err
	}
	if err := s.lc.store.UpdateProjectState(ctx, run.ProjectID, string(StateLoaded)); err != nil {
		return NewUnexpectedError("failed to record project state", err).WithOp("rollback").WithProject(run.ProjectID)
	}

	s.lc.tel.Metrics.RecordRollback(cause)
	_ = s.lc.tel.Events.PublishRolledBack(run.ProjectID, run.ID, removed)
	s.logger.WithProjectID(run.ProjectID).WithRunID(run.ID).Infof("rolled back, %d checkpoints discarded", removed)
	return nil
}

// Delete removes a project and everything it owns. A project with a run in
// flight in this process cannot be deleted.
func (s *Session) Delete(ctx context.Context, id string) (bool, error) {
	s.rejection = nil

	unlock, ok := s.lc.locks.TryLock(id, s.id)
	if !ok {
		return s.reject(ctx, ErrProjectRunning, fmt.Sprintf("Project '%s' is running", id))
	}
	defer unlock()

	project, err := s.lc.store.GetProject(ctx, id)
	if errors.Is(err, stores.ErrNotFound) {
		return s.reject(ctx, ErrProjectNotFound, fmt.Sprintf("Project '%s' not found", id))
	}
	if err != nil {
		if ctx.Err() != nil {
			s.rejection = ctx.Err()
			return false, nil
		}
		return false, NewUnexpectedError("failed to read project", err).WithOp("delete").WithProject(id)
	}

	state := ProjectState(project.State)
	if state == StateRunning {
		// No run in this process holds the lock, so the run was abandoned.
		state = StateInterrupted
	}

	ok, err = s.admit(ctx, "delete", policy.ProjectInput{
		ID:       project.ID,
		Name:     project.Name,
		Template: project.Template,
		State:    string(state),
	})
	if err != nil || !ok {
		return false, err
	}

	if err := s.lc.store.DeleteProject(ctx, id); err != nil {
		if errors.Is(err, stores.ErrNotFound) {
			return s.reject(ctx, ErrProjectNotFound, fmt.Sprintf("Project '%s' not found", id))
		}
		if ctx.Err() != nil {
			s.rejection = ctx.Err()
			return false, nil
		}
		return false, NewUnexpectedError("failed to delete project", err).WithOp("delete").WithProject(id)
	}

	s.state = state
	if err := s.transition(StateDeleted); err != nil {
		return false, err
	}
	s.project = nil

	_ = s.lc.tel.Events.PublishProjectDeleted(id)
	s.logger.WithProjectID(id).Info("project deleted")
	return true, nil
}

// List returns every project ordered by creation time.
func (s *Session) List(ctx context.Context) ([]ProjectSummary, error) {
	projects, err := s.lc.store.ListProjects(ctx)
	if err != nil {
		return nil, NewUnexpectedError("failed to list projects", err).WithOp("list")
	}

	summaries := make([]ProjectSummary, 0, len(projects))
	for _, p := range projects {
		summaries = append(summaries, ProjectSummary{ID: p.ID, Name: p.Name})
	}
	return summaries, nil
}

func (s *Session) reset() {
	s.rejection = nil
	s.state = StateUninitialized
	s.project = nil
	s.branch = nil
	s.steps = nil
	s.start = 0
	s.base = nil
}
