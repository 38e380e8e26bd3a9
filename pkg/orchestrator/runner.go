package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/openfroyo/pilot/pkg/engine"
	"github.com/openfroyo/pilot/pkg/sink"
	"github.com/openfroyo/pilot/pkg/stores"
	"github.com/openfroyo/pilot/pkg/telemetry"
)

// ErrInterrupted is returned when a run stops because its context ended.
var ErrInterrupted = engine.ErrInterrupted

// Runner executes step scripts in order, committing a checkpoint after
// each step. It implements engine.Orchestrator.
type Runner struct {
	tel      *telemetry.Telemetry
	logger   *telemetry.Logger
	maxSteps uint64
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithMaxExecutionSteps bounds the Starlark computation of a single step.
// Zero means unbounded.
func WithMaxExecutionSteps(n uint64) RunnerOption {
	return func(r *Runner) {
		r.maxSteps = n
	}
}

// NewRunner creates a runner reporting through tel.
func NewRunner(tel *telemetry.Telemetry, opts ...RunnerOption) *Runner {
	r := &Runner{
		tel:    tel,
		logger: tel.Logger.NewComponentLogger("orchestrator"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

var _ engine.Orchestrator = (*Runner)(nil)

// Run executes rc's remaining steps. Each step sees the merged globals of
// every step before it as the read-only dict `state`.
func (r *Runner) Run(ctx context.Context, rc *engine.RunContext) error {
	state := make(map[string]interface{}, len(rc.State))
	for k, v := range rc.State {
		state[k] = v
	}

	logger := r.logger.WithProjectID(rc.Project.ID).WithRunID(rc.RunID)

	for _, step := range rc.Remaining() {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w before step %s: %v", ErrInterrupted, step.Name, err)
		}

		data, err := r.runStep(ctx, rc, step, state)
		if err != nil {
			return err
		}

		if err := rc.Commit(ctx, step, data); err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("%w while checkpointing step %s: %v", ErrInterrupted, step.Name, ctx.Err())
			}
			return fmt.Errorf("failed to checkpoint step %s: %w", step.Name, err)
		}

		for k, v := range data {
			state[k] = v
		}
		logger.Debugf("step %d (%s) checkpointed", step.Index, step.Name)
	}

	return nil
}

// runStep executes one step script and returns its exported globals.
func (r *Runner) runStep(ctx context.Context, rc *engine.RunContext, step *stores.Step, state map[string]interface{}) (data map[string]interface{}, err error) {
	timer := telemetry.NewTimer()
	ctx, span := r.tel.Tracer.StartStepSpan(ctx, step.Name, step.Index)
	defer func() {
		status := "succeeded"
		switch {
		case errors.Is(err, ErrInterrupted):
			status = "interrupted"
		case err != nil:
			status = "failed"
		}
		r.tel.Metrics.RecordStepExecution(status, timer.Duration())
		if err != nil {
			telemetry.RecordError(span, err)
		} else {
			telemetry.RecordSuccess(span)
		}
		span.End()
	}()

	// The first sink error wins: a closed sink means the operator left.
	var sinkErr error
	thread := &starlark.Thread{
		Name: step.Name,
		Print: func(_ *starlark.Thread, msg string) {
			if err := rc.Sink.Emit(ctx, msg); err != nil && sinkErr == nil {
				sinkErr = err
			}
		},
	}
	if r.maxSteps > 0 {
		thread.SetMaxExecutionSteps(r.maxSteps)
	}
	stop := context.AfterFunc(ctx, func() {
		thread.Cancel("run interrupted")
	})
	defer stop()

	predeclared, err := r.predeclared(ctx, rc, state, &sinkErr)
	if err != nil {
		return nil, fmt.Errorf("step %s: %w", step.Name, err)
	}

	globals, execErr := starlark.ExecFile(thread, step.Name+".star", step.Script, predeclared)
	switch {
	case ctx.Err() != nil:
		return nil, fmt.Errorf("%w during step %s: %v", ErrInterrupted, step.Name, ctx.Err())
	case errors.Is(sinkErr, sink.ErrClosed):
		return nil, fmt.Errorf("%w during step %s: %v", ErrInterrupted, step.Name, sinkErr)
	case sinkErr != nil:
		return nil, fmt.Errorf("step %s: %w", step.Name, sinkErr)
	case execErr != nil:
		var evalErr *starlark.EvalError
		if errors.As(execErr, &evalErr) {
			return nil, fmt.Errorf("step %s: %s", step.Name, evalErr.Msg)
		}
		return nil, fmt.Errorf("step %s: %w", step.Name, execErr)
	}

	data, err = exportGlobals(globals)
	if err != nil {
		return nil, fmt.Errorf("step %s: %w", step.Name, err)
	}
	return data, nil
}

// predeclared builds the environment visible to step scripts.
func (r *Runner) predeclared(ctx context.Context, rc *engine.RunContext, state map[string]interface{}, sinkErr *error) (starlark.StringDict, error) {
	stateVal, err := toStarlarkValue(state)
	if err != nil {
		return nil, fmt.Errorf("failed to convert state: %w", err)
	}
	stateVal.Freeze()

	project := starlarkstruct.FromStringDict(starlarkstruct.Default, starlark.StringDict{
		"id":       starlark.String(rc.Project.ID),
		"name":     starlark.String(rc.Project.Name),
		"template": starlark.String(rc.Project.Template),
		"branch":   starlark.String(rc.Branch.Name),
		"run_id":   starlark.String(rc.RunID),
	})

	emit := starlark.NewBuiltin("emit", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var msg string
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &msg); err != nil {
			return nil, err
		}
		if err := rc.Sink.Emit(ctx, msg); err != nil {
			if *sinkErr == nil {
				*sinkErr = err
			}
			return nil, err
		}
		return starlark.None, nil
	})

	ask := starlark.NewBuiltin("ask", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var question string
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &question); err != nil {
			return nil, err
		}
		answer, err := rc.Sink.Ask(ctx, question)
		if err != nil {
			if *sinkErr == nil {
				*sinkErr = err
			}
			return nil, err
		}
		return starlarkstruct.FromStringDict(starlarkstruct.Default, starlark.StringDict{
			"text":   starlark.String(answer.Text),
			"button": starlark.String(answer.Button),
		}), nil
	})

	return starlark.StringDict{
		"struct":  starlark.NewBuiltin("struct", starlarkstruct.Make),
		"emit":    emit,
		"ask":     ask,
		"project": project,
		"state":   stateVal,
	}, nil
}
