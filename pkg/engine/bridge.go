package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/openfroyo/pilot/pkg/telemetry"
)

// Workflow is one lifecycle operation executed by the bridge.
type Workflow func(ctx context.Context) (Outcome, error)

// Result is what a bridge invocation hands back to the request boundary.
type Result struct {
	Operation string
	Outcome   Outcome
	Duration  time.Duration

	// Err is set when the workflow raised instead of returning an Outcome.
	// It is always an *Error of kind unexpected or validation.
	Err error

	// TraceID identifies the invocation in logs and traces.
	TraceID string
}

// Success reports whether the workflow completed.
func (r Result) Success() bool {
	return r.Err == nil && r.Outcome.Success()
}

// Unexpected reports whether the workflow escaped with an unclassified error.
func (r Result) Unexpected() bool {
	return r.Err != nil && !IsValidation(r.Err)
}

// Kind names the result for metrics and logs.
func (r Result) Kind() string {
	if r.Err != nil {
		return string(KindOf(r.Err))
	}
	return string(r.Outcome.Kind)
}

// Bridge runs one asynchronous workflow to completion on behalf of a
// synchronous caller. Every invocation gets its own execution scope.
type Bridge struct {
	logger  *telemetry.Logger
	tracer  *telemetry.Tracer
	metrics *telemetry.Metrics
}

// NewBridge creates a bridge reporting through tel.
func NewBridge(tel *telemetry.Telemetry) *Bridge {
	return &Bridge{
		logger:  tel.Logger.NewComponentLogger("bridge"),
		tracer:  tel.Tracer,
		metrics: tel.Metrics,
	}
}

// Invoke runs wf inside a fresh scope derived from ctx and blocks until it
// returns. The scope is cancelled and drained before Invoke returns.
// Panics and raised errors never propagate: they are logged with their
// diagnostics and surface as Result.Err.
func (b *Bridge) Invoke(ctx context.Context, op string, wf Workflow) Result {
	timer := telemetry.NewTimer()

	ctx, span := b.tracer.StartInvocationSpan(ctx, op)
	defer span.End()

	traceID := telemetry.TraceID(ctx)
	logger := b.logger.WithOperation(op)
	if traceID != "" {
		logger = logger.WithField("trace_id", traceID)
	}
	ctx = logger.WithContext(ctx)

	var outcome Outcome
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic in %s workflow: %v\n%s", op, r, debug.Stack())
			}
		}()
		outcome, err = wf(gctx)
		return err
	})
	err := g.Wait()

	result := Result{
		Operation: op,
		Outcome:   outcome,
		Duration:  timer.Duration(),
		TraceID:   traceID,
	}

	if err != nil {
		if !IsValidation(err) {
			logger.WithError(err).
				WithField("error_kind", string(KindOf(err))).
				WithField("duration_ms", result.Duration.Milliseconds()).
				Error("workflow raised an unexpected error")
			var classified *Error
			if !errors.As(err, &classified) || classified.Kind != ErrorKindUnexpected {
				err = NewUnexpectedError(op+" failed", err).WithOp(op)
			}
		}
		result.Err = err
		result.Outcome = Outcome{}
		telemetry.RecordError(span, err)
	} else {
		telemetry.RecordSuccess(span)
		logger.Debugf("workflow finished: %s in %s", outcome.Kind, result.Duration)
	}

	span.SetAttributes(telemetry.AttrResult.String(result.Kind()))
	b.metrics.RecordInvocation(op, result.Kind(), result.Duration)

	return result
}
