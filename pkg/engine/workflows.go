package engine

import (
	"context"

	"github.com/openfroyo/pilot/pkg/sink"
)

// withSink starts s, runs fn against a fresh session and stops s before the
// outcome is returned, so Output is final once the workflow is done.
func (lc *Lifecycle) withSink(s sink.Sink, fn func(ctx context.Context, sess *Session) (Outcome, error)) Workflow {
	return func(ctx context.Context) (out Outcome, err error) {
		if err := s.Start(ctx); err != nil {
			return Outcome{}, NewUnexpectedError("failed to start sink", err)
		}
		defer func() {
			if stopErr := s.Stop(context.WithoutCancel(ctx)); stopErr != nil {
				lc.logger.WithError(stopErr).Warn("failed to stop sink")
			}
			out.Output = s.Output()
		}()

		return fn(ctx, lc.NewSession(s))
	}
}

// CreateWorkflow creates a project called name from template, or from the
// default template when template is empty.
func (lc *Lifecycle) CreateWorkflow(s sink.Sink, name, template string) Workflow {
	return lc.withSink(s, func(ctx context.Context, sess *Session) (Outcome, error) {
		ok, err := sess.CreateFromTemplate(ctx, name, template)
		if err != nil {
			return Outcome{}, err
		}
		out := FromBool(ok, s.Output(), sess.rejectionReason())
		if ok {
			out = out.WithValue(ProjectSummary{ID: sess.Project().ID, Name: sess.Project().Name})
		}
		return out, nil
	})
}

// RunWorkflow runs project id on branch from step. Empty branch and nil
// step select the defaults.
func (lc *Lifecycle) RunWorkflow(s sink.Sink, id, branch string, step *int) Workflow {
	return lc.withSink(s, func(ctx context.Context, sess *Session) (Outcome, error) {
		return sess.Run(ctx, id, branch, step)
	})
}

// DeleteWorkflow deletes project id.
func (lc *Lifecycle) DeleteWorkflow(s sink.Sink, id string) Workflow {
	return lc.withSink(s, func(ctx context.Context, sess *Session) (Outcome, error) {
		ok, err := sess.Delete(ctx, id)
		if err != nil {
			return Outcome{}, err
		}
		return FromBool(ok, s.Output(), sess.rejectionReason()), nil
	})
}

// ListWorkflow lists every project. The summaries are in Outcome.Value.
func (lc *Lifecycle) ListWorkflow(s sink.Sink) Workflow {
	return lc.withSink(s, func(ctx context.Context, sess *Session) (Outcome, error) {
		projects, err := sess.List(ctx)
		if err != nil {
			return Outcome{}, err
		}
		return Completed(s.Output()).WithValue(projects), nil
	})
}
