// Package orchestrator executes the steps of a loaded project.
//
// Templates declare steps with dependencies; Plan orders them with a
// topological sort (Kahn's algorithm, level by level) so that the stored
// plan is a plain sequence indexed from zero. The Runner then walks the
// remaining part of that sequence and executes each step's Starlark script.
//
// Scripts see these predeclared names:
//
//	emit(msg)       append a line to the run's output
//	ask(question)   ask the operator; returns struct(text, button)
//	project         struct(id, name, template, branch, run_id)
//	state           frozen dict of every earlier step's globals
//	struct(**kw)    build a struct value
//
// A step's public globals become its checkpoint data. Cancellation is
// cooperative: the run context is checked between steps and cancels the
// Starlark thread mid-step, and either case surfaces as ErrInterrupted.
package orchestrator
