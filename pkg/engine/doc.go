// Package engine provides the execution bridge and the project lifecycle.
//
// # Overview
//
// Pilot turns one synchronous request into one asynchronous workflow:
//
//  1. Bridge - run the workflow to completion in a fresh scope (Bridge.Invoke)
//  2. Lifecycle - sequence the project transition (Session)
//  3. Orchestrator - execute the project's remaining steps (Orchestrator)
//  4. Outcome - fold everything said on the sink into one result (Outcome)
//
// # Project States
//
// A project moves through these states:
//
//	uninitialized -> created -> loaded -> running -> completed | failed | interrupted
//	completed | failed | interrupted -> loaded
//	any state except running -> deleted
//
// Transition enforces the table; the Session never writes a state the table
// does not allow.
//
// # Runs and Rollback
//
// Run always loads first. A failed load is Rejected and nothing is rolled
// back. Once the project is Running the orchestrator commits a checkpoint
// after each step; if the run fails or is interrupted, Rollback deletes the
// checkpoints written by that run so the project resumes from the last
// checkpoint before it. Rollback happens at most once per run and runs on a
// context that cannot be cancelled.
//
// Only one run or delete per project may be in flight in a process. A
// second one is rejected instead of waiting.
//
// # Errors
//
// Domain problems (unknown project, duplicate name, out-of-range step)
// answer false or Rejected with the reason written to the sink. Errors that
// escape a workflow are classified with *Error:
//
//	ErrorKindValidation   the caller sent bad input
//	ErrorKindDomain       an expected business-rule failure
//	ErrorKindInterrupted  cooperative cancellation
//	ErrorKindUnexpected   everything else
//
// The bridge converts anything that is not a validation error into an
// unexpected one, so the request boundary only has two error cases.
//
// # Usage
//
//	tel := telemetry.NewNopTelemetry()
//	lc := engine.NewLifecycle(store, orchestrator.NewRunner(tel), templates, tel)
//	bridge := engine.NewBridge(tel)
//
//	acc := sink.NewAccumulator()
//	res := bridge.Invoke(ctx, "run_project", lc.RunWorkflow(acc, id, "", nil))
//	if res.Err != nil {
//	    // 500
//	}
//	fmt.Print(res.Outcome.Output)
package engine
