package orchestrator

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/openfroyo/pilot/pkg/engine"
	"github.com/openfroyo/pilot/pkg/sink"
	"github.com/openfroyo/pilot/pkg/stores"
	"github.com/openfroyo/pilot/pkg/telemetry"
)

type commit struct {
	step string
	data map[string]interface{}
}

func newRunContext(t *testing.T, defs []StepDef, start int, state map[string]interface{}) (*engine.RunContext, *sink.Accumulator, *[]commit) {
	t.Helper()

	planned, err := Plan(defs)
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	steps := make([]*stores.Step, len(planned))
	for i := range planned {
		steps[i] = &planned[i]
	}

	acc := sink.NewAccumulator()
	if err := acc.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	var commits []commit
	rc := &engine.RunContext{
		Project: &stores.Project{ID: "p-1", Name: "demo", Template: "default"},
		Branch:  &stores.Branch{ID: "b-1", Name: "main"},
		RunID:   "r-1",
		Steps:   steps,
		Start:   start,
		State:   state,
		Sink:    acc,
		Commit: func(_ context.Context, step *stores.Step, data map[string]interface{}) error {
			commits = append(commits, commit{step: step.Name, data: data})
			return nil
		},
	}
	return rc, acc, &commits
}

func TestRunner_RunsStepsAndCommits(t *testing.T) {
	rc, acc, commits := newRunContext(t, []StepDef{
		{Name: "greet", Script: `emit("hello " + project.name)
count = 2
_scratch = "hidden"
def helper():
    return 1
`},
		{Name: "double", DependsOn: []string{"greet"}, Script: `total = state["count"] * 2
print("total", total)
`},
	}, 0, nil)

	if err := NewRunner(telemetry.NewNopTelemetry()).Run(context.Background(), rc); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if got := acc.Output(); got != "hello demo\ntotal 4\n" {
		t.Errorf("unexpected output %q", got)
	}

	if len(*commits) != 2 {
		t.Fatalf("expected 2 commits, got %d", len(*commits))
	}
	first := (*commits)[0]
	if first.step != "greet" || first.data["count"] != int64(2) {
		t.Errorf("unexpected first commit %+v", first)
	}
	if _, ok := first.data["_scratch"]; ok {
		t.Error("private globals should not be checkpointed")
	}
	if _, ok := first.data["helper"]; ok {
		t.Error("functions should not be checkpointed")
	}
	if (*commits)[1].data["total"] != int64(4) {
		t.Errorf("unexpected second commit %+v", (*commits)[1])
	}
}

func TestRunner_ResumesWithCheckpointState(t *testing.T) {
	// State restored from JSON carries numbers as float64.
	rc, _, commits := newRunContext(t, []StepDef{
		{Name: "one", Script: "count = 1"},
		{Name: "two", Script: "next = state['count'] + 1"},
	}, 1, map[string]interface{}{"count": float64(41)})

	if err := NewRunner(telemetry.NewNopTelemetry()).Run(context.Background(), rc); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(*commits) != 1 || (*commits)[0].step != "two" {
		t.Fatalf("expected only step two to run, got %+v", *commits)
	}
	if (*commits)[0].data["next"] != int64(42) {
		t.Errorf("expected next=42, got %v", (*commits)[0].data["next"])
	}
}

func TestRunner_StepFailureStopsRun(t *testing.T) {
	rc, _, commits := newRunContext(t, []StepDef{
		{Name: "ok", Script: "a = 1"},
		{Name: "broken", Script: `fail("disk full")`},
		{Name: "never", Script: "b = 2"},
	}, 0, nil)

	err := NewRunner(telemetry.NewNopTelemetry()).Run(context.Background(), rc)
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, ErrInterrupted) {
		t.Error("a failing script is not an interruption")
	}
	if !strings.Contains(err.Error(), "broken") || !strings.Contains(err.Error(), "disk full") {
		t.Errorf("unexpected error %q", err)
	}
	if len(*commits) != 1 {
		t.Errorf("expected 1 commit before failure, got %d", len(*commits))
	}
}

func TestRunner_StateIsReadOnly(t *testing.T) {
	rc, _, _ := newRunContext(t, []StepDef{
		{Name: "mutate", Script: `state["x"] = 1`},
	}, 0, nil)

	if err := NewRunner(telemetry.NewNopTelemetry()).Run(context.Background(), rc); err == nil {
		t.Fatal("expected error when mutating state")
	}
}

func TestRunner_CancelledContextInterrupts(t *testing.T) {
	rc, _, commits := newRunContext(t, []StepDef{{Name: "one", Script: "a = 1"}}, 0, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewRunner(telemetry.NewNopTelemetry()).Run(ctx, rc)
	if !errors.Is(err, ErrInterrupted) {
		t.Fatalf("expected ErrInterrupted, got %v", err)
	}
	if len(*commits) != 0 {
		t.Errorf("no step should be committed, got %d", len(*commits))
	}
}

func TestRunner_CancelDuringStep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rc, _, commits := newRunContext(t, []StepDef{
		{Name: "spin", Script: `
def spin():
    n = 0
    for i in range(100000000):
        n += i
    return n

result = spin()
`},
	}, 0, nil)

	// Cancel from inside the step, through the sink.
	rc.Sink = &cancelOnEmit{Sink: rc.Sink, cancel: cancel}
	rc.Steps[0].Script = "emit('starting')\n" + rc.Steps[0].Script

	err := NewRunner(telemetry.NewNopTelemetry()).Run(ctx, rc)
	if !errors.Is(err, ErrInterrupted) {
		t.Fatalf("expected ErrInterrupted, got %v", err)
	}
	if len(*commits) != 0 {
		t.Errorf("interrupted step must not be committed, got %d", len(*commits))
	}
}

func TestRunner_ClosedSinkInterrupts(t *testing.T) {
	rc, acc, _ := newRunContext(t, []StepDef{{Name: "talk", Script: `emit("hi")`}}, 0, nil)
	if err := acc.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	err := NewRunner(telemetry.NewNopTelemetry()).Run(context.Background(), rc)
	if !errors.Is(err, ErrInterrupted) {
		t.Fatalf("expected ErrInterrupted, got %v", err)
	}
}

func TestRunner_AskRecordsQuestion(t *testing.T) {
	rc, acc, commits := newRunContext(t, []StepDef{
		{Name: "confirm", Script: `answer = ask("Proceed?").text`},
	}, 0, nil)

	if err := NewRunner(telemetry.NewNopTelemetry()).Run(context.Background(), rc); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !strings.Contains(acc.Output(), "Proceed?") {
		t.Errorf("question not recorded: %q", acc.Output())
	}
	if (*commits)[0].data["answer"] != "" {
		t.Errorf("accumulator answers should be empty, got %v", (*commits)[0].data["answer"])
	}
}

func TestRunner_MaxExecutionSteps(t *testing.T) {
	rc, _, _ := newRunContext(t, []StepDef{
		{Name: "loop", Script: `
def loop():
    for i in range(1000000):
        pass

loop()
`},
	}, 0, nil)

	err := NewRunner(telemetry.NewNopTelemetry(), WithMaxExecutionSteps(1000)).Run(context.Background(), rc)
	if err == nil {
		t.Fatal("expected error when exceeding the step budget")
	}
	if errors.Is(err, ErrInterrupted) {
		t.Error("exhausting the step budget is a failure, not an interruption")
	}
}

type cancelOnEmit struct {
	sink.Sink
	cancel context.CancelFunc
}

func (c *cancelOnEmit) Emit(ctx context.Context, msg string) error {
	c.cancel()
	return c.Sink.Emit(ctx, msg)
}
