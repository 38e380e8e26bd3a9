package stores

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

// setupTestStore creates a file-backed SQLite store in a temporary directory
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{
		Path: filepath.Join(t.TempDir(), "pilot.db"),
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}

	t.Cleanup(func() { _ = store.Close() })
	return store
}

func createTestProject(t *testing.T, store *SQLiteStore, id, name string) *Branch {
	t.Helper()

	now := time.Now()
	branch, err := store.CreateProject(context.Background(), &Project{
		ID:        id,
		Name:      name,
		Template:  "default",
		State:     "created",
		CreatedAt: now,
		UpdatedAt: now,
	}, []Step{
		{Index: 0, Name: "scaffold", Script: `emit("scaffold")`},
		{Index: 1, Name: "build", DependsOn: []string{"scaffold"}, Script: `emit("build")`},
	})
	if err != nil {
		t.Fatalf("failed to create project: %v", err)
	}
	return branch
}

// TestStoreLifecycle tests database initialization and closure
func TestStoreLifecycle(t *testing.T) {
	store, err := NewSQLiteStore(Config{
		Path: ":memory:",
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate in-memory store: %v", err)
	}

	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}

	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}
}

func TestNewSQLiteStore_RequiresPath(t *testing.T) {
	if _, err := NewSQLiteStore(Config{}); err == nil {
		t.Fatal("expected error for empty path")
	}
}

// TestStoreMigrations tests database migrations
func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	tables := []string{"projects", "branches", "project_steps", "runs", "checkpoints", "events"}
	for _, table := range tables {
		query := "SELECT COUNT(*) FROM " + table
		var count int
		if err := store.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
			t.Errorf("table %s does not exist or is not accessible: %v", table, err)
		}
	}

	// Migrating twice is a no-op.
	if err := store.Migrate(ctx); err != nil {
		t.Errorf("second migration failed: %v", err)
	}
}

func TestProjectCRUD(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	branch := createTestProject(t, store, "p-1", "demo")
	if branch.Name != DefaultBranch {
		t.Errorf("expected default branch %q, got %q", DefaultBranch, branch.Name)
	}

	project, err := store.GetProject(ctx, "p-1")
	if err != nil {
		t.Fatalf("failed to get project: %v", err)
	}
	if project.Name != "demo" || project.State != "created" {
		t.Errorf("unexpected project: %+v", project)
	}

	steps, err := store.ListSteps(ctx, "p-1")
	if err != nil {
		t.Fatalf("failed to list steps: %v", err)
	}
	if len(steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(steps))
	}
	if steps[1].Name != "build" || len(steps[1].DependsOn) != 1 || steps[1].DependsOn[0] != "scaffold" {
		t.Errorf("unexpected second step: %+v", steps[1])
	}

	if err := store.UpdateProjectState(ctx, "p-1", "loaded"); err != nil {
		t.Fatalf("failed to update state: %v", err)
	}
	project, _ = store.GetProject(ctx, "p-1")
	if project.State != "loaded" {
		t.Errorf("expected state loaded, got %s", project.State)
	}

	projects, err := store.ListProjects(ctx)
	if err != nil {
		t.Fatalf("failed to list projects: %v", err)
	}
	if len(projects) != 1 || projects[0].ID != "p-1" {
		t.Errorf("unexpected project list: %+v", projects)
	}

	if err := store.DeleteProject(ctx, "p-1"); err != nil {
		t.Fatalf("failed to delete project: %v", err)
	}
	if _, err := store.GetProject(ctx, "p-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if err := store.DeleteProject(ctx, "p-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound deleting twice, got %v", err)
	}
	steps, _ = store.ListSteps(ctx, "p-1")
	if len(steps) != 0 {
		t.Errorf("expected steps to cascade, got %d", len(steps))
	}
}

func TestCreateProject_DuplicateName(t *testing.T) {
	store := setupTestStore(t)
	createTestProject(t, store, "p-1", "demo")

	now := time.Now()
	_, err := store.CreateProject(context.Background(), &Project{
		ID: "p-2", Name: "demo", Template: "default", State: "created",
		CreatedAt: now, UpdatedAt: now,
	}, nil)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	// The failed transaction must not leave a branch behind.
	if _, err := store.GetBranch(context.Background(), "p-2", DefaultBranch); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected no branch for rejected project, got %v", err)
	}
}

func TestGetBranch(t *testing.T) {
	store := setupTestStore(t)
	createTestProject(t, store, "p-1", "demo")
	ctx := context.Background()

	branch, err := store.GetBranch(ctx, "p-1", DefaultBranch)
	if err != nil {
		t.Fatalf("failed to get branch: %v", err)
	}
	if branch.ProjectID != "p-1" {
		t.Errorf("unexpected branch: %+v", branch)
	}

	if _, err := store.GetBranch(ctx, "p-1", "feature"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown branch, got %v", err)
	}
}

func TestRunRollbackRemovesOnlyItsCheckpoints(t *testing.T) {
	store := setupTestStore(t)
	branch := createTestProject(t, store, "p-1", "demo")
	ctx := context.Background()

	first := &Run{ID: "run-1", ProjectID: "p-1", BranchID: branch.ID, Status: RunStatusRunning, StartedAt: time.Now()}
	if err := store.CreateRun(ctx, first); err != nil {
		t.Fatalf("failed to create run: %v", err)
	}
	if err := store.SaveCheckpoint(ctx, &Checkpoint{
		ProjectID: "p-1", BranchID: branch.ID, RunID: "run-1", StepIndex: 0, StepName: "scaffold", Data: `{"a":1}`,
	}); err != nil {
		t.Fatalf("failed to save checkpoint: %v", err)
	}
	if err := store.FinishRun(ctx, "run-1", RunStatusCompleted, nil); err != nil {
		t.Fatalf("failed to finish run: %v", err)
	}

	second := &Run{ID: "run-2", ProjectID: "p-1", BranchID: branch.ID, Status: RunStatusRunning, StartStep: 1, StartedAt: time.Now()}
	if err := store.CreateRun(ctx, second); err != nil {
		t.Fatalf("failed to create run: %v", err)
	}
	active, err := store.ListActiveRuns(ctx, "p-1")
	if err != nil {
		t.Fatalf("failed to list active runs: %v", err)
	}
	if len(active) != 1 || active[0].ID != "run-2" {
		t.Fatalf("expected run-2 to be the only active run, got %+v", active)
	}

	if err := store.SaveCheckpoint(ctx, &Checkpoint{
		ProjectID: "p-1", BranchID: branch.ID, RunID: "run-2", StepIndex: 1, StepName: "build", Data: `{}`,
	}); err != nil {
		t.Fatalf("failed to save checkpoint: %v", err)
	}

	msg := "boom"
	removed, err := store.RollbackRun(ctx, "run-2", RunStatusFailed, &msg)
	if err != nil {
		t.Fatalf("rollback failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("expected 1 checkpoint removed, got %d", removed)
	}

	checkpoints, err := store.ListCheckpoints(ctx, branch.ID)
	if err != nil {
		t.Fatalf("failed to list checkpoints: %v", err)
	}
	if len(checkpoints) != 1 || checkpoints[0].RunID != "run-1" {
		t.Errorf("expected only run-1 checkpoint to remain, got %+v", checkpoints)
	}

	run, err := store.GetRun(ctx, "run-2")
	if err != nil {
		t.Fatalf("failed to get run: %v", err)
	}
	if run.Status != RunStatusFailed || run.Error == nil || *run.Error != msg {
		t.Errorf("unexpected rolled back run: %+v", run)
	}
	if run.CompletedAt == nil {
		t.Error("expected CompletedAt to be set")
	}

	if _, err := store.RollbackRun(ctx, "missing", RunStatusFailed, nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown run, got %v", err)
	}
}

func TestEventsSurviveProjectDeletion(t *testing.T) {
	store := setupTestStore(t)
	createTestProject(t, store, "p-1", "demo")
	ctx := context.Background()

	projectID := "p-1"
	for _, typ := range []string{"project.created", "project.deleted"} {
		if err := store.AppendEvent(ctx, &Event{
			ProjectID: &projectID,
			Type:      typ,
			Level:     EventLevelInfo,
			Message:   typ,
		}); err != nil {
			t.Fatalf("failed to append event: %v", err)
		}
	}
	if err := store.DeleteProject(ctx, projectID); err != nil {
		t.Fatalf("failed to delete project: %v", err)
	}

	events, err := store.ListEvents(ctx, &projectID, 10, 0)
	if err != nil {
		t.Fatalf("failed to list events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Type != "project.deleted" {
		t.Errorf("expected newest event first, got %s", events[0].Type)
	}

	all, err := store.ListEvents(ctx, nil, 10, 0)
	if err != nil {
		t.Fatalf("failed to list all events: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("expected 2 events without filter, got %d", len(all))
	}
}
