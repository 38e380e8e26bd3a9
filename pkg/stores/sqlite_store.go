package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	path   string
	config Config
}

// Config holds SQLite store configuration
type Config struct {
	Path            string        `yaml:"path" json:"path" validate:"required"`
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns" validate:"gte=0"`
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	// Every connection to :memory: opens its own database.
	if cfg.Path == ":memory:" {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{
		path:   cfg.Path,
		config: cfg,
	}, nil
}

// Init initializes the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(s.config.MaxOpenConns)
	db.SetMaxIdleConns(s.config.MaxIdleConns)
	db.SetConnMaxLifetime(s.config.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// CreateProject inserts a project, its default branch, and its plan steps in
// a single transaction. A duplicate name is reported as ErrConflict.
func (s *SQLiteStore) CreateProject(ctx context.Context, project *Project, steps []Step) (*Branch, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO projects (id, name, template, state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, project.ID, project.Name, project.Template, project.State, project.CreatedAt, project.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("project name %q already exists: %w", project.Name, ErrConflict)
		}
		return nil, fmt.Errorf("failed to create project: %w", err)
	}

	branch := &Branch{
		ID:        project.ID + "/" + DefaultBranch,
		ProjectID: project.ID,
		Name:      DefaultBranch,
		CreatedAt: project.CreatedAt,
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO branches (id, project_id, name, created_at)
		VALUES (?, ?, ?, ?)
	`, branch.ID, branch.ProjectID, branch.Name, branch.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create branch: %w", err)
	}

	for i := range steps {
		step := &steps[i]
		deps, err := json.Marshal(step.DependsOn)
		if err != nil {
			return nil, fmt.Errorf("failed to encode dependencies of step %s: %w", step.Name, err)
		}
		if step.DependsOn == nil {
			deps = []byte("[]")
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO project_steps (project_id, step_index, name, depends_on, script)
			VALUES (?, ?, ?, ?, ?)
		`, project.ID, step.Index, step.Name, string(deps), step.Script)
		if err != nil {
			return nil, fmt.Errorf("failed to create step %s: %w", step.Name, err)
		}
		step.ProjectID = project.ID
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit project: %w", err)
	}

	return branch, nil
}

// GetProject retrieves a project by ID
func (s *SQLiteStore) GetProject(ctx context.Context, id string) (*Project, error) {
	query := `
		SELECT id, name, template, state, created_at, updated_at
		FROM projects
		WHERE id = ?
	`

	project := &Project{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&project.ID,
		&project.Name,
		&project.Template,
		&project.State,
		&project.CreatedAt,
		&project.UpdatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("project %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}

	return project, nil
}

// ListProjects lists all projects in creation order
func (s *SQLiteStore) ListProjects(ctx context.Context) ([]*Project, error) {
	query := `
		SELECT id, name, template, state, created_at, updated_at
		FROM projects
		ORDER BY created_at ASC, name ASC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	projects := []*Project{}
	for rows.Next() {
		project := &Project{}
		err := rows.Scan(
			&project.ID,
			&project.Name,
			&project.Template,
			&project.State,
			&project.CreatedAt,
			&project.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		projects = append(projects, project)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating projects: %w", err)
	}

	return projects, nil
}

// UpdateProjectState updates the lifecycle state of a project
func (s *SQLiteStore) UpdateProjectState(ctx context.Context, id string, state string) error {
	query := `UPDATE projects SET state = ?, updated_at = ? WHERE id = ?`

	result, err := s.db.ExecContext(ctx, query, state, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update project state: %w", err)
	}

	return expectRows(result, "project", id)
}

// DeleteProject deletes a project and, by cascade, its branches, steps,
// runs, and checkpoints.
func (s *SQLiteStore) DeleteProject(ctx context.Context, id string) error {
	query := `DELETE FROM projects WHERE id = ?`

	result, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete project: %w", err)
	}

	return expectRows(result, "project", id)
}

// GetBranch retrieves a project's branch by name
func (s *SQLiteStore) GetBranch(ctx context.Context, projectID, name string) (*Branch, error) {
	query := `
		SELECT id, project_id, name, created_at
		FROM branches
		WHERE project_id = ? AND name = ?
	`

	branch := &Branch{}
	err := s.db.QueryRowContext(ctx, query, projectID, name).Scan(
		&branch.ID,
		&branch.ProjectID,
		&branch.Name,
		&branch.CreatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("branch %s of project %s: %w", name, projectID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get branch: %w", err)
	}

	return branch, nil
}

// ListSteps lists a project's plan steps in execution order
func (s *SQLiteStore) ListSteps(ctx context.Context, projectID string) ([]*Step, error) {
	query := `
		SELECT project_id, step_index, name, depends_on, script
		FROM project_steps
		WHERE project_id = ?
		ORDER BY step_index ASC
	`

	rows, err := s.db.QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list steps: %w", err)
	}
	defer rows.Close()

	steps := []*Step{}
	for rows.Next() {
		step := &Step{}
		var deps string
		if err := rows.Scan(&step.ProjectID, &step.Index, &step.Name, &deps, &step.Script); err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}
		if err := json.Unmarshal([]byte(deps), &step.DependsOn); err != nil {
			return nil, fmt.Errorf("corrupted dependencies for step %s: %w", step.Name, err)
		}
		steps = append(steps, step)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating steps: %w", err)
	}

	return steps, nil
}

// SaveCheckpoint appends a checkpoint record
func (s *SQLiteStore) SaveCheckpoint(ctx context.Context, checkpoint *Checkpoint) error {
	query := `
		INSERT INTO checkpoints (project_id, branch_id, run_id, step_index, step_name, data, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	if checkpoint.CreatedAt.IsZero() {
		checkpoint.CreatedAt = time.Now()
	}

	result, err := s.db.ExecContext(ctx, query,
		checkpoint.ProjectID,
		checkpoint.BranchID,
		checkpoint.RunID,
		checkpoint.StepIndex,
		checkpoint.StepName,
		checkpoint.Data,
		checkpoint.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get checkpoint ID: %w", err)
	}

	checkpoint.ID = id
	return nil
}

// ListCheckpoints lists all checkpoints of a branch, oldest first per step
func (s *SQLiteStore) ListCheckpoints(ctx context.Context, branchID string) ([]*Checkpoint, error) {
	query := `
		SELECT id, project_id, branch_id, run_id, step_index, step_name, data, created_at
		FROM checkpoints
		WHERE branch_id = ?
		ORDER BY step_index ASC, id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, branchID)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	defer rows.Close()

	checkpoints := []*Checkpoint{}
	for rows.Next() {
		cp := &Checkpoint{}
		err := rows.Scan(
			&cp.ID,
			&cp.ProjectID,
			&cp.BranchID,
			&cp.RunID,
			&cp.StepIndex,
			&cp.StepName,
			&cp.Data,
			&cp.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint: %w", err)
		}
		checkpoints = append(checkpoints, cp)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating checkpoints: %w", err)
	}

	return checkpoints, nil
}

// CreateRun creates a new run record
func (s *SQLiteStore) CreateRun(ctx context.Context, run *Run) error {
	query := `
		INSERT INTO runs (id, project_id, branch_id, status, start_step, started_at, completed_at, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		run.ID,
		run.ProjectID,
		run.BranchID,
		run.Status,
		run.StartStep,
		run.StartedAt,
		run.CompletedAt,
		run.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	return nil
}

// GetRun retrieves a run by ID
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	query := `
		SELECT id, project_id, branch_id, status, start_step, started_at, completed_at, error
		FROM runs
		WHERE id = ?
	`

	run := &Run{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&run.ID,
		&run.ProjectID,
		&run.BranchID,
		&run.Status,
		&run.StartStep,
		&run.StartedAt,
		&run.CompletedAt,
		&run.Error,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return run, nil
}

// FinishRun records the terminal status of a run
func (s *SQLiteStore) FinishRun(ctx context.Context, id string, status RunStatus, errMsg *string) error {
	query := `
		UPDATE runs
		SET status = ?, error = ?, completed_at = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query, status, errMsg, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update run status: %w", err)
	}

	return expectRows(result, "run", id)
}

// RollbackRun removes every checkpoint written by the run and records its
// terminal status, atomically. It returns the number of checkpoints removed.
func (s *SQLiteStore) RollbackRun(ctx context.Context, id string, status RunStatus, errMsg *string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `DELETE FROM checkpoints WHERE run_id = ?`, id)
	if err != nil {
		return 0, fmt.Errorf("failed to delete run checkpoints: %w", err)
	}
	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	result, err = tx.ExecContext(ctx, `
		UPDATE runs
		SET status = ?, error = ?, completed_at = ?
		WHERE id = ?
	`, status, errMsg, time.Now(), id)
	if err != nil {
		return 0, fmt.Errorf("failed to update run status: %w", err)
	}
	if err := expectRows(result, "run", id); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit rollback: %w", err)
	}

	return removed, nil
}

// ListActiveRuns lists the runs of a project still marked as running
func (s *SQLiteStore) ListActiveRuns(ctx context.Context, projectID string) ([]*Run, error) {
	query := `
		SELECT id, project_id, branch_id, status, start_step, started_at, completed_at, error
		FROM runs
		WHERE project_id = ? AND status = ?
		ORDER BY started_at ASC
	`

	rows, err := s.db.QueryContext(ctx, query, projectID, RunStatusRunning)
	if err != nil {
		return nil, fmt.Errorf("failed to list active runs: %w", err)
	}
	defer rows.Close()

	runs := []*Run{}
	for rows.Next() {
		run := &Run{}
		err := rows.Scan(
			&run.ID,
			&run.ProjectID,
			&run.BranchID,
			&run.Status,
			&run.StartStep,
			&run.StartedAt,
			&run.CompletedAt,
			&run.Error,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

// AppendEvent appends an event to the event log
func (s *SQLiteStore) AppendEvent(ctx context.Context, event *Event) error {
	query := `
		INSERT INTO events (project_id, run_id, type, level, message, details, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	result, err := s.db.ExecContext(ctx, query,
		event.ProjectID,
		event.RunID,
		event.Type,
		event.Level,
		event.Message,
		event.Details,
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get event ID: %w", err)
	}

	event.ID = id
	return nil
}

// ListEvents retrieves events, optionally for one project, newest first
func (s *SQLiteStore) ListEvents(ctx context.Context, projectID *string, limit, offset int) ([]*Event, error) {
	query := `
		SELECT id, project_id, run_id, type, level, message, details, timestamp
		FROM events
		WHERE (? IS NULL OR project_id = ?)
		ORDER BY id DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, projectID, projectID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	defer rows.Close()

	events := []*Event{}
	for rows.Next() {
		event := &Event{}
		err := rows.Scan(
			&event.ID,
			&event.ProjectID,
			&event.RunID,
			&event.Type,
			&event.Level,
			&event.Message,
			&event.Details,
			&event.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return events, nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}

// expectRows reports ErrNotFound when a statement touched no rows.
func expectRows(result sql.Result, kind, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}

	return nil
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
