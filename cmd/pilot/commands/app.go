package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/openfroyo/pilot/pkg/config"
	"github.com/openfroyo/pilot/pkg/engine"
	"github.com/openfroyo/pilot/pkg/orchestrator"
	"github.com/openfroyo/pilot/pkg/policy"
	"github.com/openfroyo/pilot/pkg/stores"
	"github.com/openfroyo/pilot/pkg/telemetry"
)

// app holds the components shared by the commands.
type app struct {
	cfg       *config.Config
	tel       *telemetry.Telemetry
	store     *stores.SQLiteStore
	templates *config.Templates
	policy    *policy.Engine
	lifecycle *engine.Lifecycle
	bridge    *engine.Bridge
}

// loadConfig reads the configuration named by --config and applies the
// global flags.
func loadConfig(version string) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}
	if version != "" {
		cfg.Telemetry.ServiceVersion = version
	}
	return cfg, nil
}

// openStore opens and migrates the project database.
func openStore(ctx context.Context, cfg stores.Config) (*stores.SQLiteStore, error) {
	if cfg.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o700); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	store, err := stores.NewSQLiteStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return store, nil
}

// openPolicy builds the admission engine: built-ins, the policy files under
// cfg.Paths, and cfg.Disabled switched off.
func openPolicy(ctx context.Context, cfg config.PolicyConfig, logger zerolog.Logger) (*policy.Engine, error) {
	eng, err := policy.NewEngine(logger)
	if err != nil {
		return nil, err
	}
	eng.SetEnvironment(cfg.Environment)

	if len(cfg.Paths) > 0 {
		if err := eng.LoadPolicies(ctx, cfg.Paths); err != nil {
			return nil, fmt.Errorf("failed to load policies: %w", err)
		}
	}
	for _, name := range cfg.Disabled {
		if err := eng.DisablePolicy(name); err != nil {
			return nil, fmt.Errorf("policy.disabled: %w", err)
		}
	}
	return eng, nil
}

// openApp wires configuration, telemetry, storage, templates, policies and
// the lifecycle.
func openApp(ctx context.Context, version string) (*app, error) {
	cfg, err := loadConfig(version)
	if err != nil {
		return nil, err
	}

	tel, err := telemetry.NewTelemetry(&cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	a := &app{cfg: cfg, tel: tel}

	if a.store, err = openStore(ctx, cfg.Store); err != nil {
		a.close()
		return nil, err
	}

	if a.templates, err = config.NewTemplates(cfg.Templates, tel.Logger.Zerolog()); err != nil {
		a.close()
		return nil, fmt.Errorf("failed to load templates: %w", err)
	}

	var opts []engine.Option
	if cfg.Policy.Enabled {
		if a.policy, err = openPolicy(ctx, cfg.Policy, tel.Logger.Zerolog()); err != nil {
			a.close()
			return nil, err
		}
		opts = append(opts, engine.WithAdmitter(a.policy))
	}

	runner := orchestrator.NewRunner(tel, orchestrator.WithMaxExecutionSteps(cfg.Orchestrator.MaxExecutionSteps))
	a.lifecycle = engine.NewLifecycle(a.store, runner, a.templates, tel, opts...)
	a.bridge = engine.NewBridge(tel)

	return a, nil
}

// close drains telemetry, whose events are persisted to the store, and then
// closes the store.
func (a *app) close() {
	if err := a.tel.Shutdown(context.Background()); err != nil {
		log.Warn().Err(err).Msg("Failed to shut down telemetry")
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close store")
		}
	}
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
