package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/pilot/pkg/stores"
	"github.com/openfroyo/pilot/pkg/telemetry"
)

// EnvPrefix prefixes every environment override, e.g. PILOT_SERVER_ADDR.
const EnvPrefix = "PILOT_"

// Config is the process configuration of pilot.
type Config struct {
	Server       ServerConfig       `yaml:"server" json:"server"`
	Store        stores.Config      `yaml:"store" json:"store"`
	Templates    TemplatesConfig    `yaml:"templates" json:"templates"`
	Policy       PolicyConfig       `yaml:"policy" json:"policy"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator" json:"orchestrator"`
	Telemetry    telemetry.Config   `yaml:"telemetry" json:"telemetry"`

	// path is the file the configuration was read from, if any.
	path string
}

// ServerConfig configures the HTTP boundary.
type ServerConfig struct {
	Addr            string        `yaml:"addr" json:"addr" validate:"required,hostname_port"`
	ReadTimeout     time.Duration `yaml:"read_timeout" json:"read_timeout" validate:"gte=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout" validate:"gt=0"`
	AllowedOrigins  []string      `yaml:"allowed_origins" json:"allowed_origins" validate:"dive,required"`
}

// TemplatesConfig locates project templates.
type TemplatesConfig struct {
	// Dir holds *.cue templates. Empty means built-in templates only.
	Dir     string `yaml:"dir" json:"dir"`
	Default string `yaml:"default" json:"default" validate:"required"`
	Watch   bool   `yaml:"watch" json:"watch"`
}

// PolicyConfig configures admission policies.
type PolicyConfig struct {
	Enabled     bool     `yaml:"enabled" json:"enabled"`
	Paths       []string `yaml:"paths" json:"paths"`
	Watch       bool     `yaml:"watch" json:"watch"`
	Environment string   `yaml:"environment" json:"environment"`

	// Disabled names policies, built-in or loaded, that are never evaluated.
	Disabled []string `yaml:"disabled" json:"disabled"`
}

// OrchestratorConfig bounds step execution. Runs have no timeout.
type OrchestratorConfig struct {
	// MaxExecutionSteps bounds the Starlark computation of one step.
	MaxExecutionSteps uint64 `yaml:"max_execution_steps" json:"max_execution_steps"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	tel := telemetry.DefaultConfig()
	tel.ServiceName = "pilot"

	return &Config{
		Server: ServerConfig{
			Addr:            "127.0.0.1:5000",
			ReadTimeout:     15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			AllowedOrigins:  []string{"http://localhost:5173", "http://127.0.0.1:5173"},
		},
		Store: stores.Config{
			Path: "./data/pilot.db",
		},
		Templates: TemplatesConfig{
			Default: DefaultTemplate,
		},
		Policy: PolicyConfig{
			Enabled:     true,
			Environment: "development",
		},
		Orchestrator: OrchestratorConfig{
			MaxExecutionSteps: 10_000_000,
		},
		Telemetry: *tel,
	}
}

// Load reads path over the defaults, applies PILOT_* environment overrides
// and validates the result. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
		cfg.path = path
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Path returns the file the configuration was loaded from.
func (c *Config) Path() string {
	return c.path
}

// Validate checks struct constraints and the telemetry section.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("invalid telemetry configuration: %w", err)
	}
	return nil
}

// applyEnv overlays PILOT_* variables. lookup is os.LookupEnv outside tests.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = v
		}
	}
	boolean := func(key string, dst *bool) error {
		v, ok := lookup(EnvPrefix + key)
		if !ok {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s%s: %w", EnvPrefix, key, err)
		}
		*dst = b
		return nil
	}
	list := func(key string, dst *[]string) {
		v, ok := lookup(EnvPrefix + key)
		if !ok {
			return
		}
		var out []string
		for _, item := range strings.Split(v, ",") {
			if item = strings.TrimSpace(item); item != "" {
				out = append(out, item)
			}
		}
		*dst = out
	}

	str("SERVER_ADDR", &c.Server.Addr)
	list("SERVER_ALLOWED_ORIGINS", &c.Server.AllowedOrigins)
	str("STORE_PATH", &c.Store.Path)
	str("TEMPLATES_DIR", &c.Templates.Dir)
	str("TEMPLATES_DEFAULT", &c.Templates.Default)
	list("POLICY_PATHS", &c.Policy.Paths)
	list("POLICY_DISABLED", &c.Policy.Disabled)
	str("POLICY_ENVIRONMENT", &c.Policy.Environment)
	str("LOG_LEVEL", &c.Telemetry.Logging.Level)
	str("LOG_FORMAT", &c.Telemetry.Logging.Format)
	str("TRACING_EXPORTER", &c.Telemetry.Tracing.Exporter)
	str("TRACING_ENDPOINT", &c.Telemetry.Tracing.Endpoint)
	str("EVENTS_MIN_LEVEL", &c.Telemetry.Events.MinLevel)

	for key, dst := range map[string]*bool{
		"POLICY_ENABLED":  &c.Policy.Enabled,
		"POLICY_WATCH":    &c.Policy.Watch,
		"TEMPLATES_WATCH": &c.Templates.Watch,
		"TRACING_ENABLED": &c.Telemetry.Tracing.Enabled,
		"METRICS_ENABLED": &c.Telemetry.Metrics.Enabled,
	} {
		if err := boolean(key, dst); err != nil {
			return err
		}
	}
	return nil
}

// Snapshot returns the configuration as a plain map for display. Header
// values of the trace exporter are redacted.
func (c *Config) Snapshot() map[string]interface{} {
	headers := make(map[string]string, len(c.Telemetry.Tracing.Headers))
	for k := range c.Telemetry.Tracing.Headers {
		headers[k] = "<redacted>"
	}

	return map[string]interface{}{
		"config_file": c.path,
		"server": map[string]interface{}{
			"addr":             c.Server.Addr,
			"read_timeout":     c.Server.ReadTimeout.String(),
			"shutdown_timeout": c.Server.ShutdownTimeout.String(),
			"allowed_origins":  c.Server.AllowedOrigins,
		},
		"store": map[string]interface{}{
			"path":           c.Store.Path,
			"max_open_conns": c.Store.MaxOpenConns,
			"max_idle_conns": c.Store.MaxIdleConns,
		},
		"templates": map[string]interface{}{
			"dir":     c.Templates.Dir,
			"default": c.Templates.Default,
			"watch":   c.Templates.Watch,
		},
		"policy": map[string]interface{}{
			"enabled":     c.Policy.Enabled,
			"paths":       c.Policy.Paths,
			"watch":       c.Policy.Watch,
			"environment": c.Policy.Environment,
			"disabled":    c.Policy.Disabled,
		},
		"orchestrator": map[string]interface{}{
			"max_execution_steps": c.Orchestrator.MaxExecutionSteps,
		},
		"telemetry": map[string]interface{}{
			"service_name": c.Telemetry.ServiceName,
			"environment":  c.Telemetry.Environment,
			"log_level":    c.Telemetry.Logging.Level,
			"log_format":   c.Telemetry.Logging.Format,
			"tracing": map[string]interface{}{
				"enabled":  c.Telemetry.Tracing.Enabled,
				"exporter": c.Telemetry.Tracing.Exporter,
				"endpoint": c.Telemetry.Tracing.Endpoint,
				"headers":  headers,
			},
			"metrics": map[string]interface{}{
				"enabled": c.Telemetry.Metrics.Enabled,
				"path":    c.Telemetry.Metrics.Path,
			},
			"events": map[string]interface{}{
				"enabled":   c.Telemetry.Events.Enabled,
				"min_level": c.Telemetry.Events.MinLevel,
			},
		},
	}
}
