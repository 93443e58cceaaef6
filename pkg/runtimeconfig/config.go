// Package runtimeconfig loads the orchestrator's RuntimeConfig: the
// reconciliation, scheduling, and storage knobs the orchestrator boots
// with. A YAML file is loaded, merged onto built-in defaults with
// dario.cat/mergo, and validated before use.
package runtimeconfig

import (
	"fmt"
	"os"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// ProviderMode selects how agent invocations are satisfied (§B, pkg/provider).
type ProviderMode string

const (
	ProviderModeFixture ProviderMode = "fixture"
	ProviderModeReal    ProviderMode = "real"
)

// DatabaseConfig holds the Postgres DSN parts (mirrors pkg/database.Config,
// kept separate so runtimeconfig has no import-time dependency on pkg/database).
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`
}

// RuntimeConfig is the orchestrator's full set of boot-time settings.
type RuntimeConfig struct {
	// ReconciliationRoundCap bounds the scheduler's reconciliation passes
	// before a run is marked blocked (§4.3).
	ReconciliationRoundCap int `yaml:"reconciliation_round_cap"`

	// AgentTimeout bounds a single agent invocation.
	AgentTimeout time.Duration `yaml:"agent_timeout"`

	// RunDeadline bounds an entire run from start to completion/failure.
	RunDeadline time.Duration `yaml:"run_deadline"`

	// TokenBudgetCap is the maximum cumulative token spend for one run
	// before it fails with cause "budget" (§7).
	TokenBudgetCap int64 `yaml:"token_budget_cap"`

	// FixtureDir is the root of the fixture-backed agent provider's
	// recorded outputs (§C.4: fixtures/<agent_name>/<fingerprint>.json).
	FixtureDir string `yaml:"fixture_dir"`

	// ProviderMode selects fixture or real agent invocation.
	ProviderMode ProviderMode `yaml:"provider_mode"`

	// AgentEndpointBase is the base URL real-mode agents are invoked at:
	// each agent's endpoint is AgentEndpointBase + "/" + agent_name. Only
	// consulted when ProviderMode is "real".
	AgentEndpointBase string `yaml:"agent_endpoint_base"`

	// HTTPBindAddress is the address the echo server listens on.
	HTTPBindAddress string `yaml:"http_bind_address"`

	// Database holds the Postgres connection parameters.
	Database DatabaseConfig `yaml:"database"`

	// CheckpointRetention bounds how long checkpoints/events are kept
	// before pkg/retention prunes them.
	CheckpointRetention time.Duration `yaml:"checkpoint_retention"`
}

// Defaults returns the built-in RuntimeConfig, used as the base that a
// loaded YAML file is merged onto (mergo.WithOverride: non-zero YAML
// values win).
func Defaults() *RuntimeConfig {
	return &RuntimeConfig{
		ReconciliationRoundCap: 3,
		AgentTimeout:           45 * time.Second,
		RunDeadline:            10 * time.Minute,
		TokenBudgetCap:         2_000_000,
		FixtureDir:             "fixtures",
		ProviderMode:           ProviderModeFixture,
		HTTPBindAddress:        ":8080",
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "gtmcore",
			Database: "gtmcore",
			SSLMode:  "disable",
		},
		CheckpointRetention: 30 * 24 * time.Hour,
	}
}

// Load reads path, merges it onto Defaults(), and validates the result.
// An unreadable file is only an error if the file was explicitly named;
// Load never silently invents a path.
func Load(path string) (*RuntimeConfig, error) {
	cfg := Defaults()

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, NewLoadError(path, err)
	}

	var loaded RuntimeConfig
	if err := yaml.Unmarshal(ExpandEnv(raw), &loaded); err != nil {
		return nil, NewLoadError(path, fmt.Errorf("%w: %w", ErrInvalidYAML, err))
	}

	if err := mergo.Merge(cfg, loaded, mergo.WithOverride); err != nil {
		return nil, NewLoadError(path, fmt.Errorf("merge onto defaults: %w", err))
	}

	if err := NewValidator(cfg).ValidateAll(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}

	return cfg, nil
}

// ExpandEnv expands ${VAR}/$VAR references in the raw YAML bytes before
// parsing, so secrets like database passwords never live in the file.
func ExpandEnv(data []byte) []byte {
	return []byte(os.ExpandEnv(string(data)))
}
