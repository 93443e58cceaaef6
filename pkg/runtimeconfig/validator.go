package runtimeconfig

import "fmt"

// Validator validates a RuntimeConfig comprehensively, matching
// pkg/config.Validator's fail-fast-with-a-clear-message discipline.
type Validator struct {
	cfg *RuntimeConfig
}

// NewValidator creates a validator for cfg.
func NewValidator(cfg *RuntimeConfig) *Validator {
	return &Validator{cfg: cfg}
}

// ValidateAll runs every check, returning the first failure.
func (v *Validator) ValidateAll() error {
	if err := v.validateScheduling(); err != nil {
		return err
	}
	if err := v.validateProvider(); err != nil {
		return err
	}
	if err := v.validateDatabase(); err != nil {
		return err
	}
	if err := v.validateServer(); err != nil {
		return err
	}
	return nil
}

func (v *Validator) validateScheduling() error {
	c := v.cfg
	if c.ReconciliationRoundCap < 1 {
		return NewValidationError("reconciliation_round_cap", fmt.Errorf("must be at least 1, got %d", c.ReconciliationRoundCap))
	}
	if c.AgentTimeout <= 0 {
		return NewValidationError("agent_timeout", fmt.Errorf("must be positive, got %v", c.AgentTimeout))
	}
	if c.RunDeadline <= 0 {
		return NewValidationError("run_deadline", fmt.Errorf("must be positive, got %v", c.RunDeadline))
	}
	if c.AgentTimeout >= c.RunDeadline {
		return NewValidationError("agent_timeout", fmt.Errorf("must be less than run_deadline, got agent_timeout=%v run_deadline=%v", c.AgentTimeout, c.RunDeadline))
	}
	if c.TokenBudgetCap <= 0 {
		return NewValidationError("token_budget_cap", fmt.Errorf("must be positive, got %d", c.TokenBudgetCap))
	}
	if c.CheckpointRetention <= 0 {
		return NewValidationError("checkpoint_retention", fmt.Errorf("must be positive, got %v", c.CheckpointRetention))
	}
	return nil
}

func (v *Validator) validateProvider() error {
	c := v.cfg
	switch c.ProviderMode {
	case ProviderModeFixture, ProviderModeReal:
	default:
		return NewValidationError("provider_mode", fmt.Errorf("must be 'fixture' or 'real', got %q", c.ProviderMode))
	}
	if c.ProviderMode == ProviderModeFixture && c.FixtureDir == "" {
		return NewValidationError("fixture_dir", fmt.Errorf("required when provider_mode is 'fixture'"))
	}
	if c.ProviderMode == ProviderModeReal && c.AgentEndpointBase == "" {
		return NewValidationError("agent_endpoint_base", fmt.Errorf("required when provider_mode is 'real'"))
	}
	return nil
}

func (v *Validator) validateDatabase() error {
	d := v.cfg.Database
	if d.Host == "" {
		return NewValidationError("database.host", fmt.Errorf("required"))
	}
	if d.Port < 1 || d.Port > 65535 {
		return NewValidationError("database.port", fmt.Errorf("must be between 1 and 65535, got %d", d.Port))
	}
	if d.Database == "" {
		return NewValidationError("database.database", fmt.Errorf("required"))
	}
	return nil
}

func (v *Validator) validateServer() error {
	if v.cfg.HTTPBindAddress == "" {
		return NewValidationError("http_bind_address", fmt.Errorf("required"))
	}
	return nil
}
