package runtimeconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "runtime.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoad_MergesOntoDefaults(t *testing.T) {
	path := writeTempConfig(t, `
reconciliation_round_cap: 5
database:
  host: db.internal
  database: gtmcore_prod
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.ReconciliationRoundCap)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, "gtmcore_prod", cfg.Database.Database)
	// Unset fields keep their built-in default.
	assert.Equal(t, 45*time.Second, cfg.AgentTimeout)
	assert.Equal(t, ProviderModeFixture, cfg.ProviderMode)
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	require.NoError(t, os.Setenv("GTMCORE_TEST_DB_PASSWORD", "s3cr3t"))
	defer os.Unsetenv("GTMCORE_TEST_DB_PASSWORD")

	path := writeTempConfig(t, `
database:
  password: ${GTMCORE_TEST_DB_PASSWORD}
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "s3cr3t", cfg.Database.Password)
}

func TestLoad_RejectsInvalidProviderMode(t *testing.T) {
	path := writeTempConfig(t, `provider_mode: bogus`)
	_, err := Load(path)
	require.ErrorIs(t, err, ErrValidationFailed)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.Error(t, err)
	var loadErr *LoadError
	require.ErrorAs(t, err, &loadErr)
}

func TestValidator_AgentTimeoutMustBeBelowRunDeadline(t *testing.T) {
	cfg := Defaults()
	cfg.AgentTimeout = cfg.RunDeadline
	err := NewValidator(cfg).ValidateAll()
	require.Error(t, err)
	var valErr *ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.Equal(t, "agent_timeout", valErr.Field)
}
