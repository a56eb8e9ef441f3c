package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/hrguard/internal/config"
)

func TestParse_AppliesDefaults(t *testing.T) {
	cfg, err := config.Parse([]byte("version: v1\n"))
	require.NoError(t, err)
	require.NoError(t, config.Validate(cfg))

	r := cfg.Detection.Rules
	assert.Equal(t, 5, r.AuthFailureSpike.Threshold)
	assert.Equal(t, 10, r.AuthFailureSpike.WindowMinutes)
	assert.Equal(t, 3, r.PermissionDeniedSpike.Threshold)
	assert.Equal(t, 2, r.OffboardedAccountAccess.Threshold)
	assert.Equal(t, 60, r.PrivilegedRoleAssignment.WindowMinutes)
	assert.Contains(t, r.PrivilegedRoleAssignment.PrivilegedRoles, "super_admin")
	assert.Equal(t, 4, r.MassExport.Threshold)
	assert.Equal(t, 12, r.UnauthorizedRecordView.Threshold)
	assert.Equal(t, 2, r.PotentialBreach.ExportThreshold)
	assert.Equal(t, 6, r.PotentialBreach.ReadThreshold)
	assert.Equal(t, 2, r.PotentialBreach.DenialThreshold)
	assert.Equal(t, 30, r.PotentialBreach.WindowMinutes)
	assert.True(t, r.MassExport.IsEnabled())

	assert.Equal(t, 30, cfg.Detection.CooldownMinutes)
	assert.Equal(t, 10, cfg.Detection.MaxRecipients)
	assert.Equal(t, 25, cfg.Retry.BatchSize)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, 30, cfg.Retry.BaseBackoffSeconds)
	assert.Equal(t, 1800, cfg.Retry.MaxBackoffSeconds)
	assert.True(t, cfg.Retry.IsEnabled())
	assert.Equal(t, "memory", cfg.State.Backend)
}

func TestParse_OverridesAndDisabledRule(t *testing.T) {
	cfg, err := config.Parse([]byte(`
version: v1
detection:
  rules:
    mass_export: {enabled: false}
    auth_failure_spike: {threshold: 9, window_minutes: 3}
retry: {enabled: false}
`))
	require.NoError(t, err)
	assert.False(t, cfg.Detection.Rules.MassExport.IsEnabled())
	assert.Equal(t, 9, cfg.Detection.Rules.AuthFailureSpike.Threshold)
	assert.Equal(t, 3, cfg.Detection.Rules.AuthFailureSpike.WindowMinutes)
	assert.False(t, cfg.Retry.IsEnabled())
}

func TestValidate_CollectsErrors(t *testing.T) {
	cfg := config.Default()
	cfg.Detection.Rules.AuthFailureSpike.Threshold = -1
	cfg.Retry.MaxBackoffSeconds = 5
	cfg.State.Backend = "etcd"

	err := config.Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "auth_failure_spike")
	assert.Contains(t, err.Error(), "max_backoff_seconds")
	assert.Contains(t, err.Error(), "etcd")
}

func TestValidate_RedisNeedsAddr(t *testing.T) {
	cfg := config.Default()
	cfg.State.Backend = "redis"
	require.Error(t, config.Validate(cfg))

	cfg.State.Redis.Addr = "localhost:6379"
	require.NoError(t, config.Validate(cfg))
}

func TestLoader_ReloadNotifies(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hrguard.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: v1\n"), 0o600))

	l, err := config.NewLoader(path)
	require.NoError(t, err)
	assert.Equal(t, 5, l.Config().Detection.Rules.AuthFailureSpike.Threshold)

	var got *config.Config
	l.OnChange(func(c *config.Config) { got = c })

	require.NoError(t, os.WriteFile(path, []byte("version: v1\ndetection:\n  rules:\n    auth_failure_spike: {threshold: 7}\n"), 0o600))
	_, err = l.Reload()
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 7, got.Detection.Rules.AuthFailureSpike.Threshold)
	assert.Equal(t, 7, l.Config().Detection.Rules.AuthFailureSpike.Threshold)
}

func TestLoader_MissingFile(t *testing.T) {
	_, err := config.NewLoader(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoader_InvalidReloadKeepsPrevious(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hrguard.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: v1\n"), 0o600))
	l, err := config.NewLoader(path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("version: v1\nstate: {backend: etcd}\n"), 0o600))
	_, err = l.Reload()
	require.Error(t, err)
	assert.Equal(t, "memory", l.Config().State.Backend)
}

func TestSampleConfigIsValid(t *testing.T) {
	l, err := config.NewLoader(filepath.Join("..", "..", "configs", "hrguard.yaml"))
	require.NoError(t, err)
	cfg := l.Config()
	assert.Equal(t, "@every 1m", cfg.Retry.DrainSchedule)
	assert.Equal(t, []string{"security-team@example.com"}, cfg.Alerting.Recipients)
}
