package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultMatchesDocumentedValues(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 20, cfg.TierThresholds.Probationary)
	assert.Equal(t, 90, cfg.TierThresholds.Autonomous)
	assert.Equal(t, 0.30, cfg.ScoreWeights.SuccessRate)
	assert.Equal(t, 7, cfg.Decay.GracePeriodDays)
	assert.Equal(t, 5, cfg.CircuitBreaker.RapidFailureThreshold)
	assert.Equal(t, -1, cfg.Confirmation.Thresholds["shell"])
}

func TestLoadWithNoFilesReturnsDefaults(t *testing.T) {
	cfg, err := Load("", "")
	require.NoError(t, err)
	assert.Equal(t, Default().TierThresholds, cfg.TierThresholds)
}

func TestLoadMissingYamlPathFallsBackToDefaults(t *testing.T) {
	cfg, err := Load("", filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Decay, cfg.Decay)
}

func TestLoadYamlOverlayOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlBody := `
tier_thresholds:
  untrusted: 0
  probationary: 25
  trusted: 55
  veteran: 80
  autonomous: 95
decay:
  grace_period_days: 14
  decay_rate: 2.0
  floor_score: 5
  run_time: "04:00"
  enabled: false
`
	require.NoError(t, os.WriteFile(path, []byte(yamlBody), 0o600))

	cfg, err := Load("", path)
	require.NoError(t, err)
	assert.Equal(t, 25, cfg.TierThresholds.Probationary)
	assert.Equal(t, 95, cfg.TierThresholds.Autonomous)
	assert.Equal(t, 14, cfg.Decay.GracePeriodDays)
	assert.False(t, cfg.Decay.Enabled)
}

func TestLoadReturnsErrorOnMalformedYaml(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("not: [valid: yaml"), 0o600))

	_, err := Load("", path)
	assert.Error(t, err)
}

func TestLoadToleratesMissingEnvFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.env"), "")
	assert.NoError(t, err, "a missing env file is not an error, godotenv.Load reports os.IsNotExist")
}
