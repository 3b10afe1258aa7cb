package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hunchbank/supportd/internal/output"
)

// testEnv sets up isolated config dir, viper, and output for testing.
func testEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	// Override configDirFunc for tests
	origFunc := configDirFunc
	configDirFunc = func() (string, error) { return dir, nil }
	t.Cleanup(func() { configDirFunc = origFunc })

	// Reset viper
	viper.Reset()
	viper.SetDefault("state_dir", dir)
	viper.SetDefault("db_path", filepath.Join(dir, "supportd.db"))
	viper.SetDefault("api.port", 8080)
	viper.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	viper.SetDefault("pipeline.confidence_threshold", 0.9)
	viper.SetDefault("pipeline.poll_interval", "60s")
	viper.SetDefault("risk.confidence_medium", 0.6)
	viper.SetDefault("risk.amount_medium", 500)
	viper.SetDefault("risk.amount_high", 1000)
	viper.SetDefault("refund.auto_approve_score", 0.3)
	viper.SetDefault("refund.auto_approve_amount_cents", 2000)

	// Initialize output
	ui = output.New()

	return dir
}

func TestConfigInit_CreatesFile(t *testing.T) {
	dir := testEnv(t)

	err := configInitRun()
	require.NoError(t, err)

	cfgPath := filepath.Join(dir, "config.yaml")
	_, err = os.Stat(cfgPath)
	assert.NoError(t, err, "config file should exist")

	data, err := os.ReadFile(cfgPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "supportd configuration")
	assert.Contains(t, string(data), "risk")
	assert.Contains(t, string(data), "refund")
	assert.Contains(t, string(data), "smtp")
}

func TestRiskConfig_ViperOverrides(t *testing.T) {
	testEnv(t)

	cfg := riskConfig()
	assert.InDelta(t, 0.6, cfg.ConfidenceMedium, 1e-9)
	assert.InDelta(t, 500.0, cfg.AmountMedium, 1e-9)
	assert.InDelta(t, 1000.0, cfg.AmountHigh, 1e-9)

	viper.Set("risk.confidence_medium", 0.7)
	viper.Set("risk.amount_medium", 250)
	viper.Set("risk.amount_high", 750)
	viper.Set("pipeline.high_risk_intents", []string{"refund_request"})

	cfg = riskConfig()
	assert.InDelta(t, 0.7, cfg.ConfidenceMedium, 1e-9)
	assert.InDelta(t, 250.0, cfg.AmountMedium, 1e-9)
	assert.InDelta(t, 750.0, cfg.AmountHigh, 1e-9)
	assert.Equal(t, []string{"refund_request"}, cfg.HighRiskIntents)
}

func TestConfigInit_RefusesOverwrite(t *testing.T) {
	dir := testEnv(t)

	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("existing"), 0644))

	configForce = false
	err := configInitRun()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestConfigInit_ForceOverwrite(t *testing.T) {
	dir := testEnv(t)

	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("existing"), 0644))

	configForce = true
	defer func() { configForce = false }()
	err := configInitRun()
	require.NoError(t, err)

	data, err := os.ReadFile(cfgPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "supportd configuration")
}

func TestConfigShow_NoFile(t *testing.T) {
	testEnv(t)

	err := configShowRun()
	assert.NoError(t, err)
}

func TestConfigShow_WithFile(t *testing.T) {
	testEnv(t)

	require.NoError(t, configInitRun())

	err := configShowRun()
	assert.NoError(t, err)
}

func TestConfigEdit_NoEditor(t *testing.T) {
	testEnv(t)

	origEditor := os.Getenv("EDITOR")
	origVisual := os.Getenv("VISUAL")
	_ = os.Unsetenv("EDITOR")
	_ = os.Unsetenv("VISUAL")
	t.Cleanup(func() {
		if origEditor != "" {
			_ = os.Setenv("EDITOR", origEditor)
		}
		if origVisual != "" {
			_ = os.Setenv("VISUAL", origVisual)
		}
	})

	err := configEditRun()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "$EDITOR is not set")
}

func TestConfigEdit_NoConfigFile(t *testing.T) {
	testEnv(t)

	_ = os.Setenv("EDITOR", "echo") // harmless command
	t.Cleanup(func() { _ = os.Unsetenv("EDITOR") })

	err := configEditRun()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestDetectSource(t *testing.T) {
	fileValues := map[string]bool{"key_a": true}

	// From env
	os.Setenv("SUPPORTD_TEST_KEY", "val")
	defer os.Unsetenv("SUPPORTD_TEST_KEY")
	assert.Contains(t, detectSource("test_key", "SUPPORTD_TEST_KEY", fileValues), "env")

	// From file
	assert.Contains(t, detectSource("key_a", "SUPPORTD_KEY_A_NONEXISTENT", fileValues), "file")

	// Default
	assert.Contains(t, detectSource("key_b", "SUPPORTD_KEY_B_NONEXISTENT", fileValues), "default")
}

func TestFlattenKeys(t *testing.T) {
	input := map[string]any{
		"top": "val",
		"smtp": map[string]any{
			"primary": map[string]any{
				"host": "mail.example.com",
			},
		},
	}

	result := make(map[string]bool)
	flattenKeys("", input, result)

	assert.True(t, result["top"])
	assert.True(t, result["smtp.primary.host"])
	assert.False(t, result["smtp"])
}

func TestConfigInit_DryRun(t *testing.T) {
	dir := testEnv(t)
	dryRun = true
	ui.DryRun = true
	defer func() { dryRun = false }()

	err := configInitRun()
	require.NoError(t, err)

	// File should NOT have been created
	cfgPath := filepath.Join(dir, "config.yaml")
	_, err = os.Stat(cfgPath)
	assert.True(t, os.IsNotExist(err), "config file should not exist in dry-run mode")
}
