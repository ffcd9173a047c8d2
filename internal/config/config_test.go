package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "gpt-4o-mini", cfg.Judge.Model)
	assert.Equal(t, 3, cfg.Batch.Concurrency)
	assert.Equal(t, 5, cfg.Batch.DefaultScenarios)
	assert.Equal(t, 90*time.Second, cfg.JudgeTimeout())
	assert.Equal(t, 10*time.Second, cfg.WebhookTimeout())
	assert.Equal(t, time.Second, cfg.WebhookBackoff())
	assert.Equal(t, 10*time.Second, cfg.FetchTimeout())
}

func TestFromYAMLOverridesDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte("judge:\n  model: deepseek-chat\nbatch:\n  concurrency: 7\n"))
	require.NoError(t, err)
	assert.Equal(t, "deepseek-chat", cfg.Judge.Model)
	assert.Equal(t, 7, cfg.Batch.Concurrency)
	// Untouched sections keep their defaults.
	assert.Equal(t, 3, cfg.Webhook.MaxAttempts)
}

func TestFromYAMLRejectsBadValues(t *testing.T) {
	cases := []string{
		"judge:\n  model: \"\"\n",
		"judge:\n  timeout_seconds: 0\n",
		"batch:\n  concurrency: 0\n",
		"batch:\n  default_scenarios: 1\n",
		"batch:\n  default_scenarios: 21\n",
		"webhook:\n  max_attempts: 0\n",
	}
	for _, c := range cases {
		_, err := FromYAML([]byte(c))
		assert.Error(t, err, "yaml: %s", c)
	}
}

func TestFromYAMLRejectsGarbage(t *testing.T) {
	_, err := FromYAML([]byte("judge: [not, a, map]"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config yaml")
}

func TestLoadMissingFile(t *testing.T) {
	dir := t.TempDir()
	_, err := Load(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ra init")

	cfg, err := LoadOptional(dir)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadReadsWorkspaceFile(t *testing.T) {
	dir := t.TempDir()
	yml := "judge:\n  model: custom-model\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rankarena.yml"), []byte(yml), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "custom-model", cfg.Judge.Model)
}

func TestGenerateDefaultRoundTrips(t *testing.T) {
	cfg, err := FromYAML([]byte(GenerateDefault()))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}
