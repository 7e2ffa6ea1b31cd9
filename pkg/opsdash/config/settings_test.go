package config_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vpbank/opsdash/pkg/opsdash/config"
)

func TestDefaultSettings(t *testing.T) {
	s := config.DefaultSettings()

	assert.Equal(t, ":5001", s.HTTP.Listen)
	assert.Equal(t, 10*time.Second, s.HTTP.ShutdownTimeout)
	assert.Equal(t, 10*time.Second, s.Runner.Timeout)
	assert.False(t, s.Runner.Strict)
	assert.Equal(t, 1.0, s.Collect.IntervalScale)
	assert.Equal(t, time.Second, s.Collect.MinInterval)
	assert.Equal(t, time.Second, s.Stream.Poll)
	assert.Equal(t, 15*time.Second, s.Stream.Heartbeat)
	assert.Equal(t, 1000, s.LogCapacity)
	assert.Equal(t, "random", s.Insight.Provider)
	assert.Equal(t, "http://localhost:11434", s.Insight.Ollama.BaseURL)
	assert.Equal(t, "deepseek-r1:1.5b", s.Insight.Ollama.Model)
	assert.Equal(t, 30*time.Second, s.Insight.Timeout)
	assert.True(t, s.Journal.Enabled)
	assert.Equal(t, int64(10<<20), s.Journal.MaxBytes)
	assert.Equal(t, 3, s.Journal.MaxBackups)
	assert.Zero(t, s.Trigger.Rate)
	assert.Equal(t, 10, s.Trigger.Burst)
	assert.Empty(t, s.Dashboards)
	assert.Empty(t, s.SNMP.TrapListen)
	assert.True(t, s.Preflight)
}

func TestLoadSettings_EnvOverrides(t *testing.T) {
	t.Setenv("OPSDASH_HTTP_LISTEN", "127.0.0.1:8080")
	t.Setenv("OPSDASH_RUNNER_TIMEOUT", "3s")
	t.Setenv("OPSDASH_INSIGHT_PROVIDER", "ollama")
	t.Setenv("OPSDASH_DASHBOARDS", "self_healing,decision_making")

	s, err := config.LoadSettings(config.NewViper(), "")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8080", s.HTTP.Listen)
	assert.Equal(t, 3*time.Second, s.Runner.Timeout)
	assert.Equal(t, "ollama", s.Insight.Provider)
	assert.Equal(t, []string{"self_healing", "decision_making"}, s.Dashboards)
}

func TestLoadSettings_ModelBackendEnv(t *testing.T) {
	t.Setenv("OLLAMA_MODEL", "llama3")
	t.Setenv("OPENAI_API_KEY", "sk-test")

	s, err := config.LoadSettings(config.NewViper(), "")
	require.NoError(t, err)
	assert.Equal(t, "llama3", s.Insight.Ollama.Model)
	assert.Equal(t, "sk-test", s.Insight.OpenAI.APIKey)
}

func TestLoadSettings_PrefixedEnvWins(t *testing.T) {
	t.Setenv("OLLAMA_MODEL", "llama3")
	t.Setenv("OPSDASH_INSIGHT_OLLAMA_MODEL", "mistral")

	s, err := config.LoadSettings(config.NewViper(), "")
	require.NoError(t, err)
	assert.Equal(t, "mistral", s.Insight.Ollama.Model)
}

func TestLoadSettings_File(t *testing.T) {
	dir := tmpDir(t, map[string]string{"opsdash.yaml": `
http:
  listen: ":9000"
collect:
  interval_scale: 0.5
journal:
  enabled: false
trigger:
  rate: 2
  burst: 4
dashboards: [advanced_features]
`})

	s, err := config.LoadSettings(config.NewViper(), filepath.Join(dir, "opsdash.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ":9000", s.HTTP.Listen)
	assert.Equal(t, 0.5, s.Collect.IntervalScale)
	assert.False(t, s.Journal.Enabled)
	assert.Equal(t, 2.0, s.Trigger.Rate)
	assert.Equal(t, 4, s.Trigger.Burst)
	assert.Equal(t, []string{"advanced_features"}, s.Dashboards)
	assert.Equal(t, 10*time.Second, s.Runner.Timeout, "unset keys keep defaults")
}

func TestLoadSettings_MissingFile(t *testing.T) {
	_, err := config.LoadSettings(config.NewViper(), filepath.Join(t.TempDir(), "none.yaml"))
	assert.Error(t, err)
}

func TestLoadSettings_Invalid(t *testing.T) {
	t.Setenv("OPSDASH_INSIGHT_PROVIDER", "magic")
	t.Setenv("OPSDASH_LOG_FORMAT", "xml")
	t.Setenv("OPSDASH_COLLECT_INTERVAL_SCALE", "0")

	_, err := config.LoadSettings(config.NewViper(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "3 error(s)")
	assert.Contains(t, err.Error(), `unknown provider "magic"`)
	assert.Contains(t, err.Error(), "log.format")
	assert.Contains(t, err.Error(), "collect.interval_scale")
}
