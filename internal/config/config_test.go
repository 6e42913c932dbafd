package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setTestKeys(t *testing.T) {
	t.Helper()
	t.Setenv(HumeAPIKeyEnvVar, "test-hume-key")
	t.Setenv(OpenAIAPIKeyEnvVar, "test-openai-key")
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	setTestKeys(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.Server.ListenAddr())
	assert.Equal(t, "wss://api.hume.ai/v0/stream/models", cfg.Hume.StreamURL)
	assert.Equal(t, "https://api.openai.com/v1/chat/completions", cfg.OpenAI.Endpoint)
	assert.Equal(t, "gpt-4o-mini", cfg.OpenAI.Model)
	assert.Equal(t, 150, cfg.OpenAI.MaxTokens)
	assert.Equal(t, 3*time.Second, cfg.Relay.GetThrottleWindow())

	assert.Equal(t, "test-hume-key", cfg.Hume.APIKey)
	assert.Equal(t, "test-openai-key", cfg.OpenAI.APIKey)
}

func TestLoadFileOverrides(t *testing.T) {
	setTestKeys(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  address: "127.0.0.1"
  port: 9090
relay:
  throttle_window_ms: 5000
logging:
  level: "debug"
  format: "json"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9090", cfg.Server.ListenAddr())
	assert.Equal(t, 5*time.Second, cfg.Relay.GetThrottleWindow())
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)

	// Untouched sections keep defaults
	assert.Equal(t, "gpt-4o-mini", cfg.OpenAI.Model)
}

func TestLoadMalformedFile(t *testing.T) {
	setTestKeys(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [not: a map"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadMissingHumeKey(t *testing.T) {
	t.Setenv(HumeAPIKeyEnvVar, "")
	t.Setenv(OpenAIAPIKeyEnvVar, "test-openai-key")

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), HumeAPIKeyEnvVar)
}

func TestLoadMissingOpenAIKey(t *testing.T) {
	t.Setenv(HumeAPIKeyEnvVar, "test-hume-key")
	t.Setenv(OpenAIAPIKeyEnvVar, "")

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), OpenAIAPIKeyEnvVar)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"empty address", func(c *Config) { c.Server.Address = "" }},
		{"empty stream url", func(c *Config) { c.Hume.StreamURL = "" }},
		{"empty endpoint", func(c *Config) { c.OpenAI.Endpoint = "" }},
		{"empty model", func(c *Config) { c.OpenAI.Model = "" }},
		{"zero max tokens", func(c *Config) { c.OpenAI.MaxTokens = 0 }},
		{"zero timeout", func(c *Config) { c.OpenAI.Timeout = 0 }},
		{"zero throttle window", func(c *Config) { c.Relay.ThrottleWindowMs = 0 }},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Hume.APIKey = "k"
			cfg.OpenAI.APIKey = "k"
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
