package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variable names for credentials. Keys are never read from the
// config file so they cannot end up committed alongside it.
const (
	HumeAPIKeyEnvVar   = "HUME_API_KEY"
	OpenAIAPIKeyEnvVar = "OPENAI_API_KEY"
)

// Config represents the complete service configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Hume    HumeConfig    `yaml:"hume"`
	OpenAI  OpenAIConfig  `yaml:"openai"`
	Relay   RelayConfig   `yaml:"relay"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig contains HTTP/WebSocket server configuration
type ServerConfig struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

// HumeConfig contains the upstream emotion-inference streaming configuration
type HumeConfig struct {
	StreamURL string `yaml:"stream_url"`
	APIKey    string `yaml:"-"`
}

// OpenAIConfig contains the completion-service configuration
type OpenAIConfig struct {
	Endpoint  string `yaml:"endpoint"`
	Model     string `yaml:"model"`
	MaxTokens int    `yaml:"max_tokens"`
	Timeout   int    `yaml:"timeout"` // seconds
	APIKey    string `yaml:"-"`
}

// RelayConfig contains relay behavior configuration
type RelayConfig struct {
	ThrottleWindowMs int `yaml:"throttle_window_ms"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a configuration that works with environment variables alone.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Address: "0.0.0.0",
			Port:    8080,
		},
		Hume: HumeConfig{
			StreamURL: "wss://api.hume.ai/v0/stream/models",
		},
		OpenAI: OpenAIConfig{
			Endpoint:  "https://api.openai.com/v1/chat/completions",
			Model:     "gpt-4o-mini",
			MaxTokens: 150,
			Timeout:   30,
		},
		Relay: RelayConfig{
			ThrottleWindowMs: 3000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads the configuration file (if present), applies environment
// variable credentials, and validates the result. A missing file is not an
// error; defaults are used.
func Load(path string) (*Config, error) {
	config := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	} else {
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	config.Hume.APIKey = os.Getenv(HumeAPIKeyEnvVar)
	config.OpenAI.APIKey = os.Getenv(OpenAIAPIKeyEnvVar)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate performs validation of the configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.Hume.Validate(); err != nil {
		return fmt.Errorf("hume config: %w", err)
	}

	if err := c.OpenAI.Validate(); err != nil {
		return fmt.Errorf("openai config: %w", err)
	}

	if err := c.Relay.Validate(); err != nil {
		return fmt.Errorf("relay config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", s.Port)
	}

	if s.Address == "" {
		return fmt.Errorf("address cannot be empty")
	}

	return nil
}

// Validate validates upstream streaming configuration
func (h *HumeConfig) Validate() error {
	if h.StreamURL == "" {
		return fmt.Errorf("stream_url cannot be empty")
	}

	if h.APIKey == "" {
		return fmt.Errorf("missing environment variable %s", HumeAPIKeyEnvVar)
	}

	return nil
}

// Validate validates completion-service configuration
func (o *OpenAIConfig) Validate() error {
	if o.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}

	if o.Model == "" {
		return fmt.Errorf("model cannot be empty")
	}

	if o.MaxTokens < 1 {
		return fmt.Errorf("max_tokens must be at least 1, got %d", o.MaxTokens)
	}

	if o.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", o.Timeout)
	}

	if o.APIKey == "" {
		return fmt.Errorf("missing environment variable %s", OpenAIAPIKeyEnvVar)
	}

	return nil
}

// Validate validates relay configuration
func (r *RelayConfig) Validate() error {
	if r.ThrottleWindowMs < 1 {
		return fmt.Errorf("throttle_window_ms must be positive, got %d", r.ThrottleWindowMs)
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// GetThrottleWindow returns the enrichment throttle window as a time.Duration
func (r *RelayConfig) GetThrottleWindow() time.Duration {
	return time.Duration(r.ThrottleWindowMs) * time.Millisecond
}

// GetTimeoutDuration returns the completion request timeout as a time.Duration
func (o *OpenAIConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(o.Timeout) * time.Second
}

// ListenAddr returns the host:port string the HTTP server binds to
func (s *ServerConfig) ListenAddr() string {
	return fmt.Sprintf("%s:%d", s.Address, s.Port)
}
