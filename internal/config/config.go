package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models rankarena.yml. Judge credentials are deliberately absent:
// those come from the environment (see internal/judge).
type Config struct {
	Judge struct {
		Model             string `yaml:"model"`
		TimeoutSeconds    int    `yaml:"timeout_seconds"`
		MaxCandidateChars int    `yaml:"max_candidate_chars"`
	} `yaml:"judge"`
	Batch struct {
		Concurrency      int `yaml:"concurrency"`
		DefaultScenarios int `yaml:"default_scenarios"`
	} `yaml:"batch"`
	Webhook struct {
		MaxAttempts    int `yaml:"max_attempts"`
		TimeoutSeconds int `yaml:"timeout_seconds"`
		BackoffSeconds int `yaml:"backoff_seconds"`
	} `yaml:"webhook"`
	Fetch struct {
		Concurrency     int `yaml:"concurrency"`
		TimeoutSeconds  int `yaml:"timeout_seconds"`
		MaxContentChars int `yaml:"max_content_chars"`
	} `yaml:"fetch"`
}

// JudgeTimeout is the hard per-scenario bound on one judge invocation.
func (c *Config) JudgeTimeout() time.Duration {
	return time.Duration(c.Judge.TimeoutSeconds) * time.Second
}

// WebhookTimeout bounds one webhook delivery attempt.
func (c *Config) WebhookTimeout() time.Duration {
	return time.Duration(c.Webhook.TimeoutSeconds) * time.Second
}

// WebhookBackoff is the base delay between webhook delivery attempts.
func (c *Config) WebhookBackoff() time.Duration {
	return time.Duration(c.Webhook.BackoffSeconds) * time.Second
}

// FetchTimeout bounds one URL fetch.
func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetch.TimeoutSeconds) * time.Second
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; run ra init to generate one", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Judge.Model == "" {
		return fmt.Errorf("config.judge.model is required")
	}
	if c.Judge.TimeoutSeconds <= 0 {
		return fmt.Errorf("config.judge.timeout_seconds must be positive")
	}
	if c.Batch.Concurrency <= 0 {
		return fmt.Errorf("config.batch.concurrency must be positive")
	}
	if c.Batch.DefaultScenarios < 2 || c.Batch.DefaultScenarios > 20 {
		return fmt.Errorf("config.batch.default_scenarios must be in [2,20]")
	}
	if c.Webhook.MaxAttempts <= 0 {
		return fmt.Errorf("config.webhook.max_attempts must be positive")
	}
	if c.Webhook.TimeoutSeconds <= 0 {
		return fmt.Errorf("config.webhook.timeout_seconds must be positive")
	}
	if c.Fetch.Concurrency <= 0 {
		return fmt.Errorf("config.fetch.concurrency must be positive")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "rankarena.yml")
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

const defaultTemplate = `judge:
  model: gpt-4o-mini
  timeout_seconds: 90
  max_candidate_chars: 24000

batch:
  # Simultaneous judge calls per batch; keep low to respect upstream rate limits.
  concurrency: 3
  default_scenarios: 5

webhook:
  max_attempts: 3
  timeout_seconds: 10
  backoff_seconds: 1

fetch:
  concurrency: 5
  timeout_seconds: 10
  max_content_chars: 8000
`
