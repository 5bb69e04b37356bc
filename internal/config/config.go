package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// DefaultPath is where the CLI looks for configuration when --config is not given.
const DefaultPath = "litrev.yaml"

// Config holds all litrev configuration.
type Config struct {
	Name string `yaml:"name"`

	// LLM configuration for the screener
	LLM LLMConfig `yaml:"llm"`

	Screening ScreeningConfig `yaml:"screening"`
	Dedup     DedupConfig     `yaml:"dedup"`
	Store     StoreConfig     `yaml:"store"`
	QA        QAConfig        `yaml:"qa"`
	Publish   PublishConfig   `yaml:"publish"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// LLMConfig configures the model used for screening.
type LLMConfig struct {
	Provider          string  `yaml:"provider" env:"LITREV_LLM_PROVIDER" validate:"required,oneof=anthropic openai gemini"`
	APIKey            string  `yaml:"api_key,omitempty" validate:"-"`
	Model             string  `yaml:"model" env:"LITREV_LLM_MODEL" validate:"required"`
	BaseURL           string  `yaml:"base_url,omitempty" env:"LITREV_LLM_BASE_URL" validate:"omitempty,url"`
	Timeout           string  `yaml:"timeout" env:"LITREV_LLM_TIMEOUT"`
	RequestsPerSecond float64 `yaml:"requests_per_second" env:"LITREV_LLM_RPS" validate:"gt=0"`
	MaxTokens         int     `yaml:"max_tokens" env:"LITREV_LLM_MAX_TOKENS" validate:"min=1"`
}

// ScreeningConfig configures title/abstract screening runs.
type ScreeningConfig struct {
	Framework   string  `yaml:"framework" env:"LITREV_FRAMEWORK" validate:"oneof=picos pcc"`
	Workers     int     `yaml:"workers" env:"LITREV_WORKERS" validate:"min=1,max=64"`
	OutputDir   string  `yaml:"output_dir" env:"LITREV_SCREEN_OUT"`
	SampleRate  float64 `yaml:"sample_rate" validate:"gt=0,lte=1"`
	SampleSeed  int64   `yaml:"sample_seed"`
	// KappaTarget is the Cohen's kappa a verification sample must reach.
	KappaTarget float64 `yaml:"kappa_target" validate:"gt=0,lte=1"`
}

// DedupConfig holds the similarity thresholds used by the deduplicator.
type DedupConfig struct {
	TitleThreshold      float64 `yaml:"title_threshold" validate:"gt=0,lte=1"`
	BorderlineThreshold float64 `yaml:"borderline_threshold" validate:"gt=0,lte=1,ltfield=TitleThreshold"`
}

// StoreConfig locates the decision database.
type StoreConfig struct {
	Path string `yaml:"path" env:"LITREV_DB"`
}

// QAConfig configures the codebook quality gates.
type QAConfig struct {
	MaxEffectSize float64 `yaml:"max_effect_size" validate:"gt=0"`
	MinSample     int     `yaml:"min_sample" validate:"min=1"`
}

// PublishConfig configures the S3-compatible artifact archive.
type PublishConfig struct {
	Endpoint  string `yaml:"endpoint" env:"LITREV_PUBLISH_ENDPOINT" validate:"omitempty,hostname_port"`
	Bucket    string `yaml:"bucket" env:"LITREV_PUBLISH_BUCKET" validate:"required_with=Endpoint"`
	AccessKey string `yaml:"access_key,omitempty" env:"LITREV_PUBLISH_ACCESS_KEY"`
	SecretKey string `yaml:"secret_key,omitempty" env:"LITREV_PUBLISH_SECRET_KEY"`
	UseSSL    bool   `yaml:"use_ssl" env:"LITREV_PUBLISH_SSL"`
	Region    string `yaml:"region,omitempty"`
	Prefix    string `yaml:"prefix"`
}

// LoggingConfig configures the categorized file logger.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode" env:"LITREV_DEBUG"`
	Level      string          `yaml:"level" validate:"oneof=debug info warn error"` // debug, info, warn, error
	JSONFormat bool            `yaml:"json_format"`
	Categories map[string]bool `yaml:"categories,omitempty"`
}

// apiKeys collects provider keys from the environment.
type apiKeys struct {
	Anthropic string `env:"ANTHROPIC_API_KEY"`
	OpenAI    string `env:"OPENAI_API_KEY"`
	Gemini    string `env:"GEMINI_API_KEY"`
}

func (k apiKeys) forProvider(p string) string {
	switch p {
	case "anthropic":
		return k.Anthropic
	case "openai":
		return k.OpenAI
	case "gemini":
		return k.Gemini
	}
	return ""
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name: "litrev",

		LLM: LLMConfig{
			Provider:          "anthropic",
			Model:             "claude-sonnet-4-5-20250929",
			Timeout:           "120s",
			RequestsPerSecond: 2,
			MaxTokens:         1024,
		},

		Screening: ScreeningConfig{
			Framework:   "picos",
			Workers:     4,
			OutputDir:   "screening",
			SampleRate:  0.20,
			SampleSeed:  42,
			KappaTarget: 0.80,
		},

		Dedup: DedupConfig{
			TitleThreshold:      0.85,
			BorderlineThreshold: 0.70,
		},

		Store: StoreConfig{
			Path: filepath.Join(".litrev", "litrev.db"),
		},

		QA: QAConfig{
			MaxEffectSize: 5.0,
			MinSample:     10,
		},

		Publish: PublishConfig{
			UseSSL: true,
			Prefix: "litrev",
		},

		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from a YAML file.
// A missing file yields defaults; environment overrides apply either way.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies LITREV_* settings and resolves the provider API key.
func (c *Config) applyEnvOverrides() error {
	if err := env.Parse(c); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	var keys apiKeys
	if err := env.Parse(&keys); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	if c.LLM.APIKey != "" {
		return nil
	}
	if key := keys.forProvider(c.LLM.Provider); key != "" {
		c.LLM.APIKey = key
		return nil
	}

	// Fall back to whichever provider has a key, in priority order.
	for _, p := range ValidProviders {
		if key := keys.forProvider(p); key != "" {
			c.LLM.Provider = p
			c.LLM.APIKey = key
			if def, ok := DefaultModels[p]; ok {
				c.LLM.Model = def
			}
			return nil
		}
	}
	return nil
}

// GetLLMTimeout returns the LLM timeout as a duration.
func (c *Config) GetLLMTimeout() time.Duration {
	d, err := time.ParseDuration(c.LLM.Timeout)
	if err != nil {
		return 120 * time.Second
	}
	return d
}

// ValidProviders lists all supported LLM providers in key-detection priority order.
var ValidProviders = []string{"anthropic", "openai", "gemini"}

// DefaultModels maps a provider to the model used when only an API key is configured.
var DefaultModels = map[string]string{
	"anthropic": "claude-sonnet-4-5-20250929",
	"openai":    "gpt-4o",
	"gemini":    "gemini-2.5-flash",
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := time.ParseDuration(c.LLM.Timeout); err != nil {
		return fmt.Errorf("invalid config: llm.timeout %q: %w", c.LLM.Timeout, err)
	}
	return nil
}

// RequireAPIKey reports an error when no key is available for the configured provider.
func (c *Config) RequireAPIKey() error {
	if c.LLM.APIKey == "" {
		return fmt.Errorf("LLM API key not configured for %s (set ANTHROPIC_API_KEY, OPENAI_API_KEY, or GEMINI_API_KEY)", c.LLM.Provider)
	}
	return nil
}

// PublishEnabled reports whether an artifact archive is configured.
func (c *Config) PublishEnabled() bool {
	return c.Publish.Endpoint != "" && c.Publish.Bucket != ""
}

// UseProvider switches the LLM provider, taking its API key from the
// environment and its default model. A non-empty model overrides the default.
func (c *Config) UseProvider(provider, model string) error {
	if provider != "" && provider != c.LLM.Provider {
		var keys apiKeys
		if err := env.Parse(&keys); err != nil {
			return fmt.Errorf("parse env: %w", err)
		}
		c.LLM.Provider = provider
		c.LLM.APIKey = keys.forProvider(provider)
		if def, ok := DefaultModels[provider]; ok {
			c.LLM.Model = def
		}
	}
	if model != "" {
		c.LLM.Model = model
	}
	return c.Validate()
}
