// Package config provides configuration for the LinZ consolidation
// service. Settings come from environment variables with the LINZ_ prefix,
// optionally overridden by a YAML config file, with sensible defaults for
// everything except model credentials.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ErrMissingCredential indicates that the selected LLM provider has no API
// key configured. This is fatal for a job cycle and is surfaced before any
// batch work.
var ErrMissingCredential = errors.New("missing model credential")

// Config holds all settings for the consolidation service.
type Config struct {
	Job     JobConfig     `yaml:"job"`
	Storage StorageConfig `yaml:"storage"`
	LLM     LLMConfig     `yaml:"llm"`
}

// JobConfig contains the consolidation cycle parameters.
type JobConfig struct {
	LookbackHours  int `yaml:"lookback_hours"`  // eligibility window for conversation records (default: 24)
	MaxRecords     int `yaml:"max_records"`     // per-cycle record cap, 0 = uncapped (default: 200)
	RetentionHours int `yaml:"retention_hours"` // minimum age after consolidation before purge (default: 72)
}

// StorageConfig contains database configuration.
type StorageConfig struct {
	Engine string `yaml:"engine"` // sqlite or postgres (default: sqlite)
	DSN    string `yaml:"dsn"`    // postgres connection string or sqlite path (default: ./data/linz.db)
}

// LLMConfig contains extraction model configuration.
type LLMConfig struct {
	Provider          string  `yaml:"provider"`            // ollama, openai, anthropic (default: ollama)
	Model             string  `yaml:"model"`               // provider default when empty
	OllamaURL         string  `yaml:"ollama_url"`          // default: http://localhost:11434
	OpenAIAPIKey      string  `yaml:"openai_api_key"`
	AnthropicAPIKey   string  `yaml:"anthropic_api_key"`
	TimeoutSeconds    int     `yaml:"timeout_seconds"`     // per-call timeout (default: 60)
	RequestsPerSecond float64 `yaml:"requests_per_second"` // shared rate limit, 0 disables (default: 1)
}

// LoadConfig loads configuration from environment variables with defaults.
// When path is non-empty the YAML file at path is applied on top; file
// values override environment values.
func LoadConfig(path string) (*Config, error) {
	cfg := buildBaseConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
		}
	}

	return cfg, nil
}

// Validate checks that the selected provider has the credential it needs.
// Ollama is local and needs none.
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case "openai":
		if c.LLM.OpenAIAPIKey == "" {
			return fmt.Errorf("%w: LINZ_OPENAI_API_KEY is required for provider openai", ErrMissingCredential)
		}
	case "anthropic":
		if c.LLM.AnthropicAPIKey == "" {
			return fmt.Errorf("%w: LINZ_ANTHROPIC_API_KEY is required for provider anthropic", ErrMissingCredential)
		}
	case "ollama", "":
		// Local provider; no credential.
	default:
		return fmt.Errorf("config: unknown LLM provider %q", c.LLM.Provider)
	}

	switch c.Storage.Engine {
	case "sqlite", "postgres", "":
	default:
		return fmt.Errorf("config: unknown storage engine %q", c.Storage.Engine)
	}

	return nil
}

// APIKey returns the credential for the configured provider, empty when the
// provider needs none.
func (c *LLMConfig) APIKey() string {
	switch c.Provider {
	case "openai":
		return c.OpenAIAPIKey
	case "anthropic":
		return c.AnthropicAPIKey
	default:
		return ""
	}
}

// buildBaseConfig constructs a Config from environment variables and defaults.
func buildBaseConfig() *Config {
	return &Config{
		Job: JobConfig{
			LookbackHours:  getEnvInt("LINZ_LOOKBACK_HOURS", 24),
			MaxRecords:     getEnvInt("LINZ_MAX_RECORDS", 200),
			RetentionHours: getEnvInt("LINZ_RETENTION_HOURS", 72),
		},
		Storage: StorageConfig{
			Engine: getEnv("LINZ_STORAGE_ENGINE", "sqlite"),
			DSN:    getEnv("LINZ_STORAGE_DSN", "./data/linz.db"),
		},
		LLM: LLMConfig{
			Provider:          getEnv("LINZ_LLM_PROVIDER", "ollama"),
			Model:             getEnv("LINZ_LLM_MODEL", ""),
			OllamaURL:         getEnv("LINZ_OLLAMA_URL", "http://localhost:11434"),
			OpenAIAPIKey:      getEnv("LINZ_OPENAI_API_KEY", ""),
			AnthropicAPIKey:   getEnv("LINZ_ANTHROPIC_API_KEY", ""),
			TimeoutSeconds:    getEnvInt("LINZ_LLM_TIMEOUT_SECONDS", 60),
			RequestsPerSecond: getEnvFloat("LINZ_LLM_REQUESTS_PER_SECOND", 1),
		},
	}
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default
// value. Unparseable values fall back to the default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat retrieves a float environment variable or returns a default
// value. Unparseable values fall back to the default.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}
