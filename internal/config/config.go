// ABOUTME: Configuration loading and parsing for skyhammer
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete skyhammer configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Uploads       UploadsConfig       `yaml:"uploads"`
	Model         ModelConfig         `yaml:"model"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// UploadsConfig holds upload staging configuration
type UploadsConfig struct {
	Dir string `yaml:"dir"`
	// MaxBytes caps a single upload; 0 uses the default (50 MiB)
	MaxBytes int64 `yaml:"max_bytes"`
}

// ModelConfig holds model provider configuration
type ModelConfig struct {
	APIKey             string `yaml:"api_key"`
	BaseURL            string `yaml:"base_url"`
	ChatModel          string `yaml:"chat_model"`
	TitleModel         string `yaml:"title_model"`
	TranscriptionModel string `yaml:"transcription_model"`
}

// TranscriptionConfig holds the transcription worker pool configuration
type TranscriptionConfig struct {
	Workers      int           `yaml:"workers"`
	WaitTimeout  time.Duration `yaml:"-"`
	PollInterval time.Duration `yaml:"-"`
	OCRLanguage  string        `yaml:"ocr_language"`

	// Raw string values for YAML unmarshaling
	WaitTimeoutRaw  string `yaml:"wait_timeout"`
	PollIntervalRaw string `yaml:"poll_interval"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = ":8080"
	}
	if c.Uploads.Dir == "" {
		c.Uploads.Dir = "uploads"
	}
	if c.Model.ChatModel == "" {
		c.Model.ChatModel = "gpt-4o"
	}
	if c.Model.TitleModel == "" {
		c.Model.TitleModel = c.Model.ChatModel
	}
	if c.Transcription.Workers <= 0 {
		c.Transcription.Workers = 2
	}
	if c.Transcription.WaitTimeout <= 0 {
		c.Transcription.WaitTimeout = 5 * time.Minute
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Model.APIKey == "" {
		return fmt.Errorf("model.api_key is required")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error (got %q)", c.Logging.Level)
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Transcription.WaitTimeoutRaw != "" {
		cfg.Transcription.WaitTimeout, err = time.ParseDuration(cfg.Transcription.WaitTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing wait_timeout %q: %w", cfg.Transcription.WaitTimeoutRaw, err)
		}
	}

	if cfg.Transcription.PollIntervalRaw != "" {
		cfg.Transcription.PollInterval, err = time.ParseDuration(cfg.Transcription.PollIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing poll_interval %q: %w", cfg.Transcription.PollIntervalRaw, err)
		}
	}

	return nil
}
