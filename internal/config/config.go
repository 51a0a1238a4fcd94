// Package config loads the process configuration from environment variables
// with an optional YAML file overlay. Values are read once at process start.
package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// DefaultAuthorityURL is the well-known production endpoint of the license
// authority, used when no override is configured.
const DefaultAuthorityURL = "https://license.keygate.dev/api/v1/verify"

// Config represents the complete application configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server" envconfig:"SERVER"`
	License LicenseConfig `yaml:"license" envconfig:"LICENSE"`
	Logging LoggingConfig `yaml:"logging" envconfig:"LOGGING"`
}

// ServerConfig contains HTTP server configuration for the host-facing API.
// Defaults live in applyDefaults, not in envconfig tags: envconfig writes a
// tag default into every field whose env var is unset, which would clobber
// values a config file supplied.
type ServerConfig struct {
	Port            int           `yaml:"port" envconfig:"PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
}

// LicenseConfig contains the license verification inputs. An empty Key means
// the process runs unlicensed and no verification calls are made.
type LicenseConfig struct {
	Key             string        `yaml:"key" envconfig:"KEY"`
	AuthorityURL    string        `yaml:"authority_url" envconfig:"AUTHORITY_URL"`
	CacheFile       string        `yaml:"cache_file" envconfig:"CACHE_FILE"`
	VerifyTimeout   time.Duration `yaml:"verify_timeout" envconfig:"VERIFY_TIMEOUT"`
	RefreshInterval time.Duration `yaml:"refresh_interval" envconfig:"REFRESH_INTERVAL"`
	BillingRequired bool          `yaml:"billing_required" envconfig:"BILLING_REQUIRED"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL"`
	Output   string `yaml:"output" envconfig:"OUTPUT"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH"`
}

// Load loads configuration from environment variables and, when present, the
// keygate.yml file in the working directory. Environment takes precedence
// over the file; unset fields fall back to defaults.
func Load() (*Config, error) {
	var cfg Config

	if data, err := os.ReadFile(configFilePath()); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// Without default tags envconfig only touches fields whose env vars are
	// actually set, so file values survive.
	if err := envconfig.Process("KEYGATE", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func configFilePath() string {
	if p := os.Getenv("KEYGATE_CONFIG"); p != "" {
		return p
	}
	return "keygate.yml"
}

// applyDefaults fills every field neither the environment nor the config
// file set.
func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout <= 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.WriteTimeout <= 0 {
		c.Server.WriteTimeout = 15 * time.Second
	}
	if c.Server.IdleTimeout <= 0 {
		c.Server.IdleTimeout = 60 * time.Second
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 30 * time.Second
	}
	if c.License.AuthorityURL == "" {
		c.License.AuthorityURL = DefaultAuthorityURL
	}
	if c.License.CacheFile == "" {
		c.License.CacheFile = "license-state.json"
	}
	if c.License.VerifyTimeout <= 0 {
		c.License.VerifyTimeout = 10 * time.Second
	}
	if c.License.RefreshInterval <= 0 {
		c.License.RefreshInterval = time.Hour
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "console"
	}
	if c.Logging.FilePath == "" {
		c.Logging.FilePath = "logs/keygate.log"
	}
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if _, err := url.ParseRequestURI(c.License.AuthorityURL); err != nil {
		return fmt.Errorf("invalid authority URL %q: %w", c.License.AuthorityURL, err)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	return nil
}
