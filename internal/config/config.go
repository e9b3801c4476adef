// Package config loads the distribution engine configuration from
// environment variables (SMLISER_ prefix) with an optional YAML file
// underneath. Environment values take precedence over the file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Config is the complete engine configuration.
type Config struct {
	Repository RepositoryConfig `yaml:"repository" envconfig:"REPOSITORY"`
	Security   SecurityConfig   `yaml:"security" envconfig:"SECURITY"`
	Database   DatabaseConfig   `yaml:"database" envconfig:"DATABASE"`
	Logging    LoggingConfig    `yaml:"logging" envconfig:"LOGGING"`
	Sweep      SweepConfig      `yaml:"sweep" envconfig:"SWEEP"`
}

// RepositoryConfig locates the sandboxed package repository on disk.
type RepositoryConfig struct {
	BaseDir  string `yaml:"base_dir" envconfig:"BASE_DIR" default:"repository" validate:"required"`
	TrashDir string `yaml:"trash_dir" envconfig:"TRASH_DIR" default:".trash"`
}

// SecurityConfig holds the token signing material. The secret has no
// default: startup fails when it is not configured.
type SecurityConfig struct {
	Secret   string        `yaml:"secret" envconfig:"SECRET" validate:"required,min=32"`
	Salt     string        `yaml:"salt" envconfig:"SALT" default:"smliser-download-token-v1"`
	TokenTTL time.Duration `yaml:"token_ttl" envconfig:"TOKEN_TTL" default:"240h"`
}

// DatabaseConfig points at the SQLite record store.
type DatabaseConfig struct {
	Path string `yaml:"path" envconfig:"PATH" default:"data/smliser.db" validate:"required"`
}

// LoggingConfig controls slog output.
type LoggingConfig struct {
	Level  string `yaml:"level" envconfig:"LEVEL" default:"info" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" envconfig:"FORMAT" default:"json" validate:"oneof=json text"`
}

// SweepConfig drives the periodic expired-token sweep.
type SweepConfig struct {
	Interval time.Duration `yaml:"interval" envconfig:"INTERVAL" default:"1h"`
	LeaseTTL time.Duration `yaml:"lease_ttl" envconfig:"LEASE_TTL" default:"5m"`
}

// Load reads configuration from the environment and, when present, the
// YAML file named by SMLISER_CONFIG_FILE (default config.yaml).
func Load() (*Config, error) {
	var cfg Config

	// Environment variables and struct defaults first.
	if err := envconfig.Process("SMLISER", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	// A config file, when present, overrides the defaults for anything
	// not set explicitly in the environment.
	configFile := os.Getenv("SMLISER_CONFIG_FILE")
	if configFile == "" {
		configFile = "config.yaml"
	}
	if _, err := os.Stat(configFile); err == nil {
		fileCfg, err := loadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
		cfg = mergeConfigs(*fileCfg, cfg)
	}

	if err := cfg.resolvePaths(); err != nil {
		return nil, fmt.Errorf("failed to resolve paths: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadFromFile loads configuration from a YAML file.
func loadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// mergeConfigs overlays file values onto the env-derived config. A file
// value wins unless the corresponding environment variable was set
// explicitly.
func mergeConfigs(fileCfg, envCfg Config) Config {
	out := envCfg

	overlayString := func(dst *string, fileVal, envKey string) {
		if fileVal != "" && os.Getenv(envKey) == "" {
			*dst = fileVal
		}
	}
	overlayDuration := func(dst *time.Duration, fileVal time.Duration, envKey string) {
		if fileVal != 0 && os.Getenv(envKey) == "" {
			*dst = fileVal
		}
	}

	overlayString(&out.Repository.BaseDir, fileCfg.Repository.BaseDir, "SMLISER_REPOSITORY_BASE_DIR")
	overlayString(&out.Repository.TrashDir, fileCfg.Repository.TrashDir, "SMLISER_REPOSITORY_TRASH_DIR")
	overlayString(&out.Security.Secret, fileCfg.Security.Secret, "SMLISER_SECURITY_SECRET")
	overlayString(&out.Security.Salt, fileCfg.Security.Salt, "SMLISER_SECURITY_SALT")
	overlayDuration(&out.Security.TokenTTL, fileCfg.Security.TokenTTL, "SMLISER_SECURITY_TOKEN_TTL")
	overlayString(&out.Database.Path, fileCfg.Database.Path, "SMLISER_DATABASE_PATH")
	overlayString(&out.Logging.Level, fileCfg.Logging.Level, "SMLISER_LOGGING_LEVEL")
	overlayString(&out.Logging.Format, fileCfg.Logging.Format, "SMLISER_LOGGING_FORMAT")
	overlayDuration(&out.Sweep.Interval, fileCfg.Sweep.Interval, "SMLISER_SWEEP_INTERVAL")
	overlayDuration(&out.Sweep.LeaseTTL, fileCfg.Sweep.LeaseTTL, "SMLISER_SWEEP_LEASE_TTL")

	return out
}

// Validate checks structural constraints. The token secret is
// deliberately mandatory: there is no built-in fallback secret.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return err
	}
	if c.Sweep.Interval <= 0 {
		return fmt.Errorf("sweep interval must be positive, got %s", c.Sweep.Interval)
	}
	if c.Security.TokenTTL <= 0 {
		return fmt.Errorf("token ttl must be positive, got %s", c.Security.TokenTTL)
	}
	return nil
}

// resolvePaths makes the repository and database paths absolute so the
// sandbox base is stable regardless of working directory.
func (c *Config) resolvePaths() error {
	base, err := filepath.Abs(c.Repository.BaseDir)
	if err != nil {
		return fmt.Errorf("failed to resolve repository base: %w", err)
	}
	c.Repository.BaseDir = base

	if !filepath.IsAbs(c.Repository.TrashDir) {
		c.Repository.TrashDir = filepath.Join(base, c.Repository.TrashDir)
	}

	dbPath, err := filepath.Abs(c.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to resolve database path: %w", err)
	}
	c.Database.Path = dbPath
	return nil
}
