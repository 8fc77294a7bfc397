// Package model defines the data structures for planguard's plans, outcomes, revision actions and configuration.
package model

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"

	yamlutil "github.com/msageha/planguard/internal/yaml"
)

const (
	DefaultLongTaskThresholdMs  int64 = 5 * 60 * 1000
	DefaultMinDescriptionLength       = 10
	DefaultAuditMaxSizeBytes    int64 = 10 * 1024 * 1024
	DefaultRequestTimeoutSec          = 30
)

type Config struct {
	Logging    LoggingConfig    `yaml:"logging"`
	Validation ValidationConfig `yaml:"validation"`
	Revision   RevisionConfig   `yaml:"revision"`
	Audit      AuditConfig      `yaml:"audit"`
	Daemon     DaemonConfig     `yaml:"daemon"`
}

type LoggingConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
}

type ValidationConfig struct {
	LongTaskThresholdMs  int64 `yaml:"long_task_threshold_ms" validate:"gt=0"`
	MinDescriptionLength int   `yaml:"min_description_length" validate:"gte=0"`
}

type RevisionConfig struct {
	RulesFile  string `yaml:"rules_file"`
	WatchRules bool   `yaml:"watch_rules"`
}

type AuditConfig struct {
	Path         string `yaml:"path"`
	MaxSizeBytes int64  `yaml:"max_size_bytes" validate:"gte=0"`
}

// DaemonConfig applies to planguard serve and the remote commands.
type DaemonConfig struct {
	SocketPath        string `yaml:"socket_path"`
	RequestTimeoutSec int    `yaml:"request_timeout_sec" validate:"gte=0"`
}

var configValidate = validator.New()

func DefaultConfig() Config {
	return Config{
		Logging: LoggingConfig{Level: "info"},
		Validation: ValidationConfig{
			LongTaskThresholdMs:  DefaultLongTaskThresholdMs,
			MinDescriptionLength: DefaultMinDescriptionLength,
		},
		Audit:  AuditConfig{MaxSizeBytes: DefaultAuditMaxSizeBytes},
		Daemon: DaemonConfig{RequestTimeoutSec: DefaultRequestTimeoutSec},
	}
}

// LoadConfig reads a YAML config file. Fields absent from the file keep their
// DefaultConfig values.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return ParseConfig(data)
}

func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()

	if err := yamlutil.DecodeStrict(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if err := configValidate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
