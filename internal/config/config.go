// Package config provides environment-aware configuration for the
// runtime host: a .env file is loaded when present, environment
// variables decode over the defaults, and an optional YAML file can
// override both.
package config

import (
	"fmt"
	"os"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/wot-js/runtime/pkg/logger"
)

// Config holds host configuration.
type Config struct {
	// Runtime
	UnhandledRejection string `env:"WOTJS_UNHANDLED_REJECTION,default=log" yaml:"unhandled_rejection"`
	StackSize          int64  `env:"WOTJS_STACK_SIZE,default=1048576" yaml:"stack_size"`
	MemoryLimit        int64  `env:"WOTJS_MEMORY_LIMIT,default=0" yaml:"memory_limit"`
	DumpMemory         bool   `env:"WOTJS_DUMP_MEMORY,default=false" yaml:"dump_memory"`
	TraceMemory        bool   `env:"WOTJS_TRACE_MEMORY,default=false" yaml:"trace_memory"`

	// Logging
	LogLevel  string `env:"WOTJS_LOG_LEVEL,default=info" yaml:"log_level"`
	LogFormat string `env:"WOTJS_LOG_FORMAT,default=text" yaml:"log_format"`
	LogOutput string `env:"WOTJS_LOG_OUTPUT,default=stderr" yaml:"log_output"`
}

// Load builds the configuration: .env file, then environment, then the
// YAML file named by WOTJS_CONFIG when set.
func Load() (*Config, error) {
	// Missing .env is not an error.
	_ = godotenv.Load()

	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode environment: %w", err)
	}

	if path := os.Getenv("WOTJS_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects unusable combinations.
func (c *Config) Validate() error {
	switch c.UnhandledRejection {
	case "log", "reject":
	default:
		return fmt.Errorf("unhandled_rejection must be 'log' or 'reject', got %q", c.UnhandledRejection)
	}
	if c.StackSize < 0 {
		return fmt.Errorf("stack_size must be non-negative")
	}
	if c.MemoryLimit < 0 {
		return fmt.Errorf("memory_limit must be non-negative")
	}
	return nil
}

// LoggingConfig shapes the logger settings.
func (c *Config) LoggingConfig() logger.LoggingConfig {
	return logger.LoggingConfig{
		Level:  c.LogLevel,
		Format: c.LogFormat,
		Output: c.LogOutput,
	}
}
