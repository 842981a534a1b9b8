package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadConfig reads configuration from a YAML file, applies defaults, and
// validates the result. Environment variables are not consulted; use
// LoadConfigWithEnvOverrides for the full loading sequence.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading configuration file %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration file %q: %w", path, err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and
// applies CCRELAY_* environment variable overrides on top. Environment
// variables always win over file values.
//
// The loading sequence is:
//  1. Load YAML from file
//  2. Apply default values
//  3. Apply environment variable overrides
//  4. Validate the final configuration
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed after environment overrides: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides applies CCRELAY_SECTION_FIELD environment variables.
// Provider lists are not overridable through the environment; the ordered
// chains live in the file only.
func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv("CCRELAY_LISTEN_ADDRESS"); val != "" {
		cfg.Listen.Address = val
	}
	if val := os.Getenv("CCRELAY_LISTEN_PORT"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			cfg.Listen.Port = i
		}
	}
	if val := os.Getenv("CCRELAY_LISTEN_IDLE_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Listen.IdleTimeout = d
		}
	}

	if val := os.Getenv("CCRELAY_ROUTING_STICKY_WINDOW"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Routing.StickyWindow = d
		}
	}

	if val := os.Getenv("CCRELAY_LIMITS_MAX_BODY_BYTES"); val != "" {
		if i, err := strconv.ParseInt(val, 10, 64); err == nil {
			cfg.Limits.MaxBodyBytes = i
		}
	}
	if val := os.Getenv("CCRELAY_LIMITS_ATTEMPT_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Limits.AttemptTimeout = d
		}
	}

	if val := os.Getenv("CCRELAY_LOG_LEVEL"); val != "" {
		cfg.Telemetry.Logging.Level = val
	}
	if val := os.Getenv("CCRELAY_LOG_FORMAT"); val != "" {
		cfg.Telemetry.Logging.Format = val
	}

	if val := os.Getenv("CCRELAY_METRICS_ENABLED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Telemetry.Metrics.Enabled = b
		}
	}
	if val := os.Getenv("CCRELAY_METRICS_PATH"); val != "" {
		cfg.Telemetry.Metrics.Path = val
	}

	if val := os.Getenv("CCRELAY_HISTORY_ENABLED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Telemetry.History.Enabled = b
		}
	}
	if val := os.Getenv("CCRELAY_HISTORY_PATH"); val != "" {
		cfg.Telemetry.History.Path = val
	}
	if val := os.Getenv("CCRELAY_HISTORY_RETENTION"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Telemetry.History.Retention = d
		}
	}

	if val := os.Getenv("CCRELAY_AGENT_CONFIG_ENABLED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.AgentConfig.Enabled = b
		}
	}
}
