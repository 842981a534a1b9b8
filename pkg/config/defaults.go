package config

import (
	"path/filepath"
	"time"
)

// Default values applied to unset fields.
const (
	DefaultListenAddress     = "0.0.0.0"
	DefaultListenPort        = 8080
	DefaultReadHeaderTimeout = 10 * time.Second
	DefaultIdleTimeout       = 120 * time.Second

	DefaultStickyWindow = 5 * time.Minute

	DefaultMaxBodyBytes   = 5 * 1024 * 1024
	DefaultAttemptTimeout = 60 * time.Second

	DefaultLogLevel  = "info"
	DefaultLogFormat = "text"

	DefaultMetricsPath      = "/metrics"
	DefaultHistoryRetention = 7 * 24 * time.Hour
)

// ApplyDefaults fills unset fields with default values. It is called by
// LoadConfig before validation, so a minimal file containing only provider
// lists yields a fully working configuration.
func ApplyDefaults(cfg *Config) {
	if cfg.Listen.Address == "" {
		cfg.Listen.Address = DefaultListenAddress
	}
	if cfg.Listen.Port == 0 {
		cfg.Listen.Port = DefaultListenPort
	}
	if cfg.Listen.ReadHeaderTimeout == 0 {
		cfg.Listen.ReadHeaderTimeout = DefaultReadHeaderTimeout
	}
	if cfg.Listen.IdleTimeout == 0 {
		cfg.Listen.IdleTimeout = DefaultIdleTimeout
	}

	if cfg.Routing.StickyWindow == 0 {
		cfg.Routing.StickyWindow = DefaultStickyWindow
	}

	if cfg.Limits.MaxBodyBytes == 0 {
		cfg.Limits.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.Limits.AttemptTimeout == 0 {
		cfg.Limits.AttemptTimeout = DefaultAttemptTimeout
	}

	if cfg.Telemetry.Logging.Level == "" {
		cfg.Telemetry.Logging.Level = DefaultLogLevel
	}
	if cfg.Telemetry.Logging.Format == "" {
		cfg.Telemetry.Logging.Format = DefaultLogFormat
	}

	if cfg.Telemetry.Metrics.Path == "" {
		cfg.Telemetry.Metrics.Path = DefaultMetricsPath
	}

	if cfg.Telemetry.History.Path == "" {
		cfg.Telemetry.History.Path = filepath.Join(DefaultDir(), "history.db")
	}
	if cfg.Telemetry.History.Retention == 0 {
		cfg.Telemetry.History.Retention = DefaultHistoryRetention
	}
}
