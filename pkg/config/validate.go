package config

import (
	"fmt"
	"net/url"
	"strings"
)

// knownServices are the service names the relay routes.
var knownServices = map[string]bool{
	"claude": true,
	"codex":  true,
}

// Validate checks the configuration for errors that would make the relay
// misbehave at runtime. It is called by LoadConfig after defaults are
// applied and again after environment overrides.
func Validate(cfg *Config) error {
	if cfg.Listen.Port < 1 || cfg.Listen.Port > 65535 {
		return fmt.Errorf("listen.port %d: must be between 1 and 65535", cfg.Listen.Port)
	}

	if len(cfg.Services) == 0 {
		return fmt.Errorf("services: at least one of claude or codex must be configured")
	}
	for name, svc := range cfg.Services {
		if !knownServices[name] {
			return fmt.Errorf("services.%s: unknown service (want claude or codex)", name)
		}
		for i, p := range svc.Providers {
			if strings.TrimSpace(p.APIURL) == "" {
				return fmt.Errorf("services.%s.providers[%d]: apiUrl is required", name, i)
			}
			u, err := url.Parse(p.APIURL)
			if err != nil || u.Scheme == "" || u.Host == "" {
				return fmt.Errorf("services.%s.providers[%d]: apiUrl %q is not an absolute URL", name, i, p.APIURL)
			}
			if u.Scheme != "http" && u.Scheme != "https" {
				return fmt.Errorf("services.%s.providers[%d]: apiUrl scheme %q is not http or https", name, i, u.Scheme)
			}
			if strings.TrimSpace(p.APIKey) == "" {
				return fmt.Errorf("services.%s.providers[%d]: apiKey is required", name, i)
			}
		}
	}

	if cfg.Routing.StickyWindow < 0 {
		return fmt.Errorf("routing.stickyWindow: must not be negative")
	}
	if cfg.Limits.MaxBodyBytes < 1024 {
		return fmt.Errorf("limits.maxBodyBytes %d: must be at least 1024", cfg.Limits.MaxBodyBytes)
	}
	if cfg.Limits.AttemptTimeout <= 0 {
		return fmt.Errorf("limits.attemptTimeout: must be positive")
	}

	switch cfg.Telemetry.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("telemetry.logging.level %q: want debug, info, warn, or error", cfg.Telemetry.Logging.Level)
	}
	switch cfg.Telemetry.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("telemetry.logging.format %q: want json or text", cfg.Telemetry.Logging.Format)
	}

	if cfg.Telemetry.History.Retention < 0 {
		return fmt.Errorf("telemetry.history.retention: must not be negative")
	}

	return nil
}
