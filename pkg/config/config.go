// Package config defines the relay's configuration file format and loading.
//
// Configuration is read once at startup from a YAML file (by default
// ~/.ccrelay/config.yaml), with CCRELAY_* environment variables layered on
// top. The provider lists are immutable for the life of the process; a file
// watcher reports changes but applying them requires a restart.
package config

import (
	"os"
	"path/filepath"
	"time"
)

// DefaultDir returns the relay's dot directory under the user's home.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".ccrelay"
	}
	return filepath.Join(home, ".ccrelay")
}

// DefaultConfigPath returns the default configuration file location.
func DefaultConfigPath() string {
	return filepath.Join(DefaultDir(), "config.yaml")
}

// Config is the root configuration structure.
type Config struct {
	// Listen configures the inbound HTTP listener.
	Listen ListenConfig `yaml:"listen"`

	// Services maps each service name ("claude", "codex") to its ordered
	// provider chain.
	Services map[string]ServiceConfig `yaml:"services"`

	// Routing configures sticky routing behavior.
	Routing RoutingConfig `yaml:"routing"`

	// Limits bounds request handling.
	Limits LimitsConfig `yaml:"limits"`

	// Telemetry configures logging, metrics, and attempt history.
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// AgentConfig controls automatic CLI configuration rewriting.
	AgentConfig AgentConfig `yaml:"agentConfig"`
}

// ListenConfig configures the HTTP listener.
type ListenConfig struct {
	// Address is the bind address. 0.0.0.0 also exposes the relay on the
	// LAN for other machines pointing their CLIs at this host.
	Address string `yaml:"address"`

	// Port is the listen port.
	Port int `yaml:"port"`

	// ReadHeaderTimeout bounds how long a client may take to send headers.
	ReadHeaderTimeout time.Duration `yaml:"readHeaderTimeout"`

	// IdleTimeout closes keep-alive connections after inactivity.
	IdleTimeout time.Duration `yaml:"idleTimeout"`
}

// ServiceConfig is one service's provider chain.
type ServiceConfig struct {
	// Providers is the priority-ordered upstream list. Index 0 is tried
	// first; order in the file is the failover order.
	Providers []ProviderConfig `yaml:"providers"`
}

// ProviderConfig is one upstream endpoint.
type ProviderConfig struct {
	// Name is an optional label for logs and status output.
	Name string `yaml:"name"`

	// APIURL is the upstream base URL.
	APIURL string `yaml:"apiUrl"`

	// APIKey is the credential sent to this upstream.
	APIKey string `yaml:"apiKey"`
}

// RoutingConfig tunes the sticky router.
type RoutingConfig struct {
	// StickyWindow is how long a pinned provider stays pinned without a
	// successful request before routing resets to the primary.
	StickyWindow time.Duration `yaml:"stickyWindow"`
}

// LimitsConfig bounds request handling.
type LimitsConfig struct {
	// MaxBodyBytes caps the inbound request body. Bodies are buffered in
	// full for failover replay, so this is also a memory bound.
	MaxBodyBytes int64 `yaml:"maxBodyBytes"`

	// AttemptTimeout bounds one upstream attempt from dial to response
	// headers. Streaming bodies are exempt.
	AttemptTimeout time.Duration `yaml:"attemptTimeout"`
}

// TelemetryConfig configures observability.
type TelemetryConfig struct {
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	History HistoryConfig `yaml:"history"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`

	// Format is "json" or "text".
	Format string `yaml:"format"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Enabled mounts the exposition endpoint when true.
	Enabled bool `yaml:"enabled"`

	// Path is the exposition endpoint path.
	Path string `yaml:"path"`
}

// HistoryConfig configures the SQLite attempt history.
type HistoryConfig struct {
	// Enabled turns attempt persistence on.
	Enabled bool `yaml:"enabled"`

	// Path is the database file location.
	Path string `yaml:"path"`

	// Retention is how long records are kept before pruning.
	Retention time.Duration `yaml:"retention"`
}

// AgentConfig controls rewriting of the CLIs' own configuration files so
// they point at the relay.
type AgentConfig struct {
	// Enabled turns automatic CLI configuration on. The previous files are
	// backed up and restored on stop.
	Enabled bool `yaml:"enabled"`
}
