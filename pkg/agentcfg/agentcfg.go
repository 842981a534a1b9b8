// Package agentcfg points the claude and codex CLIs at the relay by
// rewriting their configuration files, and restores the originals on stop.
//
// The CLIs read static config files rather than honoring proxy environment
// variables, so "use the relay" means editing ~/.claude/settings.json and
// ~/.codex/{config.toml,auth.json}. Every file is backed up before the
// first write; Restore puts back exactly what was there, including absence.
package agentcfg

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// placeholderKey is the dummy credential handed to the CLIs. The relay
// strips it and injects the real provider key on the way out.
const placeholderKey = "ccrelay"

// managed is one CLI file the relay rewrites.
type managed struct {
	// target is the CLI file path relative to the home directory.
	target string
	// backup is the file's name inside the backup directory.
	backup string
}

var managedFiles = []managed{
	{target: filepath.Join(".claude", "settings.json"), backup: "claude-settings.json"},
	{target: filepath.Join(".codex", "config.toml"), backup: "codex-config.toml"},
	{target: filepath.Join(".codex", "auth.json"), backup: "codex-auth.json"},
}

// absentSuffix marks a backup entry for a file that did not exist before
// the relay wrote it; restore deletes the target instead of copying.
const absentSuffix = ".absent"

// Manager rewrites and restores the CLI configuration files.
type Manager struct {
	home      string
	backupDir string
}

// NewManager creates a manager for the given home directory, keeping
// backups under backupDir.
func NewManager(home, backupDir string) *Manager {
	return &Manager{home: home, backupDir: backupDir}
}

// NewDefaultManager uses the current user's home and the relay dot
// directory for backups.
func NewDefaultManager(relayDir string) (*Manager, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolving home directory: %w", err)
	}
	return NewManager(home, filepath.Join(relayDir, "agent-backups")), nil
}

// Configure backs up and rewrites all CLI files so both tools talk to the
// relay at addr (host:port).
func (m *Manager) Configure(addr string) error {
	if err := m.backupAll(); err != nil {
		return err
	}
	if err := m.configureClaude(addr); err != nil {
		return err
	}
	if err := m.configureCodex(addr); err != nil {
		return err
	}
	slog.Info("CLI tools configured to use relay", "addr", addr)
	return nil
}

// configureClaude writes ~/.claude/settings.json pointing the claude CLI
// at the relay.
func (m *Manager) configureClaude(addr string) error {
	settings := map[string]any{
		"env": map[string]string{
			"ANTHROPIC_AUTH_TOKEN": placeholderKey,
			"ANTHROPIC_BASE_URL":   "http://" + addr,
		},
	}
	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(m.home, ".claude", "settings.json")
	if err := writeFileMkdir(path, data, 0o644); err != nil {
		return fmt.Errorf("writing claude settings: %w", err)
	}
	slog.Info("claude CLI configured", "path", path)
	return nil
}

// configureCodex writes ~/.codex/config.toml and auth.json pointing the
// codex CLI at the relay.
func (m *Manager) configureCodex(addr string) error {
	configTOML := fmt.Sprintf(`preferred_auth_method = "apikey"
model_provider = "ccrelay"

[model_providers.ccrelay]
name = "ccrelay"
base_url = "http://%s"
env_key = "OPENAI_API_KEY"
wire_api = "responses"
requires_openai_auth = false
`, addr)

	configPath := filepath.Join(m.home, ".codex", "config.toml")
	if err := writeFileMkdir(configPath, []byte(configTOML), 0o644); err != nil {
		return fmt.Errorf("writing codex config: %w", err)
	}

	auth, err := json.MarshalIndent(map[string]string{"OPENAI_API_KEY": placeholderKey}, "", "  ")
	if err != nil {
		return err
	}
	authPath := filepath.Join(m.home, ".codex", "auth.json")
	if err := writeFileMkdir(authPath, auth, 0o600); err != nil {
		return fmt.Errorf("writing codex auth: %w", err)
	}
	slog.Info("codex CLI configured", "path", configPath)
	return nil
}

// backupAll snapshots every managed file once. Existing backups are left
// alone so a crash-restart cannot overwrite the user's originals with
// relay-written content.
func (m *Manager) backupAll() error {
	if err := os.MkdirAll(m.backupDir, 0o755); err != nil {
		return fmt.Errorf("creating backup directory: %w", err)
	}
	for _, f := range managedFiles {
		backupPath := filepath.Join(m.backupDir, f.backup)
		if fileExists(backupPath) || fileExists(backupPath+absentSuffix) {
			continue
		}

		targetPath := filepath.Join(m.home, f.target)
		data, err := os.ReadFile(targetPath)
		if os.IsNotExist(err) {
			if err := os.WriteFile(backupPath+absentSuffix, nil, 0o644); err != nil {
				return fmt.Errorf("recording absent %s: %w", f.target, err)
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("reading %s for backup: %w", targetPath, err)
		}
		if err := os.WriteFile(backupPath, data, 0o600); err != nil {
			return fmt.Errorf("backing up %s: %w", f.target, err)
		}
	}
	return nil
}

// Restore puts every managed file back to its pre-relay state and clears
// the backups. Files that did not exist before are removed.
func (m *Manager) Restore() error {
	var firstErr error
	for _, f := range managedFiles {
		targetPath := filepath.Join(m.home, f.target)
		backupPath := filepath.Join(m.backupDir, f.backup)
		absentPath := backupPath + absentSuffix

		switch {
		case fileExists(backupPath):
			data, err := os.ReadFile(backupPath)
			if err == nil {
				err = writeFileMkdir(targetPath, data, 0o644)
			}
			if err != nil {
				if firstErr == nil {
					firstErr = fmt.Errorf("restoring %s: %w", f.target, err)
				}
				continue
			}
			os.Remove(backupPath)
		case fileExists(absentPath):
			os.Remove(targetPath)
			os.Remove(absentPath)
		default:
			// Nothing recorded for this file; leave it alone.
			continue
		}
		slog.Info("restored CLI configuration", "path", targetPath)
	}
	return firstErr
}

func writeFileMkdir(path string, data []byte, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, perm)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
