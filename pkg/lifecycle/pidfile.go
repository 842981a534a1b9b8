// Package lifecycle manages the relay's PID file so the stop and status
// commands can find a running instance.
package lifecycle

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// ErrNotRunning means no live relay process was found.
var ErrNotRunning = errors.New("relay is not running")

// PIDFile tracks one daemon instance through a file holding its PID.
type PIDFile struct {
	path string
}

// NewPIDFile returns a PID file handle at the given path.
func NewPIDFile(path string) *PIDFile {
	return &PIDFile{path: path}
}

// Path returns the file location.
func (p *PIDFile) Path() string { return p.path }

// Acquire writes the current process's PID. A stale file left by a dead
// process is replaced; a file naming a live process is an error so two
// relays never fight over one port.
func (p *PIDFile) Acquire() error {
	if pid, err := p.Read(); err == nil {
		if processAlive(pid) {
			return fmt.Errorf("relay already running with pid %d", pid)
		}
		os.Remove(p.path)
	}

	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return fmt.Errorf("creating pid directory: %w", err)
	}
	pid := strconv.Itoa(os.Getpid())
	if err := os.WriteFile(p.path, []byte(pid+"\n"), 0o644); err != nil {
		return fmt.Errorf("writing pid file: %w", err)
	}
	return nil
}

// Read returns the PID recorded in the file.
func (p *PIDFile) Read() (int, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, ErrNotRunning
		}
		return 0, fmt.Errorf("reading pid file: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("pid file %q is malformed", p.path)
	}
	return pid, nil
}

// Release removes the file. Safe to call when it does not exist.
func (p *PIDFile) Release() {
	os.Remove(p.path)
}

// Running returns the live PID from the file, or ErrNotRunning when the
// file is missing or names a dead process.
func (p *PIDFile) Running() (int, error) {
	pid, err := p.Read()
	if err != nil {
		return 0, err
	}
	if !processAlive(pid) {
		return 0, ErrNotRunning
	}
	return pid, nil
}

// Stop terminates the recorded process with SIGTERM and waits for it to
// exit, removing the file afterwards.
func (p *PIDFile) Stop(wait time.Duration) error {
	pid, err := p.Running()
	if err != nil {
		return err
	}

	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		return fmt.Errorf("signaling pid %d: %w", pid, err)
	}

	deadline := time.Now().Add(wait)
	for time.Now().Before(deadline) {
		if !processAlive(pid) {
			p.Release()
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("pid %d did not exit within %s", pid, wait)
}

// processAlive reports whether a PID names a live process we can signal.
func processAlive(pid int) bool {
	// Signal 0 performs the permission and existence checks without
	// delivering anything.
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}
