// Package pidfile records the server's process id on disk so external
// tooling can find and signal a running instance.
package pidfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Pidfile is one pid file on disk
type Pidfile struct {
	path string
}

// New returns a handle for the pid file at path
func New(path string) *Pidfile {
	return &Pidfile{path: path}
}

// Path returns the pid file location
func (p *Pidfile) Path() string {
	return p.path
}

// Write records the current process id, refusing when the file already
// names a live process so two server instances cannot share state.
func (p *Pidfile) Write() error {
	if pid, err := p.Read(); err == nil && processAlive(pid) {
		return fmt.Errorf("another instance is already running (pid %d)", pid)
	}

	if err := os.MkdirAll(filepath.Dir(p.path), 0755); err != nil {
		return fmt.Errorf("failed to create pidfile directory: %w", err)
	}
	if err := os.WriteFile(p.path, []byte(strconv.Itoa(os.Getpid())), 0644); err != nil {
		return fmt.Errorf("failed to write pidfile: %w", err)
	}
	return nil
}

// Read returns the pid recorded in the file
func (p *Pidfile) Read() (int, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return 0, fmt.Errorf("failed to read pidfile: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid pid in %s: %w", p.path, err)
	}
	return pid, nil
}

// Remove deletes the pid file. A missing file is not an error.
func (p *Pidfile) Remove() error {
	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove pidfile: %w", err)
	}
	return nil
}

// processAlive reports whether pid names a running process. On platforms
// where signal 0 is unsupported this errs toward false, which at worst
// overwrites a stale file.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(aliveSignal) == nil
}
