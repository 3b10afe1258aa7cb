// Package daemon tracks the running supportd process through a PID file
// so a second instance refuses to start against the same database.
package daemon

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// ErrAlreadyRunning is returned by Acquire when a live process holds the
// PID file.
var ErrAlreadyRunning = fmt.Errorf("daemon already running")

// PIDFile manages a PID file for daemon process tracking.
type PIDFile struct {
	Path string
}

// NewPIDFile creates a PIDFile manager for the given path.
func NewPIDFile(path string) *PIDFile {
	return &PIDFile{Path: path}
}

// Acquire claims the PID file for the current process. A stale file left
// by a dead process is overwritten; a live holder causes ErrAlreadyRunning.
func (p *PIDFile) Acquire() error {
	if pid, running := p.IsRunning(); running {
		return fmt.Errorf("%w (pid %d)", ErrAlreadyRunning, pid)
	}
	return p.Write()
}

// Release removes the PID file. Missing files are ignored so shutdown
// paths can call it unconditionally.
func (p *PIDFile) Release() error {
	err := os.Remove(p.Path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Write writes the current process's PID to the file.
func (p *PIDFile) Write() error {
	return p.WritePID(os.Getpid())
}

// WritePID writes the given PID to the file.
func (p *PIDFile) WritePID(pid int) error {
	return os.WriteFile(p.Path, []byte(strconv.Itoa(pid)+"\n"), 0o644)
}

// Read reads the PID from the file.
func (p *PIDFile) Read() (int, error) {
	data, err := os.ReadFile(p.Path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID file content: %w", err)
	}
	return pid, nil
}
