// Package runlock serializes backup and restore runs against one install
// directory. Concurrent runs against the same data directory are unsafe.
package runlock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/google/uuid"
)

const lockFileName = ".n8nbak.lock"

// ErrLocked means another live run holds the lock.
var ErrLocked = errors.New("another backup or restore run is in progress")

// Lock is a held run lock.
type Lock struct {
	path  string
	RunID string
}

// Acquire takes the run lock in dir. A lock file left by a dead process is
// treated as stale and replaced.
func Acquire(dir string) (*Lock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	path := filepath.Join(dir, lockFileName)
	runID := uuid.NewString()

	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			fmt.Fprintf(f, "%d %s\n", os.Getpid(), runID)
			f.Close()
			return &Lock{path: path, RunID: runID}, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("create lock file: %w", err)
		}
		if holderAlive(path) {
			return nil, fmt.Errorf("%w (lock file %s)", ErrLocked, path)
		}
		// Stale lock from a dead process; remove and retry once.
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("remove stale lock: %w", err)
		}
	}
	return nil, fmt.Errorf("%w (lock file %s)", ErrLocked, path)
}

// Release drops the lock. Safe to call once per acquired lock.
func (l *Lock) Release() {
	_ = os.Remove(l.path)
}

// holderAlive reads the pid from the lock file and probes it with signal 0.
func holderAlive(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return false
	}
	pid, err := strconv.Atoi(fields[0])
	if err != nil || pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
