// Package pid guards against two daemons driving the same UPS.
package pid

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"codeberg.org/mutker/upsplusd/internal/errors"
	"codeberg.org/mutker/upsplusd/internal/logger"
	"golang.org/x/sys/unix"
)

const pidFile = "upsplusd.pid"

// DefaultPath is the PID file used by Write and Remove.
func DefaultPath() string {
	return filepath.Join(os.TempDir(), pidFile)
}

// Write records the current process ID in the default PID file.
func Write() error {
	return WriteAt(DefaultPath())
}

// Remove deletes the default PID file.
func Remove() error {
	return RemoveAt(DefaultPath())
}

// WriteAt records the current process ID at path. It fails with
// ErrAlreadyRunning if path names a live process; stale or unreadable
// files are replaced.
func WriteAt(path string) error {
	errFactory := errors.New()

	if owner, ok := readPID(path); ok && owner != os.Getpid() && alive(owner) {
		return errFactory.WithData(errors.ErrAlreadyRunning, owner)
	}

	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o600); err != nil {
		return errFactory.Wrap(errors.ErrInternal, err).WithData(path)
	}

	return nil
}

// RemoveAt deletes path. A missing file is not an error.
func RemoveAt(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.New().Wrap(errors.ErrInternal, err).WithData(path)
	}

	return nil
}

func readPID(path string) (int, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		logger.Warn().Str("path", path).Msg("Ignoring malformed PID file")
		return 0, false
	}

	return pid, true
}

// alive reports whether a process with pid exists. EPERM means it exists
// but belongs to another user.
func alive(pid int) bool {
	err := unix.Kill(pid, 0)
	return err == nil || err == unix.EPERM
}
