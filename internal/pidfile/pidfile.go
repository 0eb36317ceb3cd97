// Package pidfile guards against concurrent supervisor instances and lets
// the stop command find the running one.
package pidfile

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
)

// Write records the current process ID at path. It fails if the file names
// a process that is still alive; a stale file from a dead process is
// overwritten.
func Write(path string) error {
	if pid, err := Read(path); err == nil {
		return fmt.Errorf("already running with pid %d (%s)", pid, path)
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644)
}

// Read returns the PID recorded at path if that process is still alive.
func Read(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("malformed pid file %s", path)
	}
	if !Alive(pid) {
		return 0, fmt.Errorf("stale pid file %s: process %d is gone", path, pid)
	}
	return pid, nil
}

// Remove deletes the PID file. Missing files are not an error.
func Remove(path string) error {
	err := os.Remove(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// Alive reports whether a process with the given PID exists.
func Alive(pid int) bool {
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}
