package process

import (
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/grovetools/tabsd/pkg/models"
)

// IsProcessAlive checks if a process with the given PID is still running.
// It uses a signal-sending method that is cross-platform for Unix-like systems (macOS, Linux).
func IsProcessAlive(pid int) bool {
	// PID 0 or less is invalid.
	if pid <= 0 {
		return false
	}

	// Find the process. This doesn't fail on Unix if the process doesn't exist.
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	// Signal 0 checks for existence without delivering anything.
	// EPERM still means the process exists.
	err = process.Signal(syscall.Signal(0))
	return err == nil || os.IsPermission(err)
}

// Self returns the identity of the daemon process itself.
func Self() models.Caller {
	return models.Caller{UID: models.UID(os.Getuid()), PID: os.Getpid()}
}

// PackageName resolves the application name of a caller: the executable
// base name when the pid is known and readable, else the user name of the uid.
// It returns "" when neither can be resolved.
func PackageName(c models.Caller) string {
	if c.PID > 0 {
		if exe, err := os.Readlink(filepath.Join("/proc", strconv.Itoa(c.PID), "exe")); err == nil {
			return filepath.Base(exe)
		}
	}
	if u, err := user.LookupId(strconv.FormatUint(uint64(c.UID), 10)); err == nil {
		return u.Username
	}
	return ""
}
