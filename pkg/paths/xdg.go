// Package paths provides XDG-compliant path resolution for tabsd.
//
// Resolution order:
// 1. TABSD_HOME (portable root) → $TABSD_HOME/{config,state,run}
// 2. XDG env vars → $XDG_*_HOME/tabsd
// 3. Platform defaults → ~/.config/tabsd, ~/.local/state/tabsd
package paths

import (
	"os"
	"path/filepath"
)

const appName = "tabsd"

// getConfigHome returns the base config home directory.
func getConfigHome() string {
	if home := os.Getenv("TABSD_HOME"); home != "" {
		return filepath.Join(home, "config")
	}
	if xdgConfigHome := os.Getenv("XDG_CONFIG_HOME"); xdgConfigHome != "" {
		return xdgConfigHome
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, ".config")
	}
	return ""
}

// getStateHome returns the base state home directory.
func getStateHome() string {
	if home := os.Getenv("TABSD_HOME"); home != "" {
		return filepath.Join(home, "state")
	}
	if xdgStateHome := os.Getenv("XDG_STATE_HOME"); xdgStateHome != "" {
		return xdgStateHome
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, ".local", "state")
	}
	return ""
}

// ConfigDir returns the directory holding tabsd.yml / tabsd.toml.
func ConfigDir() string {
	base := getConfigHome()
	if base == "" {
		return ""
	}
	return filepath.Join(base, appName)
}

// StateDir returns the tabsd state directory.
// Used for throttle state and logs.
func StateDir() string {
	base := getStateHome()
	if base == "" {
		return ""
	}
	return filepath.Join(base, appName)
}

// LogDir returns the directory daemon log files are written to.
func LogDir() string {
	state := StateDir()
	if state == "" {
		return ""
	}
	return filepath.Join(state, "logs")
}

// RuntimeDir returns the tabsd runtime directory for the socket and pid file.
// Uses XDG_RUNTIME_DIR when available (Linux), falls back to StateDir (macOS).
func RuntimeDir() string {
	if home := os.Getenv("TABSD_HOME"); home != "" {
		return filepath.Join(home, "run")
	}
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, appName)
	}
	return StateDir()
}

// SocketPath returns the path to the daemon unix socket.
func SocketPath() string {
	return filepath.Join(RuntimeDir(), appName+".sock")
}

// PidFilePath returns the path to the daemon pid file.
func PidFilePath() string {
	return filepath.Join(RuntimeDir(), appName+".pid")
}

// ThrottleStatePath returns the file the rate limiter persists bans and
// request windows to.
func ThrottleStatePath() string {
	return filepath.Join(StateDir(), "throttle.yml")
}

// EnsureDirs creates all tabsd directories if they don't exist.
func EnsureDirs() error {
	dirs := []string{
		ConfigDir(),
		StateDir(),
		LogDir(),
		RuntimeDir(),
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}
