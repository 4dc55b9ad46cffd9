package daemon

import (
	"net"
	"os"
	"time"

	"github.com/grovetools/tabsd/errors"
	"github.com/grovetools/tabsd/pkg/paths"
)

// Connect returns a Client for the daemon listening on socketPath, or on
// the default socket when socketPath is empty. It fails with
// DAEMON_NOT_RUNNING when nothing accepts connections there.
func Connect(socketPath string) (Client, error) {
	if socketPath == "" {
		socketPath = paths.SocketPath()
	}

	// Check if socket exists and we can connect
	if _, err := os.Stat(socketPath); err != nil {
		return nil, errors.DaemonNotRunning(socketPath, err)
	}
	conn, err := net.DialTimeout("unix", socketPath, 100*time.Millisecond)
	if err != nil {
		return nil, errors.DaemonNotRunning(socketPath, err)
	}
	conn.Close()

	return NewRemoteClient(socketPath)
}
