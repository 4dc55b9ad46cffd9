//go:build !linux

package process

import (
	"fmt"
	"net"

	"github.com/grovetools/tabsd/pkg/models"
)

// PeerCredentials is only implemented on Linux.
func PeerCredentials(conn net.Conn) (models.Caller, error) {
	return models.Caller{}, fmt.Errorf("peer credentials are not supported on this platform")
}

// IsForeground always reports false where the process table cannot be read.
func IsForeground(pid int) bool {
	return false
}
