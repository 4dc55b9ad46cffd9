//go:build linux

package process

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/grovetools/tabsd/pkg/models"
	"golang.org/x/sys/unix"
)

// PeerCredentials returns the uid and pid of the process on the other end of
// a unix socket connection.
func PeerCredentials(conn net.Conn) (models.Caller, error) {
	uc, ok := conn.(*net.UnixConn)
	if !ok {
		return models.Caller{}, fmt.Errorf("peer credentials need a unix connection, got %T", conn)
	}

	raw, err := uc.SyscallConn()
	if err != nil {
		return models.Caller{}, fmt.Errorf("failed to access socket: %w", err)
	}

	var cred *unix.Ucred
	var credErr error
	if err := raw.Control(func(fd uintptr) {
		cred, credErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	}); err != nil {
		return models.Caller{}, fmt.Errorf("failed to control socket: %w", err)
	}
	if credErr != nil {
		return models.Caller{}, fmt.Errorf("failed to read SO_PEERCRED: %w", credErr)
	}

	return models.Caller{UID: models.UID(cred.Uid), PID: int(cred.Pid)}, nil
}

// IsForeground reports whether pid belongs to the foreground process group of
// its controlling terminal, read from /proc/<pid>/stat (pgrp vs tpgid).
func IsForeground(pid int) bool {
	if pid <= 0 {
		return false
	}
	data, err := os.ReadFile(filepath.Join("/proc", strconv.Itoa(pid), "stat"))
	if err != nil {
		return false
	}

	// The command name is parenthesised and may contain spaces.
	stat := string(data)
	end := strings.LastIndexByte(stat, ')')
	if end < 0 {
		return false
	}
	fields := strings.Fields(stat[end+1:])
	// fields: state ppid pgrp session tty_nr tpgid ...
	if len(fields) < 6 {
		return false
	}
	pgrp, err1 := strconv.Atoi(fields[2])
	tpgid, err2 := strconv.Atoi(fields[5])
	if err1 != nil || err2 != nil || tpgid <= 0 {
		return false
	}
	return pgrp == tpgid
}
