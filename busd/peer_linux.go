// Copyright 2026 The KBUS Authors
// SPDX-License-Identifier: Apache-2.0

package busd

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// peerOf reads SO_PEERCRED from conn. Only Unix connections carry
// credentials.
func peerOf(conn net.Conn) (peerCredentials, error) {
	unixConn, ok := conn.(*net.UnixConn)
	if !ok {
		return peerCredentials{}, fmt.Errorf("connection is %T, not a Unix socket", conn)
	}
	raw, err := unixConn.SyscallConn()
	if err != nil {
		return peerCredentials{}, fmt.Errorf("getting raw connection: %w", err)
	}

	var credentials *unix.Ucred
	var credentialsErr error
	if err := raw.Control(func(fd uintptr) {
		credentials, credentialsErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	}); err != nil {
		return peerCredentials{}, fmt.Errorf("accessing socket descriptor: %w", err)
	}
	if credentialsErr != nil {
		return peerCredentials{}, fmt.Errorf("reading SO_PEERCRED: %w", credentialsErr)
	}
	return peerCredentials{PID: credentials.Pid, UID: credentials.Uid, GID: credentials.Gid}, nil
}
