// Copyright 2026 The KBUS Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil classifies errors from socket connections.
package netutil

import (
	"errors"
	"io"
	"net"

	"golang.org/x/sys/unix"
)

// IsExpectedCloseError reports whether err is an ordinary end of a
// connection: EOF, a connection closed locally, or the peer vanishing
// mid-exchange (EPIPE, ECONNRESET). Such errors end a session quietly
// instead of being logged or answered.
func IsExpectedCloseError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	return errors.Is(err, unix.EPIPE) || errors.Is(err, unix.ECONNRESET)
}
