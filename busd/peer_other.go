// Copyright 2026 The KBUS Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package busd

import (
	"errors"
	"net"
)

// peerOf is unsupported off Linux; connections are served without
// peer attribution.
func peerOf(net.Conn) (peerCredentials, error) {
	return peerCredentials{}, errors.New("peer credentials need SO_PEERCRED (Linux only)")
}
