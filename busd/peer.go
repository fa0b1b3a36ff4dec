// Copyright 2026 The KBUS Authors
// SPDX-License-Identifier: Apache-2.0

package busd

// peerCredentials identifies the process at the other end of a Unix
// socket connection, as reported by the kernel at connect time.
type peerCredentials struct {
	PID int32
	UID uint32
	GID uint32
}
