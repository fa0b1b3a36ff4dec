// Copyright 2026 The KBUS Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"fmt"
	"os"
	"sync/atomic"
	"testing"
)

var counter atomic.Uint64

// UniqueID returns "prefix-N" with N increasing across the process.
//
//	payload := []byte(testutil.UniqueID("payload")) // "payload-1", "payload-2", ...
func UniqueID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, counter.Add(1))
}

// UniqueName returns a message name "$.Test.<prefix>N" that no other
// caller in this process will receive. Name tokens are alphanumeric,
// so no separator is used.
func UniqueName(prefix string) string {
	return fmt.Sprintf("$.Test.%s%d", prefix, counter.Add(1))
}

// SocketDir creates a short temporary directory for Unix sockets and
// removes it when the test ends.
func SocketDir(t *testing.T) string {
	t.Helper()
	directory, err := os.MkdirTemp("/tmp", "kbus-test-*")
	if err != nil {
		t.Fatalf("creating socket directory: %v", err)
	}
	t.Cleanup(func() {
		_ = os.RemoveAll(directory)
	})
	return directory
}
