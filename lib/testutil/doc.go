// Copyright 2026 The KBUS Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil holds helpers shared by the KBUS test suites.
//
// [RequireReceive], [RequireNothing] and [RequireClosed] wrap the
// select-with-timeout pattern so tests that wait on a goroutine never
// hang forever. They are the only place in the tests that touch the
// wall clock; everything else drives time through lib/clock.
//
// [SocketDir] returns a short directory under /tmp for Unix socket
// files, since sun_path is limited to 108 bytes and t.TempDir() can
// exceed it.
//
// [UniqueID] hands out increasing identifiers for message names and
// payloads that must not collide between subtests.
//
// Helpers fail the test with t.Fatalf instead of returning errors.
package testutil
