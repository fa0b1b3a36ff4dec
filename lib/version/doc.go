// Copyright 2026 The KBUS Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports build information for the KBUS binaries.
//
// The variables are set at link time:
//
//	go build -ldflags "-X github.com/kbus-foundation/kbus/lib/version.GitCommit=$(git rev-parse --short HEAD)"
//
// and default to "unknown" / "0.1.0-dev" otherwise. [Info] is the
// one-line form printed by --version; [Full] adds the toolchain,
// platform and a BLAKE3 digest of the running executable, which is how
// operators confirm two hosts run the same daemon build.
package version
