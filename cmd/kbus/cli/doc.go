// Copyright 2026 The KBUS Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli is the small command framework behind the kbus and kbusd
// binaries: a tree of Commands with pflag flag sets, "did you mean"
// suggestions for typos, and the logger construction both binaries
// share.
package cli
