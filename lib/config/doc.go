// Copyright 2026 The KBUS Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the kbusd configuration file.
//
// The file is named by the --config flag or, failing that, the
// KBUS_CONFIG environment variable. There is no search path and no
// per-field environment override: what the file says, plus the
// defaults from [Default], is the whole configuration.
//
// Files ending in .json or .jsonc are read as JSON with comments and
// trailing commas allowed; anything else is YAML. Unknown keys are
// rejected. ${VAR} and ${VAR:-default} are expanded in path values.
package config
