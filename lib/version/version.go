// Copyright 2026 The KBUS Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/zeebo/blake3"
)

// Set via -ldflags.
var (
	GitCommit = "unknown"
	GitDirty  = "false"
	BuildTime = "unknown"
	Version   = "0.1.0-dev"
)

// Info returns "version (commit[-dirty], build time)".
func Info() string {
	dirty := ""
	if GitDirty == "true" {
		dirty = "-dirty"
	}
	return fmt.Sprintf("%s (%s%s, %s)", Version, GitCommit, dirty, BuildTime)
}

// Full returns Info plus Go version, platform and executable digest.
func Full() string {
	digest, err := ExecutableDigest()
	if err != nil {
		digest = "unavailable (" + err.Error() + ")"
	}
	return fmt.Sprintf("%s\n  Go: %s\n  Platform: %s/%s\n  BLAKE3: %s",
		Info(), runtime.Version(), runtime.GOOS, runtime.GOARCH, digest)
}

// Print writes the --version output of the named program to w.
func Print(w io.Writer, program string) {
	fmt.Fprintf(w, "%s %s\n", program, Full())
}

// ExecutableDigest returns the hex BLAKE3-256 digest of the running
// binary.
func ExecutableDigest() (string, error) {
	path, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("locating executable: %w", err)
	}
	return FileDigest(path)
}

// FileDigest returns the hex BLAKE3-256 digest of the file at path.
func FileDigest(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", path, err)
	}
	defer file.Close()

	hasher := blake3.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}
