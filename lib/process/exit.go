// Copyright 2026 The KBUS Authors
// SPDX-License-Identifier: Apache-2.0

// Package process holds the entrypoint helper shared by the KBUS
// binaries.
package process

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// exitCoder is implemented by errors that carry their own exit status
// and have already reported themselves to the user.
type exitCoder interface {
	ExitCode() int
}

// Exit ends the process after run returned err. A nil err exits 0; an
// error with an ExitCode method exits with that code silently; any
// other error is printed as "error: ..." and exits 1.
func Exit(err error) {
	os.Exit(report(os.Stderr, err))
}

func report(w io.Writer, err error) int {
	if err == nil {
		return 0
	}
	var coder exitCoder
	if errors.As(err, &coder) {
		return coder.ExitCode()
	}
	fmt.Fprintf(w, "error: %v\n", err)
	return 1
}
