// Copyright 2026 The KBUS Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import "fmt"

// ExitError makes the process exit with Code without printing an error
// line. Commands return it when they have already reported the outcome
// themselves, e.g. "kbus find-replier" finding no replier.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit code %d", e.Code)
}

// ExitCode lets main tell a handled exit from an error to print.
func (e *ExitError) ExitCode() int {
	return e.Code
}
