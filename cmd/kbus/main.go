// Copyright 2026 The KBUS Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/kbus-foundation/kbus/cmd/kbus/cli"
	"github.com/kbus-foundation/kbus/lib/process"
)

func main() {
	process.Exit(run())
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	env := environment{
		stdin:  os.Stdin,
		stdout: os.Stdout,
		color:  cli.IsTerminal(os.Stdout) && os.Getenv("NO_COLOR") == "",
	}
	return root(env).Execute(ctx, os.Args[1:])
}
