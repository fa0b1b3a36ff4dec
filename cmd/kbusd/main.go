// Copyright 2026 The KBUS Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/kbus-foundation/kbus/cmd/kbus/cli"
	"github.com/kbus-foundation/kbus/lib/config"
	"github.com/kbus-foundation/kbus/lib/process"
	"github.com/kbus-foundation/kbus/lib/version"
)

func main() {
	process.Exit(run(os.Args[1:]))
}

// options are the command-line settings. Non-empty values override the
// configuration file.
type options struct {
	configPath    string
	socketPath    string
	metricsListen string
	logLevel      string
	logFormat     string
	showVersion   bool
}

func parseOptions(args []string) (options, error) {
	var opts options
	flagSet := pflag.NewFlagSet("kbusd", pflag.ContinueOnError)
	flagSet.StringVar(&opts.configPath, "config", "", "configuration file (YAML, or JSONC for .json/.jsonc); default $"+config.EnvironmentVariable)
	flagSet.StringVar(&opts.socketPath, "socket", "", "Unix socket to serve on (overrides socket_path)")
	flagSet.StringVar(&opts.metricsListen, "metrics-listen", "", "host:port for the Prometheus /metrics endpoint (overrides metrics_listen)")
	flagSet.StringVar(&opts.logLevel, "log-level", "", "debug, info, warn or error (overrides log.level)")
	flagSet.StringVar(&opts.logFormat, "log-format", "", "auto, text or json (overrides log.format)")
	flagSet.BoolVar(&opts.showVersion, "version", false, "print version information and exit")
	if err := flagSet.Parse(args); err != nil {
		return options{}, err
	}
	if flagSet.NArg() > 0 {
		return options{}, fmt.Errorf("unexpected arguments: %v", flagSet.Args())
	}
	return opts, nil
}

// loadConfig reads the file named by --config or KBUS_CONFIG, falling
// back to the defaults when neither is given, then applies the flag
// overrides.
func loadConfig(opts options) (*config.Config, error) {
	var cfg *config.Config
	var err error
	switch {
	case opts.configPath != "":
		cfg, err = config.LoadFile(opts.configPath)
	case os.Getenv(config.EnvironmentVariable) != "":
		cfg, err = config.Load()
	default:
		cfg = config.Default()
	}
	if err != nil {
		return nil, err
	}

	if opts.socketPath != "" {
		cfg.SocketPath = opts.socketPath
	}
	if opts.metricsListen != "" {
		cfg.MetricsListen = opts.metricsListen
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	if opts.logFormat != "" {
		cfg.Log.Format = opts.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run(args []string) error {
	opts, err := parseOptions(args)
	if err != nil {
		return err
	}
	if opts.showVersion {
		version.Print(os.Stdout, "kbusd")
		return nil
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger, err := cli.NewLogger(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	logger = logger.With("program", "kbusd")
	logger.Info("starting", "version", version.Info(), "socket", cfg.SocketPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	daemon, err := newDaemon(cfg, logger)
	if err != nil {
		return err
	}
	if err := daemon.run(ctx); err != nil {
		return err
	}
	logger.Info("stopped")
	return nil
}
