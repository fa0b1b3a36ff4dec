// Copyright 2026 The KBUS Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// EnvironmentVariable names the file Load reads.
const EnvironmentVariable = "KBUS_CONFIG"

// Config is the kbusd configuration.
type Config struct {
	// SocketPath is the Unix socket clients connect to.
	// Default: /run/kbus/kbusd.sock
	SocketPath string `yaml:"socket_path"`

	// MetricsListen is the host:port serving /metrics. Empty disables
	// the metrics endpoint.
	MetricsListen string `yaml:"metrics_listen"`

	Log LogConfig `yaml:"log"`

	Devices DevicesConfig `yaml:"devices"`
}

// LogConfig selects the daemon's log output.
type LogConfig struct {
	// Level is debug, info, warn or error. Default: info
	Level string `yaml:"level"`

	// Format is text, json, or auto (text on a terminal, JSON
	// otherwise). Default: auto
	Format string `yaml:"format"`
}

// DevicesConfig sets up the devices kbusd serves.
type DevicesConfig struct {
	// Count devices, numbered from 0, are created at startup. Clients
	// may create more. Default: 1
	Count int `yaml:"count"`

	// NetworkID is stamped into messages sent on this daemon.
	NetworkID uint32 `yaml:"network_id"`

	// DefaultMaxMessages is the queue capacity of new sockets.
	// Default: 100
	DefaultMaxMessages int `yaml:"default_max_messages"`

	// MaxDataLength bounds message data in bytes. Default: 4096
	MaxDataLength int `yaml:"max_data_length"`

	// MaxNameLength bounds message names in bytes. Default: 1000
	MaxNameLength int `yaml:"max_name_length"`

	// Verbose logs every routed message at info level.
	Verbose bool `yaml:"verbose"`

	// ReportReplierBinds starts devices with replier bind events on.
	ReportReplierBinds bool `yaml:"report_replier_binds"`
}

// Default returns the configuration a file is merged over.
func Default() *Config {
	return &Config{
		SocketPath: "/run/kbus/kbusd.sock",
		Log: LogConfig{
			Level:  "info",
			Format: "auto",
		},
		Devices: DevicesConfig{
			Count:              1,
			DefaultMaxMessages: 100,
			MaxDataLength:      4096,
			MaxNameLength:      1000,
		},
	}
}

// Load reads the file named by KBUS_CONFIG.
func Load() (*Config, error) {
	path := os.Getenv(EnvironmentVariable)
	if path == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your kbusd.yaml, or use --config", EnvironmentVariable)
	}
	return LoadFile(path)
}

// LoadFile reads, expands and validates the file at path.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	config, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return config, nil
}

// Parse decodes data over the defaults. extension picks the syntax:
// ".json" and ".jsonc" select JSONC, anything else YAML.
func Parse(data []byte, extension string) (*Config, error) {
	switch strings.ToLower(extension) {
	case ".json", ".jsonc":
		// JSON is valid YAML once comments and trailing commas are gone.
		data = jsonc.ToJSON(data)
	}

	config := Default()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(config); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	config.expandVariables()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) expandVariables() {
	c.SocketPath = expandVars(c.SocketPath)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars replaces ${VAR} and ${VAR:-default}.
func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		return parts[2]
	})
}

var (
	logLevels  = []string{"debug", "info", "warn", "error"}
	logFormats = []string{"auto", "text", "json"}
)

// Validate reports every problem with the configuration at once.
func (c *Config) Validate() error {
	var errs []error

	if c.SocketPath == "" {
		errs = append(errs, errors.New("socket_path is required"))
	}
	if !slices.Contains(logLevels, c.Log.Level) {
		errs = append(errs, fmt.Errorf("log.level must be one of %v, got %q", logLevels, c.Log.Level))
	}
	if !slices.Contains(logFormats, c.Log.Format) {
		errs = append(errs, fmt.Errorf("log.format must be one of %v, got %q", logFormats, c.Log.Format))
	}
	if c.Devices.Count < 0 {
		errs = append(errs, fmt.Errorf("devices.count must not be negative, got %d", c.Devices.Count))
	}
	for _, limit := range []struct {
		name  string
		value int
	}{
		{"devices.default_max_messages", c.Devices.DefaultMaxMessages},
		{"devices.max_data_length", c.Devices.MaxDataLength},
		{"devices.max_name_length", c.Devices.MaxNameLength},
	} {
		if limit.value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", limit.name, limit.value))
		}
	}

	return errors.Join(errs...)
}
