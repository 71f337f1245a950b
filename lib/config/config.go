// Copyright 2026 The Polyfactory Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for hostbridge
// binaries.
//
// Configuration is loaded from a single YAML file specified by:
//   - HOSTBRIDGE_CONFIG environment variable, or
//   - --config flag passed to the command
//
// There are no fallbacks or automatic discovery. The config file is the
// single source of truth; environment variables do not override values.
// Every field has a sensible default, so an empty file (or none at all,
// via Default) yields a working development configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the master configuration for the bridge daemon.
type Config struct {
	// Listen configures the transport listener.
	Listen ListenConfig `yaml:"listen"`

	// Approval configures the command approval state machine.
	Approval ApprovalConfig `yaml:"approval"`

	// Protocol configures the binary frame protocol.
	Protocol ProtocolConfig `yaml:"protocol"`

	// Audit configures the destructive-command audit log.
	Audit AuditConfig `yaml:"audit"`

	// Classification configures command classification overrides.
	Classification ClassificationConfig `yaml:"classification"`
}

// ListenConfig configures the transport listener.
type ListenConfig struct {
	// Host is the interface to bind. The bridge is a local trust
	// boundary; anything other than a loopback address is almost
	// always a mistake.
	Host string `yaml:"host"`

	// PreferredPort is tried first. Default: 9876.
	PreferredPort int `yaml:"preferred_port"`

	// FallbackPorts is the total number of consecutive ports to try,
	// including the preferred one. Default: 5 (9876-9880).
	FallbackPorts int `yaml:"fallback_ports"`
}

// ApprovalConfig configures the approval state machine.
type ApprovalConfig struct {
	// DefaultMode is the process-wide approval mode at startup:
	// "auto", "preview", or "destructive". Default: auto.
	DefaultMode string `yaml:"default_mode"`

	// Timeout is how long a confirmation prompt may remain unanswered
	// before the command is cancelled, as a Go duration string.
	// Default: 120s.
	Timeout string `yaml:"timeout"`
}

// ProtocolConfig configures the frame protocol.
type ProtocolConfig struct {
	// Compression selects the payload compression applied to frames
	// above the threshold: "zstd", "lz4", or "none". Default: zstd.
	Compression string `yaml:"compression"`

	// CompressionThreshold is the payload size in bytes above which
	// outbound frames are compressed. Default: 4096.
	CompressionThreshold int `yaml:"compression_threshold"`
}

// AuditConfig configures the audit log.
type AuditConfig struct {
	// Enabled turns on the append-only audit log of destructive
	// commands. Default: false.
	Enabled bool `yaml:"enabled"`

	// Path is the JSONL file the audit log appends to. Required when
	// Enabled is true.
	Path string `yaml:"path"`
}

// ClassificationConfig configures command classification.
type ClassificationConfig struct {
	// PolicyFile is an optional JSONC file that moves command kinds
	// between the safe and destructive classes. Empty means the
	// built-in allow-list is used unmodified.
	PolicyFile string `yaml:"policy_file"`
}

// Default returns the default configuration: loopback listener on
// 9876 with four fallback ports, auto approval with a two minute
// prompt timeout, zstd compression above 4 KiB, audit log off.
func Default() *Config {
	return &Config{
		Listen: ListenConfig{
			Host:          "127.0.0.1",
			PreferredPort: 9876,
			FallbackPorts: 5,
		},
		Approval: ApprovalConfig{
			DefaultMode: "auto",
			Timeout:     "120s",
		},
		Protocol: ProtocolConfig{
			Compression:          "zstd",
			CompressionThreshold: 4096,
		},
	}
}

// Load loads configuration from the HOSTBRIDGE_CONFIG environment
// variable. Fails if the variable is not set — use Default() for a
// config-free development setup, or LoadFile with an explicit path.
func Load() (*Config, error) {
	configPath := os.Getenv("HOSTBRIDGE_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("HOSTBRIDGE_CONFIG environment variable not set; " +
			"set it to the path of your hostbridge.yaml config file, or use --config flag")
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path, merging the
// file's values over the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	return cfg, nil
}

// ApprovalTimeout parses the approval timeout duration. Call Validate
// first; this panics on an unparseable value.
func (c *Config) ApprovalTimeout() time.Duration {
	d, err := time.ParseDuration(c.Approval.Timeout)
	if err != nil {
		panic("config: invalid approval timeout (Validate not called?): " + err.Error())
	}
	return d
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Listen.PreferredPort < 1 || c.Listen.PreferredPort > 65535 {
		errs = append(errs, fmt.Errorf("listen.preferred_port %d out of range", c.Listen.PreferredPort))
	}
	if c.Listen.FallbackPorts < 1 {
		errs = append(errs, fmt.Errorf("listen.fallback_ports must be at least 1"))
	}

	switch c.Approval.DefaultMode {
	case "auto", "preview", "destructive":
	default:
		errs = append(errs, fmt.Errorf("approval.default_mode must be one of: auto, preview, destructive (got %q)", c.Approval.DefaultMode))
	}
	if d, err := time.ParseDuration(c.Approval.Timeout); err != nil {
		errs = append(errs, fmt.Errorf("approval.timeout: %w", err))
	} else if d <= 0 {
		errs = append(errs, fmt.Errorf("approval.timeout must be positive"))
	}

	switch c.Protocol.Compression {
	case "zstd", "lz4", "none":
	default:
		errs = append(errs, fmt.Errorf("protocol.compression must be one of: zstd, lz4, none (got %q)", c.Protocol.Compression))
	}
	if c.Protocol.CompressionThreshold < 0 {
		errs = append(errs, fmt.Errorf("protocol.compression_threshold must not be negative"))
	}

	if c.Audit.Enabled && c.Audit.Path == "" {
		errs = append(errs, fmt.Errorf("audit.path is required when audit.enabled is true"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
