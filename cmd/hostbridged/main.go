// Copyright 2026 The Polyfactory Authors
// SPDX-License-Identifier: Apache-2.0

// hostbridged runs the bridge server against a standalone in-memory
// host. Production deployments embed the bridge package inside the
// content tool's own process instead; this binary exists for protocol
// development, client testing, and CI, where a real host is
// unavailable.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/polyfactory/hostbridge/bridge"
	"github.com/polyfactory/hostbridge/lib/clock"
	"github.com/polyfactory/hostbridge/lib/config"
	"github.com/polyfactory/hostbridge/lib/process"
	"github.com/polyfactory/hostbridge/lib/version"
)

func main() {
	configPath := flag.String("config", "", "path to hostbridge.yaml (overrides HOSTBRIDGE_CONFIG)")
	debug := flag.Bool("debug", false, "enable debug logging")
	autoApprove := flag.Bool("auto-approve", false, "approve every confirmation prompt without asking (development only)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Full())
		return
	}

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		process.Fatal(err)
	}
	if err := cfg.Validate(); err != nil {
		process.Fatal(err)
	}

	if err := run(cfg, logger, *autoApprove); err != nil {
		process.Fatal(err)
	}
}

// loadConfig resolves the configuration source: explicit flag, then
// HOSTBRIDGE_CONFIG, then built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	if os.Getenv("HOSTBRIDGE_CONFIG") != "" {
		return config.Load()
	}
	return config.Default(), nil
}

func run(cfg *config.Config, logger *slog.Logger, autoApprove bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mode, err := bridge.ParseMode(cfg.Approval.DefaultMode)
	if err != nil {
		return err
	}
	compression, err := bridge.ParseCompressionTag(cfg.Protocol.Compression)
	if err != nil {
		return err
	}

	var policy *bridge.Policy
	if cfg.Classification.PolicyFile != "" {
		policy, err = bridge.LoadPolicy(cfg.Classification.PolicyFile)
		if err != nil {
			return err
		}
		logger.Info("loaded classification policy", "path", cfg.Classification.PolicyFile)
	}

	var audit *bridge.AuditLog
	if cfg.Audit.Enabled {
		audit, err = bridge.OpenAuditLog(cfg.Audit.Path, clock.Real())
		if err != nil {
			return err
		}
		defer audit.Close()
		logger.Info("audit log enabled", "path", cfg.Audit.Path)
	}

	var prompter bridge.Prompter = newConsolePrompter(os.Stdin, os.Stderr)
	if autoApprove {
		logger.Warn("auto-approve enabled: destructive commands will not be confirmed")
		prompter = bridge.PrompterFunc(func(bridge.PromptRequest) bool { return true })
	}

	server := bridge.NewServer(bridge.Options{
		Host:                 cfg.Listen.Host,
		PreferredPort:        cfg.Listen.PreferredPort,
		FallbackPorts:        cfg.Listen.FallbackPorts,
		Mode:                 mode,
		Prompter:             prompter,
		ApprovalTimeout:      cfg.ApprovalTimeout(),
		Compression:          compression,
		CompressionThreshold: cfg.Protocol.CompressionThreshold,
		Policy:               policy,
		Audit:                audit,
		Logger:               logger,
	})
	bridge.RegisterHostCommands(server)

	port, err := server.Listen()
	if err != nil {
		return err
	}
	logger.Info("hostbridged ready",
		"version", version.Info(),
		"port", port,
		"mode", mode,
	)

	serveErr := make(chan error, 1)
	go func() { serveErr <- server.Serve(ctx) }()

	// The in-memory host stands in for the content tool's main thread;
	// the gateway drain loop below is its single execution context.
	host := newMemoryHost(logger)
	server.Gateway().Run(ctx, host)

	server.Close()
	if err := <-serveErr; err != nil && !errors.Is(err, bridge.ErrServerClosed) {
		return err
	}
	logger.Info("hostbridged stopped")
	return nil
}
