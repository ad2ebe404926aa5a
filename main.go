// tunneldump backs up and restores databases over SSH tunnels.
// Streams dumps through compression and encryption straight to disk.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"tunneldump/cmd"
	"tunneldump/internal/cleanup"
	"tunneldump/internal/config"
	"tunneldump/internal/logger"
)

// Build information (set by ldflags)
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	// Cancel everything on interrupt
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg := config.New()
	cfg.Version = version
	cfg.BuildTime = buildTime
	cfg.GitCommit = gitCommit

	logLevel := cfg.LogLevel
	if cfg.Debug && logLevel != "debug" {
		logLevel = "debug"
	}
	log := logger.New(logLevel, cfg.LogFormat)

	// Registered teardown work (tunnels, partial artifacts) runs exactly
	// once, on interrupt or on normal exit.
	handler := cleanup.NewHandler(log)
	stopSignals := handler.RegisterSignalHandler()
	defer stopSignals()

	err := cmd.Execute(ctx, cfg, log, handler)

	if serr := handler.Shutdown(); serr != nil {
		log.Warn("Cleanup finished with errors", "error", serr)
	}

	if err != nil {
		log.Error("Command failed", "error", err)
		os.Exit(1)
	}
}
