//go:build !windows

package cli

import (
	"log/slog"
	"os"
	"syscall"

	"github.com/clawinfra/clawroute/internal/plugin"
)

// getShutdownSignals returns the signals to listen for on Unix systems
func getShutdownSignals() []os.Signal {
	return []os.Signal{syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP}
}

// handlePlatformSignal handles platform-specific signals, returns true if should continue loop
func handlePlatformSignal(sig os.Signal, p *plugin.Plugin, logger *slog.Logger) bool {
	if sig == syscall.SIGHUP {
		logger.Info("reload signal received")
		// Reload logs its own outcome.
		p.Reload()
		return true
	}
	return false
}
