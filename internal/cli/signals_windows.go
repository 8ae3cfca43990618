//go:build windows

package cli

import (
	"log/slog"
	"os"
	"syscall"

	"github.com/clawinfra/clawroute/internal/plugin"
)

func getShutdownSignals() []os.Signal {
	return []os.Signal{syscall.SIGINT, syscall.SIGTERM}
}

// handlePlatformSignal never continues: Windows has no reload signal.
func handlePlatformSignal(os.Signal, *plugin.Plugin, *slog.Logger) bool {
	return false
}
