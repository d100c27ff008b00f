//go:build !windows

package commands

import (
	"os"
	"syscall"
)

// shutdownSignals start a graceful shutdown of serve.
var shutdownSignals = []os.Signal{os.Interrupt, syscall.SIGTERM, syscall.SIGHUP}
