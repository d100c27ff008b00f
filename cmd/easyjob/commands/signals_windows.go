//go:build windows

package commands

import (
	"os"
	"syscall"
)

// sigBreak is CTRL_BREAK_EVENT, delivered to console processes on Windows.
const sigBreak = syscall.Signal(0x15)

var shutdownSignals = []os.Signal{os.Interrupt, syscall.SIGTERM, syscall.SIGHUP, sigBreak}
