package job

import (
	"fmt"
	"strings"
)

// The persisted status vocabulary is one numeric scale shared by definitions
// and runs: DISABLED=0, READY=1, RUNNING=2, COMPLETED=3, FAILED=4.
// Definitions only ever hold the first two, runs the last three, so each
// side gets its own type.

// DefinitionStatus is the status of a job definition.
type DefinitionStatus int

const (
	StatusDisabled DefinitionStatus = 0
	StatusReady    DefinitionStatus = 1
)

func (s DefinitionStatus) String() string {
	switch s {
	case StatusDisabled:
		return "DISABLED"
	case StatusReady:
		return "READY"
	default:
		return fmt.Sprintf("DefinitionStatus(%d)", int(s))
	}
}

// RunStatus is the status of one run.
type RunStatus int

const (
	RunRunning   RunStatus = 2
	RunCompleted RunStatus = 3
	RunFailed    RunStatus = 4
)

func (s RunStatus) String() string {
	switch s {
	case RunRunning:
		return "RUNNING"
	case RunCompleted:
		return "COMPLETED"
	case RunFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("RunStatus(%d)", int(s))
	}
}

// Terminal reports whether no further transition is allowed.
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed
}

// ParseRunStatus accepts a status name (case-insensitive) or its number.
func ParseRunStatus(s string) (RunStatus, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "RUNNING", "2":
		return RunRunning, true
	case "COMPLETED", "3":
		return RunCompleted, true
	case "FAILED", "4":
		return RunFailed, true
	}
	return 0, false
}
