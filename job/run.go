package job

import (
	"context"

	"go.uber.org/zap"
)

// RunRecord is the persisted history of one execution. Stored in the
// History collection keyed by RunId. Status only moves RUNNING to
// COMPLETED or FAILED, and the terminal write happens once.
type RunRecord struct {
	JobId       int       `json:"JobId"`
	RunId       int       `json:"RunId"`
	JobName     string    `json:"JobName"`
	JobClass    string    `json:"JobClass"`
	Package     string    `json:"Package"`
	Description string    `json:"Description"`
	Status      RunStatus `json:"Status"`
	StartTime   string    `json:"StartTime"`
	EndTime     string    `json:"EndTime"`
	Output      string    `json:"Output"`
}

// KeyRunID is the key field of the History collection.
const KeyRunID = "RunId"

// KeyStatus is the status field of both collections.
const KeyStatus = "Status"

// NewRunRecord starts a RUNNING record for def.
func NewRunRecord(def Definition, runID int, startTime string) RunRecord {
	return RunRecord{
		JobId:       def.JobId,
		RunId:       runID,
		JobName:     def.JobName,
		JobClass:    def.JobClass,
		Package:     def.Package,
		Description: def.Description,
		Status:      RunRunning,
		StartTime:   startTime,
	}
}

// Job is one instantiated job body.
type Job interface {
	Run(ctx context.Context) error
}

// Func adapts a plain function to Job.
type Func func(ctx context.Context) error

func (f Func) Run(ctx context.Context) error { return f(ctx) }

// RunContext is everything a job body learns about the run it belongs to.
type RunContext struct {
	JobID      int
	RunID      int
	Definition Definition
	Logger     *zap.SugaredLogger
}

// Implementation describes a job class: how to name it and how to build a
// body for one run.
type Implementation struct {
	Class       string // unique class key, e.g. "demo.Echo"
	Package     string
	Name        string
	Description string
	New         func(rc *RunContext) (Job, error)
}

// Key identifies the implementation for duplicate detection.
func (i Implementation) Key() string {
	return i.Class
}
