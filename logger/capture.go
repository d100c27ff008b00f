package logger

import (
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Entry is one log line recorded while a run executes.
type Entry struct {
	Time    time.Time              `json:"time"`
	Level   zapcore.Level          `json:"level"`
	Message string                 `json:"message"`
	Fields  map[string]interface{} `json:"fields,omitempty"`
}

// RunCapture records every entry written through a run's logger so the
// engine can decide afterwards whether a notification is due.
type RunCapture struct {
	mu      sync.Mutex
	entries []Entry
}

// NewRunCapture returns an empty capture.
func NewRunCapture() *RunCapture {
	return &RunCapture{}
}

// Entries returns a copy of the recorded entries in write order.
func (c *RunCapture) Entries() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Entry, len(c.entries))
	copy(out, c.entries)
	return out
}

// HasErrors reports whether any entry at ERROR or above was recorded.
func (c *RunCapture) HasErrors() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.entries {
		if e.Level >= zapcore.ErrorLevel {
			return true
		}
	}
	return false
}

// Errors returns only the entries at ERROR or above.
func (c *RunCapture) Errors() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Entry
	for _, e := range c.entries {
		if e.Level >= zapcore.ErrorLevel {
			out = append(out, e)
		}
	}
	return out
}

func (c *RunCapture) record(e Entry) {
	c.mu.Lock()
	c.entries = append(c.entries, e)
	c.mu.Unlock()
}

// captureCore is a zapcore.Core that appends to a RunCapture.
type captureCore struct {
	zapcore.LevelEnabler
	capture *RunCapture
	fields  []zapcore.Field
}

func (c *captureCore) With(fields []zapcore.Field) zapcore.Core {
	merged := make([]zapcore.Field, 0, len(c.fields)+len(fields))
	merged = append(merged, c.fields...)
	merged = append(merged, fields...)
	return &captureCore{LevelEnabler: c.LevelEnabler, capture: c.capture, fields: merged}
}

func (c *captureCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *captureCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range c.fields {
		f.AddTo(enc)
	}
	for _, f := range fields {
		f.AddTo(enc)
	}
	c.capture.record(Entry{
		Time:    ent.Time,
		Level:   ent.Level,
		Message: ent.Message,
		Fields:  enc.Fields,
	})
	return nil
}

func (c *captureCore) Sync() error { return nil }

// ForRun builds the logger handed to a job for one run. Entries go to base
// as usual and WARN and above are also recorded in capture.
func ForRun(base *zap.SugaredLogger, capture *RunCapture, jobID, runID int) *zap.SugaredLogger {
	if base == nil {
		base = Logger
	}
	tee := base.Desugar().WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return zapcore.NewTee(core, &captureCore{
			LevelEnabler: zapcore.WarnLevel,
			capture:      capture,
		})
	}))
	return tee.Sugar().With(FieldJobID, jobID, FieldRunID, runID)
}
