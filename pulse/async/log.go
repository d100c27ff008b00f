package async

import (
	"go.uber.org/zap"

	"github.com/teranos/easyjob/sym"
)

// pulseLogger adds opening and closing markers to the engine's logs.
// Opening events log at DEBUG and closing events at WARN so the lifecycle
// stands out from per-run INFO lines.
type pulseLogger struct {
	*zap.SugaredLogger
}

// Starting logs an Opening (✿) event.
func (l pulseLogger) Starting(msg string, keysAndValues ...interface{}) {
	l.Debugw(sym.PulseOpen+" "+msg, keysAndValues...)
}

// Closing logs a Closing (❀) event.
func (l pulseLogger) Closing(msg string, keysAndValues ...interface{}) {
	l.Warnw(sym.PulseClose+" "+msg, keysAndValues...)
}

// Pulse logs general engine operations.
func (l pulseLogger) Pulse(msg string, keysAndValues ...interface{}) {
	l.Infow(sym.Pulse+" "+msg, keysAndValues...)
}
