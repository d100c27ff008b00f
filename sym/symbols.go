// Package sym defines the glyphs easyjob prints in logs and CLI output.
// They are stable across the CLI, the HTTP API and log lines so that a
// grep for a glyph finds every message of one subsystem.
package sym

const (
	Pulse      = "꩜" // execution engine and worker pool
	PulseOpen  = "✿" // engine startup and orphan recovery
	PulseClose = "❀" // ordered shutdown and interruption
	Schedule   = "⏲" // cron trigger reconciliation
	Registry   = "⌬" // job registry and manifest scans
	DB         = "⊔" // database/storage layer
	AM         = "≡" // configuration
)

// All returns every glyph with a short description, in display order.
func All() []Glyph {
	return []Glyph{
		{Pulse, "execution engine"},
		{PulseOpen, "graceful startup"},
		{PulseClose, "graceful shutdown"},
		{Schedule, "scheduler"},
		{Registry, "registry"},
		{DB, "storage"},
		{AM, "configuration"},
	}
}

// Glyph pairs a symbol with what it marks.
type Glyph struct {
	Symbol      string
	Description string
}
