package logger

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"
)

// Everforest-ish palette, tuned for dark terminals
const (
	colorReset  = "\x1b[0m"
	colorBold   = "\x1b[1m"
	colorFg     = "\x1b[38;5;223m"
	colorTime   = "\x1b[38;5;107m"
	colorGreen  = "\x1b[38;5;108m"
	colorDeep   = "\x1b[38;5;65m"
	colorAqua   = "\x1b[38;5;109m"
	colorOrange = "\x1b[38;5;208m"
	colorYellow = "\x1b[38;5;179m"
	colorRed    = "\x1b[38;5;167m"
	colorRedBg  = "\x1b[48;5;52m"
	colorYelBg  = "\x1b[48;5;58m"
)

var bufferPool = buffer.NewPool()

// consoleEncoder is a calm, compact console encoder.
// Format: "13:04:35  p.async  Job completed  job_id=100001 run_id=100042 duration_ms=12"
type consoleEncoder struct {
	*zapcore.MapObjectEncoder // fields accumulated through With()
}

func newConsoleEncoder() *consoleEncoder {
	return &consoleEncoder{MapObjectEncoder: zapcore.NewMapObjectEncoder()}
}

func (enc *consoleEncoder) Clone() zapcore.Encoder {
	clone := newConsoleEncoder()
	for k, v := range enc.Fields {
		clone.Fields[k] = v
	}
	return clone
}

func (enc *consoleEncoder) EncodeEntry(ent zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	final := bufferPool.Get()

	final.AppendString(colorTime)
	final.AppendString(ent.Time.Format("15:04:05"))
	final.AppendString(colorReset)

	// Level is only shown when it is not INFO
	if ent.Level != zapcore.InfoLevel {
		final.AppendString("  ")
		final.AppendString(levelColorString(ent.Level))
	}

	if ent.LoggerName != "" {
		final.AppendString("  ")
		final.AppendString(colorComponent(ent.LoggerName))
		final.AppendString(abbreviateName(ent.LoggerName))
		final.AppendString(colorReset)
	}

	final.AppendString("  ")
	final.AppendString(colorizeSymbols(ent.Message))

	all := enc.Clone().(*consoleEncoder)
	for _, f := range fields {
		f.AddTo(all.MapObjectEncoder)
	}
	if rendered := renderFields(all.Fields); rendered != "" {
		final.AppendString("  ")
		final.AppendString(rendered)
	}

	final.AppendString("\n")
	return final, nil
}

func levelColorString(level zapcore.Level) string {
	switch level {
	case zapcore.DebugLevel:
		return colorDeep + "DEBUG" + colorReset
	case zapcore.WarnLevel:
		return colorBold + colorYelBg + colorYellow + "WARN" + colorReset
	case zapcore.ErrorLevel:
		return colorBold + colorRedBg + colorRed + "ERROR" + colorReset
	default:
		return colorBold + colorRedBg + colorRed + level.CapitalString() + colorReset
	}
}

// colorComponent hashes the name so a component keeps its colour across lines
func colorComponent(name string) string {
	hash := 0
	for _, c := range name {
		hash += int(c)
	}
	switch hash % 3 {
	case 0:
		return colorGreen
	case 1:
		return colorDeep
	default:
		return colorOrange
	}
}

// abbreviateName shortens component names: pulse.async -> p.async
func abbreviateName(name string) string {
	parts := strings.Split(name, ".")
	if len(parts) > 1 && parts[0] != "" {
		return string(parts[0][0]) + "." + strings.Join(parts[1:], ".")
	}
	return name
}

func colorizeSymbols(msg string) string {
	for _, glyph := range []string{"꩜", "✿", "❀", "⏲", "⌬", "⊔", "≡"} {
		msg = strings.ReplaceAll(msg, glyph, colorGreen+glyph+colorReset+colorFg)
	}
	return colorFg + msg + colorReset
}

func renderFields(fields map[string]interface{}) string {
	if len(fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		val := fmt.Sprintf("%v", fields[k])
		switch k {
		case FieldJobID, FieldRunID, FieldRequestID:
			val = colorAqua + val + colorReset
		case FieldDurationMS:
			val = colorGreen + val + colorReset + "ms"
		case FieldError:
			val = colorRed + val + colorReset
		}
		parts = append(parts, k+"="+val)
	}
	return strings.Join(parts, " ")
}
