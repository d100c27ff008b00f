// Package notify delivers the warnings and errors a failed run logged.
package notify

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/easyjob/am"
	"github.com/teranos/easyjob/logger"
)

// Message is one notification: the entries a single run captured.
type Message struct {
	ID      string // uuid, also used as the SMTP Message-ID local part
	Title   string // "<JobName>:<JobId>"
	Entries []logger.Entry
}

// Notifier sends messages. Implementations must be safe for concurrent use.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// New picks the notifier cfg asks for: SMTP when a host is configured,
// otherwise a LogNotifier.
func New(cfg am.NotifyConfig, log *zap.SugaredLogger) Notifier {
	if cfg.SMTP.Host != "" {
		return NewSMTPNotifier(cfg.SMTP)
	}
	return NewLogNotifier(log)
}

// LogNotifier writes messages to a logger. Used when no mail server is
// configured.
type LogNotifier struct {
	log *zap.SugaredLogger
}

func NewLogNotifier(log *zap.SugaredLogger) *LogNotifier {
	if log == nil {
		log = logger.ComponentLogger("notify")
	}
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Notify(ctx context.Context, msg Message) error {
	n.log.Warnw("Run reported problems",
		"message_id", msg.ID,
		"title", msg.Title,
		logger.FieldCount, len(msg.Entries))
	return nil
}

// Render formats msg as a plain-text table, one row per entry.
func Render(msg Message) string {
	var sb strings.Builder
	sb.WriteString(msg.Title)
	sb.WriteString("\n\n")

	tw := tabwriter.NewWriter(&sb, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tLEVEL\tMESSAGE\tFIELDS")
	for _, e := range msg.Entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			e.Time.Format(time.DateTime),
			strings.ToUpper(e.Level.String()),
			oneLine(e.Message),
			renderFields(e.Fields))
	}
	tw.Flush()
	return sb.String()
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
		parts = append(parts, fmt.Sprintf("%s=%v", k, fields[k]))
	}
	return oneLine(strings.Join(parts, " "))
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
