package notify

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/teranos/easyjob/am"
	"github.com/teranos/easyjob/errors"
)

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPNotifier mails messages through an SMTP relay.
type SMTPNotifier struct {
	addr string
	host string
	auth smtp.Auth
	from string
	to   []string
	send sendFunc
}

// NewSMTPNotifier builds a notifier from cfg. PLAIN auth is used when a
// user is configured.
func NewSMTPNotifier(cfg am.SMTPConfig) *SMTPNotifier {
	n := &SMTPNotifier{
		addr: net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		host: cfg.Host,
		from: cfg.From,
		to:   append([]string(nil), cfg.To...),
		send: smtp.SendMail,
	}
	if cfg.User != "" {
		n.auth = smtp.PlainAuth("", cfg.User, cfg.Password, cfg.Host)
	}
	return n
}

func (n *SMTPNotifier) Notify(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(n.to) == 0 {
		return errors.New("no notification recipients configured")
	}

	body := n.compose(msg, time.Now())
	if err := n.send(n.addr, n.auth, n.from, n.to, body); err != nil {
		return errors.Wrapf(err, "failed to send notification %s via %s", msg.ID, n.addr)
	}
	return nil
}

func (n *SMTPNotifier) compose(msg Message, now time.Time) []byte {
	var sb strings.Builder
	fmt.Fprintf(&sb, "From: %s\r\n", n.from)
	fmt.Fprintf(&sb, "To: %s\r\n", strings.Join(n.to, ", "))
	fmt.Fprintf(&sb, "Subject: %s\r\n", msg.Title)
	fmt.Fprintf(&sb, "Date: %s\r\n", now.Format(time.RFC1123Z))
	fmt.Fprintf(&sb, "Message-ID: <%s@%s>\r\n", msg.ID, n.host)
	sb.WriteString("MIME-Version: 1.0\r\n")
	sb.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	sb.WriteString("\r\n")
	sb.WriteString(strings.ReplaceAll(Render(msg), "\n", "\r\n"))
	return []byte(sb.String())
}
