package notify

import (
	"context"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/teranos/easyjob/am"
	"github.com/teranos/easyjob/errors"
	"github.com/teranos/easyjob/logger"
)

func sampleMessage() Message {
	at := time.Date(2026, 3, 14, 9, 30, 0, 0, time.Local)
	return Message{
		ID:    "6f1c1f5e-8d0e-4bd5-a2a2-5f7b0e3c9a10",
		Title: "Fetch status page:100002",
		Entries: []logger.Entry{
			{Time: at, Level: zapcore.WarnLevel, Message: "Attempt failed, retrying", Fields: map[string]interface{}{"attempt": int64(1)}},
			{Time: at, Level: zapcore.ErrorLevel, Message: "Final\nfailure", Fields: map[string]interface{}{"error": "connection reset"}},
		},
	}
}

func TestRender(t *testing.T) {
	out := Render(sampleMessage())

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, "Fetch status page:100002", lines[0])
	assert.Contains(t, lines[2], "LEVEL")
	assert.Contains(t, lines[3], "WARN")
	assert.Contains(t, lines[3], "attempt=1")
	assert.Contains(t, lines[4], "ERROR")
	assert.Contains(t, lines[4], "Final failure", "multi-line messages stay on one row")
}

func TestNew_SelectsNotifier(t *testing.T) {
	n := New(am.NotifyConfig{}, zap.NewNop().Sugar())
	assert.IsType(t, &LogNotifier{}, n)

	n = New(am.NotifyConfig{SMTP: am.SMTPConfig{Host: "mail.example.com", Port: 587}}, nil)
	assert.IsType(t, &SMTPNotifier{}, n)
}

func TestLogNotifier(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	n := NewLogNotifier(zap.New(core).Sugar())

	require.NoError(t, n.Notify(context.Background(), sampleMessage()))
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "Fetch status page:100002", logs.All()[0].ContextMap()["title"])
}

func TestSMTPNotifier(t *testing.T) {
	n := NewSMTPNotifier(am.SMTPConfig{
		Host: "mail.example.com",
		Port: 587,
		User: "jobs",
		From: "easyjob@example.com",
		To:   []string{"ops@example.com", "dev@example.com"},
	})

	var gotAddr, gotFrom string
	var gotTo []string
	var gotBody []byte
	n.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotBody = addr, from, to, msg
		assert.NotNil(t, a)
		return nil
	}

	require.NoError(t, n.Notify(context.Background(), sampleMessage()))
	assert.Equal(t, "mail.example.com:587", gotAddr)
	assert.Equal(t, "easyjob@example.com", gotFrom)
	assert.Equal(t, []string{"ops@example.com", "dev@example.com"}, gotTo)

	body := string(gotBody)
	assert.Contains(t, body, "Subject: Fetch status page:100002\r\n")
	assert.Contains(t, body, "Message-ID: <6f1c1f5e-8d0e-4bd5-a2a2-5f7b0e3c9a10@mail.example.com>")
	assert.Contains(t, body, "connection reset")
}

func TestSMTPNotifier_Failures(t *testing.T) {
	n := NewSMTPNotifier(am.SMTPConfig{Host: "mail.example.com", Port: 25, From: "a@example.com", To: []string{"b@example.com"}})
	n.send = func(string, smtp.Auth, string, []string, []byte) error {
		return errors.New("421 service not available")
	}
	err := n.Notify(context.Background(), sampleMessage())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "421")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, n.Notify(ctx, sampleMessage()), context.Canceled)

	empty := NewSMTPNotifier(am.SMTPConfig{Host: "mail.example.com", Port: 25})
	assert.Error(t, empty.Notify(context.Background(), sampleMessage()))
}
