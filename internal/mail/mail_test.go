package mail

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/iliyamo/auth-session-service/internal/queue"
)

type captureTransport struct {
	sent []Message
	err  error
}

func (c *captureTransport) Send(_ context.Context, msg Message) error {
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, msg)
	return nil
}

func newTestSender(t *testing.T, tr Transport) *Sender {
	return NewSender(tr, Options{
		AppName:          "Auth Service",
		From:             "no-reply@example.com",
		FrontendURL:      "https://app.example.com/",
		VerifyEmailTTL:   time.Hour,
		ResetPasswordTTL: 30 * time.Minute,
	}, zaptest.NewLogger(t))
}

func TestSender_VerifyEmail(t *testing.T) {
	tr := &captureTransport{}
	s := newTestSender(t, tr)

	require.NoError(t, s.Handle(context.Background(), queue.EmailTask{Type: queue.EmailVerify, To: "a@x.com", Token: "tok123"}))
	require.Len(t, tr.sent, 1)

	msg := tr.sent[0]
	assert.Equal(t, "a@x.com", msg.To)
	assert.Equal(t, "no-reply@example.com", msg.From)
	assert.Equal(t, "Auth Service: Verify your email", msg.Subject)
	assert.Contains(t, msg.HTML, `href="https://app.example.com/verify-email/tok123"`)
	assert.Contains(t, msg.HTML, "1 hour")
}

func TestSender_ResetPassword(t *testing.T) {
	tr := &captureTransport{}
	s := newTestSender(t, tr)

	msg, err := s.Render(queue.EmailTask{Type: queue.EmailResetPassword, To: "a@x.com", Token: "r1"})
	require.NoError(t, err)
	assert.Contains(t, msg.HTML, `href="https://app.example.com/reset-password/r1"`)
	assert.Contains(t, msg.HTML, "30 minutes")
}

func TestSender_Errors(t *testing.T) {
	s := newTestSender(t, &captureTransport{err: errors.New("relay refused")})

	_, err := s.Render(queue.EmailTask{Type: "newsletter", To: "a@x.com", Token: "x"})
	assert.Error(t, err)

	err = s.Handle(context.Background(), queue.EmailTask{Type: queue.EmailVerify, To: "a@x.com", Token: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "relay refused")
}

func TestBuildMessage(t *testing.T) {
	now := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	raw := string(buildMessage(Message{From: "f@x.com", To: "t@x.com", Subject: "Hi", HTML: "<p>x</p>"}, now))

	head, body, ok := strings.Cut(raw, "\r\n\r\n")
	require.True(t, ok)
	assert.Equal(t, "<p>x</p>", body)
	assert.True(t, strings.HasPrefix(head, "From: f@x.com\r\nTo: t@x.com\r\nSubject: Hi\r\n"))
	assert.Contains(t, head, "Date: Tue, 03 Feb 2026 04:05:06 +0000")
	assert.Contains(t, head, "Content-Type: text/html; charset=UTF-8")
}

func TestLogTransport(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	tr := LogTransport{Log: zap.New(core)}

	require.NoError(t, tr.Send(context.Background(), Message{To: "a@x.com", Subject: "s", HTML: "<p></p>"}))
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "a@x.com", logs.All()[0].ContextMap()["to"])
}

func TestHumanDuration(t *testing.T) {
	assert.Equal(t, "1 hour", humanDuration(time.Hour))
	assert.Equal(t, "2 hours", humanDuration(2*time.Hour))
	assert.Equal(t, "90 minutes", humanDuration(90*time.Minute))
	assert.Equal(t, "a short time", humanDuration(0))
}
