// Package mail renders and delivers the verification and password reset
// emails.  Sender.Handle is the queue.Handler run by the email workers.
package mail

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/auth-session-service/internal/queue"
)

// Message is a rendered HTML email.
type Message struct {
	From    string
	To      string
	Subject string
	HTML    string
}

// Transport delivers a rendered message.
type Transport interface {
	Send(ctx context.Context, msg Message) error
}

// Options configure a Sender.
type Options struct {
	AppName          string
	From             string
	FrontendURL      string
	VerifyEmailTTL   time.Duration
	ResetPasswordTTL time.Duration
}

// Sender turns email tasks into messages and hands them to a Transport.
type Sender struct {
	transport Transport
	opts      Options
	log       *zap.Logger
}

func NewSender(transport Transport, opts Options, log *zap.Logger) *Sender {
	opts.FrontendURL = strings.TrimRight(opts.FrontendURL, "/")
	return &Sender{transport: transport, opts: opts, log: log.With(zap.String("component", "mail"))}
}

// Handle renders task and sends it.
func (s *Sender) Handle(ctx context.Context, task queue.EmailTask) error {
	msg, err := s.Render(task)
	if err != nil {
		return err
	}
	if err := s.transport.Send(ctx, msg); err != nil {
		return fmt.Errorf("deliver %s: %w", task.Type, err)
	}
	s.log.Info("email sent", zap.String("type", string(task.Type)), zap.String("to", task.To))
	return nil
}

// Render builds the message for task without sending it.
func (s *Sender) Render(task queue.EmailTask) (Message, error) {
	var (
		tmpl    *template.Template
		subject string
		link    string
		ttl     time.Duration
	)
	switch task.Type {
	case queue.EmailVerify:
		tmpl, subject, ttl = verifyEmailTemplate, "Verify your email", s.opts.VerifyEmailTTL
		link = s.opts.FrontendURL + "/verify-email/" + task.Token
	case queue.EmailResetPassword:
		tmpl, subject, ttl = resetPasswordTemplate, "Reset your password", s.opts.ResetPasswordTTL
		link = s.opts.FrontendURL + "/reset-password/" + task.Token
	default:
		return Message{}, fmt.Errorf("unknown email type %q", task.Type)
	}

	var body bytes.Buffer
	if err := tmpl.Execute(&body, templateData{AppName: s.opts.AppName, Link: link, ExpiresIn: humanDuration(ttl)}); err != nil {
		return Message{}, fmt.Errorf("render %s: %w", task.Type, err)
	}
	if s.opts.AppName != "" {
		subject = s.opts.AppName + ": " + subject
	}
	return Message{From: s.opts.From, To: task.To, Subject: subject, HTML: body.String()}, nil
}

func humanDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return "a short time"
	case d%time.Hour == 0:
		if d == time.Hour {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", d/time.Hour)
	default:
		return fmt.Sprintf("%d minutes", d/time.Minute)
	}
}

// LogTransport writes messages to the log instead of sending them.  It is
// used when no SMTP host is configured.
type LogTransport struct{ Log *zap.Logger }

func (t LogTransport) Send(_ context.Context, msg Message) error {
	t.Log.Info("email (not sent, SMTP disabled)",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.Int("bytes", len(msg.HTML)))
	return nil
}
