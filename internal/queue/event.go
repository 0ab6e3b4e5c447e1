// Package queue carries email tasks from request handlers to the background
// sender, either through an in-process worker pool or through RabbitMQ.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// EmailType selects the template used for a task.
type EmailType string

const (
	EmailVerify        EmailType = "verify_email"
	EmailResetPassword EmailType = "reset_password"
)

// EmailTask is the message enqueued for each outgoing email.  It holds the
// raw one-shot token; the link is built by the sender.
type EmailTask struct {
	Type      EmailType `json:"type"`
	To        string    `json:"to"`
	Token     string    `json:"token"`
	CreatedAt time.Time `json:"created_at"`
}

// Validate rejects tasks the sender could not deliver.
func (t EmailTask) Validate() error {
	switch t.Type {
	case EmailVerify, EmailResetPassword:
	default:
		return fmt.Errorf("unknown email type %q", t.Type)
	}
	if strings.TrimSpace(t.To) == "" {
		return errors.New("recipient is required")
	}
	if t.Token == "" {
		return errors.New("token is required")
	}
	return nil
}

// Handler processes one task.  Returned errors are logged and counted; they
// never reach the request that enqueued the task.
type Handler func(ctx context.Context, task EmailTask) error

var (
	// ErrQueueFull is returned by Pool.Enqueue when every buffer slot is taken.
	ErrQueueFull = errors.New("email queue is full")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("email queue is closed")
)
