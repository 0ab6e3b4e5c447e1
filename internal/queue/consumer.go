package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/iliyamo/auth-session-service/internal/metrics"
)

// Consumer reads email tasks from RabbitMQ and passes them to a Handler.
type Consumer struct {
	url      string
	queue    string
	prefetch int
	handler  Handler
	log      *zap.Logger
}

// NewConsumer builds a consumer; prefetch bounds unacknowledged deliveries
// and so the number of emails in flight.
func NewConsumer(url, queue string, prefetch int, handler Handler, log *zap.Logger) *Consumer {
	if prefetch < 1 {
		prefetch = 1
	}
	return &Consumer{
		url:      url,
		queue:    queue,
		prefetch: prefetch,
		handler:  handler,
		log:      log.With(zap.String("component", "email_consumer")),
	}
}

// Run connects to RabbitMQ, declares the queue and consumes until ctx ends.
// Dial failures are retried with exponential backoff capped at 30s; a closed
// delivery channel triggers a reconnect.
func (c *Consumer) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		conn, err := amqp.Dial(c.url)
		if err != nil {
			c.log.Warn("failed to dial broker", zap.Error(err), zap.Duration("retry_in", backoff))
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second // reset after successful connect

		err = c.consumeLoop(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.log.Warn("consume loop ended; reconnecting", zap.Error(err))
		if !sleep(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func (c *Consumer) consumeLoop(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		c.log.Warn("set QoS failed", zap.Error(err))
	}
	if err := declareQueue(ch, c.queue); err != nil {
		return err
	}

	msgs, err := ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if err := c.handleMessage(ctx, d.Body); err != nil {
				c.log.Error("handle message failed", zap.Error(err))
				_ = d.Nack(false, false) // reject, do not requeue to avoid tight loops
				continue
			}
			_ = d.Ack(false)
		}
	}
}

func (c *Consumer) handleMessage(ctx context.Context, body []byte) error {
	var task EmailTask
	if err := json.Unmarshal(body, &task); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	if err := task.Validate(); err != nil {
		return err
	}

	hctx, cancel := context.WithTimeout(ctx, handleTimeout)
	defer cancel()
	if err := c.handler(hctx, task); err != nil {
		metrics.EmailTasksTotal.WithLabelValues(string(task.Type), "failed").Inc()
		return fmt.Errorf("send %s to %s: %w", task.Type, task.To, err)
	}
	metrics.EmailTasksTotal.WithLabelValues(string(task.Type), "sent").Inc()
	return nil
}

// sleep waits for d or ctx; false means ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
