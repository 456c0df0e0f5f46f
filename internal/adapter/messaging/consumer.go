package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/rl1809/ticket-escrow/internal/adapter/catalog"
	"github.com/rl1809/ticket-escrow/internal/core/domain"
)

const (
	maxBackoff = 30 * time.Second
	prefetch   = 50
)

// ApprovalConsumer applies approval notices from the approval queue.
// Malformed notices are rejected; a notice whose handling fails is
// requeued once.
type ApprovalConsumer struct {
	url     string
	queue   string
	handler catalog.ApprovalHandler
	logger  *slog.Logger
}

func NewApprovalConsumer(url, queue string, handler catalog.ApprovalHandler, logger *slog.Logger) *ApprovalConsumer {
	return &ApprovalConsumer{url: url, queue: queue, handler: handler, logger: logger}
}

// Run consumes until ctx is done, reconnecting with backoff when the broker
// goes away.
func (c *ApprovalConsumer) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		conn, err := amqp.Dial(c.url)
		if err != nil {
			c.logger.Warn("approval consumer: dial failed", "error", err, "retry_in", backoff)
			if !sleep(ctx, backoff) {
				return nil
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}
		backoff = time.Second

		err = c.consume(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return nil
		}
		c.logger.Warn("approval consumer: consume loop ended, reconnecting", "error", err)
		if !sleep(ctx, 2*time.Second) {
			return nil
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (c *ApprovalConsumer) consume(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(prefetch, 0, false); err != nil {
		c.logger.Warn("approval consumer: set QoS failed", "error", err)
	}
	if _, err := ch.QueueDeclare(c.queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	msgs, err := ch.ConsumeWithContext(ctx, c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	c.logger.Info("approval consumer started", "queue", c.queue)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			c.handleDelivery(ctx, d)
		}
	}
}

type errMalformed struct{ err error }

func (e errMalformed) Error() string { return "malformed approval notice: " + e.err.Error() }
func (e errMalformed) Unwrap() error { return e.err }

func (c *ApprovalConsumer) handleDelivery(ctx context.Context, d amqp.Delivery) {
	n, err := c.handleMessage(ctx, d.Body)
	if err == nil {
		c.logger.Info("approval notice applied", "kind", n.Kind, "event_id", n.EventID, "date_id", n.DateID,
			"status", n.Status)
		_ = d.Ack(false)
		return
	}

	var malformed errMalformed
	requeue := !errors.As(err, &malformed) && !d.Redelivered
	c.logger.Error("approval notice failed", "error", err, "requeue", requeue)
	_ = d.Nack(false, requeue)
}

func (c *ApprovalConsumer) handleMessage(ctx context.Context, body []byte) (domain.ApprovalNotice, error) {
	var n domain.ApprovalNotice
	if err := json.Unmarshal(body, &n); err != nil {
		return n, errMalformed{err}
	}
	if err := n.Validate(); err != nil {
		return n, errMalformed{err}
	}
	if _, err := c.handler.HandleApproval(ctx, n); err != nil {
		return n, fmt.Errorf("handle approval: %w", err)
	}
	return n, nil
}
