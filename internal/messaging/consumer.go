package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"restaurant-orders/internal/logger"
)

const handleTimeout = 30 * time.Second

// MessageHandler processes one delivery body
type MessageHandler func(ctx context.Context, body []byte) error

// Consumer reads lifecycle events from a queue bound to the events exchange
type Consumer struct {
	conn        *Connection
	logger      *logger.Logger
	queueName   string
	consumerTag string
	prefetch    int
	redeclare   func() (string, error)
}

// NewConsumer creates a consumer for an already declared queue
func NewConsumer(conn *Connection, log *logger.Logger, queueName, consumerTag string, prefetch int) *Consumer {
	return &Consumer{
		conn:        conn,
		logger:      log,
		queueName:   queueName,
		consumerTag: consumerTag,
		prefetch:    prefetch,
	}
}

// WithRedeclare sets a hook run after a reconnect, before consuming resumes.
// Server-named queues vanish with their connection; the hook returns the name
// of the queue declared in its place.
func (c *Consumer) WithRedeclare(fn func() (string, error)) *Consumer {
	c.redeclare = fn
	return c
}

// StartConsuming blocks handling deliveries until ctx is done, reconnecting
// when the broker closes the channel.
func (c *Consumer) StartConsuming(ctx context.Context, handler MessageHandler) error {
	for {
		msgs, err := c.consume()
		if err != nil {
			return err
		}
		c.logger.Info("consumer_started", "Consuming lifecycle events", "", map[string]interface{}{
			"queue":    c.queueName,
			"prefetch": c.prefetch,
		})

		if err := c.drain(ctx, msgs, handler); err != nil {
			return err
		}

		c.logger.Warn("consumer_channel_closed", "Message channel closed, reconnecting", "", nil)
		if err := c.conn.Reconnect(ctx); err != nil {
			return fmt.Errorf("failed to reconnect after channel closed: %w", err)
		}
		if c.redeclare != nil {
			name, err := c.redeclare()
			if err != nil {
				return fmt.Errorf("failed to redeclare queue after reconnect: %w", err)
			}
			c.queueName = name
		}
	}
}

func (c *Consumer) consume() (<-chan amqp091.Delivery, error) {
	ch := c.conn.Channel()
	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}
	msgs, err := ch.Consume(c.queueName, c.consumerTag, false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to register consumer: %w", err)
	}
	return msgs, nil
}

// drain returns nil when msgs closes and ctx is still live
func (c *Consumer) drain(ctx context.Context, msgs <-chan amqp091.Delivery, handler MessageHandler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return ctx.Err()
			}
			c.processMessage(ctx, d, handler)
		}
	}
}

// processMessage acks handled deliveries. Failed ones are dropped: a malformed
// event never becomes valid on redelivery.
func (c *Consumer) processMessage(ctx context.Context, d amqp091.Delivery, handler MessageHandler) {
	hctx, cancel := context.WithTimeout(ctx, handleTimeout)
	defer cancel()

	if err := handler(hctx, d.Body); err != nil {
		c.logger.Error("message_processing_failed", "Failed to process message", "", err, map[string]interface{}{
			"routing_key":  d.RoutingKey,
			"delivery_tag": d.DeliveryTag,
		})
		if err := d.Nack(false, false); err != nil {
			c.logger.Error("message_nack_failed", "Failed to nack message", "", err, nil)
		}
		return
	}
	if err := d.Ack(false); err != nil {
		c.logger.Error("message_ack_failed", "Failed to ack message", "", err, nil)
	}
}

// Close cancels the consumer and closes the broker connection
func (c *Consumer) Close() error {
	if c.conn == nil || c.conn.IsClosed() {
		return nil
	}
	if err := c.conn.Channel().Cancel(c.consumerTag, false); err != nil {
		c.logger.Error("consumer_cancel_failed", "Failed to cancel consumer", "", err, nil)
	}
	return c.conn.Close()
}

// ParseMessage decodes a JSON delivery body into v
func ParseMessage(body []byte, v interface{}) error {
	return json.Unmarshal(body, v)
}
