package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"restaurant-orders/internal/lifecycle"
	"restaurant-orders/internal/logger"
)

// EventMessage is the envelope of a lifecycle event on the bus
type EventMessage struct {
	Source string          `json:"source"`
	Event  lifecycle.Event `json:"event"`
}

// RoutingKey is "<entity>.<event type>", e.g. "order.order_status_changed"
func RoutingKey(ev lifecycle.Event) string {
	return fmt.Sprintf("%s.%s", ev.Entity, ev.Type)
}

// Publisher handles message publishing to RabbitMQ
type Publisher struct {
	mu     sync.Mutex
	conn   *Connection
	source string
	logger *logger.Logger
}

// NewPublisher creates a new message publisher
func NewPublisher(conn *Connection, source string, log *logger.Logger) *Publisher {
	return &Publisher{
		conn:   conn,
		source: source,
		logger: log,
	}
}

// PublishEvent publishes a committed lifecycle event to the events exchange
func (p *Publisher) PublishEvent(ctx context.Context, ev lifecycle.Event) error {
	return p.publishMessage(ctx, RoutingKey(ev), EventMessage{Source: p.source, Event: ev})
}

func (p *Publisher) publishMessage(ctx context.Context, routingKey string, message interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn.IsClosed() {
		if err := p.conn.Reconnect(ctx); err != nil {
			return fmt.Errorf("failed to reconnect: %w", err)
		}
	}

	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	publishing := amqp091.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now(),
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	exchange := p.conn.Exchange()
	err = p.conn.Channel().PublishWithContext(
		ctx,
		exchange,   // exchange
		routingKey, // routing key
		false,      // mandatory
		false,      // immediate
		publishing,
	)
	if err != nil {
		p.logger.Error("message_publish_failed",
			fmt.Sprintf("Failed to publish message to exchange %s", exchange),
			"", err, map[string]interface{}{
				"exchange":    exchange,
				"routing_key": routingKey,
			})
		return fmt.Errorf("failed to publish message: %w", err)
	}

	p.logger.Debug("message_published",
		fmt.Sprintf("Published message to exchange %s", exchange),
		"", map[string]interface{}{
			"exchange":     exchange,
			"routing_key":  routingKey,
			"message_size": len(body),
		})

	return nil
}

// Close closes the publisher
func (p *Publisher) Close() error {
	return p.conn.Close()
}
