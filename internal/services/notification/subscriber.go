package notification

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"restaurant-orders/internal/lifecycle"
	"restaurant-orders/internal/logger"
	"restaurant-orders/internal/messaging"
)

// EventSource delivers raw event bodies to a handler until ctx is done
type EventSource interface {
	StartConsuming(ctx context.Context, handler messaging.MessageHandler) error
	Close() error
}

// Subscriber prints lifecycle events from the bus in a human-readable form
type Subscriber struct {
	source EventSource
	logger *logger.Logger

	mu  sync.Mutex
	out io.Writer
}

// NewSubscriber creates a new notification subscriber writing to stdout
func NewSubscriber(source EventSource, log *logger.Logger) *Subscriber {
	return &Subscriber{
		source: source,
		logger: log,
		out:    os.Stdout,
	}
}

// WithOutput redirects the printed notifications
func (s *Subscriber) WithOutput(w io.Writer) *Subscriber {
	s.out = w
	return s
}

// Start consumes events until ctx is cancelled
func (s *Subscriber) Start(ctx context.Context) error {
	requestID := logger.GenerateRequestID()
	s.logger.Info("service_started", "Notification subscriber started", requestID, nil)

	err := s.source.StartConsuming(ctx, s.handleNotification)

	s.logger.Info("graceful_shutdown", "Stopping notification subscriber", requestID, nil)
	if cerr := s.source.Close(); cerr != nil {
		s.logger.Error("graceful_shutdown", "Failed to close consumer", requestID, cerr, nil)
	}

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *Subscriber) handleNotification(ctx context.Context, body []byte) error {
	requestID := logger.GenerateRequestID()

	var msg messaging.EventMessage
	if err := messaging.ParseMessage(body, &msg); err != nil {
		return fmt.Errorf("failed to parse notification: %w", err)
	}
	if msg.Event.Type == "" {
		return fmt.Errorf("notification without event type")
	}

	s.logger.Debug("notification_received", "Received lifecycle event", requestID, map[string]interface{}{
		"source":    msg.Source,
		"type":      msg.Event.Type,
		"entity_id": msg.Event.ID,
		"status":    msg.Event.ToStatus,
	})

	s.mu.Lock()
	_, err := fmt.Fprintln(s.out, formatNotification(msg.Event))
	s.mu.Unlock()
	return err
}

// formatNotification creates a human-readable notification line
func formatNotification(ev lifecycle.Event) string {
	timestamp := ev.Timestamp.UTC().Format("2006-01-02 15:04:05")

	switch ev.Type {
	case lifecycle.EventOrderCreated:
		return fmt.Sprintf("[%s] New order #%d for table %d", timestamp, ev.OrderID, ev.TableID)
	case lifecycle.EventItemAdded:
		return fmt.Sprintf("[%s] Item #%d added to order #%d", timestamp, ev.ID, ev.OrderID)
	case lifecycle.EventTableStatus:
		return fmt.Sprintf("[%s] Table %d is now %s", timestamp, ev.TableID, ev.ToStatus)
	case lifecycle.EventItemStatus:
		return fmt.Sprintf("[%s] Item #%d of order #%d changed from '%s' to '%s'",
			timestamp, ev.ID, ev.OrderID, ev.FromStatus, ev.ToStatus)
	}

	switch ev.ToStatus {
	case "ready":
		return fmt.Sprintf("[%s] Order #%d for table %d is ready to serve", timestamp, ev.OrderID, ev.TableID)
	case "completed":
		return fmt.Sprintf("[%s] Order #%d for table %d has been completed", timestamp, ev.OrderID, ev.TableID)
	case "cancelled":
		return fmt.Sprintf("[%s] Order #%d for table %d has been cancelled", timestamp, ev.OrderID, ev.TableID)
	default:
		return fmt.Sprintf("[%s] Order #%d status changed from '%s' to '%s'",
			timestamp, ev.OrderID, ev.FromStatus, ev.ToStatus)
	}
}
