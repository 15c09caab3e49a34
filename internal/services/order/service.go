package order

import (
	"context"
	"fmt"

	"restaurant-orders/internal/lifecycle"
	"restaurant-orders/internal/logger"
	"restaurant-orders/internal/models"
	"restaurant-orders/internal/notify"
)

// Repository is the persistence surface used by the order service:
// the lifecycle port plus the catalog operations.
type Repository interface {
	lifecycle.Store

	CreateProduct(ctx context.Context, product *models.Product) error
	ListProducts(ctx context.Context) ([]*models.Product, error)
	DeleteProduct(ctx context.Context, id int64) error

	CreateTable(ctx context.Context, table *models.Table) error
	ListTables(ctx context.Context) ([]*models.Table, error)
}

// Notifier fans committed events out to realtime clients
type Notifier interface {
	Notify(ev lifecycle.Event) notify.Delivery
}

// EventPublisher forwards committed events to the event bus
type EventPublisher interface {
	PublishEvent(ctx context.Context, ev lifecycle.Event) error
}

// EventRecorder counts dispatched events
type EventRecorder interface {
	ObserveEvent(eventType, status string)
}

// HealthCheck reports whether a dependency is reachable
type HealthCheck func(ctx context.Context) error

type namedCheck struct {
	name  string
	check HealthCheck
}

// Service coordinates the lifecycle engine, the catalog and event dispatch
type Service struct {
	repo      Repository
	engine    *lifecycle.Engine
	notifier  Notifier
	publisher EventPublisher
	recorder  EventRecorder
	checks    []namedCheck
	logger    *logger.Logger

	engineOpts []lifecycle.Option
}

// Option configures a Service
type Option func(*Service)

// WithPublisher forwards every dispatched event to p
func WithPublisher(p EventPublisher) Option {
	return func(s *Service) {
		s.publisher = p
	}
}

// WithEventRecorder counts dispatched events with rec
func WithEventRecorder(rec EventRecorder) Option {
	return func(s *Service) {
		s.recorder = rec
	}
}

// WithHealthCheck adds a dependency to the health report
func WithHealthCheck(name string, check HealthCheck) Option {
	return func(s *Service) {
		s.checks = append(s.checks, namedCheck{name: name, check: check})
	}
}

// WithEngineOptions passes options to the lifecycle engine
func WithEngineOptions(opts ...lifecycle.Option) Option {
	return func(s *Service) {
		s.engineOpts = append(s.engineOpts, opts...)
	}
}

// NewService creates a new order service
func NewService(repo Repository, notifier Notifier, log *logger.Logger, opts ...Option) *Service {
	s := &Service{
		repo:     repo,
		notifier: notifier,
		logger:   log,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.engine = lifecycle.NewEngine(repo, s.engineOpts...)
	return s
}

// CreateProduct validates and stores a catalog entry
func (s *Service) CreateProduct(ctx context.Context, req *CreateProductRequest, requestID string) (*models.Product, error) {
	if err := ValidateProductRequest(req); err != nil {
		return nil, err
	}
	product := req.toProduct()
	if err := s.repo.CreateProduct(ctx, product); err != nil {
		return nil, fmt.Errorf("failed to create product: %w", err)
	}

	s.logger.Info("product_created", "Product created", requestID, map[string]interface{}{
		"product_id": product.ID,
		"name":       product.Name,
		"price":      product.Price.String(),
	})
	return product, nil
}

func (s *Service) ListProducts(ctx context.Context) ([]*models.Product, error) {
	return s.repo.ListProducts(ctx)
}

// DeleteProduct removes an unreferenced product
func (s *Service) DeleteProduct(ctx context.Context, id int64, requestID string) error {
	if err := s.repo.DeleteProduct(ctx, id); err != nil {
		return fmt.Errorf("failed to delete product %d: %w", id, err)
	}
	s.logger.Info("product_deleted", "Product deleted", requestID, map[string]interface{}{
		"product_id": id,
	})
	return nil
}

// CreateTable validates and stores a table
func (s *Service) CreateTable(ctx context.Context, req *CreateTableRequest, requestID string) (*models.Table, error) {
	if err := ValidateTableRequest(req); err != nil {
		return nil, err
	}
	table := &models.Table{Number: req.Number, Status: models.TableStatus(req.Status)}
	if err := s.repo.CreateTable(ctx, table); err != nil {
		return nil, fmt.Errorf("failed to create table: %w", err)
	}
	s.logger.Info("table_created", "Table created", requestID, map[string]interface{}{
		"table_id":     table.ID,
		"table_number": table.Number,
	})
	return table, nil
}

func (s *Service) ListTables(ctx context.Context) ([]*models.Table, error) {
	return s.repo.ListTables(ctx)
}

// PlaceOrder opens an order with its initial items
func (s *Service) PlaceOrder(ctx context.Context, req *CreateOrderRequest, requestID string) (*models.Order, error) {
	if err := ValidateOrderRequest(req); err != nil {
		return nil, err
	}
	order, events, err := s.engine.PlaceOrder(ctx, req.TableID, toInputs(req.Items))
	if err != nil {
		return nil, err
	}

	s.logger.Info("order_created", "Order created", requestID, map[string]interface{}{
		"order_id":    order.ID,
		"table_id":    order.TableID,
		"items":       len(order.Items),
		"total_price": order.TotalPrice.String(),
	})
	s.dispatch(ctx, events, requestID)
	return order, nil
}

// AddItem appends an item to an open order
func (s *Service) AddItem(ctx context.Context, orderID int64, req *OrderItemRequest, requestID string) (*models.OrderItem, error) {
	if err := ValidateItemRequest(req); err != nil {
		return nil, err
	}
	item, events, err := s.engine.AddItem(ctx, orderID, req.toInput())
	if err != nil {
		return nil, err
	}
	s.dispatch(ctx, events, requestID)
	return item, nil
}

// SetOrderStatus moves an order along its lifecycle
func (s *Service) SetOrderStatus(ctx context.Context, orderID int64, req *StatusRequest, requestID string) (*models.Order, error) {
	if err := ValidateStatusRequest(req); err != nil {
		return nil, err
	}
	status, err := models.ParseOrderStatus(trim(req.Status))
	if err != nil {
		return nil, err
	}
	order, events, err := s.engine.SetOrderStatus(ctx, orderID, status)
	if err != nil {
		return nil, err
	}
	s.dispatch(ctx, events, requestID)
	return order, nil
}

// SetItemStatus moves an order item along the kitchen lifecycle
func (s *Service) SetItemStatus(ctx context.Context, orderID, itemID int64, req *StatusRequest, requestID string) (*models.OrderItem, error) {
	if err := ValidateStatusRequest(req); err != nil {
		return nil, err
	}
	status, err := models.ParseItemStatus(trim(req.Status))
	if err != nil {
		return nil, err
	}
	item, events, err := s.engine.SetItemStatus(ctx, orderID, itemID, status)
	if err != nil {
		return nil, err
	}
	s.dispatch(ctx, events, requestID)
	return item, nil
}

// CloseTable completes every open order of a table and frees it
func (s *Service) CloseTable(ctx context.Context, tableID int64, requestID string) error {
	events, err := s.engine.CloseTable(ctx, tableID)
	if err != nil {
		return err
	}
	s.logger.Info("table_closed", "Table closed", requestID, map[string]interface{}{
		"table_id": tableID,
		"events":   len(events),
	})
	s.dispatch(ctx, events, requestID)
	return nil
}

func (s *Service) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	return s.repo.GetOrder(ctx, id)
}

// ActiveOrders returns every non-terminal order, newest first
func (s *Service) ActiveOrders(ctx context.Context) ([]*models.Order, error) {
	return s.repo.ListOrders(ctx, models.OrderFilter{OpenOnly: true})
}

// ReadyOrders returns orders waiting to be served, oldest first
func (s *Service) ReadyOrders(ctx context.Context) ([]*models.Order, error) {
	return s.repo.ListOrders(ctx, models.OrderFilter{
		Statuses:    []models.OrderStatus{models.StatusReady},
		OldestFirst: true,
	})
}

// TableOrders returns the open orders of a table
func (s *Service) TableOrders(ctx context.Context, tableID int64) ([]*models.Order, error) {
	if _, err := s.repo.GetTable(ctx, tableID); err != nil {
		return nil, err
	}
	return s.repo.ListOrders(ctx, models.OrderFilter{TableID: tableID, OpenOnly: true})
}

// HealthCheck runs every registered dependency check
func (s *Service) HealthCheck(ctx context.Context) map[string]string {
	report := make(map[string]string, len(s.checks))
	for _, c := range s.checks {
		if err := c.check(ctx); err != nil {
			s.logger.Warn("health_check_failed", fmt.Sprintf("%s is unhealthy", c.name), "", map[string]interface{}{
				"error": err.Error(),
			})
			report[c.name] = "unhealthy"
			continue
		}
		report[c.name] = "ok"
	}
	return report
}

// dispatch hands committed events to the router and the event bus.
// Nothing here can fail the request.
func (s *Service) dispatch(ctx context.Context, events []lifecycle.Event, requestID string) {
	// the request may be gone once the response is written
	ctx = context.WithoutCancel(ctx)

	for _, ev := range events {
		d := s.notifier.Notify(ev)
		if s.recorder != nil {
			s.recorder.ObserveEvent(string(ev.Type), ev.ToStatus)
		}

		s.logger.Debug("event_dispatched", fmt.Sprintf("Dispatched %s", ev.Type), requestID, map[string]interface{}{
			"entity":    ev.Entity,
			"entity_id": ev.ID,
			"order_id":  ev.OrderID,
			"status":    ev.ToStatus,
			"sent":      d.Sent,
			"skipped":   d.Skipped,
			"failed":    d.Failed,
		})

		if s.publisher == nil {
			continue
		}
		if err := s.publisher.PublishEvent(ctx, ev); err != nil {
			s.logger.Error("publish_failed", "Failed to publish event", requestID, err, map[string]interface{}{
				"type":      ev.Type,
				"entity_id": ev.ID,
			})
		}
	}
}
