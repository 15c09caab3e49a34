// Package lifecycle implements the order and order item state machines.
//
// The Engine validates transitions, applies their side effects (timestamps,
// totals, table availability) inside a Store transaction and returns the
// resulting events. Dispatching those events is left to the caller.
package lifecycle

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"restaurant-orders/internal/models"
	"restaurant-orders/internal/pricing"
)

// ItemInput describes an item to add to an order
type ItemInput struct {
	ProductID     int64
	Quantity      int
	Notes         string
	Modifications []ModificationInput
}

// ModificationInput describes a modification of an item.
// A nil PriceChange falls back to the referenced product item's additional price.
type ModificationInput struct {
	ProductItemID *int64
	Type          string
	PriceChange   *decimal.Decimal
}

// DefaultModificationType is used when a modification has no type tag
const DefaultModificationType = "add"

// Engine applies lifecycle operations against a Store
type Engine struct {
	store Store
	locks *keyedMutex
	now   func() time.Time
}

// Option configures an Engine
type Option func(*Engine)

// WithClock overrides the time source used for timestamps
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// NewEngine creates a new lifecycle engine
func NewEngine(store Store, opts ...Option) *Engine {
	e := &Engine{
		store: store,
		locks: newKeyedMutex(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) timestamp() time.Time {
	return e.now().UTC()
}

// CreateOrder opens an empty pending order on a table
func (e *Engine) CreateOrder(ctx context.Context, tableID int64) (*models.Order, []Event, error) {
	return e.PlaceOrder(ctx, tableID, nil)
}

// PlaceOrder opens an order on a table together with its initial items. Either
// the order and all items are stored or nothing is.
func (e *Engine) PlaceOrder(ctx context.Context, tableID int64, items []ItemInput) (*models.Order, []Event, error) {
	for i, in := range items {
		if err := validateItemInput(in); err != nil {
			return nil, nil, fmt.Errorf("items[%d]: %w", i, err)
		}
	}

	unlock := e.locks.Lock(tableKey(tableID))
	defer unlock()

	var (
		result *models.Order
		events []Event
	)
	err := e.store.InTx(ctx, func(ctx context.Context, tx Store) error {
		now := e.timestamp()

		table, err := tx.GetTable(ctx, tableID)
		if err != nil {
			return fmt.Errorf("get table %d: %w", tableID, err)
		}

		order := &models.Order{
			TableID:    table.ID,
			Status:     models.StatusPending,
			Items:      []models.OrderItem{},
			TotalPrice: decimal.Zero,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		for i, in := range items {
			if _, err := e.appendItem(ctx, tx, order, in, now); err != nil {
				return fmt.Errorf("items[%d]: %w", i, err)
			}
		}
		if err := tx.SaveOrder(ctx, order); err != nil {
			return fmt.Errorf("save order: %w", err)
		}

		evs := []Event{{
			Type:      EventOrderCreated,
			Entity:    EntityOrder,
			ID:        order.ID,
			OrderID:   order.ID,
			TableID:   table.ID,
			ToStatus:  string(models.StatusPending),
			Timestamp: now,
		}}

		if table.Status == models.TableAvailable {
			ev, err := e.setTableStatus(ctx, tx, table, models.TableOccupied, now)
			if err != nil {
				return err
			}
			evs = append(evs, ev)
		}

		result, events = order, evs
		return nil
	})
	if err != nil {
		return nil, nil, classify(err)
	}
	return result, events, nil
}

// AddItem appends an item to an open order and recomputes its total
func (e *Engine) AddItem(ctx context.Context, orderID int64, in ItemInput) (*models.OrderItem, []Event, error) {
	if err := validateItemInput(in); err != nil {
		return nil, nil, err
	}

	unlock := e.locks.Lock(orderKey(orderID))
	defer unlock()

	var (
		result *models.OrderItem
		events []Event
	)
	err := e.store.InTx(ctx, func(ctx context.Context, tx Store) error {
		now := e.timestamp()

		order, err := tx.GetOrder(ctx, orderID)
		if err != nil {
			return fmt.Errorf("get order %d: %w", orderID, err)
		}

		idx, err := e.appendItem(ctx, tx, order, in, now)
		if err != nil {
			return err
		}
		if err := tx.SaveOrder(ctx, order); err != nil {
			return fmt.Errorf("save order %d: %w", orderID, err)
		}

		item := order.Items[idx]
		item.Modifications = append([]models.Modification(nil), item.Modifications...)
		result = &item
		events = []Event{{
			Type:      EventItemAdded,
			Entity:    EntityOrderItem,
			ID:        item.ID,
			OrderID:   order.ID,
			TableID:   order.TableID,
			ToStatus:  string(item.Status),
			Timestamp: now,
		}}
		return nil
	})
	if err != nil {
		return nil, nil, classify(err)
	}
	return result, events, nil
}

// appendItem adds the item to order in memory and returns its index
func (e *Engine) appendItem(ctx context.Context, tx Store, order *models.Order, in ItemInput, now time.Time) (int, error) {
	if order.Status != models.StatusPending && order.Status != models.StatusPreparing {
		return 0, fmt.Errorf("order %d is %s, items can no longer be added: %w", order.ID, order.Status, models.ErrInvalidState)
	}

	product, err := tx.GetProduct(ctx, in.ProductID)
	if err != nil {
		return 0, fmt.Errorf("get product %d: %w", in.ProductID, err)
	}

	mods, err := buildModifications(product, in.Modifications)
	if err != nil {
		return 0, err
	}

	order.Items = append(order.Items, models.OrderItem{
		ProductID:     product.ID,
		Quantity:      in.Quantity,
		UnitPrice:     product.Price,
		Notes:         strings.TrimSpace(in.Notes),
		Modifications: mods,
		Status:        models.ItemPending,
		CreatedAt:     now,
	})
	order.TotalPrice = pricing.ComputeTotal(order.Items)
	order.UpdatedAt = now
	return len(order.Items) - 1, nil
}

// SetOrderStatus moves an order along its state machine. Setting the current
// non-terminal status again is a no-op and yields no events.
func (e *Engine) SetOrderStatus(ctx context.Context, orderID int64, status models.OrderStatus) (*models.Order, []Event, error) {
	if _, err := models.ParseOrderStatus(string(status)); err != nil {
		return nil, nil, err
	}

	// Entering a terminal state may free the table, so take the table key first.
	if status.IsTerminal() {
		current, err := e.store.GetOrder(ctx, orderID)
		if err != nil {
			return nil, nil, classify(fmt.Errorf("get order %d: %w", orderID, err))
		}
		unlockTable := e.locks.Lock(tableKey(current.TableID))
		defer unlockTable()
	}

	unlock := e.locks.Lock(orderKey(orderID))
	defer unlock()

	var (
		result *models.Order
		events []Event
	)
	err := e.store.InTx(ctx, func(ctx context.Context, tx Store) error {
		now := e.timestamp()

		order, err := tx.GetOrder(ctx, orderID)
		if err != nil {
			return fmt.Errorf("get order %d: %w", orderID, err)
		}

		noop, err := CheckOrderTransition(order.Status, status)
		if err != nil {
			return err
		}
		if noop {
			result, events = order, nil
			return nil
		}

		from := order.Status
		applyOrderStatus(order, status, now)
		if err := tx.SaveOrder(ctx, order); err != nil {
			return fmt.Errorf("save order %d: %w", orderID, err)
		}

		evs := []Event{orderStatusEvent(order, from, now)}
		if status.IsTerminal() {
			tableEvents, err := e.releaseTable(ctx, tx, order.TableID, now)
			if err != nil {
				return err
			}
			evs = append(evs, tableEvents...)
		}

		result, events = order, evs
		return nil
	})
	if err != nil {
		return nil, nil, classify(err)
	}
	return result, events, nil
}

// SetItemStatus moves one item along pending → preparing → ready → delivered.
// The parent order status is left untouched.
func (e *Engine) SetItemStatus(ctx context.Context, orderID, itemID int64, status models.ItemStatus) (*models.OrderItem, []Event, error) {
	if _, err := models.ParseItemStatus(string(status)); err != nil {
		return nil, nil, err
	}

	unlock := e.locks.Lock(orderKey(orderID))
	defer unlock()

	var (
		result *models.OrderItem
		events []Event
	)
	err := e.store.InTx(ctx, func(ctx context.Context, tx Store) error {
		now := e.timestamp()

		order, err := tx.GetOrder(ctx, orderID)
		if err != nil {
			return fmt.Errorf("get order %d: %w", orderID, err)
		}
		if order.Status.IsTerminal() {
			return fmt.Errorf("order %d is %s: %w", orderID, order.Status, models.ErrInvalidState)
		}

		item, ok := order.FindItem(itemID)
		if !ok {
			return fmt.Errorf("item %d of order %d: %w", itemID, orderID, models.ErrNotFound)
		}

		noop, err := CheckItemTransition(item.Status, status)
		if err != nil {
			return err
		}
		if noop {
			cp := *item
			result, events = &cp, nil
			return nil
		}

		from := item.Status
		item.Status = status
		order.UpdatedAt = now
		order.TotalPrice = pricing.ComputeTotal(order.Items)
		if err := tx.SaveOrder(ctx, order); err != nil {
			return fmt.Errorf("save order %d: %w", orderID, err)
		}

		cp := *item
		result = &cp
		events = []Event{{
			Type:       EventItemStatus,
			Entity:     EntityOrderItem,
			ID:         item.ID,
			OrderID:    order.ID,
			TableID:    order.TableID,
			FromStatus: string(from),
			ToStatus:   string(status),
			Timestamp:  now,
		}}
		return nil
	})
	if err != nil {
		return nil, nil, classify(err)
	}
	return result, events, nil
}

// CloseTable completes every open order of a table in one step and frees the table.
// This is the only path that may jump an order straight to completed.
func (e *Engine) CloseTable(ctx context.Context, tableID int64) ([]Event, error) {
	unlockTable := e.locks.Lock(tableKey(tableID))
	defer unlockTable()

	open, err := e.store.ListOrders(ctx, models.OrderFilter{TableID: tableID, OpenOnly: true})
	if err != nil {
		return nil, classify(fmt.Errorf("list orders of table %d: %w", tableID, err))
	}
	ids := make([]int64, 0, len(open))
	for _, o := range open {
		ids = append(ids, o.ID)
	}
	unlockOrders := e.locks.LockOrders(ids)
	defer unlockOrders()

	var events []Event
	err = e.store.InTx(ctx, func(ctx context.Context, tx Store) error {
		now := e.timestamp()

		table, err := tx.GetTable(ctx, tableID)
		if err != nil {
			return fmt.Errorf("get table %d: %w", tableID, err)
		}

		orders, err := tx.ListOrders(ctx, models.OrderFilter{TableID: tableID, OpenOnly: true, OldestFirst: true})
		if err != nil {
			return fmt.Errorf("list orders of table %d: %w", tableID, err)
		}

		evs := make([]Event, 0, len(orders)+1)
		for _, order := range orders {
			from := order.Status
			applyOrderStatus(order, models.StatusCompleted, now)
			if err := tx.SaveOrder(ctx, order); err != nil {
				return fmt.Errorf("save order %d: %w", order.ID, err)
			}
			evs = append(evs, orderStatusEvent(order, from, now))
		}

		if table.Status != models.TableAvailable {
			ev, err := e.setTableStatus(ctx, tx, table, models.TableAvailable, now)
			if err != nil {
				return err
			}
			evs = append(evs, ev)
		}

		events = evs
		return nil
	})
	if err != nil {
		return nil, classify(err)
	}
	return events, nil
}

// releaseTable frees an occupied table once it has no open orders left
func (e *Engine) releaseTable(ctx context.Context, tx Store, tableID int64, now time.Time) ([]Event, error) {
	table, err := tx.GetTable(ctx, tableID)
	if err != nil {
		return nil, fmt.Errorf("get table %d: %w", tableID, err)
	}
	if table.Status != models.TableOccupied {
		return nil, nil
	}

	open, err := tx.ListOrders(ctx, models.OrderFilter{TableID: tableID, OpenOnly: true})
	if err != nil {
		return nil, fmt.Errorf("list orders of table %d: %w", tableID, err)
	}
	if len(open) > 0 {
		return nil, nil
	}

	ev, err := e.setTableStatus(ctx, tx, table, models.TableAvailable, now)
	if err != nil {
		return nil, err
	}
	return []Event{ev}, nil
}

func (e *Engine) setTableStatus(ctx context.Context, tx Store, table *models.Table, status models.TableStatus, now time.Time) (Event, error) {
	if err := tx.SetTableStatus(ctx, table.ID, status); err != nil {
		return Event{}, fmt.Errorf("set table %d status: %w", table.ID, err)
	}
	return Event{
		Type:       EventTableStatus,
		Entity:     EntityTable,
		ID:         table.ID,
		TableID:    table.ID,
		FromStatus: string(table.Status),
		ToStatus:   string(status),
		Timestamp:  now,
	}, nil
}

// applyOrderStatus sets the status and its derived fields. Timestamps are only stamped once.
func applyOrderStatus(order *models.Order, status models.OrderStatus, now time.Time) {
	order.Status = status
	order.UpdatedAt = now
	switch status {
	case models.StatusReady:
		if order.ReadyAt == nil {
			t := now
			order.ReadyAt = &t
		}
	case models.StatusCompleted:
		if order.CompletedAt == nil {
			t := now
			order.CompletedAt = &t
		}
	}
	order.TotalPrice = pricing.ComputeTotal(order.Items)
}

func orderStatusEvent(order *models.Order, from models.OrderStatus, now time.Time) Event {
	return Event{
		Type:       EventOrderStatus,
		Entity:     EntityOrder,
		ID:         order.ID,
		OrderID:    order.ID,
		TableID:    order.TableID,
		FromStatus: string(from),
		ToStatus:   string(order.Status),
		Timestamp:  now,
	}
}

func validateItemInput(in ItemInput) error {
	if in.Quantity < 1 {
		return fmt.Errorf("quantity must be at least 1, got %d: %w", in.Quantity, models.ErrInvalidArgument)
	}
	return nil
}

func buildModifications(product *models.Product, inputs []ModificationInput) ([]models.Modification, error) {
	mods := make([]models.Modification, 0, len(inputs))
	for i, in := range inputs {
		mod := models.Modification{
			Type:        strings.TrimSpace(in.Type),
			PriceChange: decimal.Zero,
		}
		if mod.Type == "" {
			mod.Type = DefaultModificationType
		}

		if in.ProductItemID != nil {
			pi, ok := product.FindItem(*in.ProductItemID)
			if !ok {
				return nil, fmt.Errorf("modifications[%d]: product %d has no item %d: %w",
					i, product.ID, *in.ProductItemID, models.ErrInvalidArgument)
			}
			id := pi.ID
			mod.ProductItemID = &id
			mod.PriceChange = pi.AdditionalPrice
		}
		if in.PriceChange != nil {
			mod.PriceChange = *in.PriceChange
		}
		mods = append(mods, mod)
	}
	return mods, nil
}

// classify makes sure every error leaving the engine carries a known kind
func classify(err error) error {
	if err == nil || models.IsClassified(err) {
		return err
	}
	return fmt.Errorf("%w: %w", models.ErrPersistence, err)
}
