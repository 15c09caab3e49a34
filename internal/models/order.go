package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus represents the status of an order
type OrderStatus string

const (
	StatusPending   OrderStatus = "pending"
	StatusPreparing OrderStatus = "preparing"
	StatusReady     OrderStatus = "ready"
	StatusCompleted OrderStatus = "completed"
	StatusCancelled OrderStatus = "cancelled"
)

// IsTerminal reports whether no further transition is allowed
func (s OrderStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// ParseOrderStatus validates an order status string
func ParseOrderStatus(s string) (OrderStatus, error) {
	switch OrderStatus(s) {
	case StatusPending, StatusPreparing, StatusReady, StatusCompleted, StatusCancelled:
		return OrderStatus(s), nil
	default:
		return "", fmt.Errorf("order status %q: %w", s, ErrInvalidArgument)
	}
}

// ItemStatus represents the kitchen status of a single order item
type ItemStatus string

const (
	ItemPending   ItemStatus = "pending"
	ItemPreparing ItemStatus = "preparing"
	ItemReady     ItemStatus = "ready"
	ItemDelivered ItemStatus = "delivered"
)

// ParseItemStatus validates an item status string
func ParseItemStatus(s string) (ItemStatus, error) {
	switch ItemStatus(s) {
	case ItemPending, ItemPreparing, ItemReady, ItemDelivered:
		return ItemStatus(s), nil
	default:
		return "", fmt.Errorf("item status %q: %w", s, ErrInvalidArgument)
	}
}

// Modification is a change applied to an order item, priced by PriceChange
type Modification struct {
	ProductItemID *int64          `json:"product_item_id,omitempty"`
	Type          string          `json:"modification_type"`
	PriceChange   decimal.Decimal `json:"price_change"`
}

// OrderItem represents a line of an order.
// UnitPrice is a snapshot of the product price at the time the item was added.
type OrderItem struct {
	ID            int64           `json:"id"`
	ProductID     int64           `json:"product_id"`
	Quantity      int             `json:"quantity"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	Notes         string          `json:"notes,omitempty"`
	Modifications []Modification  `json:"modifications"`
	Status        ItemStatus      `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Order is the aggregate root: it owns its items and their modifications
type Order struct {
	ID          int64           `json:"id"`
	TableID     int64           `json:"table_id"`
	Status      OrderStatus     `json:"status"`
	Items       []OrderItem     `json:"items"`
	TotalPrice  decimal.Decimal `json:"total_price"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	ReadyAt     *time.Time      `json:"ready_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// FindItem returns a pointer into o.Items for the given item id
func (o *Order) FindItem(id int64) (*OrderItem, bool) {
	for i := range o.Items {
		if o.Items[i].ID == id {
			return &o.Items[i], true
		}
	}
	return nil, false
}

// Clone returns a deep copy of the aggregate
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	cp := *o
	cp.Items = make([]OrderItem, len(o.Items))
	for i, it := range o.Items {
		it.Modifications = cloneModifications(it.Modifications)
		cp.Items[i] = it
	}
	if o.ReadyAt != nil {
		t := *o.ReadyAt
		cp.ReadyAt = &t
	}
	if o.CompletedAt != nil {
		t := *o.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

func cloneModifications(mods []Modification) []Modification {
	out := make([]Modification, len(mods))
	for i, m := range mods {
		if m.ProductItemID != nil {
			id := *m.ProductItemID
			m.ProductItemID = &id
		}
		out[i] = m
	}
	return out
}

// OrderFilter narrows ListOrders. Zero values mean "no constraint".
type OrderFilter struct {
	TableID  int64
	Statuses []OrderStatus
	// OpenOnly keeps only non-terminal orders
	OpenOnly bool
	// OldestFirst sorts by creation time ascending; default is newest first
	OldestFirst bool
}

// Matches reports whether o satisfies the filter
func (f OrderFilter) Matches(o *Order) bool {
	if f.TableID != 0 && o.TableID != f.TableID {
		return false
	}
	if f.OpenOnly && o.Status.IsTerminal() {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if o.Status == s {
			return true
		}
	}
	return false
}
