package lifecycle

import "time"

// EventType identifies what happened
type EventType string

const (
	EventOrderCreated EventType = "order_created"
	EventOrderStatus  EventType = "order_status_changed"
	EventItemAdded    EventType = "item_added"
	EventItemStatus   EventType = "item_status_changed"
	EventTableStatus  EventType = "table_status_changed"
)

// Entity names the kind of record an event is about
type Entity string

const (
	EntityOrder     Entity = "order"
	EntityOrderItem Entity = "order_item"
	EntityTable     Entity = "table"
)

// Event describes a committed state change. ID is the id of the Entity;
// OrderID and TableID give the routing context.
type Event struct {
	Type       EventType `json:"type"`
	Entity     Entity    `json:"entity"`
	ID         int64     `json:"id"`
	OrderID    int64     `json:"order_id,omitempty"`
	TableID    int64     `json:"table_id,omitempty"`
	FromStatus string    `json:"from_status,omitempty"`
	ToStatus   string    `json:"to_status"`
	Timestamp  time.Time `json:"timestamp"`
}
