package notify

import (
	"time"

	"restaurant-orders/internal/lifecycle"
	"restaurant-orders/internal/models"
)

// Message types sent to clients
const (
	TypeNewOrder       = "new_order"
	TypeOrderReady     = "order_ready"
	TypeOrderDelivered = "order_delivered"
	TypeOrderUpdated   = "order_updated"
	TypeStatusUpdate   = "status_update"
	TypeTableStatus    = "table_status"
)

// Message is the JSON payload pushed to clients
type Message struct {
	Type      string `json:"type"`
	OrderID   int64  `json:"orderId,omitempty"`
	Status    string `json:"status,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	ItemID    int64  `json:"itemId,omitempty"`
	TableID   int64  `json:"tableId,omitempty"`
}

// statusAudience is used for status changes without a dedicated message type
var statusAudience = map[string][]Role{
	string(models.StatusReady):     {RoleWaiter, RolePublic, RoleOwner},
	string(models.ItemDelivered):   {RoleKitchen, RoleOwner},
	string(models.StatusCompleted): {RoleOwner},
}

// Route resolves the audience and message type of an event.
// An empty role list means the event is not broadcast.
func Route(ev lifecycle.Event) ([]Role, string) {
	switch ev.Type {
	case lifecycle.EventOrderCreated:
		return []Role{RoleKitchen, RoleOwner}, TypeNewOrder
	case lifecycle.EventItemAdded:
		return []Role{RoleKitchen, RoleOwner}, TypeOrderUpdated
	case lifecycle.EventTableStatus:
		return []Role{RoleOwner, RoleWaiter}, TypeTableStatus
	case lifecycle.EventOrderStatus:
		if ev.ToStatus == string(models.StatusReady) {
			return []Role{RoleWaiter, RolePublic, RoleOwner}, TypeOrderReady
		}
	case lifecycle.EventItemStatus:
		if ev.ToStatus == string(models.ItemDelivered) {
			return []Role{RoleKitchen, RoleOwner}, TypeOrderDelivered
		}
	default:
		return nil, ""
	}
	return statusAudience[ev.ToStatus], TypeStatusUpdate
}

// RolesFor returns the roles that should receive ev
func RolesFor(ev lifecycle.Event) []Role {
	roles, _ := Route(ev)
	return roles
}

// MessageFor builds the client payload of ev
func MessageFor(ev lifecycle.Event) Message {
	_, typ := Route(ev)
	msg := Message{
		Type:    typ,
		OrderID: ev.OrderID,
		Status:  ev.ToStatus,
		TableID: ev.TableID,
	}
	if !ev.Timestamp.IsZero() {
		msg.Timestamp = ev.Timestamp.UTC().Format(time.RFC3339)
	}
	if ev.Entity == lifecycle.EntityOrderItem {
		msg.ItemID = ev.ID
	}
	return msg
}
