package lifecycle

import (
	"fmt"

	"restaurant-orders/internal/models"
)

var nextOrderStatus = map[models.OrderStatus]models.OrderStatus{
	models.StatusPending:   models.StatusPreparing,
	models.StatusPreparing: models.StatusReady,
	models.StatusReady:     models.StatusCompleted,
}

var nextItemStatus = map[models.ItemStatus]models.ItemStatus{
	models.ItemPending:   models.ItemPreparing,
	models.ItemPreparing: models.ItemReady,
	models.ItemReady:     models.ItemDelivered,
}

// CheckOrderTransition validates a single-order status change.
// It returns noop=true when the order already has the requested non-terminal status.
func CheckOrderTransition(from, to models.OrderStatus) (noop bool, err error) {
	if from.IsTerminal() {
		return false, fmt.Errorf("order is %s, cannot move to %s: %w", from, to, models.ErrInvalidTransition)
	}
	if from == to {
		return true, nil
	}
	if to == models.StatusCancelled || nextOrderStatus[from] == to {
		return false, nil
	}
	return false, fmt.Errorf("cannot move order from %s to %s: %w", from, to, models.ErrInvalidTransition)
}

// CheckItemTransition validates an item status change on the linear item path
func CheckItemTransition(from, to models.ItemStatus) (noop bool, err error) {
	if from == to {
		return true, nil
	}
	if nextItemStatus[from] == to {
		return false, nil
	}
	return false, fmt.Errorf("cannot move item from %s to %s: %w", from, to, models.ErrInvalidTransition)
}
