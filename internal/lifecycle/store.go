package lifecycle

import (
	"context"

	"restaurant-orders/internal/models"
)

// Store is the persistence port used by the Engine.
//
// Implementations must return errors wrapping models.ErrNotFound for missing
// entities and models.ErrPersistence for failures of the underlying store.
// SaveOrder is an upsert of the whole aggregate and assigns ids to the order
// and to any item whose ID is zero.
type Store interface {
	GetTable(ctx context.Context, id int64) (*models.Table, error)
	SetTableStatus(ctx context.Context, id int64, status models.TableStatus) error

	GetOrder(ctx context.Context, id int64) (*models.Order, error)
	SaveOrder(ctx context.Context, order *models.Order) error
	ListOrders(ctx context.Context, filter models.OrderFilter) ([]*models.Order, error)

	GetProduct(ctx context.Context, id int64) (*models.Product, error)

	// InTx runs fn atomically. The Store passed to fn, together with the
	// context passed to fn, must be used for every call inside the transaction.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
}
