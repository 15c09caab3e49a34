package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"restaurant-orders/internal/lifecycle"
	"restaurant-orders/internal/models"
)

func TestStore_InTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.SeedTables(ctx, 1))

	order := &models.Order{TableID: 1, Status: models.StatusPending, CreatedAt: time.Now()}
	require.NoError(t, s.SaveOrder(ctx, order))

	boom := errors.New("boom")
	err := s.InTx(ctx, func(ctx context.Context, tx lifecycle.Store) error {
		o, err := tx.GetOrder(ctx, order.ID)
		require.NoError(t, err)
		o.Status = models.StatusPreparing
		require.NoError(t, tx.SaveOrder(ctx, o))
		require.NoError(t, tx.SetTableStatus(ctx, 1, models.TableOccupied))

		staged, err := tx.GetOrder(ctx, order.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusPreparing, staged.Status)
		return boom
	})
	require.ErrorIs(t, err, boom)

	stored, err := s.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, stored.Status)

	table, err := s.GetTable(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, models.TableAvailable, table.Status)
}

func TestStore_InTxCommits(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.SeedTables(ctx, 1))

	var created *models.Order
	err := s.InTx(ctx, func(ctx context.Context, tx lifecycle.Store) error {
		created = &models.Order{TableID: 1, Status: models.StatusPending, Items: []models.OrderItem{{Quantity: 1}}}
		if err := tx.SaveOrder(ctx, created); err != nil {
			return err
		}
		open, err := tx.ListOrders(ctx, models.OrderFilter{TableID: 1, OpenOnly: true})
		require.NoError(t, err)
		assert.Len(t, open, 1)
		return tx.SetTableStatus(ctx, 1, models.TableOccupied)
	})
	require.NoError(t, err)
	assert.NotZero(t, created.ID)
	assert.NotZero(t, created.Items[0].ID)

	stored, err := s.GetOrder(ctx, created.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Items, 1)

	table, err := s.GetTable(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, models.TableOccupied, table.Status)
}

func TestStore_InTxRunsConcurrently(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.SeedTables(ctx, 2))

	first := &models.Order{TableID: 1, Status: models.StatusPending}
	second := &models.Order{TableID: 2, Status: models.StatusPending}
	require.NoError(t, s.SaveOrder(ctx, first))
	require.NoError(t, s.SaveOrder(ctx, second))

	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- s.InTx(ctx, func(ctx context.Context, tx lifecycle.Store) error {
			o, err := tx.GetOrder(ctx, first.ID)
			if err != nil {
				return err
			}
			close(entered)
			<-release
			o.Status = models.StatusPreparing
			return tx.SaveOrder(ctx, o)
		})
	}()
	<-entered

	// a transaction on another order commits while the first one is open
	err := s.InTx(ctx, func(ctx context.Context, tx lifecycle.Store) error {
		o, err := tx.GetOrder(ctx, second.ID)
		if err != nil {
			return err
		}
		o.Status = models.StatusPreparing
		return tx.SaveOrder(ctx, o)
	})
	require.NoError(t, err)

	close(release)
	require.NoError(t, <-done)

	for _, id := range []int64{first.ID, second.ID} {
		stored, err := s.GetOrder(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.StatusPreparing, stored.Status)
	}
}

func TestStore_InTxDetectsConflicts(t *testing.T) {
	tests := []struct {
		name  string
		write func(ctx context.Context, s *Store, orderID int64) error
	}{
		{
			name: "order saved outside the transaction",
			write: func(ctx context.Context, s *Store, orderID int64) error {
				o, err := s.GetOrder(ctx, orderID)
				if err != nil {
					return err
				}
				o.Status = models.StatusCancelled
				return s.SaveOrder(ctx, o)
			},
		},
		{
			name: "table changed by another transaction",
			write: func(ctx context.Context, s *Store, _ int64) error {
				return s.InTx(ctx, func(ctx context.Context, tx lifecycle.Store) error {
					return tx.SetTableStatus(ctx, 1, models.TableReserved)
				})
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			s := New()
			require.NoError(t, s.SeedTables(ctx, 1))
			order := &models.Order{TableID: 1, Status: models.StatusPending}
			require.NoError(t, s.SaveOrder(ctx, order))

			err := s.InTx(ctx, func(ctx context.Context, tx lifecycle.Store) error {
				o, err := tx.GetOrder(ctx, order.ID)
				if err != nil {
					return err
				}
				if _, err := tx.GetTable(ctx, 1); err != nil {
					return err
				}
				// interleaved write commits first
				if err := tt.write(ctx, s, order.ID); err != nil {
					return err
				}
				o.Status = models.StatusPreparing
				if err := tx.SaveOrder(ctx, o); err != nil {
					return err
				}
				return tx.SetTableStatus(ctx, 1, models.TableOccupied)
			})
			require.ErrorIs(t, err, models.ErrPersistence)

			stored, err := s.GetOrder(ctx, order.ID)
			require.NoError(t, err)
			assert.NotEqual(t, models.StatusPreparing, stored.Status)
			table, err := s.GetTable(ctx, 1)
			require.NoError(t, err)
			assert.NotEqual(t, models.TableOccupied, table.Status)
		})
	}
}

func TestStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := New()

	order := &models.Order{Status: models.StatusPending, Items: []models.OrderItem{{Quantity: 1}}}
	require.NoError(t, s.SaveOrder(ctx, order))

	got, err := s.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	got.Items[0].Quantity = 99

	again, err := s.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, again.Items[0].Quantity)
}

func TestStore_Catalog(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.SeedTables(ctx, 2))

	err := s.CreateTable(ctx, &models.Table{Number: 2})
	assert.ErrorIs(t, err, models.ErrInvalidArgument)

	tables, err := s.ListTables(ctx)
	require.NoError(t, err)
	require.Len(t, tables, 2)
	assert.Equal(t, 1, tables[0].Number)

	pizza := &models.Product{
		Name:  "Pizza",
		Price: decimal.RequireFromString("12.00"),
		Items: []models.ProductItem{{Name: "olives"}, {Name: "basil"}},
	}
	require.NoError(t, s.CreateProduct(ctx, pizza))
	assert.NotEqual(t, pizza.Items[0].ID, pizza.Items[1].ID)

	water := &models.Product{Name: "Water", Price: decimal.RequireFromString("1.00")}
	require.NoError(t, s.CreateProduct(ctx, water))

	order := &models.Order{TableID: 1, Status: models.StatusPending, Items: []models.OrderItem{{ProductID: pizza.ID, Quantity: 1}}}
	require.NoError(t, s.SaveOrder(ctx, order))

	assert.ErrorIs(t, s.DeleteProduct(ctx, pizza.ID), models.ErrInvalidState)
	assert.NoError(t, s.DeleteProduct(ctx, water.ID))
	assert.ErrorIs(t, s.DeleteProduct(ctx, water.ID), models.ErrNotFound)

	products, err := s.ListProducts(ctx)
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, "Pizza", products[0].Name)
}

func TestStore_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New().GetOrder(ctx, 1)
	assert.ErrorIs(t, err, models.ErrPersistence)
	assert.ErrorIs(t, err, context.Canceled)
}
