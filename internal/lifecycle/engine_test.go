package lifecycle_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"restaurant-orders/internal/lifecycle"
	"restaurant-orders/internal/memstore"
	"restaurant-orders/internal/models"
	"restaurant-orders/internal/pricing"
)

type fixture struct {
	store   *memstore.Store
	engine  *lifecycle.Engine
	burger  *models.Product
	fries   *models.Product
	cheese  int64
	clock   *fakeClock
	tableID int64
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	store := memstore.New()
	require.NoError(t, store.SeedTables(ctx, 3))

	burger := &models.Product{
		Name:  "Burger",
		Price: dec("10.00"),
		Items: []models.ProductItem{{Name: "extra cheese", AdditionalPrice: dec("1.50")}},
	}
	require.NoError(t, store.CreateProduct(ctx, burger))

	fries := &models.Product{Name: "Fries", Price: dec("3.33")}
	require.NoError(t, store.CreateProduct(ctx, fries))

	tables, err := store.ListTables(ctx)
	require.NoError(t, err)

	clock := &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	return &fixture{
		store:   store,
		engine:  lifecycle.NewEngine(store, lifecycle.WithClock(clock.Now)),
		burger:  burger,
		fries:   fries,
		cheese:  burger.Items[0].ID,
		clock:   clock,
		tableID: tables[0].ID,
	}
}

func (f *fixture) tableStatus(t *testing.T, id int64) models.TableStatus {
	t.Helper()
	table, err := f.store.GetTable(context.Background(), id)
	require.NoError(t, err)
	return table.Status
}

func (f *fixture) advance(t *testing.T, orderID int64, statuses ...models.OrderStatus) {
	t.Helper()
	for _, s := range statuses {
		_, _, err := f.engine.SetOrderStatus(context.Background(), orderID, s)
		require.NoError(t, err)
	}
}

func TestEngine_PlaceOrderOccupiesTable(t *testing.T) {
	f := newFixture(t)

	order, events, err := f.engine.PlaceOrder(context.Background(), f.tableID, []lifecycle.ItemInput{
		{ProductID: f.burger.ID, Quantity: 2},
	})
	require.NoError(t, err)

	assert.NotZero(t, order.ID)
	assert.Equal(t, models.StatusPending, order.Status)
	assert.True(t, dec("20.00").Equal(order.TotalPrice))
	require.Len(t, order.Items, 1)
	assert.NotZero(t, order.Items[0].ID)
	assert.Equal(t, models.ItemPending, order.Items[0].Status)

	require.Len(t, events, 2)
	assert.Equal(t, lifecycle.EventOrderCreated, events[0].Type)
	assert.Equal(t, order.ID, events[0].OrderID)
	assert.Equal(t, lifecycle.EventTableStatus, events[1].Type)
	assert.Equal(t, string(models.TableOccupied), events[1].ToStatus)
	assert.Equal(t, models.TableOccupied, f.tableStatus(t, f.tableID))

	// a second order on an occupied table does not emit another table event
	_, events, err = f.engine.CreateOrder(context.Background(), f.tableID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, lifecycle.EventOrderCreated, events[0].Type)
}

func TestEngine_PlaceOrderValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	unknownItem := int64(9999)

	tests := []struct {
		name    string
		tableID int64
		items   []lifecycle.ItemInput
		wantErr error
	}{
		{
			name:    "unknown table",
			tableID: 4242,
			wantErr: models.ErrNotFound,
		},
		{
			name:    "zero quantity",
			tableID: f.tableID,
			items:   []lifecycle.ItemInput{{ProductID: f.burger.ID, Quantity: 0}},
			wantErr: models.ErrInvalidArgument,
		},
		{
			name:    "unknown product",
			tableID: f.tableID,
			items:   []lifecycle.ItemInput{{ProductID: 4242, Quantity: 1}},
			wantErr: models.ErrNotFound,
		},
		{
			name:    "modifier of another product",
			tableID: f.tableID,
			items: []lifecycle.ItemInput{{
				ProductID:     f.burger.ID,
				Quantity:      1,
				Modifications: []lifecycle.ModificationInput{{ProductItemID: &unknownItem}},
			}},
			wantErr: models.ErrInvalidArgument,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			order, events, err := f.engine.PlaceOrder(ctx, tt.tableID, tt.items)
			require.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, order)
			assert.Empty(t, events)
		})
	}

	orders, err := f.store.ListOrders(ctx, models.OrderFilter{})
	require.NoError(t, err)
	assert.Empty(t, orders)
	assert.Equal(t, models.TableAvailable, f.tableStatus(t, f.tableID))
}

func TestEngine_AddItemRecomputesTotal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	order, _, err := f.engine.PlaceOrder(ctx, f.tableID, []lifecycle.ItemInput{
		{ProductID: f.burger.ID, Quantity: 2},
	})
	require.NoError(t, err)

	item, events, err := f.engine.AddItem(ctx, order.ID, lifecycle.ItemInput{
		ProductID:     f.burger.ID,
		Quantity:      1,
		Notes:         "  no onions ",
		Modifications: []lifecycle.ModificationInput{{ProductItemID: &f.cheese}},
	})
	require.NoError(t, err)
	assert.Equal(t, "no onions", item.Notes)
	require.Len(t, item.Modifications, 1)
	assert.Equal(t, lifecycle.DefaultModificationType, item.Modifications[0].Type)
	assert.True(t, dec("1.50").Equal(item.Modifications[0].PriceChange))

	require.Len(t, events, 1)
	assert.Equal(t, lifecycle.EventItemAdded, events[0].Type)
	assert.Equal(t, item.ID, events[0].ID)

	stored, err := f.store.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.True(t, dec("31.50").Equal(stored.TotalPrice), "total %s", stored.TotalPrice)
}

func TestEngine_ExplicitPriceChangeOverridesModifier(t *testing.T) {
	f := newFixture(t)
	discount := dec("-0.50")

	order, _, err := f.engine.PlaceOrder(context.Background(), f.tableID, []lifecycle.ItemInput{{
		ProductID: f.burger.ID,
		Quantity:  1,
		Modifications: []lifecycle.ModificationInput{
			{ProductItemID: &f.cheese, Type: "add", PriceChange: &discount},
		},
	}})
	require.NoError(t, err)
	assert.True(t, dec("9.50").Equal(order.TotalPrice))
}

func TestEngine_AddItemToClosedOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	order, _, err := f.engine.PlaceOrder(ctx, f.tableID, []lifecycle.ItemInput{{ProductID: f.fries.ID, Quantity: 1}})
	require.NoError(t, err)

	for _, status := range []models.OrderStatus{models.StatusReady, models.StatusCompleted} {
		t.Run(string(status), func(t *testing.T) {
			o, _, err := f.engine.CreateOrder(ctx, f.tableID)
			require.NoError(t, err)
			if status == models.StatusReady {
				f.advance(t, o.ID, models.StatusPreparing, models.StatusReady)
			} else {
				f.advance(t, o.ID, models.StatusPreparing, models.StatusReady, models.StatusCompleted)
			}

			_, events, err := f.engine.AddItem(ctx, o.ID, lifecycle.ItemInput{ProductID: f.fries.ID, Quantity: 1})
			require.ErrorIs(t, err, models.ErrInvalidState)
			assert.Empty(t, events)

			stored, err := f.store.GetOrder(ctx, o.ID)
			require.NoError(t, err)
			assert.Empty(t, stored.Items)
			assert.True(t, stored.TotalPrice.IsZero())
		})
	}

	stored, err := f.store.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.True(t, dec("3.33").Equal(stored.TotalPrice))
}

func TestEngine_SetOrderStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	order, _, err := f.engine.CreateOrder(ctx, f.tableID)
	require.NoError(t, err)

	_, _, err = f.engine.SetOrderStatus(ctx, order.ID, models.StatusReady)
	require.ErrorIs(t, err, models.ErrInvalidTransition)

	_, _, err = f.engine.SetOrderStatus(ctx, order.ID, "served")
	require.ErrorIs(t, err, models.ErrInvalidArgument)

	updated, events, err := f.engine.SetOrderStatus(ctx, order.ID, models.StatusPreparing)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPreparing, updated.Status)
	require.Len(t, events, 1)
	assert.Equal(t, string(models.StatusPending), events[0].FromStatus)
	assert.Equal(t, string(models.StatusPreparing), events[0].ToStatus)

	updated, events, err = f.engine.SetOrderStatus(ctx, order.ID, models.StatusReady)
	require.NoError(t, err)
	require.NotNil(t, updated.ReadyAt)
	readyAt := *updated.ReadyAt
	assert.Len(t, events, 1)

	again, events, err := f.engine.SetOrderStatus(ctx, order.ID, models.StatusReady)
	require.NoError(t, err)
	assert.Empty(t, events)
	require.NotNil(t, again.ReadyAt)
	assert.True(t, readyAt.Equal(*again.ReadyAt))

	_, _, err = f.engine.SetOrderStatus(ctx, 4242, models.StatusPreparing)
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestEngine_TerminalOrdersAreFrozen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	order, _, err := f.engine.CreateOrder(ctx, f.tableID)
	require.NoError(t, err)
	f.advance(t, order.ID, models.StatusCancelled)

	for _, status := range []models.OrderStatus{
		models.StatusPending, models.StatusPreparing, models.StatusReady,
		models.StatusCompleted, models.StatusCancelled,
	} {
		_, events, err := f.engine.SetOrderStatus(ctx, order.ID, status)
		assert.ErrorIs(t, err, models.ErrInvalidTransition, status)
		assert.Empty(t, events)
	}

	stored, err := f.store.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, stored.Status)
	assert.Nil(t, stored.CompletedAt)
}

func TestEngine_LastTerminalOrderFreesTable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, _, err := f.engine.CreateOrder(ctx, f.tableID)
	require.NoError(t, err)
	second, _, err := f.engine.CreateOrder(ctx, f.tableID)
	require.NoError(t, err)

	_, events, err := f.engine.SetOrderStatus(ctx, first.ID, models.StatusCancelled)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, models.TableOccupied, f.tableStatus(t, f.tableID))

	f.advance(t, second.ID, models.StatusPreparing, models.StatusReady)
	completed, events, err := f.engine.SetOrderStatus(ctx, second.ID, models.StatusCompleted)
	require.NoError(t, err)
	require.NotNil(t, completed.CompletedAt)

	require.Len(t, events, 2)
	assert.Equal(t, lifecycle.EventOrderStatus, events[0].Type)
	assert.Equal(t, lifecycle.EventTableStatus, events[1].Type)
	assert.Equal(t, string(models.TableAvailable), events[1].ToStatus)
	assert.Equal(t, models.TableAvailable, f.tableStatus(t, f.tableID))
}

func TestEngine_CloseTable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pending, _, err := f.engine.PlaceOrder(ctx, f.tableID, []lifecycle.ItemInput{{ProductID: f.fries.ID, Quantity: 2}})
	require.NoError(t, err)
	ready, _, err := f.engine.CreateOrder(ctx, f.tableID)
	require.NoError(t, err)
	f.advance(t, ready.ID, models.StatusPreparing, models.StatusReady)
	cancelled, _, err := f.engine.CreateOrder(ctx, f.tableID)
	require.NoError(t, err)
	f.advance(t, cancelled.ID, models.StatusCancelled)

	events, err := f.engine.CloseTable(ctx, f.tableID)
	require.NoError(t, err)

	require.Len(t, events, 3)
	assert.Equal(t, pending.ID, events[0].OrderID)
	assert.Equal(t, string(models.StatusPending), events[0].FromStatus)
	assert.Equal(t, ready.ID, events[1].OrderID)
	assert.Equal(t, lifecycle.EventTableStatus, events[2].Type)

	for _, id := range []int64{pending.ID, ready.ID} {
		o, err := f.store.GetOrder(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.StatusCompleted, o.Status)
		assert.NotNil(t, o.CompletedAt)
	}
	o, err := f.store.GetOrder(ctx, cancelled.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, o.Status)
	assert.Equal(t, models.TableAvailable, f.tableStatus(t, f.tableID))

	events, err = f.engine.CloseTable(ctx, f.tableID)
	require.NoError(t, err)
	assert.Empty(t, events)

	_, err = f.engine.CloseTable(ctx, 4242)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestEngine_SetItemStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	order, _, err := f.engine.PlaceOrder(ctx, f.tableID, []lifecycle.ItemInput{{ProductID: f.burger.ID, Quantity: 1}})
	require.NoError(t, err)
	itemID := order.Items[0].ID

	_, _, err = f.engine.SetItemStatus(ctx, order.ID, itemID, models.ItemReady)
	require.ErrorIs(t, err, models.ErrInvalidTransition)

	for _, s := range []models.ItemStatus{models.ItemPreparing, models.ItemReady, models.ItemDelivered} {
		item, events, err := f.engine.SetItemStatus(ctx, order.ID, itemID, s)
		require.NoError(t, err)
		assert.Equal(t, s, item.Status)
		require.Len(t, events, 1)
		assert.Equal(t, lifecycle.EventItemStatus, events[0].Type)
		assert.Equal(t, order.ID, events[0].OrderID)
	}

	stored, err := f.store.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, stored.Status)

	_, _, err = f.engine.SetItemStatus(ctx, order.ID, 4242, models.ItemPreparing)
	require.ErrorIs(t, err, models.ErrNotFound)

	f.advance(t, order.ID, models.StatusCancelled)
	_, _, err = f.engine.SetItemStatus(ctx, order.ID, itemID, models.ItemDelivered)
	require.ErrorIs(t, err, models.ErrInvalidState)
}

// failingStore fails SaveOrder inside transactions
type failingStore struct {
	lifecycle.Store
}

var errDiskFull = errors.New("disk full")

func (s *failingStore) SaveOrder(context.Context, *models.Order) error {
	return errDiskFull
}

func (s *failingStore) InTx(ctx context.Context, fn func(ctx context.Context, tx lifecycle.Store) error) error {
	return s.Store.InTx(ctx, func(ctx context.Context, tx lifecycle.Store) error {
		return fn(ctx, &failingStore{Store: tx})
	})
}

func TestEngine_StoreFailureLeavesStateUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	order, _, err := f.engine.CreateOrder(ctx, f.tableID)
	require.NoError(t, err)

	broken := lifecycle.NewEngine(&failingStore{Store: f.store})

	_, events, err := broken.SetOrderStatus(ctx, order.ID, models.StatusPreparing)
	require.ErrorIs(t, err, models.ErrPersistence)
	require.ErrorIs(t, err, errDiskFull)
	assert.Equal(t, models.KindPersistence, models.KindOf(err))
	assert.Empty(t, events)

	stored, err := f.store.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, stored.Status)

	table2, err := f.store.ListTables(ctx)
	require.NoError(t, err)
	_, events, err = broken.CreateOrder(ctx, table2[1].ID)
	require.ErrorIs(t, err, models.ErrPersistence)
	assert.Empty(t, events)
	assert.Equal(t, models.TableAvailable, f.tableStatus(t, table2[1].ID))
}

func TestEngine_ConcurrentAddItem(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	order, _, err := f.engine.CreateOrder(ctx, f.tableID)
	require.NoError(t, err)

	const workers = 20
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			_, _, err := f.engine.AddItem(gctx, order.ID, lifecycle.ItemInput{ProductID: f.fries.ID, Quantity: 1})
			return err
		})
	}
	require.NoError(t, g.Wait())

	stored, err := f.store.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Items, workers)
	assert.True(t, dec("66.60").Equal(stored.TotalPrice), "total %s", stored.TotalPrice)

	seen := make(map[int64]bool)
	for _, it := range stored.Items {
		assert.False(t, seen[it.ID], "duplicate item id %d", it.ID)
		seen[it.ID] = true
	}
}

func TestEngine_AddItemRacesStatusChange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	order, _, err := f.engine.CreateOrder(ctx, f.tableID)
	require.NoError(t, err)
	f.advance(t, order.ID, models.StatusPreparing)

	const workers = 20
	var added atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			_, _, err := f.engine.AddItem(gctx, order.ID, lifecycle.ItemInput{ProductID: f.fries.ID, Quantity: 2})
			switch {
			case err == nil:
				added.Add(1)
				return nil
			case errors.Is(err, models.ErrInvalidState):
				return nil
			default:
				return err
			}
		})
	}
	g.Go(func() error {
		_, _, err := f.engine.SetOrderStatus(gctx, order.ID, models.StatusReady)
		return err
	})
	require.NoError(t, g.Wait())

	stored, err := f.store.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusReady, stored.Status)
	assert.Len(t, stored.Items, int(added.Load()))
	assert.True(t, pricing.ComputeTotal(stored.Items).Equal(stored.TotalPrice), "total %s", stored.TotalPrice)

	_, _, err = f.engine.AddItem(ctx, order.ID, lifecycle.ItemInput{ProductID: f.fries.ID, Quantity: 1})
	require.ErrorIs(t, err, models.ErrInvalidState)
}
