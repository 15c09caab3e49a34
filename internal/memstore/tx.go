package memstore

import (
	"context"
	"fmt"

	"restaurant-orders/internal/lifecycle"
	"restaurant-orders/internal/models"
)

// tx overlays staged writes on top of the parent store
type tx struct {
	parent *Store
	tables map[int64]*models.Table
	orders map[int64]*models.Order

	// versions of the committed rows as first read by this transaction
	seenTables map[int64]uint64
	seenOrders map[int64]uint64
}

func newTx(parent *Store) *tx {
	return &tx{
		parent:     parent,
		tables:     make(map[int64]*models.Table),
		orders:     make(map[int64]*models.Order),
		seenTables: make(map[int64]uint64),
		seenOrders: make(map[int64]uint64),
	}
}

func (t *tx) seeOrder(id int64, ver uint64) {
	if _, ok := t.seenOrders[id]; !ok {
		t.seenOrders[id] = ver
	}
}

var _ lifecycle.Store = (*tx)(nil)

func (t *tx) GetTable(ctx context.Context, id int64) (*models.Table, error) {
	if staged, ok := t.tables[id]; ok {
		cp := *staged
		return &cp, nil
	}
	table, ver, err := t.parent.tableAt(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, ok := t.seenTables[id]; !ok {
		t.seenTables[id] = ver
	}
	return table, nil
}

func (t *tx) SetTableStatus(ctx context.Context, id int64, status models.TableStatus) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	table, err := t.GetTable(ctx, id)
	if err != nil {
		return err
	}
	table.Status = status
	table.UpdatedAt = t.parent.now().UTC()
	t.tables[id] = table
	return nil
}

func (t *tx) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	if staged, ok := t.orders[id]; ok {
		return staged.Clone(), nil
	}
	order, ver, err := t.parent.orderAt(ctx, id)
	if err != nil {
		return nil, err
	}
	t.seeOrder(id, ver)
	return order, nil
}

func (t *tx) SaveOrder(ctx context.Context, order *models.Order) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	t.parent.assignIDs(order)
	t.orders[order.ID] = order.Clone()
	return nil
}

func (t *tx) ListOrders(ctx context.Context, filter models.OrderFilter) ([]*models.Order, error) {
	committed, versions, err := t.parent.ordersAt(ctx, models.OrderFilter{TableID: filter.TableID})
	if err != nil {
		return nil, err
	}
	for id, ver := range versions {
		t.seeOrder(id, ver)
	}

	merged := make(map[int64]*models.Order, len(committed)+len(t.orders))
	for _, o := range committed {
		merged[o.ID] = o
	}
	for id, o := range t.orders {
		merged[id] = o.Clone()
	}

	out := make([]*models.Order, 0, len(merged))
	for _, o := range merged {
		if filter.Matches(o) {
			out = append(out, o)
		}
	}
	sortOrders(out, filter.OldestFirst)
	return out, nil
}

func (t *tx) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	return t.parent.GetProduct(ctx, id)
}

func (t *tx) InTx(ctx context.Context, fn func(ctx context.Context, tx lifecycle.Store) error) error {
	return fn(ctx, t)
}

// commit applies the staged writes unless a row they were based on changed
func (t *tx) commit() error {
	p := t.parent
	p.mu.Lock()
	defer p.mu.Unlock()

	for id := range t.tables {
		if _, ok := p.tables[id]; !ok {
			return fmt.Errorf("table %d: %w", id, models.ErrNotFound)
		}
		if p.tableVer[id] != t.seenTables[id] {
			return fmt.Errorf("table %d changed concurrently: %w", id, models.ErrPersistence)
		}
	}
	for id := range t.orders {
		seen, ok := t.seenOrders[id]
		if !ok {
			if _, exists := p.orders[id]; exists {
				return fmt.Errorf("order %d changed concurrently: %w", id, models.ErrPersistence)
			}
			continue
		}
		if p.orderVer[id] != seen {
			return fmt.Errorf("order %d changed concurrently: %w", id, models.ErrPersistence)
		}
	}

	for id, table := range t.tables {
		p.tables[id] = table
		p.tableVer[id]++
	}
	for id, order := range t.orders {
		p.orders[id] = order
		p.orderVer[id]++
	}
	return nil
}
