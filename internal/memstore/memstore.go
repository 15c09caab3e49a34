// Package memstore keeps restaurant state in process memory.
//
// Transactions are staged: writes made inside InTx are only visible to the
// transaction until fn returns nil, and are dropped otherwise. Transactions
// run concurrently; a commit fails when an order or table it read and then
// wrote was changed by another commit in the meantime.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"restaurant-orders/internal/lifecycle"
	"restaurant-orders/internal/models"
)

// Store is an in-memory implementation of the restaurant persistence
type Store struct {
	mu       sync.RWMutex
	products map[int64]*models.Product
	tables   map[int64]*models.Table
	orders   map[int64]*models.Order

	// bumped on every committed write, used to detect conflicting commits
	tableVer map[int64]uint64
	orderVer map[int64]uint64

	productSeq     atomic.Int64
	productItemSeq atomic.Int64
	tableSeq       atomic.Int64
	orderSeq       atomic.Int64
	itemSeq        atomic.Int64

	now func() time.Time
}

// New creates an empty store
func New() *Store {
	return &Store{
		products: make(map[int64]*models.Product),
		tables:   make(map[int64]*models.Table),
		orders:   make(map[int64]*models.Order),
		tableVer: make(map[int64]uint64),
		orderVer: make(map[int64]uint64),
		now:      time.Now,
	}
}

var _ lifecycle.Store = (*Store)(nil)

func checkCtx(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", models.ErrPersistence, err)
	}
	return nil
}

// SeedTables creates tables numbered 1..n that do not exist yet
func (s *Store) SeedTables(ctx context.Context, n int) error {
	existing := make(map[int]bool)
	tables, err := s.ListTables(ctx)
	if err != nil {
		return err
	}
	for _, t := range tables {
		existing[t.Number] = true
	}
	for i := 1; i <= n; i++ {
		if existing[i] {
			continue
		}
		if err := s.CreateTable(ctx, &models.Table{Number: i}); err != nil {
			return err
		}
	}
	return nil
}

// GetTable returns a copy of the table
func (s *Store) GetTable(ctx context.Context, id int64) (*models.Table, error) {
	t, _, err := s.tableAt(ctx, id)
	return t, err
}

func (s *Store) tableAt(ctx context.Context, id int64) (*models.Table, uint64, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tables[id]
	if !ok {
		return nil, 0, fmt.Errorf("table %d: %w", id, models.ErrNotFound)
	}
	cp := *t
	return &cp, s.tableVer[id], nil
}

// SetTableStatus updates the table status
func (s *Store) SetTableStatus(ctx context.Context, id int64, status models.TableStatus) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tables[id]
	if !ok {
		return fmt.Errorf("table %d: %w", id, models.ErrNotFound)
	}
	cp := *t
	cp.Status = status
	cp.UpdatedAt = s.now().UTC()
	s.tables[id] = &cp
	s.tableVer[id]++
	return nil
}

// CreateTable stores a new table; numbers are unique
func (s *Store) CreateTable(ctx context.Context, table *models.Table) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	if table.Number < 1 {
		return fmt.Errorf("table number must be positive: %w", models.ErrInvalidArgument)
	}
	if table.Status == "" {
		table.Status = models.TableAvailable
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.tables {
		if t.Number == table.Number {
			return fmt.Errorf("table number %d already exists: %w", table.Number, models.ErrInvalidArgument)
		}
	}
	now := s.now().UTC()
	table.ID = s.tableSeq.Add(1)
	table.CreatedAt, table.UpdatedAt = now, now
	cp := *table
	s.tables[table.ID] = &cp
	return nil
}

// ListTables returns all tables ordered by number
func (s *Store) ListTables(ctx context.Context) ([]*models.Table, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.Table, 0, len(s.tables))
	for _, t := range s.tables {
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

// CreateProduct stores a new product and assigns ids to its modifier items
func (s *Store) CreateProduct(ctx context.Context, product *models.Product) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	product.ID = s.productSeq.Add(1)
	product.CreatedAt, product.UpdatedAt = now, now
	for i := range product.Items {
		product.Items[i].ID = s.productItemSeq.Add(1)
	}
	s.products[product.ID] = product.Clone()
	return nil
}

// GetProduct returns a copy of the product
func (s *Store) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[id]
	if !ok {
		return nil, fmt.Errorf("product %d: %w", id, models.ErrNotFound)
	}
	return p.Clone(), nil
}

// ListProducts returns products, newest first
func (s *Store) ListProducts(ctx context.Context) ([]*models.Product, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.Product, 0, len(s.products))
	for _, p := range s.products {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

// DeleteProduct removes a product that no order item references
func (s *Store) DeleteProduct(ctx context.Context, id int64) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[id]; !ok {
		return fmt.Errorf("product %d: %w", id, models.ErrNotFound)
	}
	for _, o := range s.orders {
		for _, it := range o.Items {
			if it.ProductID == id {
				return fmt.Errorf("product %d is referenced by order %d: %w", id, o.ID, models.ErrInvalidState)
			}
		}
	}
	delete(s.products, id)
	return nil
}

// GetOrder returns a deep copy of the aggregate
func (s *Store) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	o, _, err := s.orderAt(ctx, id)
	return o, err
}

func (s *Store) orderAt(ctx context.Context, id int64) (*models.Order, uint64, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, 0, fmt.Errorf("order %d: %w", id, models.ErrNotFound)
	}
	return o.Clone(), s.orderVer[id], nil
}

// SaveOrder upserts the aggregate
func (s *Store) SaveOrder(ctx context.Context, order *models.Order) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	s.assignIDs(order)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[order.ID] = order.Clone()
	s.orderVer[order.ID]++
	return nil
}

func (s *Store) assignIDs(order *models.Order) {
	if order.ID == 0 {
		order.ID = s.orderSeq.Add(1)
	}
	for i := range order.Items {
		if order.Items[i].ID == 0 {
			order.Items[i].ID = s.itemSeq.Add(1)
		}
	}
}

// ListOrders returns copies of the orders matching filter
func (s *Store) ListOrders(ctx context.Context, filter models.OrderFilter) ([]*models.Order, error) {
	out, _, err := s.ordersAt(ctx, filter)
	if err != nil {
		return nil, err
	}
	sortOrders(out, filter.OldestFirst)
	return out, nil
}

// ordersAt returns unsorted copies of the matching orders with their versions
func (s *Store) ordersAt(ctx context.Context, filter models.OrderFilter) ([]*models.Order, map[int64]uint64, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.Order, 0)
	versions := make(map[int64]uint64)
	for id, o := range s.orders {
		if filter.Matches(o) {
			out = append(out, o.Clone())
			versions[id] = s.orderVer[id]
		}
	}
	return out, versions, nil
}

// InTx runs fn against a staged view of the store and commits when fn succeeds.
// The commit is all or nothing; a conflicting concurrent commit makes it fail
// with models.ErrPersistence.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx lifecycle.Store) error) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}

	t := newTx(s)
	if err := fn(ctx, t); err != nil {
		return err
	}
	if err := checkCtx(ctx); err != nil {
		return err
	}
	return t.commit()
}

func sortOrders(orders []*models.Order, oldestFirst bool) {
	sort.Slice(orders, func(i, j int) bool {
		a, b := orders[i], orders[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			if oldestFirst {
				return a.CreatedAt.Before(b.CreatedAt)
			}
			return a.CreatedAt.After(b.CreatedAt)
		}
		if oldestFirst {
			return a.ID < b.ID
		}
		return a.ID > b.ID
	})
}
