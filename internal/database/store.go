package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"restaurant-orders/internal/lifecycle"
	"restaurant-orders/internal/models"
)

const uniqueViolation = "23505"

// querier is satisfied by both *pgxpool.Pool and pgx.Tx
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists restaurant state in PostgreSQL
type Store struct {
	db   *DB
	q    querier
	inTx bool
}

// NewStore creates a store on top of the pool
func NewStore(db *DB) *Store {
	return &Store{db: db, q: db.Pool}
}

var _ lifecycle.Store = (*Store)(nil)

// wrap maps driver errors onto the model error kinds
func wrap(err error, what string) error {
	var pgErr *pgconn.PgError
	switch {
	case err == nil:
		return nil
	case errors.Is(err, pgx.ErrNoRows):
		return fmt.Errorf("%s: %w", what, models.ErrNotFound)
	case models.IsClassified(err):
		return fmt.Errorf("%s: %w", what, err)
	case errors.As(err, &pgErr) && pgErr.Code == uniqueViolation:
		return fmt.Errorf("%s: %s: %w", what, pgErr.Detail, models.ErrInvalidArgument)
	default:
		return fmt.Errorf("%s: %w: %w", what, models.ErrPersistence, err)
	}
}

// InTx runs fn inside a database transaction. Nested calls reuse the outer one.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx lifecycle.Store) error) error {
	if s.inTx {
		return fn(ctx, s)
	}
	return s.inTransaction(ctx, func(txs *Store) error {
		return fn(ctx, txs)
	})
}

func (s *Store) inTransaction(ctx context.Context, fn func(txs *Store) error) error {
	if s.inTx {
		return fn(s)
	}

	tx, err := s.db.Pool.Begin(ctx)
	if err != nil {
		return wrap(err, "begin transaction")
	}
	defer tx.Rollback(ctx)

	if err := fn(&Store{db: s.db, q: tx, inTx: true}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return wrap(err, "commit transaction")
	}
	return nil
}

func scanTable(row pgx.Row) (*models.Table, error) {
	var t models.Table
	var status string
	if err := row.Scan(&t.ID, &t.Number, &status, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.Status = models.TableStatus(status)
	return &t, nil
}

// GetTable loads one table
func (s *Store) GetTable(ctx context.Context, id int64) (*models.Table, error) {
	t, err := scanTable(s.q.QueryRow(ctx, getTableSQL, id))
	if err != nil {
		return nil, wrap(err, fmt.Sprintf("get table %d", id))
	}
	return t, nil
}

// SetTableStatus updates the table status
func (s *Store) SetTableStatus(ctx context.Context, id int64, status models.TableStatus) error {
	tag, err := s.q.Exec(ctx, updateTableStatusSQL, id, string(status))
	if err != nil {
		return wrap(err, fmt.Sprintf("update table %d", id))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("table %d: %w", id, models.ErrNotFound)
	}
	return nil
}

// CreateTable inserts a table; a duplicate number is an invalid argument
func (s *Store) CreateTable(ctx context.Context, table *models.Table) error {
	if table.Status == "" {
		table.Status = models.TableAvailable
	}
	err := s.q.QueryRow(ctx, insertTableSQL, table.Number, string(table.Status)).
		Scan(&table.ID, &table.CreatedAt, &table.UpdatedAt)
	return wrap(err, fmt.Sprintf("create table %d", table.Number))
}

// ListTables returns all tables ordered by number
func (s *Store) ListTables(ctx context.Context) ([]*models.Table, error) {
	rows, err := s.q.Query(ctx, listTablesSQL)
	if err != nil {
		return nil, wrap(err, "list tables")
	}
	defer rows.Close()

	var out []*models.Table
	for rows.Next() {
		t, err := scanTable(rows)
		if err != nil {
			return nil, wrap(err, "scan table")
		}
		out = append(out, t)
	}
	return out, wrap(rows.Err(), "list tables")
}

// GetProduct loads a product with its modifier items
func (s *Store) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	p, err := scanProduct(s.q.QueryRow(ctx, getProductSQL, id))
	if err != nil {
		return nil, wrap(err, fmt.Sprintf("get product %d", id))
	}
	if err := s.loadProductItems(ctx, []*models.Product{p}); err != nil {
		return nil, err
	}
	return p, nil
}

func scanProduct(row pgx.Row) (*models.Product, error) {
	var p models.Product
	var price pgtype.Numeric
	if err := row.Scan(&p.ID, &p.Name, &price, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	d, err := fromNumeric(price)
	if err != nil {
		return nil, err
	}
	p.Price = d
	p.Items = []models.ProductItem{}
	return &p, nil
}

func (s *Store) loadProductItems(ctx context.Context, products []*models.Product) error {
	if len(products) == 0 {
		return nil
	}
	byID := make(map[int64]*models.Product, len(products))
	ids := make([]int64, 0, len(products))
	for _, p := range products {
		byID[p.ID] = p
		ids = append(ids, p.ID)
	}

	rows, err := s.q.Query(ctx, listProductItemsSQL, ids)
	if err != nil {
		return wrap(err, "list product items")
	}
	defer rows.Close()

	for rows.Next() {
		var (
			item      models.ProductItem
			productID int64
			price     pgtype.Numeric
		)
		if err := rows.Scan(&item.ID, &productID, &item.Name, &price, &item.IsDefault); err != nil {
			return wrap(err, "scan product item")
		}
		if item.AdditionalPrice, err = fromNumeric(price); err != nil {
			return wrap(err, "scan product item")
		}
		if p, ok := byID[productID]; ok {
			p.Items = append(p.Items, item)
		}
	}
	return wrap(rows.Err(), "list product items")
}

// CreateProduct inserts a product and its modifier items atomically
func (s *Store) CreateProduct(ctx context.Context, product *models.Product) error {
	return s.inTransaction(ctx, func(tx *Store) error {
		err := tx.q.QueryRow(ctx, insertProductSQL, product.Name, toNumeric(product.Price)).
			Scan(&product.ID, &product.CreatedAt, &product.UpdatedAt)
		if err != nil {
			return wrap(err, "insert product")
		}
		for i := range product.Items {
			it := &product.Items[i]
			err := tx.q.QueryRow(ctx, insertProductItemSQL,
				product.ID, i, it.Name, toNumeric(it.AdditionalPrice), it.IsDefault).Scan(&it.ID)
			if err != nil {
				return wrap(err, "insert product item")
			}
		}
		return nil
	})
}

// ListProducts returns products newest first
func (s *Store) ListProducts(ctx context.Context) ([]*models.Product, error) {
	rows, err := s.q.Query(ctx, listProductsSQL)
	if err != nil {
		return nil, wrap(err, "list products")
	}
	var out []*models.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			rows.Close()
			return nil, wrap(err, "scan product")
		}
		out = append(out, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, wrap(err, "list products")
	}

	if err := s.loadProductItems(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteProduct removes a product that no order item references
func (s *Store) DeleteProduct(ctx context.Context, id int64) error {
	return s.inTransaction(ctx, func(tx *Store) error {
		var referenced bool
		if err := tx.q.QueryRow(ctx, productReferencedSQL, id).Scan(&referenced); err != nil {
			return wrap(err, "check product references")
		}
		if referenced {
			return fmt.Errorf("product %d is referenced by orders: %w", id, models.ErrInvalidState)
		}

		tag, err := tx.q.Exec(ctx, deleteProductSQL, id)
		if err != nil {
			return wrap(err, fmt.Sprintf("delete product %d", id))
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("product %d: %w", id, models.ErrNotFound)
		}
		return nil
	})
}

func scanOrder(row pgx.Row) (*models.Order, error) {
	var (
		o      models.Order
		status string
		total  pgtype.Numeric
	)
	if err := row.Scan(&o.ID, &o.TableID, &status, &total, &o.CreatedAt, &o.UpdatedAt, &o.ReadyAt, &o.CompletedAt); err != nil {
		return nil, err
	}
	d, err := fromNumeric(total)
	if err != nil {
		return nil, err
	}
	o.Status = models.OrderStatus(status)
	o.TotalPrice = d
	o.Items = []models.OrderItem{}
	return &o, nil
}

// GetOrder loads the aggregate. Inside a transaction the order row is locked.
func (s *Store) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	query := getOrderSQL
	if s.inTx {
		query = getOrderForUpdateSQL
	}
	o, err := scanOrder(s.q.QueryRow(ctx, query, id))
	if err != nil {
		return nil, wrap(err, fmt.Sprintf("get order %d", id))
	}
	if err := s.loadOrderItems(ctx, []*models.Order{o}); err != nil {
		return nil, err
	}
	return o, nil
}

// ListOrders returns the orders matching filter with their items
func (s *Store) ListOrders(ctx context.Context, filter models.OrderFilter) ([]*models.Order, error) {
	query, args := buildListOrdersQuery(filter, s.inTx)
	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, wrap(err, "list orders")
	}
	var out []*models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, wrap(err, "scan order")
		}
		out = append(out, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, wrap(err, "list orders")
	}

	if err := s.loadOrderItems(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

func buildListOrdersQuery(filter models.OrderFilter, lock bool) (string, []any) {
	var (
		where []string
		args  []any
	)
	if filter.TableID != 0 {
		args = append(args, filter.TableID)
		where = append(where, fmt.Sprintf("table_id = $%d", len(args)))
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, 0, len(filter.Statuses))
		for _, st := range filter.Statuses {
			statuses = append(statuses, string(st))
		}
		args = append(args, statuses)
		where = append(where, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	if filter.OpenOnly {
		where = append(where, "status NOT IN ('completed', 'cancelled')")
	}

	var b strings.Builder
	b.WriteString("SELECT " + orderColumns + " FROM orders")
	if len(where) > 0 {
		b.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	if filter.OldestFirst {
		b.WriteString(" ORDER BY created_at ASC, id ASC")
	} else {
		b.WriteString(" ORDER BY created_at DESC, id DESC")
	}
	if lock {
		b.WriteString(" FOR UPDATE")
	}
	return b.String(), args
}

func (s *Store) loadOrderItems(ctx context.Context, orders []*models.Order) error {
	if len(orders) == 0 {
		return nil
	}
	byID := make(map[int64]*models.Order, len(orders))
	ids := make([]int64, 0, len(orders))
	for _, o := range orders {
		byID[o.ID] = o
		ids = append(ids, o.ID)
	}

	rows, err := s.q.Query(ctx, listOrderItemsSQL, ids)
	if err != nil {
		return wrap(err, "list order items")
	}
	var (
		itemIDs []int64
		owner   = make(map[int64]int64)
	)
	for rows.Next() {
		var (
			it      models.OrderItem
			orderID int64
			price   pgtype.Numeric
			status  string
		)
		if err := rows.Scan(&it.ID, &orderID, &it.ProductID, &it.Quantity, &price, &it.Notes, &status, &it.CreatedAt); err != nil {
			rows.Close()
			return wrap(err, "scan order item")
		}
		if it.UnitPrice, err = fromNumeric(price); err != nil {
			rows.Close()
			return wrap(err, "scan order item")
		}
		it.Status = models.ItemStatus(status)
		it.Modifications = []models.Modification{}
		if o, ok := byID[orderID]; ok {
			o.Items = append(o.Items, it)
			itemIDs = append(itemIDs, it.ID)
			owner[it.ID] = orderID
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return wrap(err, "list order items")
	}
	if len(itemIDs) == 0 {
		return nil
	}

	rows, err = s.q.Query(ctx, listModificationsSQL, itemIDs)
	if err != nil {
		return wrap(err, "list modifications")
	}
	defer rows.Close()

	for rows.Next() {
		var (
			itemID int64
			mod    models.Modification
			change pgtype.Numeric
		)
		if err := rows.Scan(&itemID, &mod.ProductItemID, &mod.Type, &change); err != nil {
			return wrap(err, "scan modification")
		}
		if mod.PriceChange, err = fromNumeric(change); err != nil {
			return wrap(err, "scan modification")
		}
		if o, ok := byID[owner[itemID]]; ok {
			if it, ok := o.FindItem(itemID); ok {
				it.Modifications = append(it.Modifications, mod)
			}
		}
	}
	return wrap(rows.Err(), "list modifications")
}

// SaveOrder upserts the aggregate. New items and their modifications are inserted;
// existing items only have their mutable columns updated.
func (s *Store) SaveOrder(ctx context.Context, order *models.Order) error {
	return s.inTransaction(ctx, func(tx *Store) error {
		if order.ID == 0 {
			err := tx.q.QueryRow(ctx, insertOrderSQL,
				order.TableID, string(order.Status), toNumeric(order.TotalPrice),
				order.CreatedAt, order.UpdatedAt, order.ReadyAt, order.CompletedAt,
			).Scan(&order.ID)
			if err != nil {
				return wrap(err, "insert order")
			}
		} else {
			tag, err := tx.q.Exec(ctx, updateOrderSQL,
				order.ID, string(order.Status), toNumeric(order.TotalPrice),
				order.UpdatedAt, order.ReadyAt, order.CompletedAt,
			)
			if err != nil {
				return wrap(err, fmt.Sprintf("update order %d", order.ID))
			}
			if tag.RowsAffected() == 0 {
				return fmt.Errorf("order %d: %w", order.ID, models.ErrNotFound)
			}
		}

		for i := range order.Items {
			if err := tx.saveItem(ctx, order.ID, &order.Items[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) saveItem(ctx context.Context, orderID int64, it *models.OrderItem) error {
	if it.ID != 0 {
		_, err := s.q.Exec(ctx, updateOrderItemSQL, it.ID, orderID, it.Quantity, it.Notes, string(it.Status))
		return wrap(err, fmt.Sprintf("update order item %d", it.ID))
	}

	createdAt := it.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	err := s.q.QueryRow(ctx, insertOrderItemSQL,
		orderID, it.ProductID, it.Quantity, toNumeric(it.UnitPrice), it.Notes, string(it.Status), createdAt,
	).Scan(&it.ID)
	if err != nil {
		return wrap(err, "insert order item")
	}

	for pos, mod := range it.Modifications {
		_, err := s.q.Exec(ctx, insertModificationSQL, it.ID, pos, mod.ProductItemID, mod.Type, toNumeric(mod.PriceChange))
		if err != nil {
			return wrap(err, "insert modification")
		}
	}
	return nil
}
