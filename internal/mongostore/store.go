// Package mongostore persists restaurant state in MongoDB.
//
// Orders are stored as single documents embedding their items and
// modifications. Numeric ids come from a counters collection.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"restaurant-orders/internal/config"
	"restaurant-orders/internal/lifecycle"
	"restaurant-orders/internal/logger"
	"restaurant-orders/internal/models"
)

const (
	productsCollection = "products"
	tablesCollection   = "tables"
	ordersCollection   = "orders"
	countersCollection = "counters"
)

// Store is a MongoDB implementation of the restaurant persistence
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	inTx   bool
	now    func() time.Time
}

var _ lifecycle.Store = (*Store)(nil)

// Connect opens the client, verifies the deployment can run transactions and
// makes sure the indexes exist
func Connect(ctx context.Context, cfg config.MongoDBConfig, log *logger.Logger) (*Store, error) {
	if !cfg.Transactions {
		return nil, fmt.Errorf("mongodb transactions are disabled: %w", ErrNoTransactions)
	}
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	if err := checkTransactions(connectCtx, client); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	s := New(client, cfg.Database)
	if err := s.EnsureIndexes(connectCtx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	log.Info("mongo_connected", "Connected to MongoDB", "startup", map[string]interface{}{
		"database": cfg.Database,
	})
	return s, nil
}

// ErrNoTransactions is returned by Connect when the deployment cannot run
// multi-document transactions
var ErrNoTransactions = errors.New("mongodb deployment does not support transactions")

// checkTransactions fails unless the server is a replica set member or a mongos
func checkTransactions(ctx context.Context, client *mongo.Client) error {
	var hello bson.M
	err := client.Database("admin").RunCommand(ctx, bson.D{{Key: "hello", Value: 1}}).Decode(&hello)
	if err != nil {
		return fmt.Errorf("failed to query mongodb topology: %w", err)
	}
	if !transactionsSupported(hello) {
		return fmt.Errorf("standalone server, a replica set is required: %w", ErrNoTransactions)
	}
	return nil
}

func transactionsSupported(hello bson.M) bool {
	if name, ok := hello["setName"].(string); ok && name != "" {
		return true
	}
	msg, _ := hello["msg"].(string)
	return msg == "isdbgrid"
}

// New wraps an existing client. The deployment must support transactions.
func New(client *mongo.Client, database string) *Store {
	return &Store{
		client: client,
		db:     client.Database(database),
		now:    time.Now,
	}
}

// Close disconnects the client
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Ping checks the primary is reachable
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

// EnsureIndexes creates the indexes the store relies on
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.db.Collection(tablesCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "table_number", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("failed to create tables index: %w", err)
	}

	_, err = s.db.Collection(ordersCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "table_id", Value: 1}, {Key: "status", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: 1}}},
		{Keys: bson.D{{Key: "items.product_id", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create orders indexes: %w", err)
	}
	return nil
}

func wrap(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return fmt.Errorf("%s: %w", what, models.ErrNotFound)
	case models.IsClassified(err):
		return fmt.Errorf("%s: %w", what, err)
	case mongo.IsDuplicateKeyError(err):
		return fmt.Errorf("%s: duplicate key: %w", what, models.ErrInvalidArgument)
	default:
		return fmt.Errorf("%s: %w: %w", what, models.ErrPersistence, err)
	}
}

// InTx runs fn inside a multi-document transaction. Nested calls join the
// outer transaction.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx lifecycle.Store) error) error {
	if s.inTx {
		return fn(ctx, s)
	}

	session, err := s.client.StartSession()
	if err != nil {
		return wrap(err, "start session")
	}
	defer session.EndSession(ctx)

	txs := &Store{client: s.client, db: s.db, inTx: true, now: s.now}
	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc, txs)
	})
	if err != nil && !models.IsClassified(err) {
		return wrap(err, "transaction")
	}
	return err
}

func (s *Store) nextID(ctx context.Context, name string) (int64, error) {
	var counter struct {
		Seq int64 `bson:"seq"`
	}
	err := s.db.Collection(countersCollection).FindOneAndUpdate(ctx,
		bson.M{"_id": name},
		bson.M{"$inc": bson.M{"seq": int64(1)}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&counter)
	if err != nil {
		return 0, wrap(err, "next "+name+" id")
	}
	return counter.Seq, nil
}

// GetTable loads one table
func (s *Store) GetTable(ctx context.Context, id int64) (*models.Table, error) {
	var doc tableDoc
	if err := s.db.Collection(tablesCollection).FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		return nil, wrap(err, fmt.Sprintf("get table %d", id))
	}
	return tableFromDoc(doc), nil
}

// SetTableStatus updates the table status
func (s *Store) SetTableStatus(ctx context.Context, id int64, status models.TableStatus) error {
	res, err := s.db.Collection(tablesCollection).UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"status": string(status), "updated_at": s.now().UTC()}},
	)
	if err != nil {
		return wrap(err, fmt.Sprintf("update table %d", id))
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("table %d: %w", id, models.ErrNotFound)
	}
	return nil
}

// CreateTable inserts a table; the number must be unique
func (s *Store) CreateTable(ctx context.Context, table *models.Table) error {
	if table.Status == "" {
		table.Status = models.TableAvailable
	}
	id, err := s.nextID(ctx, tablesCollection)
	if err != nil {
		return err
	}
	now := s.now().UTC()
	doc := tableDoc{ID: id, Number: table.Number, Status: string(table.Status), CreatedAt: now, UpdatedAt: now}
	if _, err := s.db.Collection(tablesCollection).InsertOne(ctx, doc); err != nil {
		return wrap(err, fmt.Sprintf("create table %d", table.Number))
	}
	table.ID, table.CreatedAt, table.UpdatedAt = id, now, now
	return nil
}

// ListTables returns all tables ordered by number
func (s *Store) ListTables(ctx context.Context) ([]*models.Table, error) {
	cur, err := s.db.Collection(tablesCollection).Find(ctx, bson.M{},
		options.Find().SetSort(bson.D{{Key: "table_number", Value: 1}}))
	if err != nil {
		return nil, wrap(err, "list tables")
	}
	var docs []tableDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, wrap(err, "list tables")
	}

	out := make([]*models.Table, 0, len(docs))
	for _, d := range docs {
		out = append(out, tableFromDoc(d))
	}
	return out, nil
}

// SeedTables creates tables numbered 1..n that do not exist yet
func (s *Store) SeedTables(ctx context.Context, n int) error {
	tables, err := s.ListTables(ctx)
	if err != nil {
		return err
	}
	existing := make(map[int]bool, len(tables))
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

// GetProduct loads a product
func (s *Store) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	var doc productDoc
	if err := s.db.Collection(productsCollection).FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		return nil, wrap(err, fmt.Sprintf("get product %d", id))
	}
	p, err := productFromDoc(doc)
	return p, wrap(err, fmt.Sprintf("decode product %d", id))
}

// CreateProduct inserts a product and assigns ids to its modifier items
func (s *Store) CreateProduct(ctx context.Context, product *models.Product) error {
	id, err := s.nextID(ctx, productsCollection)
	if err != nil {
		return err
	}
	for i := range product.Items {
		itemID, err := s.nextID(ctx, "product_items")
		if err != nil {
			return err
		}
		product.Items[i].ID = itemID
	}
	now := s.now().UTC()
	product.ID, product.CreatedAt, product.UpdatedAt = id, now, now

	doc, err := productToDoc(product)
	if err != nil {
		return wrap(err, "encode product")
	}
	_, err = s.db.Collection(productsCollection).InsertOne(ctx, doc)
	return wrap(err, "insert product")
}

// ListProducts returns products newest first
func (s *Store) ListProducts(ctx context.Context) ([]*models.Product, error) {
	cur, err := s.db.Collection(productsCollection).Find(ctx, bson.M{},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}))
	if err != nil {
		return nil, wrap(err, "list products")
	}
	var docs []productDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, wrap(err, "list products")
	}

	out := make([]*models.Product, 0, len(docs))
	for _, d := range docs {
		p, err := productFromDoc(d)
		if err != nil {
			return nil, wrap(err, "decode product")
		}
		out = append(out, p)
	}
	return out, nil
}

// DeleteProduct removes a product that no order item references
func (s *Store) DeleteProduct(ctx context.Context, id int64) error {
	n, err := s.db.Collection(ordersCollection).CountDocuments(ctx, bson.M{"items.product_id": id})
	if err != nil {
		return wrap(err, "check product references")
	}
	if n > 0 {
		return fmt.Errorf("product %d is referenced by %d orders: %w", id, n, models.ErrInvalidState)
	}

	res, err := s.db.Collection(productsCollection).DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return wrap(err, fmt.Sprintf("delete product %d", id))
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("product %d: %w", id, models.ErrNotFound)
	}
	return nil
}

// GetOrder loads the aggregate
func (s *Store) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	var doc orderDoc
	if err := s.db.Collection(ordersCollection).FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		return nil, wrap(err, fmt.Sprintf("get order %d", id))
	}
	o, err := orderFromDoc(doc)
	return o, wrap(err, fmt.Sprintf("decode order %d", id))
}

// SaveOrder replaces the whole aggregate document, inserting it when new
func (s *Store) SaveOrder(ctx context.Context, order *models.Order) error {
	if order.ID == 0 {
		id, err := s.nextID(ctx, ordersCollection)
		if err != nil {
			return err
		}
		order.ID = id
	}
	for i := range order.Items {
		if order.Items[i].ID != 0 {
			continue
		}
		id, err := s.nextID(ctx, "order_items")
		if err != nil {
			return err
		}
		order.Items[i].ID = id
	}

	doc, err := orderToDoc(order)
	if err != nil {
		return wrap(err, "encode order")
	}
	_, err = s.db.Collection(ordersCollection).ReplaceOne(ctx,
		bson.M{"_id": order.ID}, doc, options.Replace().SetUpsert(true))
	return wrap(err, fmt.Sprintf("save order %d", order.ID))
}

// ListOrders returns the orders matching filter
func (s *Store) ListOrders(ctx context.Context, filter models.OrderFilter) ([]*models.Order, error) {
	query, opts := listOrdersQuery(filter)
	cur, err := s.db.Collection(ordersCollection).Find(ctx, query, opts)
	if err != nil {
		return nil, wrap(err, "list orders")
	}
	var docs []orderDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, wrap(err, "list orders")
	}

	out := make([]*models.Order, 0, len(docs))
	for _, d := range docs {
		o, err := orderFromDoc(d)
		if err != nil {
			return nil, wrap(err, "decode order")
		}
		out = append(out, o)
	}
	return out, nil
}

func listOrdersQuery(filter models.OrderFilter) (bson.M, *options.FindOptions) {
	query := bson.M{}
	if filter.TableID != 0 {
		query["table_id"] = filter.TableID
	}

	status := bson.M{}
	if len(filter.Statuses) > 0 {
		in := make([]string, 0, len(filter.Statuses))
		for _, st := range filter.Statuses {
			in = append(in, string(st))
		}
		status["$in"] = in
	}
	if filter.OpenOnly {
		status["$nin"] = []string{string(models.StatusCompleted), string(models.StatusCancelled)}
	}
	if len(status) > 0 {
		query["status"] = status
	}

	dir := -1
	if filter.OldestFirst {
		dir = 1
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: dir}, {Key: "_id", Value: dir}})
	return query, opts
}
