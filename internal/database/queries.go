package database

// Migration bookkeeping
const (
	createMigrationsTableSQL = `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			id SERIAL PRIMARY KEY,
			migration_name VARCHAR(255) NOT NULL UNIQUE,
			applied_at TIMESTAMPTZ DEFAULT NOW()
		)`

	selectAppliedMigrationsSQL = `SELECT migration_name FROM schema_migrations`

	insertMigrationSQL = `INSERT INTO schema_migrations (migration_name) VALUES ($1)`
)

// Table queries
const (
	getTableSQL = `
		SELECT id, table_number, status, created_at, updated_at
		FROM dining_tables WHERE id = $1`

	listTablesSQL = `
		SELECT id, table_number, status, created_at, updated_at
		FROM dining_tables ORDER BY table_number ASC`

	insertTableSQL = `
		INSERT INTO dining_tables (table_number, status)
		VALUES ($1, $2)
		RETURNING id, created_at, updated_at`

	updateTableStatusSQL = `
		UPDATE dining_tables SET status = $2, updated_at = NOW()
		WHERE id = $1`
)

// Product queries
const (
	getProductSQL = `
		SELECT id, name, price, created_at, updated_at
		FROM products WHERE id = $1`

	listProductsSQL = `
		SELECT id, name, price, created_at, updated_at
		FROM products ORDER BY created_at DESC, id DESC`

	listProductItemsSQL = `
		SELECT id, product_id, name, additional_price, is_default
		FROM product_items WHERE product_id = ANY($1)
		ORDER BY product_id, position`

	insertProductSQL = `
		INSERT INTO products (name, price)
		VALUES ($1, $2)
		RETURNING id, created_at, updated_at`

	insertProductItemSQL = `
		INSERT INTO product_items (product_id, position, name, additional_price, is_default)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`

	productReferencedSQL = `
		SELECT EXISTS (SELECT 1 FROM order_items WHERE product_id = $1)`

	deleteProductSQL = `DELETE FROM products WHERE id = $1`
)

// Order queries
const (
	orderColumns = `id, table_id, status, total_price, created_at, updated_at, ready_at, completed_at`

	getOrderSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	getOrderForUpdateSQL = getOrderSQL + ` FOR UPDATE`

	insertOrderSQL = `
		INSERT INTO orders (table_id, status, total_price, created_at, updated_at, ready_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`

	updateOrderSQL = `
		UPDATE orders SET status = $2, total_price = $3, updated_at = $4, ready_at = $5, completed_at = $6
		WHERE id = $1`

	listOrderItemsSQL = `
		SELECT id, order_id, product_id, quantity, unit_price, notes, status, created_at
		FROM order_items WHERE order_id = ANY($1)
		ORDER BY order_id, id`

	insertOrderItemSQL = `
		INSERT INTO order_items (order_id, product_id, quantity, unit_price, notes, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`

	updateOrderItemSQL = `
		UPDATE order_items SET quantity = $3, notes = $4, status = $5
		WHERE id = $1 AND order_id = $2`

	listModificationsSQL = `
		SELECT order_item_id, product_item_id, modification_type, price_change
		FROM order_item_modifications WHERE order_item_id = ANY($1)
		ORDER BY order_item_id, position`

	insertModificationSQL = `
		INSERT INTO order_item_modifications (order_item_id, position, product_item_id, modification_type, price_change)
		VALUES ($1, $2, $3, $4, $5)`
)
