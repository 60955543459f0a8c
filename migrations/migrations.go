package migrations

import (
	"context"
	"database/sql"
	"fmt"
	"github.com/rs/zerolog"
	"os"
	"time"
)

var logger = zerolog.New(os.Stdout).With().Timestamp().Str("component", "migrations").Logger()

// Catalog, customer, loyalty and discount tables live on the main database.
var mainTables = []string{
	`CREATE TABLE IF NOT EXISTS categories (
		id VARCHAR(36) PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		slug VARCHAR(255) NOT NULL UNIQUE,
		deleted_at DATETIME(6) NULL
	)`,
	`CREATE TABLE IF NOT EXISTS items (
		id VARCHAR(36) PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		name_localized VARCHAR(255) NOT NULL DEFAULT '',
		slug VARCHAR(255) NOT NULL UNIQUE,
		type VARCHAR(16) NOT NULL,
		status VARCHAR(16) NOT NULL,
		regular_price DECIMAL(12,2) NOT NULL,
		sale_price DECIMAL(12,2) NULL,
		created_at DATETIME(6) NOT NULL,
		deleted_at DATETIME(6) NULL
	)`,
	`CREATE TABLE IF NOT EXISTS variations (
		id VARCHAR(36) PRIMARY KEY,
		item_id VARCHAR(36) NOT NULL,
		name VARCHAR(255) NOT NULL,
		regular_price DECIMAL(12,2) NOT NULL,
		sale_price DECIMAL(12,2) NULL,
		status VARCHAR(16) NOT NULL,
		sort_order INT NOT NULL DEFAULT 0,
		FOREIGN KEY (item_id) REFERENCES items(id) ON DELETE CASCADE
	)`,
	`CREATE TABLE IF NOT EXISTS item_categories (
		item_id VARCHAR(36) NOT NULL,
		category_id VARCHAR(36) NOT NULL,
		PRIMARY KEY (item_id, category_id),
		FOREIGN KEY (item_id) REFERENCES items(id) ON DELETE CASCADE,
		FOREIGN KEY (category_id) REFERENCES categories(id) ON DELETE CASCADE
	)`,
	`CREATE TABLE IF NOT EXISTS customers (
		id VARCHAR(36) PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		phone VARCHAR(64) NOT NULL DEFAULT '',
		email VARCHAR(255) NOT NULL DEFAULT '',
		points BIGINT NOT NULL DEFAULT 0,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at DATETIME(6) NOT NULL,
		deleted_at DATETIME(6) NULL,
		CHECK (points >= 0)
	)`,
	`CREATE TABLE IF NOT EXISTS loyalty_ledger (
		id VARCHAR(36) PRIMARY KEY,
		customer_id VARCHAR(36) NOT NULL,
		kind VARCHAR(8) NOT NULL,
		points BIGINT NOT NULL,
		reference VARCHAR(64) NULL,
		created_at DATETIME(6) NOT NULL,
		UNIQUE KEY uniq_ledger_reference (kind, reference),
		FOREIGN KEY (customer_id) REFERENCES customers(id)
	)`,
	`CREATE TABLE IF NOT EXISTS discounts (
		id VARCHAR(36) PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		scope VARCHAR(16) NOT NULL,
		value_type VARCHAR(16) NOT NULL,
		value DECIMAL(12,2) NOT NULL,
		starts_at DATETIME(6) NULL,
		ends_at DATETIME(6) NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at DATETIME(6) NOT NULL,
		deleted_at DATETIME(6) NULL
	)`,
	`CREATE TABLE IF NOT EXISTS discount_applications (
		id VARCHAR(36) PRIMARY KEY,
		discount_id VARCHAR(36) NOT NULL,
		created_at DATETIME(6) NOT NULL,
		FOREIGN KEY (discount_id) REFERENCES discounts(id) ON DELETE CASCADE
	)`,
	`CREATE TABLE IF NOT EXISTS discount_application_customers (
		application_id VARCHAR(36) NOT NULL,
		customer_id VARCHAR(36) NOT NULL,
		PRIMARY KEY (application_id, customer_id),
		FOREIGN KEY (application_id) REFERENCES discount_applications(id) ON DELETE CASCADE
	)`,
	`CREATE TABLE IF NOT EXISTS discount_application_products (
		application_id VARCHAR(36) NOT NULL,
		item_id VARCHAR(36) NOT NULL,
		PRIMARY KEY (application_id, item_id),
		FOREIGN KEY (application_id) REFERENCES discount_applications(id) ON DELETE CASCADE
	)`,
	`CREATE TABLE IF NOT EXISTS discount_application_categories (
		application_id VARCHAR(36) NOT NULL,
		category_id VARCHAR(36) NOT NULL,
		PRIMARY KEY (application_id, category_id),
		FOREIGN KEY (application_id) REFERENCES discount_applications(id) ON DELETE CASCADE
	)`,
}

// Order tables are created on every order shard.
var orderTables = []string{
	`CREATE TABLE IF NOT EXISTS orders (
		id VARCHAR(36) PRIMARY KEY,
		order_number VARCHAR(32) NOT NULL UNIQUE,
		order_type VARCHAR(16) NOT NULL,
		status VARCHAR(16) NOT NULL,
		sub_total DECIMAL(12,2) NOT NULL,
		discount_amount DECIMAL(12,2) NOT NULL,
		total_amount DECIMAL(12,2) NOT NULL,
		discount_id VARCHAR(36) NULL,
		payment_method VARCHAR(16) NOT NULL,
		customer_id VARCHAR(36) NULL,
		points_credited BOOLEAN NOT NULL DEFAULT FALSE,
		created_at DATETIME(6) NOT NULL,
		updated_at DATETIME(6) NOT NULL,
		completed_at DATETIME(6) NULL,
		cancelled_at DATETIME(6) NULL,
		INDEX idx_orders_uncredited (status, points_credited, completed_at)
	)`,
	`CREATE TABLE IF NOT EXISTS order_tokens (
		id VARCHAR(48) PRIMARY KEY,
		order_id VARCHAR(36) NOT NULL,
		station VARCHAR(16) NOT NULL,
		status VARCHAR(16) NOT NULL,
		ready_at DATETIME(6) NULL,
		created_at DATETIME(6) NOT NULL,
		updated_at DATETIME(6) NOT NULL,
		INDEX idx_tokens_station_status (station, status, created_at),
		FOREIGN KEY (order_id) REFERENCES orders(id) ON DELETE CASCADE
	)`,
	`CREATE TABLE IF NOT EXISTS order_items (
		id VARCHAR(36) PRIMARY KEY,
		order_id VARCHAR(36) NOT NULL,
		item_id VARCHAR(36) NOT NULL,
		variation_id VARCHAR(36) NULL,
		name VARCHAR(255) NOT NULL,
		station VARCHAR(16) NOT NULL,
		quantity INT NOT NULL,
		unit_price DECIMAL(12,2) NOT NULL,
		total_price DECIMAL(12,2) NOT NULL,
		token_id VARCHAR(48) NOT NULL,
		FOREIGN KEY (order_id) REFERENCES orders(id) ON DELETE CASCADE,
		FOREIGN KEY (token_id) REFERENCES order_tokens(id)
	)`,
	`CREATE TABLE IF NOT EXISTS order_tables (
		order_id VARCHAR(36) NOT NULL,
		table_id VARCHAR(64) NOT NULL,
		PRIMARY KEY (order_id, table_id),
		FOREIGN KEY (order_id) REFERENCES orders(id) ON DELETE CASCADE
	)`,
}

// MigrateMain creates the catalog, customer and discount tables.
func MigrateMain(ctx context.Context, retries int, db *sql.DB) error {
	return apply(ctx, retries, mainTables, db)
}

// MigrateOrders creates the order tables on each shard.
func MigrateOrders(ctx context.Context, retries int, dbs ...*sql.DB) error {
	return apply(ctx, retries, orderTables, dbs...)
}

func apply(ctx context.Context, retries int, statements []string, dbs ...*sql.DB) error {
	for n, db := range dbs {
		for _, query := range statements {
			_, err := db.ExecContext(ctx, query)
			// Retry creating the table
			for i := 0; err != nil && i < retries; i++ {
				logger.Warn().Err(err).Msgf("Retry %d: migration on database %d failed", i+1, n)
				time.Sleep(1 * time.Second)
				_, err = db.ExecContext(ctx, query)
			}
			if err != nil {
				return fmt.Errorf("migrate database %d: %w", n, err)
			}
		}
	}
	return nil
}
