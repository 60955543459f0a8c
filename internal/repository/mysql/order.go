package mysql

import (
	"context"
	"database/sql"
	"errors"
	"restaurant-service/internal/apperr"
	"restaurant-service/internal/entity"
	"restaurant-service/internal/sharding"
	"sort"
	"time"
)

// OrderRepository stores each order, with its items, tokens and tables, on the shard picked by
// the router from the order id.
type OrderRepository struct {
	dbShards []*sql.DB
	router   *sharding.ShardRouter
}

func NewOrderRepository(dbShards []*sql.DB, router *sharding.ShardRouter) *OrderRepository {
	return &OrderRepository{dbShards, router}
}

func (r *OrderRepository) shard(orderID string) *sql.DB {
	return r.dbShards[r.router.GetShard(orderID)]
}

func (r *OrderRepository) Save(ctx context.Context, order *entity.Order) error {
	db := r.shard(order.ID)

	return withTx(ctx, db, "save order", func(tx *sql.Tx) error {
		orderQuery := `INSERT INTO orders (id, order_number, order_type, status, sub_total, discount_amount, total_amount,
			discount_id, payment_method, customer_id, points_credited, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
		_, err := tx.ExecContext(ctx, orderQuery, order.ID, order.OrderNumber, order.OrderType, order.Status,
			order.SubTotal, order.DiscountAmount, order.TotalAmount, nullString(order.DiscountID), order.PaymentMethod,
			nullString(order.CustomerID), order.PointsCredited, order.CreatedAt, order.UpdatedAt)
		if err != nil {
			return apperr.Storage(err, "insert order")
		}

		// Tokens before items: items reference their token.
		if len(order.Tokens) > 0 {
			tokenQuery := `INSERT INTO order_tokens (id, order_id, station, status, ready_at, created_at, updated_at) VALUES `
			var values []interface{}
			for _, t := range order.Tokens {
				tokenQuery += "(?, ?, ?, ?, ?, ?, ?),"
				values = append(values, t.ID, order.ID, t.Station, t.Status, nullTime(t.ReadyAt), t.CreatedAt, t.UpdatedAt)
			}
			tokenQuery = tokenQuery[:len(tokenQuery)-1]
			if _, err := tx.ExecContext(ctx, tokenQuery, values...); err != nil {
				return apperr.Storage(err, "insert order tokens")
			}
		}

		// Insert order items with batch
		itemQuery := `INSERT INTO order_items (id, order_id, item_id, variation_id, name, station, quantity, unit_price, total_price, token_id) VALUES `
		var values []interface{}
		for _, item := range order.Items {
			itemQuery += "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?),"
			values = append(values, item.ID, order.ID, item.ItemID, nullString(item.VariationID), item.Name, item.Station,
				item.Quantity, item.UnitPrice, item.TotalPrice, item.TokenID)
		}
		itemQuery = itemQuery[:len(itemQuery)-1]
		if _, err := tx.ExecContext(ctx, itemQuery, values...); err != nil {
			return apperr.Storage(err, "insert order items")
		}

		for _, tableID := range order.TableIDs {
			if _, err := tx.ExecContext(ctx, `INSERT INTO order_tables (order_id, table_id) VALUES (?, ?)`, order.ID, tableID); err != nil {
				return apperr.Storage(err, "insert order table")
			}
		}
		return nil
	})
}

func (r *OrderRepository) GetOrderByID(ctx context.Context, id string) (*entity.Order, error) {
	db := r.shard(id)

	orderQuery := `SELECT id, order_number, order_type, status, sub_total, discount_amount, total_amount, discount_id,
		payment_method, customer_id, points_credited, created_at, updated_at, completed_at, cancelled_at
		FROM orders WHERE id = ?`
	order := &entity.Order{}
	var discountID, customerID sql.NullString
	var completedAt, cancelledAt sql.NullTime
	err := db.QueryRowContext(ctx, orderQuery, id).Scan(&order.ID, &order.OrderNumber, &order.OrderType, &order.Status,
		&order.SubTotal, &order.DiscountAmount, &order.TotalAmount, &discountID, &order.PaymentMethod, &customerID,
		&order.PointsCredited, &order.CreatedAt, &order.UpdatedAt, &completedAt, &cancelledAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("order %s not found", id)
		}
		return nil, apperr.Storage(err, "get order")
	}
	order.DiscountID = stringPtr(discountID)
	order.CustomerID = stringPtr(customerID)
	order.CompletedAt = timePtr(completedAt)
	order.CancelledAt = timePtr(cancelledAt)

	if err := r.loadItems(ctx, db, order); err != nil {
		return nil, err
	}
	if err := r.loadTokens(ctx, db, order); err != nil {
		return nil, err
	}
	if err := r.loadTables(ctx, db, order); err != nil {
		return nil, err
	}
	return order, nil
}

func (r *OrderRepository) loadItems(ctx context.Context, db *sql.DB, order *entity.Order) error {
	query := `SELECT id, item_id, variation_id, name, station, quantity, unit_price, total_price, token_id
		FROM order_items WHERE order_id = ? ORDER BY id`
	rows, err := db.QueryContext(ctx, query, order.ID)
	if err != nil {
		return apperr.Storage(err, "list order items")
	}
	defer rows.Close()

	for rows.Next() {
		item := entity.OrderItem{OrderID: order.ID}
		var variationID sql.NullString
		err := rows.Scan(&item.ID, &item.ItemID, &variationID, &item.Name, &item.Station, &item.Quantity, &item.UnitPrice, &item.TotalPrice, &item.TokenID)
		if err != nil {
			return apperr.Storage(err, "scan order item")
		}
		item.VariationID = stringPtr(variationID)
		order.Items = append(order.Items, item)
	}
	return apperr.Storage(rows.Err(), "list order items")
}

func (r *OrderRepository) loadTokens(ctx context.Context, db *sql.DB, order *entity.Order) error {
	query := `SELECT id, station, status, ready_at, created_at, updated_at FROM order_tokens WHERE order_id = ? ORDER BY id`
	rows, err := db.QueryContext(ctx, query, order.ID)
	if err != nil {
		return apperr.Storage(err, "list order tokens")
	}
	defer rows.Close()

	for rows.Next() {
		t := entity.OrderToken{OrderID: order.ID}
		var readyAt sql.NullTime
		if err := rows.Scan(&t.ID, &t.Station, &t.Status, &readyAt, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return apperr.Storage(err, "scan order token")
		}
		t.ReadyAt = timePtr(readyAt)
		for _, item := range order.Items {
			if item.TokenID == t.ID {
				t.ItemIDs = append(t.ItemIDs, item.ID)
			}
		}
		order.Tokens = append(order.Tokens, t)
	}
	if err := rows.Err(); err != nil {
		return apperr.Storage(err, "list order tokens")
	}
	// Kitchen before bar, matching the order tokens are created in.
	sort.SliceStable(order.Tokens, func(i, j int) bool {
		return order.Tokens[i].Station == entity.StationKitchen && order.Tokens[j].Station != entity.StationKitchen
	})
	return nil
}

func (r *OrderRepository) loadTables(ctx context.Context, db *sql.DB, order *entity.Order) error {
	rows, err := db.QueryContext(ctx, `SELECT table_id FROM order_tables WHERE order_id = ? ORDER BY table_id`, order.ID)
	if err != nil {
		return apperr.Storage(err, "list order tables")
	}
	defer rows.Close()

	for rows.Next() {
		var tableID string
		if err := rows.Scan(&tableID); err != nil {
			return apperr.Storage(err, "scan order table")
		}
		order.TableIDs = append(order.TableIDs, tableID)
	}
	return apperr.Storage(rows.Err(), "list order tables")
}

// AdvanceToken is a pair of guarded updates in one transaction: zero affected rows on either
// means another writer moved the token or the order first, and nothing is kept.
func (r *OrderRepository) AdvanceToken(ctx context.Context, order *entity.Order, tokenID string, tokenFrom entity.TokenStatus, orderFrom entity.OrderStatus) error {
	token := order.Token(tokenID)
	if token == nil {
		return apperr.NotFound("token %s not found", tokenID)
	}
	db := r.shard(order.ID)

	return withTx(ctx, db, "advance token", func(tx *sql.Tx) error {
		query := `UPDATE order_tokens SET status = ?, ready_at = ?, updated_at = ? WHERE id = ? AND status = ?`
		res, err := tx.ExecContext(ctx, query, token.Status, nullTime(token.ReadyAt), token.UpdatedAt, token.ID, tokenFrom)
		if err != nil {
			return apperr.Storage(err, "update token status")
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return apperr.Storage(err, "update token status")
		}
		if affected == 0 {
			return apperr.InvalidState("token %s is no longer %s", token.ID, tokenFrom)
		}

		if order.Status == orderFrom {
			return nil
		}
		query = `UPDATE orders SET status = ?, updated_at = ?, completed_at = ? WHERE id = ? AND status = ?`
		res, err = tx.ExecContext(ctx, query, order.Status, order.UpdatedAt, nullTime(order.CompletedAt), order.ID, orderFrom)
		if err != nil {
			return apperr.Storage(err, "update order status")
		}
		affected, err = res.RowsAffected()
		if err != nil {
			return apperr.Storage(err, "update order status")
		}
		if affected == 0 {
			return apperr.InvalidState("order %s is no longer %s", order.ID, orderFrom)
		}
		return nil
	})
}

func (r *OrderRepository) CancelOrder(ctx context.Context, order *entity.Order, from entity.OrderStatus) error {
	db := r.shard(order.ID)

	return withTx(ctx, db, "cancel order", func(tx *sql.Tx) error {
		query := `UPDATE orders SET status = ?, cancelled_at = ?, updated_at = ? WHERE id = ? AND status = ?`
		res, err := tx.ExecContext(ctx, query, entity.OrderCancelled, nullTime(order.CancelledAt), order.UpdatedAt, order.ID, from)
		if err != nil {
			return apperr.Storage(err, "cancel order")
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return apperr.Storage(err, "cancel order")
		}
		if affected == 0 {
			return apperr.InvalidState("order %s is no longer %s", order.ID, from)
		}

		tokenQuery := `UPDATE order_tokens SET status = ?, updated_at = ? WHERE order_id = ? AND status IN (?, ?)`
		_, err = tx.ExecContext(ctx, tokenQuery, entity.TokenCancelled, order.UpdatedAt, order.ID, entity.TokenPending, entity.TokenPreparing)
		return apperr.Storage(err, "cancel order tokens")
	})
}

func (r *OrderRepository) MarkPointsCredited(ctx context.Context, orderID string) (bool, error) {
	db := r.shard(orderID)

	res, err := db.ExecContext(ctx, `UPDATE orders SET points_credited = TRUE WHERE id = ? AND points_credited = FALSE`, orderID)
	if err != nil {
		return false, apperr.Storage(err, "mark points credited")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, apperr.Storage(err, "mark points credited")
	}
	return affected == 1, nil
}

// ListUncreditedOrders asks every shard for up to limit orders and keeps the oldest limit
// of the merged result.
func (r *OrderRepository) ListUncreditedOrders(ctx context.Context, limit int) ([]string, error) {
	type pending struct {
		id          string
		completedAt time.Time
	}
	var found []pending
	query := `SELECT id, completed_at FROM orders
		WHERE status = ? AND points_credited = FALSE AND customer_id IS NOT NULL AND completed_at IS NOT NULL
		ORDER BY completed_at, id LIMIT ?`
	for _, db := range r.dbShards {
		rows, err := db.QueryContext(ctx, query, entity.OrderCompleted, limit)
		if err != nil {
			return nil, apperr.Storage(err, "list uncredited orders")
		}
		for rows.Next() {
			var p pending
			if err := rows.Scan(&p.id, &p.completedAt); err != nil {
				rows.Close()
				return nil, apperr.Storage(err, "scan uncredited order")
			}
			found = append(found, p)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, apperr.Storage(err, "list uncredited orders")
		}
	}
	sort.SliceStable(found, func(i, j int) bool {
		if found[i].completedAt.Equal(found[j].completedAt) {
			return found[i].id < found[j].id
		}
		return found[i].completedAt.Before(found[j].completedAt)
	})
	if len(found) > limit {
		found = found[:limit]
	}
	ids := make([]string, len(found))
	for i, p := range found {
		ids[i] = p.id
	}
	return ids, nil
}

// ListOpenTokens fans out over every shard and merges the results oldest first.
func (r *OrderRepository) ListOpenTokens(ctx context.Context, station entity.Station) ([]entity.OrderToken, error) {
	var out []entity.OrderToken
	query := `SELECT t.id, t.order_id, t.station, t.status, t.created_at, t.updated_at, i.id
		FROM order_tokens t LEFT JOIN order_items i ON i.token_id = t.id
		WHERE t.station = ? AND t.status IN (?, ?)
		ORDER BY t.created_at, t.id, i.id`
	for _, db := range r.dbShards {
		rows, err := db.QueryContext(ctx, query, station, entity.TokenPending, entity.TokenPreparing)
		if err != nil {
			return nil, apperr.Storage(err, "list open tokens")
		}
		for rows.Next() {
			var t entity.OrderToken
			var itemID sql.NullString
			if err := rows.Scan(&t.ID, &t.OrderID, &t.Station, &t.Status, &t.CreatedAt, &t.UpdatedAt, &itemID); err != nil {
				rows.Close()
				return nil, apperr.Storage(err, "scan open token")
			}
			if n := len(out); n > 0 && out[n-1].ID == t.ID {
				if itemID.Valid {
					out[n-1].ItemIDs = append(out[n-1].ItemIDs, itemID.String)
				}
				continue
			}
			if itemID.Valid {
				t.ItemIDs = []string{itemID.String}
			}
			out = append(out, t)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, apperr.Storage(err, "list open tokens")
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}
