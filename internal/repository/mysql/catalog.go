package mysql

import (
	"context"
	"database/sql"
	"errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"restaurant-service/internal/apperr"
	"restaurant-service/internal/entity"
	"time"
)

type CatalogRepository struct {
	db *sql.DB
}

func NewCatalogRepository(db *sql.DB) *CatalogRepository {
	return &CatalogRepository{db}
}

const itemColumns = `id, name, name_localized, slug, type, status, regular_price, sale_price, created_at`

func scanItem(row interface{ Scan(...interface{}) error }) (*entity.Item, error) {
	item := &entity.Item{}
	var sale decimal.NullDecimal
	err := row.Scan(&item.ID, &item.Name, &item.NameLocalized, &item.Slug, &item.Type, &item.Status, &item.RegularPrice, &sale, &item.CreatedAt)
	if err != nil {
		return nil, err
	}
	if sale.Valid {
		p := sale.Decimal
		item.SalePrice = &p
	}
	return item, nil
}

func (r *CatalogRepository) GetItem(ctx context.Context, id string) (*entity.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM items WHERE id = ? AND deleted_at IS NULL`
	item, err := scanItem(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("item %s not found", id)
		}
		return nil, apperr.Storage(err, "get item")
	}

	if item.Variations, err = r.variationsOf(ctx, id); err != nil {
		return nil, err
	}
	if item.CategoryIDs, err = r.categoriesOf(ctx, id); err != nil {
		return nil, err
	}
	return item, nil
}

func (r *CatalogRepository) variationsOf(ctx context.Context, itemID string) ([]entity.Variation, error) {
	query := `SELECT id, item_id, name, regular_price, sale_price, status, sort_order FROM variations WHERE item_id = ? ORDER BY sort_order, id`
	rows, err := r.db.QueryContext(ctx, query, itemID)
	if err != nil {
		return nil, apperr.Storage(err, "list variations")
	}
	defer rows.Close()

	var out []entity.Variation
	for rows.Next() {
		v, err := scanVariation(rows)
		if err != nil {
			return nil, apperr.Storage(err, "scan variation")
		}
		out = append(out, *v)
	}
	return out, apperr.Storage(rows.Err(), "list variations")
}

func (r *CatalogRepository) categoriesOf(ctx context.Context, itemID string) ([]string, error) {
	query := `SELECT ic.category_id FROM item_categories ic
		JOIN categories c ON c.id = ic.category_id
		WHERE ic.item_id = ? AND c.deleted_at IS NULL ORDER BY ic.category_id`
	rows, err := r.db.QueryContext(ctx, query, itemID)
	if err != nil {
		return nil, apperr.Storage(err, "list item categories")
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apperr.Storage(err, "scan item category")
		}
		out = append(out, id)
	}
	return out, apperr.Storage(rows.Err(), "list item categories")
}

func scanVariation(row interface{ Scan(...interface{}) error }) (*entity.Variation, error) {
	v := &entity.Variation{}
	var sale decimal.NullDecimal
	if err := row.Scan(&v.ID, &v.ItemID, &v.Name, &v.RegularPrice, &sale, &v.Status, &v.SortOrder); err != nil {
		return nil, err
	}
	if sale.Valid {
		p := sale.Decimal
		v.SalePrice = &p
	}
	return v, nil
}

func (r *CatalogRepository) GetVariation(ctx context.Context, id string) (*entity.Variation, error) {
	query := `SELECT v.id, v.item_id, v.name, v.regular_price, v.sale_price, v.status, v.sort_order
		FROM variations v JOIN items i ON i.id = v.item_id
		WHERE v.id = ? AND i.deleted_at IS NULL`
	v, err := scanVariation(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("variation %s not found", id)
		}
		return nil, apperr.Storage(err, "get variation")
	}
	return v, nil
}

// GetItems lists every live item with its variations and categories. Used to pre-warm the cache.
func (r *CatalogRepository) GetItems(ctx context.Context) ([]*entity.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM items WHERE deleted_at IS NULL ORDER BY slug`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, apperr.Storage(err, "list items")
	}
	defer rows.Close()

	var items []*entity.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, apperr.Storage(err, "scan item")
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage(err, "list items")
	}

	for _, item := range items {
		if item.Variations, err = r.variationsOf(ctx, item.ID); err != nil {
			return nil, err
		}
		if item.CategoryIDs, err = r.categoriesOf(ctx, item.ID); err != nil {
			return nil, err
		}
	}
	return items, nil
}

func (r *CatalogRepository) CreateCategory(ctx context.Context, category *entity.Category) error {
	if category.ID == "" {
		category.ID = uuid.NewString()
	}
	query := `INSERT INTO categories (id, name, slug) VALUES (?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query, category.ID, category.Name, category.Slug)
	return apperr.Storage(err, "create category")
}

// CreateItem inserts the item, its variations and its category memberships in one transaction.
func (r *CatalogRepository) CreateItem(ctx context.Context, item *entity.Item) error {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	return withTx(ctx, r.db, "create item", func(tx *sql.Tx) error {
		query := `INSERT INTO items (id, name, name_localized, slug, type, status, regular_price, sale_price, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
		_, err := tx.ExecContext(ctx, query, item.ID, item.Name, item.NameLocalized, item.Slug, item.Type, item.Status, item.RegularPrice, nullDecimal(item.SalePrice), item.CreatedAt)
		if err != nil {
			return apperr.Storage(err, "insert item")
		}

		for i := range item.Variations {
			v := &item.Variations[i]
			if v.ID == "" {
				v.ID = uuid.NewString()
			}
			v.ItemID = item.ID
			query := `INSERT INTO variations (id, item_id, name, regular_price, sale_price, status, sort_order) VALUES (?, ?, ?, ?, ?, ?, ?)`
			_, err := tx.ExecContext(ctx, query, v.ID, v.ItemID, v.Name, v.RegularPrice, nullDecimal(v.SalePrice), v.Status, v.SortOrder)
			if err != nil {
				return apperr.Storage(err, "insert variation")
			}
		}

		for _, categoryID := range item.CategoryIDs {
			_, err := tx.ExecContext(ctx, `INSERT INTO item_categories (item_id, category_id) VALUES (?, ?)`, item.ID, categoryID)
			if err != nil {
				return apperr.Storage(err, "insert item category")
			}
		}
		return nil
	})
}

// UpdateItemStatus treats zero affected rows as missing only after checking the row exists,
// since MySQL reports zero for an update that changes nothing.
func (r *CatalogRepository) UpdateItemStatus(ctx context.Context, id string, status entity.ItemStatus) error {
	res, err := r.db.ExecContext(ctx, `UPDATE items SET status = ? WHERE id = ? AND deleted_at IS NULL`, status, id)
	if err != nil {
		return apperr.Storage(err, "update item status")
	}
	if affected, err := res.RowsAffected(); err != nil {
		return apperr.Storage(err, "update item status")
	} else if affected > 0 {
		return nil
	}
	return r.exists(ctx, `SELECT 1 FROM items WHERE id = ? AND deleted_at IS NULL`, apperr.NotFound("item %s not found", id), id)
}

func (r *CatalogRepository) UpdateVariationStatus(ctx context.Context, itemID, variationID string, status entity.ItemStatus) error {
	query := `UPDATE variations v JOIN items i ON i.id = v.item_id SET v.status = ?
		WHERE v.id = ? AND v.item_id = ? AND i.deleted_at IS NULL`
	res, err := r.db.ExecContext(ctx, query, status, variationID, itemID)
	if err != nil {
		return apperr.Storage(err, "update variation status")
	}
	if affected, err := res.RowsAffected(); err != nil {
		return apperr.Storage(err, "update variation status")
	} else if affected > 0 {
		return nil
	}
	query = `SELECT 1 FROM variations v JOIN items i ON i.id = v.item_id WHERE v.id = ? AND v.item_id = ? AND i.deleted_at IS NULL`
	return r.exists(ctx, query, apperr.NotFound("variation %s not found on item %s", variationID, itemID), variationID, itemID)
}

func (r *CatalogRepository) exists(ctx context.Context, query string, missing error, args ...interface{}) error {
	var one int
	err := r.db.QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return missing
	}
	return apperr.Storage(err, "check row exists")
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}
