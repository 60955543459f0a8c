package mysql

import (
	"context"
	"database/sql"
	"errors"
	"github.com/google/uuid"
	"restaurant-service/internal/apperr"
	"restaurant-service/internal/entity"
	"time"
)

type DiscountRepository struct {
	db *sql.DB
}

func NewDiscountRepository(db *sql.DB) *DiscountRepository {
	return &DiscountRepository{db}
}

const discountColumns = `d.id, d.name, d.scope, d.value_type, d.value, d.starts_at, d.ends_at, d.active, d.created_at`

func scanDiscount(row interface{ Scan(...interface{}) error }, d *entity.Discount) error {
	var startsAt, endsAt sql.NullTime
	if err := row.Scan(&d.ID, &d.Name, &d.Scope, &d.ValueType, &d.Value, &startsAt, &endsAt, &d.Active, &d.CreatedAt); err != nil {
		return err
	}
	d.StartsAt = timePtr(startsAt)
	d.EndsAt = timePtr(endsAt)
	return nil
}

func (r *DiscountRepository) GetDiscount(ctx context.Context, id string) (*entity.Discount, error) {
	query := `SELECT ` + discountColumns + ` FROM discounts d WHERE d.id = ? AND d.deleted_at IS NULL`
	d := &entity.Discount{}
	if err := scanDiscount(r.db.QueryRowContext(ctx, query, id), d); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("discount %s not found", id)
		}
		return nil, apperr.Storage(err, "get discount")
	}
	return d, nil
}

// ListActiveApplications returns applications whose discount is active and valid at `at`,
// with their three scope lists loaded from the join tables.
func (r *DiscountRepository) ListActiveApplications(ctx context.Context, at time.Time) ([]entity.DiscountApplication, error) {
	query := `SELECT a.id, a.discount_id, a.created_at, ` + discountColumns + `
		FROM discount_applications a
		JOIN discounts d ON d.id = a.discount_id
		WHERE d.deleted_at IS NULL AND d.active = TRUE
			AND (d.starts_at IS NULL OR d.starts_at <= ?)
			AND (d.ends_at IS NULL OR d.ends_at > ?)
		ORDER BY a.created_at, a.id`
	rows, err := r.db.QueryContext(ctx, query, at, at)
	if err != nil {
		return nil, apperr.Storage(err, "list discount applications")
	}

	var apps []entity.DiscountApplication
	index := map[string]int{}
	for rows.Next() {
		var a entity.DiscountApplication
		var startsAt, endsAt sql.NullTime
		d := &a.Discount
		err := rows.Scan(&a.ID, &a.DiscountID, &a.CreatedAt,
			&d.ID, &d.Name, &d.Scope, &d.ValueType, &d.Value, &startsAt, &endsAt, &d.Active, &d.CreatedAt)
		if err != nil {
			rows.Close()
			return nil, apperr.Storage(err, "scan discount application")
		}
		d.StartsAt = timePtr(startsAt)
		d.EndsAt = timePtr(endsAt)
		index[a.ID] = len(apps)
		apps = append(apps, a)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage(err, "list discount applications")
	}
	if len(apps) == 0 {
		return nil, nil
	}

	ids := make([]interface{}, 0, len(apps))
	for _, a := range apps {
		ids = append(ids, a.ID)
	}
	joins := []struct {
		table  string
		column string
		set    func(a *entity.DiscountApplication, v string)
	}{
		{"discount_application_customers", "customer_id", func(a *entity.DiscountApplication, v string) { a.CustomerIDs = append(a.CustomerIDs, v) }},
		{"discount_application_products", "item_id", func(a *entity.DiscountApplication, v string) { a.ProductIDs = append(a.ProductIDs, v) }},
		{"discount_application_categories", "category_id", func(a *entity.DiscountApplication, v string) { a.CategoryIDs = append(a.CategoryIDs, v) }},
	}
	for _, j := range joins {
		query := `SELECT application_id, ` + j.column + ` FROM ` + j.table + ` WHERE application_id IN (` + placeholders(len(ids)) + `) ORDER BY application_id, ` + j.column
		rows, err := r.db.QueryContext(ctx, query, ids...)
		if err != nil {
			return nil, apperr.Storage(err, "list "+j.table)
		}
		for rows.Next() {
			var appID, value string
			if err := rows.Scan(&appID, &value); err != nil {
				rows.Close()
				return nil, apperr.Storage(err, "scan "+j.table)
			}
			if i, ok := index[appID]; ok {
				j.set(&apps[i], value)
			}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, apperr.Storage(err, "list "+j.table)
		}
	}
	return apps, nil
}

func (r *DiscountRepository) CreateDiscount(ctx context.Context, d *entity.Discount) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	query := `INSERT INTO discounts (id, name, scope, value_type, value, starts_at, ends_at, active, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query, d.ID, d.Name, d.Scope, d.ValueType, d.Value, nullTime(d.StartsAt), nullTime(d.EndsAt), d.Active, d.CreatedAt)
	return apperr.Storage(err, "create discount")
}

// CreateApplication inserts the application and its join rows in one transaction.
func (r *DiscountRepository) CreateApplication(ctx context.Context, a *entity.DiscountApplication) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	return withTx(ctx, r.db, "create discount application", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO discount_applications (id, discount_id, created_at) VALUES (?, ?, ?)`, a.ID, a.DiscountID, a.CreatedAt)
		if err != nil {
			return apperr.Storage(err, "insert discount application")
		}
		inserts := []struct {
			query  string
			values []string
		}{
			{`INSERT INTO discount_application_customers (application_id, customer_id) VALUES (?, ?)`, a.CustomerIDs},
			{`INSERT INTO discount_application_products (application_id, item_id) VALUES (?, ?)`, a.ProductIDs},
			{`INSERT INTO discount_application_categories (application_id, category_id) VALUES (?, ?)`, a.CategoryIDs},
		}
		for _, ins := range inserts {
			for _, v := range ins.values {
				if _, err := tx.ExecContext(ctx, ins.query, a.ID, v); err != nil {
					return apperr.Storage(err, "insert discount scope")
				}
			}
		}
		return nil
	})
}
