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

type CustomerRepository struct {
	db *sql.DB
}

func NewCustomerRepository(db *sql.DB) *CustomerRepository {
	return &CustomerRepository{db}
}

func (r *CustomerRepository) GetCustomer(ctx context.Context, id string) (*entity.Customer, error) {
	query := `SELECT id, name, phone, email, points, active, created_at FROM customers WHERE id = ? AND deleted_at IS NULL`
	c := &entity.Customer{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(&c.ID, &c.Name, &c.Phone, &c.Email, &c.Points, &c.Active, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("customer %s not found", id)
		}
		return nil, apperr.Storage(err, "get customer")
	}
	return c, nil
}

func (r *CustomerRepository) CreateCustomer(ctx context.Context, c *entity.Customer) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	query := `INSERT INTO customers (id, name, phone, email, points, active, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query, c.ID, c.Name, c.Phone, c.Email, c.Points, c.Active, c.CreatedAt)
	return apperr.Storage(err, "create customer")
}

// Credit inserts the ledger entry first; the unique (kind, reference) index rejects a second
// credit for the same order before the balance is touched.
func (r *CustomerRepository) Credit(ctx context.Context, customerID string, points int64, reference string) (bool, int64, error) {
	credited := false
	var balance int64
	err := withTx(ctx, r.db, "credit points", func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `SELECT points FROM customers WHERE id = ? AND deleted_at IS NULL FOR UPDATE`, customerID).Scan(&balance)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return apperr.NotFound("customer %s not found", customerID)
			}
			return apperr.Storage(err, "lock customer")
		}

		query := `INSERT INTO loyalty_ledger (id, customer_id, kind, points, reference, created_at) VALUES (?, ?, ?, ?, ?, ?)`
		ref := sql.NullString{String: reference, Valid: reference != ""}
		_, err = tx.ExecContext(ctx, query, uuid.NewString(), customerID, entity.LedgerCredit, points, ref, time.Now().UTC())
		if err != nil {
			if isDuplicate(err) {
				return nil
			}
			return apperr.Storage(err, "insert ledger entry")
		}

		_, err = tx.ExecContext(ctx, `UPDATE customers SET points = points + ? WHERE id = ?`, points, customerID)
		if err != nil {
			return apperr.Storage(err, "add points")
		}
		balance += points
		credited = true
		return nil
	})
	if err != nil {
		return false, 0, err
	}
	return credited, balance, nil
}

// Debit is a compare-and-set on the balance: the UPDATE only matches while points >= amount,
// so two concurrent debits cannot both pass a balance check only one of them should pass.
func (r *CustomerRepository) Debit(ctx context.Context, customerID string, points int64) (int64, error) {
	var balance int64
	err := withTx(ctx, r.db, "debit points", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE customers SET points = points - ? WHERE id = ? AND points >= ? AND deleted_at IS NULL`, points, customerID, points)
		if err != nil {
			return apperr.Storage(err, "debit points")
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return apperr.Storage(err, "debit points")
		}

		err = tx.QueryRowContext(ctx, `SELECT points FROM customers WHERE id = ? AND deleted_at IS NULL`, customerID).Scan(&balance)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return apperr.NotFound("customer %s not found", customerID)
			}
			return apperr.Storage(err, "read balance")
		}
		if affected == 0 {
			return apperr.InsufficientBalance("customer %s has %d points, %d requested", customerID, balance, points)
		}

		query := `INSERT INTO loyalty_ledger (id, customer_id, kind, points, reference, created_at) VALUES (?, ?, ?, ?, NULL, ?)`
		_, err = tx.ExecContext(ctx, query, uuid.NewString(), customerID, entity.LedgerDebit, points, time.Now().UTC())
		return apperr.Storage(err, "insert ledger entry")
	})
	if err != nil {
		return 0, err
	}
	return balance, nil
}
