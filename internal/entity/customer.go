package entity

import "time"

type Customer struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Phone     string     `json:"phone"`
	Email     string     `json:"email"`
	Points    int64      `json:"points"`
	Active    bool       `json:"active"`
	CreatedAt time.Time  `json:"created_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

type LedgerKind string

const (
	LedgerCredit LedgerKind = "CREDIT"
	LedgerDebit  LedgerKind = "DEBIT"
)

// LedgerEntry records one points movement. Reference is the order id for order credits and
// is unique per kind, which is what makes order credits idempotent.
type LedgerEntry struct {
	ID         string     `json:"id"`
	CustomerID string     `json:"customer_id"`
	Kind       LedgerKind `json:"kind"`
	Points     int64      `json:"points"`
	Reference  string     `json:"reference,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}
