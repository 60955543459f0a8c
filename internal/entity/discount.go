package entity

import (
	"github.com/shopspring/decimal"
	"time"
)

type DiscountScope string

const (
	ScopeCustomer DiscountScope = "CUSTOMER"
	ScopeProduct  DiscountScope = "PRODUCT"
	ScopeCategory DiscountScope = "CATEGORY"
	ScopeAll      DiscountScope = "ALL"
)

type DiscountValueType string

const (
	DiscountPercentage DiscountValueType = "PERCENTAGE"
	DiscountFixed      DiscountValueType = "FIXED"
)

type Discount struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Scope     DiscountScope     `json:"scope"`
	ValueType DiscountValueType `json:"value_type"`
	Value     decimal.Decimal   `json:"value"`
	StartsAt  *time.Time        `json:"starts_at,omitempty"`
	EndsAt    *time.Time        `json:"ends_at,omitempty"`
	Active    bool              `json:"active"`
	CreatedAt time.Time         `json:"created_at"`
	DeletedAt *time.Time        `json:"deleted_at,omitempty"`
}

// ValidAt reports whether the discount can be applied at t. The window is [StartsAt, EndsAt).
func (d *Discount) ValidAt(t time.Time) bool {
	if !d.Active || d.DeletedAt != nil {
		return false
	}
	if d.StartsAt != nil && t.Before(*d.StartsAt) {
		return false
	}
	if d.EndsAt != nil && !t.Before(*d.EndsAt) {
		return false
	}
	return true
}

// DiscountApplication binds a discount to customers, products and categories. Each list is a
// separate join table owned by the application; all three empty means "applies to everyone".
type DiscountApplication struct {
	ID          string    `json:"id"`
	DiscountID  string    `json:"discount_id"`
	Discount    Discount  `json:"discount"`
	CustomerIDs []string  `json:"customer_ids,omitempty"`
	ProductIDs  []string  `json:"product_ids,omitempty"`
	CategoryIDs []string  `json:"category_ids,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Unscoped reports whether the application names no customers, products or categories.
func (a *DiscountApplication) Unscoped() bool {
	return len(a.CustomerIDs) == 0 && len(a.ProductIDs) == 0 && len(a.CategoryIDs) == 0
}
