// Package repository declares the storage contracts the services depend on. Implementations
// live in the mysql and memory subpackages; every read filters soft-deleted rows.
package repository

import (
	"context"
	"restaurant-service/internal/entity"
	"time"
)

type CatalogRepository interface {
	GetItem(ctx context.Context, id string) (*entity.Item, error)
	GetVariation(ctx context.Context, id string) (*entity.Variation, error)
	GetItems(ctx context.Context) ([]*entity.Item, error)
	CreateCategory(ctx context.Context, category *entity.Category) error
	CreateItem(ctx context.Context, item *entity.Item) error
	UpdateItemStatus(ctx context.Context, id string, status entity.ItemStatus) error
	UpdateVariationStatus(ctx context.Context, itemID, variationID string, status entity.ItemStatus) error
}

type DiscountRepository interface {
	GetDiscount(ctx context.Context, id string) (*entity.Discount, error)
	ListActiveApplications(ctx context.Context, at time.Time) ([]entity.DiscountApplication, error)
	CreateDiscount(ctx context.Context, discount *entity.Discount) error
	CreateApplication(ctx context.Context, application *entity.DiscountApplication) error
}

type CustomerRepository interface {
	GetCustomer(ctx context.Context, id string) (*entity.Customer, error)
	CreateCustomer(ctx context.Context, customer *entity.Customer) error
	// Credit adds points and records a ledger entry in one transaction. A non-empty
	// reference that already has a CREDIT entry makes the call a no-op returning false.
	Credit(ctx context.Context, customerID string, points int64, reference string) (credited bool, balance int64, err error)
	// Debit subtracts points only if the balance covers them, returning the new balance.
	Debit(ctx context.Context, customerID string, points int64) (balance int64, err error)
}

type OrderRepository interface {
	// Save persists the order with its items and tokens, all or nothing.
	Save(ctx context.Context, order *entity.Order) error
	GetOrderByID(ctx context.Context, id string) (*entity.Order, error)
	// AdvanceToken writes the new status of one token together with the order status derived
	// from it, all or nothing. It fails with an invalid-state error when the stored token is
	// no longer tokenFrom or the stored order is no longer orderFrom.
	AdvanceToken(ctx context.Context, order *entity.Order, tokenID string, tokenFrom entity.TokenStatus, orderFrom entity.OrderStatus) error
	// CancelOrder sets the order and its unfinished tokens to CANCELLED in one transaction.
	CancelOrder(ctx context.Context, order *entity.Order, from entity.OrderStatus) error
	// MarkPointsCredited flips the credited flag; it returns false when it was already set.
	MarkPointsCredited(ctx context.Context, orderID string) (bool, error)
	// ListUncreditedOrders returns the ids of completed customer orders whose points are not
	// yet credited, oldest completion first, at most limit of them.
	ListUncreditedOrders(ctx context.Context, limit int) ([]string, error)
	ListOpenTokens(ctx context.Context, station entity.Station) ([]entity.OrderToken, error)
}
