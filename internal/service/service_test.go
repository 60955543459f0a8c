package service

import (
	"context"
	"errors"
	"github.com/shopspring/decimal"
	"restaurant-service/internal/apperr"
	"restaurant-service/internal/entity"
	"restaurant-service/internal/events"
	"restaurant-service/internal/idempotency"
	"restaurant-service/internal/lock"
	"restaurant-service/internal/repository"
	"restaurant-service/internal/repository/memory"
	"restaurant-service/internal/retry"
	"sync"
	"testing"
	"time"
)

// tickingClock advances one second per reading so creation order is unambiguous.
type tickingClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *tickingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

type fixture struct {
	store    *memory.Store
	recorder *events.Recorder
	orders   *OrderService
	loyalty  *LoyaltyService
	engine   *DiscountEngine
	catalog  *CatalogService

	burger *entity.Item
	fries  *entity.Item
	cola   *entity.Item
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStore()

	f := &fixture{store: store, recorder: &events.Recorder{}}
	f.engine = NewDiscountEngine(store)
	f.catalog = NewCatalogService(store, nil, time.Minute)
	f.rewire(store, store)

	mains := &entity.Category{Name: "Mains", Slug: "mains"}
	drinks := &entity.Category{Name: "Drinks", Slug: "drinks"}
	for _, c := range []*entity.Category{mains, drinks} {
		if err := store.CreateCategory(ctx, c); err != nil {
			t.Fatal(err)
		}
	}

	f.burger = &entity.Item{Name: "Burger", Slug: "burger", Type: entity.StationKitchen, Status: entity.ItemAvailable,
		RegularPrice: dec("100"), CategoryIDs: []string{mains.ID}}
	f.fries = &entity.Item{Name: "Fries", Slug: "fries", Type: entity.StationKitchen, Status: entity.ItemAvailable,
		RegularPrice: dec("60"), CategoryIDs: []string{mains.ID}}
	sale := dec("50")
	f.fries.SalePrice = &sale
	f.cola = &entity.Item{Name: "Cola", Slug: "cola", Type: entity.StationBar, Status: entity.ItemAvailable,
		RegularPrice: dec("20"), CategoryIDs: []string{drinks.ID},
		Variations: []entity.Variation{
			{Name: "Large", RegularPrice: dec("25"), Status: entity.ItemAvailable},
			{Name: "Diet", RegularPrice: dec("20"), Status: entity.ItemUnavailable, SortOrder: 1},
		}}
	for _, item := range []*entity.Item{f.burger, f.fries, f.cola} {
		if err := store.CreateItem(ctx, item); err != nil {
			t.Fatal(err)
		}
	}
	return f
}

// rewire rebuilds the order and loyalty services on top of the given repositories, so a test
// can put a failing wrapper in front of the store.
func (f *fixture) rewire(orders repository.OrderRepository, customers repository.CustomerRepository) {
	policy := retry.Policy{Attempts: 3, Backoff: 5 * time.Millisecond}
	f.loyalty = NewLoyaltyService(customers, orders, f.recorder, dec("0.1"), policy)
	f.orders = NewOrderService(
		orders,
		customers,
		f.catalog,
		f.engine,
		f.loyalty,
		lock.NewMemoryLocker(2*time.Second),
		idempotency.NewMemoryStore(),
		f.recorder,
		policy,
	)
	f.orders.now = (&tickingClock{t: time.Now().Add(-time.Hour)}).Now
}

func (f *fixture) customer(t *testing.T, points int64, active bool) *entity.Customer {
	t.Helper()
	c := &entity.Customer{Name: "Ada", Phone: "555-0100", Points: points, Active: active}
	if err := f.store.CreateCustomer(context.Background(), c); err != nil {
		t.Fatal(err)
	}
	return c
}

func (f *fixture) discount(t *testing.T, valueType entity.DiscountValueType, value string, app entity.DiscountApplication) *entity.Discount {
	t.Helper()
	ctx := context.Background()
	d := &entity.Discount{Name: "promo", Scope: entity.ScopeAll, ValueType: valueType, Value: dec(value), Active: true}
	if err := f.store.CreateDiscount(ctx, d); err != nil {
		t.Fatal(err)
	}
	app.DiscountID = d.ID
	if err := f.store.CreateApplication(ctx, &app); err != nil {
		t.Fatal(err)
	}
	return d
}

// takeaway is 2 burgers and 1 fries: 2x100 + 1x50.
func (f *fixture) takeaway(customerID string) *CreateOrderRequest {
	return &CreateOrderRequest{
		CustomerID:    customerID,
		OrderType:     entity.OrderTakeaway,
		PaymentMethod: entity.PaymentCash,
		Items: []LineRequest{
			{ItemID: f.burger.ID, Quantity: 2},
			{ItemID: f.fries.ID, Quantity: 1},
		},
	}
}

// mixed has one kitchen and one bar line.
func (f *fixture) mixed(customerID string) *CreateOrderRequest {
	return &CreateOrderRequest{
		CustomerID:    customerID,
		OrderType:     entity.OrderDineIn,
		PaymentMethod: entity.PaymentCard,
		TableIDs:      []string{"T4"},
		Items: []LineRequest{
			{ItemID: f.burger.ID, Quantity: 1},
			{ItemID: f.cola.ID, VariationID: f.cola.Variations[0].ID, Quantity: 2},
		},
	}
}

var errConnReset = errors.New("connection reset by peer")

// flakyOrders fails the next failAdvance token writes, and every MarkPointsCredited while
// markDown is set, with a storage error.
type flakyOrders struct {
	repository.OrderRepository
	mu          sync.Mutex
	failAdvance int
	markDown    bool
}

func (r *flakyOrders) AdvanceToken(ctx context.Context, order *entity.Order, tokenID string, tokenFrom entity.TokenStatus, orderFrom entity.OrderStatus) error {
	r.mu.Lock()
	if r.failAdvance > 0 {
		r.failAdvance--
		r.mu.Unlock()
		return apperr.Storage(errConnReset, "advance token")
	}
	r.mu.Unlock()
	return r.OrderRepository.AdvanceToken(ctx, order, tokenID, tokenFrom, orderFrom)
}

func (r *flakyOrders) MarkPointsCredited(ctx context.Context, orderID string) (bool, error) {
	r.mu.Lock()
	down := r.markDown
	r.mu.Unlock()
	if down {
		return false, apperr.Storage(errConnReset, "mark points credited")
	}
	return r.OrderRepository.MarkPointsCredited(ctx, orderID)
}

func (r *flakyOrders) setMarkDown(down bool) {
	r.mu.Lock()
	r.markDown = down
	r.mu.Unlock()
}

// flakyCustomers fails every Credit while down is set.
type flakyCustomers struct {
	repository.CustomerRepository
	mu   sync.Mutex
	down bool
}

func (r *flakyCustomers) Credit(ctx context.Context, customerID string, points int64, reference string) (bool, int64, error) {
	r.mu.Lock()
	down := r.down
	r.mu.Unlock()
	if down {
		return false, 0, apperr.Storage(errConnReset, "credit points")
	}
	return r.CustomerRepository.Credit(ctx, customerID, points, reference)
}

func (r *flakyCustomers) setDown(down bool) {
	r.mu.Lock()
	r.down = down
	r.mu.Unlock()
}
