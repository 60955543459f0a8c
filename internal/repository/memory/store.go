// Package memory is the in-process storage driver. It backs `storage.driver=memory` for local
// runs and is what the service tests run against.
package memory

import (
	"context"
	"github.com/google/uuid"
	"restaurant-service/internal/apperr"
	"restaurant-service/internal/entity"
	"sort"
	"sync"
	"time"
)

type Store struct {
	mu           sync.Mutex
	categories   map[string]entity.Category
	items        map[string]entity.Item
	variations   map[string]entity.Variation
	customers    map[string]entity.Customer
	ledger       []entity.LedgerEntry
	discounts    map[string]entity.Discount
	applications []entity.DiscountApplication
	orders       map[string]entity.Order

	// FailSave makes the next Save fail with a storage error. Tests use it to check atomicity.
	FailSave bool
}

func NewStore() *Store {
	return &Store{
		categories: map[string]entity.Category{},
		items:      map[string]entity.Item{},
		variations: map[string]entity.Variation{},
		customers:  map[string]entity.Customer{},
		discounts:  map[string]entity.Discount{},
		orders:     map[string]entity.Order{},
	}
}

// Catalog

func (s *Store) CreateCategory(ctx context.Context, c *entity.Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	s.categories[c.ID] = *c
	return nil
}

func (s *Store) CreateItem(ctx context.Context, item *entity.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	for i := range item.Variations {
		v := &item.Variations[i]
		if v.ID == "" {
			v.ID = uuid.NewString()
		}
		v.ItemID = item.ID
		s.variations[v.ID] = *v
	}
	s.items[item.ID] = copyItem(*item)
	return nil
}

func (s *Store) GetItem(ctx context.Context, id string) (*entity.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok || item.DeletedAt != nil {
		return nil, apperr.NotFound("item %s not found", id)
	}
	out := copyItem(item)
	return &out, nil
}

func (s *Store) GetVariation(ctx context.Context, id string) (*entity.Variation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.variations[id]
	if !ok {
		return nil, apperr.NotFound("variation %s not found", id)
	}
	if item, ok := s.items[v.ItemID]; !ok || item.DeletedAt != nil {
		return nil, apperr.NotFound("variation %s not found", id)
	}
	return &v, nil
}

func (s *Store) GetItems(ctx context.Context) ([]*entity.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*entity.Item
	for _, item := range s.items {
		if item.DeletedAt != nil {
			continue
		}
		c := copyItem(item)
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out, nil
}

func (s *Store) UpdateItemStatus(ctx context.Context, id string, status entity.ItemStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok || item.DeletedAt != nil {
		return apperr.NotFound("item %s not found", id)
	}
	item.Status = status
	s.items[id] = item
	return nil
}

func (s *Store) UpdateVariationStatus(ctx context.Context, itemID, variationID string, status entity.ItemStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.variations[variationID]
	item, itemOK := s.items[itemID]
	if !ok || !itemOK || item.DeletedAt != nil || v.ItemID != itemID {
		return apperr.NotFound("variation %s not found on item %s", variationID, itemID)
	}
	v.Status = status
	s.variations[variationID] = v
	item = copyItem(item)
	for i := range item.Variations {
		if item.Variations[i].ID == variationID {
			item.Variations[i].Status = status
		}
	}
	s.items[itemID] = item
	return nil
}

// DeleteItem soft-deletes an item.
func (s *Store) DeleteItem(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return apperr.NotFound("item %s not found", id)
	}
	now := time.Now().UTC()
	item.DeletedAt = &now
	s.items[id] = item
	return nil
}

func copyItem(item entity.Item) entity.Item {
	item.Variations = append([]entity.Variation(nil), item.Variations...)
	item.CategoryIDs = append([]string(nil), item.CategoryIDs...)
	return item
}

// Customers and loyalty ledger

func (s *Store) CreateCustomer(ctx context.Context, c *entity.Customer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	s.customers[c.ID] = *c
	return nil
}

func (s *Store) GetCustomer(ctx context.Context, id string) (*entity.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.customers[id]
	if !ok || c.DeletedAt != nil {
		return nil, apperr.NotFound("customer %s not found", id)
	}
	return &c, nil
}

func (s *Store) Credit(ctx context.Context, customerID string, points int64, reference string) (bool, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.customers[customerID]
	if !ok || c.DeletedAt != nil {
		return false, 0, apperr.NotFound("customer %s not found", customerID)
	}
	if reference != "" {
		for _, e := range s.ledger {
			if e.Kind == entity.LedgerCredit && e.Reference == reference {
				return false, c.Points, nil
			}
		}
	}
	c.Points += points
	s.customers[customerID] = c
	s.ledger = append(s.ledger, entity.LedgerEntry{
		ID:         uuid.NewString(),
		CustomerID: customerID,
		Kind:       entity.LedgerCredit,
		Points:     points,
		Reference:  reference,
		CreatedAt:  time.Now().UTC(),
	})
	return true, c.Points, nil
}

func (s *Store) Debit(ctx context.Context, customerID string, points int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.customers[customerID]
	if !ok || c.DeletedAt != nil {
		return 0, apperr.NotFound("customer %s not found", customerID)
	}
	if c.Points < points {
		return c.Points, apperr.InsufficientBalance("customer %s has %d points, %d requested", customerID, c.Points, points)
	}
	c.Points -= points
	s.customers[customerID] = c
	s.ledger = append(s.ledger, entity.LedgerEntry{
		ID:         uuid.NewString(),
		CustomerID: customerID,
		Kind:       entity.LedgerDebit,
		Points:     points,
		CreatedAt:  time.Now().UTC(),
	})
	return c.Points, nil
}

// Ledger returns the ledger entries of a customer in insertion order.
func (s *Store) Ledger(customerID string) []entity.LedgerEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []entity.LedgerEntry
	for _, e := range s.ledger {
		if e.CustomerID == customerID {
			out = append(out, e)
		}
	}
	return out
}

// Discounts

func (s *Store) CreateDiscount(ctx context.Context, d *entity.Discount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	s.discounts[d.ID] = *d
	return nil
}

func (s *Store) CreateApplication(ctx context.Context, a *entity.DiscountApplication) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.discounts[a.DiscountID]
	if !ok {
		return apperr.NotFound("discount %s not found", a.DiscountID)
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	a.Discount = d
	s.applications = append(s.applications, *a)
	return nil
}

func (s *Store) GetDiscount(ctx context.Context, id string) (*entity.Discount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.discounts[id]
	if !ok || d.DeletedAt != nil {
		return nil, apperr.NotFound("discount %s not found", id)
	}
	return &d, nil
}

func (s *Store) ListActiveApplications(ctx context.Context, at time.Time) ([]entity.DiscountApplication, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []entity.DiscountApplication
	for _, a := range s.applications {
		d, ok := s.discounts[a.DiscountID]
		if !ok || !d.ValidAt(at) {
			continue
		}
		a.Discount = d
		out = append(out, a)
	}
	return out, nil
}

// Orders

func (s *Store) Save(ctx context.Context, order *entity.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailSave {
		s.FailSave = false
		return apperr.Storage(errFailSave, "save order")
	}
	if _, exists := s.orders[order.ID]; exists {
		return apperr.Storage(errDuplicate, "save order")
	}
	s.orders[order.ID] = copyOrder(*order)
	return nil
}

func (s *Store) GetOrderByID(ctx context.Context, id string) (*entity.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, apperr.NotFound("order %s not found", id)
	}
	out := copyOrder(o)
	return &out, nil
}

func (s *Store) AdvanceToken(ctx context.Context, order *entity.Order, tokenID string, tokenFrom entity.TokenStatus, orderFrom entity.OrderStatus) error {
	token := order.Token(tokenID)
	if token == nil {
		return apperr.NotFound("token %s not found", tokenID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[order.ID]
	if !ok {
		return apperr.NotFound("order %s not found", order.ID)
	}
	stored := o.Token(tokenID)
	if stored == nil {
		return apperr.NotFound("token %s not found", tokenID)
	}
	if stored.Status != tokenFrom {
		return apperr.InvalidState("token %s is %s, expected %s", tokenID, stored.Status, tokenFrom)
	}
	if o.Status != orderFrom {
		return apperr.InvalidState("order %s is %s, expected %s", order.ID, o.Status, orderFrom)
	}
	stored.Status = token.Status
	stored.ReadyAt = token.ReadyAt
	stored.UpdatedAt = token.UpdatedAt
	if order.Status != orderFrom {
		o.Status = order.Status
		o.UpdatedAt = order.UpdatedAt
		o.CompletedAt = order.CompletedAt
	}
	s.orders[o.ID] = o
	return nil
}

func (s *Store) CancelOrder(ctx context.Context, order *entity.Order, from entity.OrderStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[order.ID]
	if !ok {
		return apperr.NotFound("order %s not found", order.ID)
	}
	if o.Status != from {
		return apperr.InvalidState("order %s is %s, expected %s", order.ID, o.Status, from)
	}
	o.Status = entity.OrderCancelled
	o.CancelledAt = order.CancelledAt
	o.UpdatedAt = order.UpdatedAt
	for i := range o.Tokens {
		if !o.Tokens[i].Status.Terminal() {
			o.Tokens[i].Status = entity.TokenCancelled
			o.Tokens[i].UpdatedAt = order.UpdatedAt
		}
	}
	s.orders[o.ID] = o
	return nil
}

func (s *Store) MarkPointsCredited(ctx context.Context, orderID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return false, apperr.NotFound("order %s not found", orderID)
	}
	if o.PointsCredited {
		return false, nil
	}
	o.PointsCredited = true
	s.orders[orderID] = o
	return true, nil
}

func (s *Store) ListUncreditedOrders(ctx context.Context, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var pending []entity.Order
	for _, o := range s.orders {
		if o.Status == entity.OrderCompleted && !o.PointsCredited && o.CustomerID != nil {
			pending = append(pending, o)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		a, b := pending[i].CompletedAt, pending[j].CompletedAt
		if a == nil || b == nil || a.Equal(*b) {
			return pending[i].ID < pending[j].ID
		}
		return a.Before(*b)
	})
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	ids := make([]string, len(pending))
	for i, o := range pending {
		ids[i] = o.ID
	}
	return ids, nil
}

func (s *Store) ListOpenTokens(ctx context.Context, station entity.Station) ([]entity.OrderToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []entity.OrderToken
	for _, o := range s.orders {
		for _, t := range o.Tokens {
			if t.Station == station && !t.Status.Terminal() {
				t.ItemIDs = append([]string(nil), t.ItemIDs...)
				out = append(out, t)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func copyOrder(o entity.Order) entity.Order {
	o.Items = append([]entity.OrderItem(nil), o.Items...)
	o.TableIDs = append([]string(nil), o.TableIDs...)
	tokens := make([]entity.OrderToken, len(o.Tokens))
	for i, t := range o.Tokens {
		t.ItemIDs = append([]string(nil), t.ItemIDs...)
		tokens[i] = t
	}
	o.Tokens = tokens
	return o
}
