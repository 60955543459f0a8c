package service

import (
	"context"
	"github.com/shopspring/decimal"
	"restaurant-service/internal/entity"
	"restaurant-service/internal/repository"
	"sort"
	"time"
)

// Specificity ranks, most specific first.
const (
	rankNone = iota
	rankAll
	rankCategory
	rankProduct
	rankCustomer
)

var hundred = decimal.NewFromInt(100)

// CartLine is one priced line as the discount engine sees it.
type CartLine struct {
	ItemID      string
	CategoryIDs []string
	Quantity    int
	UnitPrice   decimal.Decimal
}

type Cart struct {
	CustomerID string
	Lines      []CartLine
}

// SubTotal is the sum of quantity times unit price over all lines.
func (c Cart) SubTotal() decimal.Decimal {
	sub := decimal.Zero
	for _, l := range c.Lines {
		sub = sub.Add(l.UnitPrice.Round(2).Mul(decimal.NewFromInt(int64(l.Quantity))))
	}
	return sub.Round(2)
}

// Resolution is the selected discount and the amount it takes off the sub total.
type Resolution struct {
	Discount      entity.Discount
	ApplicationID string
	Amount        decimal.Decimal
}

type DiscountEngine struct {
	discountRepo repository.DiscountRepository
	now          func() time.Time
}

func NewDiscountEngine(discountRepo repository.DiscountRepository) *DiscountEngine {
	return &DiscountEngine{discountRepo: discountRepo, now: time.Now}
}

// Resolve picks at most one discount for cart. A non-empty discountID restricts the choice to
// applications of that discount; an unknown id is NotFound, while an expired or inactive one
// simply yields no discount.
func (e *DiscountEngine) Resolve(ctx context.Context, cart Cart, discountID string) (*Resolution, error) {
	at := e.now().UTC()
	if discountID != "" {
		if _, err := e.discountRepo.GetDiscount(ctx, discountID); err != nil {
			return nil, err
		}
	}

	apps, err := e.discountRepo.ListActiveApplications(ctx, at)
	if err != nil {
		return nil, err
	}
	if discountID != "" {
		filtered := apps[:0:0]
		for _, a := range apps {
			if a.DiscountID == discountID {
				filtered = append(filtered, a)
			}
		}
		apps = filtered
	}
	return SelectDiscount(apps, cart, at), nil
}

type candidate struct {
	app    entity.DiscountApplication
	rank   int
	amount decimal.Decimal
}

// SelectDiscount is the pure resolution step: filter to applications valid at `at` that match
// the cart, then order by specificity, computed amount, raw value, creation time and id.
func SelectDiscount(apps []entity.DiscountApplication, cart Cart, at time.Time) *Resolution {
	sub := cart.SubTotal()
	var candidates []candidate
	for _, a := range apps {
		if !a.Discount.ValidAt(at) {
			continue
		}
		rank := specificity(a, cart)
		if rank == rankNone {
			continue
		}
		candidates = append(candidates, candidate{app: a, rank: rank, amount: DiscountAmount(a.Discount, sub)})
	}
	if len(candidates) == 0 {
		return nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.rank != b.rank {
			return a.rank > b.rank
		}
		if !a.amount.Equal(b.amount) {
			return a.amount.GreaterThan(b.amount)
		}
		if !a.app.Discount.Value.Equal(b.app.Discount.Value) {
			return a.app.Discount.Value.GreaterThan(b.app.Discount.Value)
		}
		if !a.app.CreatedAt.Equal(b.app.CreatedAt) {
			return a.app.CreatedAt.Before(b.app.CreatedAt)
		}
		return a.app.ID < b.app.ID
	})

	best := candidates[0]
	return &Resolution{
		Discount:      best.app.Discount,
		ApplicationID: best.app.ID,
		Amount:        best.amount,
	}
}

// specificity returns the best rank at which a matches the cart. A scoped application that
// matches nothing is not eligible at all.
func specificity(a entity.DiscountApplication, cart Cart) int {
	if a.Unscoped() {
		return rankAll
	}
	if cart.CustomerID != "" && contains(a.CustomerIDs, cart.CustomerID) {
		return rankCustomer
	}
	for _, l := range cart.Lines {
		if contains(a.ProductIDs, l.ItemID) {
			return rankProduct
		}
	}
	for _, l := range cart.Lines {
		for _, c := range l.CategoryIDs {
			if contains(a.CategoryIDs, c) {
				return rankCategory
			}
		}
	}
	return rankNone
}

// DiscountAmount computes what d takes off sub, rounded to cents and never more than sub.
func DiscountAmount(d entity.Discount, sub decimal.Decimal) decimal.Decimal {
	var amount decimal.Decimal
	switch d.ValueType {
	case entity.DiscountPercentage:
		amount = sub.Mul(d.Value).Div(hundred).Round(2)
	case entity.DiscountFixed:
		amount = d.Value.Round(2)
	}
	if amount.IsNegative() {
		return decimal.Zero
	}
	if amount.GreaterThan(sub) {
		return sub
	}
	return amount
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
