package service

import (
	"context"
	"errors"
	"math/rand"
	"restaurant-service/internal/apperr"
	"restaurant-service/internal/entity"
	"testing"
	"time"
)

var base = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func app(id string, valueType entity.DiscountValueType, value string, created time.Duration, scope func(a *entity.DiscountApplication)) entity.DiscountApplication {
	a := entity.DiscountApplication{
		ID:         id,
		DiscountID: "d-" + id,
		Discount: entity.Discount{
			ID:        "d-" + id,
			ValueType: valueType,
			Value:     dec(value),
			Active:    true,
		},
		CreatedAt: base.Add(created),
	}
	if scope != nil {
		scope(&a)
	}
	return a
}

func testCart() Cart {
	return Cart{
		CustomerID: "cust-1",
		Lines: []CartLine{
			{ItemID: "burger", CategoryIDs: []string{"mains"}, Quantity: 2, UnitPrice: dec("100")},
			{ItemID: "fries", CategoryIDs: []string{"sides"}, Quantity: 1, UnitPrice: dec("50")},
		},
	}
}

func TestSelectDiscountSpecificity(t *testing.T) {
	customer := app("customer", entity.DiscountFixed, "1", 0, func(a *entity.DiscountApplication) { a.CustomerIDs = []string{"cust-1"} })
	product := app("product", entity.DiscountPercentage, "20", 0, func(a *entity.DiscountApplication) { a.ProductIDs = []string{"burger"} })
	category := app("category", entity.DiscountPercentage, "30", 0, func(a *entity.DiscountApplication) { a.CategoryIDs = []string{"sides"} })
	all := app("all", entity.DiscountPercentage, "50", 0, nil)
	otherCustomer := app("other", entity.DiscountPercentage, "90", 0, func(a *entity.DiscountApplication) { a.CustomerIDs = []string{"cust-2"} })

	tests := []struct {
		name string
		apps []entity.DiscountApplication
		want string
	}{
		{"customer beats everything", []entity.DiscountApplication{all, category, product, customer}, "customer"},
		{"product beats category", []entity.DiscountApplication{all, category, product}, "product"},
		{"category beats blanket", []entity.DiscountApplication{all, category}, "category"},
		{"blanket alone", []entity.DiscountApplication{all}, "all"},
		{"scoped without match is ignored", []entity.DiscountApplication{otherCustomer, all}, "all"},
		{"nothing eligible", []entity.DiscountApplication{otherCustomer}, ""},
		{"empty registry", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SelectDiscount(tt.apps, testCart(), base)
			switch {
			case tt.want == "" && got != nil:
				t.Errorf("SelectDiscount = %s, want none", got.ApplicationID)
			case tt.want != "" && (got == nil || got.ApplicationID != tt.want):
				t.Errorf("SelectDiscount = %+v, want %s", got, tt.want)
			}
		})
	}
}

func TestSelectDiscountTieBreaks(t *testing.T) {
	tests := []struct {
		name string
		apps []entity.DiscountApplication
		want string
	}{
		{"larger amount wins", []entity.DiscountApplication{
			app("ten", entity.DiscountPercentage, "10", 0, nil),
			app("fixed40", entity.DiscountFixed, "40", 0, nil),
		}, "fixed40"},
		{"equal amount, larger value wins", []entity.DiscountApplication{
			app("fixed25", entity.DiscountFixed, "25", 0, nil),
			app("pct10", entity.DiscountPercentage, "10", time.Hour, nil),
		}, "fixed25"},
		{"equal value, earliest created wins", []entity.DiscountApplication{
			app("late", entity.DiscountPercentage, "10", time.Hour, nil),
			app("early", entity.DiscountPercentage, "10", 0, nil),
		}, "early"},
		{"same instant, smallest id wins", []entity.DiscountApplication{
			app("b", entity.DiscountPercentage, "10", 0, nil),
			app("a", entity.DiscountPercentage, "10", 0, nil),
		}, "a"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SelectDiscount(tt.apps, testCart(), base)
			if got == nil || got.ApplicationID != tt.want {
				t.Errorf("SelectDiscount = %+v, want %s", got, tt.want)
			}
		})
	}
}

func TestSelectDiscountIsDeterministic(t *testing.T) {
	apps := []entity.DiscountApplication{
		app("a", entity.DiscountPercentage, "10", 0, nil),
		app("b", entity.DiscountPercentage, "10", 0, nil),
		app("c", entity.DiscountFixed, "25", 0, nil),
		app("d", entity.DiscountPercentage, "10", -time.Minute, func(a *entity.DiscountApplication) { a.CategoryIDs = []string{"drinks"} }),
	}
	want := SelectDiscount(apps, testCart(), base)
	r := rand.New(rand.NewSource(1))
	for i := 0; i < 50; i++ {
		shuffled := append([]entity.DiscountApplication(nil), apps...)
		r.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		got := SelectDiscount(shuffled, testCart(), base)
		if got.ApplicationID != want.ApplicationID || !got.Amount.Equal(want.Amount) {
			t.Fatalf("run %d picked %s (%s), want %s (%s)", i, got.ApplicationID, got.Amount, want.ApplicationID, want.Amount)
		}
	}
}

func TestSelectDiscountValidityWindow(t *testing.T) {
	past := base.Add(-time.Hour)
	future := base.Add(time.Hour)

	tests := []struct {
		name   string
		mutate func(d *entity.Discount)
		valid  bool
	}{
		{"open window", func(d *entity.Discount) {}, true},
		{"inside window", func(d *entity.Discount) { d.StartsAt, d.EndsAt = &past, &future }, true},
		{"starts exactly now", func(d *entity.Discount) { d.StartsAt = &base }, true},
		{"ends exactly now", func(d *entity.Discount) { d.EndsAt = &base }, false},
		{"expired", func(d *entity.Discount) { d.EndsAt = &past }, false},
		{"not started", func(d *entity.Discount) { d.StartsAt = &future }, false},
		{"inactive", func(d *entity.Discount) { d.Active = false }, false},
		{"soft deleted", func(d *entity.Discount) { d.DeletedAt = &past }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := app("x", entity.DiscountPercentage, "10", 0, nil)
			tt.mutate(&a.Discount)
			got := SelectDiscount([]entity.DiscountApplication{a}, testCart(), base)
			if (got != nil) != tt.valid {
				t.Errorf("selected = %v, want %v", got != nil, tt.valid)
			}
		})
	}
}

func TestDiscountAmount(t *testing.T) {
	tests := []struct {
		valueType entity.DiscountValueType
		value     string
		sub       string
		want      string
	}{
		{entity.DiscountPercentage, "10", "250", "25"},
		{entity.DiscountPercentage, "15", "33.33", "5"},
		{entity.DiscountPercentage, "12.5", "19.99", "2.5"},
		{entity.DiscountPercentage, "150", "80", "80"},
		{entity.DiscountFixed, "30", "250", "30"},
		{entity.DiscountFixed, "300", "250", "250"},
		{entity.DiscountFixed, "-5", "250", "0"},
		{entity.DiscountPercentage, "10", "0", "0"},
	}
	for _, tt := range tests {
		d := entity.Discount{ValueType: tt.valueType, Value: dec(tt.value)}
		if got := DiscountAmount(d, dec(tt.sub)); !got.Equal(dec(tt.want)) {
			t.Errorf("DiscountAmount(%s %s, %s) = %s, want %s", tt.valueType, tt.value, tt.sub, got, tt.want)
		}
	}
}

func TestResolveExplicitDiscount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	small := f.discount(t, entity.DiscountPercentage, "5", entity.DiscountApplication{})
	f.discount(t, entity.DiscountPercentage, "20", entity.DiscountApplication{})

	got, err := f.engine.Resolve(ctx, testCart(), small.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.Discount.ID != small.ID || !got.Amount.Equal(dec("12.5")) {
		t.Errorf("Resolve(%s) = %+v, want the 5%% discount", small.ID, got)
	}

	if _, err := f.engine.Resolve(ctx, testCart(), "unknown"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("unknown discount error = %v, want not found", err)
	}

	expired := &entity.Discount{Name: "old", Scope: entity.ScopeAll, ValueType: entity.DiscountFixed, Value: dec("10"), Active: true}
	end := time.Now().Add(-time.Hour)
	expired.EndsAt = &end
	if err := f.store.CreateDiscount(ctx, expired); err != nil {
		t.Fatal(err)
	}
	if err := f.store.CreateApplication(ctx, &entity.DiscountApplication{DiscountID: expired.ID}); err != nil {
		t.Fatal(err)
	}
	got, err = f.engine.Resolve(ctx, testCart(), expired.ID)
	if err != nil || got != nil {
		t.Errorf("Resolve(expired) = (%+v, %v), want no discount and no error", got, err)
	}
}
