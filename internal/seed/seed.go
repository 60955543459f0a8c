// Package seed fills an empty store with a demo menu, customers and discounts.
package seed

import (
	"context"
	"fmt"
	"github.com/jaswdr/faker"
	"github.com/rs/zerolog"
	"github.com/schollz/progressbar/v3"
	"github.com/shopspring/decimal"
	"io"
	"math/rand"
	"os"
	"restaurant-service/internal/entity"
	"restaurant-service/internal/repository"
	"strings"
	"time"
)

var logger = zerolog.New(os.Stdout).With().Timestamp().Str("component", "seed").Logger()

type Options struct {
	Customers int
	Seed      int64
	// Progress receives the progress bars; nil discards them.
	Progress io.Writer
}

type Result struct {
	Categories []*entity.Category
	Items      []*entity.Item
	Customers  []*entity.Customer
	Discounts  []*entity.Discount
}

type menuEntry struct {
	name    string
	station entity.Station
	min     int
	max     int
	sizes   bool
}

var menu = map[string][]menuEntry{
	"Mains": {
		{name: "Margherita Pizza", station: entity.StationKitchen, min: 9, max: 14},
		{name: "Beef Burger", station: entity.StationKitchen, min: 10, max: 16},
		{name: "Chicken Tikka Masala", station: entity.StationKitchen, min: 11, max: 17},
		{name: "Vegetable Curry", station: entity.StationKitchen, min: 9, max: 13},
	},
	"Sides": {
		{name: "Fries", station: entity.StationKitchen, min: 3, max: 5, sizes: true},
		{name: "Garlic Bread", station: entity.StationKitchen, min: 3, max: 6},
		{name: "Side Salad", station: entity.StationKitchen, min: 4, max: 6},
	},
	"Drinks": {
		{name: "Cola", station: entity.StationBar, min: 2, max: 4, sizes: true},
		{name: "Lemonade", station: entity.StationBar, min: 2, max: 4, sizes: true},
		{name: "Iced Tea", station: entity.StationBar, min: 2, max: 4},
		{name: "Espresso", station: entity.StationBar, min: 2, max: 3},
	},
}

var categoryOrder = []string{"Mains", "Sides", "Drinks"}

type Seeder struct {
	catalog   repository.CatalogRepository
	customers repository.CustomerRepository
	discounts repository.DiscountRepository
}

func NewSeeder(catalog repository.CatalogRepository, customers repository.CustomerRepository, discounts repository.DiscountRepository) *Seeder {
	return &Seeder{catalog: catalog, customers: customers, discounts: discounts}
}

func slugify(name string) string {
	return strings.ToLower(strings.ReplaceAll(name, " ", "-"))
}

func newBar(w io.Writer, n int, desc string) *progressbar.ProgressBar {
	if w == nil {
		w = io.Discard
	}
	return progressbar.NewOptions(n,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(desc),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
}

// Run writes the demo data. It is not idempotent: slugs are unique, so seeding a store twice
// fails on the first category.
func (s *Seeder) Run(ctx context.Context, opts Options) (*Result, error) {
	fake := faker.NewWithSeed(rand.NewSource(opts.Seed))
	res := &Result{}

	categories := map[string]*entity.Category{}
	for _, name := range categoryOrder {
		c := &entity.Category{Name: name, Slug: slugify(name)}
		if err := s.catalog.CreateCategory(ctx, c); err != nil {
			return nil, fmt.Errorf("create category %s: %w", name, err)
		}
		categories[name] = c
		res.Categories = append(res.Categories, c)
	}

	total := 0
	for _, entries := range menu {
		total += len(entries)
	}
	bar := newBar(opts.Progress, total, "items")
	for _, cat := range categoryOrder {
		for _, m := range menu[cat] {
			item := newItem(fake, m, categories[cat].ID)
			if err := s.catalog.CreateItem(ctx, item); err != nil {
				return nil, fmt.Errorf("create item %s: %w", m.name, err)
			}
			res.Items = append(res.Items, item)
			_ = bar.Add(1)
		}
	}

	bar = newBar(opts.Progress, opts.Customers, "customers")
	for i := 0; i < opts.Customers; i++ {
		c := &entity.Customer{
			Name:   fake.Person().Name(),
			Phone:  fake.Phone().Number(),
			Email:  fake.Internet().Email(),
			Points: int64(fake.IntBetween(0, 200)),
			Active: fake.IntBetween(0, 9) > 0,
		}
		if err := s.customers.CreateCustomer(ctx, c); err != nil {
			return nil, fmt.Errorf("create customer: %w", err)
		}
		res.Customers = append(res.Customers, c)
		_ = bar.Add(1)
	}

	if err := s.seedDiscounts(ctx, res, categories); err != nil {
		return nil, err
	}

	logger.Info().Msgf("Seeded %d categories, %d items, %d customers and %d discounts",
		len(res.Categories), len(res.Items), len(res.Customers), len(res.Discounts))
	return res, nil
}

func newItem(fake faker.Faker, m menuEntry, categoryID string) *entity.Item {
	price := decimal.NewFromFloat(fake.Float64(2, m.min, m.max)).Round(2)
	item := &entity.Item{
		Name:         m.name,
		Slug:         slugify(m.name),
		Type:         m.station,
		Status:       entity.ItemAvailable,
		RegularPrice: price,
		CategoryIDs:  []string{categoryID},
	}
	if fake.IntBetween(0, 4) == 0 {
		sale := price.Mul(decimal.RequireFromString("0.9")).Round(2)
		item.SalePrice = &sale
	}
	if m.sizes {
		item.Variations = []entity.Variation{
			{Name: "Regular", RegularPrice: price, Status: entity.ItemAvailable},
			{Name: "Large", RegularPrice: price.Add(decimal.NewFromInt(1)), Status: entity.ItemAvailable, SortOrder: 1},
		}
	}
	return item
}

// seedDiscounts adds one discount per scope: a storewide percentage, a category percentage, a
// fixed amount off one product and a loyalty percentage for the first customer.
func (s *Seeder) seedDiscounts(ctx context.Context, res *Result, categories map[string]*entity.Category) error {
	now := time.Now().UTC()
	ends := now.AddDate(0, 1, 0)

	type plan struct {
		discount entity.Discount
		app      entity.DiscountApplication
	}
	plans := []plan{
		{
			discount: entity.Discount{Name: "Happy hour", Scope: entity.ScopeAll, ValueType: entity.DiscountPercentage, Value: decimal.NewFromInt(5)},
		},
		{
			discount: entity.Discount{Name: "Drinks deal", Scope: entity.ScopeCategory, ValueType: entity.DiscountPercentage, Value: decimal.NewFromInt(10)},
			app:      entity.DiscountApplication{CategoryIDs: []string{categories["Drinks"].ID}},
		},
	}
	if len(res.Items) > 0 {
		plans = append(plans, plan{
			discount: entity.Discount{Name: "Pizza night", Scope: entity.ScopeProduct, ValueType: entity.DiscountFixed, Value: decimal.NewFromInt(3)},
			app:      entity.DiscountApplication{ProductIDs: []string{res.Items[0].ID}},
		})
	}
	if len(res.Customers) > 0 {
		plans = append(plans, plan{
			discount: entity.Discount{Name: "Regulars", Scope: entity.ScopeCustomer, ValueType: entity.DiscountPercentage, Value: decimal.NewFromInt(15)},
			app:      entity.DiscountApplication{CustomerIDs: []string{res.Customers[0].ID}},
		})
	}

	for i := range plans {
		d := plans[i].discount
		d.Active = true
		d.StartsAt = &now
		d.EndsAt = &ends
		if err := s.discounts.CreateDiscount(ctx, &d); err != nil {
			return fmt.Errorf("create discount %s: %w", d.Name, err)
		}
		app := plans[i].app
		app.DiscountID = d.ID
		if err := s.discounts.CreateApplication(ctx, &app); err != nil {
			return fmt.Errorf("create application for %s: %w", d.Name, err)
		}
		res.Discounts = append(res.Discounts, &d)
	}
	return nil
}
