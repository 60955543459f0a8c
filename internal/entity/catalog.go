package entity

import (
	"github.com/shopspring/decimal"
	"time"
)

// Station is where an item is prepared. It doubles as the item type.
type Station string

const (
	StationKitchen Station = "KITCHEN"
	StationBar     Station = "BAR"
)

func (s Station) Valid() bool {
	return s == StationKitchen || s == StationBar
}

type ItemStatus string

const (
	ItemAvailable   ItemStatus = "AVAILABLE"
	ItemUnavailable ItemStatus = "UNAVAILABLE"
)

type Category struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Slug      string     `json:"slug"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

type Item struct {
	ID            string           `json:"id"`
	Name          string           `json:"name"`
	NameLocalized string           `json:"name_localized,omitempty"`
	Slug          string           `json:"slug"`
	Type          Station          `json:"type"`
	Status        ItemStatus       `json:"status"`
	RegularPrice  decimal.Decimal  `json:"regular_price"`
	SalePrice     *decimal.Decimal `json:"sale_price,omitempty"`
	Variations    []Variation      `json:"variations,omitempty"`
	CategoryIDs   []string         `json:"category_ids"`
	CreatedAt     time.Time        `json:"created_at"`
	DeletedAt     *time.Time       `json:"deleted_at,omitempty"`
}

type Variation struct {
	ID           string           `json:"id"`
	ItemID       string           `json:"item_id"`
	Name         string           `json:"name"`
	RegularPrice decimal.Decimal  `json:"regular_price"`
	SalePrice    *decimal.Decimal `json:"sale_price,omitempty"`
	Status       ItemStatus       `json:"status"`
	SortOrder    int              `json:"sort_order"`
}

// EffectivePrice is the sale price when one is set, otherwise the regular price.
func (i *Item) EffectivePrice() decimal.Decimal {
	return effectivePrice(i.RegularPrice, i.SalePrice)
}

func (v *Variation) EffectivePrice() decimal.Decimal {
	return effectivePrice(v.RegularPrice, v.SalePrice)
}

func effectivePrice(regular decimal.Decimal, sale *decimal.Decimal) decimal.Decimal {
	if sale != nil && !sale.IsNegative() {
		return sale.Round(2)
	}
	return regular.Round(2)
}

func (i *Item) Available() bool {
	return i.Status == ItemAvailable && i.DeletedAt == nil
}

/*
Mysql Tables

CREATE TABLE items (
	id CHAR(36) PRIMARY KEY,
	name VARCHAR(255) NOT NULL,
	name_localized VARCHAR(255) NOT NULL DEFAULT '',
	slug VARCHAR(255) NOT NULL UNIQUE,
	type VARCHAR(16) NOT NULL,
	status VARCHAR(16) NOT NULL,
	regular_price DECIMAL(12,2) NOT NULL,
	sale_price DECIMAL(12,2) NULL,
	...
);

See migrations/migrations.go for the full schema.
*/
