package entity

import (
	"github.com/shopspring/decimal"
	"strings"
	"time"
)

type OrderType string

const (
	OrderDineIn   OrderType = "DINEIN"
	OrderTakeaway OrderType = "TAKEAWAY"
	OrderDelivery OrderType = "DELIVERY"
)

type PaymentMethod string

const (
	PaymentCash   PaymentMethod = "CASH"
	PaymentCard   PaymentMethod = "CARD"
	PaymentMobile PaymentMethod = "MOBILE"
)

type OrderStatus string

const (
	OrderPending   OrderStatus = "PENDING"
	OrderPreparing OrderStatus = "PREPARING"
	OrderCompleted OrderStatus = "COMPLETED"
	OrderCancelled OrderStatus = "CANCELLED"
)

// Terminal reports whether no further transition is allowed.
func (s OrderStatus) Terminal() bool {
	return s == OrderCompleted || s == OrderCancelled
}

// Cancellable reports whether an order in this status may be cancelled.
func (s OrderStatus) Cancellable() bool {
	return s == OrderPending || s == OrderPreparing
}

type TokenStatus string

const (
	TokenPending   TokenStatus = "PENDING"
	TokenPreparing TokenStatus = "PREPARING"
	TokenReady     TokenStatus = "READY"
	TokenCancelled TokenStatus = "CANCELLED"
)

func (s TokenStatus) Terminal() bool {
	return s == TokenReady || s == TokenCancelled
}

// ValidTokenTransition covers staff actions only. CANCELLED is reached through order
// cancellation and never through a token advance.
func ValidTokenTransition(from, to TokenStatus) bool {
	switch from {
	case TokenPending:
		return to == TokenPreparing
	case TokenPreparing:
		return to == TokenReady
	}
	return false
}

type Order struct {
	ID             string          `json:"id"`
	OrderNumber    string          `json:"order_number"`
	OrderType      OrderType       `json:"order_type"`
	Status         OrderStatus     `json:"status"`
	SubTotal       decimal.Decimal `json:"sub_total"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	DiscountID     *string         `json:"discount_id,omitempty"`
	PaymentMethod  PaymentMethod   `json:"payment_method"`
	CustomerID     *string         `json:"customer_id,omitempty"`
	TableIDs       []string        `json:"table_ids,omitempty"`
	Items          []OrderItem     `json:"items"`
	Tokens         []OrderToken    `json:"tokens"`
	PointsCredited bool            `json:"points_credited"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
	CancelledAt    *time.Time      `json:"cancelled_at,omitempty"`
}

type OrderItem struct {
	ID          string          `json:"id"`
	OrderID     string          `json:"order_id"`
	ItemID      string          `json:"item_id"`
	VariationID *string         `json:"variation_id,omitempty"`
	Name        string          `json:"name"`
	Station     Station         `json:"station"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	TotalPrice  decimal.Decimal `json:"total_price"`
	TokenID     string          `json:"token_id"`
}

// Reprice recomputes TotalPrice from Quantity and UnitPrice.
func (i *OrderItem) Reprice() {
	i.UnitPrice = i.UnitPrice.Round(2)
	i.TotalPrice = i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity))).Round(2)
}

type OrderToken struct {
	ID        string      `json:"id"`
	OrderID   string      `json:"order_id"`
	Station   Station     `json:"station"`
	Status    TokenStatus `json:"status"`
	ItemIDs   []string    `json:"item_ids"`
	ReadyAt   *time.Time  `json:"ready_at,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// TokenID derives the token id from its order and station. An order has at most one token per
// station, and keeping the order id inside the token id lets the shard router find the order.
func TokenID(orderID string, station Station) string {
	return orderID + "." + strings.ToLower(string(station))
}

// SplitTokenID is the inverse of TokenID.
func SplitTokenID(tokenID string) (orderID string, station Station, ok bool) {
	i := strings.LastIndex(tokenID, ".")
	if i <= 0 || i == len(tokenID)-1 {
		return "", "", false
	}
	station = Station(strings.ToUpper(tokenID[i+1:]))
	if !station.Valid() {
		return "", "", false
	}
	return tokenID[:i], station, true
}

// Token returns a pointer to the order's token with the given id, or nil.
func (o *Order) Token(id string) *OrderToken {
	for i := range o.Tokens {
		if o.Tokens[i].ID == id {
			return &o.Tokens[i]
		}
	}
	return nil
}

// AllTokensReady reports whether the order has tokens and every one of them is READY.
func (o *Order) AllTokensReady() bool {
	if len(o.Tokens) == 0 {
		return false
	}
	for _, t := range o.Tokens {
		if t.Status != TokenReady {
			return false
		}
	}
	return true
}

// DerivedStatus is the order status implied by the token states. Cancellation is explicit and
// therefore never derived.
func (o *Order) DerivedStatus() OrderStatus {
	if o.Status == OrderCancelled {
		return OrderCancelled
	}
	if o.AllTokensReady() {
		return OrderCompleted
	}
	for _, t := range o.Tokens {
		if t.Status != TokenPending {
			return OrderPreparing
		}
	}
	return OrderPending
}

// ComputeTotals recomputes every line total and the order totals from the snapshotted unit
// prices. Client-supplied totals are never used.
func (o *Order) ComputeTotals(discountAmount decimal.Decimal) {
	sub := decimal.Zero
	for i := range o.Items {
		o.Items[i].Reprice()
		sub = sub.Add(o.Items[i].TotalPrice)
	}
	if discountAmount.IsNegative() {
		discountAmount = decimal.Zero
	}
	if discountAmount.GreaterThan(sub) {
		discountAmount = sub
	}
	o.SubTotal = sub
	o.DiscountAmount = discountAmount.Round(2)
	total := sub.Sub(o.DiscountAmount)
	if total.IsNegative() {
		total = decimal.Zero
	}
	o.TotalAmount = total
}

// SplitTokens partitions the items by station into one PENDING token per distinct station,
// kitchen first.
func (o *Order) SplitTokens(now time.Time) {
	o.Tokens = o.Tokens[:0]
	for _, station := range []Station{StationKitchen, StationBar} {
		var ids []string
		tokenID := TokenID(o.ID, station)
		for i := range o.Items {
			if o.Items[i].Station == station {
				o.Items[i].TokenID = tokenID
				ids = append(ids, o.Items[i].ID)
			}
		}
		if len(ids) == 0 {
			continue
		}
		o.Tokens = append(o.Tokens, OrderToken{
			ID:        tokenID,
			OrderID:   o.ID,
			Station:   station,
			Status:    TokenPending,
			ItemIDs:   ids,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}
}
