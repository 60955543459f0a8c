package entity

import "time"

type EventType string

const (
	EventOrderCreated   EventType = "order.created"
	EventTokenAdvanced  EventType = "token.advanced"
	EventOrderCompleted EventType = "order.completed"
	EventOrderCancelled EventType = "order.cancelled"
	EventPointsCredited EventType = "points.credited"
	EventPointsRedeemed EventType = "points.redeemed"
)

// Event is what the service hands to reporting and notification consumers.
type Event struct {
	Type       EventType `json:"type"`
	EntityID   string    `json:"entity_id"`
	OrderID    string    `json:"order_id,omitempty"`
	CustomerID string    `json:"customer_id,omitempty"`
	Station    Station   `json:"station,omitempty"`
	Status     string    `json:"status,omitempty"`
	Points     int64     `json:"points,omitempty"`
	Balance    int64     `json:"balance,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}
