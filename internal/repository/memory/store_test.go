package memory

import (
	"context"
	"errors"
	"restaurant-service/internal/apperr"
	"restaurant-service/internal/entity"
	"testing"
	"time"
)

func twoStationOrder(t *testing.T, s *Store) *entity.Order {
	t.Helper()
	now := time.Now().UTC()
	order := &entity.Order{ID: "o-1", Status: entity.OrderPending, CreatedAt: now, UpdatedAt: now}
	for _, station := range []entity.Station{entity.StationKitchen, entity.StationBar} {
		order.Tokens = append(order.Tokens, entity.OrderToken{
			ID:        entity.TokenID(order.ID, station),
			OrderID:   order.ID,
			Station:   station,
			Status:    entity.TokenPending,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}
	if err := s.Save(context.Background(), order); err != nil {
		t.Fatal(err)
	}
	return order
}

func TestAdvanceTokenWritesTokenAndOrderTogether(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	order := twoStationOrder(t, s)
	kitchen := entity.TokenID(order.ID, entity.StationKitchen)

	order.Token(kitchen).Status = entity.TokenPreparing
	order.Status = entity.OrderPreparing
	if err := s.AdvanceToken(ctx, order, kitchen, entity.TokenPending, entity.OrderPending); err != nil {
		t.Fatalf("advance: %v", err)
	}
	got, _ := s.GetOrderByID(ctx, order.ID)
	if got.Status != entity.OrderPreparing || got.Token(kitchen).Status != entity.TokenPreparing {
		t.Fatalf("order %s token %s", got.Status, got.Token(kitchen).Status)
	}
}

func TestAdvanceTokenStaleOrderWritesNothing(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	order := twoStationOrder(t, s)
	bar := entity.TokenID(order.ID, entity.StationBar)

	order.Token(bar).Status = entity.TokenPreparing
	order.Status = entity.OrderPreparing
	// The stored order is PENDING, so an expected PREPARING must reject the token write too.
	err := s.AdvanceToken(ctx, order, bar, entity.TokenPending, entity.OrderPreparing)
	if !errors.Is(err, apperr.ErrInvalidState) {
		t.Fatalf("err = %v", err)
	}
	got, _ := s.GetOrderByID(ctx, order.ID)
	if got.Token(bar).Status != entity.TokenPending || got.Status != entity.OrderPending {
		t.Fatalf("partial write: order %s token %s", got.Status, got.Token(bar).Status)
	}
}

func TestAdvanceTokenStaleToken(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	order := twoStationOrder(t, s)
	kitchen := entity.TokenID(order.ID, entity.StationKitchen)

	order.Token(kitchen).Status = entity.TokenReady
	err := s.AdvanceToken(ctx, order, kitchen, entity.TokenPreparing, entity.OrderPending)
	if !errors.Is(err, apperr.ErrInvalidState) {
		t.Fatalf("err = %v", err)
	}
	if err := s.AdvanceToken(ctx, order, "o-1.grill", entity.TokenPending, entity.OrderPending); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("unknown token err = %v", err)
	}
}
