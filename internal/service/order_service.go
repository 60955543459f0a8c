package service

import (
	"context"
	"errors"
	"fmt"
	"github.com/google/uuid"
	"github.com/lucsky/cuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"restaurant-service/internal/apperr"
	"restaurant-service/internal/entity"
	"restaurant-service/internal/events"
	"restaurant-service/internal/idempotency"
	"restaurant-service/internal/lock"
	"restaurant-service/internal/repository"
	"restaurant-service/internal/retry"
	"restaurant-service/internal/validation"
	"strings"
	"time"
)

// maxConcurrentLookups bounds the catalog reads one order issues in parallel.
const maxConcurrentLookups = 8

type LineRequest struct {
	ItemID      string `json:"item_id"`
	VariationID string `json:"variation_id,omitempty"`
	Quantity    int    `json:"quantity"`
}

// CreateOrderRequest is the cart a client submits. Prices and totals are never taken from it.
type CreateOrderRequest struct {
	CustomerID    string               `json:"customer_id,omitempty"`
	OrderType     entity.OrderType     `json:"order_type"`
	PaymentMethod entity.PaymentMethod `json:"payment_method"`
	TableIDs      []string             `json:"table_ids,omitempty"`
	DiscountID    string               `json:"discount_id,omitempty"`
	Items         []LineRequest        `json:"items"`
	IdempotentKey string               `json:"-"`
}

func (r *CreateOrderRequest) validate() error {
	dineIn := r.OrderType == entity.OrderDineIn
	return validation.Check("invalid order",
		validation.OneOf("order_type", string(r.OrderType),
			string(entity.OrderDineIn), string(entity.OrderTakeaway), string(entity.OrderDelivery)),
		validation.OneOf("payment_method", string(r.PaymentMethod),
			string(entity.PaymentCash), string(entity.PaymentCard), string(entity.PaymentMobile)),
		validation.When(dineIn, validation.NotEmpty("table_ids", len(r.TableIDs))),
		validation.When(!dineIn, validation.Empty("table_ids", len(r.TableIDs), "unless the order is DINEIN")),
		validation.NotEmpty("items", len(r.Items)),
		validation.Each("items", len(r.Items), func(i int) []validation.Rule {
			return []validation.Rule{
				validation.Required("item_id", r.Items[i].ItemID),
				validation.PositiveInt("quantity", r.Items[i].Quantity),
			}
		}),
	)
}

// OrderService runs the order workflow: creation, token advancement and cancellation.
type OrderService struct {
	orderRepo    repository.OrderRepository
	customerRepo repository.CustomerRepository
	catalog      *CatalogService
	discounts    *DiscountEngine
	loyalty      *LoyaltyService
	locker       lock.Locker
	idempotency  idempotency.Store
	publisher    events.Publisher
	retry        retry.Policy
	now          func() time.Time
}

func NewOrderService(
	orderRepo repository.OrderRepository,
	customerRepo repository.CustomerRepository,
	catalog *CatalogService,
	discounts *DiscountEngine,
	loyalty *LoyaltyService,
	locker lock.Locker,
	idempotencyStore idempotency.Store,
	publisher events.Publisher,
	policy retry.Policy,
) *OrderService {
	return &OrderService{
		orderRepo:    orderRepo,
		customerRepo: customerRepo,
		catalog:      catalog,
		discounts:    discounts,
		loyalty:      loyalty,
		locker:       locker,
		idempotency:  idempotencyStore,
		publisher:    publisher,
		retry:        policy,
		now:          time.Now,
	}
}

// resolvedLine is a request line after its item and variation have been looked up.
type resolvedLine struct {
	item      *entity.Item
	variation *entity.Variation
	violation *apperr.Violation
}

// CreateOrder validates the cart, snapshots prices, resolves the discount and persists the
// order with its items and tokens in one transaction.
func (s *OrderService) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*entity.Order, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	if req.IdempotentKey != "" {
		existingID, claimed, err := s.idempotency.Reserve(ctx, req.IdempotentKey)
		if err != nil {
			return nil, err
		}
		if !claimed {
			logger.Info().Msgf("Idempotent key %s already used by order %s", req.IdempotentKey, existingID)
			return s.GetOrder(ctx, existingID)
		}
	}

	order, err := s.createOrder(ctx, req)
	if req.IdempotentKey != "" {
		if err != nil {
			if rerr := s.idempotency.Release(ctx, req.IdempotentKey); rerr != nil {
				logger.Error().Err(rerr).Msgf("Error releasing idempotent key %s", req.IdempotentKey)
			}
		} else if cerr := s.idempotency.Complete(ctx, req.IdempotentKey, order.ID); cerr != nil {
			logger.Error().Err(cerr).Msgf("Error recording idempotent key %s", req.IdempotentKey)
		}
	}
	if err != nil {
		return nil, err
	}

	publish(ctx, s.publisher, entity.Event{
		Type:       entity.EventOrderCreated,
		EntityID:   order.ID,
		OrderID:    order.ID,
		CustomerID: deref(order.CustomerID),
		Status:     string(order.Status),
		OccurredAt: order.CreatedAt,
	})
	return order, nil
}

func (s *OrderService) createOrder(ctx context.Context, req *CreateOrderRequest) (*entity.Order, error) {
	if req.CustomerID != "" {
		if _, err := s.customerRepo.GetCustomer(ctx, req.CustomerID); err != nil {
			return nil, err
		}
	}

	lines, err := s.resolveLines(ctx, req.Items)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	order := &entity.Order{
		ID:            uuid.NewString(),
		OrderNumber:   strings.ToUpper(cuid.Slug()),
		OrderType:     req.OrderType,
		Status:        entity.OrderPending,
		PaymentMethod: req.PaymentMethod,
		TableIDs:      append([]string(nil), req.TableIDs...),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if req.CustomerID != "" {
		customerID := req.CustomerID
		order.CustomerID = &customerID
	}

	cart := Cart{CustomerID: req.CustomerID}
	for i, l := range lines {
		item := entity.OrderItem{
			ID:        uuid.NewString(),
			OrderID:   order.ID,
			ItemID:    l.item.ID,
			Name:      l.item.Name,
			Station:   l.item.Type,
			Quantity:  req.Items[i].Quantity,
			UnitPrice: l.item.EffectivePrice(),
		}
		if l.variation != nil {
			variationID := l.variation.ID
			item.VariationID = &variationID
			item.Name = fmt.Sprintf("%s (%s)", l.item.Name, l.variation.Name)
			item.UnitPrice = l.variation.EffectivePrice()
		}
		item.Reprice()
		order.Items = append(order.Items, item)
		cart.Lines = append(cart.Lines, CartLine{
			ItemID:      item.ItemID,
			CategoryIDs: l.item.CategoryIDs,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
		})
	}

	discount, err := s.discounts.Resolve(ctx, cart, req.DiscountID)
	if err != nil {
		return nil, err
	}
	discountAmount := decimal.Zero
	if discount != nil {
		discountID := discount.Discount.ID
		order.DiscountID = &discountID
		discountAmount = discount.Amount
	}
	order.ComputeTotals(discountAmount)
	order.SplitTokens(now)

	if err := s.orderRepo.Save(ctx, order); err != nil {
		logger.Error().Err(err).Msg("Error creating order")
		return nil, err
	}
	logger.Info().Msgf("Order %s created with %d tokens, total %s", order.OrderNumber, len(order.Tokens), order.TotalAmount.StringFixed(2))
	return order, nil
}

// resolveLines looks every line up concurrently. Unknown or unavailable items are collected as
// violations; any other failure aborts the lookup.
func (s *OrderService) resolveLines(ctx context.Context, reqs []LineRequest) ([]resolvedLine, error) {
	lines := make([]resolvedLine, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentLookups)
	for i := range reqs {
		i := i
		g.Go(func() error {
			line, err := s.resolveLine(gctx, i, reqs[i])
			if err != nil {
				return err
			}
			lines[i] = line
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var violations []apperr.Violation
	for _, l := range lines {
		if l.violation != nil {
			violations = append(violations, *l.violation)
		}
	}
	if len(violations) > 0 {
		return nil, apperr.Validation("order contains unknown or unavailable items", violations...)
	}
	return lines, nil
}

func (s *OrderService) resolveLine(ctx context.Context, i int, req LineRequest) (resolvedLine, error) {
	field := fmt.Sprintf("items[%d]", i)
	item, err := retry.Value(ctx, s.retry, func(ctx context.Context) (*entity.Item, error) {
		return s.catalog.GetItem(ctx, req.ItemID)
	})
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return resolvedLine{violation: &apperr.Violation{Field: field + ".item_id", Message: fmt.Sprintf("item %s does not exist", req.ItemID)}}, nil
		}
		logger.Error().Err(err).Msgf("Error getting item %s", req.ItemID)
		return resolvedLine{}, err
	}
	if !item.Available() {
		return resolvedLine{violation: &apperr.Violation{Field: field + ".item_id", Message: fmt.Sprintf("item %s (%s) is unavailable", item.Name, item.ID)}}, nil
	}
	if !item.Type.Valid() {
		return resolvedLine{violation: &apperr.Violation{Field: field + ".item_id", Message: fmt.Sprintf("item %s has no station", item.ID)}}, nil
	}

	line := resolvedLine{item: item}
	if req.VariationID == "" {
		return line, nil
	}
	v, err := retry.Value(ctx, s.retry, func(ctx context.Context) (*entity.Variation, error) {
		return s.catalog.GetVariation(ctx, req.ItemID, req.VariationID)
	})
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) || errors.Is(err, errVariationMismatch) {
			return resolvedLine{violation: &apperr.Violation{Field: field + ".variation_id", Message: fmt.Sprintf("variation %s does not exist on item %s", req.VariationID, item.Name)}}, nil
		}
		logger.Error().Err(err).Msgf("Error getting variation %s", req.VariationID)
		return resolvedLine{}, err
	}
	if v.Status != entity.ItemAvailable {
		return resolvedLine{violation: &apperr.Violation{Field: field + ".variation_id", Message: fmt.Sprintf("variation %s of item %s is unavailable", v.Name, item.Name)}}, nil
	}
	line.variation = v
	return line, nil
}

// AdvanceToken moves a token one step forward. Work on one order is serialized by the order
// lock; when the last token turns READY the order completes and its points are credited.
func (s *OrderService) AdvanceToken(ctx context.Context, tokenID string, status entity.TokenStatus) (*entity.Order, error) {
	err := validation.Check("invalid token update",
		validation.OneOf("status", string(status),
			string(entity.TokenPending), string(entity.TokenPreparing), string(entity.TokenReady), string(entity.TokenCancelled)),
	)
	if err != nil {
		return nil, err
	}
	orderID, _, ok := entity.SplitTokenID(tokenID)
	if !ok {
		return nil, apperr.NotFound("token %s not found", tokenID)
	}

	var order *entity.Order
	var completed bool
	err = s.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		order, completed, err = s.advanceToken(ctx, orderID, tokenID, status)
		return err
	})
	if err != nil {
		return nil, err
	}

	token := order.Token(tokenID)
	publish(ctx, s.publisher, entity.Event{
		Type:       entity.EventTokenAdvanced,
		EntityID:   tokenID,
		OrderID:    order.ID,
		Station:    token.Station,
		Status:     string(token.Status),
		OccurredAt: token.UpdatedAt,
	})
	if completed {
		publish(ctx, s.publisher, entity.Event{
			Type:       entity.EventOrderCompleted,
			EntityID:   order.ID,
			OrderID:    order.ID,
			CustomerID: deref(order.CustomerID),
			Status:     string(order.Status),
			OccurredAt: order.UpdatedAt,
		})
	}
	return order, nil
}

func (s *OrderService) advanceToken(ctx context.Context, orderID, tokenID string, status entity.TokenStatus) (*entity.Order, bool, error) {
	release, err := s.locker.Acquire(ctx, orderID)
	if err != nil {
		return nil, false, err
	}
	defer release()

	order, err := s.orderRepo.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, false, err
	}
	token := order.Token(tokenID)
	if token == nil {
		return nil, false, apperr.NotFound("token %s not found", tokenID)
	}
	if order.Status.Terminal() {
		return nil, false, apperr.InvalidState("order %s is %s", order.ID, order.Status)
	}
	from := token.Status
	if !entity.ValidTokenTransition(from, status) {
		return nil, false, apperr.InvalidState("token %s cannot move from %s to %s", tokenID, from, status)
	}

	now := s.now().UTC()
	token.Status = status
	token.UpdatedAt = now
	if status == entity.TokenReady {
		token.ReadyAt = &now
	}

	completed := false
	prev := order.Status
	if next := order.DerivedStatus(); next != prev {
		order.Status = next
		order.UpdatedAt = now
		if next == entity.OrderCompleted {
			order.CompletedAt = &now
			completed = true
		}
	}
	if err := s.orderRepo.AdvanceToken(ctx, order, tokenID, from, prev); err != nil {
		logger.Error().Err(err).Msgf("Error advancing token %s of order %s", tokenID, order.ID)
		return nil, false, err
	}

	if completed {
		// The token change is committed; a failed credit is logged and left for reconciliation
		// rather than reported as a failed advance.
		if err := s.loyalty.CreditOrder(ctx, order); err != nil {
			logger.Error().Err(err).Msgf("Error crediting points for order %s", order.ID)
		}
	}
	return order, completed, nil
}

// CancelOrder cancels an order that is still PENDING or PREPARING, together with its tokens.
func (s *OrderService) CancelOrder(ctx context.Context, orderID string) (*entity.Order, error) {
	var order *entity.Order
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		order, err = s.cancelOrder(ctx, orderID)
		return err
	})
	if err != nil {
		return nil, err
	}

	publish(ctx, s.publisher, entity.Event{
		Type:       entity.EventOrderCancelled,
		EntityID:   order.ID,
		OrderID:    order.ID,
		CustomerID: deref(order.CustomerID),
		Status:     string(order.Status),
		OccurredAt: order.UpdatedAt,
	})
	return order, nil
}

func (s *OrderService) cancelOrder(ctx context.Context, orderID string) (*entity.Order, error) {
	release, err := s.locker.Acquire(ctx, orderID)
	if err != nil {
		return nil, err
	}
	defer release()

	order, err := s.orderRepo.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !order.Status.Cancellable() {
		return nil, apperr.InvalidState("order %s is %s and cannot be cancelled", order.ID, order.Status)
	}

	now := s.now().UTC()
	from := order.Status
	order.Status = entity.OrderCancelled
	order.CancelledAt = &now
	order.UpdatedAt = now
	if err := s.orderRepo.CancelOrder(ctx, order, from); err != nil {
		logger.Error().Err(err).Msgf("Error cancelling order %s", order.ID)
		return nil, err
	}
	for i := range order.Tokens {
		if !order.Tokens[i].Status.Terminal() {
			order.Tokens[i].Status = entity.TokenCancelled
			order.Tokens[i].UpdatedAt = now
		}
	}
	logger.Info().Msgf("Order %s cancelled", order.OrderNumber)
	return order, nil
}

func (s *OrderService) GetOrder(ctx context.Context, orderID string) (*entity.Order, error) {
	return retry.Value(ctx, s.retry, func(ctx context.Context) (*entity.Order, error) {
		return s.orderRepo.GetOrderByID(ctx, orderID)
	})
}

// ListStationTokens returns the open tokens of a station, oldest first.
func (s *OrderService) ListStationTokens(ctx context.Context, station entity.Station) ([]entity.OrderToken, error) {
	err := validation.Check("invalid station",
		validation.OneOf("station", string(station), string(entity.StationKitchen), string(entity.StationBar)))
	if err != nil {
		return nil, err
	}
	return retry.Value(ctx, s.retry, func(ctx context.Context) ([]entity.OrderToken, error) {
		return s.orderRepo.ListOpenTokens(ctx, station)
	})
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
