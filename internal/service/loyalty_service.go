package service

import (
	"context"
	"errors"
	"github.com/shopspring/decimal"
	"restaurant-service/internal/apperr"
	"restaurant-service/internal/entity"
	"restaurant-service/internal/events"
	"restaurant-service/internal/repository"
	"restaurant-service/internal/retry"
	"restaurant-service/internal/validation"
	"time"
)

// LoyaltyService credits and redeems customer points.
type LoyaltyService struct {
	customerRepo repository.CustomerRepository
	orderRepo    repository.OrderRepository
	publisher    events.Publisher
	accrualRate  decimal.Decimal
	retry        retry.Policy
	now          func() time.Time
}

func NewLoyaltyService(customerRepo repository.CustomerRepository, orderRepo repository.OrderRepository, publisher events.Publisher, accrualRate decimal.Decimal, policy retry.Policy) *LoyaltyService {
	return &LoyaltyService{
		customerRepo: customerRepo,
		orderRepo:    orderRepo,
		publisher:    publisher,
		accrualRate:  accrualRate,
		retry:        policy,
		now:          time.Now,
	}
}

// PointsFor is floor(amount × accrual rate), never negative.
func (s *LoyaltyService) PointsFor(amount decimal.Decimal) int64 {
	points := amount.Mul(s.accrualRate).Floor().IntPart()
	if points < 0 {
		return 0
	}
	return points
}

// AddPoints credits points for an order amount. An inactive customer, a non-positive amount or
// an amount too small to earn a point is a silent no-op returning 0.
func (s *LoyaltyService) AddPoints(ctx context.Context, customerID string, amount decimal.Decimal) (int64, error) {
	if err := validation.Check("invalid accrual request", validation.Required("customer_id", customerID)); err != nil {
		return 0, err
	}
	return s.credit(ctx, customerID, amount, "")
}

// CreditOrder credits the points a completed order earns, at most once per order. The ledger
// reference is the order id, so repeated calls after the first are no-ops.
func (s *LoyaltyService) CreditOrder(ctx context.Context, order *entity.Order) error {
	if order.CustomerID == nil || order.PointsCredited {
		return nil
	}
	if _, err := s.credit(ctx, *order.CustomerID, order.TotalAmount, order.ID); err != nil {
		return err
	}
	marked, err := retry.Value(ctx, s.retry, func(ctx context.Context) (bool, error) {
		return s.orderRepo.MarkPointsCredited(ctx, order.ID)
	})
	if err != nil {
		return err
	}
	if marked {
		order.PointsCredited = true
	}
	return nil
}

// ReconcileCredits credits completed orders whose credit failed after they completed. It
// handles up to batch orders and returns how many it marked credited. An order that fails
// again is logged and left for the next pass.
func (s *LoyaltyService) ReconcileCredits(ctx context.Context, batch int) (int, error) {
	ids, err := retry.Value(ctx, s.retry, func(ctx context.Context) ([]string, error) {
		return s.orderRepo.ListUncreditedOrders(ctx, batch)
	})
	if err != nil {
		return 0, err
	}

	reconciled := 0
	var errs []error
	for _, id := range ids {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		order, err := s.orderRepo.GetOrderByID(ctx, id)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := s.CreditOrder(ctx, order); err != nil {
			logger.Error().Err(err).Msgf("Error reconciling points for order %s", id)
			errs = append(errs, err)
			continue
		}
		if order.PointsCredited {
			reconciled++
		}
	}
	if reconciled > 0 {
		logger.Info().Msgf("Reconciled points for %d of %d orders", reconciled, len(ids))
	}
	return reconciled, errors.Join(errs...)
}

// RunReconciler calls ReconcileCredits every interval until ctx is done.
func (s *LoyaltyService) RunReconciler(ctx context.Context, interval time.Duration, batch int) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.ReconcileCredits(ctx, batch); err != nil {
				logger.Error().Err(err).Msg("Points reconciliation incomplete")
			}
		}
	}
}

func (s *LoyaltyService) credit(ctx context.Context, customerID string, amount decimal.Decimal, reference string) (int64, error) {
	customer, err := s.customerRepo.GetCustomer(ctx, customerID)
	if err != nil {
		return 0, err
	}
	points := s.PointsFor(amount)
	if !customer.Active || !amount.IsPositive() || points == 0 {
		logger.Debug().Msgf("No points credited to customer %s", customerID)
		return 0, nil
	}

	var credited bool
	var balance int64
	err = s.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		credited, balance, err = s.customerRepo.Credit(ctx, customerID, points, reference)
		return err
	})
	if err != nil {
		logger.Error().Err(err).Msgf("Error crediting %d points to customer %s", points, customerID)
		return 0, err
	}
	if !credited {
		logger.Info().Msgf("Points for reference %s already credited to customer %s", reference, customerID)
		return 0, nil
	}

	publish(ctx, s.publisher, entity.Event{
		Type:       entity.EventPointsCredited,
		EntityID:   customerID,
		OrderID:    reference,
		CustomerID: customerID,
		Points:     points,
		Balance:    balance,
		OccurredAt: s.now().UTC(),
	})
	return points, nil
}

// RedeemPoints debits points atomically and returns the new balance. Asking for more than the
// balance is InsufficientBalance and leaves the balance untouched.
func (s *LoyaltyService) RedeemPoints(ctx context.Context, customerID string, points int64) (int64, error) {
	err := validation.Check("invalid redemption request",
		validation.Required("customer_id", customerID),
		validation.PositiveInt64("points", points),
	)
	if err != nil {
		return 0, err
	}

	customer, err := s.customerRepo.GetCustomer(ctx, customerID)
	if err != nil {
		return 0, err
	}
	if !customer.Active {
		return 0, apperr.Validation("customer is inactive", apperr.Violation{Field: "customer_id", Message: "is inactive"})
	}

	balance, err := retry.Value(ctx, s.retry, func(ctx context.Context) (int64, error) {
		return s.customerRepo.Debit(ctx, customerID, points)
	})
	if err != nil {
		return 0, err
	}

	publish(ctx, s.publisher, entity.Event{
		Type:       entity.EventPointsRedeemed,
		EntityID:   customerID,
		CustomerID: customerID,
		Points:     points,
		Balance:    balance,
		OccurredAt: s.now().UTC(),
	})
	return balance, nil
}

// Balance returns the customer with its current points.
func (s *LoyaltyService) Balance(ctx context.Context, customerID string) (*entity.Customer, error) {
	return s.customerRepo.GetCustomer(ctx, customerID)
}
