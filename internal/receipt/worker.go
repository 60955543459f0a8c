// Package receipt archives a JSON receipt for every completed order. It consumes the order
// event stream and writes one object per order.
package receipt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/eapache/go-resiliency/retrier"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"os"
	"restaurant-service/internal/apperr"
	"restaurant-service/internal/entity"
	"restaurant-service/internal/retry"
	"time"
)

var logger = zerolog.New(os.Stdout).With().Timestamp().Str("component", "receipt").Logger()

type OrderReader interface {
	GetOrder(ctx context.Context, orderID string) (*entity.Order, error)
}

type Line struct {
	Name       string          `json:"name"`
	Quantity   int             `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	TotalPrice decimal.Decimal `json:"total_price"`
}

type Receipt struct {
	OrderID        string               `json:"order_id"`
	OrderNumber    string               `json:"order_number"`
	OrderType      entity.OrderType     `json:"order_type"`
	PaymentMethod  entity.PaymentMethod `json:"payment_method"`
	CustomerID     string               `json:"customer_id,omitempty"`
	Lines          []Line               `json:"lines"`
	SubTotal       decimal.Decimal      `json:"sub_total"`
	DiscountAmount decimal.Decimal      `json:"discount_amount"`
	TotalAmount    decimal.Decimal      `json:"total_amount"`
	CreatedAt      time.Time            `json:"created_at"`
	CompletedAt    *time.Time           `json:"completed_at,omitempty"`
}

func NewReceipt(order *entity.Order) Receipt {
	r := Receipt{
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		OrderType:      order.OrderType,
		PaymentMethod:  order.PaymentMethod,
		SubTotal:       order.SubTotal,
		DiscountAmount: order.DiscountAmount,
		TotalAmount:    order.TotalAmount,
		CreatedAt:      order.CreatedAt,
		CompletedAt:    order.CompletedAt,
	}
	if order.CustomerID != nil {
		r.CustomerID = *order.CustomerID
	}
	for _, item := range order.Items {
		r.Lines = append(r.Lines, Line{Name: item.Name, Quantity: item.Quantity, UnitPrice: item.UnitPrice, TotalPrice: item.TotalPrice})
	}
	return r
}

// ObjectPath is receipts/<yyyy>/<mm>/<dd>/<order number>.json, dated by completion.
func ObjectPath(order *entity.Order) string {
	at := order.CreatedAt
	if order.CompletedAt != nil {
		at = *order.CompletedAt
	}
	at = at.UTC()
	return fmt.Sprintf("receipts/%04d/%02d/%02d/%s.json", at.Year(), at.Month(), at.Day(), order.OrderNumber)
}

// MessageReader is the part of a kafka.Reader the worker uses.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// handleClassifier retries every failure except a missing order, which no retry can fix.
type handleClassifier struct{}

func (handleClassifier) Classify(err error) retrier.Action {
	switch {
	case err == nil:
		return retrier.Succeed
	case errors.Is(err, apperr.ErrNotFound):
		return retrier.Fail
	default:
		return retrier.Retry
	}
}

type Worker struct {
	reader MessageReader
	orders OrderReader
	sink   WriterFactory
	retry  retry.Policy
}

func NewWorker(reader MessageReader, orders OrderReader, sink WriterFactory, policy retry.Policy) *Worker {
	return &Worker{reader: reader, orders: orders, sink: sink, retry: policy}
}

// Run consumes until ctx is done. A message is committed only once it has been handled, so a
// crash re-delivers it; writing the same receipt twice overwrites the same object. A message
// that still fails after the retries stops the worker uncommitted. An event for an order that
// does not exist is logged and committed.
func (w *Worker) Run(ctx context.Context) error {
	for {
		msg, err := w.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			logger.Error().Err(err).Msg("Error reading message")
			return err
		}

		if err := w.handleWithRetry(ctx, msg.Value); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if !errors.Is(err, apperr.ErrNotFound) {
				logger.Error().Err(err).Msgf("Giving up on message %s at offset %d", string(msg.Key), msg.Offset)
				return fmt.Errorf("receipt: handle message at offset %d: %w", msg.Offset, err)
			}
			logger.Warn().Err(err).Msgf("Skipping message %s", string(msg.Key))
		}
		if err := w.reader.CommitMessages(ctx, msg); err != nil {
			logger.Error().Err(err).Msg("Error committing message")
		}
	}
}

func (w *Worker) handleWithRetry(ctx context.Context, value []byte) error {
	var backoff []time.Duration
	if w.retry.Attempts > 0 {
		backoff = retrier.ExponentialBackoff(w.retry.Attempts, w.retry.Backoff)
	}
	attempt := 0
	return retrier.New(backoff, handleClassifier{}).RunCtx(ctx, func(ctx context.Context) error {
		attempt++
		err := w.Handle(ctx, value)
		if err != nil {
			logger.Warn().Err(err).Msgf("Handling attempt %d failed", attempt)
		}
		return err
	})
}

// Handle writes the receipt for an order.completed event and ignores every other event.
func (w *Worker) Handle(ctx context.Context, value []byte) error {
	var event entity.Event
	if err := json.Unmarshal(value, &event); err != nil {
		logger.Error().Err(err).Msg("Error unmarshalling event")
		return nil
	}
	if event.Type != entity.EventOrderCompleted {
		return nil
	}

	order, err := w.orders.GetOrder(ctx, event.OrderID)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(NewReceipt(order), "", "  ")
	if err != nil {
		return err
	}

	path := ObjectPath(order)
	writer, err := w.sink.NewWriter(ctx, path)
	if err != nil {
		return err
	}
	if _, err := writer.Write(data); err != nil {
		return err
	}
	if err := writer.Close(); err != nil {
		return err
	}
	logger.Info().Msgf("Receipt for order %s written to %s", order.OrderNumber, path)
	return nil
}
