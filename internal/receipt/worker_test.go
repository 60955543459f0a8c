package receipt

import (
	"context"
	"encoding/json"
	"errors"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"restaurant-service/internal/apperr"
	"restaurant-service/internal/entity"
	"restaurant-service/internal/retry"
	"sync"
	"testing"
	"time"
)

type stubOrders map[string]*entity.Order

func (s stubOrders) GetOrder(ctx context.Context, id string) (*entity.Order, error) {
	o, ok := s[id]
	if !ok {
		return nil, apperr.NotFound("order %s not found", id)
	}
	return o, nil
}

// flakyOrders fails the next failures lookups with a storage error.
type flakyOrders struct {
	mu       sync.Mutex
	orders   stubOrders
	failures int
	calls    int
}

func (f *flakyOrders) GetOrder(ctx context.Context, id string) (*entity.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failures > 0 {
		f.failures--
		return nil, apperr.Storage(errors.New("connection refused"), "get order")
	}
	return f.orders.GetOrder(ctx, id)
}

// queueReader hands out msgs in order and reports context.Canceled once they run out.
type queueReader struct {
	mu        sync.Mutex
	msgs      []kafka.Message
	committed []int64
}

func (r *queueReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.msgs) == 0 {
		return kafka.Message{}, context.Canceled
	}
	msg := r.msgs[0]
	r.msgs = r.msgs[1:]
	return msg, nil
}

func (r *queueReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func completedOrder() *entity.Order {
	completed := time.Date(2024, 3, 9, 21, 15, 0, 0, time.UTC)
	return &entity.Order{
		ID:             "o1",
		OrderNumber:    "AB12CD",
		OrderType:      entity.OrderTakeaway,
		PaymentMethod:  entity.PaymentCard,
		Status:         entity.OrderCompleted,
		SubTotal:       decimal.NewFromInt(250),
		DiscountAmount: decimal.NewFromInt(25),
		TotalAmount:    decimal.NewFromInt(225),
		Items: []entity.OrderItem{
			{Name: "Burger", Quantity: 2, UnitPrice: decimal.NewFromInt(100), TotalPrice: decimal.NewFromInt(200)},
			{Name: "Fries", Quantity: 1, UnitPrice: decimal.NewFromInt(50), TotalPrice: decimal.NewFromInt(50)},
		},
		CreatedAt:   completed.Add(-20 * time.Minute),
		CompletedAt: &completed,
	}
}

func encode(t *testing.T, e entity.Event) []byte {
	t.Helper()
	data, err := json.Marshal(e)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestHandleWritesReceiptForCompletedOrders(t *testing.T) {
	sink := NewMemoryWriterFactory()
	w := NewWorker(nil, stubOrders{"o1": completedOrder()}, sink, retry.Policy{})
	ctx := context.Background()

	if err := w.Handle(ctx, encode(t, entity.Event{Type: entity.EventOrderCreated, EntityID: "o1", OrderID: "o1"})); err != nil {
		t.Fatal(err)
	}
	if sink.Len() != 0 {
		t.Fatalf("created event wrote %d receipts, want 0", sink.Len())
	}

	if err := w.Handle(ctx, encode(t, entity.Event{Type: entity.EventOrderCompleted, EntityID: "o1", OrderID: "o1"})); err != nil {
		t.Fatal(err)
	}
	data := sink.Object("receipts/2024/03/09/AB12CD.json")
	if data == nil {
		t.Fatal("receipt not written")
	}
	var r Receipt
	if err := json.Unmarshal(data, &r); err != nil {
		t.Fatal(err)
	}
	if r.OrderNumber != "AB12CD" || len(r.Lines) != 2 || !r.TotalAmount.Equal(decimal.NewFromInt(225)) {
		t.Errorf("receipt = %+v", r)
	}
}

func TestHandleSkipsMalformedAndReportsMissingOrders(t *testing.T) {
	w := NewWorker(nil, stubOrders{}, NewMemoryWriterFactory(), retry.Policy{})
	ctx := context.Background()
	if err := w.Handle(ctx, []byte("{not json")); err != nil {
		t.Errorf("malformed message error = %v, want nil", err)
	}
	err := w.Handle(ctx, encode(t, entity.Event{Type: entity.EventOrderCompleted, OrderID: "gone"}))
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("missing order error = %v, want not found", err)
	}
}

func completedMessage(t *testing.T, offset int64, orderID string) kafka.Message {
	t.Helper()
	return kafka.Message{
		Offset: offset,
		Key:    []byte(orderID),
		Value:  encode(t, entity.Event{Type: entity.EventOrderCompleted, EntityID: orderID, OrderID: orderID}),
	}
}

func TestRunRetriesTransientFailureBeforeCommitting(t *testing.T) {
	orders := &flakyOrders{orders: stubOrders{"o1": completedOrder()}, failures: 2}
	reader := &queueReader{msgs: []kafka.Message{completedMessage(t, 7, "o1")}}
	sink := NewMemoryWriterFactory()
	w := NewWorker(reader, orders, sink, retry.Policy{Attempts: 3, Backoff: time.Millisecond})

	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if orders.calls != 3 {
		t.Errorf("lookups = %d, want 3", orders.calls)
	}
	if sink.Object("receipts/2024/03/09/AB12CD.json") == nil {
		t.Error("receipt not written")
	}
	if len(reader.committed) != 1 || reader.committed[0] != 7 {
		t.Errorf("committed = %v, want [7]", reader.committed)
	}
}

func TestRunStopsUncommittedOnPersistentFailure(t *testing.T) {
	orders := &flakyOrders{orders: stubOrders{"o1": completedOrder()}, failures: 100}
	reader := &queueReader{msgs: []kafka.Message{completedMessage(t, 7, "o1"), completedMessage(t, 8, "o1")}}
	sink := NewMemoryWriterFactory()
	w := NewWorker(reader, orders, sink, retry.Policy{Attempts: 2, Backoff: time.Millisecond})

	err := w.Run(context.Background())
	if !errors.Is(err, apperr.ErrStorage) {
		t.Fatalf("Run error = %v, want storage error", err)
	}
	if len(reader.committed) != 0 {
		t.Errorf("committed = %v, want none", reader.committed)
	}
	if len(reader.msgs) != 1 {
		t.Errorf("worker moved past the failed message: %d left", len(reader.msgs))
	}
	if sink.Len() != 0 {
		t.Errorf("receipts = %d, want 0", sink.Len())
	}
}

func TestRunCommitsEventForMissingOrder(t *testing.T) {
	orders := &flakyOrders{orders: stubOrders{"o1": completedOrder()}}
	reader := &queueReader{msgs: []kafka.Message{completedMessage(t, 7, "gone"), completedMessage(t, 8, "o1")}}
	sink := NewMemoryWriterFactory()
	w := NewWorker(reader, orders, sink, retry.Policy{Attempts: 3, Backoff: time.Millisecond})

	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if orders.calls != 2 {
		t.Errorf("lookups = %d, want 2 (no retry for a missing order)", orders.calls)
	}
	if len(reader.committed) != 2 {
		t.Errorf("committed = %v, want [7 8]", reader.committed)
	}
	if sink.Len() != 1 {
		t.Errorf("receipts = %d, want 1", sink.Len())
	}
}
