package api

import (
	"bytes"
	"context"
	"encoding/json"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"net/http"
	"net/http/httptest"
	"restaurant-service/internal/board"
	"restaurant-service/internal/entity"
	"restaurant-service/internal/events"
	"restaurant-service/internal/idempotency"
	"restaurant-service/internal/lock"
	"restaurant-service/internal/repository/memory"
	"restaurant-service/internal/retry"
	"restaurant-service/internal/service"
	"testing"
	"time"
)

const secret = "test-secret"

type testServer struct {
	e        *echo.Echo
	store    *memory.Store
	burger   *entity.Item
	cola     *entity.Item
	customer *entity.Customer
	staff    string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStore()
	policy := retry.Policy{Attempts: 3, Backoff: 5 * time.Millisecond}
	publisher := &events.Recorder{}

	loyalty := service.NewLoyaltyService(store, store, publisher, decimal.RequireFromString("0.1"), policy)
	catalog := service.NewCatalogService(store, nil, time.Minute)
	orders := service.NewOrderService(
		store,
		store,
		catalog,
		service.NewDiscountEngine(store),
		loyalty,
		lock.NewMemoryLocker(time.Second),
		idempotency.NewMemoryStore(),
		publisher,
		policy,
	)

	s := &testServer{store: store}
	s.burger = &entity.Item{Name: "Burger", Slug: "burger", Type: entity.StationKitchen, Status: entity.ItemAvailable,
		RegularPrice: decimal.NewFromInt(100)}
	s.cola = &entity.Item{Name: "Cola", Slug: "cola", Type: entity.StationBar, Status: entity.ItemAvailable,
		RegularPrice: decimal.NewFromInt(20)}
	for _, item := range []*entity.Item{s.burger, s.cola} {
		if err := store.CreateItem(ctx, item); err != nil {
			t.Fatal(err)
		}
	}
	s.customer = &entity.Customer{Name: "Grace", Points: 10, Active: true}
	if err := store.CreateCustomer(ctx, s.customer); err != nil {
		t.Fatal(err)
	}

	token, err := IssueToken(secret, "chef", RoleStaff, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	s.staff = token
	s.e = NewRouter(NewHandler(catalog, orders, loyalty, board.NewHub()), RouterConfig{JWTSecret: secret})
	return s
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) asStaff() map[string]string {
	return map[string]string{echo.HeaderAuthorization: "Bearer " + s.staff}
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func (s *testServer) order(customerID string) map[string]interface{} {
	return map[string]interface{}{
		"customer_id":    customerID,
		"order_type":     "DINEIN",
		"payment_method": "CARD",
		"table_ids":      []string{"T1"},
		"items": []map[string]interface{}{
			{"item_id": s.burger.ID, "quantity": 1},
			{"item_id": s.cola.ID, "quantity": 2},
		},
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/health", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decode[map[string]string](t, rec)
	if body["status"] != "ok" || body["service"] != "restaurant-service" {
		t.Errorf("body = %v", body)
	}
}

func TestCreateAndGetOrder(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodPost, "/orders", s.order(s.customer.ID), nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	created := decode[entity.Order](t, rec)
	if !created.TotalAmount.Equal(decimal.NewFromInt(140)) {
		t.Errorf("total = %s, want 140", created.TotalAmount)
	}
	if len(created.Tokens) != 2 {
		t.Fatalf("tokens = %d, want 2", len(created.Tokens))
	}

	rec = s.do(t, http.MethodGet, "/orders/"+created.ID, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	if got := decode[entity.Order](t, rec); got.ID != created.ID || got.Status != entity.OrderPending {
		t.Errorf("got %s %s", got.ID, got.Status)
	}
}

func TestCreateOrderIdempotentKey(t *testing.T) {
	s := newTestServer(t)
	headers := map[string]string{"Idempotent-Key": "abc-123"}
	first := decode[entity.Order](t, s.do(t, http.MethodPost, "/orders", s.order(""), headers))
	second := decode[entity.Order](t, s.do(t, http.MethodPost, "/orders", s.order(""), headers))
	if first.ID == "" || first.ID != second.ID {
		t.Fatalf("ids = %q and %q, want the same order", first.ID, second.ID)
	}
}

func TestErrorEnvelope(t *testing.T) {
	s := newTestServer(t)

	bad := s.order("")
	bad["table_ids"] = nil
	rec := s.do(t, http.MethodPost, "/orders", bad, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("validation status = %d", rec.Code)
	}
	env := decode[errorResponse](t, rec)
	if env.Kind != "validation" || len(env.Violations) == 0 {
		t.Errorf("envelope = %+v", env)
	}

	rec = s.do(t, http.MethodGet, "/orders/missing", nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("not found status = %d", rec.Code)
	}
	if env := decode[errorResponse](t, rec); env.Kind != "not_found" {
		t.Errorf("kind = %q", env.Kind)
	}

	rec = s.do(t, http.MethodPost, "/orders", "not an object", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed body status = %d", rec.Code)
	}
}

func TestStaffRoutesRequireStaffToken(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/stations/kitchen/tokens", nil, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no token status = %d", rec.Code)
	}

	guest, err := IssueToken(secret, "guest", "customer", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	rec = s.do(t, http.MethodGet, "/stations/kitchen/tokens", nil, map[string]string{echo.HeaderAuthorization: "Bearer " + guest})
	if rec.Code != http.StatusForbidden {
		t.Errorf("non-staff status = %d", rec.Code)
	}

	forged, err := IssueToken("other-secret", "chef", RoleStaff, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	rec = s.do(t, http.MethodGet, "/stations/kitchen/tokens", nil, map[string]string{echo.HeaderAuthorization: "Bearer " + forged})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("forged token status = %d", rec.Code)
	}

	rec = s.do(t, http.MethodGet, "/stations/grill/tokens", nil, s.asStaff())
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown station status = %d", rec.Code)
	}
}

func TestTokenWorkflowCreditsPoints(t *testing.T) {
	s := newTestServer(t)
	order := decode[entity.Order](t, s.do(t, http.MethodPost, "/orders", s.order(s.customer.ID), nil))

	rec := s.do(t, http.MethodGet, "/stations/bar/tokens", nil, s.asStaff())
	if rec.Code != http.StatusOK {
		t.Fatalf("station tokens status = %d", rec.Code)
	}
	if tokens := decode[[]entity.OrderToken](t, rec); len(tokens) != 1 || tokens[0].Station != entity.StationBar {
		t.Fatalf("bar tokens = %+v", tokens)
	}

	for _, tok := range order.Tokens {
		for _, status := range []entity.TokenStatus{entity.TokenPreparing, entity.TokenReady} {
			rec := s.do(t, http.MethodPatch, "/tokens/"+tok.ID, map[string]string{"status": string(status)}, s.asStaff())
			if rec.Code != http.StatusOK {
				t.Fatalf("advance %s to %s: status = %d body = %s", tok.ID, status, rec.Code, rec.Body.String())
			}
		}
	}

	got := decode[entity.Order](t, s.do(t, http.MethodGet, "/orders/"+order.ID, nil, nil))
	if got.Status != entity.OrderCompleted || !got.PointsCredited {
		t.Fatalf("order = %s credited=%v", got.Status, got.PointsCredited)
	}

	// 10 existing + floor(140 x 0.1)
	customer := decode[entity.Customer](t, s.do(t, http.MethodGet, "/customers/"+s.customer.ID, nil, nil))
	if customer.Points != 24 {
		t.Errorf("points = %d, want 24", customer.Points)
	}

	rec = s.do(t, http.MethodDelete, "/orders/"+order.ID, nil, s.asStaff())
	if rec.Code != http.StatusConflict {
		t.Errorf("cancel completed status = %d", rec.Code)
	}

	rec = s.do(t, http.MethodPatch, "/tokens/"+order.Tokens[0].ID, map[string]string{"status": "PREPARING"}, s.asStaff())
	if rec.Code != http.StatusConflict {
		t.Errorf("backwards advance status = %d", rec.Code)
	}
}

func TestCancelOrder(t *testing.T) {
	s := newTestServer(t)
	order := decode[entity.Order](t, s.do(t, http.MethodPost, "/orders", s.order(""), nil))

	rec := s.do(t, http.MethodDelete, "/orders/"+order.ID, nil, s.asStaff())
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	if got := decode[entity.Order](t, rec); got.Status != entity.OrderCancelled {
		t.Errorf("status = %s", got.Status)
	}
}

func TestPoints(t *testing.T) {
	s := newTestServer(t)
	path := "/customers/" + s.customer.ID + "/points"

	rec := s.do(t, http.MethodPost, path, map[string]string{"amount": "55.90"}, s.asStaff())
	if rec.Code != http.StatusOK {
		t.Fatalf("add status = %d body = %s", rec.Code, rec.Body.String())
	}
	if body := decode[map[string]interface{}](t, rec); body["credited"] != float64(5) {
		t.Errorf("credited = %v, want 5", body["credited"])
	}

	rec = s.do(t, http.MethodPost, path+"/redeem", map[string]int{"points": 12}, s.asStaff())
	if rec.Code != http.StatusOK {
		t.Fatalf("redeem status = %d body = %s", rec.Code, rec.Body.String())
	}
	if body := decode[map[string]interface{}](t, rec); body["points"] != float64(3) {
		t.Errorf("balance = %v, want 3", body["points"])
	}

	rec = s.do(t, http.MethodPost, path+"/redeem", map[string]int{"points": 4}, s.asStaff())
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("overdraw status = %d", rec.Code)
	}
	if env := decode[errorResponse](t, rec); env.Kind != "insufficient_balance" {
		t.Errorf("kind = %q", env.Kind)
	}

	rec = s.do(t, http.MethodPost, path+"/redeem", map[string]int{"points": 0}, s.asStaff())
	if rec.Code != http.StatusBadRequest {
		t.Errorf("zero redeem status = %d", rec.Code)
	}
}

func TestSetItemStatus(t *testing.T) {
	s := newTestServer(t)
	path := "/items/" + s.burger.ID

	rec := s.do(t, http.MethodPatch, path, map[string]string{"status": "UNAVAILABLE"}, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no token status = %d", rec.Code)
	}

	rec = s.do(t, http.MethodPatch, path, map[string]string{"status": "UNAVAILABLE"}, s.asStaff())
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	if item := decode[entity.Item](t, rec); item.Status != entity.ItemUnavailable {
		t.Errorf("item status = %s", item.Status)
	}

	rec = s.do(t, http.MethodPost, "/orders", s.order(""), nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("order with unavailable item status = %d", rec.Code)
	}

	rec = s.do(t, http.MethodPatch, path, map[string]string{"status": "SOLD_OUT"}, s.asStaff())
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad status value = %d", rec.Code)
	}
	rec = s.do(t, http.MethodPatch, "/items/missing", map[string]string{"status": "AVAILABLE"}, s.asStaff())
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown item status = %d", rec.Code)
	}
}
