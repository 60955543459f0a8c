// Package api exposes orders, station boards and the loyalty ledger over HTTP.
package api

import (
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"net/http"
	"os"
	"restaurant-service/internal/board"
	"restaurant-service/internal/entity"
	"restaurant-service/internal/service"
	"strings"
	"time"
)

var logger = zerolog.New(os.Stdout).With().Timestamp().Str("component", "api").Logger()

type Handler struct {
	catalog *service.CatalogService
	orders  *service.OrderService
	loyalty *service.LoyaltyService
	hub     *board.Hub
}

func NewHandler(catalog *service.CatalogService, orders *service.OrderService, loyalty *service.LoyaltyService, hub *board.Hub) *Handler {
	return &Handler{catalog: catalog, orders: orders, loyalty: loyalty, hub: hub}
}

// CreateOrder --> POST /orders
func (h *Handler) CreateOrder(c echo.Context) error {
	req := service.CreateOrderRequest{}
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "Invalid request payload")
	}
	req.IdempotentKey = c.Request().Header.Get("Idempotent-Key")

	order, err := h.orders.CreateOrder(c.Request().Context(), &req)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, order)
}

// GetOrder --> GET /orders/:id
func (h *Handler) GetOrder(c echo.Context) error {
	order, err := h.orders.GetOrder(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, order)
}

// CancelOrder --> DELETE /orders/:id
func (h *Handler) CancelOrder(c echo.Context) error {
	order, err := h.orders.CancelOrder(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, order)
}

// AdvanceToken --> PATCH /tokens/:id
func (h *Handler) AdvanceToken(c echo.Context) error {
	body := struct {
		Status entity.TokenStatus `json:"status"`
	}{}
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "Invalid request payload")
	}
	order, err := h.orders.AdvanceToken(c.Request().Context(), c.Param("id"), body.Status)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, order)
}

type statusBody struct {
	Status entity.ItemStatus `json:"status"`
}

// SetItemStatus --> PATCH /items/:id
func (h *Handler) SetItemStatus(c echo.Context) error {
	body := statusBody{}
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "Invalid request payload")
	}
	item, err := h.catalog.SetItemStatus(c.Request().Context(), c.Param("id"), body.Status)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, item)
}

// SetVariationStatus --> PATCH /items/:id/variations/:variation_id
func (h *Handler) SetVariationStatus(c echo.Context) error {
	body := statusBody{}
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "Invalid request payload")
	}
	item, err := h.catalog.SetVariationStatus(c.Request().Context(), c.Param("id"), c.Param("variation_id"), body.Status)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, item)
}

func stationParam(c echo.Context) (entity.Station, bool) {
	station := entity.Station(strings.ToUpper(c.Param("station")))
	return station, station.Valid()
}

// StationTokens --> GET /stations/:station/tokens
func (h *Handler) StationTokens(c echo.Context) error {
	station, ok := stationParam(c)
	if !ok {
		return badRequest(c, "Unknown station")
	}
	tokens, err := h.orders.ListStationTokens(c.Request().Context(), station)
	if err != nil {
		return respondError(c, err)
	}
	if tokens == nil {
		tokens = []entity.OrderToken{}
	}
	return c.JSON(http.StatusOK, tokens)
}

// StationBoard --> GET /stations/:station/ws
func (h *Handler) StationBoard(c echo.Context) error {
	station, ok := stationParam(c)
	if !ok {
		return badRequest(c, "Unknown station")
	}
	// The upgrader has already answered a failed handshake.
	_ = h.hub.Serve(c.Response(), c.Request(), station)
	return nil
}

// GetCustomer --> GET /customers/:id
func (h *Handler) GetCustomer(c echo.Context) error {
	customer, err := h.loyalty.Balance(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, customer)
}

// RedeemPoints --> POST /customers/:id/points/redeem
func (h *Handler) RedeemPoints(c echo.Context) error {
	body := struct {
		Points int64 `json:"points"`
	}{}
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "Invalid request payload")
	}
	id := c.Param("id")
	balance, err := h.loyalty.RedeemPoints(c.Request().Context(), id, body.Points)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"customer_id": id,
		"redeemed":    body.Points,
		"points":      balance,
	})
}

// AddPoints --> POST /customers/:id/points
func (h *Handler) AddPoints(c echo.Context) error {
	body := struct {
		Amount decimal.Decimal `json:"amount"`
	}{}
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "Invalid request payload")
	}
	id := c.Param("id")
	credited, err := h.loyalty.AddPoints(c.Request().Context(), id, body.Amount)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"customer_id": id,
		"credited":    credited,
	})
}

func Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"service": "restaurant-service",
		"time":    time.Now().Format(time.RFC3339),
	})
}
