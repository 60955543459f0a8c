package api

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"
	"net/http"
	"time"
)

type RouterConfig struct {
	JWTSecret string
	Rate      float64
	Burst     int
}

func rateLimiter(cfg RouterConfig) echo.MiddlewareFunc {
	limiterConfig := middleware.RateLimiterConfig{
		Skipper: func(c echo.Context) bool {
			return c.Path() == "/health"
		},
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(
			middleware.RateLimiterMemoryStoreConfig{
				Rate:      rate.Limit(cfg.Rate),
				Burst:     cfg.Burst,
				ExpiresIn: 3 * time.Minute,
			}),
		IdentifierExtractor: func(context echo.Context) (string, error) {
			return context.RealIP(), nil
		},
		ErrorHandler: func(context echo.Context, err error) error {
			return context.JSON(http.StatusForbidden, errorResponse{Error: "rate limiter identifier error"})
		},
		DenyHandler: func(context echo.Context, identifier string, err error) error {
			return context.JSON(http.StatusTooManyRequests, errorResponse{Error: "rate limit exceeded", Kind: "rate_limited"})
		},
	}
	return middleware.RateLimiterWithConfig(limiterConfig)
}

// NewRouter builds the echo instance with middleware and every route.
func NewRouter(h *Handler, cfg RouterConfig) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	if cfg.Rate > 0 {
		e.Use(rateLimiter(cfg))
	}

	e.GET("/health", Health)
	e.POST("/orders", h.CreateOrder)
	e.GET("/orders/:id", h.GetOrder)
	e.GET("/customers/:id", h.GetCustomer)

	staff := staffAuth(cfg.JWTSecret)
	e.DELETE("/orders/:id", h.CancelOrder, staff...)
	e.PATCH("/tokens/:id", h.AdvanceToken, staff...)
	e.PATCH("/items/:id", h.SetItemStatus, staff...)
	e.PATCH("/items/:id/variations/:variation_id", h.SetVariationStatus, staff...)
	e.GET("/stations/:station/tokens", h.StationTokens, staff...)
	e.GET("/stations/:station/ws", h.StationBoard, staff...)
	e.POST("/customers/:id/points/redeem", h.RedeemPoints, staff...)
	e.POST("/customers/:id/points", h.AddPoints, staff...)

	return e
}
