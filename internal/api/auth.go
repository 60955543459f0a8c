package api

import (
	"github.com/golang-jwt/jwt/v5"
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
	"net/http"
	"time"
)

const RoleStaff = "staff"

type JwtCustomClaims struct {
	Name string `json:"name"`
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// IssueToken signs a staff token with the shared HS256 secret.
func IssueToken(secret, name, role string, ttl time.Duration) (string, error) {
	claims := &JwtCustomClaims{
		Name: name,
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   name,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
	tkn := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tkn.SignedString([]byte(secret))
}

func staffAuth(secret string) []echo.MiddlewareFunc {
	return []echo.MiddlewareFunc{
		echojwt.WithConfig(echojwt.Config{
			SigningKey:  []byte(secret),
			TokenLookup: "header:Authorization:Bearer ,query:token",
			NewClaimsFunc: func(c echo.Context) jwt.Claims {
				return new(JwtCustomClaims)
			},
			ErrorHandler: func(c echo.Context, err error) error {
				return c.JSON(http.StatusUnauthorized, errorResponse{Error: "missing or invalid token", Kind: "unauthorized"})
			},
		}),
		requireRole(RoleStaff),
	}
}

func requireRole(role string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token, ok := c.Get("user").(*jwt.Token)
			if !ok {
				return c.JSON(http.StatusUnauthorized, errorResponse{Error: "missing token", Kind: "unauthorized"})
			}
			claims, ok := token.Claims.(*JwtCustomClaims)
			if !ok || claims.Role != role {
				return c.JSON(http.StatusForbidden, errorResponse{Error: "staff only", Kind: "forbidden"})
			}
			return next(c)
		}
	}
}
