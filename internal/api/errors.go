package api

import (
	"errors"
	"github.com/labstack/echo/v4"
	"net/http"
	"restaurant-service/internal/apperr"
)

type errorResponse struct {
	Error      string             `json:"error"`
	Kind       string             `json:"kind,omitempty"`
	Violations []apperr.Violation `json:"violations,omitempty"`
}

var statusByKind = map[apperr.Kind]int{
	apperr.KindValidation:          http.StatusBadRequest,
	apperr.KindNotFound:            http.StatusNotFound,
	apperr.KindInvalidState:        http.StatusConflict,
	apperr.KindInsufficientBalance: http.StatusUnprocessableEntity,
	apperr.KindStorage:             http.StatusServiceUnavailable,
	apperr.KindRetryable:           http.StatusServiceUnavailable,
}

// respondError writes the JSON error envelope. Errors outside the taxonomy are 500s and their
// text is not exposed.
func respondError(c echo.Context, err error) error {
	var ae *apperr.Error
	if !errors.As(err, &ae) {
		logger.Error().Err(err).Str("path", c.Path()).Msg("Unhandled error")
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
	status, ok := statusByKind[ae.Kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	if status >= http.StatusInternalServerError {
		logger.Error().Err(err).Str("path", c.Path()).Msg("Request failed")
	}
	return c.JSON(status, errorResponse{Error: ae.Error(), Kind: string(ae.Kind), Violations: ae.Violations})
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, errorResponse{Error: msg, Kind: string(apperr.KindValidation)})
}
