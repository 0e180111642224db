package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"edgesync.shamra.dev/erp"
	"edgesync.shamra.dev/transform"
	"edgesync.shamra.dev/users"
	"edgesync.shamra.dev/webhook"
)

// errorResponse is the uniform error body. Internal failure details stay in
// the logs; clients get the category and a stable message.
type errorResponse struct {
	Error string `json:"error"`
}

// httpError maps domain errors onto HTTP status codes.
func httpError(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, webhook.ErrValidation),
		errors.Is(err, transform.ErrEmptyWarehouseReference):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, users.ErrInvalidCredentials),
		errors.Is(err, users.ErrInvalidToken),
		errors.Is(err, users.ErrExpiredToken):
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	case errors.Is(err, users.ErrUserNotFound),
		errors.Is(err, users.ErrMessageNotFound),
		erp.IsNotFound(err):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, users.ErrEmailTaken),
		errors.Is(err, users.ErrUsernameTaken),
		errors.Is(err, users.ErrPhoneTaken),
		errors.Is(err, users.ErrDeviceTaken),
		errors.Is(err, users.ErrStatusDowngrade):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, users.ErrEmptyPassword),
		errors.Is(err, users.ErrPasswordTooShort),
		errors.Is(err, users.ErrInvalidStatus):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case erp.IsTransient(err):
		return echo.NewHTTPError(http.StatusBadGateway, "upstream unavailable")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}

func respondError(c echo.Context, err error) error {
	he := httpError(err)
	return c.JSON(he.Code, errorResponse{Error: he.Message.(string)})
}
