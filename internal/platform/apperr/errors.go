// Package apperr defines the error kinds shared by every domain service and
// the echo error handler that renders them.
package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("resource not found")
	ErrConflict          = errors.New("resource conflict")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidState      = errors.New("invalid state")
	ErrUnauthorized      = errors.New("unauthorized")
)

// Error codes rendered in the "code" field of error responses.
const (
	CodeValidation        = "VALIDATION_ERROR"
	CodeNotFound          = "RESOURCE_NOT_FOUND"
	CodeConflict          = "CONFLICT"
	CodeInsufficientStock = "INSUFFICIENT_STOCK"
	CodeInvalidState      = "INVALID_STATE"
	CodeUnauthorized      = "UNAUTHORIZED"
	CodeForbidden         = "INSUFFICIENT_PERMISSIONS"
	CodeRateLimited       = "RATE_LIMITED"
	CodeInternal          = "INTERNAL_ERROR"
)

// Response is the JSON body of every error response.
type Response struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Validation returns an ErrValidation with a formatted message.
func Validation(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// NotFound returns an ErrNotFound naming the missing resource.
func NotFound(resource string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, resource)
}

// Conflict returns an ErrConflict with a formatted message.
func Conflict(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

// InvalidState returns an ErrInvalidState with a formatted message.
func InvalidState(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidState, fmt.Sprintf(format, args...))
}

// InsufficientStock returns an ErrInsufficientStock naming the product and
// the quantities involved.
func InsufficientStock(product string, available, requested int) error {
	return fmt.Errorf("%w: %s has %d in stock, %d requested", ErrInsufficientStock, product, available, requested)
}

// FromDB translates driver errors into application kinds. The resource name is
// used for not-found messages.
func FromDB(err error, resource string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return NotFound(resource)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return Conflict("%s already exists", resource)
		case "23503":
			return Conflict("%s is referenced by other records", resource)
		case "23514":
			return Validation("%s violates constraint %s", resource, pgErr.ConstraintName)
		}
	}
	return err
}

// Status maps an error to its HTTP status code and response code.
func Status(err error) (int, string) {
	switch {
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest, CodeValidation
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, ErrInsufficientStock):
		return http.StatusConflict, CodeInsufficientStock
	case errors.Is(err, ErrInvalidState):
		return http.StatusConflict, CodeInvalidState
	case errors.Is(err, ErrConflict):
		return http.StatusConflict, CodeConflict
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, CodeUnauthorized
	}
	return http.StatusInternalServerError, CodeInternal
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return CodeValidation
	case http.StatusNotFound:
		return CodeNotFound
	case http.StatusConflict:
		return CodeConflict
	case http.StatusUnauthorized:
		return CodeUnauthorized
	case http.StatusForbidden:
		return CodeForbidden
	case http.StatusTooManyRequests:
		return CodeRateLimited
	}
	return CodeInternal
}

// HTTPErrorHandler renders domain errors and echo.HTTPErrors as Response
// bodies. Unclassified errors are logged and hidden behind a 500.
func HTTPErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		var resp Response
		status := http.StatusInternalServerError

		var he *echo.HTTPError
		if errors.As(err, &he) {
			status = he.Code
			resp.Error = http.StatusText(status)
			resp.Message = fmt.Sprintf("%v", he.Message)
			resp.Code = codeForStatus(status)
		} else {
			var code string
			status, code = Status(err)
			resp.Error = http.StatusText(status)
			resp.Code = code
			if status == http.StatusInternalServerError {
				rid, _ := c.Get("request_id").(string)
				logger.Error().Err(err).
					Str("request_id", rid).
					Str("path", c.Request().URL.Path).
					Msg("unhandled error")
				resp.Message = "internal server error"
			} else {
				resp.Message = err.Error()
			}
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(status)
		} else {
			err = c.JSON(status, resp)
		}
		if err != nil {
			logger.Error().Err(err).Msg("failed to write error response")
		}
	}
}
