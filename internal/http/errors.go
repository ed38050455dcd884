package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"weeklytotals/internal/core"
	"weeklytotals/internal/log"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// statusFor maps ledger errors to an HTTP status and a stable code.
func statusFor(err error) (int, string) {
	var validationErrs validator.ValidationErrors
	switch {
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, core.ErrAdjustmentExists):
		return http.StatusConflict, "adjustment_exists"
	case errors.Is(err, core.ErrSystemCategory):
		return http.StatusConflict, "system_category"
	case errors.Is(err, core.ErrBudgetNotSet):
		return http.StatusConflict, "budget_not_set"
	case errors.Is(err, core.ErrInvalidAmount):
		return http.StatusBadRequest, "invalid_amount"
	case errors.Is(err, core.ErrEmptyCategory):
		return http.StatusBadRequest, "empty_category"
	case errors.Is(err, core.ErrInvalidWeekKey):
		return http.StatusBadRequest, "invalid_week_key"
	case errors.As(err, &validationErrs):
		return http.StatusBadRequest, "validation_failed"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// validationFields lists each failing field with the tag that rejected it.
func validationFields(errs validator.ValidationErrors) map[string]string {
	fields := make(map[string]string, len(errs))
	for _, fe := range errs {
		fields[lowerFirst(fe.Field())] = fe.Tag()
	}
	return fields
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}

// errorHandler renders every handler error as an errorBody. Unexpected
// errors are logged and their text is not returned to the caller.
func errorHandler(logger *log.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		var (
			status int
			body   errorBody
			he     *echo.HTTPError
		)
		if errors.As(err, &he) {
			status = he.Code
			body.Error.Code = strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
			body.Error.Message = http.StatusText(status)
			if msg, ok := he.Message.(string); ok {
				body.Error.Message = msg
			}
		} else {
			status, body.Error.Code = statusFor(err)
			body.Error.Message = err.Error()
			var validationErrs validator.ValidationErrors
			if errors.As(err, &validationErrs) {
				body.Error.Message = "request validation failed"
				body.Error.Fields = validationFields(validationErrs)
			}
		}

		if status >= http.StatusInternalServerError {
			log.FromContext(c.Request().Context()).ErrorContext(c.Request().Context(), "Request failed",
				log.FieldPath, c.Path(), log.FieldError, err)
			body.Error.Message = http.StatusText(status)
		}

		var werr error
		if c.Request().Method == http.MethodHead {
			werr = c.NoContent(status)
		} else {
			werr = c.JSON(status, body)
		}
		if werr != nil {
			logger.ErrorContext(c.Request().Context(), "Failed to write error response", log.FieldError, werr)
		}
	}
}
