package http

import (
	"regexp"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"weeklytotals/internal/core"
	"weeklytotals/internal/week"
)

var categoryNamePattern = regexp.MustCompile(`^[A-Z0-9_]{1,32}$`)

// CustomValidator implements echo.Validator with the ledger's field tags:
// weekkey, amount, budget and categoryname.
type CustomValidator struct {
	validator *validator.Validate
}

// NewValidator creates a new custom validator
func NewValidator() echo.Validator {
	v := validator.New()
	_ = v.RegisterValidation("weekkey", func(fl validator.FieldLevel) bool {
		return week.Valid(fl.Field().String())
	})
	_ = v.RegisterValidation("amount", func(fl validator.FieldLevel) bool {
		_, err := core.ParseAmount(fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation("budget", func(fl validator.FieldLevel) bool {
		_, err := core.ParseBudget(fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation("categoryname", func(fl validator.FieldLevel) bool {
		return categoryNamePattern.MatchString(fl.Field().String())
	})
	return &CustomValidator{validator: v}
}

// Validate implements the echo.Validator interface
func (cv *CustomValidator) Validate(i any) error {
	return cv.validator.Struct(i)
}
