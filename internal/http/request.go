package http

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"

	"weeklytotals/internal/core"
)

// amountText accepts an amount written either as a JSON string ("12,50")
// or as a JSON number (12.5). It is parsed later by core.ParseAmount.
type amountText string

func (a *amountText) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*a = amountText(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*a = amountText(n.String())
	return nil
}

type transactionRequest struct {
	WeekKey  string     `json:"weekKey" validate:"omitempty,weekkey"`
	Category string     `json:"category" validate:"required,categoryname"`
	Amount   amountText `json:"amount" validate:"required,amount"`
}

func (r *transactionRequest) normalize() {
	r.WeekKey = strings.TrimSpace(r.WeekKey)
	r.Category = normalizeCategoryName(r.Category)
}

func (r transactionRequest) toTransaction() (core.Transaction, error) {
	amount, err := core.ParseAmount(string(r.Amount))
	if err != nil {
		return core.Transaction{}, err
	}
	return core.Transaction{
		WeekKey:  r.WeekKey,
		Category: r.Category,
		Amount:   amount,
	}, nil
}

type categoryRequest struct {
	Name        string `json:"name" validate:"required,categoryname"`
	DisplayName string `json:"displayName" validate:"max=64"`
	Color       string `json:"color" validate:"omitempty,hexcolor"`
}

func (r *categoryRequest) normalize() {
	r.Name = normalizeCategoryName(r.Name)
	r.DisplayName = strings.TrimSpace(r.DisplayName)
	r.Color = strings.TrimSpace(r.Color)
}

func (r categoryRequest) toCategory() core.Category {
	return core.Category{Name: r.Name, DisplayName: r.DisplayName, Color: r.Color}
}

type budgetRequest struct {
	Amount amountText `json:"amount" validate:"required,budget"`
}

func (r *budgetRequest) normalize() {
	r.Amount = amountText(strings.TrimSpace(string(r.Amount)))
}

func (r budgetRequest) amount() (decimal.Decimal, error) {
	return core.ParseBudget(string(r.Amount))
}

func normalizeCategoryName(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
