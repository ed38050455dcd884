package http

import (
	"github.com/shopspring/decimal"

	"weeklytotals/internal/core"
)

// money renders an amount as a fixed two-decimal string.
func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

type transactionResponse struct {
	ID           int64  `json:"id"`
	WeekKey      string `json:"weekKey"`
	Category     string `json:"category"`
	Amount       string `json:"amount"`
	IsAdjustment bool   `json:"isAdjustment"`
	CreatedAt    int64  `json:"createdAt"`
}

func newTransactionResponse(t core.Transaction) transactionResponse {
	return transactionResponse{
		ID:           t.ID,
		WeekKey:      t.WeekKey,
		Category:     t.Category,
		Amount:       money(t.Amount),
		IsAdjustment: t.IsAdjustment,
		CreatedAt:    t.CreatedAt,
	}
}

type weekResponse struct {
	WeekKey      string                `json:"weekKey"`
	Name         string                `json:"name"`
	Total        string                `json:"total"`
	Budget       string                `json:"budget"`
	Remaining    string                `json:"remaining"`
	Transactions []transactionResponse `json:"transactions"`
}

func newWeekResponse(s core.WeekSummary) weekResponse {
	txs := make([]transactionResponse, 0, len(s.Transactions))
	for _, t := range s.Transactions {
		txs = append(txs, newTransactionResponse(t))
	}
	return weekResponse{
		WeekKey:      s.WeekKey,
		Name:         s.Name,
		Total:        money(s.Total),
		Budget:       money(s.Budget),
		Remaining:    money(s.Remaining),
		Transactions: txs,
	}
}

type categoryResponse struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
	Color       string `json:"color"`
	IsSystem    bool   `json:"isSystem"`
}

func newCategoryResponse(c core.Category) categoryResponse {
	return categoryResponse{
		Name:        c.Name,
		DisplayName: c.DisplayName,
		Color:       c.Color,
		IsSystem:    c.IsSystem,
	}
}

type budgetResponse struct {
	Amount                   string  `json:"amount"`
	IsSet                    bool    `json:"isSet"`
	PendingAmount            *string `json:"pendingAmount"`
	TotalSavings             string  `json:"totalSavings"`
	LastSavingsProcessedWeek string  `json:"lastSavingsProcessedWeek,omitempty"`
}

func newBudgetResponse(b core.Budget) budgetResponse {
	res := budgetResponse{
		Amount:                   money(b.Amount),
		IsSet:                    b.IsSet,
		TotalSavings:             money(b.TotalSavings),
		LastSavingsProcessedWeek: b.LastSavingsProcessedWeek,
	}
	if b.HasPending() {
		pending := money(b.PendingAmount.Decimal)
		res.PendingAmount = &pending
	}
	return res
}

type healthResponse struct {
	Status    string `json:"status"`
	Week      string `json:"week"`
	Listening bool   `json:"listening"`
}
