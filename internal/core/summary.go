package core

import "github.com/shopspring/decimal"

// WeekSummary is the ledger view of a single week.
type WeekSummary struct {
	WeekKey      string
	Name         string
	Transactions []Transaction
	Total        decimal.Decimal
	Budget       decimal.Decimal
	Remaining    decimal.Decimal
}
