package storage

import (
	"database/sql"
)

type Budget struct {
	ID                       int64
	Amount                   string
	IsSet                    bool
	PendingAmount            sql.NullString
	LastSavingsProcessedWeek sql.NullString
	TotalSavings             string
}

type Category struct {
	Name        string
	DisplayName string
	Color       string
	IsSystem    bool
}

type Transaction struct {
	ID           int64
	WeekKey      string
	Category     string
	Amount       string
	IsAdjustment bool
	CreatedAt    int64
}
