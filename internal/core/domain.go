package core

import (
	"errors"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	// AdjustmentCategory is the category code carried by carry-over adjustments.
	AdjustmentCategory = "ADJUSTMENT"

	// DefaultCategoryColor is used when a category arrives without a color.
	DefaultCategoryColor = "#607D8B"
)

// Origin tags a ledger write with where it came from. Only OriginLocal
// writes are forwarded to the replica.
type Origin int

const (
	OriginLocal Origin = iota
	OriginReplica
)

func (o Origin) String() string {
	switch o {
	case OriginLocal:
		return "local"
	case OriginReplica:
		return "replica"
	default:
		return "unknown"
	}
}

type (
	// Transaction is one ledger entry. CreatedAt (unix millis) doubles as
	// the remote identity key.
	Transaction struct {
		ID           int64
		WeekKey      string
		Category     string
		Amount       decimal.Decimal // negative for refunds
		IsAdjustment bool
		CreatedAt    int64
	}

	Category struct {
		Name        string
		DisplayName string
		Color       string
		IsSystem    bool
	}

	// Budget is the singleton weekly budget record.
	Budget struct {
		Amount                   decimal.Decimal
		IsSet                    bool
		PendingAmount            decimal.NullDecimal
		LastSavingsProcessedWeek string
		TotalSavings             decimal.Decimal
	}
)

var (
	ErrNotFound         = errors.New("not found")
	ErrAdjustmentExists = errors.New("adjustment already exists for week")
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrEmptyCategory    = errors.New("empty category")
	ErrInvalidWeekKey   = errors.New("invalid week key")
	ErrBudgetNotSet     = errors.New("budget not set")
	ErrSystemCategory   = errors.New("system category cannot be changed")
)

// DefaultCategories are seeded on first run.
var DefaultCategories = []Category{
	{Name: "GROCERY", DisplayName: "Grocery", Color: "#4CAF50"},
	{Name: "GAS", DisplayName: "Gas", Color: "#2196F3"},
	{Name: "ENTERTAINMENT", DisplayName: "Entertainment", Color: "#FF9800"},
	{Name: "TRAVEL", DisplayName: "Travel", Color: "#9C27B0"},
	{Name: AdjustmentCategory, DisplayName: "Adjustment", Color: "#FF5722", IsSystem: true},
}

// RemoteKey returns the key under which the transaction lives in the replica.
func (t Transaction) RemoteKey() string {
	return strconv.FormatInt(t.CreatedAt, 10)
}

// SameContent reports whether the replicated fields of t and o match.
// ID and CreatedAt are identity, not content.
func (t Transaction) SameContent(o Transaction) bool {
	return t.WeekKey == o.WeekKey &&
		t.Category == o.Category &&
		t.Amount.Equal(o.Amount) &&
		t.IsAdjustment == o.IsAdjustment
}

func (t Transaction) Validate() error {
	if strings.TrimSpace(t.WeekKey) == "" {
		return ErrInvalidWeekKey
	}
	if strings.TrimSpace(t.Category) == "" {
		return ErrEmptyCategory
	}
	if t.CreatedAt <= 0 {
		return errors.New("createdAt must be positive")
	}
	return nil
}

// SameContent reports whether the replicated fields other than Name match.
func (c Category) SameContent(o Category) bool {
	return c.DisplayName == o.DisplayName &&
		c.Color == o.Color &&
		c.IsSystem == o.IsSystem
}

func (c Category) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return ErrEmptyCategory
	}
	if strings.ContainsAny(c.Name, "/.#$[]") {
		return errors.New("category name contains reserved characters")
	}
	return nil
}

// HasPending reports whether a staged budget change is waiting for rollover.
func (b Budget) HasPending() bool {
	return b.PendingAmount.Valid
}

// Remaining returns the budget left after spending total.
func (b Budget) Remaining(total decimal.Decimal) decimal.Decimal {
	return b.Amount.Sub(total)
}
