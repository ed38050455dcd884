package reconcile

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"weeklytotals/internal/core"
)

// Wire field names shared by every device.
const (
	fieldWeekKey      = "weekKey"
	fieldCategory     = "category"
	fieldAmount       = "amount"
	fieldIsAdjustment = "isAdjustment"
	fieldCreatedAt    = "createdAt"
	fieldName         = "name"
	fieldDisplayName  = "displayName"
	fieldColor        = "color"
	fieldIsSystem     = "isSystem"
	fieldIsSet        = "isSet"
)

func EncodeTransaction(t core.Transaction) map[string]any {
	return map[string]any{
		fieldWeekKey:      t.WeekKey,
		fieldCategory:     t.Category,
		fieldAmount:       t.Amount.InexactFloat64(),
		fieldIsAdjustment: t.IsAdjustment,
		fieldCreatedAt:    t.CreatedAt,
	}
}

func EncodeCategory(c core.Category) map[string]any {
	return map[string]any{
		fieldName:        c.Name,
		fieldDisplayName: c.DisplayName,
		fieldColor:       c.Color,
		fieldIsSystem:    c.IsSystem,
	}
}

func EncodeBudget(amount decimal.Decimal, isSet bool) map[string]any {
	return map[string]any{
		fieldAmount: amount.InexactFloat64(),
		fieldIsSet:  isSet,
	}
}

// DecodeTransactions parses a transactions subtree into records keyed by
// createdAt. Entries without a week key, a category or a numeric amount are
// skipped and counted. createdAt comes from the entry, falling back to its
// key.
func DecodeTransactions(children map[string]any) (map[int64]core.Transaction, int) {
	out := make(map[int64]core.Transaction, len(children))
	skipped := 0
	for _, key := range sortedKeys(children) {
		t, ok := decodeTransaction(key, children[key])
		if !ok {
			skipped++
			continue
		}
		out[t.CreatedAt] = t
	}
	return out, skipped
}

func decodeTransaction(key string, v any) (core.Transaction, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return core.Transaction{}, false
	}
	weekKey, _ := m[fieldWeekKey].(string)
	category, _ := m[fieldCategory].(string)
	if strings.TrimSpace(weekKey) == "" || strings.TrimSpace(category) == "" {
		return core.Transaction{}, false
	}
	amount, ok := toDecimal(m[fieldAmount])
	if !ok {
		return core.Transaction{}, false
	}
	createdAt, ok := toInt64(m[fieldCreatedAt])
	if !ok {
		createdAt, ok = toInt64(key)
		if !ok {
			return core.Transaction{}, false
		}
	}
	isAdjustment, _ := m[fieldIsAdjustment].(bool)
	return core.Transaction{
		WeekKey:      weekKey,
		Category:     category,
		Amount:       amount,
		IsAdjustment: isAdjustment,
		CreatedAt:    createdAt,
	}, true
}

// DecodeCategories parses a categories subtree keyed by name, applying the
// display defaults for missing fields.
func DecodeCategories(children map[string]any) (map[string]core.Category, int) {
	out := make(map[string]core.Category, len(children))
	skipped := 0
	for _, key := range sortedKeys(children) {
		m, ok := children[key].(map[string]any)
		if !ok {
			skipped++
			continue
		}
		name, _ := m[fieldName].(string)
		if strings.TrimSpace(name) == "" {
			name = key
		}
		if strings.TrimSpace(name) == "" {
			skipped++
			continue
		}
		c := core.Category{Name: name, DisplayName: name, Color: core.DefaultCategoryColor}
		if s, _ := m[fieldDisplayName].(string); s != "" {
			c.DisplayName = s
		}
		if s, _ := m[fieldColor].(string); s != "" {
			c.Color = s
		}
		c.IsSystem, _ = m[fieldIsSystem].(bool)
		out[c.Name] = c
	}
	return out, skipped
}

// RemoteBudget is the replicated part of the budget.
type RemoteBudget struct {
	Amount decimal.Decimal
	IsSet  bool
}

// DecodeBudget reports false when v is not a usable budget record.
func DecodeBudget(v any) (RemoteBudget, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return RemoteBudget{}, false
	}
	isSet, _ := m[fieldIsSet].(bool)
	amount, ok := toDecimal(m[fieldAmount])
	if !ok {
		if isSet {
			return RemoteBudget{}, false
		}
		amount = decimal.Zero
	}
	return RemoteBudget{Amount: amount, IsSet: isSet}, true
}

func toDecimal(v any) (decimal.Decimal, bool) {
	switch x := v.(type) {
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return decimal.Zero, false
		}
		return core.FromFloat(x), true
	case float32:
		return toDecimal(float64(x))
	case int:
		return decimal.NewFromInt(int64(x)), true
	case int64:
		return decimal.NewFromInt(x), true
	case json.Number:
		d, err := decimal.NewFromString(x.String())
		return d.Round(2), err == nil
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(x))
		return d.Round(2), err == nil
	default:
		return decimal.Zero, false
	}
}

func toInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case float64:
		if x != math.Trunc(x) || math.IsInf(x, 0) {
			return 0, false
		}
		return int64(x), true
	case int:
		return int64(x), true
	case int64:
		return x, true
	case json.Number:
		n, err := x.Int64()
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
