package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"weeklytotals/internal/core"
	"weeklytotals/internal/log"
	"weeklytotals/internal/week"
)

// Store is the durable ledger the services write through.
type Store interface {
	CreateTransaction(ctx context.Context, t core.Transaction) (core.Transaction, error)
	UpdateTransaction(ctx context.Context, t core.Transaction) error
	DeleteTransaction(ctx context.Context, id int64) error
	GetTransaction(ctx context.Context, id int64) (core.Transaction, error)
	ListTransactions(ctx context.Context) ([]core.Transaction, error)
	ListTransactionsForWeek(ctx context.Context, weekKey string) ([]core.Transaction, error)
	AdjustmentForWeek(ctx context.Context, weekKey string) (core.Transaction, error)
	InsertAdjustmentIfAbsent(ctx context.Context, t core.Transaction) (core.Transaction, error)
	SumForWeek(ctx context.Context, weekKey string) (decimal.Decimal, error)
	MaxCreatedAt(ctx context.Context) (int64, error)

	UpsertCategory(ctx context.Context, c core.Category) error
	InsertCategoryIfAbsent(ctx context.Context, c core.Category) (bool, error)
	GetCategory(ctx context.Context, name string) (core.Category, error)
	ListCategories(ctx context.Context) ([]core.Category, error)
	DeleteCategory(ctx context.Context, name string) error

	GetBudget(ctx context.Context) (core.Budget, error)
	SetBudget(ctx context.Context, amount decimal.Decimal, isSet bool) error
	StagePendingBudget(ctx context.Context, amount decimal.Decimal) error
	PromotePendingBudget(ctx context.Context) (core.Budget, bool, error)
	RecordWeekSavings(ctx context.Context, weekKey string, delta decimal.Decimal) (bool, error)

	DeleteAll(ctx context.Context) error
}

type ChangeKind int

const (
	TransactionSaved ChangeKind = iota
	TransactionDeleted
	CategorySaved
	CategoryDeleted
	BudgetChanged
	BudgetStaged
	LedgerCleared
)

func (k ChangeKind) String() string {
	switch k {
	case TransactionSaved:
		return "transaction_saved"
	case TransactionDeleted:
		return "transaction_deleted"
	case CategorySaved:
		return "category_saved"
	case CategoryDeleted:
		return "category_deleted"
	case BudgetChanged:
		return "budget_changed"
	case BudgetStaged:
		return "budget_staged"
	case LedgerCleared:
		return "ledger_cleared"
	default:
		return "unknown"
	}
}

// Change describes one committed ledger write. Only the field matching
// Kind is populated.
type Change struct {
	Kind        ChangeKind
	Origin      core.Origin
	Transaction core.Transaction
	Category    core.Category
	Budget      core.Budget
}

// Observer is notified synchronously after every committed ledger write.
type Observer interface {
	LedgerChanged(ctx context.Context, ch Change)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, ch Change)

func (f ObserverFunc) LedgerChanged(ctx context.Context, ch Change) { f(ctx, ch) }

// Ledger is the single write path into the Store. Every write carries the
// Origin it came from and is announced to observers with it.
type Ledger struct {
	store  Store
	weeks  *week.Calculator
	logger *log.Logger

	stampMu   sync.Mutex
	lastStamp int64

	obsMu     sync.RWMutex
	observers []Observer
}

// NewLedger creates a ledger over store. createdAt stamps continue after
// the greatest one already stored.
func NewLedger(ctx context.Context, store Store, weeks *week.Calculator, logger *log.Logger) (*Ledger, error) {
	if logger == nil {
		logger = log.Default(log.ComponentLedger)
	}
	last, err := store.MaxCreatedAt(ctx)
	if err != nil {
		return nil, fmt.Errorf("load last createdAt: %w", err)
	}
	return &Ledger{
		store:     store,
		weeks:     weeks,
		logger:    logger,
		lastStamp: last,
	}, nil
}

// Observe registers o for every subsequent change.
func (l *Ledger) Observe(o Observer) {
	l.obsMu.Lock()
	defer l.obsMu.Unlock()
	l.observers = append(l.observers, o)
}

func (l *Ledger) notify(ctx context.Context, ch Change) {
	l.obsMu.RLock()
	observers := append([]Observer(nil), l.observers...)
	l.obsMu.RUnlock()
	for _, o := range observers {
		o.LedgerChanged(ctx, ch)
	}
}

// Weeks exposes the week calculator the ledger dates entries with.
func (l *Ledger) Weeks() *week.Calculator {
	return l.weeks
}

// nextStamp returns a createdAt in unix millis that is strictly greater
// than every stamp this device has issued or stored.
func (l *Ledger) nextStamp() int64 {
	l.stampMu.Lock()
	defer l.stampMu.Unlock()
	now := l.weeks.Now().UnixMilli()
	if now <= l.lastStamp {
		now = l.lastStamp + 1
	}
	l.lastStamp = now
	return now
}

func (l *Ledger) observeStamp(createdAt int64) {
	l.stampMu.Lock()
	defer l.stampMu.Unlock()
	if createdAt > l.lastStamp {
		l.lastStamp = createdAt
	}
}

// prepare fills in identity for local entries and checks the result.
func (l *Ledger) prepare(t core.Transaction, origin core.Origin) (core.Transaction, error) {
	if origin == core.OriginLocal {
		if t.CreatedAt == 0 {
			t.CreatedAt = l.nextStamp()
		}
		if t.WeekKey == "" {
			t.WeekKey = l.weeks.CurrentWeek()
		}
	} else {
		l.observeStamp(t.CreatedAt)
	}
	if t.IsAdjustment && t.Category == "" {
		t.Category = core.AdjustmentCategory
	}
	if !week.Valid(t.WeekKey) {
		return t, fmt.Errorf("week %q: %w", t.WeekKey, core.ErrInvalidWeekKey)
	}
	if t.Amount.IsZero() && origin == core.OriginLocal {
		return t, core.ErrInvalidAmount
	}
	return t, t.Validate()
}

// AddTransaction stores a new entry. Local entries get a fresh createdAt
// and default to the current week; replica entries keep theirs.
func (l *Ledger) AddTransaction(ctx context.Context, t core.Transaction, origin core.Origin) (core.Transaction, error) {
	t, err := l.prepare(t, origin)
	if err != nil {
		return core.Transaction{}, err
	}
	created, err := l.store.CreateTransaction(ctx, t)
	if err != nil {
		return core.Transaction{}, err
	}
	l.logger.DebugContext(ctx, "Transaction added",
		log.NewFields().WithTransaction(created).WithOrigin(origin).ToSlice()...)
	l.notify(ctx, Change{Kind: TransactionSaved, Origin: origin, Transaction: created})
	return created, nil
}

// UpdateTransaction overwrites the entry with t.ID. A zero createdAt keeps
// the stored one.
func (l *Ledger) UpdateTransaction(ctx context.Context, t core.Transaction, origin core.Origin) (core.Transaction, error) {
	current, err := l.store.GetTransaction(ctx, t.ID)
	if err != nil {
		return core.Transaction{}, err
	}
	if t.CreatedAt == 0 {
		t.CreatedAt = current.CreatedAt
	}
	if t.WeekKey == "" {
		t.WeekKey = current.WeekKey
	}
	if origin == core.OriginReplica {
		l.observeStamp(t.CreatedAt)
	}
	if !week.Valid(t.WeekKey) {
		return core.Transaction{}, fmt.Errorf("week %q: %w", t.WeekKey, core.ErrInvalidWeekKey)
	}
	if err := t.Validate(); err != nil {
		return core.Transaction{}, err
	}
	if err := l.store.UpdateTransaction(ctx, t); err != nil {
		return core.Transaction{}, err
	}
	l.notify(ctx, Change{Kind: TransactionSaved, Origin: origin, Transaction: t})

	// A local identity change leaves the old remote key behind.
	if origin == core.OriginLocal && current.CreatedAt != t.CreatedAt {
		l.notify(ctx, Change{Kind: TransactionDeleted, Origin: origin, Transaction: current})
	}
	return t, nil
}

func (l *Ledger) DeleteTransaction(ctx context.Context, id int64, origin core.Origin) error {
	current, err := l.store.GetTransaction(ctx, id)
	if err != nil {
		return err
	}
	if err := l.store.DeleteTransaction(ctx, id); err != nil {
		return err
	}
	l.notify(ctx, Change{Kind: TransactionDeleted, Origin: origin, Transaction: current})
	return nil
}

// InsertAdjustmentIfAbsent stores t as the adjustment of its week unless
// the week already has one, in which case the existing record is returned
// with core.ErrAdjustmentExists and nothing is announced.
func (l *Ledger) InsertAdjustmentIfAbsent(ctx context.Context, t core.Transaction, origin core.Origin) (core.Transaction, error) {
	t.IsAdjustment = true
	t, err := l.prepare(t, origin)
	if err != nil {
		return core.Transaction{}, err
	}
	created, err := l.store.InsertAdjustmentIfAbsent(ctx, t)
	if err != nil {
		return created, err
	}
	l.notify(ctx, Change{Kind: TransactionSaved, Origin: origin, Transaction: created})
	return created, nil
}

func (l *Ledger) GetTransaction(ctx context.Context, id int64) (core.Transaction, error) {
	return l.store.GetTransaction(ctx, id)
}

func (l *Ledger) ListTransactions(ctx context.Context) ([]core.Transaction, error) {
	return l.store.ListTransactions(ctx)
}

func (l *Ledger) SumForWeek(ctx context.Context, weekKey string) (decimal.Decimal, error) {
	return l.store.SumForWeek(ctx, weekKey)
}

// WeekSummary lists weekKey's entries with the week's total and what is
// left of the budget.
func (l *Ledger) WeekSummary(ctx context.Context, weekKey string) (core.WeekSummary, error) {
	name, err := week.Name(weekKey)
	if err != nil {
		return core.WeekSummary{}, err
	}
	txs, err := l.store.ListTransactionsForWeek(ctx, weekKey)
	if err != nil {
		return core.WeekSummary{}, err
	}
	total := decimal.Zero
	for _, t := range txs {
		total = total.Add(t.Amount)
	}
	b, err := l.store.GetBudget(ctx)
	if err != nil {
		return core.WeekSummary{}, err
	}
	return core.WeekSummary{
		WeekKey:      weekKey,
		Name:         name,
		Transactions: txs,
		Total:        total,
		Budget:       b.Amount,
		Remaining:    b.Remaining(total),
	}, nil
}

func withCategoryDefaults(c core.Category) core.Category {
	if c.DisplayName == "" {
		c.DisplayName = c.Name
	}
	if c.Color == "" {
		c.Color = core.DefaultCategoryColor
	}
	return c
}

// SaveCategory creates or overwrites c.
func (l *Ledger) SaveCategory(ctx context.Context, c core.Category, origin core.Origin) (core.Category, error) {
	c = withCategoryDefaults(c)
	if err := c.Validate(); err != nil {
		return core.Category{}, err
	}
	if origin == core.OriginLocal {
		if current, err := l.store.GetCategory(ctx, c.Name); err == nil && current.IsSystem {
			return core.Category{}, fmt.Errorf("category %s: %w", c.Name, core.ErrSystemCategory)
		}
	}
	if err := l.store.UpsertCategory(ctx, c); err != nil {
		return core.Category{}, err
	}
	l.notify(ctx, Change{Kind: CategorySaved, Origin: origin, Category: c})
	return c, nil
}

// UpdateCategory overwrites an existing category.
func (l *Ledger) UpdateCategory(ctx context.Context, c core.Category, origin core.Origin) (core.Category, error) {
	if _, err := l.store.GetCategory(ctx, c.Name); err != nil {
		return core.Category{}, err
	}
	return l.SaveCategory(ctx, c, origin)
}

// DeleteCategory removes a category. System categories can only be removed
// by the replica.
func (l *Ledger) DeleteCategory(ctx context.Context, name string, origin core.Origin) error {
	current, err := l.store.GetCategory(ctx, name)
	if err != nil {
		return err
	}
	if current.IsSystem && origin == core.OriginLocal {
		return fmt.Errorf("category %s: %w", name, core.ErrSystemCategory)
	}
	if err := l.store.DeleteCategory(ctx, name); err != nil {
		return err
	}
	l.notify(ctx, Change{Kind: CategoryDeleted, Origin: origin, Category: current})
	return nil
}

func (l *Ledger) GetCategory(ctx context.Context, name string) (core.Category, error) {
	return l.store.GetCategory(ctx, name)
}

func (l *Ledger) ListCategories(ctx context.Context) ([]core.Category, error) {
	return l.store.ListCategories(ctx)
}

func (l *Ledger) GetBudget(ctx context.Context) (core.Budget, error) {
	return l.store.GetBudget(ctx)
}

// SetupBudget sets the budget for the first time, effective immediately,
// and seeds the default categories that are missing. The budget and every
// category are announced as local changes.
func (l *Ledger) SetupBudget(ctx context.Context, amount decimal.Decimal) (core.Budget, error) {
	if !amount.IsPositive() {
		return core.Budget{}, core.ErrInvalidAmount
	}
	if err := l.store.SetBudget(ctx, amount, true); err != nil {
		return core.Budget{}, err
	}
	for _, c := range core.DefaultCategories {
		if _, err := l.store.InsertCategoryIfAbsent(ctx, c); err != nil {
			return core.Budget{}, fmt.Errorf("seed category %s: %w", c.Name, err)
		}
	}
	b, err := l.store.GetBudget(ctx)
	if err != nil {
		return core.Budget{}, err
	}
	categories, err := l.store.ListCategories(ctx)
	if err != nil {
		return core.Budget{}, err
	}

	l.logger.InfoContext(ctx, "Budget set up",
		log.FieldAmount, amount.StringFixed(2),
		"categories", len(categories))
	l.notify(ctx, Change{Kind: BudgetChanged, Origin: core.OriginLocal, Budget: b})
	for _, c := range categories {
		l.notify(ctx, Change{Kind: CategorySaved, Origin: core.OriginLocal, Category: c})
	}
	return b, nil
}

// StageBudget records amount to replace the budget at the next rollover.
func (l *Ledger) StageBudget(ctx context.Context, amount decimal.Decimal) (core.Budget, error) {
	if !amount.IsPositive() {
		return core.Budget{}, core.ErrInvalidAmount
	}
	b, err := l.store.GetBudget(ctx)
	if err != nil {
		return core.Budget{}, err
	}
	if !b.IsSet {
		return core.Budget{}, core.ErrBudgetNotSet
	}
	if err := l.store.StagePendingBudget(ctx, amount); err != nil {
		return core.Budget{}, err
	}
	b.PendingAmount = decimal.NewNullDecimal(amount)
	l.notify(ctx, Change{Kind: BudgetStaged, Origin: core.OriginLocal, Budget: b})
	return b, nil
}

// SetBudget overwrites amount and isSet. A pending amount is kept.
func (l *Ledger) SetBudget(ctx context.Context, amount decimal.Decimal, isSet bool, origin core.Origin) (core.Budget, error) {
	if err := l.store.SetBudget(ctx, amount, isSet); err != nil {
		return core.Budget{}, err
	}
	b, err := l.store.GetBudget(ctx)
	if err != nil {
		return core.Budget{}, err
	}
	l.notify(ctx, Change{Kind: BudgetChanged, Origin: origin, Budget: b})
	return b, nil
}

// PromotePendingBudget applies a staged budget. It reports whether one
// was staged.
func (l *Ledger) PromotePendingBudget(ctx context.Context) (core.Budget, bool, error) {
	b, promoted, err := l.store.PromotePendingBudget(ctx)
	if err != nil || !promoted {
		return b, promoted, err
	}
	l.notify(ctx, Change{Kind: BudgetChanged, Origin: core.OriginLocal, Budget: b})
	return b, true, nil
}

// RecordWeekSavings adds delta to the savings unless weekKey was already
// processed. Savings stay local to the device.
func (l *Ledger) RecordWeekSavings(ctx context.Context, weekKey string, delta decimal.Decimal) (bool, error) {
	return l.store.RecordWeekSavings(ctx, weekKey, delta)
}

// Reset clears the local ledger and announces it, which also clears the
// replica when a sync engine is observing.
func (l *Ledger) Reset(ctx context.Context) error {
	if err := l.store.DeleteAll(ctx); err != nil {
		return err
	}
	l.logger.InfoContext(ctx, "Ledger reset", log.FieldOperation, log.OpClear)
	l.notify(ctx, Change{Kind: LedgerCleared, Origin: core.OriginLocal})
	return nil
}

// IsNotFound reports whether err means the record does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, core.ErrNotFound)
}
