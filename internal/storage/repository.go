package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/shopspring/decimal"

	"weeklytotals/internal/core"

	_ "modernc.org/sqlite"
)

// SQLiteRepository is the durable ledger: transactions, categories and the
// budget singleton.
type SQLiteRepository struct {
	db      *sql.DB
	queries *Queries
}

func dsn(dbPath string) string {
	return dbPath + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// One connection serializes writers, which is what makes the
	// adjustment check-then-insert atomic.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dsn(dbPath)); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{
		db:      db,
		queries: New(db),
	}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func (r *SQLiteRepository) withTx(ctx context.Context, fn func(q *Queries) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(r.queries.WithTx(tx)); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func toCoreTransaction(t Transaction) (core.Transaction, error) {
	amount, err := decimal.NewFromString(t.Amount)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("transaction %d amount %q: %w", t.ID, t.Amount, err)
	}
	return core.Transaction{
		ID:           t.ID,
		WeekKey:      t.WeekKey,
		Category:     t.Category,
		Amount:       amount,
		IsAdjustment: t.IsAdjustment,
		CreatedAt:    t.CreatedAt,
	}, nil
}

func toCoreTransactions(rows []Transaction) ([]core.Transaction, error) {
	out := make([]core.Transaction, 0, len(rows))
	for _, row := range rows {
		t, err := toCoreTransaction(row)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// CreateTransaction stores t and returns it with its assigned ID.
func (r *SQLiteRepository) CreateTransaction(ctx context.Context, t core.Transaction) (core.Transaction, error) {
	row, err := r.queries.CreateTransaction(ctx, CreateTransactionParams{
		WeekKey:      t.WeekKey,
		Category:     t.Category,
		Amount:       t.Amount.String(),
		IsAdjustment: t.IsAdjustment,
		CreatedAt:    t.CreatedAt,
	})
	if isUniqueViolation(err) {
		return core.Transaction{}, fmt.Errorf("create transaction: %w", core.ErrAdjustmentExists)
	}
	if err != nil {
		return core.Transaction{}, fmt.Errorf("create transaction: %w", err)
	}

	slog.DebugContext(ctx, "Transaction saved to SQLite",
		"id", row.ID,
		"week_key", row.WeekKey,
		"category", row.Category,
		"amount", row.Amount,
		"created_at", row.CreatedAt)

	return toCoreTransaction(row)
}

// UpdateTransaction overwrites every field of the record with t.ID.
func (r *SQLiteRepository) UpdateTransaction(ctx context.Context, t core.Transaction) error {
	n, err := r.queries.UpdateTransaction(ctx, UpdateTransactionParams{
		WeekKey:      t.WeekKey,
		Category:     t.Category,
		Amount:       t.Amount.String(),
		IsAdjustment: t.IsAdjustment,
		CreatedAt:    t.CreatedAt,
		ID:           t.ID,
	})
	if isUniqueViolation(err) {
		return fmt.Errorf("update transaction %d: %w", t.ID, core.ErrAdjustmentExists)
	}
	if err != nil {
		return fmt.Errorf("update transaction %d: %w", t.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("update transaction %d: %w", t.ID, core.ErrNotFound)
	}
	return nil
}

func (r *SQLiteRepository) DeleteTransaction(ctx context.Context, id int64) error {
	n, err := r.queries.DeleteTransaction(ctx, id)
	if err != nil {
		return fmt.Errorf("delete transaction %d: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("delete transaction %d: %w", id, core.ErrNotFound)
	}
	return nil
}

func (r *SQLiteRepository) GetTransaction(ctx context.Context, id int64) (core.Transaction, error) {
	row, err := r.queries.GetTransaction(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Transaction{}, fmt.Errorf("get transaction %d: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.Transaction{}, fmt.Errorf("get transaction %d: %w", id, err)
	}
	return toCoreTransaction(row)
}

// ListTransactions returns the full local transaction set.
func (r *SQLiteRepository) ListTransactions(ctx context.Context) ([]core.Transaction, error) {
	rows, err := r.queries.ListTransactions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return toCoreTransactions(rows)
}

func (r *SQLiteRepository) ListTransactionsForWeek(ctx context.Context, weekKey string) ([]core.Transaction, error) {
	rows, err := r.queries.ListTransactionsForWeek(ctx, weekKey)
	if err != nil {
		return nil, fmt.Errorf("list transactions for week %s: %w", weekKey, err)
	}
	return toCoreTransactions(rows)
}

// AdjustmentForWeek returns the adjustment of weekKey or core.ErrNotFound.
func (r *SQLiteRepository) AdjustmentForWeek(ctx context.Context, weekKey string) (core.Transaction, error) {
	row, err := r.queries.GetAdjustmentForWeek(ctx, weekKey)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Transaction{}, core.ErrNotFound
	}
	if err != nil {
		return core.Transaction{}, fmt.Errorf("get adjustment for week %s: %w", weekKey, err)
	}
	return toCoreTransaction(row)
}

// InsertAdjustmentIfAbsent inserts t as the adjustment of t.WeekKey unless
// one already exists. When it does, the existing record is returned with
// core.ErrAdjustmentExists.
func (r *SQLiteRepository) InsertAdjustmentIfAbsent(ctx context.Context, t core.Transaction) (core.Transaction, error) {
	t.IsAdjustment = true
	var (
		out    core.Transaction
		exists bool
	)
	err := r.withTx(ctx, func(q *Queries) error {
		existing, err := q.GetAdjustmentForWeek(ctx, t.WeekKey)
		switch {
		case err == nil:
			exists = true
			out, err = toCoreTransaction(existing)
			return err
		case !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("check adjustment for week %s: %w", t.WeekKey, err)
		}

		row, err := q.CreateTransaction(ctx, CreateTransactionParams{
			WeekKey:      t.WeekKey,
			Category:     t.Category,
			Amount:       t.Amount.String(),
			IsAdjustment: true,
			CreatedAt:    t.CreatedAt,
		})
		if err != nil {
			return fmt.Errorf("insert adjustment for week %s: %w", t.WeekKey, err)
		}
		out, err = toCoreTransaction(row)
		return err
	})
	if isUniqueViolation(err) {
		existing, getErr := r.AdjustmentForWeek(ctx, t.WeekKey)
		if getErr != nil {
			return core.Transaction{}, fmt.Errorf("insert adjustment for week %s: %w", t.WeekKey, core.ErrAdjustmentExists)
		}
		return existing, core.ErrAdjustmentExists
	}
	if err != nil {
		return core.Transaction{}, err
	}
	if exists {
		return out, core.ErrAdjustmentExists
	}

	slog.InfoContext(ctx, "Adjustment inserted",
		"id", out.ID,
		"week_key", out.WeekKey,
		"amount", out.Amount.String(),
		"created_at", out.CreatedAt)
	return out, nil
}

// SumForWeek totals every amount of weekKey, adjustments included.
func (r *SQLiteRepository) SumForWeek(ctx context.Context, weekKey string) (decimal.Decimal, error) {
	amounts, err := r.queries.ListAmountsForWeek(ctx, weekKey)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum for week %s: %w", weekKey, err)
	}
	total := decimal.Zero
	for _, a := range amounts {
		d, err := decimal.NewFromString(a)
		if err != nil {
			return decimal.Zero, fmt.Errorf("sum for week %s: amount %q: %w", weekKey, a, err)
		}
		total = total.Add(d)
	}
	return total, nil
}

// MaxCreatedAt returns the greatest createdAt in the ledger, 0 when empty.
func (r *SQLiteRepository) MaxCreatedAt(ctx context.Context) (int64, error) {
	v, err := r.queries.MaxCreatedAt(ctx)
	if err != nil {
		return 0, fmt.Errorf("max created_at: %w", err)
	}
	return v, nil
}

func categoryParams(c core.Category) UpsertCategoryParams {
	return UpsertCategoryParams{
		Name:        c.Name,
		DisplayName: c.DisplayName,
		Color:       c.Color,
		IsSystem:    c.IsSystem,
	}
}

func toCoreCategory(c Category) core.Category {
	return core.Category{
		Name:        c.Name,
		DisplayName: c.DisplayName,
		Color:       c.Color,
		IsSystem:    c.IsSystem,
	}
}

// UpsertCategory creates or overwrites the category keyed by c.Name.
func (r *SQLiteRepository) UpsertCategory(ctx context.Context, c core.Category) error {
	if err := r.queries.UpsertCategory(ctx, categoryParams(c)); err != nil {
		return fmt.Errorf("upsert category %s: %w", c.Name, err)
	}
	return nil
}

// InsertCategoryIfAbsent reports whether c was inserted.
func (r *SQLiteRepository) InsertCategoryIfAbsent(ctx context.Context, c core.Category) (bool, error) {
	n, err := r.queries.InsertCategoryIfAbsent(ctx, categoryParams(c))
	if err != nil {
		return false, fmt.Errorf("insert category %s: %w", c.Name, err)
	}
	return n > 0, nil
}

func (r *SQLiteRepository) GetCategory(ctx context.Context, name string) (core.Category, error) {
	row, err := r.queries.GetCategory(ctx, name)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Category{}, fmt.Errorf("get category %s: %w", name, core.ErrNotFound)
	}
	if err != nil {
		return core.Category{}, fmt.Errorf("get category %s: %w", name, err)
	}
	return toCoreCategory(row), nil
}

func (r *SQLiteRepository) ListCategories(ctx context.Context) ([]core.Category, error) {
	rows, err := r.queries.ListCategories(ctx)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	out := make([]core.Category, len(rows))
	for i, row := range rows {
		out[i] = toCoreCategory(row)
	}
	return out, nil
}

func (r *SQLiteRepository) DeleteCategory(ctx context.Context, name string) error {
	n, err := r.queries.DeleteCategory(ctx, name)
	if err != nil {
		return fmt.Errorf("delete category %s: %w", name, err)
	}
	if n == 0 {
		return fmt.Errorf("delete category %s: %w", name, core.ErrNotFound)
	}
	return nil
}

func toCoreBudget(b Budget) (core.Budget, error) {
	amount, err := decimal.NewFromString(b.Amount)
	if err != nil {
		return core.Budget{}, fmt.Errorf("budget amount %q: %w", b.Amount, err)
	}
	savings, err := decimal.NewFromString(b.TotalSavings)
	if err != nil {
		return core.Budget{}, fmt.Errorf("budget savings %q: %w", b.TotalSavings, err)
	}
	out := core.Budget{
		Amount:                   amount,
		IsSet:                    b.IsSet,
		LastSavingsProcessedWeek: b.LastSavingsProcessedWeek.String,
		TotalSavings:             savings,
	}
	if b.PendingAmount.Valid {
		pending, err := decimal.NewFromString(b.PendingAmount.String)
		if err != nil {
			return core.Budget{}, fmt.Errorf("budget pending %q: %w", b.PendingAmount.String, err)
		}
		out.PendingAmount = decimal.NewNullDecimal(pending)
	}
	return out, nil
}

func (r *SQLiteRepository) GetBudget(ctx context.Context) (core.Budget, error) {
	row, err := r.queries.GetBudget(ctx)
	if err != nil {
		return core.Budget{}, fmt.Errorf("get budget: %w", err)
	}
	return toCoreBudget(row)
}

// SetBudget overwrites amount and isSet, leaving staging and savings alone.
func (r *SQLiteRepository) SetBudget(ctx context.Context, amount decimal.Decimal, isSet bool) error {
	if err := r.queries.SetBudgetAmount(ctx, SetBudgetAmountParams{
		Amount: amount.String(),
		IsSet:  isSet,
	}); err != nil {
		return fmt.Errorf("set budget: %w", err)
	}
	return nil
}

// StagePendingBudget records amount to take effect at the next rollover.
func (r *SQLiteRepository) StagePendingBudget(ctx context.Context, amount decimal.Decimal) error {
	if err := r.queries.SetPendingAmount(ctx, sql.NullString{String: amount.String(), Valid: true}); err != nil {
		return fmt.Errorf("stage pending budget: %w", err)
	}
	return nil
}

// PromotePendingBudget moves a staged amount into place. It reports false
// when nothing was staged.
func (r *SQLiteRepository) PromotePendingBudget(ctx context.Context) (core.Budget, bool, error) {
	var (
		out      core.Budget
		promoted bool
	)
	err := r.withTx(ctx, func(q *Queries) error {
		n, err := q.PromotePendingAmount(ctx)
		if err != nil {
			return fmt.Errorf("promote pending budget: %w", err)
		}
		promoted = n > 0
		row, err := q.GetBudget(ctx)
		if err != nil {
			return fmt.Errorf("get budget: %w", err)
		}
		out, err = toCoreBudget(row)
		return err
	})
	if err != nil {
		return core.Budget{}, false, err
	}
	return out, promoted, nil
}

// RecordWeekSavings adds delta to the savings total and marks weekKey as
// processed, unless weekKey was already processed. It reports whether the
// week was recorded by this call.
func (r *SQLiteRepository) RecordWeekSavings(ctx context.Context, weekKey string, delta decimal.Decimal) (bool, error) {
	var recorded bool
	err := r.withTx(ctx, func(q *Queries) error {
		row, err := q.GetBudget(ctx)
		if err != nil {
			return fmt.Errorf("get budget: %w", err)
		}
		if row.LastSavingsProcessedWeek.Valid && row.LastSavingsProcessedWeek.String == weekKey {
			return nil
		}
		current, err := decimal.NewFromString(row.TotalSavings)
		if err != nil {
			return fmt.Errorf("budget savings %q: %w", row.TotalSavings, err)
		}
		if err := q.SetSavings(ctx, SetSavingsParams{
			TotalSavings:             current.Add(delta).String(),
			LastSavingsProcessedWeek: sql.NullString{String: weekKey, Valid: true},
		}); err != nil {
			return fmt.Errorf("set savings: %w", err)
		}
		recorded = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("record week savings %s: %w", weekKey, err)
	}
	return recorded, nil
}

// DeleteAll clears transactions, categories and the budget.
func (r *SQLiteRepository) DeleteAll(ctx context.Context) error {
	err := r.withTx(ctx, func(q *Queries) error {
		if err := q.DeleteAllTransactions(ctx); err != nil {
			return fmt.Errorf("delete transactions: %w", err)
		}
		if err := q.DeleteAllCategories(ctx); err != nil {
			return fmt.Errorf("delete categories: %w", err)
		}
		if err := q.ResetBudget(ctx); err != nil {
			return fmt.Errorf("reset budget: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	slog.InfoContext(ctx, "Local ledger cleared")
	return nil
}
