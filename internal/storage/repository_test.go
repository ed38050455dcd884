package storage

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weeklytotals/internal/core"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func amount(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestTransactionCRUD(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	created, err := repo.CreateTransaction(ctx, core.Transaction{
		WeekKey: "2025-02-08", Category: "GAS", Amount: amount("42.10"), CreatedAt: 1000,
	})
	require.NoError(t, err)
	assert.NotZero(t, created.ID)

	got, err := repo.GetTransaction(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, got.SameContent(created))
	assert.Equal(t, int64(1000), got.CreatedAt)

	got.Category = "GROCERY"
	got.Amount = amount("-3.5")
	require.NoError(t, repo.UpdateTransaction(ctx, got))

	list, err := repo.ListTransactions(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "GROCERY", list[0].Category)
	assert.True(t, list[0].Amount.Equal(amount("-3.5")))

	require.NoError(t, repo.DeleteTransaction(ctx, got.ID))
	_, err = repo.GetTransaction(ctx, got.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.ErrorIs(t, repo.DeleteTransaction(ctx, got.ID), core.ErrNotFound)
	assert.ErrorIs(t, repo.UpdateTransaction(ctx, got), core.ErrNotFound)
}

func TestSumForWeekIncludesAdjustmentsAndRefunds(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	for i, a := range []string{"10.10", "20.20", "-5"} {
		_, err := repo.CreateTransaction(ctx, core.Transaction{
			WeekKey: "2025-02-08", Category: "GAS", Amount: amount(a), CreatedAt: int64(i + 1),
		})
		require.NoError(t, err)
	}
	_, err := repo.InsertAdjustmentIfAbsent(ctx, core.Transaction{
		WeekKey: "2025-02-08", Category: core.AdjustmentCategory, Amount: amount("7"), CreatedAt: 99,
	})
	require.NoError(t, err)
	_, err = repo.CreateTransaction(ctx, core.Transaction{
		WeekKey: "2025-02-15", Category: "GAS", Amount: amount("100"), CreatedAt: 100,
	})
	require.NoError(t, err)

	sum, err := repo.SumForWeek(ctx, "2025-02-08")
	require.NoError(t, err)
	assert.True(t, sum.Equal(amount("32.30")), "got %s", sum)

	empty, err := repo.SumForWeek(ctx, "2030-01-05")
	require.NoError(t, err)
	assert.True(t, empty.IsZero())
}

func TestInsertAdjustmentIfAbsent(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	first, err := repo.InsertAdjustmentIfAbsent(ctx, core.Transaction{
		WeekKey: "2025-02-08", Category: core.AdjustmentCategory, Amount: amount("20"), CreatedAt: 1000,
	})
	require.NoError(t, err)
	assert.True(t, first.IsAdjustment)

	existing, err := repo.InsertAdjustmentIfAbsent(ctx, core.Transaction{
		WeekKey: "2025-02-08", Category: core.AdjustmentCategory, Amount: amount("30"), CreatedAt: 2000,
	})
	assert.ErrorIs(t, err, core.ErrAdjustmentExists)
	assert.Equal(t, first.ID, existing.ID)
	assert.True(t, existing.Amount.Equal(amount("20")))

	_, err = repo.CreateTransaction(ctx, core.Transaction{
		WeekKey: "2025-02-08", Category: core.AdjustmentCategory, Amount: amount("1"), IsAdjustment: true, CreatedAt: 3000,
	})
	assert.ErrorIs(t, err, core.ErrAdjustmentExists)
}

func TestInsertAdjustmentIfAbsentConcurrent(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	const workers = 16
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		inserted int
		skipped  int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := repo.InsertAdjustmentIfAbsent(ctx, core.Transaction{
				WeekKey: "2025-02-08", Category: core.AdjustmentCategory, Amount: amount("5"), CreatedAt: int64(1000 + i),
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				inserted++
			case errors.Is(err, core.ErrAdjustmentExists):
				skipped++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, inserted)
	assert.Equal(t, workers-1, skipped)

	list, err := repo.ListTransactionsForWeek(ctx, "2025-02-08")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestCategories(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	inserted, err := repo.InsertCategoryIfAbsent(ctx, core.Category{Name: "GAS", DisplayName: "Gas", Color: "#2196F3"})
	require.NoError(t, err)
	assert.True(t, inserted)
	inserted, err = repo.InsertCategoryIfAbsent(ctx, core.Category{Name: "GAS", DisplayName: "Other"})
	require.NoError(t, err)
	assert.False(t, inserted)

	require.NoError(t, repo.UpsertCategory(ctx, core.Category{Name: "GAS", DisplayName: "Fuel", Color: "#000000"}))
	got, err := repo.GetCategory(ctx, "GAS")
	require.NoError(t, err)
	assert.Equal(t, "Fuel", got.DisplayName)

	require.NoError(t, repo.UpsertCategory(ctx, core.Category{Name: core.AdjustmentCategory, DisplayName: "Adjustment", IsSystem: true}))
	list, err := repo.ListCategories(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "GAS", list[0].Name)

	require.NoError(t, repo.DeleteCategory(ctx, "GAS"))
	_, err = repo.GetCategory(ctx, "GAS")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestBudgetLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	b, err := repo.GetBudget(ctx)
	require.NoError(t, err)
	assert.False(t, b.IsSet)
	assert.True(t, b.TotalSavings.IsZero())

	require.NoError(t, repo.SetBudget(ctx, amount("100"), true))
	require.NoError(t, repo.StagePendingBudget(ctx, amount("150")))

	b, err = repo.GetBudget(ctx)
	require.NoError(t, err)
	assert.True(t, b.Amount.Equal(amount("100")))
	assert.True(t, b.HasPending())

	b, promoted, err := repo.PromotePendingBudget(ctx)
	require.NoError(t, err)
	assert.True(t, promoted)
	assert.True(t, b.Amount.Equal(amount("150")))
	assert.False(t, b.HasPending())

	_, promoted, err = repo.PromotePendingBudget(ctx)
	require.NoError(t, err)
	assert.False(t, promoted)
}

func TestRecordWeekSavingsOncePerWeek(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	recorded, err := repo.RecordWeekSavings(ctx, "2025-02-08", amount("40"))
	require.NoError(t, err)
	assert.True(t, recorded)

	recorded, err = repo.RecordWeekSavings(ctx, "2025-02-08", amount("40"))
	require.NoError(t, err)
	assert.False(t, recorded)

	b, err := repo.GetBudget(ctx)
	require.NoError(t, err)
	assert.True(t, b.TotalSavings.Equal(amount("40")))
	assert.Equal(t, "2025-02-08", b.LastSavingsProcessedWeek)
}

func TestDeleteAll(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	_, err := repo.CreateTransaction(ctx, core.Transaction{WeekKey: "2025-02-08", Category: "GAS", Amount: amount("1"), CreatedAt: 1})
	require.NoError(t, err)
	require.NoError(t, repo.UpsertCategory(ctx, core.Category{Name: "GAS"}))
	require.NoError(t, repo.SetBudget(ctx, amount("100"), true))

	require.NoError(t, repo.DeleteAll(ctx))

	txs, err := repo.ListTransactions(ctx)
	require.NoError(t, err)
	assert.Empty(t, txs)
	cats, err := repo.ListCategories(ctx)
	require.NoError(t, err)
	assert.Empty(t, cats)
	b, err := repo.GetBudget(ctx)
	require.NoError(t, err)
	assert.False(t, b.IsSet)
}

func TestReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.db")

	repo, err := NewSQLiteRepository(path)
	require.NoError(t, err)
	_, err = repo.CreateTransaction(ctx, core.Transaction{WeekKey: "2025-02-08", Category: "GAS", Amount: amount("1"), CreatedAt: 7})
	require.NoError(t, err)
	require.NoError(t, repo.Close())

	repo, err = NewSQLiteRepository(path)
	require.NoError(t, err)
	defer repo.Close()
	maxCreated, err := repo.MaxCreatedAt(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(7), maxCreated)
}
