package storage

import (
	"context"
	"database/sql"
)

const getBudget = `-- name: GetBudget :one
SELECT id, amount, is_set, pending_amount, last_savings_processed_week, total_savings
FROM budget WHERE id = 1
`

func (q *Queries) GetBudget(ctx context.Context) (Budget, error) {
	row := q.db.QueryRowContext(ctx, getBudget)
	var i Budget
	err := row.Scan(
		&i.ID,
		&i.Amount,
		&i.IsSet,
		&i.PendingAmount,
		&i.LastSavingsProcessedWeek,
		&i.TotalSavings,
	)
	return i, err
}

const setBudgetAmount = `-- name: SetBudgetAmount :exec
UPDATE budget SET amount = ?, is_set = ? WHERE id = 1
`

type SetBudgetAmountParams struct {
	Amount string
	IsSet  bool
}

func (q *Queries) SetBudgetAmount(ctx context.Context, arg SetBudgetAmountParams) error {
	_, err := q.db.ExecContext(ctx, setBudgetAmount, arg.Amount, arg.IsSet)
	return err
}

const setPendingAmount = `-- name: SetPendingAmount :exec
UPDATE budget SET pending_amount = ? WHERE id = 1
`

func (q *Queries) SetPendingAmount(ctx context.Context, pendingAmount sql.NullString) error {
	_, err := q.db.ExecContext(ctx, setPendingAmount, pendingAmount)
	return err
}

const promotePendingAmount = `-- name: PromotePendingAmount :execrows
UPDATE budget
SET amount = pending_amount, is_set = 1, pending_amount = NULL
WHERE id = 1 AND pending_amount IS NOT NULL
`

func (q *Queries) PromotePendingAmount(ctx context.Context) (int64, error) {
	result, err := q.db.ExecContext(ctx, promotePendingAmount)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const setSavings = `-- name: SetSavings :exec
UPDATE budget SET total_savings = ?, last_savings_processed_week = ? WHERE id = 1
`

type SetSavingsParams struct {
	TotalSavings             string
	LastSavingsProcessedWeek sql.NullString
}

func (q *Queries) SetSavings(ctx context.Context, arg SetSavingsParams) error {
	_, err := q.db.ExecContext(ctx, setSavings, arg.TotalSavings, arg.LastSavingsProcessedWeek)
	return err
}

const resetBudget = `-- name: ResetBudget :exec
UPDATE budget
SET amount = '0', is_set = 0, pending_amount = NULL,
    last_savings_processed_week = NULL, total_savings = '0'
WHERE id = 1
`

func (q *Queries) ResetBudget(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, resetBudget)
	return err
}
