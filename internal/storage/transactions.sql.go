package storage

import (
	"context"
)

const createTransaction = `-- name: CreateTransaction :one
INSERT INTO transactions (week_key, category, amount, is_adjustment, created_at)
VALUES (?, ?, ?, ?, ?)
RETURNING id, week_key, category, amount, is_adjustment, created_at
`

type CreateTransactionParams struct {
	WeekKey      string
	Category     string
	Amount       string
	IsAdjustment bool
	CreatedAt    int64
}

func (q *Queries) CreateTransaction(ctx context.Context, arg CreateTransactionParams) (Transaction, error) {
	row := q.db.QueryRowContext(ctx, createTransaction,
		arg.WeekKey,
		arg.Category,
		arg.Amount,
		arg.IsAdjustment,
		arg.CreatedAt,
	)
	var i Transaction
	err := row.Scan(
		&i.ID,
		&i.WeekKey,
		&i.Category,
		&i.Amount,
		&i.IsAdjustment,
		&i.CreatedAt,
	)
	return i, err
}

const updateTransaction = `-- name: UpdateTransaction :execrows
UPDATE transactions
SET week_key = ?, category = ?, amount = ?, is_adjustment = ?, created_at = ?
WHERE id = ?
`

type UpdateTransactionParams struct {
	WeekKey      string
	Category     string
	Amount       string
	IsAdjustment bool
	CreatedAt    int64
	ID           int64
}

func (q *Queries) UpdateTransaction(ctx context.Context, arg UpdateTransactionParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, updateTransaction,
		arg.WeekKey,
		arg.Category,
		arg.Amount,
		arg.IsAdjustment,
		arg.CreatedAt,
		arg.ID,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const deleteTransaction = `-- name: DeleteTransaction :execrows
DELETE FROM transactions WHERE id = ?
`

func (q *Queries) DeleteTransaction(ctx context.Context, id int64) (int64, error) {
	result, err := q.db.ExecContext(ctx, deleteTransaction, id)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const deleteAllTransactions = `-- name: DeleteAllTransactions :exec
DELETE FROM transactions
`

func (q *Queries) DeleteAllTransactions(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, deleteAllTransactions)
	return err
}

const getTransaction = `-- name: GetTransaction :one
SELECT id, week_key, category, amount, is_adjustment, created_at
FROM transactions WHERE id = ?
`

func (q *Queries) GetTransaction(ctx context.Context, id int64) (Transaction, error) {
	row := q.db.QueryRowContext(ctx, getTransaction, id)
	var i Transaction
	err := row.Scan(
		&i.ID,
		&i.WeekKey,
		&i.Category,
		&i.Amount,
		&i.IsAdjustment,
		&i.CreatedAt,
	)
	return i, err
}

const getAdjustmentForWeek = `-- name: GetAdjustmentForWeek :one
SELECT id, week_key, category, amount, is_adjustment, created_at
FROM transactions WHERE week_key = ? AND is_adjustment = 1
LIMIT 1
`

func (q *Queries) GetAdjustmentForWeek(ctx context.Context, weekKey string) (Transaction, error) {
	row := q.db.QueryRowContext(ctx, getAdjustmentForWeek, weekKey)
	var i Transaction
	err := row.Scan(
		&i.ID,
		&i.WeekKey,
		&i.Category,
		&i.Amount,
		&i.IsAdjustment,
		&i.CreatedAt,
	)
	return i, err
}

const listTransactions = `-- name: ListTransactions :many
SELECT id, week_key, category, amount, is_adjustment, created_at
FROM transactions ORDER BY created_at, id
`

func (q *Queries) ListTransactions(ctx context.Context) ([]Transaction, error) {
	rows, err := q.db.QueryContext(ctx, listTransactions)
	if err != nil {
		return nil, err
	}
	return scanTransactions(rows)
}

const listTransactionsForWeek = `-- name: ListTransactionsForWeek :many
SELECT id, week_key, category, amount, is_adjustment, created_at
FROM transactions WHERE week_key = ? ORDER BY created_at DESC, id DESC
`

func (q *Queries) ListTransactionsForWeek(ctx context.Context, weekKey string) ([]Transaction, error) {
	rows, err := q.db.QueryContext(ctx, listTransactionsForWeek, weekKey)
	if err != nil {
		return nil, err
	}
	return scanTransactions(rows)
}

const listAmountsForWeek = `-- name: ListAmountsForWeek :many
SELECT amount FROM transactions WHERE week_key = ?
`

func (q *Queries) ListAmountsForWeek(ctx context.Context, weekKey string) ([]string, error) {
	rows, err := q.db.QueryContext(ctx, listAmountsForWeek, weekKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []string
	for rows.Next() {
		var amount string
		if err := rows.Scan(&amount); err != nil {
			return nil, err
		}
		items = append(items, amount)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const maxCreatedAt = `-- name: MaxCreatedAt :one
SELECT COALESCE(MAX(created_at), 0) FROM transactions
`

func (q *Queries) MaxCreatedAt(ctx context.Context) (int64, error) {
	row := q.db.QueryRowContext(ctx, maxCreatedAt)
	var v int64
	err := row.Scan(&v)
	return v, err
}

type rowScanner interface {
	Next() bool
	Scan(dest ...interface{}) error
	Close() error
	Err() error
}

func scanTransactions(rows rowScanner) ([]Transaction, error) {
	defer rows.Close()
	var items []Transaction
	for rows.Next() {
		var i Transaction
		if err := rows.Scan(
			&i.ID,
			&i.WeekKey,
			&i.Category,
			&i.Amount,
			&i.IsAdjustment,
			&i.CreatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
