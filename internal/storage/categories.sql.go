package storage

import (
	"context"
)

const upsertCategory = `-- name: UpsertCategory :exec
INSERT INTO categories (name, display_name, color, is_system)
VALUES (?, ?, ?, ?)
ON CONFLICT(name) DO UPDATE SET
    display_name = excluded.display_name,
    color = excluded.color,
    is_system = excluded.is_system
`

type UpsertCategoryParams struct {
	Name        string
	DisplayName string
	Color       string
	IsSystem    bool
}

func (q *Queries) UpsertCategory(ctx context.Context, arg UpsertCategoryParams) error {
	_, err := q.db.ExecContext(ctx, upsertCategory,
		arg.Name,
		arg.DisplayName,
		arg.Color,
		arg.IsSystem,
	)
	return err
}

const insertCategoryIfAbsent = `-- name: InsertCategoryIfAbsent :execrows
INSERT OR IGNORE INTO categories (name, display_name, color, is_system)
VALUES (?, ?, ?, ?)
`

func (q *Queries) InsertCategoryIfAbsent(ctx context.Context, arg UpsertCategoryParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, insertCategoryIfAbsent,
		arg.Name,
		arg.DisplayName,
		arg.Color,
		arg.IsSystem,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const getCategory = `-- name: GetCategory :one
SELECT name, display_name, color, is_system FROM categories WHERE name = ?
`

func (q *Queries) GetCategory(ctx context.Context, name string) (Category, error) {
	row := q.db.QueryRowContext(ctx, getCategory, name)
	var i Category
	err := row.Scan(
		&i.Name,
		&i.DisplayName,
		&i.Color,
		&i.IsSystem,
	)
	return i, err
}

const listCategories = `-- name: ListCategories :many
SELECT name, display_name, color, is_system FROM categories ORDER BY is_system, name
`

func (q *Queries) ListCategories(ctx context.Context) ([]Category, error) {
	rows, err := q.db.QueryContext(ctx, listCategories)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Category
	for rows.Next() {
		var i Category
		if err := rows.Scan(
			&i.Name,
			&i.DisplayName,
			&i.Color,
			&i.IsSystem,
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

const deleteCategory = `-- name: DeleteCategory :execrows
DELETE FROM categories WHERE name = ?
`

func (q *Queries) DeleteCategory(ctx context.Context, name string) (int64, error) {
	result, err := q.db.ExecContext(ctx, deleteCategory, name)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const deleteAllCategories = `-- name: DeleteAllCategories :exec
DELETE FROM categories
`

func (q *Queries) DeleteAllCategories(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, deleteAllCategories)
	return err
}
