package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/catalog/internal/model"
)

// PostgresCategoryRepo はPostgreSQLを使用したカテゴリリポジトリ。
type PostgresCategoryRepo struct {
	db *sql.DB
}

// NewPostgresCategoryRepo はPostgresCategoryRepoを生成する。
func NewPostgresCategoryRepo(db *sql.DB) *PostgresCategoryRepo {
	return &PostgresCategoryRepo{db: db}
}

// FindByID は指定IDのカテゴリを取得する。見つからない場合はnilを返す。
func (r *PostgresCategoryRepo) FindByID(ctx context.Context, id string) (*model.Category, error) {
	if !validUUID(id) {
		return nil, nil
	}

	c := &model.Category{}
	err := executor(ctx, r.db).QueryRowContext(ctx,
		`SELECT id, name, last_updated FROM categories WHERE id = $1`,
		id,
	).Scan(&c.ID, &c.Name, &c.LastUpdated)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find category: %w", err)
	}
	return c, nil
}

// List は全カテゴリを名前順で返す。
func (r *PostgresCategoryRepo) List(ctx context.Context) ([]*model.Category, error) {
	rows, err := executor(ctx, r.db).QueryContext(ctx,
		`SELECT id, name, last_updated FROM categories ORDER BY name ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	defer rows.Close()

	var categories []*model.Category
	for rows.Next() {
		c := &model.Category{}
		if err := rows.Scan(&c.ID, &c.Name, &c.LastUpdated); err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		categories = append(categories, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate categories: %w", err)
	}
	return categories, nil
}

// ExistsByName は同名のカテゴリが存在するかを返す。
// excludeIDが空でない場合、そのIDのカテゴリは除外する。
func (r *PostgresCategoryRepo) ExistsByName(ctx context.Context, name, excludeID string) (bool, error) {
	var exists bool
	var err error
	if excludeID != "" && validUUID(excludeID) {
		err = executor(ctx, r.db).QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM categories WHERE name = $1 AND id <> $2)`,
			name, excludeID,
		).Scan(&exists)
	} else {
		err = executor(ctx, r.db).QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM categories WHERE name = $1)`,
			name,
		).Scan(&exists)
	}
	if err != nil {
		return false, fmt.Errorf("failed to check category name: %w", err)
	}
	return exists, nil
}

// Create はカテゴリを作成する。IDが空の場合はUUIDを採番する。
func (r *PostgresCategoryRepo) Create(ctx context.Context, c *model.Category) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.LastUpdated.IsZero() {
		c.LastUpdated = time.Now()
	}

	_, err := executor(ctx, r.db).ExecContext(ctx,
		`INSERT INTO categories (id, name, last_updated) VALUES ($1, $2, $3)`,
		c.ID, c.Name, c.LastUpdated,
	)
	if err != nil {
		return fmt.Errorf("failed to create category: %w", translatePQError(err))
	}
	return nil
}

// Update はカテゴリ名と更新日時を更新する。
func (r *PostgresCategoryRepo) Update(ctx context.Context, c *model.Category) error {
	result, err := executor(ctx, r.db).ExecContext(ctx,
		`UPDATE categories SET name = $2, last_updated = $3 WHERE id = $1`,
		c.ID, c.Name, c.LastUpdated,
	)
	if err != nil {
		return fmt.Errorf("failed to update category: %w", translatePQError(err))
	}
	return requireAffected(result, "category", c.ID)
}

// Delete は指定IDのカテゴリを削除する。
func (r *PostgresCategoryRepo) Delete(ctx context.Context, id string) error {
	result, err := executor(ctx, r.db).ExecContext(ctx,
		`DELETE FROM categories WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete category: %w", translatePQError(err))
	}
	return requireAffected(result, "category", id)
}

// requireAffected は更新・削除で対象行が1件もなかった場合にエラーを返す。
func requireAffected(result sql.Result, kind, id string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%s not found: %s", kind, id)
	}
	return nil
}

// compile-time interface check
var _ CategoryRepository = (*PostgresCategoryRepo)(nil)
