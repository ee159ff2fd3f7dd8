package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/catalog/internal/model"
)

// productSelect は商品とカテゴリ名をJOINして取得するSELECT句。
// ORMの遅延ロードではなく、明示的なJOINでカテゴリ名を解決する。
const productSelect = `SELECT p.id, p.name, p.description, p.picture_file, p.category_id, c.name, p.last_updated
	FROM products p
	JOIN categories c ON c.id = p.category_id`

// PostgresProductRepo はPostgreSQLを使用した商品リポジトリ。
type PostgresProductRepo struct {
	db *sql.DB
}

// NewPostgresProductRepo はPostgresProductRepoを生成する。
func NewPostgresProductRepo(db *sql.DB) *PostgresProductRepo {
	return &PostgresProductRepo{db: db}
}

// FindByID は指定IDの商品を取得する。見つからない場合はnilを返す。
func (r *PostgresProductRepo) FindByID(ctx context.Context, id string) (*model.Product, error) {
	if !validUUID(id) {
		return nil, nil
	}

	p := &model.Product{}
	err := executor(ctx, r.db).QueryRowContext(ctx,
		productSelect+` WHERE p.id = $1`,
		id,
	).Scan(&p.ID, &p.Name, &p.Description, &p.PictureFile, &p.CategoryID, &p.CategoryName, &p.LastUpdated)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find product: %w", err)
	}
	return p, nil
}

// ListByCategory はカテゴリに属する商品をlast_updated降順で返す。
func (r *PostgresProductRepo) ListByCategory(ctx context.Context, categoryID string) ([]*model.Product, error) {
	if !validUUID(categoryID) {
		return nil, nil
	}
	return r.query(ctx,
		productSelect+` WHERE p.category_id = $1 ORDER BY p.last_updated DESC, p.id`,
		categoryID,
	)
}

// ListAll は全商品をlast_updated降順で返す。
func (r *PostgresProductRepo) ListAll(ctx context.Context) ([]*model.Product, error) {
	return r.query(ctx, productSelect+` ORDER BY p.last_updated DESC, p.id`)
}

// ListRecent は最近更新された商品をlimit件まで返す。
func (r *PostgresProductRepo) ListRecent(ctx context.Context, limit int) ([]*model.Product, error) {
	return r.query(ctx, productSelect+` ORDER BY p.last_updated DESC, p.id LIMIT $1`, limit)
}

// ExistsByCategoryID はカテゴリを参照する商品が1件以上あるかを返す。
func (r *PostgresProductRepo) ExistsByCategoryID(ctx context.Context, categoryID string) (bool, error) {
	if !validUUID(categoryID) {
		return false, nil
	}

	var exists bool
	err := executor(ctx, r.db).QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM products WHERE category_id = $1)`,
		categoryID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check products of category: %w", err)
	}
	return exists, nil
}

// Create は商品を作成する。IDが空の場合はUUIDを採番する。
func (r *PostgresProductRepo) Create(ctx context.Context, p *model.Product) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.LastUpdated.IsZero() {
		p.LastUpdated = time.Now()
	}

	_, err := executor(ctx, r.db).ExecContext(ctx,
		`INSERT INTO products (id, name, description, picture_file, category_id, last_updated)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		p.ID, p.Name, p.Description, p.PictureFile, p.CategoryID, p.LastUpdated,
	)
	if err != nil {
		return fmt.Errorf("failed to create product: %w", translatePQError(err))
	}
	return nil
}

// Update は商品を上書き更新する。
func (r *PostgresProductRepo) Update(ctx context.Context, p *model.Product) error {
	result, err := executor(ctx, r.db).ExecContext(ctx,
		`UPDATE products
		 SET name = $2, description = $3, picture_file = $4, category_id = $5, last_updated = $6
		 WHERE id = $1`,
		p.ID, p.Name, p.Description, p.PictureFile, p.CategoryID, p.LastUpdated,
	)
	if err != nil {
		return fmt.Errorf("failed to update product: %w", translatePQError(err))
	}
	return requireAffected(result, "product", p.ID)
}

// Delete は指定IDの商品を削除する。
func (r *PostgresProductRepo) Delete(ctx context.Context, id string) error {
	result, err := executor(ctx, r.db).ExecContext(ctx,
		`DELETE FROM products WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete product: %w", err)
	}
	return requireAffected(result, "product", id)
}

// query は商品一覧系クエリを実行して走査する。
func (r *PostgresProductRepo) query(ctx context.Context, query string, args ...any) ([]*model.Product, error) {
	rows, err := executor(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	defer rows.Close()

	var products []*model.Product
	for rows.Next() {
		p := &model.Product{}
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.PictureFile, &p.CategoryID, &p.CategoryName, &p.LastUpdated); err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate products: %w", err)
	}
	return products, nil
}

// compile-time interface check
var _ ProductRepository = (*PostgresProductRepo)(nil)
