// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"database/sql"

	"github.com/hitoshi/catalog/internal/model"
)

// CategoryRepository はカテゴリデータの永続化インターフェース。
type CategoryRepository interface {
	// FindByID は指定IDのカテゴリを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Category, error)

	// List は全カテゴリを名前順で返す。
	List(ctx context.Context) ([]*model.Category, error)

	// ExistsByName は同名のカテゴリが存在するかを返す。
	// excludeIDが空でない場合、そのIDのカテゴリは判定から除外する（編集時の自己除外）。
	ExistsByName(ctx context.Context, name, excludeID string) (bool, error)

	// Create はカテゴリを作成する。IDが空の場合は採番する。
	Create(ctx context.Context, category *model.Category) error

	// Update はカテゴリ名と更新日時を更新する。
	Update(ctx context.Context, category *model.Category) error

	// Delete は指定IDのカテゴリを削除する。
	// 参照する商品が残っている場合は外部キー制約により失敗する（CASCADEしない）。
	Delete(ctx context.Context, id string) error
}

// ProductRepository は商品データの永続化インターフェース。
// 読み取り系はcategoriesとJOINしてCategoryNameを埋めて返す。
type ProductRepository interface {
	// FindByID は指定IDの商品を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Product, error)

	// ListByCategory はカテゴリに属する商品をlast_updated降順で返す。
	ListByCategory(ctx context.Context, categoryID string) ([]*model.Product, error)

	// ListAll は全商品をlast_updated降順で返す。
	ListAll(ctx context.Context) ([]*model.Product, error)

	// ListRecent は最近更新された商品をlimit件まで返す。
	ListRecent(ctx context.Context, limit int) ([]*model.Product, error)

	// ExistsByCategoryID はカテゴリを参照する商品が1件以上あるかを返す。
	ExistsByCategoryID(ctx context.Context, categoryID string) (bool, error)

	// Create は商品を作成する。IDが空の場合は採番する。
	Create(ctx context.Context, product *model.Product) error

	// Update は商品を上書き更新する。
	Update(ctx context.Context, product *model.Product) error

	// Delete は指定IDの商品を削除する。
	Delete(ctx context.Context, id string) error
}

// SessionRepository は認証セッションの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.AuthSession) error
	// FindByID は指定IDのセッションを取得する。存在しない・期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.AuthSession, error)
	// Save はstateと認証情報を保存する。
	Save(ctx context.Context, session *model.AuthSession) error
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteExpired は期限切れセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context) (int64, error)
}

// TxManager はスコープ付きトランザクションを提供する。
// fnがエラーを返した場合はロールバックし、そうでなければコミットする。
// fnに渡されるctxを使ったリポジトリ操作は同一トランザクションで実行される。
type TxManager interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// DBTX は*sql.DBと*sql.Txに共通するクエリ実行メソッド。
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}
