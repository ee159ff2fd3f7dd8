// Package catalog はカテゴリと商品のライフサイクルを管理するドメインロジックを提供する。
//
// 更新操作は1つのトランザクション内で行い、画像ファイルの削除は
// コミット成功後にベストエフォートで行う。
package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/catalog/internal/metrics"
	"github.com/hitoshi/catalog/internal/model"
	"github.com/hitoshi/catalog/internal/repository"
	"github.com/hitoshi/catalog/internal/storage"
	"github.com/hitoshi/catalog/internal/validation"
)

// 更新操作のステータスメッセージ
const (
	MsgCategoryCreated = "Category successfully created"
	MsgCategoryUpdated = "Category updated"
	MsgCategoryDeleted = "Category deleted"
	MsgProductCreated  = "Product successfully created"
	MsgProductUpdated  = "Product updated"
	MsgProductDeleted  = "Product deleted"
)

// メトリクスの操作種別ラベル
const (
	opCreateCategory = "create_category"
	opRenameCategory = "rename_category"
	opDeleteCategory = "delete_category"
	opCreateProduct  = "create_product"
	opUpdateProduct  = "update_product"
	opDeleteProduct  = "delete_product"
)

// DefaultRecentLimit はトップページに表示する最新商品数の既定値。
const DefaultRecentLimit = 10

// PictureUpload はアップロードされた画像。
type PictureUpload struct {
	Filename string
	Content  io.Reader
}

// ProductInput は商品作成・更新の入力。
// Pictureがnilの場合、作成時は画像なし、更新時は既存画像を維持する。
type ProductInput struct {
	Name        string
	Description string
	CategoryID  string
	Picture     *PictureUpload
}

// Result は更新操作の結果。Messageはフラッシュ表示用。
type Result struct {
	ID      string
	Message string
}

// Service はカタログのサービス層。
type Service struct {
	categories repository.CategoryRepository
	products   repository.ProductRepository
	tx         repository.TxManager
	pictures   storage.PictureStore
	sanitizer  *validation.TextSanitizer
	metrics    metrics.MetricsCollector
	now        func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
// collectorがnilの場合はメトリクスを記録しない。
func NewService(
	categories repository.CategoryRepository,
	products repository.ProductRepository,
	tx repository.TxManager,
	pictures storage.PictureStore,
	collector metrics.MetricsCollector,
) *Service {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Service{
		categories: categories,
		products:   products,
		tx:         tx,
		pictures:   pictures,
		sanitizer:  validation.NewTextSanitizer(),
		metrics:    collector,
		now:        time.Now,
	}
}

// CreateCategory はカテゴリを作成する。
func (s *Service) CreateCategory(ctx context.Context, name string) (*Result, error) {
	if err := validation.ValidateEncoding(name); err != nil {
		s.record(opCreateCategory, err)
		return nil, err
	}
	name = s.sanitizer.Clean(name)
	category := &model.Category{Name: name}

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := validation.ValidateCategory(ctx, s.categories, name, ""); err != nil {
			return err
		}
		category.LastUpdated = s.now()
		if err := s.categories.Create(ctx, category); err != nil {
			return translateCategoryWriteError(err, name)
		}
		return nil
	})
	if err != nil {
		s.record(opCreateCategory, err)
		return nil, err
	}

	s.record(opCreateCategory, nil)
	slog.Info("category created", slog.String("category_id", category.ID), slog.String("name", category.Name))
	return &Result{ID: category.ID, Message: MsgCategoryCreated}, nil
}

// RenameCategory はカテゴリ名を変更する。現在と同じ名前への変更も成功する。
func (s *Service) RenameCategory(ctx context.Context, id, rawName string) (*Result, error) {
	newName := s.sanitizer.Clean(rawName)

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		category, err := s.categories.FindByID(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to load category: %w", err)
		}
		if category == nil {
			return model.NewCategoryNotFoundError(id)
		}

		if err := validation.ValidateEncoding(rawName); err != nil {
			return err
		}
		if err := validation.ValidateCategory(ctx, s.categories, newName, id); err != nil {
			return err
		}

		category.Name = newName
		category.LastUpdated = s.now()
		if err := s.categories.Update(ctx, category); err != nil {
			return translateCategoryWriteError(err, newName)
		}
		return nil
	})
	if err != nil {
		s.record(opRenameCategory, err)
		return nil, err
	}

	s.record(opRenameCategory, nil)
	slog.Info("category renamed", slog.String("category_id", id), slog.String("name", newName))
	return &Result{ID: id, Message: MsgCategoryUpdated}, nil
}

// DeleteCategory はカテゴリを削除する。商品が残っている場合は削除しない。
func (s *Service) DeleteCategory(ctx context.Context, id string) (*Result, error) {
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		category, err := s.categories.FindByID(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to load category: %w", err)
		}
		if category == nil {
			return model.NewCategoryNotFoundError(id)
		}

		inUse, err := s.products.ExistsByCategoryID(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to check products of category: %w", err)
		}
		if inUse {
			return model.NewCategoryNotEmptyError()
		}

		if err := s.categories.Delete(ctx, id); err != nil {
			// 確認後に商品が追加された場合は外部キー制約で弾かれる
			if errors.Is(err, repository.ErrForeignKey) {
				return model.NewCategoryNotEmptyError()
			}
			return fmt.Errorf("failed to delete category: %w", err)
		}
		return nil
	})
	if err != nil {
		s.record(opDeleteCategory, err)
		return nil, err
	}

	s.record(opDeleteCategory, nil)
	slog.Info("category deleted", slog.String("category_id", id))
	return &Result{ID: id, Message: MsgCategoryDeleted}, nil
}

// CreateProduct は商品を作成する。
// 画像の保存後にトランザクションが失敗した場合、保存した画像は削除する。
func (s *Service) CreateProduct(ctx context.Context, input ProductInput) (*Result, error) {
	name := s.sanitizer.Clean(input.Name)
	description := s.sanitizer.Clean(input.Description)
	categoryID := strings.TrimSpace(input.CategoryID)

	if err := validation.ValidateEncoding(input.Name, input.Description); err != nil {
		s.record(opCreateProduct, err)
		return nil, err
	}
	if err := s.validateProduct(name, description, categoryID); err != nil {
		s.record(opCreateProduct, err)
		return nil, err
	}

	product := &model.Product{
		Name:        name,
		Description: description,
		CategoryID:  categoryID,
	}
	var savedPicture string

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		category, err := s.categories.FindByID(ctx, categoryID)
		if err != nil {
			return fmt.Errorf("failed to load category: %w", err)
		}
		if category == nil {
			return model.NewCategoryNotFoundError(categoryID)
		}

		if input.Picture != nil {
			savedPicture, err = s.pictures.Save(ctx, input.Picture.Filename, input.Picture.Content)
			if err != nil {
				return fmt.Errorf("failed to save picture: %w", err)
			}
			product.PictureFile = savedPicture
		}

		product.LastUpdated = s.now()
		if err := s.products.Create(ctx, product); err != nil {
			return translateProductWriteError(err, categoryID)
		}
		return nil
	})
	if err != nil {
		if savedPicture != "" {
			s.deletePicture(context.WithoutCancel(ctx), savedPicture)
		}
		s.record(opCreateProduct, err)
		return nil, err
	}

	s.record(opCreateProduct, nil)
	slog.Info("product created",
		slog.String("product_id", product.ID),
		slog.String("category_id", product.CategoryID),
	)
	return &Result{ID: product.ID, Message: MsgProductCreated}, nil
}

// UpdateProduct は商品を更新する。
// 新しい画像が指定された場合、古い画像はコミット成功後にのみ削除する。
// コミットに失敗した場合は古い画像を残し、新しく保存した画像を削除する。
func (s *Service) UpdateProduct(ctx context.Context, id string, input ProductInput) (*Result, error) {
	name := s.sanitizer.Clean(input.Name)
	description := s.sanitizer.Clean(input.Description)
	categoryID := strings.TrimSpace(input.CategoryID)

	var savedPicture, oldPicture string

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		product, err := s.products.FindByID(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to load product: %w", err)
		}
		if product == nil {
			return model.NewProductNotFoundError(id)
		}

		if err := validation.ValidateEncoding(input.Name, input.Description); err != nil {
			return err
		}
		if err := s.validateProduct(name, description, categoryID); err != nil {
			return err
		}

		category, err := s.categories.FindByID(ctx, categoryID)
		if err != nil {
			return fmt.Errorf("failed to load category: %w", err)
		}
		if category == nil {
			return model.NewCategoryNotFoundError(categoryID)
		}

		if input.Picture != nil {
			savedPicture, err = s.pictures.Save(ctx, input.Picture.Filename, input.Picture.Content)
			if err != nil {
				return fmt.Errorf("failed to save picture: %w", err)
			}
			oldPicture = product.PictureFile
			product.PictureFile = savedPicture
		}

		product.Name = name
		product.Description = description
		product.CategoryID = categoryID
		product.LastUpdated = s.now()
		if err := s.products.Update(ctx, product); err != nil {
			return translateProductWriteError(err, categoryID)
		}
		return nil
	})
	if err != nil {
		if savedPicture != "" {
			s.deletePicture(context.WithoutCancel(ctx), savedPicture)
		}
		s.record(opUpdateProduct, err)
		return nil, err
	}

	if oldPicture != "" {
		s.deletePicture(context.WithoutCancel(ctx), oldPicture)
	}

	s.record(opUpdateProduct, nil)
	slog.Info("product updated", slog.String("product_id", id))
	return &Result{ID: id, Message: MsgProductUpdated}, nil
}

// DeleteProduct は商品を削除し、コミット後に画像を削除する。
func (s *Service) DeleteProduct(ctx context.Context, id string) (*Result, error) {
	var picture string

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		product, err := s.products.FindByID(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to load product: %w", err)
		}
		if product == nil {
			return model.NewProductNotFoundError(id)
		}

		if err := s.products.Delete(ctx, id); err != nil {
			return fmt.Errorf("failed to delete product: %w", err)
		}
		picture = product.PictureFile
		return nil
	})
	if err != nil {
		s.record(opDeleteProduct, err)
		return nil, err
	}

	if picture != "" {
		s.deletePicture(context.WithoutCancel(ctx), picture)
	}

	s.record(opDeleteProduct, nil)
	slog.Info("product deleted", slog.String("product_id", id))
	return &Result{ID: id, Message: MsgProductDeleted}, nil
}

// ListCategories は全カテゴリを名前順で返す。
func (s *Service) ListCategories(ctx context.Context) ([]*model.Category, error) {
	categories, err := s.categories.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	return categories, nil
}

// ListProducts はカテゴリの商品を新しい順に返す。categoryIDが空の場合は全商品を返す。
func (s *Service) ListProducts(ctx context.Context, categoryID string) ([]*model.Product, error) {
	var (
		products []*model.Product
		err      error
	)
	if categoryID == "" {
		products, err = s.products.ListAll(ctx)
	} else {
		products, err = s.products.ListByCategory(ctx, categoryID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	return products, nil
}

// ListRecentProducts は最近更新された商品をlimit件まで返す。
// limitが0以下の場合はDefaultRecentLimitを使う。
func (s *Service) ListRecentProducts(ctx context.Context, limit int) ([]*model.Product, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	products, err := s.products.ListRecent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent products: %w", err)
	}
	return products, nil
}

// GetCategory はカテゴリを返す。存在しない場合はNotFoundエラー。
func (s *Service) GetCategory(ctx context.Context, id string) (*model.Category, error) {
	category, err := s.categories.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load category: %w", err)
	}
	if category == nil {
		return nil, model.NewCategoryNotFoundError(id)
	}
	return category, nil
}

// GetProduct は商品を返す。存在しない場合はNotFoundエラー。
func (s *Service) GetProduct(ctx context.Context, id string) (*model.Product, error) {
	product, err := s.products.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load product: %w", err)
	}
	if product == nil {
		return nil, model.NewProductNotFoundError(id)
	}
	return product, nil
}

// Catalog は全カテゴリとその商品を返す。JSONエクスポート用。
func (s *Service) Catalog(ctx context.Context) ([]*model.CategoryWithProducts, error) {
	categories, err := s.ListCategories(ctx)
	if err != nil {
		return nil, err
	}
	products, err := s.products.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}

	byCategory := make(map[string][]*model.Product, len(categories))
	for _, p := range products {
		byCategory[p.CategoryID] = append(byCategory[p.CategoryID], p)
	}

	result := make([]*model.CategoryWithProducts, 0, len(categories))
	for _, c := range categories {
		result = append(result, &model.CategoryWithProducts{
			Category: *c,
			Products: byCategory[c.ID],
		})
	}
	return result, nil
}

// CategoryWithProducts は1カテゴリとその商品を返す。
func (s *Service) CategoryWithProducts(ctx context.Context, id string) (*model.CategoryWithProducts, error) {
	category, err := s.GetCategory(ctx, id)
	if err != nil {
		return nil, err
	}
	products, err := s.ListProducts(ctx, id)
	if err != nil {
		return nil, err
	}
	return &model.CategoryWithProducts{Category: *category, Products: products}, nil
}

func (s *Service) validateProduct(name, description, categoryID string) error {
	if err := validation.ValidateProduct(name, categoryID); err != nil {
		return err
	}
	return validation.ValidateDescription(description)
}

// deletePicture は画像をベストエフォートで削除する。失敗はログとメトリクスに残すのみ。
func (s *Service) deletePicture(ctx context.Context, name string) {
	if err := s.pictures.Delete(ctx, name); err != nil {
		s.metrics.RecordPictureDeleteFailure()
		slog.Warn("failed to delete picture",
			slog.String("picture", name),
			slog.String("error", err.Error()),
		)
	}
}

// record は操作結果をメトリクスに記録する。
// ユーザー起因のエラー（検証・NotFound・Conflict）はrejectedとして数える。
func (s *Service) record(operation string, err error) {
	switch {
	case err == nil:
		s.metrics.RecordCatalogOperation(operation, metrics.OutcomeSuccess)
	case isUserError(err):
		s.metrics.RecordCatalogOperation(operation, metrics.OutcomeRejected)
	default:
		s.metrics.RecordCatalogOperation(operation, metrics.OutcomeError)
	}
}

func isUserError(err error) bool {
	var apiErr *model.APIError
	return errors.As(err, &apiErr)
}

// translateCategoryWriteError はカテゴリ書き込み時の制約違反を検証エラーに変換する。
// 重複確認とINSERTの間に同名カテゴリが作られた場合に該当する。
func translateCategoryWriteError(err error, name string) error {
	if errors.Is(err, repository.ErrDuplicateName) {
		return validation.DuplicateCategoryError(name)
	}
	return fmt.Errorf("failed to write category: %w", err)
}

// translateProductWriteError は商品書き込み時の外部キー違反をNotFoundに変換する。
func translateProductWriteError(err error, categoryID string) error {
	if errors.Is(err, repository.ErrForeignKey) {
		return model.NewCategoryNotFoundError(categoryID)
	}
	return fmt.Errorf("failed to write product: %w", err)
}
