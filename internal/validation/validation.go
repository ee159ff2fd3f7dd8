// Package validation はカテゴリと商品の入力検証ルールを提供する。
//
// 検証関数は副作用を持たず、読み取りのみを行う。
// 失敗時はユーザーに表示する*model.APIErrorを返す。
package validation

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/hitoshi/catalog/internal/model"
)

// カラム長の上限（マイグレーションのvarchar定義と一致させる）
const (
	MaxNameLength        = 80
	MaxDescriptionLength = 250
)

// allowedPictureExtensions は受け付ける画像拡張子。
var allowedPictureExtensions = map[string]bool{
	"png":  true,
	"jpg":  true,
	"jpeg": true,
	"gif":  true,
}

// msgInvalidEncoding は入力がUTF-8として不正な場合のメッセージ。
const msgInvalidEncoding = "Input contains invalid characters"

// ValidateEncoding は全ての値が正しいUTF-8であることを検証する。
// サニタイズ前の生の入力に対して使う。
func ValidateEncoding(values ...string) error {
	for _, v := range values {
		if !utf8.ValidString(v) {
			return model.NewValidationError(msgInvalidEncoding)
		}
	}
	return nil
}

// CategoryNameChecker はカテゴリ名の重複確認に使う読み取り操作。
type CategoryNameChecker interface {
	ExistsByName(ctx context.Context, name, excludeID string) (bool, error)
}

// ValidateCategory はカテゴリ名を検証する。
// excludeIDは編集中のカテゴリIDで、重複判定から除外する（新規作成時は空文字列）。
// 検証エラーは*model.APIError、ストアの失敗はラップしたerrorで返す。
func ValidateCategory(ctx context.Context, checker CategoryNameChecker, name, excludeID string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return model.NewValidationError("Category name is empty")
	}
	if err := ValidateEncoding(name); err != nil {
		return err
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return model.NewValidationError(fmt.Sprintf("Category name is too long (max %d characters)", MaxNameLength))
	}

	exists, err := checker.ExistsByName(ctx, name, excludeID)
	if err != nil {
		return fmt.Errorf("failed to check category name: %w", err)
	}
	if exists {
		return DuplicateCategoryError(name)
	}
	return nil
}

// DuplicateCategoryError はカテゴリ名重複の検証エラーを生成する。
// ユニーク制約違反を検証エラーに変換する際にも使う。
func DuplicateCategoryError(name string) *model.APIError {
	return model.NewValidationError(fmt.Sprintf("Category with the name '%s' already exists", name))
}

// ValidateProduct は商品の名前とカテゴリ指定を検証する。
// カテゴリの存在確認は行わない。
func ValidateProduct(name, categoryID string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return model.NewValidationError("Product name is empty")
	}
	if err := ValidateEncoding(name); err != nil {
		return err
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return model.NewValidationError(fmt.Sprintf("Product name is too long (max %d characters)", MaxNameLength))
	}
	if strings.TrimSpace(categoryID) == "" {
		return model.NewValidationError("Please select a category")
	}
	return nil
}

// ValidateDescription は商品説明の長さを検証する。空の説明は許可する。
func ValidateDescription(description string) error {
	if err := ValidateEncoding(description); err != nil {
		return err
	}
	if utf8.RuneCountInString(description) > MaxDescriptionLength {
		return model.NewValidationError(fmt.Sprintf("Description is too long (max %d characters)", MaxDescriptionLength))
	}
	return nil
}

// ValidatePictureName はアップロードされたファイル名の拡張子が許可されているかを返す。
// 大文字小文字は区別しない。
func ValidatePictureName(filename string) bool {
	return PictureExtension(filename) != ""
}

// PictureExtension は許可された拡張子を小文字で返す。許可されていない場合は空文字列。
func PictureExtension(filename string) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	if !allowedPictureExtensions[ext] {
		return ""
	}
	return ext
}
