// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示するメッセージとカテゴリ、対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // ユーザー向けメッセージ（フラッシュ表示用）
	Category string // カテゴリ: auth, validation, catalog, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeValidationFailed = "VALIDATION_FAILED"
	ErrCodeCategoryNotFound = "CATEGORY_NOT_FOUND"
	ErrCodeProductNotFound  = "PRODUCT_NOT_FOUND"
	ErrCodeCategoryNotEmpty = "CATEGORY_NOT_EMPTY"
	ErrCodeInvalidState     = "INVALID_STATE"
	ErrCodeUnauthorized     = "UNAUTHORIZED"
	ErrCodeLoginRequired    = "LOGIN_REQUIRED"
	ErrCodeUpstream         = "UPSTREAM_ERROR"
	ErrCodeInternal         = "INTERNAL_ERROR"
)

// NewValidationError は入力検証エラーを生成する。
// ユーザーが修正可能なエラーで、システムエラーとしてはログに残さない。
func NewValidationError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeValidationFailed,
		Message:  message,
		Category: "validation",
		Action:   "Please correct the form and submit again.",
	}
}

// NewCategoryNotFoundError はカテゴリ未検出エラーを生成する。
func NewCategoryNotFoundError(id string) *APIError {
	return &APIError{
		Code:     ErrCodeCategoryNotFound,
		Message:  "Category not found",
		Category: "catalog",
		Action:   fmt.Sprintf("Check the category id: %s", id),
	}
}

// NewProductNotFoundError は商品未検出エラーを生成する。
func NewProductNotFoundError(id string) *APIError {
	return &APIError{
		Code:     ErrCodeProductNotFound,
		Message:  "Product not found",
		Category: "catalog",
		Action:   fmt.Sprintf("Check the product id: %s", id),
	}
}

// NewCategoryNotEmptyError は商品が残っているカテゴリを削除しようとした場合のエラーを生成する。
func NewCategoryNotEmptyError() *APIError {
	return &APIError{
		Code:     ErrCodeCategoryNotEmpty,
		Message:  "Category not empty",
		Category: "catalog",
		Action:   "Delete or move the products of this category first.",
	}
}

// NewInvalidStateError はOAuthのstate不一致エラーを生成する。
func NewInvalidStateError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidState,
		Message:  "Invalid state parameter.",
		Category: "auth",
		Action:   "Open the login page again and retry.",
	}
}

// NewUnauthorizedError は認証失敗エラーを生成する。
// messageにはプロバイダーから返された理由をそのまま入れてよい。
func NewUnauthorizedError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  message,
		Category: "auth",
		Action:   "Please log in again.",
	}
}

// NewLoginRequiredError は未ログインで更新操作を行った場合のエラーを生成する。
func NewLoginRequiredError() *APIError {
	return &APIError{
		Code:     ErrCodeLoginRequired,
		Message:  "Login required for this operation",
		Category: "auth",
		Action:   "Please log in.",
	}
}

// NewUpstreamError は外部プロバイダーの一時的な失敗を表すエラーを生成する。
func NewUpstreamError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeUpstream,
		Message:  message,
		Category: "system",
		Action:   "Please wait a moment and try again.",
	}
}

// NewInternalError は内部エラーのユーザー向け表現を生成する。
// 詳細はログのみに記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "An internal error occurred.",
		Category: "system",
		Action:   "Please wait a moment and try again.",
	}
}

// IsAPIErrorCode はerrがcodeを持つAPIErrorかどうかを判定する。
func IsAPIErrorCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}
