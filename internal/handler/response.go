// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/catalog/internal/middleware"
	"github.com/hitoshi/catalog/internal/model"
)

// handleServiceError はサービス層のエラーをHTTPレスポンスに変換する。
// APIError以外のエラーは内容をログにのみ残し、一般的なメッセージを返す。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		middleware.WriteErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	slog.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
// 入力検証エラーはフォーム再表示と同じ扱いで200を返す。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeValidationFailed:
		return http.StatusOK
	case model.ErrCodeCategoryNotFound, model.ErrCodeProductNotFound:
		return http.StatusNotFound
	case model.ErrCodeCategoryNotEmpty:
		return http.StatusConflict
	case model.ErrCodeInvalidState, model.ErrCodeUnauthorized, model.ErrCodeLoginRequired:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// mutationResponse は更新操作の成功レスポンス。フラッシュ形式に対象IDを加える。
type mutationResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	ID      string `json:"id,omitempty"`
}

// writeSuccess は更新操作の成功をフラッシュ形式で返す。
func writeSuccess(w http.ResponseWriter, id, message string) {
	writeJSON(w, http.StatusOK, mutationResponse{
		Status:  middleware.FlashSuccess,
		Message: message,
		ID:      id,
	})
}
