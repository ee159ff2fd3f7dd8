package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/hitoshi/catalog/internal/model"
)

// フラッシュメッセージの表示レベル
const (
	FlashSuccess = "success"
	FlashWarning = "warning"
	FlashDanger  = "danger"
)

// FlashBody はフラッシュ形式のレスポンスボディ。
// 更新操作とエラーレスポンスで共通に使う。
type FlashBody struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	Action  string `json:"action,omitempty"`
}

// WriteFlash はフラッシュ形式のJSONレスポンスを書き込む。
func WriteFlash(w http.ResponseWriter, statusCode int, level, message string) {
	writeJSON(w, statusCode, FlashBody{Status: level, Message: message})
}

// WriteErrorResponse はAPIErrorをフラッシュ形式で書き込む。
// 入力検証エラーはwarning、それ以外はdangerとして表示する。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	level := FlashDanger
	if apiErr.Code == model.ErrCodeValidationFailed || apiErr.Code == model.ErrCodeLoginRequired {
		level = FlashWarning
	}
	writeJSON(w, statusCode, FlashBody{
		Status:  level,
		Message: apiErr.Message,
		Code:    apiErr.Code,
		Action:  apiErr.Action,
	})
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, model.NewInternalError())
}

func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}
