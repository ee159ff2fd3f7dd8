package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/catalog/internal/model"
)

func decodeFlash(t *testing.T, w *httptest.ResponseRecorder) FlashBody {
	t.Helper()
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	var body FlashBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	return body
}

func TestWriteFlash(t *testing.T) {
	w := httptest.NewRecorder()
	WriteFlash(w, http.StatusOK, FlashSuccess, "New category created")

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	body := decodeFlash(t, w)
	if body.Status != FlashSuccess || body.Message != "New category created" {
		t.Errorf("unexpected body: %+v", body)
	}
	if body.Code != "" || body.Action != "" {
		t.Error("code and action should be omitted")
	}
}

func TestWriteErrorResponse_Levels(t *testing.T) {
	tests := []struct {
		name      string
		err       *model.APIError
		wantLevel string
	}{
		{"validation", model.NewValidationError("Category name is empty"), FlashWarning},
		{"login required", model.NewLoginRequiredError(), FlashWarning},
		{"not empty", model.NewCategoryNotEmptyError(), FlashDanger},
		{"not found", model.NewProductNotFoundError("x"), FlashDanger},
		{"unauthorized", model.NewUnauthorizedError("invalid_token"), FlashDanger},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteErrorResponse(w, http.StatusTeapot, tt.err)

			if w.Code != http.StatusTeapot {
				t.Errorf("status = %d", w.Code)
			}
			body := decodeFlash(t, w)
			if body.Status != tt.wantLevel {
				t.Errorf("status = %q, want %q", body.Status, tt.wantLevel)
			}
			if body.Message != tt.err.Message || body.Code != tt.err.Code || body.Action != tt.err.Action {
				t.Errorf("unexpected body: %+v", body)
			}
		})
	}
}

func TestWriteInternalServerError_HidesDetails(t *testing.T) {
	w := httptest.NewRecorder()
	WriteInternalServerError(w)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
	body := decodeFlash(t, w)
	if body.Code != model.ErrCodeInternal || body.Message != "An internal error occurred." {
		t.Errorf("unexpected body: %+v", body)
	}
}
