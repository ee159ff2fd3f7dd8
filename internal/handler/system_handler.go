package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/catalog/internal/middleware"
	"github.com/hitoshi/catalog/internal/storage"
)

// PictureOpener は保存済み画像を開くインターフェース。
type PictureOpener interface {
	Open(name string) (*os.File, error)
}

// Pinger はデータベースの疎通確認インターフェース。
type Pinger interface {
	PingContext(ctx context.Context) error
}

// healthCheckTimeout はヘルスチェック時のDB疎通確認の上限時間。
const healthCheckTimeout = 2 * time.Second

// NewUploadsHandler は保存済み画像を配信するハンドラーを返す。
// GET /uploads/{name}
func NewUploadsHandler(pictures PictureOpener) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		f, err := pictures.Open(name)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) && !errors.Is(err, storage.ErrInvalidPictureName) {
				slog.Warn("failed to open picture", slog.String("picture", name), slog.String("error", err.Error()))
			}
			middleware.WriteFlash(w, http.StatusNotFound, middleware.FlashDanger, "Picture not found")
			return
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil || info.IsDir() {
			middleware.WriteFlash(w, http.StatusNotFound, middleware.FlashDanger, "Picture not found")
			return
		}

		w.Header().Set("Cache-Control", "public, max-age=86400")
		http.ServeContent(w, r, info.Name(), info.ModTime(), f)
	}
}

// NewHealthHandler はDB疎通を含むヘルスチェックハンドラーを返す。
// GET /health
func NewHealthHandler(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		if err := db.PingContext(ctx); err != nil {
			slog.Error("health check failed", slog.String("error", err.Error()))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
