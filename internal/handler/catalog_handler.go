package handler

import (
	"context"
	"errors"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/catalog/internal/catalog"
	"github.com/hitoshi/catalog/internal/middleware"
	"github.com/hitoshi/catalog/internal/model"
	"github.com/hitoshi/catalog/internal/storage"
	"github.com/hitoshi/catalog/internal/validation"
)

const (
	// pictureFormField はアップロード画像のフォームフィールド名。
	pictureFormField = "picfile"

	// multipartMemory はmultipartフォーム解析時にメモリに保持する上限。超過分は一時ファイルに退避される。
	multipartMemory = 1 << 20

	uploadsPathPrefix = "/uploads/"
)

// CatalogServiceInterface はカタログハンドラーが必要とするサービスインターフェース。
type CatalogServiceInterface interface {
	CreateCategory(ctx context.Context, name string) (*catalog.Result, error)
	RenameCategory(ctx context.Context, id, newName string) (*catalog.Result, error)
	DeleteCategory(ctx context.Context, id string) (*catalog.Result, error)
	CreateProduct(ctx context.Context, input catalog.ProductInput) (*catalog.Result, error)
	UpdateProduct(ctx context.Context, id string, input catalog.ProductInput) (*catalog.Result, error)
	DeleteProduct(ctx context.Context, id string) (*catalog.Result, error)

	ListCategories(ctx context.Context) ([]*model.Category, error)
	ListRecentProducts(ctx context.Context, limit int) ([]*model.Product, error)
	GetProduct(ctx context.Context, id string) (*model.Product, error)
	Catalog(ctx context.Context) ([]*model.CategoryWithProducts, error)
	CategoryWithProducts(ctx context.Context, id string) (*model.CategoryWithProducts, error)
}

// CatalogHandler はカタログの閲覧・JSONエクスポート・更新操作のHTTPハンドラー。
type CatalogHandler struct {
	service     CatalogServiceInterface
	recentLimit int
}

// NewCatalogHandler はCatalogHandlerを生成する。
func NewCatalogHandler(service CatalogServiceInterface, recentLimit int) *CatalogHandler {
	return &CatalogHandler{service: service, recentLimit: recentLimit}
}

// --- レスポンス型 ---

type categoryResponse struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	LastUpdated time.Time `json:"last_updated"`
}

type productResponse struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	Picture      string    `json:"picture,omitempty"`
	PictureURL   string    `json:"picture_url,omitempty"`
	CategoryID   string    `json:"category_id"`
	CategoryName string    `json:"category"`
	LastUpdated  time.Time `json:"last_updated"`
}

type homeResponse struct {
	Categories     []categoryResponse `json:"categories"`
	RecentProducts []productResponse  `json:"recent_products"`
}

type categoryPageResponse struct {
	Category   categoryResponse   `json:"category"`
	Categories []categoryResponse `json:"categories"`
	Products   []productResponse  `json:"products"`
}

// exportProduct はJSONエクスポートの商品表現。
// pictureは画像がない場合もnullとして出力する。
type exportProduct struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Picture     *string `json:"picture"`
	Category    string  `json:"category"`
}

type exportCategory struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Products []exportProduct `json:"products"`
}

func toCategoryResponse(c *model.Category) categoryResponse {
	return categoryResponse{ID: c.ID, Name: c.Name, LastUpdated: c.LastUpdated}
}

func toCategoryResponses(categories []*model.Category) []categoryResponse {
	out := make([]categoryResponse, len(categories))
	for i, c := range categories {
		out[i] = toCategoryResponse(c)
	}
	return out
}

func toProductResponse(p *model.Product) productResponse {
	resp := productResponse{
		ID:           p.ID,
		Name:         p.Name,
		Description:  p.Description,
		CategoryID:   p.CategoryID,
		CategoryName: p.CategoryName,
		LastUpdated:  p.LastUpdated,
	}
	if p.HasPicture() {
		resp.Picture = p.PictureFile
		resp.PictureURL = uploadsPathPrefix + p.PictureFile
	}
	return resp
}

func toProductResponses(products []*model.Product) []productResponse {
	out := make([]productResponse, len(products))
	for i, p := range products {
		out[i] = toProductResponse(p)
	}
	return out
}

func toExportProduct(p *model.Product) exportProduct {
	e := exportProduct{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Category:    p.CategoryName,
	}
	if p.HasPicture() {
		picture := p.PictureFile
		e.Picture = &picture
	}
	return e
}

func toExportCategory(c *model.CategoryWithProducts) exportCategory {
	products := make([]exportProduct, len(c.Products))
	for i, p := range c.Products {
		products[i] = toExportProduct(p)
	}
	return exportCategory{ID: c.ID, Name: c.Name, Products: products}
}

// --- 閲覧 ---

// Home はカテゴリ一覧と最近更新された商品を返す。
// GET /catalog/
func (h *CatalogHandler) Home(w http.ResponseWriter, r *http.Request) {
	categories, err := h.service.ListCategories(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	recent, err := h.service.ListRecentProducts(r.Context(), h.recentLimit)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, homeResponse{
		Categories:     toCategoryResponses(categories),
		RecentProducts: toProductResponses(recent),
	})
}

// Category はカテゴリとその商品を返す。
// GET /catalog/category/{id}/
func (h *CatalogHandler) Category(w http.ResponseWriter, r *http.Request) {
	category, err := h.service.CategoryWithProducts(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	categories, err := h.service.ListCategories(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, categoryPageResponse{
		Category:   toCategoryResponse(&category.Category),
		Categories: toCategoryResponses(categories),
		Products:   toProductResponses(category.Products),
	})
}

// Product は商品の詳細を返す。
// GET /catalog/product/{id}/
func (h *CatalogHandler) Product(w http.ResponseWriter, r *http.Request) {
	product, err := h.service.GetProduct(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductResponse(product))
}

// --- JSONエクスポート ---

// CatalogJSON は全カテゴリと商品をエクスポートする。
// GET /catalog.json/
func (h *CatalogHandler) CatalogJSON(w http.ResponseWriter, r *http.Request) {
	all, err := h.service.Catalog(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	result := make([]exportCategory, len(all))
	for i, c := range all {
		result[i] = toExportCategory(c)
	}
	writeJSON(w, http.StatusOK, map[string]any{"Categories": result})
}

// CategoryJSON は1カテゴリと商品をエクスポートする。
// GET /catalog/category.json/{id}/
func (h *CatalogHandler) CategoryJSON(w http.ResponseWriter, r *http.Request) {
	category, err := h.service.CategoryWithProducts(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"Category": []exportCategory{toExportCategory(category)}})
}

// ProductJSON は1商品をエクスポートする。
// GET /catalog/product.json/{id}/
func (h *CatalogHandler) ProductJSON(w http.ResponseWriter, r *http.Request) {
	product, err := h.service.GetProduct(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"Product": []exportProduct{toExportProduct(product)}})
}

// --- 更新操作 ---

// CreateCategory はカテゴリを作成する。
// POST /catalog/category/new/
func (h *CatalogHandler) CreateCategory(w http.ResponseWriter, r *http.Request) {
	if !parseForm(w, r) {
		return
	}
	result, err := h.service.CreateCategory(r.Context(), r.FormValue("name"))
	h.respond(w, result, err)
}

// RenameCategory はカテゴリ名を変更する。
// POST /catalog/category/{id}/edit/
func (h *CatalogHandler) RenameCategory(w http.ResponseWriter, r *http.Request) {
	if !parseForm(w, r) {
		return
	}
	result, err := h.service.RenameCategory(r.Context(), chi.URLParam(r, "id"), r.FormValue("name"))
	h.respond(w, result, err)
}

// DeleteCategory はカテゴリを削除する。商品が残っている場合は409。
// POST /catalog/category/{id}/delete/
func (h *CatalogHandler) DeleteCategory(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.DeleteCategory(r.Context(), chi.URLParam(r, "id"))
	h.respond(w, result, err)
}

// CreateProductInCategory はURLで指定したカテゴリに商品を作成する。
// POST /catalog/category/{id}/product/new/
func (h *CatalogHandler) CreateProductInCategory(w http.ResponseWriter, r *http.Request) {
	h.createProduct(w, r, chi.URLParam(r, "id"))
}

// CreateProduct はフォームで選択したカテゴリに商品を作成する。
// POST /catalog/product/new/
func (h *CatalogHandler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	h.createProduct(w, r, "")
}

func (h *CatalogHandler) createProduct(w http.ResponseWriter, r *http.Request, categoryID string) {
	if !parseForm(w, r) {
		return
	}
	input, cleanup := productInputFromForm(r)
	defer cleanup()
	if categoryID != "" {
		input.CategoryID = categoryID
	}

	result, err := h.service.CreateProduct(r.Context(), input)
	h.respond(w, result, err)
}

// UpdateProduct は商品を更新する。画像が指定されない場合は既存の画像を維持する。
// POST /catalog/product/{id}/edit/
func (h *CatalogHandler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	if !parseForm(w, r) {
		return
	}
	input, cleanup := productInputFromForm(r)
	defer cleanup()

	result, err := h.service.UpdateProduct(r.Context(), chi.URLParam(r, "id"), input)
	h.respond(w, result, err)
}

// DeleteProduct は商品を削除する。
// POST /catalog/product/{id}/delete/
func (h *CatalogHandler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.DeleteProduct(r.Context(), chi.URLParam(r, "id"))
	h.respond(w, result, err)
}

func (h *CatalogHandler) respond(w http.ResponseWriter, result *catalog.Result, err error) {
	if err != nil {
		if errors.Is(err, storage.ErrPictureTooLarge) {
			middleware.WriteErrorResponse(w, http.StatusOK, model.NewValidationError(msgPictureTooLarge))
			return
		}
		handleServiceError(w, err)
		return
	}
	writeSuccess(w, result.ID, result.Message)
}

const msgPictureTooLarge = "Picture is too large"

// parseForm はurlencodedまたはmultipartのフォームを解析する。
// 本文がサイズ上限を超えた場合は413を返してfalseを返す。
func parseForm(w http.ResponseWriter, r *http.Request) bool {
	var err error
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		err = r.ParseMultipartForm(multipartMemory)
	} else {
		err = r.ParseForm()
	}
	if err == nil {
		return true
	}

	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		middleware.WriteFlash(w, http.StatusRequestEntityTooLarge, middleware.FlashWarning, msgPictureTooLarge)
		return false
	}
	middleware.WriteFlash(w, http.StatusBadRequest, middleware.FlashWarning, "Invalid form data")
	return false
}

// productInputFromForm はフォームから商品入力を組み立てる。
// 許可されていない拡張子の画像は無視する（画像なしとして扱う）。
// 返り値のcleanupでアップロードファイルを閉じる。
func productInputFromForm(r *http.Request) (catalog.ProductInput, func()) {
	input := catalog.ProductInput{
		Name:        r.FormValue("name"),
		Description: r.FormValue("description"),
		CategoryID:  r.FormValue("category"),
	}

	cleanup := func() {}
	if r.MultipartForm == nil {
		return input, cleanup
	}

	file, header, err := r.FormFile(pictureFormField)
	if err != nil {
		if !errors.Is(err, http.ErrMissingFile) {
			slog.Warn("failed to read uploaded picture", slog.String("error", err.Error()))
		}
		return input, cleanup
	}
	cleanup = func() { file.Close() }

	if !acceptablePicture(header) {
		slog.Debug("ignoring picture with unsupported extension", slog.String("filename", header.Filename))
		return input, cleanup
	}

	input.Picture = &catalog.PictureUpload{Filename: header.Filename, Content: file}
	return input, cleanup
}

func acceptablePicture(header *multipart.FileHeader) bool {
	return header.Filename != "" && header.Size > 0 && validation.ValidatePictureName(header.Filename)
}
