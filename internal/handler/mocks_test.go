package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/catalog/internal/auth"
	"github.com/hitoshi/catalog/internal/catalog"
	"github.com/hitoshi/catalog/internal/middleware"
	"github.com/hitoshi/catalog/internal/model"
)

// --- モック定義 ---

type mockAuthService struct {
	beginLoginFn    func(ctx context.Context, s *model.AuthSession) (*auth.LoginStart, error)
	completeLoginFn func(ctx context.Context, s *model.AuthSession, state, code, redirectURI string) (*auth.LoginResult, error)
	logoutFn        func(ctx context.Context, s *model.AuthSession) (*auth.LogoutResult, error)
}

func (m *mockAuthService) BeginLogin(ctx context.Context, s *model.AuthSession) (*auth.LoginStart, error) {
	if m.beginLoginFn != nil {
		return m.beginLoginFn(ctx, s)
	}
	return &auth.LoginStart{State: "state-1", LoginURL: "https://accounts.example.com/auth?state=state-1"}, nil
}

func (m *mockAuthService) CompleteLogin(ctx context.Context, s *model.AuthSession, state, code, redirectURI string) (*auth.LoginResult, error) {
	if m.completeLoginFn != nil {
		return m.completeLoginFn(ctx, s, state, code, redirectURI)
	}
	return &auth.LoginResult{Username: "Alice", Message: "You are now logged in as Alice"}, nil
}

func (m *mockAuthService) Logout(ctx context.Context, s *model.AuthSession) (*auth.LogoutResult, error) {
	if m.logoutFn != nil {
		return m.logoutFn(ctx, s)
	}
	return &auth.LogoutResult{WasLoggedIn: true, Message: auth.MsgLoggedOut}, nil
}

type mockCatalogService struct {
	createCategoryFn       func(ctx context.Context, name string) (*catalog.Result, error)
	renameCategoryFn       func(ctx context.Context, id, name string) (*catalog.Result, error)
	deleteCategoryFn       func(ctx context.Context, id string) (*catalog.Result, error)
	createProductFn        func(ctx context.Context, input catalog.ProductInput) (*catalog.Result, error)
	updateProductFn        func(ctx context.Context, id string, input catalog.ProductInput) (*catalog.Result, error)
	deleteProductFn        func(ctx context.Context, id string) (*catalog.Result, error)
	listCategoriesFn       func(ctx context.Context) ([]*model.Category, error)
	listRecentFn           func(ctx context.Context, limit int) ([]*model.Product, error)
	getProductFn           func(ctx context.Context, id string) (*model.Product, error)
	catalogFn              func(ctx context.Context) ([]*model.CategoryWithProducts, error)
	categoryWithProductsFn func(ctx context.Context, id string) (*model.CategoryWithProducts, error)
}

func (m *mockCatalogService) CreateCategory(ctx context.Context, name string) (*catalog.Result, error) {
	if m.createCategoryFn != nil {
		return m.createCategoryFn(ctx, name)
	}
	return &catalog.Result{ID: "c1", Message: catalog.MsgCategoryCreated}, nil
}

func (m *mockCatalogService) RenameCategory(ctx context.Context, id, name string) (*catalog.Result, error) {
	if m.renameCategoryFn != nil {
		return m.renameCategoryFn(ctx, id, name)
	}
	return &catalog.Result{ID: id, Message: catalog.MsgCategoryUpdated}, nil
}

func (m *mockCatalogService) DeleteCategory(ctx context.Context, id string) (*catalog.Result, error) {
	if m.deleteCategoryFn != nil {
		return m.deleteCategoryFn(ctx, id)
	}
	return &catalog.Result{ID: id, Message: catalog.MsgCategoryDeleted}, nil
}

func (m *mockCatalogService) CreateProduct(ctx context.Context, input catalog.ProductInput) (*catalog.Result, error) {
	if m.createProductFn != nil {
		return m.createProductFn(ctx, input)
	}
	return &catalog.Result{ID: "p1", Message: catalog.MsgProductCreated}, nil
}

func (m *mockCatalogService) UpdateProduct(ctx context.Context, id string, input catalog.ProductInput) (*catalog.Result, error) {
	if m.updateProductFn != nil {
		return m.updateProductFn(ctx, id, input)
	}
	return &catalog.Result{ID: id, Message: catalog.MsgProductUpdated}, nil
}

func (m *mockCatalogService) DeleteProduct(ctx context.Context, id string) (*catalog.Result, error) {
	if m.deleteProductFn != nil {
		return m.deleteProductFn(ctx, id)
	}
	return &catalog.Result{ID: id, Message: catalog.MsgProductDeleted}, nil
}

func (m *mockCatalogService) ListCategories(ctx context.Context) ([]*model.Category, error) {
	if m.listCategoriesFn != nil {
		return m.listCategoriesFn(ctx)
	}
	return nil, nil
}

func (m *mockCatalogService) ListRecentProducts(ctx context.Context, limit int) ([]*model.Product, error) {
	if m.listRecentFn != nil {
		return m.listRecentFn(ctx, limit)
	}
	return nil, nil
}

func (m *mockCatalogService) GetProduct(ctx context.Context, id string) (*model.Product, error) {
	if m.getProductFn != nil {
		return m.getProductFn(ctx, id)
	}
	return nil, model.NewProductNotFoundError(id)
}

func (m *mockCatalogService) Catalog(ctx context.Context) ([]*model.CategoryWithProducts, error) {
	if m.catalogFn != nil {
		return m.catalogFn(ctx)
	}
	return nil, nil
}

func (m *mockCatalogService) CategoryWithProducts(ctx context.Context, id string) (*model.CategoryWithProducts, error) {
	if m.categoryWithProductsFn != nil {
		return m.categoryWithProductsFn(ctx, id)
	}
	return nil, model.NewCategoryNotFoundError(id)
}

// memSessionStore はルーターテスト用のインメモリセッションストア。
type memSessionStore struct {
	mu       sync.Mutex
	sessions map[string]*model.AuthSession
}

func newMemSessionStore() *memSessionStore {
	return &memSessionStore{sessions: make(map[string]*model.AuthSession)}
}

func (m *memSessionStore) Create(_ context.Context, s *model.AuthSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *s
	m.sessions[s.ID] = &copied
	return nil
}

func (m *memSessionStore) FindByID(_ context.Context, id string) (*model.AuthSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, nil
	}
	copied := *s
	return &copied, nil
}

func (m *memSessionStore) Save(_ context.Context, s *model.AuthSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; !ok {
		return errors.New("session not found")
	}
	copied := *s
	m.sessions[s.ID] = &copied
	return nil
}

func (m *memSessionStore) DeleteByID(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

// put はセッションを登録してIDを返す。
func (m *memSessionStore) put(s *model.AuthSession) string {
	if s.ExpiresAt.IsZero() {
		s.ExpiresAt = time.Now().Add(time.Hour)
	}
	m.Create(context.Background(), s)
	return s.ID
}

type fakePictureOpener struct {
	dir string
}

func (f fakePictureOpener) Open(name string) (*os.File, error) {
	if name == "" || name[0] == '.' {
		return nil, os.ErrNotExist
	}
	return os.Open(f.dir + "/" + name)
}

type fakePinger struct{ err error }

func (f fakePinger) PingContext(context.Context) error { return f.err }

// --- ルーター構築ヘルパー ---

const testCSRFToken = "csrf-token-for-tests"

type testEnv struct {
	router   http.Handler
	sessions *memSessionStore
	auth     *mockAuthService
	catalog  *mockCatalogService
	limiter  *middleware.RateLimiter
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		sessions: newMemSessionStore(),
		auth:     &mockAuthService{},
		catalog:  &mockCatalogService{},
		limiter:  middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig()),
	}
	t.Cleanup(env.limiter.Stop)

	env.router = NewRouter(&RouterDeps{
		Sessions:       env.sessions,
		SessionConfig:  middleware.SessionConfig{MaxAge: time.Hour},
		RateLimiter:    env.limiter,
		MaxUploadSize:  1 << 20,
		AuthService:    env.auth,
		AuthConfig:     AuthHandlerConfig{BaseURL: "http://localhost:8080/catalog/"},
		CatalogService: env.catalog,
		RecentLimit:    10,
		Pictures:       fakePictureOpener{dir: t.TempDir()},
		DB:             fakePinger{},
		MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, "# metrics\n")
		}),
	})
	return env
}

// loggedInSession はログイン済みセッションを登録してIDを返す。
func (e *testEnv) loggedInSession() string {
	s := &model.AuthSession{ID: "session-logged-in"}
	s.SetIdentity("access-token", "sub-1", "Alice")
	return e.sessions.put(s)
}

// sessionCookie はレスポンスで発行されたセッションIDを返す。発行がなければ空。
func sessionCookie(w *httptest.ResponseRecorder) string {
	for _, c := range w.Result().Cookies() {
		if c.Name == middleware.SessionCookieName {
			return c.Value
		}
	}
	return ""
}

// do はセッションCookieとCSRFトークンを付けてリクエストを送る。
func (e *testEnv) do(req *http.Request, sessionID string) *httptest.ResponseRecorder {
	if sessionID != "" {
		req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: sessionID})
	}
	if req.Method == http.MethodPost {
		req.AddCookie(&http.Cookie{Name: "csrf_token", Value: testCSRFToken})
		if req.Header.Get("X-CSRF-Token") == "" {
			req.Header.Set("X-CSRF-Token", testCSRFToken)
		}
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}
