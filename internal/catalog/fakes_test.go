package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/catalog/internal/model"
	"github.com/hitoshi/catalog/internal/repository"
)

// memStore はカテゴリと商品を保持するインメモリのストア。
// トランザクションはスナップショットの巻き戻しで再現する。
type memStore struct {
	categories map[string]model.Category
	products   map[string]model.Product

	// commitErr が設定されているとコミットを失敗させる
	commitErr error
	// events は画像操作とコミットの順序を記録する
	events []string
}

func newMemStore() *memStore {
	return &memStore{
		categories: make(map[string]model.Category),
		products:   make(map[string]model.Product),
	}
}

func (m *memStore) log(event string) {
	m.events = append(m.events, event)
}

// --- TxManager ---

type memTx struct{ store *memStore }

func (t memTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	s := t.store
	cats := make(map[string]model.Category, len(s.categories))
	for k, v := range s.categories {
		cats[k] = v
	}
	prods := make(map[string]model.Product, len(s.products))
	for k, v := range s.products {
		prods[k] = v
	}

	rollback := func() {
		s.categories = cats
		s.products = prods
		s.log("rollback")
	}

	if err := fn(ctx); err != nil {
		rollback()
		return err
	}
	if s.commitErr != nil {
		rollback()
		return fmt.Errorf("failed to commit transaction: %w", s.commitErr)
	}
	s.log("commit")
	return nil
}

// --- CategoryRepository ---

type memCategoryRepo struct{ store *memStore }

func (r memCategoryRepo) FindByID(_ context.Context, id string) (*model.Category, error) {
	c, ok := r.store.categories[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (r memCategoryRepo) List(_ context.Context) ([]*model.Category, error) {
	var out []*model.Category
	for _, c := range r.store.categories {
		c := c
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r memCategoryRepo) ExistsByName(_ context.Context, name, excludeID string) (bool, error) {
	for id, c := range r.store.categories {
		if c.Name == name && id != excludeID {
			return true, nil
		}
	}
	return false, nil
}

func (r memCategoryRepo) Create(_ context.Context, c *model.Category) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	for _, existing := range r.store.categories {
		if existing.Name == c.Name {
			return fmt.Errorf("%w: categories_name_key", repository.ErrDuplicateName)
		}
	}
	r.store.categories[c.ID] = *c
	return nil
}

func (r memCategoryRepo) Update(_ context.Context, c *model.Category) error {
	if _, ok := r.store.categories[c.ID]; !ok {
		return fmt.Errorf("category not found: %s", c.ID)
	}
	r.store.categories[c.ID] = *c
	return nil
}

func (r memCategoryRepo) Delete(_ context.Context, id string) error {
	for _, p := range r.store.products {
		if p.CategoryID == id {
			return fmt.Errorf("%w: products_category_id_fkey", repository.ErrForeignKey)
		}
	}
	delete(r.store.categories, id)
	return nil
}

// --- ProductRepository ---

type memProductRepo struct {
	store     *memStore
	updateErr error
}

func (r *memProductRepo) withCategoryName(p model.Product) *model.Product {
	p.CategoryName = r.store.categories[p.CategoryID].Name
	return &p
}

func (r *memProductRepo) FindByID(_ context.Context, id string) (*model.Product, error) {
	p, ok := r.store.products[id]
	if !ok {
		return nil, nil
	}
	return r.withCategoryName(p), nil
}

func (r *memProductRepo) sorted(filter func(model.Product) bool) []*model.Product {
	var out []*model.Product
	for _, p := range r.store.products {
		if filter(p) {
			out = append(out, r.withCategoryName(p))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastUpdated.Equal(out[j].LastUpdated) {
			return out[i].ID < out[j].ID
		}
		return out[i].LastUpdated.After(out[j].LastUpdated)
	})
	return out
}

func (r *memProductRepo) ListByCategory(_ context.Context, categoryID string) ([]*model.Product, error) {
	return r.sorted(func(p model.Product) bool { return p.CategoryID == categoryID }), nil
}

func (r *memProductRepo) ListAll(_ context.Context) ([]*model.Product, error) {
	return r.sorted(func(model.Product) bool { return true }), nil
}

func (r *memProductRepo) ListRecent(_ context.Context, limit int) ([]*model.Product, error) {
	all := r.sorted(func(model.Product) bool { return true })
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (r *memProductRepo) ExistsByCategoryID(_ context.Context, categoryID string) (bool, error) {
	for _, p := range r.store.products {
		if p.CategoryID == categoryID {
			return true, nil
		}
	}
	return false, nil
}

func (r *memProductRepo) Create(_ context.Context, p *model.Product) error {
	if _, ok := r.store.categories[p.CategoryID]; !ok {
		return fmt.Errorf("%w: products_category_id_fkey", repository.ErrForeignKey)
	}
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	r.store.products[p.ID] = *p
	return nil
}

func (r *memProductRepo) Update(_ context.Context, p *model.Product) error {
	if r.updateErr != nil {
		return r.updateErr
	}
	if _, ok := r.store.products[p.ID]; !ok {
		return fmt.Errorf("product not found: %s", p.ID)
	}
	r.store.products[p.ID] = *p
	return nil
}

func (r *memProductRepo) Delete(_ context.Context, id string) error {
	delete(r.store.products, id)
	return nil
}

// --- PictureStore ---

type fakePictureStore struct {
	store     *memStore
	files     map[string]string
	seq       int
	deleteErr error
	saveErr   error
}

func newFakePictureStore(store *memStore) *fakePictureStore {
	return &fakePictureStore{store: store, files: make(map[string]string)}
}

func (f *fakePictureStore) Save(_ context.Context, originalName string, r io.Reader) (string, error) {
	if f.saveErr != nil {
		return "", f.saveErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	f.seq++
	name := fmt.Sprintf("pic%02d-%s", f.seq, originalName)
	f.files[name] = string(data)
	f.store.log("save:" + name)
	return name, nil
}

func (f *fakePictureStore) Delete(_ context.Context, name string) error {
	f.store.log("delete:" + name)
	if f.deleteErr != nil {
		return f.deleteErr
	}
	delete(f.files, name)
	return nil
}

// --- MetricsCollector ---

type recordingMetrics struct {
	ops             map[string]int
	pictureFailures int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{ops: make(map[string]int)}
}

func (m *recordingMetrics) RecordCatalogOperation(operation, outcome string) {
	m.ops[operation+"/"+outcome]++
}
func (m *recordingMetrics) RecordLogin(string) {}
func (m *recordingMetrics) RecordPictureDeleteFailure() { m.pictureFailures++ }
func (m *recordingMetrics) RecordHTTPStatus(int) {}
func (m *recordingMetrics) RecordRequestLatency(string, time.Duration) {}
func (m *recordingMetrics) RecordProviderLatency(string, time.Duration) {}

var errDiskFull = errors.New("disk full")
