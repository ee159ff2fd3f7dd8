package catalog

import (
	"context"
	"fmt"
	"log/slog"
)

// SeedCategory はサンプルデータのカテゴリと所属商品。
type SeedCategory struct {
	Name     string
	Products []SeedProduct
}

// SeedProduct はサンプルデータの商品。
type SeedProduct struct {
	Name        string
	Description string
}

// SampleData はseedコマンドで投入するサンプルデータ。
var SampleData = []SeedCategory{
	{
		Name: "Photo",
		Products: []SeedProduct{
			{Name: "PocketCam", Description: "Pocket photo camera"},
			{Name: "HDCam", Description: "HD  DSLR camera"},
			{Name: "WaterCam", Description: "Waterproof camera"},
		},
	},
	{Name: "Video"},
	{Name: "Clothes"},
	{Name: "Kitchen"},
}

// SeedReport はSeedで実際に作成した件数。
type SeedReport struct {
	CategoriesCreated int
	ProductsCreated   int
}

// Seed はサンプルデータを投入する。
// 同名のカテゴリやカテゴリ内の同名商品が既にあればスキップするため、繰り返し実行できる。
func (s *Service) Seed(ctx context.Context, data []SeedCategory) (*SeedReport, error) {
	existing, err := s.ListCategories(ctx)
	if err != nil {
		return nil, err
	}
	categoryIDs := make(map[string]string, len(existing))
	for _, c := range existing {
		categoryIDs[c.Name] = c.ID
	}

	report := &SeedReport{}
	for _, sc := range data {
		id, ok := categoryIDs[sc.Name]
		if !ok {
			res, err := s.CreateCategory(ctx, sc.Name)
			if err != nil {
				return report, fmt.Errorf("failed to seed category %q: %w", sc.Name, err)
			}
			id = res.ID
			categoryIDs[sc.Name] = id
			report.CategoriesCreated++
		}

		products, err := s.ListProducts(ctx, id)
		if err != nil {
			return report, err
		}
		names := make(map[string]bool, len(products))
		for _, p := range products {
			names[p.Name] = true
		}

		for _, sp := range sc.Products {
			if names[sp.Name] {
				continue
			}
			_, err := s.CreateProduct(ctx, ProductInput{
				Name:        sp.Name,
				Description: sp.Description,
				CategoryID:  id,
			})
			if err != nil {
				return report, fmt.Errorf("failed to seed product %q: %w", sp.Name, err)
			}
			report.ProductsCreated++
		}
	}

	slog.Info("sample data seeded",
		slog.Int("categories_created", report.CategoriesCreated),
		slog.Int("products_created", report.ProductsCreated),
	)
	return report, nil
}
