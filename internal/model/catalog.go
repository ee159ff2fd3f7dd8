// Package model はドメインモデルを定義する。
package model

import "time"

// Category は商品をまとめる名前付きのカテゴリを表す。
// nameは全カテゴリの中で一意（大文字小文字を区別する完全一致）。
type Category struct {
	ID          string
	Name        string
	LastUpdated time.Time
}

// Product はいずれか1つのカテゴリに属するカタログ商品を表す。
type Product struct {
	ID          string
	Name        string
	Description string
	// PictureFile は保存済み画像ファイル名。空文字列は画像なし。
	PictureFile string
	CategoryID  string
	// CategoryName は読み取り時にJOINで埋められる。書き込み時は参照しない。
	CategoryName string
	LastUpdated  time.Time
}

// HasPicture は商品に画像が紐付いているかどうかを返す。
func (p *Product) HasPicture() bool {
	return p.PictureFile != ""
}

// CategoryWithProducts はカテゴリと所属商品をまとめたもの。
// JSONエクスポートで使用する。
type CategoryWithProducts struct {
	Category
	Products []*Product
}
