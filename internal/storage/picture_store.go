// Package storage は商品画像ファイルの保存先を提供する。
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/hitoshi/catalog/internal/validation"
)

// ErrUnsupportedPicture は許可されていない拡張子の画像を表す。
var ErrUnsupportedPicture = errors.New("unsupported picture extension")

// ErrPictureTooLarge は画像が上限サイズを超えたことを表す。
var ErrPictureTooLarge = errors.New("picture exceeds size limit")

// ErrInvalidPictureName は保存先ディレクトリ外を指す、または不正な画像名を表す。
var ErrInvalidPictureName = errors.New("invalid picture name")

// PictureStore は商品画像の保存と削除のインターフェース。
type PictureStore interface {
	// Save は画像を一意な名前で保存し、その名前を返す。
	Save(ctx context.Context, originalName string, r io.Reader) (string, error)
	// Delete は画像を削除する。存在しない場合はエラーにしない。
	Delete(ctx context.Context, name string) error
}

// LocalPictureStore はローカルディレクトリに画像を保存する。
type LocalPictureStore struct {
	dir     string
	maxSize int64
}

// NewLocalPictureStore はLocalPictureStoreを生成する。ディレクトリがなければ作成する。
// maxSizeが0以下の場合はサイズを制限しない。
func NewLocalPictureStore(dir string, maxSize int64) (*LocalPictureStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("upload dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload dir: %w", err)
	}
	return &LocalPictureStore{dir: dir, maxSize: maxSize}, nil
}

// Dir は保存先ディレクトリを返す。
func (s *LocalPictureStore) Dir() string {
	return s.dir
}

// Save は画像を「UUID(ハイフンなし32桁)+元の拡張子(小文字)」の名前で保存する。
// 一時ファイルに書き込んでからリネームするため、途中で失敗しても不完全なファイルは残らない。
func (s *LocalPictureStore) Save(ctx context.Context, originalName string, r io.Reader) (string, error) {
	ext := validation.PictureExtension(originalName)
	if ext == "" {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedPicture, originalName)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	name := strings.ReplaceAll(uuid.New().String(), "-", "") + "." + ext

	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	src := r
	if s.maxSize > 0 {
		src = io.LimitReader(r, s.maxSize+1)
	}
	written, err := io.Copy(tmp, src)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return "", fmt.Errorf("failed to write picture: %w", err)
	}
	if s.maxSize > 0 && written > s.maxSize {
		return "", ErrPictureTooLarge
	}

	if err := os.Rename(tmpPath, filepath.Join(s.dir, name)); err != nil {
		return "", fmt.Errorf("failed to store picture: %w", err)
	}
	return name, nil
}

// Delete は画像を削除する。
func (s *LocalPictureStore) Delete(_ context.Context, name string) error {
	path, err := s.path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete picture: %w", err)
	}
	return nil
}

// Open は保存済み画像を読み取り用に開く。
func (s *LocalPictureStore) Open(name string) (*os.File, error) {
	path, err := s.path(name)
	if err != nil {
		return nil, err
	}
	return os.Open(path)
}

// path はファイル名を保存先ディレクトリ内のパスに変換する。
// ディレクトリ区切りを含む名前はパストラバーサル防止のため拒否する。
func (s *LocalPictureStore) path(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPictureName, name)
	}
	return filepath.Join(s.dir, name), nil
}

// compile-time interface check
var _ PictureStore = (*LocalPictureStore)(nil)
