package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// txContextKey はコンテキストに実行中のトランザクションを格納するためのキー。
type txContextKey struct{}

// PostgresTxManager は*sql.DBのトランザクションをコンテキスト経由で共有する。
type PostgresTxManager struct {
	db *sql.DB
}

// NewPostgresTxManager はPostgresTxManagerを生成する。
func NewPostgresTxManager(db *sql.DB) *PostgresTxManager {
	return &PostgresTxManager{db: db}
}

// WithinTx はfnを1つのトランザクション内で実行する。
// 既にトランザクション中のctxが渡された場合はそのトランザクションに参加する。
func (m *PostgresTxManager) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txContextKey{}).(*sql.Tx); ok {
		return fn(ctx)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(context.WithValue(ctx, txContextKey{}, tx)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// executor はctxにトランザクションがあればそれを、なければdbを返す。
func executor(ctx context.Context, db *sql.DB) DBTX {
	if tx, ok := ctx.Value(txContextKey{}).(*sql.Tx); ok {
		return tx
	}
	return db
}

// validUUID はidがuuidカラムに渡せる形式かどうかを判定する。
// 不正な形式のIDは「存在しない」として扱い、DBエラーにしない。
func validUUID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// PostgreSQLのエラーコード
const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
)

// ErrDuplicateName はカテゴリ名のユニーク制約違反を表す。
var ErrDuplicateName = errors.New("duplicate category name")

// ErrForeignKey は外部キー制約違反を表す。
// 存在しないカテゴリの参照、または商品が残るカテゴリの削除で返る。
var ErrForeignKey = errors.New("foreign key violation")

// translatePQError はlib/pqのエラーコードを番兵エラーに変換する。
func translatePQError(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}
	switch string(pqErr.Code) {
	case pqUniqueViolation:
		return fmt.Errorf("%w: %s", ErrDuplicateName, pqErr.Constraint)
	case pqForeignKeyViolation:
		return fmt.Errorf("%w: %s", ErrForeignKey, pqErr.Constraint)
	default:
		return err
	}
}

// compile-time interface check
var _ TxManager = (*PostgresTxManager)(nil)
