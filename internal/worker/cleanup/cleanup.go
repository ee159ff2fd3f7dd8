// Package cleanup は期限切れセッションの削除ジョブを提供する。
// スケジューリングは行わず、運用者が cleanup サブコマンドで1回ずつ実行する。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// SessionPurger は期限切れセッションを削除するインターフェース。
// repository.SessionRepositoryの部分集合として定義する。
type SessionPurger interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// CleanupJob は期限切れセッションの削除ジョブ。
// 削除対象がない場合もエラーにならない。
type CleanupJob struct {
	sessions SessionPurger
	logger   *slog.Logger
	store    string
}

// NewCleanupJob は新しいCleanupJobを生成する。
// storeはログ出力用のセッションストア名（postgres|redis）。
func NewCleanupJob(sessions SessionPurger, logger *slog.Logger, store string) *CleanupJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &CleanupJob{
		sessions: sessions,
		logger:   logger,
		store:    store,
	}
}

// Run は期限切れセッションを削除し、削除件数を返す。
func (j *CleanupJob) Run(ctx context.Context) (int64, error) {
	start := time.Now()

	deletedCount, err := j.sessions.DeleteExpired(ctx)
	if err != nil {
		j.logger.Error("session cleanup failed",
			slog.String("error", err.Error()),
			slog.String("session_store", j.store),
		)
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}

	j.logger.Info("session cleanup completed",
		slog.Int64("deleted_count", deletedCount),
		slog.String("session_store", j.store),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()),
	)

	return deletedCount, nil
}
