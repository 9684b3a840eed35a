// Package cleanup は失効済みセッションの定期削除ジョブを提供する。
// 再訪されないまま期限切れになったセッションレコードを
// SESSION_CLEANUP_INTERVAL ごとにまとめて削除する。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// SessionPurger は失効済みセッションを削除するストア。
// repository.SessionRepository が満たす。
type SessionPurger interface {
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// PurgeRecorder は削除件数をメトリクスに記録する。
type PurgeRecorder interface {
	RecordSessionsPurged(count int64)
}

// CleanupJob は失効済みセッションの削除ジョブ。
// 冪等: 削除対象がなくてもエラーにならない。
type CleanupJob struct {
	store    SessionPurger
	recorder PurgeRecorder
	logger   *slog.Logger
	now      func() time.Time

	Interval time.Duration // 実行間隔（デフォルト: 1時間）
}

// NewCleanupJob は新しいCleanupJobを生成する。
// recorderはnilでもよい。
func NewCleanupJob(store SessionPurger, recorder PurgeRecorder, logger *slog.Logger) *CleanupJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &CleanupJob{
		store:    store,
		recorder: recorder,
		logger:   logger,
		now:      time.Now,
		Interval: time.Hour,
	}
}

// Run は現在時刻で失効済みのセッションを削除する。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	deletedCount, err := j.store.DeleteExpired(ctx, j.now())
	if err != nil {
		j.logger.Error("セッションクリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("セッションクリーンアップの実行に失敗: %w", err)
	}

	if j.recorder != nil {
		j.recorder.RecordSessionsPurged(deletedCount)
	}

	duration := time.Since(start)
	j.logger.Info("セッションクリーンアップジョブが完了しました",
		slog.Int64("deleted_count", deletedCount),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}

// Start は起動直後に1回実行し、その後Intervalごとに実行する。
// ctxがキャンセルされるまでブロックする。
// 失敗はRun内でログに記録し、次回の実行を継続する。
func (j *CleanupJob) Start(ctx context.Context) {
	_ = j.Run(ctx)

	ticker := time.NewTicker(j.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("セッションクリーンアップジョブを停止しました")
			return
		case <-ticker.C:
			_ = j.Run(ctx)
		}
	}
}
