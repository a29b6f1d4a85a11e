// Package cleanup はエンティティ状態の自動削除ジョブを提供する。
// 保持期間（デフォルト30日）のあいだ更新されなかった状態を日次バッチで削除する。
// 削除済み購読の状態はentity_statesのCASCADE削除で処理される。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron"
)

// StatePruner は指定日時より前に更新された状態を削除する。
type StatePruner interface {
	DeleteUpdatedBefore(ctx context.Context, before time.Time) (int64, error)
}

// CleanupJob は保持期間を超過したエンティティ状態の自動削除ジョブ。
// 冪等: 削除対象がない場合でもエラーにならない。
type CleanupJob struct {
	store         StatePruner
	logger        *slog.Logger
	now           func() time.Time
	RetentionDays int // 状態の保持日数（デフォルト: 30）
}

// NewCleanupJob は新しいCleanupJobを生成する。
// retentionDaysが0以下の場合はデフォルトの30日を使用する。
func NewCleanupJob(store StatePruner, logger *slog.Logger, retentionDays int) *CleanupJob {
	if retentionDays <= 0 {
		retentionDays = 30
	}
	return &CleanupJob{
		store:         store,
		logger:        logger,
		now:           time.Now,
		RetentionDays: retentionDays,
	}
}

// Run はupdated_atがRetentionDays日前より古い状態を削除し、削除件数を返す。
func (j *CleanupJob) Run(ctx context.Context) (int64, error) {
	start := j.now()
	cutoff := start.AddDate(0, 0, -j.RetentionDays)

	deleted, err := j.store.DeleteUpdatedBefore(ctx, cutoff)
	if err != nil {
		j.logger.Error("状態クリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.RetentionDays),
		)
		return 0, fmt.Errorf("状態クリーンアップの実行に失敗: %w", err)
	}

	j.logger.Info("状態クリーンアップジョブが完了しました",
		slog.Int64("deleted_count", deleted),
		slog.Int("retention_days", j.RetentionDays),
		slog.Time("cutoff", cutoff),
		slog.Float64("duration_ms", float64(j.now().Sub(start).Milliseconds())),
	)
	return deleted, nil
}

// Schedule は毎日atの時刻（"HH:MM"）にRunを実行するスケジューラを起動する。
// 返り値の関数でスケジューラを停止する。
func (j *CleanupJob) Schedule(loc *time.Location, at string) (func(), error) {
	if loc == nil {
		loc = time.Local
	}
	cron := gocron.NewScheduler(loc)
	_, err := cron.Every(1).Day().At(at).SingletonMode().Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		_, _ = j.Run(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("クリーンアップジョブの登録に失敗しました: %w", err)
	}
	cron.StartAsync()

	j.logger.Info("状態クリーンアップジョブを登録しました",
		slog.String("at", at),
		slog.Int("retention_days", j.RetentionDays),
	)
	return cron.Stop, nil
}
