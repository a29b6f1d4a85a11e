// Package fetch はフィードのバックグラウンドポーリング処理を提供する。
// 条件付き取得を行うポーラー、失敗分類、購読ごとのジョブスケジューラを含む。
package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
)

// Job はスケジューラから定期実行される処理。
// ctxはジョブ削除またはスケジューラ停止でキャンセルされる。
type Job func(ctx context.Context)

// Scheduler は購読ごとのポーリングジョブを固定間隔で実行する。
// 各ジョブはシングルトンモードで登録し、同じ購読のポーリングが重ならないようにする。
type Scheduler struct {
	cron     *gocron.Scheduler
	logger   *slog.Logger
	interval time.Duration

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
// intervalが0以下の場合はデフォルト値5分を使用する。
func NewScheduler(logger *slog.Logger, interval time.Duration, loc *time.Location) *Scheduler {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if loc == nil {
		loc = time.Local
	}
	cron := gocron.NewScheduler(loc)
	cron.TagsUnique()
	// 登録直後の初回取得は呼び出し側で行うため、最初の実行は1間隔後とする
	cron.WaitForScheduleAll()

	return &Scheduler{
		cron:     cron,
		logger:   logger,
		interval: interval,
		cancels:  make(map[string]context.CancelFunc),
	}
}

// Add は購読IDをタグとしてジョブを登録する。
// 同じIDのジョブが既にある場合はエラーを返す。
func (s *Scheduler) Add(id string, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.cancels[id]; exists {
		return fmt.Errorf("ジョブは既に登録されています: %s", id)
	}

	ctx, cancel := context.WithCancel(context.Background())
	_, err := s.cron.Every(s.interval).Tag(id).SingletonMode().Do(func() {
		if ctx.Err() != nil {
			return
		}
		job(ctx)
	})
	if err != nil {
		cancel()
		return fmt.Errorf("ジョブの登録に失敗しました: %w", err)
	}
	s.cancels[id] = cancel

	s.logger.Info("ポーリングジョブを登録しました",
		slog.String("subscription_id", id),
		slog.Duration("interval", s.interval),
	)
	return nil
}

// Remove は購読IDのジョブを削除し、実行中のジョブをキャンセルする。
// 未登録のIDは無視する。
func (s *Scheduler) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cancel, ok := s.cancels[id]
	if !ok {
		return
	}
	cancel()
	delete(s.cancels, id)

	if err := s.cron.RemoveByTag(id); err != nil {
		s.logger.Warn("ポーリングジョブの削除に失敗しました",
			slog.String("subscription_id", id),
			slog.String("error", err.Error()),
		)
		return
	}
	s.logger.Info("ポーリングジョブを削除しました",
		slog.String("subscription_id", id),
	)
}

// Has は購読IDのジョブが登録されているかを返す。
func (s *Scheduler) Has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.cancels[id]
	return ok
}

// Start はスケジューラを非同期で起動する。
func (s *Scheduler) Start() {
	s.cron.StartAsync()
	s.logger.Info("ポーリングスケジューラを開始しました",
		slog.Duration("interval", s.interval),
	)
}

// Stop はすべてのジョブをキャンセルしてスケジューラを停止する。
func (s *Scheduler) Stop() {
	s.mu.Lock()
	for id, cancel := range s.cancels {
		cancel()
		delete(s.cancels, id)
	}
	s.mu.Unlock()

	s.cron.Stop()
	s.logger.Info("ポーリングスケジューラを停止しました")
}
