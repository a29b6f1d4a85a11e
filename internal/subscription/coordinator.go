package subscription

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hitoshi/powderwatch/internal/entity"
	"github.com/hitoshi/powderwatch/internal/model"
)

// Poller はフィードのポーリングとキャッシュを行う。
type Poller interface {
	Poll(ctx context.Context) (*model.FeedPayload, error)
	Payload() *model.FeedPayload
	Stats() model.PollStats
	Close() error
}

// Coordinator は1つの購読のポーラーとエンティティ公開をまとめる。
// ポーリングと公開はmuで直列化し、古いペイロードが後から書き込まれないようにする。
type Coordinator struct {
	mu        sync.Mutex
	sub       model.Subscription
	poller    Poller
	publisher *entity.Publisher
	logger    *slog.Logger
}

// NewCoordinator はCoordinatorの新しいインスタンスを生成する。
func NewCoordinator(sub model.Subscription, poller Poller, publisher *entity.Publisher, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		sub:       sub,
		poller:    poller,
		publisher: publisher,
		logger:    logger,
	}
}

// ID は購読IDを返す。
func (c *Coordinator) ID() string {
	return c.sub.ID
}

// Subscription は購読設定のコピーを返す。
func (c *Coordinator) Subscription() model.Subscription {
	sub := c.sub
	sub.Resorts = append([]string(nil), c.sub.Resorts...)
	return sub
}

// Refresh はフィードをポーリングし、全エンティティの状態を公開する。
// ポーリングのソフト失敗は前回のペイロードで公開を続ける。
func (c *Coordinator) Refresh(ctx context.Context) ([]model.EntityState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	payload, err := c.poller.Poll(ctx)
	if err != nil {
		return nil, err
	}
	return c.publish(ctx, payload)
}

// Publish は指定ペイロードと現在の統計値でエンティティ状態を公開する。
func (c *Coordinator) Publish(ctx context.Context, payload *model.FeedPayload) ([]model.EntityState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.publish(ctx, payload)
}

func (c *Coordinator) publish(ctx context.Context, payload *model.FeedPayload) ([]model.EntityState, error) {
	states, err := c.publisher.Publish(ctx, payload, c.poller.Stats())
	if err != nil {
		return nil, fmt.Errorf("購読 %s の公開に失敗: %w", c.sub.ID, err)
	}
	return states, nil
}

// Stats はポーラーの日次カウンタを返す。
func (c *Coordinator) Stats() model.PollStats {
	return c.poller.Stats()
}

// Payload は最後に取得できたペイロードを返す。
func (c *Coordinator) Payload() *model.FeedPayload {
	return c.poller.Payload()
}

// Close はポーラーのHTTPクライアントを解放する。
func (c *Coordinator) Close() error {
	return c.poller.Close()
}

// run はスケジューラから呼ばれるジョブ本体。
func (c *Coordinator) run(ctx context.Context) {
	states, err := c.Refresh(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		c.logger.Error("定期更新に失敗しました",
			slog.String("subscription_id", c.sub.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	c.logger.Debug("定期更新が完了しました",
		slog.String("subscription_id", c.sub.ID),
		slog.Int("entity_count", len(states)),
	)
}
