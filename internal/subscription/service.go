// Package subscription は購読（監視対象リゾートの集合）のライフサイクルを管理する。
package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/powderwatch/internal/entity"
	"github.com/hitoshi/powderwatch/internal/metrics"
	"github.com/hitoshi/powderwatch/internal/model"
	"github.com/hitoshi/powderwatch/internal/projection"
	"github.com/hitoshi/powderwatch/internal/repository"
	"github.com/hitoshi/powderwatch/internal/worker/fetch"
)

// Scheduler は購読ごとの定期ジョブを登録・削除する。
type Scheduler interface {
	Add(id string, job fetch.Job) error
	Remove(id string)
}

// Config はServiceのフィード取得設定。
type Config struct {
	FeedURL      string
	FetchTimeout time.Duration
	FetchMaxSize int64
	Location     *time.Location
}

// Service は購読のセットアップ、復元、削除と、稼働中の購読への問い合わせを担う。
type Service struct {
	cfg       Config
	subRepo   repository.SubscriptionRepository
	stateRepo repository.EntityStateRepository
	guard     fetch.SSRFValidator
	scheduler Scheduler
	registry  *Registry
	logger    *slog.Logger

	projector *projection.Projector
	sanitizer entity.Sanitizer
	metrics   metrics.MetricsCollector
	now       func() time.Time
	newID     func() string
}

// Option はServiceの設定オプション。
type Option func(*Service)

// WithProjector は全購読で共有するProjectorを設定する。
func WithProjector(p *projection.Projector) Option {
	return func(s *Service) {
		s.projector = p
	}
}

// WithSanitizer はスノーレポートのHTML属性に使うサニタイザを設定する。
func WithSanitizer(san entity.Sanitizer) Option {
	return func(s *Service) {
		s.sanitizer = san
	}
}

// WithMetrics はメトリクス収集を設定する。
func WithMetrics(m metrics.MetricsCollector) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithClock は現在時刻の取得関数を差し替える。
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithIDGenerator は購読IDの生成関数を差し替える。
func WithIDGenerator(f func() string) Option {
	return func(s *Service) {
		s.newID = f
	}
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	cfg Config,
	subRepo repository.SubscriptionRepository,
	stateRepo repository.EntityStateRepository,
	guard fetch.SSRFValidator,
	scheduler Scheduler,
	logger *slog.Logger,
	opts ...Option,
) *Service {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	s := &Service{
		cfg:       cfg,
		subRepo:   subRepo,
		stateRepo: stateRepo,
		guard:     guard,
		scheduler: scheduler,
		registry:  NewRegistry(),
		logger:    logger,
		metrics:   metrics.Nop{},
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ValidateFeedURL は設定されたフィードURLがSSRFポリシーを満たすか検証する。
func (s *Service) ValidateFeedURL() error {
	if err := s.guard.ValidateURL(s.cfg.FeedURL); err != nil {
		return model.NewSSRFBlockedError()
	}
	return nil
}

// Discover はフィードを1回取得し、選択可能なリゾート名を返す。
// 取得に失敗した場合やリゾートが1件もない場合は["All"]を返す。
func (s *Service) Discover(ctx context.Context) []string {
	client := s.guard.NewSafeClient(s.cfg.FetchTimeout, s.cfg.FetchMaxSize)
	defer client.CloseIdleConnections()

	names, err := fetch.Discover(ctx, client, s.cfg.FeedURL, s.cfg.FetchTimeout, s.cfg.FetchMaxSize)
	if err != nil {
		s.logger.Warn("リゾート一覧の取得に失敗しました。既定の選択肢を使用します",
			slog.String("feed_url", s.cfg.FeedURL),
			slog.String("error", err.Error()),
		)
		return []string{model.AllResorts}
	}
	if len(names) == 0 {
		return []string{model.AllResorts}
	}
	return names
}

// Create は購読を作成し、初回取得と状態の公開を行ってから定期ポーリングを登録する。
// 初回取得でフィードが得られた場合、存在しないリゾート名の指定はエラーにする。
// フィードが得られなかった場合も購読は作成し、エンティティは次回以降に公開される。
func (s *Service) Create(ctx context.Context, title string, resorts []string) (*model.Subscription, error) {
	resorts = normalizeResorts(resorts)
	if len(resorts) == 0 {
		return nil, model.NewInvalidRequestError("resortsを1件以上指定してください")
	}
	if strings.TrimSpace(title) == "" {
		title = strings.Join(resorts, ", ")
	}

	sub := &model.Subscription{
		ID:        s.newID(),
		Title:     title,
		Resorts:   resorts,
		CreatedAt: s.now(),
	}
	coord := s.newCoordinator(*sub)

	payload, err := coord.poller.Poll(ctx)
	if err != nil {
		s.closeCoordinator(coord)
		return nil, fmt.Errorf("初回取得がキャンセルされました: %w", err)
	}
	if payload != nil && !sub.WatchesAll() {
		if missing := missingResorts(payload, resorts); len(missing) > 0 {
			s.closeCoordinator(coord)
			return nil, model.NewResortNotFoundError(missing)
		}
	}

	if err := s.subRepo.Create(ctx, sub); err != nil {
		s.closeCoordinator(coord)
		return nil, fmt.Errorf("購読の作成に失敗しました: %w", err)
	}

	if _, err := coord.Publish(ctx, payload); err != nil {
		s.rollback(sub.ID, coord)
		return nil, model.NewSetupFailedError(err.Error())
	}

	if err := s.scheduler.Add(sub.ID, coord.run); err != nil {
		s.rollback(sub.ID, coord)
		return nil, model.NewSetupFailedError(err.Error())
	}
	s.registry.Put(coord)

	s.logger.Info("購読を作成しました",
		slog.String("subscription_id", sub.ID),
		slog.Any("resorts", sub.Resorts),
		slog.Bool("has_payload", payload != nil),
	)
	return sub, nil
}

// Restore は永続化済みの購読をすべて読み込み、ポーリングを再開する。
// 個々の購読の初回取得の失敗は起動を妨げない。
func (s *Service) Restore(ctx context.Context) (int, error) {
	subs, err := s.subRepo.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("購読一覧の取得に失敗しました: %w", err)
	}

	restored := 0
	for _, sub := range subs {
		if _, ok := s.registry.Get(sub.ID); ok {
			continue
		}
		coord := s.newCoordinator(*sub)
		if err := s.scheduler.Add(sub.ID, coord.run); err != nil {
			s.logger.Error("購読の復元に失敗しました",
				slog.String("subscription_id", sub.ID),
				slog.String("error", err.Error()),
			)
			s.closeCoordinator(coord)
			continue
		}
		s.registry.Put(coord)
		restored++

		if _, err := coord.Refresh(ctx); err != nil {
			if ctx.Err() != nil {
				return restored, ctx.Err()
			}
			s.logger.Warn("復元した購読の初回更新に失敗しました",
				slog.String("subscription_id", sub.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	s.logger.Info("購読を復元しました", slog.Int("count", restored))
	return restored, nil
}

// Delete は購読のポーリングを停止し、状態と購読を削除する。
func (s *Service) Delete(ctx context.Context, id string) error {
	if !validID(id) {
		return model.NewSubscriptionNotFoundError(id)
	}
	coord, running := s.registry.Remove(id)
	s.scheduler.Remove(id)
	if running {
		s.closeCoordinator(coord)
	}

	if err := s.stateRepo.DeleteBySubscription(ctx, id); err != nil {
		return fmt.Errorf("エンティティ状態の削除に失敗しました: %w", err)
	}
	if err := s.subRepo.Delete(ctx, id); err != nil {
		if errors.Is(err, model.ErrSubscriptionNotFound) {
			return model.NewSubscriptionNotFoundError(id)
		}
		return fmt.Errorf("購読の削除に失敗しました: %w", err)
	}

	s.logger.Info("購読を削除しました", slog.String("subscription_id", id))
	return nil
}

// List は全購読を作成日時の昇順で返す。
func (s *Service) List(ctx context.Context) ([]*model.Subscription, error) {
	subs, err := s.subRepo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("購読一覧の取得に失敗しました: %w", err)
	}
	return subs, nil
}

// Get は購読を取得する。
func (s *Service) Get(ctx context.Context, id string) (*model.Subscription, error) {
	if coord, ok := s.registry.Get(id); ok {
		sub := coord.Subscription()
		return &sub, nil
	}
	if !validID(id) {
		return nil, model.NewSubscriptionNotFoundError(id)
	}
	sub, err := s.subRepo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("購読の取得に失敗しました: %w", err)
	}
	if sub == nil {
		return nil, model.NewSubscriptionNotFoundError(id)
	}
	return sub, nil
}

// Entities は購読の最新のエンティティ状態を返す。
func (s *Service) Entities(ctx context.Context, id string) ([]model.EntityState, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	states, err := s.stateRepo.ListBySubscription(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("エンティティ状態の取得に失敗しました: %w", err)
	}
	return states, nil
}

// Stats は稼働中の購読の日次カウンタを返す。
func (s *Service) Stats(id string) (model.PollStats, error) {
	coord, ok := s.registry.Get(id)
	if !ok {
		return model.PollStats{}, model.NewSubscriptionNotFoundError(id)
	}
	return coord.Stats(), nil
}

// Refresh は稼働中の購読を即時にポーリングして状態を公開する。
func (s *Service) Refresh(ctx context.Context, id string) ([]model.EntityState, error) {
	coord, ok := s.registry.Get(id)
	if !ok {
		return nil, model.NewSubscriptionNotFoundError(id)
	}
	return coord.Refresh(ctx)
}

// Running は稼働中の購読数を返す。
func (s *Service) Running() int {
	return s.registry.Len()
}

// Shutdown はすべての購読のポーリングを停止してHTTPクライアントを解放する。
func (s *Service) Shutdown() {
	for _, coord := range s.registry.List() {
		s.registry.Remove(coord.ID())
		s.scheduler.Remove(coord.ID())
		s.closeCoordinator(coord)
	}
}

func (s *Service) newCoordinator(sub model.Subscription) *Coordinator {
	client := s.guard.NewSafeClient(s.cfg.FetchTimeout, s.cfg.FetchMaxSize)
	poller := fetch.NewPoller(sub.ID, s.cfg.FeedURL, client, s.logger, s.cfg.FetchTimeout,
		fetch.WithLocation(s.cfg.Location),
		fetch.WithMetrics(s.metrics),
		fetch.WithMaxBodySize(s.cfg.FetchMaxSize),
		fetch.WithClock(s.now),
	)

	pubOpts := []entity.Option{
		entity.WithMetrics(s.metrics),
		entity.WithLocation(s.cfg.Location),
		entity.WithClock(s.now),
	}
	if s.projector != nil {
		pubOpts = append(pubOpts, entity.WithProjector(s.projector))
	}
	if s.sanitizer != nil {
		pubOpts = append(pubOpts, entity.WithSanitizer(s.sanitizer))
	}
	publisher := entity.NewPublisher(sub.ID, sub.Resorts, s.stateRepo, s.logger, pubOpts...)

	return NewCoordinator(sub, poller, publisher, s.logger)
}

// closeCoordinator はクライアントを解放する。失敗はログのみで握りつぶす。
func (s *Service) closeCoordinator(coord *Coordinator) {
	if err := coord.Close(); err != nil {
		s.logger.Warn("HTTPクライアントの解放に失敗しました",
			slog.String("subscription_id", coord.ID()),
			slog.String("error", err.Error()),
		)
	}
}

// rollback は作成途中の購読を取り消す。
func (s *Service) rollback(id string, coord *Coordinator) {
	s.scheduler.Remove(id)
	s.closeCoordinator(coord)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.subRepo.Delete(ctx, id); err != nil && !errors.Is(err, model.ErrSubscriptionNotFound) {
		s.logger.Error("作成途中の購読の削除に失敗しました",
			slog.String("subscription_id", id),
			slog.String("error", err.Error()),
		)
	}
}

// normalizeResorts は空白を除去し、重複と空文字を取り除く。
func normalizeResorts(resorts []string) []string {
	seen := make(map[string]bool, len(resorts))
	out := make([]string, 0, len(resorts))
	for _, r := range resorts {
		r = strings.TrimSpace(r)
		if r == "" || seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	return out
}

func missingResorts(payload *model.FeedPayload, resorts []string) []string {
	var missing []string
	for _, r := range resorts {
		if payload.FindResort(r) == nil {
			missing = append(missing, r)
		}
	}
	return missing
}

// validID は購読IDがUUID形式かを判定する。
// 形式外のIDはDBに問い合わせず未検出として扱う。
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
