package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/hitoshi/powderwatch/internal/metrics"
	"github.com/hitoshi/powderwatch/internal/model"
)

const (
	defaultTimeout     = 10 * time.Second
	defaultMaxBodySize = 5 * 1024 * 1024
	userAgent          = "Powderwatch/1.0"
)

// SSRFValidator はSSRF検証のインターフェース。
type SSRFValidator interface {
	ValidateURL(rawURL string) error
	NewSafeClient(timeout time.Duration, maxResponseSize int64) *http.Client
}

// FetchState はポーラーが保持する状態。Pollerのみが更新する。
type FetchState struct {
	ETag           string
	LastModified   string
	Payload        *model.FeedPayload
	ResetDate      string
	UpdatesToday   int
	NoUpdatesToday int
	LastPolledAt   time.Time
}

// Poller は1つの購読に対するフィードのポーリングとキャッシュを行う。
// HEADプローブでETag/Last-Modifiedを比較し、変更がある場合のみGETする。
// 失敗時は最後に取得できたペイロードを返す。
type Poller struct {
	mu             sync.Mutex
	subscriptionID string
	feedURL        string
	client         *http.Client
	logger         *slog.Logger
	metrics        metrics.MetricsCollector
	timeout        time.Duration
	maxBodySize    int64
	now            func() time.Time
	location       *time.Location
	state          FetchState
}

// Option はPollerの設定オプション。
type Option func(*Poller)

// WithClock は現在時刻の取得関数を差し替える。
func WithClock(now func() time.Time) Option {
	return func(p *Poller) {
		p.now = now
	}
}

// WithLocation は日次リセットの判定に使うタイムゾーンを設定する。
func WithLocation(loc *time.Location) Option {
	return func(p *Poller) {
		if loc != nil {
			p.location = loc
		}
	}
}

// WithMetrics はメトリクス収集を設定する。
func WithMetrics(m metrics.MetricsCollector) Option {
	return func(p *Poller) {
		if m != nil {
			p.metrics = m
		}
	}
}

// WithMaxBodySize はレスポンスボディの最大サイズを設定する。
func WithMaxBodySize(n int64) Option {
	return func(p *Poller) {
		if n > 0 {
			p.maxBodySize = n
		}
	}
}

// NewPoller はPollerの新しいインスタンスを生成する。
// clientは購読ごとに専用のものを渡し、Closeで解放する。
// timeoutが0以下の場合はデフォルト値10秒を使用する。
func NewPoller(
	subscriptionID string,
	feedURL string,
	client *http.Client,
	logger *slog.Logger,
	timeout time.Duration,
	opts ...Option,
) *Poller {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if client == nil {
		client = &http.Client{}
	}
	p := &Poller{
		subscriptionID: subscriptionID,
		feedURL:        feedURL,
		client:         client,
		logger:         logger,
		metrics:        metrics.Nop{},
		timeout:        timeout,
		maxBodySize:    defaultMaxBodySize,
		now:            time.Now,
		location:       time.Local,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Poll はフィードをポーリングし、利用可能な最新のペイロードを返す。
// フィード側の失敗はエラーにせず前回のペイロードを返す。
// エラーを返すのはctxがキャンセルされた場合のみ。
func (p *Poller) Poll(ctx context.Context) (*model.FeedPayload, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return p.state.Payload, err
	}

	start := p.now()
	p.rollover(start)
	p.state.LastPolledAt = start
	defer func() {
		p.metrics.RecordFetchLatency(p.now().Sub(start))
	}()

	// HEADプローブで変更有無を確認
	changed, err := p.probe(ctx)
	if err != nil {
		return p.state.Payload, err
	}
	if !changed {
		p.state.NoUpdatesToday++
		return p.state.Payload, nil
	}

	// 変更あり（または初回）: 本文を取得
	p.state.UpdatesToday++
	p.metrics.RecordPollUpdated(p.subscriptionID)

	payload, etag, lastModified, err := p.fetch(ctx)
	if err != nil {
		return p.state.Payload, err
	}
	if payload == nil {
		return p.state.Payload, nil
	}

	p.state.ETag = etag
	p.state.LastModified = lastModified
	p.state.Payload = payload

	p.logger.Info("フィードを更新しました",
		slog.String("subscription_id", p.subscriptionID),
		slog.Int("resort_count", len(payload.Resorts)),
		slog.Int("updates_today", p.state.UpdatesToday),
		slog.Float64("duration_ms", float64(p.now().Sub(start).Milliseconds())),
	)

	return payload, nil
}

// rollover は日付が変わっていれば日次カウンタをリセットする。
func (p *Poller) rollover(now time.Time) {
	today := now.In(p.location).Format(time.DateOnly)
	if p.state.ResetDate != today {
		p.state.ResetDate = today
		p.state.UpdatesToday = 0
		p.state.NoUpdatesToday = 0
	}
}

// probe はHEADリクエストで変更有無を判定する。
// ソフト失敗は変更なしとして扱い、エラーはキャンセル時のみ返す。
func (p *Poller) probe(ctx context.Context) (bool, error) {
	reqCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodHead, p.feedURL, nil)
	if err != nil {
		p.softFailure(FailureTransport, 0, fmt.Errorf("リクエスト作成に失敗: %w", err))
		return false, nil
	}
	req.Header.Set("User-Agent", userAgent)
	if p.state.ETag != "" {
		req.Header.Set("If-None-Match", p.state.ETag)
	}
	if p.state.LastModified != "" {
		req.Header.Set("If-Modified-Since", p.state.LastModified)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		if cerr := p.cancelled(ctx); cerr != nil {
			return false, cerr
		}
		p.softFailure(FailureTransport, 0, err)
		return false, nil
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	p.metrics.RecordHTTPStatus(http.MethodHead, resp.StatusCode)

	switch ClassifyProbeStatus(resp.StatusCode) {
	case ProbeNotModified:
		p.unchanged(resp.StatusCode)
		return false, nil
	case ProbeFailed:
		p.softFailure(FailureProbeStatus, resp.StatusCode, fmt.Errorf("HEADリクエストが失敗しました: %d", resp.StatusCode))
		return false, nil
	}

	if HeadersMatch(p.state.ETag, p.state.LastModified, resp.Header.Get("ETag"), resp.Header.Get("Last-Modified")) {
		p.unchanged(resp.StatusCode)
		return false, nil
	}
	return true, nil
}

// fetch はGETリクエストで本文を取得してパースする。
// ソフト失敗時はnilペイロードを返す。エラーはキャンセル時のみ返す。
func (p *Poller) fetch(ctx context.Context) (*model.FeedPayload, string, string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, p.feedURL, nil)
	if err != nil {
		p.softFailure(FailureTransport, 0, fmt.Errorf("リクエスト作成に失敗: %w", err))
		return nil, "", "", nil
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		if cerr := p.cancelled(ctx); cerr != nil {
			return nil, "", "", cerr
		}
		p.softFailure(FailureTransport, 0, err)
		return nil, "", "", nil
	}
	defer resp.Body.Close()

	p.metrics.RecordHTTPStatus(http.MethodGet, resp.StatusCode)

	if !IsFetchSuccess(resp.StatusCode) {
		p.softFailure(FailureFetchStatus, resp.StatusCode, fmt.Errorf("GETリクエストが失敗しました: %d", resp.StatusCode))
		return nil, "", "", nil
	}

	// レスポンスボディを読み込み（最大サイズ制限付き）
	body, err := io.ReadAll(io.LimitReader(resp.Body, p.maxBodySize))
	if err != nil {
		if cerr := p.cancelled(ctx); cerr != nil {
			return nil, "", "", cerr
		}
		p.softFailure(FailureTransport, resp.StatusCode, fmt.Errorf("レスポンス読み取り失敗: %w", err))
		return nil, "", "", nil
	}

	// パース失敗時は保存済みヘッダーを維持し、次回も同じ比較で再取得する
	payload, err := model.DecodeFeedPayload(body)
	if err != nil {
		p.softFailure(FailureMalformedBody, resp.StatusCode, err)
		return nil, "", "", nil
	}

	return payload, resp.Header.Get("ETag"), resp.Header.Get("Last-Modified"), nil
}

// cancelled は親コンテキストが終了していればそのエラーを返す。
// リクエスト単位のタイムアウトはキャンセルではなく転送エラーとして扱う。
func (p *Poller) cancelled(ctx context.Context) error {
	err := ctx.Err()
	if err == nil {
		return nil
	}
	p.logger.Info("ポーリングがキャンセルされました",
		slog.String("subscription_id", p.subscriptionID),
		slog.String("failure_class", string(FailureCancelled)),
		slog.String("error", err.Error()),
	)
	return err
}

func (p *Poller) unchanged(statusCode int) {
	p.metrics.RecordPollUnchanged(p.subscriptionID)
	p.logger.Debug("フィードは未変更です。キャッシュを使用します",
		slog.String("subscription_id", p.subscriptionID),
		slog.Int("http_status", statusCode),
	)
}

func (p *Poller) softFailure(class FailureClass, statusCode int, err error) {
	p.metrics.RecordPollFailure(p.subscriptionID, string(class))

	attrs := []any{
		slog.String("subscription_id", p.subscriptionID),
		slog.String("feed_url", p.feedURL),
		slog.String("failure_class", string(class)),
		slog.String("error", err.Error()),
	}
	if statusCode != 0 {
		attrs = append(attrs, slog.Int("http_status", statusCode))
	}
	var timeoutErr interface{ Timeout() bool }
	if errors.As(err, &timeoutErr) && timeoutErr.Timeout() {
		attrs = append(attrs, slog.Bool("timeout", true))
	}
	p.logger.Error("フィードのポーリングに失敗しました。前回のデータを使用します", attrs...)
}

// Payload は最後に取得できたペイロードを返す。未取得の場合はnil。
func (p *Poller) Payload() *model.FeedPayload {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.Payload
}

// Stats は日次カウンタのスナップショットを返す。
func (p *Poller) Stats() model.PollStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return model.PollStats{
		UpdatesToday:   p.state.UpdatesToday,
		NoUpdatesToday: p.state.NoUpdatesToday,
		ResetDate:      p.state.ResetDate,
		LastPolledAt:   p.state.LastPolledAt,
		ETag:           p.state.ETag,
		LastModified:   p.state.LastModified,
		HasPayload:     p.state.Payload != nil,
	}
}

// Close は購読専用のHTTPクライアントが保持するアイドル接続を解放する。
func (p *Poller) Close() error {
	p.client.CloseIdleConnections()
	return nil
}
