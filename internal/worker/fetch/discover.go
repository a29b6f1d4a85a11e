package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hitoshi/powderwatch/internal/model"
)

// Discover はキャッシュヘッダーを使わずにフィードを1回だけ取得し、
// 含まれるリゾート名を出現順・重複なしで返す。
// 購読作成前の選択肢表示に使う。失敗時の既定値の扱いは呼び出し側が決める。
func Discover(ctx context.Context, client *http.Client, feedURL string, timeout time.Duration, maxBodySize int64) ([]string, error) {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if maxBodySize <= 0 {
		maxBodySize = defaultMaxBodySize
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("リクエスト作成に失敗: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエスト失敗: %w", err)
	}
	defer resp.Body.Close()

	if !IsFetchSuccess(resp.StatusCode) {
		return nil, fmt.Errorf("予期しないHTTPステータス: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("レスポンス読み取り失敗: %w", err)
	}

	payload, err := model.DecodeFeedPayload(body)
	if err != nil {
		return nil, fmt.Errorf("フィードのパースに失敗: %w", err)
	}

	return payload.ResortNames(), nil
}
