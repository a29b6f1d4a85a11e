package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/hitoshi/powderwatch/internal/middleware"
)

func TestHealth_OK(t *testing.T) {
	svc := &mockSubscriptionService{running: 2}
	w := doRequest(t, newTestRouter(t, svc, &mockPinger{}), http.MethodGet, "/health", "")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var resp healthResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("デコードに失敗: %v", err)
	}
	if resp.Status != "ok" || resp.Database != "ok" {
		t.Errorf("resp = %+v", resp)
	}
	if resp.Subscriptions == nil || *resp.Subscriptions != 2 {
		t.Errorf("subscriptions = %v, want 2", resp.Subscriptions)
	}
}

func TestHealth_DatabaseDown(t *testing.T) {
	w := doRequest(t, newTestRouter(t, &mockSubscriptionService{}, &mockPinger{err: errors.New("down")}), http.MethodGet, "/health", "")

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	w := doRequest(t, newTestRouter(t, &mockSubscriptionService{}, nil), http.MethodGet, "/metrics", "")

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestRouter_AppliesMiddleware(t *testing.T) {
	w := doRequest(t, newTestRouter(t, &mockSubscriptionService{}, nil), http.MethodGet, "/api/subscriptions", "")

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q", got)
	}
}

func TestRouter_PreflightReturns204(t *testing.T) {
	w := doRequest(t, newTestRouter(t, &mockSubscriptionService{}, nil), http.MethodOptions, "/api/subscriptions", "")

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
}

func TestRouter_SetupRateLimit(t *testing.T) {
	rl := middleware.NewRateLimiter(middleware.RateLimiterConfigPerMinute(120, 1))
	defer rl.Stop()
	router := NewRouter(&RouterDeps{
		RateLimiter:         rl,
		SubscriptionService: &mockSubscriptionService{},
	})

	if w := doRequest(t, router, http.MethodGet, "/api/resorts", ""); w.Code != http.StatusOK {
		t.Fatalf("1回目: status = %d, want %d", w.Code, http.StatusOK)
	}
	w := doRequest(t, router, http.MethodGet, "/api/resorts", "")
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("2回目: status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}
	// 一覧取得はセットアップ用の制限を受けない
	if w := doRequest(t, router, http.MethodGet, "/api/subscriptions", ""); w.Code != http.StatusOK {
		t.Errorf("一覧: status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestRouter_UnknownRoute(t *testing.T) {
	w := doRequest(t, newTestRouter(t, &mockSubscriptionService{}, nil), http.MethodGet, "/api/feeds", "")

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
	if strings.Contains(w.Body.String(), "panic") {
		t.Error("予期しないpanic")
	}
}
