package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/powderwatch/internal/middleware"
)

// Pinger はデータベースの疎通確認を行う。*sql.DBが満たす。
type Pinger interface {
	PingContext(ctx context.Context) error
}

// RunningCounter は稼働中の購読数を返す。
type RunningCounter interface {
	Running() int
}

// HealthHandler はヘルスチェックのHTTPハンドラー。
type HealthHandler struct {
	db      Pinger
	running RunningCounter
	timeout time.Duration
}

// NewHealthHandler はHealthHandlerを生成する。runningはnilでもよい。
func NewHealthHandler(db Pinger, running RunningCounter) *HealthHandler {
	return &HealthHandler{db: db, running: running, timeout: 2 * time.Second}
}

type healthResponse struct {
	Status        string `json:"status"`
	Database      string `json:"database"`
	Subscriptions *int   `json:"subscriptions,omitempty"`
}

// Health はDB疎通を確認し、失敗時は503を返す。
// GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Database: "ok"}
	status := http.StatusOK

	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
		defer cancel()
		if err := h.db.PingContext(ctx); err != nil {
			slog.Warn("health check failed", slog.String("error", err.Error()))
			resp.Status = "unavailable"
			resp.Database = "unreachable"
			status = http.StatusServiceUnavailable
		}
	}
	if h.running != nil {
		n := h.running.Running()
		resp.Subscriptions = &n
	}

	middleware.WriteJSON(w, status, resp)
}
