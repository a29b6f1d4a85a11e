package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/hitoshi/powderwatch/internal/middleware"
	"github.com/hitoshi/powderwatch/internal/model"
)

const maxRequestBodySize = 64 * 1024

var validate = validator.New()

// SubscriptionServiceInterface は購読ハンドラーが必要とするサービスインターフェース。
type SubscriptionServiceInterface interface {
	// Discover は選択可能なリゾート名を返す。
	Discover(ctx context.Context) []string
	// Create は購読を作成して初回の状態を公開する。
	Create(ctx context.Context, title string, resorts []string) (*model.Subscription, error)
	// List は全購読を返す。
	List(ctx context.Context) ([]*model.Subscription, error)
	// Get は購読を返す。
	Get(ctx context.Context, id string) (*model.Subscription, error)
	// Delete は購読と状態を削除する。
	Delete(ctx context.Context, id string) error
	// Entities は購読の最新のエンティティ状態を返す。
	Entities(ctx context.Context, id string) ([]model.EntityState, error)
	// Stats は稼働中の購読の日次カウンタを返す。
	Stats(id string) (model.PollStats, error)
	// Refresh は即時にポーリングして状態を公開する。
	Refresh(ctx context.Context, id string) ([]model.EntityState, error)
}

// SubscriptionHandler は購読管理のHTTPハンドラー。
type SubscriptionHandler struct {
	service SubscriptionServiceInterface
}

// NewSubscriptionHandler はSubscriptionHandlerを生成する。
func NewSubscriptionHandler(service SubscriptionServiceInterface) *SubscriptionHandler {
	return &SubscriptionHandler{
		service: service,
	}
}

// createSubscriptionRequest は購読作成リクエストのボディ。
type createSubscriptionRequest struct {
	Title   string   `json:"title" validate:"max=255"`
	Resorts []string `json:"resorts" validate:"required,min=1,max=100,dive,required,max=255"`
}

// subscriptionResponse は購読情報のAPIレスポンス。
type subscriptionResponse struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Resorts   []string  `json:"resorts"`
	CreatedAt time.Time `json:"created_at"`
}

// resortsResponse はリゾート選択肢のAPIレスポンス。
type resortsResponse struct {
	Resorts []string `json:"resorts"`
}

// entitiesResponse はエンティティ状態一覧のAPIレスポンス。
type entitiesResponse struct {
	SubscriptionID string              `json:"subscription_id"`
	Entities       []model.EntityState `json:"entities"`
}

func toSubscriptionResponse(sub *model.Subscription) subscriptionResponse {
	resorts := sub.Resorts
	if resorts == nil {
		resorts = []string{}
	}
	return subscriptionResponse{
		ID:        sub.ID,
		Title:     sub.Title,
		Resorts:   resorts,
		CreatedAt: sub.CreatedAt,
	}
}

// ListResorts はフィードに含まれるリゾート名を返す。
// GET /api/resorts
func (h *SubscriptionHandler) ListResorts(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, resortsResponse{Resorts: h.service.Discover(r.Context())})
}

// CreateSubscription は購読を作成する。
// POST /api/subscriptions
func (h *SubscriptionHandler) CreateSubscription(w http.ResponseWriter, r *http.Request) {
	var req createSubscriptionRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     model.ErrCodeInvalidRequest,
			Message:  "リクエストボディの解析に失敗しました。",
			Category: "validation",
			Action:   "正しいJSON形式でリクエストしてください。",
		})
		return
	}
	if err := validate.Struct(req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError(describeValidationError(err)))
		return
	}

	sub, err := h.service.Create(r.Context(), strings.TrimSpace(req.Title), req.Resorts)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Location", "/api/subscriptions/"+sub.ID)
	middleware.WriteJSON(w, http.StatusCreated, toSubscriptionResponse(sub))
}

// ListSubscriptions は購読一覧を取得する。
// GET /api/subscriptions
func (h *SubscriptionHandler) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	subs, err := h.service.List(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]subscriptionResponse, 0, len(subs))
	for _, sub := range subs {
		resp = append(resp, toSubscriptionResponse(sub))
	}
	middleware.WriteJSON(w, http.StatusOK, resp)
}

// GetSubscription は購読を取得する。
// GET /api/subscriptions/:id
func (h *SubscriptionHandler) GetSubscription(w http.ResponseWriter, r *http.Request) {
	sub, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, toSubscriptionResponse(sub))
}

// DeleteSubscription は購読を削除する。
// DELETE /api/subscriptions/:id
func (h *SubscriptionHandler) DeleteSubscription(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListEntities は購読のエンティティ状態を返す。
// GET /api/subscriptions/:id/entities
func (h *SubscriptionHandler) ListEntities(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	states, err := h.service.Entities(r.Context(), id)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, entitiesResponse{SubscriptionID: id, Entities: nonNil(states)})
}

// GetStats は購読の日次ポーリング統計を返す。
// GET /api/subscriptions/:id/stats
func (h *SubscriptionHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, stats)
}

// Refresh は購読を即時にポーリングし、公開した状態を返す。
// POST /api/subscriptions/:id/refresh
func (h *SubscriptionHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	states, err := h.service.Refresh(r.Context(), id)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, entitiesResponse{SubscriptionID: id, Entities: nonNil(states)})
}

// describeValidationError は検証エラーを項目名とタグの一覧に変換する。
func describeValidationError(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s(%s)", fe.Namespace(), fe.Tag()))
	}
	return strings.Join(parts, ", ")
}

func nonNil(states []model.EntityState) []model.EntityState {
	if states == nil {
		return []model.EntityState{}
	}
	return states
}
