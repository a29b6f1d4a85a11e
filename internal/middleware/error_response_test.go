package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/powderwatch/internal/model"
)

func TestWriteErrorResponse_WritesUnifiedFormat(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		apiErr     *model.APIError
	}{
		{"入力エラー", http.StatusBadRequest, model.NewInvalidRequestError("resortsが空です")},
		{"購読なし", http.StatusNotFound, model.NewSubscriptionNotFoundError("sub-1")},
		{"リゾートなし", http.StatusUnprocessableEntity, model.NewResortNotFoundError([]string{"Nowhere"})},
		{"セットアップ失敗", http.StatusServiceUnavailable, model.NewSetupFailedError("db down")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteErrorResponse(w, tt.statusCode, tt.apiErr)

			resp := w.Result()
			if resp.StatusCode != tt.statusCode {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.statusCode)
			}
			if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q, want %q", ct, "application/json")
			}

			var body ErrorResponseBody
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				t.Fatalf("レスポンスのデコードに失敗: %v", err)
			}
			if body.Code != tt.apiErr.Code || body.Message != tt.apiErr.Message ||
				body.Category != tt.apiErr.Category || body.Action != tt.apiErr.Action {
				t.Errorf("body = %+v, want %+v", body, *tt.apiErr)
			}
		})
	}
}

func TestWriteInternalServerError(t *testing.T) {
	w := httptest.NewRecorder()
	WriteInternalServerError(w)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("レスポンスのデコードに失敗: %v", err)
	}
	if body.Code != "INTERNAL_ERROR" || body.Category != "system" {
		t.Errorf("body = %+v", body)
	}
}
