package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/powderwatch/internal/middleware"
	"github.com/hitoshi/powderwatch/internal/model"
)

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		middleware.WriteErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeInvalidRequest, model.ErrCodeInvalidURL:
		return http.StatusBadRequest
	case model.ErrCodeSSRFBlocked:
		return http.StatusForbidden
	case model.ErrCodeSubscriptionNotFound:
		return http.StatusNotFound
	case model.ErrCodeResortNotFound:
		return http.StatusUnprocessableEntity
	case model.ErrCodeFetchFailed:
		return http.StatusBadGateway
	case model.ErrCodeSetupFailed:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
