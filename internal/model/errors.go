// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, feed, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidRequest       = "INVALID_REQUEST"
	ErrCodeInvalidURL           = "INVALID_URL"
	ErrCodeSSRFBlocked          = "SSRF_BLOCKED"
	ErrCodeFetchFailed          = "FETCH_FAILED"
	ErrCodeSubscriptionNotFound = "SUBSCRIPTION_NOT_FOUND"
	ErrCodeResortNotFound       = "RESORT_NOT_FOUND"
	ErrCodeSetupFailed          = "SETUP_FAILED"
)

// NewInvalidRequestError はリクエスト検証エラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewInvalidURLError は無効なURLエラーを生成する。
func NewInvalidURLError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidURL,
		Message:  fmt.Sprintf("無効なURLです: %s", reason),
		Category: "validation",
		Action:   "正しいURL形式（http:// または https:// で始まるURL）を設定してください。",
	}
}

// NewSSRFBlockedError はSSRFブロックエラーを生成する。
func NewSSRFBlockedError() *APIError {
	return &APIError{
		Code:     ErrCodeSSRFBlocked,
		Message:  "セキュリティポリシーにより、指定されたURLへのアクセスがブロックされました。",
		Category: "validation",
		Action:   "公開されているフィードのURLを設定するか、FEED_ALLOW_PRIVATE を有効にしてください。",
	}
}

// NewFetchFailedError はフェッチ失敗エラーを生成する。
func NewFetchFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeFetchFailed,
		Message:  fmt.Sprintf("フィードの取得に失敗しました: %s", reason),
		Category: "feed",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewSubscriptionNotFoundError は購読が見つからない場合のエラーを生成する。
func NewSubscriptionNotFoundError(subscriptionID string) *APIError {
	return &APIError{
		Code:     ErrCodeSubscriptionNotFound,
		Message:  fmt.Sprintf("指定された購読が見つかりません: %s", subscriptionID),
		Category: "feed",
		Action:   "購読IDを確認してください。",
	}
}

// NewResortNotFoundError は指定リゾートがフィードに存在しない場合のエラーを生成する。
func NewResortNotFoundError(names []string) *APIError {
	return &APIError{
		Code:     ErrCodeResortNotFound,
		Message:  fmt.Sprintf("フィードに存在しないリゾートが指定されました: %v", names),
		Category: "validation",
		Action:   "GET /api/resorts で取得できるリゾート名を指定してください。",
	}
}

// NewSetupFailedError は購読のセットアップに失敗した場合のエラーを生成する。
func NewSetupFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeSetupFailed,
		Message:  fmt.Sprintf("購読のセットアップに失敗しました: %s", reason),
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// ErrSubscriptionNotFound は購読が存在しないことを示すセンチネルエラー。
var ErrSubscriptionNotFound = errors.New("subscription not found")
