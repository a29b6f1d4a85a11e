package fetch

import "net/http"

// FailureClass はポーリング失敗の分類。
// FailureCancelled 以外はソフト失敗として前回のペイロードを返す。
type FailureClass string

const (
	// FailureTransport はタイムアウトや接続失敗。
	FailureTransport FailureClass = "transport"
	// FailureProbeStatus はHEADプローブの非成功ステータス。
	FailureProbeStatus FailureClass = "probe_status"
	// FailureFetchStatus はGETの非成功ステータス。
	FailureFetchStatus FailureClass = "fetch_status"
	// FailureMalformedBody はJSONとして解釈できない本文。
	FailureMalformedBody FailureClass = "malformed_body"
	// FailureCancelled は呼び出し元によるキャンセル。呼び出し元へ伝播する。
	FailureCancelled FailureClass = "cancelled"
)

// Soft はフォールバックで吸収する失敗かどうかを返す。
func (c FailureClass) Soft() bool {
	return c != FailureCancelled
}

// ProbeResult はHEADプローブのステータス分類。
type ProbeResult int

const (
	// ProbeOK は成功（2xx）。ヘッダー比較に進む。
	ProbeOK ProbeResult = iota
	// ProbeNotModified は条件付きヘッダーに対する304。
	ProbeNotModified
	// ProbeFailed はそれ以外のステータス。
	ProbeFailed
)

// ClassifyProbeStatus はHEADプローブのステータスコードを分類する。
func ClassifyProbeStatus(statusCode int) ProbeResult {
	switch {
	case statusCode == http.StatusNotModified:
		return ProbeNotModified
	case statusCode >= 200 && statusCode < 300:
		return ProbeOK
	default:
		return ProbeFailed
	}
}

// IsFetchSuccess はGETのステータスコードが本文の解析に進めるかを返す。
func IsFetchSuccess(statusCode int) bool {
	return statusCode >= 200 && statusCode < 300
}

// HeadersMatch は保存済みのETag/Last-Modifiedと応答ヘッダーを比較する。
// どちらかが空でなく一致すれば変更なしとみなす。
func HeadersMatch(storedETag, storedLastModified, etag, lastModified string) bool {
	if etag != "" && etag == storedETag {
		return true
	}
	if lastModified != "" && lastModified == storedLastModified {
		return true
	}
	return false
}
