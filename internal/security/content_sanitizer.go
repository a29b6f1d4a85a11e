package security

import (
	"net/url"

	"github.com/microcosm-cc/bluemonday"
)

// ContentSanitizerService はフィード由来のHTML断片をAPI応答用に無害化する。
// スノーレポートのコメント欄などリッチテキストを含む属性に使用する。
type ContentSanitizerService interface {
	// Sanitize は許可リスト外のタグと属性を除去した安全なHTMLを返す。
	// 同一入力に対して常に同一出力を返す。
	Sanitize(rawHTML string) string
}

type contentSanitizer struct {
	policy *bluemonday.Policy
}

// NewContentSanitizer はContentSanitizerServiceの新しいインスタンスを生成する。
// 許可タグ: p, br, ul, ol, li, strong, em, b, i, a, img
// aタグにはtarget="_blank"とrel="noopener noreferrer"を付与し、
// imgのsrcはhttpsのみ許可する。
func NewContentSanitizer() *contentSanitizer {
	p := bluemonday.NewPolicy()

	p.AllowElements(
		"p", "br", "ul", "ol", "li",
		"strong", "em", "b", "i",
	)

	p.AllowAttrs("href").OnElements("a")
	p.AllowRelativeURLs(false)
	p.AddTargetBlankToFullyQualifiedLinks(true)
	p.RequireNoReferrerOnLinks(true)

	p.AllowAttrs("src", "alt").OnElements("img")
	p.AllowURLSchemeWithCustomPolicy("https", func(u *url.URL) bool {
		return true
	})

	return &contentSanitizer{
		policy: p,
	}
}

// Sanitize はHTML断片をサニタイズして安全なHTMLを返す。
func (s *contentSanitizer) Sanitize(rawHTML string) string {
	return s.policy.Sanitize(rawHTML)
}
