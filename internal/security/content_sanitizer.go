package security

import (
	"github.com/microcosm-cc/bluemonday"
)

// ContentSanitizer はスプレッドシートのテキストに含まれるHTMLをサニタイズする。
type ContentSanitizer interface {
	// Sanitize は許可したインライン要素とリンクだけを残したHTMLを返す。
	// 同一入力に対して常に同一出力を返す。
	Sanitize(rawHTML string) string
}

type contentSanitizer struct {
	policy *bluemonday.Policy
}

// NewContentSanitizer は「detalle」等の説明文向けのサニタイザーを生成する。
//   - 許可タグ: p, br, ul, ol, li, strong, em, b, i, u, a
//   - aタグはhttp/httpsの絶対URLのみ、target="_blank"とrel="noopener noreferrer"を付与
//   - 画像・スクリプト・スタイル・on*属性は除去
func NewContentSanitizer() ContentSanitizer {
	p := bluemonday.NewPolicy()

	p.AllowElements("p", "br", "ul", "ol", "li", "strong", "em", "b", "i", "u")

	p.AllowAttrs("href").OnElements("a")
	p.AllowURLSchemes("http", "https")
	p.AllowRelativeURLs(false)
	p.RequireParseableURLs(true)
	p.AddTargetBlankToFullyQualifiedLinks(true)
	p.RequireNoReferrerOnLinks(true)

	return &contentSanitizer{policy: p}
}

// Sanitize はHTMLをサニタイズする。bluemondayのPolicyは並行利用できる。
func (s *contentSanitizer) Sanitize(rawHTML string) string {
	if rawHTML == "" {
		return ""
	}
	return s.policy.Sanitize(rawHTML)
}
