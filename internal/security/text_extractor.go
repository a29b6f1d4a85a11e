package security

import (
	"strings"

	"golang.org/x/net/html"
)

// blockTags は改行として扱うタグ。
var blockTags = map[string]bool{
	"br": true, "p": true, "div": true, "li": true,
	"ul": true, "ol": true, "tr": true, "td": true,
	"h1": true, "h2": true, "h3": true, "h4": true,
}

// ExtractText はHTML断片から表示用のプレーンテキストを取り出す。
// タグを含まない文字列は改行や空白も含めてそのまま返す。
// script/style要素の中身は捨て、ブロックタグは改行にする。
// 各行内の連続する空白は1つにまとめ、空行は除く。
func ExtractText(s string) string {
	if !strings.Contains(s, "<") {
		return s
	}

	var b strings.Builder
	tokenizer := html.NewTokenizer(strings.NewReader(s))
	skip := 0

	for {
		tt := tokenizer.Next()
		switch tt {
		case html.ErrorToken:
			return joinLines(b.String())

		case html.TextToken:
			if skip == 0 {
				// HTML内の改行は空白と同じ扱い
				b.WriteString(strings.Map(func(r rune) rune {
					if r == '\n' || r == '\r' || r == '\t' {
						return ' '
					}
					return r
				}, string(tokenizer.Text())))
			}

		case html.StartTagToken, html.SelfClosingTagToken:
			tn, _ := tokenizer.TagName()
			name := string(tn)
			if (name == "script" || name == "style") && tt == html.StartTagToken {
				skip++
				continue
			}
			if blockTags[name] {
				b.WriteByte('\n')
			}

		case html.EndTagToken:
			tn, _ := tokenizer.TagName()
			name := string(tn)
			if (name == "script" || name == "style") && skip > 0 {
				skip--
				continue
			}
			if blockTags[name] {
				b.WriteByte('\n')
			}
		}
	}
}

func joinLines(s string) string {
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}
