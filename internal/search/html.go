package search

import (
	"io"
	"strings"

	"golang.org/x/net/html"
)

// textOf reduces an HTML fragment to its visible text with whitespace
// collapsed. Plain text passes through with entities decoded.
func textOf(fragment string) string {
	if !strings.ContainsAny(fragment, "<&") {
		return strings.Join(strings.Fields(fragment), " ")
	}

	z := html.NewTokenizer(strings.NewReader(fragment))
	var sb strings.Builder
	skip := 0
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if z.Err() == io.EOF {
				return strings.Join(strings.Fields(sb.String()), " ")
			}
			return strings.Join(strings.Fields(fragment), " ")
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			if isHidden(name) && tt == html.StartTagToken {
				skip++
			}
			if isBreak(name) {
				sb.WriteByte(' ')
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			if isHidden(name) && skip > 0 {
				skip--
			}
			if isBreak(name) {
				sb.WriteByte(' ')
			}
		case html.TextToken:
			if skip == 0 {
				sb.Write(z.Text())
			}
		}
	}
}

func isHidden(tag []byte) bool {
	switch string(tag) {
	case "script", "style":
		return true
	}
	return false
}

func isBreak(tag []byte) bool {
	switch string(tag) {
	case "br", "p", "div", "li", "tr", "td", "h1", "h2", "h3", "h4", "h5", "h6":
		return true
	}
	return false
}
