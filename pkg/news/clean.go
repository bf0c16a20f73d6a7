package news

import (
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
)

// MaxSnippetLen bounds the cleaned snippet, in runes.
const MaxSnippetLen = 300

// CleanText strips markup and control characters, collapses whitespace and
// truncates the result to MaxSnippetLen runes.
func CleanText(s string) string {
	return truncateRunes(collapse(stripMarkup(s)), MaxSnippetLen)
}

func stripMarkup(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return s
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader("<body>" + s + "</body>"))
	if err != nil {
		return s
	}
	return doc.Text()
}

func collapse(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n]))
}
