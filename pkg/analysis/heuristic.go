package analysis

import (
	"regexp"
	"unicode/utf8"
)

// minRelevantSnippet is the snippet length below which the fallback
// relevance check rejects an article outright.
const minRelevantSnippet = 180

var marketSignalRe = regexp.MustCompile(`(?i)` +
	`[$€£¥]\s?\d|\d+(?:[.,]\d+)?\s?(?:%|percent|bps|basis points|billion|million|trillion|bn|mln)` +
	`|\b(?:stocks?|shares?|equities|bonds?|yields?|rates?|inflation|earnings|revenue|guidance|` +
	`index|futures|crypto|bitcoin|ether|etf|fed|ecb|central bank|gdp|cpi|payrolls|oil|gold|dollar|` +
	`rally|selloff|sell-off|market|ipo|dividend)\b`)

// HeuristicRelevant is the local fallback relevance check: the snippet
// must be substantial and mention a number, currency or market term.
func HeuristicRelevant(snippet string) bool {
	if utf8.RuneCountInString(snippet) < minRelevantSnippet {
		return false
	}
	return marketSignalRe.MatchString(snippet)
}
