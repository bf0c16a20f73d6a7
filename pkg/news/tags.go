package news

import (
	"regexp"
	"strings"
)

// Category is a tag label with the keywords that select it.
type Category struct {
	Label    string
	Keywords []string
}

// DefaultCategories is the fixed category table used for tagging.
var DefaultCategories = []Category{
	{"crypto", []string{"crypto", "cryptocurrency", "bitcoin", "btc", "ethereum", "eth", "solana", "stablecoin", "blockchain", "defi", "token", "altcoin"}},
	{"equities", []string{"stock", "stocks", "shares", "equity", "equities", "nasdaq", "s&p 500", "dow jones", "nyse", "ipo", "wall street"}},
	{"etf", []string{"etf", "etfs", "exchange-traded fund", "index fund"}},
	{"bonds", []string{"bond", "bonds", "treasury", "treasuries", "yield", "yields", "gilt", "gilts", "bund", "credit spread"}},
	{"macro", []string{"inflation", "cpi", "gdp", "unemployment", "payrolls", "recession", "central bank", "interest rate", "rates", "fed", "ecb", "boj", "fomc", "tariff", "tariffs"}},
	{"earnings", []string{"earnings", "revenue", "profit", "quarterly results", "eps", "guidance", "outlook"}},
	{"ai", []string{"ai", "artificial intelligence", "machine learning", "llm", "chatgpt", "openai", "generative ai", "nvidia"}},
	{"energy", []string{"oil", "crude", "brent", "wti", "opec", "natural gas", "lng", "energy", "renewable", "solar"}},
	{"banking", []string{"bank", "banks", "banking", "lender", "lenders", "deposit", "deposits", "jpmorgan", "goldman sachs", "hsbc"}},
}

type compiledCategory struct {
	label string
	re    *regexp.Regexp
}

// Tagger assigns category labels by case-insensitive, word-bounded keyword match.
type Tagger struct {
	categories []compiledCategory
}

// NewTagger compiles the category table. Nil uses DefaultCategories.
func NewTagger(categories []Category) *Tagger {
	if categories == nil {
		categories = DefaultCategories
	}
	t := &Tagger{}
	for _, c := range categories {
		if len(c.Keywords) == 0 {
			continue
		}
		alts := make([]string, len(c.Keywords))
		for i, kw := range c.Keywords {
			alts[i] = regexp.QuoteMeta(strings.ToLower(kw))
		}
		// \b does not fire next to symbols like "&", so boundaries are spelled out.
		pattern := `(?i)(?:^|[^\p{L}\p{N}])(?:` + strings.Join(alts, "|") + `)(?:$|[^\p{L}\p{N}])`
		t.categories = append(t.categories, compiledCategory{
			label: c.Label,
			re:    regexp.MustCompile(pattern),
		})
	}
	return t
}

// Tags returns the deduplicated labels matching text, in table order.
func (t *Tagger) Tags(text string) []string {
	seen := make(map[string]bool)
	tags := []string{}
	for _, c := range t.categories {
		if seen[c.label] {
			continue
		}
		if c.re.MatchString(text) {
			seen[c.label] = true
			tags = append(tags, c.label)
		}
	}
	return tags
}
