package analysis

import (
	"regexp"
	"strings"
)

var cashtagRe = regexp.MustCompile(`\$([A-Za-z]{1,5})\b`)

// tickerAliases maps names that show up in headlines to their symbols.
var tickerAliases = []struct {
	pattern *regexp.Regexp
	symbol  string
}{
	{wordRe("bitcoin", "btc"), "BTC"},
	{wordRe("ethereum", "ether", "eth"), "ETH"},
	{wordRe("solana"), "SOL"},
	{wordRe("xrp", "ripple"), "XRP"},
	{wordRe("apple"), "AAPL"},
	{wordRe("microsoft"), "MSFT"},
	{wordRe("nvidia"), "NVDA"},
	{wordRe("tesla"), "TSLA"},
	{wordRe("amazon"), "AMZN"},
	{wordRe("alphabet", "google"), "GOOGL"},
	{wordRe("meta platforms", "facebook"), "META"},
	{wordRe("s&p 500", "s&p500"), "SPX"},
	{wordRe("nasdaq"), "NDX"},
	{wordRe("dow jones"), "DJI"},
	{wordRe("gold"), "XAU"},
	{wordRe("brent", "crude oil", "wti"), "CL"},
	{wordRe("treasury", "treasuries"), "US10Y"},
	{wordRe("dollar index", "dxy"), "DXY"},
	{wordRe("euro"), "EURUSD"},
}

func wordRe(words ...string) *regexp.Regexp {
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = regexp.QuoteMeta(w)
	}
	return regexp.MustCompile(`(?i)(?:^|[^\p{L}\p{N}])(?:` + strings.Join(quoted, "|") + `)(?:$|[^\p{L}\p{N}])`)
}

// DetectTickers finds symbols mentioned in text: cashtags first, then
// well-known names, deduplicated in order of discovery.
func DetectTickers(text string) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(sym string) {
		sym = strings.ToUpper(sym)
		if !seen[sym] {
			seen[sym] = true
			out = append(out, sym)
		}
	}
	for _, m := range cashtagRe.FindAllStringSubmatch(text, -1) {
		add(m[1])
	}
	for _, alias := range tickerAliases {
		if alias.pattern.MatchString(text) {
			add(alias.symbol)
		}
	}
	return out
}

// mergeTickers returns the oracle's asset symbols followed by any locally
// detected ones it missed.
func mergeTickers(assetSymbols, detected []string) []string {
	out := make([]string, 0, len(assetSymbols)+len(detected))
	seen := make(map[string]bool)
	for _, list := range [][]string{assetSymbols, detected} {
		for _, s := range list {
			s = strings.ToUpper(strings.TrimSpace(s))
			if s == "" || seen[s] {
				continue
			}
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
