// Package analysis turns stored articles into scored, topic-grouped analyses.
package analysis

import (
	"math"
	"strings"
	"time"

	"github.com/elonfeng/marketradar/pkg/news"
	"github.com/elonfeng/marketradar/pkg/oracle"
)

// Sub-score weights. They sum to 1.
const (
	weightImpact      = 0.40
	weightReliability = 0.20
	weightNovelty     = 0.15
	weightBreadth     = 0.15
	weightRecency     = 0.10
)

const (
	// DefaultReliability is the trust given to sources missing from the table.
	DefaultReliability = 0.75
	// NoveltyWindow is how many recent topics a new one is compared against.
	NoveltyWindow = 200
	// NoveltyThreshold is the similarity at which a topic counts as already seen.
	NoveltyThreshold = 0.80

	noveltyFresh     = 0.8
	noveltyPenalized = 0.2
	breadthSaturate  = 4.0
	recencyHalfScale = 48.0 // hours
	noAssetsConf     = 0.3
)

// DefaultReliabilities is the built-in source trust table, keyed by source id.
var DefaultReliabilities = map[string]float64{
	"reuters":     0.95,
	"bloomberg":   0.95,
	"wsj":         0.90,
	"ft":          0.90,
	"cnbc":        0.85,
	"marketwatch": 0.80,
	"coindesk":    0.80,
	"yahoo":       0.75,
}

// Signals is everything the scorer looks at for one analysis.
type Signals struct {
	SourceID    string
	Assets      []oracle.AffectedAsset
	PublishedAt time.Time
	Novel       bool
}

// Score is the scorer's output with its sub-scores, kept for logging.
type Score struct {
	Importance  int     `json:"importance"`
	Confidence  float64 `json:"confidence"`
	Raw         float64 `json:"raw"`
	Impact      float64 `json:"impact"`
	Reliability float64 `json:"reliability"`
	Novelty     float64 `json:"novelty"`
	Breadth     float64 `json:"breadth"`
	Recency     float64 `json:"recency"`
}

// Scorer converts signals into a 1-5 importance and a 0-1 confidence.
type Scorer struct {
	reliability        map[string]float64
	defaultReliability float64
}

// NewScorer creates a scorer. Entries in overrides replace the built-in
// reliability of the same source id; defaultReliability <= 0 means
// DefaultReliability.
func NewScorer(overrides map[string]float64, defaultReliability float64) *Scorer {
	if defaultReliability <= 0 {
		defaultReliability = DefaultReliability
	}
	table := make(map[string]float64, len(DefaultReliabilities)+len(overrides))
	for id, r := range DefaultReliabilities {
		table[id] = r
	}
	for id, r := range overrides {
		table[strings.ToLower(id)] = clamp01(r)
	}
	return &Scorer{reliability: table, defaultReliability: clamp01(defaultReliability)}
}

// Reliability returns the static trust of a source.
func (s *Scorer) Reliability(sourceID string) float64 {
	if r, ok := s.reliability[strings.ToLower(sourceID)]; ok {
		return r
	}
	return s.defaultReliability
}

// Score computes importance and confidence as of now.
func (s *Scorer) Score(sig Signals, now time.Time) Score {
	var sc Score

	impactMax := 0
	symbols := make(map[string]bool)
	confSum := 0.0
	for _, a := range sig.Assets {
		impactMax = max(impactMax, a.Impact)
		if sym := strings.ToUpper(strings.TrimSpace(a.Symbol)); sym != "" {
			symbols[sym] = true
		}
		confSum += clamp01(a.Confidence)
	}

	sc.Impact = clamp01(float64(impactMax) / 5)
	sc.Reliability = s.Reliability(sig.SourceID)
	sc.Novelty = noveltyPenalized
	if sig.Novel {
		sc.Novelty = noveltyFresh
	}
	sc.Breadth = math.Min(1, float64(len(symbols))/breadthSaturate)

	hours := now.Sub(sig.PublishedAt).Hours()
	if hours < 0 {
		hours = 0
	}
	sc.Recency = math.Exp(-hours / recencyHalfScale)

	sc.Raw = clamp01(weightImpact*sc.Impact +
		weightReliability*sc.Reliability +
		weightNovelty*sc.Novelty +
		weightBreadth*sc.Breadth +
		weightRecency*sc.Recency)
	sc.Importance = Importance(sc.Raw)

	if len(sig.Assets) == 0 {
		sc.Confidence = noAssetsConf
	} else {
		mean := confSum / float64(len(sig.Assets))
		sc.Confidence = clamp01(0.7*mean + 0.3*sc.Reliability)
	}
	return sc
}

// Importance maps a [0,1] score onto 1-5. A zero score still yields 1.
// Products landing within float noise of an integer do not round up.
func Importance(score float64) int {
	imp := int(math.Ceil(5*clamp01(score) - 1e-9))
	return min(max(imp, 1), 5)
}

// IsNovel reports whether text is not near-identical to any of recent.
func IsNovel(text string, recent []string) bool {
	for _, r := range recent {
		if news.AtLeast(news.Similarity(text, r), NoveltyThreshold) {
			return false
		}
	}
	return true
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
