package analysis

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/elonfeng/marketradar/internal/store"
	"github.com/elonfeng/marketradar/pkg/news"
	"github.com/elonfeng/marketradar/pkg/oracle"
)

type fakeOracle struct {
	relevance func(news.Article) (oracle.Relevance, error)
	analyze   func(news.Article) (oracle.Assessment, error)
	calls     atomic.Int32
}

func (f *fakeOracle) ClassifyRelevance(_ context.Context, a news.Article) (oracle.Relevance, error) {
	f.calls.Add(1)
	if f.relevance == nil {
		return oracle.Relevance{Relevant: true}, nil
	}
	return f.relevance(a)
}

func (f *fakeOracle) Analyze(_ context.Context, a news.Article) (oracle.Assessment, error) {
	f.calls.Add(1)
	return f.analyze(a)
}

func newTestClassifier(t *testing.T, o oracle.Oracle) (*Classifier, *store.SQLiteStore) {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	c := NewClassifier(s, o, NewScorer(nil, 0), nil)
	c.now = func() time.Time { return now }
	var n atomic.Int32
	c.newID = func() string { return fmt.Sprintf("an-%d", n.Add(1)) }
	return c, s
}

func storeArticle(t *testing.T, s store.Store, id, url, sourceID, sourceName, title, snippet string) news.Article {
	t.Helper()
	a := news.Article{
		ID: id, URL: url, Title: title, Snippet: snippet, PublishedAt: now.Add(-time.Hour),
		SourceID: sourceID, SourceName: sourceName, Tags: []string{"crypto"},
	}
	ok, err := s.InsertArticle(context.Background(), &a)
	if err != nil || !ok {
		t.Fatalf("InsertArticle(%s) = %v, %v", id, ok, err)
	}
	return a
}

func btcAssessment(impact int, sources ...string) oracle.Assessment {
	return oracle.Assessment{
		Relevant:     true,
		PrimaryTopic: "Bitcoin rally",
		AffectedAssets: []oracle.AffectedAsset{{
			Symbol: "btc", AssetType: "Crypto", Direction: "UP", Impact: impact, Horizon: "swing", Confidence: 0.8,
		}},
		MacroTags: []string{"etf flows"},
		Notes:     "Spot ETF demand keeps lifting bitcoin.",
		Sources:   sources,
	}
}

func TestClassifySameEventAcrossHostsMerges(t *testing.T) {
	const (
		title   = "Bitcoin jumps past $70,000 as ETF inflows accelerate"
		snippet = "Bitcoin rose sharply on Tuesday. Variant 237"
	)
	o := &fakeOracle{analyze: func(a news.Article) (oracle.Assessment, error) {
		if a.SourceID == "coindesk" {
			return btcAssessment(3), nil
		}
		return btcAssessment(5, "Bloomberg"), nil
	}}
	c, s := newTestClassifier(t, o)
	ctx := context.Background()

	first := storeArticle(t, s, "a1", "https://www.coindesk.com/btc", "coindesk", "CoinDesk", title, snippet)
	second := storeArticle(t, s, "a2", "https://www.reuters.com/btc", "reuters", "Reuters", title, snippet)

	r1, err := c.Classify(ctx, first)
	if err != nil {
		t.Fatal(err)
	}
	r2, err := c.Classify(ctx, second)
	if err != nil {
		t.Fatal(err)
	}
	if r1.Outcome != OutcomeAnalyzed || r2.Outcome != OutcomeAnalyzed {
		t.Fatalf("outcomes = %s, %s", r1.Outcome, r2.Outcome)
	}
	if r1.Analysis.TopicKey != "BTC_114" || r2.Analysis.TopicKey != "BTC_114" {
		t.Fatalf("topic keys = %s, %s; want BTC_114", r1.Analysis.TopicKey, r2.Analysis.TopicKey)
	}

	page, err := s.ListAnalyses(ctx, store.AnalysisListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Items) != 1 {
		t.Fatalf("analyses = %d, want 1", len(page.Items))
	}
	got := page.Items[0]
	if want := max(r1.Score.Importance, r2.Score.Importance); got.Importance != want {
		t.Errorf("importance = %d, want %d", got.Importance, want)
	}
	for _, name := range []string{"CoinDesk", "Reuters", "Bloomberg"} {
		if !slices.Contains(got.Sources, name) {
			t.Errorf("sources %v missing %s", got.Sources, name)
		}
	}
	if got.ID != r1.Analysis.ID {
		t.Errorf("merged id = %s, want first id %s", got.ID, r1.Analysis.ID)
	}
	if got.Tickers[0] != "BTC" {
		t.Errorf("tickers = %v, want BTC first", got.Tickers)
	}
}

func TestClassifySkipsProcessedArticles(t *testing.T) {
	o := &fakeOracle{analyze: func(news.Article) (oracle.Assessment, error) { return btcAssessment(4), nil }}
	c, s := newTestClassifier(t, o)
	ctx := context.Background()

	a := storeArticle(t, s, "a1", "https://example.com/1", "x", "X", "Bitcoin ETF approved", "snippet")
	if r, err := c.Classify(ctx, a); err != nil || r.Outcome != OutcomeAnalyzed {
		t.Fatalf("first = %v, %v", r.Outcome, err)
	}
	calls := o.calls.Load()

	r, err := c.Classify(ctx, a)
	if err != nil {
		t.Fatal(err)
	}
	if r.Outcome != OutcomeSkipped {
		t.Errorf("second outcome = %s, want skipped", r.Outcome)
	}
	if o.calls.Load() != calls {
		t.Error("skipped article should not reach the oracle")
	}
}

func TestClassifyDiscards(t *testing.T) {
	ctx := context.Background()

	t.Run("oracle says irrelevant", func(t *testing.T) {
		o := &fakeOracle{relevance: func(news.Article) (oracle.Relevance, error) {
			return oracle.Relevance{Relevant: false, Reason: "celebrity gossip"}, nil
		}}
		c, s := newTestClassifier(t, o)
		a := storeArticle(t, s, "a1", "https://example.com/1", "x", "X", "Star weds", "snippet")
		r, err := c.Classify(ctx, a)
		if err != nil {
			t.Fatal(err)
		}
		if r.Outcome != OutcomeDiscarded || r.Reason != "celebrity gossip" {
			t.Errorf("result = %+v", r)
		}
		if done, _ := s.IsProcessed(ctx, "a1"); !done {
			t.Error("discarded article should be recorded")
		}
	})

	t.Run("assessment says irrelevant", func(t *testing.T) {
		o := &fakeOracle{analyze: func(news.Article) (oracle.Assessment, error) {
			return oracle.Assessment{Relevant: false, Reason: "no market angle"}, nil
		}}
		c, s := newTestClassifier(t, o)
		a := storeArticle(t, s, "a1", "https://example.com/1", "x", "X", "Local fair opens", "snippet")
		r, err := c.Classify(ctx, a)
		if err != nil {
			t.Fatal(err)
		}
		if r.Outcome != OutcomeDiscarded {
			t.Errorf("outcome = %s, want discarded", r.Outcome)
		}
	})

	t.Run("heuristic rejects short snippet", func(t *testing.T) {
		c, s := newTestClassifier(t, nil)
		a := storeArticle(t, s, "a1", "https://example.com/1", "x", "X", "Stocks rally", "Stocks up 2%.")
		r, err := c.Classify(ctx, a)
		if err != nil {
			t.Fatal(err)
		}
		if r.Outcome != OutcomeDiscarded {
			t.Errorf("outcome = %s, want discarded", r.Outcome)
		}
	})
}

func TestClassifyFallsBackToDegradedStub(t *testing.T) {
	snippet := strings.Repeat("Analysts expect the central bank to keep policy on hold this quarter. ", 3) +
		"Bitcoin fell 4% after the announcement."

	o := &fakeOracle{
		relevance: func(news.Article) (oracle.Relevance, error) { return oracle.Relevance{}, errors.New("timeout") },
		analyze: func(news.Article) (oracle.Assessment, error) {
			return oracle.Assessment{Relevant: true}, nil // missing primary topic
		},
	}
	c, s := newTestClassifier(t, o)
	ctx := context.Background()

	a := storeArticle(t, s, "a1", "https://example.com/1", "unknown", "Blog", "Bitcoin slips after rate decision", snippet)
	r, err := c.Classify(ctx, a)
	if err != nil {
		t.Fatal(err)
	}
	if r.Outcome != OutcomeAnalyzed {
		t.Fatalf("outcome = %s, want analyzed", r.Outcome)
	}
	got := r.Analysis
	if !got.Degraded {
		t.Error("analysis should be degraded")
	}
	if len(got.AffectedAssets) != 0 {
		t.Errorf("degraded analysis has assets: %v", got.AffectedAssets)
	}
	if !slices.Equal(got.Tickers, []string{"BTC"}) {
		t.Errorf("tickers = %v, want [BTC]", got.Tickers)
	}
	if !strings.HasPrefix(got.TopicKey, "BTC_") {
		t.Errorf("topic key = %s", got.TopicKey)
	}
	if got.Confidence != 0.3 {
		t.Errorf("confidence = %v, want 0.3", got.Confidence)
	}
	if !slices.Equal(got.Categories, []string{"crypto"}) {
		t.Errorf("categories = %v", got.Categories)
	}
}

func TestRun(t *testing.T) {
	o := &fakeOracle{
		relevance: func(a news.Article) (oracle.Relevance, error) {
			return oracle.Relevance{Relevant: a.ID != "junk"}, nil
		},
		analyze: func(a news.Article) (oracle.Assessment, error) { return btcAssessment(4), nil },
	}
	c, s := newTestClassifier(t, o)
	ctx := context.Background()

	storeArticle(t, s, "a1", "https://example.com/1", "x", "X", "Bitcoin ETF sees record inflow", "one")
	storeArticle(t, s, "a2", "https://example.org/2", "y", "Y", "Ether staking yields climb", "two")
	storeArticle(t, s, "junk", "https://example.net/3", "z", "Z", "Weekend weather outlook", "three")

	rep, err := c.Run(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Pending != 3 || rep.Analyzed != 2 || rep.Discarded != 1 || rep.Failed != 0 {
		t.Errorf("report = %+v", rep)
	}
	if len(rep.Saved) != 2 {
		t.Errorf("saved = %d, want 2", len(rep.Saved))
	}

	again, err := c.Run(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if again.Pending != 0 {
		t.Errorf("second run pending = %d, want 0", again.Pending)
	}
}
