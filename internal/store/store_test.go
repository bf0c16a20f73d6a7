package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/elonfeng/marketradar/pkg/news"
	"github.com/elonfeng/marketradar/pkg/oracle"
)

var testNow = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.now = func() time.Time { return testNow }
	t.Cleanup(func() { s.Close() })
	return s
}

func testArticle(id, url, title string, published time.Time) *news.Article {
	return &news.Article{
		ID:          id,
		URL:         url,
		Title:       title,
		Snippet:     "snippet for " + title,
		PublishedAt: published,
		SourceID:    "reuters",
		SourceName:  "Reuters",
		Tags:        []string{"macro"},
	}
}

func testAnalysis(id, articleID, topic string, importance int, published time.Time) *Analysis {
	return &Analysis{
		ID:          id,
		TopicKey:    topic,
		ArticleID:   articleID,
		PublishedAt: published,
		SourceID:    "reuters",
		SourceName:  "Reuters",
		SourceURL:   "https://www.reuters.com/" + articleID,
		Title:       "title " + id,
		Tickers:     []string{},
		Categories:  []string{},
		Summary:     "summary " + id,
		Importance:  importance,
		Confidence:  0.5,
		Sources:     []string{"Reuters"},
	}
}

func TestInsertArticleIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := testArticle("a1", "https://www.reuters.com/markets/a1", "Fed signals patience on rate cuts", testNow)
	ok, err := s.InsertArticle(ctx, a)
	if err != nil || !ok {
		t.Fatalf("first insert = %v, %v; want true, nil", ok, err)
	}
	ok, err = s.InsertArticle(ctx, testArticle("a1", a.URL, a.Title, testNow))
	if err != nil || ok {
		t.Fatalf("second insert = %v, %v; want false, nil", ok, err)
	}

	got, err := s.GetArticle(ctx, "a1")
	if err != nil {
		t.Fatalf("GetArticle: %v", err)
	}
	if got.Title != a.Title || got.Host != "www.reuters.com" {
		t.Errorf("GetArticle = %+v", got)
	}
	if !slices.Equal(got.Tags, []string{"macro"}) {
		t.Errorf("Tags = %v, want [macro]", got.Tags)
	}
	if !got.PublishedAt.Equal(testNow) {
		t.Errorf("PublishedAt = %v, want %v", got.PublishedAt, testNow)
	}
}

func TestInsertArticleRejectsNearDuplicate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := testArticle("e1", "https://www.reuters.com/ecb-1", "ECB holds rates steady at 4%", testNow)
	second := testArticle("e2", "https://www.reuters.com/ecb-2", "ECB holds rates steady at 4%.", testNow.Add(3*time.Hour))
	otherHost := testArticle("e3", "https://www.ft.com/ecb", "ECB holds rates steady at 4%", testNow)
	later := testArticle("e4", "https://www.reuters.com/ecb-4", "ECB holds rates steady at 4%", testNow.Add(72*time.Hour))

	for _, tt := range []struct {
		a    *news.Article
		want bool
	}{
		{first, true},
		{second, false},
		{otherHost, true},
		{later, true},
	} {
		got, err := s.InsertArticle(ctx, tt.a)
		if err != nil {
			t.Fatalf("InsertArticle(%s): %v", tt.a.ID, err)
		}
		if got != tt.want {
			t.Errorf("InsertArticle(%s) = %v, want %v", tt.a.ID, got, tt.want)
		}
	}

	if _, err := s.GetArticle(ctx, "e2"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetArticle(e2) err = %v, want ErrNotFound", err)
	}
}

func TestListRecentAndCountArticles(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		a := testArticle(fmt.Sprintf("r%d", i), fmt.Sprintf("https://example.com/%d", i),
			fmt.Sprintf("Distinct headline number %d about %s", i, []string{"oil", "gold", "tech"}[i]),
			testNow.Add(time.Duration(i)*time.Hour))
		if _, err := s.InsertArticle(ctx, a); err != nil {
			t.Fatal(err)
		}
	}

	list, err := s.ListRecentArticles(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].ID != "r2" || list[1].ID != "r1" {
		t.Errorf("ListRecentArticles = %v", ids(list))
	}

	n, err := s.CountArticlesSince(ctx, testNow.Add(-time.Hour))
	if err != nil || n != 3 {
		t.Errorf("CountArticlesSince = %d, %v; want 3", n, err)
	}
	n, err = s.CountArticlesSince(ctx, testNow.Add(time.Hour))
	if err != nil || n != 0 {
		t.Errorf("CountArticlesSince(future) = %d, %v; want 0", n, err)
	}
}

func TestProcessedLedger(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"p1", "p2", "p3"} {
		a := testArticle(id, "https://example.com/"+id, "Unrelated headline "+id+" "+id+id+id, testNow)
		if _, err := s.InsertArticle(ctx, a); err != nil {
			t.Fatal(err)
		}
	}

	if err := s.MarkDiscarded(ctx, "p1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.SaveAnalysis(ctx, testAnalysis("x", "p2", "GENERAL_1", 2, testNow)); err != nil {
		t.Fatal(err)
	}

	for id, want := range map[string]bool{"p1": true, "p2": true, "p3": false} {
		got, err := s.IsProcessed(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Errorf("IsProcessed(%s) = %v, want %v", id, got, want)
		}
	}

	pending, err := s.ListUnanalyzed(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].ID != "p3" {
		t.Errorf("ListUnanalyzed = %v, want [p3]", ids(pending))
	}

	if _, err := s.GetAnalysisByArticle(ctx, "p1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetAnalysisByArticle(discarded) err = %v, want ErrNotFound", err)
	}
}

func TestSaveAnalysisMerge(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := testAnalysis("id-1", "art-1", "BTC_114", 5, testNow)
	first.Sources = []string{"CoinDesk"}
	first.AffectedAssets = []oracle.AffectedAsset{{Symbol: "BTC", AssetType: oracle.AssetCrypto,
		Direction: oracle.DirectionUp, Impact: 5, Horizon: oracle.HorizonSwing, Confidence: 0.8}}
	saved, err := s.SaveAnalysis(ctx, first)
	if err != nil {
		t.Fatal(err)
	}
	if saved.ID != "id-1" {
		t.Fatalf("ID = %q, want id-1", saved.ID)
	}

	s.now = func() time.Time { return testNow.Add(time.Hour) }
	second := testAnalysis("id-2", "art-2", "BTC_114", 3, testNow.Add(time.Hour))
	second.Summary = "newer summary"
	second.Sources = []string{"Reuters", "CoinDesk"}
	merged, err := s.SaveAnalysis(ctx, second)
	if err != nil {
		t.Fatal(err)
	}

	if merged.ID != "id-1" {
		t.Errorf("merged ID = %q, want id-1", merged.ID)
	}
	if merged.Importance != 5 {
		t.Errorf("merged Importance = %d, want 5", merged.Importance)
	}
	if merged.Summary != "newer summary" || merged.ArticleID != "art-2" {
		t.Errorf("merged should carry newest fields, got %+v", merged)
	}
	if !slices.Equal(merged.Sources, []string{"CoinDesk", "Reuters"}) {
		t.Errorf("merged Sources = %v", merged.Sources)
	}
	if !merged.CreatedAt.Equal(testNow) {
		t.Errorf("CreatedAt = %v, want %v", merged.CreatedAt, testNow)
	}

	stored, err := s.GetAnalysisByTopic(ctx, "BTC_114")
	if err != nil {
		t.Fatal(err)
	}
	if stored.ID != "id-1" || stored.Importance != 5 || len(stored.AffectedAssets) != 0 {
		t.Errorf("stored = %+v", stored)
	}
	if !stored.UpdatedAt.Equal(testNow.Add(time.Hour)) {
		t.Errorf("UpdatedAt = %v", stored.UpdatedAt)
	}

	for _, articleID := range []string{"art-1", "art-2"} {
		got, err := s.GetAnalysisByArticle(ctx, articleID)
		if err != nil {
			t.Fatalf("GetAnalysisByArticle(%s): %v", articleID, err)
		}
		if got.ID != "id-1" {
			t.Errorf("GetAnalysisByArticle(%s).ID = %q", articleID, got.ID)
		}
	}

	page, err := s.ListAnalyses(ctx, AnalysisListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Items) != 1 {
		t.Errorf("topics = %d, want 1", len(page.Items))
	}
}

func TestSaveAnalysisImportanceNeverDecreases(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	peak := 0
	for i, imp := range []int{2, 4, 1, 3, 5, 2} {
		a := testAnalysis(fmt.Sprintf("m%d", i), fmt.Sprintf("art-%d", i), "SPY_7", imp, testNow)
		saved, err := s.SaveAnalysis(ctx, a)
		if err != nil {
			t.Fatal(err)
		}
		peak = max(peak, imp)
		if saved.Importance != peak {
			t.Errorf("after save %d importance = %d, want %d", i, saved.Importance, peak)
		}
	}
}

func TestListAnalysesPagination(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const total = 23
	for i := 0; i < total; i++ {
		a := testAnalysis(fmt.Sprintf("a%02d", i), fmt.Sprintf("art-%d", i), fmt.Sprintf("GENERAL_%d", i),
			1+i%5, testNow.Add(-time.Duration(i)*time.Minute))
		if _, err := s.SaveAnalysis(ctx, a); err != nil {
			t.Fatal(err)
		}
	}

	var all []Analysis
	cursor := ""
	for pages := 0; ; pages++ {
		if pages > total {
			t.Fatal("pagination did not terminate")
		}
		page, err := s.ListAnalyses(ctx, AnalysisListOpts{Cursor: cursor, Limit: 5})
		if err != nil {
			t.Fatal(err)
		}
		all = append(all, page.Items...)
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	if len(all) != total {
		t.Fatalf("paged %d items, want %d", len(all), total)
	}
	seen := map[string]bool{}
	for i, a := range all {
		if seen[a.ID] {
			t.Errorf("duplicate %s in pages", a.ID)
		}
		seen[a.ID] = true
		if i == 0 {
			continue
		}
		prev := all[i-1]
		if prev.Importance < a.Importance ||
			(prev.Importance == a.Importance && prev.PublishedAt.Before(a.PublishedAt)) {
			t.Errorf("order broken at %d: %s(%d) before %s(%d)", i, prev.ID, prev.Importance, a.ID, a.Importance)
		}
	}

	page, err := s.ListAnalyses(ctx, AnalysisListOpts{Cursor: "missing", Limit: 5})
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Items) == 0 || page.Items[0].ID != all[0].ID {
		t.Errorf("unknown cursor should restart from the top")
	}
}

func TestListAnalysesFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	btc := testAnalysis("btc", "art-btc", "BTC_1", 5, testNow.Add(-2*time.Hour))
	btc.Tickers = []string{"BTC", "ETH"}
	btc.Categories = []string{"crypto"}
	btc.Title = "Bitcoin ETF inflows hit record"

	aapl := testAnalysis("aapl", "art-aapl", "AAPL_2", 3, testNow.Add(-3*24*time.Hour))
	aapl.Tickers = []string{"AAPL"}
	aapl.Categories = []string{"equities", "earnings"}
	aapl.PrimaryTopic = "Apple quarterly results"

	old := testAnalysis("old", "art-old", "GENERAL_3", 4, testNow.Add(-20*24*time.Hour))
	old.Categories = []string{"macro"}
	old.Summary = "Inflation cools across the eurozone"

	ancient := testAnalysis("ancient", "art-ancient", "GENERAL_4", 2, testNow.Add(-90*24*time.Hour))
	ancient.Title = "Société Générale cuts outlook"

	for _, a := range []*Analysis{btc, aapl, old, ancient} {
		if _, err := s.SaveAnalysis(ctx, a); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name string
		opts AnalysisListOpts
		want []string
	}{
		{"all", AnalysisListOpts{}, []string{"btc", "old", "aapl", "ancient"}},
		{"today", AnalysisListOpts{Window: WindowToday}, []string{"btc"}},
		{"week", AnalysisListOpts{Window: WindowWeek}, []string{"btc", "aapl"}},
		{"month", AnalysisListOpts{Window: WindowMonth}, []string{"btc", "old", "aapl"}},
		{"min importance", AnalysisListOpts{MinImportance: 4}, []string{"btc", "old"}},
		{"category any-of", AnalysisListOpts{Categories: []string{"Earnings", "macro"}}, []string{"old", "aapl"}},
		{"ticker", AnalysisListOpts{Tickers: []string{"eth"}}, []string{"btc"}},
		{"query title", AnalysisListOpts{Query: "etf INFLOWS"}, []string{"btc"}},
		{"query summary", AnalysisListOpts{Query: "eurozone"}, []string{"old"}},
		{"query topic", AnalysisListOpts{Query: "apple"}, []string{"aapl"}},
		{"query folds non-ascii", AnalysisListOpts{Query: "GÉNÉRALE"}, []string{"ancient"}},
		{"query lowercase non-ascii", AnalysisListOpts{Query: "société"}, []string{"ancient"}},
		{"query with other filters", AnalysisListOpts{Query: "title", MinImportance: 4}, []string{"old"}},
		{"combined", AnalysisListOpts{Window: WindowWeek, Categories: []string{"crypto"}, MinImportance: 5}, []string{"btc"}},
		{"no match", AnalysisListOpts{Tickers: []string{"TSLA"}}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := s.ListAnalyses(ctx, tt.opts)
			if err != nil {
				t.Fatal(err)
			}
			var got []string
			for _, a := range page.Items {
				got = append(got, a.ID)
			}
			if !slices.Equal(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCountAnalysesAndRecentTopics(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := testAnalysis("c1", "art-c1", "GENERAL_10", 2, testNow.Add(-time.Hour))
	a.Title = "Oil Jumps"
	a.Summary = "Brent rallies"
	b := testAnalysis("c2", "art-c2", "GENERAL_11", 2, testNow)
	for _, x := range []*Analysis{a, b} {
		if _, err := s.SaveAnalysis(ctx, x); err != nil {
			t.Fatal(err)
		}
	}

	n, err := s.CountAnalysesSince(ctx, testNow.Add(-time.Minute))
	if err != nil || n != 2 {
		t.Errorf("CountAnalysesSince = %d, %v; want 2", n, err)
	}

	texts, err := s.RecentTopicTexts(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(texts) != 2 || texts[1] != "oil jumps brent rallies" {
		t.Errorf("RecentTopicTexts = %q", texts)
	}
}

func TestParseWindow(t *testing.T) {
	for in, want := range map[string]Window{
		"today": WindowToday, "WEEK": WindowWeek, " month ": WindowMonth, "all": WindowAll, "bogus": WindowAll, "": WindowAll,
	} {
		if got := ParseWindow(in); got != want {
			t.Errorf("ParseWindow(%q) = %q, want %q", in, got, want)
		}
	}
	if got := WindowToday.Since(testNow); !got.Equal(time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("today since = %v", got)
	}
}

func ids(articles []news.Article) []string {
	out := make([]string, len(articles))
	for i, a := range articles {
		out[i] = a.ID
	}
	return out
}

func TestConcurrentNearDuplicateInserts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const n = 16
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		inserted int
	)
	errs := make(chan error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a := testArticle(fmt.Sprintf("ecb-%d", i), fmt.Sprintf("https://www.reuters.com/ecb-%d", i),
				"ECB holds rates steady at 4%", testNow.Add(time.Duration(i)*time.Minute))
			ok, err := s.InsertArticle(ctx, a)
			if err != nil {
				errs <- err
				return
			}
			if ok {
				mu.Lock()
				inserted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("InsertArticle: %v", err)
	}

	if inserted != 1 {
		t.Errorf("inserted = %d, want 1", inserted)
	}
	articles, err := s.ListRecentArticles(ctx, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(articles) != 1 {
		t.Errorf("stored %d articles, want 1", len(articles))
	}
}

func TestConcurrentSaveAnalysisMerges(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const n = 16
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a := testAnalysis(fmt.Sprintf("id-%d", i), fmt.Sprintf("art-%d", i), "BTC_114", 1+i%5,
				testNow.Add(time.Duration(i)*time.Minute))
			a.Sources = []string{fmt.Sprintf("Source %d", i)}
			if _, err := s.SaveAnalysis(ctx, a); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("SaveAnalysis: %v", err)
	}

	page, err := s.ListAnalyses(ctx, AnalysisListOpts{Limit: 100})
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Items) != 1 {
		t.Fatalf("stored %d analyses, want 1", len(page.Items))
	}
	got := page.Items[0]
	if got.TopicKey != "BTC_114" || got.Importance != 5 {
		t.Errorf("merged = %s importance %d, want BTC_114 importance 5", got.TopicKey, got.Importance)
	}
	if len(got.Sources) != n {
		t.Errorf("merged sources = %v, want %d entries", got.Sources, n)
	}
	for i := range n {
		a, err := s.GetAnalysisByArticle(ctx, fmt.Sprintf("art-%d", i))
		if err != nil {
			t.Fatalf("GetAnalysisByArticle(art-%d): %v", i, err)
		}
		if a.ID != got.ID {
			t.Errorf("art-%d resolves to %s, want %s", i, a.ID, got.ID)
		}
	}
}
