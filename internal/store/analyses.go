package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"github.com/elonfeng/marketradar/pkg/oracle"
)

// Outcome values recorded in the processed-article ledger.
const (
	OutcomeAnalyzed  = "analyzed"
	OutcomeDiscarded = "discarded"
)

// Analysis is the scored, topic-grouped reading of one or more articles.
type Analysis struct {
	ID                 string                 `db:"id" json:"id"`
	TopicKey           string                 `db:"topic_key" json:"topic_key"`
	ArticleID          string                 `db:"article_id" json:"article_id"`
	PublishedAt        time.Time              `db:"published_at" json:"published_at"`
	SourceID           string                 `db:"source_id" json:"source_id"`
	SourceName         string                 `db:"source_name" json:"source_name"`
	SourceURL          string                 `db:"source_url" json:"source_url"`
	Title              string                 `db:"title" json:"title"`
	Tickers            []string               `db:"-" json:"tickers"`
	Categories         []string               `db:"-" json:"categories"`
	Summary            string                 `db:"summary" json:"summary"`
	AffectedAssets     []oracle.AffectedAsset `db:"-" json:"affected_assets"`
	Importance         int                    `db:"importance" json:"importance"`
	Confidence         float64                `db:"confidence" json:"confidence"`
	PrimaryTopic       string                 `db:"primary_topic" json:"primary_topic"`
	MacroTags          []string               `db:"-" json:"macro_tags"`
	Sources            []string               `db:"-" json:"sources"`
	Degraded           bool                   `db:"degraded" json:"degraded"`
	CreatedAt          time.Time              `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time              `db:"updated_at" json:"updated_at"`
	TickersJSON        string                 `db:"tickers" json:"-"`
	CategoriesJSON     string                 `db:"categories" json:"-"`
	AffectedAssetsJSON string                 `db:"affected_assets" json:"-"`
	MacroTagsJSON      string                 `db:"macro_tags" json:"-"`
	SourcesJSON        string                 `db:"sources" json:"-"`
}

// Window restricts listings to recently published analyses.
type Window string

const (
	WindowToday Window = "today"
	WindowWeek  Window = "week"
	WindowMonth Window = "month"
	WindowAll   Window = "all"
)

// ParseWindow maps a user string to a Window; unknown values mean all.
func ParseWindow(s string) Window {
	switch Window(strings.ToLower(strings.TrimSpace(s))) {
	case WindowToday:
		return WindowToday
	case WindowWeek:
		return WindowWeek
	case WindowMonth:
		return WindowMonth
	}
	return WindowAll
}

// Since returns the lower publication bound of w relative to now, or the
// zero time for WindowAll. "today" starts at the UTC day boundary.
func (w Window) Since(now time.Time) time.Time {
	now = now.UTC()
	switch w {
	case WindowToday:
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	case WindowWeek:
		return now.Add(-7 * 24 * time.Hour)
	case WindowMonth:
		return now.Add(-30 * 24 * time.Hour)
	}
	return time.Time{}
}

// AnalysisListOpts controls analysis listing.
type AnalysisListOpts struct {
	Window        Window
	MinImportance int
	Categories    []string // any-of
	Tickers       []string // any-of
	Query         string   // substring of title, summary or primary topic
	Cursor        string   // id of the last item of the previous page
	Limit         int
}

// AnalysisPage is one page of ranked analyses.
type AnalysisPage struct {
	Items      []Analysis `json:"items"`
	NextCursor string     `json:"next_cursor,omitempty"`
}

const analysisColumns = `id, topic_key, article_id, published_at, source_id, source_name, source_url,
	title, tickers, categories, summary, affected_assets, importance, confidence, primary_topic,
	macro_tags, sources, degraded, created_at, updated_at`

// SaveAnalysis inserts a, or merges it into the analysis already holding
// a.TopicKey: importance becomes the max of both, sources their union, and
// id and createdAt are kept from the existing row while every other field
// comes from a. The article is recorded as analyzed in the same transaction.
// It returns the stored record.
func (s *SQLiteStore) SaveAnalysis(ctx context.Context, a *Analysis) (*Analysis, error) {
	if a.TopicKey == "" {
		return nil, errors.New("save analysis: empty topic key")
	}
	now := s.timestamp()

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin save analysis: %w", err)
	}
	defer tx.Rollback()

	existing, err := getAnalysis(ctx, tx, "SELECT "+analysisColumns+" FROM analyses WHERE topic_key = ?", a.TopicKey)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("lookup topic %s: %w", a.TopicKey, err)
	}

	merged := *a
	merged.PublishedAt = dbTime(a.PublishedAt)
	merged.UpdatedAt = now
	merged.Sources = unionStrings(nil, a.Sources)
	if existing == nil {
		if merged.CreatedAt.IsZero() {
			merged.CreatedAt = now
		}
		merged.CreatedAt = dbTime(merged.CreatedAt)
		encodeAnalysis(&merged)
		_, err = tx.NamedExecContext(ctx, `
			INSERT INTO analyses (`+analysisColumns+`)
			VALUES (:id, :topic_key, :article_id, :published_at, :source_id, :source_name, :source_url,
				:title, :tickers, :categories, :summary, :affected_assets, :importance, :confidence,
				:primary_topic, :macro_tags, :sources, :degraded, :created_at, :updated_at)
		`, &merged)
		if err != nil {
			return nil, fmt.Errorf("insert analysis %s: %w", a.TopicKey, err)
		}
	} else {
		merged.ID = existing.ID
		merged.CreatedAt = dbTime(existing.CreatedAt)
		merged.Importance = max(existing.Importance, a.Importance)
		merged.Sources = unionStrings(existing.Sources, a.Sources)
		encodeAnalysis(&merged)
		_, err = tx.NamedExecContext(ctx, `
			UPDATE analyses SET article_id = :article_id, published_at = :published_at,
				source_id = :source_id, source_name = :source_name, source_url = :source_url,
				title = :title, tickers = :tickers, categories = :categories, summary = :summary,
				affected_assets = :affected_assets, importance = :importance, confidence = :confidence,
				primary_topic = :primary_topic, macro_tags = :macro_tags, sources = :sources,
				degraded = :degraded, updated_at = :updated_at
			WHERE id = :id
		`, &merged)
		if err != nil {
			return nil, fmt.Errorf("merge analysis %s: %w", a.TopicKey, err)
		}
	}

	if err := markProcessed(ctx, tx, merged.ArticleID, merged.TopicKey, OutcomeAnalyzed, now); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit analysis %s: %w", a.TopicKey, err)
	}
	return &merged, nil
}

// MarkDiscarded records that an article was judged irrelevant.
func (s *SQLiteStore) MarkDiscarded(ctx context.Context, articleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return markProcessed(ctx, s.db, articleID, "", OutcomeDiscarded, s.timestamp())
}

func markProcessed(ctx context.Context, db sqlx.ExecerContext, articleID, topicKey, outcome string, at time.Time) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO processed_articles (article_id, topic_key, outcome, processed_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(article_id) DO UPDATE SET
			topic_key = excluded.topic_key,
			outcome = excluded.outcome,
			processed_at = excluded.processed_at
	`, articleID, topicKey, outcome, at)
	if err != nil {
		return fmt.Errorf("mark article %s %s: %w", articleID, outcome, err)
	}
	return nil
}

// IsProcessed reports whether an article already has an analysis outcome.
func (s *SQLiteStore) IsProcessed(ctx context.Context, articleID string) (bool, error) {
	var n int
	err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM processed_articles WHERE article_id = ?", articleID)
	if err != nil {
		return false, fmt.Errorf("lookup processed %s: %w", articleID, err)
	}
	return n > 0, nil
}

// GetAnalysisByArticle returns the analysis an article was folded into.
func (s *SQLiteStore) GetAnalysisByArticle(ctx context.Context, articleID string) (*Analysis, error) {
	a, err := getAnalysis(ctx, s.db, `
		SELECT `+prefixed("an", analysisColumns)+` FROM analyses an
		JOIN processed_articles p ON p.topic_key = an.topic_key
		WHERE p.article_id = ? AND p.outcome = ?
	`, articleID, OutcomeAnalyzed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("analysis for article %s: %w", articleID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("analysis for article %s: %w", articleID, err)
	}
	return a, nil
}

func (s *SQLiteStore) GetAnalysisByTopic(ctx context.Context, topicKey string) (*Analysis, error) {
	a, err := getAnalysis(ctx, s.db, "SELECT "+analysisColumns+" FROM analyses WHERE topic_key = ?", topicKey)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("analysis for topic %s: %w", topicKey, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("analysis for topic %s: %w", topicKey, err)
	}
	return a, nil
}

// ListAnalyses returns one page of analyses matching opts, ranked by
// importance then publication time, both descending. The cursor is located
// by a linear scan of the ranked result; an unknown cursor restarts from
// the top. The free-text query is matched in Go because SQLite's lower()
// only folds ASCII.
func (s *SQLiteStore) ListAnalyses(ctx context.Context, opts AnalysisListOpts) (AnalysisPage, error) {
	query, args, err := buildAnalysisQuery(opts, s.now())
	if err != nil {
		return AnalysisPage{}, fmt.Errorf("build analysis query: %w", err)
	}

	var all []Analysis
	if err := s.db.SelectContext(ctx, &all, query, args...); err != nil {
		return AnalysisPage{}, fmt.Errorf("list analyses: %w", err)
	}
	if text := strings.ToLower(strings.TrimSpace(opts.Query)); text != "" {
		all = slices.DeleteFunc(all, func(a Analysis) bool { return !matchesText(a, text) })
	}

	start := 0
	if opts.Cursor != "" {
		for i := range all {
			if all[i].ID == opts.Cursor {
				start = i + 1
				break
			}
		}
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}
	end := min(start+limit, len(all))

	page := AnalysisPage{Items: make([]Analysis, 0, end-start)}
	page.Items = append(page.Items, all[start:end]...)
	for i := range page.Items {
		decodeAnalysis(&page.Items[i])
	}
	if end < len(all) && end > start {
		page.NextCursor = page.Items[len(page.Items)-1].ID
	}
	return page, nil
}

func buildAnalysisQuery(opts AnalysisListOpts, now time.Time) (string, []any, error) {
	q := sq.Select(analysisColumns).From("analyses")

	if since := opts.Window.Since(now); !since.IsZero() {
		q = q.Where(sq.GtOrEq{"published_at": dbTime(since)})
	}
	if opts.MinImportance > 0 {
		q = q.Where(sq.GtOrEq{"importance": opts.MinImportance})
	}
	if cats := normalizeList(opts.Categories, strings.ToLower); len(cats) > 0 {
		q = q.Where(jsonAnyOf("categories", cats))
	}
	if tickers := normalizeList(opts.Tickers, strings.ToUpper); len(tickers) > 0 {
		q = q.Where(jsonAnyOf("tickers", tickers))
	}

	return q.OrderBy("importance DESC", "published_at DESC", "id ASC").ToSql()
}

// matchesText reports whether the lowercased query occurs in the title,
// summary or primary topic.
func matchesText(a Analysis, text string) bool {
	for _, field := range []string{a.Title, a.Summary, a.PrimaryTopic} {
		if strings.Contains(strings.ToLower(field), text) {
			return true
		}
	}
	return false
}

func jsonAnyOf(column string, values []string) sq.Sqlizer {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return sq.Expr("EXISTS (SELECT 1 FROM json_each(analyses."+column+") WHERE json_each.value IN ("+sq.Placeholders(len(values))+"))", args...)
}

func normalizeList(values []string, fold func(string) string) []string {
	var out []string
	for _, v := range values {
		if v = fold(strings.TrimSpace(v)); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// CountAnalysesSince counts topics first analyzed at or after since.
func (s *SQLiteStore) CountAnalysesSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM analyses WHERE created_at >= ?", dbTime(since))
	if err != nil {
		return 0, fmt.Errorf("count analyses: %w", err)
	}
	return n, nil
}

// RecentTopicTexts returns title and summary of the most recently published topics.
func (s *SQLiteStore) RecentTopicTexts(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 200
	}
	var rows []struct {
		Title   string `db:"title"`
		Summary string `db:"summary"`
	}
	err := s.db.SelectContext(ctx, &rows, `
		SELECT title, summary FROM analyses ORDER BY published_at DESC, id ASC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent topic texts: %w", err)
	}
	texts := make([]string, len(rows))
	for i, r := range rows {
		texts[i] = TopicText(r.Title, r.Summary)
	}
	return texts, nil
}

// TopicText is the text novelty is measured on.
func TopicText(title, summary string) string {
	return strings.ToLower(strings.TrimSpace(title + " " + summary))
}

func getAnalysis(ctx context.Context, q sqlx.QueryerContext, query string, args ...any) (*Analysis, error) {
	var a Analysis
	if err := sqlx.GetContext(ctx, q, &a, query, args...); err != nil {
		return nil, err
	}
	decodeAnalysis(&a)
	return &a, nil
}

func encodeAnalysis(a *Analysis) {
	a.Tickers = nonNil(a.Tickers)
	a.Categories = nonNil(a.Categories)
	a.MacroTags = nonNil(a.MacroTags)
	a.Sources = nonNil(a.Sources)
	if a.AffectedAssets == nil {
		a.AffectedAssets = []oracle.AffectedAsset{}
	}
	a.TickersJSON = mustJSON(a.Tickers)
	a.CategoriesJSON = mustJSON(a.Categories)
	a.AffectedAssetsJSON = mustJSON(a.AffectedAssets)
	a.MacroTagsJSON = mustJSON(a.MacroTags)
	a.SourcesJSON = mustJSON(a.Sources)
}

func decodeAnalysis(a *Analysis) {
	_ = json.Unmarshal([]byte(a.TickersJSON), &a.Tickers)
	_ = json.Unmarshal([]byte(a.CategoriesJSON), &a.Categories)
	_ = json.Unmarshal([]byte(a.AffectedAssetsJSON), &a.AffectedAssets)
	_ = json.Unmarshal([]byte(a.MacroTagsJSON), &a.MacroTags)
	_ = json.Unmarshal([]byte(a.SourcesJSON), &a.Sources)
	a.Tickers = nonNil(a.Tickers)
	a.Categories = nonNil(a.Categories)
	a.MacroTags = nonNil(a.MacroTags)
	a.Sources = nonNil(a.Sources)
	if a.AffectedAssets == nil {
		a.AffectedAssets = []oracle.AffectedAsset{}
	}
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "[]"
	}
	return string(b)
}

// unionStrings appends the members of b missing from a, preserving order.
func unionStrings(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, v := range list {
			v = strings.TrimSpace(v)
			if v == "" || seen[v] {
				continue
			}
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

func prefixed(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
