package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/elonfeng/marketradar/pkg/news"
)

const articleColumns = `id, url, host, title, snippet, published_at, source_id, source_name,
	original_language, image, tags, created_at`

// InsertArticle stores a unless an article with the same id or a
// near-duplicate already exists. It reports whether a was inserted.
func (s *SQLiteStore) InsertArticle(ctx context.Context, a *news.Article) (bool, error) {
	if a.Host == "" {
		a.Host = news.Host(a.URL)
	}
	a.PublishedAt = dbTime(a.PublishedAt)
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.timestamp()
	}
	a.CreatedAt = dbTime(a.CreatedAt)
	tagsJSON, _ := json.Marshal(nonNil(a.Tags))
	a.TagsJSON = string(tagsJSON)

	s.mu.Lock()
	defer s.mu.Unlock()

	var exists int
	err := s.db.GetContext(ctx, &exists, "SELECT COUNT(*) FROM articles WHERE id = ?", a.ID)
	if err != nil {
		return false, fmt.Errorf("lookup article %s: %w", a.ID, err)
	}
	if exists > 0 {
		return false, nil
	}

	var window []news.Article
	err = s.db.SelectContext(ctx, &window, `
		SELECT `+articleColumns+` FROM articles
		WHERE host = ? AND published_at >= ? AND published_at <= ?
		ORDER BY published_at DESC, created_at DESC
	`, a.Host, a.PublishedAt.Add(-news.DuplicateWindow), a.PublishedAt.Add(news.DuplicateWindow))
	if err != nil {
		return false, fmt.Errorf("load dedup window for %s: %w", a.ID, err)
	}
	if _, dup := news.FindDuplicate(*a, window); dup {
		return false, nil
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO articles (`+articleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.URL, a.Host, a.Title, a.Snippet, a.PublishedAt, a.SourceID, a.SourceName,
		a.OriginalLanguage, a.Image, a.TagsJSON, a.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("insert article %s: %w", a.ID, err)
	}
	return true, nil
}

func (s *SQLiteStore) GetArticle(ctx context.Context, id string) (*news.Article, error) {
	var a news.Article
	err := s.db.GetContext(ctx, &a, "SELECT "+articleColumns+" FROM articles WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get article %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get article %s: %w", id, err)
	}
	decodeArticle(&a)
	return &a, nil
}

// ListRecentArticles returns articles by descending publication time.
func (s *SQLiteStore) ListRecentArticles(ctx context.Context, limit int) ([]news.Article, error) {
	if limit <= 0 {
		limit = 100
	}
	articles := []news.Article{}
	err := s.db.SelectContext(ctx, &articles, `
		SELECT `+articleColumns+` FROM articles
		ORDER BY published_at DESC, created_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent articles: %w", err)
	}
	for i := range articles {
		decodeArticle(&articles[i])
	}
	return articles, nil
}

// CountArticlesSince counts articles ingested at or after since.
func (s *SQLiteStore) CountArticlesSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM articles WHERE created_at >= ?", dbTime(since))
	if err != nil {
		return 0, fmt.Errorf("count articles: %w", err)
	}
	return n, nil
}

// ListUnanalyzed returns the most recent articles with no analysis outcome yet.
func (s *SQLiteStore) ListUnanalyzed(ctx context.Context, limit int) ([]news.Article, error) {
	if limit <= 0 {
		limit = 50
	}
	var articles []news.Article
	err := s.db.SelectContext(ctx, &articles, `
		SELECT `+prefixed("a", articleColumns)+` FROM articles a
		LEFT JOIN processed_articles p ON p.article_id = a.id
		WHERE p.article_id IS NULL
		ORDER BY a.published_at DESC, a.created_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list unanalyzed articles: %w", err)
	}
	for i := range articles {
		decodeArticle(&articles[i])
	}
	return articles, nil
}

func decodeArticle(a *news.Article) {
	_ = json.Unmarshal([]byte(a.TagsJSON), &a.Tags)
	a.Tags = nonNil(a.Tags)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
