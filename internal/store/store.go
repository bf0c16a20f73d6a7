package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/elonfeng/marketradar/pkg/news"
)

// ErrNotFound is returned by point lookups that match nothing.
var ErrNotFound = errors.New("not found")

// Store is the persistence interface for articles and analyses.
//
// All mutations are serialized through one write lock, so InsertArticle's
// check-then-insert and SaveAnalysis's merge are atomic. Reads take no lock.
type Store interface {
	InsertArticle(ctx context.Context, a *news.Article) (bool, error)
	GetArticle(ctx context.Context, id string) (*news.Article, error)
	ListRecentArticles(ctx context.Context, limit int) ([]news.Article, error)
	CountArticlesSince(ctx context.Context, since time.Time) (int, error)
	ListUnanalyzed(ctx context.Context, limit int) ([]news.Article, error)

	IsProcessed(ctx context.Context, articleID string) (bool, error)
	MarkDiscarded(ctx context.Context, articleID string) error
	SaveAnalysis(ctx context.Context, a *Analysis) (*Analysis, error)
	GetAnalysisByArticle(ctx context.Context, articleID string) (*Analysis, error)
	GetAnalysisByTopic(ctx context.Context, topicKey string) (*Analysis, error)
	ListAnalyses(ctx context.Context, opts AnalysisListOpts) (AnalysisPage, error)
	CountAnalysesSince(ctx context.Context, since time.Time) (int, error)
	RecentTopicTexts(ctx context.Context, limit int) ([]string, error)

	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db  *sqlx.DB
	mu  sync.Mutex
	now func() time.Time
}

// New opens a SQLite database and runs migrations.
func New(path string) (*SQLiteStore, error) {
	dsn := "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db, now: time.Now}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Second)
}

func dbTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}
