package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"

	"github.com/elonfeng/marketradar/internal/config"
	"github.com/elonfeng/marketradar/internal/logging"
	"github.com/elonfeng/marketradar/internal/scheduler"
	"github.com/elonfeng/marketradar/internal/store"
	"github.com/elonfeng/marketradar/pkg/alert"
	"github.com/elonfeng/marketradar/pkg/analysis"
	"github.com/elonfeng/marketradar/pkg/ingest"
	"github.com/elonfeng/marketradar/pkg/news"
	"github.com/elonfeng/marketradar/pkg/oracle"
	"github.com/elonfeng/marketradar/pkg/server"
	"github.com/elonfeng/marketradar/pkg/source"
)

// app holds the wired components shared by the commands.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	db     *store.SQLiteStore
}

func loadApp() (*app, error) {
	path := cfgFile
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger := logging.New(cfg.Log.Level, cfg.Log.Format)

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return &app{cfg: cfg, logger: logger, db: db}, nil
}

func (a *app) Close() error {
	return a.db.Close()
}

func (a *app) collector(feeds []source.Descriptor) *ingest.Orchestrator {
	var detector news.LanguageDetector
	for _, f := range feeds {
		if f.Language == "" {
			detector = news.NewLanguageDetector()
			break
		}
	}
	normalizer := news.NewNormalizer(news.NewTagger(news.DefaultCategories), detector)

	return ingest.New(a.db, source.NewRSS(&http.Client{}), normalizer, feeds, ingest.Options{
		Concurrency: a.cfg.Ingest.Concurrency,
		Timeout:     a.cfg.Ingest.ParseTimeout(),
		Logger:      logging.Component(a.logger, "ingest"),
	})
}

func (a *app) newOracle() oracle.Oracle {
	c := a.cfg.Oracle
	if !c.Enabled || c.APIKey == "" {
		a.logger.Info("oracle disabled, using local fallbacks")
		return nil
	}
	a.logger.Info("oracle enabled", "provider", c.Provider, "model", c.Model)
	return oracle.NewLLM(oracle.LLMOptions{
		Provider: c.Provider,
		Model:    c.Model,
		APIKey:   c.APIKey,
		BaseURL:  c.BaseURL,
		Timeout:  c.ParseTimeout(),
		Retries:  c.Retries,
		Logger:   logging.Component(a.logger, "oracle"),
	})
}

func (a *app) classifier() *analysis.Classifier {
	scorer := analysis.NewScorer(a.cfg.Scoring.Reliability, a.cfg.Scoring.DefaultReliability)
	return analysis.NewClassifier(a.db, a.newOracle(), scorer, logging.Component(a.logger, "classifier"))
}

func (a *app) alertManager() *alert.Manager {
	var notifiers []alert.Notifier

	c := a.cfg.Alerts
	if c.Slack.Enabled && c.Slack.WebhookURL != "" {
		notifiers = append(notifiers, alert.NewSlack(c.Slack.WebhookURL))
	}
	if c.Discord.Enabled && c.Discord.WebhookURL != "" {
		notifiers = append(notifiers, alert.NewDiscord(c.Discord.WebhookURL))
	}
	if c.Webhook.Enabled && c.Webhook.URL != "" {
		notifiers = append(notifiers, alert.NewWebhook(c.Webhook.URL, c.Webhook.Secret))
	}

	return alert.NewManager(notifiers)
}

// selectFeeds keeps the configured feeds named in ids, or all when ids is empty.
func selectFeeds(all []source.Descriptor, ids []string) ([]source.Descriptor, error) {
	if len(ids) == 0 {
		return all, nil
	}
	wanted := make(map[string]bool)
	for _, id := range ids {
		wanted[strings.ToLower(strings.TrimSpace(id))] = true
	}
	var feeds []source.Descriptor
	for _, f := range all {
		if wanted[strings.ToLower(f.ID)] {
			feeds = append(feeds, f)
		}
	}
	if len(feeds) == 0 {
		return nil, fmt.Errorf("no matching feeds for: %s", strings.Join(ids, ", "))
	}
	return feeds, nil
}

func runCollect(ctx context.Context, feedIDs []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close()

	feeds, err := selectFeeds(a.cfg.Feeds, feedIDs)
	if err != nil {
		return err
	}

	rep, err := a.collector(feeds).Run(ctx)
	if err != nil {
		return fmt.Errorf("collect: %w", err)
	}
	fmt.Printf("feeds: %d (%d failed)  fetched: %d  new: %d  duplicates: %d  rejected: %d\n",
		rep.Feeds, rep.Failed, rep.Fetched, rep.Inserted, rep.Duplicates, rep.Rejected)
	return nil
}

func runAnalyze(ctx context.Context, limit int) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if limit <= 0 {
		limit = a.cfg.Analyze.BatchSize
	}
	rep, err := a.classifier().Run(ctx, limit)
	if err != nil {
		return fmt.Errorf("analyze: %w", err)
	}
	fmt.Printf("pending: %d  analyzed: %d  discarded: %d  skipped: %d  failed: %d\n",
		rep.Pending, rep.Analyzed, rep.Discarded, rep.Skipped, rep.Failed)
	return nil
}

func runArticles(ctx context.Context, jsonOutput bool, limit int) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close()

	articles, err := a.db.ListRecentArticles(ctx, limit)
	if err != nil {
		return fmt.Errorf("list articles: %w", err)
	}

	if jsonOutput {
		return writeJSON(articles)
	}
	if len(articles) == 0 {
		fmt.Println("no articles found (try collecting first: marketradar collect)")
		return nil
	}

	rows := make([][]string, 0, len(articles))
	for _, art := range articles {
		rows = append(rows, []string{
			ago(art.PublishedAt),
			art.SourceName,
			ellipsize(art.Title, 70),
			strings.Join(art.Tags, ","),
		})
	}
	fmt.Println(renderTable([]string{"PUBLISHED", "SOURCE", "TITLE", "TAGS"}, rows, nil))
	return nil
}

type analysesFlags struct {
	window        string
	minImportance int
	categories    []string
	tickers       []string
	query         string
	cursor        string
	limit         int
}

func runAnalyses(ctx context.Context, jsonOutput bool, f analysesFlags) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close()

	page, err := a.db.ListAnalyses(ctx, store.AnalysisListOpts{
		Window:        store.ParseWindow(f.window),
		MinImportance: f.minImportance,
		Categories:    f.categories,
		Tickers:       f.tickers,
		Query:         f.query,
		Cursor:        f.cursor,
		Limit:         f.limit,
	})
	if err != nil {
		return fmt.Errorf("list analyses: %w", err)
	}

	if jsonOutput {
		return writeJSON(page)
	}
	if len(page.Items) == 0 {
		fmt.Println("no analyses found (try: marketradar collect && marketradar analyze)")
		return nil
	}

	rows := make([][]string, 0, len(page.Items))
	for _, an := range page.Items {
		rows = append(rows, []string{
			stars(an.Importance),
			strconv.Itoa(int(an.Confidence*100)) + "%",
			strings.Join(an.Tickers, ","),
			ellipsize(an.Title, 60),
			strconv.Itoa(len(an.Sources)),
			ago(an.PublishedAt),
		})
	}
	fmt.Println(renderTable(
		[]string{"IMPORTANCE", "CONF", "TICKERS", "TITLE", "SOURCES", "PUBLISHED"},
		rows,
		[]columnAlignment{alignLeft, alignRight, alignLeft, alignLeft, alignRight, alignLeft},
	))
	if page.NextCursor != "" {
		fmt.Printf("more: --cursor %s\n", page.NextCursor)
	}
	return nil
}

func runServe(ctx context.Context, port int) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if port == 0 {
		port = a.cfg.Server.Port
	}
	srv := server.New(a.db, a.collector(a.cfg.Feeds), a.classifier(), server.Options{
		Port:      port,
		BatchSize: a.cfg.Analyze.BatchSize,
		Logger:    logging.Component(a.logger, "server"),
	})
	return srv.ListenAndServe(ctx)
}

func runDaemon(ctx context.Context, port int) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close()

	lock := flock.New(a.cfg.Daemon.LockPath)
	ok, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("another marketradar daemon holds %s", a.cfg.Daemon.LockPath)
	}
	defer lock.Unlock()

	if port == 0 {
		port = a.cfg.Server.Port
	}

	collector := a.collector(a.cfg.Feeds)
	classifier := a.classifier()

	sched := scheduler.New(collector, classifier, a.alertManager(), scheduler.Options{
		CollectInterval: a.cfg.Schedule.ParseCollectInterval(),
		AnalyzeInterval: a.cfg.Schedule.ParseAnalyzeInterval(),
		BatchSize:       a.cfg.Analyze.BatchSize,
		MinImportance:   a.cfg.Alerts.MinImportance,
		Logger:          logging.Component(a.logger, "scheduler"),
	})
	srv := server.New(a.db, collector, classifier, server.Options{
		Port:      port,
		BatchSize: a.cfg.Analyze.BatchSize,
		Logger:    logging.Component(a.logger, "server"),
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := sched.Run(gctx); err != nil && ctx.Err() == nil {
			return fmt.Errorf("scheduler: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return srv.ListenAndServe(gctx)
	})

	err = g.Wait()
	a.logger.Info("shutting down")
	return err
}

func writeJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
