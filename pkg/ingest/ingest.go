// Package ingest drives the feed clients and stores what they return.
package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/elonfeng/marketradar/internal/store"
	"github.com/elonfeng/marketradar/pkg/news"
	"github.com/elonfeng/marketradar/pkg/source"
)

const (
	DefaultConcurrency = 4
	DefaultTimeout     = 20 * time.Second
)

// Report summarizes one ingestion pass.
type Report struct {
	Feeds      int `json:"feeds"`
	Failed     int `json:"failed"`
	Fetched    int `json:"fetched"`
	Inserted   int `json:"inserted"`
	Duplicates int `json:"duplicates"`
	Rejected   int `json:"rejected"`
	Errors     int `json:"errors"`
}

func (r *Report) add(o Report) {
	r.Failed += o.Failed
	r.Fetched += o.Fetched
	r.Inserted += o.Inserted
	r.Duplicates += o.Duplicates
	r.Rejected += o.Rejected
	r.Errors += o.Errors
}

// Orchestrator fetches a static feed list with bounded concurrency and pipes
// every entry through the normalizer into the article store.
type Orchestrator struct {
	store       store.Store
	client      source.Client
	normalizer  *news.Normalizer
	feeds       []source.Descriptor
	concurrency int
	timeout     time.Duration
	logger      *slog.Logger
}

// Options configures an Orchestrator. Zero values take defaults.
type Options struct {
	Concurrency int
	Timeout     time.Duration
	Logger      *slog.Logger
}

// New creates an ingestion orchestrator.
func New(s store.Store, client source.Client, normalizer *news.Normalizer, feeds []source.Descriptor, opts Options) *Orchestrator {
	if opts.Concurrency < 1 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if normalizer == nil {
		normalizer = news.NewNormalizer(nil, nil)
	}
	return &Orchestrator{
		store:       s,
		client:      client,
		normalizer:  normalizer,
		feeds:       feeds,
		concurrency: opts.Concurrency,
		timeout:     opts.Timeout,
		logger:      opts.Logger,
	}
}

// Run fetches every feed once. A failing feed is logged and skipped; Run
// only returns an error when ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) (Report, error) {
	var (
		mu  sync.Mutex
		rep = Report{Feeds: len(o.feeds)}
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)
	for _, feed := range o.feeds {
		g.Go(func() error {
			fr := o.runFeed(gctx, feed)
			mu.Lock()
			rep.add(fr)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	o.logger.Info("ingest finished",
		"feeds", rep.Feeds, "failed", rep.Failed, "fetched", rep.Fetched,
		"inserted", rep.Inserted, "duplicates", rep.Duplicates, "rejected", rep.Rejected, "errors", rep.Errors)

	if err := ctx.Err(); err != nil {
		return rep, err
	}
	return rep, nil
}

func (o *Orchestrator) runFeed(ctx context.Context, feed source.Descriptor) Report {
	log := o.logger.With("feed", feed.ID)

	entries, err := o.client.Fetch(ctx, feed.URL, o.timeout)
	if err != nil {
		log.Warn("fetch failed", "url", feed.URL, "error", err)
		return Report{Failed: 1}
	}

	rep := Report{Fetched: len(entries)}
	for _, entry := range entries {
		article, err := o.normalizer.Normalize(entry, feed)
		if err != nil {
			rep.Rejected++
			log.Debug("entry rejected", "link", entry.Link, "error", err)
			continue
		}
		inserted, err := o.store.InsertArticle(ctx, &article)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				log.Warn("ingest interrupted", "error", err)
				return rep
			}
			rep.Errors++
			log.Warn("store article failed", "article", article.ID, "error", err)
			continue
		}
		if inserted {
			rep.Inserted++
		} else {
			rep.Duplicates++
		}
	}
	log.Debug("feed done", "fetched", rep.Fetched, "inserted", rep.Inserted, "duplicates", rep.Duplicates)
	return rep
}
