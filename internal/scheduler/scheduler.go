package scheduler

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/elonfeng/marketradar/internal/store"
	"github.com/elonfeng/marketradar/pkg/alert"
	"github.com/elonfeng/marketradar/pkg/analysis"
	"github.com/elonfeng/marketradar/pkg/ingest"
)

// Collector runs one ingestion pass.
type Collector interface {
	Run(ctx context.Context) (ingest.Report, error)
}

// Analyzer runs one classification pass over pending articles.
type Analyzer interface {
	Run(ctx context.Context, limit int) (analysis.Report, error)
}

// Scheduler runs periodic collection and analysis, and alerts on
// high-importance analyses.
type Scheduler struct {
	collector     Collector
	analyzer      Analyzer
	alertMgr      *alert.Manager
	collectInt    time.Duration
	analyzeInt    time.Duration
	batchSize     int
	minImportance int
	logger        *slog.Logger

	mu      sync.Mutex
	alerted map[string]int // analysis id -> importance last alerted
}

// Options configures a Scheduler. Zero values take defaults.
type Options struct {
	CollectInterval time.Duration
	AnalyzeInterval time.Duration
	BatchSize       int
	MinImportance   int
	Logger          *slog.Logger
}

// New creates a new scheduler.
func New(c Collector, a Analyzer, alertMgr *alert.Manager, opts Options) *Scheduler {
	if opts.CollectInterval <= 0 {
		opts.CollectInterval = 15 * time.Minute
	}
	if opts.AnalyzeInterval <= 0 {
		opts.AnalyzeInterval = 5 * time.Minute
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if opts.MinImportance <= 0 {
		opts.MinImportance = 5
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Scheduler{
		collector:     c,
		analyzer:      a,
		alertMgr:      alertMgr,
		collectInt:    opts.CollectInterval,
		analyzeInt:    opts.AnalyzeInterval,
		batchSize:     opts.BatchSize,
		minImportance: opts.MinImportance,
		logger:        opts.Logger,
		alerted:       make(map[string]int),
	}
}

// Run starts the scheduler loop. Blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	collectTicker := time.NewTicker(s.collectInt)
	analyzeTicker := time.NewTicker(s.analyzeInt)
	defer collectTicker.Stop()
	defer analyzeTicker.Stop()

	s.logger.Info("initial pass")
	s.Collect(ctx)
	s.Analyze(ctx)

	s.logger.Info("scheduler running", "collect_every", s.collectInt, "analyze_every", s.analyzeInt)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return ctx.Err()
		case <-collectTicker.C:
			s.Collect(ctx)
		case <-analyzeTicker.C:
			s.Analyze(ctx)
		}
	}
}

// Collect runs one ingestion pass and logs its outcome.
func (s *Scheduler) Collect(ctx context.Context) ingest.Report {
	rep, err := s.collector.Run(ctx)
	if err != nil {
		s.logger.Warn("collect interrupted", "error", err)
	}
	return rep
}

// Analyze runs one classification pass and alerts on what it saved.
func (s *Scheduler) Analyze(ctx context.Context) analysis.Report {
	rep, err := s.analyzer.Run(ctx, s.batchSize)
	if err != nil {
		s.logger.Warn("analyze failed", "error", err)
	}
	s.logger.Info("analyze finished",
		"pending", rep.Pending, "analyzed", rep.Analyzed, "discarded", rep.Discarded,
		"skipped", rep.Skipped, "failed", rep.Failed)
	s.alert(ctx, rep.Saved)
	return rep
}

// alert broadcasts analyses at or above the importance threshold. A topic
// is alerted again only when a merge raised its importance.
func (s *Scheduler) alert(ctx context.Context, saved []store.Analysis) {
	if !s.alertMgr.HasNotifiers() {
		return
	}
	for _, a := range saved {
		if a.Importance < s.minImportance {
			continue
		}
		s.mu.Lock()
		prev, seen := s.alerted[a.ID]
		s.mu.Unlock()
		if seen && prev >= a.Importance {
			continue
		}

		if err := s.alertMgr.Broadcast(ctx, alert.FromAnalysis(a)); err != nil {
			s.logger.Warn("alert failed", "topic", a.TopicKey, "error", err)
			continue
		}
		s.mu.Lock()
		s.alerted[a.ID] = a.Importance
		s.mu.Unlock()
		s.logger.Info("alerted", "topic", a.TopicKey, "importance", a.Importance, "title", a.Title)
	}
}
