package analysis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/elonfeng/marketradar/internal/store"
	"github.com/elonfeng/marketradar/pkg/news"
	"github.com/elonfeng/marketradar/pkg/oracle"
)

// Outcome is how one article left the classifier.
type Outcome string

const (
	OutcomeAnalyzed  Outcome = "analyzed"
	OutcomeDiscarded Outcome = "discarded"
	OutcomeSkipped   Outcome = "skipped"
)

// Result describes the classification of one article.
type Result struct {
	Outcome  Outcome
	Reason   string
	Analysis *store.Analysis // stored record, set when analyzed
	Score    Score
}

// Report summarizes a classification run.
type Report struct {
	Pending   int
	Analyzed  int
	Discarded int
	Skipped   int
	Failed    int
	Saved     []store.Analysis
}

// Classifier runs stored articles through the oracle, scorer and topic
// grouping. The oracle is optional; without it every article takes the
// local fallback path.
type Classifier struct {
	store  store.Store
	oracle oracle.Oracle
	scorer *Scorer
	logger *slog.Logger
	now    func() time.Time
	newID  func() string
}

// NewClassifier creates a classifier. o may be nil.
func NewClassifier(s store.Store, o oracle.Oracle, scorer *Scorer, logger *slog.Logger) *Classifier {
	if scorer == nil {
		scorer = NewScorer(nil, 0)
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Classifier{
		store:  s,
		oracle: o,
		scorer: scorer,
		logger: logger,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// Run classifies up to limit articles that have no outcome yet, most recent
// first. Per-article failures are logged and counted; the run only aborts
// when the pending list cannot be loaded or ctx is done.
func (c *Classifier) Run(ctx context.Context, limit int) (Report, error) {
	pending, err := c.store.ListUnanalyzed(ctx, limit)
	if err != nil {
		return Report{}, fmt.Errorf("list unanalyzed: %w", err)
	}

	rep := Report{Pending: len(pending)}
	for _, a := range pending {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		res, err := c.Classify(ctx, a)
		if err != nil {
			rep.Failed++
			c.logger.Warn("classify failed", "article", a.ID, "error", err)
			continue
		}
		switch res.Outcome {
		case OutcomeAnalyzed:
			rep.Analyzed++
			rep.Saved = append(rep.Saved, *res.Analysis)
		case OutcomeDiscarded:
			rep.Discarded++
		case OutcomeSkipped:
			rep.Skipped++
		}
	}
	return rep, nil
}

// Classify processes one article. An article that already has an outcome
// is skipped. No store lock is held while the oracle is consulted.
func (c *Classifier) Classify(ctx context.Context, a news.Article) (Result, error) {
	done, err := c.store.IsProcessed(ctx, a.ID)
	if err != nil {
		return Result{}, err
	}
	if done {
		return Result{Outcome: OutcomeSkipped}, nil
	}

	relevant, reason := c.relevance(ctx, a)
	if !relevant {
		return c.discard(ctx, a, reason)
	}

	assessment, degraded := c.assess(ctx, a)
	if !assessment.Relevant {
		return c.discard(ctx, a, assessment.Reason)
	}

	symbols := make([]string, 0, len(assessment.AffectedAssets))
	for _, asset := range assessment.AffectedAssets {
		symbols = append(symbols, asset.Symbol)
	}
	tickers := mergeTickers(symbols, DetectTickers(a.Title+" "+a.Snippet))

	summary := assessment.Notes
	if summary == "" {
		summary = a.Snippet
	}
	topic := assessment.PrimaryTopic
	if topic == "" {
		topic = a.Title
	}

	recent, err := c.store.RecentTopicTexts(ctx, NoveltyWindow)
	if err != nil {
		return Result{}, err
	}
	now := c.now()
	score := c.scorer.Score(Signals{
		SourceID:    a.SourceID,
		Assets:      assessment.AffectedAssets,
		PublishedAt: a.PublishedAt,
		Novel:       IsNovel(store.TopicText(a.Title, summary), recent),
	}, now)

	sources := []string{a.SourceName}
	sources = append(sources, assessment.Sources...)

	record := &store.Analysis{
		ID:             c.newID(),
		TopicKey:       TopicKey(tickers, a.Title, a.Snippet),
		ArticleID:      a.ID,
		PublishedAt:    a.PublishedAt,
		SourceID:       a.SourceID,
		SourceName:     a.SourceName,
		SourceURL:      a.URL,
		Title:          a.Title,
		Tickers:        tickers,
		Categories:     a.Tags,
		Summary:        summary,
		AffectedAssets: assessment.AffectedAssets,
		Importance:     score.Importance,
		Confidence:     score.Confidence,
		PrimaryTopic:   topic,
		MacroTags:      assessment.MacroTags,
		Sources:        sources,
		Degraded:       degraded,
		CreatedAt:      now,
	}
	saved, err := c.store.SaveAnalysis(ctx, record)
	if err != nil {
		return Result{}, err
	}

	c.logger.Debug("article analyzed",
		"article", a.ID, "topic", saved.TopicKey, "importance", saved.Importance,
		"score", score.Raw, "degraded", degraded)
	return Result{Outcome: OutcomeAnalyzed, Analysis: saved, Score: score}, nil
}

func (c *Classifier) discard(ctx context.Context, a news.Article, reason string) (Result, error) {
	if err := c.store.MarkDiscarded(ctx, a.ID); err != nil {
		return Result{}, err
	}
	c.logger.Debug("article discarded", "article", a.ID, "reason", reason)
	return Result{Outcome: OutcomeDiscarded, Reason: reason}, nil
}

// relevance asks the oracle and falls back to the snippet heuristic.
func (c *Classifier) relevance(ctx context.Context, a news.Article) (bool, string) {
	if c.oracle != nil {
		rel, err := c.oracle.ClassifyRelevance(ctx, a)
		if err == nil {
			return rel.Relevant, rel.Reason
		}
		c.logOracleError("relevance", a, err)
	}
	if HeuristicRelevant(a.Snippet) {
		return true, "heuristic: market signal in snippet"
	}
	return false, "heuristic: no market signal"
}

// assess asks the oracle for an assessment and falls back to a degraded
// stub with no asset predictions. The bool reports the fallback.
func (c *Classifier) assess(ctx context.Context, a news.Article) (oracle.Assessment, bool) {
	if c.oracle != nil {
		out, err := c.oracle.Analyze(ctx, a)
		if err == nil {
			out.Normalize()
			err = out.Validate()
		}
		if err == nil {
			return out, false
		}
		c.logOracleError("analysis", a, err)
	}
	return oracle.Assessment{
		Relevant:     true,
		Reason:       "oracle unavailable",
		PrimaryTopic: a.Title,
		MacroTags:    []string{},
	}, true
}

func (c *Classifier) logOracleError(call string, a news.Article, err error) {
	if errors.Is(err, oracle.ErrDisabled) {
		return
	}
	c.logger.Warn("oracle call failed, using fallback", "call", call, "article", a.ID, "error", err)
}
