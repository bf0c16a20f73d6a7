// Package server exposes the read surface and manual triggers over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/elonfeng/marketradar/internal/store"
	"github.com/elonfeng/marketradar/pkg/analysis"
	"github.com/elonfeng/marketradar/pkg/ingest"
)

// Collector runs one ingestion pass.
type Collector interface {
	Run(ctx context.Context) (ingest.Report, error)
}

// Analyzer runs one classification pass.
type Analyzer interface {
	Run(ctx context.Context, limit int) (analysis.Report, error)
}

// Server provides the HTTP API.
type Server struct {
	store     store.Store
	collector Collector
	analyzer  Analyzer
	port      int
	batchSize int
	logger    *slog.Logger
}

// Options configures a Server. Zero values take defaults.
type Options struct {
	Port      int
	BatchSize int
	Logger    *slog.Logger
}

// New creates a new HTTP server. collector and analyzer may be nil, which
// disables the matching trigger endpoint.
func New(s store.Store, c Collector, a Analyzer, opts Options) *Server {
	if opts.Port == 0 {
		opts.Port = 8080
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Server{
		store:     s,
		collector: c,
		analyzer:  a,
		port:      opts.Port,
		batchSize: opts.BatchSize,
		logger:    opts.Logger,
	}
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/v1/articles", s.handleArticles)
	mux.HandleFunc("GET /api/v1/articles/{id}/analysis", s.handleArticleAnalysis)
	mux.HandleFunc("GET /api/v1/analyses", s.handleAnalyses)
	mux.HandleFunc("GET /api/v1/stats", s.handleStats)
	mux.HandleFunc("POST /api/v1/collect", s.handleCollect)
	mux.HandleFunc("POST /api/v1/analyze", s.handleAnalyze)
	return mux
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleArticles(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", 100)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	articles, err := s.store.ListRecentArticles(r.Context(), limit)
	if err != nil {
		s.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":  articles,
		"count": len(articles),
	})
}

func (s *Server) handleArticleAnalysis(w http.ResponseWriter, r *http.Request) {
	a, err := s.store.GetAnalysisByArticle(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, errors.New("no analysis for article"))
		return
	}
	if err != nil {
		s.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": a})
}

func (s *Server) handleAnalyses(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	minImportance, err := intParam(r, "min_importance", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	limit, err := intParam(r, "limit", 20)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	page, err := s.store.ListAnalyses(r.Context(), store.AnalysisListOpts{
		Window:        store.ParseWindow(q.Get("window")),
		MinImportance: minImportance,
		Categories:    listParam(q["category"]),
		Tickers:       listParam(q["ticker"]),
		Query:         q.Get("q"),
		Cursor:        q.Get("cursor"),
		Limit:         limit,
	})
	if err != nil {
		s.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":        page.Items,
		"count":       len(page.Items),
		"next_cursor": page.NextCursor,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	since := time.Now().Add(-24 * time.Hour)
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("since: %w", err))
			return
		}
		since = t
	}

	articles, err := s.store.CountArticlesSince(r.Context(), since)
	if err != nil {
		s.internalError(w, err)
		return
	}
	analyses, err := s.store.CountAnalysesSince(r.Context(), since)
	if err != nil {
		s.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"since":    since.UTC().Format(time.RFC3339),
		"articles": articles,
		"analyses": analyses,
	})
}

func (s *Server) handleCollect(w http.ResponseWriter, r *http.Request) {
	if s.collector == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("collection disabled"))
		return
	}
	rep, err := s.collector.Run(r.Context())
	if err != nil {
		s.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": rep})
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if s.analyzer == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("analysis disabled"))
		return
	}
	limit, err := intParam(r, "limit", s.batchSize)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	rep, err := s.analyzer.Run(r.Context(), limit)
	if err != nil {
		s.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data": map[string]int{
			"pending":   rep.Pending,
			"analyzed":  rep.Analyzed,
			"discarded": rep.Discarded,
			"skipped":   rep.Skipped,
			"failed":    rep.Failed,
		},
	})
}

func (s *Server) internalError(w http.ResponseWriter, err error) {
	s.logger.Error("request failed", "error", err)
	writeError(w, http.StatusInternalServerError, err)
}

func intParam(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", name)
	}
	return n, nil
}

// listParam accepts both repeated and comma-separated values.
func listParam(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
