package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/elonfeng/marketradar/pkg/news"
)

const relevancePrompt = `You are a financial news desk editor. Decide whether the article below is relevant to financial markets: it should plausibly move or inform prices of equities, crypto, ETFs, indices, bonds or currencies.

Article:
Source: %s
Title: %s
Snippet: %s

Respond with a JSON object: {"relevant": true|false, "reason": "one sentence"}.
Return ONLY the JSON object, no other text.`

const analysisPrompt = `You are a markets analyst. Assess the market impact of the article below.

Article:
Source: %s
Published: %s
Title: %s
Snippet: %s
Tags: %s

Respond with a JSON object with these fields:
- "relevant" (bool): is the article market relevant at all
- "reason" (string): one sentence
- "primary_topic" (string): short label of the event, e.g. "ECB rate decision"
- "affected_assets" (array): each {"symbol": ticker, "asset_type": "equity"|"crypto"|"etf"|"index"|"bond"|"fx", "direction": "up"|"down"|"unclear", "impact": 1-5, "horizon": "intraday"|"swing"|"long", "confidence": 0-1}
- "macro_tags" (array of strings): e.g. ["rates", "inflation"]
- "notes" (string): one or two sentences of context
- "sources" (array of strings): outlets cited in the article, if any

Be strict: impact 4-5 only for events that clearly move the asset. Return ONLY the JSON object, no other text.`

// LLM is an Oracle backed by an OpenAI- or Anthropic-compatible chat API.
type LLM struct {
	client   *http.Client
	provider string // "openai" or "anthropic"
	model    string
	apiKey   string
	baseURL  string
	timeout  time.Duration
	retries  int
	logger   *slog.Logger
}

// LLMOptions configures an LLM oracle.
type LLMOptions struct {
	Provider string
	Model    string
	APIKey   string
	BaseURL  string
	Timeout  time.Duration
	Retries  int
	Client   *http.Client
	Logger   *slog.Logger
}

// NewLLM creates an LLM oracle.
func NewLLM(opts LLMOptions) *LLM {
	if opts.Model == "" {
		switch opts.Provider {
		case "anthropic":
			opts.Model = "claude-sonnet-4-20250514"
		default:
			opts.Model = "gpt-4o-mini"
		}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.Client == nil {
		opts.Client = &http.Client{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &LLM{
		client:   opts.Client,
		provider: opts.Provider,
		model:    opts.Model,
		apiKey:   opts.APIKey,
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		timeout:  opts.Timeout,
		retries:  opts.Retries,
		logger:   opts.Logger,
	}
}

// ClassifyRelevance asks the model whether a is market relevant.
func (l *LLM) ClassifyRelevance(ctx context.Context, a news.Article) (Relevance, error) {
	if l == nil {
		return Relevance{}, ErrDisabled
	}
	prompt := fmt.Sprintf(relevancePrompt, a.SourceName, a.Title, a.Snippet)

	var rel Relevance
	if err := l.complete(ctx, prompt, &rel); err != nil {
		return Relevance{}, fmt.Errorf("classify relevance %s: %w", a.ID, err)
	}
	return rel, nil
}

// Analyze asks the model for a structured assessment of a. Assessments that
// fail validation are returned as ErrInvalidAssessment.
func (l *LLM) Analyze(ctx context.Context, a news.Article) (Assessment, error) {
	if l == nil {
		return Assessment{}, ErrDisabled
	}
	prompt := fmt.Sprintf(analysisPrompt,
		a.SourceName, a.PublishedAt.Format(time.RFC3339), a.Title, a.Snippet, strings.Join(a.Tags, ", "))

	var out Assessment
	if err := l.complete(ctx, prompt, &out); err != nil {
		return Assessment{}, fmt.Errorf("analyze %s: %w", a.ID, err)
	}
	out.Normalize()
	if err := out.Validate(); err != nil {
		return Assessment{}, fmt.Errorf("analyze %s: %w", a.ID, err)
	}
	return out, nil
}

// complete runs one prompt with the retry budget and decodes the JSON reply into v.
func (l *LLM) complete(ctx context.Context, prompt string, v any) error {
	var lastErr error
	for attempt := 0; attempt <= l.retries; attempt++ {
		if attempt > 0 {
			l.logger.Debug("retrying oracle call", "attempt", attempt, "error", lastErr)
		}
		raw, err := l.call(ctx, prompt)
		if err == nil {
			err = decodeJSON(raw, v)
		}
		if err == nil {
			return nil
		}
		lastErr = err
		if ctx.Err() != nil || !retryable(err) {
			break
		}
	}
	return lastErr
}

func (l *LLM) call(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	switch l.provider {
	case "anthropic":
		return l.callAnthropic(ctx, prompt)
	default:
		return l.callOpenAI(ctx, prompt)
	}
}

type statusError struct {
	provider string
	code     int
	body     string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%s status %d: %s", e.provider, e.code, e.body)
}

func retryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.code == http.StatusTooManyRequests || se.code >= 500
	}
	return true
}

func (l *LLM) callOpenAI(ctx context.Context, prompt string) (string, error) {
	baseURL := l.baseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}

	payload := map[string]any{
		"model": l.model,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
		"temperature":     0.1,
		"response_format": map[string]string{"type": "json_object"},
	}

	body, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create openai request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+l.apiKey)

	resp, err := l.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("call openai: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", &statusError{provider: "openai", code: resp.StatusCode, body: string(b)}
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode openai response: %w", err)
	}
	if len(result.Choices) == 0 {
		return "", errors.New("openai: no choices returned")
	}
	return result.Choices[0].Message.Content, nil
}

func (l *LLM) callAnthropic(ctx context.Context, prompt string) (string, error) {
	baseURL := l.baseURL
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}

	payload := map[string]any{
		"model":      l.model,
		"max_tokens": 1024,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
	}

	body, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create anthropic request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", l.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := l.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("call anthropic: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", &statusError{provider: "anthropic", code: resp.StatusCode, body: string(b)}
	}

	var result struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode anthropic response: %w", err)
	}
	if len(result.Content) == 0 {
		return "", errors.New("anthropic: no content returned")
	}
	return result.Content[0].Text, nil
}

// decodeJSON parses a model reply, tolerating a markdown code fence around it.
func decodeJSON(raw string, v any) error {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		if idx := strings.Index(raw[3:], "\n"); idx >= 0 {
			raw = raw[3+idx+1:]
		}
		raw = strings.TrimSpace(strings.TrimSuffix(raw, "```"))
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("parse llm response: %w (raw: %s)", err, truncate(raw, 300))
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
