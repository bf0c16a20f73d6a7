package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/elonfeng/marketradar/pkg/source"
)

// Config is the root configuration.
type Config struct {
	Database DatabaseConfig      `yaml:"database"`
	Log      LogConfig           `yaml:"log"`
	Schedule ScheduleConfig      `yaml:"schedule"`
	Ingest   IngestConfig        `yaml:"ingest"`
	Feeds    []source.Descriptor `yaml:"feeds"`
	Oracle   OracleConfig        `yaml:"oracle"`
	Scoring  ScoringConfig       `yaml:"scoring"`
	Analyze  AnalyzeConfig       `yaml:"analyze"`
	Alerts   AlertsConfig        `yaml:"alerts"`
	Server   ServerConfig        `yaml:"server"`
	Daemon   DaemonConfig        `yaml:"daemon"`
}

// DatabaseConfig configures SQLite storage.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// ScheduleConfig configures collection and analysis intervals.
type ScheduleConfig struct {
	CollectInterval string `yaml:"collect_interval"`
	AnalyzeInterval string `yaml:"analyze_interval"`
}

// ParseCollectInterval returns the collect interval as time.Duration.
func (s ScheduleConfig) ParseCollectInterval() time.Duration {
	d, err := time.ParseDuration(s.CollectInterval)
	if err != nil || d <= 0 {
		return 15 * time.Minute
	}
	return d
}

// ParseAnalyzeInterval returns the analyze interval as time.Duration.
func (s ScheduleConfig) ParseAnalyzeInterval() time.Duration {
	d, err := time.ParseDuration(s.AnalyzeInterval)
	if err != nil || d <= 0 {
		return 5 * time.Minute
	}
	return d
}

// IngestConfig bounds feed fetching.
type IngestConfig struct {
	Concurrency int    `yaml:"concurrency"`
	Timeout     string `yaml:"timeout"`
}

// ParseTimeout returns the per-feed timeout.
func (c IngestConfig) ParseTimeout() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil || d <= 0 {
		return 20 * time.Second
	}
	return d
}

// OracleConfig configures the LLM analysis oracle.
type OracleConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Provider string `yaml:"provider"` // "openai" or "anthropic"
	Model    string `yaml:"model"`    // empty picks the provider's default
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url"` // custom endpoint (optional)
	Timeout  string `yaml:"timeout"`
	Retries  int    `yaml:"retries"`
}

// ParseTimeout returns the per-call oracle timeout.
func (c OracleConfig) ParseTimeout() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil || d <= 0 {
		return 10 * time.Second
	}
	return d
}

// ScoringConfig configures source trust.
type ScoringConfig struct {
	DefaultReliability float64            `yaml:"default_reliability"`
	Reliability        map[string]float64 `yaml:"reliability"` // by feed id
}

// AnalyzeConfig configures the classification pass.
type AnalyzeConfig struct {
	BatchSize int `yaml:"batch_size"`
}

// AlertsConfig configures alert destinations.
type AlertsConfig struct {
	MinImportance int           `yaml:"min_importance"`
	Slack         SlackConfig   `yaml:"slack"`
	Discord       DiscordConfig `yaml:"discord"`
	Webhook       WebhookConfig `yaml:"webhook"`
}

// SlackConfig for Slack webhook alerts.
type SlackConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
}

// DiscordConfig for Discord webhook alerts.
type DiscordConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
}

// WebhookConfig for generic webhook alerts.
type WebhookConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Secret  string `yaml:"secret"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// DaemonConfig configures the long-running process.
type DaemonConfig struct {
	LockPath string `yaml:"lock_path"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Path: "./marketradar.db"},
		Log:      LogConfig{Level: "info", Format: "text"},
		Schedule: ScheduleConfig{
			CollectInterval: "15m",
			AnalyzeInterval: "5m",
		},
		Ingest: IngestConfig{Concurrency: 4, Timeout: "20s"},
		Feeds: []source.Descriptor{
			{ID: "reuters", Name: "Reuters Business", Language: "en", URL: "https://feeds.reuters.com/reuters/businessNews"},
			{ID: "cnbc", Name: "CNBC Markets", Language: "en", URL: "https://www.cnbc.com/id/15839069/device/rss/rss.html"},
			{ID: "marketwatch", Name: "MarketWatch", Language: "en", URL: "https://feeds.content.dowjones.io/public/rss/mw_topstories"},
			{ID: "coindesk", Name: "CoinDesk", Language: "en", URL: "https://www.coindesk.com/arc/outboundfeeds/rss/"},
			{ID: "yahoo", Name: "Yahoo Finance", Language: "en", URL: "https://finance.yahoo.com/news/rssindex"},
		},
		Oracle: OracleConfig{
			Provider: "openai",
			Timeout:  "10s",
			Retries:  1,
		},
		Scoring: ScoringConfig{DefaultReliability: 0.75},
		Analyze: AnalyzeConfig{BatchSize: 50},
		Alerts:  AlertsConfig{MinImportance: 5},
		Server:  ServerConfig{Port: 8080},
		Daemon:  DaemonConfig{LockPath: "./marketradar.lock"},
	}
}

// Load reads configuration from a YAML file and applies env var overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	var errs []error
	seen := make(map[string]bool, len(c.Feeds))
	for i, f := range c.Feeds {
		switch {
		case f.ID == "":
			errs = append(errs, fmt.Errorf("feeds[%d]: empty id", i))
		case seen[f.ID]:
			errs = append(errs, fmt.Errorf("feeds[%d]: duplicate id %q", i, f.ID))
		}
		seen[f.ID] = true
		if f.URL == "" {
			errs = append(errs, fmt.Errorf("feeds[%d]: empty url", i))
		}
	}
	if c.Ingest.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("ingest.concurrency must be at least 1, got %d", c.Ingest.Concurrency))
	}
	if r := c.Scoring.DefaultReliability; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("scoring.default_reliability %.2f outside 0-1", r))
	}
	for id, r := range c.Scoring.Reliability {
		if r < 0 || r > 1 {
			errs = append(errs, fmt.Errorf("scoring.reliability[%s] %.2f outside 0-1", id, r))
		}
	}
	if m := c.Alerts.MinImportance; m < 1 || m > 5 {
		errs = append(errs, fmt.Errorf("alerts.min_importance %d outside 1-5", m))
	}
	if c.Database.Path == "" {
		errs = append(errs, errors.New("database.path is empty"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// applyEnvOverrides overrides config values with environment variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MARKETRADAR_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("MARKETRADAR_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("SLACK_WEBHOOK_URL"); v != "" {
		cfg.Alerts.Slack.WebhookURL = v
		cfg.Alerts.Slack.Enabled = true
	}
	if v := os.Getenv("DISCORD_WEBHOOK_URL"); v != "" {
		cfg.Alerts.Discord.WebhookURL = v
		cfg.Alerts.Discord.Enabled = true
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.Oracle.APIKey = v
		cfg.Oracle.Enabled = true
		setProvider(&cfg.Oracle, "openai")
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.Oracle.APIKey = v
		cfg.Oracle.Enabled = true
		setProvider(&cfg.Oracle, "anthropic")
	}
}

// setProvider switches the oracle provider, dropping a model configured for
// a different one.
func setProvider(o *OracleConfig, provider string) {
	if o.Provider != provider {
		o.Model = ""
	}
	o.Provider = provider
}
