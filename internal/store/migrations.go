package store

const schema = `
CREATE TABLE IF NOT EXISTS articles (
    id                TEXT PRIMARY KEY,
    url               TEXT NOT NULL,
    host              TEXT NOT NULL,
    title             TEXT NOT NULL,
    snippet           TEXT NOT NULL DEFAULT '',
    published_at      DATETIME NOT NULL,
    source_id         TEXT NOT NULL,
    source_name       TEXT NOT NULL DEFAULT '',
    original_language TEXT NOT NULL DEFAULT '',
    image             TEXT NOT NULL DEFAULT '',
    tags              TEXT NOT NULL DEFAULT '[]',
    created_at        DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_articles_host_published ON articles(host, published_at);
CREATE INDEX IF NOT EXISTS idx_articles_published_at ON articles(published_at);
CREATE INDEX IF NOT EXISTS idx_articles_created_at ON articles(created_at);

CREATE TABLE IF NOT EXISTS analyses (
    id              TEXT PRIMARY KEY,
    topic_key       TEXT NOT NULL UNIQUE,
    article_id      TEXT NOT NULL,
    published_at    DATETIME NOT NULL,
    source_id       TEXT NOT NULL DEFAULT '',
    source_name     TEXT NOT NULL DEFAULT '',
    source_url      TEXT NOT NULL DEFAULT '',
    title           TEXT NOT NULL,
    tickers         TEXT NOT NULL DEFAULT '[]',
    categories      TEXT NOT NULL DEFAULT '[]',
    summary         TEXT NOT NULL DEFAULT '',
    affected_assets TEXT NOT NULL DEFAULT '[]',
    importance      INTEGER NOT NULL,
    confidence      REAL NOT NULL DEFAULT 0,
    primary_topic   TEXT NOT NULL DEFAULT '',
    macro_tags      TEXT NOT NULL DEFAULT '[]',
    sources         TEXT NOT NULL DEFAULT '[]',
    degraded        BOOLEAN NOT NULL DEFAULT 0,
    created_at      DATETIME NOT NULL,
    updated_at      DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_analyses_rank ON analyses(importance DESC, published_at DESC);
CREATE INDEX IF NOT EXISTS idx_analyses_created_at ON analyses(created_at);

CREATE TABLE IF NOT EXISTS processed_articles (
    article_id   TEXT PRIMARY KEY,
    topic_key    TEXT NOT NULL DEFAULT '',
    outcome      TEXT NOT NULL,
    processed_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_processed_topic ON processed_articles(topic_key);
`
