package news

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/elonfeng/marketradar/pkg/source"
)

var (
	// ErrNoLink rejects entries without a usable absolute link.
	ErrNoLink = errors.New("entry has no usable link")
	// ErrNoTitle rejects entries whose cleaned title is empty.
	ErrNoTitle = errors.New("entry has no title")
)

// Normalizer turns raw feed entries into Articles.
type Normalizer struct {
	tagger   *Tagger
	language LanguageDetector
	now      func() time.Time
}

// NewNormalizer creates a normalizer. The language detector is optional and
// only consulted when a feed descriptor carries no language.
func NewNormalizer(tagger *Tagger, language LanguageDetector) *Normalizer {
	if tagger == nil {
		tagger = NewTagger(nil)
	}
	return &Normalizer{
		tagger:   tagger,
		language: language,
		now:      time.Now,
	}
}

// Normalize builds the canonical Article for one entry of feed desc.
func (n *Normalizer) Normalize(entry source.Entry, desc source.Descriptor) (Article, error) {
	title := collapse(stripMarkup(entry.Title))
	if title == "" {
		return Article{}, ErrNoTitle
	}
	if strings.TrimSpace(entry.Link) == "" {
		return Article{}, ErrNoLink
	}
	canonical, err := Canonicalize(entry.Link)
	if err != nil {
		return Article{}, fmt.Errorf("%w: %v", ErrNoLink, err)
	}

	body := entry.Summary
	if strings.TrimSpace(body) == "" {
		body = entry.ContentHTML
	}
	snippet := CleanText(body)

	now := n.now().UTC().Truncate(time.Second)
	published := now
	if entry.Published != nil && !entry.Published.IsZero() {
		published = entry.Published.UTC().Truncate(time.Second)
	}

	lang := strings.ToLower(strings.TrimSpace(desc.Language))
	if lang == "" && n.language != nil {
		lang = n.language.Detect(title + " " + snippet)
	}

	tags := n.tagger.Tags(title + " " + snippet)
	tagsJSON, _ := json.Marshal(tags)

	return Article{
		ID:               ContentID(canonical),
		URL:              canonical,
		Host:             Host(canonical),
		Title:            title,
		Snippet:          snippet,
		PublishedAt:      published,
		SourceID:         desc.ID,
		SourceName:       desc.Name,
		OriginalLanguage: lang,
		Image:            strings.TrimSpace(entry.EnclosureURL),
		Tags:             tags,
		TagsJSON:         string(tagsJSON),
		CreatedAt:        now,
	}, nil
}
