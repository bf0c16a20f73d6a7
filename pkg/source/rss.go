package source

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
)

const userAgent = "marketradar/1.0"

// RSS fetches RSS, Atom and JSON feeds.
type RSS struct {
	client *http.Client
	parser *gofeed.Parser
}

// NewRSS creates a feed client. A nil http.Client uses a default one.
func NewRSS(client *http.Client) *RSS {
	if client == nil {
		client = &http.Client{}
	}
	return &RSS{
		client: client,
		parser: gofeed.NewParser(),
	}
}

// Fetch downloads and parses feedURL. The timeout bounds the whole request,
// body included, so a slow feed is abandoned instead of stalling the batch.
func (r *RSS) Fetch(ctx context.Context, feedURL string, timeout time.Duration) ([]Entry, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: create request %s: %v", ErrFetch, feedURL, err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: get %s: %v", ErrFetch, feedURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s status %d", ErrFetch, feedURL, resp.StatusCode)
	}

	parsed, err := r.parser.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrFetch, feedURL, err)
	}

	var entries []Entry
	for _, item := range parsed.Items {
		if item == nil {
			continue
		}
		entries = append(entries, toEntry(item))
	}
	return entries, nil
}

func toEntry(item *gofeed.Item) Entry {
	e := Entry{
		Title:       item.Title,
		Link:        item.Link,
		Summary:     item.Description,
		ContentHTML: item.Content,
	}
	if e.Link == "" && len(item.Links) > 0 {
		e.Link = item.Links[0]
	}

	switch {
	case item.PublishedParsed != nil:
		t := item.PublishedParsed.UTC()
		e.Published = &t
	case item.UpdatedParsed != nil:
		t := item.UpdatedParsed.UTC()
		e.Published = &t
	}

	for _, enc := range item.Enclosures {
		if enc != nil && enc.URL != "" && (enc.Type == "" || strings.HasPrefix(enc.Type, "image/")) {
			e.EnclosureURL = enc.URL
			break
		}
	}
	if e.EnclosureURL == "" && item.Image != nil {
		e.EnclosureURL = item.Image.URL
	}
	return e
}
