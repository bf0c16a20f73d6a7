package source

import (
	"context"
	"errors"
	"time"
)

// ErrFetch marks a feed that could not be fetched or parsed. An empty feed
// is not an error: Fetch returns a nil slice and a nil error.
var ErrFetch = errors.New("feed fetch failed")

// Descriptor is the static description of one upstream feed.
type Descriptor struct {
	ID       string `yaml:"id" json:"id"`
	Name     string `yaml:"name" json:"name"`
	Language string `yaml:"language" json:"language"`
	URL      string `yaml:"url" json:"url"`
}

// Entry is one raw item as returned by a feed, before normalization.
type Entry struct {
	Title        string
	Link         string
	Published    *time.Time
	Summary      string
	ContentHTML  string
	EnclosureURL string
}

// Client fetches a single feed.
type Client interface {
	Fetch(ctx context.Context, feedURL string, timeout time.Duration) ([]Entry, error)
}
