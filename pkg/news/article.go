// Package news turns raw feed entries into canonical articles and decides
// whether two articles are near-duplicates of each other.
package news

import "time"

// Article is one normalized news item. It is created once and never mutated.
type Article struct {
	ID               string    `json:"id" db:"id"`
	URL              string    `json:"url" db:"url"`
	Host             string    `json:"-" db:"host"`
	Title            string    `json:"title" db:"title"`
	Snippet          string    `json:"snippet" db:"snippet"`
	PublishedAt      time.Time `json:"published_at" db:"published_at"`
	SourceID         string    `json:"source_id" db:"source_id"`
	SourceName       string    `json:"source_name" db:"source_name"`
	OriginalLanguage string    `json:"original_language" db:"original_language"`
	Image            string    `json:"image,omitempty" db:"image"`
	Tags             []string  `json:"tags" db:"-"`
	TagsJSON         string    `json:"-" db:"tags"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
}
