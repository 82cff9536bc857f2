package database

import (
	"errors"
	"time"
)

// Sentinel errors returned by the store.
var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrUnknownTopic indicates the referenced topic does not exist or is inactive.
	ErrUnknownTopic = errors.New("unknown topic")
)

// Topic represents a news topic being tracked for scraping and delivery.
type Topic struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// NewsEntry represents one discovered news item for a topic.
//
// The triple (Topic, Title, Domain) is unique in storage; a repeated insert
// of the same triple is a silent no-op. The topic is carried at the envelope
// level on the wire, so it is excluded from the entry's own JSON form.
type NewsEntry struct {
	ID        int64     `json:"id"`
	Topic     string    `json:"-"`
	Title     string    `json:"title"`
	URL       string    `json:"url"`
	Domain    string    `json:"domain"`
	Source    *string   `json:"source"`
	ScrapedAt time.Time `json:"scraped_at"`
}

// ScraperLog records the outcome of a single scrape attempt, whether or not
// it produced any entries.
type ScraperLog struct {
	ID             int64     `json:"id"`
	Topic          string    `json:"topic"`
	ScrapedAt      time.Time `json:"scraped_at"`
	Success        bool      `json:"success"`
	HTTPStatusCode *int      `json:"http_status_code"`
	ErrorMessage   *string   `json:"error_message"`
}
