// Package watcher runs the periodic scrape cycle: for every active topic,
// fetch fresh entries from the source and insert them through the store.
// Live delivery to WebSocket sessions is not its concern; committed inserts
// reach subscribers through the database notification listener.
package watcher

import (
	"context"
	"errors"
	"time"

	"github.com/abja/topic-streams/internal/database"
	"github.com/charmbracelet/log"
)

// Source produces candidate entries for a topic, plus one log row per page
// attempted.
type Source interface {
	ScrapeTopic(ctx context.Context, topicName string) ([]database.NewsEntry, []database.ScraperLog)
}

// Store is the persistence surface the watcher needs.
type Store interface {
	GetTopics(ctx context.Context, includeInactive bool) ([]database.Topic, error)
	InsertEntry(ctx context.Context, topic, title, url, domain string, source *string) (*database.NewsEntry, bool, error)
	InsertScraperLogs(ctx context.Context, logs []database.ScraperLog) error
}

// Watcher orchestrates scrape cycles across all active topics.
type Watcher struct {
	store    Store
	source   Source
	interval time.Duration
	logger   *log.Logger
}

// New creates a watcher. An interval of zero or less disables the periodic
// cycle; RunOnce can still be called directly.
func New(store Store, source Source, interval time.Duration, logger *log.Logger) *Watcher {
	return &Watcher{
		store:    store,
		source:   source,
		interval: interval,
		logger:   logger,
	}
}

// Run executes a cycle immediately, then on every interval tick until the
// context is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	if w.interval <= 0 {
		w.logger.Info("[SCRAPE] Periodic scraping disabled")
		<-ctx.Done()
		return nil
	}

	w.logger.Info("[SCRAPE] Watcher started", "interval", w.interval)
	w.RunOnce(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("[SCRAPE] Watcher stopped")
			return nil
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce scrapes every active topic a single time. A failure on one topic
// does not stop the cycle for the rest.
func (w *Watcher) RunOnce(ctx context.Context) {
	topics, err := w.store.GetTopics(ctx, false)
	if err != nil {
		w.logger.Error("[SCRAPE] Failed to list active topics", "error", err)
		return
	}
	if len(topics) == 0 {
		w.logger.Debug("[SCRAPE] No active topics")
		return
	}

	for _, t := range topics {
		if ctx.Err() != nil {
			return
		}
		w.scrapeTopic(ctx, t.Name)
	}
}

func (w *Watcher) scrapeTopic(ctx context.Context, topicName string) {
	entries, logs := w.source.ScrapeTopic(ctx, topicName)

	var inserted, duplicates int
	for _, entry := range entries {
		_, fresh, err := w.store.InsertEntry(ctx, entry.Topic, entry.Title, entry.URL, entry.Domain, entry.Source)
		if err != nil {
			if errors.Is(err, database.ErrUnknownTopic) {
				// Topic was removed mid-cycle; the rest of this batch
				// would fail the same way.
				w.logger.Warn("[SCRAPE] Topic vanished during cycle", "topic", topicName)
				break
			}
			w.logger.Error("[SCRAPE] Failed to insert entry", "topic", topicName, "title", entry.Title, "error", err)
			continue
		}
		if fresh {
			inserted++
		} else {
			duplicates++
		}
	}

	if err := w.store.InsertScraperLogs(ctx, logs); err != nil {
		w.logger.Error("[SCRAPE] Failed to persist scraper logs", "topic", topicName, "error", err)
	}

	w.logger.Info("[SCRAPE] Cycle complete", "topic", topicName,
		"found", len(entries), "inserted", inserted, "duplicates", duplicates)
}
