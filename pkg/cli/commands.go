// Package cli implements the topic-streams subcommands.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/abja/topic-streams/internal/database"
	"github.com/abja/topic-streams/internal/scrape"
	"github.com/abja/topic-streams/internal/topic"
	"github.com/abja/topic-streams/internal/web"
	"github.com/abja/topic-streams/pkg/version"
	"github.com/abja/topic-streams/pkg/watcher"
)

func newLogger(debug bool) *log.Logger {
	level := log.InfoLevel
	if debug {
		level = log.DebugLevel
	}
	return log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		Level:           level,
	})
}

// Serve runs the full pipeline: database, notification listener, WebSocket
// hub, REST/WS server and the periodic scraper.
func Serve(port int, scrapeInterval time.Duration, debug bool) error {
	logger := newLogger(debug)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	config := database.NewConfigFromEnv()
	db, err := database.New(ctx, config)
	if err != nil {
		return fmt.Errorf("database initialization failed: %w", err)
	}
	defer db.Close()
	logger.Info("Database ready", "host", config.Host, "db", config.DBName)

	store := database.NewStore(db.Pool(), logger)
	hub := web.NewHub(logger, store)
	listener := database.NewListener(config, store, hub, logger)
	server := web.NewServer(store, hub, listener.Healthy, port, logger, version.GetBuildInfo().Version)
	scraper := watcher.New(store, scrape.New(logger), scrapeInterval, logger)

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		hub.Run(ctx)
		return nil
	})
	group.Go(func() error {
		return listener.Run(ctx)
	})
	group.Go(func() error {
		return scraper.Run(ctx)
	})
	group.Go(func() error {
		return server.Start(ctx)
	})

	if err := group.Wait(); err != nil {
		return fmt.Errorf("serve failed: %w", err)
	}
	logger.Info("Shutdown complete")
	return nil
}

// Scrape runs a single scrape cycle for one topic, registering it first.
func Scrape(topicName string, debug bool) error {
	logger := newLogger(debug)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	name := topic.Normalize(topicName)
	if name == "" {
		return fmt.Errorf("topic name %q normalizes to empty", topicName)
	}

	db, err := database.New(ctx, database.NewConfigFromEnv())
	if err != nil {
		return fmt.Errorf("database initialization failed: %w", err)
	}
	defer db.Close()

	store := database.NewStore(db.Pool(), logger)
	if err := store.AddTopic(ctx, name); err != nil {
		return fmt.Errorf("failed to register topic: %w", err)
	}

	entries, logs := scrape.New(logger).ScrapeTopic(ctx, name)

	var inserted, duplicates int
	for _, entry := range entries {
		_, fresh, err := store.InsertEntry(ctx, entry.Topic, entry.Title, entry.URL, entry.Domain, entry.Source)
		if err != nil {
			logger.Error("Failed to insert entry", "title", entry.Title, "error", err)
			continue
		}
		if fresh {
			inserted++
		} else {
			duplicates++
		}
	}
	if err := store.InsertScraperLogs(ctx, logs); err != nil {
		logger.Error("Failed to persist scraper logs", "error", err)
	}

	fmt.Printf("Topic %q: %d found, %d inserted, %d duplicates\n",
		name, len(entries), inserted, duplicates)
	return nil
}

// Inspect prints stored entries for a topic as a table.
func Inspect(topicName string, limit int, since string) error {
	logger := newLogger(false)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	name := topic.Normalize(topicName)
	if name == "" {
		return fmt.Errorf("topic name %q normalizes to empty", topicName)
	}

	db, err := database.New(ctx, database.NewConfigFromEnv())
	if err != nil {
		return fmt.Errorf("database initialization failed: %w", err)
	}
	defer db.Close()
	store := database.NewStore(db.Pool(), logger)

	var entries []database.NewsEntry
	if since != "" {
		duration, err := time.ParseDuration(since)
		if err != nil {
			return fmt.Errorf("invalid time format for --since: %w", err)
		}
		all, err := store.GetEntriesSince(ctx, time.Now().Add(-duration))
		if err != nil {
			return fmt.Errorf("failed to query entries: %w", err)
		}
		// GetEntriesSince spans all topics in ascending order; filter and
		// flip to match the newest-first listing.
		for i := len(all) - 1; i >= 0 && len(entries) < limit; i-- {
			if all[i].Topic == name {
				entries = append(entries, all[i])
			}
		}
	} else {
		entries, err = store.GetEntries(ctx, name, limit, 0)
		if err != nil {
			return fmt.Errorf("failed to query entries: %w", err)
		}
	}

	if len(entries) == 0 {
		fmt.Printf("No entries found for topic %q.\n", name)
		return nil
	}

	fmt.Println("Scraped At           Title                                     Domain                 Source")
	fmt.Println("-------------------- ----------------------------------------- ---------------------- ----------------")
	for _, entry := range entries {
		source := ""
		if entry.Source != nil {
			source = *entry.Source
		}
		fmt.Printf("%-20s %-41s %-22s %s\n",
			entry.ScrapedAt.Format("2006-01-02 15:04:05"),
			truncateString(entry.Title, 41),
			truncateString(entry.Domain, 22),
			truncateString(source, 16),
		)
	}

	total, err := store.CountEntries(ctx, name)
	if err == nil {
		fmt.Printf("\nShowing %d of %d total entries for %q\n", len(entries), total, name)
	}
	return nil
}

// truncateString truncates a string to the specified length
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
