package database

import (
	"context"
	"fmt"
)

// NotifyChannel is the Postgres channel the insert trigger publishes to.
// The payload is "<topic>:<entry_id>"; consumers split on the first colon.
// Normalized topic names cannot contain a colon.
const NotifyChannel = "news_updates"

const schema = `
CREATE TABLE IF NOT EXISTS topics (
	id BIGSERIAL PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS news_entries (
	id BIGSERIAL PRIMARY KEY,
	topic TEXT NOT NULL REFERENCES topics(name) ON DELETE CASCADE,
	title TEXT NOT NULL,
	url TEXT NOT NULL,
	domain TEXT NOT NULL,
	source TEXT,
	scraped_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	CONSTRAINT news_entries_topic_title_domain_key UNIQUE (topic, title, domain)
);

CREATE INDEX IF NOT EXISTS idx_news_entries_topic_scraped ON news_entries(topic, scraped_at DESC);
CREATE INDEX IF NOT EXISTS idx_news_entries_scraped_at ON news_entries(scraped_at);

CREATE TABLE IF NOT EXISTS scraper_logs (
	id BIGSERIAL PRIMARY KEY,
	topic TEXT NOT NULL,
	scraped_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	success BOOLEAN NOT NULL DEFAULT TRUE,
	http_status_code INTEGER,
	error_message TEXT
);

CREATE INDEX IF NOT EXISTS idx_scraper_logs_scraped_at ON scraper_logs(scraped_at DESC);
`

// The trigger fires inside the inserting transaction, so a notification is
// only ever observed for a committed row, and a conflict-suppressed insert
// (ON CONFLICT DO NOTHING) never fires it.
const notifyTrigger = `
CREATE OR REPLACE FUNCTION notify_news_entry() RETURNS trigger AS $$
BEGIN
	PERFORM pg_notify('` + NotifyChannel + `', NEW.topic || ':' || NEW.id);
	RETURN NEW;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS news_entries_notify ON news_entries;
CREATE TRIGGER news_entries_notify
	AFTER INSERT ON news_entries
	FOR EACH ROW EXECUTE FUNCTION notify_news_entry();
`

// initSchema creates tables, indexes and the notification trigger.
func (d *DB) initSchema(ctx context.Context) error {
	if _, err := d.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	if _, err := d.pool.Exec(ctx, notifyTrigger); err != nil {
		return fmt.Errorf("failed to create notify trigger: %w", err)
	}
	return nil
}
