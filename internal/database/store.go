package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// foreign key violation (unknown topic on insert)
const pgFKViolation = "23503"

// Querier is the subset of pgxpool.Pool the store needs. Tests substitute a
// pgxmock pool.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store provides idempotent entry ingestion plus topic and log persistence.
type Store struct {
	db     Querier
	logger *log.Logger
}

// NewStore creates a store on top of an open pool.
func NewStore(db Querier, logger *log.Logger) *Store {
	return &Store{db: db, logger: logger}
}

const insertEntryQuery = `
	INSERT INTO news_entries (topic, title, url, domain, source)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (topic, title, domain) DO NOTHING
	RETURNING id, scraped_at
`

const selectEntryByKeyQuery = `
	SELECT id, topic, title, url, domain, source, scraped_at
	FROM news_entries
	WHERE topic = $1 AND title = $2 AND domain = $3
`

// InsertEntry stores a scraped entry keyed by (topic, title, domain).
//
// A new row returns inserted=true; the insert trigger emits exactly one
// change notification inside the same transaction. If the triple already
// exists the existing row is returned with inserted=false and nothing is
// emitted. A topic that does not exist yields ErrUnknownTopic.
func (s *Store) InsertEntry(ctx context.Context, topic, title, url, domain string, source *string) (*NewsEntry, bool, error) {
	if topic == "" || title == "" || url == "" || domain == "" {
		return nil, false, errors.New("topic, title, url and domain must be non-empty")
	}

	entry := NewsEntry{
		Topic:  topic,
		Title:  title,
		URL:    url,
		Domain: domain,
		Source: source,
	}

	err := s.db.QueryRow(ctx, insertEntryQuery, topic, title, url, domain, source).
		Scan(&entry.ID, &entry.ScrapedAt)
	if err == nil {
		return &entry, true, nil
	}

	if !errors.Is(err, pgx.ErrNoRows) {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgFKViolation {
			return nil, false, fmt.Errorf("insert entry for topic %q: %w", topic, ErrUnknownTopic)
		}
		return nil, false, fmt.Errorf("insert entry: %w", err)
	}

	// Conflict: the triple already exists. Return the stored row untouched.
	existing, err := s.scanEntry(s.db.QueryRow(ctx, selectEntryByKeyQuery, topic, title, domain))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// The conflicting row vanished between the two statements
			// (cascading topic delete). Treat as a duplicate no-op.
			return &entry, false, nil
		}
		return nil, false, fmt.Errorf("select existing entry: %w", err)
	}
	return existing, false, nil
}

const selectEntryByIDQuery = `
	SELECT id, topic, title, url, domain, source, scraped_at
	FROM news_entries
	WHERE id = $1
`

// GetEntry fetches a single entry by id, returning ErrNotFound when absent.
func (s *Store) GetEntry(ctx context.Context, id int64) (*NewsEntry, error) {
	entry, err := s.scanEntry(s.db.QueryRow(ctx, selectEntryByIDQuery, id))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get entry %d: %w", id, err)
	}
	return entry, nil
}

const selectEntriesQuery = `
	SELECT id, topic, title, url, domain, source, scraped_at
	FROM news_entries
	WHERE topic = $1
	ORDER BY scraped_at DESC
	LIMIT $2 OFFSET $3
`

// GetEntries returns entries for a topic, newest first.
func (s *Store) GetEntries(ctx context.Context, topic string, limit, offset int) ([]NewsEntry, error) {
	rows, err := s.db.Query(ctx, selectEntriesQuery, topic, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("get entries: %w", err)
	}
	return scanEntries(rows)
}

const countEntriesQuery = `SELECT COUNT(id) FROM news_entries WHERE topic = $1`

// CountEntries returns the total number of entries stored for a topic.
func (s *Store) CountEntries(ctx context.Context, topic string) (int, error) {
	var count int
	if err := s.db.QueryRow(ctx, countEntriesQuery, topic).Scan(&count); err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return count, nil
}

const selectEntriesSinceQuery = `
	SELECT id, topic, title, url, domain, source, scraped_at
	FROM news_entries
	WHERE scraped_at > $1
	ORDER BY scraped_at ASC, id ASC
`

// GetEntriesSince returns all entries committed after the given time in
// ascending commit order. Used by the listener's reconciliation pass, so
// replay preserves per-topic ordering.
func (s *Store) GetEntriesSince(ctx context.Context, since time.Time) ([]NewsEntry, error) {
	rows, err := s.db.Query(ctx, selectEntriesSinceQuery, since)
	if err != nil {
		return nil, fmt.Errorf("get entries since: %w", err)
	}
	return scanEntries(rows)
}

const selectTopicsQuery = `
	SELECT id, name, is_active, created_at FROM topics
	WHERE is_active = TRUE OR $1
	ORDER BY created_at DESC
`

// GetTopics lists topics, newest first. Inactive topics are included only
// when includeInactive is set.
func (s *Store) GetTopics(ctx context.Context, includeInactive bool) ([]Topic, error) {
	rows, err := s.db.Query(ctx, selectTopicsQuery, includeInactive)
	if err != nil {
		return nil, fmt.Errorf("get topics: %w", err)
	}
	defer rows.Close()

	var topics []Topic
	for rows.Next() {
		var t Topic
		if err := rows.Scan(&t.ID, &t.Name, &t.IsActive, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan topic: %w", err)
		}
		topics = append(topics, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate topics: %w", err)
	}
	return topics, nil
}

const upsertTopicQuery = `
	INSERT INTO topics (name, is_active) VALUES ($1, TRUE)
	ON CONFLICT (name) DO UPDATE SET is_active = TRUE
`

// AddTopic creates a topic or reactivates a previously removed one.
func (s *Store) AddTopic(ctx context.Context, name string) error {
	if name == "" {
		return errors.New("topic name must be non-empty")
	}
	if _, err := s.db.Exec(ctx, upsertTopicQuery, name); err != nil {
		return fmt.Errorf("add topic: %w", err)
	}
	return nil
}

const deactivateTopicQuery = `UPDATE topics SET is_active = FALSE WHERE name = $1`

// RemoveTopic soft-deletes a topic. Removing an unknown topic succeeds
// silently, so the operation is idempotent.
func (s *Store) RemoveTopic(ctx context.Context, name string) error {
	if _, err := s.db.Exec(ctx, deactivateTopicQuery, name); err != nil {
		return fmt.Errorf("remove topic: %w", err)
	}
	return nil
}

const topicActiveQuery = `SELECT is_active FROM topics WHERE name = $1`

// TopicIsActive reports whether a topic exists and is active.
func (s *Store) TopicIsActive(ctx context.Context, name string) (bool, error) {
	var active bool
	err := s.db.QueryRow(ctx, topicActiveQuery, name).Scan(&active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("check topic: %w", err)
	}
	return active, nil
}

const insertScraperLogQuery = `
	INSERT INTO scraper_logs (topic, scraped_at, success, http_status_code, error_message)
	VALUES ($1, $2, $3, $4, $5)
`

// InsertScraperLogs persists one row per scrape attempt.
func (s *Store) InsertScraperLogs(ctx context.Context, logs []ScraperLog) error {
	for _, l := range logs {
		_, err := s.db.Exec(ctx, insertScraperLogQuery,
			l.Topic, l.ScrapedAt, l.Success, l.HTTPStatusCode, l.ErrorMessage)
		if err != nil {
			return fmt.Errorf("insert scraper log: %w", err)
		}
	}
	return nil
}

const selectScraperLogsQuery = `
	SELECT id, topic, scraped_at, success, http_status_code, error_message
	FROM scraper_logs
	ORDER BY scraped_at DESC
	LIMIT $1
`

// GetScraperLogs returns recent scrape attempts, newest first.
func (s *Store) GetScraperLogs(ctx context.Context, limit int) ([]ScraperLog, error) {
	rows, err := s.db.Query(ctx, selectScraperLogsQuery, limit)
	if err != nil {
		return nil, fmt.Errorf("get scraper logs: %w", err)
	}
	defer rows.Close()

	var logs []ScraperLog
	for rows.Next() {
		var l ScraperLog
		if err := rows.Scan(&l.ID, &l.Topic, &l.ScrapedAt, &l.Success, &l.HTTPStatusCode, &l.ErrorMessage); err != nil {
			return nil, fmt.Errorf("scan scraper log: %w", err)
		}
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scraper logs: %w", err)
	}
	return logs, nil
}

func (s *Store) scanEntry(row pgx.Row) (*NewsEntry, error) {
	var e NewsEntry
	err := row.Scan(&e.ID, &e.Topic, &e.Title, &e.URL, &e.Domain, &e.Source, &e.ScrapedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &e, nil
}

func scanEntries(rows pgx.Rows) ([]NewsEntry, error) {
	defer rows.Close()

	var entries []NewsEntry
	for rows.Next() {
		var e NewsEntry
		if err := rows.Scan(&e.ID, &e.Topic, &e.Title, &e.URL, &e.Domain, &e.Source, &e.ScrapedAt); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return entries, nil
}
