package database

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewStore(mock, log.New(io.Discard)), mock
}

func strPtr(s string) *string { return &s }

func TestInsertEntry_NewRow(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectQuery("INSERT INTO news_entries").
		WithArgs("bitcoin", "BTC hits new high", "https://example.com/a", "example.com", strPtr("Example News")).
		WillReturnRows(pgxmock.NewRows([]string{"id", "scraped_at"}).AddRow(int64(42), now))

	entry, inserted, err := store.InsertEntry(context.Background(),
		"bitcoin", "BTC hits new high", "https://example.com/a", "example.com", strPtr("Example News"))

	require.NoError(t, err)
	assert.True(t, inserted)
	assert.Equal(t, int64(42), entry.ID)
	assert.Equal(t, "bitcoin", entry.Topic)
	assert.Equal(t, now, entry.ScrapedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertEntry_DuplicateReturnsExistingRow(t *testing.T) {
	store, mock := newMockStore(t)
	stored := time.Now().Add(-time.Hour)

	// ON CONFLICT DO NOTHING yields no row, the store re-selects the
	// existing one.
	mock.ExpectQuery("INSERT INTO news_entries").
		WithArgs("bitcoin", "BTC hits new high", "https://example.com/b", "example.com", (*string)(nil)).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("SELECT id, topic, title, url, domain, source, scraped_at").
		WithArgs("bitcoin", "BTC hits new high", "example.com").
		WillReturnRows(pgxmock.NewRows([]string{"id", "topic", "title", "url", "domain", "source", "scraped_at"}).
			AddRow(int64(7), "bitcoin", "BTC hits new high", "https://example.com/a", "example.com", (*string)(nil), stored))

	entry, inserted, err := store.InsertEntry(context.Background(),
		"bitcoin", "BTC hits new high", "https://example.com/b", "example.com", nil)

	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, int64(7), entry.ID)
	// The stored URL wins over the newly scraped one.
	assert.Equal(t, "https://example.com/a", entry.URL)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertEntry_VanishedConflictIsDuplicateNoop(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("INSERT INTO news_entries").
		WithArgs("bitcoin", "gone", "https://example.com/c", "example.com", (*string)(nil)).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("SELECT id, topic, title, url, domain, source, scraped_at").
		WithArgs("bitcoin", "gone", "example.com").
		WillReturnError(pgx.ErrNoRows)

	_, inserted, err := store.InsertEntry(context.Background(),
		"bitcoin", "gone", "https://example.com/c", "example.com", nil)

	require.NoError(t, err)
	assert.False(t, inserted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertEntry_UnknownTopic(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("INSERT INTO news_entries").
		WithArgs("nope", "title", "https://example.com/d", "example.com", (*string)(nil)).
		WillReturnError(&pgconn.PgError{Code: pgFKViolation})

	_, _, err := store.InsertEntry(context.Background(),
		"nope", "title", "https://example.com/d", "example.com", nil)

	assert.ErrorIs(t, err, ErrUnknownTopic)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertEntry_RejectsEmptyFields(t *testing.T) {
	store, _ := newMockStore(t)

	_, _, err := store.InsertEntry(context.Background(), "", "title", "url", "domain", nil)
	assert.Error(t, err)

	_, _, err = store.InsertEntry(context.Background(), "topic", "", "url", "domain", nil)
	assert.Error(t, err)
}

func TestGetEntry_NotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT id, topic, title, url, domain, source, scraped_at").
		WithArgs(int64(99)).
		WillReturnError(pgx.ErrNoRows)

	_, err := store.GetEntry(context.Background(), 99)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetEntriesSince(t *testing.T) {
	store, mock := newMockStore(t)
	since := time.Now().Add(-time.Minute)
	t1 := since.Add(10 * time.Second)
	t2 := since.Add(20 * time.Second)

	mock.ExpectQuery("SELECT id, topic, title, url, domain, source, scraped_at").
		WithArgs(since).
		WillReturnRows(pgxmock.NewRows([]string{"id", "topic", "title", "url", "domain", "source", "scraped_at"}).
			AddRow(int64(1), "bitcoin", "first", "https://a", "a", (*string)(nil), t1).
			AddRow(int64(2), "ethereum", "second", "https://b", "b", (*string)(nil), t2))

	entries, err := store.GetEntriesSince(context.Background(), since)

	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(1), entries[0].ID)
	assert.Equal(t, "ethereum", entries[1].Topic)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTopics_ActiveOnly(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectQuery("SELECT id, name, is_active, created_at FROM topics").
		WithArgs(false).
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "is_active", "created_at"}).
			AddRow(int64(1), "bitcoin", true, now))

	topics, err := store.GetTopics(context.Background(), false)

	require.NoError(t, err)
	require.Len(t, topics, 1)
	assert.Equal(t, "bitcoin", topics[0].Name)
	assert.True(t, topics[0].IsActive)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTopicIsActive(t *testing.T) {
	tests := []struct {
		name      string
		mockSetup func(mock pgxmock.PgxPoolIface)
		want      bool
		wantErr   bool
	}{
		{
			name: "active topic",
			mockSetup: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery("SELECT is_active FROM topics").
					WithArgs("bitcoin").
					WillReturnRows(pgxmock.NewRows([]string{"is_active"}).AddRow(true))
			},
			want: true,
		},
		{
			name: "soft-deleted topic",
			mockSetup: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery("SELECT is_active FROM topics").
					WithArgs("bitcoin").
					WillReturnRows(pgxmock.NewRows([]string{"is_active"}).AddRow(false))
			},
			want: false,
		},
		{
			name: "unknown topic",
			mockSetup: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery("SELECT is_active FROM topics").
					WithArgs("bitcoin").
					WillReturnError(pgx.ErrNoRows)
			},
			want: false,
		},
		{
			name: "query failure",
			mockSetup: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery("SELECT is_active FROM topics").
					WithArgs("bitcoin").
					WillReturnError(errors.New("connection reset"))
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := newMockStore(t)
			tt.mockSetup(mock)

			active, err := store.TopicIsActive(context.Background(), "bitcoin")

			if tt.wantErr {
				assert.Error(t, err)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.want, active)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestAddTopic_RemoveTopic(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO topics").
		WithArgs("bitcoin").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("UPDATE topics SET is_active = FALSE").
		WithArgs("bitcoin").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.AddTopic(context.Background(), "bitcoin"))
	require.NoError(t, store.RemoveTopic(context.Background(), "bitcoin"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRemoveTopic_UnknownIsNoop(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE topics SET is_active = FALSE").
		WithArgs("never-existed").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	assert.NoError(t, store.RemoveTopic(context.Background(), "never-existed"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertScraperLogs(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()
	status := 200

	mock.ExpectExec("INSERT INTO scraper_logs").
		WithArgs("bitcoin", now, true, &status, (*string)(nil)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO scraper_logs").
		WithArgs("bitcoin", now, false, (*int)(nil), strPtr("timeout")).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := store.InsertScraperLogs(context.Background(), []ScraperLog{
		{Topic: "bitcoin", ScrapedAt: now, Success: true, HTTPStatusCode: &status},
		{Topic: "bitcoin", ScrapedAt: now, Success: false, ErrorMessage: strPtr("timeout")},
	})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
