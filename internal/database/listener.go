package database

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	initialReconnectDelay = 250 * time.Millisecond
	maxReconnectDelay     = 30 * time.Second

	defaultFetchAttempts = 3
	defaultFetchDelay    = 100 * time.Millisecond
)

// entryFetcher is the slice of the store the listener reads from.
type entryFetcher interface {
	GetEntry(ctx context.Context, id int64) (*NewsEntry, error)
	GetEntriesSince(ctx context.Context, since time.Time) ([]NewsEntry, error)
}

// listenerConn is the slice of pgx.Conn the listener uses, substitutable in
// tests.
type listenerConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	WaitForNotification(ctx context.Context) (*pgconn.Notification, error)
	Close(ctx context.Context) error
}

// Listener holds the process-wide LISTEN subscription on the news_updates
// channel and turns each notification into a publish on the hub.
//
// The underlying notify mechanism is at-least-once with no replay: events
// emitted while the subscription is down are lost at the channel level. The
// listener bounds that gap by keeping an in-memory watermark (scraped_at of
// the last published entry) and replaying everything newer from the store
// after each reconnect. Delivery across a gap is therefore at-least-once;
// clients dedupe by entry id.
type Listener struct {
	store   entryFetcher
	pub     EntryPublisher
	logger  *log.Logger
	connect func(ctx context.Context) (listenerConn, error)

	healthy atomic.Bool

	// watermark is touched only by the listener goroutine.
	watermark time.Time

	fetchAttempts int
	fetchDelay    time.Duration
}

// NewListener creates the listener. It opens its own dedicated connection on
// Run; LISTEN does not work through a statement-pooled connection.
func NewListener(config *Config, store *Store, pub EntryPublisher, logger *log.Logger) *Listener {
	connString := config.ConnString()
	l := newListener(store, pub, logger)
	l.connect = func(ctx context.Context) (listenerConn, error) {
		return pgx.Connect(ctx, connString)
	}
	return l
}

func newListener(store entryFetcher, pub EntryPublisher, logger *log.Logger) *Listener {
	return &Listener{
		store:         store,
		pub:           pub,
		logger:        logger,
		fetchAttempts: defaultFetchAttempts,
		fetchDelay:    defaultFetchDelay,
	}
}

// Healthy reports whether the subscription is currently established. A false
// value while the process is serving clients means live delivery is degraded
// to catch-up-on-reconnect.
func (l *Listener) Healthy() bool {
	return l.healthy.Load()
}

// Run connects, subscribes and blocks consuming notifications until the
// context is cancelled. Connection loss is retried forever with exponential
// backoff; this loop is the critical path for all live delivery and must
// not give up.
func (l *Listener) Run(ctx context.Context) error {
	delay := initialReconnectDelay
	reconnected := false

	for {
		if ctx.Err() != nil {
			return nil
		}

		conn, err := l.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			l.logger.Warn("[LISTEN] Connect failed", "error", err, "retry_in", delay)
			sleepCtx(ctx, delay)
			delay = nextDelay(delay)
			continue
		}

		if _, err := conn.Exec(ctx, "LISTEN "+NotifyChannel); err != nil {
			conn.Close(context.Background())
			if ctx.Err() != nil {
				return nil
			}
			l.logger.Warn("[LISTEN] Subscribe failed", "error", err, "retry_in", delay)
			sleepCtx(ctx, delay)
			delay = nextDelay(delay)
			continue
		}

		delay = initialReconnectDelay
		l.healthy.Store(true)
		l.logger.Info("[LISTEN] Subscribed", "channel", NotifyChannel)

		if reconnected {
			l.reconcile(ctx)
		}

		err = l.consume(ctx, conn)
		l.healthy.Store(false)
		conn.Close(context.Background())

		if ctx.Err() != nil {
			return nil
		}
		reconnected = true
		l.logger.Warn("[LISTEN] Notification connection lost", "error", err, "retry_in", delay)
		sleepCtx(ctx, delay)
		delay = nextDelay(delay)
	}
}

// consume blocks reading notifications until the connection or context dies.
func (l *Listener) consume(ctx context.Context, conn listenerConn) error {
	for {
		notification, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		l.handleNotification(ctx, notification.Payload)
	}
}

// handleNotification decodes "<topic>:<entry_id>", materializes the entry
// and publishes it. Malformed payloads and unfetchable entries are dropped
// with a log line, never fatal: the reconciliation pass bounds any gap.
func (l *Listener) handleNotification(ctx context.Context, payload string) {
	topic, idStr, found := strings.Cut(payload, ":")
	if !found || topic == "" || idStr == "" {
		l.logger.Warn("[LISTEN] Invalid notification payload", "payload", payload)
		return
	}

	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		l.logger.Warn("[LISTEN] Invalid entry id in payload", "payload", payload)
		return
	}

	entry := l.fetchEntry(ctx, id)
	if entry == nil {
		l.logger.Warn("[LISTEN] Dropping notification, entry not fetchable", "topic", topic, "entry_id", id)
		return
	}

	l.publish(entry)
}

// fetchEntry retries a bounded number of times; a freshly notified row can
// be briefly invisible under replica lag.
func (l *Listener) fetchEntry(ctx context.Context, id int64) *NewsEntry {
	for attempt := 0; attempt < l.fetchAttempts; attempt++ {
		if attempt > 0 {
			sleepCtx(ctx, l.fetchDelay)
		}
		entry, err := l.store.GetEntry(ctx, id)
		if err == nil {
			return entry
		}
		if ctx.Err() != nil {
			return nil
		}
		if !errors.Is(err, ErrNotFound) {
			l.logger.Warn("[LISTEN] Entry fetch failed", "entry_id", id, "attempt", attempt+1, "error", err)
		}
	}
	return nil
}

// reconcile republishes every entry committed past the watermark. Bounds the
// staleness introduced by the notify channel's no-replay property to one
// connection-loss window.
func (l *Listener) reconcile(ctx context.Context) {
	if l.watermark.IsZero() {
		return
	}

	entries, err := l.store.GetEntriesSince(ctx, l.watermark)
	if err != nil {
		l.logger.Error("[LISTEN] Reconciliation query failed", "error", err)
		return
	}
	for i := range entries {
		l.publish(&entries[i])
	}
	l.logger.Info("[LISTEN] Reconciliation complete", "replayed", len(entries))
}

func (l *Listener) publish(entry *NewsEntry) {
	l.pub.PublishEntry(entry)
	if entry.ScrapedAt.After(l.watermark) {
		l.watermark = entry.ScrapedAt
	}
}

func nextDelay(d time.Duration) time.Duration {
	d *= 2
	if d > maxReconnectDelay {
		return maxReconnectDelay
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
