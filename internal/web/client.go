package web

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/abja/topic-streams/internal/database"
	"github.com/abja/topic-streams/internal/topic"
	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second

	maxRequestSize = 512
	sendQueueSize  = 256

	// A session that forces this many drops in a row is closed; a clearly
	// slower client must not accumulate backlog forever.
	maxConsecutiveDrops = 64

	drainGrace = time.Second

	// Bounds the registry lookup on subscribe so a stalled database cannot
	// wedge the session's read loop.
	subscribeTimeout = 5 * time.Second
)

// Session lifecycle. Transitions are one-way:
// connecting -> active -> draining -> closed.
const (
	stateConnecting int32 = iota
	stateActive
	stateDraining
	stateClosed
)

// wsConn is the transport surface a session uses; *websocket.Conn satisfies
// it, tests substitute a scripted fake.
type wsConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(string) error)
	Close() error
}

// subscriptionRequest is the only client-to-server message shape.
type subscriptionRequest struct {
	Action string `json:"action"`
	Topic  string `json:"topic"`
}

// Client is one live WebSocket session: a bounded outbound queue, a mutable
// subscription set held in the hub's index, and the two pump goroutines.
type Client struct {
	id   string
	hub  *Hub
	conn wsConn

	// send is bounded; when full the oldest queued message is evicted
	// (bounded staleness over unbounded memory). Enqueued from publish
	// calls racing across topics, consumed only by writePump.
	send chan []byte

	closing   chan struct{}
	closeOnce sync.Once
	state     atomic.Int32

	dropped          atomic.Int64
	consecutiveDrops atomic.Int64

	logger *log.Logger
}

func newClient(hub *Hub, conn wsConn, logger *log.Logger) *Client {
	c := &Client{
		id:      uuid.NewString(),
		hub:     hub,
		conn:    conn,
		send:    make(chan []byte, sendQueueSize),
		closing: make(chan struct{}),
		logger:  logger,
	}
	c.state.Store(stateConnecting)
	return c
}

// enqueue appends a message to the outbound queue. Never blocks: when the
// queue is full the oldest queued-but-unsent message is evicted first. The
// session is only disconnected after maxConsecutiveDrops drops in a row.
// Once the session is draining, new messages are dropped outright; only
// what was queued before shutdown gets flushed.
func (c *Client) enqueue(message []byte) {
	if state := c.state.Load(); state == stateDraining || state == stateClosed {
		c.dropped.Add(1)
		return
	}

	select {
	case c.send <- message:
		c.consecutiveDrops.Store(0)
		return
	default:
	}

	// Queue full: make room by evicting the oldest message.
	select {
	case <-c.send:
	default:
	}
	c.dropped.Add(1)

	select {
	case c.send <- message:
	default:
		// Racing publishers refilled the queue; this message is lost too.
		c.dropped.Add(1)
	}

	if c.consecutiveDrops.Add(1) == maxConsecutiveDrops {
		c.logger.Warn("[WS] Closing persistently slow client",
			"client_id", c.id, "dropped", c.dropped.Load())
		c.beginShutdown()
	}
}

// beginShutdown moves the session into draining. Idempotent; every close
// path converges here.
func (c *Client) beginShutdown() {
	c.closeOnce.Do(func() {
		c.state.Store(stateDraining)
		close(c.closing)
	})
}

// readPump decodes subscription-change requests until the transport fails
// or closes, then deregisters the session from the hub.
func (c *Client) readPump() {
	defer func() {
		c.beginShutdown()
		// The hub consumes unregister only while running; after shutdown
		// every session has already been detached and drained.
		select {
		case c.hub.unregister <- c:
		case <-c.hub.stopped:
		}
	}()

	c.conn.SetReadLimit(maxRequestSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Debug("[WS] Read error", "client_id", c.id, "error", err)
			}
			return
		}
		c.handleRequest(raw)
	}
}

func (c *Client) handleRequest(raw []byte) {
	if c.state.Load() != stateActive {
		return
	}

	var req subscriptionRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		c.logger.Debug("[WS] Malformed request", "client_id", c.id, "error", err)
		return
	}

	name := topic.Normalize(req.Topic)

	switch req.Action {
	case "subscribe":
		ctx, cancel := context.WithTimeout(context.Background(), subscribeTimeout)
		err := c.hub.Subscribe(ctx, c, name)
		cancel()
		if errors.Is(err, database.ErrUnknownTopic) {
			c.sendError("unknown_topic", name)
			return
		}
		if err != nil {
			c.logger.Error("[WS] Subscribe failed", "client_id", c.id, "topic", name, "error", err)
		}
	case "unsubscribe":
		c.hub.Unsubscribe(c, name)
	default:
		c.logger.Debug("[WS] Unknown action", "client_id", c.id, "action", req.Action)
	}
}

func (c *Client) sendError(code, topicName string) {
	data, err := json.Marshal(errorMessage{Error: code, Topic: topicName})
	if err != nil {
		return
	}
	c.enqueue(data)
}

// writePump drains the outbound queue to the transport and keeps the
// connection alive with pings. A transport error terminates only this
// session.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.state.Store(stateClosed)
	}()

	for {
		select {
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.beginShutdown()
				return
			}

		case <-c.closing:
			c.drain()
			return

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.beginShutdown()
				return
			}
		}
	}
}

// drain flushes queued messages best-effort within a short grace period and
// sends a close frame. Never blocks past the grace deadline.
func (c *Client) drain() {
	deadline := time.Now().Add(drainGrace)
	_ = c.conn.SetWriteDeadline(deadline)

	for {
		if time.Now().After(deadline) {
			return
		}
		select {
		case message := <-c.send:
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		default:
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}
