// Topic Streams - WebSocket hub for topic-filtered real-time news fan-out
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/abja/topic-streams/internal/database"
	"github.com/charmbracelet/log"
)

// TopicRegistry validates subscription targets against the known topics.
type TopicRegistry interface {
	TopicIsActive(ctx context.Context, name string) (bool, error)
}

// pushMessage is the server push envelope: the topic at the top level, the
// entry payload nested.
type pushMessage struct {
	Topic string              `json:"topic"`
	Entry *database.NewsEntry `json:"entry"`
}

// errorMessage is pushed to a single session on a rejected request.
type errorMessage struct {
	Error string `json:"error"`
	Topic string `json:"topic"`
}

// Hub owns the topic->sessions index and fans each published entry out to
// the sessions subscribed to its topic.
//
// The index is the only state shared between the listener's publishes and
// every session's subscribe/unsubscribe calls; it is guarded so a publish
// observes either the pre- or post-mutation set, never a torn view. Publish
// takes a point-in-time snapshot and enqueues outside the lock, so one slow
// session can never stall delivery to the others.
type Hub struct {
	mutex   sync.RWMutex
	topics  map[string]map[*Client]struct{}
	clients map[*Client]struct{}

	register   chan *Client
	unregister chan *Client

	// stopped is closed once Run has shut down; sessions deregistering
	// after that point must not block on the unregister channel.
	stopped chan struct{}

	registry TopicRegistry
	logger   *log.Logger
}

// NewHub creates a hub. Run must be started for sessions to come and go.
func NewHub(logger *log.Logger, registry TopicRegistry) *Hub {
	return &Hub{
		topics:     make(map[string]map[*Client]struct{}),
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stopped:    make(chan struct{}),
		registry:   registry,
		logger:     logger,
	}
}

// Run processes session arrivals and departures until the context is
// cancelled, then drains every remaining session.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = struct{}{}
			clientCount := len(h.clients)
			h.mutex.Unlock()
			h.logger.Info("[WS] Client connected", "client_id", client.id, "total_clients", clientCount)

		case client := <-h.unregister:
			h.removeClient(client)

		case <-ctx.Done():
			h.shutdown()
			return
		}
	}
}

// removeClient detaches the session from every topic it follows. Safe
// against an in-flight publish that already snapshotted the session: the
// session's queue stays valid, its send loop just stops consuming.
func (h *Hub) removeClient(client *Client) {
	h.mutex.Lock()
	if _, ok := h.clients[client]; !ok {
		h.mutex.Unlock()
		return
	}
	delete(h.clients, client)
	for name, subscribers := range h.topics {
		delete(subscribers, client)
		if len(subscribers) == 0 {
			delete(h.topics, name)
		}
	}
	clientCount := len(h.clients)
	h.mutex.Unlock()

	client.beginShutdown()
	h.logger.Info("[WS] Client disconnected", "client_id", client.id,
		"dropped", client.dropped.Load(), "total_clients", clientCount)
}

func (h *Hub) shutdown() {
	close(h.stopped)

	h.mutex.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.clients = make(map[*Client]struct{})
	h.topics = make(map[string]map[*Client]struct{})
	h.mutex.Unlock()

	for _, client := range clients {
		client.beginShutdown()
	}
	h.logger.Info("[WS] Hub stopped", "drained_clients", len(clients))
}

// Subscribe adds the session to a topic's subscriber set. The topic must be
// known and active; otherwise database.ErrUnknownTopic is returned and the
// session's existing subscriptions are untouched. The session receives only
// entries published after the subscription takes effect.
func (h *Hub) Subscribe(ctx context.Context, client *Client, name string) error {
	active, err := h.registry.TopicIsActive(ctx, name)
	if err != nil {
		return fmt.Errorf("validate topic %q: %w", name, err)
	}
	if !active {
		return database.ErrUnknownTopic
	}

	h.mutex.Lock()
	subscribers, ok := h.topics[name]
	if !ok {
		subscribers = make(map[*Client]struct{})
		h.topics[name] = subscribers
	}
	subscribers[client] = struct{}{}
	h.mutex.Unlock()

	h.logger.Debug("[WS] Subscribed", "client_id", client.id, "topic", name)
	return nil
}

// Unsubscribe removes the session from a topic's subscriber set. Removing a
// subscription that does not exist is a no-op.
func (h *Hub) Unsubscribe(client *Client, name string) {
	h.mutex.Lock()
	if subscribers, ok := h.topics[name]; ok {
		delete(subscribers, client)
		if len(subscribers) == 0 {
			delete(h.topics, name)
		}
	}
	h.mutex.Unlock()

	h.logger.Debug("[WS] Unsubscribed", "client_id", client.id, "topic", name)
}

// PublishEntry routes one committed entry to every session currently
// subscribed to its topic. Implements database.EntryPublisher.
//
// The subscriber set is a snapshot: sessions subscribing after it is taken
// miss this one entry, which is correct, they were not yet subscribed.
func (h *Hub) PublishEntry(entry *database.NewsEntry) {
	h.mutex.RLock()
	set := h.topics[entry.Topic]
	if len(set) == 0 {
		h.mutex.RUnlock()
		return
	}
	subscribers := make([]*Client, 0, len(set))
	for client := range set {
		subscribers = append(subscribers, client)
	}
	h.mutex.RUnlock()

	data, err := json.Marshal(pushMessage{Topic: entry.Topic, Entry: entry})
	if err != nil {
		h.logger.Error("[WS] Failed to marshal entry for broadcast", "entry_id", entry.ID, "error", err)
		return
	}

	for _, client := range subscribers {
		client.enqueue(data)
	}
}

// ClientCount returns the number of connected sessions.
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// SubscriberCount returns the number of sessions subscribed to a topic.
func (h *Hub) SubscriberCount(name string) int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.topics[name])
}
