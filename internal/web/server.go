package web

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/abja/topic-streams/internal/database"
	"github.com/abja/topic-streams/internal/topic"
	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for development
	},
}

// Server exposes the WebSocket endpoint and the REST API around the store.
type Server struct {
	store           *database.Store
	hub             *Hub
	listenerHealthy func() bool
	port            int
	server          *http.Server
	logger          *log.Logger
	version         string
}

// NewServer creates a server. The hub's Run loop is managed by the caller.
func NewServer(store *database.Store, hub *Hub, listenerHealthy func() bool, port int, logger *log.Logger, version string) *Server {
	return &Server{
		store:           store,
		hub:             hub,
		listenerHealthy: listenerHealthy,
		port:            port,
		logger:          logger,
		version:         version,
	}
}

// Routes builds the HTTP handler, wrapped with logging and CORS.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/topics", s.handleGetTopics)
	mux.HandleFunc("POST /api/topics", s.handleAddTopic)
	mux.HandleFunc("DELETE /api/topics/{name}", s.handleRemoveTopic)
	mux.HandleFunc("GET /api/news/{topic}", s.handleNews)
	mux.HandleFunc("GET /api/logs", s.handleLogs)
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/version", s.handleVersion)
	mux.HandleFunc("/api/ws", s.handleWs)

	return s.loggingMiddleware(corsMiddleware(mux))
}

// Start runs the HTTP server until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: s.Routes(),
	}

	s.logger.Info("Starting web server", "port", s.port, "url", fmt.Sprintf("http://localhost:%d", s.port))

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(shutdownCtx)
	}()

	if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// handleWs upgrades the connection and starts the session pumps.
func (s *Server) handleWs(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("WebSocket upgrade failed", "error", err)
		return
	}

	client := newClient(s.hub, conn, s.logger)
	s.hub.register <- client
	client.state.Store(stateActive)

	go client.writePump()
	go client.readPump()
}

// handleGetTopics lists topics; ?all=true includes soft-deleted ones.
func (s *Server) handleGetTopics(w http.ResponseWriter, r *http.Request) {
	includeInactive := r.URL.Query().Get("all") == "true"

	topics, err := s.store.GetTopics(r.Context(), includeInactive)
	if err != nil {
		s.logger.Error("Failed to list topics", "error", err)
		http.Error(w, "failed to list topics", http.StatusInternalServerError)
		return
	}
	if topics == nil {
		topics = []database.Topic{}
	}
	writeJSON(w, http.StatusOK, topics)
}

// handleAddTopic creates a topic or reactivates a soft-deleted one.
func (s *Server) handleAddTopic(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	name := topic.Normalize(body.Name)
	if name == "" {
		http.Error(w, "topic name must be non-empty", http.StatusBadRequest)
		return
	}

	if err := s.store.AddTopic(r.Context(), name); err != nil {
		s.logger.Error("Failed to add topic", "topic", name, "error", err)
		http.Error(w, "failed to add topic", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"name": name})
}

// handleRemoveTopic soft-deletes a topic; idempotent.
func (s *Server) handleRemoveTopic(w http.ResponseWriter, r *http.Request) {
	name := topic.Normalize(r.PathValue("name"))
	if name == "" {
		http.Error(w, "topic name must be non-empty", http.StatusBadRequest)
		return
	}

	if err := s.store.RemoveTopic(r.Context(), name); err != nil {
		s.logger.Error("Failed to remove topic", "topic", name, "error", err)
		http.Error(w, "failed to remove topic", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// NewsResponse is the paginated news listing.
type NewsResponse struct {
	Topic   string               `json:"topic"`
	Entries []database.NewsEntry `json:"entries"`
	Total   int                  `json:"total"`
	Limit   int                  `json:"limit"`
	Offset  int                  `json:"offset"`
}

// handleNews returns stored entries for a topic, newest first.
func (s *Server) handleNews(w http.ResponseWriter, r *http.Request) {
	name := topic.Normalize(r.PathValue("topic"))
	query := r.URL.Query()

	limit, _ := strconv.Atoi(query.Get("limit"))
	if limit < 1 || limit > 100 {
		limit = 20
	}
	offset, _ := strconv.Atoi(query.Get("offset"))
	if offset < 0 {
		offset = 0
	}

	entries, err := s.store.GetEntries(r.Context(), name, limit, offset)
	if err != nil {
		s.logger.Error("Failed to list entries", "topic", name, "error", err)
		http.Error(w, "failed to list entries", http.StatusInternalServerError)
		return
	}
	total, err := s.store.CountEntries(r.Context(), name)
	if err != nil {
		s.logger.Error("Failed to count entries", "topic", name, "error", err)
		http.Error(w, "failed to count entries", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []database.NewsEntry{}
	}

	writeJSON(w, http.StatusOK, NewsResponse{
		Topic:   name,
		Entries: entries,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
	})
}

// handleLogs returns recent scrape attempts.
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 || limit > 100 {
		limit = 20
	}

	logs, err := s.store.GetScraperLogs(r.Context(), limit)
	if err != nil {
		s.logger.Error("Failed to list scraper logs", "error", err)
		http.Error(w, "failed to list scraper logs", http.StatusInternalServerError)
		return
	}
	if logs == nil {
		logs = []database.ScraperLog{}
	}
	writeJSON(w, http.StatusOK, logs)
}

// HealthResponse reports delivery-path health. Status is "degraded" while
// the notification listener is disconnected: stored reads still work but
// live pushes are stalled until the listener catches up.
type HealthResponse struct {
	Status   string `json:"status"`
	Listener bool   `json:"listener"`
	Clients  int    `json:"clients"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	healthy := s.listenerHealthy()
	status := "ok"
	code := http.StatusOK
	if !healthy {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, HealthResponse{
		Status:   status,
		Listener: healthy,
		Clients:  s.hub.ClientCount(),
	})
}

// VersionResponse represents version information
type VersionResponse struct {
	Version string `json:"version"`
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, VersionResponse{Version: s.version})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// corsMiddleware adds CORS headers for development
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs all incoming API requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		lrw := &loggingResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(lrw, r)

		duration := time.Since(start)

		if strings.HasPrefix(r.URL.Path, "/api/") {
			s.logger.Info("API request",
				"method", r.Method,
				"path", r.URL.Path,
				"query", r.URL.RawQuery,
				"status", lrw.statusCode,
				"duration", duration.Round(time.Microsecond),
			)
		}
	})
}

// loggingResponseWriter wraps http.ResponseWriter to capture status code
type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

// Hijack implements http.Hijacker for WebSocket support
func (lrw *loggingResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hijacker, ok := lrw.ResponseWriter.(http.Hijacker); ok {
		return hijacker.Hijack()
	}
	return nil, nil, fmt.Errorf("ResponseWriter does not implement http.Hijacker")
}
