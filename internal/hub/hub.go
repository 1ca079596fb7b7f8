// Package hub implements the event hub: an HTTP server that receives idle
// events and session lifecycle updates from watchers and rebroadcasts them
// to connected WebSocket subscribers (e.g. a companion mobile app). State is
// process-global to one hub instance: a session map, a bounded event
// history, and a dynamic subscriber list.
package hub

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/trace"

	"github.com/nafistiham/jigai/internal/log"
	"github.com/nafistiham/jigai/internal/tracing"
)

const (
	maxHistory          = 100
	defaultEventLimit   = 20
	subscriberReadDeadline = 30 * time.Second
)

// SessionRecord mirrors the wire shape of one tracked session.
type SessionRecord struct {
	SessionID    string         `json:"session_id"`
	ToolName     string         `json:"tool_name"`
	Command      []string       `json:"command,omitempty"`
	WorkingDir   string         `json:"working_dir"`
	Status       string         `json:"status"`
	RegisteredAt string         `json:"registered_at,omitempty"`
	LastEvent    map[string]any `json:"last_event,omitempty"`
}

// IdleEventRequest is the body accepted by POST /api/events.
type IdleEventRequest struct {
	SessionID       string  `json:"session_id"`
	ToolName        string  `json:"tool_name"`
	WorkingDir      string  `json:"working_dir"`
	LastOutput      string  `json:"last_output"`
	IdleSeconds     float64 `json:"idle_seconds"`
	DetectionMethod string  `json:"detection_method"`
}

// SessionRegisterRequest is the body accepted by POST /api/sessions.
type SessionRegisterRequest struct {
	SessionID  string   `json:"session_id"`
	ToolName   string   `json:"tool_name"`
	Command    []string `json:"command"`
	WorkingDir string   `json:"working_dir"`
}

// Hub holds all server-side state for one running hub process.
type Hub struct {
	Version string

	mu      sync.Mutex
	session map[string]*SessionRecord
	history []map[string]any

	subsMu sync.Mutex
	subs   map[*subscriber]struct{}

	upgrader websocket.Upgrader

	// Tracer opens one span per HTTP request when set. Left nil, Handler
	// skips the tracing middleware entirely.
	Tracer trace.Tracer
}

type subscriber struct {
	conn *websocket.Conn
	mu   sync.Mutex // guards concurrent writes to conn
}

// New creates an empty Hub.
func New(version string) *Hub {
	return &Hub{
		Version: version,
		session: make(map[string]*SessionRecord),
		subs:    make(map[*subscriber]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handler builds the HTTP mux for this hub, with permissive CORS applied to
// every route (all origins, all methods — there is no subscriber
// authentication model).
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", h.handleHealth)
	mux.HandleFunc("/api/sessions", h.handleSessions)
	mux.HandleFunc("/api/sessions/", h.handleSessionByID)
	mux.HandleFunc("/api/events", h.handleEvents)
	mux.HandleFunc("/ws", h.handleWebSocket)

	var handler http.Handler = mux
	if h.Tracer != nil {
		handler = tracing.HTTPMiddleware(h.Tracer, handler)
	}
	return corsMiddleware(handler)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "*")
		w.Header().Set("Access-Control-Allow-Headers", "*")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, requestIDMiddleware(r))
	})
}

// requestIDMiddleware attaches a generated trace ID to the request context
// for log correlation across a request's handler and any goroutines it
// spawns (e.g. a WebSocket subscriber loop), independent of whether an
// OpenTelemetry span is also active.
func requestIDMiddleware(r *http.Request) *http.Request {
	ctx, traceID := tracing.NewRequestContext(r.Context())
	log.Debug(log.CatHub, "handling request", "trace_id", traceID, "method", r.Method, "path", r.URL.Path)
	return r.WithContext(ctx)
}

func (h *Hub) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	h.mu.Lock()
	sessions := len(h.session)
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"version":  h.Version,
		"clients":  h.subscriberCount(),
		"sessions": sessions,
	})
}

func (h *Hub) handleSessions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.mu.Lock()
		list := make([]*SessionRecord, 0, len(h.session))
		for _, s := range h.session {
			list = append(list, s)
		}
		h.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{"sessions": list})

	case http.MethodPost:
		var req SessionRegisterRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"status": "error", "error": err.Error()})
			return
		}
		rec := &SessionRecord{
			SessionID:    req.SessionID,
			ToolName:     req.ToolName,
			Command:      req.Command,
			WorkingDir:   req.WorkingDir,
			Status:       "active",
			RegisteredAt: time.Now().UTC().Format(time.RFC3339),
		}
		h.mu.Lock()
		h.session[req.SessionID] = rec
		h.mu.Unlock()

		h.broadcast(map[string]any{
			"type":        "session_started",
			"session_id":  req.SessionID,
			"tool_name":   req.ToolName,
			"working_dir": req.WorkingDir,
		})
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})

	default:
		http.NotFound(w, r)
	}
}

func (h *Hub) handleSessionByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.NotFound(w, r)
		return
	}
	id := r.URL.Path[len("/api/sessions/"):]

	h.mu.Lock()
	delete(h.session, id)
	h.mu.Unlock()

	h.broadcast(map[string]any{
		"type":       "session_stopped",
		"session_id": id,
	})
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (h *Hub) handleEvents(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		limit := defaultEventLimit
		if v := r.URL.Query().Get("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				limit = n
			}
		}
		h.mu.Lock()
		events := lastN(h.history, limit)
		h.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{"events": events})

	case http.MethodPost:
		var req IdleEventRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"status": "error", "error": err.Error()})
			return
		}

		eventData := map[string]any{
			"type":             "idle_detected",
			"session_id":       req.SessionID,
			"tool_name":        req.ToolName,
			"working_dir":      req.WorkingDir,
			"last_output":      req.LastOutput,
			"idle_seconds":     req.IdleSeconds,
			"detection_method": req.DetectionMethod,
			"timestamp":        time.Now().UTC().Format(time.RFC3339),
		}

		h.mu.Lock()
		h.session[req.SessionID] = &SessionRecord{
			SessionID:  req.SessionID,
			ToolName:   req.ToolName,
			WorkingDir: req.WorkingDir,
			Status:     "idle",
			LastEvent:  eventData,
		}
		h.history = append(h.history, eventData)
		if len(h.history) > maxHistory {
			h.history = h.history[len(h.history)-maxHistory:]
		}
		h.mu.Unlock()

		h.broadcast(eventData)
		log.Debug(log.CatHub, "idle event received",
			"trace_id", tracing.TraceIDFromContext(r.Context()),
			"session_id", req.SessionID, "tool_name", req.ToolName)
		writeJSON(w, http.StatusOK, map[string]any{
			"status":           "ok",
			"clients_notified": h.subscriberCount(),
		})

	default:
		http.NotFound(w, r)
	}
}

func (h *Hub) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn(log.CatHub, "websocket upgrade failed", "error", err)
		return
	}

	sub := &subscriber{conn: conn}
	h.subsMu.Lock()
	h.subs[sub] = struct{}{}
	h.subsMu.Unlock()

	h.mu.Lock()
	sessions := make([]*SessionRecord, 0, len(h.session))
	for _, s := range h.session {
		sessions = append(sessions, s)
	}
	h.mu.Unlock()

	if err := sub.writeJSON(map[string]any{
		"type":           "connected",
		"sessions":       sessions,
		"server_version": h.Version,
	}); err != nil {
		h.removeSubscriber(sub)
		return
	}

	for {
		_ = conn.SetReadDeadline(time.Now().Add(subscriberReadDeadline))
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.removeSubscriber(sub)
				return
			}
			// Treat a read timeout as "no client message yet" and send a
			// heartbeat; any other read error tears down the connection.
			if !isTimeout(err) {
				h.removeSubscriber(sub)
				return
			}
			if sendErr := sub.writeJSON(map[string]any{"type": "heartbeat"}); sendErr != nil {
				h.removeSubscriber(sub)
				return
			}
		}
	}
}

func (h *Hub) removeSubscriber(sub *subscriber) {
	h.subsMu.Lock()
	delete(h.subs, sub)
	h.subsMu.Unlock()
	_ = sub.conn.Close()
}

func (h *Hub) subscriberCount() int {
	h.subsMu.Lock()
	defer h.subsMu.Unlock()
	return len(h.subs)
}

// broadcast annotates data with server_time, then sends it to every
// connected subscriber, pruning any that fail to receive it.
func (h *Hub) broadcast(data map[string]any) {
	data["server_time"] = time.Now().UTC().Format(time.RFC3339)

	h.subsMu.Lock()
	targets := make([]*subscriber, 0, len(h.subs))
	for s := range h.subs {
		targets = append(targets, s)
	}
	h.subsMu.Unlock()

	var dead []*subscriber
	for _, s := range targets {
		if err := s.writeJSON(data); err != nil {
			dead = append(dead, s)
		}
	}
	for _, s := range dead {
		h.removeSubscriber(s)
	}
}

func (s *subscriber) writeJSON(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func lastN(events []map[string]any, n int) []map[string]any {
	if n > len(events) {
		n = len(events)
	}
	return events[len(events)-n:]
}

func isTimeout(err error) bool {
	type timeout interface{ Timeout() bool }
	t, ok := err.(timeout)
	return ok && t.Timeout()
}
