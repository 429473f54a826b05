package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"ai-call-presence-service/internal/models"
	"ai-call-presence-service/internal/observability/logging"
	"ai-call-presence-service/internal/service/transcript"
)

const (
	writeWait      = 5 * time.Second
	broadcastQueue = 100
)

// TranscriptEvent is one message on the live transcript feed. The first
// message on a connection is a snapshot of every item.
type TranscriptEvent struct {
	Type     string                  `json:"type"` // snapshot, created, updated
	Item     *models.TranscriptItem  `json:"item,omitempty"`
	Revision uint64                  `json:"revision,omitempty"`
	Items    []models.TranscriptItem `json:"items,omitempty"`
}

// Hub fans transcript changes out to websocket clients.
type Hub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan TranscriptEvent
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	snapshot   func() []models.TranscriptItem
	done       chan struct{}
	mu         sync.RWMutex
	logger     zerolog.Logger
}

// NewHub creates a hub. snapshot is sent to every new client.
func NewHub(snapshot func() []models.TranscriptItem) *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan TranscriptEvent, broadcastQueue),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		snapshot:   snapshot,
		done:       make(chan struct{}),
		logger:     logging.WithComponent("transcript-hub"),
	}
}

// Run serves registrations and broadcasts until ctx is done, then closes
// every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for conn := range h.clients {
				conn.Close()
				delete(h.clients, conn)
			}
			h.mu.Unlock()
			return

		case conn := <-h.register:
			snap := TranscriptEvent{Type: "snapshot", Items: h.snapshot()}
			if err := write(conn, snap); err != nil {
				h.logger.Debug().Err(err).Msg("Snapshot write failed")
				conn.Close()
				continue
			}
			h.mu.Lock()
			h.clients[conn] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info().Int("clients", n).Msg("Client connected")

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info().Int("clients", n).Msg("Client disconnected")

		case event := <-h.broadcast:
			h.mu.Lock()
			for conn := range h.clients {
				if err := write(conn, event); err != nil {
					h.logger.Debug().Err(err).Msg("Write failed, dropping client")
					conn.Close()
					delete(h.clients, conn)
				}
			}
			h.mu.Unlock()
		}
	}
}

func write(conn *websocket.Conn, event TranscriptEvent) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(event)
}

// Observe queues a store change for broadcast. It never blocks the store
// writer; when the queue is full the change is dropped.
func (h *Hub) Observe(ch transcript.Change) {
	item := ch.Item
	event := TranscriptEvent{Type: "updated", Item: &item, Revision: ch.Revision}
	if ch.Result == transcript.Created {
		event.Type = "created"
	}
	select {
	case h.broadcast <- event:
	default:
		h.logger.Warn().Str("itemId", item.ID).Msg("Broadcast queue full, change dropped")
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Local control surface
	},
}

// ServeWS upgrades the request and registers the connection.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	select {
	case h.register <- conn:
	case <-h.done:
		conn.Close()
		return
	}

	// Read until the client goes away.
	go func() {
		defer func() {
			select {
			case h.unregister <- conn:
			case <-h.done:
			}
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
