// Package statusserver exposes an optional HTTP/WebSocket observability
// surface over the auto-drive core: a JSON snapshot endpoint and a
// broadcast hub for push updates. It has no effect on core semantics --
// disabling it changes nothing about task execution.
package statusserver

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// SnapshotFunc returns whatever the caller wants observers to see; the
// server treats the result as an opaque, JSON-marshalable blob refreshed
// on demand.
type SnapshotFunc func() interface{}

// Hub fans out JSON broadcasts to every connected WebSocket client.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]bool
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// NewHub creates an empty broadcast hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[*client]bool)}
}

// Broadcast marshals msg and pushes it to every connected client,
// dropping any client whose send buffer is full rather than blocking.
func (h *Hub) Broadcast(msg interface{}) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			close(c.send)
			delete(h.clients, c)
		}
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// Server serves /metrics (point-in-time snapshot), /health (liveness), and
// /ws (live broadcast).
type Server struct {
	hub      *Hub
	snapshot SnapshotFunc
	router   *mux.Router
	upgrader websocket.Upgrader
}

// New builds a status server. snapshot is invoked fresh on every /metrics
// request and every new /ws connection's initial push.
func New(snapshot SnapshotFunc) *Server {
	s := &Server{
		hub:      NewHub(),
		snapshot: snapshot,
		upgrader: websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024},
	}
	s.router = mux.NewRouter()
	s.router.HandleFunc("/metrics", s.handleMetrics).Methods("GET")
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/ws", s.handleWS).Methods("GET")
	return s
}

// Hub exposes the broadcast hub so callers can push updates as they happen.
func (s *Server) Hub() *Hub { return s.hub }

// Handler returns the server's http.Handler for use with http.Server.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.snapshot())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := &client{conn: conn, send: make(chan []byte, 32)}
	s.hub.register(c)

	go s.writePump(c)

	initial, err := json.Marshal(s.snapshot())
	if err == nil {
		select {
		case c.send <- initial:
		default:
		}
	}

	s.readPump(c)
}

func (s *Server) writePump(c *client) {
	for data := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			break
		}
	}
	_ = c.conn.Close()
}

func (s *Server) readPump(c *client) {
	defer s.hub.unregister(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
