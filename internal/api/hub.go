package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"whatsapp-campaign/internal/model"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub broadcasts campaign progress events to every connected websocket
// client. It implements the runner's Notifier interface.
type Hub struct {
	logger  *logrus.Logger
	lock    sync.RWMutex
	clients map[*websocket.Conn]bool
}

func NewHub(logger *logrus.Logger) *Hub {
	return &Hub{
		logger:  logger,
		clients: make(map[*websocket.Conn]bool),
	}
}

func (h *Hub) addClient(conn *websocket.Conn) {
	h.lock.Lock()
	defer h.lock.Unlock()
	h.clients[conn] = true
}

func (h *Hub) removeClient(conn *websocket.Conn) {
	h.lock.Lock()
	defer h.lock.Unlock()
	delete(h.clients, conn)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.lock.RLock()
	defer h.lock.RUnlock()
	return len(h.clients)
}

// progressEvent is the wire shape of one broadcast.
type progressEvent struct {
	Type    string         `json:"type"`
	Payload model.Progress `json:"payload"`
}

// Publish sends a progress event to every client. A client that cannot be
// written to is dropped. The write lock is exclusive: the runner publishes
// from the campaign goroutine and from pause/resume, and a websocket
// connection tolerates only one writer at a time.
func (h *Hub) Publish(p model.Progress) {
	event := progressEvent{Type: "progress", Payload: p}

	h.lock.Lock()
	defer h.lock.Unlock()
	for client := range h.clients {
		client.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := client.WriteJSON(event); err != nil {
			client.Close()
			delete(h.clients, client)
		}
	}
}

// handleWebSocket upgrades the connection and parks it in the hub until
// the client goes away.
func (h *Hub) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debugf("Websocket upgrade failed: %v", err)
		return
	}
	h.addClient(conn)
	defer func() {
		h.removeClient(conn)
		conn.Close()
	}()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}
