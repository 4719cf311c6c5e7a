package presenter

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/nvr-ai/go-tileinfer/controller"
)

const writeWait = 5 * time.Second

// Hub pushes every loop event to the connected websocket clients.
type Hub struct {
	clients    map[*websocket.Conn]bool
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	done       chan struct{}
	mutex      sync.RWMutex
	logger     *zap.SugaredLogger
}

// NewHub creates a hub. Call Run to start delivering.
func NewHub(logger *zap.SugaredLogger) *Hub {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Hub{
		clients:    make(map[*websocket.Conn]bool),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run delivers events from sub until ctx is done or sub is closed, then disconnects every
// client. Call it once.
func (h *Hub) Run(ctx context.Context, sub *controller.Subscription) {
	defer func() {
		close(h.done)
		h.closeAll()
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			h.mutex.Unlock()
			h.logger.Infow("client connected", "clients", h.ClientCount())

		case client := <-h.unregister:
			h.drop(client)
			h.logger.Infow("client disconnected", "clients", h.ClientCount())

		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			h.broadcast(ev)
		}
	}
}

func (h *Hub) broadcast(ev controller.Event) {
	msg, err := NewMessage(ev)
	if err != nil {
		h.logger.Errorw("failed to render event", "error", err)
		return
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		h.logger.Errorw("failed to marshal event", "error", err)
		return
	}

	var failed []*websocket.Conn
	h.mutex.RLock()
	for client := range h.clients {
		_ = client.SetWriteDeadline(time.Now().Add(writeWait))
		if err := client.WriteMessage(websocket.TextMessage, payload); err != nil {
			h.logger.Warnw("error sending message", "error", err)
			failed = append(failed, client)
		}
	}
	h.mutex.RUnlock()

	for _, client := range failed {
		h.drop(client)
	}
}

func (h *Hub) drop(client *websocket.Conn) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		client.Close()
	}
}

func (h *Hub) closeAll() {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	for client := range h.clients {
		client.Close()
		delete(h.clients, client)
	}
}

// Register adds a client. It blocks until Run picks it up; if ctx ends first or the hub
// has stopped, the client is closed instead.
func (h *Hub) Register(ctx context.Context, client *websocket.Conn) {
	select {
	case h.register <- client:
	case <-ctx.Done():
		client.Close()
	case <-h.done:
		client.Close()
	}
}

// Unregister removes and closes a client.
func (h *Hub) Unregister(ctx context.Context, client *websocket.Conn) {
	select {
	case h.unregister <- client:
	case <-ctx.Done():
		h.drop(client)
	case <-h.done:
		h.drop(client)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}
