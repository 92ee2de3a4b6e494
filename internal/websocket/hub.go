package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Message is an outbound frame
type Message struct {
	Event     string    `json:"event"`
	Ack       *int64    `json:"ack,omitempty"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Hub tracks live connections by connection id and delivers room events to them.
// It implements match.Broadcaster.
type Hub struct {
	// Connected clients by connection id
	clients map[string]*Client

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	mu sync.RWMutex

	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// NewHub creates a new Hub
func NewHub(logger *slog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	h.logger.Info("WebSocket hub started")
	for {
		select {
		case <-h.ctx.Done():
			h.closeAll()
			h.logger.Info("WebSocket hub stopping")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.id] = client
			h.mu.Unlock()
			h.logger.Debug("client registered", "connection_id", client.id)

		case client := <-h.unregister:
			h.mu.Lock()
			if current, ok := h.clients[client.id]; ok && current == client {
				delete(h.clients, client.id)
			}
			h.mu.Unlock()
			client.close()
			h.logger.Debug("client unregistered", "connection_id", client.id)
		}
	}
}

// Stop stops the hub and closes every connection
func (h *Hub) Stop() {
	h.cancel()
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, client := range h.clients {
		client.close()
		delete(h.clients, id)
	}
}

// Register adds a client to the hub. It reports false once the hub stopped.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.ctx.Done():
		return false
	}
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.ctx.Done():
		client.close()
	}
}

// Send queues an event for one connection without blocking.
// A connection whose buffer is full is closed so it never misses a room event silently.
func (h *Hub) Send(connectionID, event string, data any) {
	client, ok := h.client(connectionID)
	if !ok {
		return
	}
	payload, err := json.Marshal(Message{Event: event, Data: data, Timestamp: time.Now()})
	if err != nil {
		h.logger.Error("failed to marshal message", "event", event, "error", err)
		return
	}
	if err := client.enqueue(payload); errors.Is(err, errBufferFull) {
		h.logger.Warn("client buffer full, disconnecting", "connection_id", connectionID, "event", event)
		client.close()
	}
}

// Disconnect flushes what is queued for the connection and then closes it
func (h *Hub) Disconnect(connectionID string) {
	if client, ok := h.client(connectionID); ok {
		client.close()
	}
}

// ConnectionCount returns the number of connected clients
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) client(connectionID string) (*Client, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	client, ok := h.clients[connectionID]
	return client, ok
}
