package main

import (
	"context"
	"errors"
	"sync"

	"github.com/koicert/registry/common/logger"
	"github.com/koicert/registry/common/models"
)

var errHubStopped = errors.New("hub stopped")

// AllRecords subscribes a client to every certificate
const AllRecords = "*"

// Hub maintains active WebSocket connections and broadcasts registry events
type Hub struct {
	// Map: record id (or AllRecords) → []*Client
	connections map[string][]*Client
	mutex       sync.RWMutex

	register   chan *Client
	unregister chan *Client
	broadcast  chan models.RegistryEvent

	// Closed when Run returns
	done chan struct{}

	log *logger.Logger
}

// NewHub creates a new Hub instance
func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		connections: make(map[string][]*Client),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		broadcast:   make(chan models.RegistryEvent, 256),
		done:        make(chan struct{}),
		log:         log,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run(ctx context.Context) {
	h.log.Info("hub started")
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case event := <-h.broadcast:
			h.deliver(event.RecordID, event)
			h.deliver(AllRecords, event)
		}
	}
}

// Broadcast queues event for delivery, waiting while the hub is busy
func (h *Hub) Broadcast(ctx context.Context, event models.RegistryEvent) error {
	select {
	case h.broadcast <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-h.done:
		return errHubStopped
	}
}

// Register adds client unless the hub has stopped
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes client. Safe after the hub has stopped.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.connections[client.recordID] = append(h.connections[client.recordID], client)
	h.log.Debug("client registered",
		"record_id", client.recordID,
		"watchers", len(h.connections[client.recordID]))
}

func (h *Hub) unregisterClient(client *Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.removeLocked(client)
}

// removeLocked drops client and closes its send channel once. Caller holds h.mutex.
func (h *Hub) removeLocked(client *Client) {
	clients := h.connections[client.recordID]
	for i, c := range clients {
		if c != client {
			continue
		}

		h.connections[client.recordID] = append(clients[:i], clients[i+1:]...)
		close(client.send)

		if len(h.connections[client.recordID]) == 0 {
			delete(h.connections, client.recordID)
		}

		h.log.Debug("client unregistered",
			"record_id", client.recordID,
			"watchers", len(h.connections[client.recordID]))
		return
	}
}

// deliver sends event to every watcher of key, dropping watchers that fell behind
func (h *Hub) deliver(key string, event models.RegistryEvent) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	var slow []*Client
	for _, client := range h.connections[key] {
		select {
		case client.send <- event:
		default:
			slow = append(slow, client)
		}
	}

	for _, client := range slow {
		h.log.Warn("client send buffer full, closing connection", "record_id", client.recordID)
		h.removeLocked(client)
	}
}

func (h *Hub) closeAll() {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	for key, clients := range h.connections {
		for _, client := range clients {
			close(client.send)
		}
		delete(h.connections, key)
	}
}

// GetConnectionCount returns the total number of active connections
func (h *Hub) GetConnectionCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	count := 0
	for _, clients := range h.connections {
		count += len(clients)
	}
	return count
}

// GetRecordCount returns the number of distinct watch keys
func (h *Hub) GetRecordCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	return len(h.connections)
}
