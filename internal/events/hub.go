// Package events pushes session events to connected clients over WebSocket.
package events

import (
	"log/slog"
	"sync"

	"github.com/ashureev/persona-lab/internal/auth"
	"github.com/ashureev/persona-lab/internal/domain"
	"github.com/coder/websocket"
)

// Message types.
const (
	TypeAuth     = "auth"
	TypeNavigate = "navigate"
	TypePong     = "pong"
)

const sendBuffer = 16

// Message is one server-to-client event.
type Message struct {
	Type  string       `json:"type"`
	Event string       `json:"event,omitempty"`
	User  *domain.User `json:"user,omitempty"`
	Path  string       `json:"path,omitempty"`
}

type client struct {
	conn *websocket.Conn
	send chan Message
}

// Hub tracks the WebSocket connections of every device.
type Hub struct {
	mu     sync.RWMutex
	active map[string]map[*client]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{active: make(map[string]map[*client]struct{})}
}

func (h *Hub) register(deviceID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.active[deviceID]; !ok {
		h.active[deviceID] = make(map[*client]struct{})
	}
	h.active[deviceID][c] = struct{}{}
	slog.Info("Event stream registered", "device_id", deviceID, "connections", len(h.active[deviceID]))
}

func (h *Hub) unregister(deviceID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	clients, ok := h.active[deviceID]
	if !ok {
		return
	}
	if _, exists := clients[c]; !exists {
		return
	}
	delete(clients, c)
	close(c.send)
	if len(clients) == 0 {
		delete(h.active, deviceID)
	}
	slog.Info("Event stream unregistered", "device_id", deviceID)
}

// Connections returns the number of open streams of a device.
func (h *Hub) Connections(deviceID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.active[deviceID])
}

// Publish sends msg to every stream of the device. Slow clients drop the
// message instead of blocking the publisher.
func (h *Hub) Publish(deviceID string, msg Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.active[deviceID] {
		select {
		case c.send <- msg:
		default:
			slog.Warn("Event stream buffer full, dropping message", "device_id", deviceID, "type", msg.Type)
		}
	}
}

// Navigate tells the device's clients to move to path.
func (h *Hub) Navigate(deviceID, path string) {
	h.Publish(deviceID, Message{Type: TypeNavigate, Path: path})
}

// AuthChanged forwards an auth event to the device's clients.
func (h *Hub) AuthChanged(deviceID string, ev auth.Event) {
	msg := Message{Type: TypeAuth, Event: string(ev.Type)}
	if ev.Session != nil {
		msg.User = ev.Session.User
	}
	h.Publish(deviceID, msg)
}

// CloseDevice terminates every stream of a device.
func (h *Hub) CloseDevice(deviceID string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.active[deviceID] {
		_ = c.conn.Close(websocket.StatusNormalClosure, "session closed")
	}
	if len(h.active[deviceID]) > 0 {
		slog.Info("Event streams closed", "device_id", deviceID)
	}
}
