package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/persona-lab/internal/identity"
	"github.com/coder/websocket"
)

const writeTimeout = 5 * time.Second

// ActivityFunc is called whenever a client shows it is still alive.
type ActivityFunc func(deviceID string)

// Handler upgrades requests to event streams.
type Handler struct {
	hub           *Hub
	allowedOrigin string
	isDev         bool
	onActivity    ActivityFunc
}

// NewHandler creates a WebSocket handler for hub.
func NewHandler(hub *Hub, allowedOrigin string, isDev bool) *Handler {
	return &Handler{hub: hub, allowedOrigin: allowedOrigin, isDev: isDev}
}

// SetActivityHook registers fn to be called on connect and on every client ping.
func (h *Handler) SetActivityHook(fn ActivityFunc) {
	h.onActivity = fn
}

type clientMessage struct {
	Type string `json:"type"`
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	deviceID := identity.DeviceIDFromContext(r.Context())
	if deviceID == "" {
		http.Error(w, "missing device identity", http.StatusUnauthorized)
		return
	}
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "device_id", deviceID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "stream ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "device_id", deviceID)
		}
	}()

	c := &client{conn: ws, send: make(chan Message, sendBuffer)}
	h.hub.register(deviceID, c)
	defer h.hub.unregister(deviceID, c)
	h.touch(deviceID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go func() {
		defer cancel()
		h.writeLoop(ctx, ws, c.send, deviceID)
	}()
	h.readLoop(ctx, ws, c.send, deviceID)
}

func (h *Handler) touch(deviceID string) {
	if h.onActivity != nil {
		h.onActivity(deviceID)
	}
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" || origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *Handler) readLoop(ctx context.Context, ws *websocket.Conn, send chan<- Message, deviceID string) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || ctx.Err() != nil {
				slog.Debug("Event stream closed by client", "device_id", deviceID)
			} else {
				slog.Warn("Event stream read error", "error", err, "device_id", deviceID)
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type == "ping" {
			h.touch(deviceID)
			select {
			case send <- Message{Type: TypePong}:
			default:
			}
		}
	}
}

func (h *Handler) writeLoop(ctx context.Context, ws *websocket.Conn, send <-chan Message, deviceID string) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-send:
			if !ok {
				return
			}
			data, err := json.Marshal(msg)
			if err != nil {
				slog.Error("Failed to encode event", "error", err)
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err = ws.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				slog.Debug("Event stream write error", "error", err, "device_id", deviceID)
				return
			}
		}
	}
}
