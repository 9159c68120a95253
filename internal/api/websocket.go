package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lw2bacnet/bridge/internal/bridges/lorawan"
	"github.com/lw2bacnet/bridge/internal/infrastructure/config"
	"github.com/lw2bacnet/bridge/internal/infrastructure/logging"
)

// WebSocket message types.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"

	wsSendBufferSize = 256

	defaultMaxMessageSize = 8192
	defaultPingInterval   = 30
	defaultPongTimeout    = 10
)

// wsChannels are the bridge event types a client may subscribe to.
var wsChannels = map[string]struct{}{
	lorawan.EventValue:    {},
	lorawan.EventDownlink: {},
	lorawan.EventReload:   {},
}

// WSMessage is a frame sent to a client.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// wsRequest is a frame received from a client.
type wsRequest struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

// WSSubscribePayload lists event channels for subscribe and unsubscribe.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
}

// Hub fans bridge events out to WebSocket clients. It satisfies
// lorawan.EventSink.
type Hub struct {
	cfg     config.WebSocketConfig
	logger  *logging.Logger
	clients map[*WSClient]struct{}
	mu      sync.RWMutex
}

// WSClient is one connection and the channels it subscribed to.
type WSClient struct {
	hub           *Hub
	conn          *websocket.Conn
	send          chan []byte
	subscriptions map[string]struct{}
	mu            sync.RWMutex
}

// upgrader configures the WebSocket upgrader. The admin API is meant for
// local tooling, so cross-origin pages are not rejected.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// NewHub creates a hub. Zero settings take defaults.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaultMaxMessageSize
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = defaultPongTimeout
	}
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*WSClient]struct{}),
	}
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Register adds a client to the hub.
func (h *Hub) Register(client *WSClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", h.ClientCount())
}

// Unregister removes a client. Only the call that removes it closes its
// send queue, so repeated calls are safe.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	_, existed := h.clients[client]
	delete(h.clients, client)
	h.mu.Unlock()

	if existed {
		close(client.send)
	}
	h.logger.Debug("websocket client disconnected", "clients", h.ClientCount())
}

// Broadcast sends a bridge event to the clients subscribed to its channel.
// The hub lock is released before client locks are taken.
func (h *Hub) Broadcast(channel string, payload any) {
	msg := WSMessage{
		Type:      WSTypeEvent,
		EventType: channel,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	}

	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to marshal broadcast message", "error", err)
		return
	}

	h.mu.RLock()
	clients := make([]*WSClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		if client.isSubscribed(channel) {
			client.trySend(data)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// closeAll drops every client and closes its send queue.
func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.send)
		if client.conn != nil {
			client.conn.Close()
		}
		delete(h.clients, client)
	}
}

// handleWebSocket upgrades the HTTP connection to a WebSocket connection.
// When auth is enabled a ticket from POST /auth/ws-ticket is required.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.authEnabled() {
		ticket := r.URL.Query().Get("ticket")
		if ticket == "" {
			writeUnauthorized(w, "ticket query parameter is required")
			return
		}
		if !s.tickets.consume(ticket) {
			writeUnauthorized(w, "invalid or expired ticket")
			return
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &WSClient{
		hub:           s.hub,
		conn:          conn,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: make(map[string]struct{}),
	}

	s.hub.Register(client)

	go client.writePump(s.hub.cfg)
	go client.readPump(s.hub.cfg)
}

// readPump feeds client frames to handleMessage until the connection drops.
// Any frame, not only a pong, extends the read deadline.
func (c *WSClient) readPump(cfg config.WebSocketConfig) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	wait := time.Duration(cfg.PingInterval+cfg.PongTimeout) * time.Second
	extend := func() error { return c.conn.SetReadDeadline(time.Now().Add(wait)) }

	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	extend() //nolint:errcheck // a failed deadline surfaces as a read error
	c.conn.SetPongHandler(func(string) error { return extend() })

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		extend() //nolint:errcheck // a failed deadline surfaces as a read error
		c.handleMessage(message)
	}
}

// writePump drains the send queue and pings the client on an interval.
func (c *WSClient) writePump(cfg config.WebSocketConfig) {
	ticker := time.NewTicker(time.Duration(cfg.PingInterval) * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	write := func(kind int, data []byte) error {
		//nolint:errcheck // a failed deadline surfaces as a write error
		c.conn.SetWriteDeadline(time.Now().Add(time.Duration(cfg.PongTimeout) * time.Second))
		return c.conn.WriteMessage(kind, data)
	}

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				write(websocket.CloseMessage, nil) //nolint:errcheck // hub is shutting down
				return
			}
			if err := write(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			if err := write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *WSClient) handleMessage(data []byte) {
	var req wsRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.sendError("", "invalid JSON message")
		return
	}

	switch req.Type {
	case WSTypeSubscribe:
		c.setSubscriptions(req, true)
	case WSTypeUnsubscribe:
		c.setSubscriptions(req, false)
	case WSTypePing:
		c.sendResponse(req.ID, WSTypePong, nil)
	default:
		c.sendError(req.ID, "unknown message type: "+req.Type)
	}
}

// setSubscriptions adds or removes event channels. Unknown channels reject
// the whole request.
func (c *WSClient) setSubscriptions(req wsRequest, add bool) {
	var sub WSSubscribePayload
	if err := json.Unmarshal(req.Payload, &sub); err != nil || len(sub.Channels) == 0 {
		c.sendError(req.ID, "payload must list channels")
		return
	}
	for _, ch := range sub.Channels {
		if _, ok := wsChannels[ch]; !ok {
			c.sendError(req.ID, "unknown channel: "+ch)
			return
		}
	}

	c.mu.Lock()
	for _, ch := range sub.Channels {
		if add {
			c.subscriptions[ch] = struct{}{}
		} else {
			delete(c.subscriptions, ch)
		}
	}
	c.mu.Unlock()

	key := "unsubscribed"
	if add {
		key = "subscribed"
		c.hub.logger.Debug("websocket client subscribed", "channels", sub.Channels)
	}
	c.sendResponse(req.ID, WSTypeResponse, map[string]any{key: sub.Channels})
}

// trySend queues data without blocking. A full queue drops the frame; a
// queue closed by a concurrent Unregister is ignored.
func (c *WSClient) trySend(data []byte) {
	defer func() {
		recover() //nolint:errcheck // send on a closed queue
	}()

	select {
	case c.send <- data:
	default:
	}
}

func (c *WSClient) isSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.subscriptions[channel]
	return ok
}

func (c *WSClient) sendResponse(id, msgType string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		return
	}
	c.trySend(data)
}

func (c *WSClient) sendError(id, message string) {
	c.sendResponse(id, WSTypeError, map[string]string{"message": message})
}
