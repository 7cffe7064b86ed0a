package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/nerrad567/gray-logic-zones/internal/auth"
	"github.com/nerrad567/gray-logic-zones/internal/enforcer"
	"github.com/nerrad567/gray-logic-zones/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-zones/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-zones/internal/zone"
)

// Message types.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeSnapshot    = "snapshot"
	WSTypeResponse    = "response"
	WSTypeError       = "error"
)

// Channels. Events on ChannelZoneState are keyed by controller name, events
// on ChannelEnforcerStatus by entity id.
const (
	ChannelZoneState      = "zone.state_changed"
	ChannelEnforcerStatus = "enforcer.status"
)

const (
	wsSendBufferSize = 256

	// snapshotTimeout bounds the state reads behind a subscribe snapshot.
	snapshotTimeout = 2 * time.Second
)

var channelPermissions = map[string]auth.Permission{
	ChannelZoneState:      auth.PermZoneRead,
	ChannelEnforcerStatus: auth.PermEnforceRead,
}

var wsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "zones_websocket_messages_dropped_total",
	Help: "WebSocket messages dropped because a client's send buffer was full.",
}, []string{"channel"})

// WSMessage is the envelope for every frame in either direction.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload is the payload of subscribe and unsubscribe requests.
//
// Keys narrows a subscription to the listed controller names or entity ids.
// Subscribing again replaces the keys of a channel; an empty list follows
// everything. Unsubscribe ignores Keys and drops the whole channel.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
	Keys     []string `json:"keys,omitempty"`
}

// snapshotEntry is one keyed item of a channel's current state.
type snapshotEntry struct {
	key   string
	value any
}

// snapshotFunc lists the current state of a channel, in key order.
type snapshotFunc func(ctx context.Context) []snapshotEntry

// filter is the key set of one channel subscription. A nil filter matches
// every key.
type filter map[string]struct{}

func newFilter(keys []string) filter {
	if len(keys) == 0 {
		return nil
	}
	f := make(filter, len(keys))
	for _, k := range keys {
		f[k] = struct{}{}
	}
	return f
}

func (f filter) matches(key string) bool {
	if f == nil {
		return true
	}
	_, ok := f[key]
	return ok
}

// Hub fans controller transitions and enforcer statuses out to WebSocket
// clients.
type Hub struct {
	logger *logging.Logger

	mu        sync.RWMutex
	clients   map[*WSClient]struct{}
	snapshots map[string]snapshotFunc
}

// WSClient is one connected WebSocket client.
type WSClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu            sync.RWMutex
	subscriptions map[string]filter

	subject string
	role    auth.Role
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// CORS middleware checks origins.
	CheckOrigin: func(_ *http.Request) bool { return true },
}

// NewHub creates an empty hub.
func NewHub(logger *logging.Logger) *Hub {
	return &Hub{
		logger:    logger,
		clients:   make(map[*WSClient]struct{}),
		snapshots: make(map[string]snapshotFunc),
	}
}

// setSnapshot registers the source of the snapshot sent after a subscribe
// to channel.
func (h *Hub) setSnapshot(channel string, fn snapshotFunc) {
	h.mu.Lock()
	h.snapshots[channel] = fn
	h.mu.Unlock()
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

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

// Register adds a client to the hub.
func (h *Hub) Register(client *WSClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "subject", client.subject, "clients", n)
}

// Unregister removes a client. The send channel is closed once, by whichever
// caller actually removed the client.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	_, existed := h.clients[client]
	delete(h.clients, client)
	n := len(h.clients)
	h.mu.Unlock()

	if existed {
		close(client.send)
		h.logger.Debug("websocket client disconnected", "subject", client.subject, "clients", n)
	}
}

// Broadcast sends payload to every client subscribed to channel whose
// filter admits key.
func (h *Hub) Broadcast(channel, key string, payload any) {
	data, err := encodeFrame(WSMessage{Type: WSTypeEvent, EventType: channel, Payload: payload})
	if err != nil {
		h.logger.Error("encoding websocket event failed", "channel", channel, "error", err)
		return
	}

	h.mu.RLock()
	clients := make([]*WSClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	// Client locks are taken only after the hub lock is released.
	for _, client := range clients {
		if client.wants(channel, key) && !client.trySend(data) {
			wsDropped.WithLabelValues(channel).Inc()
		}
	}
}

// BroadcastTransition is a zone.Registry observer.
func (h *Hub) BroadcastTransition(t zone.Transition) {
	h.Broadcast(ChannelZoneState, t.Controller, t)
}

// BroadcastEnforcerStatus is an enforcer.Manager observer.
func (h *Hub) BroadcastEnforcerStatus(s enforcer.Status) {
	h.Broadcast(ChannelEnforcerStatus, s.EntityID, s)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// snapshot renders the current state of channel restricted to f. It returns
// false when the channel has no snapshot source.
func (h *Hub) snapshot(channel string, f filter) ([]any, bool) {
	h.mu.RLock()
	fn := h.snapshots[channel]
	h.mu.RUnlock()
	if fn == nil {
		return nil, false
	}

	ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
	defer cancel()

	items := []any{}
	for _, e := range fn(ctx) {
		if f.matches(e.key) {
			items = append(items, e.value)
		}
	}
	return items, true
}

func encodeFrame(msg WSMessage) ([]byte, error) {
	msg.Timestamp = time.Now().UTC().Format(time.RFC3339)
	return json.Marshal(msg)
}

// zoneSnapshot lists every controller view, keyed by controller name.
func (s *Server) zoneSnapshot(ctx context.Context) []snapshotEntry {
	controllers := s.zones.List()
	out := make([]snapshotEntry, 0, len(controllers))
	for _, c := range controllers {
		out = append(out, snapshotEntry{key: c.Name(), value: s.controllerView(ctx, c)})
	}
	return out
}

// enforcerSnapshot lists every enforcer status, keyed by entity id.
func (s *Server) enforcerSnapshot(_ context.Context) []snapshotEntry {
	statuses := s.enforcers.Statuses()
	out := make([]snapshotEntry, 0, len(statuses))
	for _, st := range statuses {
		out = append(out, snapshotEntry{key: st.EntityID, value: st})
	}
	return out
}

// handleWebSocket upgrades an authenticated request. Credentials come from
// the ticket or token query parameter.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.authenticateWebSocket(r)
	if !ok {
		writeUnauthorized(w, "valid ticket or token query parameter is required")
		return
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
		subscriptions: make(map[string]filter),
		subject:       caller.subject,
		role:          caller.role,
	}
	s.hub.Register(client)

	go client.writePump(s.wsCfg)
	go client.readPump(s.wsCfg)
}

func (c *WSClient) readPump(cfg config.WebSocketConfig) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	idle := time.Duration(cfg.PingInterval+cfg.PongTimeout) * time.Second
	extend := func() error { return c.conn.SetReadDeadline(time.Now().Add(idle)) }

	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	extend() //nolint:errcheck // a failed deadline surfaces as a read error
	c.conn.SetPongHandler(func(string) error { return extend() })

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "subject", c.subject, "error", err)
			}
			return
		}
		extend() //nolint:errcheck // a failed deadline surfaces as a read error
		c.handleMessage(data)
	}
}

func (c *WSClient) writePump(cfg config.WebSocketConfig) {
	ticker := time.NewTicker(time.Duration(cfg.PingInterval) * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	writeWait := time.Duration(cfg.PongTimeout) * time.Second
	write := func(kind int, data []byte) error {
		//nolint:errcheck // a failed deadline surfaces as a write error
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		return c.conn.WriteMessage(kind, data)
	}

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				write(websocket.CloseMessage, nil) //nolint:errcheck // connection is going away
				return
			}
			if err := write(websocket.TextMessage, data); err != nil {
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
	var msg struct {
		Type    string             `json:"type"`
		ID      string             `json:"id"`
		Payload WSSubscribePayload `json:"payload"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("", "invalid JSON message")
		return
	}

	switch msg.Type {
	case WSTypeSubscribe:
		c.subscribe(msg.ID, msg.Payload)
	case WSTypeUnsubscribe:
		c.unsubscribe(msg.ID, msg.Payload.Channels)
	case WSTypePing:
		c.reply(WSMessage{Type: WSTypePong, ID: msg.ID})
	default:
		c.sendError(msg.ID, "unknown message type: "+msg.Type)
	}
}

// subscribe validates every requested channel before changing anything,
// acknowledges, then sends one snapshot per channel so the client starts
// from current state.
func (c *WSClient) subscribe(id string, req WSSubscribePayload) {
	if len(req.Channels) == 0 {
		c.sendError(id, "channels are required")
		return
	}
	for _, ch := range req.Channels {
		perm, known := channelPermissions[ch]
		if !known {
			c.sendError(id, "unknown channel: "+ch)
			return
		}
		if !auth.HasPermission(c.role, perm) {
			c.sendError(id, "permission denied: "+ch)
			return
		}
	}

	f := newFilter(req.Keys)
	c.mu.Lock()
	for _, ch := range req.Channels {
		c.subscriptions[ch] = f
	}
	c.mu.Unlock()

	c.hub.logger.Info("websocket client subscribed",
		"subject", c.subject, "channels", req.Channels, "keys", req.Keys)
	c.reply(WSMessage{Type: WSTypeResponse, ID: id, Payload: map[string]any{
		"subscribed": req.Channels,
		"keys":       req.Keys,
	}})

	for _, ch := range req.Channels {
		if items, ok := c.hub.snapshot(ch, f); ok {
			c.reply(WSMessage{Type: WSTypeSnapshot, ID: id, EventType: ch, Payload: items})
		}
	}
}

func (c *WSClient) unsubscribe(id string, channels []string) {
	c.mu.Lock()
	for _, ch := range channels {
		delete(c.subscriptions, ch)
	}
	c.mu.Unlock()

	c.reply(WSMessage{Type: WSTypeResponse, ID: id, Payload: map[string]any{
		"unsubscribed": channels,
	}})
}

func (c *WSClient) wants(channel, key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	f, ok := c.subscriptions[channel]
	return ok && f.matches(key)
}

// trySend queues data without blocking. It reports false when the buffer is
// full or the client has already been unregistered.
func (c *WSClient) trySend(data []byte) (sent bool) {
	defer func() {
		if recover() != nil {
			sent = false
		}
	}()

	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *WSClient) reply(msg WSMessage) {
	data, err := encodeFrame(msg)
	if err != nil {
		return
	}
	c.trySend(data)
}

func (c *WSClient) sendError(id, message string) {
	c.reply(WSMessage{Type: WSTypeError, ID: id, Payload: map[string]string{"message": message}})
}
