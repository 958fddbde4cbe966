package api

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-rules/internal/automation"
	"github.com/nerrad567/gray-logic-rules/internal/homestate"
	"github.com/nerrad567/gray-logic-rules/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-rules/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-rules/internal/scheduler"
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
)

// wsSendBufferSize is the per-client outbound message buffer size.
const wsSendBufferSize = 256

// Event channels clients can subscribe to.
const (
	ChannelAutomationExecuted = "automation.executed"
	ChannelEvaluationCycle    = "evaluation.cycle"
	ChannelStateChanged       = "state.changed"
)

var knownChannels = []string{
	ChannelAutomationExecuted,
	ChannelEvaluationCycle,
	ChannelStateChanged,
}

// WSMessage is the envelope for every message in either direction.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// wsInbound is WSMessage as decoded from a client, with the payload left
// raw until the type is known.
type wsInbound struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

// WSSubscribePayload is the payload for subscribe/unsubscribe messages.
//
// AutomationIDs narrows automation.executed events to the listed
// automations. It is ignored for other channels and on unsubscribe.
type WSSubscribePayload struct {
	Channels      []string `json:"channels"`
	AutomationIDs []string `json:"automation_ids,omitempty"`
}

// CycleEvent is the payload of evaluation.cycle events.
type CycleEvent struct {
	Reason     string   `json:"reason"`
	StartedAt  string   `json:"started_at"`
	DurationMS int64    `json:"duration_ms"`
	Evaluated  int      `json:"evaluated"`
	Fired      []string `json:"fired"`
	Skipped    []string `json:"skipped"`
}

// StateEvent is the payload of state.changed events.
type StateEvent struct {
	Kind string `json:"kind"`
	Key  string `json:"key,omitempty"`
}

// subscription is one channel a client listens on. A nil automations set
// matches every automation.
type subscription struct {
	automations map[string]struct{}
}

func (s subscription) matches(automationID string) bool {
	if s.automations == nil || automationID == "" {
		return true
	}
	_, ok := s.automations[automationID]
	return ok
}

// Hub tracks connected clients and fans engine events out to them.
type Hub struct {
	cfg     config.WebSocketConfig
	logger  *logging.Logger
	clients map[*WSClient]struct{}
	mu      sync.RWMutex
	dropped atomic.Uint64
}

// WSClient is a connected WebSocket client.
type WSClient struct {
	hub           *Hub
	conn          *websocket.Conn
	send          chan []byte
	subscriptions map[string]subscription
	closed        bool
	mu            sync.RWMutex
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin checking is handled by CORS middleware
		return true
	},
}

// NewHub creates a new WebSocket hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*WSClient]struct{}),
	}
}

// newClient creates a client with an empty subscription set.
func (h *Hub) newClient(conn *websocket.Conn) *WSClient {
	return &WSClient{
		hub:           h,
		conn:          conn,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: make(map[string]subscription),
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
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", n)
}

// Unregister removes a client from the hub and closes its send channel.
// Calling it twice for the same client is safe.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	_, existed := h.clients[client]
	delete(h.clients, client)
	n := len(h.clients)
	h.mu.Unlock()

	if existed {
		client.shutdown()
		h.logger.Debug("websocket client disconnected", "clients", n)
	}
}

// Broadcast sends an event to every client subscribed to channel.
func (h *Hub) Broadcast(channel string, payload any) {
	h.broadcast(channel, "", payload)
}

// broadcast delivers to subscribers of channel whose filter accepts
// automationID. The hub lock is released before any client lock is taken.
func (h *Hub) broadcast(channel, automationID string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: channel,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Payload:   payload,
	})
	if err != nil {
		h.logger.Error("failed to marshal broadcast message", "channel", channel, "error", err)
		return
	}

	h.mu.RLock()
	clients := make([]*WSClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	sent := 0
	for _, client := range clients {
		if !client.wants(channel, automationID) {
			continue
		}
		if client.trySend(data) {
			sent++
		} else {
			h.dropped.Add(1)
		}
	}
	if sent > 0 {
		h.logger.Debug("broadcast sent", "channel", channel, "recipients", sent)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns how many messages were discarded because a client's
// buffer was full.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*WSClient]struct{})
	h.mu.Unlock()

	for client := range clients {
		client.shutdown()
		if client.conn != nil {
			client.conn.Close()
		}
	}
}

// PublishExecution broadcasts an execution log entry. It matches
// automation.Registry.OnExecution.
func (h *Hub) PublishExecution(entry automation.ExecutionLogEntry) {
	h.broadcast(ChannelAutomationExecuted, entry.AutomationID, entry)
}

// PublishCycle broadcasts an evaluation cycle summary. It matches
// scheduler.Scheduler.OnCycle.
func (h *Hub) PublishCycle(c scheduler.Cycle) {
	fired, skipped := c.Report.Fired, c.Report.Skipped
	if fired == nil {
		fired = []string{}
	}
	if skipped == nil {
		skipped = []string{}
	}
	h.Broadcast(ChannelEvaluationCycle, CycleEvent{
		Reason:     string(c.Reason),
		StartedAt:  c.StartedAt.UTC().Format(time.RFC3339Nano),
		DurationMS: c.Duration.Milliseconds(),
		Evaluated:  c.Report.Evaluated,
		Fired:      fired,
		Skipped:    skipped,
	})
}

// PublishStateChange broadcasts a home state change. It matches
// homestate.Store.OnChange.
func (h *Hub) PublishStateChange(c homestate.Change) {
	h.Broadcast(ChannelStateChanged, StateEvent{Kind: string(c.Kind), Key: c.Key})
}

// handleWebSocket upgrades the connection. Clients receive nothing until
// they subscribe to at least one channel.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := s.hub.newClient(conn)
	s.hub.Register(client)

	go client.writePump()
	go client.readPump()
}

func (c *WSClient) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	cfg := c.hub.cfg
	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	idle := time.Duration(cfg.PingInterval+cfg.PongTimeout) * time.Second
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(idle))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(idle))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		// Any client message counts as liveness.
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(idle))
		c.handleMessage(message)
	}
}

func (c *WSClient) writePump() {
	cfg := c.hub.cfg
	ticker := time.NewTicker(time.Duration(cfg.PingInterval) * time.Second)
	writeWait := time.Duration(cfg.PongTimeout) * time.Second
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				//nolint:errcheck // Best-effort close message
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *WSClient) handleMessage(data []byte) {
	var msg wsInbound
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("", "invalid JSON message")
		return
	}

	switch msg.Type {
	case WSTypeSubscribe, WSTypeUnsubscribe:
		var p WSSubscribePayload
		if len(msg.Payload) == 0 || json.Unmarshal(msg.Payload, &p) != nil {
			c.sendError(msg.ID, "invalid "+msg.Type+" payload")
			return
		}
		if unknown := unknownChannels(p.Channels); len(unknown) > 0 {
			c.sendResponse(msg.ID, WSTypeError, map[string]any{
				"message":  "unknown channels",
				"channels": unknown,
				"known":    knownChannels,
			})
			return
		}
		if msg.Type == WSTypeSubscribe {
			c.subscribe(p)
			c.sendResponse(msg.ID, WSTypeResponse, map[string]any{"subscribed": p.Channels})
		} else {
			c.unsubscribe(p.Channels)
			c.sendResponse(msg.ID, WSTypeResponse, map[string]any{"unsubscribed": p.Channels})
		}
	case WSTypePing:
		c.sendResponse(msg.ID, WSTypePong, nil)
	default:
		c.sendError(msg.ID, "unknown message type: "+msg.Type)
	}
}

func unknownChannels(channels []string) []string {
	var unknown []string
	for _, ch := range channels {
		if !slices.Contains(knownChannels, ch) {
			unknown = append(unknown, ch)
		}
	}
	return unknown
}

// subscribe replaces the filter of every listed channel.
func (c *WSClient) subscribe(p WSSubscribePayload) {
	var ids map[string]struct{}
	if len(p.AutomationIDs) > 0 {
		ids = make(map[string]struct{}, len(p.AutomationIDs))
		for _, id := range p.AutomationIDs {
			ids[id] = struct{}{}
		}
	}

	c.mu.Lock()
	for _, ch := range p.Channels {
		sub := subscription{}
		if ch == ChannelAutomationExecuted {
			sub.automations = ids
		}
		c.subscriptions[ch] = sub
	}
	c.mu.Unlock()

	c.hub.logger.Debug("websocket client subscribed",
		"channels", p.Channels,
		"automations", len(p.AutomationIDs),
	)
}

func (c *WSClient) unsubscribe(channels []string) {
	c.mu.Lock()
	for _, ch := range channels {
		delete(c.subscriptions, ch)
	}
	c.mu.Unlock()
}

func (c *WSClient) wants(channel, automationID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	sub, ok := c.subscriptions[channel]
	return ok && sub.matches(automationID)
}

// trySend queues data without blocking. It reports false when the
// client's buffer is full; messages to a closed client are discarded.
func (c *WSClient) trySend(data []byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return true
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// shutdown closes the send channel exactly once. The write lock excludes
// any trySend in progress.
func (c *WSClient) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *WSClient) sendResponse(id, msgType string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
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
