package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	tuyabridge "github.com/nerrad567/gray-logic-tuya/internal/bridges/tuya"
	"github.com/nerrad567/gray-logic-tuya/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-tuya/internal/infrastructure/logging"
)

// Frame types sent by clients.
const (
	FrameWatch   = "watch"
	FrameUnwatch = "unwatch"
	FrameWrite   = "write"
	FramePing    = "ping"
)

// Frame types sent by the server.
const (
	FrameState = "state"
	FrameAck   = "ack"
	FramePong  = "pong"
	FrameError = "error"
)

// WatchAll in a watch frame subscribes to every device.
const WatchAll = "*"

// wsSendBufferSize is the per-client outbound frame buffer size.
const wsSendBufferSize = 256

// Frame is one WebSocket message in either direction. Clients correlate
// acks and errors with their requests through ID.
type Frame struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`

	// Devices lists unique ids for watch and unwatch.
	Devices []string `json:"devices,omitempty"`

	// DeviceID and Properties carry a write.
	DeviceID   string         `json:"device_id,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`

	State *tuyabridge.StateMessage `json:"state,omitempty"`
	Error string                   `json:"error,omitempty"`
}

// StateSource is what the hub needs from the bridge to serve frames.
// Satisfied by *tuyabridge.Bridge.
type StateSource interface {
	State(uid string) (tuyabridge.StateMessage, error)
	Write(uid string, props map[string]any) error
}

// Hub fans device state out to WebSocket clients watching each device.
type Hub struct {
	cfg     config.WebSocketConfig
	logger  *logging.Logger
	devices StateSource

	mu      sync.RWMutex
	clients map[*wsClient]struct{}
}

// wsClient is one connected WebSocket client.
type wsClient struct {
	hub     *Hub
	subject string // empty when authentication is off
	conn    *websocket.Conn
	send    chan []byte

	mu       sync.RWMutex
	watching map[string]struct{}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin checking is handled by CORS middleware
		return true
	},
}

// NewHub creates a hub serving state and writes through devices.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger, devices StateSource) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		devices: devices,
		clients: make(map[*wsClient]struct{}),
	}
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

func (h *Hub) register(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "subject", c.subject, "clients", count)
}

// unregister removes c. Only the caller that removes it closes c.send.
func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	_, existed := h.clients[c]
	delete(h.clients, c)
	count := len(h.clients)
	h.mu.Unlock()

	if existed {
		close(c.send)
		h.logger.Debug("websocket client disconnected", "subject", c.subject, "clients", count)
	}
}

// PublishState sends msg to every client watching its device.
func (h *Hub) PublishState(msg tuyabridge.StateMessage) {
	data, err := json.Marshal(Frame{Type: FrameState, DeviceID: msg.DeviceID, State: &msg})
	if err != nil {
		h.logger.Error("failed to marshal state frame", "device", msg.DeviceID, "error", err)
		return
	}

	h.mu.RLock()
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if c.watches(msg.DeviceID) {
			c.trySend(data)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		close(c.send)
		if c.conn != nil {
			c.conn.Close()
		}
		delete(h.clients, c)
	}
}

// handleWebSocket upgrades the connection and starts the client pumps.
// When API authentication is configured the client must pass a ticket
// obtained from POST /auth/ws-ticket.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	var subject string
	if s.authRequired() {
		ticket := r.URL.Query().Get("ticket")
		if ticket == "" {
			writeUnauthorized(w, "ticket query parameter is required")
			return
		}
		var ok bool
		if subject, ok = s.tickets.consume(ticket); !ok {
			writeUnauthorized(w, "invalid or expired ticket")
			return
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	c := &wsClient{
		hub:      s.hub,
		subject:  subject,
		conn:     conn,
		send:     make(chan []byte, wsSendBufferSize),
		watching: make(map[string]struct{}),
	}
	s.hub.register(c)

	go c.writePump()
	go c.readPump()
}

func (h *Hub) keepalive() (ping, wait time.Duration) {
	ping = time.Duration(h.cfg.PingInterval) * time.Second
	return ping, ping + time.Duration(h.cfg.PongTimeout)*time.Second
}

func (c *wsClient) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	_, wait := c.hub.keepalive()
	c.conn.SetReadLimit(int64(c.hub.cfg.MaxMessageSize))
	//nolint:errcheck // A failed deadline surfaces as a read error
	c.conn.SetReadDeadline(time.Now().Add(wait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		// Browsers may not answer protocol pings; any frame counts as alive.
		//nolint:errcheck // A failed deadline surfaces as a read error
		c.conn.SetReadDeadline(time.Now().Add(wait))
		c.handleFrame(data)
	}
}

func (c *wsClient) writePump() {
	ping, _ := c.hub.keepalive()
	writeWait := time.Duration(c.hub.cfg.PongTimeout) * time.Second
	ticker := time.NewTicker(ping)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				//nolint:errcheck // Connection is closing anyway
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			//nolint:errcheck // Write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleFrame serves one client frame.
func (c *wsClient) handleFrame(data []byte) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		c.reply(Frame{Type: FrameError, Error: "invalid JSON frame"})
		return
	}

	switch f.Type {
	case FrameWatch:
		c.handleWatch(f)
	case FrameUnwatch:
		if len(f.Devices) == 0 {
			c.reply(Frame{Type: FrameError, ID: f.ID, Error: "devices is required"})
			return
		}
		c.mu.Lock()
		for _, id := range f.Devices {
			delete(c.watching, id)
		}
		c.mu.Unlock()
		c.reply(Frame{Type: FrameAck, ID: f.ID, Devices: f.Devices})
	case FrameWrite:
		c.handleWrite(f)
	case FramePing:
		c.reply(Frame{Type: FramePong, ID: f.ID})
	default:
		c.reply(Frame{Type: FrameError, ID: f.ID, Error: "unknown frame type: " + f.Type})
	}
}

// handleWatch subscribes to devices and replays their current state, so a
// client never waits a poll interval for its first view.
func (c *wsClient) handleWatch(f Frame) {
	if len(f.Devices) == 0 {
		c.reply(Frame{Type: FrameError, ID: f.ID, Error: "devices is required"})
		return
	}

	c.mu.Lock()
	for _, id := range f.Devices {
		c.watching[id] = struct{}{}
	}
	c.mu.Unlock()
	c.reply(Frame{Type: FrameAck, ID: f.ID, Devices: f.Devices})

	for _, id := range f.Devices {
		if id == WatchAll {
			continue
		}
		msg, err := c.hub.devices.State(id)
		if err != nil {
			continue // Not ready yet; the first refresh is published
		}
		c.reply(Frame{Type: FrameState, DeviceID: id, State: &msg})
	}
}

func (c *wsClient) handleWrite(f Frame) {
	if f.DeviceID == "" || len(f.Properties) == 0 {
		c.reply(Frame{Type: FrameError, ID: f.ID, Error: "device_id and properties are required"})
		return
	}
	if err := c.hub.devices.Write(f.DeviceID, f.Properties); err != nil {
		c.reply(Frame{Type: FrameError, ID: f.ID, DeviceID: f.DeviceID, Error: err.Error()})
		return
	}
	c.reply(Frame{Type: FrameAck, ID: f.ID, DeviceID: f.DeviceID})
}

func (c *wsClient) watches(deviceID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, one := c.watching[deviceID]
	_, all := c.watching[WatchAll]
	return one || all
}

func (c *wsClient) reply(f Frame) {
	data, err := json.Marshal(f)
	if err != nil {
		return
	}
	c.trySend(data)
}

// trySend queues data, dropping it for a slow client or one already
// unregistered.
func (c *wsClient) trySend(data []byte) {
	defer func() {
		recover() //nolint:errcheck // Send on a channel closed by unregister
	}()

	select {
	case c.send <- data:
	default:
	}
}
