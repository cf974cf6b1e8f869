package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/webiot/relay/internal/auth"
	"github.com/webiot/relay/internal/infrastructure/config"
	"github.com/webiot/relay/internal/infrastructure/logging"
	"github.com/webiot/relay/internal/relay"
)

// Broadcast channels.
const (
	// ChannelChatMessage carries each visible message as it arrives.
	ChannelChatMessage = "chat.message"
	// ChannelRelayStatus carries connection state changes. Subscribing
	// also delivers the current status straight away.
	ChannelRelayStatus = "relay.status"
)

// Frame types on /api/ws. The first three are sent by clients.
const (
	wsSubscribe    = "subscribe"
	wsUnsubscribe  = "unsubscribe"
	wsPing         = "ping"
	wsSubscribed   = "subscribed"
	wsUnsubscribed = "unsubscribed"
	wsPong         = "pong"
	wsEvent        = "event"
	wsError        = "error"
)

// wsSendBufferSize is the per-client outbound queue. Frames beyond it are
// dropped for that client only.
const wsSendBufferSize = 64

// channelSet is a bit set of broadcast channels.
type channelSet uint32

const (
	chanChat channelSet = 1 << iota
	chanStatus
)

var channelBits = map[string]channelSet{
	ChannelChatMessage: chanChat,
	ChannelRelayStatus: chanStatus,
}

// parseChannels maps channel names to a set. Unknown names are an error.
func parseChannels(names []string) (channelSet, error) {
	var set channelSet
	for _, name := range names {
		bit, ok := channelBits[name]
		if !ok {
			return 0, fmt.Errorf("unknown channel %q", name)
		}
		set |= bit
	}
	return set, nil
}

// wsFrame is every message on /api/ws, in both directions.
//
//	→ {"type":"subscribe","id":"1","channels":["chat.message"]}
//	← {"type":"subscribed","id":"1","channels":["chat.message"],"time":"..."}
//	← {"type":"event","channel":"chat.message","data":{...},"time":"..."}
type wsFrame struct {
	Type     string   `json:"type"`
	ID       string   `json:"id,omitempty"`
	Channel  string   `json:"channel,omitempty"`
	Channels []string `json:"channels,omitempty"`
	Time     string   `json:"time,omitempty"`
	Data     any      `json:"data,omitempty"`
	Error    string   `json:"error,omitempty"`
}

func encodeFrame(f wsFrame) ([]byte, error) {
	f.Time = time.Now().UTC().Format(time.RFC3339)
	return json.Marshal(f)
}

// clientGauge receives the connected client count.
type clientGauge interface {
	SetWebSocketClients(n int)
}

// Hub fans relay activity out to WebSocket clients.
//
// Hub implements relay.Listener. Its callbacks run on the relay dispatcher,
// so a broadcast encodes once and only queues to clients without blocking.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger
	status func() relay.Status // snapshot for new relay.status subscribers; may be nil
	gauge  clientGauge

	mu      sync.RWMutex
	clients map[*wsClient]struct{}
}

// upgrader configures the WebSocket upgrader.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin checking is handled by CORS middleware
		return true
	},
}

// NewHub creates a hub. status, when set, supplies the snapshot sent to
// clients subscribing to relay.status.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger, status func() relay.Status) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		status:  status,
		clients: make(map[*wsClient]struct{}),
	}
}

// SetGauge sets where the client count is reported.
func (h *Hub) SetGauge(g clientGauge) {
	h.gauge = g
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*wsClient]struct{})
	h.mu.Unlock()

	for c := range clients {
		c.stop()
	}
	h.reportCount(0)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// MessageIngested pushes visible messages to chat.message subscribers.
// Control messages are never pushed.
func (h *Hub) MessageIngested(msg relay.Message, control bool) {
	if control {
		return
	}
	h.broadcast(chanChat, ChannelChatMessage, msg)
}

// StateChanged pushes connection state to relay.status subscribers.
func (h *Hub) StateChanged(status relay.Status) {
	h.broadcast(chanStatus, ChannelRelayStatus, status)
}

func (h *Hub) broadcast(bit channelSet, channel string, data any) {
	frame, err := encodeFrame(wsFrame{Type: wsEvent, Channel: channel, Data: data})
	if err != nil {
		h.logger.Error("encoding websocket event failed", "channel", channel, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.subscribed(bit) && !c.enqueue(frame) {
			h.logger.Debug("websocket client lagging, event dropped", "channel", channel, "user", c.identity.Username)
		}
	}
}

// pushStatus sends the current relay status to one client. Holding the
// hub lock orders the snapshot against concurrent broadcasts, so the
// client never ends on a stale status.
func (h *Hub) pushStatus(c *wsClient) {
	if h.status == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if frame, err := encodeFrame(wsFrame{Type: wsEvent, Channel: ChannelRelayStatus, Data: h.status()}); err == nil {
		c.enqueue(frame)
	}
}

func (h *Hub) add(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()

	h.reportCount(n)
	h.logger.Debug("websocket client connected", "clients", n, "user", c.identity.Username)
}

// remove drops c and stops its writer. Safe to call more than once.
func (h *Hub) remove(c *wsClient) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	c.stop()
	if ok {
		h.reportCount(n)
		h.logger.Debug("websocket client disconnected", "clients", n, "user", c.identity.Username)
	}
}

func (h *Hub) reportCount(n int) {
	if h.gauge != nil {
		h.gauge.SetWebSocketClients(n)
	}
}

// wsClient is one connected browser.
//
// The send channel is never closed; done tells the writer to finish.
// That keeps enqueue free of send-on-closed-channel races.
type wsClient struct {
	hub      *Hub
	conn     *websocket.Conn
	identity auth.Identity

	channels atomic.Uint32 // channelSet; written only by the reader goroutine

	send     chan []byte
	done     chan struct{}
	stopOnce sync.Once
}

func newWSClient(hub *Hub, conn *websocket.Conn, id auth.Identity, initial channelSet) *wsClient {
	c := &wsClient{
		hub:      hub,
		conn:     conn,
		identity: id,
		send:     make(chan []byte, wsSendBufferSize),
		done:     make(chan struct{}),
	}
	c.channels.Store(uint32(initial))
	return c
}

func (c *wsClient) current() channelSet {
	return channelSet(c.channels.Load())
}

func (c *wsClient) subscribed(bit channelSet) bool {
	return c.current()&bit != 0
}

func (c *wsClient) stop() {
	c.stopOnce.Do(func() { close(c.done) })
}

// enqueue queues data for the writer without blocking. It reports false
// when the client is gone or its queue is full.
func (c *wsClient) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *wsClient) reply(f wsFrame) {
	if frame, err := encodeFrame(f); err == nil {
		c.enqueue(frame)
	}
}

// handle processes one client frame.
func (c *wsClient) handle(data []byte) {
	var in wsFrame
	if err := json.Unmarshal(data, &in); err != nil {
		c.reply(wsFrame{Type: wsError, Error: "invalid JSON message"})
		return
	}

	switch in.Type {
	case wsPing:
		c.reply(wsFrame{Type: wsPong, ID: in.ID})
	case wsSubscribe, wsUnsubscribe:
		set, err := parseChannels(in.Channels)
		if err != nil {
			c.reply(wsFrame{Type: wsError, ID: in.ID, Error: err.Error()})
			return
		}
		if in.Type == wsUnsubscribe {
			c.channels.Store(uint32(c.current() &^ set))
			c.reply(wsFrame{Type: wsUnsubscribed, ID: in.ID, Channels: in.Channels})
			return
		}
		added := set &^ c.current()
		c.channels.Store(uint32(c.current() | set))
		c.reply(wsFrame{Type: wsSubscribed, ID: in.ID, Channels: in.Channels})
		if added&chanStatus != 0 {
			c.hub.pushStatus(c)
		}
	default:
		c.reply(wsFrame{Type: wsError, ID: in.ID, Error: "unknown message type: " + in.Type})
	}
}

// handleWebSocket upgrades the connection. It runs behind sessionMiddleware;
// browsers send the session cookie with the upgrade request.
//
// ?channels=chat.message,relay.status subscribes at connect time.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "authentication required")
		return
	}

	var initial channelSet
	if q := r.URL.Query().Get("channels"); q != "" {
		set, err := parseChannels(strings.Split(q, ","))
		if err != nil {
			writeBadRequest(w, err.Error())
			return
		}
		initial = set
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := newWSClient(s.hub, conn, id, initial)
	s.hub.add(client)
	if initial&chanStatus != 0 {
		s.hub.pushStatus(client)
	}

	pingInterval, pongWait := wsIntervals(s.wsCfg)
	go client.writeLoop(pingInterval, pongWait)
	go client.readLoop(s.wsCfg.MaxMessageSize, pingInterval+pongWait)
}

// readLoop reads client frames until the connection fails, then
// unregisters the client.
func (c *wsClient) readLoop(maxSize int, idle time.Duration) {
	defer c.hub.remove(c)

	if maxSize > 0 {
		c.conn.SetReadLimit(int64(maxSize))
	}
	extend := func() error { return c.conn.SetReadDeadline(time.Now().Add(idle)) }
	_ = extend() //nolint:errcheck // a failed deadline surfaces on the next read
	c.conn.SetPongHandler(func(string) error { return extend() })

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		// any frame counts as liveness, for browsers that ignore pings
		_ = extend() //nolint:errcheck // as above
		c.handle(data)
	}
}

// writeLoop owns all writes to the connection and closes it on exit.
func (c *wsClient) writeLoop(pingInterval, writeWait time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	write := func(kind int, data []byte) error {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck // write reports the failure
		return c.conn.WriteMessage(kind, data)
	}

	for {
		select {
		case data := <-c.send:
			if err := write(websocket.TextMessage, data); err != nil {
				c.stop()
				return
			}
		case <-ticker.C:
			if err := write(websocket.PingMessage, nil); err != nil {
				c.stop()
				return
			}
		case <-c.done:
			_ = write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "")) //nolint:errcheck // best effort
			return
		}
	}
}

// wsIntervals returns the ping interval and pong wait, with defaults for
// unset values.
func wsIntervals(cfg config.WebSocketConfig) (time.Duration, time.Duration) {
	ping := time.Duration(cfg.PingInterval) * time.Second
	if ping <= 0 {
		ping = 30 * time.Second
	}
	pong := time.Duration(cfg.PongTimeout) * time.Second
	if pong <= 0 {
		pong = 10 * time.Second
	}
	return ping, pong
}
