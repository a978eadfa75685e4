package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ============================================================================
// Occupancy WebSocket: hub + per-client pumps + broadcaster
// ============================================================================
//
// Displays and dashboards connect to /ws/state and receive:
//   - "state_init" once on connect, with the current count
//   - "count_changed" after crossings and resets (bursts coalesced, latest wins)
//   - "count_report" on every periodic occupancy report
//
// Messages are JSON text frames with an envelope: {type, ts, data}.
// Each client has its own write pump; a client whose send buffer fills is
// disconnected rather than slowing the others.
//
// ============================================================================

// wsStateSnapshot is the `data` payload for "state_init".
type wsStateSnapshot struct {
	Count     uint64    `json:"count"`
	StartedAt time.Time `json:"started_at"`
}

// wsCountChangedData is the `data` payload for "count_changed".
type wsCountChangedData struct {
	Count     uint64       `json:"count"`
	Reason    ChangeReason `json:"reason"`
	Direction Direction    `json:"direction,omitempty"`
	Applied   int          `json:"applied"`
}

// wsCountReportData is the `data` payload for "count_report".
type wsCountReportData struct {
	Count uint64 `json:"count"`
}

type wsOutboundEvent struct {
	Type string
	Data any
	At   time.Time // zero means now
}

// envelope is the wire format envelope for WS messages.
type envelope struct {
	Type string     `json:"type"`
	Ts   *time.Time `json:"ts,omitempty"`
	Data any        `json:"data,omitempty"`
}

// ============================================================================
// Hub
// ============================================================================

type Hub struct {
	logger *slog.Logger

	// Already-serialized JSON frames.
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client

	// done is closed when Run returns.
	done chan struct{}

	mu      sync.Mutex
	clients map[*Client]struct{}

	sendBuf int
}

type HubConfig struct {
	// SendBuf is the per-client outbound queue size. Zero uses a default.
	SendBuf int

	// BroadcastBuf is the hub inbound queue size. Zero uses a default.
	BroadcastBuf int
}

// NewHub constructs a hub. Call Run(ctx) to start it.
func NewHub(logger *slog.Logger, cfg HubConfig) *Hub {
	sendBuf := cfg.SendBuf
	if sendBuf <= 0 {
		sendBuf = 16
	}
	bcastBuf := cfg.BroadcastBuf
	if bcastBuf <= 0 {
		bcastBuf = 64
	}

	return &Hub{
		logger:     logger,
		broadcast:  make(chan []byte, bcastBuf),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		clients:    make(map[*Client]struct{}),
		sendBuf:    sendBuf,
	}
}

// Run processes hub events until ctx is canceled, then disconnects all
// clients.
func (h *Hub) Run(ctx context.Context) error {
	h.logger.Debug("ws hub starting")
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("ws hub stopping (context canceled)")
			h.closeAllClients()
			return nil

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws client registered", "remote_addr", c.remoteAddr, "clients", n)

		case c := <-h.unregister:
			h.removeClient(c, "unregister")

		case msg := <-h.broadcast:
			h.fanOut(msg)
		}
	}
}

// Register hands c to the hub. It returns false once the hub has stopped, in
// which case the caller still owns c.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes c. It returns immediately once the hub has stopped;
// the hub closed every client on its way out.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// fanOut queues msg on every client and evicts the ones that are full.
func (h *Hub) fanOut(msg []byte) {
	var slow []*Client

	h.mu.Lock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.Unlock()

	for _, c := range slow {
		h.removeClient(c, "slow_client")
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if c.conn != nil {
			_ = c.conn.Close()
		}
		safeCloseChan(c.send)
		delete(h.clients, c)
	}
}

func (h *Hub) removeClient(c *Client, reason string) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
	}
	n := len(h.clients)
	h.mu.Unlock()

	if !ok {
		return
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
	// Closing send tells writePump to exit.
	safeCloseChan(c.send)
	h.logger.Info("ws client disconnected", "remote_addr", c.remoteAddr, "reason", reason, "clients", n)
}

func safeCloseChan(ch chan []byte) {
	defer func() {
		_ = recover() // close of closed channel
	}()
	close(ch)
}

// BroadcastBytes enqueues a serialized frame. It never blocks; a full hub
// queue drops the frame.
func (h *Hub) BroadcastBytes(msg []byte) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("ws hub broadcast queue full, dropping message", "bytes", len(msg))
	}
}

// ============================================================================
// Client
// ============================================================================

type Client struct {
	hub *Hub

	conn *websocket.Conn
	send chan []byte

	remoteAddr string
	logger     *slog.Logger
}

func NewClient(hub *Hub, conn *websocket.Conn, remoteAddr string, logger *slog.Logger) *Client {
	sendBuf := 16
	if hub != nil && hub.sendBuf > 0 {
		sendBuf = hub.sendBuf
	}
	return &Client{
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, sendBuf),
		remoteAddr: remoteAddr,
		logger:     logger,
	}
}

const (
	writeWait  = 5 * time.Second
	pongWait   = 30 * time.Second
	pingPeriod = 20 * time.Second
)

// wsCountCoalesceWindow bounds how often count_changed frames go out during
// a burst of crossings.
const wsCountCoalesceWindow = 50 * time.Millisecond

func closeStatus(err error) (code int, text string, ok bool) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Text, true
	}
	return 0, "", false
}

func (c *Client) logExit(pump string, err error) {
	if errors.Is(err, websocket.ErrCloseSent) {
		return
	}
	if code, text, ok := closeStatus(err); ok {
		c.logger.Info("ws "+pump+" exiting (close)", "remote_addr", c.remoteAddr, "code", code, "reason", text)
		return
	}
	c.logger.Info("ws "+pump+" exiting", "remote_addr", c.remoteAddr, "error", err)
}

// writePump drains the send queue to the socket and keeps it alive with
// pings. It exits on write error or when send is closed.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logExit("writePump", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logExit("writePump", err)
				return
			}
		}
	}
}

// readPump discards inbound frames so control frames are processed and
// disconnects are noticed. It unregisters the client on exit.
func (c *Client) readPump() {
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			c.logExit("readPump", err)
			if c.hub != nil {
				c.hub.Unregister(c)
			}
			return
		}
	}
}

// ============================================================================
// HTTP handler
// ============================================================================

type StateServer struct {
	logger   *slog.Logger
	hub      *Hub
	snapshot func() wsStateSnapshot
}

// NewStateServer builds the hub and handler. snapshot is called once per
// connection for the state_init message.
func NewStateServer(logger *slog.Logger, snapshot func() wsStateSnapshot, cfg HubConfig) *StateServer {
	return &StateServer{
		logger:   logger,
		hub:      NewHub(logger, cfg),
		snapshot: snapshot,
	}
}

func (s *StateServer) Hub() *Hub { return s.hub }

func (s *StateServer) Register(mux *http.ServeMux, path string) {
	if mux == nil {
		return
	}
	mux.HandleFunc(path, s.handleStateWS)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (s *StateServer) handleStateWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "error", err)
		return
	}

	client := NewClient(s.hub, conn, r.RemoteAddr, s.logger)

	// Queue state_init before registering so it is the first frame the
	// client sees; later broadcasts can only land behind it.
	if s.snapshot != nil {
		now := time.Now().UTC()
		initMsg, mErr := json.Marshal(envelope{
			Type: "state_init",
			Ts:   &now,
			Data: s.snapshot(),
		})
		if mErr != nil {
			s.logger.Warn("ws state_init marshal failed", "error", mErr)
		} else {
			client.send <- initMsg
		}
	}

	if !s.hub.Register(client) {
		s.logger.Debug("ws hub stopped, dropping connection", "remote_addr", r.RemoteAddr)
		_ = conn.Close()
		return
	}

	// The pumps must outlive the handler: net/http cancels r.Context() when
	// the handler returns.
	go client.writePump()
	go client.readPump()
}

// ============================================================================
// Broadcaster
// ============================================================================

// hubSink forwards count changes to RunBroadcaster without blocking the
// dispatcher.
type hubSink struct {
	out    chan<- CountChange
	logger *slog.Logger
}

func (hubSink) Name() string { return "ws" }

func (s hubSink) Report(_ context.Context, c CountChange) error {
	select {
	case s.out <- c:
	default:
		s.logger.Warn("ws broadcast source full, dropping count change", "reason", string(c.Reason))
	}
	return nil
}

// RunBroadcaster marshals count changes and broadcasts them to all hub
// clients. count_changed is rate-limited to one frame per coalesce window
// (latest wins, no debounce-on-silence).
func RunBroadcaster(ctx context.Context, hub *Hub, src <-chan CountChange, logger *slog.Logger) error {
	if hub == nil || src == nil {
		return nil
	}

	var pending *wsOutboundEvent
	var timer *time.Timer
	var timerCh <-chan time.Time

	emit := func(ev wsOutboundEvent) {
		ts := ev.At
		if ts.IsZero() {
			ts = time.Now()
		}
		ts = ts.UTC()
		msg, err := json.Marshal(envelope{Type: ev.Type, Ts: &ts, Data: ev.Data})
		if err != nil {
			logger.Warn("ws broadcaster marshal failed", "error", err, "type", ev.Type)
			return
		}
		hub.BroadcastBytes(msg)
	}

	flushPending := func() {
		if pending == nil {
			return
		}
		emit(*pending)
		pending = nil
	}

	stopTimer := func() {
		if timer != nil && !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer = nil
		timerCh = nil
	}

	for {
		select {
		case <-ctx.Done():
			flushPending()
			stopTimer()
			return nil

		case <-timerCh:
			flushPending()
			stopTimer()

		case c, ok := <-src:
			if !ok {
				flushPending()
				stopTimer()
				logger.Debug("ws broadcaster stopping (source ended)")
				return nil
			}

			ev := convertCountChange(c)
			if ev.Type == "count_changed" {
				pending = &ev
				if timer == nil {
					timer = time.NewTimer(wsCountCoalesceWindow)
					timerCh = timer.C
				}
				continue
			}

			// Keep ordering: anything pending goes out before this event.
			flushPending()
			stopTimer()
			emit(ev)
		}
	}
}

func convertCountChange(c CountChange) wsOutboundEvent {
	if c.Reason == ReasonReport {
		return wsOutboundEvent{
			Type: "count_report",
			Data: wsCountReportData{Count: c.Count},
			At:   c.At,
		}
	}
	return wsOutboundEvent{
		Type: "count_changed",
		Data: wsCountChangedData{
			Count:     c.Count,
			Reason:    c.Reason,
			Direction: c.Direction,
			Applied:   c.Applied,
		},
		At: c.At,
	}
}
