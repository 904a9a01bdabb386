package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"spark/internal/observability"

	"github.com/gofiber/websocket/v2"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 4096

	// Max relay connections served at once
	maxRelayConns = 10000

	// Max filters a single connection may hold
	maxSubsPerConn = 64

	sendBuffer = 256
)

// ViewerLocal is the fiber local holding the authenticated viewer, if any.
const ViewerLocal = "viewerID"

var errRelayFull = errors.New("relay connection limit reached")

// Relay streams change events from a local subscriber to websocket clients.
// Each subscribe frame becomes one subscription that lives as long as the
// connection.
type Relay struct {
	source Subscriber

	mu      sync.Mutex
	clients map[*relayConn]struct{}
	closed  bool
}

// NewRelay creates a relay fed by source.
func NewRelay(source Subscriber) *Relay {
	return &Relay{
		source:  source,
		clients: make(map[*relayConn]struct{}),
	}
}

// Name returns a human-readable identifier for this relay.
func (r *Relay) Name() string { return "change relay" }

// Handler returns the websocket handler to mount behind an upgrade check.
func (r *Relay) Handler() func(*websocket.Conn) {
	return func(conn *websocket.Conn) {
		viewerID, _ := conn.Locals(ViewerLocal).(string)
		r.Serve(conn, viewerID)
	}
}

// Serve runs one relay connection until the peer goes away.
func (r *Relay) Serve(conn *websocket.Conn, viewerID string) {
	c, err := r.register(conn, viewerID)
	if err != nil {
		_ = conn.WriteJSON(Frame{Type: FrameError, Error: err.Error()})
		_ = conn.Close()
		return
	}
	observability.RelayConnections.Inc()
	defer observability.RelayConnections.Dec()

	go c.writePump()
	c.readPump()
}

// Clients returns the number of connected clients.
func (r *Relay) Clients() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

func (r *Relay) register(conn *websocket.Conn, viewerID string) (*relayConn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || len(r.clients) >= maxRelayConns {
		return nil, errRelayFull
	}
	c := &relayConn{
		relay:    r,
		conn:     conn,
		viewerID: viewerID,
		send:     make(chan []byte, sendBuffer),
	}
	r.clients[c] = struct{}{}
	return c, nil
}

func (r *Relay) unregister(c *relayConn) {
	r.mu.Lock()
	delete(r.clients, c)
	r.mu.Unlock()
	c.close()
}

// Shutdown closes every connection with a going-away frame.
func (r *Relay) Shutdown(_ context.Context) error {
	r.mu.Lock()
	r.closed = true
	clients := make([]*relayConn, 0, len(r.clients))
	for c := range r.clients {
		clients = append(clients, c)
	}
	r.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
	return nil
}

// relayConn is the middleman between one websocket connection and the source.
type relayConn struct {
	relay    *Relay
	conn     *websocket.Conn
	viewerID string

	mu     sync.Mutex
	send   chan []byte
	subs   []Subscription
	closed bool
}

func (c *relayConn) readPump() {
	defer func() {
		c.relay.unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { _ = c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				observability.Logger.Warn("relay read error",
					slog.String("viewer_id", c.viewerID),
					slog.String("error", err.Error()),
				)
			}
			return
		}
		c.handle(message)
	}
}

func (c *relayConn) handle(message []byte) {
	var in Frame
	if err := json.Unmarshal(message, &in); err != nil {
		c.sendFrame(Frame{Type: FrameError, Error: "invalid frame"})
		return
	}
	if in.Type != FrameSubscribe || in.Filter == nil {
		c.sendFrame(Frame{Type: FrameError, Error: "unsupported frame type"})
		return
	}
	filter := *in.Filter
	if err := filter.Validate(); err != nil {
		c.sendFrame(Frame{Type: FrameError, Error: err.Error()})
		return
	}

	c.mu.Lock()
	if c.closed || len(c.subs) >= maxSubsPerConn {
		c.mu.Unlock()
		c.sendFrame(Frame{Type: FrameError, Error: "subscription limit reached"})
		return
	}
	c.mu.Unlock()

	sub, err := c.relay.source.Subscribe(filter, func(ev Event) {
		c.sendFrame(Frame{Type: FrameEvent, Event: &ev})
	})
	if err != nil {
		c.sendFrame(Frame{Type: FrameError, Error: err.Error()})
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		sub.Unsubscribe()
		return
	}
	c.subs = append(c.subs, sub)
	c.mu.Unlock()

	c.sendFrame(Frame{Type: FrameSubscribed, Filter: &filter})
}

func (c *relayConn) sendFrame(f Frame) {
	data, err := json.Marshal(f)
	if err != nil {
		return
	}
	c.trySend(data)
}

// trySend queues data without blocking. A full queue drops the frame and
// queues a drop notice so the client can resynchronize.
func (c *relayConn) trySend(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		observability.RelayBackpressureDrops.WithLabelValues("closed").Inc()
		return
	}

	select {
	case c.send <- data:
	default:
		observability.RelayBackpressureDrops.WithLabelValues("full").Inc()
		dropNotice := []byte(`{"type":"messages_dropped","payload":{"reason":"buffer_full"}}`)
		select {
		case c.send <- dropNotice:
		default:
		}
	}
}

func (c *relayConn) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	subs := c.subs
	c.subs = nil
	close(c.send)
	c.mu.Unlock()

	for _, s := range subs {
		s.Unsubscribe()
	}
}

func (c *relayConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "relay closing"))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
