package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"spark/internal/observability"

	"github.com/gorilla/websocket"
)

const handshakeTimeout = 10 * time.Second

// RelayClient consumes a relay connection and republishes its events into a
// local publisher, usually a Bus the views subscribe to.
type RelayClient struct {
	conn *websocket.Conn
	dst  Publisher

	closeOnce sync.Once
	done      chan struct{}
}

// DialRelay connects to relayURL, registers filters and returns once the relay
// acknowledged every one of them. token may be empty for anonymous viewers.
func DialRelay(ctx context.Context, relayURL, token string, dst Publisher, filters ...Filter) (*RelayClient, error) {
	u, err := url.Parse(relayURL)
	if err != nil {
		return nil, fmt.Errorf("parse relay url: %w", err)
	}
	if token != "" {
		q := u.Query()
		q.Set("token", token)
		u.RawQuery = q.Encode()
	}

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}

	c := &RelayClient{conn: conn, dst: dst, done: make(chan struct{})}
	if err := c.subscribe(ctx, filters); err != nil {
		_ = conn.Close()
		return nil, err
	}

	go c.readLoop()
	return c, nil
}

func (c *RelayClient) subscribe(ctx context.Context, filters []Filter) error {
	for i := range filters {
		if err := c.conn.WriteJSON(Frame{Type: FrameSubscribe, Filter: &filters[i]}); err != nil {
			return fmt.Errorf("send subscribe frame: %w", err)
		}
	}

	deadline := time.Now().Add(handshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.conn.SetReadDeadline(deadline)
	defer func() { _ = c.conn.SetReadDeadline(time.Time{}) }()

	for acked := 0; acked < len(filters); {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("await subscribe ack: %w", err)
		}
		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			continue
		}
		switch f.Type {
		case FrameSubscribed:
			acked++
		case FrameError:
			return fmt.Errorf("relay rejected subscription: %s", f.Error)
		default:
			c.dispatch(f)
		}
	}
	return nil
}

func (c *RelayClient) readLoop() {
	defer c.Close()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				observability.Logger.Warn("relay connection lost", slog.String("error", err.Error()))
			}
			return
		}
		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			observability.Logger.Warn("invalid relay frame", slog.String("error", err.Error()))
			continue
		}
		c.dispatch(f)
	}
}

func (c *RelayClient) dispatch(f Frame) {
	ctx := context.Background()
	switch f.Type {
	case FrameEvent:
		if f.Event == nil {
			return
		}
		_ = c.dst.Publish(ctx, *f.Event)
	case FrameDropped:
		// The relay lost frames for us; every view must refetch.
		_ = c.dst.Publish(ctx, NewEvent("", EventResync, nil))
	case FrameError:
		observability.Logger.Warn("relay error frame", slog.String("error", f.Error))
	}
}

// Done is closed when the connection ends.
func (c *RelayClient) Done() <-chan struct{} {
	return c.done
}

// Close terminates the connection.
func (c *RelayClient) Close() error {
	var err error
	c.closeOnce.Do(func() {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		err = c.conn.Close()
		close(c.done)
	})
	return err
}
