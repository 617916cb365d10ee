// Package wsclient maintains the bidirectional socket to the Service:
// dialing, heartbeats, keepalive pings, and frame decoding.
package wsclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gaetan-puleo/opencode-duo-workflow/internal/protocol"
)

// DefaultConnectTimeout bounds the WebSocket handshake.
const DefaultConnectTimeout = 30 * time.Second

// DefaultHeartbeatInterval is how often a {"heartbeat":...} client event is sent.
const DefaultHeartbeatInterval = 20 * time.Second

// DefaultKeepaliveInterval is how often a protocol-level ping is sent.
const DefaultKeepaliveInterval = 45 * time.Second

// Config configures a Client.
type Config struct {
	URL               string
	Header            http.Header
	ConnectTimeout    time.Duration
	HeartbeatInterval time.Duration
	KeepaliveInterval time.Duration

	// OnAction is invoked from the read loop for every decoded frame.
	OnAction func(protocol.Action)
	// OnDecodeError is invoked when a frame fails to JSON-decode.
	OnDecodeError func(error)
	// OnClose is invoked exactly once, whether the close was initiated
	// locally (via Close) or by the remote peer.
	OnClose func(code int, reason string)

	Now func() time.Time
}

// Client wraps a single gorilla/websocket connection with the Service's
// heartbeat/keepalive discipline.
type Client struct {
	cfg Config
	now func() time.Time

	writeMu sync.Mutex
	conn    *websocket.Conn

	heartbeatTicker *time.Ticker
	keepaliveTicker *time.Ticker
	stopTimers      chan struct{}

	closeOnce sync.Once
}

// Connect dials the Service and starts the read loop, heartbeat, and
// keepalive timers. It returns CONNECT_FAILED-wrapped errors on dial
// failure and respects cfg.ConnectTimeout (default 30s) as the handshake
// deadline.
func Connect(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.KeepaliveInterval <= 0 {
		cfg.KeepaliveInterval = DefaultKeepaliveInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	dialer := websocket.Dialer{HandshakeTimeout: cfg.ConnectTimeout}
	dialCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	conn, _, err := dialer.DialContext(dialCtx, cfg.URL, cfg.Header)
	if err != nil {
		if dialCtx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("CONNECT_TIMEOUT: %w", err)
		}
		return nil, fmt.Errorf("CONNECT_FAILED: %w", err)
	}

	c := &Client{
		cfg:        cfg,
		now:        cfg.Now,
		conn:       conn,
		stopTimers: make(chan struct{}),
	}

	go c.readLoop()
	c.startHeartbeat()
	c.startKeepalive()
	return c, nil
}

func (c *Client) readLoop() {
	conn := c.conn
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			code, reason := websocket.CloseNormalClosure, err.Error()
			if ce, ok := err.(*websocket.CloseError); ok {
				code, reason = ce.Code, ce.Text
			}
			c.handleClose(code, reason)
			return
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}

		action, decodeErr := protocol.DecodeAction(data)
		if decodeErr != nil {
			if c.cfg.OnDecodeError != nil {
				c.cfg.OnDecodeError(fmt.Errorf("DECODE_FAILED: %w", decodeErr))
			}
			continue
		}
		if c.cfg.OnAction != nil {
			c.cfg.OnAction(action)
		}
	}
}

func (c *Client) startHeartbeat() {
	c.heartbeatTicker = time.NewTicker(c.cfg.HeartbeatInterval)
	go func() {
		for {
			select {
			case <-c.stopTimers:
				return
			case <-c.heartbeatTicker.C:
				c.Send(protocol.NewHeartbeat(c.now().UnixMilli()))
			}
		}
	}()
}

func (c *Client) startKeepalive() {
	c.keepaliveTicker = time.NewTicker(c.cfg.KeepaliveInterval)
	go func() {
		for {
			select {
			case <-c.stopTimers:
				return
			case <-c.keepaliveTicker.C:
				payload := []byte(fmt.Sprintf("%d", c.now().UnixMilli()))
				c.writeMu.Lock()
				if c.conn != nil {
					_ = c.conn.WriteControl(websocket.PingMessage, payload, c.now().Add(10*time.Second))
				}
				c.writeMu.Unlock()
			}
		}
	}()
}

// Send JSON-encodes event and writes it as a text frame. It returns false
// if the socket is not open.
func (c *Client) Send(event any) bool {
	data, err := json.Marshal(event)
	if err != nil {
		return false
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn == nil {
		return false
	}
	return c.conn.WriteMessage(websocket.TextMessage, data) == nil
}

// Close stops the timers, closes the socket with the normal closure code,
// and clears the internal connection reference. Idempotent.
func (c *Client) Close() {
	c.handleClose(websocket.CloseNormalClosure, "")
}

func (c *Client) handleClose(code int, reason string) {
	c.closeOnce.Do(func() {
		close(c.stopTimers)
		if c.heartbeatTicker != nil {
			c.heartbeatTicker.Stop()
		}
		if c.keepaliveTicker != nil {
			c.keepaliveTicker.Stop()
		}

		c.writeMu.Lock()
		if c.conn != nil {
			deadline := c.now().Add(time.Second)
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			c.conn.Close()
			c.conn = nil
		}
		c.writeMu.Unlock()

		if c.cfg.OnClose != nil {
			c.cfg.OnClose(code, reason)
		}
	})
}
