// Package server manages individual WebSocket clients, handling read/write
// pumps, rate limiting, and lifecycle control for each connection.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	pongWait     = 60 * time.Second
	pingInterval = 54 * time.Second
	writeWait    = 10 * time.Second
)

// Client represents one WebSocket connection. Every connection gets a unique
// key at upgrade time; the anonymous identity is bound later, once the
// identity protocol has run.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub
	addr string
	key  string

	mu       sync.RWMutex
	identity string

	closed         bool
	maxMessageSize int64
	rateLimiter    *rateLimiter
	rateLimit      RateLimitConfig
}

// NewClient creates a Client for the given connection. The send channel is
// buffered so a brief burst of fan-out does not immediately drop the client.
func NewClient(conn *websocket.Conn, hub *Hub, addr string) *Client {
	cfg := hub.cfg
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}

	return &Client{
		conn:           conn,
		send:           make(chan []byte, 256),
		hub:            hub,
		addr:           addr,
		key:            uuid.NewString(),
		maxMessageSize: cfg.MaxMessageSize,
		rateLimiter:    newRateLimiter(cfg.RateLimit),
		rateLimit:      cfg.RateLimit,
	}
}

// Key returns the connection key used for the durable session row.
func (c *Client) Key() string {
	return c.key
}

// Identity returns the confirmed identity, or "" before confirmation.
func (c *Client) Identity() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.identity
}

func (c *Client) setIdentity(identity string) {
	c.mu.Lock()
	c.identity = identity
	c.mu.Unlock()
}

// sendEvent encodes and queues an event for this client via the hub, which
// enforces the registered/closed checks.
func (c *Client) sendEvent(ev ServerEvent) {
	c.hub.deliver(c, ev)
}

// setupReadConnection configures read deadlines and the pong handler.
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.hub.log.Warn("error setting initial read deadline", "addr", c.addr, "error", err)
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.hub.log.Warn("error setting read deadline in pong handler", "addr", c.addr, "error", err)
		}
		return nil
	})
}

// logReadError logs the read failure at a level matching how expected it is.
func (c *Client) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.hub.log.Warn("message exceeded maximum size", "addr", c.addr, "limit", c.maxMessageSize)
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		c.hub.log.Info("client disconnecting", "addr", c.addr, "reason", err)
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.hub.log.Info("client connection closed", "addr", c.addr, "reason", err)
	default:
		c.hub.log.Warn("websocket read error", "addr", c.addr, "error", err)
	}
}

// processEvent parses and dispatches one inbound event. Malformed payloads
// are rejected locally: logged, never persisted, never broadcast.
func (c *Client) processEvent(raw []byte) {
	var ev ClientEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		c.hub.log.Warn("malformed event payload", "addr", c.addr, "error", err)
		return
	}

	switch ev.Event {
	case EventProposeIdentity:
		c.hub.ConfirmIdentity(c.hub.ctx, c, ev.Identity)
	case EventSendMessage:
		// The router signals failures to the sender itself.
		_ = c.hub.router.Route(c.hub.ctx, c, ev.Body, ev.Recipient)
	case EventTyping:
		c.hub.typing.Signal(c, ev.IsTyping)
	default:
		c.hub.log.Debug("ignoring unknown event", "addr", c.addr, "event", ev.Event)
	}
}

func (c *Client) readPump() {
	defer func() {
		// During shutdown the hub loop is gone; nobody drains unregister.
		select {
		case c.hub.unregister <- c:
		case <-c.hub.ctx.Done():
		}
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.hub.log.Warn("error closing connection in readPump", "addr", c.addr, "error", err)
		}
	}()

	c.setupReadConnection()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}

		if c.rateLimiter != nil && !c.rateLimiter.allow() {
			c.hub.log.Warn("rate limit exceeded, discarding message",
				"addr", c.addr, "burst", c.rateLimit.Burst, "interval", c.rateLimit.RefillInterval)
			continue
		}

		c.processEvent(raw)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.hub.log.Warn("error closing connection in writePump", "addr", c.addr, "error", err)
		}
	}()

	for {
		select {
		case <-c.hub.ctx.Done():
			return

		case payload, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.hub.log.Warn("error setting write deadline", "addr", c.addr, "error", err)
				return
			}
			if !ok {
				// Hub closed the channel; say goodbye.
				if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil && !isExpectedCloseError(err) {
					c.hub.log.Warn("error writing close message", "addr", c.addr, "error", err)
				}
				return
			}
			if !c.writeMessage(payload) {
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.hub.log.Warn("error setting ping deadline", "addr", c.addr, "error", err)
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				if !isExpectedCloseError(err) {
					c.hub.log.Warn("error writing ping", "addr", c.addr, "error", err)
				}
				return
			}
		}
	}
}

// writeMessage writes one event per text frame so clients can decode frames
// as single JSON documents.
func (c *Client) writeMessage(payload []byte) bool {
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		if !isExpectedCloseError(err) {
			c.hub.log.Warn("error writing message", "addr", c.addr, "error", err)
		}
		return false
	}
	return true
}
