// Package gateway manages individual WebSocket clients, handling read/write
// pumps and lifecycle control for each connection.
package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Tyrowin/gochat-gateway/internal/metrics"
	"github.com/Tyrowin/gochat-gateway/internal/upstream"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second

	sendQueueSize = 256
)

// Client is one admitted WebSocket connection. The hub owns it from
// registration until it is unregistered or dropped.
type Client struct {
	id          string
	conn        *websocket.Conn
	send        chan []byte
	hub         *Hub
	addr        string
	identity    *upstream.Identity
	token       string
	connectedAt time.Time
	closed      bool
	frames      *frameGuard
	log         zerolog.Logger
}

// NewClient creates a Client for an authenticated connection. token is the
// handshake credential, used for persistence calls when a message carries
// none of its own.
func NewClient(conn *websocket.Conn, hub *Hub, identity *upstream.Identity, token, addr string) *Client {
	if conn != nil {
		conn.SetReadLimit(hub.maxMessageSize)
	}

	c := &Client{
		id:          uuid.NewString(),
		conn:        conn,
		send:        make(chan []byte, sendQueueSize),
		hub:         hub,
		addr:        addr,
		identity:    identity,
		token:       token,
		connectedAt: hub.now(),
		frames:      newFrameGuard(frameBurst, frameRefill, time.Now()),
	}

	logCtx := hub.log.With().Str("component", "client").Str("conn_id", c.id).Str("addr", addr)
	if identity != nil {
		logCtx = logCtx.Str("user_id", identity.ID)
	}
	c.log = logCtx.Logger()
	return c
}

// ID returns the gateway-assigned connection identifier.
func (c *Client) ID() string {
	return c.id
}

// GetSendChan returns the client's send channel for reading outgoing messages.
func (c *Client) GetSendChan() <-chan []byte {
	return c.send
}

func (c *Client) userID() string {
	if c.identity == nil {
		return ""
	}
	return c.identity.ID
}

// rateKey identifies the sender's rate window: the user id when known,
// otherwise the connection id.
func (c *Client) rateKey() string {
	if id := c.userID(); id != "" {
		return "user:" + id
	}
	return "conn:" + c.id
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.log.Warn().Err(err).Msg("error setting initial read deadline")
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.log.Warn().Err(err).Msg("error setting read deadline in pong handler")
		}
		return nil
	})
}

// handleReadError logs the read error according to its kind.
func (c *Client) handleReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.log.Warn().Int64("limit", c.hub.maxMessageSize).Msg("message exceeded maximum size")
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		c.log.Debug().Err(err).Msg("client disconnected")
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.log.Debug().Err(err).Msg("client connection closed")
	case websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig):
		c.log.Warn().Err(err).Msg("unexpected websocket close")
	default:
		c.log.Warn().Err(err).Msg("websocket read error")
	}
}

// processMessage decodes a frame and hands chat messages to the hub. It
// returns false when the frame was dropped.
func (c *Client) processMessage(raw []byte) bool {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		metrics.MessagesSuppressed.WithLabelValues("invalid").Inc()
		c.log.Warn().Err(err).Msg("invalid frame")
		return false
	}

	if env.Event != EventMessage {
		c.log.Debug().Str("event", env.Event).Msg("ignoring client event")
		return false
	}

	var msg incomingMessage
	if err := json.Unmarshal(env.Data, &msg); err != nil {
		metrics.MessagesSuppressed.WithLabelValues("invalid").Inc()
		c.log.Warn().Err(err).Msg("invalid chat message")
		return false
	}

	if strings.TrimSpace(msg.Text) == "" {
		metrics.MessagesSuppressed.WithLabelValues("invalid").Inc()
		c.log.Debug().Msg("dropping empty chat message")
		return false
	}

	select {
	case c.hub.inbound <- inbound{client: c, msg: msg}:
		return true
	case <-c.hub.ctx.Done():
		return false
	}
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.ctx.Done():
		}
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.log.Warn().Err(err).Msg("error closing connection in readPump")
		}
	}()

	c.setupReadConnection()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}
		if !c.frames.allow(time.Now()) {
			metrics.MessagesSuppressed.WithLabelValues("flood").Inc()
			c.log.Warn().Msg("frame flood, dropping frame")
			continue
		}
		c.processMessage(raw)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case message, ok := <-c.send:
		return c.handleMessage(message, ok)
	case <-ticker.C:
		return c.handlePing()
	case <-c.hub.ctx.Done():
		return false
	}
}

// closeConnection safely closes the WebSocket connection with proper error handling
func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.log.Warn().Err(err).Msg("error closing connection in writePump")
	}
}

// handleMessage writes one outgoing frame and returns false if the connection should be closed
func (c *Client) handleMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.log.Warn().Err(err).Msg("error setting write deadline")
		return false
	}

	if !ok {
		return c.writeCloseMessage()
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		if !isExpectedCloseError(err) {
			c.log.Warn().Err(err).Msg("error writing message")
		}
		return false
	}
	return true
}

// writeCloseMessage sends a close message to the client
func (c *Client) writeCloseMessage() bool {
	if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil && !isExpectedCloseError(err) {
		c.log.Warn().Err(err).Msg("error writing close message")
	}
	return false
}

// handlePing sends a ping message to keep the connection alive
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.log.Warn().Err(err).Msg("error setting write deadline for ping")
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.log.Warn().Err(err).Msg("error writing ping message")
		return false
	}
	return true
}
