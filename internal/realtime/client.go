package realtime

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk/internal/domain"
)

const (
	sendBufferSize = 32
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
)

// subscribeFrame is the control message viewers send over the socket.
type subscribeFrame struct {
	Action   string `json:"action"`
	TicketID string `json:"ticket_id"`
}

// Client is one live viewer connection. No authorization re-check happens at
// subscribe time: the connection was authenticated once at upgrade, and
// content access control runs before publish.
type Client struct {
	hub   *Hub
	conn  *websocket.Conn
	actor domain.Actor
	send  chan []byte

	mu      sync.Mutex
	tickets map[string]struct{}
	closed  bool
	logger  *zap.Logger
}

// NewClient wraps an upgraded connection.
func NewClient(hub *Hub, conn *websocket.Conn, actor domain.Actor, logger *zap.Logger) *Client {
	return &Client{
		hub:     hub,
		conn:    conn,
		actor:   actor,
		send:    make(chan []byte, sendBufferSize),
		tickets: make(map[string]struct{}),
		logger:  logger,
	}
}

// Actor returns the authenticated identity bound to the connection.
func (c *Client) Actor() domain.Actor {
	return c.actor
}

// ReadLoop consumes subscribe/unsubscribe frames until the connection drops,
// then detaches the client from all groups.
func (c *Client) ReadLoop() {
	defer c.hub.Disconnect(c)

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var frame subscribeFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.logger.Debug("ignoring malformed frame", zap.Error(err))
			continue
		}
		switch frame.Action {
		case "subscribe":
			c.hub.Subscribe(c, frame.TicketID)
		case "unsubscribe":
			c.hub.Unsubscribe(c, frame.TicketID)
		}
	}
}

// WriteLoop pumps queued events to the socket and keeps the connection alive
// with pings.
func (c *Client) WriteLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
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

// enqueue and closeSend share c.mu so a publish snapshot taken just before
// the client disconnects can never send on the closed channel.
func (c *Client) enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (c *Client) trackJoin(ticketID string) {
	c.mu.Lock()
	c.tickets[ticketID] = struct{}{}
	c.mu.Unlock()
}

func (c *Client) trackLeave(ticketID string) {
	c.mu.Lock()
	delete(c.tickets, ticketID)
	c.mu.Unlock()
}

func (c *Client) joinedTickets() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	result := make([]string, 0, len(c.tickets))
	for ticketID := range c.tickets {
		result = append(result, ticketID)
	}
	return result
}
