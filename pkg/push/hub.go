package push

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/castellanhq/castellan/pkg/notifications"
	"github.com/castellanhq/castellan/pkg/observability"
)

// Event types sent over the websocket
const (
	EventConnected    = "connected"
	EventNotification = "notification"
)

// Event is one message on the websocket
type Event struct {
	Type         string                      `json:"type"`
	Notification *notifications.Notification `json:"notification,omitempty"`
}

const (
	pongWait   = 60 * time.Second
	pingPeriod = 50 * time.Second
	// maxMessageSize bounds inbound frames; clients only send pongs
	maxMessageSize = 512
)

// Client is one websocket connection bound to an authenticated user
type Client struct {
	userID int64
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	hub    *Hub
}

// Hub upgrades websocket connections and delivers notification events
// to local clients. Connection-to-identity binding happens once at
// connect time from the request's authenticated user.
type Hub struct {
	registry     *Registry
	upgrader     websocket.Upgrader
	writeTimeout time.Duration
	sendBuffer   int
	logger       *observability.Logger
}

// NewHub creates a push hub
func NewHub(registry *Registry, writeTimeout time.Duration, sendBuffer int, allowedOrigins []string, logger *observability.Logger) *Hub {
	return &Hub{
		registry: registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		writeTimeout: writeTimeout,
		sendBuffer:   sendBuffer,
		logger:       logger,
	}
}

// HandleWS upgrades the request to a websocket and registers the
// connection under the authenticated user. The handler returns when
// the connection closes.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	userID := observability.GetUserID(r.Context())
	if userID == 0 {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response
		h.logger.WithError(err).Warn("Websocket upgrade failed")
		return
	}

	client := &Client{
		userID: userID,
		conn:   conn,
		send:   make(chan []byte, h.sendBuffer),
		done:   make(chan struct{}),
		hub:    h,
	}
	h.registry.Register(client)

	h.logger.WithField("user_id", userID).Debug("Push connection opened")

	// Acknowledge the connection before any notification events.
	if ack, err := json.Marshal(Event{Type: EventConnected}); err == nil {
		client.enqueue(ack)
	}

	go client.writePump()
	client.readPump()
}

// Push delivers a notification to every open connection of the user.
// No open connection is a silent no-op.
func (h *Hub) Push(ctx context.Context, userID int64, n *notifications.Notification) error {
	clients := h.registry.Connections(userID)
	if len(clients) == 0 {
		return nil
	}

	data, err := json.Marshal(Event{Type: EventNotification, Notification: n})
	if err != nil {
		return fmt.Errorf("failed to encode push event: %w", err)
	}

	for _, client := range clients {
		client.enqueue(data)
	}
	return nil
}

// enqueue queues data for the client, dropping the connection if its
// send buffer is full (slow consumer).
func (c *Client) enqueue(data []byte) {
	select {
	case c.send <- data:
	default:
		c.hub.logger.WithField("user_id", c.userID).Warn("Push buffer full; closing slow connection")
		c.conn.Close()
	}
}

// writePump writes queued events and periodic pings to the connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.hub.writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.hub.writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// readPump consumes inbound frames to keep the connection alive and
// detect closure; clients do not send application messages.
func (c *Client) readPump() {
	defer func() {
		c.hub.registry.Deregister(c)
		close(c.done)
		c.conn.Close()
		c.hub.logger.WithField("user_id", c.userID).Debug("Push connection closed")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func originChecker(allowedOrigins []string) func(*http.Request) bool {
	for _, origin := range allowedOrigins {
		if origin == "*" {
			return func(*http.Request) bool { return true }
		}
	}
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[origin] = true
	}
	return func(r *http.Request) bool {
		return allowed[r.Header.Get("Origin")]
	}
}
