package collaboration

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/segmentio/ksuid"
	"github.com/sirupsen/logrus"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 2 * 1024 * 1024
	sendBufferSize = 256
)

type frame struct {
	binary bool
	data   []byte
}

// Client is one websocket connection. Outbound frames go through a buffered
// channel drained by WritePump; a client that falls behind is disconnected
// instead of blocking the sender.
type Client struct {
	ID       string
	UserID   string
	UserName string

	conn *websocket.Conn
	send chan frame

	mu       sync.Mutex
	closed   bool
	sessions map[string]membership // rooms joined on the event channel

	log *logrus.Entry
}

// membership is the identity a connection joined a room with.
type membership struct {
	userID   string
	userName string
}

// NewClient wraps conn with a fresh connection id. conn may be nil in tests,
// in which case frames are only queued.
func NewClient(conn *websocket.Conn, userID, userName string) *Client {
	id := ksuid.New().String()
	return &Client{
		ID:       id,
		UserID:   userID,
		UserName: userName,
		conn:     conn,
		send:     make(chan frame, sendBufferSize),
		sessions: make(map[string]membership),
		log: logrus.WithFields(logrus.Fields{
			"component":     "websocket",
			"connection_id": id,
			"user_id":       userID,
		}),
	}
}

// SendText queues a text frame. It never blocks and reports whether the frame was queued.
func (c *Client) SendText(data []byte) bool {
	return c.enqueue(frame{data: data})
}

// SendBinary queues a binary frame.
func (c *Client) SendBinary(data []byte) bool {
	return c.enqueue(frame{binary: true, data: data})
}

func (c *Client) enqueue(f frame) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}

	select {
	case c.send <- f:
		return true
	default:
		c.log.Warn("⚠️  Send buffer full, closing connection")
		c.closeLocked()
		return false
	}
}

// Close stops accepting frames; WritePump sends a close frame and exits.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *Client) closeLocked() {
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) join(sessionID string, m membership) (already bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, already = c.sessions[sessionID]
	c.sessions[sessionID] = m
	return already
}

func (c *Client) leave(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.sessions[sessionID]; !ok {
		return false
	}
	delete(c.sessions, sessionID)
	return true
}

func (c *Client) member(sessionID string) (membership, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.sessions[sessionID]
	return m, ok
}

// ReadPump delivers every inbound frame to handle until the connection fails,
// then calls done. Run it on its own goroutine.
func (c *Client) ReadPump(ctx context.Context, handle func(ctx context.Context, messageType int, data []byte), done func()) {
	defer func() {
		done()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.log.WithError(err).Warn("WebSocket read error")
			}
			return
		}
		handle(ctx, messageType, message)
	}
}

// WritePump drains the send buffer to the socket and keeps the connection
// alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case f, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			messageType := websocket.TextMessage
			if f.binary {
				messageType = websocket.BinaryMessage
			}
			if err := c.conn.WriteMessage(messageType, f.data); err != nil {
				c.log.WithError(err).Debug("WebSocket write failed")
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
