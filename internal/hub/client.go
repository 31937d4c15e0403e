package hub

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Client is a websocket subscriber. Messages are queued on a buffered channel
// and written by its own pump goroutine.
type Client struct {
	id           string
	conn         *websocket.Conn
	send         chan []byte
	writeTimeout time.Duration
	logger       *zap.Logger

	mu     sync.Mutex
	closed bool
}

func NewClient(conn *websocket.Conn, buffer int, writeTimeout time.Duration, logger *zap.Logger) *Client {
	if buffer <= 0 {
		buffer = 256
	}
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	id := uuid.NewString()
	return &Client{
		id:           id,
		conn:         conn,
		send:         make(chan []byte, buffer),
		writeTimeout: writeTimeout,
		logger:       logger.With(zap.String("client_id", id)),
	}
}

func (c *Client) ID() string {
	return c.id
}

// Send queues msg without blocking; a full buffer or closed client reports false.
func (c *Client) Send(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// Close stops the write pump, which closes the connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// WritePump drains the send buffer to the connection until Close or a write error.
func (c *Client) WritePump() {
	defer c.conn.Close()
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			c.logger.Debug("websocket write failed", zap.Error(err))
			return
		}
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
