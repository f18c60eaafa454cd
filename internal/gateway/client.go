package gateway

import (
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/udisondev/gridshard/internal/protocol"
)

// Default write queue / timeout constants. Overridden by config values when
// available.
const (
	defaultSendQueueSize = 256
	defaultWriteTimeout  = 5 * time.Second
	defaultReadTimeout   = 120 * time.Second
)

// Client is one player's WebSocket connection. It implements shard.Sink: a
// buffered send queue feeds a dedicated writer goroutine, so a slow peer
// costs any caller at most the bounded queue wait, never an unbounded write.
type Client struct {
	conn *websocket.Conn

	sendCh    chan []byte
	closeCh   chan struct{}
	closeOnce sync.Once

	writeTimeout time.Duration
}

// NewClient wraps an upgraded WebSocket connection.
func NewClient(conn *websocket.Conn, sendQueueSize int, writeTimeout time.Duration) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = defaultSendQueueSize
	}
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	return &Client{
		conn:         conn,
		sendCh:       make(chan []byte, sendQueueSize),
		closeCh:      make(chan struct{}),
		writeTimeout: writeTimeout,
	}
}

// Send encodes the message and queues it for async delivery. The attempt is
// bounded by the write timeout; exceeding it reports an error so the caller
// can schedule a disconnect.
func (c *Client) Send(msg protocol.ServerMessage) error {
	data, err := msg.Encode()
	if err != nil {
		return err
	}

	select {
	case c.sendCh <- data:
		return nil
	case <-c.closeCh:
		return fmt.Errorf("connection closed")
	default:
	}

	timer := time.NewTimer(c.writeTimeout)
	defer timer.Stop()
	select {
	case c.sendCh <- data:
		return nil
	case <-timer.C:
		return fmt.Errorf("send queue full after %v", c.writeTimeout)
	case <-c.closeCh:
		return fmt.Errorf("connection closed")
	}
}

// writePump is the dedicated writer goroutine: reads queued frames and
// writes them to the connection under a per-write deadline.
func (c *Client) writePump() {
	for {
		select {
		case data := <-c.sendCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
				c.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.Close()
				return
			}
		case <-c.closeCh:
			deadline := time.Now().Add(time.Second)
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			return
		}
	}
}

// Close stops the write pump and closes the connection. Idempotent and
// non-blocking, as the registry's sink contract requires.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.closeCh)
		_ = c.conn.Close()
	})
	return nil
}
