package hub

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/me-niyas-ali/stream/internal/domain"
	"github.com/me-niyas-ali/stream/internal/metrics"
	pkglog "github.com/me-niyas-ali/stream/pkg/log"
)

var (
	ErrClientClosed   = errors.New("client closed")
	ErrSendBufferFull = errors.New("send buffer full")
)

// DisconnectHandler is called when a client disconnects.
type DisconnectHandler func(*Client)

// MessageHandler receives every data frame read from a client.
type MessageHandler func(c *Client, messageType int, data []byte)

type frame struct {
	messageType int
	data        []byte
}

// Client represents a connected WebSocket client. It implements
// domain.Connection.
type Client struct {
	id      string
	hub     *Hub
	conn    *websocket.Conn
	send    chan frame
	session *domain.Session

	disconnectHandler DisconnectHandler

	mu        sync.Mutex
	closed    bool
	terminate sync.Once
}

var _ domain.Connection = (*Client)(nil)

func (c *Client) ID() string {
	return c.id
}

func (c *Client) Session() *domain.Session {
	return c.session
}

// SetDisconnectHandler sets the handler to be called on disconnect.
func (c *Client) SetDisconnectHandler(handler DisconnectHandler) {
	c.disconnectHandler = handler
}

// Send queues a text frame.
func (c *Client) Send(data []byte) error {
	return c.enqueue(websocket.TextMessage, data)
}

// SendBinary queues a binary frame.
func (c *Client) SendBinary(data []byte) error {
	return c.enqueue(websocket.BinaryMessage, data)
}

func (c *Client) enqueue(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		metrics.DroppedFrames.Inc()
		return ErrClientClosed
	}
	select {
	case c.send <- frame{messageType: messageType, data: data}:
		return nil
	default:
		metrics.DroppedFrames.Inc()
		return ErrSendBufferFull
	}
}

// Ping writes a ping control frame. WriteControl may run concurrently with
// the write pump.
func (c *Client) Ping() error {
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.hub.config.WriteWait))
}

// Close stops accepting frames. The write pump flushes what is queued, sends
// a close frame and closes the socket.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// Terminate closes the socket without flushing.
func (c *Client) Terminate() {
	c.terminate.Do(func() {
		c.Close()
		c.conn.Close()
	})
}

// ReadPump pumps frames from the WebSocket connection to handler. It returns
// when the connection fails or is closed and runs the disconnect handler
// exactly once.
func (c *Client) ReadPump(handler MessageHandler) {
	defer func() {
		// Call disconnect handler before unregistering
		if c.disconnectHandler != nil {
			c.disconnectHandler(c)
		}
		c.hub.Unregister(c)
		c.Terminate()
	}()

	c.conn.SetReadLimit(c.hub.config.MaxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		c.session.MarkAlive()
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				l := pkglog.L()
				l.Debug().Err(err).Str(pkglog.FieldClientID, c.id).Msg("websocket read error")
			}
			return
		}

		c.session.MarkAlive()
		handler(c, messageType, message)
	}
}

// WritePump pumps queued frames to the WebSocket connection. A frame queued
// before Close is still written.
func (c *Client) WritePump() {
	defer c.conn.Close()

	for f := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(c.hub.config.WriteWait))
		if err := c.conn.WriteMessage(f.messageType, f.data); err != nil {
			l := pkglog.L()
			l.Debug().Err(err).Str(pkglog.FieldClientID, c.id).Msg("websocket write error")
			c.Terminate()
			return
		}
	}

	c.conn.SetWriteDeadline(time.Now().Add(c.hub.config.WriteWait))
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
