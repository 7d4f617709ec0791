package ws

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"peerchat/internal/identity"
)

const (
	writeWait  = 10 * time.Second    // Time allowed to write a message to the peer.
	pongWait   = 60 * time.Second    // Time allowed to read the next pong message from the peer.
	pingPeriod = (pongWait * 9) / 10 // Send pings with this period. Must be less than pongWait.

	// SDP offers run to a few KB, so the frame limit is far above plain chat
	// message size.
	maxMessageSize = 64 * 1024

	sendBuffer = 256
)

var errConnClosed = errors.New("connection closed")

// Connection is one live transport endpoint owned by an identity. Outbound
// writes go through a buffered channel serviced by a single write pump, so
// Send is safe from any goroutine.
type Connection struct {
	id        string
	ident     identity.Identity
	createdAt time.Time

	conn *websocket.Conn
	send chan []byte

	closeOnce sync.Once
	closed    chan struct{}
}

func newConnection(ident identity.Identity, conn *websocket.Conn) *Connection {
	return &Connection{
		id:        uuid.NewString(),
		ident:     ident,
		createdAt: time.Now(),
		conn:      conn,
		send:      make(chan []byte, sendBuffer),
		closed:    make(chan struct{}),
	}
}

func (c *Connection) ID() string { return c.id }

func (c *Connection) UserID() string { return c.ident.ID }

func (c *Connection) Identity() identity.Identity { return c.ident }

// Send enqueues a frame for delivery. A full buffer means the client cannot
// keep up; the connection is closed to keep backpressure bounded rather than
// blocking the caller.
func (c *Connection) Send(payload []byte) error {
	select {
	case <-c.closed:
		return errConnClosed
	case c.send <- payload:
		return nil
	default:
		c.close()
		return errors.New("send buffer full")
	}
}

func (c *Connection) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.conn.Close()
	})
}

// readPump pumps frames from the websocket to the handler. It owns all reads;
// exactly one per connection. Returns when the transport closes.
func (c *Connection) readPump(handle func(raw []byte)) {
	defer c.close()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		handle(raw)
	}
}

// writePump pumps frames from the send channel to the websocket and keeps the
// connection alive with pings. Exactly one per connection.
func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.closed:
			return

		case payload := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
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
