package hub

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/randutil"
)

const idRunes = "abcdefghijklmnopqrstuvwxyz0123456789"

var ids = randutil.NewMathRandomGenerator()

// NewID returns a short random connection id for logs.
func NewID() string {
	return ids.GenerateString(8, idRunes)
}

// Conn is one client as seen by the registry and broadcaster.
type Conn interface {
	ID() string
	RemoteAddr() string
	Send(data []byte) error
	Close() error
}

// WSConn adapts a gorilla websocket to Conn. Send must only be called from
// one goroutine at a time, which the Hub guarantees by sending from its
// Loop.
type WSConn struct {
	id      string
	ws      *websocket.Conn
	timeout time.Duration
	once    sync.Once
	err     error
}

func NewWSConn(ws *websocket.Conn, sendTimeout time.Duration) *WSConn {
	return &WSConn{
		id:      NewID(),
		ws:      ws,
		timeout: sendTimeout,
	}
}

func (c *WSConn) ID() string {
	return c.id
}

func (c *WSConn) RemoteAddr() string {
	return c.ws.RemoteAddr().String()
}

func (c *WSConn) Send(data []byte) error {
	if c.timeout > 0 {
		if err := c.ws.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
			return err
		}
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// Close sends a close frame on a best-effort basis and closes the socket.
// Calls after the first return the first result.
func (c *WSConn) Close() error {
	c.once.Do(func() {
		deadline := time.Now().Add(time.Second)
		_ = c.ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			deadline,
		)
		c.err = c.ws.Close()
	})
	return c.err
}

// Conn exposes the underlying socket for the reader goroutine.
func (c *WSConn) Conn() *websocket.Conn {
	return c.ws
}
