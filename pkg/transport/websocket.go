// Package transport adapts gorilla/websocket connections to the
// session.Transport contract. Liveness is an application-level
// envelope exchange (pkg/heartbeat), not transport-level ping/pong
// frames: the hub never sends a transport-level ping, and the only
// handling of one is a pong handler that extends the read deadline.
// The outbound
// queue/drain logic already lives in pkg/session — this package only
// owns the raw read/write and the deadline bookkeeping around it.
package transport

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fleetwire/relayhub/pkg/session"
)

const (
	// MaxMessageSize caps a single inbound frame at a concrete default.
	MaxMessageSize = 64 * 1024
	readWait       = 60 * time.Second
	writeWait      = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	WriteBufferPool: &sync.Pool{},
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Conn wraps a gorilla websocket connection. It satisfies
// session.Transport; the session's single write-flow goroutine is the
// only caller of WriteMessage, so no internal write lock is needed —
// gorilla requires at most one concurrent writer per connection, and
// that invariant holds by construction here.
type Conn struct {
	sock *websocket.Conn
}

// Upgrade promotes an HTTP request to a websocket connection, the
// entry point both bind paths (/device/{id}, /client/{id}) share.
func Upgrade(w http.ResponseWriter, r *http.Request) (*Conn, error) {
	sock, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	sock.SetReadLimit(MaxMessageSize)
	return &Conn{sock: sock}, nil
}

func (c *Conn) WriteMessage(b []byte) error {
	if err := c.sock.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.sock.WriteMessage(websocket.TextMessage, b)
}

func (c *Conn) Close() error {
	_ = c.sock.WriteMessage(websocket.CloseMessage, []byte{})
	return c.sock.Close()
}

// Serve runs the read pump for c: blocking, intended to be called
// directly (not as a goroutine) from the HTTP handler, since gorilla's
// Upgrade hijacks the connection for the lifetime of the request.
// Every decoded frame is handed to sess.HandleInbound; a read error or
// close frame ends the loop and closes the session.
func Serve(c *Conn, sess *session.Session, router session.Router) {
	c.sock.SetReadDeadline(time.Now().Add(readWait))
	c.sock.SetPongHandler(func(string) error {
		c.sock.SetReadDeadline(time.Now().Add(readWait))
		return nil
	})
	for {
		_, message, err := c.sock.ReadMessage()
		if err != nil {
			sess.Close("transport_closed")
			return
		}
		c.sock.SetReadDeadline(time.Now().Add(readWait))
		sess.HandleInbound(message, router)
	}
}
